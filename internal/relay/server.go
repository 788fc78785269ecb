package relay

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
)

// Server exposes the hub over HTTP: /ws upgrades to the relay protocol,
// /healthz answers load balancer probes.
type Server struct {
	hub      *Hub
	cfg      ConnConfig
	upgrader websocket.Upgrader
}

func NewServer(hub *Hub, cfg ConnConfig) *Server {
	return &Server{
		hub: hub,
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Rooms are gated by access codes, not origins.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handler returns the routed, CORS-wrapped http handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodHead},
		AllowedHeaders: []string{"*"},
	})
	return c.Handler(mux)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	conn := newConn(ws, s.hub, s.cfg)
	go conn.writePump()
	go conn.readPump()

	log.Info().Str("connection_id", conn.ID.String()).Str("remote", r.RemoteAddr).Msg("client connected")
}
