package relay

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/roundsync/internal/protocol"
)

// ConnConfig tunes per-connection websocket behavior.
type ConnConfig struct {
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	PingInterval   time.Duration
	MaxMessageSize int64
	SendBuffer     int
}

// DefaultConnConfig returns the production connection settings.
func DefaultConnConfig() ConnConfig {
	return ConnConfig{
		WriteTimeout:   10 * time.Second,
		ReadTimeout:    60 * time.Second,
		PingInterval:   30 * time.Second,
		MaxMessageSize: 64 * 1024,
		SendBuffer:     64,
	}
}

// Conn is one client connection. Outbound frames go through the buffered
// Send channel; a client that cannot drain it gets dropped rather than
// stalling room fanout.
type Conn struct {
	ID   uuid.UUID
	ws   *websocket.Conn
	send chan []byte
	hub  *Hub
	cfg  ConnConfig

	// dropped is owned by the hub loop. A conn can reach dropConn twice: a
	// slow-consumer drop during fanout, then the read pump's unregister once
	// the socket dies. Only the first close of send may happen.
	dropped bool
}

func newConn(ws *websocket.Conn, hub *Hub, cfg ConnConfig) *Conn {
	return &Conn{
		ID:   uuid.New(),
		ws:   ws,
		send: make(chan []byte, cfg.SendBuffer),
		hub:  hub,
		cfg:  cfg,
	}
}

// enqueue hands a message to the write pump. It reports false when the
// client is too slow and should be dropped.
func (c *Conn) enqueue(msg protocol.ServerMessage) bool {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Str("type", msg.Type).Msg("failed to marshal server message")
		return true
	}
	select {
	case c.send <- data:
		return true
	default:
		log.Warn().Str("connection_id", c.ID.String()).Msg("send buffer full, dropping connection")
		return false
	}
}

func (c *Conn) writePump() {
	pings := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		pings.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Debug().Err(err).Str("connection_id", c.ID.String()).Msg("write failed")
				return
			}

		case <-pings.C:
			c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug().Err(err).Str("connection_id", c.ID.String()).Msg("ping failed")
				return
			}
		}
	}
}

func (c *Conn) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.ws.Close()
	}()

	c.ws.SetReadLimit(c.cfg.MaxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug().Err(err).Str("connection_id", c.ID.String()).Msg("unexpected close")
			}
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))

		msg, err := protocol.ParseClientMessage(data)
		if err != nil {
			log.Warn().Err(err).Str("connection_id", c.ID.String()).Msg("rejecting malformed message")
			c.enqueue(protocol.Error("malformed message"))
			continue
		}
		c.hub.Inbound(c, msg)
	}
}
