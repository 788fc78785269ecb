package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/roundsync/internal/relay"
	"github.com/mcdev12/roundsync/internal/relay/bus"
	"github.com/mcdev12/roundsync/internal/relay/store"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("no .env file loaded")
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clk := clockwork.NewRealClock()

	var st store.Store
	if cfg.Database.URL != "" {
		pg, err := store.NewPostgres(ctx, cfg.Database.URL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect postgres store")
		}
		defer pg.Close()
		st = pg
		log.Info().Msg("using postgres store")
	} else {
		st = store.NewMemory(clk)
		log.Warn().Msg("using in-memory store; rooms will not survive restart")
	}

	var bridge *bus.Bus
	if cfg.NATS.URL != "" {
		b, err := bus.Connect(bus.DefaultConfig(cfg.NATS.URL))
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect NATS bridge")
		}
		defer b.Close()
		bridge = b
		log.Info().Str("url", cfg.NATS.URL).Msg("NATS bridge enabled")
	}

	var hub *relay.Hub
	if bridge != nil {
		hub = relay.NewHub(st, clk, bridge)
		if err := bridge.Subscribe(hub.HandleBridgeEvent); err != nil {
			log.Fatal().Err(err).Msg("failed to subscribe NATS bridge")
		}
	} else {
		hub = relay.NewHub(st, clk, nil)
	}

	go hub.Run(ctx)

	if cfg.RoomTTL != "" && cfg.RoomTTL != "0" {
		ttl, err := time.ParseDuration(cfg.RoomTTL)
		if err != nil {
			log.Fatal().Err(err).Str("room_ttl", cfg.RoomTTL).Msg("invalid room TTL")
		}
		if ttl > 0 {
			log.Info().Dur("ttl", ttl).Msg("room expiry enabled")
			go sweepExpiredRooms(ctx, clk, st, hub, ttl)
		}
	}

	server := relay.NewServer(hub, relay.DefaultConnConfig())
	httpServer := &http.Server{
		Addr:    cfg.Addr,
		Handler: server.Handler(),
	}

	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("relay listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info().Msg("shutting down")

	grace := time.Duration(getEnvAsInt("RELAY_SHUTDOWN_GRACE_SEC", 10)) * time.Second
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), grace)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
	cancel()
}

// sweepExpiredRooms periodically closes rooms past their TTL: subscribers
// get membershipRevoked and the room is deleted from the store.
func sweepExpiredRooms(ctx context.Context, clk clockwork.Clock, st store.Store, hub *relay.Hub, ttl time.Duration) {
	interval := ttl / 10
	if interval > time.Hour {
		interval = time.Hour
	}
	if interval < time.Minute {
		interval = time.Minute
	}

	ticker := clk.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			rooms, err := st.RoomsOlderThan(ctx, clk.Now().Add(-ttl))
			if err != nil {
				log.Error().Err(err).Msg("room expiry sweep failed")
				continue
			}
			for _, room := range rooms {
				log.Info().Str("room_id", room.ID.String()).Time("created_at", room.CreatedAt).Msg("closing expired room")
				hub.CloseRoom(room.ID)
			}
		}
	}
}
