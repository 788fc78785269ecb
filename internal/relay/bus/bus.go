// Package bus bridges authoritative room events between relay instances
// over NATS, so clients of one instance see writes made through another.
package bus

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/roundsync/internal/protocol"
)

const subjectPrefix = "roundsync.room"

// envelope wraps a room event with its origin so instances can skip their
// own publications.
type envelope struct {
	Origin string                 `json:"origin"`
	RoomID uuid.UUID              `json:"roomId"`
	Event  protocol.ServerMessage `json:"event"`
}

// Config tunes the NATS connection.
type Config struct {
	URL           string
	MaxReconnects int
	ReconnectWait time.Duration
}

func DefaultConfig(url string) Config {
	return Config{
		URL:           url,
		MaxReconnects: -1, // retry forever
		ReconnectWait: 2 * time.Second,
	}
}

// Bus is one instance's connection to the event bridge.
type Bus struct {
	nc       *nats.Conn
	instance string
	sub      *nats.Subscription
}

// Connect dials NATS with the standard reconnect handlers.
func Connect(cfg Config) (*Bus, error) {
	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	return &Bus{nc: nc, instance: uuid.New().String()}, nil
}

// Publish sends a room event to the other instances.
func (b *Bus) Publish(roomID uuid.UUID, msg protocol.ServerMessage) error {
	data, err := json.Marshal(envelope{Origin: b.instance, RoomID: roomID, Event: msg})
	if err != nil {
		return fmt.Errorf("marshal bridge event: %w", err)
	}
	subject := fmt.Sprintf("%s.%s", subjectPrefix, roomID)
	if err := b.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Subscribe delivers events published by other instances to handler.
// Self-originated events are dropped.
func (b *Bus) Subscribe(handler func(roomID uuid.UUID, msg protocol.ServerMessage)) error {
	sub, err := b.nc.Subscribe(subjectPrefix+".>", func(m *nats.Msg) {
		var env envelope
		if err := json.Unmarshal(m.Data, &env); err != nil {
			log.Warn().Err(err).Str("subject", m.Subject).Msg("dropping malformed bridge event")
			return
		}
		if env.Origin == b.instance {
			return
		}
		handler(env.RoomID, env.Event)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subjectPrefix, err)
	}
	b.sub = sub
	return nil
}

// Close drains the subscription and closes the connection.
func (b *Bus) Close() {
	if b.sub != nil {
		if err := b.sub.Drain(); err != nil && !strings.Contains(err.Error(), "invalid subscription") {
			log.Warn().Err(err).Msg("failed to drain bridge subscription")
		}
	}
	b.nc.Close()
}
