// Package transport maintains a resilient websocket connection to the
// relay and presents it as "events arrive, operations go out", hiding
// reconnects from the components above it.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/roundsync/internal/protocol"
)

// ConnState is the adapter's connection lifecycle state.
type ConnState int32

const (
	StateConnecting ConnState = iota
	StateOpen
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	default:
		return "closed"
	}
}

// EventKind distinguishes relay messages from connection lifecycle
// notifications.
type EventKind int

const (
	// EventMessage carries a relay message.
	EventMessage EventKind = iota
	// EventConnected fires every time the socket reaches open, including
	// reconnects. The session layer must re-run its membership handshake on
	// each one.
	EventConnected
	// EventDisconnected fires when an open socket is lost.
	EventDisconnected
)

// Event is one inbound notification from the adapter.
type Event struct {
	Kind    EventKind
	Message protocol.ServerMessage
}

var ErrNotConnected = errors.New("transport not connected")

// Adapter is the uniform transport surface the sync engine consumes,
// independent of the underlying mechanism.
type Adapter interface {
	Start(ctx context.Context)
	Close()
	Events() <-chan Event
	Send(msg protocol.ClientMessage) error
	ForceReconnect()
	State() ConnState
}

// Config tunes the websocket adapter. Zero values fall back to defaults
// matching the relay's expectations.
type Config struct {
	URL            string
	BaseBackoff    time.Duration // first retry delay, doubled per attempt
	MaxBackoff     time.Duration // backoff cap
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration // also the pong deadline
	PingInterval   time.Duration
	MaxMessageSize int64
}

func (c Config) withDefaults() Config {
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 60 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 64 * 1024
	}
	return c
}

// WSAdapter implements Adapter over gorilla/websocket with exponential
// backoff reconnection.
type WSAdapter struct {
	cfg    Config
	clock  clockwork.Clock
	dialer *websocket.Dialer

	events chan Event
	sendCh chan protocol.ClientMessage
	kickCh chan struct{} // force-reconnect requests

	state  atomic.Int32
	cancel context.CancelFunc
	once   sync.Once
	done   chan struct{}
}

// NewWSAdapter builds an unstarted adapter.
func NewWSAdapter(cfg Config, clk clockwork.Clock) *WSAdapter {
	a := &WSAdapter{
		cfg:    cfg.withDefaults(),
		clock:  clk,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		events: make(chan Event, 64),
		sendCh: make(chan protocol.ClientMessage, 64),
		kickCh: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	a.state.Store(int32(StateConnecting))
	return a
}

// Events returns the inbound event stream. The channel closes when the
// adapter shuts down.
func (a *WSAdapter) Events() <-chan Event { return a.events }

// State reports the current connection state.
func (a *WSAdapter) State() ConnState { return ConnState(a.state.Load()) }

// Send queues an outbound message. It fails fast with ErrNotConnected while
// the socket is down; delivery of queued messages across a connection drop
// is not guaranteed, and the re-subscribe snapshot converges any state the
// drop lost.
func (a *WSAdapter) Send(msg protocol.ClientMessage) error {
	if a.State() != StateOpen {
		return fmt.Errorf("%w (state %s)", ErrNotConnected, a.State())
	}
	select {
	case a.sendCh <- msg:
		return nil
	default:
		return fmt.Errorf("%w: send queue full", ErrNotConnected)
	}
}

// ForceReconnect closes the current connection, if any, and restarts the
// backoff sequence from attempt zero.
func (a *WSAdapter) ForceReconnect() {
	select {
	case a.kickCh <- struct{}{}:
	default:
	}
}

// Start launches the connect loop.
func (a *WSAdapter) Start(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)
	go a.run(ctx)
}

// Close tears the adapter down; no events are delivered afterwards.
func (a *WSAdapter) Close() {
	a.once.Do(func() {
		if a.cancel != nil {
			a.cancel()
		}
		<-a.done
		close(a.events)
	})
}

func (a *WSAdapter) run(ctx context.Context) {
	defer close(a.done)
	defer a.state.Store(int32(StateClosed))

	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}

		a.state.Store(int32(StateConnecting))
		conn, _, err := a.dialer.DialContext(ctx, a.cfg.URL, nil)
		if err != nil {
			delay := a.backoff(attempt)
			attempt++
			log.Warn().Err(err).Str("url", a.cfg.URL).Dur("retry_in", delay).Msg("websocket dial failed")
			select {
			case <-ctx.Done():
				return
			case <-a.kickCh:
				attempt = 0
			case <-a.clock.After(delay):
			}
			continue
		}

		attempt = 0
		a.state.Store(int32(StateOpen))
		log.Info().Str("url", a.cfg.URL).Msg("websocket connected")
		a.emit(ctx, Event{Kind: EventConnected})

		a.serveConn(ctx, conn)

		a.state.Store(int32(StateConnecting))
		if ctx.Err() != nil {
			return
		}
		a.emit(ctx, Event{Kind: EventDisconnected})
	}
}

// serveConn runs the read and write pumps for one connection and returns
// when either fails, the context ends, or a forced reconnect arrives.
func (a *WSAdapter) serveConn(ctx context.Context, conn *websocket.Conn) {
	defer conn.Close()

	readDone := make(chan struct{})

	conn.SetReadLimit(a.cfg.MaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(a.cfg.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(a.cfg.ReadTimeout))
		return nil
	})

	go func() {
		defer close(readDone)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Warn().Err(err).Msg("websocket read failed")
				}
				return
			}
			msg, err := protocol.ParseServerMessage(data)
			if err != nil {
				log.Warn().Err(err).Msg("dropping malformed relay message")
				continue
			}
			a.emitMessage(msg)
		}
	}()

	pings := time.NewTicker(a.cfg.PingInterval)
	defer pings.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutting down"),
				time.Now().Add(a.cfg.WriteTimeout))
			return

		case <-a.kickCh:
			log.Info().Msg("forcing websocket reconnect")
			return

		case <-readDone:
			return

		case msg := <-a.sendCh:
			conn.SetWriteDeadline(time.Now().Add(a.cfg.WriteTimeout))
			if err := conn.WriteJSON(msg); err != nil {
				log.Warn().Err(err).Str("type", msg.Type).Msg("websocket write failed")
				return
			}

		case <-pings.C:
			conn.SetWriteDeadline(time.Now().Add(a.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Warn().Err(err).Msg("websocket ping failed")
				return
			}
		}
	}
}

func (a *WSAdapter) backoff(attempt int) time.Duration {
	if attempt > 10 {
		attempt = 10
	}
	delay := a.cfg.BaseBackoff << attempt
	if delay > a.cfg.MaxBackoff {
		delay = a.cfg.MaxBackoff
	}
	return delay
}

// emit delivers a lifecycle event, waiting for the consumer when the buffer
// is full. A lost EventConnected would silently skip the mandatory
// membership re-handshake, so lifecycle events are never dropped.
func (a *WSAdapter) emit(ctx context.Context, ev Event) {
	select {
	case a.events <- ev:
	case <-ctx.Done():
	}
}

// emitMessage delivers a relay message best-effort: dropping one is safe
// because the next re-subscribe snapshot reconverges the replica.
func (a *WSAdapter) emitMessage(msg protocol.ServerMessage) {
	select {
	case a.events <- Event{Kind: EventMessage, Message: msg}:
	default:
		log.Warn().Str("type", msg.Type).Msg("event buffer full, dropping relay message")
	}
}
