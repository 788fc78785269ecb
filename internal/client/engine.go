// Package client is the timer synchronization engine: it owns the room
// session and the local timer replica, applies user commands optimistically,
// and reconciles everything against the relay's authoritative events.
//
// All state lives behind a single event loop. Ticks, inbound transport
// events and user commands are serialized onto it, so no handler ever sees
// the replica mid-write.
package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/roundsync/internal/clock"
	"github.com/mcdev12/roundsync/internal/optimistic"
	"github.com/mcdev12/roundsync/internal/protocol"
	"github.com/mcdev12/roundsync/internal/room"
	"github.com/mcdev12/roundsync/internal/timer"
	"github.com/mcdev12/roundsync/internal/transport"
)

var (
	ErrNotInRoom    = errors.New("not in a room")
	ErrViewOnly     = errors.New("room joined with view-only access")
	ErrUnknownTimer = errors.New("unknown timer")
	ErrJoinTimeout  = errors.New("no response from relay")
)

// TimerView is a timer plus its display fields derived at snapshot time.
type TimerView struct {
	timer.Timer
	Remaining       time.Duration
	EstimatedFinish time.Time
	Overtime        bool
}

// joinResult resolves a pending createRoom/subscribe round trip.
type joinResult struct {
	info protocol.ServerMessage
	err  error
}

// Engine wires the ticker, transport adapter, session and replica together.
type Engine struct {
	adapter transport.Adapter
	ticker  *clock.Ticker
	clock   clockwork.Clock

	session  room.Session
	sessions *room.Store // nil disables persistence
	timers   *timer.Collection
	coord    *optimistic.Coordinator

	cmds        chan func()
	updates     chan struct{}
	pendingJoin chan joinResult // non-nil while a join/create awaits roomInfo

	cancel context.CancelFunc
	done   chan struct{}
}

// New builds an engine around an adapter. sessions may be nil to keep the
// room identity in memory only.
func New(adapter transport.Adapter, clk clockwork.Clock, sessions *room.Store) *Engine {
	e := &Engine{
		adapter:  adapter,
		ticker:   clock.NewTicker(clk, clock.DefaultInterval),
		clock:    clk,
		sessions: sessions,
		timers:   timer.NewCollection(),
		cmds:     make(chan func(), 64),
		updates:  make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	e.coord = optimistic.NewCoordinator(e.post)
	return e
}

// Start loads any persisted room identity, connects, and runs the event
// loop. The persisted membership is only trusted after the relay confirms
// it on the roomCheck handshake.
func (e *Engine) Start(ctx context.Context) error {
	if e.sessions != nil {
		loaded, err := e.sessions.Load()
		if err != nil {
			return fmt.Errorf("load session: %w", err)
		}
		e.session = loaded
	}

	ctx, e.cancel = context.WithCancel(ctx)
	e.adapter.Start(ctx)
	e.ticker.Start(ctx)
	go e.loop(ctx)
	return nil
}

// Stop tears the engine down. In-flight remote calls may still resolve but
// their effects are discarded with the loop.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	<-e.done
	e.ticker.Stop()
	e.adapter.Close()
}

// Updates signals whenever displayed state may have changed: a tick, an
// authoritative event, or a local mutation.
func (e *Engine) Updates() <-chan struct{} { return e.updates }

// Wake forces an immediate tick after the host process resumes from
// suspension.
func (e *Engine) Wake() { e.ticker.Wake() }

// ForceReconnect drops the current connection and redials immediately.
func (e *Engine) ForceReconnect() { e.adapter.ForceReconnect() }

func (e *Engine) loop(ctx context.Context) {
	defer close(e.done)

	ticks := e.ticker.Subscribe()
	defer e.ticker.Unsubscribe(ticks)

	for {
		select {
		case <-ctx.Done():
			return

		case fn := <-e.cmds:
			fn()

		case <-ticks:
			e.notify()

		case ev, ok := <-e.adapter.Events():
			if !ok {
				return
			}
			e.handleTransportEvent(ev)
		}
	}
}

// post schedules fn onto the event loop. Used by the coordinator for
// rollbacks and by the public API for state access.
func (e *Engine) post(fn func()) {
	select {
	case e.cmds <- fn:
	case <-e.done:
	}
}

// call runs fn on the loop and waits for it.
func (e *Engine) call(fn func()) {
	ready := make(chan struct{})
	e.post(func() {
		fn()
		close(ready)
	})
	select {
	case <-ready:
	case <-e.done:
	}
}

func (e *Engine) notify() {
	select {
	case e.updates <- struct{}{}:
	default:
	}
}

func (e *Engine) handleTransportEvent(ev transport.Event) {
	switch ev.Kind {
	case transport.EventConnected:
		// Mandatory re-handshake: confirm the persisted membership, then
		// re-subscribe on the roomValidity echo. A reconnected socket with
		// no re-subscription would leave timers silently frozen.
		if e.session.InRoom() {
			e.send(protocol.ClientMessage{Type: protocol.TypeRoomCheck, AccessID: e.session.ActiveCode()})
		}

	case transport.EventDisconnected:
		log.Warn().Msg("relay connection lost, reconnecting")

	case transport.EventMessage:
		e.handleServerMessage(ev.Message)
	}
}

func (e *Engine) handleServerMessage(msg protocol.ServerMessage) {
	switch msg.Type {
	case protocol.TypeRoomValidity:
		if !msg.Valid {
			log.Warn().Msg("room no longer exists, resetting session")
			e.resetSession()
			return
		}
		if e.session.InRoom() {
			e.send(protocol.ClientMessage{Type: protocol.TypeSubscribe, AccessID: e.session.ActiveCode()})
		}

	case protocol.TypeRoomInfo:
		e.applyRoomInfo(msg)

	case protocol.TypeRoomUpdate:
		e.timers.Replace(msg.Timers)
		e.notify()

	case protocol.TypeTimerCreated, protocol.TypeTimerUpdate:
		if msg.Timer != nil {
			e.timers.ApplyAuthoritative(*msg.Timer)
			e.notify()
		}

	case protocol.TypeTimerDeleted:
		if msg.TimerID != nil {
			e.timers.ApplyAuthoritativeDelete(*msg.TimerID)
			e.notify()
		}

	case protocol.TypeMembershipRevoked:
		log.Warn().Msg("membership revoked by relay")
		e.resetSession()

	case protocol.TypeUnsubscribeSuccess:
		// Acknowledgement only; local teardown already happened on leave.

	case protocol.TypeError:
		log.Error().Str("message", msg.Message).Msg("relay reported error")
		if e.pendingJoin != nil {
			e.pendingJoin <- joinResult{err: fmt.Errorf("%w: %s", optimistic.ErrRemoteRejected, msg.Message)}
			e.pendingJoin = nil
			return
		}
		// A rejected mutation leaves the replica optimistically ahead.
		// Re-subscribing pulls the authoritative snapshot back, which is
		// the rollback of record for uncorrelated failures.
		if e.session.InRoom() {
			e.send(protocol.ClientMessage{Type: protocol.TypeSubscribe, AccessID: e.session.ActiveCode()})
		}
	}
}

func (e *Engine) applyRoomInfo(msg protocol.ServerMessage) {
	switch {
	case msg.AccessLevel == protocol.AccessEdit && msg.EditAccess != "":
		e.session.SetEditRoom(msg.ViewAccess, msg.EditAccess, msg.ViewAccess)
	default:
		e.session.SetViewRoom(msg.ViewAccess, msg.ViewAccess)
	}
	e.persistSession()
	e.notify()

	if e.pendingJoin != nil {
		e.pendingJoin <- joinResult{info: msg}
		e.pendingJoin = nil
	}
}

func (e *Engine) resetSession() {
	e.session.Reset()
	e.timers.Clear()
	if e.sessions != nil {
		if err := e.sessions.Clear(); err != nil {
			log.Warn().Err(err).Msg("failed to clear persisted session")
		}
	}
	e.notify()
}

func (e *Engine) persistSession() {
	if e.sessions == nil {
		return
	}
	if err := e.sessions.Save(e.session); err != nil {
		log.Warn().Err(err).Msg("failed to persist session")
	}
}

func (e *Engine) send(msg protocol.ClientMessage) {
	if err := e.adapter.Send(msg); err != nil {
		log.Warn().Err(err).Str("type", msg.Type).Msg("send failed")
	}
}
