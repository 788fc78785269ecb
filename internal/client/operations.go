package client

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mcdev12/roundsync/internal/optimistic"
	"github.com/mcdev12/roundsync/internal/protocol"
	"github.com/mcdev12/roundsync/internal/room"
	"github.com/mcdev12/roundsync/internal/timer"
)

// CreateRoom asks the relay for a fresh room and waits for its roomInfo.
// On success the session holds edit rights.
func (e *Engine) CreateRoom(ctx context.Context) (room.Session, error) {
	return e.joinRoundTrip(ctx, protocol.ClientMessage{Type: protocol.TypeCreateRoom})
}

// JoinRoom presents a 4-character access code. The relay resolves it to
// edit or view access; an unknown code fails without touching local state.
func (e *Engine) JoinRoom(ctx context.Context, code string) (room.Session, error) {
	normalized, err := room.NormalizeCode(code)
	if err != nil {
		return room.Session{}, err
	}
	return e.joinRoundTrip(ctx, protocol.ClientMessage{Type: protocol.TypeSubscribe, AccessID: normalized})
}

func (e *Engine) joinRoundTrip(ctx context.Context, msg protocol.ClientMessage) (room.Session, error) {
	reply := make(chan joinResult, 1)

	var sendErr error
	e.call(func() {
		if e.pendingJoin != nil {
			sendErr = fmt.Errorf("join already in progress")
			return
		}
		if err := e.adapter.Send(msg); err != nil {
			sendErr = fmt.Errorf("%w: %v", optimistic.ErrRemoteUnreachable, err)
			return
		}
		e.pendingJoin = reply
	})
	if sendErr != nil {
		return room.Session{}, sendErr
	}

	select {
	case <-ctx.Done():
		e.post(func() { e.pendingJoin = nil })
		return room.Session{}, fmt.Errorf("%w: %v", ErrJoinTimeout, ctx.Err())
	case res := <-reply:
		if res.err != nil {
			return room.Session{}, res.err
		}
		return e.SessionInfo(), nil
	}
}

// LeaveRoom unsubscribes and clears all local room and timer state. The
// relay's acknowledgement is informational; teardown is immediate.
func (e *Engine) LeaveRoom() {
	e.call(func() {
		if e.session.InRoom() {
			e.send(protocol.ClientMessage{Type: protocol.TypeUnsubscribe, AccessID: e.session.ActiveCode()})
		}
		e.resetSession()
	})
}

// SessionInfo returns a copy of the current session.
func (e *Engine) SessionInfo() room.Session {
	var s room.Session
	e.call(func() { s = e.session })
	return s
}

// Snapshot returns the timers in display order with their derived display
// fields computed against the clock now.
func (e *Engine) Snapshot() []TimerView {
	var views []TimerView
	e.call(func() {
		now := e.clock.Now()
		for _, t := range e.timers.List() {
			views = append(views, TimerView{
				Timer:           t,
				Remaining:       t.Remaining(now),
				EstimatedFinish: t.EstimatedFinish(now),
				Overtime:        t.Overtime(now),
			})
		}
	})
	return views
}

// AddTimer creates a timer optimistically with a locally assigned id; the
// relay's timerCreated echo supplies the authoritative version and
// ordering.
func (e *Engine) AddTimer(ctx context.Context, spec timer.Spec) (uuid.UUID, error) {
	if err := spec.Validate(); err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", timer.ErrInvalidSpec, err)
	}

	var (
		created timer.Timer
		opErr   error
	)
	e.call(func() {
		if opErr = e.requireEdit(); opErr != nil {
			return
		}
		created, opErr = timer.New(uuid.Nil, spec, e.clock.Now())
		if opErr != nil {
			return
		}
		code := e.session.ActiveCode()
		t := created
		e.coord.Perform(ctx, optimistic.Mutation{
			Name: "addTimer",
			Apply: func() {
				e.timers.Put(t)
				e.notify()
			},
			Rollback: func() {
				e.timers.Remove(t.ID)
				e.notify()
			},
			Remote: func(context.Context) error {
				return e.remoteSend(protocol.ClientMessage{Type: protocol.TypeCreateTimer, AccessID: code, Timer: &t})
			},
		})
	})
	if opErr != nil {
		return uuid.Nil, opErr
	}
	return created.ID, nil
}

// DeleteTimer removes a timer ("end event" at the final round).
func (e *Engine) DeleteTimer(ctx context.Context, id uuid.UUID) error {
	var opErr error
	e.call(func() {
		if opErr = e.requireEdit(); opErr != nil {
			return
		}
		removed, ok := e.timers.Get(id)
		if !ok {
			opErr = ErrUnknownTimer
			return
		}
		code := e.session.ActiveCode()
		e.coord.Perform(ctx, optimistic.Mutation{
			Name: "deleteTimer",
			Apply: func() {
				e.timers.Remove(id)
				e.notify()
			},
			Rollback: func() {
				e.timers.Put(removed)
				e.notify()
			},
			Remote: func(context.Context) error {
				timerID := id
				return e.remoteSend(protocol.ClientMessage{Type: protocol.TypeDeleteTimer, AccessID: code, TimerID: &timerID})
			},
		})
	})
	return opErr
}

// StartTimer converts the frozen remaining duration into a deadline.
func (e *Engine) StartTimer(ctx context.Context, id uuid.UUID) error {
	return e.mutateTimer(ctx, "startTimer", id, func(t timer.Timer) (timer.Timer, error) {
		return t.Start(e.clock.Now()), nil
	})
}

// PauseTimer freezes the countdown.
func (e *Engine) PauseTimer(ctx context.Context, id uuid.UUID) error {
	return e.mutateTimer(ctx, "pauseTimer", id, func(t timer.Timer) (timer.Timer, error) {
		return t.Pause(e.clock.Now()), nil
	})
}

// NextRound advances the round. At the final round it returns
// timer.ErrFinalRound; callers offer DeleteTimer instead.
func (e *Engine) NextRound(ctx context.Context, id uuid.UUID) error {
	return e.mutateTimer(ctx, "nextRound", id, func(t timer.Timer) (timer.Timer, error) {
		return t.NextRound()
	})
}

// PreviousRound steps back a round, clamped at the first (or draft) round.
func (e *Engine) PreviousRound(ctx context.Context, id uuid.UUID) error {
	return e.mutateTimer(ctx, "previousRound", id, func(t timer.Timer) (timer.Timer, error) {
		return t.PreviousRound(), nil
	})
}

// AdjustTime shifts the current round's remaining time by a signed delta.
func (e *Engine) AdjustTime(ctx context.Context, id uuid.UUID, delta time.Duration) error {
	return e.mutateTimer(ctx, "adjustTime", id, func(t timer.Timer) (timer.Timer, error) {
		return t.AdjustTime(delta), nil
	})
}

// AddRound increases the total round count.
func (e *Engine) AddRound(ctx context.Context, id uuid.UUID) error {
	return e.mutateTimer(ctx, "addRound", id, func(t timer.Timer) (timer.Timer, error) {
		return t.AdjustRounds(1), nil
	})
}

// RemoveRound decreases the total round count, floored at the lowest legal
// round.
func (e *Engine) RemoveRound(ctx context.Context, id uuid.UUID) error {
	return e.mutateTimer(ctx, "removeRound", id, func(t timer.Timer) (timer.Timer, error) {
		return t.AdjustRounds(-1), nil
	})
}

// RenameTimer replaces the event name.
func (e *Engine) RenameTimer(ctx context.Context, id uuid.UUID, name string) error {
	return e.mutateTimer(ctx, "renameTimer", id, func(t timer.Timer) (timer.Timer, error) {
		return t.Rename(name), nil
	})
}

// mutateTimer runs one optimistic update: local transition now, updateTimer
// to the relay in the background, rollback to the exact prior value if the
// send fails.
func (e *Engine) mutateTimer(ctx context.Context, name string, id uuid.UUID, fn func(timer.Timer) (timer.Timer, error)) error {
	var opErr error
	e.call(func() {
		if opErr = e.requireEdit(); opErr != nil {
			return
		}
		before, ok := e.timers.Get(id)
		if !ok {
			opErr = ErrUnknownTimer
			return
		}
		after, err := fn(before)
		if err != nil {
			opErr = err
			return
		}
		code := e.session.ActiveCode()
		e.coord.Perform(ctx, optimistic.Mutation{
			Name: name,
			Apply: func() {
				e.timers.Put(after)
				e.notify()
			},
			Rollback: func() {
				e.timers.Put(before)
				e.notify()
			},
			Remote: func(context.Context) error {
				t := after
				return e.remoteSend(protocol.ClientMessage{Type: protocol.TypeUpdateTimer, AccessID: code, Timer: &t})
			},
		})
	})
	return opErr
}

func (e *Engine) requireEdit() error {
	if !e.session.InRoom() {
		return ErrNotInRoom
	}
	if !e.session.CanEdit() {
		return ErrViewOnly
	}
	return nil
}

func (e *Engine) remoteSend(msg protocol.ClientMessage) error {
	if err := e.adapter.Send(msg); err != nil {
		return fmt.Errorf("%w: %v", optimistic.ErrRemoteUnreachable, err)
	}
	return nil
}
