// Package store persists rooms and timers on the relay side. The relay is
// the authority: every write stamps a monotonically increasing per-timer
// version that clients use to reason about authoritative precedence.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/roundsync/internal/protocol"
	"github.com/mcdev12/roundsync/internal/timer"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrCodeInUse = errors.New("access code already in use")
)

// Room is one shared session addressed by its access codes.
type Room struct {
	ID        uuid.UUID
	EditCode  string
	ViewCode  string
	CreatedAt time.Time
}

// Store is the persistence surface the hub drives. Implementations must be
// safe for concurrent use.
type Store interface {
	CreateRoom(ctx context.Context, room Room) error
	// RoomByCode resolves an access code to its room and the privilege the
	// code grants. Unknown codes return ErrNotFound.
	RoomByCode(ctx context.Context, code string) (Room, protocol.AccessLevel, error)
	DeleteRoom(ctx context.Context, id uuid.UUID) error
	// RoomsOlderThan lists rooms created before the cutoff, for expiry
	// sweeps.
	RoomsOlderThan(ctx context.Context, cutoff time.Time) ([]Room, error)

	// CreateTimer persists a new timer, stamping version 1 and the creation
	// time, and returns the stored value.
	CreateTimer(ctx context.Context, t timer.Timer) (timer.Timer, error)
	// UpdateTimer replaces a timer's fields and bumps its version.
	UpdateTimer(ctx context.Context, t timer.Timer) (timer.Timer, error)
	TimerByID(ctx context.Context, id uuid.UUID) (timer.Timer, error)
	DeleteTimer(ctx context.Context, id uuid.UUID) error
	// TimersByRoom lists a room's timers in creation order.
	TimersByRoom(ctx context.Context, roomID uuid.UUID) ([]timer.Timer, error)
}
