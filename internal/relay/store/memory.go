package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/roundsync/internal/protocol"
	"github.com/mcdev12/roundsync/internal/timer"
)

// Memory is the in-process store used by tests and single-instance
// deployments that do not need durability.
type Memory struct {
	clock clockwork.Clock

	mu     sync.RWMutex
	rooms  map[uuid.UUID]Room
	byCode map[string]codeRef
	timers map[uuid.UUID]timer.Timer
}

type codeRef struct {
	roomID uuid.UUID
	level  protocol.AccessLevel
}

func NewMemory(clk clockwork.Clock) *Memory {
	return &Memory{
		clock:  clk,
		rooms:  make(map[uuid.UUID]Room),
		byCode: make(map[string]codeRef),
		timers: make(map[uuid.UUID]timer.Timer),
	}
}

func (m *Memory) CreateRoom(_ context.Context, room Room) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, taken := m.byCode[room.EditCode]; taken {
		return ErrCodeInUse
	}
	if _, taken := m.byCode[room.ViewCode]; taken {
		return ErrCodeInUse
	}

	if room.CreatedAt.IsZero() {
		room.CreatedAt = m.clock.Now()
	}
	m.rooms[room.ID] = room
	m.byCode[room.EditCode] = codeRef{roomID: room.ID, level: protocol.AccessEdit}
	m.byCode[room.ViewCode] = codeRef{roomID: room.ID, level: protocol.AccessView}
	return nil
}

func (m *Memory) RoomByCode(_ context.Context, code string) (Room, protocol.AccessLevel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ref, ok := m.byCode[code]
	if !ok {
		return Room{}, "", ErrNotFound
	}
	return m.rooms[ref.roomID], ref.level, nil
}

func (m *Memory) DeleteRoom(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	room, ok := m.rooms[id]
	if !ok {
		return ErrNotFound
	}
	delete(m.rooms, id)
	delete(m.byCode, room.EditCode)
	delete(m.byCode, room.ViewCode)
	for tid, t := range m.timers {
		if t.RoomID == id {
			delete(m.timers, tid)
		}
	}
	return nil
}

func (m *Memory) RoomsOlderThan(_ context.Context, cutoff time.Time) ([]Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Room
	for _, room := range m.rooms {
		if room.CreatedAt.Before(cutoff) {
			out = append(out, room)
		}
	}
	return out, nil
}

func (m *Memory) CreateTimer(_ context.Context, t timer.Timer) (timer.Timer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.rooms[t.RoomID]; !ok {
		return timer.Timer{}, ErrNotFound
	}
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	t.Version = 1
	t.CreatedAt = m.clock.Now()
	m.timers[t.ID] = t
	return t, nil
}

func (m *Memory) UpdateTimer(_ context.Context, t timer.Timer) (timer.Timer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.timers[t.ID]
	if !ok {
		return timer.Timer{}, ErrNotFound
	}
	t.RoomID = current.RoomID
	t.CreatedAt = current.CreatedAt
	t.Version = current.Version + 1
	m.timers[t.ID] = t
	return t, nil
}

func (m *Memory) TimerByID(_ context.Context, id uuid.UUID) (timer.Timer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.timers[id]
	if !ok {
		return timer.Timer{}, ErrNotFound
	}
	return t, nil
}

func (m *Memory) DeleteTimer(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.timers[id]; !ok {
		return ErrNotFound
	}
	delete(m.timers, id)
	return nil
}

func (m *Memory) TimersByRoom(_ context.Context, roomID uuid.UUID) ([]timer.Timer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []timer.Timer
	for _, t := range m.timers {
		if t.RoomID == roomID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}
