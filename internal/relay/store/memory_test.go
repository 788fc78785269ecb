package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/roundsync/internal/protocol"
	"github.com/mcdev12/roundsync/internal/timer"
)

func testRoom(t *testing.T, m *Memory, editCode, viewCode string) Room {
	t.Helper()
	room := Room{ID: uuid.New(), EditCode: editCode, ViewCode: viewCode}
	require.NoError(t, m.CreateRoom(context.Background(), room))
	return room
}

func testTimer(t *testing.T, m *Memory, roomID uuid.UUID, name string) timer.Timer {
	t.Helper()
	spec := timer.Spec{EventName: name, Rounds: 3, RoundTime: 50 * time.Minute}
	tm, err := timer.New(roomID, spec, time.Time{})
	require.NoError(t, err)
	created, err := m.CreateTimer(context.Background(), tm)
	require.NoError(t, err)
	return created
}

func TestMemoryRoomCodeResolution(t *testing.T) {
	m := NewMemory(clockwork.NewFakeClock())
	ctx := context.Background()
	room := testRoom(t, m, "ED01", "VU01")

	got, level, err := m.RoomByCode(ctx, "ED01")
	require.NoError(t, err)
	assert.Equal(t, room.ID, got.ID)
	assert.Equal(t, protocol.AccessEdit, level)

	got, level, err = m.RoomByCode(ctx, "VU01")
	require.NoError(t, err)
	assert.Equal(t, room.ID, got.ID)
	assert.Equal(t, protocol.AccessView, level)

	_, _, err = m.RoomByCode(ctx, "NOPE")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryRejectsCodeCollision(t *testing.T) {
	m := NewMemory(clockwork.NewFakeClock())
	ctx := context.Background()
	testRoom(t, m, "ED01", "VU01")

	err := m.CreateRoom(ctx, Room{ID: uuid.New(), EditCode: "ED01", ViewCode: "VU02"})
	assert.ErrorIs(t, err, ErrCodeInUse)

	err = m.CreateRoom(ctx, Room{ID: uuid.New(), EditCode: "ED02", ViewCode: "VU01"})
	assert.ErrorIs(t, err, ErrCodeInUse)
}

func TestMemoryCreateTimerStampsVersionAndCreation(t *testing.T) {
	fc := clockwork.NewFakeClock()
	m := NewMemory(fc)
	room := testRoom(t, m, "ED01", "VU01")

	created := testTimer(t, m, room.ID, "Modern")
	assert.NotEqual(t, uuid.Nil, created.ID)
	assert.Equal(t, int64(1), created.Version)
	assert.Equal(t, fc.Now(), created.CreatedAt)

	// Unknown room refuses the timer.
	tm, err := timer.New(uuid.New(), timer.Spec{
		EventName: "Legacy", Rounds: 3, RoundTime: 50 * time.Minute,
	}, time.Time{})
	require.NoError(t, err)
	_, err = m.CreateTimer(context.Background(), tm)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryUpdateTimerBumpsVersion(t *testing.T) {
	m := NewMemory(clockwork.NewFakeClock())
	ctx := context.Background()
	room := testRoom(t, m, "ED01", "VU01")
	created := testTimer(t, m, room.ID, "Modern")

	// Room, creation stamp and version are the store's to decide; a caller
	// tampering with them must not stick.
	changed := created
	changed.EventName = "Modern FNM"
	changed.RoomID = uuid.New()
	changed.CreatedAt = time.Now()
	changed.Version = 99

	updated, err := m.UpdateTimer(ctx, changed)
	require.NoError(t, err)
	assert.Equal(t, "Modern FNM", updated.EventName)
	assert.Equal(t, created.Version+1, updated.Version)
	assert.Equal(t, room.ID, updated.RoomID)
	assert.Equal(t, created.CreatedAt, updated.CreatedAt)

	updated, err = m.UpdateTimer(ctx, updated)
	require.NoError(t, err)
	assert.Equal(t, int64(3), updated.Version)

	_, err = m.UpdateTimer(ctx, timer.Timer{ID: uuid.New()})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryTimersByRoomInCreationOrder(t *testing.T) {
	fc := clockwork.NewFakeClock()
	m := NewMemory(fc)
	ctx := context.Background()
	room := testRoom(t, m, "ED01", "VU01")
	other := testRoom(t, m, "ED02", "VU02")

	first := testTimer(t, m, room.ID, "first")
	fc.Advance(time.Second)
	testTimer(t, m, other.ID, "elsewhere")
	fc.Advance(time.Second)
	second := testTimer(t, m, room.ID, "second")

	timers, err := m.TimersByRoom(ctx, room.ID)
	require.NoError(t, err)
	require.Len(t, timers, 2)
	assert.Equal(t, first.ID, timers[0].ID)
	assert.Equal(t, second.ID, timers[1].ID)
}

func TestMemoryDeleteRoomDropsCodesAndTimers(t *testing.T) {
	m := NewMemory(clockwork.NewFakeClock())
	ctx := context.Background()
	room := testRoom(t, m, "ED01", "VU01")
	created := testTimer(t, m, room.ID, "Modern")

	require.NoError(t, m.DeleteRoom(ctx, room.ID))

	_, _, err := m.RoomByCode(ctx, "ED01")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = m.TimerByID(ctx, created.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, m.DeleteRoom(ctx, room.ID), ErrNotFound)
}

func TestMemoryRoomsOlderThan(t *testing.T) {
	fc := clockwork.NewFakeClock()
	m := NewMemory(fc)
	ctx := context.Background()

	old := testRoom(t, m, "ED01", "VU01")
	fc.Advance(48 * time.Hour)
	testRoom(t, m, "ED02", "VU02")

	expired, err := m.RoomsOlderThan(ctx, fc.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, old.ID, expired[0].ID)

	// Nothing qualifies against a cutoff before every room.
	expired, err = m.RoomsOlderThan(ctx, fc.Now().Add(-72*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, expired)
}

func TestMemoryDeleteTimer(t *testing.T) {
	m := NewMemory(clockwork.NewFakeClock())
	ctx := context.Background()
	room := testRoom(t, m, "ED01", "VU01")
	created := testTimer(t, m, room.ID, "Modern")

	require.NoError(t, m.DeleteTimer(ctx, created.ID))
	assert.ErrorIs(t, m.DeleteTimer(ctx, created.ID), ErrNotFound)

	timers, err := m.TimersByRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.Empty(t, timers)
}
