package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mcdev12/roundsync/internal/protocol"
	"github.com/mcdev12/roundsync/internal/timer"
)

// Postgres persists rooms and timers in Postgres via pgxpool. It is the
// store for deployments where rooms must survive relay restarts.
type Postgres struct {
	pool *pgxpool.Pool
}

const schema = `
CREATE TABLE IF NOT EXISTS rooms (
	id         UUID PRIMARY KEY,
	edit_code  TEXT NOT NULL UNIQUE,
	view_code  TEXT NOT NULL UNIQUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS timers (
	id                UUID PRIMARY KEY,
	room_id           UUID NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
	event_name        TEXT NOT NULL,
	rounds            INT NOT NULL,
	current_round     INT NOT NULL,
	round_time_ms     BIGINT NOT NULL,
	has_draft         BOOLEAN NOT NULL,
	draft_time_ms     BIGINT NOT NULL,
	running           BOOLEAN NOT NULL,
	end_time          TIMESTAMPTZ,
	time_remaining_ms BIGINT NOT NULL,
	version           BIGINT NOT NULL,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS timers_room_id_idx ON timers (room_id, created_at);
`

// NewPostgres connects a pool and ensures the schema exists.
func NewPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Close() {
	p.pool.Close()
}

func (p *Postgres) CreateRoom(ctx context.Context, room Room) error {
	if room.CreatedAt.IsZero() {
		room.CreatedAt = time.Now()
	}
	_, err := p.pool.Exec(ctx,
		`INSERT INTO rooms (id, edit_code, view_code, created_at) VALUES ($1, $2, $3, $4)`,
		room.ID, room.EditCode, room.ViewCode, room.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert room: %w", err)
	}
	return nil
}

func (p *Postgres) RoomByCode(ctx context.Context, code string) (Room, protocol.AccessLevel, error) {
	var room Room
	err := p.pool.QueryRow(ctx,
		`SELECT id, edit_code, view_code, created_at FROM rooms WHERE edit_code = $1 OR view_code = $1`,
		code).Scan(&room.ID, &room.EditCode, &room.ViewCode, &room.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Room{}, "", ErrNotFound
	}
	if err != nil {
		return Room{}, "", fmt.Errorf("query room by code: %w", err)
	}

	level := protocol.AccessView
	if code == room.EditCode {
		level = protocol.AccessEdit
	}
	return room, level, nil
}

func (p *Postgres) DeleteRoom(ctx context.Context, id uuid.UUID) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM rooms WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete room: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) RoomsOlderThan(ctx context.Context, cutoff time.Time) ([]Room, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, edit_code, view_code, created_at FROM rooms WHERE created_at < $1`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("query expired rooms: %w", err)
	}
	defer rows.Close()

	var out []Room
	for rows.Next() {
		var room Room
		if err := rows.Scan(&room.ID, &room.EditCode, &room.ViewCode, &room.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan room: %w", err)
		}
		out = append(out, room)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expired rooms: %w", err)
	}
	return out, nil
}

const timerColumns = `id, room_id, event_name, rounds, current_round, round_time_ms,
	has_draft, draft_time_ms, running, end_time, time_remaining_ms, version, created_at`

func (p *Postgres) CreateTimer(ctx context.Context, t timer.Timer) (timer.Timer, error) {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	row := p.pool.QueryRow(ctx,
		`INSERT INTO timers (id, room_id, event_name, rounds, current_round, round_time_ms,
			has_draft, draft_time_ms, running, end_time, time_remaining_ms, version, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 1, now())
		 RETURNING `+timerColumns,
		t.ID, t.RoomID, t.EventName, t.Rounds, t.CurrentRound, t.RoundTime.Milliseconds(),
		t.HasDraft, t.DraftTime.Milliseconds(), t.Running, nullTime(t.EndTime), t.TimeRemaining.Milliseconds())

	stored, err := scanTimer(row)
	if err != nil {
		return timer.Timer{}, fmt.Errorf("insert timer: %w", err)
	}
	return stored, nil
}

func (p *Postgres) UpdateTimer(ctx context.Context, t timer.Timer) (timer.Timer, error) {
	row := p.pool.QueryRow(ctx,
		`UPDATE timers SET event_name = $2, rounds = $3, current_round = $4, round_time_ms = $5,
			has_draft = $6, draft_time_ms = $7, running = $8, end_time = $9,
			time_remaining_ms = $10, version = version + 1
		 WHERE id = $1
		 RETURNING `+timerColumns,
		t.ID, t.EventName, t.Rounds, t.CurrentRound, t.RoundTime.Milliseconds(),
		t.HasDraft, t.DraftTime.Milliseconds(), t.Running, nullTime(t.EndTime), t.TimeRemaining.Milliseconds())

	stored, err := scanTimer(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return timer.Timer{}, ErrNotFound
	}
	if err != nil {
		return timer.Timer{}, fmt.Errorf("update timer: %w", err)
	}
	return stored, nil
}

func (p *Postgres) TimerByID(ctx context.Context, id uuid.UUID) (timer.Timer, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+timerColumns+` FROM timers WHERE id = $1`, id)
	t, err := scanTimer(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return timer.Timer{}, ErrNotFound
	}
	if err != nil {
		return timer.Timer{}, fmt.Errorf("query timer: %w", err)
	}
	return t, nil
}

func (p *Postgres) DeleteTimer(ctx context.Context, id uuid.UUID) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM timers WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete timer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) TimersByRoom(ctx context.Context, roomID uuid.UUID) ([]timer.Timer, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+timerColumns+` FROM timers WHERE room_id = $1 ORDER BY created_at`, roomID)
	if err != nil {
		return nil, fmt.Errorf("query room timers: %w", err)
	}
	defer rows.Close()

	var out []timer.Timer
	for rows.Next() {
		t, err := scanTimer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan timer: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate room timers: %w", err)
	}
	return out, nil
}

func scanTimer(row pgx.Row) (timer.Timer, error) {
	var (
		t        timer.Timer
		roundMs  int64
		draftMs  int64
		remainMs int64
		endTime  sql.NullTime
	)
	err := row.Scan(&t.ID, &t.RoomID, &t.EventName, &t.Rounds, &t.CurrentRound, &roundMs,
		&t.HasDraft, &draftMs, &t.Running, &endTime, &remainMs, &t.Version, &t.CreatedAt)
	if err != nil {
		return timer.Timer{}, err
	}
	t.RoundTime = time.Duration(roundMs) * time.Millisecond
	t.DraftTime = time.Duration(draftMs) * time.Millisecond
	t.TimeRemaining = time.Duration(remainMs) * time.Millisecond
	if endTime.Valid {
		t.EndTime = endTime.Time
	}
	return t, nil
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}
