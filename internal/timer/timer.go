package timer

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrFinalRound  = errors.New("already at final round")
	ErrInvalidSpec = errors.New("invalid timer spec")
)

// Timer is one round-based countdown. The authoritative copy lives in the
// relay store; clients hold replicas that may be momentarily stale or
// optimistically ahead.
//
// Exactly one of EndTime / TimeRemaining is the source of remaining time at
// any instant, selected by Running: EndTime while the clock runs,
// TimeRemaining while it is paused. Start and Pause convert between the two
// losslessly.
type Timer struct {
	ID            uuid.UUID
	RoomID        uuid.UUID
	EventName     string
	Rounds        int
	CurrentRound  int // 0 is the draft round; otherwise 1..Rounds
	RoundTime     time.Duration
	HasDraft      bool
	DraftTime     time.Duration
	Running       bool
	EndTime       time.Time
	TimeRemaining time.Duration

	// Version increases monotonically on every authoritative write, so
	// "authoritative wins" is observable rather than an ordering accident.
	Version   int64
	CreatedAt time.Time
}

// Spec is the creation input for a new timer.
type Spec struct {
	EventName string
	Rounds    int
	RoundTime time.Duration
	HasDraft  bool
	DraftTime time.Duration
}

func (s Spec) Validate() error {
	if strings.TrimSpace(s.EventName) == "" {
		return errors.New("event name is required")
	}
	if s.Rounds < 1 {
		return errors.New("rounds must be at least 1")
	}
	if s.RoundTime <= 0 {
		return errors.New("round time must be positive")
	}
	if s.HasDraft && s.DraftTime <= 0 {
		return errors.New("draft time must be positive")
	}
	return nil
}

// New builds a timer from a spec. A timer with a draft round starts paused
// on round 0 with the draft duration loaded; otherwise round 1 with the
// round duration.
func New(roomID uuid.UUID, s Spec, now time.Time) (Timer, error) {
	if err := s.Validate(); err != nil {
		return Timer{}, err
	}
	t := Timer{
		ID:        uuid.New(),
		RoomID:    roomID,
		EventName: s.EventName,
		Rounds:    s.Rounds,
		RoundTime: s.RoundTime,
		HasDraft:  s.HasDraft,
		DraftTime: s.DraftTime,
		CreatedAt: now,
	}
	if s.HasDraft {
		t.CurrentRound = 0
		t.TimeRemaining = s.DraftTime
	} else {
		t.CurrentRound = 1
		t.TimeRemaining = s.RoundTime
	}
	return t, nil
}

// Remaining derives the displayed countdown for the current round. A
// negative value is overtime, which is a valid displayable state.
func (t Timer) Remaining(now time.Time) time.Duration {
	if t.Running {
		return t.EndTime.Sub(now)
	}
	return t.TimeRemaining
}

// Overtime reports whether the current round has run past zero.
func (t Timer) Overtime(now time.Time) bool {
	return t.Remaining(now) < 0
}

// EstimatedFinish projects when the whole event ends: every remaining full
// round at its full duration, plus what is left of the current round.
// Overtime already spent does not push the estimate further out.
func (t Timer) EstimatedFinish(now time.Time) time.Time {
	remaining := t.Remaining(now)
	if remaining < 0 {
		remaining = 0
	}
	full := time.Duration(t.Rounds-t.CurrentRound) * t.RoundTime
	return now.Add(full + remaining)
}

// Start switches the timer to running, converting the frozen remaining
// duration into an absolute deadline. Starting a running timer is a no-op.
func (t Timer) Start(now time.Time) Timer {
	if t.Running {
		return t
	}
	t.EndTime = now.Add(t.TimeRemaining)
	t.Running = true
	return t
}

// Pause freezes the countdown, converting the deadline back into a
// remaining duration. Pausing a paused timer is a no-op.
func (t Timer) Pause(now time.Time) Timer {
	if !t.Running {
		return t
	}
	t.TimeRemaining = t.EndTime.Sub(now)
	t.Running = false
	return t
}

// NextRound advances to the following round, reloading its full duration
// with the clock stopped. At the final round it returns ErrFinalRound: the
// user-facing action there is "end event", never CurrentRound > Rounds.
func (t Timer) NextRound() (Timer, error) {
	if t.CurrentRound >= t.Rounds {
		return t, ErrFinalRound
	}
	t.CurrentRound++
	t.TimeRemaining = t.RoundTime
	t.Running = false
	return t, nil
}

// PreviousRound steps back one round, down to round 0 when a draft round
// exists, else round 1. Below the floor it is a clamped no-op. The new
// round's full duration is loaded with the clock stopped.
func (t Timer) PreviousRound() Timer {
	floor := t.roundFloor()
	if t.CurrentRound <= floor {
		return t
	}
	t.CurrentRound--
	if t.CurrentRound == 0 {
		t.TimeRemaining = t.DraftTime
	} else {
		t.TimeRemaining = t.RoundTime
	}
	t.Running = false
	return t
}

// AdjustTime shifts whichever remaining-time field is authoritative by a
// signed delta. No floor: this can push a timer into or out of overtime.
func (t Timer) AdjustTime(delta time.Duration) Timer {
	if t.Running {
		t.EndTime = t.EndTime.Add(delta)
	} else {
		t.TimeRemaining += delta
	}
	return t
}

// AdjustRounds changes the total round count by a signed delta, floored at
// the lowest legal round. If the count drops below the current round, the
// current round is clamped down with it and the clock stops, keeping
// CurrentRound <= Rounds.
func (t Timer) AdjustRounds(delta int) Timer {
	floor := t.roundFloor()
	t.Rounds += delta
	if t.Rounds < max(1, floor) {
		t.Rounds = max(1, floor)
	}
	if t.CurrentRound > t.Rounds {
		t.CurrentRound = t.Rounds
		t.TimeRemaining = t.RoundTime
		t.Running = false
	}
	return t
}

// Rename replaces the display name. Empty names are ignored.
func (t Timer) Rename(name string) Timer {
	if strings.TrimSpace(name) == "" {
		return t
	}
	t.EventName = name
	return t
}

func (t Timer) roundFloor() int {
	if t.HasDraft {
		return 0
	}
	return 1
}

// wireTimer is the JSON shape shared with the relay protocol: durations as
// millisecond integers, instants as unix milliseconds.
type wireTimer struct {
	ID            uuid.UUID `json:"id"`
	RoomID        uuid.UUID `json:"roomId"`
	EventName     string    `json:"eventName"`
	Rounds        int       `json:"rounds"`
	CurrentRound  int       `json:"currentRoundNumber"`
	RoundTime     int64     `json:"roundTime"`
	HasDraft      bool      `json:"hasDraft"`
	DraftTime     int64     `json:"draftTime"`
	Running       bool      `json:"running"`
	EndTime       int64     `json:"endTime"`
	TimeRemaining int64     `json:"timeRemaining"`
	Version       int64     `json:"version"`
	CreatedAt     int64     `json:"createdAt"`
}

func (t Timer) MarshalJSON() ([]byte, error) {
	w := wireTimer{
		ID:            t.ID,
		RoomID:        t.RoomID,
		EventName:     t.EventName,
		Rounds:        t.Rounds,
		CurrentRound:  t.CurrentRound,
		RoundTime:     t.RoundTime.Milliseconds(),
		HasDraft:      t.HasDraft,
		DraftTime:     t.DraftTime.Milliseconds(),
		Running:       t.Running,
		TimeRemaining: t.TimeRemaining.Milliseconds(),
		Version:       t.Version,
		CreatedAt:     t.CreatedAt.UnixMilli(),
	}
	if !t.EndTime.IsZero() {
		w.EndTime = t.EndTime.UnixMilli()
	}
	return json.Marshal(w)
}

func (t *Timer) UnmarshalJSON(data []byte) error {
	var w wireTimer
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*t = Timer{
		ID:            w.ID,
		RoomID:        w.RoomID,
		EventName:     w.EventName,
		Rounds:        w.Rounds,
		CurrentRound:  w.CurrentRound,
		RoundTime:     time.Duration(w.RoundTime) * time.Millisecond,
		HasDraft:      w.HasDraft,
		DraftTime:     time.Duration(w.DraftTime) * time.Millisecond,
		Running:       w.Running,
		TimeRemaining: time.Duration(w.TimeRemaining) * time.Millisecond,
		Version:       w.Version,
		CreatedAt:     time.UnixMilli(w.CreatedAt),
	}
	if w.EndTime != 0 {
		t.EndTime = time.UnixMilli(w.EndTime)
	}
	return nil
}
