package timer

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestTimer(t *testing.T, spec Spec) Timer {
	t.Helper()
	tm, err := New(uuid.New(), spec, t0)
	require.NoError(t, err)
	return tm
}

func basicSpec() Spec {
	return Spec{EventName: "Swiss Rounds", Rounds: 3, RoundTime: 10 * time.Minute}
}

func draftSpec() Spec {
	return Spec{EventName: "Booster Draft", Rounds: 3, RoundTime: 50 * time.Minute, HasDraft: true, DraftTime: 40 * time.Minute}
}

func TestSpecValidate(t *testing.T) {
	cases := []struct {
		name    string
		spec    Spec
		wantErr bool
	}{
		{name: "valid", spec: basicSpec(), wantErr: false},
		{name: "valid with draft", spec: draftSpec(), wantErr: false},
		{name: "empty name", spec: Spec{Rounds: 3, RoundTime: time.Minute}, wantErr: true},
		{name: "zero rounds", spec: Spec{EventName: "x", Rounds: 0, RoundTime: time.Minute}, wantErr: true},
		{name: "zero round time", spec: Spec{EventName: "x", Rounds: 1}, wantErr: true},
		{name: "draft without draft time", spec: Spec{EventName: "x", Rounds: 1, RoundTime: time.Minute, HasDraft: true}, wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.spec.Validate()
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewTimerDefaults(t *testing.T) {
	plain := newTestTimer(t, basicSpec())
	assert.Equal(t, 1, plain.CurrentRound)
	assert.Equal(t, 10*time.Minute, plain.TimeRemaining)
	assert.False(t, plain.Running)

	drafted := newTestTimer(t, draftSpec())
	assert.Equal(t, 0, drafted.CurrentRound)
	assert.Equal(t, 40*time.Minute, drafted.TimeRemaining)
}

func TestStartPauseRoundTripIsLossless(t *testing.T) {
	tm := newTestTimer(t, basicSpec())
	before := tm.Remaining(t0)

	started := tm.Start(t0)
	assert.True(t, started.Running)
	assert.Equal(t, t0.Add(10*time.Minute), started.EndTime)
	assert.Equal(t, before, started.Remaining(t0))

	// Pause at the same instant: the frozen duration must be unchanged.
	paused := started.Pause(t0)
	assert.False(t, paused.Running)
	assert.Equal(t, before, paused.TimeRemaining)

	// With elapsed time the conversion still loses nothing.
	later := t0.Add(3*time.Minute + 17*time.Second)
	paused2 := started.Pause(later)
	assert.Equal(t, started.Remaining(later), paused2.TimeRemaining)
}

func TestStartWhileRunningIsNoop(t *testing.T) {
	tm := newTestTimer(t, basicSpec()).Start(t0)
	again := tm.Start(t0.Add(time.Minute))
	assert.Equal(t, tm, again)
}

func TestRemainingGoesNegativeInOvertime(t *testing.T) {
	tm := newTestTimer(t, basicSpec()).Start(t0)

	at := t0.Add(10*time.Minute + 50*time.Second)
	assert.Equal(t, -50*time.Second, tm.Remaining(at))
	assert.True(t, tm.Overtime(at))
}

func TestEstimatedFinish(t *testing.T) {
	tm := newTestTimer(t, basicSpec()).Start(t0) // 3 rounds of 10m, round 1 running

	// Mid round 1: 2 full rounds remain plus 4m of the current one.
	at := t0.Add(6 * time.Minute)
	assert.Equal(t, at.Add(2*10*time.Minute+4*time.Minute), tm.EstimatedFinish(at))

	// Overtime is already spent: it must not extend the estimate.
	late := t0.Add(10*time.Minute + 50*time.Second)
	assert.Equal(t, late.Add(2*10*time.Minute), tm.EstimatedFinish(late))
}

func TestNextRoundAdvancesAndStops(t *testing.T) {
	tm := newTestTimer(t, basicSpec()).Start(t0)

	next, err := tm.NextRound()
	require.NoError(t, err)
	assert.Equal(t, 2, next.CurrentRound)
	assert.Equal(t, 10*time.Minute, next.TimeRemaining)
	assert.False(t, next.Running)
}

func TestNextRoundStopsAtFinalRound(t *testing.T) {
	tm := newTestTimer(t, basicSpec())

	var err error
	for i := tm.CurrentRound; i < tm.Rounds; i++ {
		tm, err = tm.NextRound()
		require.NoError(t, err)
	}
	assert.Equal(t, tm.Rounds, tm.CurrentRound)

	_, err = tm.NextRound()
	assert.ErrorIs(t, err, ErrFinalRound)
}

func TestPreviousRound(t *testing.T) {
	t.Run("no draft floors at round 1", func(t *testing.T) {
		tm := newTestTimer(t, basicSpec())
		assert.Equal(t, tm, tm.PreviousRound())
	})

	t.Run("draft reachable from round 1", func(t *testing.T) {
		tm := newTestTimer(t, draftSpec())
		tm, err := tm.NextRound() // draft -> round 1
		require.NoError(t, err)

		back := tm.PreviousRound()
		assert.Equal(t, 0, back.CurrentRound)
		assert.Equal(t, 40*time.Minute, back.TimeRemaining)
		assert.False(t, back.Running)
	})

	t.Run("normal step reloads round time", func(t *testing.T) {
		tm := newTestTimer(t, basicSpec())
		tm, err := tm.NextRound()
		require.NoError(t, err)

		back := tm.PreviousRound()
		assert.Equal(t, 1, back.CurrentRound)
		assert.Equal(t, 10*time.Minute, back.TimeRemaining)
	})
}

func TestAdjustTime(t *testing.T) {
	t.Run("paused adjusts remaining", func(t *testing.T) {
		tm := newTestTimer(t, basicSpec())
		adjusted := tm.AdjustTime(-11 * time.Minute)
		// No floor: adjustment may push into overtime.
		assert.Equal(t, -time.Minute, adjusted.TimeRemaining)
	})

	t.Run("running adjusts deadline", func(t *testing.T) {
		tm := newTestTimer(t, basicSpec()).Start(t0)
		adjusted := tm.AdjustTime(2 * time.Minute)
		assert.Equal(t, t0.Add(12*time.Minute), adjusted.EndTime)
	})
}

func TestAdjustRounds(t *testing.T) {
	t.Run("grow", func(t *testing.T) {
		tm := newTestTimer(t, basicSpec()).AdjustRounds(2)
		assert.Equal(t, 5, tm.Rounds)
		assert.Equal(t, 1, tm.CurrentRound)
	})

	t.Run("floors at one round", func(t *testing.T) {
		tm := newTestTimer(t, basicSpec()).AdjustRounds(-10)
		assert.Equal(t, 1, tm.Rounds)
	})

	t.Run("shrink clamps current round", func(t *testing.T) {
		tm := newTestTimer(t, basicSpec())
		var err error
		tm, err = tm.NextRound()
		require.NoError(t, err)
		tm, err = tm.NextRound()
		require.NoError(t, err)
		tm = tm.Start(t0)

		shrunk := tm.AdjustRounds(-1)
		assert.Equal(t, 2, shrunk.Rounds)
		assert.Equal(t, 2, shrunk.CurrentRound)
		assert.False(t, shrunk.Running)
	})
}

func TestRename(t *testing.T) {
	tm := newTestTimer(t, basicSpec())
	assert.Equal(t, "Top 8", tm.Rename("Top 8").EventName)
	assert.Equal(t, "Swiss Rounds", tm.Rename("   ").EventName)
}

func TestTimerJSONRoundTrip(t *testing.T) {
	tm := newTestTimer(t, draftSpec()).Start(t0)
	tm.Version = 7

	data, err := json.Marshal(tm)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"currentRoundNumber":0`)
	assert.Contains(t, string(data), `"roundTime":3000000`)

	var decoded Timer
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, tm.ID, decoded.ID)
	assert.Equal(t, tm.TimeRemaining, decoded.TimeRemaining)
	assert.Equal(t, tm.EndTime.UnixMilli(), decoded.EndTime.UnixMilli())
	assert.Equal(t, int64(7), decoded.Version)
}
