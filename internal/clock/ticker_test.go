package clock

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
)

func recvTick(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for tick")
	}
}

func recvNoTick(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
		t.Fatal("unexpected tick")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestTickerFiresAtInterval(t *testing.T) {
	fc := clockwork.NewFakeClock()
	tk := NewTicker(fc, time.Second)
	ch := tk.Subscribe()

	tk.Start(context.Background())
	defer tk.Stop()

	fc.BlockUntil(1)
	fc.Advance(time.Second)
	recvTick(t, ch)

	fc.BlockUntil(1)
	fc.Advance(time.Second)
	recvTick(t, ch)
}

func TestTickerCompensatesForDrift(t *testing.T) {
	fc := clockwork.NewFakeClock()
	tk := NewTicker(fc, time.Second)
	ch := tk.Subscribe()

	tk.Start(context.Background())
	defer tk.Stop()

	// The first tick fires 400ms late.
	fc.BlockUntil(1)
	fc.Advance(1400 * time.Millisecond)
	recvTick(t, ch)

	// The next delay is shortened by the drift: 600ms, not a full second,
	// so lateness does not accumulate.
	fc.BlockUntil(1)
	fc.Advance(600 * time.Millisecond)
	recvTick(t, ch)

	// Back on schedule: a full interval again.
	fc.BlockUntil(1)
	fc.Advance(999 * time.Millisecond)
	recvNoTick(t, ch)
	fc.Advance(time.Millisecond)
	recvTick(t, ch)
}

func TestTickerWakeFiresImmediatelyAndResetsBaseline(t *testing.T) {
	fc := clockwork.NewFakeClock()
	tk := NewTicker(fc, time.Second)
	ch := tk.Subscribe()

	tk.Start(context.Background())
	defer tk.Stop()

	fc.BlockUntil(1)
	fc.Advance(700 * time.Millisecond)

	// Waking fires a synthetic tick with no clock movement at all.
	tk.Wake()
	recvTick(t, ch)

	// The baseline reset: the next tick is a full interval from the wake,
	// not 300ms from the old schedule.
	fc.BlockUntil(1)
	fc.Advance(300 * time.Millisecond)
	recvNoTick(t, ch)
	fc.Advance(700 * time.Millisecond)
	recvTick(t, ch)
}

func TestTickerStopCancelsPendingTick(t *testing.T) {
	fc := clockwork.NewFakeClock()
	tk := NewTicker(fc, time.Second)
	ch := tk.Subscribe()

	tk.Start(context.Background())
	fc.BlockUntil(1)
	tk.Stop()

	fc.Advance(5 * time.Second)
	recvNoTick(t, ch)
}

func TestTickerSlowSubscriberMissesTicksWithoutStalling(t *testing.T) {
	fc := clockwork.NewFakeClock()
	tk := NewTicker(fc, time.Second)
	slow := tk.Subscribe()
	fast := tk.Subscribe()

	tk.Start(context.Background())
	defer tk.Stop()

	// Two ticks while the slow subscriber never reads: the fast one still
	// receives both.
	fc.BlockUntil(1)
	fc.Advance(time.Second)
	recvTick(t, fast)
	fc.BlockUntil(1)
	fc.Advance(time.Second)
	recvTick(t, fast)

	// The slow subscriber holds at most one buffered tick.
	recvTick(t, slow)
	recvNoTick(t, slow)

	tk.Stop()
	tk.Unsubscribe(slow)
	tk.Unsubscribe(fast)
	assert.Empty(t, tk.subs)
}
