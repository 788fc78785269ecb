package clock

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// DefaultInterval is the nominal tick period for displayed timers.
const DefaultInterval = time.Second

// Ticker emits a periodic broadcast signal that display timers use to
// recompute their remaining time. Scheduling is drift-corrected: each tick
// is planned against an expected-next timestamp, so a callback that fires
// late shortens the following delay instead of compounding the lateness.
// Subscribers never receive a time value; they are expected to read the
// clock themselves when they recompute.
type Ticker struct {
	clock    clockwork.Clock
	interval time.Duration

	mu   sync.Mutex
	subs map[chan struct{}]struct{}

	wakeCh chan struct{}
	cancel context.CancelFunc
	done   chan struct{}
}

// NewTicker returns an unstarted ticker. An interval <= 0 falls back to
// DefaultInterval.
func NewTicker(clk clockwork.Clock, interval time.Duration) *Ticker {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Ticker{
		clock:    clk,
		interval: interval,
		subs:     make(map[chan struct{}]struct{}),
		wakeCh:   make(chan struct{}, 1),
	}
}

// Subscribe registers a new tick channel. Sends are non-blocking: a
// subscriber that has not drained its channel misses the tick rather than
// stalling the loop.
func (t *Ticker) Subscribe() <-chan struct{} {
	ch := make(chan struct{}, 1)
	t.mu.Lock()
	t.subs[ch] = struct{}{}
	t.mu.Unlock()
	return ch
}

// Unsubscribe removes a channel previously returned by Subscribe.
func (t *Ticker) Unsubscribe(ch <-chan struct{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for sub := range t.subs {
		if sub == ch {
			delete(t.subs, sub)
			return
		}
	}
}

// Start launches the tick loop. It returns immediately; Stop (or cancelling
// ctx) ends the loop and no further ticks fire afterwards.
func (t *Ticker) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	t.mu.Lock()
	if t.cancel != nil {
		t.mu.Unlock()
		cancel()
		return
	}
	t.cancel = cancel
	t.done = make(chan struct{})
	t.mu.Unlock()

	go t.loop(ctx)
}

// Stop cancels the pending scheduled tick and waits for the loop to exit.
func (t *Ticker) Stop() {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.cancel = nil
	t.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Wake fires one synthetic tick immediately and resets the expected-next
// baseline to now + interval. Call it when the host surface becomes active
// again after a suspension of unknown length, so stale displays catch up at
// once instead of waiting out the current delay.
func (t *Ticker) Wake() {
	select {
	case t.wakeCh <- struct{}{}:
	default:
	}
}

func (t *Ticker) loop(ctx context.Context) {
	defer close(t.done)

	expected := t.clock.Now().Add(t.interval)
	timer := t.clock.NewTimer(t.interval)
	defer stopAndDrain(timer)

	for {
		select {
		case <-ctx.Done():
			return

		case <-timer.Chan():
			drift := t.clock.Now().Sub(expected)
			t.broadcast()
			expected = expected.Add(t.interval)
			delay := t.interval - drift
			if delay < 0 {
				log.Debug().Dur("drift", drift).Msg("tick fired late, catching up")
				delay = 0
			}
			timer.Reset(delay)

		case <-t.wakeCh:
			expected = t.clock.Now().Add(t.interval)
			stopAndDrain(timer)
			timer.Reset(t.interval)
			t.broadcast()
		}
	}
}

func (t *Ticker) broadcast() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for ch := range t.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// stopAndDrain stops a timer and drains its channel so a stale fire cannot
// be observed after a Reset.
func stopAndDrain(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}
