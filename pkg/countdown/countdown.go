// Package countdown keeps the seconds remaining in a trading round.
package countdown

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

const period = time.Second

// Option configures a Timer
type Option func(*Timer)

// WithClock replaces the wall clock, used by tests
func WithClock(c clock.Clock) Option {
	return func(t *Timer) {
		t.clock = c
	}
}

// OnTick registers fn, called with the remaining seconds after every tick
func OnTick(fn func(remaining int)) Option {
	return func(t *Timer) {
		t.onTick = append(t.onTick, fn)
	}
}

// Timer decrements a counter roughly once per second until it reaches zero.
// Tick n is scheduled against the round start rather than the previous tick,
// so a late tick does not push back the ones after it.
type Timer struct {
	clock  clock.Clock
	onTick []func(int)

	mu        sync.RWMutex
	remaining int
	started   bool

	done chan struct{}
}

// New creates a timer for a round of the given length in seconds
func New(seconds int, opts ...Option) *Timer {
	if seconds < 0 {
		seconds = 0
	}
	t := &Timer{
		clock:     clock.New(),
		remaining: seconds,
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start runs the countdown on its own goroutine. It stops at zero or when
// ctx is canceled. Calling Start twice has no effect.
func (t *Timer) Start(ctx context.Context) {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return
	}
	t.started = true
	remaining := t.remaining
	t.mu.Unlock()

	if remaining == 0 {
		close(t.done)
		return
	}

	start := t.clock.Now()
	go t.run(ctx, start)
}

func (t *Timer) run(ctx context.Context, start time.Time) {
	defer close(t.done)

	for n := 1; ; n++ {
		timer := t.clock.Timer(nextDelay(start, t.clock.Now(), n))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		remaining := t.tick()
		for _, fn := range t.onTick {
			fn(remaining)
		}
		if remaining == 0 {
			return
		}
	}
}

func (t *Timer) tick() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.remaining > 0 {
		t.remaining--
	}
	return t.remaining
}

// nextDelay returns how long to wait from now for tick n of a round that
// began at start. A tick that is already overdue fires immediately.
func nextDelay(start, now time.Time, n int) time.Duration {
	d := start.Add(time.Duration(n) * period).Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// Remaining returns the seconds left in the round
func (t *Timer) Remaining() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.remaining
}

// Done is closed once the countdown has stopped
func (t *Timer) Done() <-chan struct{} {
	return t.done
}
