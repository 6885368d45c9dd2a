package countdown

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextDelay(t *testing.T) {
	start := time.Unix(1000, 0)

	assert.Equal(t, time.Second, nextDelay(start, start, 1))
	// a tick handled 300ms late shortens the wait for the next one
	assert.Equal(t, 700*time.Millisecond, nextDelay(start, start.Add(1300*time.Millisecond), 2))
	assert.Equal(t, time.Duration(0), nextDelay(start, start.Add(5*time.Second), 3))
}

// advanceUntil moves the mock clock in small steps until cond holds
func advanceUntil(t *testing.T, mock *clock.Mock, cond func() bool) {
	t.Helper()
	for i := 0; i < 1000 && !cond(); i++ {
		mock.Add(100 * time.Millisecond)
		time.Sleep(time.Millisecond)
	}
	require.True(t, cond())
}

func TestTimer_CountsDownToZero(t *testing.T) {
	mock := clock.NewMock()

	var mu sync.Mutex
	var ticks []int
	timer := New(3, WithClock(mock), OnTick(func(remaining int) {
		mu.Lock()
		ticks = append(ticks, remaining)
		mu.Unlock()
	}))
	assert.Equal(t, 3, timer.Remaining())

	timer.Start(context.Background())
	advanceUntil(t, mock, func() bool { return timer.Remaining() == 0 })

	select {
	case <-timer.Done():
	case <-time.After(time.Second):
		t.Fatal("timer did not stop at zero")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{2, 1, 0}, ticks)
}

func TestTimer_Cancel(t *testing.T) {
	mock := clock.NewMock()
	timer := New(10, WithClock(mock))

	ctx, cancel := context.WithCancel(context.Background())
	timer.Start(ctx)
	advanceUntil(t, mock, func() bool { return timer.Remaining() <= 8 })
	cancel()

	select {
	case <-timer.Done():
	case <-time.After(time.Second):
		t.Fatal("timer ignored cancellation")
	}
	assert.Greater(t, timer.Remaining(), 0)
}

func TestTimer_ZeroLength(t *testing.T) {
	timer := New(-5)
	timer.Start(context.Background())
	timer.Start(context.Background())

	select {
	case <-timer.Done():
	default:
		t.Fatal("zero-length timer should be done immediately")
	}
	assert.Equal(t, 0, timer.Remaining())
}
