package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"toolfleet/internal/config"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestLimiter(clock *fakeClock, limit int, window time.Duration) *Limiter {
	return New("invoke", config.RateLimitConfig{
		Enabled:     true,
		MaxRequests: limit,
		Window:      window,
	}, WithClock(clock.Now))
}

func TestLimiter_SixthRequestDenied(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(clock, 5, time.Second)

	for i := 1; i <= 5; i++ {
		d := l.Check("10.0.0.1")
		require.True(t, d.Allowed, "request %d should be allowed", i)
		assert.Equal(t, 5-i, d.Remaining)
	}

	d := l.Check("10.0.0.1")
	assert.False(t, d.Allowed)
	assert.Greater(t, d.RetryAfter, time.Duration(0))
	assert.Equal(t, 2*time.Second, d.RetryAfter)
	assert.Zero(t, d.Remaining)
}

func TestLimiter_BlockExpiresAndResets(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(clock, 5, time.Second)

	for i := 0; i < 6; i++ {
		l.Check("k")
	}

	// Still blocked after the window, because the block is twice as long.
	clock.Advance(1500 * time.Millisecond)
	d := l.Check("k")
	assert.False(t, d.Allowed)
	assert.Equal(t, 500*time.Millisecond, d.RetryAfter)

	clock.Advance(500 * time.Millisecond)
	d = l.Check("k")
	assert.True(t, d.Allowed)
	assert.Equal(t, 4, d.Remaining)
}

func TestLimiter_WindowRollsOver(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(clock, 2, time.Second)

	assert.True(t, l.Check("k").Allowed)
	assert.True(t, l.Check("k").Allowed)

	clock.Advance(time.Second)
	d := l.Check("k")
	assert.True(t, d.Allowed)
	assert.Equal(t, 1, d.Remaining)
	assert.Equal(t, clock.Now().Add(time.Second), d.ResetTime)
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(clock, 1, time.Second)

	assert.True(t, l.Check("a").Allowed)
	assert.False(t, l.Check("a").Allowed)
	assert.True(t, l.Check("b").Allowed)
}

func TestLimiter_ConfiguredBlockDuration(t *testing.T) {
	clock := newFakeClock()
	l := New("admin", config.RateLimitConfig{
		Enabled:       true,
		MaxRequests:   1,
		Window:        time.Second,
		BlockDuration: 10 * time.Second,
	}, WithClock(clock.Now))

	l.Check("k")
	d := l.Check("k")
	assert.False(t, d.Allowed)
	assert.Equal(t, 10*time.Second, d.RetryAfter)
	assert.Equal(t, "admin", l.Name())
}

func TestLimiter_Disabled(t *testing.T) {
	l := New("invoke", config.RateLimitConfig{Enabled: false, MaxRequests: 1})

	for i := 0; i < 10; i++ {
		assert.True(t, l.Check("k").Allowed)
	}
	assert.Zero(t, l.Len())
}

func TestLimiter_Sweep(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(clock, 1, time.Second)

	l.Check("idle")
	l.Check("abuser")
	l.Check("abuser")
	require.Equal(t, 2, l.Len())

	clock.Advance(time.Second)
	assert.Equal(t, 1, l.Sweep(), "blocked keys survive the sweep")
	assert.Equal(t, 1, l.Len())

	// The abuser is still blocked even after being looked up again.
	assert.False(t, l.Check("abuser").Allowed)

	clock.Advance(2 * time.Second)
	assert.Equal(t, 1, l.Sweep())
	assert.Zero(t, l.Len())
}

func TestLimiter_ConcurrentSameKey(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(clock, 50, time.Minute)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Check("shared").Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, allowed)
}

func TestLimiter_ConcurrentSweepAndCheck(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(clock, 1000, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		for ctx.Err() == nil {
			clock.Advance(time.Millisecond)
			l.Sweep()
		}
	}()

	for i := 0; i < 500; i++ {
		assert.True(t, l.Check("k").Allowed)
	}
}

func TestLimiter_RunStopsOnCancel(t *testing.T) {
	l := New("invoke", config.RateLimitConfig{
		Enabled:       true,
		MaxRequests:   1,
		Window:        time.Millisecond,
		SweepInterval: time.Millisecond,
	})
	l.Check("k")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return l.Len() == 0 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}
