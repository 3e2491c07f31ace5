// Package ratelimit provides the per-client fixed-window limiter that guards
// the routing API.
//
// Each client key owns a record with its own lock, so requests from one key
// serialize while different keys proceed independently. A key that exceeds
// its quota is blocked for BlockDuration (twice the window unless configured)
// and its counter starts over once the block expires.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"toolfleet/internal/config"
	"toolfleet/pkg/logging"
)

// Decision is the outcome of a Check.
type Decision struct {
	Allowed   bool
	Remaining int
	// ResetTime is when the current window (or block) ends.
	ResetTime time.Time
	// RetryAfter is set only on denial.
	RetryAfter time.Duration
}

type record struct {
	mu           sync.Mutex
	windowStart  time.Time
	count        int
	blockedUntil time.Time
	// evicted is set by Sweep once the record left the map.
	evicted bool
}

// Limiter is a named rate limiter instance.
type Limiter struct {
	name          string
	enabled       bool
	maxRequests   int
	window        time.Duration
	blockDuration time.Duration
	sweepInterval time.Duration
	now           func() time.Time

	mu      sync.Mutex
	records map[string]*record
}

// Option customizes a Limiter.
type Option func(*Limiter)

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// New creates a limiter from its configuration.
func New(name string, cfg config.RateLimitConfig, opts ...Option) *Limiter {
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = config.DefaultInvokeMaxRequests
	}
	if cfg.Window <= 0 {
		cfg.Window = config.DefaultRateLimitWindow
	}
	if cfg.BlockDuration <= 0 {
		cfg.BlockDuration = 2 * cfg.Window
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = config.DefaultRateLimitSweepInterval
	}

	l := &Limiter{
		name:          name,
		enabled:       cfg.Enabled,
		maxRequests:   cfg.MaxRequests,
		window:        cfg.Window,
		blockDuration: cfg.BlockDuration,
		sweepInterval: cfg.SweepInterval,
		now:           time.Now,
		records:       make(map[string]*record),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Name returns the call class this limiter guards.
func (l *Limiter) Name() string {
	return l.name
}

// Enabled reports whether Check can ever deny.
func (l *Limiter) Enabled() bool {
	return l.enabled
}

func (l *Limiter) recordFor(key string) *record {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[key]
	if !ok {
		rec = &record{}
		l.records[key] = rec
	}
	return rec
}

// Check counts one request for key and decides whether it may proceed.
func (l *Limiter) Check(key string) Decision {
	if !l.enabled {
		return Decision{Allowed: true, Remaining: l.maxRequests}
	}

	for {
		rec := l.recordFor(key)
		rec.mu.Lock()
		if rec.evicted {
			// Swept between lookup and lock; take the fresh record.
			rec.mu.Unlock()
			continue
		}
		d := l.decide(key, rec, l.now())
		rec.mu.Unlock()
		return d
	}
}

func (l *Limiter) decide(key string, rec *record, now time.Time) Decision {
	if !rec.blockedUntil.IsZero() {
		if now.Before(rec.blockedUntil) {
			return Decision{
				Allowed:    false,
				ResetTime:  rec.blockedUntil,
				RetryAfter: rec.blockedUntil.Sub(now),
			}
		}
		rec.blockedUntil = time.Time{}
		rec.count = 0
	}

	if rec.count == 0 || !now.Before(rec.windowStart.Add(l.window)) {
		rec.windowStart = now
		rec.count = 0
	}

	rec.count++
	if rec.count > l.maxRequests {
		rec.blockedUntil = now.Add(l.blockDuration)
		logging.Warn("RateLimiter", "Rate limit exceeded for %s on %s limiter (%d requests in %v), blocked for %v",
			key, l.name, rec.count, l.window, l.blockDuration)
		return Decision{
			Allowed:    false,
			ResetTime:  rec.blockedUntil,
			RetryAfter: l.blockDuration,
		}
	}

	return Decision{
		Allowed:   true,
		Remaining: l.maxRequests - rec.count,
		ResetTime: rec.windowStart.Add(l.window),
	}
}

// Sweep removes records whose window has expired and which are not blocked.
// It returns the number of removed records.
func (l *Limiter) Sweep() int {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, rec := range l.records {
		rec.mu.Lock()
		blocked := now.Before(rec.blockedUntil)
		expired := !now.Before(rec.windowStart.Add(l.window))
		if !blocked && expired {
			rec.evicted = true
			delete(l.records, key)
			removed++
		}
		rec.mu.Unlock()
	}
	return removed
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// Run sweeps periodically until ctx is cancelled.
func (l *Limiter) Run(ctx context.Context) {
	if !l.enabled {
		return
	}

	ticker := time.NewTicker(l.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := l.Sweep(); n > 0 {
				logging.Debug("RateLimiter", "Swept %d idle keys from %s limiter", n, l.name)
			}
		}
	}
}
