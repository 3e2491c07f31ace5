package fleet

import (
	"sync"
	"sync/atomic"
	"time"
)

// latencyAlpha is the weight of the newest sample in the latency EMA.
const latencyAlpha = 0.2

// Stats counts requests routed to one worker. Counters are atomic; the
// latency average has its own mutex.
type Stats struct {
	routed    atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64

	mu         sync.Mutex
	avgLatency float64
	samples    int64
}

// NewStats returns zeroed statistics.
func NewStats() *Stats {
	return &Stats{}
}

// Record accounts for one completed attempt.
func (s *Stats) Record(success bool, latency time.Duration) {
	s.routed.Add(1)
	if success {
		s.succeeded.Add(1)
	} else {
		s.failed.Add(1)
	}

	s.mu.Lock()
	if s.samples == 0 {
		s.avgLatency = float64(latency)
	} else {
		s.avgLatency = latencyAlpha*float64(latency) + (1-latencyAlpha)*s.avgLatency
	}
	s.samples++
	s.mu.Unlock()
}

// AvgLatency returns the exponential moving average latency, zero before the
// first sample.
func (s *Stats) AvgLatency() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Duration(s.avgLatency)
}

// HasSamples reports whether any attempt was recorded.
func (s *Stats) HasSamples() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.samples > 0
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	RequestsRouted int64
	Succeeded      int64
	Failed         int64
	AvgLatency     time.Duration
}

// Snapshot returns the current values.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		RequestsRouted: s.routed.Load(),
		Succeeded:      s.succeeded.Load(),
		Failed:         s.failed.Load(),
		AvgLatency:     s.AvgLatency(),
	}
}
