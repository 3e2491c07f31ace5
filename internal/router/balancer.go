package router

import (
	"fmt"
	"sync"
	"sync/atomic"

	"toolfleet/internal/config"
	"toolfleet/internal/fleet"
)

// Balancer picks one handle out of a non-empty candidate list.
type Balancer interface {
	Pick(category string, candidates []*fleet.Handle) *fleet.Handle
}

// NewBalancer returns the balancer for a policy name.
func NewBalancer(policy string) (Balancer, error) {
	switch policy {
	case config.PolicyRoundRobin, "":
		return newRoundRobin(), nil
	case config.PolicyLeastLatency:
		return leastLatency{}, nil
	default:
		return nil, fmt.Errorf("unknown routing policy %q", policy)
	}
}

// roundRobin keeps one rotation pointer per category. Advancing the pointer
// is a single atomic step, so concurrent picks never observe the same slot.
type roundRobin struct {
	mu       sync.Mutex
	pointers map[string]*atomic.Uint64
}

func newRoundRobin() *roundRobin {
	return &roundRobin{pointers: make(map[string]*atomic.Uint64)}
}

func (b *roundRobin) pointer(category string) *atomic.Uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.pointers[category]
	if !ok {
		p = &atomic.Uint64{}
		b.pointers[category] = p
	}
	return p
}

func (b *roundRobin) Pick(category string, candidates []*fleet.Handle) *fleet.Handle {
	if len(candidates) == 0 {
		return nil
	}
	n := b.pointer(category).Add(1) - 1
	return candidates[n%uint64(len(candidates))]
}

// leastLatency picks the handle with the lowest average latency. Workers
// without samples count as zero so that new workers get traffic. Ties go to
// the earlier registered worker.
type leastLatency struct{}

func (leastLatency) Pick(_ string, candidates []*fleet.Handle) *fleet.Handle {
	var best *fleet.Handle
	var bestLatency int64
	for _, h := range candidates {
		lat := int64(h.Stats().AvgLatency())
		if best == nil || lat < bestLatency {
			best = h
			bestLatency = lat
		}
	}
	return best
}
