package fleet

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStats_EMA(t *testing.T) {
	s := NewStats()
	assert.Zero(t, s.AvgLatency())
	assert.False(t, s.HasSamples())

	s.Record(true, 100*time.Millisecond)
	assert.Equal(t, 100*time.Millisecond, s.AvgLatency())

	s.Record(false, 200*time.Millisecond)
	// 0.2*200 + 0.8*100
	assert.Equal(t, 120*time.Millisecond, s.AvgLatency())

	snap := s.Snapshot()
	assert.Equal(t, int64(2), snap.RequestsRouted)
	assert.Equal(t, int64(1), snap.Succeeded)
	assert.Equal(t, int64(1), snap.Failed)
}

func TestStats_ConcurrentRecordNeverLosesIncrements(t *testing.T) {
	s := NewStats()

	const goroutines = 64
	const perGoroutine = 500

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				s.Record((g+i)%3 != 0, time.Duration(i)*time.Microsecond)
			}
		}(g)
	}
	wg.Wait()

	snap := s.Snapshot()
	assert.Equal(t, int64(goroutines*perGoroutine), snap.RequestsRouted)
	assert.Equal(t, snap.RequestsRouted, snap.Succeeded+snap.Failed)
}
