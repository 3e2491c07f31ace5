package ports

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"toolfleet/internal/api"
)

// fakeListener reports ports in busy as taken and records every attempt.
type fakeListener struct {
	mu       sync.Mutex
	busy     map[int]bool
	attempts []int
}

func (f *fakeListener) listen(network, address string) (net.Listener, error) {
	_, portStr, _ := net.SplitHostPort(address)
	port, _ := strconv.Atoi(portStr)

	f.mu.Lock()
	f.attempts = append(f.attempts, port)
	busy := f.busy[port]
	f.mu.Unlock()

	if busy {
		return nil, errors.New("address already in use")
	}
	return net.Listen("tcp", "127.0.0.1:0")
}

func TestAllocate_PreferredPortFree(t *testing.T) {
	fake := &fakeListener{busy: map[int]bool{}}
	a := NewAllocatorWithListener(Config{MaxAttempts: 5}, fake.listen)

	port, err := a.Allocate(context.Background(), 9100)
	require.NoError(t, err)
	assert.Equal(t, 9100, port)
	assert.True(t, a.Reserved(9100))
}

func TestAllocate_SequentialRetryOnConflict(t *testing.T) {
	fake := &fakeListener{busy: map[int]bool{9100: true, 9101: true, 9102: true}}
	a := NewAllocatorWithListener(Config{MaxAttempts: 10, BackoffStep: time.Millisecond}, fake.listen)

	port, err := a.Allocate(context.Background(), 9100)
	require.NoError(t, err)
	assert.Equal(t, 9103, port)
	assert.Equal(t, []int{9100, 9101, 9102, 9103}, fake.attempts)
}

func TestAllocate_PortExhausted(t *testing.T) {
	busy := map[int]bool{}
	for p := 9100; p < 9110; p++ {
		busy[p] = true
	}
	fake := &fakeListener{busy: busy}
	a := NewAllocatorWithListener(Config{MaxAttempts: 5}, fake.listen)

	_, err := a.Allocate(context.Background(), 9100)
	require.Error(t, err)
	assert.True(t, api.IsKind(err, api.ErrorKindPortExhausted))
	assert.Len(t, fake.attempts, 5)
}

func TestAllocate_NeverPastMaxPort(t *testing.T) {
	fake := &fakeListener{busy: map[int]bool{65534: true, 65535: true}}
	a := NewAllocatorWithListener(Config{MaxAttempts: 50}, fake.listen)

	_, err := a.Allocate(context.Background(), 65534)
	require.Error(t, err)
	assert.Equal(t, []int{65534, 65535}, fake.attempts)
}

func TestAllocate_HonorsCancellation(t *testing.T) {
	fake := &fakeListener{busy: map[int]bool{9100: true, 9101: true}}
	a := NewAllocatorWithListener(Config{MaxAttempts: 50, BackoffStep: time.Hour}, fake.listen)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := a.Allocate(ctx, 9100)
	require.ErrorIs(t, err, context.Canceled)
}

func TestAllocate_ConcurrentCallersGetDistinctPorts(t *testing.T) {
	fake := &fakeListener{busy: map[int]bool{}}
	a := NewAllocatorWithListener(Config{MaxAttempts: 50}, fake.listen)

	const workers = 20
	results := make(chan int, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			port, err := a.Allocate(context.Background(), 9200)
			if assert.NoError(t, err) {
				results <- port
			}
		}()
	}
	wg.Wait()
	close(results)

	seen := map[int]bool{}
	for p := range results {
		assert.False(t, seen[p], "port %d handed out twice", p)
		seen[p] = true
	}
	assert.Len(t, seen, workers)
}

func TestAllocate_ReleaseMakesPortAvailableAgain(t *testing.T) {
	fake := &fakeListener{busy: map[int]bool{}}
	a := NewAllocatorWithListener(Config{MaxAttempts: 5}, fake.listen)

	p1, err := a.Allocate(context.Background(), 9300)
	require.NoError(t, err)
	p2, err := a.Allocate(context.Background(), 9300)
	require.NoError(t, err)
	assert.Equal(t, 9301, p2)

	a.Release(p1)
	p3, err := a.Allocate(context.Background(), 9300)
	require.NoError(t, err)
	assert.Equal(t, 9300, p3)
}

func TestAllocate_EphemeralWithRealListener(t *testing.T) {
	a := NewAllocator(Config{})

	port, err := a.Allocate(context.Background(), 0)
	require.NoError(t, err)
	assert.Greater(t, port, 0)

	ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	require.NoError(t, err)
	ln.Close()
}
