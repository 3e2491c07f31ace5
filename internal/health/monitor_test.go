package health

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"toolfleet/internal/api"
	"toolfleet/internal/config"
	"toolfleet/internal/fleet"
)

type stubProber struct {
	mu     sync.Mutex
	errs   map[string]error
	probed []string
	delay  time.Duration
}

func (p *stubProber) Probe(ctx context.Context, d config.WorkerDescriptor, port int) error {
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.probed = append(p.probed, d.Name)
	return p.errs[d.Name]
}

func (p *stubProber) probedNames() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.probed...)
}

type probeResult struct {
	port int
	err  error
}

type recordingReporter struct {
	mu      sync.Mutex
	results map[string]probeResult
}

func (r *recordingReporter) ReportProbe(name string, port int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.results == nil {
		r.results = make(map[string]probeResult)
	}
	r.results[name] = probeResult{port: port, err: err}
}

func (r *recordingReporter) get(name string) (probeResult, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.results[name]
	return res, ok
}

// newHandleIn drives a fresh handle into state through legal transitions.
func newHandleIn(t *testing.T, name string, state api.WorkerState, port int) *fleet.Handle {
	t.Helper()
	h := fleet.NewHandle(config.WorkerDescriptor{Name: name, Category: "db", Command: "worker"})

	switch state {
	case api.StatePending:
		return h
	case api.StateStopped:
		require.NoError(t, h.MarkStopped(false, nil))
		return h
	}

	require.NoError(t, h.MarkStarting())
	require.NoError(t, h.SetProcess(4000+port, port))
	switch state {
	case api.StateStarting:
	case api.StateRunning:
		require.NoError(t, h.MarkRunning())
	case api.StateUnhealthy:
		require.NoError(t, h.MarkUnhealthy(errors.New("probe failed")))
	case api.StateCrashed:
		require.NoError(t, h.MarkCrashed(errors.New("exit status 1")))
	default:
		t.Fatalf("unsupported state %s", state)
	}
	return h
}

func registryOf(t *testing.T, handles ...*fleet.Handle) *fleet.Registry {
	t.Helper()
	r := fleet.NewRegistry()
	for _, h := range handles {
		require.NoError(t, r.Register(h))
	}
	return r
}

func TestMonitor_ProbeOnceOnlyProbesLiveProcesses(t *testing.T) {
	registry := registryOf(t,
		newHandleIn(t, "pending", api.StatePending, 0),
		newHandleIn(t, "starting", api.StateStarting, 20001),
		newHandleIn(t, "running", api.StateRunning, 20002),
		newHandleIn(t, "unhealthy", api.StateUnhealthy, 20003),
		newHandleIn(t, "crashed", api.StateCrashed, 20004),
		newHandleIn(t, "stopped", api.StateStopped, 0),
	)
	prober := &stubProber{errs: map[string]error{"unhealthy": errors.New("500")}}
	reporter := &recordingReporter{}

	m := New(config.HealthConfig{Interval: time.Second, Timeout: 100 * time.Millisecond}, registry, prober, reporter)
	require.NoError(t, m.ProbeOnce(context.Background()))

	assert.ElementsMatch(t, []string{"starting", "running", "unhealthy"}, prober.probedNames())

	res, ok := reporter.get("running")
	require.True(t, ok)
	assert.Equal(t, 20002, res.port)
	assert.NoError(t, res.err)

	res, ok = reporter.get("unhealthy")
	require.True(t, ok)
	assert.Error(t, res.err)

	_, ok = reporter.get("crashed")
	assert.False(t, ok)
}

func TestMonitor_ProbeTimeout(t *testing.T) {
	registry := registryOf(t, newHandleIn(t, "slow", api.StateRunning, 20001))
	prober := &stubProber{delay: time.Second}
	reporter := &recordingReporter{}

	m := New(config.HealthConfig{Interval: time.Second, Timeout: 20 * time.Millisecond}, registry, prober, reporter)

	started := time.Now()
	require.NoError(t, m.ProbeOnce(context.Background()))
	assert.Less(t, time.Since(started), 500*time.Millisecond)

	res, ok := reporter.get("slow")
	require.True(t, ok)
	assert.ErrorIs(t, res.err, context.DeadlineExceeded)
}

func TestMonitor_CancelledRoundReportsNothing(t *testing.T) {
	registry := registryOf(t, newHandleIn(t, "slow", api.StateRunning, 20001))
	prober := &stubProber{delay: time.Second}
	reporter := &recordingReporter{}

	m := New(config.HealthConfig{Interval: time.Second, Timeout: 5 * time.Second}, registry, prober, reporter)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	assert.Error(t, m.ProbeOnce(ctx))
	_, ok := reporter.get("slow")
	assert.False(t, ok)
}

func TestMonitor_RunProbesPeriodically(t *testing.T) {
	registry := registryOf(t, newHandleIn(t, "alpha", api.StateRunning, 20001))
	prober := &stubProber{}
	reporter := &recordingReporter{}

	m := New(config.HealthConfig{Interval: 10 * time.Millisecond, Timeout: 5 * time.Millisecond}, registry, prober, reporter)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return len(prober.probedNames()) >= 3
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
}

func TestAggregate(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name       string
		handles    func(t *testing.T) []*fleet.Handle
		wantStatus api.FleetStatus
		wantRatio  float64
	}{
		{
			name: "all running is healthy",
			handles: func(t *testing.T) []*fleet.Handle {
				return []*fleet.Handle{
					newHandleIn(t, "a", api.StateRunning, 1),
					newHandleIn(t, "b", api.StateRunning, 2),
				}
			},
			wantStatus: api.FleetHealthy,
			wantRatio:  1,
		},
		{
			name: "stopped workers do not count against the ratio",
			handles: func(t *testing.T) []*fleet.Handle {
				return []*fleet.Handle{
					newHandleIn(t, "a", api.StateRunning, 1),
					newHandleIn(t, "b", api.StateStopped, 0),
				}
			},
			wantStatus: api.FleetHealthy,
			wantRatio:  1,
		},
		{
			name: "partial is degraded",
			handles: func(t *testing.T) []*fleet.Handle {
				return []*fleet.Handle{
					newHandleIn(t, "a", api.StateRunning, 1),
					newHandleIn(t, "b", api.StateRunning, 2),
					newHandleIn(t, "c", api.StateUnhealthy, 3),
					newHandleIn(t, "d", api.StateCrashed, 4),
				}
			},
			wantStatus: api.FleetDegraded,
			wantRatio:  0.5,
		},
		{
			name: "nothing running is unavailable",
			handles: func(t *testing.T) []*fleet.Handle {
				return []*fleet.Handle{
					newHandleIn(t, "a", api.StateStarting, 1),
					newHandleIn(t, "b", api.StatePending, 0),
				}
			},
			wantStatus: api.FleetUnavailable,
			wantRatio:  0,
		},
		{
			name: "everything stopped",
			handles: func(t *testing.T) []*fleet.Handle {
				return []*fleet.Handle{newHandleIn(t, "a", api.StateStopped, 0)}
			},
			wantStatus: api.FleetUnavailable,
			wantRatio:  0,
		},
		{
			name:       "empty fleet",
			handles:    func(t *testing.T) []*fleet.Handle { return nil },
			wantStatus: api.FleetUnavailable,
			wantRatio:  0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fh := Aggregate(tt.handles(t), now)
			assert.Equal(t, tt.wantStatus, fh.Status)
			assert.InDelta(t, tt.wantRatio, fh.Ratio, 0.0001)
			assert.Equal(t, now, fh.CheckedAt)
		})
	}
}

func TestAggregate_FatalWorkerDegradesFleet(t *testing.T) {
	parked := fleet.NewHandle(config.WorkerDescriptor{Name: "broken", Category: "db", Command: "worker"})
	require.NoError(t, parked.MarkStopped(true, api.NewError(api.ErrorKindCrashLoop, "too many restarts")))

	fh := Aggregate([]*fleet.Handle{
		newHandleIn(t, "ok", api.StateRunning, 1),
		parked,
	}, time.Now())

	assert.Equal(t, api.FleetDegraded, fh.Status)
	assert.Equal(t, []string{"broken"}, fh.Fatal)
	assert.Equal(t, 1.0, fh.Ratio)
	assert.Equal(t, 2, fh.Total)
	assert.Equal(t, 1, fh.NonStopped)
	assert.Equal(t, 1, fh.Stopped)
}
