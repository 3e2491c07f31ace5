// Package health runs the periodic liveness probes of the fleet and derives
// the aggregate fleet health.
package health

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"toolfleet/internal/api"
	"toolfleet/internal/config"
	"toolfleet/internal/fleet"
	"toolfleet/pkg/logging"
)

// Prober performs a single liveness probe.
type Prober interface {
	Probe(ctx context.Context, d config.WorkerDescriptor, port int) error
}

// Reporter receives probe results. The supervisor owns all state changes
// that follow from them.
type Reporter interface {
	ReportProbe(name string, port int, err error)
}

// Observer is notified after probes and aggregation.
type Observer interface {
	ProbeCompleted(name string, err error, duration time.Duration)
	FleetHealthObserved(h api.FleetHealth)
}

// Monitor probes every worker with a live process on a fixed interval.
type Monitor struct {
	registry *fleet.Registry
	prober   Prober
	reporter Reporter
	observer Observer
	interval time.Duration
	timeout  time.Duration
}

// Option customizes a Monitor.
type Option func(*Monitor)

// WithObserver registers an observer for probe results and fleet health.
func WithObserver(o Observer) Option {
	return func(m *Monitor) {
		m.observer = o
	}
}

// New creates a monitor.
func New(cfg config.HealthConfig, registry *fleet.Registry, prober Prober, reporter Reporter, opts ...Option) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = config.DefaultHealthInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = config.DefaultHealthTimeout
	}
	m := &Monitor{
		registry: registry,
		prober:   prober,
		reporter: reporter,
		interval: cfg.Interval,
		timeout:  cfg.Timeout,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run probes the fleet every interval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	logging.Info("HealthMonitor", "Health monitor started with interval %v", m.interval)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Debug("HealthMonitor", "Health monitor stopping")
			return
		case <-ticker.C:
			_ = m.ProbeOnce(ctx)
		}
	}
}

// ProbeOnce runs one probe round over all workers in Starting, Running or
// Unhealthy and waits for every probe to finish.
func (m *Monitor) ProbeOnce(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	for _, h := range m.registry.All() {
		snap := h.Snapshot()
		if !snap.State.HasProcess() || snap.Port == 0 {
			continue
		}
		g.Go(func() error {
			m.probe(gctx, snap)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	if m.observer != nil {
		m.observer.FleetHealthObserved(m.Aggregate())
	}
	return nil
}

func (m *Monitor) probe(ctx context.Context, snap fleet.Snapshot) {
	probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	started := time.Now()
	err := m.prober.Probe(probeCtx, snap.Descriptor, snap.Port)
	elapsed := time.Since(started)

	// Shutdown interrupted the probe; that says nothing about the worker.
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		logging.Debug("HealthMonitor", "Probe of worker %s failed after %v: %v", snap.Name(), elapsed, err)
	}
	if m.observer != nil {
		m.observer.ProbeCompleted(snap.Name(), err, elapsed)
	}
	m.reporter.ReportProbe(snap.Name(), snap.Port, err)
}

// Aggregate summarizes the current fleet.
func (m *Monitor) Aggregate() api.FleetHealth {
	return Aggregate(m.registry.All(), time.Now())
}

// Aggregate derives fleet health from handles. Ratio is running over
// non-stopped workers and is 0 when every worker is stopped.
func Aggregate(handles []*fleet.Handle, now time.Time) api.FleetHealth {
	fh := api.FleetHealth{
		Total:     len(handles),
		CheckedAt: now,
	}

	for _, h := range handles {
		snap := h.Snapshot()
		switch snap.State {
		case api.StatePending:
			fh.Pending++
		case api.StateStarting:
			fh.Starting++
		case api.StateRunning:
			fh.Running++
		case api.StateUnhealthy:
			fh.Unhealthy++
		case api.StateCrashed:
			fh.Crashed++
		case api.StateStopped:
			fh.Stopped++
			if snap.Fatal {
				fh.Fatal = append(fh.Fatal, snap.Name())
			}
		}
	}

	fh.NonStopped = fh.Total - fh.Stopped
	if fh.NonStopped > 0 {
		fh.Ratio = float64(fh.Running) / float64(fh.NonStopped)
	}

	switch {
	case fh.Running == 0:
		fh.Status = api.FleetUnavailable
	case fh.Running == fh.NonStopped && len(fh.Fatal) == 0:
		fh.Status = api.FleetHealthy
	default:
		fh.Status = api.FleetDegraded
	}
	return fh
}
