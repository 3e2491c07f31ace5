package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"toolfleet/internal/api"
	"toolfleet/internal/config"
	"toolfleet/internal/fleet"
	"toolfleet/pkg/logging"
)

var errExitedCleanly = errors.New("exited with status 0")

// PortAllocator reserves and releases worker ports.
type PortAllocator interface {
	Allocate(ctx context.Context, preferred int) (int, error)
	Release(port int)
}

// Prober checks whether a worker answers on its port.
type Prober interface {
	Probe(ctx context.Context, d config.WorkerDescriptor, port int) error
}

// clientForgetter is implemented by probers that cache per-worker clients.
type clientForgetter interface {
	Forget(name string)
}

// Observer is notified about lifecycle events.
type Observer interface {
	WorkerStateChanged(name string, from, to api.WorkerState)
	WorkerRestarted(name string)
}

// Config tunes the supervisor.
type Config struct {
	Host                 string
	StartupGrace         time.Duration
	StartupProbeInterval time.Duration
	ProbeTimeout         time.Duration
	UnhealthyThreshold   int
	RestartBaseDelay     time.Duration
	RestartMaxDelay      time.Duration
	CrashLoopMaxRestarts int
	CrashLoopWindow      time.Duration
	StopGrace            time.Duration
	OutputBufferLines    int
}

// ConfigFrom builds a supervisor Config from the fleet configuration.
func ConfigFrom(cfg config.FleetConfig) Config {
	s := cfg.Supervisor
	return Config{
		Host:                 s.WorkerHost,
		StartupGrace:         s.StartupGrace,
		StartupProbeInterval: s.StartupProbeInterval,
		ProbeTimeout:         cfg.Health.Timeout,
		UnhealthyThreshold:   s.UnhealthyThreshold,
		RestartBaseDelay:     s.RestartBaseDelay,
		RestartMaxDelay:      s.RestartMaxDelay,
		CrashLoopMaxRestarts: s.CrashLoopMaxRestarts,
		CrashLoopWindow:      s.CrashLoopWindow,
		StopGrace:            s.StopGrace,
		OutputBufferLines:    s.OutputBufferLines,
	}
}

func (c Config) withDefaults() Config {
	if c.Host == "" {
		c.Host = config.DefaultWorkerHost
	}
	if c.StartupGrace <= 0 {
		c.StartupGrace = config.DefaultStartupGrace
	}
	if c.StartupProbeInterval <= 0 {
		c.StartupProbeInterval = config.DefaultStartupProbeInterval
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = config.DefaultHealthTimeout
	}
	if c.UnhealthyThreshold <= 0 {
		c.UnhealthyThreshold = config.DefaultUnhealthyThreshold
	}
	if c.RestartMaxDelay <= 0 {
		c.RestartMaxDelay = config.DefaultRestartMaxDelay
	}
	if c.CrashLoopMaxRestarts <= 0 {
		c.CrashLoopMaxRestarts = config.DefaultCrashLoopMaxRestarts
	}
	if c.CrashLoopWindow <= 0 {
		c.CrashLoopWindow = config.DefaultCrashLoopWindow
	}
	if c.StopGrace <= 0 {
		c.StopGrace = config.DefaultStopGrace
	}
	if c.OutputBufferLines <= 0 {
		c.OutputBufferLines = config.DefaultOutputBufferLines
	}
	return c
}

// Option customizes a Supervisor.
type Option func(*Supervisor)

// WithObserver registers a lifecycle observer.
func WithObserver(o Observer) Option {
	return func(s *Supervisor) {
		s.observer = o
	}
}

// WithLauncher replaces the process launcher.
func WithLauncher(l Launcher) Option {
	return func(s *Supervisor) {
		s.launcher = l
	}
}

// workerRuntime is the supervisor-private state kept next to a handle.
type workerRuntime struct {
	handle *fleet.Handle
	output *OutputBuffer

	// mu serializes lifecycle operations on one worker.
	mu            sync.Mutex
	proc          Process
	port          int
	gen           uint64
	restartSeq    uint64
	stopping      bool
	restartTimer  *time.Timer
	cancelStartup context.CancelFunc
	history       []time.Time
}

// Supervisor owns worker processes. It is the only component that mutates
// handle state.
type Supervisor struct {
	cfg       Config
	registry  *fleet.Registry
	allocator PortAllocator
	prober    Prober
	launcher  Launcher
	observer  Observer

	mu      sync.Mutex
	workers map[string]*workerRuntime

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a supervisor that registers its handles in registry.
func New(cfg Config, registry *fleet.Registry, allocator PortAllocator, prober Prober, opts ...Option) *Supervisor {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Supervisor{
		cfg:       cfg.withDefaults(),
		registry:  registry,
		allocator: allocator,
		prober:    prober,
		launcher:  NewExecLauncher(),
		workers:   make(map[string]*workerRuntime),
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds a Pending handle for the descriptor without starting it.
// Registering a name twice returns the existing handle.
func (s *Supervisor) Register(d config.WorkerDescriptor) (*fleet.Handle, error) {
	rt, err := s.register(d)
	if err != nil {
		return nil, err
	}
	return rt.handle, nil
}

func (s *Supervisor) register(d config.WorkerDescriptor) (*workerRuntime, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rt, ok := s.workers[d.Name]; ok {
		return rt, nil
	}

	h := fleet.NewHandle(d)
	h.SetStateChangeCallback(s.onStateChange)
	if err := s.registry.Register(h); err != nil {
		return nil, err
	}

	rt := &workerRuntime{
		handle: h,
		output: NewOutputBuffer(s.cfg.OutputBufferLines),
	}
	s.workers[d.Name] = rt
	return rt, nil
}

func (s *Supervisor) lookup(name string) (*workerRuntime, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rt, ok := s.workers[name]
	if !ok {
		return nil, api.NewError(api.ErrorKindUnknownWorker, "unknown worker %q", name)
	}
	return rt, nil
}

// StartAll registers every descriptor in order and starts them concurrently.
// A worker whose start fails stays under supervision; the returned error
// aggregates the individual failures.
func (s *Supervisor) StartAll(ctx context.Context, descriptors []config.WorkerDescriptor) error {
	for _, d := range descriptors {
		if _, err := s.register(d); err != nil {
			return err
		}
	}

	var (
		mu   sync.Mutex
		errs []error
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, d := range descriptors {
		g.Go(func() error {
			if err := s.StartWorker(gctx, d.Name); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("worker %s: %w", d.Name, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// Start registers the descriptor if needed and starts it.
func (s *Supervisor) Start(ctx context.Context, d config.WorkerDescriptor) error {
	if _, err := s.register(d); err != nil {
		return err
	}
	return s.StartWorker(ctx, d.Name)
}

// StartWorker starts a registered worker.
//
// A port is allocated, the launch spec is rendered and the process is
// spawned; the worker is Starting until its first successful probe. Failing
// any of those steps counts as a crash and goes through the restart policy.
//
// Args:
//   - ctx: bounds port allocation only; the process outlives it
//   - name: the worker name
//
// Returns:
//   - nil when the process was spawned or the worker already has one
//   - an UnknownWorker *api.Error when the name is not registered
//   - the allocation or launch error otherwise
//
// Starting a worker parked by the crash-loop breaker clears its restart budget.
func (s *Supervisor) StartWorker(ctx context.Context, name string) error {
	rt, err := s.lookup(name)
	if err != nil {
		return err
	}
	if s.ctx.Err() != nil {
		return api.NewError(api.ErrorKindInternal, "supervisor is shutting down")
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	state := rt.handle.State()
	if state.HasProcess() {
		return nil
	}

	rt.stopping = false
	s.cancelRestartLocked(rt)
	if state == api.StateStopped {
		rt.handle.ResetRestarts()
		rt.history = nil
	}

	return s.spawnLocked(ctx, rt)
}

// spawnLocked allocates a port, launches the process and arms the startup
// watcher. Failures count as crashes. Caller holds rt.mu.
func (s *Supervisor) spawnLocked(ctx context.Context, rt *workerRuntime) error {
	h := rt.handle
	d := h.Descriptor()

	if err := h.MarkStarting(); err != nil {
		return err
	}
	if f, ok := s.prober.(clientForgetter); ok {
		f.Forget(d.Name)
	}

	port, err := s.allocator.Allocate(ctx, d.Port)
	if err != nil {
		logging.Error("Supervisor", err, "Failed to allocate port for worker %s", d.Name)
		s.crashLocked(rt, err)
		return err
	}

	spec, err := renderLaunchSpec(d, s.cfg.Host, port)
	if err == nil {
		prefix := "Worker-" + d.Name
		spec.Stdout = newLineWriter(func(line string) {
			logging.Debug(prefix, "%s", line)
			rt.output.Add(line)
		})
		spec.Stderr = newLineWriter(func(line string) {
			logging.Debug(prefix, "%s", line)
			rt.output.Add(line)
		})
	}

	var proc Process
	if err == nil {
		proc, err = s.launcher.Launch(spec)
	}
	if err != nil {
		s.allocator.Release(port)
		logging.Error("Supervisor", err, "Failed to launch worker %s", d.Name)
		s.crashLocked(rt, err)
		return err
	}

	if err := h.SetProcess(proc.PID(), port); err != nil {
		_ = proc.Kill()
		s.allocator.Release(port)
		return err
	}

	rt.gen++
	rt.proc = proc
	rt.port = port
	gen := rt.gen

	logging.Info("Supervisor", "Started worker %s (pid %d, port %d)", d.Name, proc.PID(), port)

	startupCtx, cancel := context.WithCancel(s.ctx)
	rt.cancelStartup = cancel

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.waitExit(rt, proc, spec, gen)
	}()
	go func() {
		defer s.wg.Done()
		s.watchStartup(startupCtx, rt, gen, port)
	}()
	return nil
}

// waitExit turns an unrequested process exit into a crash.
func (s *Supervisor) waitExit(rt *workerRuntime, proc Process, spec LaunchSpec, gen uint64) {
	<-proc.Done()
	flushOutput(spec)

	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.gen != gen || rt.stopping {
		return
	}

	exitErr := proc.ExitErr()
	if exitErr == nil {
		exitErr = errExitedCleanly
	}
	name := rt.handle.Name()
	logging.Warn("Supervisor", "Worker %s exited unexpectedly: %v", name, exitErr)

	s.releaseProcessLocked(rt)
	s.crashLocked(rt, fmt.Errorf("process exited: %w", exitErr))
}

func flushOutput(spec LaunchSpec) {
	for _, w := range []interface{}{spec.Stdout, spec.Stderr} {
		if lw, ok := w.(*lineWriter); ok {
			lw.Flush()
		}
	}
}

// releaseProcessLocked forgets the current process and frees its port.
func (s *Supervisor) releaseProcessLocked(rt *workerRuntime) {
	if rt.cancelStartup != nil {
		rt.cancelStartup()
		rt.cancelStartup = nil
	}
	if rt.port != 0 {
		s.allocator.Release(rt.port)
	}
	rt.proc = nil
	rt.port = 0
	rt.gen++
}

// crashLocked records a crash and either schedules a restart or parks the
// worker when the crash-loop budget is spent.
func (s *Supervisor) crashLocked(rt *workerRuntime, reason error) {
	h := rt.handle
	name := h.Name()

	if err := h.MarkCrashed(reason); err != nil {
		logging.Warn("Supervisor", "Worker %s: %v", name, err)
		return
	}

	now := time.Now()
	rt.history = pruneWindow(rt.history, now, s.cfg.CrashLoopWindow)
	if len(rt.history) >= s.cfg.CrashLoopMaxRestarts {
		loopErr := api.WrapError(api.ErrorKindCrashLoop, reason,
			"worker %s restarted %d times within %s", name, len(rt.history), s.cfg.CrashLoopWindow)
		logging.Error("Supervisor", loopErr, "Giving up on worker %s", name)
		_ = h.MarkStopped(true, loopErr)
		return
	}

	if s.ctx.Err() != nil {
		return
	}

	delay := restartDelay(s.cfg.RestartBaseDelay, s.cfg.RestartMaxDelay, h.Snapshot().RestartCount)
	rt.restartSeq++
	seq := rt.restartSeq
	logging.Info("Supervisor", "Restarting worker %s in %s", name, delay)
	rt.restartTimer = time.AfterFunc(delay, func() {
		s.restartAfterCrash(rt, seq)
	})
}

func (s *Supervisor) restartAfterCrash(rt *workerRuntime, seq uint64) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.restartSeq != seq || rt.stopping || s.ctx.Err() != nil {
		return
	}
	if rt.handle.State() != api.StateCrashed {
		return
	}
	rt.restartTimer = nil
	rt.history = append(rt.history, time.Now())
	rt.handle.IncrementRestarts()
	if s.observer != nil {
		s.observer.WorkerRestarted(rt.handle.Name())
	}
	_ = s.spawnLocked(s.ctx, rt)
}

func (s *Supervisor) cancelRestartLocked(rt *workerRuntime) {
	rt.restartSeq++
	if rt.restartTimer != nil {
		rt.restartTimer.Stop()
		rt.restartTimer = nil
	}
}

// watchStartup probes a Starting worker until it answers or the startup
// grace period expires.
func (s *Supervisor) watchStartup(ctx context.Context, rt *workerRuntime, gen uint64, port int) {
	d := rt.handle.Descriptor()
	deadline := time.Now().Add(s.cfg.StartupGrace)

	ticker := time.NewTicker(s.cfg.StartupProbeInterval)
	defer ticker.Stop()

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			rt.mu.Lock()
			if rt.gen == gen && rt.handle.State() == api.StateStarting {
				err := api.NewError(api.ErrorKindStartupTimeout,
					"worker %s not healthy within %s", d.Name, s.cfg.StartupGrace)
				logging.Warn("Supervisor", "%v", err)
				_ = rt.handle.MarkUnhealthy(err)
			}
			rt.mu.Unlock()
			return
		}

		timeout := s.cfg.ProbeTimeout
		if timeout > remaining {
			timeout = remaining
		}
		probeCtx, cancel := context.WithTimeout(ctx, timeout)
		err := s.prober.Probe(probeCtx, d, port)
		cancel()

		if ctx.Err() != nil {
			return
		}
		if err == nil {
			rt.mu.Lock()
			if rt.gen == gen && rt.handle.State() == api.StateStarting {
				rt.handle.RecordProbeSuccess(time.Now())
				if mErr := rt.handle.MarkRunning(); mErr == nil {
					logging.Info("Supervisor", "Worker %s is running on port %d", d.Name, port)
				}
			}
			rt.mu.Unlock()
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ReportProbe feeds a health probe result for the process bound to port.
// Results for a process that is no longer current, or that is being stopped,
// are dropped.
func (s *Supervisor) ReportProbe(name string, port int, probeErr error) {
	rt, err := s.lookup(name)
	if err != nil {
		return
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.stopping || rt.port != port || rt.proc == nil {
		return
	}

	h := rt.handle
	state := h.State()
	if probeErr == nil {
		h.RecordProbeSuccess(time.Now())
		if state == api.StateStarting || state == api.StateUnhealthy {
			if err := h.MarkRunning(); err == nil {
				if rt.cancelStartup != nil {
					rt.cancelStartup()
					rt.cancelStartup = nil
				}
				logging.Info("Supervisor", "Worker %s recovered", name)
			}
		}
		return
	}

	failures := h.RecordProbeFailure(probeErr)
	if state == api.StateRunning && failures >= s.cfg.UnhealthyThreshold {
		logging.Warn("Supervisor", "Worker %s failed %d consecutive health checks: %v", name, failures, probeErr)
		_ = h.MarkUnhealthy(probeErr)
	}
}

// Stop terminates a worker and parks it in Stopped.
//
// The worker is marked as stopping under its lock, which cancels any pending
// restart and makes the exit watcher, the startup watcher and ReportProbe
// ignore the process from then on. The lock is released while the process is
// signalled so probes and admin reads of the same worker never wait on the
// stop grace period.
//
// Args:
//   - ctx: bounds the graceful phase; cancelling it escalates to SIGKILL
//   - name: the worker name
//
// Returns:
//   - an UnknownWorker *api.Error when the name is not registered
//   - a transition error if the handle could not be parked
//
// The process group receives SIGTERM first and SIGKILL after StopGrace.
// The handle stays registered; StartWorker brings it back.
func (s *Supervisor) Stop(ctx context.Context, name string) error {
	rt, err := s.lookup(name)
	if err != nil {
		return err
	}

	rt.mu.Lock()
	rt.stopping = true
	s.cancelRestartLocked(rt)
	if rt.cancelStartup != nil {
		rt.cancelStartup()
		rt.cancelStartup = nil
	}
	proc, gen := rt.proc, rt.gen
	rt.mu.Unlock()

	if proc != nil {
		s.terminate(ctx, name, proc)
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.gen != gen && !rt.stopping {
		// A start won the race; the new process is not ours to stop.
		return nil
	}
	if rt.gen == gen {
		s.releaseProcessLocked(rt)
	}
	if f, ok := s.prober.(clientForgetter); ok {
		f.Forget(name)
	}

	if rt.handle.State() == api.StateStopped {
		return nil
	}
	if err := rt.handle.MarkStopped(false, nil); err != nil {
		return err
	}
	logging.Info("Supervisor", "Stopped worker %s", name)
	return nil
}

func (s *Supervisor) terminate(ctx context.Context, name string, proc Process) {
	if err := proc.Terminate(); err != nil {
		logging.Debug("Supervisor", "Terminate worker %s: %v", name, err)
	}

	timer := time.NewTimer(s.cfg.StopGrace)
	defer timer.Stop()

	select {
	case <-proc.Done():
		return
	case <-timer.C:
		logging.Warn("Supervisor", "Worker %s did not exit within %s, killing", name, s.cfg.StopGrace)
	case <-ctx.Done():
		logging.Warn("Supervisor", "Stop of worker %s cancelled, killing", name)
	}

	if err := proc.Kill(); err != nil {
		logging.Error("Supervisor", err, "Failed to kill worker %s", name)
	}

	kill := time.NewTimer(s.cfg.StopGrace)
	defer kill.Stop()
	select {
	case <-proc.Done():
	case <-kill.C:
		logging.Warn("Supervisor", "Worker %s (pid %d) did not exit after SIGKILL", name, proc.PID())
	}
}

// Restart stops and starts a worker.
func (s *Supervisor) Restart(ctx context.Context, name string) error {
	if err := s.Stop(ctx, name); err != nil {
		return err
	}
	return s.StartWorker(ctx, name)
}

// RecentOutput returns the last lines the worker wrote to stdout or stderr.
func (s *Supervisor) RecentOutput(name string) ([]string, error) {
	rt, err := s.lookup(name)
	if err != nil {
		return nil, err
	}
	return rt.output.Lines(), nil
}

// Shutdown stops every worker concurrently and waits for background
// goroutines to finish.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.cancel()

	s.mu.Lock()
	names := make([]string, 0, len(s.workers))
	for name := range s.workers {
		names = append(names, name)
	}
	s.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, name := range names {
		g.Go(func() error {
			return s.Stop(gctx, name)
		})
	}
	err := g.Wait()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}

func (s *Supervisor) onStateChange(name string, from, to api.WorkerState, err error) {
	if err != nil {
		logging.Debug("Supervisor", "Worker %s: %s -> %s (%v)", name, from, to, err)
	} else {
		logging.Debug("Supervisor", "Worker %s: %s -> %s", name, from, to)
	}
	if s.observer != nil {
		s.observer.WorkerStateChanged(name, from, to)
	}
}
