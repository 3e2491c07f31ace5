package supervisor

import (
	"context"
	"errors"
	"sync"

	"toolfleet/internal/api"
	"toolfleet/internal/config"
)

type fakeProcess struct {
	pid        int
	ignoreTerm bool
	done       chan struct{}
	once       sync.Once

	mu         sync.Mutex
	exitErr    error
	terminated bool
	killed     bool
}

func newFakeProcess(pid int) *fakeProcess {
	return &fakeProcess{pid: pid, done: make(chan struct{})}
}

func (p *fakeProcess) exit(err error) {
	p.once.Do(func() {
		p.mu.Lock()
		p.exitErr = err
		p.mu.Unlock()
		close(p.done)
	})
}

func (p *fakeProcess) PID() int              { return p.pid }
func (p *fakeProcess) Done() <-chan struct{} { return p.done }

func (p *fakeProcess) ExitErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitErr
}

func (p *fakeProcess) Terminate() error {
	p.mu.Lock()
	p.terminated = true
	p.mu.Unlock()
	if !p.ignoreTerm {
		p.exit(errors.New("signal: terminated"))
	}
	return nil
}

func (p *fakeProcess) Kill() error {
	p.mu.Lock()
	p.killed = true
	p.mu.Unlock()
	p.exit(errors.New("signal: killed"))
	return nil
}

func (p *fakeProcess) wasKilled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.killed
}

type fakeLauncher struct {
	mu    sync.Mutex
	specs []LaunchSpec
	procs []*fakeProcess
	err   error
	// onLaunch runs inside Launch with the 1-based launch number.
	onLaunch func(n int, spec LaunchSpec, p *fakeProcess)
}

func (l *fakeLauncher) Launch(spec LaunchSpec) (Process, error) {
	l.mu.Lock()
	if l.err != nil {
		l.mu.Unlock()
		return nil, l.err
	}
	l.specs = append(l.specs, spec)
	n := len(l.specs)
	p := newFakeProcess(1000 + n)
	l.procs = append(l.procs, p)
	hook := l.onLaunch
	l.mu.Unlock()

	if hook != nil {
		hook(n, spec, p)
	}
	return p, nil
}

func (l *fakeLauncher) launches() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.specs)
}

func (l *fakeLauncher) process(i int) *fakeProcess {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.procs[i]
}

func (l *fakeLauncher) spec(i int) LaunchSpec {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.specs[i]
}

type fakeProber struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (p *fakeProber) Probe(ctx context.Context, d config.WorkerDescriptor, port int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return p.err
}

func (p *fakeProber) setErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

type fakeAllocator struct {
	mu       sync.Mutex
	next     int
	err      error
	reserved map[int]bool
}

func newFakeAllocator() *fakeAllocator {
	return &fakeAllocator{next: 20000, reserved: make(map[int]bool)}
}

func (a *fakeAllocator) Allocate(ctx context.Context, preferred int) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return 0, a.err
	}
	port := preferred
	if port == 0 || a.reserved[port] {
		a.next++
		port = a.next
	}
	a.reserved[port] = true
	return port, nil
}

func (a *fakeAllocator) Release(port int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.reserved, port)
}

func (a *fakeAllocator) isReserved(port int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.reserved[port]
}

type recordingObserver struct {
	mu          sync.Mutex
	restarts    map[string]int
	transitions []string
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{restarts: make(map[string]int)}
}

func (o *recordingObserver) WorkerStateChanged(name string, from, to api.WorkerState) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.transitions = append(o.transitions, string(from)+"->"+string(to))
}

func (o *recordingObserver) WorkerRestarted(name string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.restarts[name]++
}

func (o *recordingObserver) restartCount(name string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.restarts[name]
}
