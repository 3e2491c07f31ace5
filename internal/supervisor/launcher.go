package supervisor

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"
)

// outputDrainDelay bounds how long Wait keeps reading output after the
// worker's main process exited. Children that inherited the pipes would
// otherwise hold Wait open indefinitely.
const outputDrainDelay = time.Second

// LaunchSpec is a fully rendered process description.
type LaunchSpec struct {
	Name    string
	Command string
	Args    []string
	Dir     string
	Env     []string
	Stdout  io.Writer
	Stderr  io.Writer
}

// Process is a running worker process.
type Process interface {
	PID() int
	// Done is closed once the process has exited and its output is drained.
	Done() <-chan struct{}
	// ExitErr is valid after Done is closed.
	ExitErr() error
	// Terminate asks the process (group) to exit.
	Terminate() error
	// Kill forcibly ends the process (group).
	Kill() error
}

// Launcher starts worker processes.
type Launcher interface {
	Launch(spec LaunchSpec) (Process, error)
}

// ExecLauncher starts real OS processes in their own process group.
type ExecLauncher struct{}

// NewExecLauncher returns the default launcher.
func NewExecLauncher() *ExecLauncher {
	return &ExecLauncher{}
}

// Launch implements Launcher.
func (l *ExecLauncher) Launch(spec LaunchSpec) (Process, error) {
	cmd := exec.Command(spec.Command, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = spec.Env
	cmd.Stdout = spec.Stdout
	cmd.Stderr = spec.Stderr
	cmd.Stdin = nil
	cmd.WaitDelay = outputDrainDelay
	setProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", spec.Command, err)
	}

	p := &execProcess{
		cmd:  cmd,
		done: make(chan struct{}),
	}
	go p.wait()
	return p, nil
}

type execProcess struct {
	cmd  *exec.Cmd
	done chan struct{}

	mu      sync.Mutex
	exitErr error
}

func (p *execProcess) wait() {
	err := p.cmd.Wait()
	if err == nil || errors.Is(err, exec.ErrWaitDelay) {
		err = errExitedCleanly
	}
	// Whatever the worker left behind in its group goes with it.
	_ = signalGroup(p.cmd.Process, os.Kill)
	p.mu.Lock()
	p.exitErr = err
	p.mu.Unlock()
	close(p.done)
}

func (p *execProcess) PID() int {
	return p.cmd.Process.Pid
}

func (p *execProcess) Done() <-chan struct{} {
	return p.done
}

func (p *execProcess) ExitErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitErr
}

func (p *execProcess) Terminate() error {
	return signalGroup(p.cmd.Process, terminateSignal)
}

func (p *execProcess) Kill() error {
	return signalGroup(p.cmd.Process, os.Kill)
}
