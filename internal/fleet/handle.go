package fleet

import (
	"fmt"
	"sync"
	"time"

	"toolfleet/internal/api"
	"toolfleet/internal/config"
)

// StateChangeCallback is called after every successful transition, outside
// the handle lock.
type StateChangeCallback func(name string, oldState, newState api.WorkerState, err error)

// allowedTransitions is the lifecycle edge table. Stopped is reachable from
// every state and is handled separately.
var allowedTransitions = map[api.WorkerState][]api.WorkerState{
	api.StatePending:   {api.StateStarting},
	api.StateStarting:  {api.StateRunning, api.StateUnhealthy, api.StateCrashed},
	api.StateRunning:   {api.StateUnhealthy, api.StateCrashed},
	api.StateUnhealthy: {api.StateRunning, api.StateCrashed},
	api.StateCrashed:   {api.StateStarting},
	api.StateStopped:   {api.StateStarting},
}

// CanTransition reports whether from -> to is a legal lifecycle edge.
func CanTransition(from, to api.WorkerState) bool {
	if to == api.StateStopped {
		return true
	}
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// TransitionError is returned when a mutator is called in a state that does
// not allow it.
type TransitionError struct {
	Worker string
	From   api.WorkerState
	To     api.WorkerState
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("worker %s: illegal transition %s -> %s", e.Worker, e.From, e.To)
}

// Handle is the mutable runtime record of one worker.
//
// State-bearing fields are written only by the supervisor through the Mark*
// and Record* methods; everyone else reads through Snapshot. Stats are
// multi-writer and live behind their own synchronization.
type Handle struct {
	descriptor config.WorkerDescriptor

	mu                  sync.RWMutex
	state               api.WorkerState
	pid                 int
	port                int
	consecutiveFailures int
	lastHealthyAt       time.Time
	restartCount        int
	fatal               bool
	lastError           error
	startedAt           time.Time
	stateChangedAt      time.Time
	onChange            StateChangeCallback

	stats *Stats
}

// NewHandle creates a Pending handle for the descriptor.
func NewHandle(descriptor config.WorkerDescriptor) *Handle {
	return &Handle{
		descriptor:     descriptor,
		state:          api.StatePending,
		stateChangedAt: time.Now(),
		stats:          NewStats(),
	}
}

// Name returns the worker name.
func (h *Handle) Name() string {
	return h.descriptor.Name
}

// Category returns the worker category.
func (h *Handle) Category() string {
	return h.descriptor.Category
}

// Descriptor returns the immutable configuration the handle was created from.
func (h *Handle) Descriptor() config.WorkerDescriptor {
	return h.descriptor
}

// Stats returns the handle's request statistics.
func (h *Handle) Stats() *Stats {
	return h.stats
}

// State returns the current lifecycle state.
func (h *Handle) State() api.WorkerState {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

// Endpoint returns the bound port and whether the handle is Running.
func (h *Handle) Endpoint() (int, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.port, h.state == api.StateRunning
}

// SetStateChangeCallback sets the state change callback.
func (h *Handle) SetStateChangeCallback(cb StateChangeCallback) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onChange = cb
}

// Snapshot is a consistent copy of a handle's fields.
type Snapshot struct {
	Descriptor          config.WorkerDescriptor
	State               api.WorkerState
	PID                 int
	Port                int
	ConsecutiveFailures int
	LastHealthyAt       time.Time
	RestartCount        int
	Fatal               bool
	LastError           error
	StartedAt           time.Time
	StateChangedAt      time.Time
	Stats               StatsSnapshot
}

// Name returns the worker name of the snapshot.
func (s Snapshot) Name() string {
	return s.Descriptor.Name
}

// Snapshot returns all fields read under a single lock acquisition.
func (h *Handle) Snapshot() Snapshot {
	h.mu.RLock()
	s := Snapshot{
		Descriptor:          h.descriptor,
		State:               h.state,
		PID:                 h.pid,
		Port:                h.port,
		ConsecutiveFailures: h.consecutiveFailures,
		LastHealthyAt:       h.lastHealthyAt,
		RestartCount:        h.restartCount,
		Fatal:               h.fatal,
		LastError:           h.lastError,
		StartedAt:           h.startedAt,
		StateChangedAt:      h.stateChangedAt,
	}
	h.mu.RUnlock()

	s.Stats = h.stats.Snapshot()
	return s
}

// Info converts the snapshot to its wire form.
func (s Snapshot) Info() api.WorkerInfo {
	info := api.WorkerInfo{
		Name:                s.Descriptor.Name,
		Category:            s.Descriptor.Category,
		Protocol:            s.Descriptor.Protocol,
		State:               s.State,
		PID:                 s.PID,
		Port:                s.Port,
		DeclaredPort:        s.Descriptor.Port,
		ConsecutiveFailures: s.ConsecutiveFailures,
		RestartCount:        s.RestartCount,
		Fatal:               s.Fatal,
		StateChangedAt:      s.StateChangedAt,
		Stats: api.WorkerStats{
			RequestsRouted: s.Stats.RequestsRouted,
			Succeeded:      s.Stats.Succeeded,
			Failed:         s.Stats.Failed,
			AvgLatencyMs:   float64(s.Stats.AvgLatency) / float64(time.Millisecond),
		},
	}
	if s.LastError != nil {
		info.LastError = s.LastError.Error()
	}
	if !s.LastHealthyAt.IsZero() {
		t := s.LastHealthyAt
		info.LastHealthyAt = &t
	}
	if !s.StartedAt.IsZero() {
		t := s.StartedAt
		info.StartedAt = &t
	}
	return info
}

// transition moves the handle to state `to`, applying mutate under the lock.
// mutate may veto the transition by returning an error.
func (h *Handle) transition(to api.WorkerState, err error, mutate func() error) error {
	h.mu.Lock()
	from := h.state
	if !CanTransition(from, to) {
		h.mu.Unlock()
		return &TransitionError{Worker: h.descriptor.Name, From: from, To: to}
	}
	if mutate != nil {
		if mErr := mutate(); mErr != nil {
			h.mu.Unlock()
			return mErr
		}
	}
	h.state = to
	h.lastError = err
	h.stateChangedAt = time.Now()
	cb := h.onChange
	h.mu.Unlock()

	if cb != nil && from != to {
		cb(h.descriptor.Name, from, to, err)
	}
	return nil
}

// MarkStarting moves the handle to Starting and clears any previous process.
func (h *Handle) MarkStarting() error {
	return h.transition(api.StateStarting, nil, func() error {
		h.pid = 0
		h.port = 0
		h.consecutiveFailures = 0
		return nil
	})
}

// SetProcess records the spawned process while Starting.
func (h *Handle) SetProcess(pid, port int) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state != api.StateStarting {
		return &TransitionError{Worker: h.descriptor.Name, From: h.state, To: api.StateStarting}
	}
	h.pid = pid
	h.port = port
	h.startedAt = time.Now()
	return nil
}

// MarkRunning moves a Starting or Unhealthy handle to Running. Both pid and
// port must have been recorded.
func (h *Handle) MarkRunning() error {
	return h.transition(api.StateRunning, nil, func() error {
		if h.pid == 0 || h.port == 0 {
			return fmt.Errorf("worker %s: cannot run without a process and a bound port", h.descriptor.Name)
		}
		return nil
	})
}

// MarkUnhealthy moves a Starting or Running handle to Unhealthy.
func (h *Handle) MarkUnhealthy(reason error) error {
	return h.transition(api.StateUnhealthy, reason, nil)
}

// MarkCrashed records an unexpected process exit.
func (h *Handle) MarkCrashed(reason error) error {
	return h.transition(api.StateCrashed, reason, func() error {
		h.pid = 0
		h.port = 0
		return nil
	})
}

// MarkStopped moves the handle to Stopped from any state. fatal marks a
// crash-loop park that needs an explicit start to recover.
func (h *Handle) MarkStopped(fatal bool, reason error) error {
	return h.transition(api.StateStopped, reason, func() error {
		h.pid = 0
		h.port = 0
		h.fatal = fatal
		return nil
	})
}

// RecordProbeSuccess stamps lastHealthyAt and resets the failure streak.
func (h *Handle) RecordProbeSuccess(at time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastHealthyAt = at
	h.consecutiveFailures = 0
}

// RecordProbeFailure extends the failure streak and returns its new length.
func (h *Handle) RecordProbeFailure(reason error) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.consecutiveFailures++
	h.lastError = reason
	return h.consecutiveFailures
}

// IncrementRestarts bumps the restart counter and returns the new value.
func (h *Handle) IncrementRestarts() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.restartCount++
	return h.restartCount
}

// ResetRestarts clears the restart counter and the fatal flag.
func (h *Handle) ResetRestarts() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.restartCount = 0
	h.fatal = false
}
