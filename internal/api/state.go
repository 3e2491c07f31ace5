package api

// WorkerState is the lifecycle state of a worker handle.
type WorkerState string

const (
	StatePending   WorkerState = "Pending"
	StateStarting  WorkerState = "Starting"
	StateRunning   WorkerState = "Running"
	StateUnhealthy WorkerState = "Unhealthy"
	StateCrashed   WorkerState = "Crashed"
	StateStopped   WorkerState = "Stopped"
)

// AllWorkerStates lists every state in lifecycle order.
var AllWorkerStates = []WorkerState{
	StatePending,
	StateStarting,
	StateRunning,
	StateUnhealthy,
	StateCrashed,
	StateStopped,
}

// HasProcess reports whether a worker in this state may own a live process
// bound to a port.
func (s WorkerState) HasProcess() bool {
	switch s {
	case StateStarting, StateRunning, StateUnhealthy:
		return true
	default:
		return false
	}
}

// FleetStatus summarizes aggregate fleet health.
type FleetStatus string

const (
	FleetHealthy     FleetStatus = "healthy"
	FleetDegraded    FleetStatus = "degraded"
	FleetUnavailable FleetStatus = "unavailable"
)
