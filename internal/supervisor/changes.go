package supervisor

import (
	"context"

	"toolfleet/internal/config"
	"toolfleet/pkg/logging"
)

// WorkerAdded starts a worker whose descriptor appeared at runtime.
func (s *Supervisor) WorkerAdded(ctx context.Context, d config.WorkerDescriptor) {
	logging.Info("Supervisor", "Descriptor for worker %s added, starting it", d.Name)
	if err := s.Start(ctx, d); err != nil {
		logging.Error("Supervisor", err, "Failed to start new worker %s", d.Name)
	}
}

// WorkerRemoved stops a worker whose descriptor file was deleted. The handle
// stays registered as Stopped until the fleet shuts down.
func (s *Supervisor) WorkerRemoved(ctx context.Context, name string) {
	logging.Info("Supervisor", "Descriptor for worker %s removed, stopping it", name)
	if err := s.Stop(ctx, name); err != nil {
		logging.Error("Supervisor", err, "Failed to stop removed worker %s", name)
	}
}

// WorkerChanged is reported only; descriptors are immutable for a running
// worker and take effect after a restart of the fleet.
func (s *Supervisor) WorkerChanged(ctx context.Context, d config.WorkerDescriptor) {
	logging.Warn("Supervisor", "Descriptor for worker %s changed; restart the fleet to apply it", d.Name)
}

var _ config.WorkerChangeHandler = (*Supervisor)(nil)
