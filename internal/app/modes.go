package app

import (
	"context"
	"fmt"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"toolfleet/pkg/logging"
)

// runServe starts every component, signals readiness to systemd and blocks
// until shutdown is requested.
//
// Signal Handling:
//   - SIGINT (Ctrl+C): graceful shutdown
//   - SIGTERM: graceful shutdown (systemd, containers)
func runServe(ctx context.Context, s *Services) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Background loops outlive ctx so they can be stopped in order.
	loopCtx, stopLoops := context.WithCancel(context.Background())
	var loops sync.WaitGroup
	runLoop := func(fn func(context.Context)) {
		loops.Add(1)
		go func() {
			defer loops.Done()
			fn(loopCtx)
		}()
	}

	runLoop(s.InvokeLimiter.Run)
	runLoop(s.AdminLimiter.Run)

	logging.Info("Serve", "Starting %d workers", len(s.Config.Workers))
	if err := s.Supervisor.StartAll(ctx, s.Config.Workers); err != nil {
		logging.Warn("Serve", "Some workers failed to start: %v", err)
	}

	runLoop(s.Monitor.Run)

	if s.Watcher != nil {
		if err := s.Watcher.Start(loopCtx); err != nil {
			logging.Warn("Serve", "Worker directory watching disabled: %v", err)
		}
	}

	if err := s.Server.Start(); err != nil {
		if s.Watcher != nil {
			s.Watcher.Stop()
		}
		stopLoops()
		loops.Wait()
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownBudget(s))
		defer cancel()
		_ = s.Supervisor.Shutdown(stopCtx)
		shutdownFleet(s)
		return fmt.Errorf("failed to start routing API: %w", err)
	}

	notifySystemd(daemon.SdNotifyReady)
	logging.Info("Serve", "Fleet is up. Press Ctrl+C to stop all workers and exit.")

	var runErr error
	select {
	case <-ctx.Done():
		logging.Info("Serve", "Shutdown requested")
	case err, ok := <-s.Server.Errors():
		if ok && err != nil {
			runErr = fmt.Errorf("routing API failed: %w", err)
		}
	}

	notifySystemd(daemon.SdNotifyStopping)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownBudget(s))
	defer cancel()

	if err := s.Server.Shutdown(shutdownCtx); err != nil {
		logging.Warn("Serve", "Routing API did not stop cleanly: %v", err)
	}
	if s.Watcher != nil {
		s.Watcher.Stop()
	}
	stopLoops()
	loops.Wait()

	if err := s.Supervisor.Shutdown(shutdownCtx); err != nil {
		logging.Warn("Serve", "Supervisor shutdown: %v", err)
	}
	shutdownFleet(s)

	logging.Info("Serve", "Shutdown complete")
	return runErr
}

// shutdownFleet releases what is left after the supervisor stopped.
func shutdownFleet(s *Services) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.Pool.Close()
	if err := s.Tracing.Shutdown(ctx); err != nil {
		logging.Warn("Serve", "Flushing traces failed: %v", err)
	}
	s.Registry.Clear()
}

func shutdownBudget(s *Services) time.Duration {
	return s.Config.Server.ShutdownTimeout + s.Config.Supervisor.StopGrace + 5*time.Second
}

func notifySystemd(state string) {
	sent, err := daemon.SdNotify(false, state)
	switch {
	case err != nil:
		logging.Warn("Serve", "systemd notification %q failed: %v", state, err)
	case sent:
		logging.Debug("Serve", "Sent %q to systemd", state)
	}
}
