package app

import (
	"fmt"
	"os"

	"toolfleet/internal/config"
	"toolfleet/internal/fleet"
	"toolfleet/internal/health"
	"toolfleet/internal/metrics"
	"toolfleet/internal/ports"
	"toolfleet/internal/ratelimit"
	"toolfleet/internal/router"
	"toolfleet/internal/server"
	"toolfleet/internal/supervisor"
	"toolfleet/internal/tracing"
	"toolfleet/internal/worker"
	"toolfleet/pkg/logging"
)

// Services holds every component of a running fleet.
//
// Dependencies flow one way:
//
//	Registry <- Supervisor <- Monitor
//	Registry <- Router <- Server
//	Pool: probes for Supervisor and Monitor, clients for Router
//	Metrics: observer of Supervisor, Monitor and Router
type Services struct {
	Config config.FleetConfig

	Registry      *fleet.Registry
	Metrics       *metrics.Metrics
	Tracing       *tracing.Provider
	Allocator     *ports.Allocator
	Pool          *worker.Pool
	Supervisor    *supervisor.Supervisor
	Monitor       *health.Monitor
	InvokeLimiter *ratelimit.Limiter
	AdminLimiter  *ratelimit.Limiter
	Router        *router.Router
	Server        *server.Server

	// Watcher is nil when no config directory is known.
	Watcher *config.Watcher
}

// InitializeServices wires all components from the loaded configuration.
// Nothing is started; see Application.Run.
func InitializeServices(cfg *Config) (*Services, error) {
	fc := *cfg.FleetConfig
	if cfg.Version != "" {
		worker.ClientVersion = cfg.Version
	}

	tp, err := tracing.Setup(fc.Tracing, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("failed to set up tracing: %w", err)
	}

	registry := fleet.NewRegistry()
	m := metrics.New()

	allocator := ports.NewAllocator(ports.Config{
		Host:        fc.Supervisor.WorkerHost,
		MaxAttempts: fc.Ports.MaxAttempts,
		BackoffStep: fc.Ports.BackoffStep,
	})
	pool := worker.NewPool(fc.Supervisor.WorkerHost)

	sup := supervisor.New(supervisor.ConfigFrom(fc), registry, allocator, pool,
		supervisor.WithObserver(m))

	monitor := health.New(fc.Health, registry, pool, sup, health.WithObserver(m))

	invokeLimiter := ratelimit.New("invoke", fc.RateLimits.Invoke)
	adminLimiter := ratelimit.New("admin", fc.RateLimits.Admin)

	rt, err := router.New(router.ConfigFrom(fc.Router), registry, pool,
		router.WithLimiter(invokeLimiter),
		router.WithTracerProvider(tp),
		router.WithObserver(m),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create router: %w", err)
	}

	srv := server.New(fc.Server, server.Deps{
		Registry:     registry,
		Fleet:        sup,
		Invoker:      rt,
		Health:       monitor,
		AdminLimiter: adminLimiter,
		Metrics:      m,
	})

	var watcher *config.Watcher
	if cfg.ConfigPath != "" {
		watcher = config.NewWatcher(cfg.ConfigPath, fc.Workers, sup, 0)
	}

	logging.Debug("Services", "Wired %d workers, policy %s, metrics %v, tracing %s",
		len(fc.Workers), fc.Router.Policy, fc.Server.MetricsEnabled, fc.Tracing.Exporter)

	return &Services{
		Config:        fc,
		Registry:      registry,
		Metrics:       m,
		Tracing:       tp,
		Allocator:     allocator,
		Pool:          pool,
		Supervisor:    sup,
		Monitor:       monitor,
		InvokeLimiter: invokeLimiter,
		AdminLimiter:  adminLimiter,
		Router:        rt,
		Server:        srv,
		Watcher:       watcher,
	}, nil
}
