package app

import (
	"context"
	"fmt"
	"io"
	"os"

	"toolfleet/internal/config"
	"toolfleet/pkg/logging"
)

// Application bootstraps and runs the fleet.
//
// Initialization is two-phase:
//  1. NewApplication loads configuration, initializes logging and wires services
//  2. Run starts the fleet and serves until the context ends or a signal arrives
//
// Example usage:
//
//	cfg := app.NewConfig(false, "text", "/etc/toolfleet")
//	application, err := app.NewApplication(cfg)
//	if err != nil {
//	    return fmt.Errorf("failed to create application: %w", err)
//	}
//	return application.Run(ctx)
type Application struct {
	config   *Config
	services *Services
}

// NewApplication creates and initializes a new application instance.
//
// Logging starts at the level implied by the debug flag so configuration
// loading is visible, then switches to the configured level and format.
// Any configuration or validation error aborts startup.
func NewApplication(cfg *Config) (*Application, error) {
	var logOutput io.Writer = os.Stdout
	if cfg.Silent {
		logOutput = io.Discard
	}

	bootLevel := logging.LevelInfo
	if cfg.Debug {
		bootLevel = logging.LevelDebug
	}
	logging.Init(bootLevel, logging.Format(cfg.LogFormat), logOutput)

	if cfg.FleetConfig == nil {
		if cfg.ConfigPath == "" {
			cfg.ConfigPath = config.GetDefaultConfigPathOrPanic()
		}
		fleetCfg, err := config.LoadConfig(cfg.ConfigPath)
		if err != nil {
			logging.Error("Bootstrap", err, "Failed to load configuration from %s", cfg.ConfigPath)
			return nil, fmt.Errorf("failed to load configuration from %s: %w", cfg.ConfigPath, err)
		}
		cfg.FleetConfig = &fleetCfg
	}

	applyOverrides(cfg)
	if err := configureLogging(cfg, logOutput); err != nil {
		return nil, err
	}

	services, err := InitializeServices(cfg)
	if err != nil {
		logging.Error("Bootstrap", err, "Failed to initialize services")
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	return &Application{
		config:   cfg,
		services: services,
	}, nil
}

func applyOverrides(cfg *Config) {
	if cfg.Host != "" {
		cfg.FleetConfig.Server.Host = cfg.Host
	}
	if cfg.Port != 0 {
		cfg.FleetConfig.Server.Port = cfg.Port
	}
	if cfg.LogFormat != "" {
		cfg.FleetConfig.Logging.Format = cfg.LogFormat
	}
}

func configureLogging(cfg *Config, output io.Writer) error {
	level, err := logging.ParseLevel(cfg.FleetConfig.Logging.Level)
	if err != nil {
		return fmt.Errorf("invalid logging.level: %w", err)
	}
	if cfg.Debug {
		level = logging.LevelDebug
	}
	logging.Init(level, logging.Format(cfg.FleetConfig.Logging.Format), output)
	return nil
}

// Services returns the wired components. It is intended for tests and
// embedding.
func (a *Application) Services() *Services {
	return a.services
}

// Run starts the fleet and blocks until ctx is cancelled, SIGINT or SIGTERM
// arrives, or the routing API fails. Shutdown is ordered: HTTP server,
// watcher, health monitor and limiters, then the supervisor.
func (a *Application) Run(ctx context.Context) error {
	return runServe(ctx, a.services)
}
