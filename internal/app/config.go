package app

import (
	"toolfleet/internal/config"
)

// Config holds the application configuration
type Config struct {
	// Debug forces debug logging regardless of the configured level
	Debug bool

	// LogFormat overrides logging.format from config.yaml when set
	LogFormat string

	// ConfigPath is the directory holding config.yaml and workers/
	ConfigPath string

	// Host and Port override the routing API address when set
	Host string
	Port int

	// Version is reported to MCP workers and in logs
	Version string

	// Silent discards all log output
	Silent bool

	// FleetConfig is loaded from ConfigPath unless pre-populated
	FleetConfig *config.FleetConfig
}

// NewConfig creates a new application configuration
func NewConfig(debug bool, logFormat, configPath string) *Config {
	return &Config{
		Debug:      debug,
		LogFormat:  logFormat,
		ConfigPath: configPath,
	}
}
