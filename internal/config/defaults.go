package config

import "time"

const (
	DefaultServerHost      = "127.0.0.1"
	DefaultServerPort      = 8090
	DefaultShutdownTimeout = 10 * time.Second

	DefaultRouterTimeout    = 30 * time.Second
	DefaultRouterMaxTimeout = 5 * time.Minute

	DefaultWorkerHost           = "127.0.0.1"
	DefaultStartupGrace         = 5 * time.Second
	DefaultStartupProbeInterval = 250 * time.Millisecond
	DefaultUnhealthyThreshold   = 3
	DefaultRestartBaseDelay     = time.Second
	DefaultRestartMaxDelay      = 60 * time.Second
	DefaultCrashLoopMaxRestarts = 5
	DefaultCrashLoopWindow      = 60 * time.Second
	DefaultStopGrace            = 5 * time.Second
	DefaultOutputBufferLines    = 200

	DefaultHealthInterval = 10 * time.Second
	DefaultHealthTimeout  = 2 * time.Second

	DefaultInvokeMaxRequests      = 100
	DefaultAdminMaxRequests       = 10
	DefaultRateLimitWindow        = time.Minute
	DefaultRateLimitSweepInterval = 5 * time.Minute

	DefaultPortMaxAttempts = 50
	DefaultPortBackoffStep = 10 * time.Millisecond

	DefaultHealthPath = "/health"
	DefaultInvokePath = "/invoke"
	DefaultToolsPath  = "/tools"
	DefaultMCPPath    = "/mcp"
)

// GetDefaultConfig returns the default configuration for toolfleet.
func GetDefaultConfig() FleetConfig {
	return FleetConfig{
		Server: ServerConfig{
			Host:            DefaultServerHost,
			Port:            DefaultServerPort,
			ShutdownTimeout: DefaultShutdownTimeout,
			MetricsEnabled:  true,
		},
		Router: RouterConfig{
			Policy:         PolicyRoundRobin,
			DefaultTimeout: DefaultRouterTimeout,
			MaxTimeout:     DefaultRouterMaxTimeout,
			RetryOnFailure: true,
		},
		Supervisor: SupervisorConfig{
			WorkerHost:           DefaultWorkerHost,
			StartupGrace:         DefaultStartupGrace,
			StartupProbeInterval: DefaultStartupProbeInterval,
			UnhealthyThreshold:   DefaultUnhealthyThreshold,
			RestartBaseDelay:     DefaultRestartBaseDelay,
			RestartMaxDelay:      DefaultRestartMaxDelay,
			CrashLoopMaxRestarts: DefaultCrashLoopMaxRestarts,
			CrashLoopWindow:      DefaultCrashLoopWindow,
			StopGrace:            DefaultStopGrace,
			OutputBufferLines:    DefaultOutputBufferLines,
		},
		Health: HealthConfig{
			Interval: DefaultHealthInterval,
			Timeout:  DefaultHealthTimeout,
		},
		Ports: PortsConfig{
			MaxAttempts: DefaultPortMaxAttempts,
			BackoffStep: DefaultPortBackoffStep,
		},
		RateLimits: RateLimitsConfig{
			Invoke: RateLimitConfig{
				Enabled:       true,
				MaxRequests:   DefaultInvokeMaxRequests,
				Window:        DefaultRateLimitWindow,
				SweepInterval: DefaultRateLimitSweepInterval,
			},
			Admin: RateLimitConfig{
				Enabled:       true,
				MaxRequests:   DefaultAdminMaxRequests,
				Window:        DefaultRateLimitWindow,
				SweepInterval: DefaultRateLimitSweepInterval,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Tracing: TracingConfig{
			Exporter:    TraceExporterNone,
			ServiceName: "toolfleet",
			SampleRatio: 1.0,
		},
	}
}

// WithDefaults returns a copy of d with the protocol and endpoint paths filled in.
func (d WorkerDescriptor) WithDefaults() WorkerDescriptor {
	if d.Protocol == "" {
		d.Protocol = ProtocolHTTP
	}
	if d.HealthPath == "" {
		d.HealthPath = DefaultHealthPath
	}
	if d.InvokePath == "" {
		d.InvokePath = DefaultInvokePath
	}
	if d.ToolsPath == "" {
		d.ToolsPath = DefaultToolsPath
	}
	if d.MCPPath == "" {
		d.MCPPath = DefaultMCPPath
	}
	return d
}
