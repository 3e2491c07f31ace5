package config

import "time"

// FleetConfig is the top-level configuration structure for toolfleet.
type FleetConfig struct {
	Server     ServerConfig       `yaml:"server"`
	Router     RouterConfig       `yaml:"router"`
	Supervisor SupervisorConfig   `yaml:"supervisor"`
	Health     HealthConfig       `yaml:"health"`
	Ports      PortsConfig        `yaml:"ports"`
	RateLimits RateLimitsConfig   `yaml:"rateLimits"`
	Logging    LoggingConfig      `yaml:"logging"`
	Tracing    TracingConfig      `yaml:"tracing"`
	Workers    []WorkerDescriptor `yaml:"workers,omitempty"`
}

// ServerConfig configures the inbound routing API.
type ServerConfig struct {
	Host            string        `yaml:"host,omitempty"`
	Port            int           `yaml:"port,omitempty"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout,omitempty"`
	// APIKeys, when non-empty, are required on every route except /health and /metrics.
	APIKeys []string `yaml:"apiKeys,omitempty"`
	// MetricsEnabled exposes Prometheus metrics at /metrics.
	MetricsEnabled bool `yaml:"metricsEnabled"`
}

// Load balancing policies.
const (
	PolicyRoundRobin   = "round-robin"
	PolicyLeastLatency = "least-latency"
)

// RouterConfig configures request routing.
type RouterConfig struct {
	Policy         string        `yaml:"policy,omitempty"`
	DefaultTimeout time.Duration `yaml:"defaultTimeout,omitempty"`
	MaxTimeout     time.Duration `yaml:"maxTimeout,omitempty"`
	// RetryOnFailure retries once against a different worker on timeout or transport failure.
	RetryOnFailure bool `yaml:"retryOnFailure"`
}

// SupervisorConfig configures process lifecycle management.
type SupervisorConfig struct {
	WorkerHost           string        `yaml:"workerHost,omitempty"`
	StartupGrace         time.Duration `yaml:"startupGrace,omitempty"`
	StartupProbeInterval time.Duration `yaml:"startupProbeInterval,omitempty"`
	UnhealthyThreshold   int           `yaml:"unhealthyThreshold,omitempty"`
	RestartBaseDelay     time.Duration `yaml:"restartBaseDelay,omitempty"`
	RestartMaxDelay      time.Duration `yaml:"restartMaxDelay,omitempty"`
	CrashLoopMaxRestarts int           `yaml:"crashLoopMaxRestarts,omitempty"`
	CrashLoopWindow      time.Duration `yaml:"crashLoopWindow,omitempty"`
	StopGrace            time.Duration `yaml:"stopGrace,omitempty"`
	OutputBufferLines    int           `yaml:"outputBufferLines,omitempty"`
}

// HealthConfig configures the periodic health monitor.
type HealthConfig struct {
	Interval time.Duration `yaml:"interval,omitempty"`
	Timeout  time.Duration `yaml:"timeout,omitempty"`
}

// PortsConfig configures the port allocator.
type PortsConfig struct {
	MaxAttempts int           `yaml:"maxAttempts,omitempty"`
	BackoffStep time.Duration `yaml:"backoffStep,omitempty"`
}

// RateLimitConfig configures one rate limiter instance.
type RateLimitConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxRequests int           `yaml:"maxRequests,omitempty"`
	Window      time.Duration `yaml:"window,omitempty"`
	// BlockDuration defaults to twice the window.
	BlockDuration time.Duration `yaml:"blockDuration,omitempty"`
	SweepInterval time.Duration `yaml:"sweepInterval,omitempty"`
}

// RateLimitsConfig holds the per call-class limiters.
type RateLimitsConfig struct {
	Invoke RateLimitConfig `yaml:"invoke"`
	Admin  RateLimitConfig `yaml:"admin"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"`
}

// Trace exporters.
const (
	TraceExporterNone   = "none"
	TraceExporterStdout = "stdout"
)

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	Exporter    string  `yaml:"exporter,omitempty"`
	ServiceName string  `yaml:"serviceName,omitempty"`
	SampleRatio float64 `yaml:"sampleRatio,omitempty"`
}

// Worker protocols.
const (
	ProtocolHTTP = "http"
	ProtocolMCP  = "mcp"
)

// WorkerDescriptor is the immutable configuration of one worker.
type WorkerDescriptor struct {
	Name     string `yaml:"name"`
	Category string `yaml:"category"`

	// Launch spec. Args, Env values and WorkingDir are templates rendered with
	// .Name, .Port, .Category and .Host.
	Command    string            `yaml:"command"`
	Args       []string          `yaml:"args,omitempty"`
	WorkingDir string            `yaml:"workingDir,omitempty"`
	Env        map[string]string `yaml:"env,omitempty"`

	// Port is the preferred port; zero lets the allocator pick one.
	Port int `yaml:"port,omitempty"`

	Protocol   string `yaml:"protocol,omitempty"`
	HealthPath string `yaml:"healthPath,omitempty"`
	InvokePath string `yaml:"invokePath,omitempty"`
	ToolsPath  string `yaml:"toolsPath,omitempty"`
	MCPPath    string `yaml:"mcpPath,omitempty"`

	// Source is the file the descriptor was loaded from, if any.
	Source string `yaml:"-"`
}
