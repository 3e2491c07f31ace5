// Package metrics exposes fleet and routing metrics in the Prometheus format.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"toolfleet/internal/api"
)

const namespace = "toolfleet"

// outcomeSuccess labels attempts and invocations without an error kind.
const outcomeSuccess = "success"

// Metrics holds every collector of the process. It implements the observer
// interfaces of the supervisor, the health monitor and the router.
type Metrics struct {
	registry *prometheus.Registry

	InvocationsTotal   *prometheus.CounterVec
	InvocationDuration *prometheus.HistogramVec
	AttemptsTotal      *prometheus.CounterVec
	AttemptDuration    *prometheus.HistogramVec
	RateLimitedTotal   *prometheus.CounterVec

	WorkerState         *prometheus.GaugeVec
	WorkerRestartsTotal *prometheus.CounterVec
	ProbesTotal         *prometheus.CounterVec
	ProbeDuration       *prometheus.HistogramVec

	FleetHealthRatio prometheus.Gauge
	FleetWorkers     *prometheus.GaugeVec

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New creates the collectors on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return NewWithRegistry(registry)
}

// NewWithRegistry creates the collectors on the given registry.
func NewWithRegistry(registry *prometheus.Registry) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,

		InvocationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "invocations_total",
				Help:      "Routed tool invocations by target and outcome",
			},
			[]string{"target", "outcome"},
		),
		InvocationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "invocation_duration_seconds",
				Help:      "End-to-end invocation latency including retries",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"target"},
		),
		AttemptsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "attempts_total",
				Help:      "Forwarding attempts by worker and outcome",
			},
			[]string{"worker", "outcome"},
		),
		AttemptDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "attempt_duration_seconds",
				Help:      "Latency of single forwarding attempts",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"worker"},
		),
		RateLimitedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limited_total",
				Help:      "Requests denied by a rate limiter",
			},
			[]string{"limiter"},
		),
		WorkerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "worker_state",
				Help:      "1 for the current lifecycle state of each worker",
			},
			[]string{"worker", "state"},
		),
		WorkerRestartsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "worker_restarts_total",
				Help:      "Automatic restarts after a crash",
			},
			[]string{"worker"},
		),
		ProbesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "health_probes_total",
				Help:      "Health probes by worker and result",
			},
			[]string{"worker", "result"},
		),
		ProbeDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "health_probe_duration_seconds",
				Help:      "Health probe latency",
				Buckets:   []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"worker"},
		),
		FleetHealthRatio: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "fleet_health_ratio",
				Help:      "Running workers over non-stopped workers",
			},
		),
		FleetWorkers: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "fleet_workers",
				Help:      "Number of workers per lifecycle state",
			},
			[]string{"state"},
		),
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "HTTP requests served by the routing API",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency of the routing API",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func outcome(kind api.ErrorKind) string {
	if kind == "" {
		return outcomeSuccess
	}
	return string(kind)
}

// WorkerStateChanged moves the worker's state gauge.
func (m *Metrics) WorkerStateChanged(name string, from, to api.WorkerState) {
	m.WorkerState.WithLabelValues(name, string(from)).Set(0)
	m.WorkerState.WithLabelValues(name, string(to)).Set(1)
}

// WorkerRestarted counts an automatic restart.
func (m *Metrics) WorkerRestarted(name string) {
	m.WorkerRestartsTotal.WithLabelValues(name).Inc()
}

// ProbeCompleted records one health probe.
func (m *Metrics) ProbeCompleted(name string, err error, duration time.Duration) {
	result := "ok"
	if err != nil {
		result = "failed"
	}
	m.ProbesTotal.WithLabelValues(name, result).Inc()
	m.ProbeDuration.WithLabelValues(name).Observe(duration.Seconds())
}

// FleetHealthObserved publishes the aggregate fleet view.
func (m *Metrics) FleetHealthObserved(h api.FleetHealth) {
	m.FleetHealthRatio.Set(h.Ratio)
	counts := map[api.WorkerState]int{
		api.StatePending:   h.Pending,
		api.StateStarting:  h.Starting,
		api.StateRunning:   h.Running,
		api.StateUnhealthy: h.Unhealthy,
		api.StateCrashed:   h.Crashed,
		api.StateStopped:   h.Stopped,
	}
	for state, n := range counts {
		m.FleetWorkers.WithLabelValues(string(state)).Set(float64(n))
	}
}

// AttemptCompleted records one forwarding attempt.
func (m *Metrics) AttemptCompleted(worker string, kind api.ErrorKind, duration time.Duration) {
	m.AttemptsTotal.WithLabelValues(worker, outcome(kind)).Inc()
	m.AttemptDuration.WithLabelValues(worker).Observe(duration.Seconds())
}

// InvocationCompleted records one routed invocation.
func (m *Metrics) InvocationCompleted(target string, kind api.ErrorKind, attempts int, duration time.Duration) {
	m.InvocationsTotal.WithLabelValues(target, outcome(kind)).Inc()
	m.InvocationDuration.WithLabelValues(target).Observe(duration.Seconds())
}

// RateLimited counts a denied request.
func (m *Metrics) RateLimited(limiter string) {
	m.RateLimitedTotal.WithLabelValues(limiter).Inc()
}

// ObserveHTTP records one served HTTP request.
func (m *Metrics) ObserveHTTP(method, route string, status int, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
