package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"toolfleet/internal/api"
)

func newTestMetrics() *Metrics {
	return NewWithRegistry(prometheus.NewRegistry())
}

func TestWorkerStateChanged(t *testing.T) {
	m := newTestMetrics()

	m.WorkerStateChanged("alpha", api.StatePending, api.StateStarting)
	m.WorkerStateChanged("alpha", api.StateStarting, api.StateRunning)

	assert.Equal(t, 0.0, testutil.ToFloat64(m.WorkerState.WithLabelValues("alpha", "Starting")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WorkerState.WithLabelValues("alpha", "Running")))
}

func TestRoutingCounters(t *testing.T) {
	m := newTestMetrics()

	m.AttemptCompleted("db-1", "", 10*time.Millisecond)
	m.AttemptCompleted("db-1", api.ErrorKindUpstreamTimeout, time.Second)
	m.InvocationCompleted("db", "", 2, time.Second)
	m.InvocationCompleted("db", api.ErrorKindNoHealthyWorker, 0, time.Millisecond)
	m.RateLimited("invoke")
	m.RateLimited("invoke")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.AttemptsTotal.WithLabelValues("db-1", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AttemptsTotal.WithLabelValues("db-1", "UpstreamTimeout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.InvocationsTotal.WithLabelValues("db", "NoHealthyWorker")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.RateLimitedTotal.WithLabelValues("invoke")))
}

func TestHealthObservers(t *testing.T) {
	m := newTestMetrics()

	m.ProbeCompleted("alpha", nil, time.Millisecond)
	m.ProbeCompleted("alpha", errors.New("refused"), time.Millisecond)
	m.WorkerRestarted("alpha")
	m.FleetHealthObserved(api.FleetHealth{Ratio: 0.5, Running: 1, Unhealthy: 1, Stopped: 2})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ProbesTotal.WithLabelValues("alpha", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WorkerRestartsTotal.WithLabelValues("alpha")))
	assert.Equal(t, 0.5, testutil.ToFloat64(m.FleetHealthRatio))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.FleetWorkers.WithLabelValues("Stopped")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.FleetWorkers.WithLabelValues("Crashed")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.ObserveHTTP(http.MethodPost, "/invoke/{target}/{tool}", http.StatusOK, 20*time.Millisecond)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `toolfleet_http_requests_total{method="POST",route="/invoke/{target}/{tool}",status="200"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
