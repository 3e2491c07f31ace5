package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"toolfleet/internal/api"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newServer(t *testing.T, mux *http.ServeMux) *Client {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return New(srv.URL+"/", WithAPIKey("secret"))
}

func TestClient_Health(t *testing.T) {
	mux := http.NewServeMux()
	status := http.StatusOK
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		fs := api.FleetHealthy
		if status != http.StatusOK {
			fs = api.FleetUnavailable
		}
		writeJSON(w, status, api.FleetHealth{Status: fs, Total: 2})
	})
	c := newServer(t, mux)

	fh, err := c.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, api.FleetHealthy, fh.Status)

	status = http.StatusServiceUnavailable
	fh, err = c.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, api.FleetUnavailable, fh.Status)
	assert.Equal(t, 2, fh.Total)
}

func TestClient_SendsBearerToken(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /servers", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			writeJSON(w, http.StatusUnauthorized, api.ErrorBody{ErrorKind: api.ErrorKindUnauthorized, ErrorMessage: "no"})
			return
		}
		writeJSON(w, http.StatusOK, []api.WorkerInfo{{Name: "search-1", State: api.StateRunning}})
	})
	c := newServer(t, mux)

	infos, err := c.ListServers(context.Background())
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "search-1", infos[0].Name)

	anon := New(c.Endpoint())
	_, err = anon.ListServers(context.Background())
	require.Error(t, err)
	assert.True(t, api.IsKind(err, api.ErrorKindUnauthorized))
}

func TestClient_GetServerAndTools(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /servers/{name}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("name") != "search-1" {
			writeJSON(w, http.StatusNotFound, api.ErrorBody{ErrorKind: api.ErrorKindUnknownWorker, ErrorMessage: "unknown worker"})
			return
		}
		writeJSON(w, http.StatusOK, api.WorkerDetail{
			WorkerInfo:   api.WorkerInfo{Name: "search-1"},
			RecentOutput: []string{"ready"},
		})
	})
	mux.HandleFunc("GET /servers/{name}/tools", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, api.ToolList{Worker: r.PathValue("name"), Tools: []api.ToolInfo{{Name: "lookup"}}})
	})
	c := newServer(t, mux)

	detail, err := c.GetServer(context.Background(), "search-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"ready"}, detail.RecentOutput)

	_, err = c.GetServer(context.Background(), "ghost")
	assert.True(t, api.IsKind(err, api.ErrorKindUnknownWorker))

	list, err := c.ListTools(context.Background(), "search")
	require.NoError(t, err)
	assert.Equal(t, "search", list.Worker)
	assert.Len(t, list.Tools, 1)
}

func TestClient_Invoke(t *testing.T) {
	var gotBody string
	var gotTimeout string
	mux := http.NewServeMux()
	mux.HandleFunc("POST /invoke/{target}/{tool}", func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		gotBody = string(data)
		gotTimeout = r.URL.Query().Get("timeoutMs")

		switch r.PathValue("tool") {
		case "lookup":
			writeJSON(w, http.StatusOK, api.InvocationResponse{
				Success:  true,
				Result:   json.RawMessage(`"ok"`),
				Metadata: api.InvocationMetadata{WorkerName: "search-1", Attempts: 1},
			})
		case "busy":
			w.Header().Set("Retry-After", "30")
			writeJSON(w, http.StatusTooManyRequests, api.InvocationResponse{
				ErrorKind:    api.ErrorKindRateLimited,
				ErrorMessage: "rate limit exceeded",
			})
		default:
			w.WriteHeader(http.StatusBadGateway)
		}
	})
	c := newServer(t, mux)

	resp, err := c.Invoke(context.Background(), "search", "lookup", nil, 1500*time.Millisecond)
	require.NoError(t, err)
	assert.JSONEq(t, `"ok"`, string(resp.Result))
	assert.Equal(t, "{}", gotBody)
	assert.Equal(t, "1500", gotTimeout)

	resp, err = c.Invoke(context.Background(), "search", "busy", json.RawMessage(`{"q":1}`), 0)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, `{"q":1}`, gotBody)
	assert.Empty(t, gotTimeout)
	assert.Equal(t, 30, resp.RetryAfterSeconds)

	var apiErr *api.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, api.ErrorKindRateLimited, apiErr.Kind)
	assert.Equal(t, 30*time.Second, apiErr.RetryAfter)

	resp, err = c.Invoke(context.Background(), "search", "broken", nil, 0)
	assert.Nil(t, resp)
	assert.True(t, api.IsKind(err, api.ErrorKindUpstreamError))
}

func TestClient_Actions(t *testing.T) {
	var calls []string
	mux := http.NewServeMux()
	mux.HandleFunc("POST /servers/{name}/{action}", func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.PathValue("action")+":"+r.PathValue("name"))
		if r.PathValue("name") == "limited" {
			writeJSON(w, http.StatusTooManyRequests, api.ErrorBody{
				ErrorKind:         api.ErrorKindRateLimited,
				ErrorMessage:      "admin rate limit exceeded",
				RetryAfterSeconds: 45,
			})
			return
		}
		writeJSON(w, http.StatusOK, api.ActionResult{Worker: r.PathValue("name"), Action: r.PathValue("action"), State: api.StateStarting})
	})
	c := newServer(t, mux)

	res, err := c.Start(context.Background(), "search-1")
	require.NoError(t, err)
	assert.Equal(t, api.StateStarting, res.State)
	_, err = c.Stop(context.Background(), "search-1")
	require.NoError(t, err)
	_, err = c.Restart(context.Background(), "search-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"start:search-1", "stop:search-1", "restart:search-1"}, calls)

	_, err = c.Restart(context.Background(), "limited")
	var apiErr *api.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 45*time.Second, apiErr.RetryAfter)
}

func TestClient_PlainErrorBodyUsesStatus(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /servers", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream gone", http.StatusServiceUnavailable)
	})
	c := newServer(t, mux)

	_, err := c.ListServers(context.Background())
	require.Error(t, err)
	assert.True(t, api.IsKind(err, api.ErrorKindNoHealthyWorker))
	assert.Equal(t, "upstream gone", err.Error())
}

func TestClient_ConnectionError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	endpoint := srv.URL
	srv.Close()

	c := New(endpoint, WithTimeout(time.Second))
	_, err := c.Health(context.Background())

	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, endpoint, connErr.Endpoint)
}
