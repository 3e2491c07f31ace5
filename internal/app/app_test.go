package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"toolfleet/internal/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(body), 0o644))
	return dir
}

func TestNewConfig(t *testing.T) {
	cfg := NewConfig(true, "json", "/etc/toolfleet")
	assert.True(t, cfg.Debug)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "/etc/toolfleet", cfg.ConfigPath)
	assert.Nil(t, cfg.FleetConfig)
}

func TestNewApplication_LoadsConfigAndAppliesOverrides(t *testing.T) {
	dir := writeConfig(t, `
server:
  port: 9100
logging:
  level: warn
`)
	cfg := NewConfig(false, "", dir)
	cfg.Silent = true
	cfg.Host = "0.0.0.0"

	application, err := NewApplication(cfg)
	require.NoError(t, err)

	s := application.Services()
	assert.Equal(t, "0.0.0.0", s.Config.Server.Host)
	assert.Equal(t, 9100, s.Config.Server.Port)
	assert.Equal(t, "warn", s.Config.Logging.Level)
	assert.NotNil(t, s.Watcher)
	assert.NotNil(t, s.Router)
	assert.Zero(t, s.Registry.Len())
}

func TestNewApplication_InvalidConfigAborts(t *testing.T) {
	dir := writeConfig(t, `
workers:
  - name: Bad_Name
    category: search
`)
	cfg := NewConfig(false, "", dir)
	cfg.Silent = true

	application, err := NewApplication(cfg)
	require.Error(t, err)
	assert.Nil(t, application)
}

func TestNewApplication_InvalidLogLevel(t *testing.T) {
	fc := config.GetDefaultConfig()
	fc.Logging.Level = "loud"
	cfg := &Config{Silent: true, FleetConfig: &fc}

	_, err := NewApplication(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logging.level")
}

func TestNewApplication_UnknownTraceExporter(t *testing.T) {
	fc := config.GetDefaultConfig()
	fc.Tracing.Exporter = "zipkin"
	cfg := &Config{Silent: true, FleetConfig: &fc}

	_, err := NewApplication(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tracing")
}

func TestApplication_RunServesAndShutsDown(t *testing.T) {
	fc := config.GetDefaultConfig()
	fc.Server.Port = 0
	fc.Server.ShutdownTimeout = time.Second
	fc.Supervisor.StopGrace = 100 * time.Millisecond
	cfg := &Config{Silent: true, FleetConfig: &fc}

	application, err := NewApplication(cfg)
	require.NoError(t, err)
	s := application.Services()
	assert.Nil(t, s.Watcher)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- application.Run(ctx) }()

	require.Eventually(t, func() bool { return s.Server.Addr() != nil }, 5*time.Second, 10*time.Millisecond)

	resp, err := http.Get(fmt.Sprintf("http://%s/health", s.Server.Addr()))
	require.NoError(t, err)
	_ = resp.Body.Close()
	// No workers means nothing is running.
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp, err = http.Get(fmt.Sprintf("http://%s/metrics", s.Server.Addr()))
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestApplication_RunFailsWhenPortTaken(t *testing.T) {
	first := config.GetDefaultConfig()
	first.Server.Port = 0
	a1, err := NewApplication(&Config{Silent: true, FleetConfig: &first})
	require.NoError(t, err)
	require.NoError(t, a1.Services().Server.Start())
	t.Cleanup(func() { _ = a1.Services().Server.Shutdown(context.Background()) })

	_, port, err := splitAddr(a1.Services().Server.Addr().String())
	require.NoError(t, err)

	second := config.GetDefaultConfig()
	second.Server.Port = port
	second.Supervisor.StopGrace = 100 * time.Millisecond
	a2, err := NewApplication(&Config{Silent: true, FleetConfig: &second})
	require.NoError(t, err)

	err = a2.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to start routing API")
}
