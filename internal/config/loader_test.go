package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestLoadConfig_DefaultsWhenMissing(t *testing.T) {
	dir := t.TempDir()

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, GetDefaultConfig().Server, cfg.Server)
	assert.Equal(t, 50, cfg.Ports.MaxAttempts)
	assert.Equal(t, 10*time.Second, cfg.Health.Interval)
	assert.Equal(t, 5*time.Second, cfg.Supervisor.StartupGrace)
	assert.Equal(t, 3, cfg.Supervisor.UnhealthyThreshold)
	assert.Equal(t, 5, cfg.Supervisor.CrashLoopMaxRestarts)
	assert.Equal(t, time.Minute, cfg.Supervisor.CrashLoopWindow)
	assert.Empty(t, cfg.Workers)
}

func TestLoadConfig_OverridesAndWorkerOrder(t *testing.T) {
	dir := t.TempDir()

	writeFile(t, filepath.Join(dir, "config.yaml"), `
server:
  port: 9999
health:
  interval: 3s
  timeout: 1s
rateLimits:
  admin:
    enabled: true
    maxRequests: 2
    window: 1s
workers:
  - name: inline-b
    category: db
    command: /bin/true
  - name: inline-a
    category: db
    command: /bin/true
    port: 9100
`)
	writeFile(t, filepath.Join(dir, "workers", "20-second.yaml"), `
name: file-second
category: search
command: /bin/true
protocol: mcp
`)
	writeFile(t, filepath.Join(dir, "workers", "10-first.yml"), `
name: file-first
category: search
command: /bin/true
`)
	writeFile(t, filepath.Join(dir, "workers", "README.md"), "ignored")

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, DefaultServerHost, cfg.Server.Host)
	assert.Equal(t, 3*time.Second, cfg.Health.Interval)
	assert.Equal(t, 2, cfg.RateLimits.Admin.MaxRequests)
	assert.Equal(t, 100, cfg.RateLimits.Invoke.MaxRequests)

	var names []string
	for _, w := range cfg.Workers {
		names = append(names, w.Name)
	}
	assert.Equal(t, []string{"inline-b", "inline-a", "file-first", "file-second"}, names)

	assert.Equal(t, ProtocolHTTP, cfg.Workers[0].Protocol)
	assert.Equal(t, DefaultHealthPath, cfg.Workers[0].HealthPath)
	assert.Equal(t, ProtocolMCP, cfg.Workers[3].Protocol)
	assert.Equal(t, filepath.Join(dir, "workers", "10-first.yml"), cfg.Workers[2].Source)
}

func TestLoadConfig_MalformedDescriptorAbortsStartup(t *testing.T) {
	tests := []struct {
		name     string
		files    map[string]string
		contains string
	}{
		{
			name: "missing command",
			files: map[string]string{
				"config.yaml": "workers:\n  - name: a\n    category: db\n",
			},
			contains: "command",
		},
		{
			name: "duplicate names across files",
			files: map[string]string{
				"config.yaml":    "workers:\n  - name: a\n    category: db\n    command: x\n",
				"workers/a.yaml": "name: a\ncategory: db\ncommand: y\n",
			},
			contains: "duplicate worker name",
		},
		{
			name: "unknown field",
			files: map[string]string{
				"workers/a.yaml": "name: a\ncategory: db\ncommand: y\nbogus: 1\n",
			},
			contains: "a.yaml",
		},
		{
			name: "probe timeout not shorter than interval",
			files: map[string]string{
				"config.yaml": "health:\n  interval: 1s\n  timeout: 1s\n",
			},
			contains: "health.timeout",
		},
		{
			name: "invalid protocol",
			files: map[string]string{
				"workers/a.yaml": "name: a\ncategory: db\ncommand: y\nprotocol: grpc\n",
			},
			contains: "protocol",
		},
		{
			name: "port out of range",
			files: map[string]string{
				"workers/a.yaml": "name: a\ncategory: db\ncommand: y\nport: 70000\n",
			},
			contains: "port",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			for name, content := range tt.files {
				writeFile(t, filepath.Join(dir, name), content)
			}

			_, err := LoadConfig(dir)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.contains)
		})
	}
}

func TestLoadWorkerDescriptors_CollectsAllFileErrors(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.yaml"), "name: [")
	writeFile(t, filepath.Join(dir, "b.yaml"), "name: b\nnope: true\n")
	writeFile(t, filepath.Join(dir, "c.yaml"), "name: c\ncategory: x\ncommand: y\n")

	_, err := LoadWorkerDescriptors(dir)
	require.Error(t, err)

	var collection *ConfigurationErrorCollection
	require.ErrorAs(t, err, &collection)
	assert.Equal(t, 2, collection.Count())
	assert.Equal(t, ErrorTypeParse, collection.Errors[0].ErrorType)
	assert.Contains(t, collection.GetDetailedReport(), "b.yaml")
}

func TestLoadWorkerDescriptors_MissingDirectory(t *testing.T) {
	descriptors, err := LoadWorkerDescriptors(filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)
	assert.Empty(t, descriptors)
}
