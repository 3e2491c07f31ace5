package supervisor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"toolfleet/internal/config"
)

func TestRestartDelay(t *testing.T) {
	base := time.Second
	maxDelay := 60 * time.Second

	expected := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		32 * time.Second,
		60 * time.Second,
		60 * time.Second,
	}
	for count, want := range expected {
		assert.Equal(t, want, restartDelay(base, maxDelay, count), "restartCount=%d", count)
	}
	assert.Equal(t, maxDelay, restartDelay(base, maxDelay, 1000))
	assert.Zero(t, restartDelay(0, maxDelay, 3))
}

func TestPruneWindow(t *testing.T) {
	now := time.Now()
	history := []time.Time{
		now.Add(-90 * time.Second),
		now.Add(-61 * time.Second),
		now.Add(-30 * time.Second),
		now.Add(-time.Second),
	}

	pruned := pruneWindow(history, now, time.Minute)
	assert.Equal(t, history[2:], pruned)
	assert.Empty(t, pruneWindow(history, now.Add(time.Hour), time.Minute))
}

func TestOutputBuffer(t *testing.T) {
	t.Run("keeps insertion order below capacity", func(t *testing.T) {
		b := NewOutputBuffer(3)
		b.Add("a")
		b.Add("b")
		assert.Equal(t, []string{"a", "b"}, b.Lines())
	})

	t.Run("evicts oldest lines when full", func(t *testing.T) {
		b := NewOutputBuffer(3)
		for _, l := range []string{"a", "b", "c", "d", "e"} {
			b.Add(l)
		}
		assert.Equal(t, []string{"c", "d", "e"}, b.Lines())
	})
}

func TestLineWriter(t *testing.T) {
	var lines []string
	w := newLineWriter(func(line string) {
		lines = append(lines, line)
	})

	_, err := w.Write([]byte("first\r\nsec"))
	require.NoError(t, err)
	_, err = w.Write([]byte("ond\nthird"))
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, lines)

	w.Flush()
	assert.Equal(t, []string{"first", "second", "third"}, lines)
}

func TestRenderLaunchSpec(t *testing.T) {
	d := config.WorkerDescriptor{
		Name:       "search-1",
		Category:   "search",
		Command:    "python3",
		Args:       []string{"server.py", "--bind", "{{ .Host }}:{{ .Port }}", "--id={{ .Name | upper }}"},
		WorkingDir: "/srv/{{ .Category }}",
		Env: map[string]string{
			"SERVICE_URL": "http://{{ .Host }}:{{ .Port }}",
			"PLAIN":       "value",
		},
	}

	spec, err := renderLaunchSpec(d, "127.0.0.1", 20001)
	require.NoError(t, err)

	assert.Equal(t, "python3", spec.Command)
	assert.Equal(t, []string{"server.py", "--bind", "127.0.0.1:20001", "--id=SEARCH-1"}, spec.Args)
	assert.Equal(t, "/srv/search", spec.Dir)
	assert.Contains(t, spec.Env, "SERVICE_URL=http://127.0.0.1:20001")
	assert.Contains(t, spec.Env, "PLAIN=value")
	assert.Contains(t, spec.Env, EnvWorkerPort+"=20001")
	assert.Contains(t, spec.Env, EnvPort+"=20001")
}

func TestRenderLaunchSpec_Errors(t *testing.T) {
	t.Run("unknown field", func(t *testing.T) {
		d := config.WorkerDescriptor{Name: "w", Command: "x", Args: []string{"{{ .Missing }}"}}
		_, err := renderLaunchSpec(d, "127.0.0.1", 1)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "args[0]")
	})

	t.Run("malformed template", func(t *testing.T) {
		d := config.WorkerDescriptor{Name: "w", Command: "x", Env: map[string]string{"A": "{{ .Port "}}
		_, err := renderLaunchSpec(d, "127.0.0.1", 1)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "env.A")
	})
}
