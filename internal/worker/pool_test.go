package worker

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"toolfleet/internal/api"
	"toolfleet/internal/config"
)

type countingClient struct {
	mu     sync.Mutex
	port   int
	closed bool
}

func (c *countingClient) Health(ctx context.Context) error                      { return nil }
func (c *countingClient) ListTools(ctx context.Context) ([]api.ToolInfo, error) { return nil, nil }
func (c *countingClient) CallTool(ctx context.Context, tool string, args json.RawMessage) (*CallResult, error) {
	return &CallResult{Success: true}, nil
}
func (c *countingClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func TestPool_ReusesAndReplacesOnPortChange(t *testing.T) {
	var created []*countingClient
	pool := NewPoolWithFactory("127.0.0.1", func(d config.WorkerDescriptor, host string, port int) (Client, error) {
		c := &countingClient{port: port}
		created = append(created, c)
		return c, nil
	})

	d := config.WorkerDescriptor{Name: "alpha"}.WithDefaults()

	c1, err := pool.Get(d, 9100)
	require.NoError(t, err)
	c2, err := pool.Get(d, 9100)
	require.NoError(t, err)
	assert.Same(t, c1, c2)

	c3, err := pool.Get(d, 9101)
	require.NoError(t, err)
	assert.NotSame(t, c1, c3)
	assert.True(t, created[0].closed)

	pool.Forget("alpha")
	assert.True(t, created[1].closed)

	_, err = pool.Get(d, 0)
	assert.Error(t, err)
}

func TestDefaultFactory_SelectsProtocol(t *testing.T) {
	f := DefaultFactory(nil)

	c, err := f(config.WorkerDescriptor{Name: "a"}.WithDefaults(), "127.0.0.1", 9000)
	require.NoError(t, err)
	assert.IsType(t, &HTTPClient{}, c)

	c, err = f(config.WorkerDescriptor{Name: "b", Protocol: config.ProtocolMCP}.WithDefaults(), "127.0.0.1", 9000)
	require.NoError(t, err)
	mcpClient, ok := c.(*MCPClient)
	require.True(t, ok)
	assert.Equal(t, "http://127.0.0.1:9000/mcp", mcpClient.url)

	_, err = f(config.WorkerDescriptor{Name: "c", Protocol: "grpc"}, "127.0.0.1", 9000)
	assert.Error(t, err)
}
