package worker

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"toolfleet/internal/config"
)

// Factory builds a client for a worker listening on host:port.
type Factory func(d config.WorkerDescriptor, host string, port int) (Client, error)

type pooledClient struct {
	port   int
	client Client
}

// Pool caches one client per worker. A worker that comes back on a different
// port gets a fresh client.
type Pool struct {
	host    string
	factory Factory

	mu      sync.Mutex
	clients map[string]*pooledClient
}

// ClientVersion is reported to MCP workers during initialization.
var ClientVersion = "dev"

// NewPool creates a pool using the default factory for both protocols.
func NewPool(host string) *Pool {
	httpClient := &http.Client{
		Transport: &http.Transport{
			Proxy:               nil,
			MaxIdleConns:        256,
			MaxIdleConnsPerHost: 32,
			IdleConnTimeout:     90 * time.Second,
			DialContext: (&net.Dialer{
				Timeout:   5 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
		},
	}
	return NewPoolWithFactory(host, DefaultFactory(httpClient))
}

// NewPoolWithFactory creates a pool with a custom factory.
func NewPoolWithFactory(host string, factory Factory) *Pool {
	return &Pool{
		host:    host,
		factory: factory,
		clients: make(map[string]*pooledClient),
	}
}

// DefaultFactory builds HTTP or MCP clients depending on the descriptor protocol.
func DefaultFactory(httpClient *http.Client) Factory {
	return func(d config.WorkerDescriptor, host string, port int) (Client, error) {
		base := "http://" + net.JoinHostPort(host, strconv.Itoa(port))
		switch d.Protocol {
		case config.ProtocolHTTP, "":
			return NewHTTPClient(base, d.HealthPath, d.InvokePath, d.ToolsPath, httpClient), nil
		case config.ProtocolMCP:
			return NewMCPClient(base+d.MCPPath, "toolfleet", ClientVersion), nil
		default:
			return nil, fmt.Errorf("unsupported worker protocol %q", d.Protocol)
		}
	}
}

// Get returns the client for the worker bound to port.
func (p *Pool) Get(d config.WorkerDescriptor, port int) (Client, error) {
	if port == 0 {
		return nil, fmt.Errorf("worker %s has no bound port", d.Name)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if existing, ok := p.clients[d.Name]; ok {
		if existing.port == port {
			return existing.client, nil
		}
		_ = existing.client.Close()
		delete(p.clients, d.Name)
	}

	c, err := p.factory(d, p.host, port)
	if err != nil {
		return nil, err
	}
	p.clients[d.Name] = &pooledClient{port: port, client: c}
	return c, nil
}

// Probe runs the worker's liveness check.
func (p *Pool) Probe(ctx context.Context, d config.WorkerDescriptor, port int) error {
	c, err := p.Get(d, port)
	if err != nil {
		return err
	}
	return c.Health(ctx)
}

// Forget closes and drops the client for a worker.
func (p *Pool) Forget(name string) {
	p.mu.Lock()
	existing, ok := p.clients[name]
	delete(p.clients, name)
	p.mu.Unlock()

	if ok {
		_ = existing.client.Close()
	}
}

// Close closes every client.
func (p *Pool) Close() {
	p.mu.Lock()
	clients := p.clients
	p.clients = make(map[string]*pooledClient)
	p.mu.Unlock()

	for _, c := range clients {
		_ = c.client.Close()
	}
}
