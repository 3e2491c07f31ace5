package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"toolfleet/internal/api"
	"toolfleet/internal/config"
	"toolfleet/internal/fleet"
	"toolfleet/internal/ratelimit"
	"toolfleet/pkg/logging"
)

// Fleet performs lifecycle actions on workers.
type Fleet interface {
	StartWorker(ctx context.Context, name string) error
	Stop(ctx context.Context, name string) error
	Restart(ctx context.Context, name string) error
	RecentOutput(name string) ([]string, error)
}

// Invoker routes tool calls.
type Invoker interface {
	Route(ctx context.Context, req api.InvocationRequest) api.InvocationResponse
	ListTools(ctx context.Context, target string) (api.ToolList, error)
}

// HealthSource reports aggregate fleet health.
type HealthSource interface {
	Aggregate() api.FleetHealth
}

// Limiter guards the admin routes.
type Limiter interface {
	Check(key string) ratelimit.Decision
	Name() string
}

// Metrics is the part of the metrics module the server uses.
type Metrics interface {
	Handler() http.Handler
	ObserveHTTP(method, route string, status int, duration time.Duration)
	RateLimited(limiter string)
}

// Deps are the collaborators of the server.
type Deps struct {
	Registry     *fleet.Registry
	Fleet        Fleet
	Invoker      Invoker
	Health       HealthSource
	AdminLimiter Limiter
	// Metrics is optional.
	Metrics Metrics
}

// Server is the HTTP front of the fleet.
type Server struct {
	cfg     config.ServerConfig
	deps    Deps
	apiKeys map[string]struct{}
	mux     *http.ServeMux
	handler http.Handler

	mu       sync.Mutex
	http     *http.Server
	listener net.Listener
	serveErr chan error
}

// New creates a server. Call Start to begin serving.
func New(cfg config.ServerConfig, deps Deps) *Server {
	s := &Server{
		cfg:     cfg,
		deps:    deps,
		apiKeys: make(map[string]struct{}, len(cfg.APIKeys)),
	}
	for _, k := range cfg.APIKeys {
		s.apiKeys[k] = struct{}{}
	}
	s.handler = s.routes()
	return s
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /servers", s.handleListServers)
	mux.HandleFunc("GET /servers/{name}", s.handleGetServer)
	mux.HandleFunc("GET /servers/{name}/tools", s.handleListTools)
	mux.HandleFunc("POST /servers/{name}/start", s.handleAction(actionStart))
	mux.HandleFunc("POST /servers/{name}/stop", s.handleAction(actionStop))
	mux.HandleFunc("POST /servers/{name}/restart", s.handleAction(actionRestart))
	mux.HandleFunc("POST /invoke/{target}/{tool}", s.handleInvoke)

	if s.cfg.MetricsEnabled && s.deps.Metrics != nil {
		mux.Handle("GET /metrics", s.deps.Metrics.Handler())
	}

	s.mux = mux
	var h http.Handler = mux
	h = s.authenticate(h)
	h = s.observe(h)
	h = requestID(h)
	return h
}

// Start binds the listen address and serves in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.http != nil {
		return fmt.Errorf("server already started")
	}

	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.listener = ln
	s.serveErr = make(chan error, 1)
	s.http = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func(srv *http.Server, errCh chan<- error) {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("Server", err, "Routing API stopped unexpectedly")
			errCh <- err
		}
		close(errCh)
	}(s.http, s.serveErr)

	logging.Info("Server", "Routing API listening on %s", ln.Addr())
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Errors reports a fatal serve error. The channel is closed on shutdown.
func (s *Server) Errors() <-chan error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serveErr
}

// Shutdown stops accepting requests and waits for in-flight ones, bounded
// by the configured shutdown timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.http
	s.mu.Unlock()

	if srv == nil {
		return nil
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = config.DefaultShutdownTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		_ = srv.Close()
		return fmt.Errorf("routing API shutdown: %w", err)
	}
	logging.Info("Server", "Routing API stopped")
	return nil
}
