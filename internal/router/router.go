// Package router resolves invocation targets to running workers and
// forwards tool calls to them.
//
// A target is first looked up as a worker name and then as a category. Named
// workers must be Running; category targets are balanced across the Running
// members of the category. Timeouts and transport failures are retried once
// against a different Running worker of the same category. The router only
// reads lifecycle state; it records request statistics on the handles.
package router

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/singleflight"

	"toolfleet/internal/api"
	"toolfleet/internal/config"
	"toolfleet/internal/fleet"
	"toolfleet/internal/ratelimit"
	"toolfleet/internal/worker"
	"toolfleet/pkg/logging"
)

const tracerName = "toolfleet/router"

// ClientSource hands out clients for workers bound to a port.
type ClientSource interface {
	Get(d config.WorkerDescriptor, port int) (worker.Client, error)
}

// Limiter decides whether a client may issue another request.
type Limiter interface {
	Check(key string) ratelimit.Decision
	Name() string
}

// Observer receives routing outcomes. An empty kind means success.
type Observer interface {
	AttemptCompleted(worker string, kind api.ErrorKind, duration time.Duration)
	InvocationCompleted(target string, kind api.ErrorKind, attempts int, duration time.Duration)
	RateLimited(limiter string)
}

// Config tunes the router.
type Config struct {
	Policy         string
	DefaultTimeout time.Duration
	MaxTimeout     time.Duration
	RetryOnFailure bool
}

// ConfigFrom converts the configuration file section.
func ConfigFrom(cfg config.RouterConfig) Config {
	return Config{
		Policy:         cfg.Policy,
		DefaultTimeout: cfg.DefaultTimeout,
		MaxTimeout:     cfg.MaxTimeout,
		RetryOnFailure: cfg.RetryOnFailure,
	}
}

// Option customizes a Router.
type Option func(*Router)

// WithLimiter enables rate limiting by client key.
func WithLimiter(l Limiter) Option {
	return func(r *Router) {
		r.limiter = l
	}
}

// WithTracerProvider sets the provider used for request spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(r *Router) {
		r.tracer = tp.Tracer(tracerName)
	}
}

// WithObserver registers an observer.
func WithObserver(o Observer) Option {
	return func(r *Router) {
		r.observer = o
	}
}

// Router is the request router.
type Router struct {
	cfg      Config
	registry *fleet.Registry
	clients  ClientSource
	balancer Balancer
	limiter  Limiter
	tracer   trace.Tracer
	observer Observer

	tools singleflight.Group
}

// New creates a router over registry.
func New(cfg Config, registry *fleet.Registry, clients ClientSource, opts ...Option) (*Router, error) {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = config.DefaultRouterTimeout
	}
	if cfg.MaxTimeout <= 0 {
		cfg.MaxTimeout = config.DefaultRouterMaxTimeout
	}
	balancer, err := NewBalancer(cfg.Policy)
	if err != nil {
		return nil, err
	}

	r := &Router{
		cfg:      cfg,
		registry: registry,
		clients:  clients,
		balancer: balancer,
		tracer:   noop.NewTracerProvider().Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// target is a resolved invocation target.
type target struct {
	category string
	// named is set when the target was a worker name.
	named *fleet.Handle
}

// resolve looks the target up as a worker name, then as a category.
func (r *Router) resolve(name string) (target, error) {
	if h, ok := r.registry.Get(name); ok {
		if h.State() != api.StateRunning {
			return target{}, api.NewError(api.ErrorKindNoHealthyWorker,
				"worker %s is %s", name, h.State())
		}
		return target{category: h.Category(), named: h}, nil
	}
	if r.registry.HasCategory(name) {
		return target{category: name}, nil
	}
	return target{}, api.NewError(api.ErrorKindUnknownWorker, "no worker or category named %q", name)
}

// running returns the Running handles of a category in registration order,
// leaving out exclude.
func (r *Router) running(category string, exclude *fleet.Handle) []*fleet.Handle {
	var out []*fleet.Handle
	for _, h := range r.registry.ListByCategory(category) {
		if h != exclude && h.State() == api.StateRunning {
			out = append(out, h)
		}
	}
	return out
}

func (r *Router) timeoutFor(ms int) time.Duration {
	if ms <= 0 {
		return r.cfg.DefaultTimeout
	}
	d := time.Duration(ms) * time.Millisecond
	if d > r.cfg.MaxTimeout {
		return r.cfg.MaxTimeout
	}
	return d
}

// Route serves one invocation. Failures are reported in the response, never
// as a Go error.
//
// The caller's key is checked against the rate limiter before anything else.
// A worker name must resolve to a Running worker; a category is balanced over
// its Running workers with the configured policy. On UpstreamTimeout or
// UpstreamError the call is retried once on another Running worker of the
// same category when retries are enabled.
//
// Args:
//   - ctx: the caller's context; cancelling it aborts the call without a retry
//   - req: target, tool, arguments and an optional per-attempt timeout
//
// Returns an InvocationResponse carrying either the tool result or an error
// kind and message, plus the request ID, the serving worker and the number of
// attempts. RetryAfterSeconds is set for RateLimited responses.
func (r *Router) Route(ctx context.Context, req api.InvocationRequest) api.InvocationResponse {
	started := time.Now()
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	ctx, span := r.tracer.Start(ctx, "router.route",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("toolfleet.request_id", req.RequestID),
			attribute.String("toolfleet.target", req.Target),
			attribute.String("toolfleet.tool", req.Tool),
		),
	)
	defer span.End()

	result, used, attempts, err := r.route(ctx, &req)

	resp := api.InvocationResponse{
		Metadata: api.InvocationMetadata{
			RequestID:  req.RequestID,
			DurationMs: time.Since(started).Milliseconds(),
			Attempts:   attempts,
		},
	}
	if used != nil {
		resp.Metadata.WorkerName = used.Name()
		span.SetAttributes(attribute.String("toolfleet.worker", used.Name()))
	}
	span.SetAttributes(attribute.Int("toolfleet.attempts", attempts))

	var kind api.ErrorKind
	if err != nil {
		kind = api.KindOf(err)
		resp.ErrorKind = kind
		resp.ErrorMessage = err.Error()
		var apiErr *api.Error
		if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
			resp.RetryAfterSeconds = retryAfterSeconds(apiErr.RetryAfter)
		}
		span.SetStatus(codes.Error, string(kind))
		span.SetAttributes(attribute.String("toolfleet.error_kind", string(kind)))
		logging.Debug("Router", "Request %s to %s/%s failed: %v", req.RequestID, req.Target, req.Tool, err)
	} else {
		resp.Success = true
		resp.Result = result
		span.SetStatus(codes.Ok, "")
	}

	if r.observer != nil {
		r.observer.InvocationCompleted(req.Target, kind, attempts, time.Since(started))
	}
	return resp
}

func retryAfterSeconds(d time.Duration) int {
	s := int((d + time.Second - 1) / time.Second)
	if s < 1 {
		s = 1
	}
	return s
}

func (r *Router) route(ctx context.Context, req *api.InvocationRequest) ([]byte, *fleet.Handle, int, error) {
	if req.Target == "" || req.Tool == "" {
		return nil, nil, 0, api.NewError(api.ErrorKindInvalidRequest, "target worker and tool name are required")
	}

	if r.limiter != nil {
		if d := r.limiter.Check(req.ClientKey); !d.Allowed {
			if r.observer != nil {
				r.observer.RateLimited(r.limiter.Name())
			}
			return nil, nil, 0, api.NewRateLimitedError(d.RetryAfter, "rate limit exceeded for %s", req.ClientKey)
		}
	}

	t, err := r.resolve(req.Target)
	if err != nil {
		return nil, nil, 0, err
	}

	first := t.named
	if first == nil {
		first = r.balancer.Pick(t.category, r.running(t.category, nil))
		if first == nil {
			return nil, nil, 0, api.NewError(api.ErrorKindNoHealthyWorker,
				"no running worker in category %q", t.category)
		}
	}

	timeout := r.timeoutFor(req.TimeoutMs)
	result, err := r.attempt(ctx, first, req, timeout, 1)
	if err == nil || !r.retryable(ctx, err) {
		return result, first, 1, err
	}

	alternates := r.running(t.category, first)
	if len(alternates) == 0 {
		return result, first, 1, err
	}
	second := r.balancer.Pick(t.category, alternates)
	logging.Debug("Router", "Request %s: retrying on %s after %s failed: %v", req.RequestID, second.Name(), first.Name(), err)

	result, err = r.attempt(ctx, second, req, timeout, 2)
	return result, second, 2, err
}

func (r *Router) retryable(ctx context.Context, err error) bool {
	if !r.cfg.RetryOnFailure || ctx.Err() != nil {
		return false
	}
	switch api.KindOf(err) {
	case api.ErrorKindUpstreamTimeout, api.ErrorKindUpstreamError:
		return true
	default:
		return false
	}
}

// attempt forwards the call to one worker and records its outcome.
func (r *Router) attempt(ctx context.Context, h *fleet.Handle, req *api.InvocationRequest, timeout time.Duration, n int) ([]byte, error) {
	ctx, span := r.tracer.Start(ctx, "router.attempt",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("toolfleet.worker", h.Name()),
			attribute.Int("toolfleet.attempt", n),
		),
	)
	defer span.End()

	started := time.Now()
	result, err := r.forward(ctx, h, req, timeout)
	elapsed := time.Since(started)

	h.Stats().Record(err == nil, elapsed)

	kind := api.ErrorKind("")
	if err != nil {
		kind = api.KindOf(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, string(kind))
	}
	if r.observer != nil {
		r.observer.AttemptCompleted(h.Name(), kind, elapsed)
	}
	return result, err
}

func (r *Router) forward(ctx context.Context, h *fleet.Handle, req *api.InvocationRequest, timeout time.Duration) ([]byte, error) {
	port, running := h.Endpoint()
	if !running {
		return nil, api.NewError(api.ErrorKindUpstreamError, "worker %s stopped running", h.Name())
	}

	client, err := r.clients.Get(h.Descriptor(), port)
	if err != nil {
		return nil, api.WrapError(api.ErrorKindUpstreamError, err, "worker %s unavailable", h.Name())
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res, err := client.CallTool(callCtx, req.Tool, req.Arguments)
	switch {
	case err == nil && res.Success:
		return res.Result, nil
	case err == nil:
		return nil, api.NewError(api.ErrorKindToolError, "%s", toolErrorMessage(req.Tool, res.Error))
	case errors.Is(err, worker.ErrUnknownTool):
		return nil, api.WrapError(api.ErrorKindUnknownTool, err, "worker %s has no tool %q", h.Name(), req.Tool)
	case ctx.Err() != nil:
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, api.WrapError(api.ErrorKindUpstreamTimeout, ctx.Err(), "request deadline exceeded")
		}
		return nil, api.WrapError(api.ErrorKindInternal, ctx.Err(), "request cancelled by caller")
	case errors.Is(callCtx.Err(), context.DeadlineExceeded):
		return nil, api.WrapError(api.ErrorKindUpstreamTimeout, err,
			"worker %s did not answer within %s", h.Name(), timeout)
	default:
		return nil, api.WrapError(api.ErrorKindUpstreamError, err, "calling worker %s", h.Name())
	}
}

func toolErrorMessage(tool, msg string) string {
	if msg == "" {
		return fmt.Sprintf("tool %s failed", tool)
	}
	return msg
}

// ListTools returns the tools of a named worker or of the first Running
// worker of a category. Concurrent calls for the same target share one
// upstream request.
func (r *Router) ListTools(ctx context.Context, targetName string) (api.ToolList, error) {
	v, err, _ := r.tools.Do(targetName, func() (interface{}, error) {
		return r.listTools(ctx, targetName)
	})
	if err != nil {
		return api.ToolList{}, err
	}
	return v.(api.ToolList), nil
}

func (r *Router) listTools(ctx context.Context, targetName string) (api.ToolList, error) {
	t, err := r.resolve(targetName)
	if err != nil {
		return api.ToolList{}, err
	}

	h := t.named
	if h == nil {
		running := r.running(t.category, nil)
		if len(running) == 0 {
			return api.ToolList{}, api.NewError(api.ErrorKindNoHealthyWorker,
				"no running worker in category %q", t.category)
		}
		h = running[0]
	}

	ctx, span := r.tracer.Start(ctx, "router.list_tools",
		trace.WithAttributes(attribute.String("toolfleet.worker", h.Name())))
	defer span.End()

	port, running := h.Endpoint()
	if !running {
		return api.ToolList{}, api.NewError(api.ErrorKindNoHealthyWorker, "worker %s stopped running", h.Name())
	}
	client, err := r.clients.Get(h.Descriptor(), port)
	if err != nil {
		return api.ToolList{}, api.WrapError(api.ErrorKindUpstreamError, err, "worker %s unavailable", h.Name())
	}

	callCtx, cancel := context.WithTimeout(ctx, r.cfg.DefaultTimeout)
	defer cancel()

	tools, err := client.ListTools(callCtx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list tools failed")
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return api.ToolList{}, api.WrapError(api.ErrorKindUpstreamTimeout, err, "listing tools of %s", h.Name())
		}
		return api.ToolList{}, api.WrapError(api.ErrorKindUpstreamError, err, "listing tools of %s", h.Name())
	}
	if tools == nil {
		tools = []api.ToolInfo{}
	}
	return api.ToolList{Worker: h.Name(), Tools: tools}, nil
}
