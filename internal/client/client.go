package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"toolfleet/internal/api"
)

const (
	// DefaultEndpoint is the routing API address used when none is configured.
	DefaultEndpoint = "http://127.0.0.1:8090"
	// EndpointEnvVar overrides the default endpoint.
	EndpointEnvVar = "TOOLFLEET_ENDPOINT"
	// APIKeyEnvVar supplies the API key.
	APIKeyEnvVar = "TOOLFLEET_API_KEY"

	defaultTimeout = 30 * time.Second
	maxErrorBody   = 4 << 10
)

// Client talks to a running toolfleet server.
type Client struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithAPIKey sends key as a bearer token on every request.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.apiKey = key
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTimeout bounds every request made by the client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient = &http.Client{Timeout: d}
	}
}

// New creates a client for the server at endpoint.
func New(endpoint string, opts ...Option) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	c := &Client{
		endpoint:   strings.TrimRight(endpoint, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Endpoint returns the base URL the client talks to.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Health returns the aggregate fleet health. An unavailable fleet is not an
// error; the server answers 503 with a regular health body.
func (c *Client) Health(ctx context.Context) (api.FleetHealth, error) {
	var fh api.FleetHealth
	resp, err := c.do(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return fh, err
	}
	defer drain(resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusServiceUnavailable {
		return fh, responseError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(&fh); err != nil {
		return fh, fmt.Errorf("decoding health: %w", err)
	}
	return fh, nil
}

// ListServers returns every worker known to the fleet.
func (c *Client) ListServers(ctx context.Context) ([]api.WorkerInfo, error) {
	var infos []api.WorkerInfo
	if err := c.getJSON(ctx, "/servers", &infos); err != nil {
		return nil, err
	}
	return infos, nil
}

// GetServer returns one worker including its recent output.
func (c *Client) GetServer(ctx context.Context, name string) (*api.WorkerDetail, error) {
	var detail api.WorkerDetail
	if err := c.getJSON(ctx, "/servers/"+url.PathEscape(name), &detail); err != nil {
		return nil, err
	}
	return &detail, nil
}

// ListTools returns the tools of a worker or, for a category, of one of its
// running workers.
func (c *Client) ListTools(ctx context.Context, target string) (*api.ToolList, error) {
	var list api.ToolList
	if err := c.getJSON(ctx, "/servers/"+url.PathEscape(target)+"/tools", &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// Invoke calls tool on target. A zero timeout leaves the server default in
// place. The response is returned even when the invocation failed, together
// with its error.
func (c *Client) Invoke(ctx context.Context, target, tool string, args json.RawMessage, timeout time.Duration) (*api.InvocationResponse, error) {
	path := "/invoke/" + url.PathEscape(target) + "/" + url.PathEscape(tool)
	if timeout > 0 {
		path += "?timeoutMs=" + strconv.FormatInt(timeout.Milliseconds(), 10)
	}
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}

	resp, err := c.do(ctx, http.MethodPost, path, bytes.NewReader(args))
	if err != nil {
		return nil, err
	}
	defer drain(resp.Body)

	var out api.InvocationResponse
	decodeErr := json.NewDecoder(resp.Body).Decode(&out)
	switch {
	case resp.StatusCode >= 300 && (decodeErr != nil || out.ErrorKind == ""):
		return nil, statusOnlyError(resp)
	case decodeErr != nil:
		return nil, fmt.Errorf("decoding invocation response: %w", decodeErr)
	case !out.Success && out.ErrorKind == "":
		out.ErrorKind = api.ErrorKindInternal
	}
	if out.Success {
		return &out, nil
	}
	if out.RetryAfterSeconds == 0 {
		out.RetryAfterSeconds = retryAfterHeader(resp)
	}
	return &out, out.Err()
}

// Start starts a worker.
func (c *Client) Start(ctx context.Context, name string) (*api.ActionResult, error) {
	return c.action(ctx, name, "start")
}

// Stop stops a worker.
func (c *Client) Stop(ctx context.Context, name string) (*api.ActionResult, error) {
	return c.action(ctx, name, "stop")
}

// Restart stops and starts a worker.
func (c *Client) Restart(ctx context.Context, name string) (*api.ActionResult, error) {
	return c.action(ctx, name, "restart")
}

func (c *Client) action(ctx context.Context, name, action string) (*api.ActionResult, error) {
	resp, err := c.do(ctx, http.MethodPost, "/servers/"+url.PathEscape(name)+"/"+action, nil)
	if err != nil {
		return nil, err
	}
	defer drain(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, responseError(resp)
	}
	var result api.ActionResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding %s result: %w", action, err)
	}
	return &result, nil
}

func (c *Client) getJSON(ctx context.Context, path string, v interface{}) error {
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer drain(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return responseError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &ConnectionError{Endpoint: c.endpoint, Reason: err}
	}
	return resp, nil
}

// ConnectionError is returned when the server cannot be reached.
type ConnectionError struct {
	Endpoint string
	Reason   error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("cannot reach toolfleet server at %s: %v", e.Endpoint, e.Reason)
}

func (e *ConnectionError) Unwrap() error {
	return e.Reason
}

// responseError converts a non-2xx response to an *api.Error.
func responseError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var body api.ErrorBody
	if err := json.Unmarshal(data, &body); err != nil || body.ErrorKind == "" {
		msg := strings.TrimSpace(string(data))
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &api.Error{
			Kind:       api.KindFromHTTPStatus(resp.StatusCode),
			Message:    msg,
			RetryAfter: time.Duration(retryAfterHeader(resp)) * time.Second,
		}
	}

	retry := body.RetryAfterSeconds
	if retry == 0 {
		retry = retryAfterHeader(resp)
	}
	return &api.Error{
		Kind:       body.ErrorKind,
		Message:    body.ErrorMessage,
		RetryAfter: time.Duration(retry) * time.Second,
	}
}

func statusOnlyError(resp *http.Response) error {
	return &api.Error{
		Kind:       api.KindFromHTTPStatus(resp.StatusCode),
		Message:    http.StatusText(resp.StatusCode),
		RetryAfter: time.Duration(retryAfterHeader(resp)) * time.Second,
	}
}

func retryAfterHeader(resp *http.Response) int {
	n, err := strconv.Atoi(resp.Header.Get("Retry-After"))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func drain(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 64<<10))
	_ = body.Close()
}
