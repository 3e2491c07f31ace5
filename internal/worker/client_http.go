package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"toolfleet/internal/api"
)

const maxErrorBody = 512

// HTTPClient speaks the JSON worker contract:
//
//	GET  {healthPath}  any 2xx is healthy
//	GET  {toolsPath}   {"tools": [...]} or a bare array
//	POST {invokePath}  {"toolName", "arguments"} -> {"success", "result" | "error"}
type HTTPClient struct {
	baseURL    string
	healthPath string
	invokePath string
	toolsPath  string
	httpClient *http.Client
}

// NewHTTPClient creates a client for the worker at baseURL. httpClient may be
// shared between workers.
func NewHTTPClient(baseURL, healthPath, invokePath, toolsPath string, httpClient *http.Client) *HTTPClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		healthPath: healthPath,
		invokePath: invokePath,
		toolsPath:  toolsPath,
		httpClient: httpClient,
	}
}

type invokeRequest struct {
	ToolName  string          `json:"toolName"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

type invokeResponse struct {
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Health implements Client.
func (c *HTTPClient) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+c.healthPath, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer drain(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp)
	}
	return nil
}

// ListTools implements Client.
func (c *HTTPClient) ListTools(ctx context.Context) ([]api.ToolInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+c.toolsPath, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer drain(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading tool list: %w", err)
	}

	var wrapped struct {
		Tools []api.ToolInfo `json:"tools"`
	}
	if err := json.Unmarshal(data, &wrapped); err == nil && wrapped.Tools != nil {
		return wrapped.Tools, nil
	}
	var bare []api.ToolInfo
	if err := json.Unmarshal(data, &bare); err != nil {
		return nil, fmt.Errorf("decoding tool list: %w", err)
	}
	return bare, nil
}

// CallTool implements Client.
func (c *HTTPClient) CallTool(ctx context.Context, tool string, args json.RawMessage) (*CallResult, error) {
	body, err := json.Marshal(invokeRequest{ToolName: tool, Arguments: args})
	if err != nil {
		return nil, fmt.Errorf("encoding invocation: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+c.invokePath, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer drain(resp.Body)

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w %q", ErrUnknownTool, tool)
	}

	var out invokeResponse
	decodeErr := json.NewDecoder(resp.Body).Decode(&out)

	switch {
	case resp.StatusCode >= 500:
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: out.Error}
	case decodeErr != nil:
		return nil, fmt.Errorf("decoding invocation response (HTTP %d): %w", resp.StatusCode, decodeErr)
	case resp.StatusCode >= 400 && out.Error == "":
		return nil, &StatusError{StatusCode: resp.StatusCode}
	}

	if out.Success {
		return &CallResult{Success: true, Result: out.Result}, nil
	}
	if out.Error == "" {
		out.Error = "tool reported failure without a message"
	}
	return &CallResult{Success: false, Error: out.Error}, nil
}

// Close implements Client. The underlying http.Client is shared and stays open.
func (c *HTTPClient) Close() error {
	return nil
}

func statusError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
}

func drain(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 64<<10))
	_ = body.Close()
}
