// Package worker implements the client side of the worker capability
// contract: a liveness probe, tool listing and tool invocation. Two
// transports exist, plain HTTP+JSON and MCP over streamable HTTP.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"toolfleet/internal/api"
)

// ErrUnknownTool is returned when a worker does not expose the requested tool.
var ErrUnknownTool = errors.New("unknown tool")

// Client talks to one worker process.
type Client interface {
	// Health returns nil if the worker is alive.
	Health(ctx context.Context) error
	ListTools(ctx context.Context) ([]api.ToolInfo, error)
	// CallTool returns an error only if the call could not be completed.
	// A tool that ran and failed yields a result with Success false.
	CallTool(ctx context.Context, tool string, args json.RawMessage) (*CallResult, error)
	Close() error
}

// CallResult is the outcome of a completed tool call.
type CallResult struct {
	Success bool
	Result  json.RawMessage
	Error   string
}

// StatusError is returned for unexpected HTTP status codes.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("worker returned HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("worker returned HTTP %d: %s", e.StatusCode, e.Body)
}
