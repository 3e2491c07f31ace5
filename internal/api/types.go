package api

import (
	"encoding/json"
	"time"
)

// InvocationRequest is a tool call addressed to a worker name or a category.
type InvocationRequest struct {
	// Target is a worker name or a category; the router resolves which.
	Target string `json:"targetWorker"`
	// Tool is the tool to invoke on the selected worker.
	Tool string `json:"toolName"`
	// Arguments are passed through to the worker untouched.
	Arguments json.RawMessage `json:"arguments,omitempty"`
	// TimeoutMs bounds each forwarding attempt. Zero selects the router default.
	TimeoutMs int `json:"timeoutMs,omitempty"`
	// ClientKey identifies the caller for rate limiting. Never serialized.
	ClientKey string `json:"-"`
	// RequestID correlates logs, traces and the response metadata.
	RequestID string `json:"-"`
}

// InvocationMetadata describes how a request was served.
type InvocationMetadata struct {
	RequestID  string `json:"requestId,omitempty"`
	WorkerName string `json:"workerName,omitempty"`
	DurationMs int64  `json:"durationMs"`
	Attempts   int    `json:"attempts"`
}

// InvocationResponse carries either Result or ErrorKind and ErrorMessage, never both.
type InvocationResponse struct {
	Success           bool               `json:"success"`
	Result            json.RawMessage    `json:"result,omitempty"`
	ErrorKind         ErrorKind          `json:"errorKind,omitempty"`
	ErrorMessage      string             `json:"errorMessage,omitempty"`
	RetryAfterSeconds int                `json:"retryAfterSeconds,omitempty"`
	Metadata          InvocationMetadata `json:"metadata"`
}

// Err converts a failed response back into a typed error. It returns nil for
// successful responses.
func (r *InvocationResponse) Err() error {
	if r.Success {
		return nil
	}
	return &Error{
		Kind:       r.ErrorKind,
		Message:    r.ErrorMessage,
		RetryAfter: time.Duration(r.RetryAfterSeconds) * time.Second,
	}
}

// WorkerStats is the wire form of a worker's request statistics.
type WorkerStats struct {
	RequestsRouted int64   `json:"requestsRouted"`
	Succeeded      int64   `json:"succeeded"`
	Failed         int64   `json:"failed"`
	AvgLatencyMs   float64 `json:"avgLatencyMs"`
}

// WorkerInfo is the wire form of a worker handle snapshot.
type WorkerInfo struct {
	Name                string      `json:"name"`
	Category            string      `json:"category"`
	Protocol            string      `json:"protocol"`
	State               WorkerState `json:"state"`
	PID                 int         `json:"pid,omitempty"`
	Port                int         `json:"port,omitempty"`
	DeclaredPort        int         `json:"declaredPort,omitempty"`
	ConsecutiveFailures int         `json:"consecutiveFailures"`
	RestartCount        int         `json:"restartCount"`
	Fatal               bool        `json:"fatal,omitempty"`
	LastError           string      `json:"lastError,omitempty"`
	LastHealthyAt       *time.Time  `json:"lastHealthyAt,omitempty"`
	StartedAt           *time.Time  `json:"startedAt,omitempty"`
	StateChangedAt      time.Time   `json:"stateChangedAt"`
	Stats               WorkerStats `json:"stats"`
}

// WorkerDetail extends WorkerInfo with captured process output.
type WorkerDetail struct {
	WorkerInfo
	RecentOutput []string `json:"recentOutput,omitempty"`
}

// FleetHealth is the aggregate health view exposed at /health.
type FleetHealth struct {
	Status     FleetStatus `json:"status"`
	Ratio      float64     `json:"ratio"`
	Total      int         `json:"total"`
	NonStopped int         `json:"nonStopped"`
	Pending    int         `json:"pending"`
	Starting   int         `json:"starting"`
	Running    int         `json:"running"`
	Unhealthy  int         `json:"unhealthy"`
	Crashed    int         `json:"crashed"`
	Stopped    int         `json:"stopped"`
	Fatal      []string    `json:"fatal,omitempty"`
	CheckedAt  time.Time   `json:"checkedAt"`
}

// ToolInfo describes one tool exposed by a worker.
type ToolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// ToolList is the response of the tools listing endpoint.
type ToolList struct {
	Worker string     `json:"worker"`
	Tools  []ToolInfo `json:"tools"`
}

// ActionResult is returned by the admin lifecycle endpoints.
type ActionResult struct {
	Worker  string      `json:"worker"`
	Action  string      `json:"action"`
	State   WorkerState `json:"state"`
	Message string      `json:"message,omitempty"`
}

// ErrorBody is the body of any non-invocation error response.
type ErrorBody struct {
	ErrorKind         ErrorKind `json:"errorKind"`
	ErrorMessage      string    `json:"errorMessage"`
	RetryAfterSeconds int       `json:"retryAfterSeconds,omitempty"`
}
