package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorKind classifies every failure that can cross the routing API.
// Each kind maps to exactly one HTTP status code and is reported verbatim
// in the errorKind field of an InvocationResponse.
type ErrorKind string

const (
	// ErrorKindPortExhausted indicates the port allocator could not find a free port.
	ErrorKindPortExhausted ErrorKind = "PortExhausted"
	// ErrorKindStartupTimeout indicates a worker produced no healthy probe within its startup grace.
	ErrorKindStartupTimeout ErrorKind = "StartupTimeout"
	// ErrorKindCrashLoop indicates a worker spent its restart budget and was parked.
	ErrorKindCrashLoop ErrorKind = "CrashLoop"
	// ErrorKindNoHealthyWorker indicates routing found no eligible target.
	ErrorKindNoHealthyWorker ErrorKind = "NoHealthyWorker"
	// ErrorKindUpstreamTimeout indicates a forwarded call exceeded its timeout.
	ErrorKindUpstreamTimeout ErrorKind = "UpstreamTimeout"
	// ErrorKindUpstreamError indicates a forwarded call failed at the transport level.
	ErrorKindUpstreamError ErrorKind = "UpstreamError"
	// ErrorKindRateLimited indicates the caller exceeded its quota.
	ErrorKindRateLimited ErrorKind = "RateLimited"
	// ErrorKindUnknownWorker indicates the target names neither a worker nor a category.
	ErrorKindUnknownWorker ErrorKind = "UnknownWorker"
	// ErrorKindUnknownTool indicates the worker does not expose the requested tool.
	ErrorKindUnknownTool ErrorKind = "UnknownTool"
	// ErrorKindToolError indicates the tool ran and reported a failure.
	ErrorKindToolError ErrorKind = "ToolError"
	// ErrorKindInvalidRequest indicates a malformed inbound request.
	ErrorKindInvalidRequest ErrorKind = "InvalidRequest"
	// ErrorKindUnauthorized indicates a missing or unknown API key.
	ErrorKindUnauthorized ErrorKind = "Unauthorized"
	// ErrorKindInternal covers everything that carries no explicit kind.
	ErrorKindInternal ErrorKind = "Internal"
)

// Error is the typed error used throughout the fleet. It carries a kind for
// classification, a human-readable message and optionally the underlying cause.
//
// RetryAfter is only meaningful for ErrorKindRateLimited.
type Error struct {
	Kind       ErrorKind
	Message    string
	Err        error
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil && e.Message != "" {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Kind)
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a new typed error with a formatted message.
//
// Example:
//
//	return api.NewError(api.ErrorKindUnknownWorker, "no worker or category named %q", target)
func NewError(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
	}
}

// WrapError creates a new typed error around an underlying cause.
func WrapError(kind ErrorKind, err error, format string, args ...interface{}) *Error {
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		Err:     err,
	}
}

// NewRateLimitedError creates a RateLimited error carrying a retry hint.
func NewRateLimitedError(retryAfter time.Duration, format string, args ...interface{}) *Error {
	e := NewError(ErrorKindRateLimited, format, args...)
	e.RetryAfter = retryAfter
	return e
}

// KindOf returns the kind of the first *Error in err's chain, or
// ErrorKindInternal if there is none.
func KindOf(err error) ErrorKind {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return ErrorKindInternal
}

// IsKind reports whether err carries the given kind anywhere in its chain.
func IsKind(err error, kind ErrorKind) bool {
	if err == nil {
		return false
	}
	return KindOf(err) == kind
}

// HTTPStatus maps an error kind to the status code the routing API returns for it.
func HTTPStatus(kind ErrorKind) int {
	switch kind {
	case ErrorKindUnknownWorker, ErrorKindUnknownTool:
		return http.StatusNotFound
	case ErrorKindRateLimited:
		return http.StatusTooManyRequests
	case ErrorKindNoHealthyWorker:
		return http.StatusServiceUnavailable
	case ErrorKindUpstreamTimeout:
		return http.StatusGatewayTimeout
	case ErrorKindUpstreamError:
		return http.StatusBadGateway
	case ErrorKindToolError:
		return http.StatusUnprocessableEntity
	case ErrorKindInvalidRequest:
		return http.StatusBadRequest
	case ErrorKindUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// KindFromHTTPStatus is the inverse of HTTPStatus for clients that only see a
// status code. Ambiguous codes resolve to the most common kind.
func KindFromHTTPStatus(status int) ErrorKind {
	switch status {
	case http.StatusNotFound:
		return ErrorKindUnknownWorker
	case http.StatusTooManyRequests:
		return ErrorKindRateLimited
	case http.StatusServiceUnavailable:
		return ErrorKindNoHealthyWorker
	case http.StatusGatewayTimeout:
		return ErrorKindUpstreamTimeout
	case http.StatusBadGateway:
		return ErrorKindUpstreamError
	case http.StatusUnprocessableEntity:
		return ErrorKindToolError
	case http.StatusBadRequest:
		return ErrorKindInvalidRequest
	case http.StatusUnauthorized:
		return ErrorKindUnauthorized
	default:
		return ErrorKindInternal
	}
}
