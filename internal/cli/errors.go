package cli

import (
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"toolfleet/internal/api"
	"toolfleet/internal/client"
)

// ConnectionErrorType categorizes the type of connection error.
type ConnectionErrorType int

const (
	// ConnectionErrorUnknown indicates an unclassified connection error.
	ConnectionErrorUnknown ConnectionErrorType = iota
	// ConnectionErrorTLS indicates a TLS/certificate verification error.
	ConnectionErrorTLS
	// ConnectionErrorNetwork indicates a network connectivity error (e.g., refused, unreachable).
	ConnectionErrorNetwork
	// ConnectionErrorTimeout indicates a connection timeout.
	ConnectionErrorTimeout
	// ConnectionErrorDNS indicates a DNS resolution failure.
	ConnectionErrorDNS
)

// String returns a human-readable name for the connection error type.
func (t ConnectionErrorType) String() string {
	switch t {
	case ConnectionErrorTLS:
		return "TLS certificate error"
	case ConnectionErrorNetwork:
		return "Network error"
	case ConnectionErrorTimeout:
		return "Connection timeout"
	case ConnectionErrorDNS:
		return "DNS resolution error"
	default:
		return "Connection error"
	}
}

// ClassifyConnectionError returns the category of a transport failure.
func ClassifyConnectionError(err error) ConnectionErrorType {
	var dnsErr *net.DNSError
	switch {
	case err == nil:
		return ConnectionErrorUnknown
	case isTLSError(err):
		return ConnectionErrorTLS
	case errors.As(err, &dnsErr):
		return ConnectionErrorDNS
	case isTimeoutError(err):
		return ConnectionErrorTimeout
	case isNetworkError(err.Error()):
		return ConnectionErrorNetwork
	default:
		return ConnectionErrorUnknown
	}
}

func isTLSError(err error) bool {
	var certErr x509.CertificateInvalidError
	var hostErr x509.HostnameError
	var unknownAuthErr x509.UnknownAuthorityError
	if errors.As(err, &certErr) || errors.As(err, &hostErr) || errors.As(err, &unknownAuthErr) {
		return true
	}

	errStr := err.Error()
	for _, keyword := range []string{"x509:", "certificate", "tls:", "TLS handshake"} {
		if strings.Contains(errStr, keyword) {
			return true
		}
	}
	return false
}

func isTimeoutError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline exceeded")
}

func isNetworkError(errStr string) bool {
	for _, keyword := range []string{
		"connection refused",
		"connection reset",
		"network is unreachable",
		"no route to host",
		"dial tcp",
		"connect:",
	} {
		if strings.Contains(errStr, keyword) {
			return true
		}
	}
	return false
}

// Describe renders err for a terminal with a hint on how to proceed.
func Describe(err error) string {
	var connErr *client.ConnectionError
	if errors.As(err, &connErr) {
		kind := ClassifyConnectionError(connErr.Reason)
		msg := fmt.Sprintf("%s: cannot reach toolfleet server at %s: %v", kind, connErr.Endpoint, connErr.Reason)
		if kind == ConnectionErrorNetwork {
			msg += "\n\nIs the server running? Start it with: toolfleet serve"
		}
		return msg
	}

	var apiErr *api.Error
	if !errors.As(err, &apiErr) {
		return err.Error()
	}

	msg := fmt.Sprintf("%s: %s", apiErr.Kind, apiErr.Error())
	switch apiErr.Kind {
	case api.ErrorKindRateLimited:
		if apiErr.RetryAfter > 0 {
			msg += fmt.Sprintf("\n\nRetry after %s.", apiErr.RetryAfter)
		}
	case api.ErrorKindUnauthorized:
		msg += "\n\nPass a key with --api-key or " + client.APIKeyEnvVar + "."
	case api.ErrorKindUnknownWorker:
		msg += "\n\nList workers with: toolfleet status"
	case api.ErrorKindNoHealthyWorker:
		msg += "\n\nCheck worker states with: toolfleet status"
	}
	return msg
}
