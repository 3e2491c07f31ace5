package server

import (
	"context"
	"crypto/subtle"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"toolfleet/internal/api"
	"toolfleet/pkg/logging"
)

// HeaderRequestID carries the request id in both directions.
const HeaderRequestID = "X-Request-ID"

type contextKey int

const (
	requestIDKey contextKey = iota
	clientKeyKey
)

// RequestIDFrom returns the request id stored by the middleware.
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// ClientKeyFrom returns the rate limiting key of the caller.
func ClientKeyFrom(ctx context.Context) string {
	key, _ := ctx.Value(clientKeyKey).(string)
	return key
}

// requestID assigns a request id and picks up W3C trace context.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderRequestID)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set(HeaderRequestID, id)

		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx = context.WithValue(ctx, requestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// statusRecorder remembers the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// observe logs each request at debug level and records HTTP metrics.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		elapsed := time.Since(started)
		_, route := s.mux.Handler(r)
		if route == "" {
			route = "unmatched"
		}
		logging.Debug("Server", "%s %s -> %d in %v (request %s)",
			r.Method, r.URL.Path, rec.status, elapsed, RequestIDFrom(r.Context()))
		if s.deps.Metrics != nil {
			s.deps.Metrics.ObserveHTTP(r.Method, route, rec.status, elapsed)
		}
	})
}

// publicPaths never require an API key.
var publicPaths = map[string]bool{
	"/health":  true,
	"/metrics": true,
}

// authenticate enforces API keys when configured and stores the client key.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := presentedKey(r)

		if len(s.apiKeys) > 0 && !publicPaths[r.URL.Path] {
			if key == "" || !s.validKey(key) {
				writeError(w, api.NewError(api.ErrorKindUnauthorized, "missing or invalid API key"))
				return
			}
		}

		clientKey := key
		if clientKey == "" || len(s.apiKeys) == 0 {
			clientKey = remoteIP(r)
		}
		ctx := context.WithValue(r.Context(), clientKeyKey, clientKey)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) validKey(key string) bool {
	for k := range s.apiKeys {
		if subtle.ConstantTimeCompare([]byte(k), []byte(key)) == 1 {
			return true
		}
	}
	return false
}

func presentedKey(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
