package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"toolfleet/internal/api"
	"toolfleet/pkg/logging"
)

const (
	maxInvokeBody  = 10 << 20
	headerTimeout  = "X-Timeout-Ms"
	queryTimeout   = "timeoutMs"
	actionStart    = "start"
	actionStop     = "stop"
	actionRestart  = "restart"
	emptyArguments = "{}"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Debug("Server", "Failed to write response: %v", err)
	}
}

func setRetryAfter(w http.ResponseWriter, seconds int) {
	if seconds > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
	}
}

func retrySeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	s := int((d + time.Second - 1) / time.Second)
	if s < 1 {
		s = 1
	}
	return s
}

// writeError writes err as an ErrorBody with the status of its kind.
func writeError(w http.ResponseWriter, err error) {
	kind := api.KindOf(err)
	body := api.ErrorBody{ErrorKind: kind, ErrorMessage: err.Error()}

	var apiErr *api.Error
	if errors.As(err, &apiErr) {
		body.RetryAfterSeconds = retrySeconds(apiErr.RetryAfter)
	}
	setRetryAfter(w, body.RetryAfterSeconds)
	writeJSON(w, api.HTTPStatus(kind), body)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	fh := s.deps.Health.Aggregate()
	status := http.StatusOK
	if fh.Status == api.FleetUnavailable {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, fh)
}

func (s *Server) handleListServers(w http.ResponseWriter, r *http.Request) {
	handles := s.deps.Registry.All()
	infos := make([]api.WorkerInfo, 0, len(handles))
	for _, h := range handles {
		infos = append(infos, h.Snapshot().Info())
	}
	writeJSON(w, http.StatusOK, infos)
}

func (s *Server) handleGetServer(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	h, ok := s.deps.Registry.Get(name)
	if !ok {
		writeError(w, api.NewError(api.ErrorKindUnknownWorker, "unknown worker %q", name))
		return
	}

	detail := api.WorkerDetail{WorkerInfo: h.Snapshot().Info()}
	if output, err := s.deps.Fleet.RecentOutput(name); err == nil {
		detail.RecentOutput = output
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.Invoker.ListTools(r.Context(), r.PathValue("name"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleAction(action string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("name")

		if l := s.deps.AdminLimiter; l != nil {
			if d := l.Check(ClientKeyFrom(r.Context())); !d.Allowed {
				if s.deps.Metrics != nil {
					s.deps.Metrics.RateLimited(l.Name())
				}
				writeError(w, api.NewRateLimitedError(d.RetryAfter, "admin rate limit exceeded"))
				return
			}
		}

		if _, ok := s.deps.Registry.Get(name); !ok {
			writeError(w, api.NewError(api.ErrorKindUnknownWorker, "unknown worker %q", name))
			return
		}

		var err error
		switch action {
		case actionStart:
			err = s.deps.Fleet.StartWorker(r.Context(), name)
		case actionStop:
			err = s.deps.Fleet.Stop(r.Context(), name)
		case actionRestart:
			err = s.deps.Fleet.Restart(r.Context(), name)
		}

		result := api.ActionResult{Worker: name, Action: action}
		if h, ok := s.deps.Registry.Get(name); ok {
			result.State = h.State()
		}
		if err != nil {
			logging.Warn("Server", "Admin %s of worker %s failed: %v", action, name, err)
			writeError(w, err)
			return
		}
		logging.Info("Server", "Admin %s of worker %s by %s", action, name, ClientKeyFrom(r.Context()))
		writeJSON(w, http.StatusOK, result)
	}
}

func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	req := api.InvocationRequest{
		Target:    r.PathValue("target"),
		Tool:      r.PathValue("tool"),
		ClientKey: ClientKeyFrom(r.Context()),
		RequestID: RequestIDFrom(r.Context()),
	}

	timeoutMs, err := parseTimeout(r)
	if err != nil {
		writeInvokeError(w, req.RequestID, err)
		return
	}
	req.TimeoutMs = timeoutMs

	args, err := readArguments(w, r)
	if err != nil {
		writeInvokeError(w, req.RequestID, err)
		return
	}
	req.Arguments = args

	resp := s.deps.Invoker.Route(r.Context(), req)
	status := http.StatusOK
	if !resp.Success {
		status = api.HTTPStatus(resp.ErrorKind)
		setRetryAfter(w, resp.RetryAfterSeconds)
	}
	writeJSON(w, status, resp)
}

func writeInvokeError(w http.ResponseWriter, requestID string, err error) {
	kind := api.KindOf(err)
	writeJSON(w, api.HTTPStatus(kind), api.InvocationResponse{
		ErrorKind:    kind,
		ErrorMessage: err.Error(),
		Metadata:     api.InvocationMetadata{RequestID: requestID},
	})
}

func parseTimeout(r *http.Request) (int, error) {
	raw := r.URL.Query().Get(queryTimeout)
	if raw == "" {
		raw = r.Header.Get(headerTimeout)
	}
	if raw == "" {
		return 0, nil
	}
	ms, err := strconv.Atoi(raw)
	if err != nil || ms < 0 {
		return 0, api.NewError(api.ErrorKindInvalidRequest, "invalid timeout %q", raw)
	}
	return ms, nil
}

func readArguments(w http.ResponseWriter, r *http.Request) (json.RawMessage, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxInvokeBody))
	if err != nil {
		return nil, api.WrapError(api.ErrorKindInvalidRequest, err, "reading request body")
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return json.RawMessage(emptyArguments), nil
	}
	if !json.Valid(body) {
		return nil, api.NewError(api.ErrorKindInvalidRequest, "request body is not valid JSON")
	}
	return json.RawMessage(body), nil
}
