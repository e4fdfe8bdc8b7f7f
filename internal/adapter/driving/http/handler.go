// Package httphandler is the HTTP driving adapter serving the daemon's
// health endpoint.
package httphandler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/credkeeper/credkeeper/internal/application"
	"github.com/credkeeper/credkeeper/internal/domain/model"
)

// Handler serves the operational API.
type Handler struct {
	healthSvc *application.HealthService
	authSvc   *application.AuthService
	logger    *slog.Logger
}

// NewHandler creates a Handler with all required dependencies.
func NewHandler(healthSvc *application.HealthService, authSvc *application.AuthService, logger *slog.Logger) *Handler {
	return &Handler{
		healthSvc: healthSvc,
		authSvc:   authSvc,
		logger:    logger,
	}
}

// NewServeMux creates an http.Handler with all routes registered and
// wrapped with logging and recovery middleware.
func NewServeMux(h *Handler, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/health", h.Health)

	// Recovery innermost so panics are caught before logging.
	wrapped := recoveryMiddleware(logger, mux)
	wrapped = loggingMiddleware(logger, wrapped)

	return wrapped
}

// HealthResponse is the JSON representation of a health evaluation.
type HealthResponse struct {
	Status    string `json:"status"`
	State     string `json:"state"`
	Reason    string `json:"reason,omitempty"`
	ExpiresAt string `json:"expires_at,omitempty"`
}

// Health reports whether the subsystem can currently produce a live
// access token. UNHEALTHY maps to 503 so container orchestrators restart
// or route away; DEGRADED still returns 200 because the service is
// expected to recover on its own.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	report := h.healthSvc.Check(r.Context())

	resp := HealthResponse{
		Status: report.Status.String(),
		State:  h.authSvc.State().String(),
		Reason: report.Reason,
	}
	if !report.ExpiresAt.IsZero() {
		resp.ExpiresAt = report.ExpiresAt.UTC().Format(time.RFC3339)
	}

	status := http.StatusOK
	if report.Status == model.HealthUnhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// writeJSON marshals v to JSON and writes it to the response with the
// given status code. If marshaling fails, a 500 error is written instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// errorResponse is the standard error response body.
type errorResponse struct {
	Error string `json:"error"`
}
