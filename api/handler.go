// Package api provides the admin HTTP API for herald webhook management.
//
// Tenant-scoped routes take the tenant from the tenant_id query parameter,
// or from the request body on POST routes that create resources.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/xraph/herald"
	"github.com/xraph/herald/endpoint"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

// Handler is the root HTTP handler for the herald admin API.
type Handler struct {
	herald *herald.Herald
	logger *slog.Logger
	mux    *http.ServeMux
}

// NewHandler creates a new admin API handler.
func NewHandler(h *herald.Herald, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}

	api := &Handler{
		herald: h,
		logger: logger,
		mux:    http.NewServeMux(),
	}

	api.registerRoutes()
	return api
}

func (h *Handler) registerRoutes() {
	// Event types
	h.mux.HandleFunc("GET /event-types", h.listEventTypes)
	h.mux.HandleFunc("GET /event-types/{name}", h.getEventType)
	h.mux.HandleFunc("POST /event-types", h.createEventType)

	// Endpoints
	h.mux.HandleFunc("POST /endpoints", h.createEndpoint)
	h.mux.HandleFunc("GET /endpoints", h.listEndpoints)
	h.mux.HandleFunc("GET /endpoints/{id}", h.getEndpoint)
	h.mux.HandleFunc("PATCH /endpoints/{id}", h.updateEndpoint)
	h.mux.HandleFunc("DELETE /endpoints/{id}", h.deleteEndpoint)
	h.mux.HandleFunc("POST /endpoints/{id}/rotate-secret", h.rotateSecret)
	h.mux.HandleFunc("POST /endpoints/{id}/test", h.testEndpoint)

	// Events
	h.mux.HandleFunc("POST /events", h.triggerEvent)

	// Deliveries
	h.mux.HandleFunc("GET /deliveries", h.listDeliveries)
	h.mux.HandleFunc("GET /deliveries/{id}", h.getDelivery)
	h.mux.HandleFunc("POST /deliveries/{id}/retry", h.retryDelivery)

	// Stats
	h.mux.HandleFunc("GET /stats", h.getStats)
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.withMiddleware(h.mux).ServeHTTP(w, r)
}

func (h *Handler) withMiddleware(next http.Handler) http.Handler {
	return h.panicRecovery(h.logging(next))
}

func (h *Handler) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		h.logger.InfoContext(r.Context(), "api request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rw.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func (h *Handler) panicRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				h.logger.ErrorContext(r.Context(), "panic recovered",
					"error", rec,
					"stack", string(debug.Stack()),
				)
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// fail maps a service error onto a status code. Unknown errors are logged
// and hidden.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var verr *endpoint.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, verr.Error())
	case errors.Is(err, herald.ErrPayloadValidationFailed),
		errors.Is(err, herald.ErrTenantRequired):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, herald.ErrEndpointNotFound),
		errors.Is(err, herald.ErrDeliveryNotFound),
		errors.Is(err, herald.ErrEventTypeNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, herald.ErrClaimConflict):
		writeError(w, http.StatusConflict, err.Error())
	default:
		h.logger.ErrorContext(r.Context(), "api error", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// JSON helpers.

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best effort
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// queryParam returns a query parameter value, or empty string if not present.
func queryParam(r *http.Request, key string) string {
	return r.URL.Query().Get(key)
}

// queryInt returns a non-negative query parameter as int or a default value.
func queryInt(r *http.Request, key string, defaultVal int) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || n < 0 {
		return defaultVal
	}
	return n
}

// queryLimit returns the page size, capped at maxLimit.
func queryLimit(r *http.Request) int {
	return min(queryInt(r, "limit", defaultLimit), maxLimit)
}

// queryTime parses an RFC 3339 query parameter. Absent is nil.
func queryTime(r *http.Request, key string) (*time.Time, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return nil, nil //nolint:nilnil // absent parameter
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, errors.New(key + " must be an RFC 3339 timestamp")
	}
	return &t, nil
}

// requireTenant reads tenant_id from the query string.
func requireTenant(w http.ResponseWriter, r *http.Request) (string, bool) {
	tenantID := queryParam(r, "tenant_id")
	if tenantID == "" {
		writeError(w, http.StatusBadRequest, "tenant_id query parameter is required")
		return "", false
	}
	return tenantID, true
}
