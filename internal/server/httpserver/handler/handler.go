package handler

import (
	"context"
	"errors"
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/yndnr/psastore-go/internal/core/domain"
	"github.com/yndnr/psastore-go/internal/core/service"
	"github.com/yndnr/psastore-go/internal/storage"
	"github.com/yndnr/psastore-go/internal/storage/snapshot"
	"github.com/yndnr/psastore-go/internal/telemetry/logger"
)

// Store is the engine behind one storage service. *storage.Engine
// implements it.
type Store interface {
	Ready() bool
	Stats() storage.Stats
	TriggerSnapshot(ctx context.Context) (*snapshot.Info, error)
}

// Service describes the operations a storage service offers.
// *service.StorageService implements it.
type Service interface {
	Capabilities() service.Capabilities
	Limits() service.Limits
	GetSupport() uint32
}

// Backing pairs a storage service with its engine.
type Backing struct {
	Service Service
	Store   Store
}

// Handler serves the admin API.
type Handler struct {
	backings  map[string]Backing
	names     []string
	logger    *slog.Logger
	startTime time.Time
	mux       *http.ServeMux
}

// New creates a Handler for the named services.
func New(backings map[string]Backing, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	names := make([]string, 0, len(backings))
	for name := range backings {
		names = append(names, name)
	}
	sort.Strings(names)

	h := &Handler{
		backings:  backings,
		names:     names,
		logger:    log,
		startTime: time.Now(),
		mux:       http.NewServeMux(),
	}
	h.registerRoutes()
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) registerRoutes() {
	h.mux.HandleFunc("GET /health", h.handleHealth)
	h.mux.HandleFunc("GET /ready", h.handleReady)

	h.mux.HandleFunc("GET /admin/v1/status/summary", h.handleStatusSummary)
	h.mux.HandleFunc("GET /admin/v1/storage/stats", h.handleStorageStats)
	h.mux.HandleFunc("POST /admin/v1/storage/{service}/snapshot", h.handleSnapshot)
}

// writeJSON writes a JSON response with standard envelope format.
func (h *Handler) writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	requestID := getRequestID(r)
	response := NewResponse(requestID, data)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

// writeError writes an error response with standard envelope format.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string, details any) {
	requestID := getRequestID(r)
	response := NewErrorResponse(requestID, code, message, details)

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Error-Code", code)
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(response)
}

// getRequestID returns the request ID set by the RequestID middleware.
func getRequestID(r *http.Request) string {
	if reqID := logger.RequestIDFromContext(r.Context()); reqID != "" {
		return reqID
	}
	return r.Header.Get("X-Request-ID")
}

// handleServiceError converts service errors to HTTP responses.
func (h *Handler) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	code := domain.CodeOf(err)
	if code == "" {
		h.logger.ErrorContext(r.Context(), "internal error", "error", err)
		h.writeError(w, r, http.StatusInternalServerError, domain.ErrInternalServer.Code, domain.ErrInternalServer.Message, nil)
		return
	}
	status := errorCodeToHTTPStatus(code)
	if status >= 500 {
		h.logger.ErrorContext(r.Context(), "request failed", "error", err, "cause", errors.Unwrap(err))
	}
	h.writeError(w, r, status, code, err.Error(), nil)
}

// errorCodeToHTTPStatus maps error codes to HTTP status codes.
func errorCodeToHTTPStatus(code string) int {
	switch {
	case strings.HasSuffix(code, "-4040"):
		return http.StatusNotFound
	case strings.HasSuffix(code, "-4030"), strings.HasSuffix(code, "-4090"), strings.HasSuffix(code, "-4091"):
		return http.StatusConflict
	case strings.HasSuffix(code, "-4290"):
		return http.StatusTooManyRequests
	case strings.HasSuffix(code, "-4031"):
		return http.StatusForbidden
	case code == domain.ErrOperationNotSupported.Code:
		return http.StatusNotImplemented
	case strings.HasPrefix(code, "PS-ARG-"), code == domain.ErrBadRequest.Code:
		return http.StatusBadRequest
	case strings.HasSuffix(code, "-5030"):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
