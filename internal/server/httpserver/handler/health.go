package handler

import (
	"net/http"
	"time"
)

// handleHealth handles GET /health. The process is healthy while it serves.
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, r, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// handleReady handles GET /ready. It reports 503 until every engine has
// recovered.
func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	services := make(map[string]bool, len(h.names))
	ready := true
	for _, name := range h.names {
		ok := h.backings[name].Store.Ready()
		services[name] = ok
		ready = ready && ok
	}

	status, code := "ready", http.StatusOK
	if !ready {
		status, code = "not_ready", http.StatusServiceUnavailable
	}
	h.writeJSON(w, r, code, ReadyResponse{
		Status:   status,
		Services: services,
		Time:     time.Now().UTC().Format(time.RFC3339),
	})
}
