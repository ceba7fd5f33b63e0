package handler

import (
	"net/http"
	"time"

	"github.com/yndnr/psastore-go/internal/core/domain"
	"github.com/yndnr/psastore-go/internal/infra/buildinfo"
	"github.com/yndnr/psastore-go/internal/storage"
)

// handleStatusSummary handles GET /admin/v1/status/summary.
func (h *Handler) handleStatusSummary(w http.ResponseWriter, r *http.Request) {
	resp := StatusSummary{
		Status:        "running",
		Build:         buildinfo.Get(),
		StartedAt:     h.startTime.UTC(),
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Services:      make([]ServiceSummary, 0, len(h.names)),
	}

	for _, name := range h.names {
		b := h.backings[name]
		st := b.Store.Stats()
		ready := b.Store.Ready()
		if !ready {
			resp.Status = "degraded"
		}
		resp.Services = append(resp.Services, ServiceSummary{
			Name:         name,
			Ready:        ready,
			Backend:      st.Backend,
			Assets:       st.Store.Assets,
			UsedBytes:    st.Store.UsedBytes,
			Capabilities: b.Service.Capabilities(),
			Limits:       b.Service.Limits(),
			Support:      b.Service.GetSupport(),
		})
	}

	h.writeJSON(w, r, http.StatusOK, resp)
}

// handleStorageStats handles GET /admin/v1/storage/stats.
func (h *Handler) handleStorageStats(w http.ResponseWriter, r *http.Request) {
	resp := StorageStatsResponse{Services: make(map[string]storage.Stats, len(h.names))}
	for _, name := range h.names {
		resp.Services[name] = h.backings[name].Store.Stats()
	}
	h.writeJSON(w, r, http.StatusOK, resp)
}

// handleSnapshot handles POST /admin/v1/storage/{service}/snapshot.
func (h *Handler) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("service")
	b, ok := h.backings[name]
	if !ok {
		h.writeError(w, r, http.StatusNotFound, domain.ErrUnknownService.Code, domain.ErrUnknownService.Message, map[string]string{"service": name})
		return
	}

	info, err := b.Store.TriggerSnapshot(r.Context())
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.logger.Info("snapshot created", "service", name, "id", info.ID, "records", info.RecordCount)
	h.writeJSON(w, r, http.StatusCreated, SnapshotResponse{Service: name, Snapshot: info})
}
