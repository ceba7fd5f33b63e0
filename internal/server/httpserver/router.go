package httpserver

import (
	"log/slog"
	"net/http"

	"github.com/yndnr/psastore-go/internal/server/httpserver/handler"
	"github.com/yndnr/psastore-go/internal/telemetry/metric"
)

// RouterConfig holds configuration for the HTTP router.
type RouterConfig struct {
	// Backings are the storage services by name.
	Backings map[string]handler.Backing

	// Metrics is served on /metrics and counts requests. nil disables both.
	Metrics *metric.Registry

	// Logger for request logging.
	Logger *slog.Logger

	// AdminAllowList is the IP/CIDR allowlist for admin API (empty = no restriction).
	AdminAllowList []string

	// RateLimit is the per-IP rate limit (requests/second). 0 disables.
	RateLimit float64
	RateBurst int

	// EnableAudit enables audit logging for admin requests.
	EnableAudit bool
}

// NewRouter creates and configures the HTTP router with all routes and middleware.
func NewRouter(cfg *RouterConfig) http.Handler {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	h := handler.New(cfg.Backings, log)

	var limit Middleware
	if cfg.RateLimit > 0 {
		limit = RateLimit(cfg.RateLimit, cfg.RateBurst)
	}
	base := func(route string) []Middleware {
		mw := []Middleware{RequestID(), Recover(log), Metrics(cfg.Metrics, route)}
		if limit != nil {
			mw = append(mw, limit)
		}
		return mw
	}

	mux := http.NewServeMux()

	// Probes are open to every client.
	mux.Handle("GET /health", Chain(h, base("/health")...))
	mux.Handle("GET /ready", Chain(h, base("/ready")...))

	acl := NetworkACL(&NetworkACLConfig{AllowList: cfg.AdminAllowList, Logger: log})

	if cfg.Metrics != nil {
		mux.Handle("GET /metrics", Chain(cfg.Metrics.Handler(), append(base("/metrics"), acl)...))
	}

	admin := func(route string) http.Handler {
		mw := append(base(route), acl)
		if cfg.EnableAudit {
			mw = append(mw, Audit(log))
		}
		return Chain(h, mw...)
	}
	mux.Handle("GET /admin/v1/status/summary", admin("/admin/v1/status/summary"))
	mux.Handle("GET /admin/v1/storage/stats", admin("/admin/v1/storage/stats"))
	mux.Handle("POST /admin/v1/storage/{service}/snapshot", admin("/admin/v1/storage/{service}/snapshot"))

	return mux
}
