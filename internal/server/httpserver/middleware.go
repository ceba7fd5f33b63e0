package httpserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/time/rate"

	"github.com/yndnr/psastore-go/internal/core/domain"
	"github.com/yndnr/psastore-go/internal/telemetry/logger"
	"github.com/yndnr/psastore-go/internal/telemetry/metric"
)

// Middleware wraps an http.Handler.
type Middleware func(http.Handler) http.Handler

// Chain applies middlewares so that the first one listed sees the request first.
func Chain(h http.Handler, middlewares ...Middleware) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

type startKey struct{}

// RequestID tags the request with the caller's X-Request-ID or a fresh
// ULID, echoes it in the response and stores it for logging.
func RequestID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get("X-Request-ID")
			if id == "" {
				id = "req-" + ulid.Make().String()
			}
			w.Header().Set("X-Request-ID", id)

			ctx := logger.WithRequestID(r.Context(), id)
			ctx = context.WithValue(ctx, startKey{}, time.Now())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetRequestIDFromContext returns the ID set by RequestID.
func GetRequestIDFromContext(ctx context.Context) string {
	return logger.RequestIDFromContext(ctx)
}

// limiterIdle is how long an address keeps its limiter without requests.
const limiterIdle = 10 * time.Minute

type clientLimiter struct {
	*rate.Limiter
	seen time.Time
}

// RateLimit admits perSecond requests per client address with the given
// burst. Addresses idle for limiterIdle are forgotten.
func RateLimit(perSecond float64, burst int) Middleware {
	if burst <= 0 {
		burst = max(int(perSecond), 1)
	}

	var (
		mu    sync.Mutex
		byIP  = make(map[string]*clientLimiter)
		swept = time.Now()
	)
	allow := func(ip string) bool {
		now := time.Now()
		mu.Lock()
		defer mu.Unlock()
		if now.Sub(swept) > limiterIdle {
			for k, l := range byIP {
				if now.Sub(l.seen) > limiterIdle {
					delete(byIP, k)
				}
			}
			swept = now
		}
		l, ok := byIP[ip]
		if !ok {
			l = &clientLimiter{Limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
			byIP[ip] = l
		}
		l.seen = now
		return l.AllowN(now, 1)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !allow(clientIP(r)) {
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusTooManyRequests, domain.ErrRateLimited)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Audit records each admin request, its caller and its outcome. The
// caller is the client certificate's common name when mutual TLS is on.
func Audit(log *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			start, ok := r.Context().Value(startKey{}).(time.Time)
			if !ok {
				start = time.Now()
			}
			attrs := []any{
				"request_id", GetRequestIDFromContext(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"duration_ms", time.Since(start).Milliseconds(),
				"client_ip", clientIP(r),
			}
			if svc := r.PathValue("service"); svc != "" {
				attrs = append(attrs, "service", svc)
			}
			if r.TLS != nil && len(r.TLS.PeerCertificates) > 0 {
				attrs = append(attrs, "client_cn", r.TLS.PeerCertificates[0].Subject.CommonName)
			}

			level := slog.LevelInfo
			msg := "admin request"
			switch {
			case rec.status >= 500:
				level, msg = slog.LevelError, "admin request completed with error"
			case rec.status >= 400:
				level, msg = slog.LevelWarn, "admin request completed with client error"
			}
			log.Log(r.Context(), level, msg, attrs...)
		})
	}
}

// Recover turns a handler panic into a 500 response.
func Recover(log *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if p := recover(); p != nil {
					log.Error("panic in HTTP handler",
						"request_id", GetRequestIDFromContext(r.Context()),
						"path", r.URL.Path,
						"panic", p)
					writeError(w, http.StatusInternalServerError, domain.ErrInternalServer)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// Metrics counts requests to route by status code. A nil registry
// disables counting.
func Metrics(reg *metric.Registry, route string) Middleware {
	return func(next http.Handler) http.Handler {
		if reg == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			reg.HTTPRequestsTotal.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
		})
	}
}

// NetworkACLConfig lists the addresses allowed through NetworkACL.
type NetworkACLConfig struct {
	// AllowList holds IP addresses and CIDR prefixes. Empty admits everyone.
	AllowList []string

	// Logger receives invalid entries and denials. May be nil.
	Logger *slog.Logger
}

// parseAllowList converts entries to prefixes, skipping invalid ones.
func parseAllowList(entries []string, log *slog.Logger) []netip.Prefix {
	var out []netip.Prefix
	for _, e := range entries {
		var (
			p   netip.Prefix
			err error
		)
		if strings.Contains(e, "/") {
			p, err = netip.ParsePrefix(e)
		} else {
			var a netip.Addr
			if a, err = netip.ParseAddr(e); err == nil {
				p = netip.PrefixFrom(a, a.BitLen())
			}
		}
		if err != nil {
			if log != nil {
				log.Warn("ignoring invalid allowlist entry", "entry", e, "error", err)
			}
			continue
		}
		out = append(out, p.Masked())
	}
	return out
}

// NetworkACL rejects clients whose address is outside the allowlist.
func NetworkACL(cfg *NetworkACLConfig) Middleware {
	allowed := parseAllowList(cfg.AllowList, cfg.Logger)

	permit := func(ip string) bool {
		a, err := netip.ParseAddr(ip)
		if err != nil {
			return false
		}
		a = a.Unmap()
		for _, p := range allowed {
			if p.Contains(a) {
				return true
			}
		}
		return false
	}

	return func(next http.Handler) http.Handler {
		if len(allowed) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)
			if !permit(ip) {
				if cfg.Logger != nil {
					cfg.Logger.Warn("request denied by network ACL", "client_ip", ip, "path", r.URL.Path)
				}
				writeError(w, http.StatusForbidden, domain.ErrIPNotAllowed)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// statusRecorder remembers the status code written by the handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func writeError(w http.ResponseWriter, status int, e *domain.DomainError) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Error-Code", e.Code)
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"code": e.Code, "message": e.Message})
}

// clientIP is the peer address. Forwarding headers are not trusted.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
