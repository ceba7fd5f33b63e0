// Package httpserver provides the admin HTTP server of psastore.
//
// Endpoints:
//
//   - GET /health, GET /ready: probes
//   - GET /metrics: Prometheus metrics
//   - GET /admin/v1/status/summary: build, uptime and per-service summary
//   - GET /admin/v1/storage/stats: engine statistics
//   - POST /admin/v1/storage/{service}/snapshot: snapshot a log backend now
//
// Every route runs RequestID, Recover, Metrics and the optional per-IP
// RateLimit. Metrics and admin routes add the NetworkACL and, when
// enabled, Audit.
package httpserver
