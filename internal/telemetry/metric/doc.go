// Package metric provides Prometheus metrics for psastore.
//
//   - prometheus.go: the registry, operation metrics and the HTTP handler
//   - collector.go: gauges read from the storage engines at scrape time
//
// Metrics are exposed at /metrics on the admin HTTP server.
package metric
