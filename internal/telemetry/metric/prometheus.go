package metric

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yndnr/psastore-go/internal/core/domain"
)

// Namespace prefixes every psastore metric.
const Namespace = "psastore"

// Registry holds all application metrics.
type Registry struct {
	reg *prometheus.Registry

	// Storage operations by service, operation and PSA status.
	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec

	// Local IPC transport.
	IPCConnections prometheus.Gauge
	IPCRejected    *prometheus.CounterVec

	// Admin HTTP API.
	HTTPRequestsTotal *prometheus.CounterVec
}

// NewRegistry creates a registry with the psastore metrics and the Go
// runtime and process collectors.
func NewRegistry() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		OperationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "operations_total",
			Help:      "Storage operations by service, operation and status",
		}, []string{"service", "op", "status"}),
		OperationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "operation_duration_seconds",
			Help:      "Storage operation latency",
			Buckets:   []float64{.00005, .0001, .00025, .0005, .001, .0025, .005, .01, .025, .05, .1, .25},
		}, []string{"service", "op"}),
		IPCConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "ipc",
			Name:      "connections",
			Help:      "Open local IPC connections",
		}),
		IPCRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "ipc",
			Name:      "rejected_total",
			Help:      "IPC requests rejected before reaching a service",
		}, []string{"reason"}),
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Admin HTTP requests by route and status code",
		}, []string{"route", "code"}),
	}

	r.reg.MustRegister(
		r.OperationsTotal,
		r.OperationDuration,
		r.IPCConnections,
		r.IPCRejected,
		r.HTTPRequestsTotal,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Registerer returns the registerer for additional collectors, such as
// the badger backend gauges.
func (r *Registry) Registerer() prometheus.Registerer {
	return r.reg
}

// Gatherer returns the underlying gatherer.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// ObserveOperation records one completed storage operation.
func (r *Registry) ObserveOperation(service, op string, status domain.Status, elapsed time.Duration) {
	r.OperationsTotal.WithLabelValues(service, op, status.String()).Inc()
	r.OperationDuration.WithLabelValues(service, op).Observe(elapsed.Seconds())
}

// Handler returns the HTTP handler for the /metrics endpoint.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}
