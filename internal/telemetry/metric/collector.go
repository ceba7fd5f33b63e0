package metric

import "github.com/prometheus/client_golang/prometheus"

// StoreSource exposes the live counters of one storage engine.
// *storage.Engine implements it.
type StoreSource interface {
	Service() string
	Count() int
	UsedBytes() uint64
	Ready() bool
}

// StoreCollector reports entry and byte gauges for a set of engines.
// Values are read at scrape time.
type StoreCollector struct {
	sources []StoreSource

	entries *prometheus.Desc
	bytes   *prometheus.Desc
	ready   *prometheus.Desc
}

// NewStoreCollector creates a collector over sources.
func NewStoreCollector(sources ...StoreSource) *StoreCollector {
	return &StoreCollector{
		sources: sources,
		entries: prometheus.NewDesc(
			prometheus.BuildFQName(Namespace, "store", "entries"),
			"Stored assets", []string{"service"}, nil),
		bytes: prometheus.NewDesc(
			prometheus.BuildFQName(Namespace, "store", "used_bytes"),
			"Bytes reserved by stored assets", []string{"service"}, nil),
		ready: prometheus.NewDesc(
			prometheus.BuildFQName(Namespace, "store", "ready"),
			"1 when the engine has recovered and accepts requests", []string{"service"}, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *StoreCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.entries
	ch <- c.bytes
	ch <- c.ready
}

// Collect implements prometheus.Collector.
func (c *StoreCollector) Collect(ch chan<- prometheus.Metric) {
	for _, s := range c.sources {
		svc := s.Service()
		ch <- prometheus.MustNewConstMetric(c.entries, prometheus.GaugeValue, float64(s.Count()), svc)
		ch <- prometheus.MustNewConstMetric(c.bytes, prometheus.GaugeValue, float64(s.UsedBytes()), svc)
		ready := 0.0
		if s.Ready() {
			ready = 1
		}
		ch <- prometheus.MustNewConstMetric(c.ready, prometheus.GaugeValue, ready, svc)
	}
}
