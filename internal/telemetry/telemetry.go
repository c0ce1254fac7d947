// Package telemetry mirrors internal/metrics' samples into Prometheus
// vectors for the admin listener's /metrics endpoint. It is a side exporter,
// not a replacement: the percentile/stddev math still
// lives in internal/metrics and is served at the core server's own
// /metrics route; this package exists so the same data is also scrapeable
// by a Prometheus-compatible collector, labeled by category and command.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Guti2010/compute-server/internal/metrics"
)

// Exporter owns the Prometheus collectors and mirrors Record calls into
// them. It wraps a *metrics.Collector rather than replacing it.
type Exporter struct {
	requests   *prometheus.CounterVec
	latencyMS  *prometheus.HistogramVec
	queueDepth *prometheus.GaugeVec
	busy       *prometheus.GaugeVec
}

// NewExporter registers its collectors against reg (pass
// prometheus.DefaultRegisterer in production, a fresh registry in tests).
func NewExporter(reg prometheus.Registerer) *Exporter {
	e := &Exporter{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "compute_server",
			Name:      "requests_total",
			Help:      "Completed requests by category, command, and outcome.",
		}, []string{"category", "command", "outcome"}),
		latencyMS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "compute_server",
			Name:      "request_latency_ms",
			Help:      "Request latency in milliseconds by category and command.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 16),
		}, []string{"category", "command"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "compute_server",
			Name:      "queue_depth",
			Help:      "Current queued task count by category.",
		}, []string{"category"}),
		busy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "compute_server",
			Name:      "workers_busy",
			Help:      "Currently busy workers by category.",
		}, []string{"category"}),
	}
	reg.MustRegister(e.requests, e.latencyMS, e.queueDepth, e.busy)
	return e
}

// Record mirrors one metrics.Sample into the Prometheus vectors.
func (e *Exporter) Record(s metrics.Sample) {
	e.requests.WithLabelValues(s.Category, s.Command, string(s.Outcome)).Inc()
	e.latencyMS.WithLabelValues(s.Category, s.Command).Observe(s.ElapsedMS)
}

// RefreshGauges updates the queue-depth/busy gauges from a fresh snapshot.
// Call on a short interval (the admin server does this every couple of
// seconds) since these are point-in-time reads, not counters.
func (e *Exporter) RefreshGauges(snap metrics.Snapshot) {
	for category, cs := range snap.Categories {
		e.queueDepth.WithLabelValues(category).Set(float64(cs.QueueDepth))
		e.busy.WithLabelValues(category).Set(float64(cs.Busy))
	}
}
