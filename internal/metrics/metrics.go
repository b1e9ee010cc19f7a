// Package metrics records run counters and writes them in the Prometheus
// text format for a node-exporter textfile collector.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the counters of one run.
type Metrics struct {
	registry          *prometheus.Registry
	postersChecked    prometheus.Counter
	postersUpdated    prometheus.Counter
	postersSkipped    prometheus.Counter
	fetches           *prometheus.CounterVec
	variantsPublished *prometheus.CounterVec
	uploads           prometheus.Counter
	lastSuccess       prometheus.Gauge
}

func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		postersChecked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "postersync_posters_checked_total",
			Help: "Posters whose timestamp was fetched",
		}),
		postersUpdated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "postersync_posters_updated_total",
			Help: "Posters whose content was refreshed",
		}),
		postersSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "postersync_posters_skipped_total",
			Help: "Posters skipped by a group decision",
		}),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "postersync_fetches_total",
			Help: "Remote fetches by source type and operation",
		}, []string{"type", "op"}),
		variantsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "postersync_variants_published_total",
			Help: "Output variants rebuilt",
		}, []string{"suffix"}),
		uploads: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "postersync_uploads_total",
			Help: "Files pushed to remote storage",
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "postersync_last_success_timestamp_seconds",
			Help: "Unix time of the last successful run",
		}),
	}

	registry.MustRegister(
		m.postersChecked,
		m.postersUpdated,
		m.postersSkipped,
		m.fetches,
		m.variantsPublished,
		m.uploads,
		m.lastSuccess,
	)
	return m
}

func (m *Metrics) IncChecked() { m.postersChecked.Inc() }
func (m *Metrics) IncUpdated() { m.postersUpdated.Inc() }
func (m *Metrics) IncSkipped() { m.postersSkipped.Inc() }
func (m *Metrics) IncUploads() { m.uploads.Inc() }

// IncFetch counts one fetch of op ("timestamp" or "content") for a source type.
func (m *Metrics) IncFetch(kind, op string) {
	m.fetches.WithLabelValues(kind, op).Inc()
}

func (m *Metrics) IncPublished(suffix string) {
	m.variantsPublished.WithLabelValues(suffix).Inc()
}

// SetLastSuccess records the completion time as Unix seconds.
func (m *Metrics) SetLastSuccess(unix float64) {
	m.lastSuccess.Set(unix)
}

// Registry exposes the underlying registry for tests and exporters.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// WriteTextfile writes all metrics to path in the text exposition format.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}
