// Package metrics provides Prometheus observability for the replication
// pipeline.
//
// Metrics are optional: a nil *Metrics is valid and every record method on it
// is a no-op, so components take a *Metrics without caring whether the
// operator enabled the metrics endpoint.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the Prometheus-backed recorder for replication activity.
type Metrics struct {
	registry *prometheus.Registry

	filesCompleted *prometheus.CounterVec
	filesErrored   *prometheus.CounterVec
	conflicts      *prometheus.CounterVec
	bytesCopied    *prometheus.CounterVec
	copyDuration   *prometheus.HistogramVec
	queueDepth     *prometheus.GaugeVec
	activeWorkers  *prometheus.GaugeVec
	scansCompleted *prometheus.CounterVec
	filesQueued    *prometheus.CounterVec
}

// New creates a Metrics instance with its own registry, including the
// standard Go and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &Metrics{
		registry: reg,
		filesCompleted: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "mirrorq_files_completed_total",
				Help: "Files that reached completed status, by bucket",
			},
			[]string{"bucket"},
		),
		filesErrored: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "mirrorq_files_errored_total",
				Help: "Files that reached error status, by bucket",
			},
			[]string{"bucket"},
		),
		conflicts: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "mirrorq_conflicts_total",
				Help: "Files that reached conflict status, by bucket",
			},
			[]string{"bucket"},
		),
		bytesCopied: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "mirrorq_bytes_copied_total",
				Help: "Bytes written to destinations, by bucket",
			},
			[]string{"bucket"},
		),
		copyDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "mirrorq_copy_duration_seconds",
				Help: "Duration of one copy-and-verify attempt",
				Buckets: []float64{
					0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300,
				},
			},
			[]string{"bucket", "outcome"},
		),
		queueDepth: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "mirrorq_queue_depth",
				Help: "Queue entries by status (global)",
			},
			[]string{"status"},
		),
		activeWorkers: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "mirrorq_active_workers",
				Help: "Workers currently copying, by bucket",
			},
			[]string{"bucket"},
		),
		scansCompleted: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "mirrorq_scans_completed_total",
				Help: "Completed scan runs, by bucket",
			},
			[]string{"bucket"},
		),
		filesQueued: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "mirrorq_files_queued_total",
				Help: "Files newly enqueued by scans, by bucket",
			},
			[]string{"bucket"},
		),
	}
}

// Handler returns the HTTP handler serving the registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordOutcome records one finished copy attempt.
func (m *Metrics) RecordOutcome(bucket, outcome string, bytesCopied int64, duration time.Duration) {
	if m == nil {
		return
	}
	m.copyDuration.WithLabelValues(bucket, outcome).Observe(duration.Seconds())

	switch outcome {
	case "completed", "identical":
		m.filesCompleted.WithLabelValues(bucket).Inc()
	case "conflict":
		m.conflicts.WithLabelValues(bucket).Inc()
	case "error", "integrity_error":
		m.filesErrored.WithLabelValues(bucket).Inc()
	}
	if bytesCopied > 0 {
		m.bytesCopied.WithLabelValues(bucket).Add(float64(bytesCopied))
	}
}

// SetQueueDepth updates the global per-status depth gauge.
func (m *Metrics) SetQueueDepth(status string, count int64) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(status).Set(float64(count))
}

// SetActiveWorkers updates the per-bucket active worker gauge.
func (m *Metrics) SetActiveWorkers(bucket string, count int) {
	if m == nil {
		return
	}
	m.activeWorkers.WithLabelValues(bucket).Set(float64(count))
}

// RecordScan records a completed scan run and its newly queued files.
func (m *Metrics) RecordScan(bucket string, filesAdded int64) {
	if m == nil {
		return
	}
	m.scansCompleted.WithLabelValues(bucket).Inc()
	if filesAdded > 0 {
		m.filesQueued.WithLabelValues(bucket).Add(float64(filesAdded))
	}
}
