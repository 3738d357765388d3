// Package telemetry wires the Prometheus counters/histograms and OTel
// tracer used around ingest, flush, and reconcile operations.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Tracer is the package-wide tracer used to span batch-sender flushes
// (sender.flush), named after the module rather than constructed per call
// site. InstallTracerProvider repoints it when a real exporter is
// configured.
var Tracer trace.Tracer = otel.Tracer("github.com/trackhive/trackhive")

var (
	// QueueDepth tracks the number of entries currently buffered in a
	// run's batch sender, labeled by run.
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "trackhive_sender_queue_depth",
			Help: "Number of log entries queued in a run's batch sender awaiting flush.",
		},
		[]string{"project", "run"},
	)

	// FlushLatency measures how long a sink.Send call takes, labeled by
	// sink kind (local/remote, or queue for a batch sender's whole flush)
	// and outcome.
	FlushLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "trackhive_flush_latency_seconds",
			Help:    "Latency of a batch flush to a sink.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"sink", "outcome"},
	)

	// FlushedEntries counts entries successfully committed to a sink.
	FlushedEntries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trackhive_flushed_entries_total",
			Help: "Total log entries successfully delivered to a sink.",
		},
		[]string{"sink"},
	)

	// ReconcileBacklog reports the number of durable-buffer rows still
	// marked pending delivery, sampled each reconciler tick.
	ReconcileBacklog = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "trackhive_reconcile_backlog",
			Help: "Rows in the durable buffer still marked pending remote delivery.",
		},
		[]string{"project"},
	)

	// LockWaitLatency measures how long Process Lock acquisition took.
	LockWaitLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "trackhive_lock_wait_seconds",
			Help:    "Time spent waiting to acquire the per-project advisory lock.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"project"},
	)
)

// ObserveFlush records the outcome and latency of a single sink flush.
func ObserveFlush(sink string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	FlushLatency.WithLabelValues(sink, outcome).Observe(time.Since(start).Seconds())
}

// ObserveLockWait records how long a lock acquisition took for project.
func ObserveLockWait(project string, start time.Time) {
	LockWaitLatency.WithLabelValues(project).Observe(time.Since(start).Seconds())
}
