// Package metrics exposes Prometheus instrumentation for the sync daemon.
//
// All methods are nil-safe so components can run without metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the sync pipeline.
type Metrics struct {
	// Pass outcomes: inserted, duplicate, already_processed, no_data,
	// empty_row, failed, error
	Passes *prometheus.CounterVec

	// Every insert attempt, including retries
	InsertAttempts prometheus.Counter

	// Change events coalesced because a pass was in flight
	EventsDropped prometheus.Counter

	LedgerSize prometheus.Gauge

	PassDuration prometheus.Histogram

	// Batch import results: inserted, skipped, failed
	BatchRecords *prometheus.CounterVec
}

// New registers all metrics on reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		Passes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "scansync_passes_total",
			Help: "Sync passes by outcome",
		}, []string{"outcome"}),

		InsertAttempts: factory.NewCounter(prometheus.CounterOpts{
			Name: "scansync_insert_attempts_total",
			Help: "Insert attempts against the remote store, including retries",
		}),

		EventsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "scansync_events_dropped_total",
			Help: "Change events dropped while a pass was in flight",
		}),

		LedgerSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "scansync_ledger_size",
			Help: "Fingerprints recorded in the deduplication ledger",
		}),

		PassDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "scansync_pass_duration_seconds",
			Help:    "Duration of a sync pass from change event to ledger write",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		}),

		BatchRecords: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "scansync_batch_records_total",
			Help: "Records handled by batch imports by result",
		}, []string{"result"}),
	}
}

// ObservePass records one completed pass.
func (m *Metrics) ObservePass(outcome string, d time.Duration) {
	if m != nil {
		m.Passes.WithLabelValues(outcome).Inc()
		m.PassDuration.Observe(d.Seconds())
	}
}

// IncInsertAttempt counts one insert attempt.
func (m *Metrics) IncInsertAttempt() {
	if m != nil {
		m.InsertAttempts.Inc()
	}
}

// IncDropped counts one coalesced change event.
func (m *Metrics) IncDropped() {
	if m != nil {
		m.EventsDropped.Inc()
	}
}

// SetLedgerSize records the current ledger size.
func (m *Metrics) SetLedgerSize(n int) {
	if m != nil {
		m.LedgerSize.Set(float64(n))
	}
}

// AddBatch adds n records with the given result.
func (m *Metrics) AddBatch(result string, n int) {
	if m != nil && n > 0 {
		m.BatchRecords.WithLabelValues(result).Add(float64(n))
	}
}
