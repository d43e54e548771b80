package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups all Prometheus instruments used across the application.
// Registered once at startup via New(); passed by pointer wherever needed.
type Metrics struct {
	MessagesIngested   prometheus.Counter
	BatchesFlushed     prometheus.Counter
	MessagesDropped    prometheus.Counter
	RowsBackfilled     *prometheus.CounterVec
	EmbeddingBatchSize prometheus.Histogram
}

// New registers all instruments with the given Prometheus registerer and
// returns the populated Metrics struct.
// Using a custom registry (instead of prometheus.DefaultRegisterer) keeps
// tests isolated and avoids global state.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		MessagesIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "messages_ingested_total",
			Help: "Total number of messages flushed to the store.",
		}),
		BatchesFlushed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "batches_flushed_total",
			Help: "Total number of committed message batches.",
		}),
		MessagesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "messages_dropped_total",
			Help: "Messages rejected because a single message exceeded the batch token budget.",
		}),
		RowsBackfilled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "backfill_rows_total",
			Help: "Rows backfilled with searchable content, by processing phase.",
		}, []string{"phase"}),
		EmbeddingBatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "embedding_batch_rows",
			Help:    "Rows per enrichment claim batch.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		}),
	}

	reg.MustRegister(
		m.MessagesIngested,
		m.BatchesFlushed,
		m.MessagesDropped,
		m.RowsBackfilled,
		m.EmbeddingBatchSize,
	)

	return m
}

// IngestHooks returns the metric callbacks expected by ingest.Hooks.
// Centralises the prometheus observation calls so the worker stays
// metrics-agnostic.
func (m *Metrics) IngestHooks() (onFlush func(messages int), onDropped func()) {
	onFlush = func(messages int) {
		m.MessagesIngested.Add(float64(messages))
		m.BatchesFlushed.Inc()
	}
	onDropped = func() {
		m.MessagesDropped.Inc()
	}
	return
}

// BackfillHooks returns the metric callbacks expected by backfill.Hooks.
func (m *Metrics) BackfillHooks() (onFastFill func(rows int64), onEnriched func(rows int)) {
	onFastFill = func(rows int64) {
		m.RowsBackfilled.WithLabelValues("fast").Add(float64(rows))
	}
	onEnriched = func(rows int) {
		m.RowsBackfilled.WithLabelValues("enrich").Add(float64(rows))
		m.EmbeddingBatchSize.Observe(float64(rows))
	}
	return
}
