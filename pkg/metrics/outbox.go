package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outbox publish results.
const (
	OutboxPublished    = "published"
	OutboxRetry        = "retry"
	OutboxDeadLettered = "dead_lettered"
)

// OutboxMetrics tracks the publisher loop: per-row results and batch latency.
type OutboxMetrics struct {
	rows  *prometheus.CounterVec
	batch prometheus.Histogram
}

func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	if reg == nil {
		return &OutboxMetrics{}
	}
	rows := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "paycore_outbox_rows_total",
		Help: "Outbox rows handled by event type and result.",
	}, []string{"event_type", "result"})
	batch := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "paycore_outbox_batch_duration_seconds",
		Help:    "Time spent on one publish batch, including the database transaction.",
		Buckets: prometheus.DefBuckets,
	})
	reg.MustRegister(rows, batch)
	return &OutboxMetrics{rows: rows, batch: batch}
}

func (o *OutboxMetrics) IncRow(eventType, result string) {
	if o == nil || o.rows == nil {
		return
	}
	o.rows.WithLabelValues(normalizeLabel(eventType), normalizeLabel(result)).Inc()
}

func (o *OutboxMetrics) ObserveBatch(elapsed time.Duration) {
	if o == nil || o.batch == nil {
		return
	}
	o.batch.Observe(elapsed.Seconds())
}
