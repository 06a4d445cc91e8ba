package metrics

import "github.com/prometheus/client_golang/prometheus"

// WebhookMetrics counts webhook deliveries by result and canonical events by
// dispatch outcome.
type WebhookMetrics struct {
	deliveries *prometheus.CounterVec
	events     *prometheus.CounterVec
}

// NewWebhookMetrics registers the webhook and dispatcher counters on reg.
func NewWebhookMetrics(reg prometheus.Registerer) *WebhookMetrics {
	if reg == nil {
		return &WebhookMetrics{}
	}
	deliveries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "paycore_webhook_deliveries_total",
		Help: "Webhook deliveries by provider and result.",
	}, []string{"provider", "result"})
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "paycore_events_dispatched_total",
		Help: "Canonical events by name and dispatch outcome.",
	}, []string{"event", "outcome"})
	reg.MustRegister(deliveries, events)
	return &WebhookMetrics{deliveries: deliveries, events: events}
}

// IncDelivery counts one webhook delivery.
func (w *WebhookMetrics) IncDelivery(provider, result string) {
	if w == nil || w.deliveries == nil {
		return
	}
	w.deliveries.WithLabelValues(normalizeLabel(provider), normalizeLabel(result)).Inc()
}

// IncEvent counts one dispatch attempt.
func (w *WebhookMetrics) IncEvent(event, outcome string) {
	if w == nil || w.events == nil {
		return
	}
	w.events.WithLabelValues(normalizeLabel(event), normalizeLabel(outcome)).Inc()
}
