package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGatewayMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewGatewayMetrics(reg)

	m.Observe("stripe", "create_payment_intent", "ok", 120*time.Millisecond)
	m.Observe("stripe", "create_payment_intent", "ok", 80*time.Millisecond)
	m.Observe("stripe", "create_payment_intent", "error", time.Second)

	mfs, err := reg.Gather()
	require.NoError(t, err)
	assert.Equal(t, float64(2), counterWithLabels(t, mfs, "paycore_gateway_calls_total", map[string]string{"provider": "stripe", "outcome": "ok"}))
	assert.Equal(t, float64(1), counterWithLabels(t, mfs, "paycore_gateway_calls_total", map[string]string{"provider": "stripe", "outcome": "error"}))

	assert.InDelta(t, 1.2, histogramSum(t, mfs, "paycore_gateway_call_duration_seconds", map[string]string{"provider": "stripe"}), 0.001)
}

func TestWebhookMetricsCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWebhookMetrics(reg)
	m.IncDelivery("mock", "processed")
	m.IncDelivery("mock", "duplicate")
	m.IncEvent("payment_captured", "applied")

	mfs, err := reg.Gather()
	require.NoError(t, err)
	assert.Equal(t, float64(1), counterWithLabels(t, mfs, "paycore_webhook_deliveries_total", map[string]string{"provider": "mock", "result": "processed"}))
	assert.Equal(t, float64(1), counterWithLabels(t, mfs, "paycore_events_dispatched_total", map[string]string{"event": "payment_captured", "outcome": "applied"}))
}

func TestNilRegistererYieldsNoopMetrics(t *testing.T) {
	assert.NotPanics(t, func() {
		NewGatewayMetrics(nil).Observe("p", "op", "ok", time.Millisecond)
		NewWebhookMetrics(nil).IncDelivery("p", "ok")
		var nilMetrics *WebhookMetrics
		nilMetrics.IncEvent("e", "o")
	})
}

func TestOutboxMetricsCountRows(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewOutboxMetrics(reg)
	m.IncRow("payment_captured", OutboxPublished)
	m.IncRow("payment_captured", OutboxPublished)
	m.IncRow("payment_failed", OutboxDeadLettered)
	m.ObserveBatch(0)

	mfs, err := reg.Gather()
	require.NoError(t, err)
	require.Equal(t, 2.0, counterWithLabels(t, mfs, "paycore_outbox_rows_total", map[string]string{"event_type": "payment_captured", "result": "published"}))
	require.Equal(t, 1.0, counterWithLabels(t, mfs, "paycore_outbox_rows_total", map[string]string{"event_type": "payment_failed", "result": "dead_lettered"}))

	var nilMetrics *OutboxMetrics
	nilMetrics.IncRow("x", "y")
	nilMetrics.ObserveBatch(0)
}
