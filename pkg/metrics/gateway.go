package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// GatewayMetrics records outbound provider calls.
type GatewayMetrics struct {
	calls    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewGatewayMetrics registers the provider call metrics on reg.
func NewGatewayMetrics(reg prometheus.Registerer) *GatewayMetrics {
	if reg == nil {
		return &GatewayMetrics{}
	}
	calls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "paycore_gateway_calls_total",
		Help: "Provider adapter calls by outcome.",
	}, []string{"provider", "operation", "outcome"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "paycore_gateway_call_duration_seconds",
		Help:    "Provider adapter call latency including retries.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
	}, []string{"provider", "operation"})
	reg.MustRegister(calls, duration)
	return &GatewayMetrics{calls: calls, duration: duration}
}

// Observe records one adapter call. outcome is ok, declined or error.
func (g *GatewayMetrics) Observe(provider, operation, outcome string, elapsed time.Duration) {
	if g == nil || g.calls == nil {
		return
	}
	g.calls.WithLabelValues(normalizeLabel(provider), normalizeLabel(operation), normalizeLabel(outcome)).Inc()
	g.duration.WithLabelValues(normalizeLabel(provider), normalizeLabel(operation)).Observe(elapsed.Seconds())
}
