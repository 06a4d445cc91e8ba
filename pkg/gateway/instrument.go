package gateway

import (
	"context"
	"time"

	pkgerrors "github.com/angelmondragon/paycore/pkg/errors"
	"github.com/angelmondragon/paycore/pkg/logger"
	"github.com/angelmondragon/paycore/pkg/metrics"
)

const (
	outcomeOK       = "ok"
	outcomeDeclined = "declined"
	outcomeError    = "error"
)

type instrumentedAdapter struct {
	Adapter
	metrics *metrics.GatewayMetrics
	logg    *logger.Logger
}

// Instrument records latency and outcome for every adapter call.
func Instrument(adapter Adapter, m *metrics.GatewayMetrics, logg *logger.Logger) Adapter {
	if m == nil && logg == nil {
		return adapter
	}
	return &instrumentedAdapter{Adapter: adapter, metrics: m, logg: logg}
}

func (a *instrumentedAdapter) observe(ctx context.Context, op string, start time.Time, outcome Outcome, err error) {
	label := outcomeOK
	switch {
	case err != nil:
		label = outcomeError
	case !outcome.OK:
		label = outcomeDeclined
	}
	elapsed := time.Since(start)
	a.metrics.Observe(a.Provider(), op, label, elapsed)
	if a.logg == nil {
		return
	}
	logCtx := a.logg.WithFields(ctx, map[string]any{
		"provider":    a.Provider(),
		"operation":   op,
		"outcome":     label,
		"duration_ms": elapsed.Milliseconds(),
	})
	switch label {
	case outcomeError:
		logCtx = a.logg.WithFields(logCtx, map[string]any{
			"error_code": pkgerrors.CodeOf(err),
			"retryable":  pkgerrors.IsRetryable(err),
		})
		a.logg.Error(logCtx, "gateway.call", err)
	case outcomeDeclined:
		a.logg.Warn(a.logg.WithField(logCtx, "provider_code", outcome.ErrorCode), "gateway.call")
	default:
		a.logg.Info(logCtx, "gateway.call")
	}
}

func (a *instrumentedAdapter) CreatePaymentIntent(ctx context.Context, req PaymentIntentRequest) (PaymentIntentResult, error) {
	start := time.Now()
	res, err := a.Adapter.CreatePaymentIntent(ctx, req)
	a.observe(ctx, "create_payment_intent", start, res.Outcome, err)
	return res, err
}

func (a *instrumentedAdapter) CaptureOrder(ctx context.Context, orderID string) (CaptureResult, error) {
	start := time.Now()
	res, err := a.Adapter.CaptureOrder(ctx, orderID)
	a.observe(ctx, "capture_order", start, res.Outcome, err)
	return res, err
}

func (a *instrumentedAdapter) CreateSubscriptionPlan(ctx context.Context, req PlanRequest) (PlanResult, error) {
	start := time.Now()
	res, err := a.Adapter.CreateSubscriptionPlan(ctx, req)
	a.observe(ctx, "create_subscription_plan", start, res.Outcome, err)
	return res, err
}

func (a *instrumentedAdapter) CreateSubscription(ctx context.Context, req SubscriptionRequest) (SubscriptionResult, error) {
	start := time.Now()
	res, err := a.Adapter.CreateSubscription(ctx, req)
	a.observe(ctx, "create_subscription", start, res.Outcome, err)
	return res, err
}

func (a *instrumentedAdapter) GetStatus(ctx context.Context, ref string) (StatusResult, error) {
	start := time.Now()
	res, err := a.Adapter.GetStatus(ctx, ref)
	a.observe(ctx, "get_status", start, res.Outcome, err)
	return res, err
}

func (a *instrumentedAdapter) Refund(ctx context.Context, req RefundRequest) (RefundResult, error) {
	start := time.Now()
	res, err := a.Adapter.Refund(ctx, req)
	a.observe(ctx, "refund", start, res.Outcome, err)
	return res, err
}

func (a *instrumentedAdapter) VerifyWebhookSignature(ctx context.Context, req WebhookRequest) (*WebhookEvent, error) {
	start := time.Now()
	evt, err := a.Adapter.VerifyWebhookSignature(ctx, req)
	a.observe(ctx, "verify_webhook", start, Succeeded(), err)
	return evt, err
}
