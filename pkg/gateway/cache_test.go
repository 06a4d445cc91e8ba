package gateway

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/paycore/pkg/logger"
	"github.com/angelmondragon/paycore/pkg/metrics"
	"github.com/angelmondragon/paycore/pkg/money"
)

type memoryStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{data: map[string]string{}}
}

func (m *memoryStore) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return "", redis.Nil
	}
	return v, nil
}

func (m *memoryStore) Set(_ context.Context, key string, value any, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch v := value.(type) {
	case []byte:
		m.data[key] = string(v)
	default:
		m.data[key] = fmt.Sprint(v)
	}
	return nil
}

func (m *memoryStore) GatewayResponseKey(provider, key string) string {
	return "pc:gateway:" + provider + ":" + key
}

type countingAdapter struct {
	calls   map[string]int
	decline bool
}

func (c *countingAdapter) Provider() string         { return "counting" }
func (c *countingAdapter) CaptureMode() CaptureMode { return CaptureExplicit }

func (c *countingAdapter) CreatePaymentIntent(_ context.Context, req PaymentIntentRequest) (PaymentIntentResult, error) {
	c.calls["create"]++
	if c.decline {
		return PaymentIntentResult{Outcome: Declined("card_declined", "declined")}, nil
	}
	return PaymentIntentResult{Outcome: Succeeded(), SessionID: fmt.Sprintf("sess_%d", c.calls["create"]), RedirectURL: "https://pay.example/" + req.IdempotencyKey}, nil
}

func (c *countingAdapter) CaptureOrder(_ context.Context, orderID string) (CaptureResult, error) {
	c.calls["capture"]++
	amt := money.Amount{Value: decimal.RequireFromString("10.00"), Currency: "USD"}
	return CaptureResult{Outcome: Succeeded(), CaptureID: "cap_" + orderID, Status: StatusPaid, Amount: &amt}, nil
}

func (c *countingAdapter) CreateSubscriptionPlan(context.Context, PlanRequest) (PlanResult, error) {
	c.calls["plan"]++
	return PlanResult{Outcome: Succeeded(), PlanRef: "plan_1"}, nil
}

func (c *countingAdapter) CreateSubscription(context.Context, SubscriptionRequest) (SubscriptionResult, error) {
	c.calls["subscription"]++
	return SubscriptionResult{Outcome: Succeeded(), SubscriptionRef: "sub_1"}, nil
}

func (c *countingAdapter) GetStatus(context.Context, string) (StatusResult, error) {
	c.calls["status"]++
	return StatusResult{Outcome: Succeeded(), Status: StatusPending}, nil
}

func (c *countingAdapter) Refund(context.Context, RefundRequest) (RefundResult, error) {
	c.calls["refund"]++
	return RefundResult{Outcome: Succeeded(), RefundID: "re_1", Status: StatusRefunded}, nil
}

func (c *countingAdapter) VerifyWebhookSignature(context.Context, WebhookRequest) (*WebhookEvent, error) {
	return &WebhookEvent{ID: "evt_1", Type: EventUnknown}, nil
}

func TestResponseCacheReplaysSuccessfulResults(t *testing.T) {
	inner := &countingAdapter{calls: map[string]int{}}
	store := newMemoryStore()
	adapter := WithResponseCache(inner, NewResponseCache(store, time.Hour, nil))
	ctx := context.Background()

	req := PaymentIntentRequest{IdempotencyKey: IdempotencyKey("counting", "create", "inv-1")}
	first, err := adapter.CreatePaymentIntent(ctx, req)
	require.NoError(t, err)
	second, err := adapter.CreatePaymentIntent(ctx, req)
	require.NoError(t, err)

	require.Equal(t, 1, inner.calls["create"])
	require.Equal(t, first, second)
	require.Contains(t, store.data, "pc:gateway:counting:"+req.IdempotencyKey)

	_, err = adapter.CaptureOrder(ctx, "order-1")
	require.NoError(t, err)
	captured, err := adapter.CaptureOrder(ctx, "order-1")
	require.NoError(t, err)
	require.Equal(t, 1, inner.calls["capture"])
	require.True(t, captured.Amount.Value.Equal(decimal.RequireFromString("10")))
}

func TestResponseCacheSkipsFailuresAndMissingKeys(t *testing.T) {
	inner := &countingAdapter{calls: map[string]int{}, decline: true}
	adapter := WithResponseCache(inner, NewResponseCache(newMemoryStore(), time.Hour, nil))
	ctx := context.Background()

	req := PaymentIntentRequest{IdempotencyKey: "k1"}
	_, _ = adapter.CreatePaymentIntent(ctx, req)
	_, _ = adapter.CreatePaymentIntent(ctx, req)
	require.Equal(t, 2, inner.calls["create"])

	_, _ = adapter.GetStatus(ctx, "ref")
	_, _ = adapter.GetStatus(ctx, "ref")
	require.Equal(t, 2, inner.calls["status"])

	inner.decline = false
	_, _ = adapter.CreatePaymentIntent(ctx, PaymentIntentRequest{})
	_, _ = adapter.CreatePaymentIntent(ctx, PaymentIntentRequest{})
	require.Equal(t, 4, inner.calls["create"])
}

func TestNewResponseCacheNilStore(t *testing.T) {
	require.Nil(t, NewResponseCache(nil, time.Hour, nil))
	inner := &countingAdapter{calls: map[string]int{}}
	require.Same(t, Adapter(inner), WithResponseCache(inner, nil))
}

func TestInstrumentLogsAndPassesThrough(t *testing.T) {
	buf := &bytes.Buffer{}
	logg := logger.New(logger.Options{ServiceName: "test", Output: buf})
	inner := &countingAdapter{calls: map[string]int{}, decline: true}
	adapter := Instrument(inner, metrics.NewGatewayMetrics(prometheus.NewRegistry()), logg)

	res, err := adapter.CreatePaymentIntent(context.Background(), PaymentIntentRequest{})
	require.NoError(t, err)
	require.False(t, res.OK)
	require.Equal(t, "card_declined", res.ErrorCode)
	require.Contains(t, buf.String(), `"outcome":"declined"`)
	require.Contains(t, buf.String(), `"operation":"create_payment_intent"`)
}
