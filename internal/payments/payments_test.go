package payments_test

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/paycore/internal/payments"
	"github.com/angelmondragon/paycore/internal/paytest"
	"github.com/angelmondragon/paycore/pkg/db/models"
	"github.com/angelmondragon/paycore/pkg/enums"
	pkgerrors "github.com/angelmondragon/paycore/pkg/errors"
	"github.com/angelmondragon/paycore/pkg/gateway"
	"github.com/angelmondragon/paycore/pkg/mockpay"
)

const webhookSecret = "whsec_test"

type staticResolver struct {
	adapter gateway.Adapter
}

func (r staticResolver) Resolve(_ context.Context, provider string) (gateway.Adapter, error) {
	if provider != r.adapter.Provider() {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment provider not available")
	}
	return r.adapter, nil
}

type memoryGuardStore struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

func newMemoryGuardStore() *memoryGuardStore {
	return &memoryGuardStore{keys: map[string]struct{}{}}
}

func (m *memoryGuardStore) SetNX(_ context.Context, key string, _ any, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.keys[key]; ok {
		return false, nil
	}
	m.keys[key] = struct{}{}
	return true, nil
}

func (m *memoryGuardStore) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.keys, key)
	}
	return nil
}

func (m *memoryGuardStore) WebhookKey(provider, eventID string) string {
	return "pc:webhook:" + provider + ":" + eventID
}

type harness struct {
	*paytest.Fixture
	svc    *payments.Service
	mock   *mockpay.Adapter
	guards *memoryGuardStore
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	f := paytest.New(t)
	adapter, err := mockpay.New(context.Background(), gateway.Settings{
		Credentials: map[string]string{mockpay.CredentialWebhookSecret: webhookSecret},
	}, gateway.Options{})
	require.NoError(t, err)

	guards := newMemoryGuardStore()
	guard, err := payments.NewIdempotencyGuard(guards, time.Hour)
	require.NoError(t, err)

	svc, err := payments.NewService(payments.Params{
		Plugins:       staticResolver{adapter: adapter},
		Invoices:      f.Invoices,
		Subscriptions: f.Subscriptions,
		Plans:         f.Plans,
		Ledger:        f.Ledger,
		Emitter:       f.Dispatcher,
		Guard:         guard,
		PublicBaseURL: "https://app.example.com/",
	})
	require.NoError(t, err)
	return &harness{Fixture: f, svc: svc, mock: adapter.(*mockpay.Adapter), guards: guards}
}

func (h *harness) webhook(t *testing.T, body mockpay.Event) payments.WebhookInput {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	headers := http.Header{}
	headers.Set(mockpay.SignatureHeader, mockpay.Sign(webhookSecret, payload))
	return payments.WebhookInput{Provider: mockpay.Provider, Payload: payload, Headers: headers}
}

func minor(v int64) *int64 { return &v }

func requireCode(t *testing.T, err error, code pkgerrors.Code) {
	t.Helper()
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed, "expected typed error, got %v", err)
	require.Equal(t, code, typed.Code())
}

func TestCreateOrderPaymentModeAttachesSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	userID := uuid.New()
	invoice := h.SeedBundleInvoice(t, userID, 500, "4.99")

	res, err := h.svc.CreateOrder(ctx, payments.CreateOrderInput{Provider: mockpay.Provider, UserID: userID, InvoiceID: invoice.ID})
	require.NoError(t, err)
	require.Equal(t, enums.PaymentModePayment, res.Mode)
	require.True(t, strings.HasPrefix(res.SessionID, "sess_mock_"))
	require.NotEmpty(t, res.RedirectURL)

	stored := h.Invoice(t, invoice.ID)
	require.NotNil(t, stored.ExternalRef)
	require.Equal(t, res.SessionID, *stored.ExternalRef)
	require.NotNil(t, stored.Provider)
	require.Equal(t, mockpay.Provider, *stored.Provider)

	again, err := h.svc.CreateOrder(ctx, payments.CreateOrderInput{Provider: mockpay.Provider, UserID: userID, InvoiceID: invoice.ID})
	require.NoError(t, err)
	require.Equal(t, res.SessionID, again.SessionID)
}

func TestCreateOrderRejectsForeignAndUnknown(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	invoice := h.SeedBundleInvoice(t, uuid.New(), 500, "4.99")

	_, err := h.svc.CreateOrder(ctx, payments.CreateOrderInput{Provider: mockpay.Provider, UserID: uuid.New(), InvoiceID: invoice.ID})
	requireCode(t, err, pkgerrors.CodeNotFound)

	_, err = h.svc.CreateOrder(ctx, payments.CreateOrderInput{Provider: "stripe", UserID: invoice.UserID, InvoiceID: invoice.ID})
	requireCode(t, err, pkgerrors.CodeNotFound)

	_, err = h.svc.CreateOrder(ctx, payments.CreateOrderInput{Provider: mockpay.Provider, UserID: invoice.UserID, InvoiceID: uuid.New()})
	requireCode(t, err, pkgerrors.CodeNotFound)
}

func TestCreateOrderDeclinedIsProviderAgnostic(t *testing.T) {
	h := newHarness(t)
	userID := uuid.New()
	invoice := h.SeedBundleInvoice(t, userID, 500, "4.99")
	h.mock.SetFailMode(true)

	_, err := h.svc.CreateOrder(context.Background(), payments.CreateOrderInput{Provider: mockpay.Provider, UserID: userID, InvoiceID: invoice.ID})
	requireCode(t, err, pkgerrors.CodeDeclined)
	require.Equal(t, map[string]string{"reason": "mock_error"}, pkgerrors.As(err).Details())
	require.Nil(t, h.Invoice(t, invoice.ID).ExternalRef)
}

func TestCreateOrderSubscriptionModeCreatesProviderPlanOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	plan := h.SeedPlan(t, enums.BillingPeriodMonthly, "9.99", 100)

	first, _ := h.SeedSubscriptionInvoice(t, uuid.New(), plan)
	res, err := h.svc.CreateOrder(ctx, payments.CreateOrderInput{Provider: mockpay.Provider, UserID: first.UserID, InvoiceID: first.ID})
	require.NoError(t, err)
	require.Equal(t, enums.PaymentModeSubscription, res.Mode)
	require.True(t, strings.HasPrefix(res.SubscriptionID, "sub_mock_"))

	ref, err := h.Plans.FindProviderRef(ctx, plan.ID, mockpay.Provider)
	require.NoError(t, err)
	require.NotNil(t, ref)

	second, _ := h.SeedSubscriptionInvoice(t, uuid.New(), plan)
	_, err = h.svc.CreateOrder(ctx, payments.CreateOrderInput{Provider: mockpay.Provider, UserID: second.UserID, InvoiceID: second.ID})
	require.NoError(t, err)

	again, err := h.Plans.FindProviderRef(ctx, plan.ID, mockpay.Provider)
	require.NoError(t, err)
	require.Equal(t, ref.ExternalRef, again.ExternalRef)
}

func TestCreateOrderRejectsDuplicateActiveSubscription(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	userID := uuid.New()
	plan := h.SeedPlan(t, enums.BillingPeriodMonthly, "9.99", 100)

	invoice, _ := h.SeedSubscriptionInvoice(t, userID, plan)
	res, err := h.svc.CreateOrder(ctx, payments.CreateOrderInput{Provider: mockpay.Provider, UserID: userID, InvoiceID: invoice.ID})
	require.NoError(t, err)
	_, err = h.svc.CaptureOrder(ctx, payments.CaptureInput{Provider: mockpay.Provider, UserID: userID, OrderID: res.SubscriptionID})
	require.NoError(t, err)

	renewal, _ := h.SeedSubscriptionInvoice(t, userID, plan)
	_, err = h.svc.CreateOrder(ctx, payments.CreateOrderInput{Provider: mockpay.Provider, UserID: userID, InvoiceID: renewal.ID})
	requireCode(t, err, pkgerrors.CodeConflict)
}

func TestCaptureOrderPaysInvoiceOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	userID := uuid.New()
	plan := h.SeedPlan(t, enums.BillingPeriodMonthly, "9.99", 100)
	invoice, sub := h.SeedSubscriptionInvoice(t, userID, plan)

	order, err := h.svc.CreateOrder(ctx, payments.CreateOrderInput{Provider: mockpay.Provider, UserID: userID, InvoiceID: invoice.ID})
	require.NoError(t, err)

	res, err := h.svc.CaptureOrder(ctx, payments.CaptureInput{Provider: mockpay.Provider, UserID: userID, OrderID: order.SubscriptionID})
	require.NoError(t, err)
	require.Equal(t, gateway.StatusPaid, res.Status)
	require.NotEmpty(t, res.CaptureID)

	require.Equal(t, enums.InvoiceStatusPaid, h.Invoice(t, invoice.ID).Status)
	active := h.Subscription(t, sub.ID)
	require.Equal(t, enums.SubscriptionStatusActive, active.Status)
	require.NotNil(t, active.ExternalSubscriptionID)
	require.Equal(t, order.SubscriptionID, *active.ExternalSubscriptionID)
	require.Equal(t, int64(100), h.Balance(t, userID))

	replay, err := h.svc.CaptureOrder(ctx, payments.CaptureInput{Provider: mockpay.Provider, UserID: userID, OrderID: order.SubscriptionID})
	require.NoError(t, err)
	require.Equal(t, gateway.StatusPaid, replay.Status)
	require.Equal(t, res.CaptureID, replay.CaptureID)
	require.Equal(t, int64(100), h.Balance(t, userID))
	require.Equal(t, int64(1), h.OutboxCount(t, enums.EventPaymentCaptured))
}

func TestCaptureOrderDeclineRecordsFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	userID := uuid.New()
	invoice := h.SeedBundleInvoice(t, userID, 500, "4.99")
	order, err := h.svc.CreateOrder(ctx, payments.CreateOrderInput{Provider: mockpay.Provider, UserID: userID, InvoiceID: invoice.ID})
	require.NoError(t, err)

	h.mock.SetFailMode(true)
	_, err = h.svc.CaptureOrder(ctx, payments.CaptureInput{Provider: mockpay.Provider, UserID: userID, OrderID: order.SessionID})
	requireCode(t, err, pkgerrors.CodeDeclined)

	failures, err := h.Invoices.ListFailures(ctx, invoice.ID)
	require.NoError(t, err)
	require.Len(t, failures, 1)
	require.Equal(t, "mock_error", failures[0].ErrorCode)
	require.Equal(t, enums.InvoiceStatusPending, h.Invoice(t, invoice.ID).Status)
	require.Equal(t, int64(0), h.Balance(t, userID))
}

func TestCaptureOrderHidesOtherUsersOrders(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	userID := uuid.New()
	invoice := h.SeedBundleInvoice(t, userID, 500, "4.99")
	order, err := h.svc.CreateOrder(ctx, payments.CreateOrderInput{Provider: mockpay.Provider, UserID: userID, InvoiceID: invoice.ID})
	require.NoError(t, err)

	_, err = h.svc.CaptureOrder(ctx, payments.CaptureInput{Provider: mockpay.Provider, UserID: uuid.New(), OrderID: order.SessionID})
	requireCode(t, err, pkgerrors.CodeNotFound)

	_, err = h.svc.SessionStatus(ctx, mockpay.Provider, uuid.New(), order.SessionID)
	requireCode(t, err, pkgerrors.CodeNotFound)

	status, err := h.svc.SessionStatus(ctx, mockpay.Provider, userID, " "+order.SessionID+"\n")
	require.NoError(t, err)
	require.Equal(t, gateway.StatusPending, status)
}

func capturedBundle(t *testing.T, h *harness, userID uuid.UUID, tokens int64) *models.Invoice {
	t.Helper()
	ctx := context.Background()
	invoice := h.SeedBundleInvoice(t, userID, tokens, "4.99")
	order, err := h.svc.CreateOrder(ctx, payments.CreateOrderInput{Provider: mockpay.Provider, UserID: userID, InvoiceID: invoice.ID})
	require.NoError(t, err)
	_, err = h.svc.CaptureOrder(ctx, payments.CaptureInput{Provider: mockpay.Provider, UserID: userID, OrderID: order.SessionID})
	require.NoError(t, err)
	return h.Invoice(t, invoice.ID)
}

func TestRefundReversesTokens(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	userID := uuid.New()
	invoice := capturedBundle(t, h, userID, 500)
	require.Equal(t, int64(500), h.Balance(t, userID))

	res, err := h.svc.Refund(ctx, payments.RefundInput{Provider: mockpay.Provider, UserID: userID, InvoiceID: invoice.ID})
	require.NoError(t, err)
	require.Equal(t, int64(500), res.TokensDebited)
	require.True(t, strings.HasPrefix(res.RefundID, "re_mock_"))

	require.Equal(t, enums.InvoiceStatusRefunded, h.Invoice(t, invoice.ID).Status)
	require.Equal(t, int64(0), h.Balance(t, userID))

	_, err = h.svc.Refund(ctx, payments.RefundInput{Provider: mockpay.Provider, UserID: userID, InvoiceID: invoice.ID})
	requireCode(t, err, pkgerrors.CodeConflict)
}

func TestRefundDebitsCreditedGrantAfterPlanChange(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	userID := uuid.New()
	plan := h.SeedPlan(t, enums.BillingPeriodMonthly, "9.99", 100)
	invoice, _ := h.SeedSubscriptionInvoice(t, userID, plan)
	order, err := h.svc.CreateOrder(ctx, payments.CreateOrderInput{Provider: mockpay.Provider, UserID: userID, InvoiceID: invoice.ID})
	require.NoError(t, err)
	_, err = h.svc.CaptureOrder(ctx, payments.CaptureInput{Provider: mockpay.Provider, UserID: userID, OrderID: order.SubscriptionID})
	require.NoError(t, err)

	require.NoError(t, h.Client.DB().Model(plan).Update("token_grant", 150).Error)

	res, err := h.svc.Refund(ctx, payments.RefundInput{Provider: mockpay.Provider, UserID: userID, InvoiceID: invoice.ID})
	require.NoError(t, err)
	require.Equal(t, int64(100), res.TokensDebited)
	require.Equal(t, int64(0), h.Balance(t, userID))
}

func TestRefundRejectedWhenTokensSpent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	userID := uuid.New()
	invoice := capturedBundle(t, h, userID, 100)
	_, err := h.Ledger.Spend(ctx, userID, 80, uuid.New())
	require.NoError(t, err)

	_, err = h.svc.Refund(ctx, payments.RefundInput{Provider: mockpay.Provider, UserID: userID, InvoiceID: invoice.ID})
	requireCode(t, err, pkgerrors.CodeConflict)
	require.Contains(t, err.Error(), "restore 80 tokens")

	require.Equal(t, enums.InvoiceStatusPaid, h.Invoice(t, invoice.ID).Status)
	require.Equal(t, int64(20), h.Balance(t, userID))
	status, err := h.svc.SessionStatus(ctx, mockpay.Provider, userID, *invoice.ExternalRef)
	require.NoError(t, err)
	require.Equal(t, gateway.StatusPaid, status)
}

func TestRefundRequiresPaidInvoice(t *testing.T) {
	h := newHarness(t)
	userID := uuid.New()
	invoice := h.SeedBundleInvoice(t, userID, 100, "4.99")

	_, err := h.svc.Refund(context.Background(), payments.RefundInput{Provider: mockpay.Provider, UserID: userID, InvoiceID: invoice.ID})
	requireCode(t, err, pkgerrors.CodeConflict)
}

func TestTokenBalance(t *testing.T) {
	h := newHarness(t)
	userID := uuid.New()
	capturedBundle(t, h, userID, 250)

	balance, err := h.svc.TokenBalance(context.Background(), userID)
	require.NoError(t, err)
	require.Equal(t, int64(250), balance)
}

func TestWebhookCaptureIsProcessedOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	userID := uuid.New()
	invoice := h.SeedBundleInvoice(t, userID, 300, "4.99")
	order, err := h.svc.CreateOrder(ctx, payments.CreateOrderInput{Provider: mockpay.Provider, UserID: userID, InvoiceID: invoice.ID})
	require.NoError(t, err)

	in := h.webhook(t, mockpay.Event{
		ID:            "evt_1",
		Type:          string(gateway.EventPaymentSucceeded),
		SessionID:     order.SessionID,
		TransactionID: "cap_webhook_1",
		Amount:        minor(499),
		Currency:      "USD",
	})
	res, err := h.svc.HandleWebhook(ctx, in)
	require.NoError(t, err)
	require.Equal(t, payments.WebhookProcessed, res.Status)
	require.Equal(t, "evt_1", res.EventID)
	require.Equal(t, int64(300), h.Balance(t, userID))

	replay, err := h.svc.HandleWebhook(ctx, in)
	require.NoError(t, err)
	require.Equal(t, payments.WebhookDuplicate, replay.Status)

	// A redelivery under a new provider event id is caught by invoice state.
	other := h.webhook(t, mockpay.Event{
		ID:            "evt_2",
		Type:          string(gateway.EventPaymentSucceeded),
		SessionID:     order.SessionID,
		TransactionID: "cap_webhook_1",
		Amount:        minor(499),
		Currency:      "USD",
	})
	res, err = h.svc.HandleWebhook(ctx, other)
	require.NoError(t, err)
	require.Equal(t, payments.WebhookDuplicate, res.Status)
	require.Equal(t, int64(300), h.Balance(t, userID))
	require.Equal(t, int64(1), h.OutboxCount(t, enums.EventPaymentCaptured))
}

func TestWebhookConcurrentDeliveriesHaveOneEffect(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	userID := uuid.New()
	invoice := h.SeedBundleInvoice(t, userID, 300, "4.99")
	order, err := h.svc.CreateOrder(ctx, payments.CreateOrderInput{Provider: mockpay.Provider, UserID: userID, InvoiceID: invoice.ID})
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]*payments.WebhookResult, 2)
	errs := make([]error, 2)
	for i := range results {
		in := h.webhook(t, mockpay.Event{
			ID:            "evt_concurrent_" + string(rune('a'+i)),
			Type:          string(gateway.EventPaymentSucceeded),
			SessionID:     order.SessionID,
			TransactionID: "cap_concurrent",
			Amount:        minor(499),
			Currency:      "USD",
		})
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = h.svc.HandleWebhook(ctx, in)
		}(i)
	}
	wg.Wait()

	processed := 0
	for i := range results {
		require.NoError(t, errs[i])
		if results[i].Status == payments.WebhookProcessed {
			processed++
		}
	}
	require.Equal(t, 1, processed)
	require.Equal(t, int64(300), h.Balance(t, userID))
	require.Equal(t, int64(1), h.OutboxCount(t, enums.EventPaymentCaptured))
}

func TestWebhookBadSignatureHasNoEffect(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	userID := uuid.New()
	invoice := h.SeedBundleInvoice(t, userID, 300, "4.99")

	in := h.webhook(t, mockpay.Event{
		ID:        "evt_forged",
		Type:      string(gateway.EventPaymentSucceeded),
		InvoiceID: invoice.ID.String(),
		Amount:    minor(499),
		Currency:  "USD",
	})
	in.Headers.Set(mockpay.SignatureHeader, mockpay.Sign("wrong", in.Payload))

	_, err := h.svc.HandleWebhook(ctx, in)
	requireCode(t, err, pkgerrors.CodeSignature)
	require.Equal(t, enums.InvoiceStatusPending, h.Invoice(t, invoice.ID).Status)
	require.Equal(t, int64(0), h.Balance(t, userID))
	require.Empty(t, h.guards.keys)
}

func TestWebhookIgnoredAndRejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.svc.HandleWebhook(ctx, h.webhook(t, mockpay.Event{ID: "evt_dispute", Type: string(gateway.EventDisputeCreated)}))
	require.NoError(t, err)
	require.Equal(t, payments.WebhookIgnored, res.Status)

	res, err = h.svc.HandleWebhook(ctx, h.webhook(t, mockpay.Event{
		ID:        "evt_orphan",
		Type:      string(gateway.EventPaymentSucceeded),
		SessionID: "sess_mock_missing",
	}))
	require.NoError(t, err)
	require.Equal(t, payments.WebhookRejected, res.Status)
	require.NotContains(t, h.guards.keys, h.guards.WebhookKey(mockpay.Provider, "evt_orphan"))
}

func TestWebhookAmountMismatchIsRejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	userID := uuid.New()
	invoice := h.SeedBundleInvoice(t, userID, 300, "4.99")

	res, err := h.svc.HandleWebhook(ctx, h.webhook(t, mockpay.Event{
		ID:        "evt_short",
		Type:      string(gateway.EventPaymentSucceeded),
		InvoiceID: invoice.ID.String(),
		Amount:    minor(100),
		Currency:  "USD",
	}))
	require.NoError(t, err)
	require.Equal(t, payments.WebhookRejected, res.Status)
	require.Equal(t, enums.InvoiceStatusPending, h.Invoice(t, invoice.ID).Status)
}

func TestWebhookSubscriptionCancelledAndFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	userID := uuid.New()
	plan := h.SeedPlan(t, enums.BillingPeriodMonthly, "9.99", 100)
	invoice, sub := h.SeedSubscriptionInvoice(t, userID, plan)
	order, err := h.svc.CreateOrder(ctx, payments.CreateOrderInput{Provider: mockpay.Provider, UserID: userID, InvoiceID: invoice.ID})
	require.NoError(t, err)

	res, err := h.svc.HandleWebhook(ctx, h.webhook(t, mockpay.Event{
		ID:             "evt_fail",
		Type:           string(gateway.EventPaymentFailed),
		SubscriptionID: order.SubscriptionID,
		ErrorCode:      "card_declined",
		ErrorMessage:   "card declined",
	}))
	require.NoError(t, err)
	require.Equal(t, payments.WebhookProcessed, res.Status)
	failures, err := h.Invoices.ListFailures(ctx, invoice.ID)
	require.NoError(t, err)
	require.Len(t, failures, 1)

	res, err = h.svc.HandleWebhook(ctx, h.webhook(t, mockpay.Event{
		ID:             "evt_cancel",
		Type:           string(gateway.EventSubscriptionCancelled),
		SubscriptionID: order.SubscriptionID,
		Reason:         "user_request",
	}))
	require.NoError(t, err)
	require.Equal(t, payments.WebhookProcessed, res.Status)

	cancelled := h.Subscription(t, sub.ID)
	require.Equal(t, enums.SubscriptionStatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CancelReason)
	require.Equal(t, "user_request", *cancelled.CancelReason)
}

func TestIdempotencyGuardMarksAndReleases(t *testing.T) {
	store := newMemoryGuardStore()
	guard, err := payments.NewIdempotencyGuard(store, time.Minute)
	require.NoError(t, err)
	ctx := context.Background()

	seen, err := guard.CheckAndMark(ctx, "stripe", "evt_1")
	require.NoError(t, err)
	require.False(t, seen)

	seen, err = guard.CheckAndMark(ctx, "stripe", "evt_1")
	require.NoError(t, err)
	require.True(t, seen)

	seen, err = guard.CheckAndMark(ctx, "paypal", "evt_1")
	require.NoError(t, err)
	require.False(t, seen)

	require.NoError(t, guard.Delete(ctx, "stripe", "evt_1"))
	seen, err = guard.CheckAndMark(ctx, "stripe", "evt_1")
	require.NoError(t, err)
	require.False(t, seen)

	_, err = guard.CheckAndMark(ctx, "", "evt_1")
	require.Error(t, err)
}
