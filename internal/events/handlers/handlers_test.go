package handlers_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/paycore/internal/events"
	"github.com/angelmondragon/paycore/internal/events/handlers"
	"github.com/angelmondragon/paycore/internal/ledger"
	"github.com/angelmondragon/paycore/internal/paytest"
	"github.com/angelmondragon/paycore/pkg/enums"
	pkgerrors "github.com/angelmondragon/paycore/pkg/errors"
	"github.com/angelmondragon/paycore/pkg/money"
	"github.com/angelmondragon/paycore/pkg/pagination"
)

func usd(t *testing.T, value string) *money.Amount {
	t.Helper()
	amount, err := money.New(decimal.RequireFromString(value), "USD")
	require.NoError(t, err)
	return &amount
}

func TestPaymentCapturedActivatesSubscriptionAndCredits(t *testing.T) {
	f := paytest.New(t)
	ctx := context.Background()
	userID := uuid.New()
	plan := f.SeedPlan(t, enums.BillingPeriodMonthly, "9.99", 100)
	invoice, sub := f.SeedSubscriptionInvoice(t, userID, plan)

	err := f.Dispatcher.Emit(ctx, events.PaymentCaptured{
		InvoiceID:       invoice.ID,
		TransactionID:   "cap_1",
		Amount:          usd(t, "9.99"),
		ProviderName:    "mock",
		SubscriptionRef: "sub_ext_1",
	})
	require.NoError(t, err)

	paid := f.Invoice(t, invoice.ID)
	require.Equal(t, enums.InvoiceStatusPaid, paid.Status)
	require.NotNil(t, paid.CaptureRef)
	require.Equal(t, "cap_1", *paid.CaptureRef)
	require.NotNil(t, paid.PaidAt)

	active := f.Subscription(t, sub.ID)
	require.Equal(t, enums.SubscriptionStatusActive, active.Status)
	require.NotNil(t, active.ExternalSubscriptionID)
	require.Equal(t, "sub_ext_1", *active.ExternalSubscriptionID)
	require.NotNil(t, active.StartedAt)
	require.NotNil(t, active.ExpiresAt)
	require.Equal(t, active.StartedAt.AddDate(0, 1, 0).Unix(), active.ExpiresAt.Unix())

	require.Equal(t, int64(100), f.Balance(t, userID))
	page, err := f.Ledger.Transactions(ctx, userID, pagination.Params{Limit: 10})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	require.Equal(t, enums.TokenTransactionSubscription, page.Items[0].Type)
	require.Equal(t, int64(1), f.OutboxCount(t, enums.EventPaymentCaptured))
}

func TestPaymentCapturedOneTimePlanNeverExpires(t *testing.T) {
	f := paytest.New(t)
	plan := f.SeedPlan(t, enums.BillingPeriodOneTime, "5.00", 0)
	invoice, sub := f.SeedSubscriptionInvoice(t, uuid.New(), plan)

	require.NoError(t, f.Dispatcher.Emit(context.Background(), events.PaymentCaptured{
		InvoiceID:    invoice.ID,
		Amount:       usd(t, "5.00"),
		ProviderName: "mock",
	}))
	active := f.Subscription(t, sub.ID)
	require.Equal(t, enums.SubscriptionStatusActive, active.Status)
	require.Nil(t, active.ExpiresAt)
	require.Equal(t, int64(0), f.Balance(t, invoice.UserID))
}

func TestPaymentCapturedBundleCreditsPurchase(t *testing.T) {
	f := paytest.New(t)
	userID := uuid.New()
	invoice := f.SeedBundleInvoice(t, userID, 250, "19.99")

	require.NoError(t, f.Dispatcher.Emit(context.Background(), events.PaymentCaptured{
		InvoiceID:    invoice.ID,
		Amount:       usd(t, "19.99"),
		ProviderName: "stripe",
	}))
	require.Equal(t, int64(250), f.Balance(t, userID))
	paid := f.Invoice(t, invoice.ID)
	require.NotNil(t, paid.Provider)
	require.Equal(t, "stripe", *paid.Provider)
}

func TestPaymentCapturedAmountMismatchIsConflict(t *testing.T) {
	f := paytest.New(t)
	userID := uuid.New()
	invoice := f.SeedBundleInvoice(t, userID, 250, "19.99")

	err := f.Dispatcher.Emit(context.Background(), events.PaymentCaptured{
		InvoiceID:    invoice.ID,
		Amount:       usd(t, "1.00"),
		ProviderName: "stripe",
	})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))
	require.Equal(t, enums.InvoiceStatusPending, f.Invoice(t, invoice.ID).Status)
	require.Equal(t, int64(0), f.Balance(t, userID))
	require.Equal(t, int64(0), f.OutboxCount(t, enums.EventPaymentCaptured))
}

func TestPaymentCapturedNoOpWhenNotPending(t *testing.T) {
	f := paytest.New(t)
	userID := uuid.New()
	invoice := f.SeedBundleInvoice(t, userID, 10, "1.00")

	require.NoError(t, f.Dispatcher.Emit(context.Background(), events.PaymentCaptured{InvoiceID: invoice.ID, ProviderName: "mock"}))
	// A different provider claims a new key, reaching the handler with a paid invoice.
	require.NoError(t, f.Dispatcher.Emit(context.Background(), events.PaymentCaptured{InvoiceID: invoice.ID, ProviderName: "stripe"}))
	require.Equal(t, int64(10), f.Balance(t, userID))
}

func TestPaymentCapturedReplayHasOneEffect(t *testing.T) {
	f := paytest.New(t)
	userID := uuid.New()
	invoice := f.SeedBundleInvoice(t, userID, 10, "1.00")
	event := events.PaymentCaptured{InvoiceID: invoice.ID, Amount: usd(t, "1.00"), ProviderName: "mock"}

	require.NoError(t, f.Dispatcher.Emit(context.Background(), event))
	require.ErrorIs(t, f.Dispatcher.Emit(context.Background(), event), events.ErrAlreadyProcessed)
	require.Equal(t, int64(10), f.Balance(t, userID))
}

func TestPaymentFailedRecordsFailureOnly(t *testing.T) {
	f := paytest.New(t)
	userID := uuid.New()
	invoice := f.SeedBundleInvoice(t, userID, 10, "1.00")

	require.NoError(t, f.Dispatcher.Emit(context.Background(), events.PaymentFailed{
		EventID:      "evt_fail_1",
		InvoiceID:    &invoice.ID,
		UserID:       &userID,
		ErrorCode:    "card_declined",
		ErrorMessage: "Your card was declined.",
		ProviderName: "stripe",
	}))

	failures, err := f.Invoices.ListFailures(context.Background(), invoice.ID)
	require.NoError(t, err)
	require.Len(t, failures, 1)
	require.Equal(t, "card_declined", failures[0].ErrorCode)
	require.Equal(t, enums.InvoiceStatusPending, f.Invoice(t, invoice.ID).Status)
	require.Equal(t, int64(1), f.OutboxCount(t, enums.EventPaymentFailed))
}

func TestSubscriptionCancelledIsIdempotent(t *testing.T) {
	f := paytest.New(t)
	userID := uuid.New()
	plan := f.SeedPlan(t, enums.BillingPeriodMonthly, "9.99", 100)
	invoice, sub := f.SeedSubscriptionInvoice(t, userID, plan)
	require.NoError(t, f.Dispatcher.Emit(context.Background(), events.PaymentCaptured{InvoiceID: invoice.ID, ProviderName: "mock"}))

	handler := &handlers.SubscriptionCancelledHandler{Deps: f.HandlerDeps()}
	event := events.SubscriptionCancelled{SubscriptionID: sub.ID, UserID: userID, Reason: "user_request", ProviderName: "mock"}
	for i := 0; i < 2; i++ {
		require.NoError(t, f.Client.WithTx(context.Background(), func(tx *gorm.DB) error {
			return handler.Handle(context.Background(), tx, event)
		}))
	}
	cancelled := f.Subscription(t, sub.ID)
	require.Equal(t, enums.SubscriptionStatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CancelReason)
	require.Equal(t, "user_request", *cancelled.CancelReason)
	require.Equal(t, int64(100), f.Balance(t, userID))
}

func TestRefundReversesSubscriptionInvoice(t *testing.T) {
	f := paytest.New(t)
	ctx := context.Background()
	userID := uuid.New()
	plan := f.SeedPlan(t, enums.BillingPeriodMonthly, "9.99", 100)
	invoice, sub := f.SeedSubscriptionInvoice(t, userID, plan)
	require.NoError(t, f.Dispatcher.Emit(ctx, events.PaymentCaptured{InvoiceID: invoice.ID, ProviderName: "mock"}))

	require.NoError(t, f.Dispatcher.Emit(ctx, events.PaymentRefunded{InvoiceID: invoice.ID, RefundID: "re_1", ProviderName: "mock"}))

	refunded := f.Invoice(t, invoice.ID)
	require.Equal(t, enums.InvoiceStatusRefunded, refunded.Status)
	require.NotNil(t, refunded.RefundedAt)
	require.Equal(t, enums.SubscriptionStatusCancelled, f.Subscription(t, sub.ID).Status)
	require.Equal(t, int64(0), f.Balance(t, userID))

	page, err := f.Ledger.Transactions(ctx, userID, pagination.Params{Limit: 10})
	require.NoError(t, err)
	var refundRows int
	for _, txn := range page.Items {
		if txn.Type == enums.TokenTransactionRefund {
			refundRows++
			require.Equal(t, int64(-100), txn.Amount)
		}
	}
	require.Equal(t, 1, refundRows)
}

func TestRefundReversesWhatCaptureCredited(t *testing.T) {
	for _, grant := range []int64{40, 150} {
		f := paytest.New(t)
		ctx := context.Background()
		userID := uuid.New()
		plan := f.SeedPlan(t, enums.BillingPeriodMonthly, "9.99", 100)
		invoice, _ := f.SeedSubscriptionInvoice(t, userID, plan)
		require.NoError(t, f.Dispatcher.Emit(ctx, events.PaymentCaptured{InvoiceID: invoice.ID, ProviderName: "mock"}))

		// plan edits after purchase must not change what the refund takes back
		require.NoError(t, f.Client.DB().Model(plan).Update("token_grant", grant).Error)

		require.NoError(t, f.Dispatcher.Emit(ctx, events.PaymentRefunded{InvoiceID: invoice.ID, RefundID: "re_1", ProviderName: "mock"}))
		require.Equal(t, enums.InvoiceStatusRefunded, f.Invoice(t, invoice.ID).Status)
		require.Equal(t, int64(0), f.Balance(t, userID), "grant changed to %d", grant)
	}
}

func TestRefundRejectedWhenTokensSpent(t *testing.T) {
	f := paytest.New(t)
	ctx := context.Background()
	userID := uuid.New()
	plan := f.SeedPlan(t, enums.BillingPeriodMonthly, "9.99", 100)
	invoice, sub := f.SeedSubscriptionInvoice(t, userID, plan)
	require.NoError(t, f.Dispatcher.Emit(ctx, events.PaymentCaptured{InvoiceID: invoice.ID, ProviderName: "mock"}))
	_, err := f.Ledger.Spend(ctx, userID, 80, uuid.New())
	require.NoError(t, err)

	err = f.Dispatcher.Emit(ctx, events.PaymentRefunded{InvoiceID: invoice.ID, ProviderName: "mock"})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))
	require.Contains(t, err.Error(), "restore 80 tokens")
	details, ok := pkgerrors.As(err).Details().(ledger.InsufficientBalance)
	require.True(t, ok)
	require.Equal(t, int64(80), details.Shortfall)

	require.Equal(t, enums.InvoiceStatusPaid, f.Invoice(t, invoice.ID).Status)
	require.Equal(t, enums.SubscriptionStatusActive, f.Subscription(t, sub.ID).Status)
	require.Equal(t, int64(20), f.Balance(t, userID))
	require.Equal(t, int64(0), f.OutboxCount(t, enums.EventPaymentRefunded))
}

func TestRefundRequiresPaidInvoice(t *testing.T) {
	f := paytest.New(t)
	invoice := f.SeedBundleInvoice(t, uuid.New(), 10, "1.00")

	err := f.Dispatcher.Emit(context.Background(), events.PaymentRefunded{InvoiceID: invoice.ID, ProviderName: "mock"})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))

	err = f.Dispatcher.Emit(context.Background(), events.PaymentRefunded{InvoiceID: uuid.New(), ProviderName: "mock"})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestRefundOfRefundedInvoiceIsNoOp(t *testing.T) {
	f := paytest.New(t)
	userID := uuid.New()
	invoice := f.SeedBundleInvoice(t, userID, 10, "1.00")
	require.NoError(t, f.Dispatcher.Emit(context.Background(), events.PaymentCaptured{InvoiceID: invoice.ID, ProviderName: "mock"}))
	require.NoError(t, f.Dispatcher.Emit(context.Background(), events.PaymentRefunded{InvoiceID: invoice.ID, ProviderName: "mock"}))

	handler := &handlers.RefundHandler{Deps: f.HandlerDeps()}
	require.NoError(t, f.Client.WithTx(context.Background(), func(tx *gorm.DB) error {
		return handler.Handle(context.Background(), tx, events.PaymentRefunded{InvoiceID: invoice.ID, ProviderName: "mock"})
	}))
	require.Equal(t, int64(0), f.Balance(t, userID))
}

func TestHandlersUseInjectedClock(t *testing.T) {
	f := paytest.New(t)
	fixed := time.Date(2025, 1, 31, 12, 0, 0, 0, time.UTC)
	deps := f.HandlerDeps()
	deps.Now = func() time.Time { return fixed }
	plan := f.SeedPlan(t, enums.BillingPeriodMonthly, "9.99", 0)
	invoice, sub := f.SeedSubscriptionInvoice(t, uuid.New(), plan)

	handler := &handlers.PaymentCapturedHandler{Deps: deps}
	require.NoError(t, f.Client.WithTx(context.Background(), func(tx *gorm.DB) error {
		return handler.Handle(context.Background(), tx, events.PaymentCaptured{InvoiceID: invoice.ID, ProviderName: "mock"})
	}))
	active := f.Subscription(t, sub.ID)
	require.Equal(t, fixed.Unix(), active.StartedAt.Unix())
	require.Equal(t, time.Date(2025, 3, 3, 12, 0, 0, 0, time.UTC).Unix(), active.ExpiresAt.Unix())
}

func TestTokensToReverseSumsGrantsAndBundles(t *testing.T) {
	f := paytest.New(t)
	plan := f.SeedPlan(t, enums.BillingPeriodYearly, "99.00", 1200)
	invoice, _ := f.SeedSubscriptionInvoice(t, uuid.New(), plan)
	loaded := f.Invoice(t, invoice.ID)

	total, err := handlers.TokensToReverse(context.Background(), f.Client.DB(), f.HandlerDeps(), loaded)
	require.NoError(t, err)
	require.Equal(t, int64(1200), total)
}
