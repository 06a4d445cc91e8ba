// Package paytest builds a fully wired payment core on sqlite for tests.
package paytest

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/paycore/internal/events"
	"github.com/angelmondragon/paycore/internal/events/handlers"
	"github.com/angelmondragon/paycore/internal/idempotency"
	"github.com/angelmondragon/paycore/internal/invoices"
	"github.com/angelmondragon/paycore/internal/ledger"
	"github.com/angelmondragon/paycore/internal/plans"
	"github.com/angelmondragon/paycore/internal/subscriptions"
	"github.com/angelmondragon/paycore/pkg/db"
	"github.com/angelmondragon/paycore/pkg/db/dbtest"
	"github.com/angelmondragon/paycore/pkg/db/models"
	"github.com/angelmondragon/paycore/pkg/enums"
	"github.com/angelmondragon/paycore/pkg/outbox"
)

// Fixture holds the repositories and dispatcher sharing one database.
type Fixture struct {
	Client        *db.Client
	Invoices      invoices.Repository
	Subscriptions subscriptions.Repository
	Plans         plans.Repository
	Ledger        ledger.Service
	Processed     idempotency.Repository
	Dispatcher    *events.Dispatcher
}

// New opens a fresh database and registers the payment handlers.
func New(t testing.TB) *Fixture {
	t.Helper()
	client := dbtest.Client(t)
	gdb := client.DB()

	ledgerSvc, err := ledger.NewService(client, ledger.NewRepository(gdb), nil)
	require.NoError(t, err)

	f := &Fixture{
		Client:        client,
		Invoices:      invoices.NewRepository(gdb),
		Subscriptions: subscriptions.NewRepository(gdb),
		Plans:         plans.NewRepository(gdb),
		Ledger:        ledgerSvc,
		Processed:     idempotency.NewRepository(gdb),
	}
	f.Dispatcher, err = events.NewDispatcher(events.DispatcherParams{
		DB:        client,
		Processed: f.Processed,
		Outbox:    outbox.NewService(outbox.NewRepository(gdb), nil),
	})
	require.NoError(t, err)
	handlers.Register(f.Dispatcher, handlers.Deps{
		Invoices:      f.Invoices,
		Subscriptions: f.Subscriptions,
		Plans:         f.Plans,
		Ledger:        f.Ledger,
	})
	return f
}

// HandlerDeps returns handler dependencies bound to the fixture.
func (f *Fixture) HandlerDeps() handlers.Deps {
	return handlers.Deps{
		Invoices:      f.Invoices,
		Subscriptions: f.Subscriptions,
		Plans:         f.Plans,
		Ledger:        f.Ledger,
	}
}

// SeedPlan stores a plan priced in USD.
func (f *Fixture) SeedPlan(t testing.TB, period enums.BillingPeriod, price string, grant int64) *models.Plan {
	t.Helper()
	plan := &models.Plan{
		Name:          "Plan " + string(period),
		BillingPeriod: period,
		Price:         decimal.RequireFromString(price),
		Currency:      "USD",
		TokenGrant:    grant,
	}
	require.NoError(t, f.Plans.Create(context.Background(), plan))
	return plan
}

// SeedSubscriptionInvoice stores a pending subscription and the pending
// invoice that pays for it.
func (f *Fixture) SeedSubscriptionInvoice(t testing.TB, userID uuid.UUID, plan *models.Plan) (*models.Invoice, *models.Subscription) {
	t.Helper()
	sub := &models.Subscription{UserID: userID, PlanID: plan.ID}
	require.NoError(t, f.Subscriptions.Create(context.Background(), sub))

	planID := plan.ID
	subID := sub.ID
	invoice := &models.Invoice{
		UserID:      userID,
		TotalAmount: plan.Price,
		Currency:    plan.Currency,
		LineItems: []models.InvoiceLineItem{{
			Kind:           enums.LineItemKindPlan,
			PlanID:         &planID,
			SubscriptionID: &subID,
			Description:    plan.Name,
			Quantity:       1,
			UnitAmount:     plan.Price,
			Recurring:      plan.BillingPeriod.IsRecurring(),
		}},
	}
	require.NoError(t, f.Invoices.Create(context.Background(), invoice))
	return invoice, sub
}

// SeedBundleInvoice stores a pending invoice for a token bundle.
func (f *Fixture) SeedBundleInvoice(t testing.TB, userID uuid.UUID, tokens int64, price string) *models.Invoice {
	t.Helper()
	amount := decimal.RequireFromString(price)
	invoice := &models.Invoice{
		UserID:      userID,
		TotalAmount: amount,
		Currency:    "USD",
		LineItems: []models.InvoiceLineItem{{
			Kind:        enums.LineItemKindTokenBundle,
			Description: "token bundle",
			Quantity:    1,
			UnitAmount:  amount,
			TokenAmount: tokens,
		}},
	}
	require.NoError(t, f.Invoices.Create(context.Background(), invoice))
	return invoice
}

// Invoice reloads an invoice.
func (f *Fixture) Invoice(t testing.TB, id uuid.UUID) *models.Invoice {
	t.Helper()
	invoice, err := f.Invoices.FindByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, invoice)
	return invoice
}

// Subscription reloads a subscription.
func (f *Fixture) Subscription(t testing.TB, id uuid.UUID) *models.Subscription {
	t.Helper()
	sub, err := f.Subscriptions.FindByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, sub)
	return sub
}

// Balance returns the user's token balance.
func (f *Fixture) Balance(t testing.TB, userID uuid.UUID) int64 {
	t.Helper()
	balance, err := f.Ledger.Balance(context.Background(), userID)
	require.NoError(t, err)
	return balance
}

// OutboxCount counts queued outbox rows of one type.
func (f *Fixture) OutboxCount(t testing.TB, eventType enums.OutboxEventType) int64 {
	t.Helper()
	var count int64
	require.NoError(t, f.Client.DB().Model(&models.OutboxEvent{}).Where("event_type = ?", eventType).Count(&count).Error)
	return count
}
