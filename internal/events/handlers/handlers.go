// Package handlers applies canonical payment events to invoices,
// subscriptions and the token ledger.
package handlers

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/paycore/internal/events"
	"github.com/angelmondragon/paycore/internal/invoices"
	"github.com/angelmondragon/paycore/internal/ledger"
	"github.com/angelmondragon/paycore/internal/plans"
	"github.com/angelmondragon/paycore/internal/subscriptions"
	"github.com/angelmondragon/paycore/pkg/db/models"
	pkgerrors "github.com/angelmondragon/paycore/pkg/errors"
	"github.com/angelmondragon/paycore/pkg/logger"
)

// Registrar accepts handlers by event name.
type Registrar interface {
	Register(name string, handler events.Handler)
}

// Deps are the repositories shared by every handler.
type Deps struct {
	Invoices      invoices.Repository
	Subscriptions subscriptions.Repository
	Plans         plans.Repository
	Ledger        ledger.Service
	Logger        *logger.Logger
	Now           func() time.Time
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now().UTC()
	}
	return time.Now().UTC()
}

func (d Deps) event(ctx context.Context, name, msg string, fields map[string]any) {
	if d.Logger == nil {
		return
	}
	d.Logger.Event(d.Logger.WithFields(ctx, fields), name, msg)
}

// Register wires the four payment handlers.
func Register(reg Registrar, deps Deps) {
	reg.Register(events.NamePaymentCaptured, &PaymentCapturedHandler{deps})
	reg.Register(events.NamePaymentFailed, &PaymentFailedHandler{deps})
	reg.Register(events.NamePaymentRefunded, &RefundHandler{deps})
	reg.Register(events.NameSubscriptionCancelled, &SubscriptionCancelledHandler{deps})
}

func unexpected(event events.Event, want string) error {
	return pkgerrors.Newf(pkgerrors.CodeInternal, "%s handler received %T", want, event)
}

func lockInvoice(ctx context.Context, tx *gorm.DB, repo invoices.Repository, id uuid.UUID) (*models.Invoice, error) {
	invoice, err := repo.WithTx(tx).FindByIDForUpdate(ctx, id)
	if err != nil {
		return nil, err
	}
	if invoice == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "invoice not found")
	}
	return invoice, nil
}

// planFor resolves the plan behind a subscription line item.
func planFor(ctx context.Context, tx *gorm.DB, repo plans.Repository, item models.InvoiceLineItem, sub *models.Subscription) (*models.Plan, error) {
	planID := sub.PlanID
	if item.PlanID != nil {
		planID = *item.PlanID
	}
	plan, err := repo.WithTx(tx).FindByID(ctx, planID)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "plan not found")
	}
	return plan, nil
}
