package handlers

import (
	"context"

	"gorm.io/gorm"

	"github.com/angelmondragon/paycore/internal/events"
	"github.com/angelmondragon/paycore/internal/invoices"
	"github.com/angelmondragon/paycore/internal/ledger"
	"github.com/angelmondragon/paycore/internal/subscriptions"
	"github.com/angelmondragon/paycore/pkg/db/models"
	"github.com/angelmondragon/paycore/pkg/enums"
	pkgerrors "github.com/angelmondragon/paycore/pkg/errors"
)

// PaymentCapturedHandler marks a pending invoice paid, activates its
// subscriptions and credits the tokens it bought.
type PaymentCapturedHandler struct {
	Deps
}

func (h *PaymentCapturedHandler) Handle(ctx context.Context, tx *gorm.DB, event events.Event) error {
	captured, ok := event.(events.PaymentCaptured)
	if !ok {
		return unexpected(event, events.NamePaymentCaptured)
	}
	invoice, err := lockInvoice(ctx, tx, h.Invoices, captured.InvoiceID)
	if err != nil {
		return err
	}
	fields := map[string]any{"invoice_id": invoice.ID.String(), "provider": captured.ProviderName}
	if invoice.Status != enums.InvoiceStatusPending {
		h.event(ctx, "payment.capture_skipped", "invoice no longer pending", fields)
		return nil
	}

	if captured.Amount == nil {
		if h.Logger != nil {
			h.Logger.Warn(h.Logger.WithFields(ctx, fields), "captured amount missing; skipping total check")
		}
	} else if total := invoice.Total(); !captured.Amount.Equal(total) {
		return pkgerrors.New(pkgerrors.CodeConflict, "captured amount does not match invoice total").
			WithDetails(map[string]string{
				"expected": total.String(),
				"captured": captured.Amount.String(),
			})
	}

	now := h.now()
	for _, item := range invoice.LineItems {
		if item.SubscriptionID != nil {
			if err := h.activate(ctx, tx, invoice, item, captured.SubscriptionRef, captured.ProviderName); err != nil {
				return err
			}
		}
		if tokens := item.BundleTokens(); tokens > 0 {
			_, err := h.Ledger.Credit(ctx, tx, ledger.CreditInput{
				UserID:      invoice.UserID,
				Amount:      tokens,
				Type:        enums.TokenTransactionPurchase,
				ReferenceID: item.ID,
			})
			if err != nil {
				return err
			}
		}
	}

	err = h.Invoices.WithTx(tx).Transition(ctx, invoice.ID, enums.InvoiceStatusPending, enums.InvoiceStatusPaid, invoices.TransitionChanges{
		At:         now,
		Provider:   captured.ProviderName,
		CaptureRef: captured.TransactionID,
	})
	if err != nil {
		return err
	}
	h.event(ctx, "invoice.paid", "invoice paid", fields)
	return nil
}

func (h *PaymentCapturedHandler) activate(ctx context.Context, tx *gorm.DB, invoice *models.Invoice, item models.InvoiceLineItem, externalRef, provider string) error {
	subs := h.Subscriptions.WithTx(tx)
	sub, err := subs.FindByIDForUpdate(ctx, *item.SubscriptionID)
	if err != nil {
		return err
	}
	if sub == nil {
		return pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
	}
	if sub.Status == enums.SubscriptionStatusActive {
		return nil
	}
	plan, err := planFor(ctx, tx, h.Plans, item, sub)
	if err != nil {
		return err
	}

	started := h.now()
	input := subscriptions.ActivateInput{Provider: provider, ExternalID: externalRef, StartedAt: started}
	if expires, ok := plan.BillingPeriod.Advance(started); ok {
		input.ExpiresAt = &expires
	}
	if err := subs.Activate(ctx, sub.ID, input); err != nil {
		return err
	}
	if plan.TokenGrant > 0 {
		_, err := h.Ledger.Credit(ctx, tx, ledger.CreditInput{
			UserID:      invoice.UserID,
			Amount:      plan.TokenGrant,
			Type:        enums.TokenTransactionSubscription,
			ReferenceID: sub.ID,
		})
		if err != nil {
			return err
		}
	}
	h.event(ctx, "subscription.activated", "subscription activated", map[string]any{
		"subscription_id": sub.ID.String(),
		"plan_id":         plan.ID.String(),
	})
	return nil
}
