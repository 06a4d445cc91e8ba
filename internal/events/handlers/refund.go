package handlers

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/paycore/internal/events"
	"github.com/angelmondragon/paycore/internal/invoices"
	"github.com/angelmondragon/paycore/internal/ledger"
	"github.com/angelmondragon/paycore/pkg/db/models"
	"github.com/angelmondragon/paycore/pkg/enums"
	pkgerrors "github.com/angelmondragon/paycore/pkg/errors"
)

// RefundHandler reverses a paid invoice: it takes back the granted tokens and
// cancels the linked subscriptions.
type RefundHandler struct {
	Deps
}

func (h *RefundHandler) Handle(ctx context.Context, tx *gorm.DB, event events.Event) error {
	refunded, ok := event.(events.PaymentRefunded)
	if !ok {
		return unexpected(event, events.NamePaymentRefunded)
	}
	invoice, err := lockInvoice(ctx, tx, h.Invoices, refunded.InvoiceID)
	if err != nil {
		return err
	}
	switch invoice.Status {
	case enums.InvoiceStatusRefunded:
		return nil
	case enums.InvoiceStatusPaid:
	default:
		return pkgerrors.New(pkgerrors.CodeStateConflict, "invoice is not paid")
	}

	debit, err := TokensToReverse(ctx, tx, h.Deps, invoice)
	if err != nil {
		return err
	}
	if debit > 0 {
		balance, err := h.Ledger.BalanceTx(ctx, tx, invoice.UserID)
		if err != nil {
			return err
		}
		if balance < debit {
			return InsufficientForRefund(balance, debit)
		}
	}

	now := h.now()
	err = h.Invoices.WithTx(tx).Transition(ctx, invoice.ID, enums.InvoiceStatusPaid, enums.InvoiceStatusRefunded, invoices.TransitionChanges{At: now})
	if err != nil {
		return err
	}
	subs := h.Subscriptions.WithTx(tx)
	for _, item := range invoice.LineItems {
		if item.SubscriptionID == nil {
			continue
		}
		sub, err := subs.FindByIDForUpdate(ctx, *item.SubscriptionID)
		if err != nil {
			return err
		}
		if sub == nil || !sub.Status.CanTransitionTo(enums.SubscriptionStatusCancelled) {
			continue
		}
		if err := subs.Cancel(ctx, sub.ID, sub.Status, "refunded", now); err != nil {
			return err
		}
	}
	if debit > 0 {
		_, err := h.Ledger.Debit(ctx, tx, ledger.DebitInput{
			UserID:      invoice.UserID,
			Amount:      debit,
			Type:        enums.TokenTransactionRefund,
			ReferenceID: invoice.ID,
		})
		if err != nil {
			return err
		}
	}
	h.event(ctx, "invoice.refunded", "invoice refunded", map[string]any{
		"invoice_id":     invoice.ID.String(),
		"refund_id":      refunded.RefundID,
		"tokens_debited": debit,
	})
	return nil
}

// TokensToReverse sums the tokens the invoice's capture credited: purchase
// rows keyed by line item and subscription rows keyed by subscription.
func TokensToReverse(ctx context.Context, tx *gorm.DB, deps Deps, invoice *models.Invoice) (int64, error) {
	refs := make([]uuid.UUID, 0, 2*len(invoice.LineItems))
	for _, item := range invoice.LineItems {
		refs = append(refs, item.ID)
		if item.SubscriptionID != nil {
			refs = append(refs, *item.SubscriptionID)
		}
	}
	return deps.Ledger.Granted(ctx, tx, invoice.UserID, refs...)
}

// InsufficientForRefund is the Conflict returned when the user already spent
// tokens the refund would take back.
func InsufficientForRefund(balance, required int64) error {
	shortfall := required - balance
	return pkgerrors.New(pkgerrors.CodeConflict,
		fmt.Sprintf("insufficient token balance: restore %d tokens before retrying the refund", shortfall)).
		WithDetails(ledger.InsufficientBalance{
			Reason:    ledger.ReasonInsufficientBalance,
			Balance:   balance,
			Required:  required,
			Shortfall: shortfall,
		})
}
