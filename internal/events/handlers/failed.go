package handlers

import (
	"context"

	"gorm.io/gorm"

	"github.com/angelmondragon/paycore/internal/events"
	"github.com/angelmondragon/paycore/pkg/db/models"
)

// PaymentFailedHandler records the failure. Invoice and subscription status
// are left alone.
type PaymentFailedHandler struct {
	Deps
}

func (h *PaymentFailedHandler) Handle(ctx context.Context, tx *gorm.DB, event events.Event) error {
	failed, ok := event.(events.PaymentFailed)
	if !ok {
		return unexpected(event, events.NamePaymentFailed)
	}
	row := &models.PaymentFailure{
		Provider:       failed.ProviderName,
		InvoiceID:      failed.InvoiceID,
		SubscriptionID: failed.SubscriptionID,
		UserID:         failed.UserID,
		ErrorCode:      failed.ErrorCode,
		ErrorMessage:   failed.ErrorMessage,
	}
	if err := h.Invoices.WithTx(tx).RecordFailure(ctx, row); err != nil {
		return err
	}
	h.event(ctx, "payment.failed", "payment failure recorded", map[string]any{
		"provider":   failed.ProviderName,
		"error_code": failed.ErrorCode,
	})
	return nil
}
