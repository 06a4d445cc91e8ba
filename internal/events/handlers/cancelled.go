package handlers

import (
	"context"

	"gorm.io/gorm"

	"github.com/angelmondragon/paycore/internal/events"
	pkgerrors "github.com/angelmondragon/paycore/pkg/errors"
)

// SubscriptionCancelledHandler cancels the subscription. It never touches the
// ledger.
type SubscriptionCancelledHandler struct {
	Deps
}

func (h *SubscriptionCancelledHandler) Handle(ctx context.Context, tx *gorm.DB, event events.Event) error {
	cancelled, ok := event.(events.SubscriptionCancelled)
	if !ok {
		return unexpected(event, events.NameSubscriptionCancelled)
	}
	subs := h.Subscriptions.WithTx(tx)
	sub, err := subs.FindByIDForUpdate(ctx, cancelled.SubscriptionID)
	if err != nil {
		return err
	}
	if sub == nil {
		return pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
	}
	if sub.Status.IsTerminal() {
		return nil
	}
	if err := subs.Cancel(ctx, sub.ID, sub.Status, cancelled.Reason, h.now()); err != nil {
		return err
	}
	h.event(ctx, "subscription.cancelled", "subscription cancelled", map[string]any{
		"subscription_id": sub.ID.String(),
		"reason":          cancelled.Reason,
	})
	return nil
}
