package payments

import (
	"github.com/google/uuid"

	"github.com/angelmondragon/paycore/pkg/db/models"
	"github.com/angelmondragon/paycore/pkg/enums"
)

// DetermineMode returns subscription when any line item renews: the item is
// flagged recurring or it points at a recurring plan. plans holds the plans
// referenced by the invoice.
func DetermineMode(invoice *models.Invoice, plans map[uuid.UUID]models.Plan) enums.PaymentMode {
	if invoice == nil {
		return enums.PaymentModePayment
	}
	for _, item := range invoice.LineItems {
		if isRecurring(item, plans) {
			return enums.PaymentModeSubscription
		}
	}
	return enums.PaymentModePayment
}

func isRecurring(item models.InvoiceLineItem, plans map[uuid.UUID]models.Plan) bool {
	if item.Recurring {
		return true
	}
	if item.PlanID == nil {
		return false
	}
	plan, ok := plans[*item.PlanID]
	return ok && plan.BillingPeriod.IsRecurring()
}
