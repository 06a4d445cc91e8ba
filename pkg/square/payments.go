package square

import (
	"context"
	"strings"

	sq "github.com/square/square-go-sdk"

	pkgerrors "github.com/angelmondragon/paycore/pkg/errors"
	"github.com/angelmondragon/paycore/pkg/gateway"
	"github.com/angelmondragon/paycore/pkg/money"
)

const (
	paymentApproved  = "APPROVED"
	paymentPending   = "PENDING"
	paymentCompleted = "COMPLETED"
	paymentCanceled  = "CANCELED"
	paymentFailed    = "FAILED"
)

// Metadata keys the caller supplies for Square subscriptions.
const (
	MetadataCustomerID = "customer_id"
	MetadataCardID     = "card_id"
)

func (a *Adapter) call(ctx context.Context, op string, safe bool, fn func(ctx context.Context) error) (*gateway.Outcome, error) {
	var declined *gateway.Outcome
	err := a.retrier.Do(ctx, gateway.Call{Provider: Provider, Operation: op, Safe: safe}, func(ctx context.Context) error {
		declined = nil
		err := fn(ctx)
		if err == nil {
			return nil
		}
		a.log(ctx, "error", op, map[string]any{"error": err.Error()})
		outcome, cerr := a.classify(err, op)
		if outcome != nil {
			declined = outcome
			return nil
		}
		return cerr
	})
	return declined, err
}

// CreatePaymentIntent authorizes the card source without completing it.
func (a *Adapter) CreatePaymentIntent(ctx context.Context, req gateway.PaymentIntentRequest) (gateway.PaymentIntentResult, error) {
	if strings.TrimSpace(req.SourceID) == "" {
		return gateway.PaymentIntentResult{}, pkgerrors.New(pkgerrors.CodeValidation, "square payments require a source id")
	}
	minor, err := money.ToMinorUnits(req.Amount)
	if err != nil {
		return gateway.PaymentIntentResult{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid amount")
	}

	params := PaymentCreateParams{
		AmountMinor:    minor,
		Currency:       req.Amount.Currency,
		LocationID:     a.locationID,
		SourceID:       req.SourceID,
		IdempotencyKey: req.IdempotencyKey,
		Note:           req.Description,
		ReferenceID:    req.Metadata[gateway.MetadataInvoiceID],
	}
	if params.IdempotencyKey == "" {
		params.IdempotencyKey = gateway.IdempotencyKey(Provider, "create", params.ReferenceID, req.SourceID)
	}
	a.log(ctx, "request", "create_payment", map[string]any{
		"location_id":  params.LocationID,
		"reference_id": params.ReferenceID,
		"amount":       minor,
		"source_id":    params.SourceID,
	})

	var payment *sq.Payment
	declined, err := a.call(ctx, "create_payment", true, func(ctx context.Context) error {
		resp, callErr := a.sdk.Payments.Create(ctx, params.toSquareRequest())
		if callErr != nil {
			return callErr
		}
		payment = resp.GetPayment()
		return nil
	})
	if err != nil {
		return gateway.PaymentIntentResult{}, err
	}
	if declined != nil {
		return gateway.PaymentIntentResult{Outcome: *declined}, nil
	}

	status := stringOf(payment.GetStatus())
	a.log(ctx, "response", "create_payment", map[string]any{"payment_id": stringOf(payment.GetID()), "status": status})
	if status == paymentFailed || status == paymentCanceled {
		return gateway.PaymentIntentResult{Outcome: gateway.Declined("payment_"+strings.ToLower(status), "square did not authorize the payment")}, nil
	}
	return gateway.PaymentIntentResult{Outcome: gateway.Succeeded(), SessionID: stringOf(payment.GetID())}, nil
}

// CaptureOrder completes an approved payment. Completing twice is reported as
// the already-completed payment.
func (a *Adapter) CaptureOrder(ctx context.Context, orderID string) (gateway.CaptureResult, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return gateway.CaptureResult{}, pkgerrors.New(pkgerrors.CodeValidation, "payment id is required")
	}
	a.log(ctx, "request", "complete_payment", map[string]any{"payment_id": orderID})

	var payment *sq.Payment
	declined, err := a.call(ctx, "complete_payment", true, func(ctx context.Context) error {
		resp, callErr := a.sdk.Payments.Complete(ctx, &sq.CompletePaymentRequest{PaymentID: orderID})
		if callErr != nil {
			return callErr
		}
		payment = resp.GetPayment()
		return nil
	})
	if err != nil {
		if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) && !pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) {
			return gateway.CaptureResult{}, err
		}
		// Square refuses to complete a completed payment; read it back instead.
		status, statusErr := a.GetStatus(ctx, orderID)
		if statusErr != nil {
			return gateway.CaptureResult{}, err
		}
		if status.OK && status.Status == gateway.StatusPaid {
			return gateway.CaptureResult{Outcome: gateway.Succeeded(), CaptureID: orderID, Status: status.Status, Amount: status.Amount}, nil
		}
		return gateway.CaptureResult{}, err
	}
	if declined != nil {
		return gateway.CaptureResult{Outcome: *declined, Status: gateway.StatusFailed}, nil
	}

	result := gateway.CaptureResult{
		CaptureID: stringOf(payment.GetID()),
		Status:    paymentStatus(payment),
		Amount:    paymentAmount(payment),
	}
	if result.Status == gateway.StatusPaid {
		result.Outcome = gateway.Succeeded()
	} else {
		result.Outcome = gateway.Declined("capture_incomplete", "square payment status "+strings.ToLower(stringOf(payment.GetStatus())))
	}
	a.log(ctx, "response", "complete_payment", map[string]any{"payment_id": result.CaptureID, "status": string(result.Status)})
	return result, nil
}

// CreateSubscriptionPlan is not offered: Square plans live in the catalog and
// are provisioned outside the core.
func (a *Adapter) CreateSubscriptionPlan(context.Context, gateway.PlanRequest) (gateway.PlanResult, error) {
	return gateway.PlanResult{Outcome: gateway.Declined("unsupported_operation", "square plans must be created in the catalog")}, nil
}

// CreateSubscription starts a subscription for a stored customer card.
func (a *Adapter) CreateSubscription(ctx context.Context, req gateway.SubscriptionRequest) (gateway.SubscriptionResult, error) {
	params := SubscriptionCreateParams{
		LocationID:      a.locationID,
		PlanVariationID: req.PlanRef,
		CustomerID:      strings.TrimSpace(req.Metadata[MetadataCustomerID]),
		CardID:          strings.TrimSpace(req.Metadata[MetadataCardID]),
		IdempotencyKey:  req.IdempotencyKey,
	}
	if params.PlanVariationID == "" || params.CustomerID == "" || params.CardID == "" {
		return gateway.SubscriptionResult{}, pkgerrors.New(pkgerrors.CodeValidation, "square subscriptions require plan, customer_id and card_id")
	}
	a.log(ctx, "request", "create_subscription", map[string]any{
		"location_id":       params.LocationID,
		"plan_variation_id": params.PlanVariationID,
		"customer_id":       params.CustomerID,
		"card_id":           params.CardID,
	})

	var sub *sq.Subscription
	declined, err := a.call(ctx, "create_subscription", params.IdempotencyKey != "", func(ctx context.Context) error {
		resp, callErr := a.sdk.Subscriptions.Create(ctx, params.toSquareRequest())
		if callErr != nil {
			return callErr
		}
		sub = resp.GetSubscription()
		return nil
	})
	if err != nil {
		return gateway.SubscriptionResult{}, err
	}
	if declined != nil {
		return gateway.SubscriptionResult{Outcome: *declined}, nil
	}
	a.log(ctx, "response", "create_subscription", map[string]any{"subscription_id": stringOf(sub.GetID())})
	return gateway.SubscriptionResult{Outcome: gateway.Succeeded(), SubscriptionRef: stringOf(sub.GetID())}, nil
}

// GetStatus reads a payment by id.
func (a *Adapter) GetStatus(ctx context.Context, ref string) (gateway.StatusResult, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return gateway.StatusResult{}, pkgerrors.New(pkgerrors.CodeValidation, "payment id is required")
	}

	var payment *sq.Payment
	declined, err := a.call(ctx, "get_payment", true, func(ctx context.Context) error {
		resp, callErr := a.sdk.Payments.Get(ctx, &sq.GetPaymentsRequest{PaymentID: ref})
		if callErr != nil {
			return callErr
		}
		payment = resp.GetPayment()
		return nil
	})
	if err != nil {
		return gateway.StatusResult{}, err
	}
	if declined != nil {
		return gateway.StatusResult{Outcome: *declined, Status: gateway.StatusUnknown}, nil
	}
	return gateway.StatusResult{
		Outcome:       gateway.Succeeded(),
		Status:        paymentStatus(payment),
		Amount:        paymentAmount(payment),
		TransactionID: stringOf(payment.GetID()),
	}, nil
}

// Refund refunds a completed payment. Square needs an explicit amount, so a
// full refund reads the payment first.
func (a *Adapter) Refund(ctx context.Context, req gateway.RefundRequest) (gateway.RefundResult, error) {
	paymentID := strings.TrimSpace(req.CaptureRef)
	if paymentID == "" {
		return gateway.RefundResult{}, pkgerrors.New(pkgerrors.CodeValidation, "capture reference is required")
	}

	amount := req.Amount
	if amount == nil {
		status, err := a.GetStatus(ctx, paymentID)
		if err != nil {
			return gateway.RefundResult{}, err
		}
		if !status.OK {
			return gateway.RefundResult{Outcome: status.Outcome}, nil
		}
		amount = status.Amount
	}
	if amount == nil {
		return gateway.RefundResult{}, pkgerrors.New(pkgerrors.CodeValidation, "refund amount unknown")
	}
	minor, err := money.ToMinorUnits(*amount)
	if err != nil {
		return gateway.RefundResult{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid refund amount")
	}

	key := req.IdempotencyKey
	if key == "" {
		key = gateway.IdempotencyKey(Provider, "refund", paymentID)
	}
	a.log(ctx, "request", "refund_payment", map[string]any{"payment_id": paymentID, "amount": minor})

	var refund *sq.PaymentRefund
	declined, err := a.call(ctx, "refund_payment", true, func(ctx context.Context) error {
		resp, callErr := a.sdk.Refunds.RefundPayment(ctx, &sq.RefundPaymentRequest{
			IdempotencyKey: key,
			AmountMoney:    moneyPtr(minor, amount.Currency),
			PaymentID:      ptrString(paymentID),
		})
		if callErr != nil {
			return callErr
		}
		refund = resp.GetRefund()
		return nil
	})
	if err != nil {
		return gateway.RefundResult{}, err
	}
	if declined != nil {
		return gateway.RefundResult{Outcome: *declined}, nil
	}

	status := refundStatus(stringOf(refund.GetStatus()))
	result := gateway.RefundResult{Outcome: gateway.Succeeded(), RefundID: stringOf(refund.GetID()), Status: status}
	if status == gateway.StatusFailed {
		result.Outcome = gateway.Declined("refund_failed", "square rejected the refund")
	}
	a.log(ctx, "response", "refund_payment", map[string]any{"refund_id": result.RefundID, "status": string(status)})
	return result, nil
}

func paymentStatus(payment *sq.Payment) gateway.PaymentStatus {
	if payment == nil {
		return gateway.StatusUnknown
	}
	switch stringOf(payment.GetStatus()) {
	case paymentCompleted:
		if fullyRefunded(payment) {
			return gateway.StatusRefunded
		}
		return gateway.StatusPaid
	case paymentApproved, paymentPending:
		return gateway.StatusPending
	case paymentCanceled:
		return gateway.StatusCancelled
	case paymentFailed:
		return gateway.StatusFailed
	default:
		return gateway.StatusUnknown
	}
}

func fullyRefunded(payment *sq.Payment) bool {
	refunded := payment.GetRefundedMoney()
	total := payment.GetAmountMoney()
	if refunded == nil || total == nil || refunded.Amount == nil || total.Amount == nil {
		return false
	}
	return *refunded.Amount >= *total.Amount && *total.Amount > 0
}

func paymentAmount(payment *sq.Payment) *money.Amount {
	if payment == nil {
		return nil
	}
	m := payment.GetAmountMoney()
	if m == nil || m.Amount == nil || m.Currency == nil {
		return nil
	}
	amt := money.FromMinorUnits(*m.Amount, string(*m.Currency))
	return &amt
}

func refundStatus(status string) gateway.PaymentStatus {
	switch status {
	case paymentCompleted:
		return gateway.StatusRefunded
	case "REJECTED", paymentFailed:
		return gateway.StatusFailed
	default:
		return gateway.StatusPending
	}
}
