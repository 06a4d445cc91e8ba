package stripe

import (
	"context"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/paycore/pkg/enums"
	pkgerrors "github.com/angelmondragon/paycore/pkg/errors"
	"github.com/angelmondragon/paycore/pkg/gateway"
	"github.com/angelmondragon/paycore/pkg/money"
)

const (
	modePayment      = "payment"
	modeSubscription = "subscription"
)

// call runs fn under the retrier and folds expected Stripe refusals into an
// outcome.
func (a *Adapter) call(ctx context.Context, op string, safe bool, fn func(ctx context.Context) error) (*gateway.Outcome, error) {
	var declined *gateway.Outcome
	err := a.retrier.Do(ctx, gateway.Call{Provider: Provider, Operation: op, Safe: safe}, func(ctx context.Context) error {
		declined = nil
		if err := fn(ctx); err != nil {
			outcome, cerr := classify(op, err)
			if outcome != nil {
				declined = outcome
				return nil
			}
			return cerr
		}
		return nil
	})
	return declined, err
}

// CreatePaymentIntent opens a hosted checkout session for a one-off payment.
func (a *Adapter) CreatePaymentIntent(ctx context.Context, req gateway.PaymentIntentRequest) (gateway.PaymentIntentResult, error) {
	minor, err := money.ToMinorUnits(req.Amount)
	if err != nil {
		return gateway.PaymentIntentResult{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid amount")
	}

	description := strings.TrimSpace(req.Description)
	if description == "" {
		description = "Invoice payment"
	}
	params := &stripe.CheckoutSessionCreateParams{
		Mode:       stripe.String(modePayment),
		SuccessURL: stripe.String(req.ReturnURL),
		CancelURL:  stripe.String(req.CancelURL),
		LineItems: []*stripe.CheckoutSessionCreateLineItemParams{{
			Quantity: stripe.Int64(1),
			PriceData: &stripe.CheckoutSessionCreateLineItemPriceDataParams{
				Currency:   stripe.String(strings.ToLower(req.Amount.Currency)),
				UnitAmount: stripe.Int64(minor),
				ProductData: &stripe.CheckoutSessionCreateLineItemPriceDataProductDataParams{
					Name: stripe.String(description),
				},
			},
		}},
		Metadata: req.Metadata,
		PaymentIntentData: &stripe.CheckoutSessionCreatePaymentIntentDataParams{
			Metadata: req.Metadata,
		},
	}
	if invoiceID := req.Metadata[gateway.MetadataInvoiceID]; invoiceID != "" {
		params.ClientReferenceID = stripe.String(invoiceID)
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	var session *stripe.CheckoutSession
	declined, err := a.call(ctx, "create_payment_intent", req.IdempotencyKey != "", func(ctx context.Context) error {
		var callErr error
		session, callErr = a.api.V1CheckoutSessions.Create(ctx, params)
		return callErr
	})
	if err != nil {
		return gateway.PaymentIntentResult{}, err
	}
	if declined != nil {
		return gateway.PaymentIntentResult{Outcome: *declined}, nil
	}
	return gateway.PaymentIntentResult{Outcome: gateway.Succeeded(), SessionID: session.ID, RedirectURL: session.URL}, nil
}

// CaptureOrder reads the session: Stripe captures on checkout completion.
func (a *Adapter) CaptureOrder(ctx context.Context, orderID string) (gateway.CaptureResult, error) {
	status, err := a.GetStatus(ctx, orderID)
	if err != nil {
		return gateway.CaptureResult{}, err
	}
	result := gateway.CaptureResult{Outcome: status.Outcome, CaptureID: status.TransactionID, Status: status.Status, Amount: status.Amount}
	if result.OK && status.Status == gateway.StatusFailed {
		result.Outcome = gateway.Declined("payment_failed", "payment did not complete")
	}
	return result, nil
}

// CreateSubscriptionPlan creates a recurring price with an inline product.
func (a *Adapter) CreateSubscriptionPlan(ctx context.Context, req gateway.PlanRequest) (gateway.PlanResult, error) {
	interval, count, ok := recurringInterval(req.Interval)
	if !ok {
		return gateway.PlanResult{}, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("billing period %q is not recurring", req.Interval))
	}
	minor, err := money.ToMinorUnits(req.Amount)
	if err != nil {
		return gateway.PlanResult{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid amount")
	}

	params := &stripe.PriceCreateParams{
		Currency:   stripe.String(strings.ToLower(req.Amount.Currency)),
		UnitAmount: stripe.Int64(minor),
		Recurring: &stripe.PriceCreateRecurringParams{
			Interval:      stripe.String(interval),
			IntervalCount: stripe.Int64(count),
		},
		ProductData: &stripe.PriceCreateProductDataParams{
			Name: stripe.String(req.Name),
		},
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	var price *stripe.Price
	declined, err := a.call(ctx, "create_subscription_plan", req.IdempotencyKey != "", func(ctx context.Context) error {
		var callErr error
		price, callErr = a.api.V1Prices.Create(ctx, params)
		return callErr
	})
	if err != nil {
		return gateway.PlanResult{}, err
	}
	if declined != nil {
		return gateway.PlanResult{Outcome: *declined}, nil
	}
	return gateway.PlanResult{Outcome: gateway.Succeeded(), PlanRef: price.ID}, nil
}

// CreateSubscription opens a checkout session in subscription mode.
func (a *Adapter) CreateSubscription(ctx context.Context, req gateway.SubscriptionRequest) (gateway.SubscriptionResult, error) {
	if strings.TrimSpace(req.PlanRef) == "" {
		return gateway.SubscriptionResult{}, pkgerrors.New(pkgerrors.CodeValidation, "plan reference is required")
	}
	params := &stripe.CheckoutSessionCreateParams{
		Mode:       stripe.String(modeSubscription),
		SuccessURL: stripe.String(req.ReturnURL),
		CancelURL:  stripe.String(req.CancelURL),
		LineItems: []*stripe.CheckoutSessionCreateLineItemParams{{
			Price:    stripe.String(req.PlanRef),
			Quantity: stripe.Int64(1),
		}},
		Metadata: req.Metadata,
		SubscriptionData: &stripe.CheckoutSessionCreateSubscriptionDataParams{
			Metadata: req.Metadata,
		},
	}
	if invoiceID := req.Metadata[gateway.MetadataInvoiceID]; invoiceID != "" {
		params.ClientReferenceID = stripe.String(invoiceID)
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	var session *stripe.CheckoutSession
	declined, err := a.call(ctx, "create_subscription", req.IdempotencyKey != "", func(ctx context.Context) error {
		var callErr error
		session, callErr = a.api.V1CheckoutSessions.Create(ctx, params)
		return callErr
	})
	if err != nil {
		return gateway.SubscriptionResult{}, err
	}
	if declined != nil {
		return gateway.SubscriptionResult{Outcome: *declined}, nil
	}
	return gateway.SubscriptionResult{Outcome: gateway.Succeeded(), SubscriptionRef: session.ID, RedirectURL: session.URL}, nil
}

// GetStatus accepts a checkout session id or a payment intent id.
func (a *Adapter) GetStatus(ctx context.Context, ref string) (gateway.StatusResult, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return gateway.StatusResult{}, pkgerrors.New(pkgerrors.CodeValidation, "reference is required")
	}
	if strings.HasPrefix(ref, "pi_") {
		return a.paymentIntentStatus(ctx, ref)
	}

	var session *stripe.CheckoutSession
	declined, err := a.call(ctx, "get_status", true, func(ctx context.Context) error {
		var callErr error
		session, callErr = a.api.V1CheckoutSessions.Retrieve(ctx, ref, &stripe.CheckoutSessionRetrieveParams{})
		return callErr
	})
	if err != nil {
		return gateway.StatusResult{}, err
	}
	if declined != nil {
		return gateway.StatusResult{Outcome: *declined, Status: gateway.StatusUnknown}, nil
	}

	result := gateway.StatusResult{Outcome: gateway.Succeeded(), Status: sessionStatus(session)}
	if session.Currency != "" {
		amt := money.FromMinorUnits(session.AmountTotal, string(session.Currency))
		result.Amount = &amt
	}
	result.TransactionID = sessionTransactionID(session)
	return result, nil
}

func (a *Adapter) paymentIntentStatus(ctx context.Context, id string) (gateway.StatusResult, error) {
	var intent *stripe.PaymentIntent
	declined, err := a.call(ctx, "get_status", true, func(ctx context.Context) error {
		var callErr error
		intent, callErr = a.api.V1PaymentIntents.Retrieve(ctx, id, &stripe.PaymentIntentRetrieveParams{})
		return callErr
	})
	if err != nil {
		return gateway.StatusResult{}, err
	}
	if declined != nil {
		return gateway.StatusResult{Outcome: *declined, Status: gateway.StatusUnknown}, nil
	}
	amt := money.FromMinorUnits(intent.Amount, string(intent.Currency))
	return gateway.StatusResult{
		Outcome:       gateway.Succeeded(),
		Status:        paymentIntentStatus(intent.Status),
		Amount:        &amt,
		TransactionID: intent.ID,
	}, nil
}

// Refund refunds a payment intent or charge. A nil amount refunds in full.
func (a *Adapter) Refund(ctx context.Context, req gateway.RefundRequest) (gateway.RefundResult, error) {
	ref := strings.TrimSpace(req.CaptureRef)
	params := &stripe.RefundCreateParams{}
	switch {
	case strings.HasPrefix(ref, "pi_"):
		params.PaymentIntent = stripe.String(ref)
	case strings.HasPrefix(ref, "ch_"):
		params.Charge = stripe.String(ref)
	default:
		return gateway.RefundResult{Outcome: gateway.Declined("unsupported_reference", "capture reference is not a payment intent or charge")}, nil
	}
	if req.Amount != nil {
		minor, err := money.ToMinorUnits(*req.Amount)
		if err != nil {
			return gateway.RefundResult{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid refund amount")
		}
		params.Amount = stripe.Int64(minor)
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	var refund *stripe.Refund
	declined, err := a.call(ctx, "refund", req.IdempotencyKey != "", func(ctx context.Context) error {
		var callErr error
		refund, callErr = a.api.V1Refunds.Create(ctx, params)
		return callErr
	})
	if err != nil {
		return gateway.RefundResult{}, err
	}
	if declined != nil {
		return gateway.RefundResult{Outcome: *declined}, nil
	}
	status := refundStatus(refund.Status)
	if status == gateway.StatusFailed {
		return gateway.RefundResult{Outcome: gateway.Declined("refund_failed", "stripe reported the refund failed"), RefundID: refund.ID, Status: status}, nil
	}
	return gateway.RefundResult{Outcome: gateway.Succeeded(), RefundID: refund.ID, Status: status}, nil
}

func recurringInterval(period enums.BillingPeriod) (string, int64, bool) {
	switch period {
	case enums.BillingPeriodWeekly:
		return "week", 1, true
	case enums.BillingPeriodMonthly:
		return "month", 1, true
	case enums.BillingPeriodQuarterly:
		return "month", 3, true
	case enums.BillingPeriodYearly:
		return "year", 1, true
	default:
		return "", 0, false
	}
}

func sessionStatus(session *stripe.CheckoutSession) gateway.PaymentStatus {
	switch {
	case session.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid,
		session.PaymentStatus == stripe.CheckoutSessionPaymentStatusNoPaymentRequired && session.Status == stripe.CheckoutSessionStatusComplete:
		return gateway.StatusPaid
	case session.Status == stripe.CheckoutSessionStatusExpired:
		return gateway.StatusCancelled
	case session.Status == stripe.CheckoutSessionStatusOpen, session.Status == stripe.CheckoutSessionStatusComplete:
		return gateway.StatusPending
	default:
		return gateway.StatusUnknown
	}
}

func sessionTransactionID(session *stripe.CheckoutSession) string {
	if session.PaymentIntent != nil && session.PaymentIntent.ID != "" {
		return session.PaymentIntent.ID
	}
	if session.Subscription != nil && session.Subscription.ID != "" {
		return session.Subscription.ID
	}
	return ""
}

func paymentIntentStatus(status stripe.PaymentIntentStatus) gateway.PaymentStatus {
	switch status {
	case stripe.PaymentIntentStatusSucceeded:
		return gateway.StatusPaid
	case stripe.PaymentIntentStatusCanceled:
		return gateway.StatusCancelled
	case stripe.PaymentIntentStatusRequiresPaymentMethod:
		return gateway.StatusFailed
	case stripe.PaymentIntentStatusProcessing,
		stripe.PaymentIntentStatusRequiresAction,
		stripe.PaymentIntentStatusRequiresCapture,
		stripe.PaymentIntentStatusRequiresConfirmation:
		return gateway.StatusPending
	default:
		return gateway.StatusUnknown
	}
}

func refundStatus(status stripe.RefundStatus) gateway.PaymentStatus {
	switch status {
	case stripe.RefundStatusSucceeded:
		return gateway.StatusRefunded
	case stripe.RefundStatusFailed, stripe.RefundStatusCanceled:
		return gateway.StatusFailed
	default:
		return gateway.StatusPending
	}
}
