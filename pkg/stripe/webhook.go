package stripe

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"

	pkgerrors "github.com/angelmondragon/paycore/pkg/errors"
	"github.com/angelmondragon/paycore/pkg/gateway"
	"github.com/angelmondragon/paycore/pkg/money"
)

// SignatureHeader carries Stripe's timestamped HMAC.
const SignatureHeader = "Stripe-Signature"

// VerifyWebhookSignature checks the Stripe-Signature header locally and maps
// the event into the normalized taxonomy.
func (a *Adapter) VerifyWebhookSignature(_ context.Context, req gateway.WebhookRequest) (*gateway.WebhookEvent, error) {
	sigHeader := strings.TrimSpace(req.Headers.Get(SignatureHeader))
	if sigHeader == "" {
		return nil, gateway.SignatureError(Provider, fmt.Errorf("missing %s header", SignatureHeader))
	}
	event, err := webhook.ConstructEventWithOptions(req.Payload, sigHeader, a.signingSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, gateway.SignatureError(Provider, err)
	}
	return mapEvent(event)
}

func mapEvent(event stripe.Event) (*gateway.WebhookEvent, error) {
	out := &gateway.WebhookEvent{
		ID:       event.ID,
		Type:     gateway.EventUnknown,
		Provider: Provider,
	}
	if event.Data == nil {
		return out, nil
	}
	out.Raw = event.Data.Raw

	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted, stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded:
		var session stripe.CheckoutSession
		if err := decode(event.Data.Raw, &session); err != nil {
			return nil, err
		}
		applySession(out, &session)
		switch sessionStatus(&session) {
		case gateway.StatusPaid:
			out.Type = gateway.EventPaymentSucceeded
		default:
			// Delayed methods complete the session before funds arrive.
			out.Type = gateway.EventUnknown
		}
	case stripe.EventTypeCheckoutSessionAsyncPaymentFailed:
		var session stripe.CheckoutSession
		if err := decode(event.Data.Raw, &session); err != nil {
			return nil, err
		}
		applySession(out, &session)
		out.Type = gateway.EventPaymentFailed
		out.ErrorCode = "async_payment_failed"
		out.ErrorMessage = "delayed payment method failed"
	case stripe.EventTypePaymentIntentPaymentFailed:
		var intent intentPayload
		if err := decode(event.Data.Raw, &intent); err != nil {
			return nil, err
		}
		out.Type = gateway.EventPaymentFailed
		out.TransactionID = intent.ID
		out.InvoiceID = intent.Metadata[gateway.MetadataInvoiceID]
		if intent.Currency != "" {
			amt := money.FromMinorUnits(intent.Amount, intent.Currency)
			out.Amount = &amt
		}
		if intent.LastPaymentError != nil {
			out.ErrorCode = intent.LastPaymentError.Code
			out.ErrorMessage = intent.LastPaymentError.Message
		}
		if out.ErrorCode == "" {
			out.ErrorCode = "payment_failed"
		}
	case stripe.EventTypeChargeRefunded:
		var charge stripe.Charge
		if err := decode(event.Data.Raw, &charge); err != nil {
			return nil, err
		}
		out.Type = gateway.EventRefundCreated
		out.TransactionID = charge.ID
		if charge.PaymentIntent != nil && charge.PaymentIntent.ID != "" {
			out.TransactionID = charge.PaymentIntent.ID
		}
		out.InvoiceID = charge.Metadata[gateway.MetadataInvoiceID]
		amt := money.FromMinorUnits(charge.AmountRefunded, string(charge.Currency))
		out.Amount = &amt
		if charge.Refunds != nil && len(charge.Refunds.Data) > 0 && charge.Refunds.Data[0] != nil {
			out.RefundID = charge.Refunds.Data[0].ID
		}
	case stripe.EventTypeCustomerSubscriptionCreated:
		out.Type = gateway.EventSubscriptionCreated
		if err := applySubscription(out, event.Data.Raw); err != nil {
			return nil, err
		}
	case stripe.EventTypeCustomerSubscriptionUpdated:
		out.Type = gateway.EventSubscriptionUpdated
		if err := applySubscription(out, event.Data.Raw); err != nil {
			return nil, err
		}
	case stripe.EventTypeCustomerSubscriptionDeleted:
		out.Type = gateway.EventSubscriptionCancelled
		if err := applySubscription(out, event.Data.Raw); err != nil {
			return nil, err
		}
		if out.Reason == "" {
			out.Reason = "cancelled at provider"
		}
	case stripe.EventTypeChargeDisputeCreated:
		out.Type = gateway.EventDisputeCreated
	}
	return out, nil
}

func applySession(out *gateway.WebhookEvent, session *stripe.CheckoutSession) {
	out.ExternalRef = session.ID
	out.TransactionID = sessionTransactionID(session)
	if session.Subscription != nil {
		out.SubscriptionRef = session.Subscription.ID
	}
	out.InvoiceID = session.Metadata[gateway.MetadataInvoiceID]
	if out.InvoiceID == "" {
		out.InvoiceID = session.ClientReferenceID
	}
	if session.Currency != "" {
		amt := money.FromMinorUnits(session.AmountTotal, string(session.Currency))
		out.Amount = &amt
	}
}

type intentPayload struct {
	ID               string            `json:"id"`
	Amount           int64             `json:"amount"`
	Currency         string            `json:"currency"`
	Metadata         map[string]string `json:"metadata"`
	LastPaymentError *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"last_payment_error"`
}

// subscriptionPayload reads the fields the normalized event needs without
// depending on the full subscription object shape.
type subscriptionPayload struct {
	ID                  string            `json:"id"`
	Metadata            map[string]string `json:"metadata"`
	CancellationDetails *struct {
		Reason  string `json:"reason"`
		Comment string `json:"comment"`
	} `json:"cancellation_details"`
}

func applySubscription(out *gateway.WebhookEvent, raw json.RawMessage) error {
	var sub subscriptionPayload
	if err := decode(raw, &sub); err != nil {
		return err
	}
	out.SubscriptionRef = sub.ID
	out.ExternalRef = sub.ID
	out.InvoiceID = sub.Metadata[gateway.MetadataInvoiceID]
	if sub.CancellationDetails != nil {
		out.Reason = strings.TrimSpace(sub.CancellationDetails.Reason)
		if out.Reason == "" {
			out.Reason = strings.TrimSpace(sub.CancellationDetails.Comment)
		}
	}
	return nil
}

func decode(raw json.RawMessage, dest any) error {
	if err := json.Unmarshal(raw, dest); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode stripe event object")
	}
	return nil
}
