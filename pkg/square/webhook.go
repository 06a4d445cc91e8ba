package square

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"

	sq "github.com/square/square-go-sdk"

	pkgerrors "github.com/angelmondragon/paycore/pkg/errors"
	"github.com/angelmondragon/paycore/pkg/gateway"
	"github.com/angelmondragon/paycore/pkg/money"
)

// SignatureHeader carries base64(HMAC-SHA256(notification URL + body)).
const SignatureHeader = "x-square-hmacsha256-signature"

type webhookEvent struct {
	EventID string      `json:"event_id"`
	Type    string      `json:"type"`
	Data    webhookData `json:"data"`
}

type webhookData struct {
	Type   string                     `json:"type"`
	ID     string                     `json:"id"`
	Object map[string]json.RawMessage `json:"object"`
}

type refundPayload struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	PaymentID   string `json:"payment_id"`
	AmountMoney *struct {
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
	} `json:"amount_money"`
}

type subscriptionPayload struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// VerifyWebhookSignature validates the Square HMAC locally and maps the
// notification into the normalized taxonomy.
func (a *Adapter) VerifyWebhookSignature(ctx context.Context, req gateway.WebhookRequest) (*gateway.WebhookEvent, error) {
	header := strings.TrimSpace(req.Headers.Get(SignatureHeader))
	if header == "" {
		return nil, gateway.SignatureError(Provider, errors.New("square signature missing"))
	}
	notificationURL := a.notificationURL
	if notificationURL == "" {
		notificationURL = req.URL
	}
	if !validateSquareSignature(req.Payload, notificationURL, a.webhookSecret, header) {
		return nil, gateway.SignatureError(Provider, nil)
	}

	var event webhookEvent
	if err := json.Unmarshal(req.Payload, &event); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode square event")
	}
	eventID := strings.TrimSpace(event.EventID)
	if eventID == "" {
		eventID = event.Data.ID
	}
	a.log(ctx, "webhook", event.Type, map[string]any{"event_id": eventID})

	out := &gateway.WebhookEvent{ID: eventID, Type: gateway.EventUnknown, Provider: Provider, Raw: json.RawMessage(req.Payload)}
	switch {
	case strings.HasPrefix(event.Type, "payment."):
		raw, ok := event.Data.Object["payment"]
		if !ok {
			return out, nil
		}
		var payment sq.Payment
		if err := json.Unmarshal(raw, &payment); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode square payment")
		}
		out.ExternalRef = stringOf(payment.GetID())
		out.TransactionID = out.ExternalRef
		out.InvoiceID = stringOf(payment.GetReferenceID())
		out.Amount = paymentAmount(&payment)
		switch stringOf(payment.GetStatus()) {
		case paymentCompleted:
			out.Type = gateway.EventPaymentSucceeded
		case paymentFailed, paymentCanceled:
			out.Type = gateway.EventPaymentFailed
			out.ErrorCode = "payment_" + strings.ToLower(stringOf(payment.GetStatus()))
			out.ErrorMessage = "square payment " + strings.ToLower(stringOf(payment.GetStatus()))
		}
	case strings.HasPrefix(event.Type, "refund."):
		raw, ok := event.Data.Object["refund"]
		if !ok {
			return out, nil
		}
		var refund refundPayload
		if err := json.Unmarshal(raw, &refund); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode square refund")
		}
		if refund.Status != paymentCompleted {
			return out, nil
		}
		out.Type = gateway.EventRefundCreated
		out.RefundID = refund.ID
		out.TransactionID = refund.PaymentID
		if refund.AmountMoney != nil {
			amt := money.FromMinorUnits(refund.AmountMoney.Amount, refund.AmountMoney.Currency)
			out.Amount = &amt
		}
	case strings.HasPrefix(event.Type, "subscription."):
		raw, ok := event.Data.Object["subscription"]
		if !ok {
			return out, nil
		}
		var sub subscriptionPayload
		if err := json.Unmarshal(raw, &sub); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode square subscription")
		}
		out.SubscriptionRef = sub.ID
		out.ExternalRef = sub.ID
		switch {
		case sub.Status == "CANCELED" || sub.Status == "DEACTIVATED":
			out.Type = gateway.EventSubscriptionCancelled
			out.Reason = "square subscription " + strings.ToLower(sub.Status)
		case event.Type == "subscription.created":
			out.Type = gateway.EventSubscriptionCreated
		default:
			out.Type = gateway.EventSubscriptionUpdated
		}
	case strings.HasPrefix(event.Type, "dispute.created"):
		out.Type = gateway.EventDisputeCreated
	}
	return out, nil
}

func validateSquareSignature(payload []byte, notificationURL, secret, header string) bool {
	if header == "" || secret == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(notificationURL))
	mac.Write(payload)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(header))
}
