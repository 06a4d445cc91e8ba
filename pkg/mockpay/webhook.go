package mockpay

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"

	pkgerrors "github.com/angelmondragon/paycore/pkg/errors"
	"github.com/angelmondragon/paycore/pkg/gateway"
	"github.com/angelmondragon/paycore/pkg/money"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw body.
const SignatureHeader = "X-Mock-Signature"

// Event is the mock webhook body.
type Event struct {
	ID             string `json:"id"`
	Type           string `json:"type"`
	SessionID      string `json:"session_id,omitempty"`
	TransactionID  string `json:"transaction_id,omitempty"`
	SubscriptionID string `json:"subscription_id,omitempty"`
	RefundID       string `json:"refund_id,omitempty"`
	InvoiceID      string `json:"invoice_id,omitempty"`
	Amount         *int64 `json:"amount,omitempty"`
	Currency       string `json:"currency,omitempty"`
	ErrorCode      string `json:"error_code,omitempty"`
	ErrorMessage   string `json:"error_message,omitempty"`
	Reason         string `json:"reason,omitempty"`
}

// Sign returns the signature header value for payload.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

var knownTypes = map[string]gateway.WebhookEventType{
	string(gateway.EventPaymentSucceeded):      gateway.EventPaymentSucceeded,
	string(gateway.EventPaymentFailed):         gateway.EventPaymentFailed,
	string(gateway.EventRefundCreated):         gateway.EventRefundCreated,
	string(gateway.EventSubscriptionCreated):   gateway.EventSubscriptionCreated,
	string(gateway.EventSubscriptionUpdated):   gateway.EventSubscriptionUpdated,
	string(gateway.EventSubscriptionCancelled): gateway.EventSubscriptionCancelled,
	string(gateway.EventDisputeCreated):        gateway.EventDisputeCreated,
}

// VerifyWebhookSignature checks the HMAC locally and maps the body.
func (a *Adapter) VerifyWebhookSignature(_ context.Context, req gateway.WebhookRequest) (*gateway.WebhookEvent, error) {
	got := strings.TrimSpace(req.Headers.Get(SignatureHeader))
	if got == "" {
		return nil, gateway.SignatureError(Provider, errors.New("mock signature header missing"))
	}
	want := Sign(a.secret, req.Payload)
	if !hmac.Equal([]byte(strings.ToLower(got)), []byte(want)) {
		return nil, gateway.SignatureError(Provider, errors.New("mock signature mismatch"))
	}

	var body Event
	if err := json.Unmarshal(req.Payload, &body); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode mock event")
	}
	if strings.TrimSpace(body.ID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "mock event id is required")
	}

	eventType, ok := knownTypes[body.Type]
	if !ok {
		eventType = gateway.EventUnknown
	}
	event := &gateway.WebhookEvent{
		ID:              body.ID,
		Type:            eventType,
		Provider:        Provider,
		ExternalRef:     body.SessionID,
		TransactionID:   body.TransactionID,
		SubscriptionRef: body.SubscriptionID,
		RefundID:        body.RefundID,
		InvoiceID:       body.InvoiceID,
		ErrorCode:       body.ErrorCode,
		ErrorMessage:    body.ErrorMessage,
		Reason:          body.Reason,
		Raw:             json.RawMessage(req.Payload),
	}
	if body.Amount != nil && body.Currency != "" {
		amount := money.FromMinorUnits(*body.Amount, body.Currency)
		event.Amount = &amount
	}
	return event, nil
}
