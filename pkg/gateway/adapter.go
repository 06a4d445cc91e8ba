// Package gateway defines the contract every payment provider adapter
// implements, plus the retry, idempotency and caching support the adapters
// share.
package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/angelmondragon/paycore/pkg/enums"
	"github.com/angelmondragon/paycore/pkg/logger"
	"github.com/angelmondragon/paycore/pkg/money"
)

// CaptureMode tells callers whether a provider settles funds on approval or
// waits for an explicit capture call.
type CaptureMode string

const (
	CaptureAutomatic CaptureMode = "automatic"
	CaptureExplicit  CaptureMode = "explicit"
)

// PaymentStatus is the normalized provider-side payment state.
type PaymentStatus string

const (
	StatusPaid      PaymentStatus = "paid"
	StatusPending   PaymentStatus = "pending"
	StatusFailed    PaymentStatus = "failed"
	StatusCancelled PaymentStatus = "cancelled"
	StatusRefunded  PaymentStatus = "refunded"
	StatusUnknown   PaymentStatus = "unknown"
)

// WebhookEventType is the normalized webhook taxonomy shared by all providers.
type WebhookEventType string

const (
	EventPaymentSucceeded      WebhookEventType = "payment.succeeded"
	EventPaymentFailed         WebhookEventType = "payment.failed"
	EventRefundCreated         WebhookEventType = "refund.created"
	EventSubscriptionCreated   WebhookEventType = "subscription.created"
	EventSubscriptionUpdated   WebhookEventType = "subscription.updated"
	EventSubscriptionCancelled WebhookEventType = "subscription.cancelled"
	EventDisputeCreated        WebhookEventType = "dispute.created"
	EventUnknown               WebhookEventType = "unknown"
)

// Metadata keys attached to provider objects so webhooks can be routed back to
// local records.
const (
	MetadataInvoiceID      = "invoice_id"
	MetadataUserID         = "user_id"
	MetadataSubscriptionID = "subscription_id"
)

// Outcome reports whether the provider accepted the operation. Expected
// failures (declines, unapproved orders, unknown refs) are OK=false with a nil
// error; only transport and auth failures surface as errors.
type Outcome struct {
	OK           bool   `json:"ok"`
	ErrorCode    string `json:"errorCode,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

// Succeeded is the zero-friction OK outcome.
func Succeeded() Outcome {
	return Outcome{OK: true}
}

// Declined builds a failed outcome.
func Declined(code, message string) Outcome {
	return Outcome{ErrorCode: code, ErrorMessage: message}
}

type PaymentIntentRequest struct {
	Amount         money.Amount
	Description    string
	Metadata       map[string]string
	IdempotencyKey string
	ReturnURL      string
	CancelURL      string
	// SourceID is a tokenized payment source for providers that charge a
	// source directly (Square card nonces).
	SourceID string
}

type PaymentIntentResult struct {
	Outcome
	SessionID   string `json:"sessionId,omitempty"`
	RedirectURL string `json:"redirectUrl,omitempty"`
}

type CaptureResult struct {
	Outcome
	CaptureID string        `json:"captureId,omitempty"`
	Status    PaymentStatus `json:"status,omitempty"`
	Amount    *money.Amount `json:"amount,omitempty"`
}

type PlanRequest struct {
	Name           string
	Amount         money.Amount
	Interval       enums.BillingPeriod
	IdempotencyKey string
}

type PlanResult struct {
	Outcome
	PlanRef string `json:"planRef,omitempty"`
}

type SubscriptionRequest struct {
	PlanRef        string
	Metadata       map[string]string
	ReturnURL      string
	CancelURL      string
	IdempotencyKey string
}

type SubscriptionResult struct {
	Outcome
	SubscriptionRef string `json:"subscriptionRef,omitempty"`
	RedirectURL     string `json:"redirectUrl,omitempty"`
}

type StatusResult struct {
	Outcome
	Status        PaymentStatus `json:"status"`
	Amount        *money.Amount `json:"amount,omitempty"`
	TransactionID string        `json:"transactionId,omitempty"`
}

type RefundRequest struct {
	CaptureRef string
	// Amount nil refunds the full capture.
	Amount         *money.Amount
	IdempotencyKey string
}

type RefundResult struct {
	Outcome
	RefundID string        `json:"refundId,omitempty"`
	Status   PaymentStatus `json:"status,omitempty"`
}

type WebhookRequest struct {
	Payload []byte
	Headers http.Header
	// URL is the public URL the provider posted to. Square signs it.
	URL string
}

// WebhookEvent is a verified provider notification in normalized form.
type WebhookEvent struct {
	ID              string
	Type            WebhookEventType
	Provider        string
	ExternalRef     string
	TransactionID   string
	SubscriptionRef string
	RefundID        string
	InvoiceID       string
	Amount          *money.Amount
	ErrorCode       string
	ErrorMessage    string
	Reason          string
	Raw             json.RawMessage
}

// Adapter is implemented once per payment provider.
type Adapter interface {
	Provider() string
	CaptureMode() CaptureMode
	CreatePaymentIntent(ctx context.Context, req PaymentIntentRequest) (PaymentIntentResult, error)
	CaptureOrder(ctx context.Context, orderID string) (CaptureResult, error)
	CreateSubscriptionPlan(ctx context.Context, req PlanRequest) (PlanResult, error)
	CreateSubscription(ctx context.Context, req SubscriptionRequest) (SubscriptionResult, error)
	GetStatus(ctx context.Context, ref string) (StatusResult, error)
	Refund(ctx context.Context, req RefundRequest) (RefundResult, error)
	VerifyWebhookSignature(ctx context.Context, req WebhookRequest) (*WebhookEvent, error)
}

// Settings is the decrypted plugin configuration handed to a Factory.
type Settings struct {
	Sandbox     bool
	Credentials map[string]string
}

// Credential returns the trimmed credential value for key.
func (s Settings) Credential(key string) string {
	if s.Credentials == nil {
		return ""
	}
	return strings.TrimSpace(s.Credentials[key])
}

// Options carries shared infrastructure into adapters.
type Options struct {
	Logger     *logger.Logger
	Retrier    *Retrier
	HTTPClient *http.Client
	// BaseURL overrides the provider API host. Tests point it at httptest servers.
	BaseURL string
}

// RetrierOrDefault returns the configured retrier or a default one.
func (o Options) RetrierOrDefault() *Retrier {
	if o.Retrier != nil {
		return o.Retrier
	}
	return NewRetrier(RetryPolicy{})
}

// Factory builds an adapter from plugin settings.
type Factory func(ctx context.Context, settings Settings, opts Options) (Adapter, error)
