// Package events defines the canonical payment events and the dispatcher that
// applies them. Each event takes effect at most once per provider.
package events

import (
	"github.com/google/uuid"

	"github.com/angelmondragon/paycore/pkg/enums"
	"github.com/angelmondragon/paycore/pkg/money"
)

// Canonical event names.
const (
	NamePaymentCaptured       = "PaymentCaptured"
	NamePaymentFailed         = "PaymentFailed"
	NamePaymentRefunded       = "PaymentRefunded"
	NameSubscriptionCancelled = "SubscriptionCancelled"
)

// Event is a canonical domain event.
type Event interface {
	Name() string
	Provider() string
	// DedupKey identifies the effect; a second event with the same key and
	// provider is rejected with ErrAlreadyProcessed.
	DedupKey() string
	OutboxType() enums.OutboxEventType
	Aggregate() (enums.OutboxAggregateType, uuid.UUID)
}

// PaymentCaptured reports that the provider collected the invoice total.
type PaymentCaptured struct {
	InvoiceID       uuid.UUID     `json:"invoiceId"`
	TransactionID   string        `json:"transactionId,omitempty"`
	Amount          *money.Amount `json:"-"`
	ProviderName    string        `json:"provider"`
	SubscriptionRef string        `json:"subscriptionRef,omitempty"`
}

func (e PaymentCaptured) Name() string     { return NamePaymentCaptured }
func (e PaymentCaptured) Provider() string { return e.ProviderName }

// DedupKey is per invoice: an invoice is paid at most once.
func (e PaymentCaptured) DedupKey() string { return "payment_captured:" + e.InvoiceID.String() }

func (e PaymentCaptured) OutboxType() enums.OutboxEventType { return enums.EventPaymentCaptured }

func (e PaymentCaptured) Aggregate() (enums.OutboxAggregateType, uuid.UUID) {
	return enums.AggregateInvoice, e.InvoiceID
}

// PaymentFailed reports a declined or failed payment attempt.
type PaymentFailed struct {
	// EventID is the provider event id, or a fresh id for locally observed failures.
	EventID        string     `json:"eventId"`
	SubscriptionID *uuid.UUID `json:"subscriptionId,omitempty"`
	InvoiceID      *uuid.UUID `json:"invoiceId,omitempty"`
	UserID         *uuid.UUID `json:"userId,omitempty"`
	ErrorCode      string     `json:"errorCode"`
	ErrorMessage   string     `json:"errorMessage"`
	ProviderName   string     `json:"provider"`
}

func (e PaymentFailed) Name() string     { return NamePaymentFailed }
func (e PaymentFailed) Provider() string { return e.ProviderName }
func (e PaymentFailed) DedupKey() string { return "payment_failed:" + e.EventID }

func (e PaymentFailed) OutboxType() enums.OutboxEventType { return enums.EventPaymentFailed }

func (e PaymentFailed) Aggregate() (enums.OutboxAggregateType, uuid.UUID) {
	if e.InvoiceID != nil {
		return enums.AggregateInvoice, *e.InvoiceID
	}
	if e.SubscriptionID != nil {
		return enums.AggregateSubscription, *e.SubscriptionID
	}
	return enums.AggregateInvoice, uuid.Nil
}

// PaymentRefunded reports a refund of a paid invoice.
type PaymentRefunded struct {
	InvoiceID    uuid.UUID     `json:"invoiceId"`
	RefundID     string        `json:"refundId,omitempty"`
	Amount       *money.Amount `json:"-"`
	ProviderName string        `json:"provider"`
}

func (e PaymentRefunded) Name() string     { return NamePaymentRefunded }
func (e PaymentRefunded) Provider() string { return e.ProviderName }

// DedupKey is per invoice: refunds are full-invoice.
func (e PaymentRefunded) DedupKey() string { return "payment_refunded:" + e.InvoiceID.String() }

func (e PaymentRefunded) OutboxType() enums.OutboxEventType { return enums.EventPaymentRefunded }

func (e PaymentRefunded) Aggregate() (enums.OutboxAggregateType, uuid.UUID) {
	return enums.AggregateInvoice, e.InvoiceID
}

// SubscriptionCancelled reports a provider-side or local cancellation.
type SubscriptionCancelled struct {
	SubscriptionID uuid.UUID `json:"subscriptionId"`
	UserID         uuid.UUID `json:"userId"`
	Reason         string    `json:"reason,omitempty"`
	ProviderName   string    `json:"provider"`
}

func (e SubscriptionCancelled) Name() string     { return NameSubscriptionCancelled }
func (e SubscriptionCancelled) Provider() string { return e.ProviderName }
func (e SubscriptionCancelled) DedupKey() string {
	return "subscription_cancelled:" + e.SubscriptionID.String()
}

func (e SubscriptionCancelled) OutboxType() enums.OutboxEventType {
	return enums.EventSubscriptionCancelled
}

func (e SubscriptionCancelled) Aggregate() (enums.OutboxAggregateType, uuid.UUID) {
	return enums.AggregateSubscription, e.SubscriptionID
}
