// Package payloads holds the versioned JSON bodies published for payment events.
package payloads

import "github.com/google/uuid"

// PaymentCapturedEvent is published when an invoice becomes paid.
type PaymentCapturedEvent struct {
	InvoiceID       uuid.UUID `json:"invoiceId"`
	TransactionID   string    `json:"transactionId,omitempty"`
	Amount          string    `json:"amount,omitempty"`
	Currency        string    `json:"currency,omitempty"`
	Provider        string    `json:"provider"`
	SubscriptionRef string    `json:"subscriptionRef,omitempty"`
}

// PaymentFailedEvent is published for every recorded payment failure.
type PaymentFailedEvent struct {
	SubscriptionID *uuid.UUID `json:"subscriptionId,omitempty"`
	InvoiceID      *uuid.UUID `json:"invoiceId,omitempty"`
	UserID         *uuid.UUID `json:"userId,omitempty"`
	ErrorCode      string     `json:"errorCode"`
	ErrorMessage   string     `json:"errorMessage"`
	Provider       string     `json:"provider"`
}

// PaymentRefundedEvent is published when a paid invoice is refunded.
type PaymentRefundedEvent struct {
	InvoiceID uuid.UUID `json:"invoiceId"`
	RefundID  string    `json:"refundId,omitempty"`
	Amount    string    `json:"amount,omitempty"`
	Currency  string    `json:"currency,omitempty"`
	Provider  string    `json:"provider"`
}

// SubscriptionCancelledEvent is published when a subscription is cancelled.
type SubscriptionCancelledEvent struct {
	SubscriptionID uuid.UUID `json:"subscriptionId"`
	UserID         uuid.UUID `json:"userId"`
	Reason         string    `json:"reason,omitempty"`
	Provider       string    `json:"provider"`
}
