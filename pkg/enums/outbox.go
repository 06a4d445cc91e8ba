package enums

import (
	"fmt"
	"slices"
)

// OutboxAggregateType names the entity an outbox event describes.
type OutboxAggregateType string

const (
	AggregateInvoice      OutboxAggregateType = "invoice"
	AggregateSubscription OutboxAggregateType = "subscription"
)

// OutboxEventType is the event_type column of outbox_events and the
// event_type Pub/Sub attribute.
type OutboxEventType string

const (
	EventPaymentCaptured       OutboxEventType = "payment_captured"
	EventPaymentFailed         OutboxEventType = "payment_failed"
	EventPaymentRefunded       OutboxEventType = "payment_refunded"
	EventSubscriptionCancelled OutboxEventType = "subscription_cancelled"
)

var (
	aggregateTypes = []OutboxAggregateType{AggregateInvoice, AggregateSubscription}
	eventTypes     = []OutboxEventType{
		EventPaymentCaptured,
		EventPaymentFailed,
		EventPaymentRefunded,
		EventSubscriptionCancelled,
	}
)

// parseOneOf returns the member of set equal to value.
func parseOneOf[T ~string](kind, value string, set []T) (T, error) {
	if i := slices.Index(set, T(value)); i >= 0 {
		return set[i], nil
	}
	var zero T
	return zero, fmt.Errorf("invalid %s %q", kind, value)
}

func (a OutboxAggregateType) IsValid() bool { return slices.Contains(aggregateTypes, a) }

func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	return parseOneOf("aggregate type", value, aggregateTypes)
}

func (e OutboxEventType) IsValid() bool { return slices.Contains(eventTypes, e) }

// EventTypes lists every publishable event type.
func EventTypes() []OutboxEventType { return slices.Clone(eventTypes) }

func ParseOutboxEventType(value string) (OutboxEventType, error) {
	return parseOneOf("event type", value, eventTypes)
}

// OutboxDLQErrorReason records why a row left the outbox undelivered.
type OutboxDLQErrorReason string

const (
	// OutboxDLQReasonMaxAttempts means retries ran out on transient errors.
	OutboxDLQReasonMaxAttempts OutboxDLQErrorReason = "max_attempts"
	// OutboxDLQReasonNonRetryable means the row can never publish as stored.
	OutboxDLQReasonNonRetryable OutboxDLQErrorReason = "non_retryable"
)

func (r OutboxDLQErrorReason) IsValid() bool {
	return r == OutboxDLQReasonMaxAttempts || r == OutboxDLQReasonNonRetryable
}
