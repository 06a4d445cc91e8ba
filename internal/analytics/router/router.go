package router

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/angelmondragon/paycore/internal/analytics/types"
	"github.com/angelmondragon/paycore/internal/analytics/writer"
	"github.com/angelmondragon/paycore/pkg/enums"
	"github.com/angelmondragon/paycore/pkg/logger"
	"github.com/angelmondragon/paycore/pkg/outbox/payloads"
	"github.com/angelmondragon/paycore/pkg/outbox/registry"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var ErrUnsupportedEventType = errors.New("unsupported analytics event type")

// Writer delivers BigQuery rows produced by the router.
type Writer interface {
	InsertPaymentEvent(ctx context.Context, row types.PaymentEventRow) error
}

// Decoder turns a versioned payload into its typed event.
type Decoder interface {
	Decode(eventType enums.OutboxEventType, version int, payload []byte) (interface{}, error)
}

// Router decodes payment envelopes and writes one payment_events row each.
type Router struct {
	writer   Writer
	decoders Decoder
	logg     *logger.Logger
	now      func() time.Time
}

// NewRouter wires the router. A nil decoder falls back to the v1 payment decoders.
func NewRouter(w Writer, decoders Decoder, logg *logger.Logger) (*Router, error) {
	if w == nil {
		return nil, errors.New("writer is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	if decoders == nil {
		decoders = paymentDecoders{reg: registry.NewPaymentDecoders()}
	}
	return &Router{
		writer:   w,
		decoders: decoders,
		logg:     logg,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// Handle decodes the envelope payload and inserts the resulting row.
func (r *Router) Handle(ctx context.Context, envelope types.Envelope) error {
	if !envelope.EventType.IsValid() {
		return fmt.Errorf("%w: %s", ErrUnsupportedEventType, envelope.EventType)
	}
	if len(envelope.Payload) == 0 {
		return fmt.Errorf("empty payload for %s", envelope.EventType)
	}
	version := envelope.Version
	if version <= 0 {
		version = 1
	}
	decoded, err := r.decoders.Decode(envelope.EventType, version, envelope.Payload)
	if err != nil {
		return fmt.Errorf("decode %s payload: %w", envelope.EventType, err)
	}

	row := types.PaymentEventRow{
		EventID:       envelope.EventID,
		EventType:     string(envelope.EventType),
		AggregateType: string(envelope.AggregateType),
		AggregateID:   envelope.AggregateID,
		OccurredAt:    envelope.OccurredAt,
		IngestedAt:    r.now(),
	}
	row.Payload, err = writer.EncodeJSON(envelope.Payload)
	if err != nil {
		return err
	}

	switch event := decoded.(type) {
	case *payloads.PaymentCapturedEvent:
		row.Provider = event.Provider
		row.InvoiceID = uuidPtr(event.InvoiceID)
		row.ExternalRef = stringPtr(event.TransactionID)
		row.Currency = stringPtr(event.Currency)
		if row.Amount, err = parseAmount(event.Amount); err != nil {
			return err
		}
	case *payloads.PaymentRefundedEvent:
		row.Provider = event.Provider
		row.InvoiceID = uuidPtr(event.InvoiceID)
		row.ExternalRef = stringPtr(event.RefundID)
		row.Currency = stringPtr(event.Currency)
		if row.Amount, err = parseAmount(event.Amount); err != nil {
			return err
		}
	case *payloads.PaymentFailedEvent:
		row.Provider = event.Provider
		row.ErrorCode = stringPtr(event.ErrorCode)
		if event.InvoiceID != nil {
			row.InvoiceID = uuidPtr(*event.InvoiceID)
		}
		if event.SubscriptionID != nil {
			row.SubscriptionID = uuidPtr(*event.SubscriptionID)
		}
		if event.UserID != nil {
			row.UserID = uuidPtr(*event.UserID)
		}
	case *payloads.SubscriptionCancelledEvent:
		row.Provider = event.Provider
		row.SubscriptionID = uuidPtr(event.SubscriptionID)
		row.UserID = uuidPtr(event.UserID)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedEventType, envelope.EventType)
	}

	return r.writer.InsertPaymentEvent(ctx, row)
}

type paymentDecoders struct {
	reg *registry.DecoderRegistry
}

func (d paymentDecoders) Decode(eventType enums.OutboxEventType, version int, payload []byte) (interface{}, error) {
	return d.reg.Decode(eventType, version, payload)
}

// parseAmount keeps the decimal exact all the way into the NUMERIC column.
func parseAmount(value string) (*big.Rat, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	amount, err := decimal.NewFromString(value)
	if err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", value, err)
	}
	return amount.Rat(), nil
}

func stringPtr(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func uuidPtr(id uuid.UUID) *string {
	if id == uuid.Nil {
		return nil
	}
	value := id.String()
	return &value
}
