package events

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/paycore/internal/idempotency"
	pkgerrors "github.com/angelmondragon/paycore/pkg/errors"
	"github.com/angelmondragon/paycore/pkg/logger"
	"github.com/angelmondragon/paycore/pkg/money"
	"github.com/angelmondragon/paycore/pkg/outbox"
	"github.com/angelmondragon/paycore/pkg/outbox/payloads"
)

// ErrAlreadyProcessed is returned when the event's effect was already applied.
var ErrAlreadyProcessed = idempotency.ErrAlreadyProcessed

// Handler applies an event inside the dispatcher's transaction.
type Handler interface {
	Handle(ctx context.Context, tx *gorm.DB, event Event) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, tx *gorm.DB, event Event) error

func (f HandlerFunc) Handle(ctx context.Context, tx *gorm.DB, event Event) error {
	return f(ctx, tx, event)
}

// Emitter delivers canonical events.
type Emitter interface {
	Emit(ctx context.Context, event Event) error
	EmitTx(ctx context.Context, tx *gorm.DB, event Event) error
}

// TxRunner opens database transactions.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// OutboxWriter queues the published form of an event.
type OutboxWriter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) (string, error)
}

// DispatcherParams wires a Dispatcher.
type DispatcherParams struct {
	DB        TxRunner
	Processed idempotency.Repository
	Outbox    OutboxWriter
	Logger    *logger.Logger
}

// Dispatcher claims each event once, runs its handlers in registration order
// and queues the outbox row, all in one transaction.
type Dispatcher struct {
	db        TxRunner
	processed idempotency.Repository
	outbox    OutboxWriter
	logg      *logger.Logger
	handlers  map[string][]Handler
}

func NewDispatcher(params DispatcherParams) (*Dispatcher, error) {
	if params.DB == nil {
		return nil, errors.New("dispatcher transaction runner required")
	}
	if params.Processed == nil {
		return nil, errors.New("dispatcher processed-event repository required")
	}
	return &Dispatcher{
		db:        params.DB,
		processed: params.Processed,
		outbox:    params.Outbox,
		logg:      params.Logger,
		handlers:  map[string][]Handler{},
	}, nil
}

// Register appends a handler for the named event.
func (d *Dispatcher) Register(name string, handler Handler) {
	d.handlers[name] = append(d.handlers[name], handler)
}

func (d *Dispatcher) Emit(ctx context.Context, event Event) error {
	return d.db.WithTx(ctx, func(tx *gorm.DB) error {
		return d.EmitTx(ctx, tx, event)
	})
}

// EmitTx applies the event using the caller's transaction. A rolled back
// transaction releases the claim.
func (d *Dispatcher) EmitTx(ctx context.Context, tx *gorm.DB, event Event) error {
	if event == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "event is required")
	}
	if event.Provider() == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "event provider is required")
	}
	if err := d.processed.WithTx(tx).Claim(ctx, event.Provider(), event.DedupKey(), event.Name()); err != nil {
		if errors.Is(err, idempotency.ErrAlreadyProcessed) {
			return ErrAlreadyProcessed
		}
		return err
	}
	for _, handler := range d.handlers[event.Name()] {
		if err := handler.Handle(ctx, tx, event); err != nil {
			return err
		}
	}
	if err := d.queue(ctx, tx, event); err != nil {
		return err
	}
	if d.logg != nil {
		logCtx := d.logg.WithFields(ctx, map[string]any{
			"event":     event.Name(),
			"provider":  event.Provider(),
			"dedup_key": event.DedupKey(),
		})
		d.logg.Event(logCtx, "event.dispatched", "event dispatched")
	}
	return nil
}

func (d *Dispatcher) queue(ctx context.Context, tx *gorm.DB, event Event) error {
	if d.outbox == nil {
		return nil
	}
	aggregateType, aggregateID := event.Aggregate()
	if aggregateID == uuid.Nil {
		// Failures that match no local record are only recorded, not published.
		return nil
	}
	_, err := d.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     event.OutboxType(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Actor:         &outbox.ActorRef{Provider: event.Provider(), Source: "dispatcher"},
		Data:          Payload(event),
	})
	if err != nil {
		return fmt.Errorf("queue %s: %w", event.Name(), err)
	}
	return nil
}

// Payload converts an event into its published body.
func Payload(event Event) any {
	switch e := event.(type) {
	case PaymentCaptured:
		body := payloads.PaymentCapturedEvent{
			InvoiceID:       e.InvoiceID,
			TransactionID:   e.TransactionID,
			Provider:        e.ProviderName,
			SubscriptionRef: e.SubscriptionRef,
		}
		if e.Amount != nil {
			body.Amount = money.FormatDecimal(*e.Amount)
			body.Currency = e.Amount.Currency
		}
		return body
	case PaymentFailed:
		return payloads.PaymentFailedEvent{
			SubscriptionID: e.SubscriptionID,
			InvoiceID:      e.InvoiceID,
			UserID:         e.UserID,
			ErrorCode:      e.ErrorCode,
			ErrorMessage:   e.ErrorMessage,
			Provider:       e.ProviderName,
		}
	case PaymentRefunded:
		body := payloads.PaymentRefundedEvent{
			InvoiceID: e.InvoiceID,
			RefundID:  e.RefundID,
			Provider:  e.ProviderName,
		}
		if e.Amount != nil {
			body.Amount = money.FormatDecimal(*e.Amount)
			body.Currency = e.Amount.Currency
		}
		return body
	case SubscriptionCancelled:
		return payloads.SubscriptionCancelledEvent{
			SubscriptionID: e.SubscriptionID,
			UserID:         e.UserID,
			Reason:         e.Reason,
			Provider:       e.ProviderName,
		}
	default:
		return event
	}
}
