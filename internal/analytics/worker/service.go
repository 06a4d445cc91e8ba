package worker

import (
	"context"
	"errors"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/angelmondragon/paycore/internal/analytics/router"
	"github.com/angelmondragon/paycore/internal/analytics/types"
	"github.com/angelmondragon/paycore/pkg/logger"
)

const analyticsConsumerName = "analytics"

// Handler defines how to process payment envelopes.
type Handler interface {
	Handle(ctx context.Context, envelope types.Envelope) error
}

// HandlerFunc adapts functions to the Handler interface.
type HandlerFunc func(ctx context.Context, envelope types.Envelope) error

// Handle calls the underlying function.
func (fn HandlerFunc) Handle(ctx context.Context, envelope types.Envelope) error {
	if fn == nil {
		return nil
	}
	return fn(ctx, envelope)
}

type idempotencyChecker interface {
	CheckAndMarkProcessed(ctx context.Context, consumer, eventID string) (bool, error)
	Delete(ctx context.Context, consumer, eventID string) error
}

// receiver is satisfied by *pubsub.Subscriber.
type receiver interface {
	Receive(ctx context.Context, f func(context.Context, *gcppubsub.Message)) error
}

type verdict int

const (
	ack verdict = iota
	nack
)

// Service consumes payment events from Pub/Sub. Each event id is claimed in
// Redis before handling so redeliveries are written once.
type Service struct {
	subscription receiver
	handler      Handler
	manager      idempotencyChecker
	logg         *logger.Logger
}

func NewService(subscription *gcppubsub.Subscriber, handler Handler, manager idempotencyChecker, logg *logger.Logger) (*Service, error) {
	if subscription == nil {
		return nil, errors.New("analytics subscription is required")
	}
	return newService(subscription, handler, manager, logg)
}

func newService(subscription receiver, handler Handler, manager idempotencyChecker, logg *logger.Logger) (*Service, error) {
	switch {
	case handler == nil:
		return nil, errors.New("analytics handler is required")
	case manager == nil:
		return nil, errors.New("idempotency manager is required")
	case logg == nil:
		return nil, errors.New("logger is required")
	}
	return &Service{subscription: subscription, handler: handler, manager: manager, logg: logg}, nil
}

// Run blocks receiving messages until ctx is canceled.
func (s *Service) Run(ctx context.Context) error {
	return s.subscription.Receive(ctx, func(msgCtx context.Context, msg *gcppubsub.Message) {
		if s.process(msgCtx, msg) == nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

func (s *Service) process(ctx context.Context, msg *gcppubsub.Message) verdict {
	ctx = s.logg.WithField(ctx, "message_id", msg.ID)

	envelope, err := types.FromMessage(msg.Data, msg.Attributes)
	if err != nil {
		// Malformed messages never become valid on redelivery.
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "invalid analytics envelope")
		return ack
	}
	ctx = s.logg.WithFields(ctx, map[string]any{
		"event_id":       envelope.EventID,
		"event_type":     envelope.EventType,
		"schema_version": envelope.Version,
		"aggregate_type": envelope.AggregateType,
		"aggregate_id":   envelope.AggregateID,
		"occurred_at":    envelope.OccurredAt.Format(time.RFC3339Nano),
	})

	seen, err := s.manager.CheckAndMarkProcessed(ctx, analyticsConsumerName, envelope.EventID)
	if err != nil {
		s.logg.Error(ctx, "idempotency check failed", err)
		return nack
	}
	if seen {
		s.logg.Event(ctx, "analytics.duplicate", "event already processed")
		return ack
	}

	err = s.handler.Handle(ctx, envelope)
	switch {
	case err == nil:
		s.logg.Event(ctx, "analytics.handled", "analytics event handled")
		return ack
	case errors.Is(err, router.ErrUnsupportedEventType):
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "unsupported analytics event")
		return ack
	}

	s.logg.Error(ctx, "handler error", err)
	if relErr := s.manager.Delete(ctx, analyticsConsumerName, envelope.EventID); relErr != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", relErr.Error()), "failed to release idempotency claim")
	}
	return nack
}
