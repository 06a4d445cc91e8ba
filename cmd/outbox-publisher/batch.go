package main

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/paycore/pkg/db/models"
	"github.com/angelmondragon/paycore/pkg/enums"
	"github.com/angelmondragon/paycore/pkg/metrics"
	"github.com/angelmondragon/paycore/pkg/outbox/registry"
	"gorm.io/gorm"
)

type rowOutcome string

const (
	rowPublished    rowOutcome = metrics.OutboxPublished
	rowRetry        rowOutcome = metrics.OutboxRetry
	rowDeadLettered rowOutcome = metrics.OutboxDeadLettered
)

// processBatch handles one locked page of pending rows inside a single
// transaction. It reports whether any rows were found.
func (s *Service) processBatch(ctx context.Context) (bool, error) {
	var handled int
	start := time.Now()
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		events, err := s.repo.FetchUnpublishedForPublish(tx, s.settings.batchSize)
		if err != nil {
			return err
		}
		handled = len(events)
		for _, event := range events {
			outcome, err := s.handleRow(ctx, tx, event)
			if err != nil {
				return err
			}
			s.metrics.IncRow(string(event.EventType), string(outcome))
		}
		return nil
	})
	if handled > 0 {
		s.metrics.ObserveBatch(time.Since(start))
	}
	return handled > 0, err
}

func (s *Service) handleRow(ctx context.Context, tx *gorm.DB, event models.OutboxEvent) (rowOutcome, error) {
	// Rows exhausted under an earlier max_attempts setting skip publishing.
	if event.AttemptCount >= s.settings.maxAttempts {
		cause := fmt.Errorf("max publish attempts reached (%d)", event.AttemptCount)
		return s.deadLetter(ctx, tx, event, enums.OutboxDLQReasonMaxAttempts, cause, s.eventFields(event, nil))
	}

	resolved, err := s.registry.Resolve(event)
	if err != nil {
		return s.deadLetter(ctx, tx, event, enums.OutboxDLQReasonNonRetryable, err, s.eventFields(event, nil))
	}

	fields := s.eventFields(event, resolved)
	pubErr := s.publishResolved(ctx, event, resolved)
	if pubErr == nil {
		if err := s.repo.MarkPublishedTx(tx, event.ID, s.now()); err != nil {
			return "", fmt.Errorf("mark published %s: %w", event.ID, err)
		}
		s.logg.Event(s.logg.WithFields(ctx, fields), "outbox.published", "outbox event published")
		return rowPublished, nil
	}

	if registry.IsNonRetryable(pubErr) {
		return s.deadLetter(ctx, tx, event, enums.OutboxDLQReasonNonRetryable, pubErr, fields)
	}

	fields["attempt_count"] = event.AttemptCount + 1
	if event.AttemptCount+1 >= s.settings.maxAttempts {
		fields["terminal_reason"] = "max_attempts"
		cause := fmt.Errorf("max publish attempts reached: %w", pubErr)
		return s.deadLetter(ctx, tx, event, enums.OutboxDLQReasonMaxAttempts, cause, fields)
	}

	fields["error"] = pubErr.Error()
	s.logg.Warn(s.logg.WithFields(ctx, fields), "outbox publish failed")
	if err := s.repo.MarkFailedTx(tx, event.ID, pubErr); err != nil {
		return "", fmt.Errorf("mark failure %s: %w", event.ID, err)
	}
	return rowRetry, nil
}

// deadLetter copies the row into the DLQ and closes it out in the outbox.
func (s *Service) deadLetter(ctx context.Context, tx *gorm.DB, event models.OutboxEvent, reason enums.OutboxDLQErrorReason, cause error, fields map[string]any) (rowOutcome, error) {
	fields["error_reason"] = reason
	fields["error"] = cause.Error()
	s.logg.Warn(s.logg.WithFields(ctx, fields), "outbox event will not be retried")

	at := s.now()
	if err := s.dlq.InsertTx(tx, event.DeadLetter(reason, cause, at)); err != nil {
		return "", fmt.Errorf("insert dlq %s: %w", event.ID, err)
	}
	if err := s.repo.MarkTerminalTx(tx, event.ID, cause, at); err != nil {
		return "", fmt.Errorf("mark terminal %s: %w", event.ID, err)
	}
	return rowDeadLettered, nil
}

func (s *Service) eventFields(event models.OutboxEvent, resolved *registry.ResolvedEvent) map[string]any {
	fields := map[string]any{
		"outbox_id":      event.ID.String(),
		"event_type":     event.EventType,
		"aggregate_type": event.AggregateType,
		"aggregate_id":   event.AggregateID.String(),
		"batch_size":     s.settings.batchSize,
		"attempt_count":  event.AttemptCount,
	}
	if event.LastError != nil {
		fields["last_error"] = *event.LastError
	}
	if resolved == nil {
		return fields
	}
	fields["topic"] = resolved.Descriptor.Topic
	if resolved.Envelope.EventID != "" {
		fields["event_id"] = resolved.Envelope.EventID
		fields["occurred_at"] = resolved.Envelope.OccurredAt.Format(time.RFC3339Nano)
	}
	return fields
}
