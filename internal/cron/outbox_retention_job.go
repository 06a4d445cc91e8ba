package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/paycore/pkg/logger"
)

const (
	defaultOutboxRetention = 30 * 24 * time.Hour
	defaultRetentionBatch  = 500
)

type outboxPruner interface {
	DeletePublishedBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error)
}

type OutboxRetentionJobParams struct {
	Logger     *logger.Logger
	Repository outboxPruner
	// Retention is how long published rows are kept. Defaults to 30 days.
	Retention time.Duration
	// BatchSize caps the rows removed per statement.
	BatchSize int
	Now       func() time.Time
}

// outboxRetentionJob deletes published outbox rows in bounded batches so a
// large backlog never holds one long lock. Pending rows are never touched;
// dead-lettered rows keep their copy in outbox_dlq.
type outboxRetentionJob struct {
	logg      *logger.Logger
	repo      outboxPruner
	retention time.Duration
	batch     int
	now       func() time.Time
}

func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	switch {
	case params.Logger == nil:
		return nil, errors.New("logger required")
	case params.Repository == nil:
		return nil, errors.New("outbox repository required")
	}
	j := &outboxRetentionJob{
		logg:      params.Logger,
		repo:      params.Repository,
		retention: params.Retention,
		batch:     params.BatchSize,
		now:       params.Now,
	}
	if j.retention <= 0 {
		j.retention = defaultOutboxRetention
	}
	if j.batch <= 0 {
		j.batch = defaultRetentionBatch
	}
	if j.now == nil {
		j.now = time.Now
	}
	return j, nil
}

func (j *outboxRetentionJob) Name() string { return "outbox-retention" }

// Run drains every row past the cutoff, one batch at a time. Progress made
// before a failure or cancellation stays committed.
func (j *outboxRetentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.retention)
	var total int64
	batches := 0
	for ctx.Err() == nil {
		n, err := j.repo.DeletePublishedBefore(ctx, cutoff, j.batch)
		if err != nil {
			return fmt.Errorf("prune outbox after %d rows: %w", total, err)
		}
		total += n
		batches++
		if n < int64(j.batch) {
			break
		}
	}
	j.logg.Event(j.logg.WithFields(ctx, map[string]any{
		"cutoff":       cutoff,
		"rows_deleted": total,
		"batches":      batches,
	}), "cron.outbox_retention", "outbox retention cleanup complete")
	return ctx.Err()
}
