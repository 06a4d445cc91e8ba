package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/paycore/pkg/logger"
)

const defaultExpiryBatch = 500

type SubscriptionExpiryJobParams struct {
	Logger        *logger.Logger
	Subscriptions subscriptionExpirer
	BatchSize     int
	Now           func() time.Time
}

type subscriptionExpirer interface {
	ExpireDue(ctx context.Context, now time.Time, limit int) (int64, error)
}

// NewSubscriptionExpiryJob moves ACTIVE subscriptions past their period end
// to EXPIRED, draining in batches until none are due.
func NewSubscriptionExpiryJob(params SubscriptionExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Subscriptions == nil {
		return nil, fmt.Errorf("subscription repository required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultExpiryBatch
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &subscriptionExpiryJob{logg: params.Logger, subs: params.Subscriptions, batch: batch, now: now}, nil
}

type subscriptionExpiryJob struct {
	logg  *logger.Logger
	subs  subscriptionExpirer
	batch int
	now   func() time.Time
}

func (j *subscriptionExpiryJob) Name() string { return "subscription-expiry" }

func (j *subscriptionExpiryJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	var total int64
	for {
		expired, err := j.subs.ExpireDue(ctx, now, j.batch)
		if err != nil {
			return fmt.Errorf("expire subscriptions: %w", err)
		}
		total += expired
		if expired < int64(j.batch) {
			break
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	j.logg.Event(j.logg.WithField(ctx, "expired", total), "subscription.expired", "subscription expiry complete")
	return nil
}
