package cron

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/paycore/pkg/logger"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "cron-test", Output: io.Discard})
}

// batchPruner pretends backlog rows sit past the cutoff.
type batchPruner struct {
	backlog int64
	cutoffs []time.Time
	limits  []int
	failAt  int
	cancel  context.CancelFunc
}

func (p *batchPruner) DeletePublishedBefore(_ context.Context, cutoff time.Time, limit int) (int64, error) {
	p.cutoffs = append(p.cutoffs, cutoff)
	p.limits = append(p.limits, limit)
	if p.failAt > 0 && len(p.cutoffs) == p.failAt {
		return 0, errors.New("statement timeout")
	}
	if p.cancel != nil {
		p.cancel()
	}
	n := min(p.backlog, int64(limit))
	p.backlog -= n
	return n, nil
}

func retentionJob(t *testing.T, repo outboxPruner, now time.Time, batch int) Job {
	t.Helper()
	job, err := NewOutboxRetentionJob(OutboxRetentionJobParams{
		Logger:     testLogger(),
		Repository: repo,
		BatchSize:  batch,
		Now:        func() time.Time { return now },
	})
	require.NoError(t, err)
	return job
}

func TestOutboxRetentionDrainsInBatches(t *testing.T) {
	now := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	repo := &batchPruner{backlog: 25}

	require.NoError(t, retentionJob(t, repo, now, 10).Run(context.Background()))

	require.Equal(t, []int{10, 10, 10}, repo.limits, "stops after the short batch")
	require.Zero(t, repo.backlog)
	for _, cutoff := range repo.cutoffs {
		require.Equal(t, now.Add(-defaultOutboxRetention), cutoff)
	}
}

func TestOutboxRetentionExactMultipleNeedsOneEmptyBatch(t *testing.T) {
	repo := &batchPruner{backlog: 20}
	require.NoError(t, retentionJob(t, repo, time.Now(), 10).Run(context.Background()))
	require.Len(t, repo.limits, 3)
}

func TestOutboxRetentionReportsPartialProgress(t *testing.T) {
	repo := &batchPruner{backlog: 50, failAt: 3}
	err := retentionJob(t, repo, time.Now(), 10).Run(context.Background())
	require.ErrorContains(t, err, "after 20 rows")
	require.Equal(t, int64(30), repo.backlog)
}

func TestOutboxRetentionStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	repo := &batchPruner{backlog: 100, cancel: cancel}

	err := retentionJob(t, repo, time.Now(), 10).Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, repo.limits, 1)
}

func TestOutboxRetentionDefaults(t *testing.T) {
	_, err := NewOutboxRetentionJob(OutboxRetentionJobParams{Logger: testLogger()})
	require.Error(t, err)

	job, err := NewOutboxRetentionJob(OutboxRetentionJobParams{Logger: testLogger(), Repository: &batchPruner{}})
	require.NoError(t, err)
	require.Equal(t, "outbox-retention", job.Name())
	j := job.(*outboxRetentionJob)
	require.Equal(t, defaultRetentionBatch, j.batch)
	require.Equal(t, defaultOutboxRetention, j.retention)
}
