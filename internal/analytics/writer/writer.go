package writer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/angelmondragon/paycore/internal/analytics/types"
	pkgbigquery "github.com/angelmondragon/paycore/pkg/bigquery"
	"github.com/sethvargo/go-retry"
)

const (
	defaultBatchSize      = 1
	defaultMaxAttempts    = 3
	defaultInitialBackoff = 250 * time.Millisecond
	defaultMaximumBackoff = 2 * time.Second
)

// Config controls the analytics writer behavior.
type Config struct {
	PaymentEventsTable string
	BatchSize          int
	RetryPolicy        RetryPolicy
}

// RetryPolicy bounds retries of transient BigQuery insert failures.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaximumBackoff time.Duration
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaultMaxAttempts
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = defaultInitialBackoff
	}
	if p.MaximumBackoff <= 0 {
		p.MaximumBackoff = defaultMaximumBackoff
	}
	p.MaximumBackoff = max(p.MaximumBackoff, p.InitialBackoff)
	return p
}

func (p RetryPolicy) backoff() retry.Backoff {
	b := retry.NewExponential(p.InitialBackoff)
	b = retry.WithCappedDuration(p.MaximumBackoff, b)
	return retry.WithMaxRetries(uint64(p.MaxAttempts-1), b)
}

type tableInserter interface {
	InsertRows(ctx context.Context, table string, rows []any) error
}

// BigQueryWriter buffers payment_events rows and streams them in batches.
// A row buffered twice under the same event id is written once.
type BigQueryWriter struct {
	client    tableInserter
	table     string
	batchSize int
	policy    RetryPolicy

	mu      sync.Mutex
	pending []types.PaymentEventRow
	byEvent map[string]int
}

func New(client *pkgbigquery.Client, cfg Config) (*BigQueryWriter, error) {
	if client == nil {
		return nil, errors.New("bigquery client required")
	}
	return newWriter(client, cfg)
}

func newWriter(client tableInserter, cfg Config) (*BigQueryWriter, error) {
	table := strings.TrimSpace(cfg.PaymentEventsTable)
	if table == "" {
		return nil, errors.New("payment events table is required")
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	return &BigQueryWriter{
		client:    client,
		table:     table,
		batchSize: batch,
		policy:    cfg.RetryPolicy.withDefaults(),
		byEvent:   map[string]int{},
	}, nil
}

// InsertPaymentEvent buffers row and flushes once the batch is full.
// Pub/Sub callbacks run concurrently, so the buffer is locked.
func (w *BigQueryWriter) InsertPaymentEvent(ctx context.Context, row types.PaymentEventRow) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	// A redelivered event replaces its earlier copy left by a failed flush.
	if i, ok := w.byEvent[row.EventID]; ok && row.EventID != "" {
		w.pending[i] = row
	} else {
		w.byEvent[row.EventID] = len(w.pending)
		w.pending = append(w.pending, row)
	}
	if len(w.pending) < w.batchSize {
		return nil
	}
	return w.flushLocked(ctx)
}

// Buffered reports how many rows await a flush.
func (w *BigQueryWriter) Buffered() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

// Flush writes any buffered rows immediately.
func (w *BigQueryWriter) Flush(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushLocked(ctx)
}

func (w *BigQueryWriter) flushLocked(ctx context.Context) error {
	if len(w.pending) == 0 {
		return nil
	}
	rows := make([]any, 0, len(w.pending))
	for i := range w.pending {
		rows = append(rows, &w.pending[i])
	}

	err := retry.Do(ctx, w.policy.backoff(), func(ctx context.Context) error {
		err := w.client.InsertRows(ctx, w.table, rows)
		if err != nil && isRetryable(err) {
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("insert %s rows: %w", w.table, err)
	}
	w.pending = nil
	clear(w.byEvent)
	return nil
}
