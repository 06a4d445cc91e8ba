package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/paycore/internal/analytics/router"
	"github.com/angelmondragon/paycore/internal/analytics/types"
	"github.com/angelmondragon/paycore/internal/analytics/worker"
	"github.com/angelmondragon/paycore/internal/analytics/writer"
	"github.com/angelmondragon/paycore/pkg/bigquery"
	"github.com/angelmondragon/paycore/pkg/config"
	"github.com/angelmondragon/paycore/pkg/logger"
	"github.com/angelmondragon/paycore/pkg/outbox/idempotency"
	"github.com/angelmondragon/paycore/pkg/pubsub"
	"github.com/angelmondragon/paycore/pkg/redis"
)

const serviceKind = "analytics-worker"

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.New(logger.Options{ServiceName: serviceKind}).Error(context.Background(), "analytics worker failed", err)
		stop()
		os.Exit(1)
	}
}

// run wires the consumer and blocks until ctx ends. Every client opened here
// is closed on return, including after a boot failure.
func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	cfg.Service.Kind = serviceKind

	logg := logger.New(logger.Options{
		ServiceName: serviceKind,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	closeQuietly := func(name string, closeFn func() error) {
		if err := closeFn(); err != nil {
			logg.Error(context.WithoutCancel(ctx), "failed to close "+name, err)
		}
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	defer closeQuietly("redis client", redisClient.Close)

	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, pubsub.RoleConsumer, logg)
	if err != nil {
		return fmt.Errorf("pubsub: %w", err)
	}
	defer closeQuietly("pubsub client", pubsubClient.Close)

	bqClient, err := bigquery.NewClient(ctx, cfg.GCP, cfg.BigQuery, logg, bigquery.Table{
		Name:           cfg.BigQuery.PaymentEventsTable,
		Schema:         types.PaymentEventSchema(),
		PartitionField: "occurred_at",
	})
	if err != nil {
		return fmt.Errorf("bigquery: %w", err)
	}
	defer closeQuietly("bigquery client", bqClient.Close)

	manager, err := idempotency.NewManager(redisClient, cfg.Eventing.OutboxIdempotencyTTL)
	if err != nil {
		return err
	}
	sink, err := writer.New(bqClient, writer.Config{
		PaymentEventsTable: cfg.BigQuery.PaymentEventsTable,
		BatchSize:          cfg.BigQuery.InsertBatchSize,
		RetryPolicy:        writer.RetryPolicy{MaxAttempts: cfg.BigQuery.InsertMaxAttempts},
	})
	if err != nil {
		return fmt.Errorf("analytics writer: %w", err)
	}
	handler, err := router.NewRouter(sink, nil, logg)
	if err != nil {
		return err
	}
	service, err := worker.NewService(pubsubClient.AnalyticsSubscription(), handler, manager, logg)
	if err != nil {
		return fmt.Errorf("analytics worker: %w", err)
	}

	logg.Info(ctx, "analytics worker ready")
	runErr := service.Run(ctx)
	// Rows buffered by a partial batch are written before the clients close.
	if err := sink.Flush(context.WithoutCancel(ctx)); err != nil {
		logg.Error(ctx, "failed to flush analytics rows", err)
	}
	return runErr
}
