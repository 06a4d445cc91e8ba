// Package bootstrap assembles the payment core shared by the api and
// cron-worker binaries.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/paycore/internal/events"
	"github.com/angelmondragon/paycore/internal/events/handlers"
	"github.com/angelmondragon/paycore/internal/idempotency"
	"github.com/angelmondragon/paycore/internal/invoices"
	"github.com/angelmondragon/paycore/internal/ledger"
	"github.com/angelmondragon/paycore/internal/payments"
	"github.com/angelmondragon/paycore/internal/plans"
	"github.com/angelmondragon/paycore/internal/plugins"
	"github.com/angelmondragon/paycore/internal/subscriptions"
	"github.com/angelmondragon/paycore/pkg/config"
	"github.com/angelmondragon/paycore/pkg/db"
	"github.com/angelmondragon/paycore/pkg/gateway"
	"github.com/angelmondragon/paycore/pkg/logger"
	"github.com/angelmondragon/paycore/pkg/metrics"
	"github.com/angelmondragon/paycore/pkg/outbox"
	"github.com/angelmondragon/paycore/pkg/redis"
	"github.com/angelmondragon/paycore/pkg/security"
)

// Core is the wired payment domain.
type Core struct {
	Invoices      invoices.Repository
	Subscriptions subscriptions.Repository
	Plans         plans.Repository
	Ledger        ledger.Service
	Outbox        *outbox.Repository
	Dispatcher    *events.Dispatcher
	Plugins       *plugins.Manager
	Payments      *payments.Service
}

// NewCore builds repositories, the event dispatcher with its handlers, the
// plugin manager and the payment service. Plugins are booted from their
// stored configuration; boot failures leave the plugin in ERROR and are
// logged, not returned.
func NewCore(ctx context.Context, cfg *config.Config, logg *logger.Logger, dbClient *db.Client, redisClient *redis.Client, reg prometheus.Registerer) (*Core, error) {
	key, err := cfg.Security.Key()
	if err != nil {
		return nil, err
	}
	gdb := dbClient.DB()

	ledgerSvc, err := ledger.NewService(dbClient, ledger.NewRepository(gdb), logg)
	if err != nil {
		return nil, fmt.Errorf("ledger service: %w", err)
	}
	core := &Core{
		Invoices:      invoices.NewRepository(gdb),
		Subscriptions: subscriptions.NewRepository(gdb),
		Plans:         plans.NewRepository(gdb),
		Ledger:        ledgerSvc,
		Outbox:        outbox.NewRepository(gdb),
	}

	core.Dispatcher, err = events.NewDispatcher(events.DispatcherParams{
		DB:        dbClient,
		Processed: idempotency.NewRepository(gdb),
		Outbox:    outbox.NewService(core.Outbox, logg),
		Logger:    logg,
	})
	if err != nil {
		return nil, fmt.Errorf("event dispatcher: %w", err)
	}
	handlers.Register(core.Dispatcher, handlers.Deps{
		Invoices:      core.Invoices,
		Subscriptions: core.Subscriptions,
		Plans:         core.Plans,
		Ledger:        core.Ledger,
		Logger:        logg,
	})

	registry, err := plugins.NewRegistry(plugins.Builtins()...)
	if err != nil {
		return nil, fmt.Errorf("plugin registry: %w", err)
	}
	retrier := gateway.NewRetrier(gateway.RetryPolicy{
		MaxRetries: cfg.Gateway.MaxRetries,
		Base:       cfg.Gateway.BackoffBase,
		Cap:        cfg.Gateway.BackoffCap,
		Timeout:    cfg.Gateway.Timeout,
	})
	core.Plugins, err = plugins.NewManager(plugins.ManagerParams{
		Registry: registry,
		Store:    plugins.NewStore(gdb, security.NewSealer(key)),
		Options: gateway.Options{
			Logger:     logg,
			Retrier:    retrier,
			HTTPClient: &http.Client{Timeout: cfg.Gateway.Timeout},
		},
		Cache:   gateway.NewResponseCache(redisClient, cfg.Gateway.ResponseCacheTTL, logg),
		Metrics: metrics.NewGatewayMetrics(reg),
		Logger:  logg,
	})
	if err != nil {
		return nil, fmt.Errorf("plugin manager: %w", err)
	}
	if err := core.Plugins.Boot(ctx); err != nil {
		logg.Error(ctx, "plugin boot incomplete", err)
	}

	guard, err := payments.NewIdempotencyGuard(redisClient, cfg.Eventing.WebhookDedupTTL)
	if err != nil {
		return nil, fmt.Errorf("webhook guard: %w", err)
	}
	core.Payments, err = payments.NewService(payments.Params{
		Plugins:       core.Plugins,
		Invoices:      core.Invoices,
		Subscriptions: core.Subscriptions,
		Plans:         core.Plans,
		Ledger:        core.Ledger,
		Emitter:       core.Dispatcher,
		Guard:         guard,
		Metrics:       metrics.NewWebhookMetrics(reg),
		Logger:        logg,
		PublicBaseURL: cfg.App.PublicBaseURL,
	})
	if err != nil {
		return nil, fmt.Errorf("payment service: %w", err)
	}
	return core, nil
}
