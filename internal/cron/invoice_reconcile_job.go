package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/paycore/internal/events"
	"github.com/angelmondragon/paycore/internal/plugins"
	"github.com/angelmondragon/paycore/pkg/db/models"
	"github.com/angelmondragon/paycore/pkg/gateway"
	"github.com/angelmondragon/paycore/pkg/logger"
)

const (
	defaultReconcileLimit = 100
	defaultReconcileAfter = 15 * time.Minute
)

// InvoiceReconcileJobParams configures the lost-webhook reconciliation job.
type InvoiceReconcileJobParams struct {
	Logger   *logger.Logger
	Invoices pendingInvoiceLister
	Plugins  plugins.Resolver
	Emitter  events.Emitter
	After    time.Duration
	Limit    int
	Now      func() time.Time
}

type pendingInvoiceLister interface {
	ListPendingWithExternalRef(ctx context.Context, olderThan time.Time, limit int) ([]models.Invoice, error)
}

// NewInvoiceReconcileJob polls the provider for PENDING invoices whose session
// has been open longer than After and emits PaymentCaptured for the ones the
// provider reports paid.
func NewInvoiceReconcileJob(params InvoiceReconcileJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Invoices == nil {
		return nil, fmt.Errorf("invoice repository required")
	}
	if params.Plugins == nil {
		return nil, fmt.Errorf("plugin resolver required")
	}
	if params.Emitter == nil {
		return nil, fmt.Errorf("event emitter required")
	}
	after := params.After
	if after <= 0 {
		after = defaultReconcileAfter
	}
	limit := params.Limit
	if limit <= 0 {
		limit = defaultReconcileLimit
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &invoiceReconcileJob{
		logg:     params.Logger,
		invoices: params.Invoices,
		plugins:  params.Plugins,
		emitter:  params.Emitter,
		after:    after,
		limit:    limit,
		now:      now,
	}, nil
}

type invoiceReconcileJob struct {
	logg     *logger.Logger
	invoices pendingInvoiceLister
	plugins  plugins.Resolver
	emitter  events.Emitter
	after    time.Duration
	limit    int
	now      func() time.Time
}

func (j *invoiceReconcileJob) Name() string { return "invoice-reconcile" }

func (j *invoiceReconcileJob) Run(ctx context.Context) error {
	cutoff := j.now().Add(-j.after)
	pending, err := j.invoices.ListPendingWithExternalRef(ctx, cutoff, j.limit)
	if err != nil {
		return fmt.Errorf("list pending invoices: %w", err)
	}
	var errs error
	captured := 0
	for i := range pending {
		ok, err := j.reconcile(ctx, &pending[i])
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("invoice %s: %w", pending[i].ID, err))
			continue
		}
		if ok {
			captured++
		}
	}
	reportCtx := j.logg.WithFields(ctx, map[string]any{
		"candidates": len(pending),
		"captured":   captured,
	})
	j.logg.Event(reportCtx, "invoice.reconciled", "invoice reconcile loop complete")
	return errs
}

func (j *invoiceReconcileJob) reconcile(ctx context.Context, invoice *models.Invoice) (bool, error) {
	if invoice.Provider == nil || invoice.ExternalRef == nil {
		return false, nil
	}
	provider, ref := *invoice.Provider, *invoice.ExternalRef
	logCtx := j.logg.WithInvoiceID(j.logg.WithProvider(ctx, provider), invoice.ID.String())

	adapter, err := j.plugins.Resolve(logCtx, provider)
	if err != nil {
		// A disabled plugin keeps its invoices pending until it comes back.
		j.logg.Warn(logCtx, "invoice reconcile skipped: plugin unavailable")
		return false, nil
	}
	res, err := adapter.GetStatus(logCtx, ref)
	if err != nil {
		return false, err
	}
	if !res.OK || res.Status != gateway.StatusPaid {
		return false, nil
	}

	err = j.emitter.Emit(logCtx, events.PaymentCaptured{
		InvoiceID:     invoice.ID,
		TransactionID: res.TransactionID,
		Amount:        res.Amount,
		ProviderName:  provider,
	})
	if errors.Is(err, events.ErrAlreadyProcessed) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	j.logg.Event(logCtx, "invoice.reconciled_paid", "pending invoice captured by reconciliation")
	return true, nil
}
