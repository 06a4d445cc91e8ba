// Package invoices persists invoices and their line items. Status moves are
// compare-and-set updates gated by enums.InvoiceStatus.CanTransitionTo.
package invoices

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/paycore/pkg/db/models"
	"github.com/angelmondragon/paycore/pkg/enums"
	pkgerrors "github.com/angelmondragon/paycore/pkg/errors"
)

// Repository handles invoice persistence.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, invoice *models.Invoice) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Invoice, error)
	// FindByIDForUpdate row-locks the invoice for the rest of the transaction.
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Invoice, error)
	FindByExternalRef(ctx context.Context, provider, externalRef string) (*models.Invoice, error)
	FindByCaptureRef(ctx context.Context, provider, captureRef string) (*models.Invoice, error)
	AttachExternalRef(ctx context.Context, id uuid.UUID, provider, externalRef string) error
	Transition(ctx context.Context, id uuid.UUID, from, to enums.InvoiceStatus, changes TransitionChanges) error
	ListPendingWithExternalRef(ctx context.Context, olderThan time.Time, limit int) ([]models.Invoice, error)
	RecordFailure(ctx context.Context, failure *models.PaymentFailure) error
	ListFailures(ctx context.Context, invoiceID uuid.UUID) ([]models.PaymentFailure, error)
}

// TransitionChanges are extra columns written with a status move.
type TransitionChanges struct {
	At         time.Time
	Provider   string
	CaptureRef string
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns an invoice repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, invoice *models.Invoice) error {
	if invoice.Number == "" {
		number, err := NewNumber(time.Now().UTC())
		if err != nil {
			return err
		}
		invoice.Number = number
	}
	if invoice.Status == "" {
		invoice.Status = enums.InvoiceStatusPending
	}
	return r.db.WithContext(ctx).Create(invoice).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Invoice, error) {
	return r.first(r.db.WithContext(ctx).Where("id = ?", id))
}

func (r *repository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Invoice, error) {
	return r.first(r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id))
}

func (r *repository) FindByExternalRef(ctx context.Context, provider, externalRef string) (*models.Invoice, error) {
	if externalRef == "" {
		return nil, nil
	}
	return r.first(r.db.WithContext(ctx).Where("provider = ? AND external_ref = ?", provider, externalRef))
}

func (r *repository) FindByCaptureRef(ctx context.Context, provider, captureRef string) (*models.Invoice, error) {
	if captureRef == "" {
		return nil, nil
	}
	return r.first(r.db.WithContext(ctx).Where("provider = ? AND capture_ref = ?", provider, captureRef))
}

// first loads one invoice with its line items. A missing row is (nil, nil).
func (r *repository) first(query *gorm.DB) (*models.Invoice, error) {
	var invoice models.Invoice
	if err := query.Take(&invoice).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var items []models.InvoiceLineItem
	if err := r.db.Where("invoice_id = ?", invoice.ID).Order("created_at ASC").Order("id ASC").Find(&items).Error; err != nil {
		return nil, err
	}
	invoice.LineItems = items
	return &invoice, nil
}

// AttachExternalRef binds the provider session to a pending invoice. The same
// reference may be attached again; a different provider or reference on an
// invoice that already has one is replaced only while the invoice is pending.
func (r *repository) AttachExternalRef(ctx context.Context, id uuid.UUID, provider, externalRef string) error {
	res := r.db.WithContext(ctx).
		Model(&models.Invoice{}).
		Where("id = ? AND status = ?", id, enums.InvoiceStatusPending).
		Updates(map[string]any{
			"provider":     provider,
			"external_ref": externalRef,
			"updated_at":   time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "invoice is no longer pending")
	}
	return nil
}

func (r *repository) Transition(ctx context.Context, id uuid.UUID, from, to enums.InvoiceStatus, changes TransitionChanges) error {
	if !from.CanTransitionTo(to) {
		return pkgerrors.Newf(pkgerrors.CodeStateConflict, "invoice cannot move from %s to %s", from, to)
	}
	at := changes.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	updates := map[string]any{
		"status":     to,
		"updated_at": at,
	}
	switch to {
	case enums.InvoiceStatusPaid:
		updates["paid_at"] = at
	case enums.InvoiceStatusCancelled:
		updates["cancelled_at"] = at
	case enums.InvoiceStatusRefunded:
		updates["refunded_at"] = at
	}
	if changes.Provider != "" {
		updates["provider"] = changes.Provider
	}
	if changes.CaptureRef != "" {
		updates["capture_ref"] = changes.CaptureRef
	}

	res := r.db.WithContext(ctx).
		Model(&models.Invoice{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return pkgerrors.Newf(pkgerrors.CodeStateConflict, "invoice is not %s", from)
	}
	return nil
}

func (r *repository) ListPendingWithExternalRef(ctx context.Context, olderThan time.Time, limit int) ([]models.Invoice, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []models.Invoice
	err := r.db.WithContext(ctx).
		Where("status = ?", enums.InvoiceStatusPending).
		Where("external_ref IS NOT NULL AND provider IS NOT NULL").
		Where("updated_at <= ?", olderThan).
		Order("updated_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *repository) RecordFailure(ctx context.Context, failure *models.PaymentFailure) error {
	return r.db.WithContext(ctx).Create(failure).Error
}

func (r *repository) ListFailures(ctx context.Context, invoiceID uuid.UUID) ([]models.PaymentFailure, error) {
	var rows []models.PaymentFailure
	err := r.db.WithContext(ctx).
		Where("invoice_id = ?", invoiceID).
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}
