// Package idempotency records which provider events already took effect.
package idempotency

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	dbpkg "github.com/angelmondragon/paycore/pkg/db"
	"github.com/angelmondragon/paycore/pkg/db/models"
)

const uniqueConstraint = "ux_processed_events_provider_external"

// ErrAlreadyProcessed is returned when the (provider, external id) pair was
// claimed by an earlier transaction.
var ErrAlreadyProcessed = errors.New("event already processed")

// Repository claims processed_events rows.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Claim(ctx context.Context, provider, externalID, eventName string) error
	IsProcessed(ctx context.Context, provider, externalID string) (bool, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// Claim inserts the marker row. A unique violation maps to ErrAlreadyProcessed
// and aborts the caller's transaction on Postgres, so callers must roll back.
func (r *repository) Claim(ctx context.Context, provider, externalID, eventName string) error {
	provider = strings.TrimSpace(provider)
	externalID = strings.TrimSpace(externalID)
	if provider == "" || externalID == "" {
		return errors.New("provider and external id are required")
	}
	row := models.ProcessedEvent{Provider: provider, ExternalID: externalID, EventName: eventName}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		if dbpkg.IsUniqueViolation(err, uniqueConstraint) || dbpkg.IsUniqueViolation(err, "") {
			return ErrAlreadyProcessed
		}
		return err
	}
	return nil
}

func (r *repository) IsProcessed(ctx context.Context, provider, externalID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.ProcessedEvent{}).
		Where("provider = ? AND external_id = ?", provider, externalID).
		Count(&count).Error
	return count > 0, err
}
