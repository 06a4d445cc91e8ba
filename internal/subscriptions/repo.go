// Package subscriptions persists local subscription state. Status moves are
// compare-and-set updates gated by enums.SubscriptionStatus.CanTransitionTo.
package subscriptions

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

// Repository handles subscription persistence.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, sub *models.Subscription) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Subscription, error)
	FindByExternalID(ctx context.Context, provider, externalID string) (*models.Subscription, error)
	FindActive(ctx context.Context, userID, planID uuid.UUID) (*models.Subscription, error)
	Activate(ctx context.Context, id uuid.UUID, input ActivateInput) error
	Cancel(ctx context.Context, id uuid.UUID, from enums.SubscriptionStatus, reason string, at time.Time) error
	BindExternalID(ctx context.Context, id uuid.UUID, provider, externalID string) error
	ExpireDue(ctx context.Context, now time.Time, limit int) (int64, error)
}

// ActivateInput carries the columns written on PENDING to ACTIVE.
type ActivateInput struct {
	Provider   string
	ExternalID string
	StartedAt  time.Time
	ExpiresAt  *time.Time
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a subscription repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, sub *models.Subscription) error {
	if sub.Status == "" {
		sub.Status = enums.SubscriptionStatusPending
	}
	return r.db.WithContext(ctx).Create(sub).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	return first(r.db.WithContext(ctx).Where("id = ?", id))
}

func (r *repository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	return first(r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id))
}

func (r *repository) FindByExternalID(ctx context.Context, provider, externalID string) (*models.Subscription, error) {
	if externalID == "" {
		return nil, nil
	}
	return first(r.db.WithContext(ctx).Where("provider = ? AND external_subscription_id = ?", provider, externalID))
}

func (r *repository) FindActive(ctx context.Context, userID, planID uuid.UUID) (*models.Subscription, error) {
	return first(r.db.WithContext(ctx).
		Where("user_id = ? AND plan_id = ? AND status = ?", userID, planID, enums.SubscriptionStatusActive).
		Order("created_at DESC"))
}

func first(query *gorm.DB) (*models.Subscription, error) {
	var sub models.Subscription
	if err := query.Take(&sub).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

func (r *repository) Activate(ctx context.Context, id uuid.UUID, input ActivateInput) error {
	if input.ExternalID != "" {
		if err := r.BindExternalID(ctx, id, input.Provider, input.ExternalID); err != nil {
			return err
		}
	}
	started := input.StartedAt
	if started.IsZero() {
		started = time.Now().UTC()
	}
	updates := map[string]any{
		"status":     enums.SubscriptionStatusActive,
		"started_at": started,
		"expires_at": input.ExpiresAt,
		"updated_at": started,
	}
	if input.Provider != "" {
		updates["provider"] = input.Provider
	}
	return r.move(ctx, id, enums.SubscriptionStatusPending, enums.SubscriptionStatusActive, updates)
}

func (r *repository) Cancel(ctx context.Context, id uuid.UUID, from enums.SubscriptionStatus, reason string, at time.Time) error {
	if at.IsZero() {
		at = time.Now().UTC()
	}
	updates := map[string]any{
		"status":       enums.SubscriptionStatusCancelled,
		"cancelled_at": at,
		"updated_at":   at,
	}
	if reason != "" {
		updates["cancel_reason"] = reason
	}
	return r.move(ctx, id, from, enums.SubscriptionStatusCancelled, updates)
}

// BindExternalID stores the provider subscription id once. Rebinding the same
// value is a no-op; a different value is a Conflict.
func (r *repository) BindExternalID(ctx context.Context, id uuid.UUID, provider, externalID string) error {
	res := r.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("id = ? AND external_subscription_id IS NULL", id).
		Updates(map[string]any{
			"external_subscription_id": externalID,
			"provider":                 provider,
			"updated_at":               time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 1 {
		return nil
	}
	current, err := r.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if current == nil {
		return pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
	}
	if current.ExternalSubscriptionID != nil && *current.ExternalSubscriptionID == externalID {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeConflict, "subscription already bound to a different provider subscription")
}

func (r *repository) move(ctx context.Context, id uuid.UUID, from, to enums.SubscriptionStatus, updates map[string]any) error {
	if !from.CanTransitionTo(to) {
		return pkgerrors.Newf(pkgerrors.CodeStateConflict, "subscription cannot move from %s to %s", from, to)
	}
	res := r.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return pkgerrors.Newf(pkgerrors.CodeStateConflict, "subscription is not %s", from)
	}
	return nil
}

// ExpireDue moves ACTIVE subscriptions whose period ended to EXPIRED.
func (r *repository) ExpireDue(ctx context.Context, now time.Time, limit int) (int64, error) {
	if limit <= 0 {
		limit = 500
	}
	var ids []uuid.UUID
	if err := r.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("status = ? AND expires_at IS NOT NULL AND expires_at <= ?", enums.SubscriptionStatusActive, now).
		Order("expires_at ASC").
		Limit(limit).
		Pluck("id", &ids).Error; err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("id IN ? AND status = ?", ids, enums.SubscriptionStatusActive).
		Updates(map[string]any{
			"status":     enums.SubscriptionStatusExpired,
			"updated_at": now,
		})
	return res.RowsAffected, res.Error
}
