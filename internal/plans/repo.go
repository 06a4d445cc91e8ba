// Package plans reads the plan catalog and records provider-side plan ids.
package plans

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/paycore/pkg/db/models"
)

// Repository handles plan reads and provider refs.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, plan *models.Plan) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Plan, error)
	FindProviderRef(ctx context.Context, planID uuid.UUID, provider string) (*models.PlanProviderRef, error)
	// SaveProviderRef keeps the first stored ref when two writers race.
	SaveProviderRef(ctx context.Context, ref *models.PlanProviderRef) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a plan repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// Create is used by seeding and tests; plan CRUD lives elsewhere.
func (r *repository) Create(ctx context.Context, plan *models.Plan) error {
	return r.db.WithContext(ctx).Create(plan).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Plan, error) {
	var plan models.Plan
	if err := r.db.WithContext(ctx).Where("id = ?", id).Take(&plan).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &plan, nil
}

func (r *repository) FindProviderRef(ctx context.Context, planID uuid.UUID, provider string) (*models.PlanProviderRef, error) {
	var ref models.PlanProviderRef
	if err := r.db.WithContext(ctx).Where("plan_id = ? AND provider = ?", planID, provider).Take(&ref).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &ref, nil
}

func (r *repository) SaveProviderRef(ctx context.Context, ref *models.PlanProviderRef) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(ref).Error
}
