package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/paycore/pkg/db/models"
	"github.com/angelmondragon/paycore/pkg/enums"
	"github.com/angelmondragon/paycore/pkg/pagination"
)

// Repository persists token transactions and the materialized balance.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	InsertTransaction(ctx context.Context, txn *models.TokenTransaction) error
	AddToBalance(ctx context.Context, userID uuid.UUID, amount int64) error
	// SubtractFromBalance applies a conditional decrement and reports whether
	// a row was updated.
	SubtractFromBalance(ctx context.Context, userID uuid.UUID, amount int64) (bool, error)
	LockBalance(ctx context.Context, userID uuid.UUID) (int64, error)
	Balance(ctx context.Context, userID uuid.UUID) (int64, error)
	SumByReferences(ctx context.Context, userID uuid.UUID, types []enums.TokenTransactionType, referenceIDs []uuid.UUID) (int64, error)
	// ListTransactions returns rows newest first, strictly after the cursor
	// when one is given.
	ListTransactions(ctx context.Context, userID uuid.UUID, cursor *pagination.Cursor, limit int) ([]models.TokenTransaction, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) InsertTransaction(ctx context.Context, txn *models.TokenTransaction) error {
	return r.db.WithContext(ctx).Create(txn).Error
}

func (r *repository) AddToBalance(ctx context.Context, userID uuid.UUID, amount int64) error {
	now := time.Now().UTC()
	row := models.TokenBalance{UserID: userID, Balance: amount, UpdatedAt: now}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"balance":    gorm.Expr("token_balances.balance + ?", amount),
				"updated_at": now,
			}),
		}).
		Create(&row).Error
}

func (r *repository) SubtractFromBalance(ctx context.Context, userID uuid.UUID, amount int64) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.TokenBalance{}).
		Where("user_id = ? AND balance >= ?", userID, amount).
		Updates(map[string]any{
			"balance":    gorm.Expr("balance - ?", amount),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) LockBalance(ctx context.Context, userID uuid.UUID) (int64, error) {
	var row models.TokenBalance
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return row.Balance, nil
}

func (r *repository) Balance(ctx context.Context, userID uuid.UUID) (int64, error) {
	var row models.TokenBalance
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return row.Balance, nil
}

func (r *repository) SumByReferences(ctx context.Context, userID uuid.UUID, types []enums.TokenTransactionType, referenceIDs []uuid.UUID) (int64, error) {
	if len(types) == 0 || len(referenceIDs) == 0 {
		return 0, nil
	}
	var total int64
	err := r.db.WithContext(ctx).
		Model(&models.TokenTransaction{}).
		Where("user_id = ? AND type IN ? AND reference_id IN ?", userID, types, referenceIDs).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&total).Error
	return total, err
}

func (r *repository) ListTransactions(ctx context.Context, userID uuid.UUID, cursor *pagination.Cursor, limit int) ([]models.TokenTransaction, error) {
	if limit <= 0 {
		limit = pagination.LimitWithBuffer(0)
	}
	q := r.db.WithContext(ctx).Where("user_id = ?", userID)
	if cursor != nil {
		q = q.Where("(created_at < ? OR (created_at = ? AND id < ?))", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}
	var rows []models.TokenTransaction
	err := q.
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}
