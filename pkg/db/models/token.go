package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/paycore/pkg/enums"
)

// TokenTransaction is an append-only ledger row. Amount is signed.
type TokenTransaction struct {
	ID          uuid.UUID                  `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID      uuid.UUID                  `gorm:"column:user_id;type:uuid;not null;index"`
	Amount      int64                      `gorm:"column:amount;not null"`
	Type        enums.TokenTransactionType `gorm:"column:type;type:token_transaction_type;not null"`
	ReferenceID uuid.UUID                  `gorm:"column:reference_id;type:uuid;not null"`
	CreatedAt   time.Time                  `gorm:"column:created_at;autoCreateTime"`
}

func (t *TokenTransaction) BeforeCreate(*gorm.DB) error {
	ensureID(&t.ID)
	return checkEnum("token_transactions.type", t.Type, enums.TokenTransactionType.IsValid)
}

// TokenBalance is the materialized sum of a user's transactions.
type TokenBalance struct {
	UserID    uuid.UUID `gorm:"column:user_id;type:uuid;primaryKey"`
	Balance   int64     `gorm:"column:balance;not null;default:0"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
