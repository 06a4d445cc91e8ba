package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/paycore/pkg/enums"
	"github.com/angelmondragon/paycore/pkg/money"
)

// Plan is the catalog entry a subscription line item points at.
type Plan struct {
	ID            uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Name          string              `gorm:"column:name;not null"`
	BillingPeriod enums.BillingPeriod `gorm:"column:billing_period;type:billing_period;not null"`
	Price         decimal.Decimal     `gorm:"column:price;type:numeric(12,2);not null"`
	Currency      string              `gorm:"column:currency;not null"`
	TokenGrant    int64               `gorm:"column:token_grant;not null;default:0"`
	CreatedAt     time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *Plan) BeforeCreate(*gorm.DB) error {
	ensureID(&p.ID)
	return checkEnum("plans.billing_period", p.BillingPeriod, enums.BillingPeriod.IsValid)
}

// PriceAmount returns the plan price as a money amount.
func (p Plan) PriceAmount() money.Amount {
	return money.Amount{Value: p.Price, Currency: p.Currency}
}

// PlanProviderRef records the provider-side recurring plan created for a plan.
type PlanProviderRef struct {
	PlanID      uuid.UUID `gorm:"column:plan_id;type:uuid;primaryKey"`
	Provider    string    `gorm:"column:provider;primaryKey"`
	ExternalRef string    `gorm:"column:external_ref;not null"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
}
