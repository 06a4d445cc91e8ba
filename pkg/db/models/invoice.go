package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/paycore/pkg/enums"
	"github.com/angelmondragon/paycore/pkg/money"
)

// Invoice is one billable unit produced by checkout.
type Invoice struct {
	ID          uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID      uuid.UUID           `gorm:"column:user_id;type:uuid;not null;index"`
	Number      string              `gorm:"column:number;not null;uniqueIndex"`
	TotalAmount decimal.Decimal     `gorm:"column:total_amount;type:numeric(12,2);not null"`
	Currency    string              `gorm:"column:currency;not null"`
	Status      enums.InvoiceStatus `gorm:"column:status;type:invoice_status;not null;default:'pending'"`
	Provider    *string             `gorm:"column:provider"`
	ExternalRef *string             `gorm:"column:external_ref"`
	CaptureRef  *string             `gorm:"column:capture_ref"`
	LineItems   []InvoiceLineItem   `gorm:"foreignKey:InvoiceID"`
	CreatedAt   time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time           `gorm:"column:updated_at;autoUpdateTime"`
	PaidAt      *time.Time          `gorm:"column:paid_at"`
	CancelledAt *time.Time          `gorm:"column:cancelled_at"`
	RefundedAt  *time.Time          `gorm:"column:refunded_at"`
}

func (i *Invoice) BeforeCreate(*gorm.DB) error {
	if err := checkEnum("invoices.status", i.Status, enums.InvoiceStatus.IsValid); err != nil {
		return err
	}
	ensureID(&i.ID)
	for idx := range i.LineItems {
		ensureID(&i.LineItems[idx].ID)
		i.LineItems[idx].InvoiceID = i.ID
	}
	return nil
}

// Total returns the invoice total as a money amount.
func (i Invoice) Total() money.Amount {
	return money.Amount{Value: i.TotalAmount, Currency: i.Currency}
}

// InvoiceLineItem references a plan, add-on or token bundle.
type InvoiceLineItem struct {
	ID             uuid.UUID          `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	InvoiceID      uuid.UUID          `gorm:"column:invoice_id;type:uuid;not null;index"`
	Kind           enums.LineItemKind `gorm:"column:kind;type:line_item_kind;not null"`
	PlanID         *uuid.UUID         `gorm:"column:plan_id;type:uuid"`
	SubscriptionID *uuid.UUID         `gorm:"column:subscription_id;type:uuid"`
	Description    string             `gorm:"column:description;not null"`
	Quantity       int                `gorm:"column:quantity;not null;default:1"`
	UnitAmount     decimal.Decimal    `gorm:"column:unit_amount;type:numeric(12,2);not null"`
	TokenAmount    int64              `gorm:"column:token_amount;not null;default:0"`
	Recurring      bool               `gorm:"column:recurring;not null;default:false"`
	CreatedAt      time.Time          `gorm:"column:created_at;autoCreateTime"`
}

func (li *InvoiceLineItem) BeforeCreate(*gorm.DB) error {
	ensureID(&li.ID)
	return checkEnum("invoice_line_items.kind", li.Kind, enums.LineItemKind.IsValid)
}

// BundleTokens is the token count purchased by a token bundle line item.
func (li InvoiceLineItem) BundleTokens() int64 {
	if li.Kind != enums.LineItemKindTokenBundle {
		return 0
	}
	qty := li.Quantity
	if qty <= 0 {
		qty = 1
	}
	return li.TokenAmount * int64(qty)
}
