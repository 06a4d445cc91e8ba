package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ProcessedEvent marks a provider event or transaction as already applied.
type ProcessedEvent struct {
	ID          uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Provider    string    `gorm:"column:provider;not null;uniqueIndex:ux_processed_events_provider_external"`
	ExternalID  string    `gorm:"column:external_id;not null;uniqueIndex:ux_processed_events_provider_external"`
	EventName   string    `gorm:"column:event_name;not null"`
	ProcessedAt time.Time `gorm:"column:processed_at;autoCreateTime"`
}

func (p *ProcessedEvent) BeforeCreate(*gorm.DB) error {
	ensureID(&p.ID)
	return nil
}

// PaymentFailure records a failed payment attempt reported by a provider.
type PaymentFailure struct {
	ID             uuid.UUID  `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Provider       string     `gorm:"column:provider;not null"`
	InvoiceID      *uuid.UUID `gorm:"column:invoice_id;type:uuid"`
	SubscriptionID *uuid.UUID `gorm:"column:subscription_id;type:uuid"`
	UserID         *uuid.UUID `gorm:"column:user_id;type:uuid"`
	ErrorCode      string     `gorm:"column:error_code;not null"`
	ErrorMessage   string     `gorm:"column:error_message;not null"`
	CreatedAt      time.Time  `gorm:"column:created_at;autoCreateTime"`
}

func (p *PaymentFailure) BeforeCreate(*gorm.DB) error {
	ensureID(&p.ID)
	return nil
}
