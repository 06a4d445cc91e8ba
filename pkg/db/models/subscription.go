package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/paycore/pkg/enums"
)

// Subscription tracks a user's recurring plan.
type Subscription struct {
	ID                     uuid.UUID                `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID                 uuid.UUID                `gorm:"column:user_id;type:uuid;not null;index"`
	PlanID                 uuid.UUID                `gorm:"column:plan_id;type:uuid;not null"`
	Status                 enums.SubscriptionStatus `gorm:"column:status;type:subscription_status;not null;default:'pending'"`
	Provider               *string                  `gorm:"column:provider"`
	ExternalSubscriptionID *string                  `gorm:"column:external_subscription_id"`
	StartedAt              *time.Time               `gorm:"column:started_at"`
	ExpiresAt              *time.Time               `gorm:"column:expires_at"`
	CancelledAt            *time.Time               `gorm:"column:cancelled_at"`
	CancelReason           *string                  `gorm:"column:cancel_reason"`
	CreatedAt              time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt              time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}

func (s *Subscription) BeforeCreate(*gorm.DB) error {
	ensureID(&s.ID)
	return checkEnum("subscriptions.status", s.Status, enums.SubscriptionStatus.IsValid)
}
