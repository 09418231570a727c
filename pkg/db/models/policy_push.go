package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/ispbox-backend/pkg/enums"
)

// PolicyPush is a durable request to apply a speed profile on the router.
type PolicyPush struct {
	ID           uuid.UUID              `gorm:"column:id;type:uuid;primaryKey"`
	CustomerID   uuid.UUID              `gorm:"column:customer_id;type:uuid;not null;index"`
	Profile      string                 `gorm:"column:profile;not null"`
	Reason       enums.PolicyPushReason `gorm:"column:reason;type:policy_push_reason_enum;not null"`
	Status       enums.PolicyPushStatus `gorm:"column:status;type:policy_push_status_enum;not null;index"`
	AttemptCount int                    `gorm:"column:attempt_count;not null;default:0"`
	LastError    *string                `gorm:"column:last_error"`
	LeaseUntil   *time.Time             `gorm:"column:lease_until"`
	AppliedAt    *time.Time             `gorm:"column:applied_at"`
	CreatedAt    time.Time              `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time              `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *PolicyPush) BeforeCreate(*gorm.DB) error {
	ensureID(&p.ID)
	return nil
}
