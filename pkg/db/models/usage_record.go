package models

import (
	"time"

	"github.com/google/uuid"
)

// UsageRecord tracks one customer's consumption in the current cycle.
type UsageRecord struct {
	CustomerID        uuid.UUID `gorm:"column:customer_id;type:uuid;primaryKey"`
	CurrentUsageBytes int64     `gorm:"column:current_usage_bytes;not null;default:0"`
	CycleQuotaBytes   int64     `gorm:"column:cycle_quota_bytes;not null;default:0"`
	FUPEnabled        bool      `gorm:"column:fup_enabled;not null;default:false"`
	FUPSpeed          string    `gorm:"column:fup_speed"`
	NormalSpeed       string    `gorm:"column:normal_speed"`
	IsFUPActive       bool      `gorm:"column:is_fup_active;not null;default:false"`
	LastResetAt       time.Time `gorm:"column:last_reset_at;not null"`
	NextResetAt       time.Time `gorm:"column:next_reset_at;not null;index"`
	UpdatedAt         time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
