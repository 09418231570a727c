package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Plan is a sellable internet package. Price is in minor units.
type Plan struct {
	ID              uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	Name            string    `gorm:"column:name;not null"`
	Price           int64     `gorm:"column:price;not null"`
	IsTaxed         bool      `gorm:"column:is_taxed;not null;default:false"`
	QuotaBytes      int64     `gorm:"column:quota_bytes;not null;default:0"`
	FUPEnabled      bool      `gorm:"column:fup_enabled;not null;default:false"`
	SpeedProfile    string    `gorm:"column:speed_profile;not null"`
	FUPSpeedProfile string    `gorm:"column:fup_speed_profile"`
	CreatedAt       time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *Plan) BeforeCreate(*gorm.DB) error {
	ensureID(&p.ID)
	return nil
}
