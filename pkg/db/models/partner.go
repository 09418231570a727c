package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Partner is a reseller that buys vouchers on balance or credit.
type Partner struct {
	ID          uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	Name        string    `gorm:"column:name;not null"`
	Saldo       int64     `gorm:"column:saldo;not null;default:0"`
	LimitHutang int64     `gorm:"column:limit_hutang;not null;default:0"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *Partner) BeforeCreate(*gorm.DB) error {
	ensureID(&p.ID)
	return nil
}
