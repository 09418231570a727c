package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/ispbox-backend/pkg/enums"
)

// Customer is a subscriber account. Saldo is a cached projection of the
// ledger; LimitHutang is the credit limit a debit may dig into.
type Customer struct {
	ID          uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	Name        string               `gorm:"column:name;not null"`
	PlanID      *uuid.UUID           `gorm:"column:plan_id;type:uuid"`
	Status      enums.CustomerStatus `gorm:"column:status;type:customer_status_enum;not null"`
	Saldo       int64                `gorm:"column:saldo;not null;default:0"`
	LimitHutang int64                `gorm:"column:limit_hutang;not null;default:0"`
	CreatedAt   time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}

func (c *Customer) BeforeCreate(*gorm.DB) error {
	ensureID(&c.ID)
	return nil
}
