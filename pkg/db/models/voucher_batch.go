package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/ispbox-backend/pkg/enums"
)

// VoucherBatch is a printed run of hotspot vouchers backed by one pool.
type VoucherBatch struct {
	ID         uuid.UUID                `gorm:"column:id;type:uuid;primaryKey"`
	BatchCode  string                   `gorm:"column:batch_code;not null;uniqueIndex:ux_voucher_batches_code"`
	PlanID     uuid.UUID                `gorm:"column:plan_id;type:uuid;not null"`
	PoolID     uuid.UUID                `gorm:"column:pool_id;type:uuid;not null"`
	Quantity   int                      `gorm:"column:quantity;not null"`
	UnitPrice  int64                    `gorm:"column:unit_price;not null"`
	TotalValue int64                    `gorm:"column:total_value;not null"`
	Status     enums.VoucherBatchStatus `gorm:"column:status;type:voucher_batch_status_enum;not null"`
	ValidUntil *time.Time               `gorm:"column:valid_until"`
	CreatedAt  time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}

func (b *VoucherBatch) BeforeCreate(*gorm.DB) error {
	ensureID(&b.ID)
	return nil
}
