package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/ispbox-backend/pkg/enums"
)

// Coupon limits are ignored when zero.
type Coupon struct {
	ID             uuid.UUID        `gorm:"column:id;type:uuid;primaryKey"`
	Code           string           `gorm:"column:code;not null;uniqueIndex:ux_coupons_code"`
	Type           enums.CouponType `gorm:"column:type;type:coupon_type_enum;not null"`
	Value          int64            `gorm:"column:value;not null"`
	MinTransaction int64            `gorm:"column:min_transaction;not null;default:0"`
	MaxDiscount    int64            `gorm:"column:max_discount;not null;default:0"`
	MaxUsage       int              `gorm:"column:max_usage;not null;default:0"`
	MaxPerCustomer int              `gorm:"column:max_per_customer;not null;default:0"`
	ValidFrom      *time.Time       `gorm:"column:valid_from"`
	ValidUntil     *time.Time       `gorm:"column:valid_until"`
	Active         bool             `gorm:"column:active;not null"`
	CreatedAt      time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}

func (c *Coupon) BeforeCreate(*gorm.DB) error {
	ensureID(&c.ID)
	return nil
}

// CouponUsage counts toward limits while ReleasedAt is nil.
type CouponUsage struct {
	ID         uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	CouponID   uuid.UUID       `gorm:"column:coupon_id;type:uuid;not null;index"`
	OwnerKind  enums.OwnerKind `gorm:"column:owner_kind;type:owner_kind_enum;not null"`
	OwnerID    uuid.UUID       `gorm:"column:owner_id;type:uuid;not null"`
	InvoiceID  uuid.UUID       `gorm:"column:invoice_id;type:uuid;not null;uniqueIndex:ux_coupon_usages_invoice"`
	ReleasedAt *time.Time      `gorm:"column:released_at"`
	CreatedAt  time.Time       `gorm:"column:created_at;autoCreateTime"`
}

func (u *CouponUsage) BeforeCreate(*gorm.DB) error {
	ensureID(&u.ID)
	return nil
}
