package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/ispbox-backend/pkg/enums"
)

// Invoice amounts are minor units: Amount = Subtotal + Tax + UniqueCode where
// Subtotal already includes the negative discount line.
type Invoice struct {
	ID           uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	Number       string              `gorm:"column:number;not null;uniqueIndex:ux_invoices_number"`
	OwnerKind    enums.OwnerKind     `gorm:"column:owner_kind;type:owner_kind_enum;not null;index:ix_invoices_owner,priority:1"`
	OwnerID      uuid.UUID           `gorm:"column:owner_id;type:uuid;not null;index:ix_invoices_owner,priority:2"`
	PeriodStart  time.Time           `gorm:"column:period_start;not null"`
	PeriodEnd    time.Time           `gorm:"column:period_end;not null"`
	Subtotal     int64               `gorm:"column:subtotal;not null"`
	Discount     int64               `gorm:"column:discount;not null;default:0"`
	Tax          int64               `gorm:"column:tax;not null;default:0"`
	UniqueCode   int                 `gorm:"column:unique_code;not null"`
	Amount       int64               `gorm:"column:amount;not null;index"`
	CouponID     *uuid.UUID          `gorm:"column:coupon_id;type:uuid"`
	DueDate      time.Time           `gorm:"column:due_date;not null"`
	Status       enums.InvoiceStatus `gorm:"column:status;type:invoice_status_enum;not null;index"`
	ChargedAt    *time.Time          `gorm:"column:charged_at"`
	PaidAt       *time.Time          `gorm:"column:paid_at"`
	CancelledAt  *time.Time          `gorm:"column:cancelled_at"`
	CancelReason *string             `gorm:"column:cancel_reason"`
	CreatedAt    time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time           `gorm:"column:updated_at;autoUpdateTime"`

	Items []InvoiceItem `gorm:"foreignKey:InvoiceID;references:ID"`
}

func (i *Invoice) BeforeCreate(*gorm.DB) error {
	ensureID(&i.ID)
	return nil
}

// InvoiceItem is one priced line. Discounts are stored as negative lines.
type InvoiceItem struct {
	ID        uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	InvoiceID uuid.UUID `gorm:"column:invoice_id;type:uuid;not null;index"`
	Name      string    `gorm:"column:name;not null"`
	UnitPrice int64     `gorm:"column:unit_price;not null"`
	Qty       int64     `gorm:"column:qty;not null"`
	LineTotal int64     `gorm:"column:line_total;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (i *InvoiceItem) BeforeCreate(*gorm.DB) error {
	ensureID(&i.ID)
	return nil
}
