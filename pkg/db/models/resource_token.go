package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/ispbox-backend/pkg/enums"
)

// ResourceToken is a single allocatable unit: an IP address or a voucher code.
// State only changes through a version compare-and-swap.
type ResourceToken struct {
	ID            uuid.UUID        `gorm:"column:id;type:uuid;primaryKey"`
	PoolID        uuid.UUID        `gorm:"column:pool_id;type:uuid;not null;uniqueIndex:ux_resource_tokens_pool_value,priority:1;uniqueIndex:ux_resource_tokens_pool_exclusive,priority:1;index:ix_resource_tokens_claim,priority:1"`
	Position      int64            `gorm:"column:position;not null;index:ix_resource_tokens_claim,priority:3"`
	Value         string           `gorm:"column:value;not null;uniqueIndex:ux_resource_tokens_pool_value,priority:2"`
	State         enums.TokenState `gorm:"column:state;type:token_state_enum;not null;index:ix_resource_tokens_claim,priority:2"`
	OwnerKind     *enums.OwnerKind `gorm:"column:owner_kind;type:owner_kind_enum"`
	OwnerID       *uuid.UUID       `gorm:"column:owner_id;type:uuid"`
	ExclusiveKey  *string          `gorm:"column:exclusive_key;uniqueIndex:ux_resource_tokens_pool_exclusive,priority:2"`
	BatchID       *uuid.UUID       `gorm:"column:batch_id;type:uuid;index"`
	ReservedUntil *time.Time       `gorm:"column:reserved_until"`
	AssignedAt    *time.Time       `gorm:"column:assigned_at"`
	UsedAt        *time.Time       `gorm:"column:used_at"`
	UsedBy        *string          `gorm:"column:used_by"`
	Version       int64            `gorm:"column:version;not null;default:0"`
	CreatedAt     time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}

func (t *ResourceToken) BeforeCreate(*gorm.DB) error {
	ensureID(&t.ID)
	return nil
}

// ReservationElapsed reports whether a reserved token's hold has lapsed.
func (t ResourceToken) ReservationElapsed(now time.Time) bool {
	return t.State == enums.TokenReserved && t.ReservedUntil != nil && !now.Before(*t.ReservedUntil)
}
