package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/ispbox-backend/pkg/enums"
)

// ResourcePool groups allocatable tokens of one kind.
type ResourcePool struct {
	ID                    uuid.UUID      `gorm:"column:id;type:uuid;primaryKey"`
	Name                  string         `gorm:"column:name;not null;uniqueIndex:ux_resource_pools_name"`
	Kind                  enums.PoolKind `gorm:"column:kind;type:pool_kind_enum;not null"`
	Exclusive             bool           `gorm:"column:exclusive;not null;default:false"`
	ReservationTTLSeconds int            `gorm:"column:reservation_ttl_seconds;not null;default:0"`
	CreatedAt             time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt             time.Time      `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *ResourcePool) BeforeCreate(*gorm.DB) error {
	ensureID(&p.ID)
	return nil
}

// ReservationTTL returns the default hold duration, zero when unset.
func (p ResourcePool) ReservationTTL() time.Duration {
	return time.Duration(p.ReservationTTLSeconds) * time.Second
}
