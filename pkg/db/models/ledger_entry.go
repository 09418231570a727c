package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/ispbox-backend/pkg/enums"
)

// LedgerEntry is an immutable journal line. For one owner ordered by Seq,
// BalanceBefore always equals the previous entry's BalanceAfter.
type LedgerEntry struct {
	ID            uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	OwnerKind     enums.OwnerKind       `gorm:"column:owner_kind;type:owner_kind_enum;not null;uniqueIndex:ux_ledger_entries_owner_seq,priority:1"`
	OwnerID       uuid.UUID             `gorm:"column:owner_id;type:uuid;not null;uniqueIndex:ux_ledger_entries_owner_seq,priority:2"`
	Seq           int64                 `gorm:"column:seq;not null;uniqueIndex:ux_ledger_entries_owner_seq,priority:3"`
	Type          enums.LedgerEntryType `gorm:"column:type;type:ledger_entry_type_enum;not null"`
	Amount        int64                 `gorm:"column:amount;not null"`
	BalanceBefore int64                 `gorm:"column:balance_before;not null"`
	BalanceAfter  int64                 `gorm:"column:balance_after;not null"`
	Category      enums.LedgerCategory  `gorm:"column:category;type:ledger_category_enum;not null"`
	ReferenceKind *string               `gorm:"column:reference_kind"`
	ReferenceID   *uuid.UUID            `gorm:"column:reference_id;type:uuid"`
	ReversesID    *uuid.UUID            `gorm:"column:reverses_id;type:uuid;uniqueIndex:ux_ledger_entries_reverses"`
	Description   string                `gorm:"column:description"`
	CreatedAt     time.Time             `gorm:"column:created_at;autoCreateTime"`
}

func (e *LedgerEntry) BeforeCreate(*gorm.DB) error {
	ensureID(&e.ID)
	return nil
}

// SignedAmount returns the entry amount with debits negated.
func (e LedgerEntry) SignedAmount() int64 {
	if e.Type == enums.LedgerEntryDebit {
		return -e.Amount
	}
	return e.Amount
}
