package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbtypes "github.com/angelmondragon/ispbox-backend/pkg/db/types"
	"github.com/angelmondragon/ispbox-backend/pkg/enums"
)

// PaymentNotification is an inbound transfer notice. (Source, RawReference)
// is unique so gateway retries are absorbed.
type PaymentNotification struct {
	ID                  uuid.UUID                       `gorm:"column:id;type:uuid;primaryKey"`
	Source              string                          `gorm:"column:source;not null;uniqueIndex:ux_payment_notifications_ref,priority:1"`
	RawReference        string                          `gorm:"column:raw_reference;not null;uniqueIndex:ux_payment_notifications_ref,priority:2"`
	Amount              int64                           `gorm:"column:amount;not null"`
	Status              enums.PaymentNotificationStatus `gorm:"column:status;type:payment_notification_status_enum;not null;index"`
	InvoiceID           *uuid.UUID                      `gorm:"column:invoice_id;type:uuid"`
	Reason              *string                         `gorm:"column:reason"`
	// CandidateInvoiceIDs lists the unpaid invoices that shared the amount
	// when the notification was parked.
	CandidateInvoiceIDs dbtypes.UUIDArray               `gorm:"column:candidate_invoice_ids;not null;default:'{}'"`
	ReceivedAt          time.Time                       `gorm:"column:received_at;not null"`
	ResolvedAt          *time.Time                      `gorm:"column:resolved_at"`
	ResolvedBy          *string                         `gorm:"column:resolved_by"`
	CreatedAt           time.Time                       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt           time.Time                       `gorm:"column:updated_at;autoUpdateTime"`
}

func (n *PaymentNotification) BeforeCreate(*gorm.DB) error {
	ensureID(&n.ID)
	return nil
}
