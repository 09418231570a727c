package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/ispbox-backend/pkg/enums"
)

// InvoiceGeneratedEvent announces a new unpaid invoice.
type InvoiceGeneratedEvent struct {
	InvoiceID   uuid.UUID       `json:"invoice_id"`
	Number      string          `json:"number"`
	OwnerKind   enums.OwnerKind `json:"owner_kind"`
	OwnerID     uuid.UUID       `json:"owner_id"`
	Amount      int64           `json:"amount"`
	UniqueCode  int             `json:"unique_code"`
	DueDate     time.Time       `json:"due_date"`
	PeriodStart time.Time       `json:"period_start"`
}

// InvoiceChargedEvent is emitted when an invoice total is debited from the owner.
type InvoiceChargedEvent struct {
	InvoiceID uuid.UUID `json:"invoice_id"`
	EntryID   uuid.UUID `json:"entry_id"`
	Amount    int64     `json:"amount"`
}

// InvoicePaidEvent is emitted once per invoice when it settles.
type InvoicePaidEvent struct {
	InvoiceID      uuid.UUID       `json:"invoice_id"`
	OwnerKind      enums.OwnerKind `json:"owner_kind"`
	OwnerID        uuid.UUID       `json:"owner_id"`
	Amount         int64           `json:"amount"`
	NotificationID *uuid.UUID      `json:"notification_id,omitempty"`
	EntryID        uuid.UUID       `json:"entry_id"`
	PaidAt         time.Time       `json:"paid_at"`
}

type InvoiceCancelledEvent struct {
	InvoiceID   uuid.UUID `json:"invoice_id"`
	Reason      string    `json:"reason,omitempty"`
	CancelledAt time.Time `json:"cancelled_at"`
}

// PaymentUnmatchedEvent asks an operator to reconcile a transfer by hand.
type PaymentUnmatchedEvent struct {
	NotificationID uuid.UUID   `json:"notification_id"`
	Source         string      `json:"source"`
	RawReference   string      `json:"raw_reference"`
	Amount         int64       `json:"amount"`
	Candidates     int         `json:"candidates"`
	CandidateIDs   []uuid.UUID `json:"candidate_invoice_ids,omitempty"`
}

type LedgerReversedEvent struct {
	EntryID    uuid.UUID       `json:"entry_id"`
	ReversalID uuid.UUID       `json:"reversal_id"`
	OwnerKind  enums.OwnerKind `json:"owner_kind"`
	OwnerID    uuid.UUID       `json:"owner_id"`
	Amount     int64           `json:"amount"`
	Reason     string          `json:"reason,omitempty"`
}

// PolicyPushFailedEvent escalates a router push that exhausted its retries.
type PolicyPushFailedEvent struct {
	PushID     uuid.UUID              `json:"push_id"`
	CustomerID uuid.UUID              `json:"customer_id"`
	Profile    string                 `json:"profile"`
	Reason     enums.PolicyPushReason `json:"reason"`
	Attempts   int                    `json:"attempts"`
	LastError  string                 `json:"last_error"`
}

type VoucherSoldEvent struct {
	BatchID   uuid.UUID       `json:"batch_id"`
	TokenID   uuid.UUID       `json:"token_id"`
	Code      string          `json:"code"`
	OwnerKind enums.OwnerKind `json:"owner_kind"`
	OwnerID   uuid.UUID       `json:"owner_id"`
	Price     int64           `json:"price"`
	EntryID   uuid.UUID       `json:"entry_id"`
}

type VoucherBatchClosedEvent struct {
	BatchID uuid.UUID                `json:"batch_id"`
	Status  enums.VoucherBatchStatus `json:"status"`
}

type ReservationExpiredEvent struct {
	TokenID uuid.UUID `json:"token_id"`
	PoolID  uuid.UUID `json:"pool_id"`
	Value   string    `json:"value"`
}
