package enums

import (
	"fmt"
	"slices"
)

// OutboxAggregateType maps to aggregate_type_enum.
type OutboxAggregateType string

const (
	AggregateInvoice             OutboxAggregateType = "invoice"
	AggregatePaymentNotification OutboxAggregateType = "payment_notification"
	AggregateLedgerEntry         OutboxAggregateType = "ledger_entry"
	AggregatePolicyPush          OutboxAggregateType = "policy_push"
	AggregateVoucherBatch        OutboxAggregateType = "voucher_batch"
	AggregateResourceToken       OutboxAggregateType = "resource_token"
)

var aggregateTypes = []OutboxAggregateType{
	AggregateInvoice,
	AggregatePaymentNotification,
	AggregateLedgerEntry,
	AggregatePolicyPush,
	AggregateVoucherBatch,
	AggregateResourceToken,
}

func (a OutboxAggregateType) IsValid() bool {
	return slices.Contains(aggregateTypes, a)
}

func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	if a := OutboxAggregateType(value); a.IsValid() {
		return a, nil
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType maps to event_type_enum. Adding a value needs a migration
// and a registry descriptor, otherwise the relay dead-letters it as unroutable.
type OutboxEventType string

const (
	EventInvoiceGenerated   OutboxEventType = "invoice_generated"
	EventInvoiceCharged     OutboxEventType = "invoice_charged"
	EventInvoicePaid        OutboxEventType = "invoice_paid"
	EventInvoiceCancelled   OutboxEventType = "invoice_cancelled"
	EventPaymentUnmatched   OutboxEventType = "payment_unmatched"
	EventLedgerReversed     OutboxEventType = "ledger_reversed"
	EventPolicyPushFailed   OutboxEventType = "policy_push_failed"
	EventVoucherSold        OutboxEventType = "voucher_sold"
	EventVoucherBatchClosed OutboxEventType = "voucher_batch_closed"
	EventReservationExpired OutboxEventType = "reservation_expired"
)

var eventTypes = []OutboxEventType{
	EventInvoiceGenerated,
	EventInvoiceCharged,
	EventInvoicePaid,
	EventInvoiceCancelled,
	EventPaymentUnmatched,
	EventLedgerReversed,
	EventPolicyPushFailed,
	EventVoucherSold,
	EventVoucherBatchClosed,
	EventReservationExpired,
}

func (e OutboxEventType) IsValid() bool {
	return slices.Contains(eventTypes, e)
}

// OutboxEventTypes lists every known event type.
func OutboxEventTypes() []OutboxEventType {
	return slices.Clone(eventTypes)
}

func ParseOutboxEventType(value string) (OutboxEventType, error) {
	if e := OutboxEventType(value); e.IsValid() {
		return e, nil
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
