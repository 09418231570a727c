package models

// All lists every persisted model, used by sqlite auto-migration in dev and tests.
func All() []any {
	return []any{
		&Customer{},
		&Partner{},
		&Plan{},
		&LedgerEntry{},
		&ResourcePool{},
		&ResourceToken{},
		&VoucherBatch{},
		&UsageRecord{},
		&PolicyPush{},
		&Invoice{},
		&InvoiceItem{},
		&Coupon{},
		&CouponUsage{},
		&PaymentNotification{},
		&OutboxEvent{},
		&OutboxDLQ{},
	}
}
