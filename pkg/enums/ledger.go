package enums

import "fmt"

// LedgerEntryType maps to the ledger_entry_type_enum enum in Postgres.
type LedgerEntryType string

const (
	LedgerEntryCredit LedgerEntryType = "credit"
	LedgerEntryDebit  LedgerEntryType = "debit"
)

var validLedgerEntryTypes = []LedgerEntryType{
	LedgerEntryCredit,
	LedgerEntryDebit,
}

// IsValid reports whether the value matches the canonical ledger entry type enum.
func (l LedgerEntryType) IsValid() bool {
	for _, candidate := range validLedgerEntryTypes {
		if candidate == l {
			return true
		}
	}
	return false
}

// ParseLedgerEntryType converts raw input into LedgerEntryType.
func ParseLedgerEntryType(value string) (LedgerEntryType, error) {
	for _, candidate := range validLedgerEntryTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid ledger entry type %q", value)
}

// LedgerCategory maps to the ledger_category_enum enum in Postgres.
type LedgerCategory string

const (
	LedgerCategoryTopup          LedgerCategory = "topup"
	LedgerCategoryInvoicePayment LedgerCategory = "invoice_payment"
	LedgerCategoryInvoiceCharge  LedgerCategory = "invoice_charge"
	LedgerCategoryVoucherSale    LedgerCategory = "voucher_sale"
	LedgerCategoryPenalty        LedgerCategory = "penalty"
	LedgerCategoryAdjustment     LedgerCategory = "adjustment"
	LedgerCategoryRefund         LedgerCategory = "refund"
	LedgerCategoryReversal       LedgerCategory = "reversal"
	LedgerCategoryCommission     LedgerCategory = "commission"
)

var validLedgerCategorys = []LedgerCategory{
	LedgerCategoryTopup,
	LedgerCategoryInvoicePayment,
	LedgerCategoryInvoiceCharge,
	LedgerCategoryVoucherSale,
	LedgerCategoryPenalty,
	LedgerCategoryAdjustment,
	LedgerCategoryRefund,
	LedgerCategoryReversal,
	LedgerCategoryCommission,
}

// IsValid reports whether the value matches the canonical ledger category enum.
func (l LedgerCategory) IsValid() bool {
	for _, candidate := range validLedgerCategorys {
		if candidate == l {
			return true
		}
	}
	return false
}

// ParseLedgerCategory converts raw input into LedgerCategory.
func ParseLedgerCategory(value string) (LedgerCategory, error) {
	for _, candidate := range validLedgerCategorys {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid ledger category %q", value)
}
