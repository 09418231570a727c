package enums

import "fmt"

// VoucherBatchStatus maps to the voucher_batch_status_enum enum in Postgres.
type VoucherBatchStatus string

const (
	VoucherBatchActive    VoucherBatchStatus = "active"
	VoucherBatchSold      VoucherBatchStatus = "sold"
	VoucherBatchExpired   VoucherBatchStatus = "expired"
	VoucherBatchCancelled VoucherBatchStatus = "cancelled"
)

var validVoucherBatchStatuses = []VoucherBatchStatus{
	VoucherBatchActive,
	VoucherBatchSold,
	VoucherBatchExpired,
	VoucherBatchCancelled,
}

// IsValid reports whether the value matches the canonical voucher batch status enum.
func (v VoucherBatchStatus) IsValid() bool {
	for _, candidate := range validVoucherBatchStatuses {
		if candidate == v {
			return true
		}
	}
	return false
}

// ParseVoucherBatchStatus converts raw input into VoucherBatchStatus.
func ParseVoucherBatchStatus(value string) (VoucherBatchStatus, error) {
	for _, candidate := range validVoucherBatchStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid voucher batch status %q", value)
}
