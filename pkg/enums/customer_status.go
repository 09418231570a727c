package enums

import "fmt"

// CustomerStatus maps to the customer_status_enum enum in Postgres.
type CustomerStatus string

const (
	CustomerActive     CustomerStatus = "active"
	CustomerSuspended  CustomerStatus = "suspended"
	CustomerTerminated CustomerStatus = "terminated"
)

var validCustomerStatuses = []CustomerStatus{
	CustomerActive,
	CustomerSuspended,
	CustomerTerminated,
}

// IsValid reports whether the value matches the canonical customer status enum.
func (c CustomerStatus) IsValid() bool {
	for _, candidate := range validCustomerStatuses {
		if candidate == c {
			return true
		}
	}
	return false
}

// ParseCustomerStatus converts raw input into CustomerStatus.
func ParseCustomerStatus(value string) (CustomerStatus, error) {
	for _, candidate := range validCustomerStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid customer status %q", value)
}
