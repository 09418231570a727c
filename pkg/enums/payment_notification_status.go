package enums

import "fmt"

// PaymentNotificationStatus maps to the payment_notification_status_enum enum in Postgres.
type PaymentNotificationStatus string

const (
	PaymentNotificationMatched  PaymentNotificationStatus = "matched"
	PaymentNotificationNoMatch  PaymentNotificationStatus = "no_match"
	PaymentNotificationResolved PaymentNotificationStatus = "resolved"
)

var validPaymentNotificationStatuses = []PaymentNotificationStatus{
	PaymentNotificationMatched,
	PaymentNotificationNoMatch,
	PaymentNotificationResolved,
}

// IsValid reports whether the value matches the canonical payment notification status enum.
func (p PaymentNotificationStatus) IsValid() bool {
	for _, candidate := range validPaymentNotificationStatuses {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParsePaymentNotificationStatus converts raw input into PaymentNotificationStatus.
func ParsePaymentNotificationStatus(value string) (PaymentNotificationStatus, error) {
	for _, candidate := range validPaymentNotificationStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment notification status %q", value)
}
