package enums

import "fmt"

// OwnerKind maps to the owner_kind_enum enum in Postgres.
type OwnerKind string

const (
	OwnerKindCustomer OwnerKind = "customer"
	OwnerKindPartner  OwnerKind = "partner"
)

var validOwnerKinds = []OwnerKind{
	OwnerKindCustomer,
	OwnerKindPartner,
}

// IsValid reports whether the value matches the canonical owner kind enum.
func (o OwnerKind) IsValid() bool {
	for _, candidate := range validOwnerKinds {
		if candidate == o {
			return true
		}
	}
	return false
}

// ParseOwnerKind converts raw input into OwnerKind.
func ParseOwnerKind(value string) (OwnerKind, error) {
	for _, candidate := range validOwnerKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid owner kind %q", value)
}
