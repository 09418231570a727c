package enums

import "fmt"

// PoolKind maps to the pool_kind_enum enum in Postgres.
type PoolKind string

const (
	PoolKindIP      PoolKind = "ip"
	PoolKindVoucher PoolKind = "voucher"
)

var validPoolKinds = []PoolKind{
	PoolKindIP,
	PoolKindVoucher,
}

// IsValid reports whether the value matches the canonical pool kind enum.
func (p PoolKind) IsValid() bool {
	for _, candidate := range validPoolKinds {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParsePoolKind converts raw input into PoolKind.
func ParsePoolKind(value string) (PoolKind, error) {
	for _, candidate := range validPoolKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid pool kind %q", value)
}

// TokenState maps to the token_state_enum enum in Postgres.
type TokenState string

const (
	TokenAvailable TokenState = "available"
	TokenReserved  TokenState = "reserved"
	TokenAssigned  TokenState = "assigned"
	TokenUsed      TokenState = "used"
	TokenExpired   TokenState = "expired"
	TokenDisabled  TokenState = "disabled"
)

var validTokenStates = []TokenState{
	TokenAvailable,
	TokenReserved,
	TokenAssigned,
	TokenUsed,
	TokenExpired,
	TokenDisabled,
}

// IsValid reports whether the value matches the canonical token state enum.
func (t TokenState) IsValid() bool {
	for _, candidate := range validTokenStates {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseTokenState converts raw input into TokenState.
func ParseTokenState(value string) (TokenState, error) {
	for _, candidate := range validTokenStates {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid token state %q", value)
}
