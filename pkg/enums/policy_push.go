package enums

import "fmt"

// PolicyPushStatus maps to the policy_push_status_enum enum in Postgres.
type PolicyPushStatus string

const (
	PolicyPushPending    PolicyPushStatus = "pending"
	PolicyPushInFlight   PolicyPushStatus = "in_flight"
	PolicyPushApplied    PolicyPushStatus = "applied"
	PolicyPushFailed     PolicyPushStatus = "failed"
	PolicyPushSuperseded PolicyPushStatus = "superseded"
)

var validPolicyPushStatuses = []PolicyPushStatus{
	PolicyPushPending,
	PolicyPushInFlight,
	PolicyPushApplied,
	PolicyPushFailed,
	PolicyPushSuperseded,
}

// IsValid reports whether the value matches the canonical policy push status enum.
func (p PolicyPushStatus) IsValid() bool {
	for _, candidate := range validPolicyPushStatuses {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParsePolicyPushStatus converts raw input into PolicyPushStatus.
func ParsePolicyPushStatus(value string) (PolicyPushStatus, error) {
	for _, candidate := range validPolicyPushStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid policy push status %q", value)
}

// PolicyPushReason maps to the policy_push_reason_enum enum in Postgres.
type PolicyPushReason string

const (
	PolicyPushFUPActivate PolicyPushReason = "fup_activate"
	PolicyPushFUPRestore  PolicyPushReason = "fup_restore"
)

var validPolicyPushReasons = []PolicyPushReason{
	PolicyPushFUPActivate,
	PolicyPushFUPRestore,
}

// IsValid reports whether the value matches the canonical policy push reason enum.
func (p PolicyPushReason) IsValid() bool {
	for _, candidate := range validPolicyPushReasons {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParsePolicyPushReason converts raw input into PolicyPushReason.
func ParsePolicyPushReason(value string) (PolicyPushReason, error) {
	for _, candidate := range validPolicyPushReasons {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid policy push reason %q", value)
}
