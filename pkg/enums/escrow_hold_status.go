package enums

import "fmt"

// EscrowHoldStatus maps to the escrow_hold_status_enum enum in Postgres.
type EscrowHoldStatus string

const (
	EscrowHoldStatusOpen     EscrowHoldStatus = "open"
	EscrowHoldStatusReleased EscrowHoldStatus = "released"
	EscrowHoldStatusReversed EscrowHoldStatus = "reversed"
)

var validEscrowHoldStatuses = []EscrowHoldStatus{
	EscrowHoldStatusOpen,
	EscrowHoldStatusReleased,
	EscrowHoldStatusReversed,
}

// IsValid reports whether the value matches the canonical escrow hold status enum.
func (s EscrowHoldStatus) IsValid() bool {
	for _, candidate := range validEscrowHoldStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the hold has been resolved.
func (s EscrowHoldStatus) IsTerminal() bool {
	return s == EscrowHoldStatusReleased || s == EscrowHoldStatusReversed
}

// ParseEscrowHoldStatus converts raw input into EscrowHoldStatus.
func ParseEscrowHoldStatus(value string) (EscrowHoldStatus, error) {
	for _, candidate := range validEscrowHoldStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid escrow hold status %q", value)
}
