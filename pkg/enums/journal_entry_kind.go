package enums

import "fmt"

// JournalEntryKind maps to the journal_entry_kind_enum enum in Postgres.
type JournalEntryKind string

const (
	JournalEntryKindCashIn        JournalEntryKind = "cash_in"
	JournalEntryKindCashOut       JournalEntryKind = "cash_out"
	JournalEntryKindEscrowHold    JournalEntryKind = "escrow_hold"
	JournalEntryKindEscrowRelease JournalEntryKind = "escrow_release"
	JournalEntryKindCreditGrant   JournalEntryKind = "credit_grant"
	JournalEntryKindRefund        JournalEntryKind = "refund"
)

var validJournalEntryKinds = []JournalEntryKind{
	JournalEntryKindCashIn,
	JournalEntryKindCashOut,
	JournalEntryKindEscrowHold,
	JournalEntryKindEscrowRelease,
	JournalEntryKindCreditGrant,
	JournalEntryKindRefund,
}

// IsValid reports whether the value matches the canonical journal entry kind enum.
func (k JournalEntryKind) IsValid() bool {
	for _, candidate := range validJournalEntryKinds {
		if candidate == k {
			return true
		}
	}
	return false
}

// ParseJournalEntryKind converts raw input into JournalEntryKind.
func ParseJournalEntryKind(value string) (JournalEntryKind, error) {
	for _, candidate := range validJournalEntryKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid journal entry kind %q", value)
}
