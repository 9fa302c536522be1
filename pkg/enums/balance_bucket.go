package enums

import "fmt"

// BalanceBucket names the account balance a journal entry applies to.
type BalanceBucket string

const (
	BalanceBucketAvailable BalanceBucket = "available"
	BalanceBucketEscrow    BalanceBucket = "escrow"
	BalanceBucketCredits   BalanceBucket = "credits"
)

var validBalanceBuckets = []BalanceBucket{
	BalanceBucketAvailable,
	BalanceBucketEscrow,
	BalanceBucketCredits,
}

// IsValid reports whether the value matches the canonical balance bucket enum.
func (b BalanceBucket) IsValid() bool {
	for _, candidate := range validBalanceBuckets {
		if candidate == b {
			return true
		}
	}
	return false
}

// IsMonetary reports whether the bucket holds money (as opposed to posting credits).
func (b BalanceBucket) IsMonetary() bool {
	return b == BalanceBucketAvailable || b == BalanceBucketEscrow
}

// ParseBalanceBucket converts raw input into BalanceBucket.
func ParseBalanceBucket(value string) (BalanceBucket, error) {
	for _, candidate := range validBalanceBuckets {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid balance bucket %q", value)
}
