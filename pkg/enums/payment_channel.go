package enums

import (
	"fmt"
	"strings"
)

// PaymentChannel identifies the external rail a payment arrived through.
type PaymentChannel string

const (
	PaymentChannelGCash   PaymentChannel = "gcash"
	PaymentChannelPayMaya PaymentChannel = "paymaya"
	PaymentChannelGrabPay PaymentChannel = "grab_pay"
	PaymentChannelCard    PaymentChannel = "card"
	PaymentChannelManual  PaymentChannel = "manual"
)

var validPaymentChannels = []PaymentChannel{
	PaymentChannelGCash,
	PaymentChannelPayMaya,
	PaymentChannelGrabPay,
	PaymentChannelCard,
	PaymentChannelManual,
}

// IsValid reports whether the value matches a supported payment channel.
func (c PaymentChannel) IsValid() bool {
	for _, candidate := range validPaymentChannels {
		if candidate == c {
			return true
		}
	}
	return false
}

// ParsePaymentChannel converts raw input into PaymentChannel, ignoring case.
func ParsePaymentChannel(value string) (PaymentChannel, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	for _, candidate := range validPaymentChannels {
		if string(candidate) == normalized {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment channel %q", value)
}
