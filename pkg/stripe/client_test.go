package stripe

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/angelmondragon/unimart-backend/pkg/config"
)

func TestNewClientValidatesKeys(t *testing.T) {
	tests := []struct {
		name     string
		cfg      config.StripeConfig
		wantMode string
	}{
		{"test key", config.StripeConfig{APIKey: "sk_test_123", Secret: "whsec_1", Env: "test"}, "test"},
		{"restricted live key", config.StripeConfig{APIKey: "rk_live_123", Secret: "whsec_1", Env: "LIVE"}, "live"},
		{"default mode", config.StripeConfig{APIKey: "sk_test_123", Secret: "whsec_1"}, "test"},
		{"missing key", config.StripeConfig{Secret: "whsec_1"}, ""},
		{"missing secret", config.StripeConfig{APIKey: "sk_test_123"}, ""},
		{"live key in test mode", config.StripeConfig{APIKey: "sk_live_123", Secret: "whsec_1", Env: "test"}, ""},
		{"unknown mode", config.StripeConfig{APIKey: "sk_test_123", Secret: "whsec_1", Env: "staging"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewClient(context.Background(), tt.cfg, nil)
			if tt.wantMode == "" {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantMode, client.Mode())
			assert.Equal(t, "whsec_1", client.SigningSecret())
		})
	}
}

func TestGetCheckoutSessionGuards(t *testing.T) {
	_, err := (&Client{}).GetCheckoutSession(context.Background(), " ")
	assert.EqualError(t, err, "checkout session id is required")

	var nilClient *Client
	_, err = nilClient.GetCheckoutSession(context.Background(), "cs_test_1")
	assert.Error(t, err)
	assert.Empty(t, nilClient.SigningSecret())
}

func TestVerifyEvent(t *testing.T) {
	payload, err := json.Marshal(map[string]any{
		"id":          "evt_1",
		"object":      "event",
		"type":        "checkout.session.completed",
		"api_version": "2099-01-01",
		"data":        map[string]any{"object": map[string]any{"id": "cs_test_1", "object": "checkout.session"}},
	})
	require.NoError(t, err)

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    "whsec_1",
		Timestamp: time.Now(),
	})
	event, err := VerifyEvent(signed.Payload, signed.Header, "whsec_1")
	require.NoError(t, err)
	assert.Equal(t, "evt_1", event.ID)

	_, err = VerifyEvent(signed.Payload, signed.Header, "whsec_other")
	assert.Error(t, err)
	_, err = VerifyEvent(payload, "t=1,v1=deadbeef", "whsec_1")
	assert.Error(t, err)
}
