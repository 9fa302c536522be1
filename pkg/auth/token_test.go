package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/unimart-backend/pkg/config"
	"github.com/angelmondragon/unimart-backend/pkg/enums"
)

var testJWT = config.JWTConfig{Secret: "secret", Issuer: "unimart", ExpirationMinutes: 30}

func TestMintAndParseRoundTrip(t *testing.T) {
	now := time.Now().UTC()
	userID := uuid.New()

	token, err := MintAccessToken(testJWT, now, AccessTokenPayload{
		UserID: userID,
		Email:  " student@up.edu.ph ",
		Role:   enums.AccountRoleAdmin,
		JTI:    "jti-123",
	})
	require.NoError(t, err)

	claims, err := ParseAccessToken(testJWT, token)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
	assert.Equal(t, userID.String(), claims.Subject)
	assert.Equal(t, "student@up.edu.ph", claims.Email)
	assert.Equal(t, enums.AccountRoleAdmin, claims.Role)
	assert.Equal(t, "jti-123", claims.ID)
	assert.WithinDuration(t, now.Add(30*time.Minute), claims.ExpiresAt.Time, time.Second)
}

func TestParseRejectsTamperedToken(t *testing.T) {
	token, err := MintAccessToken(testJWT, time.Now(), AccessTokenPayload{UserID: uuid.New(), Role: enums.AccountRoleUser})
	require.NoError(t, err)

	_, err = ParseAccessToken(testJWT, token+"x")
	assert.ErrorIs(t, err, ErrTokenInvalid)

	other := testJWT
	other.Issuer = "someone-else"
	_, err = ParseAccessToken(other, token)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestParseRejectsExpiredToken(t *testing.T) {
	token, err := MintAccessToken(testJWT, time.Now().Add(-time.Hour), AccessTokenPayload{UserID: uuid.New(), Role: enums.AccountRoleUser})
	require.NoError(t, err)

	_, err = ParseAccessToken(testJWT, token)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestParseRequiresSessionID(t *testing.T) {
	claims := AccessTokenClaims{
		UserID: uuid.New(),
		Role:   enums.AccountRoleUser,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    testJWT.Issuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testJWT.Secret))
	require.NoError(t, err)

	_, err = ParseAccessToken(testJWT, token)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestMintValidatesPayload(t *testing.T) {
	_, err := MintAccessToken(testJWT, time.Now(), AccessTokenPayload{UserID: uuid.New()})
	assert.Error(t, err, "role is required")

	_, err = MintAccessToken(testJWT, time.Now(), AccessTokenPayload{Role: enums.AccountRoleUser})
	assert.Error(t, err, "user id is required")

	_, err = MintAccessToken(config.JWTConfig{Secret: "s", Issuer: "i"}, time.Now(), AccessTokenPayload{UserID: uuid.New(), Role: enums.AccountRoleUser})
	assert.Error(t, err, "expiration is required")
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
		ok     bool
	}{
		{"Bearer abc.def", "abc.def", true},
		{"bearer   abc.def ", "abc.def", true},
		{"Basic Zm9vOmJhcg==", "", false},
		{"Bearer ", "", false},
		{"abc.def", "", false},
	}
	for _, tt := range tests {
		got, ok := BearerToken(tt.header)
		assert.Equal(t, tt.ok, ok, tt.header)
		assert.Equal(t, tt.want, got, tt.header)
	}
}
