package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetadataForLedgerCodes(t *testing.T) {
	tests := []struct {
		code   Code
		status int
		public bool
	}{
		{CodeValidation, http.StatusBadRequest, true},
		{CodeInsufficientFunds, http.StatusBadRequest, true},
		{CodeInvalidAmount, http.StatusBadRequest, true},
		{CodeInvalidState, http.StatusConflict, true},
		{CodeDuplicateReference, http.StatusConflict, true},
		{CodeIdempotency, http.StatusConflict, true},
		{CodeStateConflict, http.StatusUnprocessableEntity, true},
		{CodeDependency, http.StatusServiceUnavailable, false},
		{CodeInternal, http.StatusInternalServerError, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			meta := MetadataFor(tt.code)
			assert.Equal(t, tt.status, meta.HTTPStatus)
			assert.Equal(t, tt.public, meta.Public())
			assert.NotEmpty(t, meta.Fallback)
		})
	}
}

func TestMetadataForUnknownCodeIsInternal(t *testing.T) {
	assert.Equal(t, MetadataFor(CodeInternal), MetadataFor("SOMETHING_UNKNOWN"))
}

func TestWrapKeepsCause(t *testing.T) {
	cause := stdErrors.New("connection reset")
	wrapped := Wrap(CodeDependency, cause, "load account")

	assert.ErrorIs(t, wrapped, cause)
	assert.Equal(t, CodeDependency, wrapped.Code())
	assert.Equal(t, "load account", wrapped.Message())
	assert.Contains(t, wrapped.Error(), "connection reset")

	bare := Wrap(CodeValidation, nil, "no cause")
	assert.Equal(t, "VALIDATION_ERROR: no cause", bare.Error())
}

func TestWithDetails(t *testing.T) {
	err := Newf(CodeInsufficientFunds, "need %s more", "12.50").WithDetails(map[string]any{"shortfall": "12.50"})
	assert.Equal(t, "need 12.50 more", err.Message())
	assert.Equal(t, map[string]any{"shortfall": "12.50"}, err.Details())

	var nilErr *Error
	assert.Nil(t, nilErr.WithDetails("x"))
	assert.Equal(t, CodeInternal, nilErr.Code())
}

func TestIsAndAsThroughWrapping(t *testing.T) {
	err := fmt.Errorf("payout: %w", New(CodeInsufficientFunds, "available balance too low"))

	assert.True(t, Is(err, CodeInsufficientFunds))
	assert.False(t, Is(err, CodeInvalidAmount))
	assert.False(t, Is(stdErrors.New("plain"), CodeInternal))
	require.NotNil(t, As(err))
	assert.Nil(t, As(nil))
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(New(CodeDependency, "redis down")))
	assert.False(t, Retryable(New(CodeInsufficientFunds, "too low")))
	assert.True(t, Retryable(stdErrors.New("untyped")))
}

func TestLogFieldsIncludesPostgresDiagnostics(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "23505", ConstraintName: "journal_entries_reference_key", TableName: "journal_entries"}
	err := Wrap(CodeDuplicateReference, pgErr, "append entry")

	fields := LogFields(err)
	assert.Equal(t, string(CodeDuplicateReference), fields["error_code"])
	assert.Equal(t, "23505", fields["pg_code"])
	assert.Equal(t, "journal_entries", fields["pg_table"])
	assert.NotContains(t, fields, "pg_detail")
	assert.Len(t, fields["error_chain"], 2)

	assert.Empty(t, LogFields(nil))
}
