package controllers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/unimart-backend/api/middleware"
	"github.com/angelmondragon/unimart-backend/api/validators"
	"github.com/angelmondragon/unimart-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/unimart-backend/pkg/errors"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// callerAccountID returns the wallet id of the authenticated caller.
func callerAccountID(r *http.Request) (uuid.UUID, error) {
	raw := middleware.UserIDFromContext(r.Context())
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid user id")
	}
	return id, nil
}

func uuidParam(r *http.Request, name string) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, name))
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid "+name).WithDetails(map[string]any{"field": name})
	}
	return id, nil
}

func parseUUIDField(raw, field string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid "+field).WithDetails(map[string]any{"field": field})
	}
	return id, nil
}

// parseAmount accepts decimal strings such as "150.00". Scale and sign are
// checked by the ledger so every entry point reports the same error.
func parseAmount(raw, field string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, pkgerrors.Wrap(pkgerrors.CodeInvalidAmount, err, "invalid "+field).WithDetails(map[string]any{"field": field})
	}
	return amount, nil
}

func parseChannel(raw string) (enums.PaymentChannel, error) {
	channel, err := enums.ParsePaymentChannel(raw)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid channel").WithDetails(map[string]any{"field": "channel"})
	}
	return channel, nil
}

func listLimit(r *http.Request) (int, error) {
	return validators.ParseQueryInt(r, "limit", defaultListLimit, 1, maxListLimit)
}
