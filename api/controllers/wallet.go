package controllers

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/unimart-backend/api/middleware"
	"github.com/angelmondragon/unimart-backend/api/responses"
	"github.com/angelmondragon/unimart-backend/api/validators"
	"github.com/angelmondragon/unimart-backend/internal/accounts"
	"github.com/angelmondragon/unimart-backend/internal/ledger"
	"github.com/angelmondragon/unimart-backend/internal/payouts"
	pkgerrors "github.com/angelmondragon/unimart-backend/pkg/errors"
	"github.com/angelmondragon/unimart-backend/pkg/logger"
	"github.com/angelmondragon/unimart-backend/pkg/pagination"
)

// WalletBalance returns the caller's balances, opening the wallet on first use.
func WalletBalance(svc accounts.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "accounts service unavailable"))
			return
		}
		accountID, err := callerAccountID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if _, err := svc.EnsureAccount(r.Context(), accountID, middleware.EmailFromContext(r.Context())); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		balance, err := svc.GetBalance(r.Context(), accountID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, balanceResponseFrom(balance))
	}
}

// WalletEntries lists the caller's journal, newest first.
func WalletEntries(journal ledger.Journal, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID, err := callerAccountID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		writeEntries(w, r, journal, accountID, logg)
	}
}

type payoutCreateRequest struct {
	Amount      string `json:"amount" validate:"required"`
	Channel     string `json:"channel" validate:"required"`
	Destination string `json:"destination" validate:"required,max=128"`
}

func (p payoutCreateRequest) toInput(r *http.Request) (payouts.RequestInput, error) {
	accountID, err := callerAccountID(r)
	if err != nil {
		return payouts.RequestInput{}, err
	}
	amount, err := parseAmount(p.Amount, "amount")
	if err != nil {
		return payouts.RequestInput{}, err
	}
	channel, err := parseChannel(p.Channel)
	if err != nil {
		return payouts.RequestInput{}, err
	}
	return payouts.RequestInput{
		AccountID:   accountID,
		Amount:      amount,
		Channel:     channel,
		Destination: strings.TrimSpace(p.Destination),
	}, nil
}

// WalletRequestPayout debits the caller's available balance and queues a cash-out.
func WalletRequestPayout(svc payouts.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payout service unavailable"))
			return
		}

		var payload payoutCreateRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		input, err := payload.toInput(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		payout, err := svc.RequestPayout(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, payoutResponseFrom(payout))
	}
}

// WalletPayouts lists the caller's payout requests.
func WalletPayouts(svc payouts.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID, err := callerAccountID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		limit, err := listLimit(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		rows, err := svc.ListByAccount(r.Context(), accountID, limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, payoutResponsesFrom(rows))
	}
}

func writeEntries(w http.ResponseWriter, r *http.Request, journal ledger.Journal, accountID uuid.UUID, logg *logger.Logger) {
	if journal == nil {
		responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "journal unavailable"))
		return
	}
	limit, err := listLimit(r)
	if err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return
	}
	page, err := journal.Statement(r.Context(), accountID, pagination.Params{
		Limit:  limit,
		Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
	})
	if err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return
	}
	responses.WriteSuccess(w, statementResponse{
		Entries:    entryResponsesFrom(page.Entries),
		NextCursor: page.NextCursor,
	})
}
