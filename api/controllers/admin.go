package controllers

import (
	"net/http"
	"strings"

	"github.com/angelmondragon/unimart-backend/api/responses"
	"github.com/angelmondragon/unimart-backend/api/validators"
	"github.com/angelmondragon/unimart-backend/internal/accounts"
	"github.com/angelmondragon/unimart-backend/internal/credits"
	"github.com/angelmondragon/unimart-backend/internal/ledger"
	"github.com/angelmondragon/unimart-backend/internal/payouts"
	"github.com/angelmondragon/unimart-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/unimart-backend/pkg/errors"
	"github.com/angelmondragon/unimart-backend/pkg/logger"
)

// AdminAccountBalance returns any account's balances next to the signed sum of
// its monetary journal entries. A mismatch means the stored balance drifted
// from the journal and is logged for investigation.
func AdminAccountBalance(svc accounts.Service, journal ledger.Journal, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil || journal == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "ledger services unavailable"))
			return
		}
		accountID, err := uuidParam(r, "accountId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		balance, err := svc.GetBalance(r.Context(), accountID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		sum, err := journal.Sum(r.Context(), accountID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		resp := adminBalanceResponse{
			balanceResponse: balanceResponseFrom(balance),
			JournalSum:      sum.StringFixed(2),
			Reconciled:      sum.Equal(balance.Available.Add(balance.Escrow)),
		}
		if !resp.Reconciled && logg != nil {
			ctx := logg.WithAccountID(r.Context(), accountID.String())
			ctx = logg.WithFields(ctx, map[string]any{
				"available":   resp.Available,
				"escrow":      resp.Escrow,
				"journal_sum": resp.JournalSum,
			})
			logg.Warn(ctx, "account balance does not match journal")
		}
		responses.WriteSuccess(w, resp)
	}
}

// AdminAccountEntries returns any account's journal.
func AdminAccountEntries(journal ledger.Journal, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID, err := uuidParam(r, "accountId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		writeEntries(w, r, journal, accountID, logg)
	}
}

type adminGrantRequest struct {
	Account           string `json:"account" validate:"required,max=320"`
	Credits           int64  `json:"credits" validate:"required,gt=0"`
	PaymentAmount     string `json:"payment_amount" validate:"required"`
	ExternalReference string `json:"external_reference" validate:"required,max=255"`
	Source            string `json:"source" validate:"required"`
}

func (p adminGrantRequest) toInput() (credits.GrantInput, error) {
	amount, err := parseAmount(p.PaymentAmount, "payment_amount")
	if err != nil {
		return credits.GrantInput{}, err
	}
	source, err := parseChannel(p.Source)
	if err != nil {
		return credits.GrantInput{}, err
	}
	return credits.GrantInput{
		AccountEmailOrID:  strings.TrimSpace(p.Account),
		Credits:           p.Credits,
		PaymentAmount:     amount,
		ExternalReference: strings.TrimSpace(p.ExternalReference),
		Source:            source,
	}, nil
}

// AdminGrantCredits records a payment confirmed outside the gateway, such as a
// manual GCash transfer checked by staff.
func AdminGrantCredits(svc credits.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "credits service unavailable"))
			return
		}

		var payload adminGrantRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		input, err := payload.toInput()
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		grant, err := svc.GrantCredits(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, grantResponseFrom(grant))
	}
}

// AdminListPayouts lists payouts, optionally filtered by status.
func AdminListPayouts(svc payouts.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payout service unavailable"))
			return
		}

		var status *enums.PayoutStatus
		if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
			parsed, err := enums.ParsePayoutStatus(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status"))
				return
			}
			status = &parsed
		}
		limit, err := listLimit(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		rows, err := svc.List(r.Context(), status, limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, payoutResponsesFrom(rows))
	}
}

// AdminCompletePayout marks a pending payout as paid out by the channel.
func AdminCompletePayout(svc payouts.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payout service unavailable"))
			return
		}
		payoutID, err := uuidParam(r, "payoutId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		payout, err := svc.Complete(r.Context(), payoutID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, payoutResponseFrom(payout))
	}
}

type payoutFailRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

// AdminFailPayout marks a pending payout failed and refunds the account.
func AdminFailPayout(svc payouts.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payout service unavailable"))
			return
		}
		payoutID, err := uuidParam(r, "payoutId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload payoutFailRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		payout, err := svc.Fail(r.Context(), payoutID, validators.SanitizeString(payload.Reason, 500))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, payoutResponseFrom(payout))
	}
}
