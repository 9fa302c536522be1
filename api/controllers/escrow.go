package controllers

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/unimart-backend/api/middleware"
	"github.com/angelmondragon/unimart-backend/api/responses"
	"github.com/angelmondragon/unimart-backend/api/validators"
	"github.com/angelmondragon/unimart-backend/internal/escrow"
	"github.com/angelmondragon/unimart-backend/pkg/db/models"
	"github.com/angelmondragon/unimart-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/unimart-backend/pkg/errors"
	"github.com/angelmondragon/unimart-backend/pkg/logger"
)

type holdCreateRequest struct {
	BeneficiaryAccountID string `json:"beneficiary_account_id" validate:"required"`
	Amount               string `json:"amount" validate:"required"`
	TransactionID        string `json:"transaction_id" validate:"required"`
}

func (p holdCreateRequest) toInput(source uuid.UUID) (escrow.HoldInput, error) {
	beneficiary, err := parseUUIDField(p.BeneficiaryAccountID, "beneficiary_account_id")
	if err != nil {
		return escrow.HoldInput{}, err
	}
	amount, err := parseAmount(p.Amount, "amount")
	if err != nil {
		return escrow.HoldInput{}, err
	}
	transactionID, err := parseUUIDField(p.TransactionID, "transaction_id")
	if err != nil {
		return escrow.HoldInput{}, err
	}
	return escrow.HoldInput{
		SourceAccountID:      source,
		BeneficiaryAccountID: beneficiary,
		Amount:               amount,
		TransactionID:        transactionID,
	}, nil
}

// EscrowCreateHold moves the caller's funds into escrow for a transaction.
func EscrowCreateHold(svc escrow.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "escrow service unavailable"))
			return
		}
		source, err := callerAccountID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload holdCreateRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		input, err := payload.toInput(source)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		hold, err := svc.Hold(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, holdResponseFrom(hold))
	}
}

// EscrowListHolds lists holds where the caller is source or beneficiary.
func EscrowListHolds(svc escrow.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "escrow service unavailable"))
			return
		}
		accountID, err := callerAccountID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var status *enums.EscrowHoldStatus
		if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
			parsed, err := enums.ParseEscrowHoldStatus(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status"))
				return
			}
			status = &parsed
		}

		holds, err := svc.ListByAccount(r.Context(), accountID, status)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, holdResponsesFrom(holds))
	}
}

// EscrowGetHold returns a hold visible to either party or an admin.
func EscrowGetHold(svc escrow.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		hold, err := loadHold(r, svc, true, func(hold *models.EscrowHold, caller uuid.UUID) bool {
			return hold.SourceAccountID == caller || hold.BeneficiaryAccountID == caller
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, holdResponseFrom(hold))
	}
}

// EscrowReleaseHold pays an open hold out to the beneficiary. Only the buyer
// who funded the hold may release it.
func EscrowReleaseHold(svc escrow.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		hold, err := loadHold(r, svc, false, func(hold *models.EscrowHold, caller uuid.UUID) bool {
			return hold.SourceAccountID == caller
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		released, err := svc.Release(r.Context(), hold.ID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, holdResponseFrom(released))
	}
}

// EscrowReverseHold returns an open hold to the source. Admins may reverse any hold.
func EscrowReverseHold(svc escrow.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		hold, err := loadHold(r, svc, true, func(hold *models.EscrowHold, caller uuid.UUID) bool {
			return hold.SourceAccountID == caller
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		reversed, err := svc.Reverse(r.Context(), hold.ID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, holdResponseFrom(reversed))
	}
}

// loadHold fetches the hold named by the route and checks the caller may act
// on it. Admins pass only when adminMayAct is set. Non-parties other than
// admins get NotFound so hold ids are not probeable.
func loadHold(r *http.Request, svc escrow.Service, adminMayAct bool, allowed func(*models.EscrowHold, uuid.UUID) bool) (*models.EscrowHold, error) {
	if svc == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "escrow service unavailable")
	}
	caller, err := callerAccountID(r)
	if err != nil {
		return nil, err
	}
	holdID, err := uuidParam(r, "holdId")
	if err != nil {
		return nil, err
	}
	hold, err := svc.Get(r.Context(), holdID)
	if err != nil {
		return nil, err
	}
	if allowed(hold, caller) {
		return hold, nil
	}
	admin := middleware.IsRole(r, string(enums.AccountRoleAdmin))
	if admin && adminMayAct {
		return hold, nil
	}
	if admin || hold.SourceAccountID == caller || hold.BeneficiaryAccountID == caller {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only the paying account may resolve this hold")
	}
	return nil, pkgerrors.New(pkgerrors.CodeNotFound, "escrow hold not found")
}
