package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/unimart-backend/api/responses"
	"github.com/angelmondragon/unimart-backend/api/validators"
	"github.com/angelmondragon/unimart-backend/internal/credits"
	stripewebhook "github.com/angelmondragon/unimart-backend/internal/webhooks/stripe"
	pkgerrors "github.com/angelmondragon/unimart-backend/pkg/errors"
	"github.com/angelmondragon/unimart-backend/pkg/logger"
)

// CheckoutConfirmer settles a checkout session the caller paid for.
type CheckoutConfirmer interface {
	Confirm(ctx context.Context, sessionID string, callerID uuid.UUID) (*stripewebhook.Settlement, error)
}

type confirmRequest struct {
	SessionID string `json:"session_id" validate:"required,max=255"`
}

type settlementResponse struct {
	Purpose string         `json:"purpose"`
	Grant   *grantResponse `json:"grant,omitempty"`
	Entry   *entryResponse `json:"entry,omitempty"`
}

// CreditsConfirm settles a paid checkout session from the client redirect.
// Webhook delivery settles the same session, and the session id keeps the
// grant single.
func CreditsConfirm(confirmer CheckoutConfirmer, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if confirmer == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout confirmation unavailable"))
			return
		}
		caller, err := callerAccountID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload confirmRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		settlement, err := confirmer.Confirm(r.Context(), strings.TrimSpace(payload.SessionID), caller)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		resp := settlementResponse{Purpose: settlement.Purpose}
		if settlement.Grant != nil {
			grant := grantResponseFrom(settlement.Grant)
			resp.Grant = &grant
		}
		if settlement.Entry != nil {
			entry := entryResponseFrom(settlement.Entry)
			resp.Entry = &entry
		}
		responses.WriteSuccess(w, resp)
	}
}

// CreditsGrants lists the caller's credit grants.
func CreditsGrants(svc credits.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "credits service unavailable"))
			return
		}
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
		grants, err := svc.ListGrants(r.Context(), accountID, limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, grantResponsesFrom(grants))
	}
}
