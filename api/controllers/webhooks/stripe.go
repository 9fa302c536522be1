package webhooks

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/stripe/stripe-go/v82"

	"github.com/angelmondragon/unimart-backend/api/responses"
	pkgerrors "github.com/angelmondragon/unimart-backend/pkg/errors"
	"github.com/angelmondragon/unimart-backend/pkg/logger"
	pkgstripe "github.com/angelmondragon/unimart-backend/pkg/stripe"
)

const (
	signatureHeader = "Stripe-Signature"
	maxEventBytes   = 1 << 20
)

type StripeWebhookService interface {
	HandleEvent(ctx context.Context, event *stripe.Event) error
}

type eventGuard interface {
	Settled(ctx context.Context, eventID string) (bool, error)
	MarkSettled(ctx context.Context, eventID string) error
}

type signer interface {
	SigningSecret() string
}

type deliveryAck struct {
	EventID   string `json:"eventId"`
	Duplicate bool   `json:"duplicate"`
}

// StripeWebhook verifies a Stripe delivery, drops redeliveries of an event it
// already settled and hands everything else to svc. The settled marker is
// written only after svc succeeds, so a failed or still running delivery is
// never acknowledged on another delivery's behalf.
func StripeWebhook(svc StripeWebhookService, client signer, guard eventGuard, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil || client == nil || guard == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeDependency, "stripe settlement is not configured"))
			return
		}

		event, err := readEvent(w, r, client.SigningSecret())
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if logg != nil {
			ctx = logg.WithFields(ctx, map[string]any{
				"stripe_event_id":   event.ID,
				"stripe_event_type": string(event.Type),
			})
		}

		settled, err := guard.Settled(ctx, event.ID)
		if err != nil && logg != nil {
			logg.Error(ctx, "stripe event marker unavailable", err)
		}
		if settled {
			if logg != nil {
				logg.Info(ctx, "stripe redelivery ignored")
			}
			responses.WriteSuccess(w, deliveryAck{EventID: event.ID, Duplicate: true})
			return
		}

		if err := svc.HandleEvent(ctx, &event); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if err := guard.MarkSettled(ctx, event.ID); err != nil && logg != nil {
			logg.Error(ctx, "failed to mark stripe event settled", err)
		}
		if logg != nil {
			logg.Info(ctx, "stripe event settled")
		}
		responses.WriteSuccess(w, deliveryAck{EventID: event.ID})
	}
}

// readEvent returns 4xx errors only: Stripe retries anything else, and a bad
// body or signature never gets better.
func readEvent(w http.ResponseWriter, r *http.Request, secret string) (stripe.Event, error) {
	sig := r.Header.Get(signatureHeader)
	if sig == "" {
		return stripe.Event{}, pkgerrors.New(pkgerrors.CodeValidation, "Stripe-Signature header is required")
	}
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxEventBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return stripe.Event{}, pkgerrors.New(pkgerrors.CodeValidation, "event body too large")
		}
		return stripe.Event{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unreadable event body")
	}
	event, err := pkgstripe.VerifyEvent(payload, sig, secret)
	if err != nil {
		return stripe.Event{}, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid stripe signature")
	}
	return event, nil
}
