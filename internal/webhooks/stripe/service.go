package stripewebhook

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v82"

	"github.com/angelmondragon/unimart-backend/internal/credits"
	"github.com/angelmondragon/unimart-backend/pkg/db/models"
	"github.com/angelmondragon/unimart-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/unimart-backend/pkg/errors"
	"github.com/angelmondragon/unimart-backend/pkg/logger"
)

// Checkout metadata keys set when the checkout session is created.
const (
	MetadataAccountEmail = "account_email"
	MetadataAccountID    = "account_id"
	MetadataPurpose      = "purpose"
	MetadataCredits      = "credits"
	MetadataChannel      = "channel"

	PurposeCredits     = "credits"
	PurposeWalletTopUp = "wallet_topup"
)

// CheckoutSessionClient looks up checkout sessions for client-side confirmations.
type CheckoutSessionClient interface {
	GetCheckoutSession(ctx context.Context, sessionID string) (*stripe.CheckoutSession, error)
}

type accountResolver interface {
	Resolve(ctx context.Context, emailOrID string) (*models.Account, error)
}

// Settlement reports what a paid checkout session produced.
type Settlement struct {
	Purpose string
	Grant   *models.CreditGrant
	Entry   *models.JournalEntry
}

type ServiceParams struct {
	Credits  credits.Service
	Accounts accountResolver
	Sessions CheckoutSessionClient
	Logger   *logger.Logger
}

// Service turns paid checkout sessions into credit grants or wallet top-ups.
// The session id is the external reference, so webhook deliveries and client
// confirmations for one payment settle it once.
type Service struct {
	credits  credits.Service
	accounts accountResolver
	sessions CheckoutSessionClient
	logg     *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Credits == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "credits service required")
	}
	if params.Accounts == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "accounts service required")
	}
	if params.Sessions == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "stripe client required")
	}
	return &Service{
		credits:  params.Credits,
		accounts: params.Accounts,
		sessions: params.Sessions,
		logg:     params.Logger,
	}, nil
}

func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) error {
	if event == nil || event.Data == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}

	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted,
		stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded:
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode checkout session event")
		}
		if !isPaid(&sess) {
			// async methods settle later through checkout.session.async_payment_succeeded
			return nil
		}
		_, err := s.Settle(ctx, &sess)
		return err
	default:
		return nil
	}
}

// Confirm settles a checkout session reported by the paying client. The session
// must belong to the caller.
func (s *Service) Confirm(ctx context.Context, sessionID string, callerID uuid.UUID) (*Settlement, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "session id is required")
	}
	sess, err := s.sessions.GetCheckoutSession(ctx, sessionID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fetch checkout session")
	}
	if !isPaid(sess) {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidState, "checkout session is not paid")
	}
	ownerID, err := s.ownerOf(ctx, sess)
	if err != nil {
		return nil, err
	}
	if ownerID != callerID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "checkout session belongs to another account")
	}
	return s.Settle(ctx, sess)
}

// Settle applies a paid session. Calling it again for the same session returns
// the original result.
func (s *Service) Settle(ctx context.Context, sess *stripe.CheckoutSession) (*Settlement, error) {
	if sess == nil || sess.ID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "checkout session is required")
	}
	account := accountKey(sess.Metadata)
	if account == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "checkout session has no account metadata")
	}
	channel := enums.PaymentChannelCard
	if raw := sess.Metadata[MetadataChannel]; raw != "" {
		parsed, err := enums.ParsePaymentChannel(raw)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid channel metadata")
		}
		channel = parsed
	}
	amount := decimal.New(sess.AmountTotal, -2)

	logCtx := ctx
	if s.logg != nil {
		logCtx = s.logg.WithFields(ctx, map[string]any{
			"checkout_session_id": sess.ID,
			"purpose":             sess.Metadata[MetadataPurpose],
		})
	}

	switch strings.ToLower(strings.TrimSpace(sess.Metadata[MetadataPurpose])) {
	case PurposeCredits:
		count, err := strconv.ParseInt(strings.TrimSpace(sess.Metadata[MetadataCredits]), 10, 64)
		if err != nil {
			return nil, pkgerrors.New(pkgerrors.CodeInvalidAmount, "invalid credits metadata")
		}
		grant, err := s.credits.GrantCredits(logCtx, credits.GrantInput{
			AccountEmailOrID:  account,
			Credits:           count,
			PaymentAmount:     amount,
			ExternalReference: sess.ID,
			Source:            channel,
		})
		if err != nil {
			return nil, err
		}
		return &Settlement{Purpose: PurposeCredits, Grant: grant}, nil
	case PurposeWalletTopUp:
		entry, err := s.credits.CashIn(logCtx, credits.CashInInput{
			AccountEmailOrID:  account,
			Amount:            amount,
			ExternalReference: sess.ID,
			Source:            channel,
		})
		if err != nil {
			return nil, err
		}
		return &Settlement{Purpose: PurposeWalletTopUp, Entry: entry}, nil
	default:
		if s.logg != nil {
			s.logg.Warn(logCtx, "checkout session has unknown purpose, ignoring")
		}
		return &Settlement{}, nil
	}
}

func (s *Service) ownerOf(ctx context.Context, sess *stripe.CheckoutSession) (uuid.UUID, error) {
	key := accountKey(sess.Metadata)
	if key == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "checkout session has no account metadata")
	}
	if id, err := uuid.Parse(key); err == nil {
		return id, nil
	}
	owner, err := s.accounts.Resolve(ctx, key)
	if err != nil {
		return uuid.Nil, err
	}
	return owner.ID, nil
}

func isPaid(sess *stripe.CheckoutSession) bool {
	if sess == nil {
		return false
	}
	return sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid ||
		sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusNoPaymentRequired
}

// accountKey prefers the account id and falls back to the payer email.
func accountKey(metadata map[string]string) string {
	if id := strings.TrimSpace(metadata[MetadataAccountID]); id != "" {
		return id
	}
	return strings.TrimSpace(metadata[MetadataAccountEmail])
}
