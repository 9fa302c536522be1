package credits

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/unimart-backend/internal/accounts"
	"github.com/angelmondragon/unimart-backend/internal/ledger"
	"github.com/angelmondragon/unimart-backend/pkg/db/models"
	"github.com/angelmondragon/unimart-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/unimart-backend/pkg/errors"
	"github.com/angelmondragon/unimart-backend/pkg/logger"
	"github.com/angelmondragon/unimart-backend/pkg/outbox"
	"github.com/angelmondragon/unimart-backend/pkg/outbox/payloads"
)

// Service converts confirmed external payments into posting credits or wallet funds.
type Service interface {
	GrantCredits(ctx context.Context, input GrantInput) (*models.CreditGrant, error)
	CashIn(ctx context.Context, input CashInInput) (*models.JournalEntry, error)
	ListGrants(ctx context.Context, accountID uuid.UUID, limit int) ([]models.CreditGrant, error)
}

// GrantInput carries one confirmed credit purchase.
type GrantInput struct {
	AccountEmailOrID  string
	Credits           int64
	PaymentAmount     decimal.Decimal
	ExternalReference string
	Source            enums.PaymentChannel
}

// CashInInput carries one confirmed wallet top-up.
type CashInInput struct {
	AccountEmailOrID  string
	Amount            decimal.Decimal
	ExternalReference string
	Source            enums.PaymentChannel
}

// ServiceParams wires credit issuance.
type ServiceParams struct {
	Accounts        accounts.Service
	Journal         ledger.Journal
	Guard           ledger.Guard
	Outbox          outbox.Emitter
	ChannelMinimums map[string]decimal.Decimal
	Logger          *logger.Logger
}

type service struct {
	accounts accounts.Service
	journal  ledger.Journal
	guard    ledger.Guard
	outbox   outbox.Emitter
	minimums map[string]decimal.Decimal
	logg     *logger.Logger
}

// NewService validates params and builds the credit issuance service.
func NewService(params ServiceParams) (Service, error) {
	if params.Accounts == nil {
		return nil, fmt.Errorf("accounts service required")
	}
	if params.Journal == nil {
		return nil, fmt.Errorf("journal required")
	}
	if params.Guard == nil {
		return nil, fmt.Errorf("idempotency guard required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	minimums := params.ChannelMinimums
	if minimums == nil {
		minimums = map[string]decimal.Decimal{}
	}
	return &service{
		accounts: params.Accounts,
		journal:  params.Journal,
		guard:    params.Guard,
		outbox:   params.Outbox,
		minimums: minimums,
		logg:     params.Logger,
	}, nil
}

// GrantCredits applies a credit purchase at most once per external reference.
// A repeated reference returns the grant recorded by the first delivery.
func (s *service) GrantCredits(ctx context.Context, input GrantInput) (*models.CreditGrant, error) {
	ref := strings.TrimSpace(input.ExternalReference)
	if ref == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "external reference is required")
	}
	if input.Credits <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidAmount, "credits must be greater than zero")
	}
	if err := s.checkPayment(input.Source, input.PaymentAmount); err != nil {
		return nil, err
	}

	if prior, err := s.guard.Seen(ctx, nil, ref); err != nil || prior != nil {
		return prior, err
	}

	account, err := s.resolveAccount(ctx, input.AccountEmailOrID)
	if err != nil {
		return nil, err
	}

	grant := &models.CreditGrant{
		ID:            uuid.New(),
		AccountID:     account.ID,
		Credits:       input.Credits,
		PaymentAmount: input.PaymentAmount,
		Source:        input.Source,
		CreatedAt:     time.Now().UTC(),
	}
	var replayed *models.CreditGrant

	err = s.journal.Run(ctx, []uuid.UUID{account.ID}, func(tx *gorm.DB) error {
		replayed = nil
		prior, err := s.guard.Seen(ctx, tx, ref)
		if err != nil {
			return err
		}
		if prior != nil {
			replayed = prior
			return nil
		}
		if _, err := s.journal.Append(ctx, tx, ledger.Posting{
			AccountID:         account.ID,
			Bucket:            enums.BalanceBucketCredits,
			Kind:              enums.JournalEntryKindCreditGrant,
			Amount:            decimal.NewFromInt(input.Credits),
			ExternalReference: &ref,
			Metadata:          paymentMetadata(input.Source, input.PaymentAmount),
		}); err != nil {
			return err
		}
		if err := s.guard.Record(ctx, tx, ref, grant); err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventCreditsGranted,
			AggregateType: enums.AggregateCreditGrant,
			AggregateID:   grant.ID,
			Actor:         &outbox.ActorRef{AccountID: account.ID},
			Data: payloads.CreditsGrantedEvent{
				GrantID:           grant.ID,
				AccountID:         account.ID,
				Credits:           grant.Credits,
				PaymentAmount:     grant.PaymentAmount,
				Source:            grant.Source,
				ExternalReference: ref,
			},
		})
	})
	if err != nil {
		if pkgerrors.Is(err, pkgerrors.CodeDuplicateReference) {
			// Another delivery of the same payment committed first.
			if winner, seenErr := s.guard.Seen(ctx, nil, ref); seenErr == nil && winner != nil {
				return winner, nil
			}
		}
		return nil, err
	}
	if replayed != nil {
		return replayed, nil
	}

	if s.logg != nil {
		logCtx := s.logg.WithAccountID(ctx, account.ID.String())
		logCtx = s.logg.WithFields(logCtx, map[string]any{
			"kind":      enums.JournalEntryKindCreditGrant,
			"credits":   grant.Credits,
			"reference": ref,
			"source":    grant.Source,
		})
		s.logg.Info(logCtx, "credits granted")
	}
	return grant, nil
}

// CashIn credits a wallet top-up. A repeated reference returns the original entry.
func (s *service) CashIn(ctx context.Context, input CashInInput) (*models.JournalEntry, error) {
	ref := strings.TrimSpace(input.ExternalReference)
	if ref == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "external reference is required")
	}
	if !input.Amount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidAmount, "amount must be greater than zero")
	}
	if err := s.checkPayment(input.Source, input.Amount); err != nil {
		return nil, err
	}

	if prior, err := s.priorCashIn(ctx, ref); err != nil || prior != nil {
		return prior, err
	}

	account, err := s.resolveAccount(ctx, input.AccountEmailOrID)
	if err != nil {
		return nil, err
	}

	var entry models.JournalEntry
	err = s.journal.Run(ctx, []uuid.UUID{account.ID}, func(tx *gorm.DB) error {
		entries, err := s.journal.Append(ctx, tx, ledger.Posting{
			AccountID:         account.ID,
			Bucket:            enums.BalanceBucketAvailable,
			Kind:              enums.JournalEntryKindCashIn,
			Amount:            input.Amount,
			ExternalReference: &ref,
			Metadata:          paymentMetadata(input.Source, input.Amount),
		})
		if err != nil {
			return err
		}
		entry = entries[0]
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventWalletCashedIn,
			AggregateType: enums.AggregateAccount,
			AggregateID:   account.ID,
			Actor:         &outbox.ActorRef{AccountID: account.ID},
			Data: payloads.WalletCashedInEvent{
				AccountID:         account.ID,
				Amount:            input.Amount,
				Source:            input.Source,
				ExternalReference: ref,
			},
		})
	})
	if err != nil {
		if pkgerrors.Is(err, pkgerrors.CodeDuplicateReference) {
			if winner, priorErr := s.priorCashIn(ctx, ref); priorErr == nil && winner != nil {
				return winner, nil
			}
		}
		return nil, err
	}

	if s.logg != nil {
		logCtx := s.logg.WithAccountID(ctx, account.ID.String())
		logCtx = s.logg.WithFields(logCtx, map[string]any{
			"kind":      enums.JournalEntryKindCashIn,
			"amount":    input.Amount.StringFixed(2),
			"reference": ref,
			"source":    input.Source,
		})
		s.logg.Info(logCtx, "wallet cashed in")
	}
	return &entry, nil
}

func (s *service) ListGrants(ctx context.Context, accountID uuid.UUID, limit int) ([]models.CreditGrant, error) {
	if accountID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account id is required")
	}
	return s.guard.ListByAccount(ctx, accountID, limit)
}

// priorCashIn returns the top-up already journaled under ref, or nil. A reference
// used by a different kind of entry is a conflict, not a replay.
func (s *service) priorCashIn(ctx context.Context, ref string) (*models.JournalEntry, error) {
	entry, err := s.journal.FindByReference(ctx, ref)
	if err != nil {
		if pkgerrors.Is(err, pkgerrors.CodeNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if entry.Kind != enums.JournalEntryKindCashIn {
		return nil, pkgerrors.New(pkgerrors.CodeDuplicateReference, "external reference already recorded").WithDetails(map[string]any{
			"external_reference": ref,
		})
	}
	return entry, nil
}

// resolveAccount opens the wallet on demand when given an id. Emails must already
// belong to an account.
func (s *service) resolveAccount(ctx context.Context, emailOrID string) (*models.Account, error) {
	trimmed := strings.TrimSpace(emailOrID)
	if id, err := uuid.Parse(trimmed); err == nil {
		return s.accounts.EnsureAccount(ctx, id, "")
	}
	return s.accounts.Resolve(ctx, trimmed)
}

func (s *service) checkPayment(source enums.PaymentChannel, amount decimal.Decimal) error {
	if !source.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid payment channel %q", source))
	}
	if amount.IsNegative() {
		return pkgerrors.New(pkgerrors.CodeInvalidAmount, "payment amount must not be negative")
	}
	minimum, ok := s.minimums[string(source)]
	if ok && amount.LessThan(minimum) {
		return pkgerrors.New(pkgerrors.CodeInvalidAmount, "payment amount is below the channel minimum").WithDetails(map[string]any{
			"channel": source,
			"minimum": minimum.StringFixed(2),
			"amount":  amount.StringFixed(2),
		})
	}
	return nil
}

func paymentMetadata(source enums.PaymentChannel, amount decimal.Decimal) json.RawMessage {
	data, _ := json.Marshal(map[string]string{
		"source":         string(source),
		"payment_amount": amount.StringFixed(2),
	})
	return data
}
