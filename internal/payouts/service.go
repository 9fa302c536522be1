package payouts

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/unimart-backend/internal/accounts"
	"github.com/angelmondragon/unimart-backend/internal/ledger"
	dbpkg "github.com/angelmondragon/unimart-backend/pkg/db"
	"github.com/angelmondragon/unimart-backend/pkg/db/models"
	"github.com/angelmondragon/unimart-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/unimart-backend/pkg/errors"
	"github.com/angelmondragon/unimart-backend/pkg/logger"
	"github.com/angelmondragon/unimart-backend/pkg/outbox"
	"github.com/angelmondragon/unimart-backend/pkg/outbox/payloads"
)

const (
	referencePrefix  = "PO-"
	refundSuffix     = ":refund"
	defaultListLimit = 50
	maxListLimit     = 500
	settleBatchSize  = 100
)

// Service coordinates withdrawals from the available balance.
type Service interface {
	RequestPayout(ctx context.Context, input RequestInput) (*models.PayoutRequest, error)
	Complete(ctx context.Context, payoutID uuid.UUID) (*models.PayoutRequest, error)
	Fail(ctx context.Context, payoutID uuid.UUID, reason string) (*models.PayoutRequest, error)
	SettleOlderThan(ctx context.Context, cutoff time.Time) (int, error)
	Get(ctx context.Context, payoutID uuid.UUID) (*models.PayoutRequest, error)
	List(ctx context.Context, status *enums.PayoutStatus, limit int) ([]models.PayoutRequest, error)
	ListByAccount(ctx context.Context, accountID uuid.UUID, limit int) ([]models.PayoutRequest, error)
}

// RequestInput describes a cash-out to an external rail.
type RequestInput struct {
	AccountID   uuid.UUID
	Amount      decimal.Decimal
	Channel     enums.PaymentChannel
	Destination string
}

// ServiceParams wires the payout coordinator.
type ServiceParams struct {
	Repo     Repository
	Journal  ledger.Journal
	Accounts accounts.Service
	Outbox   outbox.Emitter
	Minimum  decimal.Decimal
	Logger   *logger.Logger
}

type service struct {
	repo     Repository
	journal  ledger.Journal
	accounts accounts.Service
	outbox   outbox.Emitter
	minimum  decimal.Decimal
	logg     *logger.Logger
}

// NewService validates params and builds the payout coordinator.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("payout repository required")
	}
	if params.Journal == nil {
		return nil, fmt.Errorf("journal required")
	}
	if params.Accounts == nil {
		return nil, fmt.Errorf("accounts service required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	return &service{
		repo:     params.Repo,
		journal:  params.Journal,
		accounts: params.Accounts,
		outbox:   params.Outbox,
		minimum:  params.Minimum,
		logg:     params.Logger,
	}, nil
}

// RequestPayout debits the available balance and records a pending payout. The
// debit and the request commit together; the rail itself is not called here.
func (s *service) RequestPayout(ctx context.Context, input RequestInput) (*models.PayoutRequest, error) {
	destination := strings.TrimSpace(input.Destination)
	if destination == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payout destination is required")
	}
	if !input.Channel.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid payout channel %q", input.Channel))
	}
	if !input.Amount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidAmount, "amount must be greater than zero")
	}
	if input.Amount.LessThan(s.minimum) {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidAmount, "amount is below the payout minimum").WithDetails(map[string]any{
			"minimum": s.minimum.StringFixed(2),
		})
	}
	if _, err := s.accounts.Get(ctx, input.AccountID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	payout := &models.PayoutRequest{
		ID:            uuid.New(),
		AccountID:     input.AccountID,
		Amount:        input.Amount,
		Channel:       input.Channel,
		Destination:   destination,
		ReferenceCode: NewReferenceCode(),
		Status:        enums.PayoutStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	err := s.journal.Run(ctx, []uuid.UUID{payout.AccountID}, func(tx *gorm.DB) error {
		ref := payout.ReferenceCode
		if _, err := s.journal.Append(ctx, tx, ledger.Posting{
			AccountID:         payout.AccountID,
			Bucket:            enums.BalanceBucketAvailable,
			Kind:              enums.JournalEntryKindCashOut,
			Amount:            payout.Amount.Neg(),
			ExternalReference: &ref,
			Metadata:          payoutMetadata(payout),
		}); err != nil {
			return err
		}
		if err := s.repo.WithTx(tx).Create(ctx, payout); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create payout request")
		}
		return s.emit(ctx, tx, payout, enums.EventPayoutRequested)
	})
	if err != nil {
		return nil, err
	}

	s.logPayout(ctx, payout, "payout requested")
	return payout, nil
}

// Complete marks a pending payout as paid out by the rail.
func (s *service) Complete(ctx context.Context, payoutID uuid.UUID) (*models.PayoutRequest, error) {
	payout, err := s.pending(ctx, payoutID, enums.PayoutStatusCompleted)
	if err != nil {
		return nil, err
	}
	resolvedAt := time.Now().UTC()

	err = s.journal.Run(ctx, []uuid.UUID{payout.AccountID}, func(tx *gorm.DB) error {
		moved, err := s.repo.WithTx(tx).Transition(ctx, payout.ID, enums.PayoutStatusCompleted, nil, resolvedAt)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update payout request")
		}
		if !moved {
			return invalidState(payout, enums.PayoutStatusCompleted)
		}
		payout.Status = enums.PayoutStatusCompleted
		return s.emit(ctx, tx, payout, enums.EventPayoutCompleted)
	})
	if err != nil {
		payout.Status = enums.PayoutStatusPending
		return nil, err
	}

	payout.ResolvedAt = &resolvedAt
	payout.UpdatedAt = resolvedAt
	s.logPayout(ctx, payout, "payout completed")
	return payout, nil
}

// Fail marks a pending payout as rejected by the rail and re-credits the account.
func (s *service) Fail(ctx context.Context, payoutID uuid.UUID, reason string) (*models.PayoutRequest, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "failure reason is required")
	}
	payout, err := s.pending(ctx, payoutID, enums.PayoutStatusFailed)
	if err != nil {
		return nil, err
	}
	resolvedAt := time.Now().UTC()

	err = s.journal.Run(ctx, []uuid.UUID{payout.AccountID}, func(tx *gorm.DB) error {
		moved, err := s.repo.WithTx(tx).Transition(ctx, payout.ID, enums.PayoutStatusFailed, &reason, resolvedAt)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update payout request")
		}
		if !moved {
			return invalidState(payout, enums.PayoutStatusFailed)
		}
		ref := payout.ReferenceCode + refundSuffix
		if _, err := s.journal.Append(ctx, tx, ledger.Posting{
			AccountID:         payout.AccountID,
			Bucket:            enums.BalanceBucketAvailable,
			Kind:              enums.JournalEntryKindRefund,
			Amount:            payout.Amount,
			ExternalReference: &ref,
			Metadata:          payoutMetadata(payout),
		}); err != nil {
			return err
		}
		payout.Status = enums.PayoutStatusFailed
		payout.FailureReason = &reason
		return s.emit(ctx, tx, payout, enums.EventPayoutFailed)
	})
	if err != nil {
		payout.Status = enums.PayoutStatusPending
		payout.FailureReason = nil
		return nil, err
	}

	payout.ResolvedAt = &resolvedAt
	payout.UpdatedAt = resolvedAt
	s.logPayout(ctx, payout, "payout failed and refunded")
	return payout, nil
}

// SettleOlderThan completes every payout still pending at cutoff. Payouts resolved
// concurrently are skipped; other failures are collected and returned together.
func (s *service) SettleOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	settled := 0
	var errs error
	for {
		batch, err := s.repo.ListPendingBefore(ctx, cutoff, settleBatchSize)
		if err != nil {
			return settled, multierr.Append(errs, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list pending payouts"))
		}
		progressed := false
		for _, payout := range batch {
			if err := ctx.Err(); err != nil {
				return settled, multierr.Append(errs, err)
			}
			if _, err := s.Complete(ctx, payout.ID); err != nil {
				if pkgerrors.Is(err, pkgerrors.CodeInvalidState) {
					progressed = true
					continue
				}
				errs = multierr.Append(errs, fmt.Errorf("settle payout %s: %w", payout.ReferenceCode, err))
				continue
			}
			progressed = true
			settled++
		}
		if len(batch) < settleBatchSize || !progressed {
			return settled, errs
		}
	}
}

func (s *service) Get(ctx context.Context, payoutID uuid.UUID) (*models.PayoutRequest, error) {
	if payoutID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payout id is required")
	}
	payout, err := s.repo.FindByID(ctx, payoutID)
	if err != nil {
		if dbpkg.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payout request not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payout request")
	}
	return payout, nil
}

func (s *service) List(ctx context.Context, status *enums.PayoutStatus, limit int) ([]models.PayoutRequest, error) {
	if status != nil && !status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid payout status %q", *status))
	}
	payouts, err := s.repo.List(ctx, status, clampLimit(limit))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list payout requests")
	}
	return payouts, nil
}

func (s *service) ListByAccount(ctx context.Context, accountID uuid.UUID, limit int) ([]models.PayoutRequest, error) {
	if accountID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account id is required")
	}
	payouts, err := s.repo.ListByAccount(ctx, accountID, clampLimit(limit))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list payout requests")
	}
	return payouts, nil
}

func (s *service) pending(ctx context.Context, payoutID uuid.UUID, target enums.PayoutStatus) (*models.PayoutRequest, error) {
	payout, err := s.Get(ctx, payoutID)
	if err != nil {
		return nil, err
	}
	if payout.Status != enums.PayoutStatusPending {
		return nil, invalidState(payout, target)
	}
	return payout, nil
}

func (s *service) emit(ctx context.Context, tx *gorm.DB, payout *models.PayoutRequest, eventType enums.OutboxEventType) error {
	event := payloads.PayoutEvent{
		PayoutID:      payout.ID,
		AccountID:     payout.AccountID,
		Amount:        payout.Amount,
		Channel:       payout.Channel,
		ReferenceCode: payout.ReferenceCode,
		Status:        payout.Status,
	}
	if payout.FailureReason != nil {
		event.Reason = *payout.FailureReason
	}
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregatePayoutRequest,
		AggregateID:   payout.ID,
		Data:          event,
	})
}

func (s *service) logPayout(ctx context.Context, payout *models.PayoutRequest, msg string) {
	if s.logg == nil {
		return
	}
	logCtx := s.logg.WithAccountID(ctx, payout.AccountID.String())
	logCtx = s.logg.WithFields(logCtx, map[string]any{
		"payout_id": payout.ID.String(),
		"reference": payout.ReferenceCode,
		"amount":    payout.Amount.StringFixed(2),
		"channel":   payout.Channel,
		"status":    payout.Status,
	})
	s.logg.Info(logCtx, msg)
}

// NewReferenceCode returns a sortable, unique payout reference such as PO-01J9Z....
func NewReferenceCode() string {
	return referencePrefix + ulid.Make().String()
}

func invalidState(payout *models.PayoutRequest, target enums.PayoutStatus) error {
	return pkgerrors.New(pkgerrors.CodeInvalidState, "payout request is not pending").WithDetails(map[string]any{
		"payout_id": payout.ID.String(),
		"status":    payout.Status,
		"target":    target,
	})
}

func payoutMetadata(payout *models.PayoutRequest) json.RawMessage {
	data, _ := json.Marshal(map[string]string{
		"payout_id":   payout.ID.String(),
		"channel":     string(payout.Channel),
		"destination": payout.Destination,
	})
	return data
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}
