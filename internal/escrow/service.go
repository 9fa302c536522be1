package escrow

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
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

const defaultListLimit = 50

// Service holds buyer funds for a marketplace transaction until release or reversal.
type Service interface {
	Hold(ctx context.Context, input HoldInput) (*models.EscrowHold, error)
	Release(ctx context.Context, holdID uuid.UUID) (*models.EscrowHold, error)
	Reverse(ctx context.Context, holdID uuid.UUID) (*models.EscrowHold, error)
	Get(ctx context.Context, holdID uuid.UUID) (*models.EscrowHold, error)
	ListByAccount(ctx context.Context, accountID uuid.UUID, status *enums.EscrowHoldStatus) ([]models.EscrowHold, error)
	OpenTotal(ctx context.Context, accountID uuid.UUID) (decimal.Decimal, error)
}

// HoldInput describes funds to earmark from source for beneficiary.
type HoldInput struct {
	SourceAccountID      uuid.UUID
	BeneficiaryAccountID uuid.UUID
	Amount               decimal.Decimal
	TransactionID        uuid.UUID
}

// ServiceParams wires the escrow controller.
type ServiceParams struct {
	Repo     Repository
	Journal  ledger.Journal
	Accounts accounts.Service
	Outbox   outbox.Emitter
	Logger   *logger.Logger
}

type service struct {
	repo     Repository
	journal  ledger.Journal
	accounts accounts.Service
	outbox   outbox.Emitter
	logg     *logger.Logger
}

// NewService validates params and builds the escrow controller.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("escrow repository required")
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
		logg:     params.Logger,
	}, nil
}

func (s *service) Hold(ctx context.Context, input HoldInput) (*models.EscrowHold, error) {
	if err := validateHold(input); err != nil {
		return nil, err
	}
	if _, err := s.accounts.EnsureAccount(ctx, input.BeneficiaryAccountID, ""); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	hold := &models.EscrowHold{
		ID:                   uuid.New(),
		SourceAccountID:      input.SourceAccountID,
		BeneficiaryAccountID: input.BeneficiaryAccountID,
		Amount:               input.Amount,
		Status:               enums.EscrowHoldStatusOpen,
		TransactionID:        input.TransactionID,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	meta := holdMetadata(hold)
	txID := hold.TransactionID

	err := s.journal.Run(ctx, []uuid.UUID{hold.SourceAccountID}, func(tx *gorm.DB) error {
		if _, err := s.journal.Append(ctx, tx,
			ledger.Posting{
				AccountID:     hold.SourceAccountID,
				Bucket:        enums.BalanceBucketAvailable,
				Kind:          enums.JournalEntryKindEscrowHold,
				Amount:        hold.Amount.Neg(),
				TransactionID: &txID,
				Metadata:      meta,
			},
			ledger.Posting{
				AccountID:     hold.SourceAccountID,
				Bucket:        enums.BalanceBucketEscrow,
				Kind:          enums.JournalEntryKindEscrowHold,
				Amount:        hold.Amount,
				TransactionID: &txID,
				Metadata:      meta,
			},
		); err != nil {
			return err
		}
		if err := s.repo.WithTx(tx).Create(ctx, hold); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create escrow hold")
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventEscrowHeld,
			AggregateType: enums.AggregateEscrowHold,
			AggregateID:   hold.ID,
			Actor:         &outbox.ActorRef{AccountID: hold.SourceAccountID},
			Data: payloads.EscrowHeldEvent{
				HoldID:               hold.ID,
				SourceAccountID:      hold.SourceAccountID,
				BeneficiaryAccountID: hold.BeneficiaryAccountID,
				TransactionID:        hold.TransactionID,
				Amount:               hold.Amount,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	s.logHold(ctx, hold, "escrow hold created")
	return hold, nil
}

func (s *service) Release(ctx context.Context, holdID uuid.UUID) (*models.EscrowHold, error) {
	return s.resolve(ctx, holdID, enums.EscrowHoldStatusReleased)
}

func (s *service) Reverse(ctx context.Context, holdID uuid.UUID) (*models.EscrowHold, error) {
	return s.resolve(ctx, holdID, enums.EscrowHoldStatusReversed)
}

// resolve moves an open hold to its terminal status. The conditional status update and
// the journal postings share one transaction, so a hold is resolved exactly once.
func (s *service) resolve(ctx context.Context, holdID uuid.UUID, target enums.EscrowHoldStatus) (*models.EscrowHold, error) {
	hold, err := s.Get(ctx, holdID)
	if err != nil {
		return nil, err
	}
	if hold.Status != enums.EscrowHoldStatusOpen {
		return nil, invalidState(hold, target)
	}

	postings, eventType := s.resolutionPostings(hold, target)
	lockIDs := []uuid.UUID{hold.SourceAccountID, hold.BeneficiaryAccountID}
	resolvedAt := time.Now().UTC()

	err = s.journal.Run(ctx, lockIDs, func(tx *gorm.DB) error {
		moved, err := s.repo.WithTx(tx).Transition(ctx, hold.ID, enums.EscrowHoldStatusOpen, target, resolvedAt)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update escrow hold")
		}
		if !moved {
			return invalidState(hold, target)
		}
		if _, err := s.journal.Append(ctx, tx, postings...); err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     eventType,
			AggregateType: enums.AggregateEscrowHold,
			AggregateID:   hold.ID,
			Data: payloads.EscrowResolvedEvent{
				HoldID:               hold.ID,
				SourceAccountID:      hold.SourceAccountID,
				BeneficiaryAccountID: hold.BeneficiaryAccountID,
				TransactionID:        hold.TransactionID,
				Amount:               hold.Amount,
				Status:               target,
				ResolvedAt:           resolvedAt,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	hold.Status = target
	hold.ResolvedAt = &resolvedAt
	hold.UpdatedAt = resolvedAt
	s.logHold(ctx, hold, "escrow hold "+string(target))
	return hold, nil
}

func (s *service) resolutionPostings(hold *models.EscrowHold, target enums.EscrowHoldStatus) ([]ledger.Posting, enums.OutboxEventType) {
	meta := holdMetadata(hold)
	txID := hold.TransactionID
	debitEscrow := ledger.Posting{
		AccountID:     hold.SourceAccountID,
		Bucket:        enums.BalanceBucketEscrow,
		Amount:        hold.Amount.Neg(),
		TransactionID: &txID,
		Metadata:      meta,
	}
	credit := ledger.Posting{
		Bucket:        enums.BalanceBucketAvailable,
		Amount:        hold.Amount,
		TransactionID: &txID,
		Metadata:      meta,
	}

	if target == enums.EscrowHoldStatusReleased {
		debitEscrow.Kind = enums.JournalEntryKindEscrowRelease
		credit.Kind = enums.JournalEntryKindEscrowRelease
		credit.AccountID = hold.BeneficiaryAccountID
		return []ledger.Posting{debitEscrow, credit}, enums.EventEscrowReleased
	}
	debitEscrow.Kind = enums.JournalEntryKindRefund
	credit.Kind = enums.JournalEntryKindRefund
	credit.AccountID = hold.SourceAccountID
	return []ledger.Posting{debitEscrow, credit}, enums.EventEscrowReversed
}

func (s *service) Get(ctx context.Context, holdID uuid.UUID) (*models.EscrowHold, error) {
	if holdID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "hold id is required")
	}
	hold, err := s.repo.FindByID(ctx, holdID)
	if err != nil {
		if dbpkg.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "escrow hold not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load escrow hold")
	}
	return hold, nil
}

func (s *service) ListByAccount(ctx context.Context, accountID uuid.UUID, status *enums.EscrowHoldStatus) ([]models.EscrowHold, error) {
	if accountID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account id is required")
	}
	if status != nil && !status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid hold status %q", *status))
	}
	holds, err := s.repo.ListByAccount(ctx, accountID, status, defaultListLimit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list escrow holds")
	}
	return holds, nil
}

// OpenTotal sums the open holds funded by the account. It always equals the account's escrow balance.
func (s *service) OpenTotal(ctx context.Context, accountID uuid.UUID) (decimal.Decimal, error) {
	amounts, err := s.repo.OpenAmounts(ctx, accountID)
	if err != nil {
		return decimal.Zero, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sum open holds")
	}
	return decimal.Sum(decimal.Zero, amounts...), nil
}

func (s *service) logHold(ctx context.Context, hold *models.EscrowHold, msg string) {
	if s.logg == nil {
		return
	}
	logCtx := s.logg.WithAccountID(ctx, hold.SourceAccountID.String())
	logCtx = s.logg.WithFields(logCtx, map[string]any{
		"hold_id":                hold.ID.String(),
		"beneficiary_account_id": hold.BeneficiaryAccountID.String(),
		"transaction_id":         hold.TransactionID.String(),
		"amount":                 hold.Amount.StringFixed(2),
		"status":                 hold.Status,
	})
	s.logg.Info(logCtx, msg)
}

func validateHold(input HoldInput) error {
	if input.SourceAccountID == uuid.Nil || input.BeneficiaryAccountID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "source and beneficiary accounts are required")
	}
	if input.SourceAccountID == input.BeneficiaryAccountID {
		return pkgerrors.New(pkgerrors.CodeValidation, "source and beneficiary must differ")
	}
	if input.TransactionID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "transaction id is required")
	}
	if !input.Amount.IsPositive() {
		return pkgerrors.New(pkgerrors.CodeInvalidAmount, "amount must be greater than zero")
	}
	return nil
}

func invalidState(hold *models.EscrowHold, target enums.EscrowHoldStatus) error {
	return pkgerrors.New(pkgerrors.CodeInvalidState, "escrow hold is not open").WithDetails(map[string]any{
		"hold_id": hold.ID.String(),
		"status":  hold.Status,
		"target":  target,
	})
}

func holdMetadata(hold *models.EscrowHold) json.RawMessage {
	data, _ := json.Marshal(map[string]string{"hold_id": hold.ID.String()})
	return data
}
