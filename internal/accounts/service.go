package accounts

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	dbpkg "github.com/angelmondragon/unimart-backend/pkg/db"
	"github.com/angelmondragon/unimart-backend/pkg/db/models"
	"github.com/angelmondragon/unimart-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/unimart-backend/pkg/errors"
	"github.com/angelmondragon/unimart-backend/pkg/logger"
	"github.com/angelmondragon/unimart-backend/pkg/outbox"
	"github.com/angelmondragon/unimart-backend/pkg/outbox/payloads"
)

// Service is the account registry: one wallet per marketplace user.
type Service interface {
	GetBalance(ctx context.Context, accountID uuid.UUID) (*Balance, error)
	EnsureAccount(ctx context.Context, accountID uuid.UUID, email string) (*models.Account, error)
	Get(ctx context.Context, accountID uuid.UUID) (*models.Account, error)
	FindByEmail(ctx context.Context, email string) (*models.Account, error)
	Resolve(ctx context.Context, emailOrID string) (*models.Account, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ServiceParams wires the account registry.
type ServiceParams struct {
	Repo     Repository
	TxRunner txRunner
	Outbox   outbox.Emitter
	Logger   *logger.Logger
}

type service struct {
	repo   Repository
	tx     txRunner
	outbox outbox.Emitter
	logg   *logger.Logger
}

// NewService validates params and builds the registry.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("accounts repository required")
	}
	if params.TxRunner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	return &service{
		repo:   params.Repo,
		tx:     params.TxRunner,
		outbox: params.Outbox,
		logg:   params.Logger,
	}, nil
}

func (s *service) GetBalance(ctx context.Context, accountID uuid.UUID) (*Balance, error) {
	account, err := s.Get(ctx, accountID)
	if err != nil {
		return nil, err
	}
	balance := BalanceFromModel(account)
	return &balance, nil
}

func (s *service) Get(ctx context.Context, accountID uuid.UUID) (*models.Account, error) {
	if accountID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account id is required")
	}
	account, err := s.repo.FindByID(ctx, accountID)
	if err != nil {
		return nil, mapLookupError(err)
	}
	return account, nil
}

// EnsureAccount creates a zero-balance account when absent. Calling it again is a no-op,
// except that an email is attached to an existing account that has none.
func (s *service) EnsureAccount(ctx context.Context, accountID uuid.UUID, email string) (*models.Account, error) {
	if accountID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account id is required")
	}
	email = NormalizeEmail(email)

	existing, err := s.repo.FindByID(ctx, accountID)
	if err == nil {
		return s.attachEmail(ctx, existing, email)
	}
	if !dbpkg.IsNotFound(err) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load account")
	}

	now := time.Now().UTC()
	account := &models.Account{
		ID:        accountID,
		Available: decimal.Zero,
		Escrow:    decimal.Zero,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if email != "" {
		account.Email = &email
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Create(ctx, account); err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventAccountOpened,
			AggregateType: enums.AggregateAccount,
			AggregateID:   account.ID,
			Data: payloads.AccountOpenedEvent{
				AccountID: account.ID,
				Email:     account.Email,
			},
		})
	})
	if err != nil {
		if dbpkg.IsUniqueViolation(err, "") {
			// Lost a creation race; the winner's row is authoritative.
			winner, findErr := s.repo.FindByID(ctx, accountID)
			if findErr == nil {
				return winner, nil
			}
			return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "email already belongs to another account")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create account")
	}

	if s.logg != nil {
		logCtx := s.logg.WithAccountID(ctx, account.ID.String())
		s.logg.Info(logCtx, "account opened")
	}
	return account, nil
}

func (s *service) attachEmail(ctx context.Context, account *models.Account, email string) (*models.Account, error) {
	if email == "" || account.Email != nil {
		return account, nil
	}
	if err := s.repo.SetEmail(ctx, account.ID, email); err != nil {
		if dbpkg.IsUniqueViolation(err, "") {
			return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "email already belongs to another account")
		}
		// Another request attached an email first; keep whatever is stored.
		return s.Get(ctx, account.ID)
	}
	account.Email = &email
	return account, nil
}

func (s *service) FindByEmail(ctx context.Context, email string) (*models.Account, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "email is required")
	}
	account, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		return nil, mapLookupError(err)
	}
	return account, nil
}

// Resolve accepts either an account id or an account email.
func (s *service) Resolve(ctx context.Context, emailOrID string) (*models.Account, error) {
	trimmed := strings.TrimSpace(emailOrID)
	if trimmed == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account email or id is required")
	}
	if id, err := uuid.Parse(trimmed); err == nil {
		return s.Get(ctx, id)
	}
	return s.FindByEmail(ctx, trimmed)
}

// NormalizeEmail lowercases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func mapLookupError(err error) error {
	if dbpkg.IsNotFound(err) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "account not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load account")
}
