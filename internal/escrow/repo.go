package escrow

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/unimart-backend/pkg/db/models"
	"github.com/angelmondragon/unimart-backend/pkg/enums"
)

// Repository manages persistence for escrow holds.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, hold *models.EscrowHold) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.EscrowHold, error)
	ListByAccount(ctx context.Context, accountID uuid.UUID, status *enums.EscrowHoldStatus, limit int) ([]models.EscrowHold, error)
	Transition(ctx context.Context, id uuid.UUID, from, to enums.EscrowHoldStatus, at time.Time) (bool, error)
	OpenAmounts(ctx context.Context, sourceAccountID uuid.UUID) ([]decimal.Decimal, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns an escrow repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, hold *models.EscrowHold) error {
	return r.db.WithContext(ctx).Create(hold).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.EscrowHold, error) {
	var hold models.EscrowHold
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&hold).Error; err != nil {
		return nil, err
	}
	return &hold, nil
}

// ListByAccount returns holds where the account is either side, newest first.
func (r *repository) ListByAccount(ctx context.Context, accountID uuid.UUID, status *enums.EscrowHoldStatus, limit int) ([]models.EscrowHold, error) {
	query := r.db.WithContext(ctx).
		Where("source_account_id = ? OR beneficiary_account_id = ?", accountID, accountID)
	if status != nil {
		query = query.Where("status = ?", *status)
	}
	var holds []models.EscrowHold
	if err := query.Order("created_at DESC").Limit(limit).Find(&holds).Error; err != nil {
		return nil, err
	}
	return holds, nil
}

// Transition moves the hold from one status to another. It reports false when the
// hold was no longer in the expected status, so only one resolution can win.
func (r *repository) Transition(ctx context.Context, id uuid.UUID, from, to enums.EscrowHoldStatus, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.EscrowHold{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]any{
			"status":      to,
			"resolved_at": at,
			"updated_at":  at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) OpenAmounts(ctx context.Context, sourceAccountID uuid.UUID) ([]decimal.Decimal, error) {
	var amounts []decimal.Decimal
	if err := r.db.WithContext(ctx).
		Model(&models.EscrowHold{}).
		Where("source_account_id = ? AND status = ?", sourceAccountID, enums.EscrowHoldStatusOpen).
		Pluck("amount", &amounts).Error; err != nil {
		return nil, err
	}
	return amounts, nil
}
