package payouts

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/unimart-backend/pkg/db/models"
	"github.com/angelmondragon/unimart-backend/pkg/enums"
)

// Repository manages persistence for payout requests.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, payout *models.PayoutRequest) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.PayoutRequest, error)
	List(ctx context.Context, status *enums.PayoutStatus, limit int) ([]models.PayoutRequest, error)
	ListByAccount(ctx context.Context, accountID uuid.UUID, limit int) ([]models.PayoutRequest, error)
	ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.PayoutRequest, error)
	Transition(ctx context.Context, id uuid.UUID, to enums.PayoutStatus, reason *string, at time.Time) (bool, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a payout repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, payout *models.PayoutRequest) error {
	return r.db.WithContext(ctx).Create(payout).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.PayoutRequest, error) {
	var payout models.PayoutRequest
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&payout).Error; err != nil {
		return nil, err
	}
	return &payout, nil
}

func (r *repository) List(ctx context.Context, status *enums.PayoutStatus, limit int) ([]models.PayoutRequest, error) {
	query := r.db.WithContext(ctx)
	if status != nil {
		query = query.Where("status = ?", *status)
	}
	var payouts []models.PayoutRequest
	if err := query.Order("created_at DESC").Limit(limit).Find(&payouts).Error; err != nil {
		return nil, err
	}
	return payouts, nil
}

func (r *repository) ListByAccount(ctx context.Context, accountID uuid.UUID, limit int) ([]models.PayoutRequest, error) {
	var payouts []models.PayoutRequest
	if err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at DESC").
		Limit(limit).
		Find(&payouts).Error; err != nil {
		return nil, err
	}
	return payouts, nil
}

// ListPendingBefore returns the oldest pending payouts created before cutoff.
func (r *repository) ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.PayoutRequest, error) {
	var payouts []models.PayoutRequest
	if err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", enums.PayoutStatusPending, cutoff).
		Order("created_at ASC").
		Limit(limit).
		Find(&payouts).Error; err != nil {
		return nil, err
	}
	return payouts, nil
}

// Transition resolves a pending payout. It reports false when the payout was already resolved.
func (r *repository) Transition(ctx context.Context, id uuid.UUID, to enums.PayoutStatus, reason *string, at time.Time) (bool, error) {
	updates := map[string]any{
		"status":      to,
		"resolved_at": at,
		"updated_at":  at,
	}
	if reason != nil {
		updates["failure_reason"] = *reason
	}
	res := r.db.WithContext(ctx).
		Model(&models.PayoutRequest{}).
		Where("id = ? AND status = ?", id, enums.PayoutStatusPending).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
