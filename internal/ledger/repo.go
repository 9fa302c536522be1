package ledger

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/unimart-backend/pkg/db/models"
	"github.com/angelmondragon/unimart-backend/pkg/enums"
	"github.com/angelmondragon/unimart-backend/pkg/pagination"
)

// Repository manages persistence for journal entries. Entries are insert-only.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateEntries(ctx context.Context, entries []models.JournalEntry) error
	ReferenceExists(ctx context.Context, reference string) (bool, error)
	FindByReference(ctx context.Context, reference string) (*models.JournalEntry, error)
	// ListPage returns up to limit entries strictly older than cursor, newest first.
	ListPage(ctx context.Context, accountID uuid.UUID, cursor *pagination.Cursor, limit int) ([]models.JournalEntry, error)
	MonetaryAmounts(ctx context.Context, accountID uuid.UUID) ([]decimal.Decimal, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a journal repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateEntries(ctx context.Context, entries []models.JournalEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&entries).Error
}

func (r *repository) ReferenceExists(ctx context.Context, reference string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.JournalEntry{}).
		Where("external_reference = ?", reference).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *repository) FindByReference(ctx context.Context, reference string) (*models.JournalEntry, error) {
	var entry models.JournalEntry
	if err := r.db.WithContext(ctx).
		Where("external_reference = ?", reference).
		First(&entry).Error; err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *repository) ListPage(ctx context.Context, accountID uuid.UUID, cursor *pagination.Cursor, limit int) ([]models.JournalEntry, error) {
	q := r.db.WithContext(ctx).Where("account_id = ?", accountID)
	if cursor != nil {
		q = q.Where("(created_at < ?) OR (created_at = ? AND id < ?)", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}
	var entries []models.JournalEntry
	if err := q.Order("created_at DESC").Order("id DESC").Limit(limit).Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

// MonetaryAmounts returns the signed amounts of every available/escrow entry for the account.
func (r *repository) MonetaryAmounts(ctx context.Context, accountID uuid.UUID) ([]decimal.Decimal, error) {
	var amounts []decimal.Decimal
	if err := r.db.WithContext(ctx).
		Model(&models.JournalEntry{}).
		Where("account_id = ? AND bucket IN ?", accountID, []enums.BalanceBucket{
			enums.BalanceBucketAvailable,
			enums.BalanceBucketEscrow,
		}).
		Pluck("amount", &amounts).Error; err != nil {
		return nil, err
	}
	return amounts, nil
}
