package ledger

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbpkg "github.com/angelmondragon/unimart-backend/pkg/db"
	"github.com/angelmondragon/unimart-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/unimart-backend/pkg/errors"
	"github.com/angelmondragon/unimart-backend/pkg/pagination"
)

const creditGrantReferenceIndex = "ux_credit_grants_external_reference"

// Guard deduplicates credit grants by external payment reference.
// Seen and Record run in the caller's transaction, next to the journal append they guard;
// the unique index on credit_grants.external_reference makes the pair atomic.
type Guard interface {
	Seen(ctx context.Context, tx *gorm.DB, externalReference string) (*models.CreditGrant, error)
	Record(ctx context.Context, tx *gorm.DB, externalReference string, grant *models.CreditGrant) error
	ListByAccount(ctx context.Context, accountID uuid.UUID, limit int) ([]models.CreditGrant, error)
}

type guard struct {
	db *gorm.DB
}

// NewGuard returns a guard backed by the credit_grants table.
func NewGuard(db *gorm.DB) Guard {
	return &guard{db: db}
}

func (g *guard) conn(ctx context.Context, tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx.WithContext(ctx)
	}
	return g.db.WithContext(ctx)
}

// Seen returns the grant already recorded for the reference, or nil.
func (g *guard) Seen(ctx context.Context, tx *gorm.DB, externalReference string) (*models.CreditGrant, error) {
	ref := strings.TrimSpace(externalReference)
	if ref == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "external reference is required")
	}
	var grant models.CreditGrant
	err := g.conn(ctx, tx).Where("external_reference = ?", ref).First(&grant).Error
	if err != nil {
		if dbpkg.IsNotFound(err) {
			return nil, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check credit grant reference")
	}
	return &grant, nil
}

// Record stores grant under the reference. A concurrent writer that recorded the
// same reference first causes DuplicateReference.
func (g *guard) Record(ctx context.Context, tx *gorm.DB, externalReference string, grant *models.CreditGrant) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	ref := strings.TrimSpace(externalReference)
	if ref == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "external reference is required")
	}
	grant.ExternalReference = ref
	if grant.ID == uuid.Nil {
		grant.ID = uuid.New()
	}
	if err := tx.WithContext(ctx).Create(grant).Error; err != nil {
		if dbpkg.IsUniqueViolation(err, creditGrantReferenceIndex) || dbpkg.IsUniqueViolation(err, "credit_grants.external_reference") {
			return duplicateReference(ref)
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record credit grant")
	}
	return nil
}

func (g *guard) ListByAccount(ctx context.Context, accountID uuid.UUID, limit int) ([]models.CreditGrant, error) {
	var grants []models.CreditGrant
	if err := g.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at DESC").
		Limit(pagination.NormalizeLimit(limit)).
		Find(&grants).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list credit grants")
	}
	return grants, nil
}
