package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/unimart-backend/pkg/db/dbtest"
	"github.com/angelmondragon/unimart-backend/pkg/db/models"
	"github.com/angelmondragon/unimart-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/unimart-backend/pkg/errors"
)

func TestGuardSeenAndRecord(t *testing.T) {
	conn := dbtest.Open(t)
	g := NewGuard(conn)
	ctx := context.Background()
	accountID := seedAccount(t, conn)

	seen, err := g.Seen(ctx, nil, "cs_live_1")
	require.NoError(t, err)
	assert.Nil(t, seen)

	grant := &models.CreditGrant{
		AccountID:     accountID,
		Credits:       10,
		PaymentAmount: decimal.NewFromInt(50),
		Source:        enums.PaymentChannelGCash,
		CreatedAt:     time.Now().UTC(),
	}
	err = conn.Transaction(func(tx *gorm.DB) error {
		return g.Record(ctx, tx, " cs_live_1 ", grant)
	})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, grant.ID)

	seen, err = g.Seen(ctx, nil, "cs_live_1")
	require.NoError(t, err)
	require.NotNil(t, seen)
	assert.Equal(t, grant.ID, seen.ID)
	assert.Equal(t, int64(10), seen.Credits)

	dup := &models.CreditGrant{
		AccountID:     accountID,
		Credits:       10,
		PaymentAmount: decimal.NewFromInt(50),
		Source:        enums.PaymentChannelGCash,
		CreatedAt:     time.Now().UTC(),
	}
	err = conn.Transaction(func(tx *gorm.DB) error {
		return g.Record(ctx, tx, "cs_live_1", dup)
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeDuplicateReference))

	grants, err := g.ListByAccount(ctx, accountID, 0)
	require.NoError(t, err)
	assert.Len(t, grants, 1)
}

func TestGuardRequiresReferenceAndTransaction(t *testing.T) {
	conn := dbtest.Open(t)
	g := NewGuard(conn)
	ctx := context.Background()

	_, err := g.Seen(ctx, nil, "  ")
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))

	err = g.Record(ctx, nil, "ref", &models.CreditGrant{})
	assert.Error(t, err)
}
