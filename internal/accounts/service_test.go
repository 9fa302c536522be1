package accounts

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	dbpkg "github.com/angelmondragon/unimart-backend/pkg/db"
	"github.com/angelmondragon/unimart-backend/pkg/db/dbtest"
	"github.com/angelmondragon/unimart-backend/pkg/db/models"
	"github.com/angelmondragon/unimart-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/unimart-backend/pkg/errors"
	"github.com/angelmondragon/unimart-backend/pkg/outbox"
)

func newTestService(t *testing.T) (Service, *gorm.DB) {
	t.Helper()
	conn := dbtest.Open(t)
	svc, err := NewService(ServiceParams{
		Repo:     NewRepository(conn),
		TxRunner: dbpkg.NewFromGorm(conn),
		Outbox:   outbox.NewService(outbox.NewRepository(conn), nil),
	})
	require.NoError(t, err)
	return svc, conn
}

func TestNewServiceValidatesParams(t *testing.T) {
	_, err := NewService(ServiceParams{})
	require.Error(t, err)
}

func TestEnsureAccountIsIdempotent(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()
	id := uuid.New()

	first, err := svc.EnsureAccount(ctx, id, " Juan@UP.edu.ph ")
	require.NoError(t, err)
	require.NotNil(t, first.Email)
	assert.Equal(t, "juan@up.edu.ph", *first.Email)

	second, err := svc.EnsureAccount(ctx, id, "")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	var count int64
	require.NoError(t, conn.Model(&models.Account{}).Where("id = ?", id).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	var events []models.OutboxEvent
	require.NoError(t, conn.Where("aggregate_id = ?", id).Find(&events).Error)
	require.Len(t, events, 1)
	assert.Equal(t, enums.EventAccountOpened, events[0].EventType)
}

func TestEnsureAccountAttachesMissingEmail(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	id := uuid.New()

	_, err := svc.EnsureAccount(ctx, id, "")
	require.NoError(t, err)

	updated, err := svc.EnsureAccount(ctx, id, "maria@ust.edu.ph")
	require.NoError(t, err)
	require.NotNil(t, updated.Email)

	found, err := svc.FindByEmail(ctx, "MARIA@ust.edu.ph")
	require.NoError(t, err)
	assert.Equal(t, id, found.ID)
}

func TestEnsureAccountRejectsEmailOwnedByAnotherAccount(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.EnsureAccount(ctx, uuid.New(), "shared@dlsu.edu.ph")
	require.NoError(t, err)

	_, err = svc.EnsureAccount(ctx, uuid.New(), "shared@dlsu.edu.ph")
	require.Error(t, err)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeConflict))
}

func TestGetBalanceStartsAtZero(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	id := uuid.New()

	_, err := svc.EnsureAccount(ctx, id, "")
	require.NoError(t, err)

	balance, err := svc.GetBalance(ctx, id)
	require.NoError(t, err)
	assert.True(t, balance.Available.Equal(decimal.Zero))
	assert.True(t, balance.Escrow.Equal(decimal.Zero))
	assert.Equal(t, int64(0), balance.Credits)
}

func TestGetBalanceUnknownAccount(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.GetBalance(context.Background(), uuid.New())
	require.Error(t, err)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeNotFound))
}

func TestResolveByIDOrEmail(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	id := uuid.New()
	_, err := svc.EnsureAccount(ctx, id, "ana@admu.edu.ph")
	require.NoError(t, err)

	byID, err := svc.Resolve(ctx, id.String())
	require.NoError(t, err)
	assert.Equal(t, id, byID.ID)

	byEmail, err := svc.Resolve(ctx, "ana@admu.edu.ph")
	require.NoError(t, err)
	assert.Equal(t, id, byEmail.ID)

	_, err = svc.Resolve(ctx, "nobody@example.com")
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeNotFound))

	_, err = svc.Resolve(ctx, "  ")
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))
}

func TestCompareAndSwapBalancesDetectsStaleVersion(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()
	id := uuid.New()
	_, err := svc.EnsureAccount(ctx, id, "")
	require.NoError(t, err)

	repo := NewRepository(conn)
	account, err := repo.FindByID(ctx, id)
	require.NoError(t, err)

	account.Available = decimal.NewFromInt(25)
	ok, err := repo.CompareAndSwapBalances(ctx, account, 0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(1), account.Version)

	account.Available = decimal.NewFromInt(50)
	ok, err = repo.CompareAndSwapBalances(ctx, account, 0)
	require.NoError(t, err)
	assert.False(t, ok)

	stored, err := repo.FindByID(ctx, id)
	require.NoError(t, err)
	assert.True(t, stored.Available.Equal(decimal.NewFromInt(25)))
}
