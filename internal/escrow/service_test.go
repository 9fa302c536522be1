package escrow

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/unimart-backend/internal/accounts"
	"github.com/angelmondragon/unimart-backend/internal/ledger"
	dbpkg "github.com/angelmondragon/unimart-backend/pkg/db"
	"github.com/angelmondragon/unimart-backend/pkg/db/dbtest"
	"github.com/angelmondragon/unimart-backend/pkg/db/models"
	"github.com/angelmondragon/unimart-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/unimart-backend/pkg/errors"
	"github.com/angelmondragon/unimart-backend/pkg/outbox"
	"github.com/angelmondragon/unimart-backend/pkg/pagination"
)

type fixture struct {
	svc      Service
	journal  ledger.Journal
	accounts accounts.Service
	conn     *gorm.DB
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	conn := dbtest.Open(t)
	client := dbpkg.NewFromGorm(conn)
	emitter := outbox.NewService(outbox.NewRepository(conn), nil)

	acctSvc, err := accounts.NewService(accounts.ServiceParams{
		Repo:     accounts.NewRepository(conn),
		TxRunner: client,
		Outbox:   emitter,
	})
	require.NoError(t, err)

	journal, err := ledger.NewJournal(ledger.JournalParams{
		TxRunner: client,
		Accounts: accounts.NewRepository(conn),
		Entries:  ledger.NewRepository(conn),
	})
	require.NoError(t, err)

	svc, err := NewService(ServiceParams{
		Repo:     NewRepository(conn),
		Journal:  journal,
		Accounts: acctSvc,
		Outbox:   emitter,
	})
	require.NoError(t, err)

	return fixture{svc: svc, journal: journal, accounts: acctSvc, conn: conn}
}

func (f fixture) fundedAccount(t *testing.T, amount int64) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	id := uuid.New()
	_, err := f.accounts.EnsureAccount(ctx, id, "")
	require.NoError(t, err)
	if amount > 0 {
		_, err = f.journal.AppendEntry(ctx, ledger.Posting{
			AccountID: id,
			Bucket:    enums.BalanceBucketAvailable,
			Kind:      enums.JournalEntryKindCashIn,
			Amount:    decimal.NewFromInt(amount),
		})
		require.NoError(t, err)
	}
	return id
}

func (f fixture) balance(t *testing.T, id uuid.UUID) *accounts.Balance {
	t.Helper()
	balance, err := f.accounts.GetBalance(context.Background(), id)
	require.NoError(t, err)
	return balance
}

func holdInput(source, beneficiary uuid.UUID, amount int64) HoldInput {
	return HoldInput{
		SourceAccountID:      source,
		BeneficiaryAccountID: beneficiary,
		Amount:               decimal.NewFromInt(amount),
		TransactionID:        uuid.New(),
	}
}

func TestNewServiceValidatesParams(t *testing.T) {
	_, err := NewService(ServiceParams{})
	require.Error(t, err)
}

func TestHoldThenRelease(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	buyer := f.fundedAccount(t, 100)
	seller := uuid.New()

	hold, err := f.svc.Hold(ctx, holdInput(buyer, seller, 40))
	require.NoError(t, err)
	assert.Equal(t, enums.EscrowHoldStatusOpen, hold.Status)

	b := f.balance(t, buyer)
	assert.True(t, b.Available.Equal(decimal.NewFromInt(60)), "available=%s", b.Available)
	assert.True(t, b.Escrow.Equal(decimal.NewFromInt(40)), "escrow=%s", b.Escrow)

	// beneficiary is opened on demand
	s := f.balance(t, seller)
	assert.True(t, s.Available.IsZero())

	released, err := f.svc.Release(ctx, hold.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.EscrowHoldStatusReleased, released.Status)
	require.NotNil(t, released.ResolvedAt)

	b = f.balance(t, buyer)
	assert.True(t, b.Available.Equal(decimal.NewFromInt(60)))
	assert.True(t, b.Escrow.IsZero())
	s = f.balance(t, seller)
	assert.True(t, s.Available.Equal(decimal.NewFromInt(40)), "seller available=%s", s.Available)

	var events []models.OutboxEvent
	require.NoError(t, f.conn.Where("aggregate_id = ?", hold.ID).Find(&events).Error)
	types := make([]enums.OutboxEventType, 0, len(events))
	for _, e := range events {
		types = append(types, e.EventType)
	}
	assert.ElementsMatch(t, []enums.OutboxEventType{enums.EventEscrowHeld, enums.EventEscrowReleased}, types)
}

func TestReverseReturnsFundsToSource(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	buyer := f.fundedAccount(t, 100)
	seller := f.fundedAccount(t, 0)

	hold, err := f.svc.Hold(ctx, holdInput(buyer, seller, 25))
	require.NoError(t, err)

	reversed, err := f.svc.Reverse(ctx, hold.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.EscrowHoldStatusReversed, reversed.Status)

	b := f.balance(t, buyer)
	assert.True(t, b.Available.Equal(decimal.NewFromInt(100)))
	assert.True(t, b.Escrow.IsZero())
	assert.True(t, f.balance(t, seller).Available.IsZero())

	page, err := f.journal.Statement(ctx, buyer, pagination.Params{Limit: 10})
	require.NoError(t, err)
	kinds := map[enums.JournalEntryKind]int{}
	for _, e := range page.Entries {
		kinds[e.Kind]++
	}
	assert.Equal(t, 2, kinds[enums.JournalEntryKindEscrowHold])
	assert.Equal(t, 2, kinds[enums.JournalEntryKindRefund])
}

func TestHoldRejectsInsufficientFunds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	buyer := f.fundedAccount(t, 30)

	_, err := f.svc.Hold(ctx, holdInput(buyer, uuid.New(), 31))
	require.Error(t, err)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeInsufficientFunds))

	b := f.balance(t, buyer)
	assert.True(t, b.Available.Equal(decimal.NewFromInt(30)))
	assert.True(t, b.Escrow.IsZero())

	holds, err := f.svc.ListByAccount(ctx, buyer, nil)
	require.NoError(t, err)
	assert.Empty(t, holds)
}

func TestHoldValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	buyer := f.fundedAccount(t, 10)

	cases := []struct {
		name  string
		input HoldInput
		code  pkgerrors.Code
	}{
		{name: "zero amount", input: holdInput(buyer, uuid.New(), 0), code: pkgerrors.CodeInvalidAmount},
		{name: "negative amount", input: holdInput(buyer, uuid.New(), -5), code: pkgerrors.CodeInvalidAmount},
		{name: "self hold", input: holdInput(buyer, buyer, 5), code: pkgerrors.CodeValidation},
		{name: "missing transaction", input: HoldInput{SourceAccountID: buyer, BeneficiaryAccountID: uuid.New(), Amount: decimal.NewFromInt(1)}, code: pkgerrors.CodeValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Hold(ctx, tc.input)
			require.Error(t, err)
			assert.True(t, pkgerrors.Is(err, tc.code), "got %v", err)
		})
	}
}

func TestResolutionHappensOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	buyer := f.fundedAccount(t, 100)
	seller := f.fundedAccount(t, 0)

	hold, err := f.svc.Hold(ctx, holdInput(buyer, seller, 40))
	require.NoError(t, err)
	_, err = f.svc.Release(ctx, hold.ID)
	require.NoError(t, err)

	_, err = f.svc.Reverse(ctx, hold.ID)
	require.Error(t, err)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeInvalidState))

	_, err = f.svc.Release(ctx, hold.ID)
	require.Error(t, err)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeInvalidState))

	assert.True(t, f.balance(t, seller).Available.Equal(decimal.NewFromInt(40)))
	assert.True(t, f.balance(t, buyer).Available.Equal(decimal.NewFromInt(60)))
}

func TestConcurrentReleaseHasSingleWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	buyer := f.fundedAccount(t, 100)
	seller := f.fundedAccount(t, 0)

	hold, err := f.svc.Hold(ctx, holdInput(buyer, seller, 40))
	require.NoError(t, err)

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var err error
			if i%2 == 0 {
				_, err = f.svc.Release(ctx, hold.ID)
			} else {
				_, err = f.svc.Reverse(ctx, hold.ID)
			}
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case pkgerrors.Is(err, pkgerrors.CodeInvalidState):
				conflicts++
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, workers-1, conflicts)

	b := f.balance(t, buyer)
	s := f.balance(t, seller)
	assert.True(t, b.Escrow.IsZero())
	total := b.Available.Add(s.Available)
	assert.True(t, total.Equal(decimal.NewFromInt(100)), "total=%s", total)
}

func TestOpenTotalMatchesEscrowBalance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	buyer := f.fundedAccount(t, 200)
	seller := f.fundedAccount(t, 0)

	var holds []*models.EscrowHold
	for _, amount := range []int64{10, 25, 40} {
		hold, err := f.svc.Hold(ctx, holdInput(buyer, seller, amount))
		require.NoError(t, err)
		holds = append(holds, hold)
	}
	_, err := f.svc.Release(ctx, holds[0].ID)
	require.NoError(t, err)
	_, err = f.svc.Reverse(ctx, holds[2].ID)
	require.NoError(t, err)

	total, err := f.svc.OpenTotal(ctx, buyer)
	require.NoError(t, err)
	assert.True(t, total.Equal(decimal.NewFromInt(25)), "open=%s", total)
	assert.True(t, f.balance(t, buyer).Escrow.Equal(total))

	open := enums.EscrowHoldStatusOpen
	listed, err := f.svc.ListByAccount(ctx, buyer, &open)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, holds[1].ID, listed[0].ID)

	bySeller, err := f.svc.ListByAccount(ctx, seller, nil)
	require.NoError(t, err)
	assert.Len(t, bySeller, 3)
}

func TestGetUnknownHold(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Get(context.Background(), uuid.New())
	require.Error(t, err)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeNotFound))

	_, err = f.svc.Release(context.Background(), uuid.New())
	require.Error(t, err)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeNotFound))
}
