package payouts

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/unimart-backend/internal/accounts"
	"github.com/angelmondragon/unimart-backend/internal/escrow"
	"github.com/angelmondragon/unimart-backend/internal/ledger"
	dbpkg "github.com/angelmondragon/unimart-backend/pkg/db"
	"github.com/angelmondragon/unimart-backend/pkg/db/dbtest"
	"github.com/angelmondragon/unimart-backend/pkg/db/models"
	"github.com/angelmondragon/unimart-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/unimart-backend/pkg/errors"
	"github.com/angelmondragon/unimart-backend/pkg/outbox"
)

type fixture struct {
	svc      Service
	escrow   escrow.Service
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

	escrowSvc, err := escrow.NewService(escrow.ServiceParams{
		Repo:     escrow.NewRepository(conn),
		Journal:  journal,
		Accounts: acctSvc,
		Outbox:   emitter,
	})
	require.NoError(t, err)

	svc, err := NewService(ServiceParams{
		Repo:     NewRepository(conn),
		Journal:  journal,
		Accounts: acctSvc,
		Outbox:   emitter,
		Minimum:  decimal.NewFromInt(1),
	})
	require.NoError(t, err)

	return fixture{svc: svc, escrow: escrowSvc, journal: journal, accounts: acctSvc, conn: conn}
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

func (f fixture) available(t *testing.T, id uuid.UUID) decimal.Decimal {
	t.Helper()
	balance, err := f.accounts.GetBalance(context.Background(), id)
	require.NoError(t, err)
	return balance.Available
}

func payoutInput(accountID uuid.UUID, amount int64) RequestInput {
	return RequestInput{
		AccountID:   accountID,
		Amount:      decimal.NewFromInt(amount),
		Channel:     enums.PaymentChannelGCash,
		Destination: "09171234567",
	}
}

func TestNewServiceValidatesParams(t *testing.T) {
	_, err := NewService(ServiceParams{})
	require.Error(t, err)
}

func TestRequestPayoutDebitsAvailable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.fundedAccount(t, 100)

	payout, err := f.svc.RequestPayout(ctx, payoutInput(id, 30))
	require.NoError(t, err)
	assert.Equal(t, enums.PayoutStatusPending, payout.Status)
	assert.True(t, strings.HasPrefix(payout.ReferenceCode, "PO-"))
	assert.True(t, f.available(t, id).Equal(decimal.NewFromInt(70)))

	entry, err := f.journal.FindByReference(ctx, payout.ReferenceCode)
	require.NoError(t, err)
	assert.Equal(t, enums.JournalEntryKindCashOut, entry.Kind)
	assert.True(t, entry.Amount.Equal(decimal.NewFromInt(-30)))
}

func TestRequestPayoutOverdraftLeavesStateUnchanged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.fundedAccount(t, 50)

	_, err := f.svc.RequestPayout(ctx, payoutInput(id, 51))
	require.Error(t, err)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeInsufficientFunds))
	assert.True(t, f.available(t, id).Equal(decimal.NewFromInt(50)))

	payouts, err := f.svc.ListByAccount(ctx, id, 0)
	require.NoError(t, err)
	assert.Empty(t, payouts)

	var events int64
	require.NoError(t, f.conn.Model(&models.OutboxEvent{}).Where("event_type = ?", enums.EventPayoutRequested).Count(&events).Error)
	assert.Zero(t, events)
}

func TestRequestPayoutValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.fundedAccount(t, 50)

	cases := []struct {
		name  string
		input RequestInput
		code  pkgerrors.Code
	}{
		{name: "zero amount", input: payoutInput(id, 0), code: pkgerrors.CodeInvalidAmount},
		{name: "negative amount", input: payoutInput(id, -10), code: pkgerrors.CodeInvalidAmount},
		{name: "fractional cents", input: RequestInput{AccountID: id, Amount: decimal.RequireFromString("10.005"), Channel: enums.PaymentChannelGCash, Destination: "0917"}, code: pkgerrors.CodeInvalidAmount},
		{name: "below minimum", input: RequestInput{AccountID: id, Amount: decimal.RequireFromString("0.50"), Channel: enums.PaymentChannelGCash, Destination: "0917"}, code: pkgerrors.CodeInvalidAmount},
		{name: "missing destination", input: RequestInput{AccountID: id, Amount: decimal.NewFromInt(5), Channel: enums.PaymentChannelGCash}, code: pkgerrors.CodeValidation},
		{name: "unknown account", input: payoutInput(uuid.New(), 5), code: pkgerrors.CodeNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.RequestPayout(ctx, tc.input)
			require.Error(t, err)
			assert.True(t, pkgerrors.Is(err, tc.code), "got %v", err)
		})
	}
	assert.True(t, f.available(t, id).Equal(decimal.NewFromInt(50)))
}

func TestConcurrentPayoutsNeverOverdraw(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.fundedAccount(t, 100)

	var (
		wg           sync.WaitGroup
		mu           sync.Mutex
		successes    int
		insufficient int
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.RequestPayout(ctx, payoutInput(id, 60))
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
			} else if pkgerrors.Is(err, pkgerrors.CodeInsufficientFunds) {
				insufficient++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, insufficient)
	assert.True(t, f.available(t, id).Equal(decimal.NewFromInt(40)))
}

func TestEscrowThenPayoutScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.fundedAccount(t, 100)
	b := uuid.New()

	hold, err := f.escrow.Hold(ctx, escrow.HoldInput{
		SourceAccountID:      a,
		BeneficiaryAccountID: b,
		Amount:               decimal.NewFromInt(40),
		TransactionID:        uuid.New(),
	})
	require.NoError(t, err)

	balance, err := f.accounts.GetBalance(ctx, a)
	require.NoError(t, err)
	assert.True(t, balance.Available.Equal(decimal.NewFromInt(60)))
	assert.True(t, balance.Escrow.Equal(decimal.NewFromInt(40)))

	_, err = f.escrow.Release(ctx, hold.ID)
	require.NoError(t, err)
	assert.True(t, f.available(t, b).Equal(decimal.NewFromInt(40)))

	balance, err = f.accounts.GetBalance(ctx, a)
	require.NoError(t, err)
	assert.True(t, balance.Escrow.IsZero())

	_, err = f.svc.RequestPayout(ctx, payoutInput(a, 70))
	require.Error(t, err)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeInsufficientFunds))
	assert.True(t, f.available(t, a).Equal(decimal.NewFromInt(60)))

	_, err = f.svc.RequestPayout(ctx, payoutInput(a, 60))
	require.NoError(t, err)
	assert.True(t, f.available(t, a).IsZero())

	// conservation: balances equal the signed sum of monetary entries
	for _, id := range []uuid.UUID{a, b} {
		sum, err := f.journal.Sum(ctx, id)
		require.NoError(t, err)
		balance, err := f.accounts.GetBalance(ctx, id)
		require.NoError(t, err)
		assert.True(t, sum.Equal(balance.Available.Add(balance.Escrow)), "account %s sum=%s", id, sum)
	}
}

func TestFailRefundsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.fundedAccount(t, 100)

	payout, err := f.svc.RequestPayout(ctx, payoutInput(id, 80))
	require.NoError(t, err)

	failed, err := f.svc.Fail(ctx, payout.ID, "rail rejected destination")
	require.NoError(t, err)
	assert.Equal(t, enums.PayoutStatusFailed, failed.Status)
	require.NotNil(t, failed.FailureReason)
	assert.True(t, f.available(t, id).Equal(decimal.NewFromInt(100)))

	refund, err := f.journal.FindByReference(ctx, payout.ReferenceCode+":refund")
	require.NoError(t, err)
	assert.Equal(t, enums.JournalEntryKindRefund, refund.Kind)

	_, err = f.svc.Fail(ctx, payout.ID, "again")
	require.Error(t, err)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeInvalidState))

	_, err = f.svc.Complete(ctx, payout.ID)
	require.Error(t, err)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeInvalidState))
	assert.True(t, f.available(t, id).Equal(decimal.NewFromInt(100)))
}

func TestCompleteThenFailRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.fundedAccount(t, 20)

	payout, err := f.svc.RequestPayout(ctx, payoutInput(id, 20))
	require.NoError(t, err)
	done, err := f.svc.Complete(ctx, payout.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PayoutStatusCompleted, done.Status)

	_, err = f.svc.Fail(ctx, payout.ID, "late bounce")
	require.Error(t, err)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeInvalidState))
	assert.True(t, f.available(t, id).IsZero())
}

func TestSettleOlderThan(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.fundedAccount(t, 100)

	var ids []uuid.UUID
	for _, amount := range []int64{10, 20, 30} {
		payout, err := f.svc.RequestPayout(ctx, payoutInput(id, amount))
		require.NoError(t, err)
		ids = append(ids, payout.ID)
	}
	_, err := f.svc.Fail(ctx, ids[1], "bounced")
	require.NoError(t, err)

	settled, err := f.svc.SettleOlderThan(ctx, time.Now().UTC().Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, settled)

	settled, err = f.svc.SettleOlderThan(ctx, time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, settled)

	completed := enums.PayoutStatusCompleted
	payouts, err := f.svc.List(ctx, &completed, 0)
	require.NoError(t, err)
	assert.Len(t, payouts, 2)

	pending := enums.PayoutStatusPending
	payouts, err = f.svc.List(ctx, &pending, 0)
	require.NoError(t, err)
	assert.Empty(t, payouts)
}

func TestNewReferenceCodeIsUnique(t *testing.T) {
	seen := map[string]struct{}{}
	for i := 0; i < 100; i++ {
		code := NewReferenceCode()
		_, dup := seen[code]
		require.False(t, dup)
		seen[code] = struct{}{}
		assert.Len(t, code, len("PO-")+26)
	}
}
