package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/unimart-backend/internal/accounts"
	dbpkg "github.com/angelmondragon/unimart-backend/pkg/db"
	"github.com/angelmondragon/unimart-backend/pkg/db/models"
	"github.com/angelmondragon/unimart-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/unimart-backend/pkg/errors"
	"github.com/angelmondragon/unimart-backend/pkg/logger"
	"github.com/angelmondragon/unimart-backend/pkg/metrics"
	"github.com/angelmondragon/unimart-backend/pkg/pagination"
)

const (
	defaultMaxRetries = 3
	moneyScale        = 2
)

// maxAmount is the first value numeric(14,2) columns cannot hold.
var maxAmount = decimal.New(1, 12)

// Posting is one signed delta against one bucket of one account.
type Posting struct {
	AccountID         uuid.UUID
	Bucket            enums.BalanceBucket
	Kind              enums.JournalEntryKind
	Amount            decimal.Decimal
	ExternalReference *string
	TransactionID     *uuid.UUID
	Metadata          json.RawMessage
}

// StatementPage is one page of an account statement.
type StatementPage struct {
	Entries    []models.JournalEntry
	NextCursor string
}

// Journal is the single writer of balance deltas.
type Journal interface {
	// Run executes fn in one database transaction while holding the in-process
	// locks for accountIDs. fn is retried when a balance version conflict is detected.
	Run(ctx context.Context, accountIDs []uuid.UUID, fn func(tx *gorm.DB) error) error
	// Append applies every posting inside tx. Either all postings apply or none do.
	Append(ctx context.Context, tx *gorm.DB, postings ...Posting) ([]models.JournalEntry, error)
	// AppendEntry runs a single posting in its own locked transaction.
	AppendEntry(ctx context.Context, posting Posting) (*models.JournalEntry, error)
	// Statement pages through an account's entries newest first.
	Statement(ctx context.Context, accountID uuid.UUID, params pagination.Params) (*StatementPage, error)
	FindByReference(ctx context.Context, reference string) (*models.JournalEntry, error)
	// Sum returns the signed sum of every available and escrow entry for the account.
	Sum(ctx context.Context, accountID uuid.UUID) (decimal.Decimal, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// JournalParams wires the journal.
type JournalParams struct {
	TxRunner   txRunner
	Accounts   accounts.Repository
	Entries    Repository
	Locker     *Locker
	MaxRetries int
	Logger     *logger.Logger
	Metrics    *metrics.LedgerMetrics
}

type journal struct {
	tx         txRunner
	accounts   accounts.Repository
	entries    Repository
	locker     *Locker
	maxRetries int
	logg       *logger.Logger
	metrics    *metrics.LedgerMetrics
}

// NewJournal validates params and builds the journal.
func NewJournal(params JournalParams) (Journal, error) {
	if params.TxRunner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Accounts == nil {
		return nil, fmt.Errorf("accounts repository required")
	}
	if params.Entries == nil {
		return nil, fmt.Errorf("journal repository required")
	}
	locker := params.Locker
	if locker == nil {
		locker = NewLocker(defaultLockStripes)
	}
	retries := params.MaxRetries
	if retries <= 0 {
		retries = defaultMaxRetries
	}
	return &journal{
		tx:         params.TxRunner,
		accounts:   params.Accounts,
		entries:    params.Entries,
		locker:     locker,
		maxRetries: retries,
		logg:       params.Logger,
		metrics:    params.Metrics,
	}, nil
}

func (j *journal) Run(ctx context.Context, accountIDs []uuid.UUID, fn func(tx *gorm.DB) error) error {
	unlock := j.locker.Lock(accountIDs...)
	defer unlock()

	var err error
	for attempt := 0; attempt <= j.maxRetries; attempt++ {
		err = j.tx.WithTx(ctx, fn)
		if !errors.Is(err, errVersionConflict) {
			return err
		}
		j.metrics.IncConflict()
		if j.logg != nil {
			logCtx := j.logg.WithField(ctx, "attempt", attempt+1)
			j.logg.Warn(logCtx, "ledger version conflict, retrying")
		}
	}
	return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "account is busy, retry the request")
}

func (j *journal) Append(ctx context.Context, tx *gorm.DB, postings ...Posting) ([]models.JournalEntry, error) {
	entries, err := j.append(ctx, tx, postings)
	if err != nil {
		if typed := pkgerrors.As(err); typed != nil {
			j.metrics.IncRejection(string(typed.Code()))
		}
		return nil, err
	}
	for _, entry := range entries {
		j.metrics.IncPosting(string(entry.Kind), string(entry.Bucket))
	}
	return entries, nil
}

func (j *journal) append(ctx context.Context, tx *gorm.DB, postings []Posting) ([]models.JournalEntry, error) {
	if tx == nil {
		return nil, errors.New("transaction required")
	}
	if len(postings) == 0 {
		return nil, invalidAmount("at least one posting is required")
	}

	accountRepo := j.accounts.WithTx(tx)
	entryRepo := j.entries.WithTx(tx)
	postings = slices.Clone(postings)

	for _, posting := range postings {
		if err := validatePosting(posting); err != nil {
			return nil, err
		}
	}

	references := make(map[string]struct{}, len(postings))
	for i := range postings {
		ref := normalizedReference(postings[i].ExternalReference)
		if ref == "" {
			postings[i].ExternalReference = nil
			continue
		}
		if _, dup := references[ref]; dup {
			return nil, duplicateReference(ref)
		}
		exists, err := entryRepo.ReferenceExists(ctx, ref)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check external reference")
		}
		if exists {
			return nil, duplicateReference(ref)
		}
		references[ref] = struct{}{}
		postings[i].ExternalReference = &ref
	}

	order := rowLockOrder(postings)
	loaded := make(map[uuid.UUID]*models.Account, len(order))
	versions := make(map[uuid.UUID]int64, len(order))
	for _, id := range order {
		account, err := accountRepo.FindByIDForUpdate(ctx, id)
		if err != nil {
			if dbpkg.IsNotFound(err) {
				return nil, accountNotFound(id)
			}
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load account")
		}
		loaded[id] = account
		versions[id] = account.Version
	}

	entries := make([]models.JournalEntry, 0, len(postings))
	for _, posting := range postings {
		after, err := applyPosting(loaded[posting.AccountID], posting)
		if err != nil {
			return nil, err
		}
		if after.Abs().GreaterThanOrEqual(maxAmount) {
			return nil, invalidAmount("resulting balance exceeds the supported range")
		}

		entries = append(entries, models.JournalEntry{
			ID:                uuid.New(),
			AccountID:         posting.AccountID,
			Kind:              posting.Kind,
			Bucket:            posting.Bucket,
			Amount:            posting.Amount,
			BalanceAfter:      after,
			ExternalReference: posting.ExternalReference,
			TransactionID:     posting.TransactionID,
			Metadata:          posting.Metadata,
			CreatedAt:         time.Now().UTC(),
		})
	}

	for _, id := range order {
		swapped, err := accountRepo.CompareAndSwapBalances(ctx, loaded[id], versions[id])
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update balances")
		}
		if !swapped {
			return nil, errVersionConflict
		}
	}

	if err := entryRepo.CreateEntries(ctx, entries); err != nil {
		if dbpkg.IsUniqueViolation(err, "") {
			ref := ""
			for r := range references {
				ref = r
			}
			return nil, duplicateReference(ref)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert journal entries")
	}

	if j.logg != nil {
		for _, entry := range entries {
			logCtx := j.logg.WithAccountID(ctx, entry.AccountID.String())
			logCtx = j.logg.WithFields(logCtx, map[string]any{
				"kind":   entry.Kind,
				"bucket": entry.Bucket,
				"amount": entry.Amount.String(),
			})
			j.logg.Debug(logCtx, "journal entry appended")
		}
	}
	return entries, nil
}

func (j *journal) AppendEntry(ctx context.Context, posting Posting) (*models.JournalEntry, error) {
	var entry models.JournalEntry
	err := j.Run(ctx, []uuid.UUID{posting.AccountID}, func(tx *gorm.DB) error {
		entries, err := j.Append(ctx, tx, posting)
		if err != nil {
			return err
		}
		entry = entries[0]
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (j *journal) Statement(ctx context.Context, accountID uuid.UUID, params pagination.Params) (*StatementPage, error) {
	if accountID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account id is required")
	}
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, err := j.entries.ListPage(ctx, accountID, cursor, pagination.LimitWithBuffer(params.Limit))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list journal entries")
	}
	page := pagination.BuildPage(rows, params.Limit, func(e models.JournalEntry) pagination.Cursor {
		return pagination.Cursor{CreatedAt: e.CreatedAt, ID: e.ID}
	})
	return &StatementPage{Entries: page.Items, NextCursor: page.NextCursor}, nil
}

func (j *journal) FindByReference(ctx context.Context, reference string) (*models.JournalEntry, error) {
	ref := strings.TrimSpace(reference)
	if ref == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "external reference is required")
	}
	entry, err := j.entries.FindByReference(ctx, ref)
	if err != nil {
		if dbpkg.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "journal entry not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load journal entry")
	}
	return entry, nil
}

func (j *journal) Sum(ctx context.Context, accountID uuid.UUID) (decimal.Decimal, error) {
	amounts, err := j.entries.MonetaryAmounts(ctx, accountID)
	if err != nil {
		return decimal.Zero, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sum journal entries")
	}
	return decimal.Sum(decimal.Zero, amounts...), nil
}

// rowLockOrder returns the distinct accounts of postings in ascending id order.
// Every transaction takes its FOR UPDATE row locks in this order, so two
// processes resolving A→B and B→A cannot deadlock in the database.
func rowLockOrder(postings []Posting) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(postings))
	ids := make([]uuid.UUID, 0, len(postings))
	for _, p := range postings {
		if _, ok := seen[p.AccountID]; ok {
			continue
		}
		seen[p.AccountID] = struct{}{}
		ids = append(ids, p.AccountID)
	}
	slices.SortFunc(ids, func(a, b uuid.UUID) int { return bytes.Compare(a[:], b[:]) })
	return ids
}

func validatePosting(p Posting) error {
	if p.AccountID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "posting account id is required")
	}
	if !p.Bucket.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid balance bucket %q", p.Bucket))
	}
	if !p.Kind.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid journal entry kind %q", p.Kind))
	}
	if p.Amount.IsZero() {
		return invalidAmount("posting amount must be non-zero")
	}
	if p.Amount.Abs().GreaterThanOrEqual(maxAmount) {
		return invalidAmount("amount exceeds the supported range")
	}
	if p.Bucket.IsMonetary() {
		if !p.Amount.Equal(p.Amount.Round(moneyScale)) {
			return invalidAmount("amount must have at most two decimal places")
		}
	} else if !p.Amount.IsInteger() {
		return invalidAmount("credits must be whole numbers")
	}
	return nil
}

// applyPosting mutates the in-memory account and returns the bucket balance after the delta.
func applyPosting(account *models.Account, p Posting) (decimal.Decimal, error) {
	switch p.Bucket {
	case enums.BalanceBucketAvailable:
		next := account.Available.Add(p.Amount)
		if next.IsNegative() {
			return decimal.Zero, insufficientFunds(account.ID, p.Bucket, account.Available, p.Amount)
		}
		account.Available = next
		return next, nil
	case enums.BalanceBucketEscrow:
		next := account.Escrow.Add(p.Amount)
		if next.IsNegative() {
			return decimal.Zero, insufficientFunds(account.ID, p.Bucket, account.Escrow, p.Amount)
		}
		account.Escrow = next
		return next, nil
	case enums.BalanceBucketCredits:
		next := account.Credits + p.Amount.IntPart()
		if next < 0 {
			return decimal.Zero, insufficientFunds(account.ID, p.Bucket, decimal.NewFromInt(account.Credits), p.Amount)
		}
		account.Credits = next
		return decimal.NewFromInt(next), nil
	default:
		return decimal.Zero, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid balance bucket %q", p.Bucket))
	}
}

func normalizedReference(ref *string) string {
	if ref == nil {
		return ""
	}
	return strings.TrimSpace(*ref)
}
