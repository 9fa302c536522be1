// Package dbtest opens isolated sqlite databases carrying the wallet schema for repository tests.
package dbtest

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var schema = []string{
	`CREATE TABLE accounts (
  id TEXT PRIMARY KEY,
  email TEXT,
  available TEXT NOT NULL DEFAULT '0',
  escrow TEXT NOT NULL DEFAULT '0',
  credits INTEGER NOT NULL DEFAULT 0,
  version INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME NOT NULL,
  updated_at DATETIME NOT NULL
);`,
	`CREATE UNIQUE INDEX ux_accounts_email ON accounts(email);`,
	`CREATE TABLE journal_entries (
  id TEXT PRIMARY KEY,
  account_id TEXT NOT NULL REFERENCES accounts(id),
  kind TEXT NOT NULL,
  bucket TEXT NOT NULL,
  amount TEXT NOT NULL,
  balance_after TEXT NOT NULL,
  external_reference TEXT,
  transaction_id TEXT,
  metadata BLOB,
  created_at DATETIME NOT NULL
);`,
	`CREATE UNIQUE INDEX ux_journal_entries_external_reference ON journal_entries(external_reference) WHERE external_reference IS NOT NULL;`,
	`CREATE INDEX ix_journal_entries_account ON journal_entries(account_id, created_at);`,
	`CREATE TABLE escrow_holds (
  id TEXT PRIMARY KEY,
  source_account_id TEXT NOT NULL REFERENCES accounts(id),
  beneficiary_account_id TEXT NOT NULL REFERENCES accounts(id),
  amount TEXT NOT NULL,
  status TEXT NOT NULL,
  transaction_id TEXT NOT NULL,
  created_at DATETIME NOT NULL,
  updated_at DATETIME NOT NULL,
  resolved_at DATETIME
);`,
	`CREATE TABLE payout_requests (
  id TEXT PRIMARY KEY,
  account_id TEXT NOT NULL REFERENCES accounts(id),
  amount TEXT NOT NULL,
  channel TEXT NOT NULL,
  destination TEXT NOT NULL,
  reference_code TEXT NOT NULL,
  status TEXT NOT NULL,
  failure_reason TEXT,
  created_at DATETIME NOT NULL,
  updated_at DATETIME NOT NULL,
  resolved_at DATETIME
);`,
	`CREATE UNIQUE INDEX ux_payout_requests_reference_code ON payout_requests(reference_code);`,
	`CREATE TABLE credit_grants (
  id TEXT PRIMARY KEY,
  account_id TEXT NOT NULL REFERENCES accounts(id),
  credits INTEGER NOT NULL,
  payment_amount TEXT NOT NULL,
  source TEXT NOT NULL,
  external_reference TEXT NOT NULL,
  created_at DATETIME NOT NULL
);`,
	`CREATE UNIQUE INDEX ux_credit_grants_external_reference ON credit_grants(external_reference);`,
	`CREATE TABLE outbox_events (
  id TEXT PRIMARY KEY,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload BLOB NOT NULL,
  created_at DATETIME NOT NULL,
  published_at DATETIME,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  last_error TEXT
);`,
	`CREATE TABLE outbox_dlq (
  id TEXT PRIMARY KEY,
  event_id TEXT NOT NULL,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload_json BLOB NOT NULL,
  error_reason TEXT NOT NULL,
  error_message TEXT,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  failed_at DATETIME NOT NULL,
  created_at DATETIME NOT NULL
);`,
}

// Open returns a fresh in-memory database with the wallet schema applied.
// Each call gets its own database so tests can run in parallel.
func Open(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)

	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range schema {
		require.NoError(t, conn.Exec(stmt).Error)
	}
	return conn
}
