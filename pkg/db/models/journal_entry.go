package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/unimart-backend/pkg/enums"
)

// JournalEntry is an immutable balance delta applied to one bucket of one account.
type JournalEntry struct {
	ID                uuid.UUID              `gorm:"column:id;type:uuid;primaryKey"`
	AccountID         uuid.UUID              `gorm:"column:account_id;type:uuid;not null"`
	Kind              enums.JournalEntryKind `gorm:"column:kind;type:journal_entry_kind_enum;not null"`
	Bucket            enums.BalanceBucket    `gorm:"column:bucket;type:balance_bucket_enum;not null"`
	Amount            decimal.Decimal        `gorm:"column:amount;type:numeric(14,2);not null"`
	BalanceAfter      decimal.Decimal        `gorm:"column:balance_after;type:numeric(14,2);not null"`
	ExternalReference *string                `gorm:"column:external_reference"`
	TransactionID     *uuid.UUID             `gorm:"column:transaction_id;type:uuid"`
	Metadata          json.RawMessage        `gorm:"column:metadata;type:jsonb"`
	CreatedAt         time.Time              `gorm:"column:created_at"`
}
