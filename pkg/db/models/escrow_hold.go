package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/unimart-backend/pkg/enums"
)

// EscrowHold tracks funds earmarked for a marketplace transaction.
type EscrowHold struct {
	ID                   uuid.UUID              `gorm:"column:id;type:uuid;primaryKey"`
	SourceAccountID      uuid.UUID              `gorm:"column:source_account_id;type:uuid;not null"`
	BeneficiaryAccountID uuid.UUID              `gorm:"column:beneficiary_account_id;type:uuid;not null"`
	Amount               decimal.Decimal        `gorm:"column:amount;type:numeric(14,2);not null"`
	Status               enums.EscrowHoldStatus `gorm:"column:status;type:escrow_hold_status_enum;not null"`
	TransactionID        uuid.UUID              `gorm:"column:transaction_id;type:uuid;not null"`
	CreatedAt            time.Time              `gorm:"column:created_at"`
	UpdatedAt            time.Time              `gorm:"column:updated_at"`
	ResolvedAt           *time.Time             `gorm:"column:resolved_at"`
}
