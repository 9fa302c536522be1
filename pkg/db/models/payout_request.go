package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/unimart-backend/pkg/enums"
)

// PayoutRequest is a withdrawal of available funds to an external rail.
type PayoutRequest struct {
	ID            uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	AccountID     uuid.UUID            `gorm:"column:account_id;type:uuid;not null"`
	Amount        decimal.Decimal      `gorm:"column:amount;type:numeric(14,2);not null"`
	Channel       enums.PaymentChannel `gorm:"column:channel;not null"`
	Destination   string               `gorm:"column:destination;not null"`
	ReferenceCode string               `gorm:"column:reference_code;not null"`
	Status        enums.PayoutStatus   `gorm:"column:status;type:payout_status_enum;not null"`
	FailureReason *string              `gorm:"column:failure_reason"`
	CreatedAt     time.Time            `gorm:"column:created_at"`
	UpdatedAt     time.Time            `gorm:"column:updated_at"`
	ResolvedAt    *time.Time           `gorm:"column:resolved_at"`
}
