package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/unimart-backend/pkg/enums"
)

// CreditGrant records posting credits bought through an external payment.
// ExternalReference is unique; at most one grant exists per payment.
type CreditGrant struct {
	ID                uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	AccountID         uuid.UUID            `gorm:"column:account_id;type:uuid;not null"`
	Credits           int64                `gorm:"column:credits;not null"`
	PaymentAmount     decimal.Decimal      `gorm:"column:payment_amount;type:numeric(14,2);not null"`
	Source            enums.PaymentChannel `gorm:"column:source;not null"`
	ExternalReference string               `gorm:"column:external_reference;not null"`
	CreatedAt         time.Time            `gorm:"column:created_at"`
}
