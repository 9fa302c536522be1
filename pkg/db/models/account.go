package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Account is the wallet owned by a single marketplace user.
type Account struct {
	ID        uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	Email     *string         `gorm:"column:email"`
	Available decimal.Decimal `gorm:"column:available;type:numeric(14,2);not null"`
	Escrow    decimal.Decimal `gorm:"column:escrow;type:numeric(14,2);not null"`
	Credits   int64           `gorm:"column:credits;not null"`
	Version   int64           `gorm:"column:version;not null"`
	CreatedAt time.Time       `gorm:"column:created_at"`
	UpdatedAt time.Time       `gorm:"column:updated_at"`
}
