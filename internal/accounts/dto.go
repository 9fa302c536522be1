package accounts

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/unimart-backend/pkg/db/models"
)

// Balance is the point-in-time view of an account's three buckets.
type Balance struct {
	AccountID uuid.UUID       `json:"account_id"`
	Available decimal.Decimal `json:"available"`
	Escrow    decimal.Decimal `json:"escrow"`
	Credits   int64           `json:"credits"`
}

// BalanceFromModel projects an account row into a Balance.
func BalanceFromModel(account *models.Account) Balance {
	return Balance{
		AccountID: account.ID,
		Available: account.Available,
		Escrow:    account.Escrow,
		Credits:   account.Credits,
	}
}
