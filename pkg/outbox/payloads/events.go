package payloads

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/unimart-backend/pkg/enums"
)

// AccountOpenedEvent announces a new wallet.
type AccountOpenedEvent struct {
	AccountID uuid.UUID `json:"account_id"`
	Email     *string   `json:"email,omitempty"`
}

// WalletCashedInEvent reports a gateway top-up credited to the available balance.
type WalletCashedInEvent struct {
	AccountID         uuid.UUID            `json:"account_id"`
	Amount            decimal.Decimal      `json:"amount"`
	Source            enums.PaymentChannel `json:"source"`
	ExternalReference string               `json:"external_reference"`
}

// EscrowHeldEvent is emitted when funds move into escrow for a transaction.
type EscrowHeldEvent struct {
	HoldID               uuid.UUID       `json:"hold_id"`
	SourceAccountID      uuid.UUID       `json:"source_account_id"`
	BeneficiaryAccountID uuid.UUID       `json:"beneficiary_account_id"`
	TransactionID        uuid.UUID       `json:"transaction_id"`
	Amount               decimal.Decimal `json:"amount"`
}

// EscrowResolvedEvent is emitted once per hold when it is released or reversed.
type EscrowResolvedEvent struct {
	HoldID               uuid.UUID              `json:"hold_id"`
	SourceAccountID      uuid.UUID              `json:"source_account_id"`
	BeneficiaryAccountID uuid.UUID              `json:"beneficiary_account_id"`
	TransactionID        uuid.UUID              `json:"transaction_id"`
	Amount               decimal.Decimal        `json:"amount"`
	Status               enums.EscrowHoldStatus `json:"status"`
	ResolvedAt           time.Time              `json:"resolved_at"`
}

// CreditsGrantedEvent is emitted once per external payment reference.
type CreditsGrantedEvent struct {
	GrantID           uuid.UUID            `json:"grant_id"`
	AccountID         uuid.UUID            `json:"account_id"`
	Credits           int64                `json:"credits"`
	PaymentAmount     decimal.Decimal      `json:"payment_amount"`
	Source            enums.PaymentChannel `json:"source"`
	ExternalReference string               `json:"external_reference"`
}

// PayoutEvent tracks a payout request through its lifecycle.
type PayoutEvent struct {
	PayoutID      uuid.UUID            `json:"payout_id"`
	AccountID     uuid.UUID            `json:"account_id"`
	Amount        decimal.Decimal      `json:"amount"`
	Channel       enums.PaymentChannel `json:"channel"`
	ReferenceCode string               `json:"reference_code"`
	Status        enums.PayoutStatus   `json:"status"`
	Reason        string               `json:"reason,omitempty"`
}
