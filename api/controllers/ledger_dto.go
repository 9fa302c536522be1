package controllers

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/unimart-backend/internal/accounts"
	"github.com/angelmondragon/unimart-backend/pkg/db/models"
	"github.com/angelmondragon/unimart-backend/pkg/enums"
)

// Amounts are rendered as two-decimal strings so clients never see float rounding.

type balanceResponse struct {
	AccountID uuid.UUID `json:"account_id"`
	Available string    `json:"available"`
	Escrow    string    `json:"escrow"`
	Credits   int64     `json:"credits"`
}

type adminBalanceResponse struct {
	balanceResponse
	JournalSum string `json:"journal_sum"`
	Reconciled bool   `json:"reconciled"`
}

func balanceResponseFrom(b *accounts.Balance) balanceResponse {
	return balanceResponse{
		AccountID: b.AccountID,
		Available: b.Available.StringFixed(2),
		Escrow:    b.Escrow.StringFixed(2),
		Credits:   b.Credits,
	}
}

type entryResponse struct {
	ID                uuid.UUID              `json:"id"`
	Kind              enums.JournalEntryKind `json:"kind"`
	Bucket            enums.BalanceBucket    `json:"bucket"`
	Amount            string                 `json:"amount"`
	BalanceAfter      string                 `json:"balance_after"`
	ExternalReference *string                `json:"external_reference,omitempty"`
	TransactionID     *uuid.UUID             `json:"transaction_id,omitempty"`
	CreatedAt         time.Time              `json:"created_at"`
}

func entryResponseFrom(e *models.JournalEntry) entryResponse {
	amount := e.Amount.StringFixed(2)
	after := e.BalanceAfter.StringFixed(2)
	if e.Bucket == enums.BalanceBucketCredits {
		amount = e.Amount.StringFixed(0)
		after = e.BalanceAfter.StringFixed(0)
	}
	return entryResponse{
		ID:                e.ID,
		Kind:              e.Kind,
		Bucket:            e.Bucket,
		Amount:            amount,
		BalanceAfter:      after,
		ExternalReference: e.ExternalReference,
		TransactionID:     e.TransactionID,
		CreatedAt:         e.CreatedAt,
	}
}

func entryResponsesFrom(entries []models.JournalEntry) []entryResponse {
	out := make([]entryResponse, 0, len(entries))
	for i := range entries {
		out = append(out, entryResponseFrom(&entries[i]))
	}
	return out
}

type holdResponse struct {
	ID                   uuid.UUID              `json:"id"`
	SourceAccountID      uuid.UUID              `json:"source_account_id"`
	BeneficiaryAccountID uuid.UUID              `json:"beneficiary_account_id"`
	TransactionID        uuid.UUID              `json:"transaction_id"`
	Amount               string                 `json:"amount"`
	Status               enums.EscrowHoldStatus `json:"status"`
	CreatedAt            time.Time              `json:"created_at"`
	ResolvedAt           *time.Time             `json:"resolved_at,omitempty"`
}

func holdResponseFrom(h *models.EscrowHold) holdResponse {
	return holdResponse{
		ID:                   h.ID,
		SourceAccountID:      h.SourceAccountID,
		BeneficiaryAccountID: h.BeneficiaryAccountID,
		TransactionID:        h.TransactionID,
		Amount:               h.Amount.StringFixed(2),
		Status:               h.Status,
		CreatedAt:            h.CreatedAt,
		ResolvedAt:           h.ResolvedAt,
	}
}

func holdResponsesFrom(holds []models.EscrowHold) []holdResponse {
	out := make([]holdResponse, 0, len(holds))
	for i := range holds {
		out = append(out, holdResponseFrom(&holds[i]))
	}
	return out
}

type payoutResponse struct {
	ID            uuid.UUID            `json:"id"`
	AccountID     uuid.UUID            `json:"account_id"`
	Amount        string               `json:"amount"`
	Channel       enums.PaymentChannel `json:"channel"`
	Destination   string               `json:"destination"`
	ReferenceCode string               `json:"reference_code"`
	Status        enums.PayoutStatus   `json:"status"`
	FailureReason *string              `json:"failure_reason,omitempty"`
	CreatedAt     time.Time            `json:"created_at"`
	ResolvedAt    *time.Time           `json:"resolved_at,omitempty"`
}

func payoutResponseFrom(p *models.PayoutRequest) payoutResponse {
	return payoutResponse{
		ID:            p.ID,
		AccountID:     p.AccountID,
		Amount:        p.Amount.StringFixed(2),
		Channel:       p.Channel,
		Destination:   p.Destination,
		ReferenceCode: p.ReferenceCode,
		Status:        p.Status,
		FailureReason: p.FailureReason,
		CreatedAt:     p.CreatedAt,
		ResolvedAt:    p.ResolvedAt,
	}
}

func payoutResponsesFrom(payouts []models.PayoutRequest) []payoutResponse {
	out := make([]payoutResponse, 0, len(payouts))
	for i := range payouts {
		out = append(out, payoutResponseFrom(&payouts[i]))
	}
	return out
}

type grantResponse struct {
	ID                uuid.UUID            `json:"id"`
	AccountID         uuid.UUID            `json:"account_id"`
	Credits           int64                `json:"credits"`
	PaymentAmount     string               `json:"payment_amount"`
	Source            enums.PaymentChannel `json:"source"`
	ExternalReference string               `json:"external_reference"`
	CreatedAt         time.Time            `json:"created_at"`
}

func grantResponseFrom(g *models.CreditGrant) grantResponse {
	return grantResponse{
		ID:                g.ID,
		AccountID:         g.AccountID,
		Credits:           g.Credits,
		PaymentAmount:     g.PaymentAmount.StringFixed(2),
		Source:            g.Source,
		ExternalReference: g.ExternalReference,
		CreatedAt:         g.CreatedAt,
	}
}

func grantResponsesFrom(grants []models.CreditGrant) []grantResponse {
	out := make([]grantResponse, 0, len(grants))
	for i := range grants {
		out = append(out, grantResponseFrom(&grants[i]))
	}
	return out
}

type statementResponse struct {
	Entries    []entryResponse `json:"entries"`
	NextCursor string          `json:"next_cursor,omitempty"`
}
