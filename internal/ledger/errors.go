package ledger

import (
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/unimart-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/unimart-backend/pkg/errors"
)

// errVersionConflict signals that an account row changed between read and write.
// Run retries the whole unit of work when it sees this error.
var errVersionConflict = errors.New("ledger: account version conflict")

func insufficientFunds(accountID uuid.UUID, bucket enums.BalanceBucket, balance, delta decimal.Decimal) error {
	return pkgerrors.New(pkgerrors.CodeInsufficientFunds, "insufficient funds").WithDetails(map[string]any{
		"account_id": accountID.String(),
		"bucket":     bucket,
		"balance":    balance.StringFixed(2),
		"requested":  delta.Neg().StringFixed(2),
	})
}

func duplicateReference(reference string) error {
	return pkgerrors.New(pkgerrors.CodeDuplicateReference, "external reference already recorded").WithDetails(map[string]any{
		"external_reference": reference,
	})
}

func invalidAmount(message string) error {
	return pkgerrors.New(pkgerrors.CodeInvalidAmount, message)
}

func accountNotFound(accountID uuid.UUID) error {
	return pkgerrors.New(pkgerrors.CodeNotFound, "account not found").WithDetails(map[string]any{
		"account_id": accountID.String(),
	})
}
