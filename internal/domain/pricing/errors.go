package pricing

import (
	"fmt"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Sentinel errors for draft validation.
var (
	ErrNoPatient = errors.New("no patient selected")
	ErrNoTests   = errors.New("no tests selected")
)

// PaidBalanceError indicates an order marked Paid whose advance does not
// cover the total exactly.
type PaidBalanceError struct {
	Total       decimal.Decimal
	AdvancePaid decimal.Decimal
}

func (e *PaidBalanceError) Error() string {
	return fmt.Sprintf("payment status is Paid but advance %s does not equal total %s",
		e.AdvancePaid.StringFixed(2), e.Total.StringFixed(2))
}

// NegativeAmountError indicates a monetary input below zero.
type NegativeAmountError struct {
	Field string
	Value decimal.Decimal
}

func (e *NegativeAmountError) Error() string {
	return fmt.Sprintf("%s must not be negative, got %s", e.Field, e.Value)
}

// InvalidPaymentStatusError indicates an unknown payment status.
type InvalidPaymentStatusError struct {
	Status PaymentStatus
}

func (e *InvalidPaymentStatusError) Error() string {
	return fmt.Sprintf("invalid payment status %q", e.Status)
}

// UnknownKindError indicates a selected item that is neither a test nor a package.
type UnknownKindError struct {
	Index int
	Kind  Kind
}

func (e *UnknownKindError) Error() string {
	return fmt.Sprintf("item %d has unknown kind %q", e.Index, e.Kind)
}
