package order

import (
	"fmt"

	"github.com/go-faster/errors"

	"github.com/xenking/labdesk/internal/domain/pricing"
)

// Validation errors.
var (
	ErrCancelled      = errors.New("order is cancelled")
	ErrNotOutsourced  = errors.New("line item has no partner lab assigned")
	ErrAlreadySettled = errors.New("line item is already settled")
)

// UnknownItemError indicates a selection that is not in the catalog.
type UnknownItemError struct {
	Kind pricing.Kind
	Ref  string
}

func (e *UnknownItemError) Error() string {
	return fmt.Sprintf("%s %q not found in catalog", e.Kind, e.Ref)
}

// DuplicateItemError indicates the same test or package was selected twice.
type DuplicateItemError struct {
	Ref string
}

func (e *DuplicateItemError) Error() string {
	return fmt.Sprintf("item %q selected more than once", e.Ref)
}

// LineNotFoundError indicates a line reference that is not on the order.
type LineNotFoundError struct {
	OrderID string
	Line    string
}

func (e *LineNotFoundError) Error() string {
	return fmt.Sprintf("order %s has no line %q", e.OrderID, e.Line)
}

// InvalidStatusError indicates an unknown status value.
type InvalidStatusError struct {
	Status Status
}

func (e *InvalidStatusError) Error() string {
	return fmt.Sprintf("invalid order status %q", e.Status)
}

// TransitionError indicates a status change the lifecycle does not allow.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot move order from %s to %s", e.From, e.To)
}
