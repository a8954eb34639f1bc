package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/labdesk/internal/domain/pricing"
)

// Repository errors.
var (
	ErrNotFound = errors.New("order not found")
	// ErrConflict is returned when an update lost a race against another
	// writer of the same order.
	ErrConflict = errors.New("order was modified concurrently")
	// ErrIDCollision is returned when a freshly generated order ID is
	// already taken.
	ErrIDCollision = errors.New("order id already exists")
)

// Status is the processing state of an order.
type Status string

const (
	StatusPending    Status = "pending"
	StatusCollected  Status = "collected"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusCollected, StatusProcessing, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are allowed from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// next is the forward path of the lifecycle.
var next = map[Status]Status{
	StatusPending:    StatusCollected,
	StatusCollected:  StatusProcessing,
	StatusProcessing: StatusCompleted,
}

// CanTransition reports whether an order may move from s to to.
func (s Status) CanTransition(to Status) bool {
	if s.Terminal() {
		return false
	}
	if to == StatusCancelled {
		return true
	}
	return next[s] == to
}

// Order is a priced diagnostics order. Line prices and costs are frozen at
// creation and only replaced by an explicit edit.
type Order struct {
	ID          string
	PatientID   string
	PatientName string
	ReferralID  string
	Lines       []pricing.LineItem

	Subtotal             decimal.Decimal
	HomeCollectionCharge decimal.Decimal
	Discount             decimal.Decimal
	TotalAmount          decimal.Decimal
	AdvancePaid          decimal.Decimal
	BalanceDue           decimal.Decimal
	PaymentStatus        pricing.PaymentStatus

	Status           Status
	ExpectedReportAt time.Time
	CreatedBy        string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	// Version is bumped by every successful update.
	Version int64
}

// Billed returns the view of o used by profit reporting.
func (o *Order) Billed() pricing.BilledOrder {
	return pricing.BilledOrder{
		ID:          o.ID,
		PatientName: o.PatientName,
		Cancelled:   o.Status == StatusCancelled,
		TotalAmount: o.TotalAmount,
		Lines:       o.Lines,
	}
}

// line returns the index of the line item with the given id or code.
func (o *Order) line(ref string) int {
	for i, li := range o.Lines {
		if li.ID == ref || li.Key() == ref {
			return i
		}
	}
	return -1
}

func (o *Order) apply(q pricing.Quote) {
	o.Lines = q.Lines
	o.Subtotal = q.Subtotal
	o.HomeCollectionCharge = q.HomeCollectionCharge
	o.Discount = q.Discount
	o.TotalAmount = q.Total
	o.AdvancePaid = q.AdvancePaid
	o.BalanceDue = q.BalanceDue
	o.PaymentStatus = q.PaymentStatus
}

// ListFilter narrows Repository.List. Zero values mean unbounded.
type ListFilter struct {
	From time.Time
	To   time.Time
}

// Repository defines persistence operations for orders.
type Repository interface {
	// Create inserts a new order with Version 1.
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	// Update stores o if the stored version still equals o.Version and
	// increments o.Version on success.
	Update(ctx context.Context, o *Order) error
	List(ctx context.Context, f ListFilter) ([]Order, error)
}

// SettingsRepository reads lab settings.
type SettingsRepository interface {
	// TATHours returns turnaround hours keyed by test category.
	TATHours(ctx context.Context) (map[string]int, error)
}

// Activity is one entry of the audit trail.
type Activity struct {
	ID      uuid.UUID
	ActorID string
	Action  string
	OrderID string
	Detail  string
	At      time.Time
}

// ActivityLog records the audit trail.
type ActivityLog interface {
	Record(ctx context.Context, a Activity) error
}
