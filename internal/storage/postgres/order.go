package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/labdesk/internal/domain/order"
	"github.com/xenking/labdesk/internal/domain/pricing"
)

const (
	orderColumns = `id, patient_id, patient_name, referral_id, tests,
		subtotal, home_collection_charge, discount, total_amount, advance_paid, balance_due,
		payment_status, status, expected_report_at, created_by, created_at, updated_at, version`

	createOrderSQL = `INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, 1)`

	getOrderSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	listOrdersSQL = `SELECT ` + orderColumns + ` FROM orders
		WHERE ($1::timestamptz IS NULL OR created_at >= $1)
		  AND ($2::timestamptz IS NULL OR created_at < $2)
		ORDER BY created_at, id`

	updateOrderSQL = `UPDATE orders SET
			patient_id = $2, patient_name = $3, referral_id = $4, tests = $5,
			subtotal = $6, home_collection_charge = $7, discount = $8, total_amount = $9,
			advance_paid = $10, balance_due = $11, payment_status = $12, status = $13,
			expected_report_at = $14, updated_at = $15, version = version + 1
		WHERE id = $1 AND version = $16`

	orderExistsSQL = `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create persists a new order. The line items are serialized to JSON for
// storage in the JSONB column. An existing order with the same id yields
// order.ErrIDCollision.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	linesJSON, err := json.Marshal(o.Lines)
	if err != nil {
		return fmt.Errorf("marshaling order lines: %w", err)
	}

	_, err = r.pool.Exec(ctx, createOrderSQL,
		o.ID, o.PatientID, o.PatientName, o.ReferralID, linesJSON,
		o.Subtotal, o.HomeCollectionCharge, o.Discount, o.TotalAmount, o.AdvancePaid, o.BalanceDue,
		string(o.PaymentStatus), string(o.Status), nullTime(o.ExpectedReportAt), o.CreatedBy, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.Wrapf(order.ErrIDCollision, "creating order %q", o.ID)
		}
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}
	o.Version = 1
	return nil
}

// Get returns the order with the given id or order.ErrNotFound.
func (r *OrderRepository) Get(ctx context.Context, id string) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, getOrderSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	return &o, nil
}

// Update writes o if its version is still current and bumps o.Version.
func (r *OrderRepository) Update(ctx context.Context, o *order.Order) error {
	linesJSON, err := json.Marshal(o.Lines)
	if err != nil {
		return fmt.Errorf("marshaling order lines: %w", err)
	}

	tag, err := r.pool.Exec(ctx, updateOrderSQL,
		o.ID, o.PatientID, o.PatientName, o.ReferralID, linesJSON,
		o.Subtotal, o.HomeCollectionCharge, o.Discount, o.TotalAmount,
		o.AdvancePaid, o.BalanceDue, string(o.PaymentStatus), string(o.Status),
		nullTime(o.ExpectedReportAt), o.UpdatedAt, o.Version,
	)
	if err != nil {
		return fmt.Errorf("updating order %q: %w", o.ID, err)
	}
	if tag.RowsAffected() == 1 {
		o.Version++
		return nil
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, orderExistsSQL, o.ID).Scan(&exists); err != nil {
		return fmt.Errorf("checking order %q: %w", o.ID, err)
	}
	if !exists {
		return order.ErrNotFound
	}
	return order.ErrConflict
}

// List returns orders created within the filter bounds, oldest first.
func (r *OrderRepository) List(ctx context.Context, f order.ListFilter) ([]order.Order, error) {
	rows, err := r.pool.Query(ctx, listOrdersSQL, nullTime(f.From), nullTime(f.To))
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	return pgx.CollectRows(rows, scanOrder)
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o              order.Order
		linesJSON      []byte
		paymentStatus  string
		status         string
		expectedReport *time.Time
	)
	err := row.Scan(
		&o.ID, &o.PatientID, &o.PatientName, &o.ReferralID, &linesJSON,
		&o.Subtotal, &o.HomeCollectionCharge, &o.Discount, &o.TotalAmount, &o.AdvancePaid, &o.BalanceDue,
		&paymentStatus, &status, &expectedReport, &o.CreatedBy, &o.CreatedAt, &o.UpdatedAt, &o.Version,
	)
	if err != nil {
		return o, err
	}
	if err := json.Unmarshal(linesJSON, &o.Lines); err != nil {
		return o, fmt.Errorf("unmarshaling lines of order %q: %w", o.ID, err)
	}
	if o.Lines == nil {
		o.Lines = []pricing.LineItem{}
	}
	o.PaymentStatus = pricing.PaymentStatus(paymentStatus)
	o.Status = order.Status(status)
	if expectedReport != nil {
		o.ExpectedReportAt = *expectedReport
	}
	return o, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
