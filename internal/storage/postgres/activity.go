package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/labdesk/internal/domain/order"
)

const (
	insertActivitySQL = `INSERT INTO activity_logs (id, actor_id, action, order_id, detail, at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	listActivitySQL = `SELECT id, actor_id, action, order_id, detail, at
		FROM activity_logs WHERE order_id = $1 ORDER BY at, id`
)

var _ order.ActivityLog = (*ActivityRepository)(nil)

// ActivityRepository stores the audit trail.
type ActivityRepository struct {
	pool *pgxpool.Pool
}

// NewActivityRepository returns an ActivityRepository that uses the given pool.
func NewActivityRepository(pool *pgxpool.Pool) *ActivityRepository {
	return &ActivityRepository{pool: pool}
}

// Record appends an entry.
func (r *ActivityRepository) Record(ctx context.Context, a order.Activity) error {
	_, err := r.pool.Exec(ctx, insertActivitySQL, a.ID, a.ActorID, a.Action, a.OrderID, a.Detail, a.At)
	if err != nil {
		return fmt.Errorf("recording activity %s: %w", a.Action, err)
	}
	return nil
}

// ListByOrder returns the trail of one order, oldest first.
func (r *ActivityRepository) ListByOrder(ctx context.Context, orderID string) ([]order.Activity, error) {
	rows, err := r.pool.Query(ctx, listActivitySQL, orderID)
	if err != nil {
		return nil, fmt.Errorf("listing activity of %q: %w", orderID, err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (order.Activity, error) {
		var a order.Activity
		err := row.Scan(&a.ID, &a.ActorID, &a.Action, &a.OrderID, &a.Detail, &a.At)
		return a, err
	})
}
