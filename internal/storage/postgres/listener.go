package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/sdk/zctx"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// CatalogChannel is the notification channel fed by the catalog triggers.
const CatalogChannel = "catalog_changed"

// Invalidator is notified when the watched data changes.
type Invalidator interface {
	Invalidate()
}

// CatalogListener holds a dedicated connection listening on CatalogChannel
// and invalidates the catalog cache on every notification.
type CatalogListener struct {
	pool  *pgxpool.Pool
	inv   Invalidator
	retry time.Duration
}

// NewCatalogListener creates a listener. Lost connections are re-established
// after retry.
func NewCatalogListener(pool *pgxpool.Pool, inv Invalidator, retry time.Duration) *CatalogListener {
	if retry <= 0 {
		retry = time.Second
	}
	return &CatalogListener{pool: pool, inv: inv, retry: retry}
}

// Run listens until ctx is done.
func (l *CatalogListener) Run(ctx context.Context) error {
	lg := zctx.From(ctx)
	for {
		err := l.listen(ctx)
		if ctx.Err() != nil {
			return nil
		}
		// Changes may have been missed while disconnected.
		l.inv.Invalidate()
		lg.Warn("Catalog listener disconnected", zap.Error(err), zap.Duration("retry", l.retry))

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(l.retry):
		}
	}
}

func (l *CatalogListener) listen(ctx context.Context) error {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquiring listener connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+CatalogChannel); err != nil {
		return fmt.Errorf("listening on %s: %w", CatalogChannel, err)
	}
	l.inv.Invalidate()

	lg := zctx.From(ctx)
	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("waiting for notification: %w", err)
		}
		lg.Debug("Catalog changed", zap.String("table", n.Payload))
		l.inv.Invalidate()
	}
}
