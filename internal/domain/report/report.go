// Package report computes profit reports over stored orders.
package report

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/labdesk/internal/domain/catalog"
	"github.com/xenking/labdesk/internal/domain/order"
	"github.com/xenking/labdesk/internal/domain/pricing"
)

// OrderLister loads orders for reporting.
type OrderLister interface {
	List(ctx context.Context, f order.ListFilter) ([]order.Order, error)
}

// CatalogSource provides the current catalog snapshot.
type CatalogSource interface {
	Snapshot(ctx context.Context) (*catalog.Snapshot, error)
}

// Period bounds a report by order creation time.
type Period struct {
	From time.Time
	To   time.Time
}

// Service builds profit reports.
type Service struct {
	orders  OrderLister
	catalog CatalogSource

	unresolved metric.Int64Counter
	backfilled metric.Int64Counter
}

// NewService creates a report Service. A nil meter provider disables metrics.
func NewService(orders OrderLister, cat CatalogSource, mp metric.MeterProvider) (*Service, error) {
	if mp == nil {
		mp = metricnoop.NewMeterProvider()
	}
	meter := mp.Meter("github.com/xenking/labdesk/internal/domain/report")

	unresolved, err := meter.Int64Counter("labdesk.report.unresolved_codes",
		metric.WithDescription("Codes that contributed zero cost because they are missing from the catalog"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "unresolved_codes counter")
	}
	backfilled, err := meter.Int64Counter("labdesk.report.backfilled_lines",
		metric.WithDescription("Line items costed from the current catalog"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "backfilled_lines counter")
	}

	return &Service{
		orders:     orders,
		catalog:    cat,
		unresolved: unresolved,
		backfilled: backfilled,
	}, nil
}

// Profit runs the cost backfill over orders in p and aggregates by mode.
func (s *Service) Profit(ctx context.Context, p Period, mode pricing.Mode) (*pricing.ProfitReport, error) {
	billed, snap, err := s.load(ctx, p)
	if err != nil {
		return nil, err
	}

	r, err := pricing.BackfillProfit(billed, snap, mode)
	if err != nil {
		return nil, err
	}

	attrs := metric.WithAttributes(attribute.String("mode", string(mode)))
	s.backfilled.Add(ctx, int64(r.Backfilled), attrs)
	if len(r.Unresolved) > 0 {
		s.unresolved.Add(ctx, int64(len(r.Unresolved)), attrs)
		zctx.From(ctx).Warn("Profit report has codes missing from catalog",
			zap.String("mode", string(mode)),
			zap.Strings("codes", r.Unresolved),
		)
	}
	zctx.From(ctx).Debug("Profit report computed",
		zap.String("mode", string(mode)),
		zap.Int("orders", len(billed)),
		zap.Int("backfilled", r.Backfilled),
	)
	return &r, nil
}

// Dashboard returns the approximate gross profit shown on the dashboard.
func (s *Service) Dashboard(ctx context.Context, p Period) (*pricing.DashboardEstimate, error) {
	orders, err := s.orders.List(ctx, order.ListFilter{From: p.From, To: p.To})
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	e := pricing.ApproximateDashboard(billedOrders(orders))
	return &e, nil
}

func (s *Service) load(ctx context.Context, p Period) ([]pricing.BilledOrder, *catalog.Snapshot, error) {
	var (
		orders []order.Order
		snap   *catalog.Snapshot
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if orders, err = s.orders.List(gctx, order.ListFilter{From: p.From, To: p.To}); err != nil {
			return errors.Wrap(err, "list orders")
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if snap, err = s.catalog.Snapshot(gctx); err != nil {
			return errors.Wrap(err, "load catalog")
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return billedOrders(orders), snap, nil
}

func billedOrders(orders []order.Order) []pricing.BilledOrder {
	out := make([]pricing.BilledOrder, len(orders))
	for i := range orders {
		out[i] = orders[i].Billed()
	}
	return out
}
