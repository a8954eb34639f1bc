package order

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/labdesk/internal/domain/auth"
	"github.com/xenking/labdesk/internal/domain/catalog"
	"github.com/xenking/labdesk/internal/domain/pricing"
)

const instrumentationName = "github.com/xenking/labdesk/internal/domain/order"

// Selection references a catalog test (by id or code) or a package (by id).
type Selection struct {
	Kind pricing.Kind
	Ref  string
}

// PlaceOrderRequest holds the operator input for creating or editing an order.
type PlaceOrderRequest struct {
	PatientID   string
	PatientName string
	ReferralID  string
	Items       []Selection

	HomeCollectionCharge decimal.Decimal
	Discount             decimal.Decimal
	AdvancePaid          decimal.Decimal
	PaymentStatus        pricing.PaymentStatus
	SettleInFull         bool
}

// CatalogSource provides the current catalog snapshot.
type CatalogSource interface {
	Snapshot(ctx context.Context) (*catalog.Snapshot, error)
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDGenerator overrides the order ID generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(s *Service) { s.ids = g }
}

// WithTracerProvider sets the tracer provider. Defaults to a no-op provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) { s.tracerProvider = tp }
}

// WithMeterProvider sets the meter provider. Defaults to a no-op provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *Service) { s.meterProvider = mp }
}

// Service encapsulates order pricing and lifecycle logic.
type Service struct {
	catalog   CatalogSource
	referrals catalog.ReferralRepository
	orders    Repository
	settings  SettingsRepository
	activity  ActivityLog

	now            func() time.Time
	ids            IDGenerator
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	tracer  trace.Tracer
	created metric.Int64Counter
	updated metric.Int64Counter
}

// NewService creates an order Service with the required domain dependencies.
func NewService(
	cat CatalogSource,
	referrals catalog.ReferralRepository,
	orders Repository,
	settings SettingsRepository,
	activity ActivityLog,
	opts ...Option,
) (*Service, error) {
	s := &Service{
		catalog:        cat,
		referrals:      referrals,
		orders:         orders,
		settings:       settings,
		activity:       activity,
		now:            time.Now,
		ids:            RandomIDs{},
		tracerProvider: tracenoop.NewTracerProvider(),
		meterProvider:  metricnoop.NewMeterProvider(),
	}
	for _, o := range opts {
		o(s)
	}

	s.tracer = s.tracerProvider.Tracer(instrumentationName)
	meter := s.meterProvider.Meter(instrumentationName)

	var err error
	if s.created, err = meter.Int64Counter("labdesk.orders.created",
		metric.WithDescription("Orders created"),
	); err != nil {
		return nil, errors.Wrap(err, "orders.created counter")
	}
	if s.updated, err = meter.Int64Counter("labdesk.orders.updated",
		metric.WithDescription("Order mutations by action"),
	); err != nil {
		return nil, errors.Wrap(err, "orders.updated counter")
	}
	return s, nil
}

// Quote prices the request against the current catalog without persisting
// anything. The result may fail Validate; it is returned so the operator can
// see the computed totals.
func (s *Service) Quote(ctx context.Context, req PlaceOrderRequest) (*pricing.Quote, error) {
	ctx, span := s.tracer.Start(ctx, "order.Quote")
	defer span.End()

	q, _, err := s.price(ctx, req)
	if err != nil {
		return nil, err
	}
	return &q, nil
}

// Create prices, validates and stores a new order.
func (s *Service) Create(ctx context.Context, req PlaceOrderRequest) (*Order, error) {
	ctx, span := s.tracer.Start(ctx, "order.Create")
	defer span.End()

	q, snap, err := s.price(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}

	tat, err := s.settings.TATHours(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "get tat settings")
	}

	now := s.now()
	actor, _ := auth.FromContext(ctx)
	o := &Order{
		ID:          s.ids.NewID(now),
		PatientID:   strings.TrimSpace(req.PatientID),
		PatientName: strings.TrimSpace(req.PatientName),
		ReferralID:  req.ReferralID,
		Status:      StatusPending,
		CreatedBy:   actor.ID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	o.apply(q)
	o.ExpectedReportAt = ExpectedReportAt(now, o.Lines, snap, tat)

	if err := s.orders.Create(ctx, o); err != nil {
		return nil, errors.Wrap(err, "create order")
	}
	span.SetAttributes(attribute.String("order.id", o.ID))
	s.created.Add(ctx, 1)
	s.record(ctx, o.ID, "order.create", fmt.Sprintf("%d items, total %s", len(o.Lines), o.TotalAmount))

	return o, nil
}

// Get returns a stored order.
func (s *Service) Get(ctx context.Context, id string) (*Order, error) {
	o, err := s.orders.Get(ctx, id)
	if err != nil {
		return nil, errors.Wrapf(err, "get order %s", id)
	}
	return o, nil
}

// Edit re-prices an existing order from req and overwrites its line items
// and totals. Partner assignments and settlement flags carry over for lines
// that remain on the order.
func (s *Service) Edit(ctx context.Context, id string, req PlaceOrderRequest) (*Order, error) {
	ctx, span := s.tracer.Start(ctx, "order.Edit", trace.WithAttributes(attribute.String("order.id", id)))
	defer span.End()

	q, snap, err := s.price(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}
	tat, err := s.settings.TATHours(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "get tat settings")
	}

	return s.mutate(ctx, id, "order.edit", func(o *Order) (string, error) {
		if o.Status == StatusCancelled {
			return "", ErrCancelled
		}
		prev := make(map[string]pricing.LineItem, len(o.Lines))
		for _, li := range o.Lines {
			prev[li.Key()] = li
		}
		o.PatientID = strings.TrimSpace(req.PatientID)
		o.PatientName = strings.TrimSpace(req.PatientName)
		o.ReferralID = req.ReferralID
		o.apply(q)
		for i := range o.Lines {
			if p, ok := prev[o.Lines[i].Key()]; ok {
				o.Lines[i].Partner = p.Partner
				o.Lines[i].Settled = p.Settled
			}
		}
		o.ExpectedReportAt = ExpectedReportAt(o.CreatedAt, o.Lines, snap, tat)
		return fmt.Sprintf("repriced, total %s", o.TotalAmount), nil
	})
}

// UpdateStatus moves the order along its lifecycle.
func (s *Service) UpdateStatus(ctx context.Context, id string, to Status) (*Order, error) {
	if !to.Valid() {
		return nil, &InvalidStatusError{Status: to}
	}
	return s.mutate(ctx, id, "order.status", func(o *Order) (string, error) {
		if !o.Status.CanTransition(to) {
			return "", &TransitionError{From: o.Status, To: to}
		}
		from := o.Status
		o.Status = to
		return fmt.Sprintf("%s -> %s", from, to), nil
	})
}

// AssignPartner sets the outsourcing lab for one line item. An empty partner
// clears the assignment.
func (s *Service) AssignPartner(ctx context.Context, id, line, partner string) (*Order, error) {
	partner = strings.TrimSpace(partner)
	return s.mutate(ctx, id, "order.partner", func(o *Order) (string, error) {
		i, err := lineIndex(o, line)
		if err != nil {
			return "", err
		}
		if o.Lines[i].Settled {
			return "", ErrAlreadySettled
		}
		o.Lines[i].Partner = partner
		return fmt.Sprintf("%s -> %q", o.Lines[i].Key(), partner), nil
	})
}

// Settle marks an outsourced line item as settled with its partner lab.
func (s *Service) Settle(ctx context.Context, id, line string) (*Order, error) {
	return s.mutate(ctx, id, "order.settle", func(o *Order) (string, error) {
		i, err := lineIndex(o, line)
		if err != nil {
			return "", err
		}
		li := &o.Lines[i]
		if li.Partner == "" {
			return "", ErrNotOutsourced
		}
		if li.Settled {
			return "", ErrAlreadySettled
		}
		li.Settled = true
		return fmt.Sprintf("%s settled with %s", li.Key(), li.Partner), nil
	})
}

func lineIndex(o *Order, line string) (int, error) {
	if o.Status == StatusCancelled {
		return -1, ErrCancelled
	}
	i := o.line(line)
	if i < 0 {
		return -1, &LineNotFoundError{OrderID: o.ID, Line: line}
	}
	return i, nil
}

// mutate loads the order, applies fn and writes it back guarded by the
// loaded version. A concurrent writer makes it fail with ErrConflict.
func (s *Service) mutate(ctx context.Context, id, action string, fn func(o *Order) (string, error)) (*Order, error) {
	o, err := s.orders.Get(ctx, id)
	if err != nil {
		return nil, errors.Wrapf(err, "get order %s", id)
	}
	detail, err := fn(o)
	if err != nil {
		return nil, err
	}
	o.UpdatedAt = s.now()
	if err := s.orders.Update(ctx, o); err != nil {
		return nil, errors.Wrapf(err, "update order %s", id)
	}
	s.updated.Add(ctx, 1, metric.WithAttributes(attribute.String("action", action)))
	s.record(ctx, o.ID, action, detail)
	return o, nil
}

// price resolves the selections and runs the pricing computation. It returns
// the catalog snapshot the quote was priced against.
func (s *Service) price(ctx context.Context, req PlaceOrderRequest) (pricing.Quote, *catalog.Snapshot, error) {
	if strings.TrimSpace(req.PatientID) == "" {
		return pricing.Quote{}, nil, pricing.ErrNoPatient
	}
	if len(req.Items) == 0 {
		return pricing.Quote{}, nil, pricing.ErrNoTests
	}

	snap, err := s.catalog.Snapshot(ctx)
	if err != nil {
		return pricing.Quote{}, nil, errors.Wrap(err, "load catalog")
	}

	items := make([]pricing.Item, 0, len(req.Items))
	seen := make(map[string]struct{}, len(req.Items))
	for _, sel := range req.Items {
		item, key, err := resolve(snap, sel)
		if err != nil {
			return pricing.Quote{}, nil, err
		}
		if _, dup := seen[key]; dup {
			return pricing.Quote{}, nil, &DuplicateItemError{Ref: sel.Ref}
		}
		seen[key] = struct{}{}
		items = append(items, item)
	}

	var overrides catalog.Overrides
	if req.ReferralID != "" {
		overrides, err = s.referrals.Overrides(ctx, req.ReferralID)
		if err != nil {
			return pricing.Quote{}, nil, errors.Wrapf(err, "get overrides for referral %s", req.ReferralID)
		}
	}

	q, err := pricing.PriceOrder(pricing.Draft{
		PatientID:            req.PatientID,
		PatientName:          req.PatientName,
		Items:                items,
		Overrides:            overrides,
		HomeCollectionCharge: req.HomeCollectionCharge,
		Discount:             req.Discount,
		AdvancePaid:          req.AdvancePaid,
		PaymentStatus:        req.PaymentStatus,
		SettleInFull:         req.SettleInFull,
	}, snap)
	if err != nil {
		return pricing.Quote{}, nil, err
	}
	return q, snap, nil
}

func resolve(snap *catalog.Snapshot, sel Selection) (pricing.Item, string, error) {
	switch sel.Kind {
	case pricing.KindTest, "":
		t, ok := snap.TestByRef(sel.Ref)
		if !ok {
			return pricing.Item{}, "", &UnknownItemError{Kind: pricing.KindTest, Ref: sel.Ref}
		}
		return pricing.TestItem(t), "test:" + t.ID, nil
	case pricing.KindPackage:
		p, ok := snap.PackageByID(sel.Ref)
		if !ok {
			return pricing.Item{}, "", &UnknownItemError{Kind: pricing.KindPackage, Ref: sel.Ref}
		}
		return pricing.PackageItem(p), "package:" + p.ID, nil
	default:
		return pricing.Item{}, "", &UnknownItemError{Kind: sel.Kind, Ref: sel.Ref}
	}
}

// record appends to the audit trail. Failures are logged and do not fail
// the operation that was already committed.
func (s *Service) record(ctx context.Context, orderID, action, detail string) {
	actor, ok := auth.FromContext(ctx)
	if !ok {
		actor = auth.System
	}
	a := Activity{
		ID:      uuid.New(),
		ActorID: actor.ID,
		Action:  action,
		OrderID: orderID,
		Detail:  detail,
		At:      s.now(),
	}
	if err := s.activity.Record(ctx, a); err != nil {
		zctx.From(ctx).Warn("Failed to record activity",
			zap.String("order_id", orderID),
			zap.String("action", action),
			zap.Error(err),
		)
	}
}
