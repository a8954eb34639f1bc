// Package handler implements the labdesk HTTP JSON API.
package handler

import (
	"context"
	"io"
	"net/http"

	"github.com/xenking/labdesk/internal/domain/auth"
	"github.com/xenking/labdesk/internal/domain/catalog"
	"github.com/xenking/labdesk/internal/domain/order"
	"github.com/xenking/labdesk/internal/domain/priceimport"
	"github.com/xenking/labdesk/internal/domain/pricing"
	"github.com/xenking/labdesk/internal/domain/report"
)

// CatalogSource provides the current catalog snapshot.
type CatalogSource interface {
	Snapshot(ctx context.Context) (*catalog.Snapshot, error)
}

// OrderService is the order lifecycle exposed over HTTP.
type OrderService interface {
	Quote(ctx context.Context, req order.PlaceOrderRequest) (*pricing.Quote, error)
	Create(ctx context.Context, req order.PlaceOrderRequest) (*order.Order, error)
	Get(ctx context.Context, id string) (*order.Order, error)
	Edit(ctx context.Context, id string, req order.PlaceOrderRequest) (*order.Order, error)
	UpdateStatus(ctx context.Context, id string, to order.Status) (*order.Order, error)
	AssignPartner(ctx context.Context, id, line, partner string) (*order.Order, error)
	Settle(ctx context.Context, id, line string) (*order.Order, error)
}

// ReportService builds profit reports.
type ReportService interface {
	Profit(ctx context.Context, p report.Period, mode pricing.Mode) (*pricing.ProfitReport, error)
	Dashboard(ctx context.Context, p report.Period) (*pricing.DashboardEstimate, error)
}

// PriceImporter applies a price sheet to the catalog.
type PriceImporter interface {
	Import(ctx context.Context, src io.Reader, dryRun bool) (*priceimport.Report, error)
}

// Deduper removes duplicated catalog tests.
type Deduper func(ctx context.Context) ([]catalog.DuplicateGroup, error)

// Config holds non-dependency handler settings.
type Config struct {
	// MaxImportBytes limits the size of an uploaded price sheet.
	MaxImportBytes int64
}

// Handler serves the API, delegating business logic to domain services.
type Handler struct {
	catalog  CatalogSource
	orders   OrderService
	reports  ReportService
	importer PriceImporter
	dedupe   Deduper

	maxImportBytes int64
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(
	cfg Config,
	cat CatalogSource,
	orders OrderService,
	reports ReportService,
	importer PriceImporter,
	dedupe Deduper,
) *Handler {
	if cfg.MaxImportBytes <= 0 {
		cfg.MaxImportBytes = 10 << 20
	}
	return &Handler{
		catalog:        cat,
		orders:         orders,
		reports:        reports,
		importer:       importer,
		dedupe:         dedupe,
		maxImportBytes: cfg.MaxImportBytes,
	}
}

// Register mounts every API route on mux behind sec.
func (h *Handler) Register(mux *http.ServeMux, sec *SecurityHandler) {
	var (
		anyone  = []auth.Role{auth.RoleReception, auth.RoleTechnician, auth.RoleFinance}
		front   = []auth.Role{auth.RoleReception}
		lab     = []auth.Role{auth.RoleReception, auth.RoleTechnician}
		finance = []auth.Role{auth.RoleFinance}
		admin   = []auth.Role{}
	)
	route := func(pattern string, fn http.HandlerFunc, roles []auth.Role) {
		mux.Handle(pattern, sec.Authenticate(requireRole(roles, fn)))
	}

	route("GET /api/tests", h.ListTests, anyone)
	route("GET /api/packages", h.ListPackages, anyone)

	route("POST /api/orders/quote", h.QuoteOrder, front)
	route("POST /api/orders", h.CreateOrder, front)
	route("GET /api/orders/{id}", h.GetOrder, anyone)
	route("PUT /api/orders/{id}", h.EditOrder, front)
	route("PATCH /api/orders/{id}/status", h.UpdateStatus, lab)
	route("POST /api/orders/{id}/lines/{line}/partner", h.AssignPartner, front)
	route("POST /api/orders/{id}/lines/{line}/settle", h.SettleLine, finance)

	route("GET /api/reports/profit", h.ProfitReport, finance)
	route("GET /api/reports/dashboard", h.Dashboard, finance)

	route("POST /api/catalog/import", h.ImportPrices, admin)
	route("POST /api/catalog/dedupe", h.Dedupe, admin)
}
