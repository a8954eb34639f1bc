package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/labdesk/internal/domain/auth"
	"github.com/xenking/labdesk/internal/domain/catalog"
	"github.com/xenking/labdesk/internal/domain/order"
	"github.com/xenking/labdesk/internal/domain/priceimport"
	"github.com/xenking/labdesk/internal/domain/pricing"
	"github.com/xenking/labdesk/internal/domain/report"
)

var testPepper = []byte("pepper")

// --- Mock implementations ---

type mockCatalog struct {
	snap *catalog.Snapshot
	err  error
}

func (m *mockCatalog) Snapshot(_ context.Context) (*catalog.Snapshot, error) {
	return m.snap, m.err
}

type mockOrders struct {
	lastReq    order.PlaceOrderRequest
	lastID     string
	lastStatus order.Status
	lastLine   string
	lastActor  auth.Actor

	quote *pricing.Quote
	order *order.Order
	err   error
}

func (m *mockOrders) capture(ctx context.Context) {
	m.lastActor, _ = auth.FromContext(ctx)
}

func (m *mockOrders) Quote(ctx context.Context, req order.PlaceOrderRequest) (*pricing.Quote, error) {
	m.capture(ctx)
	m.lastReq = req
	return m.quote, m.err
}

func (m *mockOrders) Create(ctx context.Context, req order.PlaceOrderRequest) (*order.Order, error) {
	m.capture(ctx)
	m.lastReq = req
	return m.order, m.err
}

func (m *mockOrders) Get(ctx context.Context, id string) (*order.Order, error) {
	m.capture(ctx)
	m.lastID = id
	return m.order, m.err
}

func (m *mockOrders) Edit(ctx context.Context, id string, req order.PlaceOrderRequest) (*order.Order, error) {
	m.capture(ctx)
	m.lastID, m.lastReq = id, req
	return m.order, m.err
}

func (m *mockOrders) UpdateStatus(ctx context.Context, id string, to order.Status) (*order.Order, error) {
	m.capture(ctx)
	m.lastID, m.lastStatus = id, to
	return m.order, m.err
}

func (m *mockOrders) AssignPartner(ctx context.Context, id, line, _ string) (*order.Order, error) {
	m.capture(ctx)
	m.lastID, m.lastLine = id, line
	return m.order, m.err
}

func (m *mockOrders) Settle(ctx context.Context, id, line string) (*order.Order, error) {
	m.capture(ctx)
	m.lastID, m.lastLine = id, line
	return m.order, m.err
}

type mockReports struct {
	lastPeriod report.Period
	lastMode   pricing.Mode
	profit     *pricing.ProfitReport
	dashboard  *pricing.DashboardEstimate
	err        error
}

func (m *mockReports) Profit(_ context.Context, p report.Period, mode pricing.Mode) (*pricing.ProfitReport, error) {
	m.lastPeriod, m.lastMode = p, mode
	return m.profit, m.err
}

func (m *mockReports) Dashboard(_ context.Context, p report.Period) (*pricing.DashboardEstimate, error) {
	m.lastPeriod = p
	return m.dashboard, m.err
}

type mockImporter struct {
	body   string
	dryRun bool
	report *priceimport.Report
	err    error
}

func (m *mockImporter) Import(_ context.Context, src io.Reader, dryRun bool) (*priceimport.Report, error) {
	b, err := io.ReadAll(src)
	if err != nil {
		return nil, err
	}
	m.body, m.dryRun = string(b), dryRun
	return m.report, m.err
}

type mockAPIKeys struct {
	keys map[string]auth.APIKeyInfo
}

func (m *mockAPIKeys) FindByHash(_ context.Context, hash string) (*auth.APIKeyInfo, error) {
	info, ok := m.keys[hash]
	if !ok {
		return nil, errors.New("api key not found")
	}
	return &info, nil
}

// --- Helpers ---

type fixture struct {
	orders   *mockOrders
	reports  *mockReports
	importer *mockImporter
	catalog  *mockCatalog
	deduped  bool
	server   http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	keys := &mockAPIKeys{keys: map[string]auth.APIKeyInfo{}}
	for _, k := range []struct {
		key  string
		role auth.Role
	}{
		{"admin-key", auth.RoleAdmin},
		{"desk-key", auth.RoleReception},
		{"lab-key", auth.RoleTechnician},
		{"fin-key", auth.RoleFinance},
	} {
		hash := auth.HashAPIKey(testPepper, k.key)
		keys.keys[hash] = auth.APIKeyInfo{ID: k.key, KeyHash: hash, Name: k.key, Role: k.role}
	}

	f := &fixture{
		orders:   &mockOrders{},
		reports:  &mockReports{},
		importer: &mockImporter{report: &priceimport.Report{}},
		catalog: &mockCatalog{snap: catalog.NewSnapshot([]catalog.Test{
			{ID: "t-cbc", Code: "CBC", Name: "Complete Blood Count", Category: "Haematology",
				Price: decimal.NewFromInt(500), L2LPrice: decimal.NewFromInt(150)},
		}, []catalog.Package{
			{ID: "p-basic", Name: "Basic Health", Price: decimal.NewFromInt(1200), TestIDs: []string{"t-cbc"}},
		})},
	}
	dedupe := func(context.Context) ([]catalog.DuplicateGroup, error) {
		f.deduped = true
		return []catalog.DuplicateGroup{{
			Key:     "code:CBC",
			Keep:    catalog.Test{ID: "CBC"},
			Discard: []catalog.Test{{ID: "t-cbc-2"}},
		}}, nil
	}

	h := NewHandler(Config{MaxImportBytes: 64}, f.catalog, f.orders, f.reports, f.importer, dedupe)
	mux := http.NewServeMux()
	h.Register(mux, NewSecurityHandler(keys, testPepper))
	f.server = mux
	return f
}

func (f *fixture) do(t *testing.T, method, target, key, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if key != "" {
		req.Header.Set(APIKeyHeader, key)
	}
	w := httptest.NewRecorder()
	f.server.ServeHTTP(w, req)

	var out map[string]any
	if strings.HasPrefix(strings.TrimSpace(w.Body.String()), "{") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	}
	return w, out
}

func sampleOrder() *order.Order {
	created := time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)
	return &order.Order{
		ID:          "ORD-2025-4242",
		PatientID:   "pat-1",
		PatientName: "A. Patient",
		ReferralID:  "dr-rao",
		Lines: []pricing.LineItem{{
			Kind: pricing.KindTest, ID: "t-cbc", Code: "CBC", Name: "Complete Blood Count",
			Price: decimal.NewFromInt(400), OriginalPrice: decimal.NewFromInt(500),
			L2LPrice: decimal.NewNullDecimal(decimal.NewFromInt(150)),
		}},
		Subtotal:             decimal.NewFromInt(400),
		HomeCollectionCharge: decimal.NewFromInt(100),
		Discount:             decimal.NewFromInt(50),
		TotalAmount:          decimal.NewFromInt(450),
		AdvancePaid:          decimal.Zero,
		BalanceDue:           decimal.NewFromInt(450),
		PaymentStatus:        pricing.PaymentPending,
		Status:               order.StatusPending,
		ExpectedReportAt:     created.Add(24 * time.Hour),
		CreatedBy:            "desk-key",
		CreatedAt:            created,
		UpdatedAt:            created,
		Version:              1,
	}
}

// --- Tests ---

func TestAuthentication(t *testing.T) {
	tests := []struct {
		name   string
		method string
		target string
		key    string
		want   int
	}{
		{name: "missing key", method: http.MethodGet, target: "/api/tests", want: http.StatusUnauthorized},
		{name: "unknown key", method: http.MethodGet, target: "/api/tests", key: "nope", want: http.StatusUnauthorized},
		{name: "any role reads catalog", method: http.MethodGet, target: "/api/tests", key: "lab-key", want: http.StatusOK},
		{name: "technician cannot create orders", method: http.MethodPost, target: "/api/orders", key: "lab-key", want: http.StatusForbidden},
		{name: "reception cannot read reports", method: http.MethodGet, target: "/api/reports/dashboard", key: "desk-key", want: http.StatusForbidden},
		{name: "finance reads reports", method: http.MethodGet, target: "/api/reports/dashboard", key: "fin-key", want: http.StatusOK},
		{name: "only admin imports", method: http.MethodPost, target: "/api/catalog/import", key: "fin-key", want: http.StatusForbidden},
		{name: "admin dedupes", method: http.MethodPost, target: "/api/catalog/dedupe", key: "admin-key", want: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.reports.dashboard = &pricing.DashboardEstimate{Approximate: true}
			w, _ := f.do(t, tt.method, tt.target, tt.key, "")
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}
}

func TestListTests(t *testing.T) {
	f := newFixture(t)
	w, _ := f.do(t, http.MethodGet, "/api/tests", "desk-key", "")
	require.Equal(t, http.StatusOK, w.Code)

	var tests []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tests))
	require.Len(t, tests, 1)
	assert.Equal(t, "CBC", tests[0]["code"])
	assert.Equal(t, 500.0, tests[0]["price"])
	assert.Equal(t, 150.0, tests[0]["l2lPrice"])
}

func TestListPackages(t *testing.T) {
	f := newFixture(t)
	w, _ := f.do(t, http.MethodGet, "/api/packages", "desk-key", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[{"id":"p-basic","name":"Basic Health","price":1200.00,"tests":["t-cbc"]}]`, w.Body.String())
}

func TestListTests_CatalogError(t *testing.T) {
	f := newFixture(t)
	f.catalog.err = errors.New("db down")
	w, body := f.do(t, http.MethodGet, "/api/tests", "desk-key", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "internal error", body["message"])
}

func TestCreateOrder(t *testing.T) {
	f := newFixture(t)
	f.orders.order = sampleOrder()

	w, body := f.do(t, http.MethodPost, "/api/orders", "desk-key", `{
		"patientId": "pat-1",
		"patientName": "A. Patient",
		"referralId": "dr-rao",
		"items": [{"kind": "test", "ref": "CBC"}, "ESR", {"kind": "package", "id": "p-basic"}],
		"homeCollectionCharge": 100,
		"discount": "50.5",
		"advancePaid": null,
		"settleInFull": false,
		"unknown": {"ignored": true}
	}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "/api/orders/ORD-2025-4242", w.Header().Get("Location"))

	req := f.orders.lastReq
	assert.Equal(t, "pat-1", req.PatientID)
	assert.Equal(t, "dr-rao", req.ReferralID)
	assert.Equal(t, []order.Selection{
		{Kind: pricing.KindTest, Ref: "CBC"},
		{Kind: pricing.KindTest, Ref: "ESR"},
		{Kind: pricing.KindPackage, Ref: "p-basic"},
	}, req.Items)
	assert.True(t, decimal.NewFromInt(100).Equal(req.HomeCollectionCharge))
	assert.True(t, decimal.RequireFromString("50.5").Equal(req.Discount))
	assert.True(t, req.AdvancePaid.IsZero())
	assert.Equal(t, "desk-key", f.orders.lastActor.ID)

	assert.Equal(t, "ORD-2025-4242", body["id"])
	assert.Equal(t, 450.0, body["totalAmount"])
	assert.Equal(t, "pending", body["status"])
	assert.Equal(t, "2025-03-15T09:30:00Z", body["expectedReportAt"])
	lines := body["tests"].([]any)
	require.Len(t, lines, 1)
	assert.Equal(t, 150.0, lines[0].(map[string]any)["l2lPrice"])
}

func TestCreateOrder_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		err  error
		want int
	}{
		{name: "malformed body", body: `{"patientId":`, want: http.StatusBadRequest},
		{name: "bad amount", body: `{"discount":"ten"}`, want: http.StatusBadRequest},
		{name: "no patient", body: `{}`, err: pricing.ErrNoPatient, want: http.StatusBadRequest},
		{name: "negative amount", body: `{}`, err: &pricing.NegativeAmountError{Field: "discount"}, want: http.StatusBadRequest},
		{name: "duplicate", body: `{}`, err: &order.DuplicateItemError{Ref: "CBC"}, want: http.StatusBadRequest},
		{name: "unknown item", body: `{}`, err: &order.UnknownItemError{Kind: pricing.KindTest, Ref: "XYZ"}, want: http.StatusUnprocessableEntity},
		{name: "paid with balance", body: `{}`, err: &pricing.PaidBalanceError{}, want: http.StatusUnprocessableEntity},
		{name: "id collision", body: `{}`, err: errors.Wrap(order.ErrIDCollision, "create order"), want: http.StatusConflict},
		{name: "storage failure", body: `{}`, err: errors.New("connection reset"), want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.orders.err = tt.err
			w, body := f.do(t, http.MethodPost, "/api/orders", "desk-key", tt.body)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
			assert.EqualValues(t, tt.want, body["code"])
		})
	}
}

func TestQuoteOrder(t *testing.T) {
	f := newFixture(t)
	f.orders.quote = &pricing.Quote{
		Total:         decimal.NewFromInt(150),
		AdvancePaid:   decimal.NewFromInt(100),
		BalanceDue:    decimal.NewFromInt(50),
		PaymentStatus: pricing.PaymentPaid,
	}

	w, body := f.do(t, http.MethodPost, "/api/orders/quote", "desk-key", `{"patientId":"pat-1","items":["ESR"]}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, body["valid"])
	assert.NotEmpty(t, body["problem"])
	assert.Equal(t, 50.0, body["balanceDue"])
}

func TestGetOrder(t *testing.T) {
	f := newFixture(t)
	f.orders.order = sampleOrder()

	w, body := f.do(t, http.MethodGet, "/api/orders/ORD-2025-4242", "lab-key", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ORD-2025-4242", f.orders.lastID)
	assert.EqualValues(t, 1, body["version"])

	f.orders.err = errors.Wrap(order.ErrNotFound, "get order ORD-2025-0000")
	w, _ = f.do(t, http.MethodGet, "/api/orders/ORD-2025-0000", "lab-key", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestEditOrder_Conflict(t *testing.T) {
	f := newFixture(t)
	f.orders.err = errors.Wrap(order.ErrConflict, "update order ORD-2025-4242")

	w, _ := f.do(t, http.MethodPut, "/api/orders/ORD-2025-4242", "desk-key", `{"patientId":"pat-1","items":["CBC"]}`)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "ORD-2025-4242", f.orders.lastID)
}

func TestUpdateStatus(t *testing.T) {
	f := newFixture(t)
	f.orders.order = sampleOrder()

	w, _ := f.do(t, http.MethodPatch, "/api/orders/ORD-2025-4242/status", "lab-key", `{"status":"collected"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, order.StatusCollected, f.orders.lastStatus)

	f.orders.err = &order.TransitionError{From: order.StatusCompleted, To: order.StatusPending}
	w, _ = f.do(t, http.MethodPatch, "/api/orders/ORD-2025-4242/status", "lab-key", `{"status":"pending"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestOutsourcing(t *testing.T) {
	f := newFixture(t)
	f.orders.order = sampleOrder()

	w, _ := f.do(t, http.MethodPost, "/api/orders/ORD-2025-4242/lines/CBC/partner", "desk-key", `{"partner":"Metro Labs"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "CBC", f.orders.lastLine)

	f.orders.err = order.ErrNotOutsourced
	w, _ = f.do(t, http.MethodPost, "/api/orders/ORD-2025-4242/lines/CBC/settle", "fin-key", "")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	f.orders.err = &order.LineNotFoundError{OrderID: "ORD-2025-4242", Line: "XYZ"}
	w, _ = f.do(t, http.MethodPost, "/api/orders/ORD-2025-4242/lines/XYZ/settle", "fin-key", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestProfitReport(t *testing.T) {
	f := newFixture(t)
	f.reports.profit = &pricing.ProfitReport{
		Mode:    pricing.ModeByOrder,
		Revenue: decimal.NewFromInt(1000),
		Cost:    decimal.NewFromInt(300),
		Profit:  decimal.NewFromInt(700),
		ByOrder: []pricing.OrderProfit{{
			OrderID: "ORD-2025-0001", Revenue: decimal.NewFromInt(1000),
			Cost: decimal.NewFromInt(300), Profit: decimal.NewFromInt(700), MarginPercent: 70,
		}},
		Unresolved: []string{"GONE"},
	}

	w, body := f.do(t, http.MethodGet, "/api/reports/profit?mode=by-order&from=2025-03-01&to=2025-03-31", "fin-key", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, pricing.ModeByOrder, f.reports.lastMode)
	assert.Equal(t, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), f.reports.lastPeriod.From)
	assert.Equal(t, time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC).Add(-time.Nanosecond), f.reports.lastPeriod.To)

	assert.EqualValues(t, 70, body["marginPercent"])
	assert.Equal(t, []any{"GONE"}, body["unresolved"])
	orders := body["orders"].([]any)
	require.Len(t, orders, 1)
	assert.EqualValues(t, 70, orders[0].(map[string]any)["marginPercent"])
}

func TestProfitReport_BadQuery(t *testing.T) {
	tests := []string{
		"/api/reports/profit?mode=weekly",
		"/api/reports/profit?from=yesterday",
		"/api/reports/profit?from=2025-03-10&to=2025-03-01",
	}
	for _, target := range tests {
		t.Run(target, func(t *testing.T) {
			f := newFixture(t)
			w, _ := f.do(t, http.MethodGet, target, "fin-key", "")
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestDashboard(t *testing.T) {
	f := newFixture(t)
	f.reports.dashboard = &pricing.DashboardEstimate{
		Orders: 1, Revenue: decimal.NewFromInt(1000), Cost: decimal.NewFromInt(300),
		Profit: decimal.NewFromInt(700), Estimated: 1, Approximate: true,
	}
	w, body := f.do(t, http.MethodGet, "/api/reports/dashboard", "fin-key", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["approximate"])
	assert.EqualValues(t, 1, body["estimatedLines"])
}

func TestImportPrices(t *testing.T) {
	f := newFixture(t)
	f.importer.report = &priceimport.Report{
		Rows: 2, Matched: 1, Failed: 1, DryRun: true,
		Failures: []priceimport.RowFailure{{Line: 3, Ref: "XYZ", Reason: priceimport.ReasonNoMatch}},
	}

	w, body := f.do(t, http.MethodPost, "/api/catalog/import?dry_run=true", "admin-key", "code,price\nCBC,450\nXYZ,1\n")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, f.importer.dryRun)
	assert.Equal(t, "code,price\nCBC,450\nXYZ,1\n", f.importer.body)
	assert.EqualValues(t, 1, body["failed"])
	failures := body["failures"].([]any)
	assert.Equal(t, priceimport.ReasonNoMatch, failures[0].(map[string]any)["reason"])
}

func TestImportPrices_Errors(t *testing.T) {
	f := newFixture(t)
	w, _ := f.do(t, http.MethodPost, "/api/catalog/import?dry_run=maybe", "admin-key", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = f.do(t, http.MethodPost, "/api/catalog/import", "admin-key", strings.Repeat("x", 65))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

	f.importer.err = errors.Wrap(priceimport.ErrNoKeyColumn, "read sheet")
	w, _ = f.do(t, http.MethodPost, "/api/catalog/import", "admin-key", "price\n1\n")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDedupe(t *testing.T) {
	f := newFixture(t)
	w, _ := f.do(t, http.MethodPost, "/api/catalog/dedupe", "admin-key", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, f.deduped)
	assert.JSONEq(t, `{"groups":[{"key":"code:CBC","kept":"CBC","deleted":["t-cbc-2"]}]}`, w.Body.String())
}
