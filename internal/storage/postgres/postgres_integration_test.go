//go:build integration

package postgres

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/xenking/labdesk/internal/domain/auth"
	"github.com/xenking/labdesk/internal/domain/catalog"
	"github.com/xenking/labdesk/internal/domain/order"
	"github.com/xenking/labdesk/internal/domain/pricing"
)

var testPool *pgxpool.Pool

func TestMain(m *testing.M) {
	os.Exit(testMain(m))
}

func testMain(m *testing.M) int {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:17-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "lab",
				"POSTGRES_PASSWORD": "lab",
				"POSTGRES_DB":       "lab",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("start postgres: %v", err)
	}
	defer func() {
		if err := c.Terminate(context.Background()); err != nil {
			log.Printf("terminate postgres: %v", err)
		}
	}()

	host, err := c.Host(ctx)
	if err != nil {
		log.Fatalf("host: %v", err)
	}
	port, err := c.MappedPort(ctx, "5432/tcp")
	if err != nil {
		log.Fatalf("mapped port: %v", err)
	}

	url := fmt.Sprintf("postgres://lab:lab@%s:%s/lab?sslmode=disable", host, port.Port())
	testPool, err = NewPool(ctx, url)
	if err != nil {
		log.Fatalf("pool: %v", err)
	}
	defer testPool.Close()

	if err := RunMigrations(ctx, testPool); err != nil {
		log.Fatalf("migrate: %v", err)
	}
	// Migrations must be re-runnable on every start.
	if err := RunMigrations(ctx, testPool); err != nil {
		log.Fatalf("migrate again: %v", err)
	}

	return m.Run()
}

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func seedCatalog(t *testing.T) *CatalogRepository {
	t.Helper()
	ctx := context.Background()
	repo := NewCatalogRepository(testPool)
	_, err := testPool.Exec(ctx, "TRUNCATE catalog_tests, packages")
	require.NoError(t, err)

	require.NoError(t, repo.UpsertTests(ctx, []catalog.Test{
		{ID: "t-cbc", Code: " cbc", Name: "Complete Blood Count", Category: "Haematology", Price: d("500"), L2LPrice: d("150")},
		{ID: "CBC", Code: "CBC", Name: "Complete Blood Count", Category: "Haematology", Price: d("500"), L2LPrice: d("40")},
		{ID: "t-tsh", Code: "TSH", Name: "Thyroid Stimulating Hormone", Category: "Immunology", Price: d("600")},
	}))
	require.NoError(t, repo.UpsertPackages(ctx, []catalog.Package{
		{ID: "p-thyroid", Name: "Thyroid Profile", Price: d("900"), TestIDs: []string{"t-tsh", "t-cbc"}},
	}))
	return repo
}

func TestCatalogRepository(t *testing.T) {
	ctx := context.Background()
	repo := seedCatalog(t)

	tests, err := repo.ListTests(ctx)
	require.NoError(t, err)
	require.Len(t, tests, 3)
	assert.Equal(t, "CBC", tests[0].Code, "codes are normalized on write")
	assert.False(t, tests[0].UpdatedAt.IsZero())

	packages, err := repo.ListPackages(ctx)
	require.NoError(t, err)
	require.Len(t, packages, 1)
	assert.Equal(t, []string{"t-tsh", "t-cbc"}, packages[0].TestIDs)

	price := d("650.50")
	n, err := repo.UpdatePrices(ctx, []catalog.PriceUpdate{
		{TestID: "t-tsh", Price: &price},
		{TestID: "missing", Price: &price},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	snap, err := catalog.LoadSnapshot(ctx, repo, repo)
	require.NoError(t, err)
	tsh, ok := snap.TestByCode("TSH")
	require.True(t, ok)
	assert.True(t, price.Equal(tsh.Price))
	assert.True(t, tsh.L2LPrice.IsZero(), "nil cost keeps the stored value")

	groups, err := catalog.FixDuplicates(ctx, repo)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, "CBC", groups[0].Keep.ID)

	tests, err = repo.ListTests(ctx)
	require.NoError(t, err)
	assert.Len(t, tests, 2)
}

func TestReferralRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewReferralRepository(testPool)

	require.NoError(t, repo.SetOverrides(ctx, "dr-rao", catalog.Overrides{"cbc": d("400"), "TSH": d("550")}))
	require.NoError(t, repo.SetOverrides(ctx, "dr-rao", catalog.Overrides{"CBC": d("420")}))

	got, err := repo.Overrides(ctx, "dr-rao")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, d("420").Equal(got["CBC"]))

	require.NoError(t, repo.SetOverrides(ctx, "city-clinic", catalog.Overrides{"cbc": d("380"), "CBC": d("390")}))
	got, err = repo.Overrides(ctx, "city-clinic")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, d("390").Equal(got["CBC"]))

	got, err = repo.Overrides(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func newOrder(id string) *order.Order {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &order.Order{
		ID:          id,
		PatientID:   "pat-1",
		PatientName: "Asha Rao",
		Lines: []pricing.LineItem{
			{Kind: pricing.KindTest, ID: "t-cbc", Code: "CBC", Name: "Complete Blood Count", Price: d("400"), OriginalPrice: d("500"), L2LPrice: decimal.NewNullDecimal(d("150"))},
			{Kind: pricing.KindTest, ID: "t-old", Code: "OLD", Name: "Legacy", Price: d("100"), OriginalPrice: d("100")},
		},
		Subtotal:         d("500"),
		TotalAmount:      d("500"),
		BalanceDue:       d("500"),
		PaymentStatus:    pricing.PaymentPending,
		Status:           order.StatusPending,
		ExpectedReportAt: now.Add(24 * time.Hour),
		CreatedBy:        "key-1",
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func TestOrderRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewOrderRepository(testPool)
	id := "ORD-2025-" + uuid.NewString()[:4]

	o := newOrder(id)
	require.NoError(t, repo.Create(ctx, o))
	assert.Equal(t, int64(1), o.Version)

	err := repo.Create(ctx, newOrder(id))
	require.ErrorIs(t, err, order.ErrIDCollision)

	got, err := repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, o.ExpectedReportAt, got.ExpectedReportAt.UTC())
	require.Len(t, got.Lines, 2)
	assert.True(t, got.Lines[0].L2LPrice.Valid)
	assert.False(t, got.Lines[1].L2LPrice.Valid, "legacy null cost survives the round trip")

	stale := *got
	got.Status = order.StatusCollected
	require.NoError(t, repo.Update(ctx, got))
	assert.Equal(t, int64(2), got.Version)

	stale.Status = order.StatusCancelled
	require.ErrorIs(t, repo.Update(ctx, &stale), order.ErrConflict)

	missing := newOrder("ORD-1999-0000")
	require.ErrorIs(t, repo.Update(ctx, missing), order.ErrNotFound)

	_, err = repo.Get(ctx, "ORD-1999-0000")
	require.ErrorIs(t, err, order.ErrNotFound)

	list, err := repo.List(ctx, order.ListFilter{From: o.CreatedAt.Add(-time.Minute)})
	require.NoError(t, err)
	var found bool
	for _, l := range list {
		if l.ID == id {
			found = true
			assert.Equal(t, order.StatusCollected, l.Status)
		}
	}
	assert.True(t, found)

	list, err = repo.List(ctx, order.ListFilter{To: o.CreatedAt.Add(-time.Hour)})
	require.NoError(t, err)
	for _, l := range list {
		assert.NotEqual(t, id, l.ID)
	}
}

func TestSettingsRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewSettingsRepository(testPool)

	_, err := testPool.Exec(ctx, "DELETE FROM settings")
	require.NoError(t, err)

	hours, err := repo.TATHours(ctx)
	require.NoError(t, err)
	assert.Empty(t, hours)

	require.NoError(t, repo.SetTATHours(ctx, map[string]int{"Haematology": 12, "Immunology": 48}))
	hours, err = repo.TATHours(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"Haematology": 12, "Immunology": 48}, hours)
}

func TestActivityRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewActivityRepository(testPool)
	orderID := "ORD-2025-" + uuid.NewString()[:4]

	now := time.Now().UTC().Truncate(time.Microsecond)
	for i, action := range []string{"order.create", "order.status"} {
		require.NoError(t, repo.Record(ctx, order.Activity{
			ID: uuid.New(), ActorID: "key-1", Action: action, OrderID: orderID, At: now.Add(time.Duration(i) * time.Second),
		}))
	}

	list, err := repo.ListByOrder(ctx, orderID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "order.create", list[0].Action)
}

func TestAPIKeyRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewAPIKeyRepository(testPool)

	require.NoError(t, repo.UpsertAPIKey(ctx, auth.APIKeyInfo{ID: "k1", KeyHash: "abc123", Name: "front desk", Role: auth.RoleReception}))

	info, err := repo.FindByHash(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, auth.RoleReception, info.Role)
	assert.Empty(t, info.Scopes)

	_, err = repo.FindByHash(ctx, "nope")
	require.Error(t, err)
}

type countingInvalidator struct{ n atomic.Int64 }

func (c *countingInvalidator) Invalidate() { c.n.Add(1) }

func TestCatalogListener(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	inv := &countingInvalidator{}
	l := NewCatalogListener(testPool, inv, 100*time.Millisecond)
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	// The initial LISTEN invalidates once.
	require.Eventually(t, func() bool { return inv.n.Load() >= 1 }, 5*time.Second, 20*time.Millisecond)
	before := inv.n.Load()

	price := d("777")
	_, err := NewCatalogRepository(testPool).UpdatePrices(context.Background(), []catalog.PriceUpdate{{TestID: "t-tsh", Price: &price}})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return inv.n.Load() > before }, 5*time.Second, 20*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
