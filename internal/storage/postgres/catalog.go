package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/labdesk/internal/domain/catalog"
)

const (
	listTestsSQL = `SELECT id, code, name, category, price, l2l_price, updated_at
		FROM catalog_tests ORDER BY code, id`

	updateTestPricesSQL = `UPDATE catalog_tests
		SET price = COALESCE($2::numeric, price),
			l2l_price = COALESCE($3::numeric, l2l_price),
			updated_at = now()
		WHERE id = $1`

	deleteTestsSQL = `DELETE FROM catalog_tests WHERE id = ANY($1)`

	upsertTestSQL = `INSERT INTO catalog_tests (id, code, name, category, price, l2l_price, updated_at)
		VALUES ($1, UPPER(TRIM($2)), $3, $4, $5, $6, now())
		ON CONFLICT (id) DO UPDATE SET
			code = EXCLUDED.code, name = EXCLUDED.name, category = EXCLUDED.category,
			price = EXCLUDED.price, l2l_price = EXCLUDED.l2l_price, updated_at = now()`

	listPackagesSQL = `SELECT id, name, price, test_ids, description, updated_at
		FROM packages ORDER BY name, id`

	upsertPackageSQL = `INSERT INTO packages (id, name, price, test_ids, description, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, price = EXCLUDED.price, test_ids = EXCLUDED.test_ids,
			description = EXCLUDED.description, updated_at = now()`
)

var (
	_ catalog.TestRepository    = (*CatalogRepository)(nil)
	_ catalog.PackageRepository = (*CatalogRepository)(nil)
)

// CatalogRepository stores catalog tests and packages. Every write fires the
// catalog_changed notification through table triggers.
type CatalogRepository struct {
	pool *pgxpool.Pool
}

// NewCatalogRepository returns a CatalogRepository that uses the given pool.
func NewCatalogRepository(pool *pgxpool.Pool) *CatalogRepository {
	return &CatalogRepository{pool: pool}
}

// ListTests returns every catalog test ordered by code.
func (r *CatalogRepository) ListTests(ctx context.Context) ([]catalog.Test, error) {
	rows, err := r.pool.Query(ctx, listTestsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing tests: %w", err)
	}
	return pgx.CollectRows(rows, scanTest)
}

// UpdatePrices applies the updates in one transaction and returns the number
// of tests changed. Nil fields keep their stored value.
func (r *CatalogRepository) UpdatePrices(ctx context.Context, updates []catalog.PriceUpdate) (int, error) {
	if len(updates) == 0 {
		return 0, nil
	}
	var n int
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		b := &pgx.Batch{}
		for _, u := range updates {
			b.Queue(updateTestPricesSQL, u.TestID, u.Price, u.L2LPrice)
		}
		br := tx.SendBatch(ctx, b)
		for _, u := range updates {
			tag, err := br.Exec()
			if err != nil {
				_ = br.Close()
				return fmt.Errorf("updating test %q: %w", u.TestID, err)
			}
			n += int(tag.RowsAffected())
		}
		return br.Close()
	})
	if err != nil {
		return 0, fmt.Errorf("updating prices: %w", err)
	}
	return n, nil
}

// DeleteTests removes the tests with the given ids.
func (r *CatalogRepository) DeleteTests(ctx context.Context, ids []string) error {
	if _, err := r.pool.Exec(ctx, deleteTestsSQL, ids); err != nil {
		return fmt.Errorf("deleting %d tests: %w", len(ids), err)
	}
	return nil
}

// UpsertTests inserts or replaces catalog tests by id.
func (r *CatalogRepository) UpsertTests(ctx context.Context, tests []catalog.Test) error {
	b := &pgx.Batch{}
	for _, t := range tests {
		b.Queue(upsertTestSQL, t.ID, t.Code, t.Name, t.Category, t.Price, t.L2LPrice)
	}
	if err := r.pool.SendBatch(ctx, b).Close(); err != nil {
		return fmt.Errorf("upserting %d tests: %w", len(tests), err)
	}
	return nil
}

// ListPackages returns every package ordered by name.
func (r *CatalogRepository) ListPackages(ctx context.Context) ([]catalog.Package, error) {
	rows, err := r.pool.Query(ctx, listPackagesSQL)
	if err != nil {
		return nil, fmt.Errorf("listing packages: %w", err)
	}
	return pgx.CollectRows(rows, scanPackage)
}

// UpsertPackages inserts or replaces packages by id.
func (r *CatalogRepository) UpsertPackages(ctx context.Context, packages []catalog.Package) error {
	b := &pgx.Batch{}
	for _, p := range packages {
		b.Queue(upsertPackageSQL, p.ID, p.Name, p.Price, p.TestIDs, p.Description)
	}
	if err := r.pool.SendBatch(ctx, b).Close(); err != nil {
		return fmt.Errorf("upserting %d packages: %w", len(packages), err)
	}
	return nil
}

func scanTest(row pgx.CollectableRow) (catalog.Test, error) {
	var t catalog.Test
	err := row.Scan(&t.ID, &t.Code, &t.Name, &t.Category, &t.Price, &t.L2LPrice, &t.UpdatedAt)
	return t, err
}

func scanPackage(row pgx.CollectableRow) (catalog.Package, error) {
	var p catalog.Package
	err := row.Scan(&p.ID, &p.Name, &p.Price, &p.TestIDs, &p.Description, &p.UpdatedAt)
	return p, err
}
