package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/labdesk/internal/domain/auth"
	"github.com/xenking/labdesk/internal/domain/catalog"
	"github.com/xenking/labdesk/internal/storage/postgres"
)

// seedFile is the layout of db/seed/catalog.json.
type seedFile struct {
	Tests []struct {
		ID       string          `json:"id"`
		Code     string          `json:"code"`
		Name     string          `json:"name"`
		Category string          `json:"category"`
		Price    decimal.Decimal `json:"price"`
		L2LPrice decimal.Decimal `json:"l2lPrice"`
	} `json:"tests"`
	Packages []struct {
		ID          string          `json:"id"`
		Name        string          `json:"name"`
		Price       decimal.Decimal `json:"price"`
		Tests       []string        `json:"tests"`
		Description string          `json:"description"`
	} `json:"packages"`
	Referrals map[string]map[string]decimal.Decimal `json:"referrals"`
	TATHours  map[string]int                        `json:"tatHours"`
}

func main() {
	var (
		databaseURL  string
		catalogFile  string
		apiKey       string
		apiKeyPepper string
		apiKeyRole   string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&catalogFile, "catalog-file", "db/seed/catalog.json", "path to catalog JSON file")
	flag.StringVar(&apiKey, "api-key", "", "API key to seed (or LAB_SEED_API_KEY env)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or LAB_API_KEY_PEPPER env)")
	flag.StringVar(&apiKeyRole, "api-key-role", string(auth.RoleAdmin), "role of the seeded API key")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if apiKey == "" {
		apiKey = os.Getenv("LAB_SEED_API_KEY")
	}
	if apiKey == "" {
		slog.Error("API key is required: set --api-key or LAB_SEED_API_KEY")
		os.Exit(1)
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("LAB_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	key := auth.APIKeyInfo{
		ID:      "default",
		KeyHash: auth.HashAPIKey([]byte(apiKeyPepper), apiKey),
		Name:    "Default " + apiKeyRole + " key",
		Role:    auth.Role(apiKeyRole),
	}
	if err := run(ctx, databaseURL, catalogFile, key); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, catalogFile string, key auth.APIKeyInfo) error {
	slog.Info("reading catalog file", slog.String("path", catalogFile))

	data, err := os.ReadFile(catalogFile)
	if err != nil {
		return errors.Wrap(err, "read catalog file")
	}
	var seed seedFile
	if err := json.Unmarshal(data, &seed); err != nil {
		return errors.Wrap(err, "parse catalog JSON")
	}

	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedCatalog(ctx, pool, seed); err != nil {
		return errors.Wrap(err, "seed catalog")
	}
	if err := seedSettings(ctx, pool, seed); err != nil {
		return errors.Wrap(err, "seed settings")
	}
	if err := seedAPIKey(ctx, pool, key); err != nil {
		return errors.Wrap(err, "seed api key")
	}
	return nil
}

func seedCatalog(ctx context.Context, pool *pgxpool.Pool, seed seedFile) error {
	repo := postgres.NewCatalogRepository(pool)

	tests := make([]catalog.Test, 0, len(seed.Tests))
	for _, t := range seed.Tests {
		tests = append(tests, catalog.Test{
			ID:       t.ID,
			Code:     t.Code,
			Name:     t.Name,
			Category: t.Category,
			Price:    t.Price,
			L2LPrice: t.L2LPrice,
		})
	}
	slog.Info("upserting tests", slog.Int("count", len(tests)))
	if err := repo.UpsertTests(ctx, tests); err != nil {
		return errors.Wrap(err, "upsert tests")
	}

	packages := make([]catalog.Package, 0, len(seed.Packages))
	for _, p := range seed.Packages {
		packages = append(packages, catalog.Package{
			ID:          p.ID,
			Name:        p.Name,
			Price:       p.Price,
			TestIDs:     p.Tests,
			Description: p.Description,
		})
	}
	slog.Info("upserting packages", slog.Int("count", len(packages)))
	if err := repo.UpsertPackages(ctx, packages); err != nil {
		return errors.Wrap(err, "upsert packages")
	}

	referrals := postgres.NewReferralRepository(pool)
	for id, prices := range seed.Referrals {
		if err := referrals.SetOverrides(ctx, id, catalog.Overrides(prices)); err != nil {
			return errors.Wrapf(err, "set overrides for referral %s", id)
		}
		slog.Info("upserted referral prices", slog.String("referral", id), slog.Int("tests", len(prices)))
	}
	return nil
}

func seedSettings(ctx context.Context, pool *pgxpool.Pool, seed seedFile) error {
	if len(seed.TATHours) == 0 {
		return nil
	}
	if err := postgres.NewSettingsRepository(pool).SetTATHours(ctx, seed.TATHours); err != nil {
		return errors.Wrap(err, "set tat hours")
	}
	slog.Info("upserted turnaround times", slog.Int("categories", len(seed.TATHours)))
	return nil
}

func seedAPIKey(ctx context.Context, pool *pgxpool.Pool, key auth.APIKeyInfo) error {
	slog.Info("seeding default API key")

	if err := postgres.NewAPIKeyRepository(pool).UpsertAPIKey(ctx, key); err != nil {
		return errors.Wrap(err, "upsert default API key")
	}

	slog.Info("upserted API key", slog.String("id", key.ID), slog.String("role", string(key.Role)))
	return nil
}
