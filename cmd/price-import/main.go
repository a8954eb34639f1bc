// Command price-import applies one or more CSV price sheets (optionally
// gzip-compressed) to the catalog. Later files win over earlier ones.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"

	"github.com/xenking/labdesk/internal/domain/catalog"
	"github.com/xenking/labdesk/internal/domain/priceimport"
	"github.com/xenking/labdesk/internal/storage/postgres"
)

func main() {
	var (
		databaseURL string
		dryRun      bool
		dedupe      bool
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.BoolVar(&dryRun, "dry-run", false, "report matches without writing")
	flag.BoolVar(&dedupe, "dedupe", false, "remove duplicated tests before importing")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] sheet.csv[.gz]...\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	failed, err := run(ctx, databaseURL, flag.Args(), dryRun, dedupe)
	if err != nil {
		slog.Error("import failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if failed > 0 {
		slog.Warn("import completed with skipped rows", slog.Int("failed", failed))
		os.Exit(3)
	}
	slog.Info("import completed successfully")
}

func run(ctx context.Context, databaseURL string, files []string, dryRun, dedupe bool) (int, error) {
	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return 0, errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	repo := postgres.NewCatalogRepository(pool)

	if dedupe && !dryRun {
		groups, err := catalog.FixDuplicates(ctx, repo)
		if err != nil {
			return 0, errors.Wrap(err, "fix duplicates")
		}
		for _, g := range groups {
			slog.Info("resolved duplicate",
				slog.String("key", g.Key),
				slog.String("kept", g.Keep.ID),
				slog.Int("deleted", len(g.Discard)),
			)
		}
	}

	importer := priceimport.NewImporter(repo)
	failed := 0
	for _, path := range files {
		rep, err := importFile(ctx, importer, path, dryRun)
		if err != nil {
			return failed, errors.Wrapf(err, "import %s", path)
		}
		for _, f := range rep.Failures {
			slog.Warn("skipped row",
				slog.String("file", path),
				slog.Int("line", f.Line),
				slog.String("ref", f.Ref),
				slog.String("reason", f.Reason),
			)
		}
		slog.Info("imported sheet",
			slog.String("file", path),
			slog.Int("rows", rep.Rows),
			slog.Int("matched", rep.Matched),
			slog.Int("updated", rep.Updated),
			slog.Int("failed", rep.Failed),
			slog.Bool("dry_run", rep.DryRun),
		)
		failed += rep.Failed
	}
	return failed, nil
}

func importFile(ctx context.Context, importer *priceimport.Importer, path string, dryRun bool) (*priceimport.Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open")
	}
	defer func() { _ = f.Close() }()

	return importer.Import(ctx, f, dryRun)
}
