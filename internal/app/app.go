package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/labdesk/internal/domain/catalog"
	"github.com/xenking/labdesk/internal/domain/order"
	"github.com/xenking/labdesk/internal/domain/priceimport"
	"github.com/xenking/labdesk/internal/domain/report"
	"github.com/xenking/labdesk/internal/handler"
	"github.com/xenking/labdesk/internal/storage/postgres"
	"github.com/xenking/labdesk/pkg/health"
	"github.com/xenking/labdesk/pkg/httpmiddleware"
)

// Telemetry provides the OpenTelemetry providers; *app.Telemetry from
// go-faster/sdk satisfies it.
type Telemetry interface {
	TracerProvider() trace.TracerProvider
	MeterProvider() metric.MeterProvider
}

// Run creates all dependencies, starts the HTTP server and the catalog
// listener, and handles graceful shutdown. It is the single wiring point for
// the application.
func Run(ctx context.Context, lg *zap.Logger, m Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	// Repositories.
	catalogRepo := postgres.NewCatalogRepository(pool)
	referralRepo := postgres.NewReferralRepository(pool)
	orderRepo := postgres.NewOrderRepository(pool)
	settingsRepo := postgres.NewSettingsRepository(pool)
	activityRepo := postgres.NewActivityRepository(pool)
	apikeyRepo := postgres.NewAPIKeyRepository(pool)

	// Catalog cache, kept fresh by LISTEN catalog_changed.
	catalogCache := catalog.NewCache(catalogRepo, catalogRepo)
	if _, err := catalogCache.Refresh(ctx); err != nil {
		// The API still starts; readiness stays false until a load succeeds.
		lg.Warn("Initial catalog load failed", zap.Error(err))
	}
	listener := postgres.NewCatalogListener(pool, catalogCache, cfg.Catalog.ListenRetry)

	// Domain services.
	orderService, err := order.NewService(catalogCache, referralRepo, orderRepo, settingsRepo, activityRepo,
		order.WithTracerProvider(m.TracerProvider()),
		order.WithMeterProvider(m.MeterProvider()),
	)
	if err != nil {
		return errors.Wrap(err, "create order service")
	}
	reportService, err := report.NewService(orderRepo, catalogCache, m.MeterProvider())
	if err != nil {
		return errors.Wrap(err, "create report service")
	}
	importer := priceimport.NewImporter(catalogRepo)
	dedupe := func(ctx context.Context) ([]catalog.DuplicateGroup, error) {
		groups, err := catalog.FixDuplicates(ctx, catalogRepo)
		if err != nil {
			return nil, err
		}
		catalogCache.Invalidate()
		return groups, nil
	}

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", cfg.Health.PingTimeout, health.PingCheck(pool))
	healthSvc.AddReadinessCheck("catalog", time.Second, health.LoadedCheck("catalog", catalogCache.Loaded))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(cfg.Health.GoroutineThreshold))
	healthSvc.Start(ctx, cfg.Health.Interval)
	healthSvc.SetReady(true)

	// HTTP handlers.
	h := handler.NewHandler(
		handler.Config{MaxImportBytes: cfg.MaxImportBytes},
		catalogCache,
		orderService,
		reportService,
		importer,
		dedupe,
	)
	securityHandler := handler.NewSecurityHandler(apikeyRepo, []byte(cfg.APIKeyPepper))

	mux := http.NewServeMux()
	mux.HandleFunc("GET /livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("GET /readyz", healthSvc.ReadyEndpoint)
	h.Register(mux, securityHandler)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(mux,
			httpmiddleware.Recovery(),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Instrument("labdesk-api", m.TracerProvider(), m.MeterProvider()),
			httpmiddleware.LogRequests(),
		),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return listener.Run(gctx)
	})

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	g.Go(func() error {
		<-gctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		return nil
	})

	g.Go(func() error {
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})

	return g.Wait()
}
