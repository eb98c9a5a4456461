// Package app builds and holds the long-lived services of one scout process
// and shuts them down in order.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/JakeFAU/doublescout/internal/api"
	"github.com/JakeFAU/doublescout/internal/armory"
	"github.com/JakeFAU/doublescout/internal/clock/system"
	"github.com/JakeFAU/doublescout/internal/config"
	"github.com/JakeFAU/doublescout/internal/cookies"
	collyfetcher "github.com/JakeFAU/doublescout/internal/fetcher/colly"
	"github.com/JakeFAU/doublescout/internal/logging"
	"github.com/JakeFAU/doublescout/internal/metrics"
	"github.com/JakeFAU/doublescout/internal/orchestrator"
	"github.com/JakeFAU/doublescout/internal/policy/ratelimit"
	"github.com/JakeFAU/doublescout/internal/progress"
	progresssinks "github.com/JakeFAU/doublescout/internal/progress/sinks"
	"github.com/JakeFAU/doublescout/internal/reconcile"
	pgstore "github.com/JakeFAU/doublescout/internal/storage/postgres"
	"github.com/JakeFAU/doublescout/internal/storage/sqlite"
)

const (
	shutdownTimeout = 10 * time.Second
	// Run-history writes share the single tech connection with the merge
	// scan, so a sink may wait for a whole merge.
	sinkTimeout = 5 * time.Minute
)

// ErrExportDisabled is returned by Export when no Postgres DSN is configured.
var ErrExportDisabled = errors.New("postgres export is not configured")

// App contains the application's dependencies.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	clock     *system.Clock
	tech      *sqlite.TechStore
	canonical *sqlite.CanonicalStore
	registry  *prometheus.Registry
	hub       *progress.Hub

	pgPool   *pgxpool.Pool
	exporter *pgstore.Exporter
	runStore *pgstore.RunStore

	httpSrv  *http.Server
	listener net.Listener
}

// Options adjust Build for commands that do not need every service.
type Options struct {
	// Logger overrides the configured logger, mainly for tests.
	Logger *zap.Logger
	// StatusServer starts the HTTP status server when an address is configured.
	StatusServer bool
}

// Build creates the application's dependencies. On error everything built so
// far is closed.
func Build(ctx context.Context, cfg config.Config, opts Options) (_ *App, err error) {
	logger := opts.Logger
	if logger == nil {
		logger, err = logging.New(logging.Config{Development: cfg.Logging.Development, Dir: cfg.Logging.Dir})
		if err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
	}
	a := &App{cfg: cfg, logger: logger, clock: system.New()}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()

	a.logger.Info("building application dependencies",
		zap.String("tech_path", cfg.Storage.TechPath),
		zap.String("final_path", cfg.Storage.FinalPath),
	)
	if err = a.setupStorage(); err != nil {
		return nil, err
	}
	if err = a.setupPostgres(ctx); err != nil {
		return nil, err
	}
	if err = a.setupProgress(); err != nil {
		return nil, err
	}
	if opts.StatusServer && cfg.Metrics.ListenAddr != "" {
		if err = a.startStatusServer(); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func (a *App) setupStorage() error {
	var err error
	a.tech, err = sqlite.OpenTech(a.cfg.Storage.TechPath)
	if err != nil {
		return fmt.Errorf("tech store init failed: %w", err)
	}
	a.canonical, err = sqlite.OpenCanonical(a.cfg.Storage.FinalPath)
	if err != nil {
		return fmt.Errorf("canonical store init failed: %w", err)
	}
	return nil
}

func (a *App) setupPostgres(ctx context.Context) error {
	if a.cfg.Export.PostgresDSN == "" {
		a.logger.Debug("no postgres dsn configured, export and run mirror disabled")
		return nil
	}
	var err error
	a.pgPool, err = pgstore.NewPool(ctx, pgstore.Config{DSN: a.cfg.Export.PostgresDSN, MaxConns: 4})
	if err != nil {
		return fmt.Errorf("postgres init failed: %w", err)
	}
	a.exporter, err = pgstore.NewExporter(a.pgPool, a.cfg.Export.Table)
	if err != nil {
		return fmt.Errorf("exporter init failed: %w", err)
	}
	a.runStore, err = pgstore.NewRunStore(a.pgPool, "")
	if err != nil {
		return fmt.Errorf("run store init failed: %w", err)
	}
	if err := a.runStore.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("run store schema: %w", err)
	}
	a.logger.Info("postgres initialized", zap.String("table", a.cfg.Export.Table))
	return nil
}

func (a *App) setupProgress() error {
	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	promSink, err := progresssinks.NewPrometheusSink(a.registry)
	if err != nil {
		return fmt.Errorf("prometheus sink init failed: %w", err)
	}
	sinkList := []progress.Sink{
		progresssinks.NewLogSink(a.logger.Named("progress_log")),
		promSink,
		progresssinks.NewStoreSink(a.tech, a.logger.Named("progress_store")),
	}
	if a.runStore != nil {
		sinkList = append(sinkList, progresssinks.NewStoreSink(a.runStore, a.logger.Named("progress_pg")))
		a.logger.Debug("added postgres run sink")
	}
	a.hub = progress.NewHub(progress.Config{
		SinkTimeout: sinkTimeout,
		Logger:      a.logger.Named("progress_hub"),
	}, sinkList...)
	return nil
}

func (a *App) startStatusServer() error {
	status := api.NewStatusHandler(a.tech, a.canonical, a.logger.Named("api"))
	httpMetrics, err := metrics.NewHTTP(a.registry)
	if err != nil {
		return fmt.Errorf("http metrics init failed: %w", err)
	}
	server := api.NewServer(status, a.registry, a.logger.Named("api"), httpMetrics.Middleware)
	ln, err := net.Listen("tcp", a.cfg.Metrics.ListenAddr)
	if err != nil {
		return fmt.Errorf("status server listen: %w", err)
	}
	a.listener = ln
	a.httpSrv = &http.Server{
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.logger.Info("status server started", zap.String("addr", ln.Addr().String()))
		if err := a.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("status server error", zap.Error(err))
		}
	}()
	return nil
}

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Config returns the loaded configuration.
func (a *App) Config() config.Config { return a.cfg }

// Clock returns the UTC wall clock shared by the crawl and the merge.
func (a *App) Clock() *system.Clock { return a.clock }

// Tech returns the tech store.
func (a *App) Tech() *sqlite.TechStore { return a.tech }

// Canonical returns the canonical store.
func (a *App) Canonical() *sqlite.CanonicalStore { return a.canonical }

// StatusAddr is the address the status server listens on, or "" when it is
// not running.
func (a *App) StatusAddr() string {
	if a.listener == nil {
		return ""
	}
	return a.listener.Addr().String()
}

// Orchestrator builds a crawl run. Session cookies are required.
func (a *App) Orchestrator() (*orchestrator.Orchestrator, error) {
	jar, err := cookies.Load(a.cfg.Auth.CookiesFile)
	if err != nil {
		return nil, fmt.Errorf("load cookies: %w", err)
	}
	pacer, err := a.cfg.Pacer()
	if err != nil {
		return nil, fmt.Errorf("pacer: %w", err)
	}
	delays, err := metrics.NewRateLimit(a.registry)
	if err != nil {
		return nil, fmt.Errorf("rate limit metrics: %w", err)
	}
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent: a.cfg.Crawler.UserAgent,
		Timeout:   a.cfg.HTTP.Timeout,
		Cookies:   jar,
		Limiter: ratelimit.New(ratelimit.Config{
			RPS:      a.cfg.HTTP.MaxRPS,
			Burst:    a.cfg.HTTP.Burst,
			Observer: delays,
		}),
		Logger: a.logger.Named("fetcher"),
	}, a.cfg.RetryPolicy())
	a.logger.Info("crawl configured",
		zap.Int("cookies", len(jar)),
		zap.String("delay_mode", a.cfg.Delay.Mode),
		zap.Int("max_attempts", a.cfg.HTTP.MaxAttempts),
		zap.Float64("max_rps", a.cfg.HTTP.MaxRPS),
		zap.Int("max_pages_per_run", a.cfg.Crawler.MaxPagesPerRun),
	)
	return orchestrator.New(orchestrator.Config{
		Streams:        a.cfg.Streams(),
		DiscoveryURL:   a.cfg.DiscoveryURL(),
		PageSize:       a.cfg.Crawler.PageSize,
		MaxPagesPerRun: a.cfg.Crawler.MaxPagesPerRun,
	}, orchestrator.Deps{
		Fetcher:   fetcher,
		Decoder:   armory.NewDecoder(),
		Tech:      a.tech,
		Canonical: a.canonical,
		Pacer:     pacer,
		Clock:     a.clock,
		Emitter:   a.hub,
		Logger:    a.logger.Named("orchestrator"),
	})
}

// Merge reconciles whatever the tech store holds into the canonical store
// without crawling.
func (a *App) Merge(ctx context.Context) (reconcile.Report, error) {
	return reconcile.New(a.clock, a.logger.Named("reconcile")).Merge(ctx, a.tech, a.canonical)
}

// Export copies the canonical rows to Postgres.
func (a *App) Export(ctx context.Context) (int64, error) {
	if a.exporter == nil {
		return 0, ErrExportDisabled
	}
	n, err := a.exporter.Export(ctx, a.canonical)
	if err != nil {
		return 0, fmt.Errorf("export: %w", err)
	}
	a.logger.Info("canonical rows exported", zap.Int64("rows", n), zap.String("table", a.cfg.Export.Table))
	return n, nil
}

// Close flushes progress sinks, then shuts down the status server and the
// stores. It is safe on a partially built App.
func (a *App) Close(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	var errs []error
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.httpSrv != nil {
		if err := a.httpSrv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("status server shutdown: %w", err))
		}
	}
	if a.pgPool != nil {
		a.pgPool.Close()
	}
	if a.canonical != nil {
		if err := a.canonical.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close canonical store: %w", err))
		}
	}
	if a.tech != nil {
		if err := a.tech.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close tech store: %w", err))
		}
	}
	if a.logger != nil {
		// Sync fails on stderr for most terminals; nothing to do about it.
		_ = a.logger.Sync()
	}
	return errors.Join(errs...)
}
