// Package app builds the long-lived services shared by the CLI commands and
// owns their shutdown.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/JakeFAU/result-harvester/internal/api"
	"github.com/JakeFAU/result-harvester/internal/batch"
	"github.com/JakeFAU/result-harvester/internal/browser"
	"github.com/JakeFAU/result-harvester/internal/captcha"
	"github.com/JakeFAU/result-harvester/internal/captcha/tesseract"
	"github.com/JakeFAU/result-harvester/internal/clock/system"
	"github.com/JakeFAU/result-harvester/internal/config"
	collyfetcher "github.com/JakeFAU/result-harvester/internal/fetcher/colly"
	"github.com/JakeFAU/result-harvester/internal/harvest"
	"github.com/JakeFAU/result-harvester/internal/hash/sha256"
	"github.com/JakeFAU/result-harvester/internal/id/uuid"
	"github.com/JakeFAU/result-harvester/internal/parser"
	"github.com/JakeFAU/result-harvester/internal/policy/ratelimit"
	"github.com/JakeFAU/result-harvester/internal/portal"
	"github.com/JakeFAU/result-harvester/internal/progress"
	"github.com/JakeFAU/result-harvester/internal/progress/sinks"
	"github.com/JakeFAU/result-harvester/internal/storage/gcs"
	"github.com/JakeFAU/result-harvester/internal/storage/local"
	"github.com/JakeFAU/result-harvester/internal/storage/postgres"
	"github.com/JakeFAU/result-harvester/internal/table"
)

// EngineFactory builds the CAPTCHA recognition engine. The returned close
// function releases it.
type EngineFactory func(cfg config.CaptchaConfig) (captcha.Engine, func() error, error)

// TesseractEngine is the default EngineFactory.
func TesseractEngine(cfg config.CaptchaConfig) (captcha.Engine, func() error, error) {
	engine, err := tesseract.New(tesseract.Config{
		Language:       cfg.Language,
		TessdataPrefix: cfg.TessdataPrefix,
	})
	if err != nil {
		return nil, nil, err
	}
	return engine, engine.Close, nil
}

// App holds the services built from one Config.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	registry  *prometheus.Registry
	status    *api.Status
	newEngine EngineFactory

	pool    postgres.Execer
	archive harvest.BlobStore
	closers []func() error
}

// Option customises App construction.
type Option func(*App)

// WithEngineFactory replaces the tesseract engine.
func WithEngineFactory(f EngineFactory) Option {
	return func(a *App) { a.newEngine = f }
}

// WithMirrorDB supplies an existing Postgres connection for the mirror.
func WithMirrorDB(db postgres.Execer) Option {
	return func(a *App) { a.pool = db }
}

// WithCloser registers an extra resource that Close releases.
func WithCloser(fn func() error) Option {
	return func(a *App) { a.closers = append(a.closers, fn) }
}

// New wires storage backends and the metrics registry. Browser and
// recognition resources are created per command.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{
		cfg:       cfg,
		logger:    logger,
		registry:  prometheus.NewRegistry(),
		status:    api.NewStatus(),
		newEngine: TesseractEngine,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if err := a.openArchive(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.openMirror(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) openArchive(ctx context.Context) error {
	switch a.cfg.Archive.Backend {
	case config.ArchiveLocal:
		store, err := local.New(local.Config{BaseDir: a.cfg.Archive.Dir})
		if err != nil {
			return fmt.Errorf("open local archive: %w", err)
		}
		a.archive = store
		a.logger.Info("archiving documents locally", zap.String("dir", a.cfg.Archive.Dir))
	case config.ArchiveGCS:
		store, err := gcs.Open(ctx, gcs.Config{Bucket: a.cfg.Archive.Bucket, Prefix: a.cfg.Archive.Prefix}, a.logger)
		if err != nil {
			return fmt.Errorf("open gcs archive: %w", err)
		}
		a.archive = store
		a.closers = append(a.closers, store.Close)
		a.logger.Info("archiving documents to gcs", zap.String("bucket", a.cfg.Archive.Bucket))
	}
	return nil
}

func (a *App) openMirror(ctx context.Context) error {
	if !a.cfg.Mirror.Enabled {
		return nil
	}
	if a.pool == nil {
		pool, err := postgres.Connect(ctx, postgres.PoolConfig{
			DSN:             a.cfg.Mirror.DSN,
			MaxConns:        a.cfg.Mirror.MaxConns,
			MaxConnLifetime: a.cfg.Mirror.MaxConnLifetime,
		})
		if err != nil {
			return err
		}
		a.pool = pool
		a.closers = append(a.closers, func() error {
			pool.Close()
			return nil
		})
	}
	if a.cfg.Mirror.EnsureSchema {
		if err := postgres.EnsureSchema(ctx, a.pool, a.cfg.Mirror.Table); err != nil {
			return err
		}
	}
	a.logger.Info("mirroring rows to postgres", zap.String("table", a.cfg.Mirror.Table))
	return nil
}

// Logger returns the root logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Config returns the validated configuration.
func (a *App) Config() config.Config {
	return a.cfg
}

// Registry returns the Prometheus registry served on /metrics.
func (a *App) Registry() *prometheus.Registry {
	return a.registry
}

// Status returns the live run state served on /v1/run.
func (a *App) Status() *api.Status {
	return a.status
}

// Workbook returns the configured table file.
func (a *App) Workbook() table.Workbook {
	return table.Workbook{Path: a.cfg.Store.Path, Sheet: a.cfg.Store.Sheet}
}

// Merger parses documents and merges them into the workbook and mirror.
func (a *App) Merger() (*batch.Merger, error) {
	agg, err := a.aggregator()
	if err != nil {
		return nil, err
	}
	mirror, err := a.recordMirror()
	if err != nil {
		return nil, err
	}
	return batch.NewMerger(a.parser(), agg, mirror, a.logger)
}

func (a *App) aggregator() (*table.Aggregator, error) {
	return table.NewAggregator(
		a.Workbook(),
		a.cfg.Store.Title,
		table.NotFoundPolicy(a.cfg.Store.NotFoundPolicy),
		a.logger.Named("table"),
	)
}

func (a *App) parser() *parser.Parser {
	return parser.New(parser.Config{Fields: a.cfg.Parser.Fields, TableClass: a.cfg.Parser.TableClass})
}

func (a *App) recordMirror() (harvest.RecordMirror, error) {
	if a.pool == nil {
		return nil, nil
	}
	store, err := postgres.NewRecordStore(a.pool, a.cfg.Mirror.Table)
	if err != nil {
		return nil, err
	}
	return store, nil
}

// ImageSource resolves CAPTCHA image references, downloading remote ones.
func (a *App) ImageSource() *captcha.Source {
	return captcha.NewSource(collyfetcher.New(collyfetcher.Config{
		UserAgent: a.cfg.Browser.UserAgent,
		Timeout:   a.cfg.Captcha.DownloadTimeout,
		MaxBytes:  a.cfg.Captcha.MaxImageBytes,
	}))
}

// Solver builds the CAPTCHA solver; release frees the recognition engine.
func (a *App) Solver() (solver *captcha.Solver, release func(), err error) {
	engine, closeEngine, err := a.newEngine(a.cfg.Captcha)
	if err != nil {
		return nil, nil, fmt.Errorf("init captcha engine: %w", err)
	}
	release = func() {
		if closeEngine == nil {
			return
		}
		if err := closeEngine(); err != nil {
			a.logger.Warn("close captcha engine", zap.Error(err))
		}
	}
	return captcha.NewSolver(engine, a.logger.Named("captcha")), release, nil
}

// Navigator drives the portal through fresh browser sessions.
func (a *App) Navigator(solver portal.Solver) (*portal.Navigator, error) {
	factory, err := browser.NewFactory(browser.Config{
		Headless:    a.cfg.Browser.Headless,
		NoSandbox:   a.cfg.Browser.NoSandbox,
		ExecPath:    a.cfg.Browser.ExecPath,
		UserAgent:   a.cfg.Browser.UserAgent,
		WaitTimeout: a.cfg.Browser.WaitTimeout,
	}, a.logger.Named("browser"))
	if err != nil {
		return nil, err
	}
	opener := portal.OpenerFunc(func(ctx context.Context) (portal.Session, error) {
		session, err := factory.Open(ctx)
		if err != nil {
			return nil, err
		}
		return session, nil
	})
	return portal.New(portal.Config{
		URL:               a.cfg.Portal.URL,
		MaxAttempts:       a.cfg.Portal.MaxAttempts,
		PreSubmitDelay:    a.cfg.Portal.PreSubmitDelay,
		ObservationWindow: a.cfg.Portal.ObservationWindow,
		Elements:          a.cfg.Portal.Elements,
	}, opener, a.ImageSource(), solver, a.logger.Named("portal"))
}

// Reporter fans progress out to the log, Prometheus, the status endpoint
// and, when mirroring, the run history tables.
func (a *App) Reporter(ctx context.Context) (*progress.Reporter, error) {
	promSink, err := sinks.NewPrometheusSink(a.registry)
	if err != nil {
		return nil, err
	}
	all := []progress.Sink{sinks.NewLogSink(a.logger.Named("progress")), promSink, a.status}
	if a.pool != nil {
		runs, err := postgres.NewRunStore(a.pool)
		if err != nil {
			return nil, err
		}
		all = append(all, sinks.NewStoreSink(runs, a.logger.Named("runs")))
	}
	return progress.NewReporter(progress.Config{
		SinkTimeout: 5 * time.Second,
		BaseContext: context.WithoutCancel(ctx),
		Logger:      a.logger.Named("progress"),
	}, all...), nil
}

// Runner assembles a batch runner for sel. release must be called when the
// batch is over.
func (a *App) Runner(ctx context.Context, sel harvest.Selection, nav harvest.Navigator) (*batch.Runner, func(), error) {
	cache, err := local.NewDocumentCache(a.cfg.Cache.Path)
	if err != nil {
		return nil, nil, err
	}
	agg, err := a.aggregator()
	if err != nil {
		return nil, nil, err
	}
	mirror, err := a.recordMirror()
	if err != nil {
		return nil, nil, err
	}
	reporter, err := a.Reporter(ctx)
	if err != nil {
		return nil, nil, err
	}

	deps := batch.Deps{
		Navigator: nav,
		Parser:    a.parser(),
		Records:   agg,
		Cache:     cache,
		Mirror:    mirror,
		Progress:  reporter,
		Clock:     system.New(),
		IDs:       uuid.New(),
	}
	if a.archive != nil {
		deps.Archive = a.archive
		deps.Archiver = sha256.New()
	}
	if a.cfg.Batch.RatePerMinute > 0 {
		limiter := ratelimit.New(ratelimit.Config{
			PerMinute: a.cfg.Batch.RatePerMinute,
			Burst:     a.cfg.Batch.Burst,
			OnDelay: func(host string, waited time.Duration) {
				a.logger.Debug("throttled", zap.String("host", host), zap.Duration("waited", waited))
			},
		})
		deps.Throttle = limiter.For(a.cfg.Portal.URL)
	}

	runner, err := batch.New(batch.Config{Selection: sel}, deps, a.logger)
	if err != nil {
		_ = reporter.Close(ctx)
		return nil, nil, err
	}
	release := func() {
		if err := reporter.Close(context.WithoutCancel(ctx)); err != nil {
			a.logger.Warn("close progress reporter", zap.Error(err))
		}
	}
	return runner, release, nil
}

// ServeMetrics runs the operator endpoint until ctx is done when metrics are
// enabled.
func (a *App) ServeMetrics(ctx context.Context) {
	if !a.cfg.Metrics.Enabled {
		return
	}
	server := api.NewServer(a.status, a.registry, a.logger)
	go func() {
		if err := server.ListenAndServe(ctx, a.cfg.Metrics.Addr); err != nil {
			a.logger.Error("metrics endpoint failed", zap.Error(err))
		}
	}()
}

// Close releases every backend in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close service", zap.Error(err))
		}
	}
	a.closers = nil
	_ = a.logger.Sync()
}
