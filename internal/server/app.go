// Package server builds the enricher's dependency graph from configuration and
// runs it, either as a long-lived HTTP service or for a single run.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-enricher/internal/agent"
	"github.com/JakeFAU/listing-enricher/internal/api"
	"github.com/JakeFAU/listing-enricher/internal/browser"
	"github.com/JakeFAU/listing-enricher/internal/config"
	"github.com/JakeFAU/listing-enricher/internal/dispatcher"
	"github.com/JakeFAU/listing-enricher/internal/id/uuid"
	"github.com/JakeFAU/listing-enricher/internal/message"
	"github.com/JakeFAU/listing-enricher/internal/ocr"
	"github.com/JakeFAU/listing-enricher/internal/ocr/cache"
	"github.com/JakeFAU/listing-enricher/internal/ocr/extractsvc"
	"github.com/JakeFAU/listing-enricher/internal/ocr/ocrspace"
	"github.com/JakeFAU/listing-enricher/internal/ocr/tesseract"
	"github.com/JakeFAU/listing-enricher/internal/pipeline"
	"github.com/JakeFAU/listing-enricher/internal/policy/ratelimit"
	"github.com/JakeFAU/listing-enricher/internal/progress"
	progresssinks "github.com/JakeFAU/listing-enricher/internal/progress/sinks"
	"github.com/JakeFAU/listing-enricher/internal/publisher"
	memorypublisher "github.com/JakeFAU/listing-enricher/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/listing-enricher/internal/publisher/pubsub"
	"github.com/JakeFAU/listing-enricher/internal/retry"
	"github.com/JakeFAU/listing-enricher/internal/session"
	"github.com/JakeFAU/listing-enricher/internal/sheets"
	blobstorage "github.com/JakeFAU/listing-enricher/internal/storage"
	gcsstorage "github.com/JakeFAU/listing-enricher/internal/storage/gcs"
	localstorage "github.com/JakeFAU/listing-enricher/internal/storage/local"
	memorystorage "github.com/JakeFAU/listing-enricher/internal/storage/memory"
	pgstore "github.com/JakeFAU/listing-enricher/internal/storage/postgres"
	"github.com/JakeFAU/listing-enricher/internal/store"
	"github.com/JakeFAU/listing-enricher/internal/telemetry"
)

// App contains the application's dependencies.
type App struct {
	cfg        config.Config
	logger     *zap.Logger
	registerer prometheus.Registerer

	telemetry       *telemetry.Providers
	browser         *browser.Browser
	storage         *storage.Client
	pubsubClient    *pubsub.Client
	pubsubPublisher *gcppublisher.Publisher
	history         store.RunRepository
	pgHistory       *pgstore.RunStore
	closeCache      func() error
	progressHub     *progress.Hub
	board           *progresssinks.StatusBoard
	archive         blobstorage.BlobStore

	runner   *pipeline.Runner
	dispatch *dispatcher.Dispatcher
	ready    map[string]api.Check
}

// Build creates the application's dependencies. Close releases whatever was
// built, including after a partial failure.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	return build(ctx, cfg, logger, prometheus.DefaultRegisterer)
}

func build(ctx context.Context, cfg config.Config, logger *zap.Logger, reg prometheus.Registerer) (app *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app = &App{cfg: cfg, logger: logger, registerer: reg, ready: map[string]api.Check{}}
	defer func() {
		if err != nil {
			app.Close(context.Background())
			app = nil
		}
	}()

	if app.telemetry, err = telemetry.Init(ctx, cfg.Telemetry, reg); err != nil {
		return app, fmt.Errorf("telemetry init failed: %w", err)
	}
	if err = app.setupStorage(ctx); err != nil {
		return app, err
	}
	if err = app.setupHistory(ctx); err != nil {
		return app, err
	}
	pub, err := app.setupPublisher(ctx)
	if err != nil {
		return app, err
	}
	if err = app.setupProgress(ctx, pub); err != nil {
		return app, err
	}
	resolver, err := app.setupOCR(ctx)
	if err != nil {
		return app, err
	}
	opener, err := app.setupSessions()
	if err != nil {
		return app, err
	}

	queue := sheets.NewClient(nil, time.Duration(cfg.Queue.TimeoutSeconds)*time.Second, logger).
		WithWriteRetry(retry.NewExponential(cfg.Queue.WriteAttempts, 500*time.Millisecond, 5*time.Second))
	app.runner = pipeline.NewRunner(queue, opener, resolver, app.progressHub, pipeline.Options{
		Watchdog:      cfg.Watchdog(),
		PauseMin:      time.Duration(cfg.Pipeline.PauseMinMs) * time.Millisecond,
		PauseMax:      time.Duration(cfg.Pipeline.PauseMaxMs) * time.Millisecond,
		Archive:       app.archive,
		ArchivePrefix: cfg.Storage.Prefix,
		DebugSections: cfg.Pipeline.DebugSections,
		Logger:        logger,
	})
	app.dispatch = dispatcher.New(app.runner, uuid.New(), cfg.RunConfig, logger)
	logger.Info("application built",
		zap.String("storage", cfg.Storage.Backend),
		zap.Bool("history_postgres", app.pgHistory != nil),
		zap.Bool("pubsub", app.pubsubPublisher != nil),
		zap.String("domain", cfg.Marketplace.Domain),
	)
	return app, nil
}

// Serve runs the dispatcher and the HTTP API until ctx is canceled.
func (a *App) Serve(ctx context.Context) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		a.logger.Info("dispatcher started")
		a.dispatch.Run(ctx)
	}()

	apiServer := api.NewServer(a.dispatch, a.board, a.history, a.archive, api.Options{
		AuthEnabled:   a.cfg.Auth.Enabled,
		APIKey:        a.cfg.Auth.APIKey,
		ArchivePrefix: a.cfg.Storage.Prefix,
		Ready:         a.ready,
	}, a.logger)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- fmt.Errorf("http server: %w", err)
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	select {
	case <-dispatchDone:
	case <-shutdownCtx.Done():
		a.logger.Warn("active run did not stop before shutdown deadline")
	}

	select {
	case err := <-serveErr:
		return err
	default:
		return nil
	}
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// RunOnce executes a single run in the foreground.
func (a *App) RunOnce(ctx context.Context) (pipeline.Report, error) {
	return a.dispatch.RunOnce(ctx) //nolint:wrapcheck // already names the run
}

// Close gracefully shuts down the application. Events still buffered in the
// hub are flushed to the sinks before their backends are closed.
func (a *App) Close(ctx context.Context) {
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.browser != nil {
		a.browser.Close()
	}
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.closeCache != nil {
		if err := a.closeCache(); err != nil {
			a.logger.Warn("redis close failed", zap.Error(err))
		}
	}
	a.pgHistory.Close()
	if err := a.telemetry.Shutdown(ctx); err != nil {
		a.logger.Warn("telemetry shutdown failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
}

func (a *App) setupStorage(ctx context.Context) error {
	var err error
	switch a.cfg.Storage.Backend {
	case "gcs":
		a.storage, err = storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("gcs client init failed: %w", err)
		}
		a.archive, err = gcsstorage.New(a.storage, gcsstorage.Config{Bucket: a.cfg.Storage.GCSBucket})
		if err != nil {
			return fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.logger.Info("using GCS item archive", zap.String("bucket", a.cfg.Storage.GCSBucket))
	case "local":
		a.archive, err = localstorage.New(localstorage.Config{BaseDir: a.cfg.Storage.BaseDir})
		if err != nil {
			return fmt.Errorf("local blob store init failed: %w", err)
		}
		a.logger.Info("using local item archive", zap.String("path", a.cfg.Storage.BaseDir))
	default:
		a.logger.Info("using in-memory item archive")
		a.archive = memorystorage.NewBlobStore()
	}
	return nil
}

func (a *App) setupHistory(ctx context.Context) error {
	if a.cfg.DB.DSN == "" {
		a.logger.Warn("no DSN specified for database, run history is kept in memory")
		a.history = memorystorage.NewRunStore()
		return nil
	}
	pg, err := pgstore.NewRunStore(ctx, pgstore.Config{
		DSN:         a.cfg.DB.DSN,
		TablePrefix: a.cfg.DB.TablePrefix,
	})
	if err != nil {
		return fmt.Errorf("run history init failed: %w", err)
	}
	a.pgHistory = pg
	if err := pg.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("run history schema: %w", err)
	}
	a.history = pg
	a.ready["history"] = pg.Ping
	a.logger.Info("run history initialized", zap.String("table_prefix", a.cfg.DB.TablePrefix))
	return nil
}

func (a *App) setupPublisher(ctx context.Context) (publisher.Publisher, error) {
	if a.cfg.PubSub.TopicName == "" {
		a.logger.Info("no Pub/Sub topic configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	var err error
	a.pubsubClient, err = pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	p := a.pubsubClient.Publisher(a.cfg.PubSub.TopicName)
	p.EnableMessageOrdering = true
	a.pubsubPublisher = gcppublisher.New(p)
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return a.pubsubPublisher, nil
}

func (a *App) setupProgress(ctx context.Context, pub publisher.Publisher) error {
	promSink, err := progresssinks.NewPrometheusSink(a.registerer)
	if err != nil {
		return fmt.Errorf("progress metrics init failed: %w", err)
	}
	a.board = progresssinks.NewStatusBoard()
	a.progressHub = progress.NewHub(progress.Config{
		BaseContext: ctx,
		Logger:      a.logger,
	},
		progresssinks.NewLogSink(a.logger),
		promSink,
		a.board,
		progresssinks.NewStoreSink(a.history, a.logger),
		progresssinks.NewNotifySink(pub, a.logger),
	)
	return nil
}

func (a *App) setupOCR(ctx context.Context) (*ocr.Resolver, error) {
	limiter := ratelimit.New(ratelimit.Config{DefaultRPS: a.cfg.OCR.RequestsPerSecond, DefaultBurst: 1})
	opts := ocr.Options{
		Provider: ocrspace.New(ocrspace.Config{
			GetEndpoint:  a.cfg.OCR.GetEndpoint,
			PostEndpoint: a.cfg.OCR.PostEndpoint,
			GetTimeout:   time.Duration(a.cfg.OCR.GetTimeoutSeconds) * time.Second,
			PostTimeout:  time.Duration(a.cfg.OCR.PostTimeoutSeconds) * time.Second,
			Limiter:      limiter,
		}),
		FallbackKeys: a.cfg.OCR.FallbackKeys,
		KeyBackoff:   time.Duration(a.cfg.OCR.KeyBackoffMs) * time.Millisecond,
		LocalTimeout: time.Duration(a.cfg.OCR.TesseractTimeoutSec) * time.Second,
		Concurrency:  a.cfg.OCR.Concurrency,
		TaskTimeout:  a.cfg.OCRTaskTimeout(),
		Logger:       a.logger,
	}
	if a.cfg.OCR.ExtractServiceURL != "" {
		opts.Service = extractsvc.New(a.cfg.OCR.ExtractServiceURL, 0, nil)
	}
	engine, err := tesseract.New(a.cfg.OCR.TesseractPath, "", nil)
	if err != nil {
		a.logger.Warn("local OCR engine unavailable", zap.Error(err))
	} else {
		opts.Local = engine
	}

	if a.cfg.Cache.RedisAddr != "" {
		redisCache, closeFn, err := cache.Dial(ctx, a.cfg.Cache.RedisAddr, a.cfg.CacheTTL())
		if err != nil {
			return nil, fmt.Errorf("ocr cache init failed: %w", err)
		}
		a.closeCache = closeFn
		opts.Cache = redisCache
		a.logger.Info("using redis OCR cache", zap.String("addr", a.cfg.Cache.RedisAddr))
	} else {
		opts.Cache = cache.NewMemory(a.cfg.CacheTTL())
	}
	return ocr.NewResolver(opts), nil
}

func (a *App) setupSessions() (pipeline.Opener, error) {
	b, err := browser.NewChromedp(browser.Config{
		MaxTabs:           a.cfg.Browser.MaxTabs,
		Headless:          a.cfg.Browser.Headless,
		ExecPath:          a.cfg.Browser.ExecPath,
		UserAgent:         a.cfg.Browser.UserAgent,
		NavigationTimeout: time.Duration(a.cfg.Browser.NavTimeoutSeconds) * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("browser init failed: %w", err)
	}
	a.browser = b

	bus := message.NewBus()
	host := agent.NewHost(bus, agent.Options{
		SettleDelay: time.Duration(a.cfg.Browser.SettleDelayMs) * time.Millisecond,
		MaxImages:   a.cfg.Pipeline.MaxImages,
		Logger:      a.logger,
	})
	tabs := session.BrowserFunc(func(ctx context.Context) (session.Tab, error) {
		tab, err := b.NewTab(ctx)
		if err != nil {
			return nil, err //nolint:wrapcheck // wrapped by the coordinator
		}
		return tab, nil
	})
	coordinator := session.NewCoordinator(tabs, host, bus, session.Options{
		ScrapeTimeout:   a.cfg.ScrapeTimeout(),
		AgentRetries:    a.cfg.Browser.AgentRetries,
		AgentRetryDelay: time.Duration(a.cfg.Browser.AgentRetryDelayMs) * time.Millisecond,
		Logger:          a.logger,
	})
	return pipeline.Coordinated{Coordinator: coordinator, ScrapeTimeout: a.cfg.ScrapeTimeout()}, nil
}
