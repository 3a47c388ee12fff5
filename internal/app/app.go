// Package app initializes and holds long-lived application services, acting
// as a dependency injection container for the CLI commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/JakeFAU/parts-catalogue-crawler/internal/api"
	"github.com/JakeFAU/parts-catalogue-crawler/internal/browser"
	"github.com/JakeFAU/parts-catalogue-crawler/internal/clock"
	"github.com/JakeFAU/parts-catalogue-crawler/internal/config"
	"github.com/JakeFAU/parts-catalogue-crawler/internal/crawler"
	"github.com/JakeFAU/parts-catalogue-crawler/internal/id/uuid"
	"github.com/JakeFAU/parts-catalogue-crawler/internal/images"
	"github.com/JakeFAU/parts-catalogue-crawler/internal/metrics"
	"github.com/JakeFAU/parts-catalogue-crawler/internal/orchestrator"
	"github.com/JakeFAU/parts-catalogue-crawler/internal/pagination"
	gcppublisher "github.com/JakeFAU/parts-catalogue-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/parts-catalogue-crawler/internal/sink"
	gcsstorage "github.com/JakeFAU/parts-catalogue-crawler/internal/storage/gcs"
	localstorage "github.com/JakeFAU/parts-catalogue-crawler/internal/storage/local"
	memorystorage "github.com/JakeFAU/parts-catalogue-crawler/internal/storage/memory"
	mongostorage "github.com/JakeFAU/parts-catalogue-crawler/internal/storage/mongo"
	pgstore "github.com/JakeFAU/parts-catalogue-crawler/internal/storage/postgres"
	sqlitestore "github.com/JakeFAU/parts-catalogue-crawler/internal/storage/sqlite"
	"github.com/JakeFAU/parts-catalogue-crawler/internal/telemetry"
	"github.com/JakeFAU/parts-catalogue-crawler/internal/worker"
)

// Browsing supplies the catalogue collaborators. Tests replace the browser
// with fakes through Options.
type Browsing struct {
	Discovery crawler.Discovery
	Pages     crawler.PageOpener
}

// Options overrides collaborators that App would otherwise build from config.
type Options struct {
	// Browsing, when set, is used instead of launching a browser.
	Browsing *Browsing
	// Images, when set, replaces the HTTP image fetcher.
	Images crawler.ImageFetcher
	// Publisher, when set, replaces the configured event publisher.
	Publisher crawler.Publisher
}

// App holds the shared, long-lived services for one command invocation.
type App struct {
	cfg     config.Config
	logger  *zap.Logger
	metrics *metrics.Metrics
	opts    Options

	checkpoints crawler.CheckpointStore
	ready       api.ReadyFunc

	pgCheckpoints  *pgstore.CheckpointStore
	sqliteStore    *sqlitestore.CheckpointStore
	partsPool      *pgxpool.Pool
	mongoStore     *mongostorage.PartsStore
	gcsClient      *storage.Client
	pubsubClient   *pubsub.Client
	pubsubPub      *gcppublisher.Publisher
	browser        *browser.Browser
	tracerShutdown func(context.Context) error
}

// New opens the checkpoint store and observability stack. Crawl-only
// services are built lazily by Crawl.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger, metrics: metrics.New(), opts: opts}

	if cfg.Telemetry.Enabled {
		tp, err := telemetry.InitTracerProvider(ctx, telemetry.Config{
			ServiceName: cfg.Telemetry.ServiceName,
			SampleRatio: cfg.Telemetry.SampleRatio,
		})
		if err != nil {
			return nil, fmt.Errorf("tracer init failed: %w", err)
		}
		a.tracerShutdown = tp.Shutdown
	}

	if err := a.setupCheckpoints(ctx); err != nil {
		a.Close(ctx)
		return nil, err
	}
	return a, nil
}

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Checkpoints returns the checkpoint store.
func (a *App) Checkpoints() crawler.CheckpointStore {
	return a.checkpoints
}

// Metrics returns the metrics registry.
func (a *App) Metrics() *metrics.Metrics {
	return a.metrics
}

func (a *App) setupCheckpoints(ctx context.Context) error {
	cfg := a.cfg.Checkpoint
	switch cfg.Backend {
	case config.BackendSQLite:
		store, err := sqlitestore.Open(ctx, cfg.Path, cfg.BusyTimeout)
		if err != nil {
			return fmt.Errorf("sqlite checkpoint store init failed: %w", err)
		}
		a.sqliteStore = store
		a.checkpoints = store
		a.ready = store.Ping
		a.logger.Info("using sqlite checkpoint store", zap.String("path", cfg.Path))
	case config.BackendPostgres:
		pool, err := pgstore.NewPool(ctx, pgstore.PoolConfig{DSN: cfg.DSN})
		if err != nil {
			return fmt.Errorf("postgres checkpoint pool init failed: %w", err)
		}
		if err := pgstore.EnsureSchema(ctx, pool); err != nil {
			pool.Close()
			return err
		}
		store, err := pgstore.NewCheckpointStore(pool, cfg.Table, clock.System{})
		if err != nil {
			pool.Close()
			return fmt.Errorf("postgres checkpoint store init failed: %w", err)
		}
		a.pgCheckpoints = store
		a.checkpoints = store
		a.ready = pool.Ping
		a.logger.Info("using postgres checkpoint store", zap.String("table", cfg.Table))
	case config.BackendMemory:
		a.logger.Warn("using in-memory checkpoint store; progress will not survive restarts")
		a.checkpoints = memorystorage.NewCheckpointStore(clock.System{})
	default:
		return fmt.Errorf("unknown checkpoint backend: %s", cfg.Backend)
	}
	return nil
}

func (a *App) setupSink(ctx context.Context) (*sink.Writer, error) {
	var records []crawler.RecordStore
	if a.cfg.Sink.CSV.Enabled {
		csv, err := localstorage.NewCSVStore(a.cfg.Sink.CSV.Path)
		if err != nil {
			return nil, fmt.Errorf("csv sink init failed: %w", err)
		}
		records = append(records, csv)
		a.logger.Info("csv sink enabled", zap.String("path", a.cfg.Sink.CSV.Path))
	}
	if a.cfg.Sink.Postgres.Enabled {
		pool, err := pgstore.NewPool(ctx, pgstore.PoolConfig{
			DSN:      a.cfg.Sink.Postgres.DSN,
			MaxConns: a.cfg.Sink.Postgres.MaxConns,
		})
		if err != nil {
			return nil, fmt.Errorf("postgres sink pool init failed: %w", err)
		}
		a.partsPool = pool
		if err := pgstore.EnsureSchema(ctx, pool); err != nil {
			return nil, err
		}
		parts, err := pgstore.NewPartsStore(pool, a.cfg.Sink.Postgres.Table)
		if err != nil {
			return nil, fmt.Errorf("postgres sink init failed: %w", err)
		}
		records = append(records, parts)
		a.logger.Info("postgres sink enabled", zap.String("table", a.cfg.Sink.Postgres.Table))
	}
	if a.cfg.Sink.Mongo.Enabled {
		store, err := mongostorage.Connect(ctx, mongostorage.Config{
			URI:        a.cfg.Sink.Mongo.URI,
			Database:   a.cfg.Sink.Mongo.Database,
			Collection: a.cfg.Sink.Mongo.Collection,
		})
		if err != nil {
			return nil, fmt.Errorf("mongo sink init failed: %w", err)
		}
		a.mongoStore = store
		records = append(records, store)
		a.logger.Info("mongo sink enabled",
			zap.String("database", a.cfg.Sink.Mongo.Database),
			zap.String("collection", a.cfg.Sink.Mongo.Collection))
	}

	blobs, err := a.setupImageStore(ctx)
	if err != nil {
		return nil, err
	}
	writer, err := sink.New(blobs, a.logger, records...)
	if err != nil {
		return nil, fmt.Errorf("sink init failed: %w", err)
	}
	return writer, nil
}

func (a *App) setupImageStore(ctx context.Context) (crawler.BlobStore, error) {
	if !a.cfg.Images.Enabled {
		return nil, nil
	}
	cfg := a.cfg.Sink.Images
	switch cfg.Backend {
	case config.ImageBackendGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.gcsClient = client
		store, err := gcsstorage.New(client, gcsstorage.Config{Bucket: cfg.Bucket, Prefix: cfg.Prefix})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.logger.Info("using GCS image store", zap.String("bucket", cfg.Bucket))
		return store, nil
	default:
		store, err := localstorage.New(localstorage.Config{BaseDir: cfg.Dir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		a.logger.Info("using local image store", zap.String("dir", filepath.Clean(cfg.Dir)))
		return store, nil
	}
}

// setupPublisher returns nil when events are disabled and none was injected;
// the orchestrator then skips publishing.
func (a *App) setupPublisher(ctx context.Context) (crawler.Publisher, error) {
	if a.opts.Publisher != nil {
		return a.opts.Publisher, nil
	}
	if !a.cfg.Events.Enabled {
		return nil, nil
	}
	client, err := pubsub.NewClient(ctx, a.cfg.Events.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.pubsubClient = client
	a.pubsubPub = gcppublisher.New(client)
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.Events.ProjectID),
		zap.String("topic", a.cfg.Events.Topic))
	return a.pubsubPub, nil
}

func (a *App) setupBrowsing(ctx context.Context) (Browsing, error) {
	if a.opts.Browsing != nil {
		return *a.opts.Browsing, nil
	}
	b, err := browser.New(ctx, browser.Config{
		Headless:          a.cfg.Browser.Headless,
		ExecPath:          a.cfg.Browser.ExecPath,
		UserAgent:         a.cfg.Browser.UserAgent,
		NavigationTimeout: a.cfg.Browser.NavigationTimeout,
		PopupTimeout:      a.cfg.Browser.PopupTimeout,
		RevealStep:        a.cfg.Browser.RevealStep,
	}, a.logger)
	if err != nil {
		return Browsing{}, fmt.Errorf("browser init failed: %w", err)
	}
	a.browser = b
	return Browsing{Discovery: browser.NewDiscovery(b), Pages: browser.NewOpener(b)}, nil
}

func (a *App) imageFetcher() crawler.ImageFetcher {
	if a.opts.Images != nil {
		return a.opts.Images
	}
	cfg := images.DefaultConfig()
	cfg.Timeout = a.cfg.Images.Timeout
	cfg.RetryCount = a.cfg.Images.RetryCount
	cfg.RetryWait = a.cfg.Images.RetryWait
	cfg.CacheSize = a.cfg.Images.CacheSize
	cfg.CacheTTL = a.cfg.Images.CacheTTL
	cfg.MaxBytes = a.cfg.Images.MaxBytes
	cfg.UserAgent = a.cfg.Browser.UserAgent
	cfg.Referer = a.cfg.Images.Referer
	if cfg.Referer == "" {
		cfg.Referer = a.cfg.Crawl.CatalogueURL
	}
	return images.New(cfg, nil, a.logger)
}

// BuildOrchestrator wires the crawl pipeline.
func (a *App) BuildOrchestrator(ctx context.Context) (*orchestrator.Orchestrator, error) {
	writer, err := a.setupSink(ctx)
	if err != nil {
		return nil, err
	}
	publisher, err := a.setupPublisher(ctx)
	if err != nil {
		return nil, err
	}
	browsing, err := a.setupBrowsing(ctx)
	if err != nil {
		return nil, err
	}

	policy := a.cfg.RetryPolicy()
	paginator := pagination.New(pagination.Config{
		MinRevealInterval:      a.cfg.Pagination.MinRevealInterval,
		RevealWait:             a.cfg.Pagination.RevealWait,
		PollInterval:           a.cfg.Pagination.PollInterval,
		StabilityQuorum:        a.cfg.Pagination.StabilityQuorum,
		StabilityQuorumNoTotal: a.cfg.Pagination.StabilityQuorumNoTotal,
		MaxReveals:             a.cfg.Pagination.MaxReveals,
	}, a.logger)

	deps := worker.Deps{
		Store:     a.checkpoints,
		Pages:     browsing.Pages,
		Paginator: paginator,
		Sink:      writer,
		Policy:    policy,
		Metrics:   a.metrics,
	}
	if a.cfg.Images.Enabled {
		deps.Images = a.imageFetcher()
	}
	w, err := worker.New(deps, worker.Config{
		UnitTimeout: a.cfg.Crawl.UnitTimeout,
		FetchImages: a.cfg.Images.Enabled,
	}, a.logger)
	if err != nil {
		return nil, fmt.Errorf("worker init failed: %w", err)
	}

	orch, err := orchestrator.New(orchestrator.Deps{
		Discovery: browsing.Discovery,
		Store:     a.checkpoints,
		Worker:    w,
		Publisher: publisher,
		Policy:    policy,
		Metrics:   a.metrics,
		IDs:       uuid.New(),
	}, orchestrator.Config{
		Concurrency: a.cfg.Crawl.Concurrency,
		RetryFailed: a.cfg.Crawl.RetryFailed,
		Vehicles:    a.cfg.Crawl.Vehicles,
		EventsTopic: a.cfg.Events.Topic,
	}, a.logger)
	if err != nil {
		return nil, fmt.Errorf("orchestrator init failed: %w", err)
	}
	return orch, nil
}

// Crawl runs one crawl, serving the status API alongside it when enabled.
func (a *App) Crawl(ctx context.Context) (crawler.Summary, error) {
	if err := a.cfg.ValidateCatalogueURL(); err != nil {
		return crawler.Summary{}, err
	}
	orch, err := a.BuildOrchestrator(ctx)
	if err != nil {
		return crawler.Summary{}, err
	}

	serveCtx, stopServer := context.WithCancel(ctx)
	defer stopServer()
	serverDone := make(chan error, 1)
	if a.cfg.Server.Enabled {
		srv := api.NewServer(a.checkpoints, a.metrics, a.ready, api.Config{APIKey: a.cfg.Server.APIKey}, a.logger.Named("api"))
		go func() {
			serverDone <- srv.ListenAndServe(serveCtx, fmt.Sprintf(":%d", a.cfg.Server.Port))
		}()
	} else {
		close(serverDone)
	}

	summary, err := orch.Run(ctx, a.cfg.Crawl.CatalogueURL, a.cfg.Crawl.Force)
	stopServer()
	if serr := <-serverDone; serr != nil {
		a.logger.Warn("status server stopped with error", zap.Error(serr))
	}
	return summary, err
}

// Close gracefully shuts down all services in the App container.
func (a *App) Close(ctx context.Context) {
	if a.browser != nil {
		a.browser.Close()
	}
	if a.pubsubPub != nil {
		a.pubsubPub.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.mongoStore != nil {
		if err := a.mongoStore.Close(ctx); err != nil {
			a.logger.Warn("mongo client close failed", zap.Error(err))
		}
	}
	if a.partsPool != nil {
		a.partsPool.Close()
	}
	if a.pgCheckpoints != nil {
		a.pgCheckpoints.Close()
	}
	if a.sqliteStore != nil {
		if err := a.sqliteStore.Close(); err != nil {
			a.logger.Warn("sqlite close failed", zap.Error(err))
		}
	}
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
}
