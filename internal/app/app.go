// Package app initializes and holds long-lived application services, acting as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/config"
	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	dedupmemory "github.com/JakeFAU/catalog-crawler/internal/dedup/memory"
	dedupredis "github.com/JakeFAU/catalog-crawler/internal/dedup/redis"
	"github.com/JakeFAU/catalog-crawler/internal/dispatcher"
	"github.com/JakeFAU/catalog-crawler/internal/extract"
	collyfetcher "github.com/JakeFAU/catalog-crawler/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/catalog-crawler/internal/fetcher/headless"
	"github.com/JakeFAU/catalog-crawler/internal/hash/sha256"
	"github.com/JakeFAU/catalog-crawler/internal/headless/detector"
	"github.com/JakeFAU/catalog-crawler/internal/metrics"
	"github.com/JakeFAU/catalog-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/catalog-crawler/internal/progress"
	progresssinks "github.com/JakeFAU/catalog-crawler/internal/progress/sinks"
	amqppublisher "github.com/JakeFAU/catalog-crawler/internal/publisher/amqp"
	pubsubpublisher "github.com/JakeFAU/catalog-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/catalog-crawler/internal/sink/blobexport"
	"github.com/JakeFAU/catalog-crawler/internal/sink/jsonl"
	"github.com/JakeFAU/catalog-crawler/internal/sink/multi"
	"github.com/JakeFAU/catalog-crawler/internal/sink/publish"
	gcsstore "github.com/JakeFAU/catalog-crawler/internal/storage/gcs"
	localstore "github.com/JakeFAU/catalog-crawler/internal/storage/local"
	storagememory "github.com/JakeFAU/catalog-crawler/internal/storage/memory"
	"github.com/JakeFAU/catalog-crawler/internal/storage/postgres"
	"github.com/JakeFAU/catalog-crawler/internal/worker"
)

// RunStore is the run registry the app exposes: the crawler.RunStore
// contract plus live progress updates.
type RunStore interface {
	crawler.RunStore
	progresssinks.ProgressWriter
}

// Options carries collaborators that tests replace.
type Options struct {
	// Registerer receives the progress collectors. Defaults to
	// prometheus.DefaultRegisterer.
	Registerer prometheus.Registerer
}

// App holds all the shared, long-lived services for the application.
// It is initialized once at startup; every crawl run borrows its fetchers,
// limiter and stores and gets its own gate and record sink.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	runs       RunStore
	records    *storagememory.RunStore
	blobs      crawler.BlobStore
	hub        *progress.Hub
	dispatcher *dispatcher.Dispatcher

	pool       *pgxpool.Pool
	gcsClient  *storage.Client
	headless   *headlessfetcher.Fetcher
	redisGate  *dedupredis.Gate
	sharedGate crawler.DedupGate
	pubsub     *pubsubpublisher.Publisher
	amqp       *amqppublisher.Publisher
}

// New creates and initializes an App from cfg. It fails fast if any
// configured backend cannot be reached; partially opened services are
// released before returning.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts Options) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Registerer == nil {
		opts.Registerer = prometheus.DefaultRegisterer
	}
	metrics.Init()

	a := &App{cfg: cfg, logger: logger, records: storagememory.NewRunStore()}
	defer func() {
		if err != nil {
			if closeErr := a.Close(context.WithoutCancel(ctx)); closeErr != nil {
				logger.Warn("release partially initialized services", zap.Error(closeErr))
			}
		}
	}()

	logger.Info("initializing application services")
	if err := a.initPostgres(ctx); err != nil {
		return nil, err
	}
	if err := a.initBlobStore(ctx); err != nil {
		return nil, err
	}
	if err := a.initDedup(ctx); err != nil {
		return nil, err
	}
	if err := a.initPublishers(ctx); err != nil {
		return nil, err
	}
	if err := a.initProgress(opts.Registerer); err != nil {
		return nil, err
	}
	if err := a.initDispatcher(); err != nil {
		return nil, err
	}
	logger.Info("application services initialized",
		zap.String("storage", cfg.Storage.Backend),
		zap.String("dedup", cfg.Dedup.Backend),
		zap.Strings("sinks", cfg.Output.Sinks),
		zap.Bool("headless", cfg.Headless.Enabled),
	)
	return a, nil
}

func (a *App) initPostgres(ctx context.Context) error {
	a.runs = a.records
	if a.cfg.DB.DSN == "" {
		return nil
	}
	pool, err := postgres.NewPool(ctx, postgres.PoolConfig{
		DSN:             a.cfg.DB.DSN,
		MaxConns:        a.cfg.DB.MaxConns,
		MinConns:        a.cfg.DB.MinConns,
		MaxConnLifetime: time.Duration(a.cfg.DB.MaxConnLifetimeMinutes) * time.Minute,
	})
	if err != nil {
		return err
	}
	a.pool = pool

	if a.cfg.DB.StoreRuns {
		runs, err := postgres.NewRunStoreWithPool(pool)
		if err != nil {
			return err
		}
		if err := runs.EnsureSchema(ctx); err != nil {
			return err
		}
		a.runs = runs
	}
	if a.hasSink(config.SinkPostgres) {
		products, err := postgres.NewProductStoreWithPool(pool, a.cfg.Output.PostgresTable, "")
		if err != nil {
			return err
		}
		if err := products.EnsureSchema(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) initBlobStore(ctx context.Context) error {
	switch a.cfg.Storage.Backend {
	case config.BackendMemory:
		a.blobs = storagememory.NewBlobStore()
	case config.BackendLocal:
		store, err := localstore.New(localstore.Config{BaseDir: a.cfg.Storage.BaseDir})
		if err != nil {
			return fmt.Errorf("init local storage: %w", err)
		}
		a.blobs = store
	case config.BackendGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("init gcs client: %w", err)
		}
		a.gcsClient = client
		store, err := gcsstore.New(client, gcsstore.Config{Bucket: a.cfg.Storage.GCSBucket})
		if err != nil {
			return fmt.Errorf("init gcs storage: %w", err)
		}
		a.blobs = store
	default:
		return fmt.Errorf("unknown storage backend: %s", a.cfg.Storage.Backend)
	}
	return nil
}

func (a *App) initDedup(ctx context.Context) error {
	if a.cfg.Dedup.Backend != config.BackendRedis {
		a.sharedGate = dedupmemory.NewGate()
		return nil
	}
	rc := a.cfg.Dedup.Redis
	gate, err := dedupredis.New(ctx, dedupredis.Config{
		Addr:      rc.Addr,
		Password:  rc.Password,
		DB:        rc.DB,
		KeyPrefix: rc.KeyPrefix,
		TTL:       time.Duration(rc.TTLSeconds) * time.Second,
	})
	if err != nil {
		return fmt.Errorf("init redis dedup: %w", err)
	}
	a.redisGate = gate
	a.sharedGate = gate
	return nil
}

func (a *App) initPublishers(ctx context.Context) error {
	if a.hasSink(config.SinkPubSub) {
		pub, err := pubsubpublisher.New(ctx, pubsubpublisher.Config{ProjectID: a.cfg.PubSub.ProjectID})
		if err != nil {
			return fmt.Errorf("init pubsub: %w", err)
		}
		a.pubsub = pub
	}
	if a.hasSink(config.SinkAMQP) {
		pub, err := amqppublisher.New(amqppublisher.Config{URL: a.cfg.AMQP.URL})
		if err != nil {
			return fmt.Errorf("init amqp: %w", err)
		}
		a.amqp = pub
	}
	return nil
}

func (a *App) initProgress(reg prometheus.Registerer) error {
	promSink, err := progresssinks.NewPrometheusSink(reg)
	if err != nil {
		return fmt.Errorf("init progress metrics: %w", err)
	}
	sinks := []progress.Sink{
		progresssinks.NewRunStoreSink(a.runs, a.logger.Named("progress")),
		promSink,
	}
	if a.cfg.Progress.LogEvents {
		sinks = append(sinks, progresssinks.NewLogSink(a.logger.Named("progress")))
	}
	a.hub = progress.NewHub(progress.Config{
		BufferSize:     a.cfg.Progress.BufferSize,
		MaxBatchEvents: a.cfg.Progress.MaxBatchEvents,
		MaxBatchWait:   time.Duration(a.cfg.Progress.MaxBatchWaitMs) * time.Millisecond,
		Logger:         a.logger.Named("progress"),
	}, sinks...)
	return nil
}

func (a *App) initDispatcher() error {
	cc := a.cfg.Crawler
	deps := worker.Deps{
		Static: collyfetcher.New(collyfetcher.Config{
			UserAgent:     cc.UserAgent,
			RespectRobots: cc.RespectRobots,
			Timeout:       a.cfg.RequestTimeout(),
		}),
		Limiter: ratelimit.New(ratelimit.Config{
			DefaultRPS:   cc.RatePerHost,
			DefaultBurst: cc.BurstPerHost,
			PerSite:      cc.RatePerSite,
		}),
		Extractor: extract.New(a.cfg.ExtractSelectors(), extract.Options{TopOffers: a.cfg.Extract.TopOffers}),
		Blobs:     a.blobs,
		Hasher:    sha256.NewTruncated(32),
		Clock:     crawler.SystemClock{},
		Progress:  a.hub,
	}
	if a.cfg.Headless.Enabled {
		hf, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       a.cfg.Headless.MaxParallel,
			UserAgent:         cc.UserAgent,
			NavigationTimeout: time.Duration(a.cfg.Headless.NavTimeoutSec) * time.Second,
			SettleTimeout:     time.Duration(a.cfg.Headless.SettleTimeoutSec) * time.Second,
			Logger:            a.logger.Named("headless"),
		})
		if err != nil {
			return fmt.Errorf("init headless fetcher: %w", err)
		}
		a.headless = hf
		deps.Headless = hf
		if a.cfg.Headless.PromoteListings {
			deps.Detector = detector.NewHeuristic(a.cfg.Headless.PromotionThresh, a.cfg.Headless.ExpectMarkers...)
		}
	}

	retry := crawler.NewRetryPolicy(cc.MaxAttempts)
	if cc.BackoffInitialMs > 0 {
		retry.BaseDelay = time.Duration(cc.BackoffInitialMs) * time.Millisecond
	}
	if cc.BackoffMaxMs > 0 {
		retry.MaxDelay = time.Duration(cc.BackoffMaxMs) * time.Millisecond
	}
	a.dispatcher = dispatcher.New(dispatcher.Config{
		Concurrency: cc.Concurrency,
		Worker: worker.Config{
			StaticProducts:   !a.cfg.Headless.Enabled,
			SnapshotFailures: a.cfg.Storage.SnapshotFailures,
			BlobPrefix:       a.cfg.Storage.Prefix,
			Retry:            retry,
		},
	}, deps, a.logger)
	return nil
}

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Config returns the configuration the app was built from.
func (a *App) Config() config.Config {
	return a.cfg
}

// Runs returns the run registry.
func (a *App) Runs() RunStore {
	return a.runs
}

// Records returns the in-memory record store, or nil when the memory sink
// is not configured.
func (a *App) Records() *storagememory.RunStore {
	if !a.hasSink(config.SinkMemory) {
		return nil
	}
	return a.records
}

// Crawl runs one crawl with a fresh record sink and the configured dedup
// scope. The run must already exist in Runs.
func (a *App) Crawl(ctx context.Context, runID string, params crawler.RunParameters) (crawler.Summary, error) {
	sink, err := a.sinkFor(runID)
	if err != nil {
		return crawler.Summary{RunID: runID}, err
	}
	return a.dispatcher.Run(ctx, runID, params, a.gateFor(runID), sink)
}

func (a *App) gateFor(runID string) crawler.DedupGate {
	switch {
	case !a.cfg.Dedup.PerRun:
		return a.sharedGate
	case a.redisGate != nil:
		return a.redisGate.Scoped(runID)
	default:
		return dedupmemory.NewGate()
	}
}

func (a *App) sinkFor(runID string) (crawler.RecordSink, error) {
	named := make([]multi.Named, 0, len(a.cfg.Output.Sinks))
	fail := func(err error) (crawler.RecordSink, error) {
		for _, n := range named {
			if closeErr := n.Sink.Close(context.Background()); closeErr != nil {
				a.logger.Warn("close sink after setup failure", zap.String("sink", n.Name), zap.Error(closeErr))
			}
		}
		return nil, err
	}
	for _, name := range a.cfg.Output.Sinks {
		var (
			sink crawler.RecordSink
			err  error
		)
		switch name {
		case config.SinkJSONL:
			sink, err = jsonl.Open(a.cfg.JSONLPath(runID))
		case config.SinkMemory:
			sink = a.records.RecordSink(runID)
		case config.SinkPostgres:
			sink, err = postgres.NewProductStoreWithPool(a.pool, a.cfg.Output.PostgresTable, runID)
		case config.SinkBlob:
			sink, err = blobexport.New(a.blobs, blobexport.Key(a.cfg.Output.ExportPrefix, runID), a.logger)
		case config.SinkPubSub:
			sink, err = publish.New(a.pubsub, a.cfg.Output.PubSubTopic, runID, nil)
		case config.SinkAMQP:
			sink, err = publish.New(a.amqp, a.cfg.Output.AMQPQueue, runID, nil)
		default:
			err = fmt.Errorf("unknown output sink %q", name)
		}
		if err != nil {
			return fail(fmt.Errorf("open %s sink: %w", name, err))
		}
		named = append(named, multi.Named{Name: name, Sink: sink})
	}
	return multi.New(named...), nil
}

func (a *App) hasSink(name string) bool {
	for _, s := range a.cfg.Output.Sinks {
		if s == name {
			return true
		}
	}
	return false
}

// Close gracefully shuts down all services in the App container. The
// progress hub is flushed first so final run summaries reach the store.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close progress hub: %w", err))
		}
	}
	if a.headless != nil {
		a.headless.Close()
	}
	if a.redisGate != nil {
		if err := a.redisGate.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	if a.pubsub != nil {
		if err := a.pubsub.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pubsub: %w", err))
		}
	}
	if a.amqp != nil {
		if err := a.amqp.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close amqp: %w", err))
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close gcs client: %w", err))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
	return errors.Join(errs...)
}
