// Package app builds the services a single run needs from configuration and
// owns their lifetimes.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitespider/internal/clock/system"
	"github.com/JakeFAU/sitespider/internal/config"
	"github.com/JakeFAU/sitespider/internal/extract"
	collyfetcher "github.com/JakeFAU/sitespider/internal/fetcher/colly"
	"github.com/JakeFAU/sitespider/internal/id/uuid"
	"github.com/JakeFAU/sitespider/internal/links"
	"github.com/JakeFAU/sitespider/internal/logging"
	"github.com/JakeFAU/sitespider/internal/metrics"
	"github.com/JakeFAU/sitespider/internal/output"
	pubsubpublisher "github.com/JakeFAU/sitespider/internal/publisher/pubsub"
	"github.com/JakeFAU/sitespider/internal/spider"
	gcsstorage "github.com/JakeFAU/sitespider/internal/storage/gcs"
	localstorage "github.com/JakeFAU/sitespider/internal/storage/local"
	memorystorage "github.com/JakeFAU/sitespider/internal/storage/memory"
	"github.com/JakeFAU/sitespider/internal/storage/postgres"
)

const (
	shutdownTimeout = 5 * time.Second
	notifyTimeout   = 10 * time.Second
)

// App holds everything wired for one pipeline run.
type App struct {
	cfg    config.Config
	runID  string
	clock  system.Clock
	logger *zap.Logger

	registry      *prometheus.Registry
	metrics       *metrics.Metrics
	metricsServer *metrics.Server

	fetcher    *collyfetcher.Fetcher
	discoverer *links.Discoverer
	extractor  spider.Extractor
	sink       spider.Sink

	records      *postgres.RecordStore
	publisher    *pubsubpublisher.Publisher
	ownedClients []func() error
}

type options struct {
	logger        *zap.Logger
	blobStore     output.BlobStore
	storageClient *storage.Client
	pubsubClient  *pubsub.Client
}

// Option overrides a service New would otherwise build itself.
type Option func(*options)

// WithLogger replaces the logger built from cfg.Logging.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithBlobStore replaces the store selected by output.store.
func WithBlobStore(store output.BlobStore) Option {
	return func(o *options) { o.blobStore = store }
}

// WithStorageClient supplies the GCS client used by the gcs store. The caller
// keeps ownership.
func WithStorageClient(client *storage.Client) Option {
	return func(o *options) { o.storageClient = client }
}

// WithPubSubClient supplies the client used for run notifications. The caller
// keeps ownership.
func WithPubSubClient(client *pubsub.Client) Option {
	return func(o *options) { o.pubsubClient = client }
}

// New creates and initializes the services described by cfg. It fails fast
// if any configured service cannot be initialized.
func New(ctx context.Context, cfg config.Config, opts ...Option) (_ *App, err error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{cfg: cfg, clock: system.New()}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.logger = o.logger
	if a.logger == nil {
		if a.logger, err = logging.New(cfg.Logging); err != nil {
			return nil, fmt.Errorf("init logger: %w", err)
		}
	}

	a.runID = cfg.RunID
	if a.runID == "" {
		if a.runID, err = uuid.New().NewID(); err != nil {
			return nil, fmt.Errorf("generate run id: %w", err)
		}
	}
	a.logger = a.logger.With(zap.String("run_id", a.runID))
	a.logger.Info("initializing services", zap.Bool("uuid_run_id", uuid.Valid(a.runID)))

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = metrics.New(a.registry)
	if cfg.Metrics.Addr != "" {
		a.metricsServer = metrics.NewServer(cfg.Metrics.Addr, a.registry, a.logger.Named("metrics"))
		if err = a.metricsServer.Start(); err != nil {
			a.metricsServer = nil
			return nil, fmt.Errorf("start metrics server: %w", err)
		}
	}

	a.fetcher = collyfetcher.New(collyfetcher.Config{
		UserAgent:     cfg.HTTP.UserAgent,
		Headers:       cfg.RequestHeaders(),
		RespectRobots: cfg.HTTP.RespectRobots,
		Timeout:       cfg.HTTP.Timeout,
		MaxBodySize:   cfg.HTTP.MaxBodySize,
	}, a.logger.Named("fetcher"), a.metrics)

	capture, err := links.NewMatcher(cfg.Links.CaptureKind, cfg.Links.Capture)
	if err != nil {
		return nil, fmt.Errorf("init capture matcher: %w", err)
	}
	a.discoverer, err = links.NewDiscoverer(links.Config{
		BaseURL: cfg.Site.BaseURL,
		Exclude: cfg.Links.Exclude,
		Capture: capture,
	})
	if err != nil {
		return nil, fmt.Errorf("init link discoverer: %w", err)
	}

	a.extractor, err = extract.New(cfg.Extract.Strategy, cfg.Extraction(), a.fetcher)
	if err != nil {
		return nil, fmt.Errorf("init extractor: %w", err)
	}

	if a.sink, err = a.buildSink(ctx, o); err != nil {
		return nil, err
	}

	if cfg.PubSub.Topic != "" {
		client := o.pubsubClient
		if client == nil {
			a.logger.Info("connecting to pubsub", zap.String("project", cfg.PubSub.ProjectID))
			if client, err = pubsub.NewClient(ctx, cfg.PubSub.ProjectID); err != nil {
				return nil, fmt.Errorf("init pubsub client: %w", err)
			}
			a.ownedClients = append(a.ownedClients, client.Close)
		}
		a.publisher = pubsubpublisher.New(client.Topic(cfg.PubSub.Topic))
	}

	a.logger.Info("services initialized",
		zap.String("store", cfg.Output.Store),
		zap.Bool("postgres", a.records != nil),
		zap.Bool("pubsub", a.publisher != nil),
	)
	return a, nil
}

func (a *App) buildSink(ctx context.Context, o options) (spider.Sink, error) {
	store := o.blobStore
	if store == nil {
		var err error
		if store, err = a.buildBlobStore(ctx, o); err != nil {
			return nil, err
		}
	}
	format, err := output.ParseFormat(a.cfg.Output.Format)
	if err != nil {
		return nil, err
	}
	fileSink, err := output.NewFileSink(store, format,
		output.WithPrefix(a.cfg.Output.Prefix),
		output.WithNow(a.clock.Now),
		output.WithLogger(a.logger.Named("output")),
	)
	if err != nil {
		return nil, fmt.Errorf("init file sink: %w", err)
	}
	if a.cfg.Postgres.DSN == "" {
		return fileSink, nil
	}

	a.logger.Info("connecting to postgres", zap.String("table", a.cfg.Postgres.Table))
	a.records, err = postgres.NewRecordStore(ctx, postgres.RecordStoreConfig{
		DSN:      a.cfg.Postgres.DSN,
		Table:    a.cfg.Postgres.Table,
		RunID:    a.runID,
		MaxConns: a.cfg.Postgres.MaxConns,
	})
	if err != nil {
		return nil, fmt.Errorf("init record store: %w", err)
	}
	if a.cfg.Postgres.EnsureSchema {
		if err := a.records.EnsureSchema(ctx); err != nil {
			return nil, err
		}
	}
	return output.Multi{fileSink, a.records}, nil
}

func (a *App) buildBlobStore(ctx context.Context, o options) (output.BlobStore, error) {
	switch a.cfg.Output.Store {
	case config.StoreLocal:
		store, err := localstorage.New(localstorage.Config{Dir: a.cfg.Output.Dir})
		if err != nil {
			return nil, fmt.Errorf("init local store: %w", err)
		}
		return store, nil
	case config.StoreGCS:
		client := o.storageClient
		if client == nil {
			a.logger.Info("using gcs store", zap.String("bucket", a.cfg.Output.Bucket))
			var err error
			if client, err = storage.NewClient(ctx); err != nil {
				return nil, fmt.Errorf("init storage client: %w", err)
			}
			a.ownedClients = append(a.ownedClients, client.Close)
		}
		store, err := gcsstorage.New(client, gcsstorage.Config{
			Bucket:   a.cfg.Output.Bucket,
			Metadata: map[string]string{"run_id": a.runID},
		})
		if err != nil {
			return nil, fmt.Errorf("init gcs store: %w", err)
		}
		return store, nil
	case config.StoreMemory:
		a.logger.Warn("using memory store; records are discarded at exit")
		return memorystorage.NewBlobStore(), nil
	default:
		return nil, fmt.Errorf("unknown output store %q", a.cfg.Output.Store)
	}
}

// Logger returns the run-scoped logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// RunID returns the identifier attached to logs, objects and rows.
func (a *App) RunID() string {
	return a.runID
}

// Gatherer exposes the run's metrics registry.
func (a *App) Gatherer() prometheus.Gatherer {
	return a.registry
}

// Run executes the pipeline once and announces the outcome when a topic is
// configured. A failed notification is logged but does not fail the run.
func (a *App) Run(ctx context.Context) (spider.Result, error) {
	pc := a.cfg.Pipeline(a.runID)
	seed := pc.StartURL
	if seed == "" {
		seed = pc.BaseURL
	}
	// The seed must match the form of discovered links or the start page is
	// crawled twice.
	start, err := a.discoverer.Canonical(seed)
	if err != nil {
		return spider.Result{}, fmt.Errorf("normalize start url: %w", err)
	}
	pc.StartURL = start

	pipeline, err := spider.NewPipeline(
		pc,
		a.fetcher,
		a.discoverer,
		a.extractor,
		spider.WithSink(a.sink),
		spider.WithClock(a.clock),
		spider.WithMetrics(a.metrics),
		spider.WithLogger(a.logger.Named("pipeline")),
	)
	if err != nil {
		return spider.Result{}, fmt.Errorf("build pipeline: %w", err)
	}

	res, runErr := pipeline.Run(ctx)
	a.notify(res, runErr)
	return res, runErr
}

func (a *App) notify(res spider.Result, runErr error) {
	if a.publisher == nil {
		return
	}
	// The run context may already be canceled; the summary should still go out.
	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()
	summary := pubsubpublisher.NewSummary(a.runID, a.cfg.Site.BaseURL, res, runErr, a.clock.Now())
	id, err := a.publisher.Publish(ctx, summary)
	if err != nil {
		a.logger.Warn("failed to publish run summary", zap.Error(err))
		return
	}
	a.logger.Info("run summary published", zap.String("message_id", id), zap.String("outcome", summary.Outcome))
}

// Close shuts down all services. It is safe to call on a partially built App.
func (a *App) Close() {
	logger := a.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if a.metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			logger.Warn("error stopping metrics server", zap.Error(err))
		}
		cancel()
	}
	if a.publisher != nil {
		a.publisher.Stop()
	}
	if a.records != nil {
		a.records.Close()
	}
	if a.fetcher != nil {
		a.fetcher.Close()
	}
	var errs []error
	for i := len(a.ownedClients) - 1; i >= 0; i-- {
		errs = append(errs, a.ownedClients[i]())
	}
	if err := errors.Join(errs...); err != nil {
		logger.Warn("error closing clients", zap.Error(err))
	}
	// Sync fails on stderr for some platforms; there is nothing left to report it to.
	_ = logger.Sync()
}
