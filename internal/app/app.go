// Package app initializes and holds long-lived application services, acting as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/craftwatch/internal/cache"
	"github.com/JakeFAU/craftwatch/internal/clock/system"
	"github.com/JakeFAU/craftwatch/internal/config"
	"github.com/JakeFAU/craftwatch/internal/crawler"
	"github.com/JakeFAU/craftwatch/internal/enrich"
	"github.com/JakeFAU/craftwatch/internal/executor"
	collyfetcher "github.com/JakeFAU/craftwatch/internal/fetcher/colly"
	"github.com/JakeFAU/craftwatch/internal/hash/sha256"
	"github.com/JakeFAU/craftwatch/internal/policy/ratelimit"
	"github.com/JakeFAU/craftwatch/internal/publisher/pubsub"
	"github.com/JakeFAU/craftwatch/internal/results"
	"github.com/JakeFAU/craftwatch/internal/storage/gcs"
	"github.com/JakeFAU/craftwatch/internal/storage/local"
	"github.com/JakeFAU/craftwatch/internal/storage/memory"
	"github.com/JakeFAU/craftwatch/internal/storage/postgres"
)

// App holds the shared, long-lived services: blob storage, the run store,
// the publisher, the results manager and the per-host limiter. It is built
// once at startup and handed to commands.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	blobs     crawler.BlobStore
	runs      crawler.RunStore
	publisher crawler.Publisher
	results   *results.Manager
	limiter   *ratelimit.Limiter
	hasher    crawler.Hasher
	clock     crawler.Clock
	transport http.RoundTripper
	closers   []func() error
}

// Option overrides a service, mainly for tests.
type Option func(*App)

// WithBlobStore replaces the configured cache/results backend.
func WithBlobStore(store crawler.BlobStore) Option {
	return func(a *App) { a.blobs = store }
}

// WithRunStore replaces the configured run store.
func WithRunStore(runs crawler.RunStore) Option {
	return func(a *App) { a.runs = runs }
}

// WithPublisher replaces the configured publisher.
func WithPublisher(publisher crawler.Publisher) Option {
	return func(a *App) { a.publisher = publisher }
}

// WithTransport sets the HTTP transport used by every fetch channel.
func WithTransport(rt http.RoundTripper) Option {
	return func(a *App) { a.transport = rt }
}

// WithClock replaces the wall clock.
func WithClock(clock crawler.Clock) Option {
	return func(a *App) { a.clock = clock }
}

// New creates and initializes the App from cfg. It fails fast if any
// configured service cannot be initialized.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{
		cfg:    cfg,
		logger: logger,
		hasher: sha256.New(),
		clock:  system.New(),
	}
	for _, opt := range opts {
		opt(a)
	}
	logger.Info("Initializing application services...")

	if err := a.initBlobStore(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	if err := a.initRunStore(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	if err := a.initPublisher(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}

	resultOpts := []results.Option{results.WithLogger(logger), results.WithRunStore(a.runs)}
	if a.publisher != nil {
		resultOpts = append(resultOpts, results.WithPublisher(a.publisher))
	}
	manager, err := results.New(a.blobs, results.Config{Prefix: cfg.Results.Prefix, Topic: cfg.PubSub.Topic}, resultOpts...)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("init results: %w", err)
	}
	a.results = manager

	if cfg.Fetch.HostRPS > 0 {
		a.limiter = ratelimit.New(ratelimit.Config{DefaultRPS: cfg.Fetch.HostRPS, DefaultBurst: cfg.Fetch.HostBurst})
	}

	logger.Info("Application services initialized successfully.")
	return a, nil
}

func (a *App) initBlobStore(ctx context.Context) error {
	if a.blobs != nil {
		return nil
	}
	switch a.cfg.Cache.Backend {
	case config.BackendMemory:
		a.logger.Info("Using in-memory blob store. Pages and snapshots are discarded on exit.")
		a.blobs = memory.NewBlobStore()
	case config.BackendLocal:
		store, err := local.New(local.Config{BaseDir: a.cfg.Cache.Dir})
		if err != nil {
			return fmt.Errorf("init local store: %w", err)
		}
		a.logger.Info("Using local blob store", zap.String("dir", a.cfg.Cache.Dir))
		a.blobs = store
	case config.BackendGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("create storage client: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		store, err := gcs.New(client, gcs.Config{Bucket: a.cfg.Cache.Bucket})
		if err != nil {
			return fmt.Errorf("init gcs store: %w", err)
		}
		a.logger.Info("Using GCS blob store", zap.String("bucket", a.cfg.Cache.Bucket))
		a.blobs = store
	default:
		return fmt.Errorf("unknown cache backend: %s", a.cfg.Cache.Backend)
	}
	return nil
}

func (a *App) initRunStore(ctx context.Context) error {
	if a.runs != nil {
		return nil
	}
	if a.cfg.DB.DSN == "" {
		a.logger.Info("No db.dsn set. Run history is kept in memory.")
		a.runs = memory.NewRunStore()
		return nil
	}
	a.logger.Info("Connecting to PostgreSQL...")
	store, err := postgres.NewRunStore(ctx, postgres.RunStoreConfig{
		DSN:      a.cfg.DB.DSN,
		Table:    a.cfg.DB.Table,
		MaxConns: int32(a.cfg.DB.MaxOpenConns),
	})
	if err != nil {
		return fmt.Errorf("init run store: %w", err)
	}
	a.closers = append(a.closers, func() error { store.Close(); return nil })
	if err := store.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure run schema: %w", err)
	}
	a.runs = store
	return nil
}

func (a *App) initPublisher(ctx context.Context) error {
	if a.publisher != nil || a.cfg.PubSub.ProjectID == "" {
		return nil
	}
	a.logger.Info("Connecting to GCP Pub/Sub", zap.String("topic", a.cfg.PubSub.Topic))
	pub, err := pubsub.Dial(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return fmt.Errorf("init publisher: %w", err)
	}
	a.closers = append(a.closers, pub.Close)
	a.publisher = pub
	return nil
}

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config {
	return a.cfg
}

// Results returns the inventory snapshot manager.
func (a *App) Results() *results.Manager {
	return a.results
}

// Runs returns the run store.
func (a *App) Runs() crawler.RunStore {
	return a.runs
}

// RetrieverFactory opens, per brewery, a fetch channel behind the page cache
// for asOf. Closing the returned retriever stops the channel.
func (a *App) RetrieverFactory(asOf string) crawler.RetrieverFactory {
	return func(breweryID string) (crawler.RetrieveCloser, error) {
		logger := a.logger.With(zap.String("brewery", breweryID))
		opts := []collyfetcher.Option{collyfetcher.WithLogger(logger)}
		if a.limiter != nil {
			opts = append(opts, collyfetcher.WithLimiter(a.limiter))
		}
		if a.transport != nil {
			opts = append(opts, collyfetcher.WithTransport(a.transport))
		}
		channel := collyfetcher.New(collyfetcher.Config{
			UserAgent:       a.cfg.Fetch.UserAgent,
			Timeout:         a.cfg.Fetch.Timeout,
			RateLimitPeriod: a.cfg.Fetch.RateLimitPeriod,
			MaxAttempts:     a.cfg.Fetch.MaxRetries,
			QueueDepth:      a.cfg.Fetch.QueueDepth,
			Allow404:        a.cfg.Fetch.Allows404(breweryID),
		}, opts...)

		cached, err := cache.New(channel, a.blobs, a.hasher, cache.Config{
			AsOf:    asOf,
			Prefix:  a.cfg.Cache.Prefix,
			LRUSize: a.cfg.Cache.LRUSize,
		}, logger)
		if err != nil {
			_ = channel.Close()
			return nil, fmt.Errorf("init cache: %w", err)
		}
		return cache.WithCloser(cached, channel.Close), nil
	}
}

// Scrape runs scrapers for asOf (today when empty), enriches against the
// previous snapshot and writes the result. Nothing is written when every
// scraper failed.
func (a *App) Scrape(ctx context.Context, scrapers []crawler.Scraper, asOf string) (executor.Report, error) {
	if asOf == "" {
		asOf = system.Today(a.clock)
	}
	previous, err := a.results.Previous(ctx, asOf)
	if err != nil {
		a.logger.Warn("Could not load previous inventory; nothing will be marked new", zap.Error(err))
		previous = nil
	}

	exec, err := executor.New(a.RetrieverFactory(asOf), executor.Config{
		Adapter: crawler.AdapterConfig{MaxDepth: a.cfg.Crawl.MaxDepth, Stagger: a.cfg.Crawl.Stagger},
		AsOf:    asOf,
	},
		executor.WithLogger(a.logger),
		executor.WithClock(a.clock),
		executor.WithEnrichers(enrich.NewCategoriser(enrich.DefaultCategories), enrich.NewNewalyser(previous)),
	)
	if err != nil {
		return executor.Report{}, fmt.Errorf("init executor: %w", err)
	}

	report, err := exec.Run(ctx, scrapers)
	if err != nil {
		return report, err
	}
	uri, err := a.results.Write(ctx, report.Inventory, report.Stats)
	if err != nil {
		return report, fmt.Errorf("write results: %w", err)
	}
	a.logger.Info("Scrape complete",
		zap.String("uri", uri),
		zap.Int("items", len(report.Inventory.Items)),
		zap.Int("failed_breweries", len(report.Failed)),
	)
	return report, nil
}

// Close shuts down all services in reverse order of creation.
func (a *App) Close() error {
	a.logger.Info("Shutting down application services...")
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("Error closing service", zap.Error(err))
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
