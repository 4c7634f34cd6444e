// Package app wires configuration into the store, the upstream clients and
// the pipeline services shared by the CLI and the server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/raphaelgruber/sludgewire/internal/config"
	"github.com/raphaelgruber/sludgewire/internal/db"
	"github.com/raphaelgruber/sludgewire/internal/fecapi"
	"github.com/raphaelgruber/sludgewire/internal/feed"
	"github.com/raphaelgruber/sludgewire/internal/fetch"
	"github.com/raphaelgruber/sludgewire/internal/lookup"
	"github.com/raphaelgruber/sludgewire/internal/memstore"
	"github.com/raphaelgruber/sludgewire/internal/metrics"
	"github.com/raphaelgruber/sludgewire/internal/notify"
	"github.com/raphaelgruber/sludgewire/internal/parser"
	"github.com/raphaelgruber/sludgewire/internal/pgstore"
	"github.com/raphaelgruber/sludgewire/internal/ratelimit"
	"github.com/raphaelgruber/sludgewire/internal/service"
)

// Store is a pipeline store that owns a connection.
type Store interface {
	service.Store
	Close(ctx context.Context) error
}

var (
	_ Store = (*db.Client)(nil)
	_ Store = (*pgstore.Store)(nil)
	_ Store = (*memstore.Store)(nil)
)

// wiper is implemented by stores that can be emptied for tests.
type wiper interface {
	WipeData(ctx context.Context) error
}

// App holds every long-lived dependency.
type App struct {
	Store    Store
	Metrics  *metrics.Collector
	Pipeline *service.Pipeline
	Ingest   *service.IngestService
	Alerts   *service.AlertService
	Poller   *service.Poller
	Backfill *service.BackfillService
	Jobs     *service.JobManager
	Cooldown ratelimit.Cooldown

	cfg    config.Config
	logger *slog.Logger
}

// New opens the configured store and builds the services on top of it.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	store, err := OpenStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return NewWithStore(cfg, store, logger), nil
}

// OpenStore connects the backend named by cfg.StoreBackend and ensures its schema.
func OpenStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (Store, error) {
	switch cfg.StoreBackend {
	case config.BackendSurrealDB:
		client, err := db.NewClient(ctx, db.Config{
			URL:       cfg.SurrealDBURL,
			Namespace: cfg.SurrealDBNamespace,
			Database:  cfg.SurrealDBDatabase,
			Username:  cfg.SurrealDBUser,
			Password:  cfg.SurrealDBPass,
			AuthLevel: cfg.SurrealDBAuthLevel,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("connect to surrealdb: %w", err)
		}
		if err := client.InitSchema(ctx); err != nil {
			_ = client.Close(ctx)
			return nil, fmt.Errorf("initialize schema: %w", err)
		}
		return client, nil

	case config.BackendPostgres:
		s, err := pgstore.Open(ctx, pgstore.Config{URL: cfg.PostgresURL, MaxConns: cfg.PostgresMaxConns}, logger)
		if err != nil {
			return nil, err
		}
		if err := s.InitSchema(ctx); err != nil {
			_ = s.Close(ctx)
			return nil, fmt.Errorf("initialize schema: %w", err)
		}
		return s, nil

	case config.BackendMemory:
		logger.Warn("using in-memory store; nothing survives the process")
		return memstore.New(), nil
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
}

// NewWithStore builds the services on an open store.
func NewWithStore(cfg config.Config, store Store, logger *slog.Logger) *App {
	if logger == nil {
		logger = slog.Default()
	}
	m := metrics.NewCollector()

	resolver := lookup.NewResolver(store, lookup.DefaultCacheSize, logger)
	recorder := service.NewRecorder(store, resolver, cfg.ReceiptsThreshold, m, logger)
	pipeline := service.NewPipeline(store, fetch.New(nil, m), parser.New(), recorder, m, logger)

	ingest := service.NewIngestService(store, feed.NewReader(nil, m), pipeline, m, logger)
	alerts := service.NewAlertService(store, notify.NewLogNotifier(logger), cfg.ReceiptsThreshold, logger)
	poller := service.NewPoller(ingest, alerts, SummaryFeed(cfg), EventFeeds(cfg), logger)

	maxMB := cfg.MaxFileSizeMB
	api := fecapi.New(cfg.APIBaseURL, cfg.APIKey, nil, m)
	backfill := service.NewBackfillService(store, api, pipeline, service.BackfillOptions{
		StaleAfter:  cfg.BackfillStaleAfter,
		MaxSizeMB:   &maxMB,
		HeaderBytes: cfg.HeaderBytes,
	}, logger)

	return &App{
		Store:    store,
		Metrics:  m,
		Pipeline: pipeline,
		Ingest:   ingest,
		Alerts:   alerts,
		Poller:   poller,
		Backfill: backfill,
		Jobs:     service.NewJobManager(cfg.BackfillWorkers, backfill, logger),
		Cooldown: newCooldown(cfg, logger),
		cfg:      cfg,
		logger:   logger,
	}
}

// SummaryFeed is the live F3X feed.
func SummaryFeed(cfg config.Config) service.FeedSpec {
	return service.FeedSpec{
		Source:       service.SummarySource,
		URL:          cfg.F3XFeed,
		Kind:         service.KindSummary,
		HeaderBytes:  cfg.HeaderBytes,
		RetryClaimed: true,
	}
}

// EventFeeds are the live independent expenditure feeds. Each feed URL is
// its own claim source.
func EventFeeds(cfg config.Config) []service.FeedSpec {
	specs := make([]service.FeedSpec, 0, len(cfg.IEFeeds))
	for _, u := range cfg.IEFeeds {
		maxMB := cfg.MaxFileSizeMB
		specs = append(specs, service.FeedSpec{
			Source:       u,
			URL:          u,
			Kind:         service.KindEvents,
			MaxSizeMB:    &maxMB,
			RetryClaimed: true,
		})
	}
	return specs
}

func newCooldown(cfg config.Config, logger *slog.Logger) ratelimit.Cooldown {
	if cfg.RedisAddr == "" {
		return ratelimit.NewMemoryCooldown(cfg.TriggerCooldown)
	}
	logger.Info("using shared trigger cooldown", "redis", cfg.RedisAddr)
	return ratelimit.NewRedisCooldown(cfg.RedisAddr, cfg.RedisPassword, 0, cfg.TriggerCooldown)
}

// WipeData empties the store. Use for testing only.
func (a *App) WipeData(ctx context.Context) error {
	w, ok := a.Store.(wiper)
	if !ok {
		return errors.New("store does not support wiping")
	}
	return w.WipeData(ctx)
}

// Close releases the store and the cooldown backend.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if c, ok := a.Cooldown.(interface{ Close() error }); ok {
		errs = append(errs, c.Close())
	}
	if a.Store != nil {
		errs = append(errs, a.Store.Close(ctx))
	}
	return errors.Join(errs...)
}
