// Package app initializes and holds long-lived application services,
// acting as a dependency injection container.
package app

import (
	"context"
	"fmt"

	gpubsub "cloud.google.com/go/pubsub"
	gcstorage "cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/vietphim/catalogd/internal/archive/gcs"
	"github.com/vietphim/catalogd/internal/archive/local"
	"github.com/vietphim/catalogd/internal/catalog"
	"github.com/vietphim/catalogd/internal/config"
	"github.com/vietphim/catalogd/internal/logging"
	notifypubsub "github.com/vietphim/catalogd/internal/notify/pubsub"
	"github.com/vietphim/catalogd/internal/progress"
	"github.com/vietphim/catalogd/internal/progress/sinks"
	"github.com/vietphim/catalogd/internal/storage/memory"
	"github.com/vietphim/catalogd/internal/storage/postgres"
	"github.com/vietphim/catalogd/internal/store"
)

// App holds the shared, long-lived services: logger, catalog store,
// progress hub, metrics registry, optional archiver and notifier. It is
// initialized once at startup and fails fast when a critical service
// cannot be built.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	catalog  store.CatalogStore
	registry *prometheus.Registry
	hub      *progress.Hub
	archiver catalog.Archiver
	notifier *notifypubsub.Publisher
}

// New builds the service container from configuration.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	logger.Info("initializing services")

	a := &App{
		cfg:      cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
	}

	if err := a.initStore(ctx); err != nil {
		return nil, err
	}
	if err := a.initArchiver(ctx); err != nil {
		return nil, err
	}
	if err := a.initHub(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *App) initStore(ctx context.Context) error {
	if a.cfg.DB.DSN == "" {
		a.logger.Warn("db.dsn not set, using in-memory catalog store")
		a.catalog = memory.NewCatalogStore()
		return nil
	}
	if a.cfg.DB.Migrate {
		a.logger.Info("applying schema migrations")
		if err := postgres.Migrate(a.cfg.DB.DSN); err != nil {
			return fmt.Errorf("migrate schema: %w", err)
		}
	}
	cs, err := postgres.NewCatalogStore(ctx, postgres.CatalogStoreConfig{
		DSN:      a.cfg.DB.DSN,
		MaxConns: a.cfg.DB.MaxConns,
		MinConns: a.cfg.DB.MinConns,
	})
	if err != nil {
		return fmt.Errorf("init catalog store: %w", err)
	}
	a.catalog = cs
	return nil
}

func (a *App) initArchiver(ctx context.Context) error {
	if !a.cfg.Archive.Enabled {
		return nil
	}
	if a.cfg.Archive.GCSBucket != "" {
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("init storage client: %w", err)
		}
		archiver, err := gcs.New(client, gcs.Config{Bucket: a.cfg.Archive.GCSBucket})
		if err != nil {
			return fmt.Errorf("init gcs archive: %w", err)
		}
		a.logger.Info("archiving raw payloads to gcs", zap.String("bucket", a.cfg.Archive.GCSBucket))
		a.archiver = archiver
		return nil
	}
	archiver, err := local.New(local.Config{BaseDir: a.cfg.Archive.Dir})
	if err != nil {
		return fmt.Errorf("init local archive: %w", err)
	}
	a.logger.Info("archiving raw payloads locally", zap.String("dir", a.cfg.Archive.Dir))
	a.archiver = archiver
	return nil
}

func (a *App) initHub(ctx context.Context) error {
	promSink, err := sinks.NewPrometheusSink(a.registry)
	if err != nil {
		return fmt.Errorf("init prometheus sink: %w", err)
	}
	hubSinks := []progress.Sink{promSink}

	if a.cfg.Logging.Development {
		hubSinks = append(hubSinks, sinks.NewLogSink(a.logger))
	}

	if a.cfg.Notify.Enabled {
		client, err := gpubsub.NewClient(ctx, a.cfg.Notify.ProjectID)
		if err != nil {
			return fmt.Errorf("init pubsub client: %w", err)
		}
		notifier, err := notifypubsub.New(client)
		if err != nil {
			return fmt.Errorf("init notifier: %w", err)
		}
		a.notifier = notifier
		hubSinks = append(hubSinks, sinks.NewNotifierSink(
			notifier,
			a.cfg.Notify.TopicNew,
			a.cfg.Notify.TopicEpisode,
			a.logger,
		))
		a.logger.Info("change notifications enabled", zap.String("project", a.cfg.Notify.ProjectID))
	}

	a.hub = progress.NewHub(progress.Config{Logger: a.logger}, hubSinks...)
	return nil
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config {
	return a.cfg
}

// Logger returns the shared zap logger instance.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Catalog exposes the configured catalog store.
func (a *App) Catalog() store.CatalogStore {
	return a.catalog
}

// Hub returns the progress hub workers emit into.
func (a *App) Hub() *progress.Hub {
	return a.hub
}

// Archiver returns the raw payload archive, or nil when disabled.
func (a *App) Archiver() catalog.Archiver {
	return a.archiver
}

// Registry exposes the process metrics registry.
func (a *App) Registry() *prometheus.Registry {
	return a.registry
}

// Close flushes the hub and releases every held resource.
func (a *App) Close(ctx context.Context) {
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.notifier != nil {
		if err := a.notifier.Close(); err != nil {
			a.logger.Warn("notifier close failed", zap.Error(err))
		}
	}
	if a.catalog != nil {
		a.catalog.Close()
	}
	_ = a.logger.Sync()
}
