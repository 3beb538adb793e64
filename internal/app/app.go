// Package app assembles the extraction pipeline from configuration. Both
// binaries build their components here so the API server and the CLI wire
// the same stack.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/timmy/storesync/internal/config"
	"github.com/timmy/storesync/internal/detector"
	"github.com/timmy/storesync/internal/domain"
	"github.com/timmy/storesync/internal/logger"
	"github.com/timmy/storesync/internal/metrics"
	"github.com/timmy/storesync/internal/queue"
	"github.com/timmy/storesync/internal/repository"
	"github.com/timmy/storesync/internal/service"
	"github.com/timmy/storesync/internal/source"
	"github.com/timmy/storesync/internal/source/shopify"
	"github.com/timmy/storesync/internal/storage"
)

// Queue is the work queue as the application uses it: the queue contract
// plus dead-letter inspection.
type Queue interface {
	queue.Queue
	Dead(ctx context.Context, limit int) ([]queue.Task, error)
}

// App holds the constructed components.
type App struct {
	Config     *config.Config
	Logger     *logger.Logger
	DB         *gorm.DB
	Queue      Queue
	Metrics    *metrics.Recorder
	Detector   *detector.Detector
	Adapters   *source.Registry
	Extraction *service.ExtractionService

	redis redis.UniversalClient
}

// New builds every component named in cfg.
// Parameters:
//   - ctx: context for connection checks during startup.
//   - cfg: loaded configuration.
//   - log: base logger; also installed as the default logger.
// Returns:
//   - *App: assembled application; call Close when done.
//   - error: non-nil if a backing service cannot be reached.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	logger.SetDefaultLogger(log)
	a := &App{Config: cfg, Logger: log}

	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	a.DB = db

	if cfg.Metrics.Enabled {
		a.Metrics = metrics.New(cfg.Metrics.Namespace)
	}

	if err := a.initQueue(ctx); err != nil {
		a.Close()
		return nil, err
	}

	archiver, err := a.initArchiver(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Detector = detector.New(detector.Config{
		Timeout:      cfg.Detector.Timeout,
		UserAgent:    cfg.Detector.UserAgent,
		MaxBodyBytes: cfg.Detector.MaxBodyBytes,
	})

	a.Adapters = source.NewRegistry()
	a.Adapters.Register(domain.PlatformShopify, shopify.Factory(shopify.Options{
		APIVersion: cfg.Shopify.APIVersion,
		BaseURL:    cfg.Shopify.BaseURL,
		Timeout:    cfg.Shopify.Timeout,
		RateLimit:  cfg.Shopify.RateLimit,
		RateBurst:  cfg.Shopify.RateBurst,
		Observer:   a.Metrics.AdapterObserver(domain.PlatformShopify.String()),
	}))

	a.Extraction = service.NewExtractionService(service.ExtractionDeps{
		DB:       db,
		Stores:   repository.NewStoreRepository(db),
		Jobs:     repository.NewJobRepository(db),
		Catalog:  repository.NewCatalogRepository(db),
		Detector: a.Detector,
		Adapters: a.Adapters,
		Queue:    a.Queue,
		Archiver: archiver,
		Metrics:  a.Metrics,
	}, service.ExtractionConfig{
		ProductPageSize:      cfg.Extraction.ProductPageSize,
		MinConfidence:        cfg.Extraction.MinConfidence,
		CaptureShippingZones: cfg.Extraction.CaptureShippingZone,
	})

	return a, nil
}

func (a *App) initQueue(ctx context.Context) error {
	opts := queue.Options{
		Name:       a.Config.Queue.Name,
		Visibility: a.Config.Queue.VisibilityTimeout,
	}
	switch a.Config.Queue.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     a.Config.Redis.Addr,
			Password: a.Config.Redis.Password,
			DB:       a.Config.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return fmt.Errorf("failed to connect to redis at %s: %w", a.Config.Redis.Addr, err)
		}
		a.redis = client
		a.Queue = queue.NewRedisQueue(client, a.Config.Redis.KeyPrefix, opts)
	default:
		q := queue.NewSQLQueue(a.DB, opts)
		if err := q.Migrate(ctx); err != nil {
			return fmt.Errorf("failed to migrate queue table: %w", err)
		}
		a.Queue = q
	}
	logger.GetDefault().WithFields(logger.Fields{
		logger.FieldComponent: "queue",
		"backend":             a.Config.Queue.Backend,
		"name":                opts.Name,
	}).Info("Work queue ready")
	return nil
}

// bucketEnsurer is implemented by S3-backed storage.
type bucketEnsurer interface {
	EnsureBucket(ctx context.Context) error
}

func (a *App) initArchiver(ctx context.Context) (*storage.SnapshotArchiver, error) {
	if !a.Config.Storage.Enabled || !a.Config.Extraction.ArchiveSnapshots {
		return nil, nil
	}
	objects, err := storage.NewStorage(a.Config.GetStorageConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	if b, ok := objects.(bucketEnsurer); ok {
		if err := b.EnsureBucket(ctx); err != nil {
			return nil, fmt.Errorf("failed to ensure storage bucket: %w", err)
		}
	}
	return storage.NewSnapshotArchiver(objects, a.Config.Storage.Prefix), nil
}

// Worker returns a queue worker that runs extraction jobs.
func (a *App) Worker(concurrency int) *queue.Worker {
	if concurrency <= 0 {
		concurrency = a.Config.Worker.Concurrency
	}
	return queue.NewWorker(a.Queue, a.Extraction.HandleTask, queue.WorkerOptions{
		Concurrency:  concurrency,
		MaxAttempts:  a.Config.Queue.MaxAttempts,
		BackoffBase:  a.Config.Queue.BackoffBase,
		PollInterval: a.Config.Queue.PollInterval,
		Heartbeat:    a.Config.Queue.Heartbeat,
		OnSettled:    a.Metrics.ObserveTask,
		OnExhausted:  a.Extraction.HandleExhausted,
	})
}

// RunWorkers processes jobs until ctx is cancelled, publishing queue depth
// alongside when metrics are enabled.
func (a *App) RunWorkers(ctx context.Context, concurrency int) error {
	if a.Metrics != nil {
		go a.Metrics.WatchQueue(ctx, a.Queue, 15*time.Second)
	}
	return a.Worker(concurrency).Run(ctx)
}

// Close releases connections. It is safe to call on a partially built App.
func (a *App) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			logger.Warn("Failed to close redis: %v", err)
		}
	}
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	_ = logger.Sync()
}
