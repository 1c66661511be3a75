package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/quillpress/articles/internal/article"
	"github.com/quillpress/articles/internal/config"
	"github.com/quillpress/articles/internal/db"
	"github.com/quillpress/articles/internal/logger"
	"github.com/quillpress/articles/internal/notify"
	"github.com/quillpress/articles/internal/storage"
)

// app holds the dependencies shared by the serve and publish commands.
type app struct {
	cfg     *config.Config
	log     *zap.Logger
	storage storage.Storage
	repo    article.Repository

	closers []func()
}

func loadConfig() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	log, err := logger.New(cfg.IsProduction(), cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

// newApp connects the object storage and the configured article store.
func newApp(ctx context.Context, cfg *config.Config, log *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, log: log}

	store, err := openStorage(ctx, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("object storage init failed: %w", err)
	}
	a.storage = store

	if err := a.openRepository(ctx); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func openStorage(ctx context.Context, cfg *config.Config, log *zap.Logger) (storage.Storage, error) {
	opts := storage.Options{
		Endpoint:   cfg.StorageEndpoint,
		Region:     cfg.StorageRegion,
		AccessKey:  cfg.StorageAccessKey,
		SecretKey:  cfg.StorageSecretKey,
		Bucket:     cfg.StorageBucket,
		UseSSL:     cfg.StorageUseSSL,
		PublicBase: cfg.StoragePublicBase,
		URLExpiry:  cfg.StorageURLExpiry,
	}
	log.Info("object storage", zap.String("driver", cfg.StorageDriver), zap.String("bucket", cfg.StorageBucket))
	if cfg.StorageDriver == config.StorageS3 {
		return storage.NewS3Storage(opts)
	}
	return storage.NewMinioStorage(ctx, opts, log)
}

func (a *app) openRepository(ctx context.Context) error {
	cfg := a.cfg
	switch cfg.ArticleStore {
	case config.StoreMongo:
		client, database, err := db.ConnectMongo(ctx, cfg.MongoURI, cfg.MongoDatabase, a.log)
		if err != nil {
			return fmt.Errorf("database connection failed: %w", err)
		}
		a.closers = append(a.closers, func() { _ = client.Disconnect(context.Background()) })
		a.repo = article.NewMongoRepository(database, cfg.ArticleCollection)

	case config.StoreMySQL:
		gdb, err := db.OpenMySQL(cfg.MySQLDSN, !cfg.IsProduction(), a.log)
		if err != nil {
			return fmt.Errorf("database connection failed: %w", err)
		}
		if sqlDB, err := gdb.DB(); err == nil {
			a.closers = append(a.closers, func() { _ = sqlDB.Close() })
		}
		repo, err := article.NewGormRepository(gdb, cfg.ArticleCollection)
		if err != nil {
			return fmt.Errorf("database migration failed: %w", err)
		}
		a.repo = repo

	default:
		if err := db.Migrate(cfg.DatabaseURL, a.log); err != nil {
			return fmt.Errorf("database migration failed: %w", err)
		}
		pool, err := db.Connect(ctx, cfg.DatabaseURL, a.log)
		if err != nil {
			return fmt.Errorf("database connection failed: %w", err)
		}
		a.closers = append(a.closers, pool.Close)
		a.repo = article.NewPostgresRepository(pool, cfg.ArticleCollection)
	}
	return nil
}

// publisher wires the workflow to this app's storage and store.
func (a *app) publisher(notifier notify.Notifier, alerter notify.Alerter, opts article.Options) *article.Publisher {
	opts.Storage = a.storage
	opts.Repository = a.repo
	opts.Notifier = notifier
	opts.Alerter = alerter
	opts.Logger = a.log
	opts.ImagePrefix = a.cfg.ImagePrefix
	opts.UploadErrorPolicy = article.UploadErrorPolicy(a.cfg.UploadErrorPolicy)
	opts.CleanupOrphans = a.cfg.CleanupOrphans
	return article.NewPublisher(opts)
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	_ = a.log.Sync()
}
