package database

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/temcen/optirex/internal/config"
)

// Database bundles the persistence backend, the asynchronous observation
// writer on top of it and the optional Redis recommendation cache.
type Database struct {
	Backend      Backend
	Observations *ObservationStore
	Redis        *redis.Client
	Cache        *RecommendationCache
	logger       *logrus.Logger
}

func New(cfg *config.Config, logger *logrus.Logger) (*Database, error) {
	db := &Database{
		logger: logger,
	}

	if err := db.initBackend(cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize %s: %w", cfg.Database.Driver, err)
	}

	if err := db.initRedis(cfg); err != nil {
		db.Backend.Close()
		return nil, fmt.Errorf("failed to initialize Redis: %w", err)
	}

	db.Observations = NewObservationStore(db.Backend, cfg.Storage, logger)
	db.Cache = NewRecommendationCache(db.Redis, cfg.Redis.TTL, logger)
	return db, nil
}

// NewWithBackend assembles a Database around an already opened backend.
func NewWithBackend(backend Backend, redisClient *redis.Client, cfg *config.Config, logger *logrus.Logger) *Database {
	return &Database{
		Backend:      backend,
		Observations: NewObservationStore(backend, cfg.Storage, logger),
		Redis:        redisClient,
		Cache:        NewRecommendationCache(redisClient, cfg.Redis.TTL, logger),
		logger:       logger,
	}
}

func (db *Database) initBackend(cfg *config.Config) error {
	switch cfg.Database.Driver {
	case "", "sqlite":
		backend, err := NewSQLiteBackend(cfg.Database.Path)
		if err != nil {
			return err
		}
		db.Backend = backend
		db.logger.WithField("path", cfg.Database.Path).Info("SQLite database opened")
	case "postgres":
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		backend, err := OpenPostgres(ctx, cfg.Database)
		if err != nil {
			return err
		}
		db.Backend = backend
		db.logger.Info("PostgreSQL connection established")
	default:
		return fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}
	return nil
}

// initRedis connects the cache client. An empty URL leaves caching off.
func (db *Database) initRedis(cfg *config.Config) error {
	if cfg.Redis.URL == "" {
		db.logger.Info("Redis not configured, recommendation cache disabled")
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.URL,
		MaxRetries:   cfg.Redis.MaxRetries,
		PoolSize:     cfg.Redis.PoolSize,
		ReadTimeout:  cfg.Redis.Timeout,
		WriteTimeout: cfg.Redis.Timeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return fmt.Errorf("failed to ping Redis: %w", err)
	}

	db.Redis = client
	db.logger.Info("Redis connection established")
	return nil
}

func (db *Database) Close() error {
	var errors []error

	if db.Observations != nil {
		if err := db.Observations.Close(); err != nil {
			errors = append(errors, fmt.Errorf("failed to close observation store: %w", err))
		}
	}

	if db.Backend != nil {
		if err := db.Backend.Close(); err != nil {
			errors = append(errors, fmt.Errorf("failed to close database: %w", err))
		} else {
			db.logger.Info("Database connection closed")
		}
	}

	if db.Redis != nil {
		if err := db.Redis.Close(); err != nil {
			errors = append(errors, fmt.Errorf("failed to close Redis: %w", err))
		} else {
			db.logger.Info("Redis connection closed")
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("errors closing database connections: %v", errors)
	}

	return nil
}
