package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/Skryldev/student-registry/config"
	"github.com/Skryldev/student-registry/db"
	"github.com/Skryldev/student-registry/metrics"
	"github.com/Skryldev/student-registry/migrations"
	"github.com/Skryldev/student-registry/repo"
)

// openStore returns the Entity Store selected by STORE_BACKEND and a func
// that releases its connections.
func openStore(ctx context.Context, cfg config.Config, m *metrics.Metrics, logger *slog.Logger) (repo.StudentStore, func() error, error) {
	switch cfg.StoreBackend {
	case config.BackendSQL:
		return openSQL(ctx, cfg.DB, m, logger)
	case config.BackendRedis:
		return openRedis(ctx, cfg.Redis)
	case config.BackendMongo:
		return openMongo(ctx, cfg.Mongo)
	}
	return nil, nil, fmt.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend)
}

func openSQL(ctx context.Context, cfg config.DBConfig, m *metrics.Metrics, logger *slog.Logger) (repo.StudentStore, func() error, error) {
	dialect, err := repo.DialectFor(cfg.Driver)
	if err != nil {
		return nil, nil, err
	}

	pool := cfg.Pool()
	pool.Hooks = []db.Hook{db.CompositeHook(
		db.NewLogHook(db.LogHookConfig{
			Logger:             logger,
			SlowQueryThreshold: cfg.SlowQueryThreshold,
		}),
		db.NewMetricsHook(m),
	)}

	dsn := pool.DSN
	if cfg.Structured() {
		drv, err := db.LookupDriver(cfg.Driver)
		if err != nil {
			return nil, nil, err
		}
		if dsn, err = drv.DSN(cfg.DriverOptions()); err != nil {
			return nil, nil, err
		}
	}

	// The database may still be starting; wait for it.
	var database *db.DB
	err = db.WithRetry(ctx, db.RetryConfig{MaxAttempts: cfg.ConnectAttempts, Delay: 2 * time.Second}, func() error {
		var openErr error
		if cfg.Structured() {
			database, openErr = db.OpenWithDriver(cfg.Driver, cfg.DriverOptions(), pool)
		} else {
			database, openErr = db.Open(pool)
		}
		if openErr != nil {
			logger.Warn("database not ready", "driver", cfg.Driver, "error", openErr)
		}
		return openErr
	})
	if err != nil {
		return nil, nil, err
	}
	logger.Info("database connected", "driver", cfg.Driver, "stats", database.Stats())

	if cfg.AutoMigrate {
		if err := migrations.Up(cfg.Driver, dsn, logger); err != nil {
			_ = database.Close()
			return nil, nil, err
		}
	}
	return repo.NewStudentRepo(database, dialect), database.Close, nil
}

func openRedis(ctx context.Context, cfg config.RedisConfig) (repo.StudentStore, func() error, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return repo.NewRedisStore(client, cfg.Key), client.Close, nil
}

func openMongo(ctx context.Context, cfg config.MongoConfig) (repo.StudentStore, func() error, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, nil, fmt.Errorf("mongo connect failed: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, fmt.Errorf("mongo ping failed: %w", err)
	}
	closeFn := func() error { return client.Disconnect(context.Background()) }
	return repo.NewMongoStore(client.Database(cfg.Database).Collection(cfg.Collection)), closeFn, nil
}
