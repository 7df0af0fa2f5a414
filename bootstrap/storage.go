package bootstrap

import (
	"context"
	"fmt"
	"os"
	"time"

	"aegis/config"
	"aegis/core"
	"aegis/service"
	"aegis/storage"

	"go.uber.org/zap"
)

// StorageComponents holds all storage-related components. The Timeline,
// Activity and Assets fields carry the backend actually in use: SQLite by
// default, MongoDB / ClickHouse / the LRU cache when those are enabled.
type StorageComponents struct {
	SQLite *storage.SQLite
	Users  *storage.SQLiteUserStorage

	Redis *core.RedisCache

	MongoDB  *storage.MongoDB
	Timeline service.TimelineStore

	ClickHouse   *storage.ClickHouse
	ActivitySink *storage.ClickHouseActivitySink
	Activity     service.ActivityStore

	Assets service.AssetReader
}

// InitSQLite initializes the SQLite connection and schema.
func InitSQLite(dirs DataDirectories, sugar *zap.SugaredLogger) (*storage.SQLite, error) {
	sqlite, err := storage.NewSQLite(dirs.SQLite, sugar)
	if err != nil {
		errMsg := ClassifySQLiteError(err, dirs.SQLite)
		fmt.Fprintf(os.Stderr, "\n========================================\n")
		fmt.Fprintf(os.Stderr, "FATAL: SQLite Initialization Failed\n")
		fmt.Fprintf(os.Stderr, "========================================\n")
		fmt.Fprintf(os.Stderr, "%s\n", errMsg)
		fmt.Fprintf(os.Stderr, "========================================\n\n")
		return nil, fmt.Errorf("failed to initialize SQLite: %w", err)
	}

	sugar.Info("SQLite initialized successfully")
	return sqlite, nil
}

// InitRedis connects the classification cache and verifies the connection.
func InitRedis(ctx context.Context, cfg *config.Config, sugar *zap.SugaredLogger) (*core.RedisCache, error) {
	cache := core.NewRedisCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.PoolSize, sugar)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := cache.Ping(pingCtx); err != nil {
		cache.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w\n%s",
			cfg.Redis.Addr, err, ClassifyConnectionError(err, "Redis", cfg.Redis.Addr))
	}

	sugar.Infow("Connected to Redis", "addr", cfg.Redis.Addr, "db", cfg.Redis.DB)
	return cache, nil
}

// InitMongoTimeline connects MongoDB and builds the timeline store on it.
func InitMongoTimeline(ctx context.Context, cfg *config.Config, sugar *zap.SugaredLogger) (*storage.MongoDB, *storage.MongoTimelineStore, error) {
	mongoDB, err := storage.NewMongoDB(cfg.MongoDB.URI, cfg.MongoDB.Database, cfg.MongoDB.MaxPoolSize, sugar)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to MongoDB: %w\n%s",
			err, ClassifyConnectionError(err, "MongoDB", cfg.MongoDB.URI))
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := mongoDB.HealthCheck(pingCtx); err != nil {
		mongoDB.Close(context.Background())
		return nil, nil, fmt.Errorf("MongoDB health check failed: %w", err)
	}

	timeline, err := storage.NewMongoTimelineStore(mongoDB, sugar)
	if err != nil {
		mongoDB.Close(context.Background())
		return nil, nil, fmt.Errorf("failed to initialize MongoDB timeline store: %w", err)
	}

	sugar.Infow("Connected to MongoDB", "database", cfg.MongoDB.Database)
	return mongoDB, timeline, nil
}

// InitClickHouse initializes the ClickHouse connection with retry logic and
// ensures the activity table exists.
func InitClickHouse(ctx context.Context, cfg *config.Config, sugar *zap.SugaredLogger) (*storage.ClickHouse, error) {
	const maxRetries = 3
	retryDelays := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}

	var clickhouse *storage.ClickHouse
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			sugar.Infow("Retrying ClickHouse connection",
				"attempt", attempt,
				"max_retries", maxRetries,
				"delay", retryDelays[attempt-1])
			time.Sleep(retryDelays[attempt-1])
		}

		clickhouse, lastErr = storage.NewClickHouse(cfg, sugar)
		if lastErr == nil {
			break
		}

		sugar.Warnw("ClickHouse connection attempt failed",
			"attempt", attempt+1,
			"error", lastErr)
	}

	if lastErr != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse after %d attempts: %w\n%s",
			maxRetries+1, lastErr, ClassifyConnectionError(lastErr, "ClickHouse", cfg.ClickHouse.Addr))
	}

	sugar.Info("Connected to ClickHouse successfully")

	if err := clickhouse.CreateActivityTable(ctx); err != nil {
		clickhouse.Close()
		return nil, fmt.Errorf("failed to ensure ClickHouse activity table: %w", err)
	}

	return clickhouse, nil
}

// InitStorage assembles the full persistence stack. SQLite is mandatory;
// Redis, MongoDB and ClickHouse are optional backends that degrade to a
// warning in graceful startup mode when they fail to come up.
func InitStorage(ctx context.Context, cfg *config.Config, dirs DataDirectories, sugar *zap.SugaredLogger) (*StorageComponents, error) {
	sqlite, err := InitSQLite(dirs, sugar)
	if err != nil {
		return nil, err
	}

	components := &StorageComponents{
		SQLite:   sqlite,
		Users:    storage.NewSQLiteUserStorage(sqlite, sugar),
		Timeline: sqlite,
		Activity: sqlite,
		Assets:   sqlite,
	}

	// degrade closes over graceful-mode handling for optional backends.
	degrade := func(name string, err error) error {
		if cfg.IsGracefulMode() {
			sugar.Warnw("Continuing without optional backend", "backend", name, "error", err)
			return nil
		}
		return err
	}

	if cfg.Redis.Enabled {
		cache, err := InitRedis(ctx, cfg, sugar)
		if err != nil {
			if err := degrade("redis", err); err != nil {
				components.Close(ctx)
				return nil, err
			}
		} else {
			components.Redis = cache
		}
	} else {
		sugar.Info("Redis disabled, classification results will not be cached")
	}

	if cfg.MongoDB.Enabled {
		mongoDB, timeline, err := InitMongoTimeline(ctx, cfg, sugar)
		if err != nil {
			if err := degrade("mongodb", err); err != nil {
				components.Close(ctx)
				return nil, err
			}
		} else {
			components.MongoDB = mongoDB
			components.Timeline = timeline
		}
	}

	if cfg.ClickHouse.Enabled {
		clickhouse, err := InitClickHouse(ctx, cfg, sugar)
		if err != nil {
			if err := degrade("clickhouse", err); err != nil {
				components.Close(ctx)
				return nil, err
			}
		} else {
			sink := storage.NewClickHouseActivitySink(ctx, clickhouse, cfg, sugar)
			sink.Start(cfg.ClickHouse.WorkerCount)
			components.ClickHouse = clickhouse
			components.ActivitySink = sink
			components.Activity = sink
		}
	}

	if cfg.Assets.CacheSize > 0 {
		cache, err := storage.NewAssetCache(sqlite, cfg.Assets.CacheSize, cfg.Assets.CacheTTL, sugar)
		if err != nil {
			components.Close(ctx)
			return nil, fmt.Errorf("failed to initialize asset cache: %w", err)
		}
		components.Assets = cache
		sugar.Infow("Asset LRU cache enabled", "size", cfg.Assets.CacheSize, "ttl", cfg.Assets.CacheTTL)
	}

	return components, nil
}

// Close releases every backend connection the components hold. The activity
// sink is stopped first so buffered entries flush before ClickHouse closes.
func (sc *StorageComponents) Close(ctx context.Context) {
	if sc.ActivitySink != nil {
		sc.ActivitySink.Stop()
	}
	if sc.ClickHouse != nil {
		sc.ClickHouse.Close()
	}
	if sc.MongoDB != nil {
		sc.MongoDB.Close(ctx)
	}
	if sc.Redis != nil {
		sc.Redis.Close()
	}
	if sc.SQLite != nil {
		sc.SQLite.Close()
	}
}
