package core

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"aegis/metrics"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisCache provides a Redis-based cache for classification results and
// other frequently re-read triage data.
type RedisCache struct {
	client *redis.Client
	logger *zap.SugaredLogger
}

// NewRedisCache creates a new Redis cache instance
func NewRedisCache(addr, password string, db, poolSize int, logger *zap.SugaredLogger) *RedisCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
		PoolSize: poolSize,
	})

	return &RedisCache{
		client: client,
		logger: logger,
	}
}

// Ping tests the Redis connection
func (rc *RedisCache) Ping(ctx context.Context) error {
	return rc.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (rc *RedisCache) Close() error {
	return rc.client.Close()
}

// Cache value size limit to prevent excessive memory usage (10MB).
const maxCacheValueSize = 10 * 1024 * 1024

// Set stores a JSON-encoded value in the cache with expiration
func (rc *RedisCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		rc.logger.Errorf("Failed to marshal cache value for key %s: %v", key, err)
		metrics.CacheErrors.WithLabelValues("redis", "marshal").Inc()
		return err
	}

	return rc.SetBytes(ctx, key, data, expiration)
}

// SetBytes stores a pre-encoded value, letting callers pick their own codec.
// The classification cache stores msgpack payloads through this path.
func (rc *RedisCache) SetBytes(ctx context.Context, key string, data []byte, expiration time.Duration) error {
	if len(data) > maxCacheValueSize {
		rc.logger.Warnf("Cache value for key %s exceeds size limit (%d bytes > %d bytes), rejecting", key, len(data), maxCacheValueSize)
		metrics.CacheErrors.WithLabelValues("redis", "size_limit").Inc()
		return fmt.Errorf("cache value size %d bytes exceeds maximum allowed size %d bytes", len(data), maxCacheValueSize)
	}

	err := rc.client.Set(ctx, key, data, expiration).Err()
	if err != nil {
		metrics.CacheErrors.WithLabelValues("redis", "set").Inc()
	}
	return err
}

// Get retrieves a JSON-encoded value from the cache
func (rc *RedisCache) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, found, err := rc.GetBytes(ctx, key)
	if err != nil || !found {
		return false, err
	}

	if err := json.Unmarshal(data, dest); err != nil {
		rc.logger.Errorf("Failed to unmarshal cache value for key %s: %v", key, err)
		metrics.CacheErrors.WithLabelValues("redis", "unmarshal").Inc()
		return false, err
	}
	return true, nil
}

// GetBytes retrieves a raw value from the cache. The second return reports
// whether the key existed.
func (rc *RedisCache) GetBytes(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := rc.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			metrics.CacheMisses.WithLabelValues("redis").Inc()
			return nil, false, nil
		}
		rc.logger.Errorf("Failed to get cache value for key %s: %v", key, err)
		metrics.CacheErrors.WithLabelValues("redis", "get").Inc()
		return nil, false, err
	}

	metrics.CacheHits.WithLabelValues("redis").Inc()
	return data, true, nil
}

// Delete removes a key from the cache
func (rc *RedisCache) Delete(ctx context.Context, key string) error {
	return rc.client.Del(ctx, key).Err()
}

// Exists checks if a key exists in the cache
func (rc *RedisCache) Exists(ctx context.Context, key string) (bool, error) {
	count, err := rc.client.Exists(ctx, key).Result()
	return count > 0, err
}

// SetNX sets a value only if the key does not exist (atomic operation)
func (rc *RedisCache) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	data, err := json.Marshal(value)
	if err != nil {
		rc.logger.Errorf("Failed to marshal cache value for key %s: %v", key, err)
		return false, err
	}

	return rc.client.SetNX(ctx, key, data, expiration).Result()
}

// GetTTL returns the remaining TTL for a key
func (rc *RedisCache) GetTTL(ctx context.Context, key string) (time.Duration, error) {
	return rc.client.TTL(ctx, key).Result()
}

// Cache keys for different data types
const (
	CacheKeyClassificationPrefix = "classification:"
	CacheKeyAlertPrefix          = "alert:"
	CacheKeyStatsPrefix          = "stats:"
	CacheKeySessionPrefix        = "session:"
)

// GetClassificationCacheKey generates the cache key for an alert's
// classification result, scoped by organization.
func GetClassificationCacheKey(organizationID, alertID string) string {
	return fmt.Sprintf("%s%s:%s", CacheKeyClassificationPrefix, organizationID, alertID)
}

// GetAlertCacheKey generates a cache key for alerts
func GetAlertCacheKey(alertID string) string {
	return CacheKeyAlertPrefix + alertID
}

// GetStatsCacheKey generates a cache key for statistics
func GetStatsCacheKey(statsKey string) string {
	return CacheKeyStatsPrefix + statsKey
}

// GetSessionCacheKey generates a cache key for sessions
func GetSessionCacheKey(sessionID string) string {
	return CacheKeySessionPrefix + sessionID
}
