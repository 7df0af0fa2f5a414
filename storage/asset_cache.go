package storage

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"aegis/core"
	"aegis/metrics"
)

// AssetReader is the read side of asset storage.
type AssetReader interface {
	GetAsset(ctx context.Context, id, organizationID string) (*core.Asset, error)
}

type assetRecord struct {
	asset    *core.Asset
	cachedAt time.Time
}

// AssetCache is a read-through LRU in front of asset storage. Asset records
// change rarely but are consulted on every alert analysis, so a small
// in-process cache removes most of the read load.
type AssetCache struct {
	store  AssetReader
	cache  *lru.Cache[string, assetRecord]
	ttl    time.Duration
	logger *zap.SugaredLogger
}

var _ AssetReader = (*AssetCache)(nil)

// NewAssetCache wraps an asset reader with an LRU of the given size. Entries
// older than ttl are refetched.
func NewAssetCache(store AssetReader, size int, ttl time.Duration, logger *zap.SugaredLogger) (*AssetCache, error) {
	if store == nil {
		panic("asset store is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	if size <= 0 {
		size = 1024
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	cache, err := lru.New[string, assetRecord](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create asset cache: %w", err)
	}

	return &AssetCache{
		store:  store,
		cache:  cache,
		ttl:    ttl,
		logger: logger,
	}, nil
}

// GetAsset returns the cached asset when present and fresh, otherwise reads
// through to the underlying store.
func (ac *AssetCache) GetAsset(ctx context.Context, id, organizationID string) (*core.Asset, error) {
	key := organizationID + ":" + id

	if record, ok := ac.cache.Get(key); ok {
		if time.Since(record.cachedAt) < ac.ttl {
			metrics.CacheHits.WithLabelValues("asset").Inc()
			return record.asset, nil
		}
		ac.cache.Remove(key)
	}
	metrics.CacheMisses.WithLabelValues("asset").Inc()

	asset, err := ac.store.GetAsset(ctx, id, organizationID)
	if err != nil {
		return nil, err
	}

	ac.cache.Add(key, assetRecord{asset: asset, cachedAt: time.Now()})
	return asset, nil
}

// Invalidate drops a cached asset, e.g. after an update.
func (ac *AssetCache) Invalidate(id, organizationID string) {
	ac.cache.Remove(organizationID + ":" + id)
}

// Len reports how many assets are currently cached.
func (ac *AssetCache) Len() int {
	return ac.cache.Len()
}
