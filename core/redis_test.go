package core

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"go.uber.org/zap/zaptest"
)

func newTestCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	logger := zaptest.NewLogger(t).Sugar()
	cache := NewRedisCache(mr.Addr(), "", 0, 10, logger)
	t.Cleanup(func() { cache.Close() })

	return cache, mr
}

func TestRedisCache_SetGet(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	type TestStruct struct {
		Name  string `json:"name"`
		Value int    `json:"value"`
	}

	testData := TestStruct{Name: "test", Value: 42}
	key := "test_key"

	if err := cache.Set(ctx, key, testData, time.Minute); err != nil {
		t.Fatalf("Failed to set cache value: %v", err)
	}

	var result TestStruct
	found, err := cache.Get(ctx, key, &result)
	if err != nil {
		t.Fatalf("Failed to get cache value: %v", err)
	}
	if !found {
		t.Fatal("Expected key to be found")
	}
	if result.Name != testData.Name || result.Value != testData.Value {
		t.Errorf("Expected %+v, got %+v", testData, result)
	}
}

func TestRedisCache_Get_NotFound(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	var result map[string]interface{}
	found, err := cache.Get(ctx, "missing_key", &result)
	if err != nil {
		t.Fatalf("Unexpected error for missing key: %v", err)
	}
	if found {
		t.Fatal("Expected missing key to report not found")
	}
}

func TestRedisCache_SetBytesGetBytes(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	payload := []byte{0x82, 0xa4, 't', 'y', 'p', 'e', 0x01}
	if err := cache.SetBytes(ctx, "raw_key", payload, time.Minute); err != nil {
		t.Fatalf("Failed to set raw bytes: %v", err)
	}

	data, found, err := cache.GetBytes(ctx, "raw_key")
	if err != nil {
		t.Fatalf("Failed to get raw bytes: %v", err)
	}
	if !found {
		t.Fatal("Expected raw key to be found")
	}
	if len(data) != len(payload) {
		t.Errorf("Expected %d bytes, got %d", len(payload), len(data))
	}
	for i := range payload {
		if data[i] != payload[i] {
			t.Errorf("Byte %d mismatch: expected %x, got %x", i, payload[i], data[i])
		}
	}
}

func TestRedisCache_SetBytes_SizeLimit(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	oversized := make([]byte, maxCacheValueSize+1)
	err := cache.SetBytes(ctx, "huge_key", oversized, time.Minute)
	if err == nil {
		t.Fatal("Expected size limit rejection")
	}
}

func TestRedisCache_Expiration(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()

	if err := cache.Set(ctx, "ttl_key", "value", time.Minute); err != nil {
		t.Fatalf("Failed to set cache value: %v", err)
	}

	ttl, err := cache.GetTTL(ctx, "ttl_key")
	if err != nil {
		t.Fatalf("Failed to get TTL: %v", err)
	}
	if ttl <= 0 || ttl > time.Minute {
		t.Errorf("Expected TTL in (0, 1m], got %v", ttl)
	}

	// miniredis advances TTLs manually
	mr.FastForward(2 * time.Minute)

	var result string
	found, err := cache.Get(ctx, "ttl_key", &result)
	if err != nil {
		t.Fatalf("Unexpected error after expiry: %v", err)
	}
	if found {
		t.Fatal("Expected key to expire")
	}
}

func TestRedisCache_DeleteExists(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	if err := cache.Set(ctx, "del_key", "value", time.Minute); err != nil {
		t.Fatalf("Failed to set cache value: %v", err)
	}

	exists, err := cache.Exists(ctx, "del_key")
	if err != nil || !exists {
		t.Fatalf("Expected key to exist, got exists=%v err=%v", exists, err)
	}

	if err := cache.Delete(ctx, "del_key"); err != nil {
		t.Fatalf("Failed to delete key: %v", err)
	}

	exists, err = cache.Exists(ctx, "del_key")
	if err != nil {
		t.Fatalf("Unexpected error checking existence: %v", err)
	}
	if exists {
		t.Fatal("Expected key to be deleted")
	}
}

func TestRedisCache_SetNX(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	ok, err := cache.SetNX(ctx, "nx_key", "first", time.Minute)
	if err != nil {
		t.Fatalf("SetNX failed: %v", err)
	}
	if !ok {
		t.Fatal("Expected first SetNX to succeed")
	}

	ok, err = cache.SetNX(ctx, "nx_key", "second", time.Minute)
	if err != nil {
		t.Fatalf("SetNX failed: %v", err)
	}
	if ok {
		t.Fatal("Expected second SetNX to be rejected")
	}

	var result string
	found, err := cache.Get(ctx, "nx_key", &result)
	if err != nil || !found {
		t.Fatalf("Expected nx_key to be readable, got found=%v err=%v", found, err)
	}
	if result != "first" {
		t.Errorf("Expected original value to survive, got %q", result)
	}
}

func TestGetClassificationCacheKey(t *testing.T) {
	key := GetClassificationCacheKey("org-1", "alert-9")
	if key != "classification:org-1:alert-9" {
		t.Errorf("Unexpected cache key: %s", key)
	}
}
