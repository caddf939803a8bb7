package storage

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() { _ = client.Close() })

	return mr, client
}

func TestRedisCache_Key(t *testing.T) {
	_, client := setupTestRedis(t)

	tests := []struct {
		name     string
		prefix   string
		key      string
		expected string
	}{
		{"with prefix", "sqslistener", "queue_url:orders", "sqslistener:queue_url:orders"},
		{"empty prefix", "", "queue_url:orders", "queue_url:orders"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cache := NewRedisCache(client, tt.prefix)
			if got := cache.key(tt.key); got != tt.expected {
				t.Errorf("expected '%s', got '%s'", tt.expected, got)
			}
		})
	}
}

func TestRedisCache_GetSetDelete(t *testing.T) {
	mr, client := setupTestRedis(t)
	cache := NewRedisCache(client, "test")
	ctx := context.Background()

	val, err := cache.Get(ctx, "missing")
	if err != nil {
		t.Fatalf("unexpected error on miss: %v", err)
	}
	if val != "" {
		t.Errorf("expected empty value on miss, got '%s'", val)
	}

	if err := cache.Set(ctx, "queue_url:orders", "https://sqs/orders", 60); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !mr.Exists("test:queue_url:orders") {
		t.Error("expected prefixed key to exist in redis")
	}
	if ttl := mr.TTL("test:queue_url:orders"); ttl != time.Minute {
		t.Errorf("expected TTL 1m, got %v", ttl)
	}

	val, err = cache.Get(ctx, "queue_url:orders")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != "https://sqs/orders" {
		t.Errorf("expected cached URL, got '%s'", val)
	}

	if err := cache.Delete(ctx, "queue_url:orders"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mr.Exists("test:queue_url:orders") {
		t.Error("expected key to be deleted")
	}
}

func TestRedisCache_DefaultTTL(t *testing.T) {
	mr, client := setupTestRedis(t)
	cache := NewRedisCache(client, "")

	if err := cache.Set(context.Background(), "k", "v", 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ttl := mr.TTL("k"); ttl != DefaultCacheTTL {
		t.Errorf("expected default TTL %v, got %v", DefaultCacheTTL, ttl)
	}
}

func TestRedisCache_DeleteByPrefix(t *testing.T) {
	mr, client := setupTestRedis(t)
	cache := NewRedisCache(client, "test")
	ctx := context.Background()

	for _, key := range []string{"queue_url:a", "queue_url:b", "other:c"} {
		if err := cache.Set(ctx, key, "v", 0); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	deleted, err := cache.DeleteByPrefix(ctx, "queue_url:")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if deleted != 2 {
		t.Errorf("expected 2 deleted, got %d", deleted)
	}
	if !mr.Exists("test:other:c") {
		t.Error("expected unrelated key to survive")
	}

	deleted, err = cache.DeleteByPrefix(ctx, "queue_url:")
	if err != nil || deleted != 0 {
		t.Errorf("expected nothing left to delete, got %d, %v", deleted, err)
	}
}

func TestRedisCache_ConnectionErrors(t *testing.T) {
	mr, client := setupTestRedis(t)
	cache := NewRedisCache(client, "test")
	mr.Close()

	ctx := context.Background()
	if _, err := cache.Get(ctx, "k"); err == nil {
		t.Error("expected Get to fail")
	}
	if err := cache.Set(ctx, "k", "v", 0); err == nil {
		t.Error("expected Set to fail")
	}
	if err := cache.Ping(ctx); err == nil {
		t.Error("expected Ping to fail")
	}
}
