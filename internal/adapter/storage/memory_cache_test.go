package storage

import (
	"context"
	"testing"
	"time"
)

func TestMemoryCache(t *testing.T) {
	runCacheContract(t, NewMemoryCache())
}

func TestMemoryCache_Expiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	cache := NewMemoryCache()
	cache.now = func() time.Time { return now }

	if _, ok, _ := cache.AcquireLock(ctx, "release:TXN-1", time.Minute); !ok {
		t.Fatal("expected lock")
	}
	if ok, _ := cache.SetIdempotency(ctx, "evt-1", time.Hour); !ok {
		t.Fatal("expected idempotency key to be set")
	}

	now = now.Add(2 * time.Minute)
	if _, ok, _ := cache.AcquireLock(ctx, "release:TXN-1", time.Minute); !ok {
		t.Error("expected expired lock to be reacquired")
	}
	if ok, _ := cache.SetIdempotency(ctx, "evt-1", time.Hour); ok {
		t.Error("idempotency key expired early")
	}

	now = now.Add(time.Hour)
	if ok, _ := cache.SetIdempotency(ctx, "evt-1", time.Hour); !ok {
		t.Error("expected idempotency key to expire")
	}
}

func TestMemoryCache_EvictsOnInterval(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	cache := NewMemoryCache()
	cache.now = func() time.Time { return now }

	cache.SetIdempotency(ctx, "evt-1", time.Second)
	now = now.Add(2 * time.Second)
	cache.SetIdempotency(ctx, "evt-2", time.Hour)
	if got := len(cache.entries); got != 2 {
		t.Fatalf("entries = %d, want 2 before the eviction interval elapses", got)
	}

	now = now.Add(memoryEvictInterval + time.Second)
	cache.SetIdempotency(ctx, "evt-3", time.Hour)
	if _, ok := cache.entries[idempotencyKeyPrefix+"evt-1"]; ok {
		t.Error("expired key survived eviction")
	}
	if got := len(cache.entries); got != 2 {
		t.Errorf("entries = %d, want 2", got)
	}
}
