package typeregistry

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Artem468/executor-balancer/internal/errors"
)

const (
	snapshotCacheKey = "executor-balancer:registry:snapshot"
	snapshotTTL      = 30 * time.Second
)

// SnapshotLoader fetches the current KeyDataType table from the store
// of record. Implemented by *pkg/store.Store.
type SnapshotLoader interface {
	Snapshot(ctx context.Context) (Snapshot, error)
}

// Cache fronts SnapshotLoader with a Redis read-through cache so the
// hot dispatch path (C1 casting on every request) doesn't hit
// Postgres per-call. A single in-flight load is shared across
// concurrent callers that miss the cache (single-flight), matching
// the teacher's go-redis-backed caching idiom used for gateway
// deduplication keys.
type Cache struct {
	redis  *redis.Client
	loader SnapshotLoader

	mu      sync.Mutex
	loading chan struct{}
}

func NewCache(client *redis.Client, loader SnapshotLoader) *Cache {
	return &Cache{redis: client, loader: loader}
}

// Get returns the current snapshot, reading through Redis and falling
// back to the loader (Postgres) on a cache miss or Redis outage.
func (c *Cache) Get(ctx context.Context) (Snapshot, error) {
	if snap, ok := c.readRedis(ctx); ok {
		return snap, nil
	}
	return c.refresh(ctx)
}

func (c *Cache) readRedis(ctx context.Context) (Snapshot, bool) {
	raw, err := c.redis.Get(ctx, snapshotCacheKey).Bytes()
	if err != nil {
		return nil, false
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, false
	}
	return snap, true
}

// refresh loads from the store and republishes to Redis, collapsing
// concurrent callers into a single loader call.
func (c *Cache) refresh(ctx context.Context) (Snapshot, error) {
	c.mu.Lock()
	if c.loading != nil {
		ch := c.loading
		c.mu.Unlock()
		<-ch
		if snap, ok := c.readRedis(ctx); ok {
			return snap, nil
		}
		return c.loader.Snapshot(ctx)
	}
	ch := make(chan struct{})
	c.loading = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.loading = nil
		c.mu.Unlock()
		close(ch)
	}()

	snap, err := c.loader.Snapshot(ctx)
	if err != nil {
		return nil, errors.NewTransientError("key data type registry load", err)
	}

	if raw, err := json.Marshal(snap); err == nil {
		// Best-effort: a Redis publish failure must not fail the cast.
		_ = c.redis.Set(ctx, snapshotCacheKey, raw, snapshotTTL).Err()
	}

	return snap, nil
}

// Invalidate drops the cached snapshot, used by the out-of-core
// KeyDataType admin surface after a schema change.
func (c *Cache) Invalidate(ctx context.Context) error {
	return c.redis.Del(ctx, snapshotCacheKey).Err()
}
