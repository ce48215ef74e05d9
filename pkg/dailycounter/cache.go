// Package dailycounter implements C5: an explicitly-owned,
// process-local cache of today's per-user accepted-request counts,
// reconciled from the store at a bounded cadence with in-memory
// increments on commit (spec.md §4.5, §9 "Global daily counter").
package dailycounter

import (
	"context"
	"sync"
	"time"
)

// RefreshInterval is the minimum age before a read forces a store
// recompute (spec.md §4.5).
const RefreshInterval = 60 * time.Second

// TTL is nominal only: unlike a Redis cache this in-process map has no
// eviction, but increments republish "with the full TTL" in spirit by
// never expiring between refreshes.
const TTL = 24 * time.Hour

// Source recomputes today's accepted-request counts from the store of
// record: documents whose status is "accept" and created_at is on or
// after today 00:00:00 UTC, grouped by user (spec.md §4.5).
type Source interface {
	CountAcceptedToday(ctx context.Context, since time.Time) (map[string]int, error)
}

// Cache is C5. The zero value is not usable; construct with New.
type Cache struct {
	source Source
	now    func() time.Time

	mu          sync.RWMutex
	counts      map[string]int
	lastRefresh time.Time
}

// New constructs a Cache owned by the caller (typically the worker
// process's main function); it must never be stored in a package-level
// variable (spec.md §9).
func New(source Source) *Cache {
	return &Cache{source: source, now: time.Now, counts: map[string]int{}}
}

// Get returns today's count for userID from the cached snapshot,
// refreshing first if the cache is stale or force is set.
func (c *Cache) Get(ctx context.Context, userID string, force bool) (int, error) {
	snapshot, err := c.GetCounts(ctx, force)
	if err != nil {
		return 0, err
	}
	return snapshot[userID], nil
}

// GetCounts returns the full cached snapshot, refreshing from the
// store first when the cache is empty, stale, or force is set
// (spec.md §4.5).
func (c *Cache) GetCounts(ctx context.Context, force bool) (map[string]int, error) {
	c.mu.RLock()
	age := c.now().Sub(c.lastRefresh)
	populated := c.counts != nil && !c.lastRefresh.IsZero()
	c.mu.RUnlock()

	if populated && age < RefreshInterval && !force {
		return c.snapshot(), nil
	}

	return c.refresh(ctx)
}

func (c *Cache) refresh(ctx context.Context) (map[string]int, error) {
	since := todayUTC(c.now())
	counts, err := c.source.CountAcceptedToday(ctx, since)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.counts = counts
	c.lastRefresh = c.now()
	c.mu.Unlock()

	return c.snapshot(), nil
}

// Increment bumps userID's cached count by one, on a successful
// dispatch commit. It does not move lastRefresh forward: the next
// periodic reconciliation against the store remains authoritative
// (spec.md §4.5).
func (c *Cache) Increment(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts == nil {
		c.counts = map[string]int{}
	}
	c.counts[userID]++
}

func (c *Cache) snapshot() map[string]int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]int, len(c.counts))
	for k, v := range c.counts {
		out[k] = v
	}
	return out
}

func todayUTC(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
