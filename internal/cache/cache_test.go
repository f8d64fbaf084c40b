// Package cache provides unit tests for the product read cache.
package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/bfgold/storefront-sync/internal/models"
	"github.com/bfgold/storefront-sync/internal/store"
)

func newTestCache(t *testing.T, now *time.Time) *ProductCache {
	t.Helper()

	st, err := store.Open(t.TempDir(), store.DefaultPartitions...)
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	return New(st, WithClock(func() time.Time { return *now }))
}

func product(id, slug string) models.Product {
	return models.Product{ID: id, Slug: slug, Name: "Gold Ring " + id, Price: 45000}
}

// TestGetBySlug tests the basic cache round trip.
func TestGetBySlug(t *testing.T) {
	now := time.UnixMilli(1_000_000)
	c := newTestCache(t, &now)

	c.CacheProduct(product("p1", "gold-ring"))

	got, ok := c.GetBySlug("gold-ring")
	if !ok {
		t.Fatal("Expected cached product to be found")
	}
	if got.ID != "p1" {
		t.Errorf("ID = %s, want p1", got.ID)
	}

	if _, ok := c.GetBySlug("missing-slug"); ok {
		t.Error("Expected absent slug to miss")
	}
}

// TestTTLBoundary tests that an entry is served just under the TTL and
// treated as absent just past it.
func TestTTLBoundary(t *testing.T) {
	now := time.UnixMilli(1_000_000)
	c := newTestCache(t, &now)

	c.CacheProduct(product("p1", "gold-ring"))

	now = now.Add(29 * time.Minute)
	if _, ok := c.GetBySlug("gold-ring"); !ok {
		t.Error("Expected hit at 29 minutes")
	}

	now = now.Add(2 * time.Minute) // 31 minutes total
	if _, ok := c.GetBySlug("gold-ring"); ok {
		t.Error("Expected miss at 31 minutes")
	}
}

// TestUpsertRefreshesAge tests that re-caching an existing product resets
// its age instead of growing the collection.
func TestUpsertRefreshesAge(t *testing.T) {
	now := time.UnixMilli(1_000_000)
	c := newTestCache(t, &now)

	c.CacheProduct(product("p1", "gold-ring"))

	now = now.Add(25 * time.Minute)
	c.CacheProduct(product("p1", "gold-ring"))

	if c.Len() != 1 {
		t.Errorf("Expected 1 entry after upsert, got %d", c.Len())
	}

	// 29 minutes after the refresh; 54 after the first write.
	now = now.Add(29 * time.Minute)
	if _, ok := c.GetBySlug("gold-ring"); !ok {
		t.Error("Expected hit: upsert should reset the entry age")
	}
}

// TestEviction tests that inserting a 21st product evicts exactly the
// least-recently-cached entry.
func TestEviction(t *testing.T) {
	now := time.UnixMilli(1_000_000)
	c := newTestCache(t, &now)

	for i := 0; i < MaxEntries; i++ {
		c.CacheProduct(product(fmt.Sprintf("p%d", i), fmt.Sprintf("slug-%d", i)))
		now = now.Add(time.Second)
	}

	// The 21st insert evicts p0, the least recently cached.
	c.CacheProduct(product("p20", "slug-20"))

	if c.Len() != MaxEntries {
		t.Errorf("Expected %d entries after eviction, got %d", MaxEntries, c.Len())
	}

	if _, ok := c.GetBySlug("slug-0"); ok {
		t.Error("Expected oldest entry to be evicted")
	}

	for i := 1; i <= MaxEntries; i++ {
		if _, ok := c.GetBySlug(fmt.Sprintf("slug-%d", i)); !ok {
			t.Errorf("Expected slug-%d to remain retrievable", i)
		}
	}
}

// TestCorruptSnapshotTolerated tests that a broken persisted collection is
// treated as an empty cache.
func TestCorruptSnapshotTolerated(t *testing.T) {
	now := time.UnixMilli(1_000_000)

	st, err := store.Open(t.TempDir(), store.DefaultPartitions...)
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	defer st.Close()

	st.PutSnapshot(store.SnapshotProductCacheKey, []byte("not json"))

	c := New(st, WithClock(func() time.Time { return now }))

	if _, ok := c.GetBySlug("anything"); ok {
		t.Error("Expected miss on corrupted snapshot")
	}

	// Writing through the corruption recovers the cache.
	c.CacheProduct(product("p1", "gold-ring"))
	if _, ok := c.GetBySlug("gold-ring"); !ok {
		t.Error("Expected cache to recover after write")
	}
}

// TestWriteBestEffort tests that a failing store never panics or errors
// the caller.
func TestWriteBestEffort(t *testing.T) {
	now := time.UnixMilli(1_000_000)

	st, err := store.Open(t.TempDir(), store.DefaultPartitions...)
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	st.Close() // writes will fail from here on

	c := New(st, WithClock(func() time.Time { return now }))

	// Must not panic.
	c.CacheProduct(product("p1", "gold-ring"))

	if _, ok := c.GetBySlug("gold-ring"); ok {
		t.Error("Expected miss after failed write")
	}
}
