// Package cache provides the bounded read-through product cache.
//
// The cache backs instant rendering of recently viewed products while a
// fresh fetch is in flight or while offline. It is strictly best-effort:
// the server never invalidates it, staleness is bounded only by the TTL
// and the capacity eviction, and persistence failures are swallowed.
package cache

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/bfgold/storefront-sync/internal/logging"
	"github.com/bfgold/storefront-sync/internal/models"
	"github.com/bfgold/storefront-sync/internal/store"
)

const (
	// MaxEntries bounds the cache; the least-recently-cached entry is
	// evicted on every write past the bound.
	MaxEntries = 20

	// TTL is the age past which an entry is treated as absent on read.
	// Expired entries are not swept proactively.
	TTL = 30 * time.Minute
)

// entry pairs a product snapshot with its cache timestamp (milliseconds).
type entry struct {
	Product  models.Product `json:"product"`
	CachedAt int64          `json:"cachedAt"`
}

// ProductCache is a recency-bounded cache of product snapshots, keyed by
// product id internally and looked up by slug.
type ProductCache struct {
	store *store.Store
	now   func() time.Time
}

// Option configures a ProductCache.
type Option func(*ProductCache)

// WithClock overrides the clock, used by tests to control TTL expiry.
func WithClock(now func() time.Time) Option {
	return func(c *ProductCache) { c.now = now }
}

// New creates a ProductCache over the durable store's snapshot keyspace.
func New(st *store.Store, opts ...Option) *ProductCache {
	c := &ProductCache{
		store: st,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CacheProduct upserts the product by id and re-persists the collection
// sorted by recency, truncated to MaxEntries. Persistence failure (e.g.
// storage quota) is ignored; caching never blocks the primary operation.
func (c *ProductCache) CacheProduct(product models.Product) {
	entries := c.read()

	// Upsert by product id.
	replaced := false
	for i := range entries {
		if entries[i].Product.ID == product.ID {
			entries[i] = entry{Product: product, CachedAt: c.now().UnixMilli()}
			replaced = true
			break
		}
	}
	if !replaced {
		entries = append(entries, entry{Product: product, CachedAt: c.now().UnixMilli()})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].CachedAt > entries[j].CachedAt
	})
	if len(entries) > MaxEntries {
		entries = entries[:MaxEntries]
	}

	c.write(entries)
}

// GetBySlug returns a cached product by slug. A matching entry older than
// the TTL is treated as absent.
func (c *ProductCache) GetBySlug(slug string) (models.Product, bool) {
	cutoff := c.now().Add(-TTL).UnixMilli()

	for _, e := range c.read() {
		if e.Product.Slug != slug {
			continue
		}
		if e.CachedAt < cutoff {
			return models.Product{}, false
		}
		return e.Product, true
	}
	return models.Product{}, false
}

// Len returns the number of persisted entries, expired ones included.
func (c *ProductCache) Len() int {
	return len(c.read())
}

// read loads the persisted collection; any failure yields an empty cache.
func (c *ProductCache) read() []entry {
	data, found, err := c.store.GetSnapshot(store.SnapshotProductCacheKey)
	if err != nil || !found {
		return nil
	}

	var entries []entry
	if err := json.Unmarshal(data, &entries); err != nil {
		// Corrupted snapshot; start over rather than error.
		return nil
	}
	return entries
}

// write persists the collection, swallowing failures.
func (c *ProductCache) write(entries []entry) {
	data, err := json.Marshal(entries)
	if err != nil {
		return
	}
	if err := c.store.PutSnapshot(store.SnapshotProductCacheKey, data); err != nil {
		logging.Debug("Product cache write failed",
			map[string]interface{}{"reason": err.Error()})
	}
}
