// Package prefetch warms the product cache with the data a first page
// load needs: root categories and featured products. Fetches are
// throttled so repeated navigations do not hammer the remote store, and
// every failure is silent; prefetch only ever improves the cache, never
// blocks anything.
package prefetch

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/bfgold/storefront-sync/internal/cache"
	"github.com/bfgold/storefront-sync/internal/logging"
	"github.com/bfgold/storefront-sync/internal/models"
	"github.com/bfgold/storefront-sync/internal/remote"
	"github.com/bfgold/storefront-sync/internal/store"
)

// Throttle is the minimum interval between prefetch rounds.
const Throttle = 5 * time.Minute

// Prefetcher fetches essential storefront data into the product cache
// and the tracked-products partition.
type Prefetcher struct {
	client *remote.Client
	cache  *cache.ProductCache
	store  *store.Store
	now    func() time.Time

	mu         sync.Mutex
	lastFetch  time.Time
	categories []models.Category
}

// Option configures a Prefetcher.
type Option func(*Prefetcher)

// WithClock overrides the clock, used by tests to control throttling.
func WithClock(now func() time.Time) Option {
	return func(p *Prefetcher) { p.now = now }
}

// New creates a Prefetcher.
func New(client *remote.Client, productCache *cache.ProductCache, st *store.Store, opts ...Option) *Prefetcher {
	p := &Prefetcher{
		client: client,
		cache:  productCache,
		store:  st,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run performs one prefetch round unless a round ran within the throttle
// window. Returns whether a fetch was attempted.
func (p *Prefetcher) Run(ctx context.Context) bool {
	p.mu.Lock()
	if !p.lastFetch.IsZero() && p.now().Sub(p.lastFetch) < Throttle {
		p.mu.Unlock()
		return false
	}
	p.lastFetch = p.now()
	p.mu.Unlock()

	p.fetchCategories(ctx)
	p.fetchFeatured(ctx)
	return true
}

// Categories returns the categories from the last successful fetch.
func (p *Prefetcher) Categories() []models.Category {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]models.Category, len(p.categories))
	copy(out, p.categories)
	return out
}

func (p *Prefetcher) fetchCategories(ctx context.Context) {
	var categories []models.Category
	err := p.client.Select(ctx, "categories", "*", &categories,
		remote.Is("parent_id", "null"))
	if err != nil {
		logging.Debug("Category prefetch failed",
			map[string]interface{}{"reason": err.Error()})
		return
	}

	p.mu.Lock()
	p.categories = categories
	p.mu.Unlock()
}

func (p *Prefetcher) fetchFeatured(ctx context.Context) {
	var products []models.Product
	err := p.client.Select(ctx, models.Product{}.TableName(), "*", &products,
		remote.Eq("featured", "true"), remote.Eq("is_active", "true"))
	if err != nil {
		logging.Debug("Featured product prefetch failed",
			map[string]interface{}{"reason": err.Error()})
		return
	}

	for _, product := range products {
		p.cache.CacheProduct(product)
		p.track(product)
	}
}

// track records a product for the background agent's price refresh.
func (p *Prefetcher) track(product models.Product) {
	tracked := models.TrackedProduct{
		ID:            product.ID,
		Slug:          product.Slug,
		Price:         product.Price,
		DiscountPrice: product.DiscountPrice,
		Stock:         product.Stock,
	}
	data, err := json.Marshal(tracked)
	if err != nil {
		return
	}
	if err := p.store.Put(store.PartitionTrackedProducts, product.ID, data); err != nil {
		logging.Debug("Tracked product write failed",
			map[string]interface{}{"product_id": product.ID, "reason": err.Error()})
	}
}
