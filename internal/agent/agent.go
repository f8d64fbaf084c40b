// Package agent implements the background replay agent: an independent
// process that opens its own handle on the shared durable store, drains
// the pending operation queue on a schedule, and keeps tracked product
// prices fresh while no storefront page is open.
//
// The agent cannot read the page's session, so remote credentials must be
// pushed to it over the bridge before it can talk to the remote store.
// Until then drain and refresh passes are skipped.
package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/bfgold/storefront-sync/internal/bridge"
	"github.com/bfgold/storefront-sync/internal/config"
	"github.com/bfgold/storefront-sync/internal/logging"
	"github.com/bfgold/storefront-sync/internal/models"
	"github.com/bfgold/storefront-sync/internal/queue"
	"github.com/bfgold/storefront-sync/internal/remote"
	"github.com/bfgold/storefront-sync/internal/store"
)

// Agent is the background replay process.
type Agent struct {
	cfg     config.AgentConfig
	store   *store.Store
	queue   *queue.Queue
	hub     *bridge.Hub
	metrics *Metrics

	mu     sync.RWMutex
	client *remote.Client
	exec   queue.Executor

	srv       *http.Server
	stopCh    chan struct{}
	wg        sync.WaitGroup
	isRunning bool
}

// New creates an Agent over its own store handle.
func New(st *store.Store, cfg config.AgentConfig) *Agent {
	a := &Agent{
		cfg:     cfg,
		store:   st,
		queue:   queue.New(st),
		metrics: newMetrics(),
		stopCh:  make(chan struct{}),
	}
	a.hub = bridge.NewHub(a.handleInbound)
	return a
}

// Metrics exposes the agent's metrics collector.
func (a *Agent) Metrics() *Metrics {
	return a.metrics
}

// Hub exposes the bridge hub, used by tests and by Start's HTTP wiring.
func (a *Agent) Hub() *bridge.Hub {
	return a.hub
}

// SetRemote installs the remote credentials the agent replays against.
// Called from the bridge config push and directly by tests.
func (a *Agent) SetRemote(cfg *remote.Config) {
	client := remote.NewClient(cfg)

	a.mu.Lock()
	a.client = client
	a.exec = queue.NewRemoteExecutor(client)
	a.mu.Unlock()

	logging.Info("Agent remote configured",
		map[string]interface{}{"url": cfg.BaseURL})
}

func (a *Agent) remoteClient() (*remote.Client, queue.Executor) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.client, a.exec
}

// Start binds the bridge and metrics endpoints and starts the drain and
// refresh loops.
func (a *Agent) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.isRunning {
		a.mu.Unlock()
		return nil
	}
	a.isRunning = true
	a.mu.Unlock()

	mux := http.NewServeMux()
	mux.Handle("/bridge", a.hub.Handler())
	mux.Handle("/metrics", a.metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	a.srv = &http.Server{Addr: a.cfg.ListenAddr, Handler: mux}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error("Agent HTTP server failed", err, nil)
		}
	}()

	a.wg.Add(2)
	go a.drainLoop(ctx)
	go a.refreshLoop(ctx)

	logging.Info("Background sync agent started",
		map[string]interface{}{"listen_addr": a.cfg.ListenAddr})
	return nil
}

// Stop shuts the agent down gracefully.
func (a *Agent) Stop() {
	a.mu.Lock()
	if !a.isRunning {
		a.mu.Unlock()
		return
	}
	a.isRunning = false
	a.mu.Unlock()

	close(a.stopCh)

	if a.srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		a.srv.Shutdown(shutdownCtx)
		cancel()
	}
	a.hub.Close()
	a.wg.Wait()

	logging.Info("Background sync agent stopped", nil)
}

// handleInbound dispatches messages pushed by foreground pages.
func (a *Agent) handleInbound(msgType string, data json.RawMessage) {
	switch msgType {
	case bridge.MsgConfigUpdate:
		var cfg bridge.ConfigUpdate
		if err := json.Unmarshal(data, &cfg); err != nil {
			logging.Warn("Discarding malformed config push",
				map[string]interface{}{"reason": err.Error()})
			return
		}
		a.SetRemote(&remote.Config{
			BaseURL:     cfg.BaseURL,
			APIKey:      cfg.APIKey,
			AccessToken: cfg.AccessToken,
		})

	case bridge.MsgReplayRequested:
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			a.DrainOnce(ctx)
		}()
	}
}

func (a *Agent) drainLoop(ctx context.Context) {
	defer a.wg.Done()

	ticker := time.NewTicker(a.cfg.DrainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-a.stopCh:
			return
		case <-ticker.C:
			a.DrainOnce(ctx)
		}
	}
}

func (a *Agent) refreshLoop(ctx context.Context) {
	defer a.wg.Done()

	ticker := time.NewTicker(a.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-a.stopCh:
			return
		case <-ticker.C:
			a.RefreshOnce(ctx)
		}
	}
}

// DrainOnce runs a single queue drain pass. Skipped when no remote
// credentials have been pushed yet.
func (a *Agent) DrainOnce(ctx context.Context) {
	_, exec := a.remoteClient()
	if exec == nil {
		logging.Debug("Drain skipped, no remote configuration", nil)
		return
	}

	before, err := a.queue.Count()
	if err != nil {
		logging.Warn("Queue count failed before drain",
			map[string]interface{}{"reason": err.Error()})
		return
	}
	if before == 0 {
		a.metrics.queueDepth.Set(0)
		return
	}

	a.metrics.replayPasses.Inc()

	if err := a.queue.Replay(ctx, exec); err != nil {
		logging.Warn("Background drain failed",
			map[string]interface{}{"reason": err.Error()})
	}

	remaining, err := a.queue.Count()
	if err != nil {
		logging.Warn("Queue count failed after drain",
			map[string]interface{}{"reason": err.Error()})
		return
	}

	a.metrics.queueDepth.Set(float64(remaining))
	if flushed := before - remaining; flushed > 0 {
		a.metrics.opsFlushed.Add(float64(flushed))
	}

	a.hub.BroadcastQueueDrained(remaining)

	logging.Info("Background drain completed",
		map[string]interface{}{"before": before, "remaining": remaining})
}

// RefreshOnce re-fetches price and stock for every tracked product,
// rewrites the tracked records and broadcasts the fresh values to all
// connected pages. Skipped when no remote credentials have been pushed.
func (a *Agent) RefreshOnce(ctx context.Context) {
	client, _ := a.remoteClient()
	if client == nil {
		logging.Debug("Price refresh skipped, no remote configuration", nil)
		return
	}

	records, err := a.store.GetAll(store.PartitionTrackedProducts)
	if err != nil {
		logging.Warn("Tracked product read failed",
			map[string]interface{}{"reason": err.Error()})
		return
	}

	tracked := make(map[string]models.TrackedProduct, len(records))
	ids := make([]string, 0, len(records))
	for _, data := range records {
		var tp models.TrackedProduct
		if err := json.Unmarshal(data, &tp); err != nil {
			continue
		}
		tracked[tp.ID] = tp
		ids = append(ids, tp.ID)
	}

	a.metrics.trackedProducts.Set(float64(len(ids)))
	if len(ids) == 0 {
		return
	}

	var fresh []models.PriceUpdate
	err = client.Select(ctx, models.Product{}.TableName(),
		"id,price,discount_price,stock", &fresh, remote.In("id", ids))
	if err != nil {
		logging.Warn("Tracked product refresh failed",
			map[string]interface{}{"reason": err.Error()})
		return
	}

	now := time.Now().UnixMilli()
	for _, update := range fresh {
		tp, ok := tracked[update.ID]
		if !ok {
			continue
		}
		tp.Price = update.Price
		tp.DiscountPrice = update.DiscountPrice
		tp.Stock = update.Stock
		tp.UpdatedAt = now

		data, err := json.Marshal(tp)
		if err != nil {
			continue
		}
		if err := a.store.Put(store.PartitionTrackedProducts, tp.ID, data); err != nil {
			logging.Debug("Tracked product write failed",
				map[string]interface{}{"product_id": tp.ID, "reason": err.Error()})
		}
	}

	a.metrics.priceRefreshes.Inc()
	a.hub.BroadcastPricesUpdated(fresh)

	logging.Info("Tracked product refresh completed",
		map[string]interface{}{"tracked": len(ids), "refreshed": len(fresh)})
}
