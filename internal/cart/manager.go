// Package cart provides the cart state manager.
//
// The manager reconciles a guest (local-only) cart with the remote
// per-user cart. Every mutation lands in memory first, so the UI always
// sees immediate success; the remote write happens after, and on failure
// the optimistic state is snapshotted locally and the intent queued for
// replay. On reconnect the manager drains the queue, re-upserts its
// in-memory lines wholesale and re-fetches the authoritative cart.
package cart

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/bfgold/storefront-sync/internal/logging"
	"github.com/bfgold/storefront-sync/internal/models"
	"github.com/bfgold/storefront-sync/internal/netbus"
	"github.com/bfgold/storefront-sync/internal/queue"
	"github.com/bfgold/storefront-sync/internal/remote"
	"github.com/bfgold/storefront-sync/internal/store"
	"github.com/bfgold/storefront-sync/internal/uuid"
)

const cartConflictTarget = "user_id,product_id"

// Manager owns the in-memory cart and its reconciliation with the remote
// store. All exported methods are safe for concurrent use; mutations are
// serialized on an internal mutex, mirroring the single-threaded page
// context the protocol was designed for.
type Manager struct {
	mu    sync.Mutex
	items []models.CartItem

	// actor is the current user id; empty means guest mode.
	actor       string
	accessToken string

	// onSession, when set, is told about every identity change so the
	// host can forward fresh credentials to the background agent.
	onSession func(userID, accessToken string)

	store  *store.Store
	queue  *queue.Queue
	client *remote.Client
	exec   queue.Executor
	bus    *netbus.Bus

	sub  *netbus.Subscription
	done chan struct{}
	wg   sync.WaitGroup
}

// NewManager creates a cart Manager. Call Start to attach it to the
// signal bus and Close to detach.
func NewManager(st *store.Store, q *queue.Queue, client *remote.Client, bus *netbus.Bus) *Manager {
	return &Manager{
		store:  st,
		queue:  q,
		client: client,
		exec:   queue.NewRemoteExecutor(client),
		bus:    bus,
	}
}

// Start loads the guest snapshot, kicks off a best-effort price refresh
// and subscribes to connectivity and resume signals.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	m.items = m.loadSnapshot()
	m.mu.Unlock()

	if len(m.Items()) > 0 && m.bus.IsOnline() {
		m.RefreshPrices(ctx)
	}

	m.sub = m.bus.Subscribe()
	m.done = make(chan struct{})
	m.wg.Add(1)
	go m.eventLoop(ctx)
}

// Close detaches the manager from the signal bus.
func (m *Manager) Close() {
	if m.sub == nil {
		return
	}
	close(m.done)
	m.sub.Unsubscribe()
	m.wg.Wait()
	m.sub = nil
}

// eventLoop reacts to reconnect edges and resume signals.
func (m *Manager) eventLoop(ctx context.Context) {
	defer m.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.done:
			return
		case ev, ok := <-m.sub.C():
			if !ok {
				return
			}
			switch ev.Kind {
			case netbus.EventOnline:
				m.handleReconnect(ctx)
			case netbus.EventResume:
				m.handleResume(ctx)
			}
		}
	}
}

// SetSessionListener registers a callback invoked after every identity
// change. The storefront wires it to re-push credentials over the
// bridge, so the background agent replays under the live session.
func (m *Manager) SetSessionListener(fn func(userID, accessToken string)) {
	m.mu.Lock()
	m.onSession = fn
	m.mu.Unlock()
}

func (m *Manager) notifySession(userID, accessToken string) {
	m.mu.Lock()
	fn := m.onSession
	m.mu.Unlock()
	if fn != nil {
		fn(userID, accessToken)
	}
}

// SetActor switches the current user identity. Signing in merges the
// guest cart into the remote store (the upsert writes the guest
// quantities), clears the guest snapshot and re-fetches the remote cart
// as the new source of truth. Signing out falls back to the guest
// snapshot. The session token is installed on the shared remote client
// so every direct mutation is authenticated as the actor.
func (m *Manager) SetActor(ctx context.Context, userID, accessToken string) error {
	m.mu.Lock()
	if m.actor == userID {
		m.accessToken = accessToken
		m.mu.Unlock()
		m.client.SetAccessToken(accessToken)
		m.notifySession(userID, accessToken)
		return nil
	}
	m.actor = userID
	m.accessToken = accessToken
	m.mu.Unlock()

	m.client.SetAccessToken(accessToken)
	m.notifySession(userID, accessToken)

	if userID == "" {
		m.mu.Lock()
		m.items = m.loadSnapshot()
		m.mu.Unlock()
		return nil
	}

	if err := m.mergeGuestCart(ctx, userID); err != nil {
		logging.Warn("Guest cart merge failed",
			map[string]interface{}{"reason": err.Error()})
	}

	m.fetchFromRemote(ctx)
	return nil
}

// mergeGuestCart upserts the guest lines keyed by (user, product) and
// clears the guest snapshot.
func (m *Manager) mergeGuestCart(ctx context.Context, userID string) error {
	local := m.loadSnapshot()
	if len(local) == 0 {
		return nil
	}

	rows := make([]models.CartRow, 0, len(local))
	for _, item := range local {
		rows = append(rows, models.CartRow{
			UserID:    userID,
			ProductID: item.Product.ID,
			Quantity:  item.Quantity,
		})
	}

	if err := m.client.Upsert(ctx, models.CartRow{}.TableName(), rows, cartConflictTarget); err != nil {
		return err
	}

	if err := m.store.DeleteSnapshot(store.SnapshotCartKey); err != nil {
		logging.Debug("Failed to clear guest cart snapshot",
			map[string]interface{}{"reason": err.Error()})
	}
	return nil
}

// AddItem adds quantity of a product, creating or growing a line. The
// in-memory state is updated before any remote call; remote failure is
// absorbed by queueing the net effect for replay.
func (m *Manager) AddItem(ctx context.Context, product models.Product, quantity int) error {
	if quantity < 1 {
		quantity = 1
	}

	m.mu.Lock()

	var existing *models.CartItem
	for i := range m.items {
		if m.items[i].Product.ID == product.ID {
			existing = &m.items[i]
			break
		}
	}

	var resulting int
	isNewLine := existing == nil
	if isNewLine {
		resulting = quantity
		m.items = append(m.items, models.CartItem{
			ID:       uuid.New(),
			Product:  product,
			Quantity: quantity,
		})
	} else {
		resulting = existing.Quantity + quantity
		existing.Quantity = resulting
	}

	actor, token := m.actor, m.accessToken
	m.mu.Unlock()

	m.trackProduct(product)

	if actor == "" {
		m.persistSnapshot()
		return nil
	}

	var err error
	if isNewLine {
		err = m.client.Insert(ctx, models.CartRow{}.TableName(), []models.CartRow{{
			UserID: actor, ProductID: product.ID, Quantity: quantity,
		}})
	} else {
		err = m.client.Update(ctx, models.CartRow{}.TableName(),
			map[string]int{"quantity": resulting},
			remote.Eq("user_id", actor), remote.Eq("product_id", product.ID))
	}

	m.persistSnapshot()

	if err != nil {
		// Queue the net effect. The payload carries the resulting total
		// quantity so replay is idempotent however many times it runs.
		opType := queue.OpCartUpdate
		var payload queue.Payload = queue.CartUpdatePayload{
			UserID: actor, ProductID: product.ID, Quantity: resulting, AccessToken: token,
		}
		if isNewLine {
			opType = queue.OpCartAdd
			payload = queue.CartAddPayload{
				UserID: actor, ProductID: product.ID, Quantity: resulting, AccessToken: token,
			}
		}
		if _, qErr := m.queue.Enqueue(opType, payload); qErr != nil {
			logging.Error("Failed to enqueue cart operation", qErr,
				map[string]interface{}{"product_id": product.ID})
		}
	}

	return nil
}

// UpdateQuantity sets a line to an absolute quantity. A value of zero or
// less is defined as removal, not an error.
func (m *Manager) UpdateQuantity(ctx context.Context, productID string, quantity int) error {
	if quantity <= 0 {
		return m.RemoveItem(ctx, productID)
	}

	m.mu.Lock()
	found := false
	for i := range m.items {
		if m.items[i].Product.ID == productID {
			m.items[i].Quantity = quantity
			found = true
			break
		}
	}
	actor, token := m.actor, m.accessToken
	m.mu.Unlock()

	if !found {
		return nil
	}

	if actor == "" {
		m.persistSnapshot()
		return nil
	}

	err := m.client.Update(ctx, models.CartRow{}.TableName(),
		map[string]int{"quantity": quantity},
		remote.Eq("user_id", actor), remote.Eq("product_id", productID))

	m.persistSnapshot()

	if err != nil {
		if _, qErr := m.queue.Enqueue(queue.OpCartUpdate, queue.CartUpdatePayload{
			UserID: actor, ProductID: productID, Quantity: quantity, AccessToken: token,
		}); qErr != nil {
			logging.Error("Failed to enqueue cart update", qErr,
				map[string]interface{}{"product_id": productID})
		}
	}

	return nil
}

// RemoveItem drops a line.
func (m *Manager) RemoveItem(ctx context.Context, productID string) error {
	m.mu.Lock()
	filtered := m.items[:0:0]
	for _, item := range m.items {
		if item.Product.ID != productID {
			filtered = append(filtered, item)
		}
	}
	m.items = filtered
	actor, token := m.actor, m.accessToken
	m.mu.Unlock()

	if actor == "" {
		m.persistSnapshot()
		return nil
	}

	err := m.client.Delete(ctx, models.CartRow{}.TableName(),
		remote.Eq("user_id", actor), remote.Eq("product_id", productID))

	m.persistSnapshot()

	if err != nil {
		if _, qErr := m.queue.Enqueue(queue.OpCartRemove, queue.CartRemovePayload{
			UserID: actor, ProductID: productID, AccessToken: token,
		}); qErr != nil {
			logging.Error("Failed to enqueue cart remove", qErr,
				map[string]interface{}{"product_id": productID})
		}
	}

	return nil
}

// Clear empties the cart.
func (m *Manager) Clear(ctx context.Context) error {
	m.mu.Lock()
	m.items = nil
	actor, token := m.actor, m.accessToken
	m.mu.Unlock()

	if err := m.store.DeleteSnapshot(store.SnapshotCartKey); err != nil {
		logging.Debug("Failed to clear cart snapshot",
			map[string]interface{}{"reason": err.Error()})
	}

	if actor == "" {
		return nil
	}

	if err := m.client.Delete(ctx, models.CartRow{}.TableName(),
		remote.Eq("user_id", actor)); err != nil {
		if _, qErr := m.queue.Enqueue(queue.OpCartClear, queue.CartClearPayload{
			UserID: actor, AccessToken: token,
		}); qErr != nil {
			logging.Error("Failed to enqueue cart clear", qErr)
		}
	}

	return nil
}

// Items returns a copy of the current lines.
func (m *Manager) Items() []models.CartItem {
	m.mu.Lock()
	defer m.mu.Unlock()

	items := make([]models.CartItem, len(m.items))
	copy(items, m.items)
	return items
}

// ItemCount is the sum of line quantities.
func (m *Manager) ItemCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, item := range m.items {
		count += item.Quantity
	}
	return count
}

// Subtotal is the sum of effective price times quantity over all lines.
func (m *Manager) Subtotal() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	total := 0.0
	for _, item := range m.items {
		total += item.Product.EffectivePrice() * float64(item.Quantity)
	}
	return total
}

// RefreshPrices re-fetches price, discount and stock for every product in
// the cart and overwrites only those fields, leaving descriptive snapshot
// fields untouched. Best-effort: failure leaves existing prices in place.
func (m *Manager) RefreshPrices(ctx context.Context) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.items))
	for _, item := range m.items {
		ids = append(ids, item.Product.ID)
	}
	m.mu.Unlock()

	if len(ids) == 0 {
		return
	}

	var fresh []models.PriceUpdate
	err := m.client.Select(ctx, models.Product{}.TableName(),
		"id,price,discount_price,stock", &fresh, remote.In("id", ids))
	if err != nil {
		logging.Debug("Price refresh failed, keeping cached prices",
			map[string]interface{}{"reason": err.Error()})
		return
	}

	m.ApplyPriceUpdates(fresh)
}

// ApplyPriceUpdates overwrites the volatile product fields of matching
// lines. Also invoked for price broadcasts pushed by the background agent.
func (m *Manager) ApplyPriceUpdates(updates []models.PriceUpdate) {
	if len(updates) == 0 {
		return
	}

	byID := make(map[string]models.PriceUpdate, len(updates))
	for _, u := range updates {
		byID[u.ID] = u
	}

	m.mu.Lock()
	for i := range m.items {
		if u, ok := byID[m.items[i].Product.ID]; ok {
			u.Apply(&m.items[i].Product)
		}
	}
	m.mu.Unlock()

	m.persistSnapshot()
}

// handleReconnect runs the reconnect protocol: drain the queue, then
// wholesale-upsert the in-memory lines (so the remote reflects the latest
// locally-known state even if queued operations were lossy), then
// re-fetch to reconcile.
func (m *Manager) handleReconnect(ctx context.Context) {
	m.mu.Lock()
	actor := m.actor
	m.mu.Unlock()

	if actor == "" {
		return
	}

	if err := m.queue.Replay(ctx, m.exec); err != nil {
		logging.Warn("Queue replay on reconnect failed",
			map[string]interface{}{"reason": err.Error()})
	}

	items := m.Items()
	if len(items) > 0 {
		rows := make([]models.CartRow, 0, len(items))
		for _, item := range items {
			rows = append(rows, models.CartRow{
				UserID:    actor,
				ProductID: item.Product.ID,
				Quantity:  item.Quantity,
			})
		}
		if err := m.client.Upsert(ctx, models.CartRow{}.TableName(), rows, cartConflictTarget); err != nil {
			logging.Warn("Wholesale cart upsert on reconnect failed",
				map[string]interface{}{"reason": err.Error()})
		}
	}

	m.fetchFromRemote(ctx)
}

// handleResume refreshes state when the app returns to the foreground.
func (m *Manager) handleResume(ctx context.Context) {
	if !m.bus.IsOnline() {
		return
	}

	m.mu.Lock()
	actor := m.actor
	m.mu.Unlock()

	if actor != "" {
		m.fetchFromRemote(ctx)
	} else {
		m.RefreshPrices(ctx)
	}
}

// cartSelectRow is the remote cart row with its embedded product snapshot.
type cartSelectRow struct {
	ID       string          `json:"id"`
	Quantity int             `json:"quantity"`
	Product  *models.Product `json:"product"`
}

// fetchFromRemote replaces the in-memory state with the authoritative
// remote cart and refreshes the fallback snapshot. On failure it falls
// back to the local snapshot instead.
func (m *Manager) fetchFromRemote(ctx context.Context) {
	m.mu.Lock()
	actor := m.actor
	m.mu.Unlock()

	if actor == "" {
		return
	}

	var rows []cartSelectRow
	err := m.client.Select(ctx, models.CartRow{}.TableName(),
		"id,quantity,product:products(*)", &rows, remote.Eq("user_id", actor))
	if err != nil {
		logging.Debug("Cart fetch failed, falling back to snapshot",
			map[string]interface{}{"reason": err.Error()})
		local := m.loadSnapshot()
		if len(local) > 0 {
			m.mu.Lock()
			m.items = local
			m.mu.Unlock()
		}
		return
	}

	items := make([]models.CartItem, 0, len(rows))
	for _, row := range rows {
		if row.Product == nil {
			continue
		}
		items = append(items, models.CartItem{
			ID:       row.ID,
			Product:  *row.Product,
			Quantity: row.Quantity,
		})
		m.trackProduct(*row.Product)
	}

	m.mu.Lock()
	m.items = items
	m.mu.Unlock()

	m.persistSnapshot()
}

// persistSnapshot mirrors the in-memory state into the durable fallback
// snapshot. Failures are swallowed; the snapshot is best-effort.
func (m *Manager) persistSnapshot() {
	items := m.Items()

	data, err := json.Marshal(items)
	if err != nil {
		return
	}
	if err := m.store.PutSnapshot(store.SnapshotCartKey, data); err != nil {
		logging.Debug("Cart snapshot write failed",
			map[string]interface{}{"reason": err.Error()})
	}
}

// loadSnapshot reads the fallback snapshot; any failure yields an empty cart.
func (m *Manager) loadSnapshot() []models.CartItem {
	data, found, err := m.store.GetSnapshot(store.SnapshotCartKey)
	if err != nil || !found {
		return nil
	}

	var items []models.CartItem
	if err := json.Unmarshal(data, &items); err != nil {
		return nil
	}
	return items
}

// trackProduct records the product for the background agent's periodic
// price refresh. Best-effort.
func (m *Manager) trackProduct(p models.Product) {
	tracked := models.TrackedProduct{
		ID:            p.ID,
		Slug:          p.Slug,
		Price:         p.Price,
		DiscountPrice: p.DiscountPrice,
		Stock:         p.Stock,
	}
	data, err := json.Marshal(tracked)
	if err != nil {
		return
	}
	if err := m.store.Put(store.PartitionTrackedProducts, p.ID, data); err != nil {
		logging.Debug("Tracked product write failed",
			map[string]interface{}{"product_id": p.ID, "reason": err.Error()})
	}
}
