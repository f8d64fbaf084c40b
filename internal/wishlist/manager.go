// Package wishlist provides the wishlist state manager.
//
// The wishlist is a flat set of product ids per user. Unlike the cart
// there are no quantities, so reconciliation after an offline period is
// pure set arithmetic: ids present locally but not remotely are bulk
// upserted, ids present remotely but not locally are deleted, then the
// remote set is re-fetched as the source of truth.
package wishlist

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/bfgold/storefront-sync/internal/logging"
	"github.com/bfgold/storefront-sync/internal/models"
	"github.com/bfgold/storefront-sync/internal/netbus"
	"github.com/bfgold/storefront-sync/internal/queue"
	"github.com/bfgold/storefront-sync/internal/remote"
	"github.com/bfgold/storefront-sync/internal/store"
)

const wishlistConflictTarget = "user_id,product_id"

// Manager owns the in-memory wishlist id set and its reconciliation with
// the remote store. Guest wishlists live purely in memory and the local
// snapshot; they are merged into the remote set on sign-in.
type Manager struct {
	mu  sync.Mutex
	ids map[string]struct{}

	actor       string
	accessToken string

	store  *store.Store
	queue  *queue.Queue
	client *remote.Client
	exec   queue.Executor
	bus    *netbus.Bus

	sub  *netbus.Subscription
	done chan struct{}
	wg   sync.WaitGroup
}

// NewManager creates a wishlist Manager.
func NewManager(st *store.Store, q *queue.Queue, client *remote.Client, bus *netbus.Bus) *Manager {
	return &Manager{
		ids:    make(map[string]struct{}),
		store:  st,
		queue:  q,
		client: client,
		exec:   queue.NewRemoteExecutor(client),
		bus:    bus,
	}
}

// Start loads the guest snapshot and subscribes to connectivity signals.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	m.ids = m.loadSnapshot()
	m.mu.Unlock()

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
				m.Reconcile(ctx)
			case netbus.EventResume:
				if m.bus.IsOnline() {
					m.fetchFromRemote(ctx)
				}
			}
		}
	}
}

// SetActor switches the current user identity. Signing in merges the
// guest set into the remote set and re-fetches; signing out falls back
// to the guest snapshot. The session token is installed on the shared
// remote client so every direct mutation is authenticated as the actor.
func (m *Manager) SetActor(ctx context.Context, userID, accessToken string) error {
	m.mu.Lock()
	if m.actor == userID {
		m.accessToken = accessToken
		m.mu.Unlock()
		m.client.SetAccessToken(accessToken)
		return nil
	}
	m.actor = userID
	m.accessToken = accessToken
	m.mu.Unlock()

	m.client.SetAccessToken(accessToken)

	if userID == "" {
		m.mu.Lock()
		m.ids = m.loadSnapshot()
		m.mu.Unlock()
		return nil
	}

	if err := m.mergeGuestSet(ctx, userID); err != nil {
		logging.Warn("Guest wishlist merge failed",
			map[string]interface{}{"reason": err.Error()})
	}

	m.fetchFromRemote(ctx)
	return nil
}

func (m *Manager) mergeGuestSet(ctx context.Context, userID string) error {
	local := m.loadSnapshot()
	if len(local) == 0 {
		return nil
	}

	rows := make([]models.WishlistRow, 0, len(local))
	for id := range local {
		rows = append(rows, models.WishlistRow{UserID: userID, ProductID: id})
	}

	if err := m.client.Upsert(ctx, models.WishlistRow{}.TableName(), rows, wishlistConflictTarget); err != nil {
		return err
	}

	if err := m.store.DeleteSnapshot(store.SnapshotWishlistKey); err != nil {
		logging.Debug("Failed to clear guest wishlist snapshot",
			map[string]interface{}{"reason": err.Error()})
	}
	return nil
}

// Add adds a product id to the set. Adding a member already present is a
// no-op. Remote failure queues the intent for replay.
func (m *Manager) Add(ctx context.Context, productID string) error {
	m.mu.Lock()
	if _, exists := m.ids[productID]; exists {
		m.mu.Unlock()
		return nil
	}
	m.ids[productID] = struct{}{}
	actor, token := m.actor, m.accessToken
	m.mu.Unlock()

	if actor == "" {
		m.persistSnapshot()
		return nil
	}

	err := m.client.Upsert(ctx, models.WishlistRow{}.TableName(),
		[]models.WishlistRow{{UserID: actor, ProductID: productID}}, wishlistConflictTarget)

	m.persistSnapshot()

	if err != nil {
		if _, qErr := m.queue.Enqueue(queue.OpWishlistAdd, queue.WishlistAddPayload{
			UserID: actor, ProductID: productID, AccessToken: token,
		}); qErr != nil {
			logging.Error("Failed to enqueue wishlist add", qErr,
				map[string]interface{}{"product_id": productID})
		}
	}

	return nil
}

// Remove drops a product id from the set. Removing an absent member is a
// no-op.
func (m *Manager) Remove(ctx context.Context, productID string) error {
	m.mu.Lock()
	if _, exists := m.ids[productID]; !exists {
		m.mu.Unlock()
		return nil
	}
	delete(m.ids, productID)
	actor, token := m.actor, m.accessToken
	m.mu.Unlock()

	if actor == "" {
		m.persistSnapshot()
		return nil
	}

	err := m.client.Delete(ctx, models.WishlistRow{}.TableName(),
		remote.Eq("user_id", actor), remote.Eq("product_id", productID))

	m.persistSnapshot()

	if err != nil {
		if _, qErr := m.queue.Enqueue(queue.OpWishlistRemove, queue.WishlistRemovePayload{
			UserID: actor, ProductID: productID, AccessToken: token,
		}); qErr != nil {
			logging.Error("Failed to enqueue wishlist remove", qErr,
				map[string]interface{}{"product_id": productID})
		}
	}

	return nil
}

// Toggle flips membership for a product id.
func (m *Manager) Toggle(ctx context.Context, productID string) error {
	if m.Contains(productID) {
		return m.Remove(ctx, productID)
	}
	return m.Add(ctx, productID)
}

// Contains reports whether the product id is in the set.
func (m *Manager) Contains(productID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.ids[productID]
	return ok
}

// IDs returns the members sorted for stable iteration.
func (m *Manager) IDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.ids))
	for id := range m.ids {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Count returns the set size.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.ids)
}

// Reconcile pushes the local set to the remote store by set difference:
// the queue is drained first, then members missing remotely are bulk
// upserted and members present only remotely are deleted, then the
// remote set is re-fetched. The local set is treated as the user's
// latest intent and wins both differences.
func (m *Manager) Reconcile(ctx context.Context) {
	m.mu.Lock()
	actor := m.actor
	local := make(map[string]struct{}, len(m.ids))
	for id := range m.ids {
		local[id] = struct{}{}
	}
	m.mu.Unlock()

	if actor == "" {
		return
	}

	if err := m.queue.Replay(ctx, m.exec); err != nil {
		logging.Warn("Queue replay before wishlist reconcile failed",
			map[string]interface{}{"reason": err.Error()})
	}

	remoteIDs, err := m.fetchIDs(ctx, actor)
	if err != nil {
		logging.Warn("Wishlist reconcile aborted, remote set unavailable",
			map[string]interface{}{"reason": err.Error()})
		return
	}

	var toAdd []models.WishlistRow
	for id := range local {
		if _, ok := remoteIDs[id]; !ok {
			toAdd = append(toAdd, models.WishlistRow{UserID: actor, ProductID: id})
		}
	}
	if len(toAdd) > 0 {
		if err := m.client.Upsert(ctx, models.WishlistRow{}.TableName(), toAdd, wishlistConflictTarget); err != nil {
			logging.Warn("Wishlist reconcile upsert failed",
				map[string]interface{}{"reason": err.Error()})
		}
	}

	for id := range remoteIDs {
		if _, ok := local[id]; !ok {
			if err := m.client.Delete(ctx, models.WishlistRow{}.TableName(),
				remote.Eq("user_id", actor), remote.Eq("product_id", id)); err != nil {
				logging.Warn("Wishlist reconcile delete failed",
					map[string]interface{}{"product_id": id, "reason": err.Error()})
			}
		}
	}

	m.fetchFromRemote(ctx)
}

func (m *Manager) fetchIDs(ctx context.Context, actor string) (map[string]struct{}, error) {
	var rows []models.WishlistRow
	err := m.client.Select(ctx, models.WishlistRow{}.TableName(),
		"product_id", &rows, remote.Eq("user_id", actor))
	if err != nil {
		return nil, err
	}

	ids := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		ids[row.ProductID] = struct{}{}
	}
	return ids, nil
}

// fetchFromRemote replaces the local set with the remote one. On failure
// the local set is kept.
func (m *Manager) fetchFromRemote(ctx context.Context) {
	m.mu.Lock()
	actor := m.actor
	m.mu.Unlock()

	if actor == "" {
		return
	}

	ids, err := m.fetchIDs(ctx, actor)
	if err != nil {
		logging.Debug("Wishlist fetch failed, keeping local set",
			map[string]interface{}{"reason": err.Error()})
		return
	}

	m.mu.Lock()
	m.ids = ids
	m.mu.Unlock()

	m.persistSnapshot()
}

func (m *Manager) persistSnapshot() {
	data, err := json.Marshal(m.IDs())
	if err != nil {
		return
	}
	if err := m.store.PutSnapshot(store.SnapshotWishlistKey, data); err != nil {
		logging.Debug("Wishlist snapshot write failed",
			map[string]interface{}{"reason": err.Error()})
	}
}

func (m *Manager) loadSnapshot() map[string]struct{} {
	ids := make(map[string]struct{})

	data, found, err := m.store.GetSnapshot(store.SnapshotWishlistKey)
	if err != nil || !found {
		return ids
	}

	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return ids
	}
	for _, id := range list {
		ids[id] = struct{}{}
	}
	return ids
}
