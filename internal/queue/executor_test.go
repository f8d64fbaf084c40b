// Package queue provides unit tests for the remote replay executor.
package queue

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/bfgold/storefront-sync/internal/remote"
)

// fakeCartServer simulates the remote cart_items collection with
// upsert-on-conflict semantics keyed by (user_id, product_id).
type fakeCartServer struct {
	mu    sync.Mutex
	lines map[string]int // "user|product" -> quantity
	auths []string       // Authorization header of every request served
}

func newFakeCartServer() *fakeCartServer {
	return &fakeCartServer{lines: make(map[string]int)}
}

func (s *fakeCartServer) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/rest/v1/cart_items") {
			http.NotFound(w, r)
			return
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		s.auths = append(s.auths, r.Header.Get("Authorization"))

		switch r.Method {
		case http.MethodPost:
			var rows []struct {
				UserID    string `json:"user_id"`
				ProductID string `json:"product_id"`
				Quantity  int    `json:"quantity"`
			}
			json.NewDecoder(r.Body).Decode(&rows)
			for _, row := range rows {
				s.lines[row.UserID+"|"+row.ProductID] = row.Quantity
			}
			w.WriteHeader(http.StatusCreated)

		case http.MethodPatch:
			var values struct {
				Quantity int `json:"quantity"`
			}
			json.NewDecoder(r.Body).Decode(&values)
			key := filterValue(r, "user_id") + "|" + filterValue(r, "product_id")
			if _, ok := s.lines[key]; ok {
				s.lines[key] = values.Quantity
			}
			w.WriteHeader(http.StatusNoContent)

		case http.MethodDelete:
			user := filterValue(r, "user_id")
			product := filterValue(r, "product_id")
			for key := range s.lines {
				parts := strings.SplitN(key, "|", 2)
				if parts[0] != user {
					continue
				}
				if product == "" || parts[1] == product {
					delete(s.lines, key)
				}
			}
			w.WriteHeader(http.StatusNoContent)

		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})
}

func filterValue(r *http.Request, column string) string {
	return strings.TrimPrefix(r.URL.Query().Get(column), "eq.")
}

func (s *fakeCartServer) quantity(user, product string) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.lines[user+"|"+product]
	return q, ok
}

func (s *fakeCartServer) authHeaders() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.auths...)
}

func newTestExecutor(t *testing.T) (*RemoteExecutor, *fakeCartServer) {
	t.Helper()

	cart := newFakeCartServer()
	server := httptest.NewServer(cart.handler())
	t.Cleanup(server.Close)

	client := remote.NewClient(&remote.Config{BaseURL: server.URL, APIKey: "anon"})
	return NewRemoteExecutor(client), cart
}

// TestExecutePrefersQueuedSessionToken tests that each operation runs
// under the session token captured at enqueue time, while operations
// without one fall back to the client's own credentials.
func TestExecutePrefersQueuedSessionToken(t *testing.T) {
	exec, cart := newTestExecutor(t)
	ctx := context.Background()

	ops := []*Operation{
		{ID: "op-1", Type: OpCartAdd, Payload: CartAddPayload{
			UserID: "user-1", ProductID: "p1", Quantity: 2, AccessToken: "session-token"}},
		{ID: "op-2", Type: OpCartRemove, Payload: CartRemovePayload{
			UserID: "user-1", ProductID: "p1", AccessToken: "session-token"}},
		{ID: "op-3", Type: OpCartClear, Payload: CartClearPayload{UserID: "user-1"}},
	}
	for _, op := range ops {
		if err := exec.Execute(ctx, op); err != nil {
			t.Fatalf("Execute(%s) failed: %v", op.Type, err)
		}
	}

	want := []string{"Bearer session-token", "Bearer session-token", "Bearer anon"}
	auths := cart.authHeaders()
	if len(auths) != len(want) {
		t.Fatalf("Expected %d requests, got %d", len(want), len(auths))
	}
	for i := range want {
		if auths[i] != want[i] {
			t.Errorf("Request %d carried %q, want %q", i, auths[i], want[i])
		}
	}
}

// TestExecuteCartAddIdempotent tests that replaying the same cart-add
// twice converges on the same final quantity as replaying it once.
func TestExecuteCartAddIdempotent(t *testing.T) {
	exec, cart := newTestExecutor(t)

	op := &Operation{
		ID:   "op-1",
		Type: OpCartAdd,
		Payload: CartAddPayload{
			UserID: "user-1", ProductID: "p1", Quantity: 3,
		},
	}

	for i := 0; i < 2; i++ {
		if err := exec.Execute(context.Background(), op); err != nil {
			t.Fatalf("Execute %d failed: %v", i, err)
		}
	}

	q, ok := cart.quantity("user-1", "p1")
	if !ok {
		t.Fatal("Expected cart line to exist")
	}
	if q != 3 {
		t.Errorf("Quantity = %d, want 3 (payload carries absolute quantity)", q)
	}
}

// TestExecuteCartUpdate tests the update mapping.
func TestExecuteCartUpdate(t *testing.T) {
	exec, cart := newTestExecutor(t)

	// Seed a line, then update it.
	add := &Operation{ID: "op-1", Type: OpCartAdd,
		Payload: CartAddPayload{UserID: "user-1", ProductID: "p1", Quantity: 1}}
	exec.Execute(context.Background(), add)

	update := &Operation{ID: "op-2", Type: OpCartUpdate,
		Payload: CartUpdatePayload{UserID: "user-1", ProductID: "p1", Quantity: 5}}
	if err := exec.Execute(context.Background(), update); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if q, _ := cart.quantity("user-1", "p1"); q != 5 {
		t.Errorf("Quantity = %d, want 5", q)
	}
}

// TestExecuteCartRemove tests that remove deletes only the targeted line.
func TestExecuteCartRemove(t *testing.T) {
	exec, cart := newTestExecutor(t)

	for _, p := range []string{"p1", "p2"} {
		exec.Execute(context.Background(), &Operation{ID: "seed-" + p, Type: OpCartAdd,
			Payload: CartAddPayload{UserID: "user-1", ProductID: p, Quantity: 1}})
	}

	op := &Operation{ID: "op-1", Type: OpCartRemove,
		Payload: CartRemovePayload{UserID: "user-1", ProductID: "p1"}}
	if err := exec.Execute(context.Background(), op); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if _, ok := cart.quantity("user-1", "p1"); ok {
		t.Error("Expected p1 to be removed")
	}
	if _, ok := cart.quantity("user-1", "p2"); !ok {
		t.Error("Expected p2 to survive")
	}

	// Removing again is safe.
	if err := exec.Execute(context.Background(), op); err != nil {
		t.Errorf("Repeated remove should succeed, got: %v", err)
	}
}

// TestExecuteCartClear tests that clear removes every line of the user.
func TestExecuteCartClear(t *testing.T) {
	exec, cart := newTestExecutor(t)

	for _, p := range []string{"p1", "p2", "p3"} {
		exec.Execute(context.Background(), &Operation{ID: "seed-" + p, Type: OpCartAdd,
			Payload: CartAddPayload{UserID: "user-1", ProductID: p, Quantity: 1}})
	}

	op := &Operation{ID: "op-1", Type: OpCartClear,
		Payload: CartClearPayload{UserID: "user-1"}}
	if err := exec.Execute(context.Background(), op); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	for _, p := range []string{"p1", "p2", "p3"} {
		if _, ok := cart.quantity("user-1", p); ok {
			t.Errorf("Expected %s to be cleared", p)
		}
	}
}
