// Package remote provides unit tests for the remote store client.
package remote

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	apperrors "github.com/bfgold/storefront-sync/internal/errors"
)

func testClient(serverURL string) *Client {
	return NewClient(&Config{
		BaseURL: serverURL,
		APIKey:  "test-anon-key",
	})
}

// TestSelect tests fetching rows with equality filters.
func TestSelect(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("Expected GET request, got %s", r.Method)
		}
		if r.URL.Path != "/rest/v1/cart_items" {
			t.Errorf("Unexpected path: %s", r.URL.Path)
		}
		if r.URL.Query().Get("user_id") != "eq.user-1" {
			t.Errorf("Expected user_id=eq.user-1, got %s", r.URL.Query().Get("user_id"))
		}
		if r.Header.Get("apikey") != "test-anon-key" {
			t.Error("Missing apikey header")
		}
		if r.Header.Get("Authorization") != "Bearer test-anon-key" {
			t.Error("Expected API key as bearer fallback")
		}

		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `[{"id":"row-1","quantity":2}]`)
	}))
	defer server.Close()

	client := testClient(server.URL)

	var rows []struct {
		ID       string `json:"id"`
		Quantity int    `json:"quantity"`
	}
	err := client.Select(context.Background(), "cart_items", "*", &rows, Eq("user_id", "user-1"))
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}

	if len(rows) != 1 || rows[0].Quantity != 2 {
		t.Errorf("Unexpected rows: %+v", rows)
	}
}

// TestSelectInFilter tests the membership filter used by price refresh.
func TestSelectInFilter(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("id"); got != "in.(p1,p2)" {
			t.Errorf("Expected id=in.(p1,p2), got %s", got)
		}
		io.WriteString(w, `[]`)
	}))
	defer server.Close()

	client := testClient(server.URL)

	var rows []json.RawMessage
	err := client.Select(context.Background(), "products", "id,price,discount_price,stock",
		&rows, In("id", []string{"p1", "p2"}))
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
}

// TestUpsertConflictTarget tests the on_conflict query and merge header.
func TestUpsertConflictTarget(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST request, got %s", r.Method)
		}
		if got := r.URL.Query().Get("on_conflict"); got != "user_id,product_id" {
			t.Errorf("Expected on_conflict=user_id,product_id, got %s", got)
		}
		if prefer := r.Header.Get("Prefer"); prefer != "resolution=merge-duplicates,return=minimal" {
			t.Errorf("Unexpected Prefer header: %s", prefer)
		}

		body, _ := io.ReadAll(r.Body)
		var rows []map[string]interface{}
		if err := json.Unmarshal(body, &rows); err != nil {
			t.Errorf("Body is not a JSON array: %v", err)
		}

		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	client := testClient(server.URL)

	rows := []map[string]interface{}{
		{"user_id": "user-1", "product_id": "p1", "quantity": 3},
	}
	err := client.Upsert(context.Background(), "cart_items", rows, "user_id,product_id")
	if err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
}

// TestInsertConflictTreatedAsSuccess tests that a 409 on insert is not an error.
func TestInsertConflictTreatedAsSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		io.WriteString(w, `{"message":"duplicate key value"}`)
	}))
	defer server.Close()

	client := testClient(server.URL)

	err := client.Insert(context.Background(), "wishlist_items",
		[]map[string]string{{"user_id": "user-1", "product_id": "p1"}})
	if err != nil {
		t.Errorf("Conflict on insert should be treated as success, got: %v", err)
	}
}

// TestUpdateFilters tests PATCH with equality filters.
func TestUpdateFilters(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch {
			t.Errorf("Expected PATCH request, got %s", r.Method)
		}
		q := r.URL.Query()
		if q.Get("user_id") != "eq.user-1" || q.Get("product_id") != "eq.p1" {
			t.Errorf("Unexpected filters: %v", q)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := testClient(server.URL)

	err := client.Update(context.Background(), "cart_items",
		map[string]int{"quantity": 4}, Eq("user_id", "user-1"), Eq("product_id", "p1"))
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
}

// TestDelete tests DELETE with filters.
func TestDelete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("Expected DELETE request, got %s", r.Method)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := testClient(server.URL)

	err := client.Delete(context.Background(), "cart_items", Eq("user_id", "user-1"))
	if err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
}

// TestAccessTokenBearer tests that a session token wins over the API key.
func TestAccessTokenBearer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer session-token" {
			t.Errorf("Expected session token bearer, got %s", r.Header.Get("Authorization"))
		}
		io.WriteString(w, `[]`)
	}))
	defer server.Close()

	client := NewClient(&Config{
		BaseURL:     server.URL,
		APIKey:      "test-anon-key",
		AccessToken: "session-token",
	})

	var rows []json.RawMessage
	if err := client.Select(context.Background(), "products", "*", &rows); err != nil {
		t.Fatalf("Select failed: %v", err)
	}
}

// TestSetAccessToken tests that an installed session token replaces the
// anonymous bearer on subsequent requests and that clearing it reverts.
func TestSetAccessToken(t *testing.T) {
	var auths []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auths = append(auths, r.Header.Get("Authorization"))
		io.WriteString(w, `[]`)
	}))
	defer server.Close()

	client := testClient(server.URL)

	var rows []json.RawMessage
	if err := client.Select(context.Background(), "products", "*", &rows); err != nil {
		t.Fatalf("Select failed: %v", err)
	}

	client.SetAccessToken("session-token")
	if err := client.Select(context.Background(), "products", "*", &rows); err != nil {
		t.Fatalf("Select failed: %v", err)
	}

	client.SetAccessToken("")
	if err := client.Select(context.Background(), "products", "*", &rows); err != nil {
		t.Fatalf("Select failed: %v", err)
	}

	want := []string{"Bearer test-anon-key", "Bearer session-token", "Bearer test-anon-key"}
	if len(auths) != len(want) {
		t.Fatalf("Expected %d requests, got %d", len(want), len(auths))
	}
	for i := range want {
		if auths[i] != want[i] {
			t.Errorf("Request %d carried %q, want %q", i, auths[i], want[i])
		}
	}
}

// TestWithTokenScopedOverride tests the per-call token override used by
// queue replay: the derived client authenticates with its own token, the
// base client and the apikey header are untouched.
func TestWithTokenScopedOverride(t *testing.T) {
	var auths, apikeys []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auths = append(auths, r.Header.Get("Authorization"))
		apikeys = append(apikeys, r.Header.Get("apikey"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	base := testClient(server.URL)
	scoped := base.WithToken("op-token")

	if err := scoped.Delete(context.Background(), "cart_items", Eq("user_id", "user-1")); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := base.Delete(context.Background(), "cart_items", Eq("user_id", "user-1")); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	if auths[0] != "Bearer op-token" {
		t.Errorf("Scoped client sent %q, want Bearer op-token", auths[0])
	}
	if auths[1] != "Bearer test-anon-key" {
		t.Errorf("Base client sent %q, want the anonymous bearer", auths[1])
	}
	for i, key := range apikeys {
		if key != "test-anon-key" {
			t.Errorf("Request %d apikey header = %q, want test-anon-key", i, key)
		}
	}
}

// TestAuthFailure tests the auth error code mapping.
func TestAuthFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := testClient(server.URL)

	var rows []json.RawMessage
	err := client.Select(context.Background(), "products", "*", &rows)
	if err == nil {
		t.Fatal("Expected error for 401 response")
	}
	if !apperrors.Is(err, apperrors.ErrRemoteAuth) {
		t.Errorf("Expected ErrRemoteAuth, got %v", err)
	}
}

// TestServerError tests the generic bad-status mapping.
func TestServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := testClient(server.URL)

	err := client.Insert(context.Background(), "cart_items", []map[string]string{})
	if err == nil {
		t.Fatal("Expected error for 500 response")
	}
	if !apperrors.Is(err, apperrors.ErrRemoteStatus) {
		t.Errorf("Expected ErrRemoteStatus, got %v", err)
	}
}
