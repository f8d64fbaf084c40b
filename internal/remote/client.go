// Package remote provides the HTTP client for the managed remote data store.
//
// The remote store exposes named resource collections over a REST surface
// with equality filters, keyed upserts and conflict targets. The sync
// engine depends only on that narrow contract: upsert-on-conflict for
// (user, product) keys and filter-by-equality for deletes and selects.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/bfgold/storefront-sync/internal/errors"
)

// Config holds remote store connection configuration.
type Config struct {
	// BaseURL is the project URL, e.g. https://xyz.example.co
	BaseURL string
	// APIKey is the public (anon) API key sent on every request.
	APIKey string
	// AccessToken is the initial per-session bearer token. When empty the
	// API key doubles as the bearer, matching anonymous access.
	AccessToken string
	// Timeout bounds each request; zero means 30s.
	Timeout time.Duration
}

// Client is an HTTP client for the remote data store.
type Client struct {
	config     *Config
	httpClient *http.Client

	mu          sync.RWMutex
	accessToken string
}

// NewClient creates a new Client.
func NewClient(config *Config) *Client {
	timeout := config.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		config:      config,
		accessToken: config.AccessToken,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
	}
}

// SetAccessToken installs the session bearer token sent on every
// subsequent request. Sessions outlive the client, so the token is
// mutable; an empty token reverts to anonymous access.
func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	c.accessToken = token
	c.mu.Unlock()
}

// AccessToken returns the current session bearer token, empty for
// anonymous access.
func (c *Client) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken
}

// WithToken returns a client that authenticates with token but shares
// this client's configuration and connection pool. Queue replay uses it
// to execute an operation under the session that enqueued it.
func (c *Client) WithToken(token string) *Client {
	if token == "" || token == c.AccessToken() {
		return c
	}
	return &Client{
		config:      c.config,
		httpClient:  c.httpClient,
		accessToken: token,
	}
}

// Filter is a column predicate on a select, update or delete.
type Filter struct {
	Column string
	Op     string // "eq", "in" or "is"
	Value  string
}

// Eq builds an equality filter.
func Eq(column, value string) Filter {
	return Filter{Column: column, Op: "eq", Value: value}
}

// Is builds an identity filter, used for null checks.
func Is(column, value string) Filter {
	return Filter{Column: column, Op: "is", Value: value}
}

// In builds a membership filter over a set of values.
func In(column string, values []string) Filter {
	return Filter{Column: column, Op: "in", Value: "(" + strings.Join(values, ",") + ")"}
}

// Select fetches rows from a collection into dest, which must be a pointer
// to a slice. columns is a comma-separated projection; "*" selects all.
func (c *Client) Select(ctx context.Context, table, columns string, dest interface{}, filters ...Filter) error {
	query := url.Values{}
	if columns != "" {
		query.Set("select", columns)
	}
	addFilters(query, filters)

	req, err := c.newRequest(ctx, http.MethodGet, table, query, nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(errors.ErrRemote, "select request failed", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp, false); err != nil {
		return err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(errors.ErrRemote, "failed to read select response", err)
	}

	if err := json.Unmarshal(body, dest); err != nil {
		return errors.Wrap(errors.ErrRemote, "failed to decode select response", err)
	}
	return nil
}

// Insert inserts one or more rows. A conflict response (the row already
// exists) is treated as success: inserts against keyed collections are
// idempotent by design.
func (c *Client) Insert(ctx context.Context, table string, rows interface{}) error {
	req, err := c.newJSONRequest(ctx, http.MethodPost, table, url.Values{}, rows)
	if err != nil {
		return err
	}
	req.Header.Set("Prefer", "return=minimal")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(errors.ErrRemote, "insert request failed", err)
	}
	defer resp.Body.Close()

	return checkStatus(resp, true)
}

// Upsert writes rows with an on-conflict merge keyed by conflictTarget
// (e.g. "user_id,product_id"). Re-running the same upsert is a no-op,
// which is what makes queue replay safely re-appliable.
func (c *Client) Upsert(ctx context.Context, table string, rows interface{}, conflictTarget string) error {
	query := url.Values{}
	if conflictTarget != "" {
		query.Set("on_conflict", conflictTarget)
	}

	req, err := c.newJSONRequest(ctx, http.MethodPost, table, query, rows)
	if err != nil {
		return err
	}
	req.Header.Set("Prefer", "resolution=merge-duplicates,return=minimal")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(errors.ErrRemote, "upsert request failed", err)
	}
	defer resp.Body.Close()

	return checkStatus(resp, true)
}

// Update patches all rows matching the filters with the given values.
func (c *Client) Update(ctx context.Context, table string, values interface{}, filters ...Filter) error {
	query := url.Values{}
	addFilters(query, filters)

	req, err := c.newJSONRequest(ctx, http.MethodPatch, table, query, values)
	if err != nil {
		return err
	}
	req.Header.Set("Prefer", "return=minimal")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(errors.ErrRemote, "update request failed", err)
	}
	defer resp.Body.Close()

	return checkStatus(resp, false)
}

// Delete removes all rows matching the filters. Deleting rows that are
// already gone succeeds.
func (c *Client) Delete(ctx context.Context, table string, filters ...Filter) error {
	query := url.Values{}
	addFilters(query, filters)

	req, err := c.newRequest(ctx, http.MethodDelete, table, query, nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(errors.ErrRemote, "delete request failed", err)
	}
	defer resp.Body.Close()

	return checkStatus(resp, false)
}

// newJSONRequest builds a request with a JSON-encoded body.
func (c *Client) newJSONRequest(ctx context.Context, method, table string, query url.Values, body interface{}) (*http.Request, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Wrap(errors.ErrInternal, "failed to encode request body", err)
	}

	req, err := c.newRequest(ctx, method, table, query, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// newRequest builds an authenticated request against a collection.
func (c *Client) newRequest(ctx context.Context, method, table string, query url.Values, body io.Reader) (*http.Request, error) {
	endpoint := fmt.Sprintf("%s/rest/v1/%s", strings.TrimRight(c.config.BaseURL, "/"), table)
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, errors.Wrap(errors.ErrInternal, "failed to create request", err)
	}

	token := c.AccessToken()
	if token == "" {
		token = c.config.APIKey
	}

	req.Header.Set("apikey", c.config.APIKey)
	req.Header.Set("Authorization", "Bearer "+token)
	return req, nil
}

func addFilters(query url.Values, filters []Filter) {
	for _, f := range filters {
		query.Set(f.Column, f.Op+"."+f.Value)
	}
}

// checkStatus maps a response status to an error. conflictOK marks writes
// whose 409 means "already there", which callers treat as success.
func checkStatus(resp *http.Response, conflictOK bool) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	if conflictOK && resp.StatusCode == http.StatusConflict {
		return nil
	}

	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return errors.New(errors.ErrRemoteAuth,
			fmt.Sprintf("request rejected with status %d: %s", resp.StatusCode, string(body)))
	}

	return errors.New(errors.ErrRemoteStatus,
		fmt.Sprintf("request failed with status %d: %s", resp.StatusCode, string(body)))
}
