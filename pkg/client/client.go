package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// ErrNotFound is returned when the requested entry does not exist.
var ErrNotFound = errors.New("entry not found")

// maxResponseBytes bounds how much of a response body is read. Listing a
// long ledger returns every entry, so this is larger than a single record.
const maxResponseBytes = 64 << 20

// Entry is one record of the ledger as returned by the server.
type Entry struct {
	Sequence int64          `json:"sequence" yaml:"sequence"`
	Payload  map[string]any `json:"payload" yaml:"payload"`
	Hash     string         `json:"hash" yaml:"hash"`
	PrevHash string         `json:"prev_hash" yaml:"prev_hash"`
}

// AppendResult is returned by Append.
type AppendResult struct {
	Sequence int64  `json:"sequence" yaml:"sequence"`
	Hash     string `json:"hash" yaml:"hash"`
	PrevHash string `json:"prev_hash" yaml:"prev_hash"`
}

// VerifyResult reports the outcome of a full-chain verification.
// FailureIndex and Reason are set only when Valid is false.
type VerifyResult struct {
	Valid        bool   `json:"valid" yaml:"valid"`
	FailureIndex *int   `json:"failure_index,omitempty" yaml:"failure_index,omitempty"`
	Reason       string `json:"reason,omitempty" yaml:"reason,omitempty"`
	Length       int    `json:"length" yaml:"length"`
}

// Overview holds the chain length and the hash of its tail entry.
type Overview struct {
	Entries int64  `json:"entries" yaml:"entries"`
	Root    string `json:"root" yaml:"root"`
}

// APIError is returned for any non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server error %d: %s", e.StatusCode, e.Message)
}

// Client talks to a ledger server.
type Client struct {
	baseURL    string
	httpClient *http.Client
	cache      *entryCache
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		if hc == nil {
			return errors.New("http client must not be nil")
		}
		c.httpClient = hc
		return nil
	}
}

// WithTimeout sets the per-request timeout of the default http.Client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) error {
		c.httpClient = &http.Client{Timeout: d}
		return nil
	}
}

// WithCacheTTL caches entries fetched with Entry for the given TTL.
// Entries never change once written, so the TTL only bounds memory: expired
// entries are dropped on lookup and swept at most once per TTL on insert.
// Callers receive their own copy and may modify it freely.
func WithCacheTTL(ttl time.Duration) Option {
	return func(c *Client) error {
		c.cache = newEntryCache(ttl)
		return nil
	}
}

// New creates a Client for the server at baseURL, e.g. "http://localhost:8080".
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("base URL is required")
	}
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MustNew is like New but panics on error. Useful in tests and program init.
func MustNew(baseURL string, opts ...Option) *Client {
	c, err := New(baseURL, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// Append chains payload onto the ledger.
func (c *Client) Append(ctx context.Context, payload map[string]any) (*AppendResult, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return c.AppendRaw(ctx, body)
}

// AppendRaw chains a pre-encoded JSON object onto the ledger. The server
// decodes numbers exactly, so this preserves values a map[string]any would not.
func (c *Client) AppendRaw(ctx context.Context, body json.RawMessage) (*AppendResult, error) {
	var out AppendResult
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/entry", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// List returns every entry in sequence order.
func (c *Client) List(ctx context.Context) ([]Entry, error) {
	var out struct {
		Entries []Entry `json:"entries"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/ledger", nil, &out); err != nil {
		return nil, err
	}
	return out.Entries, nil
}

// Entry fetches a single entry by sequence number.
func (c *Client) Entry(ctx context.Context, seq int64) (*Entry, error) {
	if c.cache != nil {
		if e, ok := c.cache.get(seq); ok {
			return e, nil
		}
	}

	var out Entry
	path := "/api/v1/ledger/entries/" + strconv.FormatInt(seq, 10)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}

	if c.cache != nil {
		c.cache.set(seq, &out)
	}
	return &out, nil
}

// Overview returns the chain length and tail hash.
func (c *Client) Overview(ctx context.Context) (*Overview, error) {
	var out Overview
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/ledger/overview", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Verify asks the server to verify the whole chain. A tampered chain is not
// an error: it comes back as a result with Valid set to false.
func (c *Client) Verify(ctx context.Context) (*VerifyResult, error) {
	var out VerifyResult
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/verify", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// doJSON sends body (if any) and decodes a 2xx JSON response into out.
func (c *Client) doJSON(ctx context.Context, method, path string, body []byte, out any) error {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	respBody, err := c.do(req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// do executes an HTTP request and maps non-2xx statuses to errors.
func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, req.URL.Path)
	}
	if resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: errorMessage(body)}
	}
	return body, nil
}

// errorMessage extracts the "error" field of a JSON error body, falling back
// to the raw text.
func errorMessage(body []byte) string {
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return e.Error
	}
	return string(body)
}

// --- simple in-memory entry cache ---

type cacheEntry struct {
	entry     *Entry
	expiresAt time.Time
}

type entryCache struct {
	mu        sync.Mutex
	entries   map[int64]*cacheEntry
	ttl       time.Duration
	lastSweep time.Time
}

func newEntryCache(ttl time.Duration) *entryCache {
	return &entryCache{entries: make(map[int64]*cacheEntry), ttl: ttl, lastSweep: time.Now()}
}

func (ec *entryCache) get(seq int64) (*Entry, bool) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	e, ok := ec.entries[seq]
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expiresAt) {
		delete(ec.entries, seq)
		return nil, false
	}
	return cloneEntry(e.entry), true
}

func (ec *entryCache) set(seq int64, e *Entry) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	now := time.Now()
	if now.Sub(ec.lastSweep) >= ec.ttl {
		for k, ce := range ec.entries {
			if now.After(ce.expiresAt) {
				delete(ec.entries, k)
			}
		}
		ec.lastSweep = now
	}
	ec.entries[seq] = &cacheEntry{entry: cloneEntry(e), expiresAt: now.Add(ec.ttl)}
}

func cloneEntry(e *Entry) *Entry {
	cp := *e
	if e.Payload != nil {
		cp.Payload = cloneValue(e.Payload).(map[string]any)
	}
	return &cp
}

// cloneValue deep-copies a decoded JSON value.
func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, x := range t {
			m[k] = cloneValue(x)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, x := range t {
			s[i] = cloneValue(x)
		}
		return s
	default:
		return v
	}
}
