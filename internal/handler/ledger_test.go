package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/ComplianceLedger/internal/audit"
	"github.com/jmerrifield20/ComplianceLedger/internal/chain"
	"github.com/jmerrifield20/ComplianceLedger/internal/handler"
	"github.com/jmerrifield20/ComplianceLedger/internal/store"
	"go.uber.org/zap"
)

const hashA1 = "2e8c2f8ad5373bcfcd15414cb0d4724a9b7a3bfe7d8921905463f2cb6443ffe3"

// ── Stub store ───────────────────────────────────────────────────────────

// staticStore serves a fixed, possibly tampered, entry list.
type staticStore struct {
	entries []*chain.Entry
	err     error
}

func (s *staticStore) InAppendTx(context.Context, func(context.Context, chain.AppendTx) error) error {
	if s.err != nil {
		return s.err
	}
	return errors.New("read-only store")
}

func (s *staticStore) ReadAllOrdered(context.Context) ([]*chain.Entry, error) {
	return s.entries, s.err
}

func (s *staticStore) Get(_ context.Context, seq int64) (*chain.Entry, error) {
	if s.err != nil {
		return nil, s.err
	}
	if seq < 1 || seq > int64(len(s.entries)) {
		return nil, store.ErrNotFound
	}
	return s.entries[seq-1], nil
}

func (s *staticStore) Head(context.Context) (*chain.Entry, int64, error) {
	if s.err != nil || len(s.entries) == 0 {
		return nil, 0, s.err
	}
	return s.entries[len(s.entries)-1], int64(len(s.entries)), nil
}

// ── Helpers ──────────────────────────────────────────────────────────────

type backend interface {
	chain.Store
	chain.EntryReader
}

func setupRouter(t *testing.T, b backend) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ledger := chain.NewLedger(b, zap.NewNop())
	return handler.NewRouter(handler.RouterConfig{BodyLimitBytes: 1 << 10}, ledger, b, zap.NewNop())
}

func tamperedChain(t *testing.T) []*chain.Entry {
	t.Helper()
	mem := store.NewMemoryStore()
	l := chain.NewLedger(mem, zap.NewNop())
	for _, p := range []chain.Payload{{"a": 1}, {"b": 2}, {"c": 3}} {
		if _, err := l.Append(context.Background(), p); err != nil {
			t.Fatal(err)
		}
	}
	entries, err := mem.ReadAllOrdered(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	entries[1].Payload["b"] = 20
	return entries
}

func do(router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return resp
}

// ── Tests ────────────────────────────────────────────────────────────────

func TestAppendEntry_201(t *testing.T) {
	router := setupRouter(t, store.NewMemoryStore())

	w := do(router, http.MethodPost, "/entry", `{"a":1}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	resp := decode(t, w)
	if resp["hash"] != hashA1 {
		t.Errorf("hash: got %v, want %s", resp["hash"], hashA1)
	}
	if resp["prev_hash"] != chain.Genesis {
		t.Errorf("prev_hash: got %v, want GENESIS", resp["prev_hash"])
	}

	w = do(router, http.MethodPost, "/entry", `{"b":2}`)
	resp = decode(t, w)
	if resp["prev_hash"] != hashA1 {
		t.Errorf("second prev_hash: got %v, want %s", resp["prev_hash"], hashA1)
	}
	if int(resp["sequence"].(float64)) != 2 {
		t.Errorf("second sequence: got %v", resp["sequence"])
	}
}

func TestAppendEntry_400(t *testing.T) {
	router := setupRouter(t, store.NewMemoryStore())

	for _, body := range []string{`not json`, `[1,2,3]`, `{}`, `null`} {
		w := do(router, http.MethodPost, "/entry", body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("body %q: expected 400, got %d", body, w.Code)
		}
	}
}

func TestAppendEntry_413(t *testing.T) {
	router := setupRouter(t, store.NewMemoryStore())

	body := `{"report":"` + strings.Repeat("x", 2<<10) + `"}`
	w := do(router, http.MethodPost, "/entry", body)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", w.Code)
	}
}

func TestAppendEntry_500_storeError(t *testing.T) {
	router := setupRouter(t, &staticStore{err: errors.New("connection refused")})

	w := do(router, http.MethodPost, "/entry", `{"a":1}`)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	if msg, _ := decode(t, w)["error"].(string); !strings.Contains(msg, "connection refused") {
		t.Errorf("expected underlying cause in error, got %q", msg)
	}
}

func TestListLedger_200(t *testing.T) {
	router := setupRouter(t, store.NewMemoryStore())

	resp := decode(t, do(router, http.MethodGet, "/ledger", ""))
	if int(resp["count"].(float64)) != 0 {
		t.Errorf("expected empty ledger, got %v", resp["count"])
	}
	if entries, ok := resp["entries"].([]any); !ok || len(entries) != 0 {
		t.Errorf("expected empty entries array, got %v", resp["entries"])
	}

	do(router, http.MethodPost, "/entry", `{"projId":"P123","compReport":"ok"}`)
	do(router, http.MethodPost, "/entry", `{"projId":"P124","compReport":"late"}`)

	resp = decode(t, do(router, http.MethodGet, "/ledger", ""))
	entries := resp["entries"].([]any)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	second := entries[1].(map[string]any)
	if second["prev_hash"] != entries[0].(map[string]any)["hash"] {
		t.Errorf("listed entries are not linked")
	}
	if second["payload"].(map[string]any)["projId"] != "P124" {
		t.Errorf("unexpected payload %v", second["payload"])
	}
}

func TestVerify_200_empty(t *testing.T) {
	router := setupRouter(t, store.NewMemoryStore())

	w := do(router, http.MethodGet, "/verify", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	resp := decode(t, w)
	if resp["valid"] != false || resp["reason"] != string(chain.ReasonEmptyChain) {
		t.Errorf("unexpected result %v", resp)
	}
}

func TestVerify_200_valid(t *testing.T) {
	router := setupRouter(t, store.NewMemoryStore())
	do(router, http.MethodPost, "/entry", `{"a":1}`)
	do(router, http.MethodPost, "/entry", `{"b":2}`)

	resp := decode(t, do(router, http.MethodGet, "/verify", ""))
	if resp["valid"] != true {
		t.Errorf("expected valid=true, got %v", resp)
	}
	if _, ok := resp["failure_index"]; ok {
		t.Errorf("valid result should omit failure_index: %v", resp)
	}
}

func TestVerify_200_tampered(t *testing.T) {
	router := setupRouter(t, &staticStore{entries: tamperedChain(t)})

	w := do(router, http.MethodGet, "/api/v1/verify", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	resp := decode(t, w)
	if resp["valid"] != false {
		t.Fatalf("expected valid=false, got %v", resp)
	}
	if int(resp["failure_index"].(float64)) != 1 || resp["reason"] != string(chain.ReasonHashMismatch) {
		t.Errorf("unexpected failure location %v", resp)
	}
}

func TestVerify_500_storeUnreachable(t *testing.T) {
	router := setupRouter(t, &staticStore{err: errors.New("dial tcp: refused")})

	w := do(router, http.MethodGet, "/verify", "")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
}

func TestOverview_200(t *testing.T) {
	router := setupRouter(t, store.NewMemoryStore())
	do(router, http.MethodPost, "/entry", `{"a":1}`)

	resp := decode(t, do(router, http.MethodGet, "/ledger/overview", ""))
	if int(resp["entries"].(float64)) != 1 {
		t.Errorf("expected 1 entry, got %v", resp["entries"])
	}
	if resp["root"] != hashA1 {
		t.Errorf("root: got %v, want %s", resp["root"], hashA1)
	}
}

func TestGetEntry(t *testing.T) {
	router := setupRouter(t, store.NewMemoryStore())
	do(router, http.MethodPost, "/entry", `{"a":1}`)

	tests := []struct {
		path string
		code int
	}{
		{"/ledger/entries/1", http.StatusOK},
		{"/api/v1/ledger/entries/1", http.StatusOK},
		{"/ledger/entries/999", http.StatusNotFound},
		{"/ledger/entries/0", http.StatusBadRequest},
		{"/ledger/entries/abc", http.StatusBadRequest},
	}
	for _, tt := range tests {
		if w := do(router, http.MethodGet, tt.path, ""); w.Code != tt.code {
			t.Errorf("GET %s: expected %d, got %d", tt.path, tt.code, w.Code)
		}
	}
}

func TestRequestID_header(t *testing.T) {
	router := setupRouter(t, store.NewMemoryStore())

	w := do(router, http.MethodGet, "/healthz", "")
	if w.Header().Get(handler.RequestIDHeader) == "" {
		t.Error("expected a generated request id")
	}

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(handler.RequestIDHeader, "7d444840-9dc0-11d1-b245-5ffdce74fad2")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if got := w.Header().Get(handler.RequestIDHeader); got != "7d444840-9dc0-11d1-b245-5ffdce74fad2" {
		t.Errorf("inbound request id not echoed, got %q", got)
	}
}

func TestHealthz_auditStatus(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mem := store.NewMemoryStore()
	ledger := chain.NewLedger(mem, zap.NewNop())
	checked := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	idx := 1

	tests := []struct {
		name   string
		status func() audit.Status
		want   map[string]any
	}{
		{"disabled", nil, nil},
		{"not yet run", func() audit.Status { return audit.Status{} },
			map[string]any{"checked": false}},
		{"valid", func() audit.Status {
			return audit.Status{Result: chain.Result{Valid: true, Length: 3}, CheckedAt: checked}
		}, map[string]any{"checked": true, "checked_at": "2026-10-01T12:00:00Z", "valid": true}},
		{"tampered", func() audit.Status {
			return audit.Status{
				Result:    chain.Result{FailureIndex: &idx, Reason: chain.ReasonHashMismatch, Length: 3},
				CheckedAt: checked,
			}
		}, map[string]any{
			"checked": true, "checked_at": "2026-10-01T12:00:00Z", "valid": false,
			"reason": string(chain.ReasonHashMismatch), "failure_index": float64(1),
		}},
		{"store error", func() audit.Status {
			return audit.Status{CheckedAt: checked, Err: errors.New("store unavailable")}
		}, map[string]any{
			"checked": true, "checked_at": "2026-10-01T12:00:00Z", "valid": false,
			"error": "store unavailable",
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := handler.NewRouter(handler.RouterConfig{AuditStatus: tt.status}, ledger, mem, zap.NewNop())
			w := do(router, http.MethodGet, "/healthz", "")
			if w.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d", w.Code)
			}
			resp := decode(t, w)
			got, ok := resp["audit"]
			if tt.want == nil {
				if ok {
					t.Errorf("expected no audit block, got %v", got)
				}
				return
			}
			block, ok := got.(map[string]any)
			if !ok {
				t.Fatalf("expected audit object, got %v", resp)
			}
			if len(block) != len(tt.want) {
				t.Errorf("audit block = %v, want %v", block, tt.want)
			}
			for k, v := range tt.want {
				if block[k] != v {
					t.Errorf("audit[%q] = %v, want %v", k, block[k], v)
				}
			}
		})
	}
}

func TestMetrics_exposed(t *testing.T) {
	router := setupRouter(t, store.NewMemoryStore())
	do(router, http.MethodPost, "/entry", `{"a":1}`)
	handler.RecordLedgerAppend(true)

	w := do(router, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !bytes.Contains(w.Body.Bytes(), []byte("ledger_appends_total")) {
		t.Error("metrics output missing ledger_appends_total")
	}
}
