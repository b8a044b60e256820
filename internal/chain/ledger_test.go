package chain_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/jmerrifield20/ComplianceLedger/internal/chain"
	"github.com/jmerrifield20/ComplianceLedger/internal/store"
	"go.uber.org/zap"
)

var ctx = context.Background()

// failingStore fails at a configurable step and counts store interactions.
type failingStore struct {
	mu         sync.Mutex
	calls      int
	tailErr    error
	appendErr  error
	readErr    error
	tail       *chain.Entry
	appendedTo string
}

func (s *failingStore) InAppendTx(ctx context.Context, fn func(ctx context.Context, tx chain.AppendTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return fn(ctx, s)
}

func (s *failingStore) ReadAllOrdered(context.Context) ([]*chain.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return nil, s.readErr
}

func (s *failingStore) LastEntry(context.Context) (*chain.Entry, error) {
	return s.tail, s.tailErr
}

func (s *failingStore) AppendEntry(_ context.Context, p chain.Payload, hash, prevHash string) (*chain.Entry, error) {
	if s.appendErr != nil {
		return nil, s.appendErr
	}
	s.appendedTo = prevHash
	return &chain.Entry{Sequence: 7, Payload: p, Hash: hash, PrevHash: prevHash}, nil
}

func TestAppend_genesis(t *testing.T) {
	l := chain.NewLedger(store.NewMemoryStore(), zap.NewNop())

	e, err := l.Append(ctx, chain.Payload{"a": 1})
	if err != nil {
		t.Fatal(err)
	}
	if e.PrevHash != chain.Genesis {
		t.Errorf("first entry prev_hash: got %q, want %q", e.PrevHash, chain.Genesis)
	}
	if e.Hash != hashA1 {
		t.Errorf("first entry hash: got %s, want %s", e.Hash, hashA1)
	}
	if e.Sequence != 1 {
		t.Errorf("first entry sequence: got %d, want 1", e.Sequence)
	}
}

func TestAppend_chainsCorrectly(t *testing.T) {
	l := chain.NewLedger(store.NewMemoryStore(), zap.NewNop())

	e1, err := l.Append(ctx, chain.Payload{"a": 1})
	if err != nil {
		t.Fatal(err)
	}
	e2, err := l.Append(ctx, chain.Payload{"b": 2})
	if err != nil {
		t.Fatal(err)
	}

	if e2.PrevHash != e1.Hash {
		t.Errorf("chain broken: e2.PrevHash=%q, want e1.Hash=%q", e2.PrevHash, e1.Hash)
	}
	if e2.Hash != hashB2 {
		t.Errorf("e2 hash: got %s, want %s", e2.Hash, hashB2)
	}

	res, err := l.Verify(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Valid {
		t.Errorf("Verify() failed on valid chain: %+v", res)
	}
}

func TestAppend_chainOfCustody(t *testing.T) {
	l := chain.NewLedger(store.NewMemoryStore(), zap.NewNop())

	for i := 0; i < 25; i++ {
		if _, err := l.Append(ctx, chain.Payload{"industry_id": "IND-7", "reading": i}); err != nil {
			t.Fatal(err)
		}
	}

	entries, err := l.Entries(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 25 {
		t.Fatalf("expected 25 entries, got %d", len(entries))
	}
	for i := 1; i < len(entries); i++ {
		if entries[i].PrevHash != entries[i-1].Hash {
			t.Fatalf("link broken at %d", i)
		}
	}
}

func TestAppend_serializationErrorSkipsStore(t *testing.T) {
	s := &failingStore{}
	l := chain.NewLedger(s, zap.NewNop())

	_, err := l.Append(ctx, chain.Payload{"bad": make(chan int)})
	if !errors.Is(err, chain.ErrSerialization) {
		t.Fatalf("expected ErrSerialization, got %v", err)
	}
	if s.calls != 0 {
		t.Errorf("store touched %d times for an unserializable payload", s.calls)
	}
}

func TestAppend_storeErrors(t *testing.T) {
	cause := errors.New("connection reset")

	tests := []struct {
		name  string
		store *failingStore
		op    string
	}{
		{"tail read", &failingStore{tailErr: cause}, "read chain tail"},
		{"insert", &failingStore{appendErr: cause}, "append entry"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := chain.NewLedger(tt.store, zap.NewNop()).Append(ctx, chain.Payload{"a": 1})

			var se *chain.StoreError
			if !errors.As(err, &se) {
				t.Fatalf("expected *StoreError, got %T: %v", err, err)
			}
			if se.Op != tt.op {
				t.Errorf("op: got %q, want %q", se.Op, tt.op)
			}
			if !errors.Is(err, cause) || !errors.Is(err, chain.ErrStore) {
				t.Errorf("error should match both its cause and ErrStore: %v", err)
			}
		})
	}
}

func TestAppend_usesStoreTail(t *testing.T) {
	s := &failingStore{tail: &chain.Entry{Sequence: 6, Hash: hashA1}}

	e, err := chain.NewLedger(s, zap.NewNop()).Append(ctx, chain.Payload{"b": 2})
	if err != nil {
		t.Fatal(err)
	}
	if s.appendedTo != hashA1 {
		t.Errorf("appended to %q, want tail hash", s.appendedTo)
	}
	if e.Hash != hashB2 {
		t.Errorf("hash: got %s, want %s", e.Hash, hashB2)
	}
}

func TestVerify_storeUnreachable(t *testing.T) {
	s := &failingStore{readErr: errors.New("dial tcp: refused")}

	_, err := chain.NewLedger(s, zap.NewNop()).Verify(ctx)
	if !errors.Is(err, chain.ErrStore) {
		t.Fatalf("expected a store error, got %v", err)
	}
}

func TestLedger_recorders(t *testing.T) {
	l := chain.NewLedger(store.NewMemoryStore(), zap.NewNop())

	var appends []bool
	var results []chain.Result
	l.SetAppendRecorder(func(ok bool) { appends = append(appends, ok) })
	l.SetVerifyRecorder(func(res chain.Result) { results = append(results, res) })

	if _, err := l.Verify(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := l.Append(ctx, chain.Payload{"a": 1}); err != nil {
		t.Fatal(err)
	}
	_, _ = l.Append(ctx, chain.Payload{"a": func() {}})
	if _, err := l.Verify(ctx); err != nil {
		t.Fatal(err)
	}

	if len(appends) != 2 || !appends[0] || appends[1] {
		t.Errorf("append recorder calls: %v", appends)
	}
	if len(results) != 2 || results[0].Valid || !results[1].Valid {
		t.Errorf("verify recorder results: %+v", results)
	}
}

func TestAppend_acceptedPayloadsVerifyAfterStorage(t *testing.T) {
	l := chain.NewLedger(store.NewMemoryStore(), zap.NewNop())

	payloads := []chain.Payload{
		{"readings": map[string]any{"SO2": 35, "NOx": 41.5, "ratio": float32(0.1)}},
		{"site": "Usine e\u0301st", "note": "line\u2028sep \x01 <b>&</b>"},
		{"nested": chain.Payload{"z": uint16(9), "a": []any{true, nil, int64(-7)}}},
		{"big": 1e21, "precise": json.Number("40.0")},
	}
	for _, p := range payloads {
		if _, err := l.Append(ctx, p); err != nil {
			t.Fatalf("Append(%v): %v", p, err)
		}
	}

	res, err := l.Verify(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Valid {
		t.Fatalf("untampered chain reported invalid: %+v", res)
	}
}

func TestAppend_unserializablePayloadsNeverReachStore(t *testing.T) {
	for name, p := range map[string]chain.Payload{
		"struct":      {"readings": struct{ SO2, NOx int }{35, 41}},
		"rawMessage":  {"readings": json.RawMessage(`{"so2":35,"nox":41}`)},
		"invalidUTF8": {"compReport": "ok\xff"},
	} {
		t.Run(name, func(t *testing.T) {
			s := &failingStore{}
			l := chain.NewLedger(s, zap.NewNop())
			if _, err := l.Append(ctx, p); !errors.Is(err, chain.ErrSerialization) {
				t.Fatalf("expected ErrSerialization, got %v", err)
			}
			if s.calls != 0 {
				t.Errorf("store touched %d times", s.calls)
			}
		})
	}
}
