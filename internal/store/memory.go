package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/jmerrifield20/ComplianceLedger/internal/chain"
)

type memRecord struct {
	seq      int64
	payload  []byte // canonical encoding
	hash     string
	prevHash string
}

func (r memRecord) entry() *chain.Entry {
	return chain.RestoreEntry(r.seq, r.payload, r.hash, r.prevHash)
}

// MemoryStore is an in-memory, thread-safe ledger store. Payloads are kept in
// canonical form so that callers cannot mutate stored entries.
type MemoryStore struct {
	mu      sync.RWMutex
	records []memRecord
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// InAppendTx implements chain.Store. Scopes hold the write lock for their
// whole duration; staged entries are published only if fn succeeds.
func (s *MemoryStore) InAppendTx(ctx context.Context, fn func(ctx context.Context, tx chain.AppendTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memoryTx{store: s}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.records = append(s.records, tx.staged...)
	return nil
}

// ReadAllOrdered implements chain.Store.
func (s *MemoryStore) ReadAllOrdered(ctx context.Context) ([]*chain.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]*chain.Entry, 0, len(s.records))
	for _, r := range s.records {
		entries = append(entries, r.entry())
	}
	return entries, nil
}

// Get implements chain.EntryReader.
func (s *MemoryStore) Get(_ context.Context, seq int64) (*chain.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if seq < 1 || seq > int64(len(s.records)) {
		return nil, ErrNotFound
	}
	return s.records[seq-1].entry(), nil
}

// Head implements chain.EntryReader.
func (s *MemoryStore) Head(_ context.Context) (*chain.Entry, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.records) == 0 {
		return nil, 0, nil
	}
	return s.records[len(s.records)-1].entry(), int64(len(s.records)), nil
}

// Close implements Backend.
func (s *MemoryStore) Close() error { return nil }

// memoryTx runs under the store's write lock.
type memoryTx struct {
	store  *MemoryStore
	staged []memRecord
}

func (t *memoryTx) LastEntry(_ context.Context) (*chain.Entry, error) {
	if n := len(t.staged); n > 0 {
		return t.staged[n-1].entry(), nil
	}
	if n := len(t.store.records); n > 0 {
		return t.store.records[n-1].entry(), nil
	}
	return nil, nil
}

func (t *memoryTx) AppendEntry(_ context.Context, payload chain.Payload, hash, prevHash string) (*chain.Entry, error) {
	canon, err := chain.Canonical(payload)
	if err != nil {
		return nil, err
	}
	rec := memRecord{
		seq:      int64(len(t.store.records)+len(t.staged)) + 1,
		payload:  canon,
		hash:     hash,
		prevHash: prevHash,
	}
	t.staged = append(t.staged, rec)
	return rec.entry(), nil
}
