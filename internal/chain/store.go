package chain

import "context"

// AppendTx is the view of the store available inside an append scope.
type AppendTx interface {
	// LastEntry returns the chain tail, or nil when the chain is empty.
	LastEntry(ctx context.Context) (*Entry, error)

	// AppendEntry persists a new entry and returns it with its assigned
	// sequence. The write becomes visible only if the scope commits.
	AppendEntry(ctx context.Context, payload Payload, hash, prevHash string) (*Entry, error)
}

// Store is the durable, ordered storage the chain is kept in.
//
// Implementations must serialise InAppendTx scopes per chain: while fn runs
// no other scope may read the tail or append. The scope commits only when fn
// returns nil; any error, including a cancelled context, discards the write.
// Stores never expose update or delete.
type Store interface {
	InAppendTx(ctx context.Context, fn func(ctx context.Context, tx AppendTx) error) error

	// ReadAllOrdered returns every entry in ascending sequence order.
	ReadAllOrdered(ctx context.Context) ([]*Entry, error)
}

// EntryReader is implemented by stores that support point lookups.
type EntryReader interface {
	// Get returns the entry with the given sequence.
	Get(ctx context.Context, seq int64) (*Entry, error)

	// Head returns the tail entry (nil if empty) and the number of entries.
	Head(ctx context.Context) (*Entry, int64, error)
}
