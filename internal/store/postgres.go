package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmerrifield20/ComplianceLedger/internal/chain"
	"go.uber.org/zap"
)

// advisoryLockKey is the PostgreSQL advisory lock key that serialises append
// scopes. It must be identical across all ledger instances sharing a database.
const advisoryLockKey = int64(1_827_364_509)

const selectEntryColumns = `SELECT seq, payload, hash, prev_hash FROM compliance_ledger`

// PostgresStore persists the chain to the compliance_ledger table.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresStore creates a PostgresStore backed by the given pool. The
// store takes ownership of the pool and closes it in Close.
func NewPostgresStore(pool *pgxpool.Pool, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{pool: pool, logger: logger}
}

// InAppendTx implements chain.Store. The scope runs inside one transaction
// holding a transaction-scoped advisory lock, which is released on commit or
// rollback.
func (s *PostgresStore) InAppendTx(ctx context.Context, fn func(ctx context.Context, tx chain.AppendTx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", advisoryLockKey); err != nil {
		return fmt.Errorf("acquire advisory lock: %w", err)
	}

	if err := fn(ctx, &postgresTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit ledger tx: %w", err)
	}
	return nil
}

// ReadAllOrdered implements chain.Store.
func (s *PostgresStore) ReadAllOrdered(ctx context.Context) ([]*chain.Entry, error) {
	rows, err := s.pool.Query(ctx, selectEntryColumns+` ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("query ledger: %w", err)
	}
	defer rows.Close()

	var entries []*chain.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ledger row: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Get implements chain.EntryReader.
func (s *PostgresStore) Get(ctx context.Context, seq int64) (*chain.Entry, error) {
	e, err := scanEntry(s.pool.QueryRow(ctx, selectEntryColumns+` WHERE seq = $1`, seq))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get ledger entry %d: %w", seq, err)
	}
	return e, nil
}

// Head implements chain.EntryReader.
func (s *PostgresStore) Head(ctx context.Context) (*chain.Entry, int64, error) {
	e, n, err := scanHead(s.pool.QueryRow(ctx, headQuery))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("get ledger head: %w", err)
	}
	return e, n, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

type postgresTx struct {
	tx pgx.Tx
}

func (t *postgresTx) LastEntry(ctx context.Context) (*chain.Entry, error) {
	e, err := scanEntry(t.tx.QueryRow(ctx, selectEntryColumns+` ORDER BY seq DESC LIMIT 1`))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read ledger tail: %w", err)
	}
	return e, nil
}

func (t *postgresTx) AppendEntry(ctx context.Context, payload chain.Payload, hash, prevHash string) (*chain.Entry, error) {
	canon, err := chain.Canonical(payload)
	if err != nil {
		return nil, err
	}

	// Sequence is derived under the advisory lock so it stays gapless.
	var seq int64
	if err := t.tx.QueryRow(ctx,
		`INSERT INTO compliance_ledger (seq, payload, hash, prev_hash)
		 SELECT COALESCE(MAX(seq), 0) + 1, $1, $2, $3 FROM compliance_ledger
		 RETURNING seq`,
		string(canon), hash, prevHash,
	).Scan(&seq); err != nil {
		return nil, fmt.Errorf("insert ledger entry: %w", err)
	}
	return chain.RestoreEntry(seq, canon, hash, prevHash), nil
}
