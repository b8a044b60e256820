package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmerrifield20/ComplianceLedger/internal/chain"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

//go:embed schema.sql
var sqliteSchema string

// SQLiteStore persists the chain to a single SQLite file.
//
// Transactions are opened with BEGIN IMMEDIATE (the _txlock DSN option), so
// an append scope holds the database write lock from its first read of the
// tail until commit.
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// OpenSQLite creates or opens the database at path, creating parent
// directories and the schema as needed. It is safe to call on an existing file.
func OpenSQLite(path string, logger *zap.Logger) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("sqlite path is empty")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_txlock=immediate&_busy_timeout=5000&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to sqlite: %w", err)
	}

	// One writer at a time; a single connection avoids SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("execute %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &SQLiteStore{db: db, logger: logger}, nil
}

// InAppendTx implements chain.Store.
func (s *SQLiteStore) InAppendTx(ctx context.Context, fn func(ctx context.Context, tx chain.AppendTx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(ctx, &sqliteTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit ledger tx: %w", err)
	}
	return nil
}

// ReadAllOrdered implements chain.Store.
func (s *SQLiteStore) ReadAllOrdered(ctx context.Context) ([]*chain.Entry, error) {
	rows, err := s.db.QueryContext(ctx, selectEntryColumns+` ORDER BY seq ASC`)
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
func (s *SQLiteStore) Get(ctx context.Context, seq int64) (*chain.Entry, error) {
	e, err := scanEntry(s.db.QueryRowContext(ctx, selectEntryColumns+` WHERE seq = ?`, seq))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get ledger entry %d: %w", seq, err)
	}
	return e, nil
}

// Head implements chain.EntryReader.
func (s *SQLiteStore) Head(ctx context.Context) (*chain.Entry, int64, error) {
	e, n, err := scanHead(s.db.QueryRowContext(ctx, headQuery))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("get ledger head: %w", err)
	}
	return e, n, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) LastEntry(ctx context.Context) (*chain.Entry, error) {
	e, err := scanEntry(t.tx.QueryRowContext(ctx, selectEntryColumns+` ORDER BY seq DESC LIMIT 1`))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read ledger tail: %w", err)
	}
	return e, nil
}

func (t *sqliteTx) AppendEntry(ctx context.Context, payload chain.Payload, hash, prevHash string) (*chain.Entry, error) {
	canon, err := chain.Canonical(payload)
	if err != nil {
		return nil, err
	}

	var seq int64
	if err := t.tx.QueryRowContext(ctx,
		`INSERT INTO compliance_ledger (seq, payload, hash, prev_hash)
		 SELECT COALESCE(MAX(seq), 0) + 1, ?, ?, ? FROM compliance_ledger
		 RETURNING seq`,
		string(canon), hash, prevHash,
	).Scan(&seq); err != nil {
		return nil, fmt.Errorf("insert ledger entry: %w", err)
	}
	return chain.RestoreEntry(seq, canon, hash, prevHash), nil
}
