// Package store provides the Ledger Store backends for the compliance chain.
//
// Three backends implement chain.Store and chain.EntryReader:
//   - MemoryStore: in-process, for tests and throwaway deployments.
//   - SQLiteStore: single-file durable storage.
//   - PostgresStore: shared durable storage for multi-instance deployments.
//
// Each backend serialises append scopes on its own: a mutex, a SQLite
// immediate transaction, or a PostgreSQL advisory lock.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmerrifield20/ComplianceLedger/internal/chain"
	"go.uber.org/zap"
)

// ErrNotFound is returned when no entry exists at the requested sequence.
var ErrNotFound = errors.New("ledger entry not found")

// Driver names accepted by Open.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config selects and configures a backend.
type Config struct {
	Driver      string
	SQLitePath  string
	DatabaseURL string
}

// Backend is a store usable by both the chain engine and the read endpoints.
type Backend interface {
	chain.Store
	chain.EntryReader
	Close() error
}

// Open connects the backend named by cfg.Driver.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (Backend, error) {
	switch cfg.Driver {
	case DriverMemory:
		logger.Warn("using in-memory ledger store; entries are lost on restart")
		return NewMemoryStore(), nil

	case DriverSQLite, "":
		s, err := OpenSQLite(cfg.SQLitePath, logger)
		if err != nil {
			return nil, err
		}
		logger.Info("opened sqlite ledger store", zap.String("path", cfg.SQLitePath))
		return s, nil

	case DriverPostgres:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("ping postgres: %w", err)
		}
		logger.Info("connected to postgres")
		return NewPostgresStore(pool, logger), nil

	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// rowScanner is satisfied by pgx.Row, pgx.Rows, *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*chain.Entry, error) {
	var (
		seq            int64
		payload        string
		hash, prevHash string
	)
	if err := row.Scan(&seq, &payload, &hash, &prevHash); err != nil {
		return nil, err
	}
	return chain.RestoreEntry(seq, []byte(payload), hash, prevHash), nil
}

// headQuery reads the tail entry and the entry count in one statement, so
// both come from the same snapshot even while appends commit.
const headQuery = `SELECT seq, payload, hash, prev_hash, (SELECT COUNT(*) FROM compliance_ledger)
	FROM compliance_ledger ORDER BY seq DESC LIMIT 1`

func scanHead(row rowScanner) (*chain.Entry, int64, error) {
	var (
		seq            int64
		payload        string
		hash, prevHash string
		n              int64
	)
	if err := row.Scan(&seq, &payload, &hash, &prevHash, &n); err != nil {
		return nil, 0, err
	}
	return chain.RestoreEntry(seq, []byte(payload), hash, prevHash), n, nil
}
