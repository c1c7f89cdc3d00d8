// Package store owns the SQLite persistence layer: the connection
// pool, the schema, and every conditional UPDATE the cores rely on for
// atomicity. Callers either use the context-level helpers or Take a
// connection and compose conn-level operations inside one transaction.
package store

import (
	"context"
	"fmt"
	"log"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// Pool is a fixed-size pool of SQLite connections with standard
// pragmas applied. Individual connections are not safe for concurrent
// use; each goroutine must Take its own and Put it back when done.
type Pool struct {
	inner  *sqlitex.Pool
	logger *log.Logger
	path   string
}

// OpenPool creates the pool and applies pragmas plus the schema to
// every connection. The database file is created if it does not exist.
func OpenPool(path string, poolSize int, logger *log.Logger) (*Pool, error) {
	if path == "" {
		return nil, fmt.Errorf("store: path is required")
	}
	if poolSize <= 0 {
		poolSize = 4
	}

	inner, err := sqlitex.NewPool(path, sqlitex.PoolOptions{
		PoolSize: poolSize,
		PrepareConn: func(conn *sqlite.Conn) error {
			return prepareConnection(conn)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("store: opening %s: %w", path, err)
	}

	logger.Printf("INFO store: sqlite pool opened path=%s pool_size=%d", path, poolSize)

	return &Pool{inner: inner, logger: logger, path: path}, nil
}

// Take borrows a connection. Blocks until one is available or ctx is
// cancelled. The caller must Put it back, typically via defer.
func (p *Pool) Take(ctx context.Context) (*sqlite.Conn, error) {
	conn, err := p.inner.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: take: %w", err)
	}
	return conn, nil
}

// Put returns a connection to the pool. Safe to call with nil.
func (p *Pool) Put(conn *sqlite.Conn) {
	p.inner.Put(conn)
}

// Close closes all connections. Blocks until borrowed connections are
// returned.
func (p *Pool) Close() error {
	if err := p.inner.Close(); err != nil {
		return fmt.Errorf("store: closing %s: %w", p.path, err)
	}
	p.logger.Printf("INFO store: sqlite pool closed path=%s", p.path)
	return nil
}

// prepareConnection applies standard pragmas and the schema. WAL keeps
// readers unblocked by the single writer; busy_timeout absorbs write
// contention instead of surfacing SQLITE_BUSY.
func prepareConnection(conn *sqlite.Conn) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=OFF",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("store: %s: %w", pragma, err)
		}
	}
	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		return fmt.Errorf("store: applying schema: %w", err)
	}
	return nil
}
