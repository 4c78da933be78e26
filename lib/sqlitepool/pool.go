// Copyright 2026 The Dirigent Authors
// SPDX-License-Identifier: Apache-2.0

package sqlitepool

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// Config holds the parameters for opening a connection pool. Path is
// required; everything else has defaults.
type Config struct {
	// Path is the SQLite database file. The parent directory must
	// exist; the file is created on first open. ":memory:" works for
	// tests but requires PoolSize 1, since every in-memory connection
	// is an independent database.
	Path string

	// PoolSize is the number of connections. Zero or negative selects
	// max(NumCPU, 4). SQLite serializes writes regardless of pool
	// size, so extra connections only help concurrent reads.
	PoolSize int

	// Logger receives open/close messages. Nil discards them.
	Logger *slog.Logger

	// OnConnect runs once per connection after the standard pragmas.
	// Schema bootstrap belongs here. An error discards the connection
	// and surfaces from Take.
	OnConnect func(conn *sqlite.Conn) error
}

// Pool is a fixed-size pool of SQLite connections with the standard
// pragmas applied. The pool is safe for concurrent use; individual
// connections are not.
type Pool struct {
	inner  *sqlitex.Pool
	logger *slog.Logger
	path   string
}

// Open creates the pool. Connections are initialized lazily on first
// Take. The caller must Close the pool when done.
func Open(cfg Config) (*Pool, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlitepool: Path is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = runtime.NumCPU()
		if poolSize < 4 {
			poolSize = 4
		}
	}

	inner, err := sqlitex.NewPool(cfg.Path, sqlitex.PoolOptions{
		PoolSize: poolSize,
		PrepareConn: func(conn *sqlite.Conn) error {
			return prepareConnection(conn, cfg.OnConnect)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("sqlitepool: opening %s: %w", cfg.Path, err)
	}

	logger.Info("sqlite pool opened", "path", cfg.Path, "pool_size", poolSize)

	return &Pool{inner: inner, logger: logger, path: cfg.Path}, nil
}

// Take borrows a connection, blocking until one is free or ctx is
// cancelled. The caller must Put it back, typically via defer.
func (p *Pool) Take(ctx context.Context) (*sqlite.Conn, error) {
	conn, err := p.inner.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqlitepool: take: %w", err)
	}
	return conn, nil
}

// Put returns a connection to the pool. Nil is a no-op.
func (p *Pool) Put(conn *sqlite.Conn) {
	p.inner.Put(conn)
}

// Close closes every connection, blocking until borrowed ones are
// returned. Take fails afterwards.
func (p *Pool) Close() error {
	if err := p.inner.Close(); err != nil {
		p.logger.Error("sqlite pool close error", "path", p.path, "error", err)
		return fmt.Errorf("sqlitepool: closing %s: %w", p.path, err)
	}
	p.logger.Info("sqlite pool closed", "path", p.path)
	return nil
}

// prepareConnection applies the standard pragmas, then the optional
// OnConnect callback. Runs once per pooled connection, on first use.
func prepareConnection(conn *sqlite.Conn, onConnect func(*sqlite.Conn) error) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("sqlitepool: %s: %w", pragma, err)
		}
	}

	if onConnect != nil {
		if err := onConnect(conn); err != nil {
			return fmt.Errorf("sqlitepool: OnConnect: %w", err)
		}
	}
	return nil
}
