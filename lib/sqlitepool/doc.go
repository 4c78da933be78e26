// Copyright 2026 The Dirigent Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool provides the standard SQLite connection pool for
// Dirigent components that keep local structured state, such as the
// SQLite task store.
//
// It wraps zombiezen.com/go/sqlite with a fixed set of pragmas applied
// to every connection:
//
//   - journal_mode=WAL: concurrent readers alongside the single
//     writer; reads never block writes.
//   - synchronous=NORMAL: transactions survive process crashes. Task
//     state can be re-derived from its source files, so power-failure
//     durability is not worth fsync-per-commit.
//   - busy_timeout=5000: wait up to 5 seconds for a write lock instead
//     of failing with SQLITE_BUSY.
//   - foreign_keys=ON: the stores in this repository own their schemas
//     and rely on FK enforcement.
//   - temp_store=MEMORY: temporary tables and indexes in memory.
//
// Callers [Pool.Take] a connection, work with it, and [Pool.Put] it
// back. Connections are not safe for concurrent use; each goroutine
// holds its own for the duration of its work. The package is
// intentionally thin: no query builder, no transaction wrapper.
// Callers write SQL with sqlitex directly.
package sqlitepool
