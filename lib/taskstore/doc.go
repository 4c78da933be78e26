// Copyright 2026 The Dirigent Authors
// SPDX-License-Identifier: Apache-2.0

// Package taskstore persists task collections for the orchestration
// bridge. Two implementations of orchestration.TaskStore are provided:
//
//   - [FileStore]: human-authored JSONC task files. Writes are atomic
//     (temp file, fsync, rename, directory sync) and every read or
//     write records a keyed BLAKE3 fingerprint of the file content, so
//     external modification is detectable with [FileStore.Changed].
//   - [SQLiteStore]: tasks in a SQLite database through the shared
//     sqlitepool. The store path selects a logical namespace within
//     one database; writes upsert by task ID.
//
// [Watch] tails a task file with inotify and emits task.file.changed
// bus events when the content fingerprint actually changes, coalescing
// rapid writes.
package taskstore
