// Copyright 2026 The Dirigent Authors
// SPDX-License-Identifier: Apache-2.0

package taskstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/dirigent-project/dirigent/lib/clock"
	"github.com/dirigent-project/dirigent/lib/orchestration"
	"github.com/dirigent-project/dirigent/lib/sqlitepool"
)

// DefaultNamespace is used when ReadTasks or WriteTasks gets an empty
// path.
const DefaultNamespace = "tasks"

// sqliteSchema is bootstrapped once per connection.
const sqliteSchema = `
	CREATE TABLE IF NOT EXISTS tasks (
		namespace    TEXT NOT NULL,
		id           TEXT NOT NULL,
		title        TEXT NOT NULL DEFAULT '',
		description  TEXT NOT NULL DEFAULT '',
		status       TEXT NOT NULL DEFAULT 'pending',
		priority     INTEGER NOT NULL DEFAULT 0,
		requirements TEXT,
		metadata     TEXT,
		created      INTEGER NOT NULL,
		updated      INTEGER NOT NULL,
		PRIMARY KEY (namespace, id)
	);
	CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(namespace, status);
`

// SQLiteConfig holds the parameters for a SQLite-backed task store.
type SQLiteConfig struct {
	// Path is the database file. Required.
	Path string

	// PoolSize is the connection pool size. Defaults to 4.
	PoolSize int

	// Logger receives operational messages. Nil discards them.
	Logger *slog.Logger

	// Clock stamps created/updated times. Defaults to the real clock.
	Clock clock.Clock
}

// SQLiteStore keeps tasks in a SQLite database. The store path passed
// to ReadTasks and WriteTasks selects a logical namespace within the
// one database, so several task collections can share a file. Writes
// upsert by task ID and never delete.
type SQLiteStore struct {
	pool   *sqlitepool.Pool
	logger *slog.Logger
	clock  clock.Clock
}

// OpenSQLite opens (and creates if needed) the task database and
// bootstraps the schema. The caller must Close the store.
func OpenSQLite(config SQLiteConfig) (*SQLiteStore, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}

	poolSize := config.PoolSize
	if poolSize <= 0 {
		poolSize = 4
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     config.Path,
		PoolSize: poolSize,
		Logger:   logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, sqliteSchema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("taskstore: opening sqlite store: %w", err)
	}

	return &SQLiteStore{pool: pool, logger: logger, clock: clk}, nil
}

// Close releases the connection pool.
func (s *SQLiteStore) Close() error {
	return s.pool.Close()
}

func namespaceFor(path string) string {
	if path == "" {
		return DefaultNamespace
	}
	return path
}

// ReadTasks returns every task in the namespace, oldest first. An
// unknown namespace yields an empty collection, not an error.
func (s *SQLiteStore) ReadTasks(ctx context.Context, path string) (orchestration.TaskFile, error) {
	namespace := namespaceFor(path)

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return orchestration.TaskFile{}, fmt.Errorf("taskstore: reading namespace %s: %w", namespace, err)
	}
	defer s.pool.Put(conn)

	var tasks []orchestration.Task
	var newest int64
	err = sqlitex.Execute(conn, `
		SELECT id, title, description, status, priority, requirements,
		       metadata, created, updated
		FROM tasks WHERE namespace = ? ORDER BY created, id`,
		&sqlitex.ExecOptions{
			Args: []any{namespace},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				task, err := scanTask(stmt)
				if err != nil {
					return err
				}
				if updated := stmt.ColumnInt64(8); updated > newest {
					newest = updated
				}
				tasks = append(tasks, task)
				return nil
			},
		})
	if err != nil {
		return orchestration.TaskFile{}, fmt.Errorf("taskstore: reading namespace %s: %w", namespace, err)
	}

	meta := orchestration.FileMeta{
		Path:   namespace,
		Format: "sqlite",
		Count:  len(tasks),
	}
	if newest > 0 {
		meta.Modified = time.UnixMilli(newest).UTC()
	}
	return orchestration.TaskFile{Tasks: tasks, Meta: meta}, nil
}

func scanTask(stmt *sqlite.Stmt) (orchestration.Task, error) {
	task := orchestration.Task{
		ID:          stmt.ColumnText(0),
		Title:       stmt.ColumnText(1),
		Description: stmt.ColumnText(2),
		Status:      orchestration.TaskStatus(stmt.ColumnText(3)),
		Priority:    stmt.ColumnInt(4),
		Created:     time.UnixMilli(stmt.ColumnInt64(7)).UTC(),
		Updated:     time.UnixMilli(stmt.ColumnInt64(8)).UTC(),
	}
	if requirements := stmt.ColumnText(5); requirements != "" {
		if err := json.Unmarshal([]byte(requirements), &task.Requirements); err != nil {
			return task, fmt.Errorf("taskstore: task %s requirements: %w", task.ID, err)
		}
	}
	if metadata := stmt.ColumnText(6); metadata != "" {
		if err := json.Unmarshal([]byte(metadata), &task.Metadata); err != nil {
			return task, fmt.Errorf("taskstore: task %s metadata: %w", task.ID, err)
		}
	}
	return task, nil
}

// WriteTasks upserts the given tasks into the namespace in one
// IMMEDIATE transaction. Tasks without an ID get a generated one;
// zero created/updated stamps are filled with the current time.
func (s *SQLiteStore) WriteTasks(ctx context.Context, tasks []orchestration.Task, path string) (err error) {
	if len(tasks) == 0 {
		return nil
	}
	namespace := namespaceFor(path)

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("taskstore: writing namespace %s: %w", namespace, err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("taskstore: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	now := s.clock.Now()
	for _, task := range tasks {
		if err := s.upsertTask(conn, namespace, task, now); err != nil {
			return err
		}
	}

	s.logger.Debug("tasks written", "namespace", namespace, "tasks", len(tasks))
	return nil
}

func (s *SQLiteStore) upsertTask(conn *sqlite.Conn, namespace string, task orchestration.Task, now time.Time) error {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.Status == "" {
		task.Status = orchestration.TaskPending
	}
	if task.Created.IsZero() {
		task.Created = now
	}
	if task.Updated.IsZero() {
		task.Updated = now
	}

	var requirementsJSON any
	if len(task.Requirements) > 0 {
		data, err := json.Marshal(task.Requirements)
		if err != nil {
			return fmt.Errorf("taskstore: marshal task %s requirements: %w", task.ID, err)
		}
		requirementsJSON = string(data)
	}
	var metadataJSON any
	if len(task.Metadata) > 0 {
		data, err := json.Marshal(task.Metadata)
		if err != nil {
			return fmt.Errorf("taskstore: marshal task %s metadata: %w", task.ID, err)
		}
		metadataJSON = string(data)
	}

	err := sqlitex.Execute(conn, `
		INSERT INTO tasks
			(namespace, id, title, description, status, priority,
			 requirements, metadata, created, updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (namespace, id) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			status = excluded.status,
			priority = excluded.priority,
			requirements = excluded.requirements,
			metadata = excluded.metadata,
			updated = excluded.updated`,
		&sqlitex.ExecOptions{
			Args: []any{
				namespace,
				task.ID,
				task.Title,
				task.Description,
				string(task.Status),
				task.Priority,
				requirementsJSON,
				metadataJSON,
				task.Created.UnixMilli(),
				task.Updated.UnixMilli(),
			},
		})
	if err != nil {
		return fmt.Errorf("taskstore: upserting task %s: %w", task.ID, err)
	}
	return nil
}
