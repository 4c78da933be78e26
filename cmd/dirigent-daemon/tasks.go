// Copyright 2026 The Dirigent Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dirigent-project/dirigent/lib/event"
	"github.com/dirigent-project/dirigent/lib/orchestration"
	"github.com/dirigent-project/dirigent/lib/taskstore"
)

// taskReloader processes pending tasks through the bridge whenever
// the watched task file changes. Results are folded back into the
// file, which fires the watcher once more; that second pass finds no
// pending tasks and stops, so the cycle converges.
type taskReloader struct {
	bridge *orchestration.Bridge
	path   string
	logger *slog.Logger

	// mu serializes runs so two change events cannot interleave a
	// read-process-write cycle.
	mu sync.Mutex
}

func newTaskReloader(bridge *orchestration.Bridge, path string, logger *slog.Logger) *taskReloader {
	return &taskReloader{bridge: bridge, path: path, logger: logger}
}

// subscribe registers the reloader for task file change events.
func (r *taskReloader) subscribe(bus *event.Bus) error {
	_, err := bus.Subscribe(event.Exact(taskstore.EventFileChanged), func(ctx context.Context, ev event.Event) error {
		if err := r.run(ctx); err != nil {
			r.logger.Error("task reload failed", "path", r.path, "error", err)
			return err
		}
		return nil
	}, event.SubscribeOptions{})
	return err
}

// run reads the task file, processes everything still pending, and
// writes the outcomes back.
func (r *taskReloader) run(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	file, err := r.bridge.ReadTasks(ctx, r.path)
	if err != nil {
		return fmt.Errorf("reading tasks: %w", err)
	}

	pending := make([]orchestration.Task, 0, len(file.Tasks))
	for _, task := range file.Tasks {
		if task.Status == orchestration.TaskPending || task.Status == "" {
			pending = append(pending, task)
		}
	}
	if len(pending) == 0 {
		return nil
	}

	r.logger.Info("processing pending tasks", "count", len(pending), "path", r.path)
	items, err := r.bridge.ProcessBatch(ctx, pending)
	if err != nil {
		return fmt.Errorf("processing batch: %w", err)
	}

	// ProcessBatch preserves input order, so item i belongs to
	// pending[i].
	outcomes := make(map[string]orchestration.BatchItem, len(items))
	for index, item := range items {
		outcomes[pending[index].ID] = item
	}

	tasks := file.Tasks
	for index := range tasks {
		item, processed := outcomes[tasks[index].ID]
		if !processed {
			continue
		}
		if item.Status == orchestration.BatchFulfilled {
			tasks[index].Status = orchestration.TaskCompleted
		} else {
			tasks[index].Status = orchestration.TaskFailed
		}
	}

	if err := r.bridge.WriteTasks(ctx, tasks, r.path); err != nil {
		return fmt.Errorf("writing results: %w", err)
	}
	return nil
}
