// Copyright 2026 The Dirigent Authors
// SPDX-License-Identifier: Apache-2.0

package orchestration

import (
	"context"
	"time"
)

// TaskStatus is a task's place in its processing lifecycle.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskProcessing TaskStatus = "processing"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

// Task is one unit of work routed through the bridge.
type Task struct {
	ID           string         `json:"id"`
	Title        string         `json:"title"`
	Description  string         `json:"description,omitempty"`
	Status       TaskStatus     `json:"status"`
	Priority     int            `json:"priority"`
	Requirements []string       `json:"requirements,omitempty"`
	Created      time.Time      `json:"created"`
	Updated      time.Time      `json:"updated"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Mode says which processing path produced a result.
type Mode string

const (
	// ModeOrchestrated marks results produced by the full engine.
	ModeOrchestrated Mode = "orchestrated"

	// ModeBasic marks results produced by the degraded fallback path.
	ModeBasic Mode = "basic"
)

// TaskResult is the outcome of processing one task.
type TaskResult struct {
	TaskID string         `json:"task_id"`
	Mode   Mode           `json:"mode"`
	Status string         `json:"status"`
	Detail map[string]any `json:"detail,omitempty"`
}

// BatchStatus classifies one item of a batch result.
type BatchStatus string

const (
	BatchFulfilled BatchStatus = "fulfilled"
	BatchRejected  BatchStatus = "rejected"
)

// BatchItem is one per-task outcome within a batch. Fulfilled items
// carry a Value; rejected items carry a Reason. A rejected item never
// aborts the rest of the batch.
type BatchItem struct {
	Status BatchStatus `json:"status"`
	Value  TaskResult  `json:"value"`
	Reason error       `json:"-"`
}

// WorkflowStatus summarizes the tasks running under one workflow.
// StateCounts is keyed by process state name so the type stays
// engine-agnostic.
type WorkflowStatus struct {
	WorkflowID   string         `json:"workflow_id"`
	TaskCount    int            `json:"task_count"`
	StateCounts  map[string]int `json:"state_counts"`
	Active       bool           `json:"active"`
	AllCompleted bool           `json:"all_completed"`
	HasErrors    bool           `json:"has_errors"`
}

// Requirement is one parsed requirement line.
type Requirement struct {
	ID       string   `json:"id"`
	Text     string   `json:"text"`
	Priority int      `json:"priority"`
	Tags     []string `json:"tags,omitempty"`
}

// Health is a liveness summary, reported in both modes.
type Health struct {
	Healthy bool   `json:"healthy"`
	Mode    Mode   `json:"mode"`
	Detail  string `json:"detail,omitempty"`
}

// EngineMetrics is activity reported by the engine itself.
type EngineMetrics struct {
	TasksProcessed  uint64         `json:"tasks_processed"`
	TasksFailed     uint64         `json:"tasks_failed"`
	ActiveWorkflows int            `json:"active_workflows"`
	Detail          map[string]any `json:"detail,omitempty"`
}

// BridgeMetrics is the bridge's own view of activity. Engine is the
// zero value while orchestration is disabled.
type BridgeMetrics struct {
	Mode           Mode          `json:"mode"`
	TasksProcessed uint64        `json:"tasks_processed"`
	BasicFallbacks uint64        `json:"basic_fallbacks"`
	Engine         EngineMetrics `json:"engine"`
}

// BridgeStatus reports the bridge's operating mode and how it got
// there.
type BridgeStatus struct {
	OrchestrationEnabled bool   `json:"orchestration_enabled"`
	Mode                 Mode   `json:"mode"`
	Engine               string `json:"engine,omitempty"`
	InitErr              string `json:"init_err,omitempty"`
}

// Engine is the full orchestration engine the bridge delegates to
// when enabled. lib/workflow ships the in-process implementation;
// alternative engines plug in through the same interface.
type Engine interface {
	// Name identifies the engine in status reports.
	Name() string

	ProcessTask(ctx context.Context, task Task) (TaskResult, error)
	ProcessBatch(ctx context.Context, tasks []Task) ([]BatchItem, error)
	WorkflowStatus(ctx context.Context, workflowID string) (WorkflowStatus, error)
	CancelWorkflow(ctx context.Context, workflowID string) error
	ParseRequirements(ctx context.Context, text string) ([]Requirement, error)
	Metrics(ctx context.Context) (EngineMetrics, error)
	Health(ctx context.Context) (Health, error)
	Shutdown(ctx context.Context) error
}

// EngineConfig is the engine-construction input handed to the
// factory. It is plain data; live collaborators (bus, supervisor,
// runners) are captured by the factory closure at wiring time.
type EngineConfig struct {
	// Workers bounds batch concurrency. Zero means the engine
	// default.
	Workers int `json:"workers"`

	// DefaultTaskTimeout bounds each task run. Zero means no
	// deadline.
	DefaultTaskTimeout time.Duration `json:"default_task_timeout"`

	// Metadata is passed through to the engine untouched.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// EngineFactory builds the engine during bridge construction. A
// factory error or panic permanently disables orchestration for that
// bridge; it never propagates to the caller.
type EngineFactory func(config EngineConfig) (Engine, error)

// FileMeta describes the provenance of a loaded task file.
type FileMeta struct {
	Path     string    `json:"path"`
	Format   string    `json:"format,omitempty"`
	Modified time.Time `json:"modified"`
	Count    int       `json:"count"`
}

// TaskFile is a task collection loaded from a store.
type TaskFile struct {
	Tasks []Task   `json:"tasks"`
	Meta  FileMeta `json:"meta"`
}

// TaskStore persists task collections. lib/taskstore ships file and
// SQLite implementations.
type TaskStore interface {
	ReadTasks(ctx context.Context, path string) (TaskFile, error)
	WriteTasks(ctx context.Context, tasks []Task, path string) error
}
