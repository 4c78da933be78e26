// Copyright 2026 The Dirigent Authors
// SPDX-License-Identifier: Apache-2.0

package orchestration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dirigent-project/dirigent/lib/clock"
	"github.com/dirigent-project/dirigent/lib/telemetry"
)

// Config holds the collaborators for creating a [Bridge].
type Config struct {
	// Engine builds the full orchestration engine. A nil factory, a
	// factory error, or a factory panic leaves the bridge in basic
	// mode.
	Engine EngineFactory

	// EngineConfig is handed to the factory.
	EngineConfig EngineConfig

	// Store persists task collections for ReadTasks/WriteTasks. A nil
	// store makes those operations fail; everything else still works.
	Store TaskStore

	// Logger receives bridge operational messages. Defaults to a
	// discard logger.
	Logger *slog.Logger

	// Clock provides time for telemetry spans. Defaults to the real
	// clock.
	Clock clock.Clock

	// Telemetry records bridge call spans. Optional.
	Telemetry *telemetry.Emitter
}

// Bridge routes task processing to a full orchestration engine when
// one is available and degrades to basic mode when it is not. The
// degradation contract has two scopes: an engine-construction failure
// disables orchestration permanently for this bridge, while a
// per-call engine failure falls back to basic for that call only.
//
// Basic mode never fails: it acknowledges tasks as accepted without
// orchestrating them, so callers keep working while the engine is
// unavailable.
type Bridge struct {
	logger    *slog.Logger
	clock     clock.Clock
	telemetry *telemetry.Emitter
	store     TaskStore

	mu         sync.Mutex
	engine     Engine
	enabled    bool
	engineName string
	initErr    string
	shutdown   bool

	tasksProcessed atomic.Uint64
	basicFallbacks atomic.Uint64
}

// NewBridge builds a bridge and initializes its engine. It never
// fails: engine construction problems are logged, recorded in the
// status, and leave the bridge in basic mode.
func NewBridge(config Config) *Bridge {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	cl := config.Clock
	if cl == nil {
		cl = clock.Real()
	}
	b := &Bridge{
		logger:    logger,
		clock:     cl,
		telemetry: config.Telemetry,
		store:     config.Store,
	}
	b.initialize(config)
	return b
}

// initialize constructs the engine through the factory, downgrading
// any failure to permanent basic mode.
func (b *Bridge) initialize(config Config) {
	if config.Engine == nil {
		b.initErr = "no engine factory configured"
		b.logger.Info("orchestration disabled", "reason", b.initErr)
		return
	}
	engine, err := buildEngine(config.Engine, config.EngineConfig)
	if err != nil {
		b.initErr = err.Error()
		b.logger.Warn("orchestration disabled, continuing in basic mode",
			"error", err)
		return
	}
	b.engine = engine
	b.enabled = true
	b.engineName = engine.Name()
	b.logger.Info("orchestration enabled", "engine", b.engineName)
}

// buildEngine runs the factory with panic containment.
func buildEngine(factory EngineFactory, config EngineConfig) (engine Engine, err error) {
	defer func() {
		if r := recover(); r != nil {
			engine = nil
			err = fmt.Errorf("engine factory panic: %v", r)
		}
	}()
	engine, err = factory(config)
	if err == nil && engine == nil {
		err = errors.New("engine factory returned no engine")
	}
	return engine, err
}

// currentEngine returns the engine if orchestration is enabled.
func (b *Bridge) currentEngine() (Engine, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.enabled || b.engine == nil {
		return nil, false
	}
	return b.engine, true
}

// Mode reports which path ProcessTask would take right now.
func (b *Bridge) Mode() Mode {
	if _, ok := b.currentEngine(); ok {
		return ModeOrchestrated
	}
	return ModeBasic
}

// guard converts an engine panic into an error so engine failures
// stay inside the bridge.
func guard(err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("engine panic: %v", r)
	}
}

// ProcessTask processes one task: through the engine when
// orchestration is enabled, in basic mode otherwise. An engine
// failure falls back to basic for this call only; orchestration stays
// enabled for the next one.
func (b *Bridge) ProcessTask(ctx context.Context, task Task) (TaskResult, error) {
	start := b.clock.Now()
	b.tasksProcessed.Add(1)

	if engine, ok := b.currentEngine(); ok {
		result, err := delegateTask(ctx, engine, task)
		if err == nil {
			b.recordSpan("bridge.process_task", start, ModeOrchestrated)
			return result, nil
		}
		b.basicFallbacks.Add(1)
		b.logger.Warn("engine task processing failed, falling back to basic",
			"task_id", task.ID,
			"error", err,
		)
	}

	result := basicResult(task)
	b.recordSpan("bridge.process_task", start, ModeBasic)
	return result, nil
}

func delegateTask(ctx context.Context, engine Engine, task Task) (result TaskResult, err error) {
	defer guard(&err)
	return engine.ProcessTask(ctx, task)
}

// basicResult acknowledges a task without orchestrating it.
func basicResult(task Task) TaskResult {
	return TaskResult{
		TaskID: task.ID,
		Mode:   ModeBasic,
		Status: string(TaskProcessing),
	}
}

// ProcessBatch processes tasks through the engine's native batch path
// when enabled. An engine batch failure degrades the whole batch to
// basic mode; in basic mode every task is fulfilled sequentially. One
// item's failure never aborts the rest.
func (b *Bridge) ProcessBatch(ctx context.Context, tasks []Task) ([]BatchItem, error) {
	start := b.clock.Now()

	if engine, ok := b.currentEngine(); ok {
		items, err := delegateBatch(ctx, engine, tasks)
		if err == nil {
			b.tasksProcessed.Add(uint64(len(tasks)))
			b.recordSpan("bridge.process_batch", start, ModeOrchestrated)
			return items, nil
		}
		b.basicFallbacks.Add(1)
		b.logger.Warn("engine batch processing failed, falling back to basic",
			"tasks", len(tasks),
			"error", err,
		)
	}

	items := make([]BatchItem, 0, len(tasks))
	for _, task := range tasks {
		b.tasksProcessed.Add(1)
		items = append(items, BatchItem{
			Status: BatchFulfilled,
			Value:  basicResult(task),
		})
	}
	b.recordSpan("bridge.process_batch", start, ModeBasic)
	return items, nil
}

func delegateBatch(ctx context.Context, engine Engine, tasks []Task) (items []BatchItem, err error) {
	defer guard(&err)
	return engine.ProcessBatch(ctx, tasks)
}

// WorkflowStatus reports the state of a workflow. Orchestration-only;
// fails with ErrCodeOrchestrationDisabled in basic mode.
func (b *Bridge) WorkflowStatus(ctx context.Context, workflowID string) (status WorkflowStatus, err error) {
	engine, ok := b.currentEngine()
	if !ok {
		return WorkflowStatus{}, errorf(ErrCodeOrchestrationDisabled,
			"workflow status requires the orchestration engine")
	}
	defer guard(&err)
	return engine.WorkflowStatus(ctx, workflowID)
}

// CancelWorkflow cancels a workflow's tasks. Orchestration-only;
// fails with ErrCodeOrchestrationDisabled in basic mode.
func (b *Bridge) CancelWorkflow(ctx context.Context, workflowID string) (err error) {
	engine, ok := b.currentEngine()
	if !ok {
		return errorf(ErrCodeOrchestrationDisabled,
			"workflow cancellation requires the orchestration engine")
	}
	defer guard(&err)
	return engine.CancelWorkflow(ctx, workflowID)
}

// ParseRequirements extracts structured requirements from free text.
// Orchestration-only; fails with ErrCodeOrchestrationDisabled in
// basic mode.
func (b *Bridge) ParseRequirements(ctx context.Context, text string) (reqs []Requirement, err error) {
	engine, ok := b.currentEngine()
	if !ok {
		return nil, errorf(ErrCodeOrchestrationDisabled,
			"requirement parsing requires the orchestration engine")
	}
	defer guard(&err)
	return engine.ParseRequirements(ctx, text)
}

// Metrics reports bridge activity, best-effort in both modes. Engine
// metrics are included when available; an engine metrics failure
// leaves the engine section zeroed rather than failing the call.
func (b *Bridge) Metrics(ctx context.Context) BridgeMetrics {
	metrics := BridgeMetrics{
		Mode:           b.Mode(),
		TasksProcessed: b.tasksProcessed.Load(),
		BasicFallbacks: b.basicFallbacks.Load(),
	}
	if engine, ok := b.currentEngine(); ok {
		engineMetrics, err := delegateMetrics(ctx, engine)
		if err != nil {
			b.logger.Debug("engine metrics unavailable", "error", err)
		} else {
			metrics.Engine = engineMetrics
		}
	}
	return metrics
}

func delegateMetrics(ctx context.Context, engine Engine) (metrics EngineMetrics, err error) {
	defer guard(&err)
	return engine.Metrics(ctx)
}

// Status reports the bridge's mode and how it got there.
func (b *Bridge) Status() BridgeStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	status := BridgeStatus{
		OrchestrationEnabled: b.enabled && b.engine != nil,
		Mode:                 ModeBasic,
		Engine:               b.engineName,
		InitErr:              b.initErr,
	}
	if status.OrchestrationEnabled {
		status.Mode = ModeOrchestrated
	}
	return status
}

// Health reports liveness, best-effort in both modes. Basic mode is
// always healthy; an engine health failure reports unhealthy with the
// failure as detail instead of returning an error.
func (b *Bridge) Health(ctx context.Context) Health {
	engine, ok := b.currentEngine()
	if !ok {
		return Health{
			Healthy: true,
			Mode:    ModeBasic,
			Detail:  "orchestration disabled",
		}
	}
	health, err := delegateHealth(ctx, engine)
	if err != nil {
		return Health{
			Healthy: false,
			Mode:    ModeOrchestrated,
			Detail:  err.Error(),
		}
	}
	return health
}

func delegateHealth(ctx context.Context, engine Engine) (health Health, err error) {
	defer guard(&err)
	return engine.Health(ctx)
}

// ReadTasks loads a task collection through the injected store.
func (b *Bridge) ReadTasks(ctx context.Context, path string) (TaskFile, error) {
	if b.store == nil {
		return TaskFile{}, errorf(ErrCodeInvalidState, "no task store configured")
	}
	file, err := b.store.ReadTasks(ctx, path)
	if err != nil {
		return TaskFile{}, fmt.Errorf("orchestration: reading tasks from %s: %w", path, err)
	}
	return file, nil
}

// WriteTasks persists a task collection through the injected store.
func (b *Bridge) WriteTasks(ctx context.Context, tasks []Task, path string) error {
	if b.store == nil {
		return errorf(ErrCodeInvalidState, "no task store configured")
	}
	if err := b.store.WriteTasks(ctx, tasks, path); err != nil {
		return fmt.Errorf("orchestration: writing tasks to %s: %w", path, err)
	}
	return nil
}

// Shutdown tears down the engine, if present, and drops to basic
// mode. Idempotent: later calls return nil immediately. The bridge
// itself keeps serving basic-mode calls afterwards.
func (b *Bridge) Shutdown(ctx context.Context) error {
	b.mu.Lock()
	if b.shutdown {
		b.mu.Unlock()
		return nil
	}
	b.shutdown = true
	engine := b.engine
	b.engine = nil
	b.enabled = false
	b.mu.Unlock()

	if engine == nil {
		return nil
	}
	b.logger.Info("shutting down orchestration engine", "engine", b.engineName)
	if err := delegateShutdown(ctx, engine); err != nil {
		return fmt.Errorf("orchestration: engine shutdown: %w", err)
	}
	return nil
}

func delegateShutdown(ctx context.Context, engine Engine) (err error) {
	defer guard(&err)
	return engine.Shutdown(ctx)
}

// recordSpan reports one bridge call to telemetry.
func (b *Bridge) recordSpan(operation string, start time.Time, mode Mode) {
	b.telemetry.RecordSpan(telemetry.Span{
		Operation: operation,
		StartTime: start,
		Duration:  b.clock.Now().Sub(start),
		Status:    "ok",
		Attributes: map[string]any{
			"mode": string(mode),
		},
	})
}
