// Copyright 2026 The Dirigent Authors
// SPDX-License-Identifier: Apache-2.0

package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dirigent-project/dirigent/lib/clock"
	"github.com/dirigent-project/dirigent/lib/event"
	"github.com/dirigent-project/dirigent/lib/orchestration"
	"github.com/dirigent-project/dirigent/lib/supervisor"
)

const (
	// DefaultWorkers bounds batch concurrency when Config.Workers is
	// zero.
	DefaultWorkers = 4

	// DefaultSimulatedWork is how long the default runner pretends to
	// work per task.
	DefaultSimulatedWork = 10 * time.Millisecond

	// GroupPrefix namespaces the supervisor groups this engine
	// creates, one group per workflow.
	GroupPrefix = "workflow/"

	// MetadataWorkflowID is the task metadata key naming the workflow
	// a task belongs to.
	MetadataWorkflowID = "workflow_id"

	// DefaultWorkflow groups tasks that carry no workflow ID.
	DefaultWorkflow = "adhoc"
)

// Runner executes one task body under the process run context. The
// returned detail map lands in TaskResult.Detail.
type Runner func(ctx context.Context, task orchestration.Task) (map[string]any, error)

// Config holds the parameters for creating an [Engine].
type Config struct {
	// Bus carries task lifecycle events. Required.
	Bus *event.Bus

	// Supervisor runs one supervised process per task. Required. The
	// engine does not own it; Shutdown stops the engine's workflow
	// groups but leaves the supervisor itself to its owner.
	Supervisor *supervisor.Supervisor

	// Runner executes task bodies. Defaults to a runner that
	// simulates work with a cancellable clock wait.
	Runner Runner

	// Workers bounds ProcessBatch concurrency. Defaults to
	// DefaultWorkers.
	Workers int

	// TaskTimeout bounds each supervised task run. Zero defers to the
	// supervisor's default timeout.
	TaskTimeout time.Duration

	// SimulatedWork is the default runner's per-task duration.
	// Defaults to DefaultSimulatedWork.
	SimulatedWork time.Duration

	// Logger receives engine operational messages. Defaults to a
	// discard logger.
	Logger *slog.Logger

	// Clock provides time for durations and the default runner.
	// Defaults to the real clock.
	Clock clock.Clock
}

// Validate checks the configuration.
func (c Config) Validate() error {
	var errs []error
	if c.Bus == nil {
		errs = append(errs, errors.New("Bus is required"))
	}
	if c.Supervisor == nil {
		errs = append(errs, errors.New("Supervisor is required"))
	}
	if c.Workers < 0 {
		errs = append(errs, errors.New("Workers must not be negative"))
	}
	if c.TaskTimeout < 0 {
		errs = append(errs, errors.New("TaskTimeout must not be negative"))
	}
	if c.SimulatedWork < 0 {
		errs = append(errs, errors.New("SimulatedWork must not be negative"))
	}
	return errors.Join(errs...)
}

// Engine is the in-process orchestration engine: each task runs as a
// supervised process in a per-workflow group, with lifecycle events
// on the bus. It implements [orchestration.Engine].
type Engine struct {
	bus         *event.Bus
	supervisor  *supervisor.Supervisor
	runner      Runner
	workers     int
	taskTimeout time.Duration
	logger      *slog.Logger
	clock       clock.Clock

	closed         atomic.Bool
	tasksProcessed atomic.Uint64
	tasksFailed    atomic.Uint64
}

// New creates an engine from the configuration.
func New(config Config) (*Engine, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("workflow: invalid config: %w", err)
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	cl := config.Clock
	if cl == nil {
		cl = clock.Real()
	}
	workers := config.Workers
	if workers == 0 {
		workers = DefaultWorkers
	}
	simulated := config.SimulatedWork
	if simulated == 0 {
		simulated = DefaultSimulatedWork
	}

	e := &Engine{
		bus:         config.Bus,
		supervisor:  config.Supervisor,
		runner:      config.Runner,
		workers:     workers,
		taskTimeout: config.TaskTimeout,
		logger:      logger,
		clock:       cl,
	}
	if e.runner == nil {
		e.runner = e.simulatedRunner(simulated)
	}
	return e, nil
}

// Name implements orchestration.Engine.
func (e *Engine) Name() string { return "workflow" }

// simulatedRunner pretends to work for the given duration, honoring
// cancellation.
func (e *Engine) simulatedRunner(d time.Duration) Runner {
	return func(ctx context.Context, task orchestration.Task) (map[string]any, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-e.clock.After(d):
			return map[string]any{"simulated": true}, nil
		}
	}
}

// workflowFor reads the task's workflow ID from its metadata.
func workflowFor(task orchestration.Task) string {
	if id, ok := task.Metadata[MetadataWorkflowID].(string); ok && id != "" {
		return id
	}
	return DefaultWorkflow
}

// stopRelay converts supervisor stop signals into task context
// cancellation, so a graceful stop reaches ctx-aware runners without
// waiting for forced escalation.
type stopRelay struct {
	once      sync.Once
	signalled chan struct{}
}

func newStopRelay() *stopRelay {
	return &stopRelay{signalled: make(chan struct{})}
}

func (r *stopRelay) OnStopSignal(bool) {
	r.once.Do(func() { close(r.signalled) })
}

// runOutcome is one finished task run. taskErr is the task body's
// failure; the result is valid either way.
type runOutcome struct {
	result  orchestration.TaskResult
	taskErr error
}

// runTask runs one task as a supervised process and waits for its
// body to finish. The returned error is an engine-level failure
// (capacity, unknown state, abandoned wait); task body failures come
// back in the outcome instead.
func (e *Engine) runTask(ctx context.Context, task orchestration.Task) (runOutcome, error) {
	if e.closed.Load() {
		return runOutcome{}, errors.New("workflow: engine is shut down")
	}
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	workflowID := workflowFor(task)
	processID := fmt.Sprintf("task/%s/%s", task.ID, uuid.NewString())

	if _, err := e.supervisor.Create(supervisor.ProcessSpec{
		ID:       processID,
		Name:     task.Title,
		Group:    GroupPrefix + workflowID,
		Metadata: map[string]any{"task_id": task.ID},
	}); err != nil {
		return runOutcome{}, fmt.Errorf("workflow: creating task process: %w", err)
	}

	start := e.clock.Now()
	done := make(chan runOutcome, 1)
	relay := newStopRelay()
	fn := func(runCtx context.Context) error {
		taskCtx, cancel := context.WithCancel(runCtx)
		defer cancel()
		go func() {
			select {
			case <-relay.signalled:
				cancel()
			case <-taskCtx.Done():
			}
		}()
		detail, err := e.runner(taskCtx, task)
		done <- e.outcomeFor(task, processID, detail, err)
		return err
	}
	if err := e.supervisor.Start(ctx, processID, fn, supervisor.StartOptions{
		Timeout:  e.taskTimeout,
		Observer: relay,
	}); err != nil {
		return runOutcome{}, fmt.Errorf("workflow: starting task process: %w", err)
	}
	e.emit(ctx, "task.started", event.SeverityInfo, map[string]any{
		"task_id":     task.ID,
		"process_id":  processID,
		"workflow_id": workflowID,
		"title":       task.Title,
	})

	select {
	case <-ctx.Done():
		// The caller stopped waiting; nobody will observe this run,
		// so end it.
		_ = e.supervisor.Stop(context.WithoutCancel(ctx), processID, true)
		return runOutcome{}, fmt.Errorf("workflow: waiting for task %s: %w", task.ID, ctx.Err())
	case outcome := <-done:
		duration := e.clock.Now().Sub(start)
		if outcome.taskErr != nil {
			e.tasksFailed.Add(1)
			e.logger.Warn("task failed",
				"task_id", task.ID,
				"workflow_id", workflowID,
				"error", outcome.taskErr,
			)
			e.emit(ctx, "task.failed", event.SeverityError, map[string]any{
				"task_id":     task.ID,
				"process_id":  processID,
				"workflow_id": workflowID,
				"error":       outcome.taskErr.Error(),
				"duration_ms": duration.Milliseconds(),
			})
			return outcome, nil
		}
		e.tasksProcessed.Add(1)
		e.emit(ctx, "task.completed", event.SeverityInfo, map[string]any{
			"task_id":     task.ID,
			"process_id":  processID,
			"workflow_id": workflowID,
			"duration_ms": duration.Milliseconds(),
		})
		return outcome, nil
	}
}

// outcomeFor shapes a finished task body into a result.
func (e *Engine) outcomeFor(task orchestration.Task, processID string, detail map[string]any, err error) runOutcome {
	result := orchestration.TaskResult{
		TaskID: task.ID,
		Mode:   orchestration.ModeOrchestrated,
		Detail: map[string]any{"process_id": processID},
	}
	for k, v := range detail {
		result.Detail[k] = v
	}
	if err != nil {
		result.Status = string(orchestration.TaskFailed)
		result.Detail["error"] = err.Error()
		return runOutcome{result: result, taskErr: err}
	}
	result.Status = string(orchestration.TaskCompleted)
	return runOutcome{result: result}
}

// ProcessTask runs one task to completion. A failed task body is an
// orchestrated outcome (Status "failed"), not an error; errors mean
// the engine could not run the task at all.
func (e *Engine) ProcessTask(ctx context.Context, task orchestration.Task) (orchestration.TaskResult, error) {
	outcome, err := e.runTask(ctx, task)
	if err != nil {
		return orchestration.TaskResult{}, err
	}
	return outcome.result, nil
}

// ProcessBatch runs tasks through a bounded worker pool, preserving
// input order in the results. One item's failure never aborts the
// rest: failures become rejected items.
func (e *Engine) ProcessBatch(ctx context.Context, tasks []orchestration.Task) ([]orchestration.BatchItem, error) {
	if e.closed.Load() {
		return nil, errors.New("workflow: engine is shut down")
	}
	items := make([]orchestration.BatchItem, len(tasks))
	if len(tasks) == 0 {
		return items, nil
	}

	workers := e.workers
	if workers > len(tasks) {
		workers = len(tasks)
	}
	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				items[i] = e.batchItem(ctx, tasks[i])
			}
		}()
	}
	for i := range tasks {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	return items, nil
}

func (e *Engine) batchItem(ctx context.Context, task orchestration.Task) orchestration.BatchItem {
	outcome, err := e.runTask(ctx, task)
	if err != nil {
		return orchestration.BatchItem{Status: orchestration.BatchRejected, Reason: err}
	}
	if outcome.taskErr != nil {
		return orchestration.BatchItem{
			Status: orchestration.BatchRejected,
			Value:  outcome.result,
			Reason: outcome.taskErr,
		}
	}
	return orchestration.BatchItem{Status: orchestration.BatchFulfilled, Value: outcome.result}
}

// emit publishes a task lifecycle event, logging emission failures.
func (e *Engine) emit(ctx context.Context, eventType string, severity event.Severity, data map[string]any) {
	_, err := e.bus.Emit(ctx, eventType, data, event.EmitOptions{
		Severity: severity,
		Source:   "workflow",
	})
	if err != nil {
		e.logger.Error("emitting task event", "event_type", eventType, "error", err)
	}
}
