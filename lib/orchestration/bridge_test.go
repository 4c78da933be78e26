// Copyright 2026 The Dirigent Authors
// SPDX-License-Identifier: Apache-2.0

package orchestration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
)

// fakeEngine is a scriptable Engine: queued task errors, a one-shot
// panic, and fixed answers for the other operations.
type fakeEngine struct {
	mu            sync.Mutex
	taskCalls     int
	batchCalls    int
	shutdownCalls int
	cancelled     []string

	taskErrs      []error
	panicNextTask bool
	batchErr      error
	wfErr         error
	healthErr     error
	metricsErr    error
	shutdownErr   error
	metricsValue  EngineMetrics
}

func (e *fakeEngine) Name() string { return "fake" }

func (e *fakeEngine) ProcessTask(_ context.Context, task Task) (TaskResult, error) {
	e.mu.Lock()
	e.taskCalls++
	panicNow := e.panicNextTask
	e.panicNextTask = false
	var err error
	if len(e.taskErrs) > 0 {
		err = e.taskErrs[0]
		e.taskErrs = e.taskErrs[1:]
	}
	e.mu.Unlock()

	if panicNow {
		panic("engine exploded")
	}
	if err != nil {
		return TaskResult{}, err
	}
	return TaskResult{
		TaskID: task.ID,
		Mode:   ModeOrchestrated,
		Status: string(TaskCompleted),
	}, nil
}

func (e *fakeEngine) ProcessBatch(_ context.Context, tasks []Task) ([]BatchItem, error) {
	e.mu.Lock()
	e.batchCalls++
	err := e.batchErr
	e.mu.Unlock()

	if err != nil {
		return nil, err
	}
	items := make([]BatchItem, 0, len(tasks))
	for _, task := range tasks {
		items = append(items, BatchItem{
			Status: BatchFulfilled,
			Value: TaskResult{
				TaskID: task.ID,
				Mode:   ModeOrchestrated,
				Status: string(TaskCompleted),
			},
		})
	}
	return items, nil
}

func (e *fakeEngine) WorkflowStatus(_ context.Context, workflowID string) (WorkflowStatus, error) {
	if e.wfErr != nil {
		return WorkflowStatus{}, e.wfErr
	}
	return WorkflowStatus{WorkflowID: workflowID, TaskCount: 2, Active: true}, nil
}

func (e *fakeEngine) CancelWorkflow(_ context.Context, workflowID string) error {
	e.mu.Lock()
	e.cancelled = append(e.cancelled, workflowID)
	e.mu.Unlock()
	return e.wfErr
}

func (e *fakeEngine) ParseRequirements(_ context.Context, text string) ([]Requirement, error) {
	return []Requirement{{ID: "REQ-1", Text: text, Priority: 2}}, nil
}

func (e *fakeEngine) Metrics(_ context.Context) (EngineMetrics, error) {
	if e.metricsErr != nil {
		return EngineMetrics{}, e.metricsErr
	}
	return e.metricsValue, nil
}

func (e *fakeEngine) Health(_ context.Context) (Health, error) {
	if e.healthErr != nil {
		return Health{}, e.healthErr
	}
	return Health{Healthy: true, Mode: ModeOrchestrated}, nil
}

func (e *fakeEngine) Shutdown(_ context.Context) error {
	e.mu.Lock()
	e.shutdownCalls++
	e.mu.Unlock()
	return e.shutdownErr
}

func (e *fakeEngine) counts() (tasks, batches, shutdowns int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.taskCalls, e.batchCalls, e.shutdownCalls
}

func factoryFor(engine Engine) EngineFactory {
	return func(EngineConfig) (Engine, error) { return engine, nil }
}

type fakeStore struct {
	mu         sync.Mutex
	readPaths  []string
	wrotePaths []string
	file       TaskFile
	readErr    error
	writeErr   error
}

func (s *fakeStore) ReadTasks(_ context.Context, path string) (TaskFile, error) {
	s.mu.Lock()
	s.readPaths = append(s.readPaths, path)
	s.mu.Unlock()
	if s.readErr != nil {
		return TaskFile{}, s.readErr
	}
	return s.file, nil
}

func (s *fakeStore) WriteTasks(_ context.Context, tasks []Task, path string) error {
	s.mu.Lock()
	s.wrotePaths = append(s.wrotePaths, path)
	s.mu.Unlock()
	return s.writeErr
}

func TestNewBridgeEnabled(t *testing.T) {
	engine := &fakeEngine{}
	bridge := NewBridge(Config{Engine: factoryFor(engine)})

	status := bridge.Status()
	if !status.OrchestrationEnabled {
		t.Error("OrchestrationEnabled = false, want true")
	}
	if status.Mode != ModeOrchestrated {
		t.Errorf("Mode = %s, want orchestrated", status.Mode)
	}
	if status.Engine != "fake" {
		t.Errorf("Engine = %q, want fake", status.Engine)
	}
	if status.InitErr != "" {
		t.Errorf("InitErr = %q, want empty", status.InitErr)
	}
}

func TestFactoryErrorDisablesOrchestration(t *testing.T) {
	bridge := NewBridge(Config{
		Engine: func(EngineConfig) (Engine, error) {
			return nil, errors.New("engine dependencies unavailable")
		},
	})

	status := bridge.Status()
	if status.OrchestrationEnabled {
		t.Error("OrchestrationEnabled = true, want false")
	}
	if status.InitErr != "engine dependencies unavailable" {
		t.Errorf("InitErr = %q, want factory error", status.InitErr)
	}

	// Task processing continues in basic mode.
	result, err := bridge.ProcessTask(context.Background(), Task{ID: "t1"})
	if err != nil {
		t.Fatalf("ProcessTask: %v", err)
	}
	if result.Mode != ModeBasic || result.Status != "processing" {
		t.Errorf("result = %+v, want basic/processing", result)
	}
	if result.TaskID != "t1" {
		t.Errorf("TaskID = %q, want t1", result.TaskID)
	}
}

func TestFactoryPanicDisablesOrchestration(t *testing.T) {
	bridge := NewBridge(Config{
		Engine: func(EngineConfig) (Engine, error) {
			panic("constructor exploded")
		},
	})

	status := bridge.Status()
	if status.OrchestrationEnabled {
		t.Error("OrchestrationEnabled = true, want false")
	}
	if status.InitErr == "" {
		t.Error("InitErr empty, want panic detail")
	}
	if bridge.Mode() != ModeBasic {
		t.Errorf("Mode = %s, want basic", bridge.Mode())
	}
}

func TestNilFactoryMeansBasicMode(t *testing.T) {
	bridge := NewBridge(Config{})
	status := bridge.Status()
	if status.OrchestrationEnabled {
		t.Error("OrchestrationEnabled = true, want false")
	}
	if status.InitErr != "no engine factory configured" {
		t.Errorf("InitErr = %q", status.InitErr)
	}
}

func TestFactoryReturningNilEngineDisables(t *testing.T) {
	bridge := NewBridge(Config{
		Engine: func(EngineConfig) (Engine, error) { return nil, nil },
	})
	if bridge.Status().OrchestrationEnabled {
		t.Error("OrchestrationEnabled = true, want false")
	}
}

func TestProcessTaskDelegates(t *testing.T) {
	engine := &fakeEngine{}
	bridge := NewBridge(Config{Engine: factoryFor(engine)})

	result, err := bridge.ProcessTask(context.Background(), Task{ID: "t1"})
	if err != nil {
		t.Fatalf("ProcessTask: %v", err)
	}
	if result.Mode != ModeOrchestrated || result.Status != string(TaskCompleted) {
		t.Errorf("result = %+v, want orchestrated/completed", result)
	}
	if tasks, _, _ := engine.counts(); tasks != 1 {
		t.Errorf("engine task calls = %d, want 1", tasks)
	}

	metrics := bridge.Metrics(context.Background())
	if metrics.TasksProcessed != 1 || metrics.BasicFallbacks != 0 {
		t.Errorf("metrics = %+v, want 1 processed, 0 fallbacks", metrics)
	}
}

func TestProcessTaskFallsBackPerCall(t *testing.T) {
	engine := &fakeEngine{taskErrs: []error{errors.New("worker pool saturated")}}
	bridge := NewBridge(Config{Engine: factoryFor(engine)})
	ctx := context.Background()

	// First call hits the engine error and degrades to basic.
	result, err := bridge.ProcessTask(ctx, Task{ID: "t1"})
	if err != nil {
		t.Fatalf("ProcessTask: %v", err)
	}
	if result.Mode != ModeBasic {
		t.Errorf("first result mode = %s, want basic", result.Mode)
	}

	// Orchestration stays enabled; the next call goes through.
	if !bridge.Status().OrchestrationEnabled {
		t.Fatal("orchestration disabled by a per-call failure")
	}
	result, err = bridge.ProcessTask(ctx, Task{ID: "t2"})
	if err != nil {
		t.Fatalf("ProcessTask: %v", err)
	}
	if result.Mode != ModeOrchestrated {
		t.Errorf("second result mode = %s, want orchestrated", result.Mode)
	}

	metrics := bridge.Metrics(ctx)
	if metrics.BasicFallbacks != 1 {
		t.Errorf("BasicFallbacks = %d, want 1", metrics.BasicFallbacks)
	}
	if metrics.TasksProcessed != 2 {
		t.Errorf("TasksProcessed = %d, want 2", metrics.TasksProcessed)
	}
}

func TestProcessTaskEnginePanicFallsBack(t *testing.T) {
	engine := &fakeEngine{panicNextTask: true}
	bridge := NewBridge(Config{Engine: factoryFor(engine)})

	result, err := bridge.ProcessTask(context.Background(), Task{ID: "t1"})
	if err != nil {
		t.Fatalf("ProcessTask: %v", err)
	}
	if result.Mode != ModeBasic {
		t.Errorf("result mode = %s, want basic", result.Mode)
	}
	if !bridge.Status().OrchestrationEnabled {
		t.Error("orchestration disabled by an engine panic")
	}
}

func TestProcessBatchDelegates(t *testing.T) {
	engine := &fakeEngine{}
	bridge := NewBridge(Config{Engine: factoryFor(engine)})

	tasks := []Task{{ID: "t1"}, {ID: "t2"}}
	items, err := bridge.ProcessBatch(context.Background(), tasks)
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("len(items) = %d, want 2", len(items))
	}
	for i, item := range items {
		if item.Status != BatchFulfilled || item.Value.Mode != ModeOrchestrated {
			t.Errorf("items[%d] = %+v, want fulfilled/orchestrated", i, item)
		}
	}
	if _, batches, _ := engine.counts(); batches != 1 {
		t.Errorf("engine batch calls = %d, want 1", batches)
	}
}

func TestProcessBatchFallsBackWholeBatch(t *testing.T) {
	engine := &fakeEngine{batchErr: errors.New("batch path broken")}
	bridge := NewBridge(Config{Engine: factoryFor(engine)})

	tasks := []Task{{ID: "t1"}, {ID: "t2"}, {ID: "t3"}}
	items, err := bridge.ProcessBatch(context.Background(), tasks)
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("len(items) = %d, want 3", len(items))
	}
	for i, item := range items {
		if item.Status != BatchFulfilled {
			t.Errorf("items[%d].Status = %s, want fulfilled", i, item.Status)
		}
		if item.Value.Mode != ModeBasic {
			t.Errorf("items[%d].Value.Mode = %s, want basic", i, item.Value.Mode)
		}
		if want := fmt.Sprintf("t%d", i+1); item.Value.TaskID != want {
			t.Errorf("items[%d].TaskID = %s, want %s (input order)", i, item.Value.TaskID, want)
		}
	}
	if got := bridge.Metrics(context.Background()).BasicFallbacks; got != 1 {
		t.Errorf("BasicFallbacks = %d, want 1", got)
	}
}

func TestProcessBatchBasicMode(t *testing.T) {
	bridge := NewBridge(Config{})

	items, err := bridge.ProcessBatch(context.Background(), []Task{{ID: "a"}, {ID: "b"}})
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("len(items) = %d, want 2", len(items))
	}
	for i, item := range items {
		if item.Status != BatchFulfilled || item.Value.Mode != ModeBasic {
			t.Errorf("items[%d] = %+v, want fulfilled/basic", i, item)
		}
	}
}

func TestWorkflowOperationsRequireEngine(t *testing.T) {
	bridge := NewBridge(Config{})
	ctx := context.Background()

	if _, err := bridge.WorkflowStatus(ctx, "wf1"); !IsError(err, ErrCodeOrchestrationDisabled) {
		t.Errorf("WorkflowStatus error = %v, want orchestration_disabled", err)
	}
	if err := bridge.CancelWorkflow(ctx, "wf1"); !IsError(err, ErrCodeOrchestrationDisabled) {
		t.Errorf("CancelWorkflow error = %v, want orchestration_disabled", err)
	}
	if _, err := bridge.ParseRequirements(ctx, "- do things"); !IsError(err, ErrCodeOrchestrationDisabled) {
		t.Errorf("ParseRequirements error = %v, want orchestration_disabled", err)
	}
}

func TestWorkflowOperationsDelegate(t *testing.T) {
	engine := &fakeEngine{}
	bridge := NewBridge(Config{Engine: factoryFor(engine)})
	ctx := context.Background()

	status, err := bridge.WorkflowStatus(ctx, "wf1")
	if err != nil {
		t.Fatalf("WorkflowStatus: %v", err)
	}
	if status.WorkflowID != "wf1" || status.TaskCount != 2 || !status.Active {
		t.Errorf("status = %+v", status)
	}

	if err := bridge.CancelWorkflow(ctx, "wf1"); err != nil {
		t.Fatalf("CancelWorkflow: %v", err)
	}
	if len(engine.cancelled) != 1 || engine.cancelled[0] != "wf1" {
		t.Errorf("cancelled = %v, want [wf1]", engine.cancelled)
	}

	reqs, err := bridge.ParseRequirements(ctx, "- add retry")
	if err != nil {
		t.Fatalf("ParseRequirements: %v", err)
	}
	if len(reqs) != 1 || reqs[0].Text != "- add retry" {
		t.Errorf("reqs = %+v", reqs)
	}
}

func TestHealth(t *testing.T) {
	ctx := context.Background()

	basic := NewBridge(Config{})
	health := basic.Health(ctx)
	want := Health{Healthy: true, Mode: ModeBasic, Detail: "orchestration disabled"}
	if health != want {
		t.Errorf("basic health = %+v, want %+v", health, want)
	}

	engine := &fakeEngine{}
	enabled := NewBridge(Config{Engine: factoryFor(engine)})
	health = enabled.Health(ctx)
	if !health.Healthy || health.Mode != ModeOrchestrated {
		t.Errorf("enabled health = %+v", health)
	}

	engine.healthErr = errors.New("supervisor saturated")
	health = enabled.Health(ctx)
	if health.Healthy {
		t.Error("Healthy = true with failing engine health")
	}
	if health.Detail != "supervisor saturated" {
		t.Errorf("Detail = %q", health.Detail)
	}
}

func TestMetricsIncludesEngine(t *testing.T) {
	engine := &fakeEngine{metricsValue: EngineMetrics{TasksProcessed: 42, ActiveWorkflows: 3}}
	bridge := NewBridge(Config{Engine: factoryFor(engine)})
	ctx := context.Background()

	metrics := bridge.Metrics(ctx)
	if metrics.Mode != ModeOrchestrated {
		t.Errorf("Mode = %s, want orchestrated", metrics.Mode)
	}
	if metrics.Engine.TasksProcessed != 42 || metrics.Engine.ActiveWorkflows != 3 {
		t.Errorf("Engine = %+v", metrics.Engine)
	}

	// An engine metrics failure zeroes the engine section, nothing
	// more.
	engine.metricsErr = errors.New("collector down")
	metrics = bridge.Metrics(ctx)
	if metrics.Engine.TasksProcessed != 0 {
		t.Errorf("Engine = %+v, want zero value", metrics.Engine)
	}
}

func TestStoreDelegation(t *testing.T) {
	store := &fakeStore{file: TaskFile{
		Tasks: []Task{{ID: "t1", Title: "ship it"}},
		Meta:  FileMeta{Path: "tasks.json", Count: 1},
	}}
	bridge := NewBridge(Config{Store: store})
	ctx := context.Background()

	file, err := bridge.ReadTasks(ctx, "tasks.json")
	if err != nil {
		t.Fatalf("ReadTasks: %v", err)
	}
	if len(file.Tasks) != 1 || file.Tasks[0].ID != "t1" {
		t.Errorf("file = %+v", file)
	}

	if err := bridge.WriteTasks(ctx, file.Tasks, "tasks.json"); err != nil {
		t.Fatalf("WriteTasks: %v", err)
	}
	if len(store.wrotePaths) != 1 || store.wrotePaths[0] != "tasks.json" {
		t.Errorf("wrotePaths = %v", store.wrotePaths)
	}

	// Store errors are wrapped, not swallowed.
	sentinel := errors.New("disk full")
	store.readErr = sentinel
	if _, err := bridge.ReadTasks(ctx, "tasks.json"); !errors.Is(err, sentinel) {
		t.Errorf("ReadTasks error = %v, want wrapped sentinel", err)
	}
	store.writeErr = sentinel
	if err := bridge.WriteTasks(ctx, nil, "tasks.json"); !errors.Is(err, sentinel) {
		t.Errorf("WriteTasks error = %v, want wrapped sentinel", err)
	}
}

func TestStoreMissing(t *testing.T) {
	bridge := NewBridge(Config{})
	ctx := context.Background()

	if _, err := bridge.ReadTasks(ctx, "tasks.json"); !IsError(err, ErrCodeInvalidState) {
		t.Errorf("ReadTasks error = %v, want invalid_state", err)
	}
	if err := bridge.WriteTasks(ctx, nil, "tasks.json"); !IsError(err, ErrCodeInvalidState) {
		t.Errorf("WriteTasks error = %v, want invalid_state", err)
	}
}

func TestShutdown(t *testing.T) {
	engine := &fakeEngine{}
	bridge := NewBridge(Config{Engine: factoryFor(engine)})
	ctx := context.Background()

	if err := bridge.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if _, _, shutdowns := engine.counts(); shutdowns != 1 {
		t.Errorf("engine shutdown calls = %d, want 1", shutdowns)
	}
	if bridge.Status().OrchestrationEnabled {
		t.Error("orchestration still enabled after Shutdown")
	}

	// The bridge keeps serving in basic mode.
	result, err := bridge.ProcessTask(ctx, Task{ID: "t1"})
	if err != nil {
		t.Fatalf("ProcessTask: %v", err)
	}
	if result.Mode != ModeBasic {
		t.Errorf("post-shutdown mode = %s, want basic", result.Mode)
	}

	// Idempotent.
	if err := bridge.Shutdown(ctx); err != nil {
		t.Errorf("second Shutdown = %v, want nil", err)
	}
	if _, _, shutdowns := engine.counts(); shutdowns != 1 {
		t.Errorf("engine shutdown calls after repeat = %d, want 1", shutdowns)
	}
}

func TestShutdownEngineError(t *testing.T) {
	engine := &fakeEngine{shutdownErr: errors.New("drain stuck")}
	bridge := NewBridge(Config{Engine: factoryFor(engine)})

	err := bridge.Shutdown(context.Background())
	if err == nil || !errors.Is(err, engine.shutdownErr) {
		t.Fatalf("Shutdown = %v, want wrapped engine error", err)
	}
	// Later calls stay nil; the engine is already torn down.
	if err := bridge.Shutdown(context.Background()); err != nil {
		t.Errorf("second Shutdown = %v, want nil", err)
	}
}
