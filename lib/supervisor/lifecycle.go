// Copyright 2026 The Dirigent Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"context"
	"fmt"
	"time"

	"github.com/dirigent-project/dirigent/lib/event"
	"github.com/dirigent-project/dirigent/lib/telemetry"
)

// Create registers a new process in the created state. The ID must be
// unique among tracked processes; the total tracked count (retained
// terminal processes included) must be under MaxProcesses. A parent,
// when named, must already be tracked and gains a child link.
func (s *Supervisor) Create(spec ProcessSpec) (ProcessInfo, error) {
	if spec.ID == "" {
		return ProcessInfo{}, errorf(ErrCodeInvalidState, "process ID is required")
	}
	group := spec.Group
	if group == "" {
		group = DefaultGroup
	}

	s.mu.Lock()
	if _, exists := s.processes[spec.ID]; exists {
		s.mu.Unlock()
		return ProcessInfo{}, errorf(ErrCodeInvalidState, "process %q already exists", spec.ID)
	}
	if len(s.processes) >= s.maxProcesses {
		s.mu.Unlock()
		return ProcessInfo{}, errorf(ErrCodeCapacityExceeded,
			"process capacity %d reached", s.maxProcesses)
	}
	var parent *process
	if spec.ParentID != "" {
		var ok bool
		parent, ok = s.processes[spec.ParentID]
		if !ok {
			s.mu.Unlock()
			return ProcessInfo{}, errorf(ErrCodeNotFound,
				"parent process %q not tracked", spec.ParentID)
		}
	}

	p := &process{
		id:        spec.ID,
		name:      spec.Name,
		group:     group,
		parentID:  spec.ParentID,
		state:     StateCreated,
		createdAt: s.clock.Now(),
		seq:       s.seq,
	}
	if len(spec.Metadata) > 0 {
		p.metadata = make(map[string]any, len(spec.Metadata))
		for key, value := range spec.Metadata {
			p.metadata[key] = value
		}
	}
	s.seq++
	s.processes[spec.ID] = p
	if parent != nil {
		parent.childIDs = append(parent.childIDs, spec.ID)
	}
	info := p.snapshot()
	s.mu.Unlock()

	s.logger.Debug("process created",
		"process_id", spec.ID, "group", group, "parent_id", spec.ParentID)
	s.emitNotes(context.Background(), []busNote{{
		eventType: "process.created",
		severity:  event.SeverityInfo,
		data: map[string]any{
			"process_id": spec.ID,
			"name":       spec.Name,
			"group":      group,
			"parent_id":  spec.ParentID,
		},
	}})
	return info, nil
}

// Start launches the supervised function for a created process,
// transitioning it created → starting → running. The function runs in
// its own goroutine; its context detaches from the caller's
// cancellation but keeps its values, and is cancelled on timeout or
// forced stop.
//
// The effective timeout is opts.Timeout, else the supervisor default;
// a negative opts.Timeout leaves the run unbounded even when a default
// exists.
func (s *Supervisor) Start(ctx context.Context, id string, fn RunFunc, opts StartOptions) error {
	if fn == nil {
		return errorf(ErrCodeInvalidState, "run function is required")
	}

	s.mu.Lock()
	p, ok := s.processes[id]
	if !ok {
		s.mu.Unlock()
		return errorf(ErrCodeNotFound, "process %q not tracked", id)
	}
	if p.state != StateCreated {
		s.mu.Unlock()
		return errorf(ErrCodeInvalidState,
			"process %q cannot start from state %s", id, p.state)
	}

	now := s.clock.Now()
	p.state = StateStarting
	p.startedAt = now
	p.heartbeat = now

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p.cancel = cancel
	p.observer = opts.Observer

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = s.defaultTimeout
	}
	if timeout > 0 {
		p.timer = s.clock.AfterFunc(timeout, func() { s.handleTimeout(id, timeout) })
	}

	p.state = StateRunning
	s.stats.started++
	name, group := p.name, p.group
	s.mu.Unlock()

	s.logger.Info("process started",
		"process_id", id, "group", group, "timeout", timeout)
	s.emitNotes(ctx, []busNote{{
		eventType: "process.started",
		severity:  event.SeverityInfo,
		data: map[string]any{
			"process_id": id,
			"name":       name,
			"group":      group,
		},
	}})

	go func() {
		s.finish(id, runProtected(runCtx, fn))
	}()
	return nil
}

// runProtected executes the supervised function, converting a panic
// into an ExecutionError.
func runProtected(ctx context.Context, fn RunFunc) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = errorf(ErrCodeExecutionError, "process panic: %v", recovered)
		}
	}()
	return fn(ctx)
}

// finish settles a process after its RunFunc returns. A run that was
// already settled by a timeout or forced stop is left untouched; the
// timer is cleared exactly once across all paths.
func (s *Supervisor) finish(id string, runErr error) {
	s.mu.Lock()
	p, ok := s.processes[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	s.stopTimerLocked(p)
	if p.state.Terminal() {
		s.mu.Unlock()
		return
	}

	now := s.clock.Now()
	p.finishedAt = now
	var note busNote
	switch {
	case p.state == StateStopping:
		p.state = StateStopped
		if runErr != nil && p.err == nil {
			p.err = runErr
		}
		note = busNote{
			eventType: "process.stopped",
			severity:  event.SeverityInfo,
			data: map[string]any{
				"process_id": id,
				"name":       p.name,
				"group":      p.group,
				"forced":     false,
			},
		}
	case runErr != nil:
		p.state = StateFailed
		p.err = runErr
		p.appendEvent(now, "error", runErr.Error(), nil)
		s.stats.failed++
		note = busNote{
			eventType: "process.failed",
			severity:  event.SeverityError,
			data: map[string]any{
				"process_id": id,
				"name":       p.name,
				"group":      p.group,
				"error":      runErr.Error(),
			},
		}
	default:
		p.state = StateCompleted
		s.stats.completed++
		note = busNote{
			eventType: "process.completed",
			severity:  event.SeverityInfo,
			data: map[string]any{
				"process_id":  id,
				"name":        p.name,
				"group":       p.group,
				"duration_ms": now.Sub(p.startedAt).Milliseconds(),
			},
		}
	}
	finalState := p.state
	s.recordRunSpan(p)
	s.mu.Unlock()

	if finalState == StateFailed {
		s.logger.Warn("process failed", "process_id", id, "error", runErr)
	} else {
		s.logger.Info("process finished", "process_id", id, "state", finalState)
	}
	s.emitNotes(context.Background(), []busNote{note})
}

// handleTimeout fires when a process exceeds its run timeout. The
// process is marked timeout and forcibly stopped: kill signal, run
// context cancelled, descendants force-stopped children-first.
func (s *Supervisor) handleTimeout(id string, timeout time.Duration) {
	s.mu.Lock()
	p, ok := s.processes[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	p.timerStopped = true
	if p.state.Terminal() {
		s.mu.Unlock()
		return
	}

	var notes []busNote
	var signals []stopSignal

	if p.state == StateStopping {
		// A graceful stop is already winding this process down; the
		// deadline converts it to a forced stop rather than a timeout.
		s.forceStopLocked(p, &notes, &signals)
		s.mu.Unlock()
		dispatchStopSignals(signals)
		s.emitNotes(context.Background(), notes)
		return
	}

	now := s.clock.Now()
	p.state = StateTimeout
	p.err = errorf(ErrCodeTimeout, "process %q exceeded %v timeout", id, timeout)
	p.finishedAt = now
	p.appendEvent(now, "timeout", fmt.Sprintf("exceeded %v timeout", timeout), nil)
	s.stats.timedOut++
	notes = append(notes, busNote{
		eventType: "process.timeout",
		severity:  event.SeverityError,
		data: map[string]any{
			"process_id": id,
			"name":       p.name,
			"group":      p.group,
			"timeout":    timeout.String(),
		},
	})

	for _, childID := range p.childIDs {
		if child, ok := s.processes[childID]; ok && !child.state.Terminal() {
			s.forceStopLocked(child, &notes, &signals)
		}
	}
	p.appendEvent(now, "kill-signal", "forced stop after timeout", nil)
	if p.observer != nil {
		signals = append(signals, stopSignal{observer: p.observer, graceful: false})
	}
	if p.cancel != nil {
		p.cancel()
	}
	s.recordRunSpan(p)
	s.mu.Unlock()

	s.logger.Warn("process timed out", "process_id", id, "timeout", timeout)
	dispatchStopSignals(signals)
	s.emitNotes(context.Background(), notes)
}

// Stop terminates a started process. Terminal processes are a no-op
// success; created ones cannot be stopped.
//
// A graceful stop (force false) signals the process, with a
// stop-signal event plus an observer notification, then polls for the
// RunFunc to return, escalating to a forced stop when the grace
// period elapses. Cancelling ctx abandons the grace wait and
// escalates immediately.
//
// A forced stop cancels the run context after force-stopping every
// non-terminal descendant, children before parents.
func (s *Supervisor) Stop(ctx context.Context, id string, force bool) error {
	s.mu.Lock()
	p, ok := s.processes[id]
	if !ok {
		s.mu.Unlock()
		return errorf(ErrCodeNotFound, "process %q not tracked", id)
	}
	if p.state.Terminal() {
		s.mu.Unlock()
		return nil
	}
	if p.state == StateCreated {
		s.mu.Unlock()
		return errorf(ErrCodeInvalidState, "process %q was never started", id)
	}

	if force {
		var notes []busNote
		var signals []stopSignal
		s.forceStopLocked(p, &notes, &signals)
		s.mu.Unlock()
		dispatchStopSignals(signals)
		s.emitNotes(ctx, notes)
		return nil
	}

	var notes []busNote
	var signals []stopSignal
	if p.state != StateStopping {
		p.state = StateStopping
		p.appendEvent(s.clock.Now(), "stop-signal", "graceful stop requested", nil)
		if p.observer != nil {
			signals = append(signals, stopSignal{observer: p.observer, graceful: true})
		}
		notes = append(notes, busNote{
			eventType: "process.stopping",
			severity:  event.SeverityInfo,
			data: map[string]any{
				"process_id": id,
				"name":       p.name,
				"group":      p.group,
			},
		})
	}
	s.mu.Unlock()
	dispatchStopSignals(signals)
	s.emitNotes(ctx, notes)

	deadline := s.clock.Now().Add(s.gracefulShutdownTimeout)
	ticker := s.clock.NewTicker(stopPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			// The caller is done waiting; force now so the process
			// still ends up terminal.
			s.logger.Debug("grace wait cancelled, forcing stop", "process_id", id)
			return s.Stop(context.WithoutCancel(ctx), id, true)
		case <-ticker.C:
		}

		s.mu.Lock()
		terminal := p.state.Terminal()
		s.mu.Unlock()
		if terminal {
			return nil
		}
		if !s.clock.Now().Before(deadline) {
			break
		}
	}

	s.logger.Warn("grace period elapsed, forcing stop",
		"process_id", id, "grace", s.gracefulShutdownTimeout)
	s.mu.Lock()
	p.appendEvent(s.clock.Now(), "stop-escalated", "grace period elapsed", nil)
	s.mu.Unlock()
	return s.Stop(ctx, id, true)
}

// forceStopLocked force-stops p and all its non-terminal descendants,
// deepest first. Must be called with s.mu held; the collected notes
// and signals are delivered by the caller after release.
func (s *Supervisor) forceStopLocked(p *process, notes *[]busNote, signals *[]stopSignal) {
	for _, childID := range p.childIDs {
		if child, ok := s.processes[childID]; ok && !child.state.Terminal() {
			s.forceStopLocked(child, notes, signals)
		}
	}
	if p.state.Terminal() {
		return
	}

	now := s.clock.Now()
	p.appendEvent(now, "kill-signal", "forced stop", nil)
	if p.observer != nil {
		*signals = append(*signals, stopSignal{observer: p.observer, graceful: false})
	}
	s.stopTimerLocked(p)
	if p.cancel != nil {
		p.cancel()
	}
	p.state = StateStopped
	p.finishedAt = now
	s.stats.forcedStops++
	s.recordRunSpan(p)
	*notes = append(*notes, busNote{
		eventType: "process.stopped",
		severity:  event.SeverityInfo,
		data: map[string]any{
			"process_id": p.id,
			"name":       p.name,
			"group":      p.group,
			"forced":     true,
		},
	})
}

// stopTimerLocked clears the timeout timer exactly once across the
// completion, stop, and timeout paths. Must be called with s.mu held.
func (s *Supervisor) stopTimerLocked(p *process) {
	if p.timer != nil && !p.timerStopped {
		p.timer.Stop()
		p.timerStopped = true
	}
}

// recordRunSpan reports a finished run to telemetry. Must be called
// with s.mu held, after the terminal transition. Runs that never
// started record nothing.
func (s *Supervisor) recordRunSpan(p *process) {
	if p.startedAt.IsZero() {
		return
	}
	s.telemetry.RecordSpan(telemetry.Span{
		Operation: "process.run",
		StartTime: p.startedAt,
		Duration:  p.finishedAt.Sub(p.startedAt),
		Status:    p.state.String(),
		Attributes: map[string]any{
			"process_id": p.id,
			"group":      p.group,
		},
	})
}

// Heartbeat records liveness for a process. Advisory: it never changes
// state.
func (s *Supervisor) Heartbeat(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.processes[id]
	if !ok {
		return errorf(ErrCodeNotFound, "process %q not tracked", id)
	}
	p.heartbeat = s.clock.Now()
	return nil
}

// UpdateResources records advisory resource usage for a process.
func (s *Supervisor) UpdateResources(id string, usage ResourceUsage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.processes[id]
	if !ok {
		return errorf(ErrCodeNotFound, "process %q not tracked", id)
	}
	p.resources = usage
	return nil
}

// AddEvent appends a caller-supplied entry to the process's bounded
// event ring.
func (s *Supervisor) AddEvent(id, kind, message string, fields map[string]any) error {
	if kind == "" {
		return errorf(ErrCodeInvalidState, "event kind is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.processes[id]
	if !ok {
		return errorf(ErrCodeNotFound, "process %q not tracked", id)
	}
	p.appendEvent(s.clock.Now(), kind, message, fields)
	return nil
}

// Get returns a snapshot of one process.
func (s *Supervisor) Get(id string) (ProcessInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.processes[id]
	if !ok {
		return ProcessInfo{}, errorf(ErrCodeNotFound, "process %q not tracked", id)
	}
	return p.snapshot(), nil
}
