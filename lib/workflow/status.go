// Copyright 2026 The Dirigent Authors
// SPDX-License-Identifier: Apache-2.0

package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dirigent-project/dirigent/lib/orchestration"
	"github.com/dirigent-project/dirigent/lib/supervisor"
)

// WorkflowStatus summarizes the named workflow from its supervisor
// group. Unknown workflows yield a zero-count status, not an error.
func (e *Engine) WorkflowStatus(_ context.Context, workflowID string) (orchestration.WorkflowStatus, error) {
	group := e.supervisor.Group(GroupPrefix + workflowID)

	status := orchestration.WorkflowStatus{
		WorkflowID:   workflowID,
		TaskCount:    group.ProcessCount,
		StateCounts:  make(map[string]int),
		Active:       group.Status.HasRunning,
		AllCompleted: group.Status.AllCompleted,
		HasErrors:    group.Status.HasErrors,
	}
	for state, count := range group.Status.StateCounts {
		status.StateCounts[state.String()] = count
	}
	return status, nil
}

// CancelWorkflow gracefully stops every started task in the workflow;
// stops escalate to forced per the supervisor's grace period.
func (e *Engine) CancelWorkflow(ctx context.Context, workflowID string) error {
	e.logger.Info("cancelling workflow", "workflow_id", workflowID)
	if err := e.supervisor.StopGroup(ctx, GroupPrefix+workflowID, false); err != nil {
		return fmt.Errorf("workflow: cancelling %s: %w", workflowID, err)
	}
	return nil
}

// activeWorkflows counts workflow groups with at least one
// non-terminal member.
func (e *Engine) activeWorkflows() int {
	active := make(map[string]struct{})
	for _, info := range e.supervisor.List(supervisor.Filter{}) {
		if !strings.HasPrefix(info.Group, GroupPrefix) {
			continue
		}
		if !info.State.Terminal() {
			active[info.Group] = struct{}{}
		}
	}
	return len(active)
}

// Metrics reports engine activity from its own counters plus the
// supervisor and bus populations.
func (e *Engine) Metrics(_ context.Context) (orchestration.EngineMetrics, error) {
	stats := e.supervisor.Statistics()
	busMetrics := e.bus.Metrics()
	return orchestration.EngineMetrics{
		TasksProcessed:  e.tasksProcessed.Load(),
		TasksFailed:     e.tasksFailed.Load(),
		ActiveWorkflows: e.activeWorkflows(),
		Detail: map[string]any{
			"processes_tracked": stats.Total,
			"events_emitted":    busMetrics.Emitted,
		},
	}, nil
}

// Health reports engine liveness.
func (e *Engine) Health(_ context.Context) (orchestration.Health, error) {
	if e.closed.Load() {
		return orchestration.Health{
			Healthy: false,
			Mode:    orchestration.ModeOrchestrated,
			Detail:  "engine shut down",
		}, nil
	}
	return orchestration.Health{
		Healthy: true,
		Mode:    orchestration.ModeOrchestrated,
		Detail:  fmt.Sprintf("%d active workflows", e.activeWorkflows()),
	}, nil
}

// Shutdown stops accepting tasks and force-stops every active
// workflow group. The supervisor itself belongs to its owner and is
// left running. Idempotent.
func (e *Engine) Shutdown(ctx context.Context) error {
	if e.closed.Swap(true) {
		return nil
	}

	groups := make(map[string]struct{})
	for _, info := range e.supervisor.List(supervisor.Filter{}) {
		if strings.HasPrefix(info.Group, GroupPrefix) && !info.State.Terminal() {
			groups[info.Group] = struct{}{}
		}
	}
	e.logger.Info("workflow engine shutting down", "active_groups", len(groups))

	var errs []error
	for group := range groups {
		if err := e.supervisor.StopGroup(ctx, group, true); err != nil {
			errs = append(errs, fmt.Errorf("workflow: stopping group %s: %w", group, err))
		}
	}
	return errors.Join(errs...)
}
