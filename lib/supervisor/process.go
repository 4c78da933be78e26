// Copyright 2026 The Dirigent Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/dirigent-project/dirigent/lib/clock"
)

// maxProcessEvents bounds the per-process event ring. Older entries
// are evicted when the ring is full.
const maxProcessEvents = 100

// DefaultGroup is the group processes join when their spec names none.
const DefaultGroup = "default"

// RunFunc is the supervised body of a process. It runs in its own
// goroutine; the context is cancelled when the process times out or is
// force-stopped, and the function should return promptly once it is.
type RunFunc func(ctx context.Context) error

// StopObserver receives stop-signal observations for a process. A
// graceful stop calls OnStopSignal(true) and then waits for the
// RunFunc to return; a forced stop calls OnStopSignal(false) alongside
// cancelling the run context. The supervisor never terminates work by
// any other means, so an observer that ignores the signal only delays
// the outcome until the grace deadline escalates.
type StopObserver interface {
	OnStopSignal(graceful bool)
}

// ProcessSpec describes a process to create.
type ProcessSpec struct {
	// ID is the caller-supplied unique identifier. Required.
	ID string

	// Name is a human-readable label.
	Name string

	// Group names the process group; empty means DefaultGroup.
	Group string

	// ParentID links this process under an existing process. A forced
	// stop or timeout of the parent cascades to all descendants.
	ParentID string

	// Metadata is caller annotation, visible in ProcessInfo.
	Metadata map[string]any
}

// StartOptions carries the optional attributes of a Start call.
type StartOptions struct {
	// Timeout bounds the run. Zero means the supervisor's
	// DefaultTimeout; when that is also zero the run is unbounded.
	Timeout time.Duration

	// Observer, when set, receives stop-signal observations.
	Observer StopObserver
}

// ResourceUsage is advisory resource accounting reported by the
// process owner. It never affects lifecycle decisions.
type ResourceUsage struct {
	CPUPercent  float64 `json:"cpu_percent"`
	MemoryBytes uint64  `json:"memory_bytes"`
}

// ProcessEvent is one entry in a process's bounded event ring.
type ProcessEvent struct {
	ID      string         `json:"id"`
	Kind    string         `json:"kind"`
	Message string         `json:"message"`
	At      time.Time      `json:"at"`
	Fields  map[string]any `json:"fields,omitempty"`
}

// ProcessInfo is a read-only snapshot of one process. Slices and maps
// are copies; mutating them does not affect the supervisor.
type ProcessInfo struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Group      string         `json:"group"`
	ParentID   string         `json:"parent_id,omitempty"`
	ChildIDs   []string       `json:"child_ids,omitempty"`
	State      State          `json:"state"`
	CreatedAt  time.Time      `json:"created_at"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Heartbeat  time.Time      `json:"heartbeat"`
	Resources  ResourceUsage  `json:"resources"`
	Err        error          `json:"-"`
	Events     []ProcessEvent `json:"events,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// process is the supervisor-internal record. All fields are guarded by
// the supervisor mutex.
type process struct {
	id         string
	name       string
	group      string
	parentID   string
	childIDs   []string
	state      State
	createdAt  time.Time
	startedAt  time.Time
	finishedAt time.Time
	heartbeat  time.Time
	resources  ResourceUsage
	err        error
	events     []ProcessEvent
	metadata   map[string]any

	// seq breaks CreatedAt ties in creation order; the fake clock
	// collapses timestamps.
	seq uint64

	// Runtime state, populated by Start.
	cancel        context.CancelFunc
	timer         *clock.Timer
	timerStopped  bool
	observer      StopObserver
	lastStaleFlag time.Time
}

// appendEvent records an event in the bounded ring, evicting the
// oldest entry when full.
func (p *process) appendEvent(now time.Time, kind, message string, fields map[string]any) {
	entry := ProcessEvent{
		ID:      uuid.NewString(),
		Kind:    kind,
		Message: message,
		At:      now,
		Fields:  fields,
	}
	if len(p.events) >= maxProcessEvents {
		copy(p.events, p.events[1:])
		p.events[len(p.events)-1] = entry
		return
	}
	p.events = append(p.events, entry)
}

// snapshot deep-copies the record for external consumption.
func (p *process) snapshot() ProcessInfo {
	info := ProcessInfo{
		ID:         p.id,
		Name:       p.name,
		Group:      p.group,
		ParentID:   p.parentID,
		State:      p.state,
		CreatedAt:  p.createdAt,
		StartedAt:  p.startedAt,
		FinishedAt: p.finishedAt,
		Heartbeat:  p.heartbeat,
		Resources:  p.resources,
		Err:        p.err,
	}
	if len(p.childIDs) > 0 {
		info.ChildIDs = append([]string(nil), p.childIDs...)
	}
	if len(p.events) > 0 {
		info.Events = append([]ProcessEvent(nil), p.events...)
	}
	if len(p.metadata) > 0 {
		info.Metadata = make(map[string]any, len(p.metadata))
		for key, value := range p.metadata {
			info.Metadata[key] = value
		}
	}
	return info
}
