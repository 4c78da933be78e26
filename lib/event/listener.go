// Copyright 2026 The Dirigent Authors
// SPDX-License-Identifier: Apache-2.0

package event

import (
	"context"
	"time"
)

// Callback handles one delivered event. The context carries the
// emitter's context plus the listener's timeout deadline when one is
// configured; callbacks doing blocking work should honor ctx
// cancellation. A non-nil error marks the delivery failed but never
// aborts delivery to later listeners.
type Callback func(ctx context.Context, ev Event) error

// FilterFunc decides whether an event passes. Used both for global
// bus filters (false suppresses the event for everyone) and for
// per-listener filters (false skips that listener without counting an
// execution).
type FilterFunc func(ev Event) bool

// SubscribeOptions carries the optional attributes of a subscription.
// The zero value is valid: normal priority, no filter, bus default
// timeout, unlimited executions.
type SubscribeOptions struct {
	// Priority orders delivery among listeners matched by one event.
	// Higher runs first; ties run in subscription order.
	Priority int

	// Once removes the listener after its first counted execution.
	// SubscribeOnce sets this.
	Once bool

	// Filter, when set, is consulted per event. A false verdict skips
	// this listener without counting an execution.
	Filter FilterFunc

	// Context is caller state attached to the subscription, visible
	// in ListenerInfo. The bus does not interpret it.
	Context map[string]any

	// Timeout bounds one callback execution. Zero means the bus
	// default; negative disables the timeout for this listener.
	Timeout time.Duration

	// MaxExecutions removes the listener after this many counted
	// executions. Zero means unlimited.
	MaxExecutions int

	// Metadata is caller annotation for debugging and inspection.
	Metadata map[string]any
}

// listener is the bus-internal subscription record. All mutation
// happens under the bus mutex.
type listener struct {
	id             string
	pattern        Pattern
	callback       Callback
	once           bool
	priority       int
	filter         FilterFunc
	context        map[string]any
	timeout        time.Duration
	maxExecutions  int
	executionCount int
	addedAt        time.Time
	// seq breaks priority ties in subscription order. AddedAt cannot:
	// under the fake clock many subscriptions share one timestamp.
	seq      uint64
	metadata map[string]any
}

// ListenerInfo is a read-only snapshot of one subscription.
type ListenerInfo struct {
	ID             string         `json:"id"`
	Pattern        string         `json:"pattern"`
	Kind           PatternKind    `json:"kind"`
	Priority       int            `json:"priority"`
	Once           bool           `json:"once"`
	Timeout        time.Duration  `json:"timeout"`
	MaxExecutions  int            `json:"max_executions"`
	ExecutionCount int            `json:"execution_count"`
	AddedAt        time.Time      `json:"added_at"`
	Context        map[string]any `json:"context,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// info snapshots the listener for external consumption.
func (l *listener) info() ListenerInfo {
	return ListenerInfo{
		ID:             l.id,
		Pattern:        l.pattern.String(),
		Kind:           l.pattern.Kind(),
		Priority:       l.priority,
		Once:           l.once,
		Timeout:        l.timeout,
		MaxExecutions:  l.maxExecutions,
		ExecutionCount: l.executionCount,
		AddedAt:        l.addedAt,
		Context:        l.context,
		Metadata:       l.metadata,
	}
}
