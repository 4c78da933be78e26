// Copyright 2026 The Dirigent Authors
// SPDX-License-Identifier: Apache-2.0

package event

import (
	"strings"
	"time"
)

// Priority classifies an event's urgency and orders listener
// execution. Any int is valid; the constants cover the common levels.
// Higher values run first.
type Priority int

// Standard priority levels.
const (
	PriorityLow      Priority = -10
	PriorityNormal   Priority = 0
	PriorityHigh     Priority = 10
	PriorityCritical Priority = 20
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "custom"
	}
}

// Severity classifies an event for filtering and display. It does not
// affect dispatch order.
type Severity string

// Standard severities.
const (
	SeverityDebug    Severity = "debug"
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Event is one occurrence published through the bus. Events are
// immutable once emitted: the bus and its consumers must not mutate
// Data or Metadata after Emit returns (the maps are shared, not
// copied).
type Event struct {
	// ID uniquely identifies this emission.
	ID string `json:"id"`

	// Type is the dot-separated topic, e.g. "task.created".
	Type string `json:"type"`

	// Category is the first dot-segment of Type ("task" for
	// "task.created"). For types without a dot it equals Type.
	Category string `json:"category"`

	// Data is the event payload.
	Data map[string]any `json:"data,omitempty"`

	// Timestamp is when the event was constructed by Emit.
	Timestamp time.Time `json:"timestamp"`

	// Priority is the emitter-assigned urgency.
	Priority Priority `json:"priority"`

	// Severity is the emitter-assigned severity. Defaults to
	// SeverityInfo.
	Severity Severity `json:"severity"`

	// Source names the component that emitted the event.
	Source string `json:"source,omitempty"`

	// Metadata carries emitter-defined annotations that are not part
	// of the payload proper.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// EmitOptions carries the optional attributes of an emission. The zero
// value is valid: normal priority, info severity, no source, no
// metadata.
type EmitOptions struct {
	Priority Priority
	Severity Severity
	Source   string
	Metadata map[string]any
}

// categoryOf derives the event category from its type: everything up
// to the first dot, or the whole type when it has none.
func categoryOf(eventType string) string {
	if i := strings.IndexByte(eventType, '.'); i >= 0 {
		return eventType[:i]
	}
	return eventType
}
