// Copyright 2026 The Dirigent Authors
// SPDX-License-Identifier: Apache-2.0

package eventview

import "github.com/dirigent-project/dirigent/lib/event"

// Source supplies events to the viewer. A source has two phases: a
// backlog of events that existed before the viewer attached, and a
// live channel of events arriving afterwards.
type Source interface {
	// Backlog returns the events that preceded the live stream, oldest
	// first. Called once, before the first read from Events.
	Backlog() []event.Event

	// Events returns the live event channel. The channel is closed when
	// the source ends (server shutdown, end of capture). A source with
	// no live phase returns nil.
	Events() <-chan event.Event

	// Err reports why the live channel closed. It returns nil for a
	// clean end of stream and is meaningful only after Events is
	// closed.
	Err() error

	// Close releases the source's resources. Safe to call more than
	// once.
	Close() error
}
