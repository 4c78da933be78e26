// Copyright 2026 The Dirigent Authors
// SPDX-License-Identifier: Apache-2.0

package event

import "sync"

// historyRing is a fixed-capacity circular buffer of emitted events
// with a monotonic sequence counter. The counter lets stream
// consumers (the wire relay) detect how many events they missed while
// disconnected.
//
// All methods are safe for concurrent use.
type historyRing struct {
	mutex    sync.Mutex
	events   []Event
	capacity int
	// writePosition is the next slot to write (0 to capacity-1).
	writePosition int
	// totalAppended counts every event ever appended. The buffer
	// holds the most recent min(totalAppended, capacity) events.
	totalAppended uint64
}

func newHistoryRing(capacity int) *historyRing {
	return &historyRing{
		events:   make([]Event, capacity),
		capacity: capacity,
	}
}

// append records an event, evicting the oldest when full.
func (ring *historyRing) append(ev Event) {
	ring.mutex.Lock()
	defer ring.mutex.Unlock()

	ring.events[ring.writePosition] = ev
	ring.writePosition = (ring.writePosition + 1) % ring.capacity
	ring.totalAppended++
}

// snapshot returns the retained events oldest-first.
func (ring *historyRing) snapshot() []Event {
	ring.mutex.Lock()
	defer ring.mutex.Unlock()

	stored := ring.totalAppended
	if stored > uint64(ring.capacity) {
		stored = uint64(ring.capacity)
	}

	result := make([]Event, 0, stored)
	start := (ring.writePosition - int(stored) + ring.capacity) % ring.capacity
	for i := 0; i < int(stored); i++ {
		result = append(result, ring.events[(start+i)%ring.capacity])
	}
	return result
}

// total returns the number of events ever appended.
func (ring *historyRing) total() uint64 {
	ring.mutex.Lock()
	defer ring.mutex.Unlock()
	return ring.totalAppended
}

// reset discards all retained events. The total counter is preserved:
// it counts appends over the ring's lifetime, not current occupancy.
func (ring *historyRing) reset() {
	ring.mutex.Lock()
	defer ring.mutex.Unlock()

	ring.events = make([]Event, ring.capacity)
	ring.writePosition = 0
}

// HistoryQuery selects events from the history ring. Zero-value
// fields match everything.
type HistoryQuery struct {
	// Type selects events with this exact type.
	Type string
	// Category selects events in this category.
	Category string
	// Limit caps the number of returned events. Zero means no cap.
	Limit int
}

// History returns retained events matching the query, newest first.
func (b *Bus) History(query HistoryQuery) []Event {
	all := b.history.snapshot()

	// Filter, then reverse to newest-first.
	matched := make([]Event, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		ev := all[i]
		if query.Type != "" && ev.Type != query.Type {
			continue
		}
		if query.Category != "" && ev.Category != query.Category {
			continue
		}
		matched = append(matched, ev)
		if query.Limit > 0 && len(matched) >= query.Limit {
			break
		}
	}
	return matched
}

// HistorySnapshot returns every retained event oldest-first along
// with the total number of events ever recorded. The wire relay uses
// this to build its backlog frame for newly connected clients.
func (b *Bus) HistorySnapshot() (events []Event, total uint64) {
	return b.history.snapshot(), b.history.total()
}
