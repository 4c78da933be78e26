// Copyright 2026 The Dirigent Authors
// SPDX-License-Identifier: Apache-2.0

package event

import (
	"sync"
	"sync/atomic"
)

// counters tracks bus activity. The scalar counters are atomics so
// the emit path never takes the bus mutex for accounting; the
// per-category map has its own lock.
type counters struct {
	emitted    atomic.Uint64
	delivered  atomic.Uint64
	suppressed atomic.Uint64
	failed     atomic.Uint64
	timedOut   atomic.Uint64
	dropped    atomic.Uint64

	mu         sync.Mutex
	byCategory map[string]uint64
}

func newCounters() *counters {
	return &counters{byCategory: make(map[string]uint64)}
}

func (c *counters) bumpCategory(category string) {
	c.mu.Lock()
	c.byCategory[category]++
	c.mu.Unlock()
}

func (c *counters) categorySnapshot() map[string]uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	snapshot := make(map[string]uint64, len(c.byCategory))
	for category, count := range c.byCategory {
		snapshot[category] = count
	}
	return snapshot
}

// Metrics is a point-in-time snapshot of bus activity. Counters are
// monotonic over the bus lifetime: Clear removes listeners and
// history but never resets counts.
type Metrics struct {
	// Emitted counts events accepted by Emit (including ones later
	// suppressed by a filter or middleware).
	Emitted uint64 `json:"emitted"`

	// Delivered counts callback executions that completed without
	// error.
	Delivered uint64 `json:"delivered"`

	// Suppressed counts events stopped by a global filter or
	// middleware verdict.
	Suppressed uint64 `json:"suppressed"`

	// Failed counts callback executions that returned an error or
	// panicked.
	Failed uint64 `json:"failed"`

	// TimedOut counts callback executions abandoned at their timeout
	// deadline.
	TimedOut uint64 `json:"timed_out"`

	// Dropped counts emissions discarded because the bus was paused.
	Dropped uint64 `json:"dropped"`

	// EmittedByCategory breaks Emitted down by event category.
	EmittedByCategory map[string]uint64 `json:"emitted_by_category"`

	// ExactListeners and WildcardListeners count current
	// subscriptions by pattern kind.
	ExactListeners    int `json:"exact_listeners"`
	WildcardListeners int `json:"wildcard_listeners"`

	// HistoryLength is the number of events currently retained.
	HistoryLength int `json:"history_length"`
}

// Metrics returns a snapshot of bus activity.
func (b *Bus) Metrics() Metrics {
	b.mu.RLock()
	exactCount := 0
	for _, listeners := range b.exact {
		exactCount += len(listeners)
	}
	wildcardCount := len(b.wildcard)
	b.mu.RUnlock()

	return Metrics{
		Emitted:           b.counters.emitted.Load(),
		Delivered:         b.counters.delivered.Load(),
		Suppressed:        b.counters.suppressed.Load(),
		Failed:            b.counters.failed.Load(),
		TimedOut:          b.counters.timedOut.Load(),
		Dropped:           b.counters.dropped.Load(),
		EmittedByCategory: b.counters.categorySnapshot(),
		ExactListeners:    exactCount,
		WildcardListeners: wildcardCount,
		HistoryLength:     len(b.history.snapshot()),
	}
}
