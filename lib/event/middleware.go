// Copyright 2026 The Dirigent Authors
// SPDX-License-Identifier: Apache-2.0

package event

import "sort"

// Middleware observes and transforms every event that passes the
// global filters, before listener matching. Returning false from Fn
// suppresses the event: no listener runs, and the emit result records
// which middleware stopped it.
//
// Middleware runs in descending Priority order; ties run in
// registration order. The bus preserves event identity across
// transforms: ID, Type, Category, and Timestamp from the original
// emission always survive, so middleware can reshape Data, Metadata,
// Severity, and Priority but cannot reroute an event. Transform maps
// by replacing them, not mutating them in place: the originals are
// shared with the history ring.
type Middleware struct {
	// Name identifies the middleware for removal and for the
	// SuppressedBy field of emit results. Required, unique.
	Name string

	// Priority orders the chain. Higher runs first.
	Priority int

	// Fn receives the event and returns the (possibly transformed)
	// event plus a pass verdict.
	Fn func(ev Event) (Event, bool)
}

// AddMiddleware registers a middleware in the chain. Fails with
// InvalidState if the name is empty, Fn is nil, or the name is
// already registered.
func (b *Bus) AddMiddleware(mw Middleware) error {
	if mw.Name == "" {
		return errorf(ErrCodeInvalidState, "middleware name is required")
	}
	if mw.Fn == nil {
		return errorf(ErrCodeInvalidState, "middleware %q: Fn is required", mw.Name)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, existing := range b.middleware {
		if existing.Name == mw.Name {
			return errorf(ErrCodeInvalidState, "middleware %q already registered", mw.Name)
		}
	}

	// Insert before the first lower-priority entry so ties keep
	// registration order.
	position := len(b.middleware)
	for i, existing := range b.middleware {
		if existing.Priority < mw.Priority {
			position = i
			break
		}
	}
	b.middleware = append(b.middleware, Middleware{})
	copy(b.middleware[position+1:], b.middleware[position:])
	b.middleware[position] = mw
	return nil
}

// RemoveMiddleware removes the named middleware. Fails with NotFound
// if no middleware has that name.
func (b *Bus) RemoveMiddleware(name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, existing := range b.middleware {
		if existing.Name == name {
			b.middleware = append(b.middleware[:i], b.middleware[i+1:]...)
			return nil
		}
	}
	return errorf(ErrCodeNotFound, "middleware %q not registered", name)
}

// AddFilter registers a named global filter. Every emitted event must
// pass every filter before middleware and listeners see it; a false
// verdict suppresses the event. Fails with InvalidState if the name
// is empty, the filter is nil, or the name is already registered.
func (b *Bus) AddFilter(name string, filter FilterFunc) error {
	if name == "" {
		return errorf(ErrCodeInvalidState, "filter name is required")
	}
	if filter == nil {
		return errorf(ErrCodeInvalidState, "filter %q: filter func is required", name)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.filters[name]; exists {
		return errorf(ErrCodeInvalidState, "filter %q already registered", name)
	}
	b.filters[name] = filter
	return nil
}

// RemoveFilter removes the named global filter. Fails with NotFound
// if no filter has that name.
func (b *Bus) RemoveFilter(name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.filters[name]; !exists {
		return errorf(ErrCodeNotFound, "filter %q not registered", name)
	}
	delete(b.filters, name)
	return nil
}

// filterSnapshot returns the current filters as (name, func) pairs in
// name order. Filters have no priority field, so name order makes the
// evaluation sequence deterministic.
func (b *Bus) filterSnapshot() []namedFilter {
	b.mu.RLock()
	defer b.mu.RUnlock()

	snapshot := make([]namedFilter, 0, len(b.filters))
	for name, filter := range b.filters {
		snapshot = append(snapshot, namedFilter{name: name, filter: filter})
	}
	sort.Slice(snapshot, func(i, j int) bool { return snapshot[i].name < snapshot[j].name })
	return snapshot
}

type namedFilter struct {
	name   string
	filter FilterFunc
}

// middlewareSnapshot returns the middleware chain in execution order.
func (b *Bus) middlewareSnapshot() []Middleware {
	b.mu.RLock()
	defer b.mu.RUnlock()

	snapshot := make([]Middleware, len(b.middleware))
	copy(snapshot, b.middleware)
	return snapshot
}
