// Copyright 2026 The Dirigent Authors
// SPDX-License-Identifier: Apache-2.0

// Package event provides the publish/subscribe backbone that connects
// dirigent's components: a synchronous in-process bus with pattern
// subscriptions, priority-ordered delivery, a transforming middleware
// chain, global filters, bounded history, and per-listener timeouts.
//
// Topics are dot-separated strings ("task.created",
// "process.heartbeat.stale"); an event's category is its first
// segment. Subscriptions name a Pattern (exact, glob, or regex) and
// receive every matching event in one strictly sequential pass per
// emit, highest priority first.
//
// Delivery is synchronous: Emit returns after every matching listener
// ran (or was abandoned at its timeout deadline). Listener errors and
// panics are contained in the emit result and republished as
// "error.listener_execution" events; they never propagate to the
// emitter.
package event
