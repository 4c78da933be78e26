// Copyright 2026 The Dirigent Authors
// SPDX-License-Identifier: Apache-2.0

// Package supervisor tracks long-running units of work through a typed
// lifecycle: created → starting → running → completed/failed/timeout,
// with a stopping → stopped path for requested shutdown.
//
// A process is a supervised goroutine, not an OS process. The
// supervisor bounds runs with cancellable timeouts, links processes
// into parent/child trees whose forced stops cascade children-first,
// groups them for collective queries and stops, records advisory
// heartbeats and resource usage, and retains finished runs for a
// bounded period. Lifecycle transitions are published to an event bus
// under the "process" category when one is attached.
//
// The supervisor never kills work: stopping a process means signalling
// it (observer notification, context cancellation) and accounting for
// the outcome. A RunFunc that ignores its context simply leaks until
// it returns; its process record is already terminal.
package supervisor
