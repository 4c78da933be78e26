// Copyright 2026 The Dirigent Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time abstraction for testability.
//
// Production code accepts a Clock interface parameter instead of calling
// time.Now, time.After, time.NewTimer, time.NewTicker, time.AfterFunc,
// or time.Sleep directly. In production, Real() provides the standard
// library behavior. In tests, Fake() provides a deterministic clock
// that advances only when Advance is called.
//
// # Wiring Pattern
//
// Add a Clock field to structs that use time:
//
//	type Bus struct {
//	    clock clock.Clock
//	    // ...
//	}
//
// In production:
//
//	b := &Bus{clock: clock.Real()}
//
// In tests:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	b := &Bus{clock: c}
//	// ... start goroutines ...
//	c.WaitForTimers(1) // wait for goroutine to register a timer
//	c.Advance(30 * time.Second)
//
// WaitForTimers removes the race between a goroutine registering a
// timer and the test advancing the clock past its deadline. PendingCount
// lets tests assert that stopped timers were actually released.
package clock
