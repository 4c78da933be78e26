// Copyright 2026 The Dirigent Authors
// SPDX-License-Identifier: Apache-2.0

// Package telemetry provides an injected span and metric emitter.
//
// Components receive a *Emitter through their Config rather than
// reaching for a process-global collector. A nil emitter is fully
// functional (every method no-ops), so wiring telemetry is always
// optional and call sites never nil-check.
//
// The emitter buffers records in memory and flushes them to a
// caller-supplied Sink on a clock-driven interval. The default
// LogSink summarizes batches through slog; daemons that ship records
// elsewhere provide their own Sink.
package telemetry
