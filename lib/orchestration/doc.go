// Copyright 2026 The Dirigent Authors
// SPDX-License-Identifier: Apache-2.0

// Package orchestration decides, per call, whether task processing
// goes through the full orchestration engine or a degraded basic
// path, without ever crashing the caller.
//
// The package owns the collaborator contracts: Engine (the full
// engine, implemented by lib/workflow), EngineFactory (injected
// construction), and TaskStore (persistence, implemented by
// lib/taskstore). The Bridge composes them with two failure scopes:
// construction failures disable orchestration permanently, per-call
// engine failures fall back to basic for that call only.
package orchestration
