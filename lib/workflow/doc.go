// Copyright 2026 The Dirigent Authors
// SPDX-License-Identifier: Apache-2.0

// Package workflow is the in-process orchestration engine: it runs
// each task as a supervised process in a per-workflow group, publishes
// task lifecycle events on the bus, and answers workflow queries from
// the supervisor's group view.
//
// The engine implements orchestration.Engine and is normally reached
// through an orchestration.Bridge. Task bodies run through a pluggable
// Runner; the default simulates work, ExecRunner shells out.
package workflow
