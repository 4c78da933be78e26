// Copyright 2026 The Dirigent Authors
// SPDX-License-Identifier: Apache-2.0

// Package eventview implements the terminal UI for watching a Dirigent
// event stream. It renders a scrolling list of events with severity
// badges and timestamps, supports pausing, category filtering, and an
// inline detail pane for the selected event.
//
// The UI is a Bubble Tea model. Events arrive through the Source
// interface, which has two implementations: SocketSource streams live
// events from a daemon's wire socket (optionally recording them to a
// capture file), and ReplaySource reads a previously recorded capture.
//
// File structure:
//   - source.go: the Source interface
//   - socket.go: live streaming over the wire protocol
//   - replay.go: capture file playback
//   - model.go: the Bubble Tea model (update loop, rendering)
//   - keys.go: key bindings
//   - theme.go: colors
package eventview
