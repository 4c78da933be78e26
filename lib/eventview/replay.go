// Copyright 2026 The Dirigent Authors
// SPDX-License-Identifier: Apache-2.0

package eventview

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/dirigent-project/dirigent/lib/codec"
	"github.com/dirigent-project/dirigent/lib/event"
)

// ReplaySource plays back a capture file written by a recording
// SocketSource. All events are presented as backlog; there is no live
// phase.
type ReplaySource struct {
	events []event.Event
}

// OpenReplay reads the capture file at path. The file is a bare
// concatenation of CBOR-encoded events; a partial trailing record
// (from a viewer killed mid-write) truncates the capture at the last
// complete event rather than failing.
func OpenReplay(path string) (*ReplaySource, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("eventview: opening capture: %w", err)
	}
	defer file.Close()

	decoder := codec.NewDecoder(file)
	var events []event.Event
	for {
		var ev event.Event
		if err := decoder.Decode(&ev); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return nil, fmt.Errorf("eventview: reading capture %s: %w", path, err)
		}
		events = append(events, ev)
	}
	return &ReplaySource{events: events}, nil
}

// Backlog returns every event in the capture, in recorded order.
func (s *ReplaySource) Backlog() []event.Event {
	return s.events
}

// Events returns nil: a capture has no live phase.
func (s *ReplaySource) Events() <-chan event.Event {
	return nil
}

// Err always returns nil.
func (s *ReplaySource) Err() error {
	return nil
}

// Close is a no-op.
func (s *ReplaySource) Close() error {
	return nil
}
