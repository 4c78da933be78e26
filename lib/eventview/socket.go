// Copyright 2026 The Dirigent Authors
// SPDX-License-Identifier: Apache-2.0

package eventview

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dirigent-project/dirigent/lib/codec"
	"github.com/dirigent-project/dirigent/lib/event"
	"github.com/dirigent-project/dirigent/lib/wire"
)

// backlogTimeout bounds the wait for the server's backlog frame after
// the handshake. The server sends it immediately, so a slow backlog
// means a broken peer.
const backlogTimeout = 10 * time.Second

// SocketSource streams live events from a daemon's wire socket. It
// implements Source: the server's history replay becomes the backlog
// and subsequent event frames feed the live channel.
//
// When a record path is given, every received event (backlog included)
// is appended to that file as a CBOR stream readable by OpenReplay.
type SocketSource struct {
	client  *wire.Client
	backlog []event.Event
	events  chan event.Event

	recordFile *os.File
	encoder    *codec.Encoder

	stop      chan struct{}
	done      chan struct{}
	closed    atomic.Bool
	closeOnce sync.Once

	mu        sync.Mutex
	err       error
	recordErr error
}

// DialSocket connects to the wire socket at path and consumes the
// handshake. If recordPath is non-empty the received events are also
// written there as a capture file; an existing file is truncated.
func DialSocket(path, recordPath string) (*SocketSource, error) {
	client, err := wire.Dial(path)
	if err != nil {
		return nil, err
	}

	source := &SocketSource{
		client: client,
		events: make(chan event.Event, 64),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}

	if recordPath != "" {
		file, err := os.Create(recordPath)
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("eventview: creating capture %s: %w", recordPath, err)
		}
		source.recordFile = file
		source.encoder = codec.NewEncoder(file)
	}

	// The server sends the backlog frame right after the hello, before
	// any live events, so the first frame is always the backlog.
	ctx, cancel := context.WithTimeout(context.Background(), backlogTimeout)
	defer cancel()
	frame, err := client.Next(ctx)
	if err != nil {
		source.cleanup()
		return nil, fmt.Errorf("eventview: reading backlog: %w", err)
	}
	if frame.Type != wire.FrameBacklog || frame.Backlog == nil {
		source.cleanup()
		return nil, fmt.Errorf("eventview: expected backlog frame, got %s", frame.Type)
	}
	source.backlog = frame.Backlog
	for _, ev := range source.backlog {
		source.record(ev)
	}

	go source.pump()
	return source, nil
}

// Backlog returns the server's history replay, oldest first.
func (s *SocketSource) Backlog() []event.Event {
	return s.backlog
}

// Events returns the live event channel.
func (s *SocketSource) Events() <-chan event.Event {
	return s.events
}

// Err reports why the live channel closed. Closing the source locally
// is a clean end of stream.
func (s *SocketSource) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// RecordErr reports the first capture write failure, if any. Recording
// stops at the first failure; the live stream is unaffected.
func (s *SocketSource) RecordErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recordErr
}

// Close disconnects from the socket and finishes the capture file.
func (s *SocketSource) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.stop)
		s.client.Close()
		<-s.done
		if s.recordFile != nil {
			s.recordFile.Close()
		}
	})
	return nil
}

// pump forwards event frames from the wire client to the live channel
// until the connection ends.
func (s *SocketSource) pump() {
	defer close(s.done)
	defer close(s.events)
	for {
		frame, err := s.client.Next(context.Background())
		if err != nil {
			if !s.closed.Load() {
				s.mu.Lock()
				s.err = err
				s.mu.Unlock()
			}
			return
		}
		if frame.Type != wire.FrameEvent {
			continue
		}
		s.record(frame.Event)
		select {
		case s.events <- frame.Event:
		case <-s.stop:
			return
		}
	}
}

// record appends one event to the capture file. The first write
// failure stops recording.
func (s *SocketSource) record(ev event.Event) {
	if s.encoder == nil {
		return
	}
	if err := s.encoder.Encode(ev); err != nil {
		s.mu.Lock()
		if s.recordErr == nil {
			s.recordErr = err
		}
		s.mu.Unlock()
		s.encoder = nil
	}
}

// cleanup releases partially constructed state when DialSocket fails
// after connecting.
func (s *SocketSource) cleanup() {
	s.client.Close()
	if s.recordFile != nil {
		s.recordFile.Close()
		os.Remove(s.recordFile.Name())
	}
}
