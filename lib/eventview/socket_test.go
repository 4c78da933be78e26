// Copyright 2026 The Dirigent Authors
// SPDX-License-Identifier: Apache-2.0

package eventview

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/dirigent-project/dirigent/lib/event"
	"github.com/dirigent-project/dirigent/lib/testutil"
	"github.com/dirigent-project/dirigent/lib/wire"
)

// startWireServer runs a wire server over a fresh bus in a temp
// directory and returns the bus and socket path.
func startWireServer(t *testing.T) (*event.Bus, string) {
	t.Helper()
	bus, err := event.New(event.Config{})
	if err != nil {
		t.Fatalf("event.New: %v", err)
	}
	socketPath := filepath.Join(testutil.SocketDir(t), "wire.sock")
	server, err := wire.NewServer(wire.ServerConfig{SocketPath: socketPath, Bus: bus})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	if err := server.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { server.Close() })
	return bus, socketPath
}

func emit(t *testing.T, bus *event.Bus, eventType string) {
	t.Helper()
	_, err := bus.Emit(context.Background(), eventType,
		map[string]any{"task": "t-1"}, event.EmitOptions{Source: "eventview-test"})
	if err != nil {
		t.Fatalf("Emit(%s): %v", eventType, err)
	}
}

// receive reads one live event from the source with a deadline.
func receive(t *testing.T, source *SocketSource) event.Event {
	t.Helper()
	return testutil.RequireReceive(t, source.Events(), 5*time.Second, "waiting for live event")
}

func TestSocketSourceBacklogAndLive(t *testing.T) {
	bus, socketPath := startWireServer(t)

	emit(t, bus, "task.created")
	emit(t, bus, "task.completed")

	source, err := DialSocket(socketPath, "")
	if err != nil {
		t.Fatalf("DialSocket: %v", err)
	}
	defer source.Close()

	backlog := source.Backlog()
	if len(backlog) != 2 {
		t.Fatalf("len(backlog) = %d, want 2", len(backlog))
	}
	if backlog[0].Type != "task.created" || backlog[1].Type != "task.completed" {
		t.Errorf("backlog types = %s, %s", backlog[0].Type, backlog[1].Type)
	}

	emit(t, bus, "task.archived")
	live := receive(t, source)
	if live.Type != "task.archived" {
		t.Errorf("live.Type = %q, want task.archived", live.Type)
	}
	if live.Source != "eventview-test" {
		t.Errorf("live.Source = %q, want eventview-test", live.Source)
	}
}

func TestSocketSourceRecordsReplayableCapture(t *testing.T) {
	bus, socketPath := startWireServer(t)
	capturePath := filepath.Join(t.TempDir(), "events.capture")

	emit(t, bus, "workflow.started")

	source, err := DialSocket(socketPath, capturePath)
	if err != nil {
		t.Fatalf("DialSocket: %v", err)
	}

	emit(t, bus, "workflow.completed")
	receive(t, source)

	if err := source.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := source.RecordErr(); err != nil {
		t.Fatalf("RecordErr: %v", err)
	}

	// The capture contains the backlog and the live event, in order.
	replay, err := OpenReplay(capturePath)
	if err != nil {
		t.Fatalf("OpenReplay: %v", err)
	}
	events := replay.Backlog()
	if len(events) != 2 {
		t.Fatalf("len(capture) = %d, want 2", len(events))
	}
	if events[0].Type != "workflow.started" || events[1].Type != "workflow.completed" {
		t.Errorf("capture types = %s, %s", events[0].Type, events[1].Type)
	}
	if events[0].Data["task"] != "t-1" {
		t.Errorf("capture payload = %v, want task=t-1", events[0].Data)
	}
}

func TestSocketSourceCloseEndsStream(t *testing.T) {
	_, socketPath := startWireServer(t)

	source, err := DialSocket(socketPath, "")
	if err != nil {
		t.Fatalf("DialSocket: %v", err)
	}
	if err := source.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if _, ok := <-source.Events(); ok {
		t.Error("event channel should be closed after Close")
	}
	if err := source.Err(); err != nil {
		t.Errorf("Err() = %v, want nil for local close", err)
	}

	// Close is idempotent.
	if err := source.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestSocketSourceServerShutdownSetsErr(t *testing.T) {
	bus, err := event.New(event.Config{})
	if err != nil {
		t.Fatalf("event.New: %v", err)
	}
	socketPath := filepath.Join(testutil.SocketDir(t), "wire.sock")
	server, err := wire.NewServer(wire.ServerConfig{SocketPath: socketPath, Bus: bus})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	if err := server.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	source, err := DialSocket(socketPath, "")
	if err != nil {
		t.Fatalf("DialSocket: %v", err)
	}
	defer source.Close()

	if err := server.Close(); err != nil {
		t.Fatalf("server Close: %v", err)
	}

	select {
	case _, ok := <-source.Events():
		if ok {
			t.Fatal("expected channel close, got event")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for channel close")
	}
	if source.Err() == nil {
		t.Error("Err() should report the lost connection")
	}
}

func TestDialSocketMissing(t *testing.T) {
	if _, err := DialSocket(filepath.Join(t.TempDir(), "absent.sock"), ""); err == nil {
		t.Fatal("expected error dialing a missing socket")
	}
}
