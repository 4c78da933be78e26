// Copyright 2026 The Dirigent Authors
// SPDX-License-Identifier: Apache-2.0

package taskstore

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dirigent-project/dirigent/lib/event"
)

type changeRecorder struct {
	mu     sync.Mutex
	events []event.Event
}

func (r *changeRecorder) callback(_ context.Context, ev event.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *changeRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func (r *changeRecorder) last() event.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

func (r *changeRecorder) waitForCount(t *testing.T, want int) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if r.count() >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("recorded %d change events, want %d", r.count(), want)
}

func startWatch(t *testing.T, path string) (*changeRecorder, func()) {
	t.Helper()
	bus, err := event.New(event.Config{})
	if err != nil {
		t.Fatalf("event.New: %v", err)
	}
	recorder := &changeRecorder{}
	if _, err := bus.Subscribe(event.Exact(EventFileChanged), recorder.callback, event.SubscribeOptions{}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	stop, err := Watch(WatchConfig{Path: path, Bus: bus})
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	t.Cleanup(stop)
	return recorder, stop
}

func TestWatchEmitsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tasks.jsonc")
	recorder, _ := startWatch(t, path)

	if err := os.WriteFile(path, []byte(`{"tasks": []}`), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	recorder.waitForCount(t, 1)

	first := recorder.last()
	absolute, _ := filepath.Abs(path)
	if first.Data["path"] != absolute {
		t.Errorf("path = %v, want %s", first.Data["path"], absolute)
	}
	firstPrint, _ := first.Data["fingerprint"].(string)
	if len(firstPrint) != 64 {
		t.Errorf("fingerprint %q, want 64 hex chars", firstPrint)
	}

	// Identical content is not a change.
	if err := os.WriteFile(path, []byte(`{"tasks": []}`), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	time.Sleep(400 * time.Millisecond)
	if got := recorder.count(); got != 1 {
		t.Fatalf("events after identical rewrite = %d, want 1", got)
	}

	if err := os.WriteFile(path, []byte(`{"tasks": [{"id": "t1"}]}`), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	recorder.waitForCount(t, 2)
	secondPrint, _ := recorder.last().Data["fingerprint"].(string)
	if secondPrint == firstPrint {
		t.Error("fingerprint unchanged across content change")
	}
}

func TestWatchSeesAtomicReplace(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tasks.jsonc")
	if err := os.WriteFile(path, []byte(`{"tasks": []}`), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	recorder, _ := startWatch(t, path)

	// Write-to-temp plus rename creates a new inode; the directory
	// watch still reports it.
	temporary := filepath.Join(dir, "tasks.jsonc.new")
	if err := os.WriteFile(temporary, []byte(`{"tasks": [{"id": "t1"}]}`), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := os.Rename(temporary, path); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	recorder.waitForCount(t, 1)
}

func TestWatchStopIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.jsonc")
	_, stop := startWatch(t, path)
	stop()
	stop()
}

func TestWatchValidation(t *testing.T) {
	bus, err := event.New(event.Config{})
	if err != nil {
		t.Fatalf("event.New: %v", err)
	}
	if _, err := Watch(WatchConfig{Bus: bus}); err == nil {
		t.Error("Watch without Path = nil, want error")
	}
	if _, err := Watch(WatchConfig{Path: "/tmp/tasks.jsonc"}); err == nil {
		t.Error("Watch without Bus = nil, want error")
	}
}
