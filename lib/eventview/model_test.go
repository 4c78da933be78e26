// Copyright 2026 The Dirigent Authors
// SPDX-License-Identifier: Apache-2.0

package eventview

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/dirigent-project/dirigent/lib/event"
)

// sliceSource is a Source over fixed data for driving the model in
// tests. A nil events channel means no live phase.
type sliceSource struct {
	backlog []event.Event
	events  chan event.Event
}

func (s *sliceSource) Backlog() []event.Event     { return s.backlog }
func (s *sliceSource) Events() <-chan event.Event { return s.events }
func (s *sliceSource) Err() error                 { return nil }
func (s *sliceSource) Close() error               { return nil }

func makeEvent(id, eventType string, severity event.Severity) event.Event {
	category := eventType
	if i := strings.IndexByte(eventType, '.'); i >= 0 {
		category = eventType[:i]
	}
	return event.Event{
		ID:        id,
		Type:      eventType,
		Category:  category,
		Data:      map[string]any{"task": "t-" + id},
		Timestamp: time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC),
		Severity:  severity,
	}
}

// sizedModel creates a model over the given backlog and delivers the
// initial window size so View renders fully.
func sizedModel(t *testing.T, backlog []event.Event) Model {
	t.Helper()
	model := NewModel(&sliceSource{backlog: backlog})
	updated, _ := model.Update(tea.WindowSizeMsg{Width: 100, Height: 24})
	return updated.(Model)
}

func pressKey(t *testing.T, model Model, char rune) Model {
	t.Helper()
	updated, _ := model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{char}})
	return updated.(Model)
}

func TestBacklogLoaded(t *testing.T) {
	model := sizedModel(t, []event.Event{
		makeEvent("1", "task.created", event.SeverityInfo),
		makeEvent("2", "task.completed", event.SeverityInfo),
		makeEvent("3", "process.spawned", event.SeverityDebug),
	})

	if len(model.events) != 3 {
		t.Fatalf("len(events) = %d, want 3", len(model.events))
	}
	view := model.View()
	if !strings.Contains(view, "task.created") {
		t.Errorf("view missing event type:\n%s", view)
	}
	if !strings.Contains(view, "3 events") {
		t.Errorf("view missing event count:\n%s", view)
	}
}

func TestViewBeforeSizeIsPlaceholder(t *testing.T) {
	model := NewModel(&sliceSource{})
	if view := model.View(); view != "Connecting..." {
		t.Errorf("View() = %q, want placeholder", view)
	}
}

func TestNavigationMovesCursorAndReleasesFollow(t *testing.T) {
	model := sizedModel(t, []event.Event{
		makeEvent("1", "task.created", event.SeverityInfo),
		makeEvent("2", "task.completed", event.SeverityInfo),
		makeEvent("3", "task.archived", event.SeverityInfo),
	})

	if !model.follow {
		t.Fatal("follow should start enabled")
	}
	if model.cursor != 2 {
		t.Fatalf("cursor = %d, want 2 (newest)", model.cursor)
	}

	model = pressKey(t, model, 'k')
	if model.cursor != 1 {
		t.Errorf("cursor after k = %d, want 1", model.cursor)
	}
	if model.follow {
		t.Error("follow should release on upward navigation")
	}

	model = pressKey(t, model, 'j')
	if model.cursor != 2 {
		t.Errorf("cursor after j = %d, want 2", model.cursor)
	}
	if !model.follow {
		t.Error("follow should re-engage at the newest row")
	}

	// Home jumps to the oldest event.
	model = pressKey(t, model, 'g')
	if model.cursor != 0 {
		t.Errorf("cursor after g = %d, want 0", model.cursor)
	}

	// End jumps back to the newest.
	model = pressKey(t, model, 'G')
	if model.cursor != 2 || !model.follow {
		t.Errorf("cursor after G = %d, follow = %v, want 2 and true", model.cursor, model.follow)
	}
}

func TestFollowPinsCursorToNewEvents(t *testing.T) {
	model := sizedModel(t, []event.Event{
		makeEvent("1", "task.created", event.SeverityInfo),
	})

	updated, _ := model.Update(sourceEventMsg{event: makeEvent("2", "task.completed", event.SeverityInfo)})
	model = updated.(Model)
	if model.cursor != 1 {
		t.Errorf("cursor = %d, want 1 after live append with follow", model.cursor)
	}

	// After navigating up, appends must not move the cursor.
	model = pressKey(t, model, 'k')
	updated, _ = model.Update(sourceEventMsg{event: makeEvent("3", "task.archived", event.SeverityInfo)})
	model = updated.(Model)
	if model.cursor != 0 {
		t.Errorf("cursor = %d, want 0 after append without follow", model.cursor)
	}
	if len(model.events) != 3 {
		t.Errorf("len(events) = %d, want 3", len(model.events))
	}
}

func TestPauseBuffersAndResumeFlushes(t *testing.T) {
	model := sizedModel(t, []event.Event{
		makeEvent("1", "task.created", event.SeverityInfo),
	})

	model = pressKey(t, model, 'p')
	if !model.paused {
		t.Fatal("p should pause")
	}

	updated, _ := model.Update(sourceEventMsg{event: makeEvent("2", "task.completed", event.SeverityInfo)})
	model = updated.(Model)
	updated, _ = model.Update(sourceEventMsg{event: makeEvent("3", "task.archived", event.SeverityInfo)})
	model = updated.(Model)

	if len(model.events) != 1 {
		t.Errorf("len(events) = %d, want 1 while paused", len(model.events))
	}
	if len(model.pending) != 2 {
		t.Errorf("len(pending) = %d, want 2", len(model.pending))
	}
	if view := model.View(); !strings.Contains(view, "PAUSED (2 buffered)") {
		t.Errorf("view missing pause indicator:\n%s", view)
	}

	model = pressKey(t, model, 'p')
	if model.paused {
		t.Fatal("second p should resume")
	}
	if len(model.events) != 3 {
		t.Errorf("len(events) = %d, want 3 after flush", len(model.events))
	}
	if model.pending != nil {
		t.Errorf("pending should be cleared, have %d", len(model.pending))
	}
	if model.cursor != 2 {
		t.Errorf("cursor = %d, want 2 (follow through flush)", model.cursor)
	}
}

func TestFilterCyclesObservedCategories(t *testing.T) {
	model := sizedModel(t, []event.Event{
		makeEvent("1", "task.created", event.SeverityInfo),
		makeEvent("2", "workflow.started", event.SeverityInfo),
		makeEvent("3", "task.completed", event.SeverityInfo),
		makeEvent("4", "process.spawned", event.SeverityInfo),
	})

	model = pressKey(t, model, 'f')
	if model.filter != "task" {
		t.Fatalf("filter = %q, want task", model.filter)
	}
	if len(model.items) != 2 {
		t.Errorf("len(items) = %d, want 2 task events", len(model.items))
	}
	if view := model.View(); !strings.Contains(view, "2/4 events") {
		t.Errorf("view missing filtered count:\n%s", view)
	}

	model = pressKey(t, model, 'f')
	if model.filter != "workflow" {
		t.Fatalf("filter = %q, want workflow", model.filter)
	}
	model = pressKey(t, model, 'f')
	if model.filter != "process" {
		t.Fatalf("filter = %q, want process", model.filter)
	}

	// Past the last category the cycle returns to showing everything.
	model = pressKey(t, model, 'f')
	if model.filter != "" {
		t.Fatalf("filter = %q, want empty after full cycle", model.filter)
	}
	if len(model.items) != 4 {
		t.Errorf("len(items) = %d, want 4 with no filter", len(model.items))
	}
}

func TestFilterClearKey(t *testing.T) {
	model := sizedModel(t, []event.Event{
		makeEvent("1", "task.created", event.SeverityInfo),
		makeEvent("2", "workflow.started", event.SeverityInfo),
	})

	model = pressKey(t, model, 'f')
	if model.filter == "" {
		t.Fatal("f should engage a filter")
	}
	model = pressKey(t, model, 'F')
	if model.filter != "" {
		t.Errorf("filter = %q, want empty after F", model.filter)
	}
}

func TestFilteredLiveEventsHidden(t *testing.T) {
	model := sizedModel(t, []event.Event{
		makeEvent("1", "task.created", event.SeverityInfo),
	})

	model = pressKey(t, model, 'f') // filter: task
	updated, _ := model.Update(sourceEventMsg{event: makeEvent("2", "workflow.started", event.SeverityInfo)})
	model = updated.(Model)

	if len(model.events) != 2 {
		t.Errorf("len(events) = %d, want 2 (filtered events still kept)", len(model.events))
	}
	if len(model.items) != 1 {
		t.Errorf("len(items) = %d, want 1 (workflow hidden)", len(model.items))
	}

	// Clearing the filter reveals everything received.
	model = pressKey(t, model, 'F')
	if len(model.items) != 2 {
		t.Errorf("len(items) = %d, want 2 after clear", len(model.items))
	}
}

func TestDetailPane(t *testing.T) {
	model := sizedModel(t, []event.Event{
		makeEvent("1", "task.created", event.SeverityInfo),
	})

	updated, _ := model.Update(tea.KeyMsg{Type: tea.KeyEnter})
	model = updated.(Model)
	if !model.showDetail {
		t.Fatal("enter should open the detail pane")
	}

	view := model.View()
	if !strings.Contains(view, "data.task") {
		t.Errorf("detail missing data entry:\n%s", view)
	}
	if !strings.Contains(view, "task.created (task)") {
		t.Errorf("detail missing type line:\n%s", view)
	}

	updated, _ = model.Update(tea.KeyMsg{Type: tea.KeyEnter})
	model = updated.(Model)
	if model.showDetail {
		t.Error("second enter should close the detail pane")
	}
}

func TestQuitKey(t *testing.T) {
	model := sizedModel(t, nil)
	_, command := model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	if command == nil {
		t.Fatal("q should return a quit command")
	}
	if _, ok := command().(tea.QuitMsg); !ok {
		t.Error("q command should produce tea.QuitMsg")
	}
}

func TestLiveListenerReArms(t *testing.T) {
	channel := make(chan event.Event, 2)
	source := &sliceSource{events: channel}
	model := NewModel(source)

	command := model.Init()
	if command == nil {
		t.Fatal("Init should return a listener for a live source")
	}

	channel <- makeEvent("1", "task.created", event.SeverityInfo)
	message := command()
	eventMessage, ok := message.(sourceEventMsg)
	if !ok {
		t.Fatalf("listener message = %T, want sourceEventMsg", message)
	}

	updated, next := model.Update(eventMessage)
	model = updated.(Model)
	if len(model.events) != 1 {
		t.Errorf("len(events) = %d, want 1", len(model.events))
	}
	if next == nil {
		t.Fatal("update should re-arm the listener")
	}

	// The re-armed listener picks up the next buffered event.
	channel <- makeEvent("2", "task.completed", event.SeverityInfo)
	if _, ok := next().(sourceEventMsg); !ok {
		t.Error("re-armed listener should deliver the next event")
	}
}

func TestSourceClosed(t *testing.T) {
	channel := make(chan event.Event)
	close(channel)
	source := &sliceSource{events: channel}
	model := NewModel(source)

	message := model.Init()()
	if _, ok := message.(sourceClosedMsg); !ok {
		t.Fatalf("listener message = %T, want sourceClosedMsg", message)
	}

	updated, _ := model.Update(tea.WindowSizeMsg{Width: 100, Height: 24})
	model = updated.(Model)
	updated, _ = model.Update(sourceClosedMsg{})
	model = updated.(Model)
	if !model.streamClosed {
		t.Error("streamClosed should be set")
	}
	if view := model.View(); !strings.Contains(view, "stream closed") {
		t.Errorf("view missing stream closed indicator:\n%s", view)
	}
}

func TestEventCapSheds(t *testing.T) {
	model := sizedModel(t, nil)

	for index := 0; index <= maxEvents; index++ {
		updated, _ := model.Update(sourceEventMsg{event: makeEvent("x", "task.tick", event.SeverityDebug)})
		model = updated.(Model)
	}

	if len(model.events) > maxEvents {
		t.Errorf("len(events) = %d, want <= %d", len(model.events), maxEvents)
	}
	if model.dropped == 0 {
		t.Error("dropped should count shed events")
	}
	if view := model.View(); !strings.Contains(view, "shed") {
		t.Errorf("view missing shed count:\n%s", view)
	}
}

func TestScrollWindowFollowsCursor(t *testing.T) {
	var backlog []event.Event
	for index := 0; index < 50; index++ {
		backlog = append(backlog, makeEvent("n", "task.tick", event.SeverityInfo))
	}
	model := sizedModel(t, backlog)

	// Follow keeps the newest row visible despite a short window.
	visible := model.visibleHeight()
	if visible <= 0 || visible >= 50 {
		t.Fatalf("visibleHeight = %d, want between 1 and 49", visible)
	}
	if model.scrollOffset != 50-visible {
		t.Errorf("scrollOffset = %d, want %d", model.scrollOffset, 50-visible)
	}

	// Jumping home scrolls the window back to the top.
	model = pressKey(t, model, 'g')
	if model.scrollOffset != 0 {
		t.Errorf("scrollOffset after g = %d, want 0", model.scrollOffset)
	}
}
