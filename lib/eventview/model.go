// Copyright 2026 The Dirigent Authors
// SPDX-License-Identifier: Apache-2.0

package eventview

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/dirigent-project/dirigent/lib/event"
)

// maxEvents caps the in-memory event list. When the cap is exceeded
// the oldest quarter is shed at once so the copy cost amortizes.
const maxEvents = 2000

// Fixed column widths for list rows. The trailer (source and payload
// summary) fills the remaining width.
const (
	columnWidthTimestamp = 12 // "15:04:05.000"
	columnWidthBadge     = 3  // "INF"
	columnWidthType      = 24
	detailKeyWidth       = 13
)

// sourceEventMsg delivers one live event from the source.
type sourceEventMsg struct {
	event event.Event
}

// sourceClosedMsg reports that the live channel closed. The stream
// does not resume; the viewer keeps showing what it has.
type sourceClosedMsg struct{}

// listenForEvent returns a command that blocks on the live channel
// and converts the next event into a message. The update loop re-arms
// it after each delivery.
func listenForEvent(channel <-chan event.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-channel
		if !ok {
			return sourceClosedMsg{}
		}
		return sourceEventMsg{event: ev}
	}
}

// Model is the Bubble Tea model for the event viewer.
type Model struct {
	source Source
	theme  Theme
	keys   KeyMap

	// events holds everything received, oldest first. items is the
	// filtered view of events that the list renders; identical to
	// events when no filter is active.
	events []event.Event
	items  []event.Event

	// pending buffers live events while paused. Resuming flushes them
	// into events in arrival order.
	pending []event.Event

	// dropped counts events shed by the maxEvents cap.
	dropped int

	// categories are the observed event categories in first-seen
	// order; the filter key cycles through them.
	categories []string
	filter     string

	cursor       int
	scrollOffset int

	// follow pins the cursor to the newest event. Any upward
	// navigation releases it; navigating back to the newest row
	// re-engages it.
	follow bool

	paused       bool
	showDetail   bool
	streamClosed bool

	width  int
	height int
	ready  bool
}

// NewModel creates a viewer model over the given source. The source's
// backlog is loaded immediately; live events arrive through Init's
// listener command.
func NewModel(source Source) Model {
	model := Model{
		source: source,
		theme:  DefaultTheme(),
		keys:   DefaultKeyMap(),
		follow: true,
	}
	for _, ev := range source.Backlog() {
		model.appendEvent(ev)
	}
	return model
}

// Init starts the live event listener, or nothing for sources without
// a live phase.
func (model Model) Init() tea.Cmd {
	if channel := model.source.Events(); channel != nil {
		return listenForEvent(channel)
	}
	return nil
}

// Update handles messages and returns the updated model.
func (model Model) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	switch message := message.(type) {
	case tea.WindowSizeMsg:
		model.width = message.Width
		model.height = message.Height
		model.ready = true
		model.ensureCursorVisible()
		return model, nil

	case sourceEventMsg:
		if model.paused {
			model.pending = append(model.pending, message.event)
			if len(model.pending) > maxEvents {
				drop := len(model.pending) - maxEvents
				model.dropped += drop
				model.pending = append([]event.Event(nil), model.pending[drop:]...)
			}
		} else {
			model.appendEvent(message.event)
		}
		return model, listenForEvent(model.source.Events())

	case sourceClosedMsg:
		model.streamClosed = true
		return model, nil

	case tea.KeyMsg:
		return model.handleKey(message)
	}
	return model, nil
}

func (model Model) handleKey(message tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(message, model.keys.Quit):
		return model, tea.Quit
	case key.Matches(message, model.keys.Up):
		model.moveCursor(-1)
	case key.Matches(message, model.keys.Down):
		model.moveCursor(1)
	case key.Matches(message, model.keys.PageUp):
		model.moveCursor(-model.pageSize())
	case key.Matches(message, model.keys.PageDown):
		model.moveCursor(model.pageSize())
	case key.Matches(message, model.keys.Home):
		model.moveCursor(-len(model.items))
	case key.Matches(message, model.keys.End):
		model.moveCursor(len(model.items))
	case key.Matches(message, model.keys.Pause):
		model.togglePause()
	case key.Matches(message, model.keys.Filter):
		model.cycleFilter()
	case key.Matches(message, model.keys.FilterClear):
		model.setFilter("")
	case key.Matches(message, model.keys.Detail):
		model.showDetail = !model.showDetail
		model.ensureCursorVisible()
	}
	return model, nil
}

// appendEvent adds one event to the list, maintaining the cap, the
// filtered view, and follow mode.
func (model *Model) appendEvent(ev event.Event) {
	model.events = append(model.events, ev)
	model.noteCategory(ev.Category)

	if len(model.events) > maxEvents {
		drop := len(model.events) - maxEvents + maxEvents/4
		model.dropped += drop
		model.events = append([]event.Event(nil), model.events[drop:]...)
		model.rebuildItems()
		return
	}

	if !model.matchesFilter(ev) {
		return
	}
	model.items = append(model.items, ev)
	if model.follow {
		model.cursor = len(model.items) - 1
	}
	model.ensureCursorVisible()
}

// rebuildItems recomputes the filtered view after a filter change or
// a cap overflow, then re-clamps the cursor.
func (model *Model) rebuildItems() {
	model.items = model.items[:0]
	for _, ev := range model.events {
		if model.matchesFilter(ev) {
			model.items = append(model.items, ev)
		}
	}
	if model.follow {
		model.cursor = len(model.items) - 1
	}
	if model.cursor > len(model.items)-1 {
		model.cursor = len(model.items) - 1
	}
	if model.cursor < 0 {
		model.cursor = 0
	}
	model.ensureCursorVisible()
}

func (model Model) matchesFilter(ev event.Event) bool {
	return model.filter == "" || ev.Category == model.filter
}

// noteCategory records a category the first time it appears so the
// filter cycle covers everything observed.
func (model *Model) noteCategory(category string) {
	for _, known := range model.categories {
		if known == category {
			return
		}
	}
	model.categories = append(model.categories, category)
}

// cycleFilter advances the category filter: all events, then each
// observed category in first-seen order, then back to all.
func (model *Model) cycleFilter() {
	if len(model.categories) == 0 {
		return
	}
	next := ""
	if model.filter == "" {
		next = model.categories[0]
	} else {
		for index, category := range model.categories {
			if category == model.filter && index+1 < len(model.categories) {
				next = model.categories[index+1]
				break
			}
		}
	}
	model.setFilter(next)
}

func (model *Model) setFilter(filter string) {
	if model.filter == filter {
		return
	}
	model.filter = filter
	model.rebuildItems()
}

// togglePause suspends or resumes the live list. Resuming flushes the
// events buffered while paused.
func (model *Model) togglePause() {
	if !model.paused {
		model.paused = true
		return
	}
	model.paused = false
	for _, ev := range model.pending {
		model.appendEvent(ev)
	}
	model.pending = nil
}

// moveCursor shifts the selection and re-evaluates follow mode: the
// cursor resting on the newest row means follow.
func (model *Model) moveCursor(delta int) {
	model.cursor += delta
	if model.cursor > len(model.items)-1 {
		model.cursor = len(model.items) - 1
	}
	if model.cursor < 0 {
		model.cursor = 0
	}
	model.follow = len(model.items) == 0 || model.cursor == len(model.items)-1
	model.ensureCursorVisible()
}

// ensureCursorVisible adjusts scrollOffset so the cursor is within
// the visible window.
func (model *Model) ensureCursorVisible() {
	visible := model.visibleHeight()
	if visible <= 0 {
		return
	}
	maxOffset := len(model.items) - visible
	if maxOffset < 0 {
		maxOffset = 0
	}
	if model.scrollOffset > maxOffset {
		model.scrollOffset = maxOffset
	}
	if model.cursor < model.scrollOffset {
		model.scrollOffset = model.cursor
	}
	if model.cursor >= model.scrollOffset+visible {
		model.scrollOffset = model.cursor - visible + 1
	}
}

// visibleHeight is the number of list rows that fit between the
// header and the bottom chrome.
func (model Model) visibleHeight() int {
	height := model.height - 3 // header, separator, help bar
	if model.showDetail {
		height -= model.detailHeight() + 1 // detail pane and its separator
	}
	return height
}

// detailHeight is the height of the detail pane: a third of the
// screen, clamped to stay useful on both tiny and huge terminals.
func (model Model) detailHeight() int {
	height := model.height / 3
	if height < 5 {
		height = 5
	}
	if height > 12 {
		height = 12
	}
	return height
}

func (model Model) pageSize() int {
	if visible := model.visibleHeight(); visible > 1 {
		return visible
	}
	return 1
}

// View renders the viewer: header, event list, optional detail pane,
// separator, help bar.
func (model Model) View() string {
	if !model.ready {
		return "Connecting..."
	}

	sections := []string{
		model.renderHeader(),
		model.renderList(),
	}
	if model.showDetail {
		sections = append(sections, model.renderSeparator(), model.renderDetail())
	}
	sections = append(sections, model.renderSeparator(), model.renderHelp())
	return strings.Join(sections, "\n")
}

func (model Model) renderHeader() string {
	titleStyle := lipgloss.NewStyle().Foreground(model.theme.HeaderForeground).Bold(true)
	faint := lipgloss.NewStyle().Foreground(model.theme.FaintText)

	total := len(model.events) + model.dropped
	count := fmt.Sprintf("  %d events", total)
	if model.filter != "" {
		count = fmt.Sprintf("  %d/%d events", len(model.items), total)
	}

	segments := []string{
		titleStyle.Render(" dirigent events"),
		faint.Render(count),
	}
	if model.dropped > 0 {
		segments = append(segments, faint.Render(fmt.Sprintf("  (%d shed)", model.dropped)))
	}
	if model.filter != "" {
		segments = append(segments, faint.Render("  filter: ")+titleStyle.Render(model.filter))
	}
	if model.paused {
		pausedStyle := lipgloss.NewStyle().Foreground(model.theme.PausedIndicator).Bold(true)
		segments = append(segments, pausedStyle.Render(fmt.Sprintf("  PAUSED (%d buffered)", len(model.pending))))
	}
	if model.streamClosed {
		segments = append(segments, faint.Render("  stream closed"))
	}

	line := strings.Join(segments, "")
	if ansi.StringWidth(line) > model.width {
		line = ansi.Truncate(line, model.width, "…")
	}
	return line
}

// renderList renders the visible window of event rows, padded with
// blank lines so the chrome below stays put.
func (model Model) renderList() string {
	visible := model.visibleHeight()
	if visible < 0 {
		visible = 0
	}

	rows := make([]string, 0, visible)
	for index := model.scrollOffset; index < model.scrollOffset+visible && index < len(model.items); index++ {
		rows = append(rows, model.renderRow(model.items[index], index == model.cursor))
	}
	for len(rows) < visible {
		rows = append(rows, "")
	}
	return strings.Join(rows, "\n")
}

// renderRow renders one event as a table row:
//
//	15:04:05.000 INF task.created             supervisor task=t-1
//
// The selected row gets a highlight background with uniform
// foreground; normal rows color each column separately.
func (model Model) renderRow(ev event.Event, selected bool) string {
	timestamp := ev.Timestamp.Format("15:04:05.000")
	badge := severityBadge(ev.Severity)
	eventType := fmt.Sprintf("%-*s", columnWidthType, truncateText(ev.Type, columnWidthType))

	trailer := dataSummary(ev.Data)
	if ev.Source != "" {
		trailer = ev.Source + " " + trailer
	}
	trailerWidth := model.width - columnWidthTimestamp - columnWidthBadge - columnWidthType - 4
	trailer = truncateText(trailer, trailerWidth)

	if selected {
		plain := fmt.Sprintf(" %s %s %s %s", timestamp, badge, eventType, trailer)
		return lipgloss.NewStyle().
			Background(model.theme.SelectedBackground).
			Foreground(model.theme.NormalText).
			Width(model.width).
			Render(plain)
	}

	faint := lipgloss.NewStyle().Foreground(model.theme.FaintText)
	badgeStyle := lipgloss.NewStyle().
		Foreground(model.theme.SeverityColor(ev.Severity)).
		Bold(ev.Severity == event.SeverityError || ev.Severity == event.SeverityCritical)
	normal := lipgloss.NewStyle().Foreground(model.theme.NormalText)

	return " " + faint.Render(timestamp) +
		" " + badgeStyle.Render(badge) +
		" " + normal.Render(eventType) +
		" " + faint.Render(trailer)
}

// renderDetail renders the detail pane for the selected event: the
// identity fields, then data and metadata entries one per line.
func (model Model) renderDetail() string {
	height := model.detailHeight()
	faint := lipgloss.NewStyle().Foreground(model.theme.FaintText)
	normal := lipgloss.NewStyle().Foreground(model.theme.NormalText)

	lines := make([]string, 0, height)
	if len(model.items) == 0 {
		lines = append(lines, faint.Render(" no event selected"))
	} else {
		ev := model.items[model.cursor]
		add := func(label, value string) {
			line := fmt.Sprintf(" %-*s %s", detailKeyWidth, label, value)
			lines = append(lines, normal.Render(truncateText(line, model.width)))
		}
		add("id", ev.ID)
		add("type", fmt.Sprintf("%s (%s)", ev.Type, ev.Category))
		add("time", ev.Timestamp.Format(time.RFC3339Nano))
		add("severity", fmt.Sprintf("%s, priority %s", ev.Severity, ev.Priority))
		if ev.Source != "" {
			add("source", ev.Source)
		}
		for _, dataKey := range sortedKeys(ev.Data) {
			add("data."+dataKey, fmt.Sprintf("%v", ev.Data[dataKey]))
		}
		for _, metaKey := range sortedKeys(ev.Metadata) {
			add("meta."+metaKey, fmt.Sprintf("%v", ev.Metadata[metaKey]))
		}
	}

	if len(lines) > height {
		lines = lines[:height]
	}
	for len(lines) < height {
		lines = append(lines, "")
	}
	return strings.Join(lines, "\n")
}

func (model Model) renderSeparator() string {
	width := model.width
	if width < 0 {
		width = 0
	}
	return lipgloss.NewStyle().
		Foreground(model.theme.BorderColor).
		Render(strings.Repeat("─", width))
}

func (model Model) renderHelp() string {
	style := lipgloss.NewStyle().Foreground(model.theme.HelpText)

	help := " q quit  ↑↓ navigate  space pause  f filter  F clear  enter detail"
	if len(model.items) > 0 {
		visible := model.visibleHeight()
		position := "all"
		if visible > 0 && len(model.items) > visible {
			switch {
			case model.scrollOffset == 0:
				position = "top"
			case model.scrollOffset+visible >= len(model.items):
				position = "bottom"
			default:
				percent := float64(model.scrollOffset) / float64(len(model.items)-visible) * 100
				position = fmt.Sprintf("%d%%", int(percent))
			}
		}
		help += fmt.Sprintf("  [%s] %d/%d", position, model.cursor+1, len(model.items))
	}
	return style.Render(truncateText(help, model.width))
}

// severityBadge returns the 3-character list badge for a severity.
func severityBadge(severity event.Severity) string {
	switch severity {
	case event.SeverityDebug:
		return "DBG"
	case event.SeverityWarning:
		return "WRN"
	case event.SeverityError:
		return "ERR"
	case event.SeverityCritical:
		return "CRT"
	default:
		return "INF"
	}
}

// dataSummary renders a payload as compact key=value pairs in sorted
// key order.
func dataSummary(data map[string]any) string {
	keys := sortedKeys(data)
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", key, data[key]))
	}
	return strings.Join(parts, " ")
}

func sortedKeys(values map[string]any) []string {
	if len(values) == 0 {
		return nil
	}
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// truncateText shortens text to maxWidth display columns, marking the
// cut with an ellipsis.
func truncateText(text string, maxWidth int) string {
	if maxWidth <= 0 {
		return ""
	}
	if lipgloss.Width(text) <= maxWidth {
		return text
	}
	runes := []rune(text)
	for length := len(runes) - 1; length >= 0; length-- {
		candidate := string(runes[:length])
		if lipgloss.Width(candidate) <= maxWidth-1 {
			return candidate + "…"
		}
	}
	return ""
}
