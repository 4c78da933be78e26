// Copyright 2026 The Dirigent Authors
// SPDX-License-Identifier: Apache-2.0

package eventview

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines the keybindings for the event viewer.
type KeyMap struct {
	Up          key.Binding
	Down        key.Binding
	PageUp      key.Binding
	PageDown    key.Binding
	Home        key.Binding
	End         key.Binding
	Pause       key.Binding
	Filter      key.Binding
	FilterClear key.Binding
	Detail      key.Binding
	Quit        key.Binding
}

// DefaultKeyMap returns the standard keybindings.
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Up: key.NewBinding(
			key.WithKeys("up", "k"),
			key.WithHelp("↑/k", "up"),
		),
		Down: key.NewBinding(
			key.WithKeys("down", "j"),
			key.WithHelp("↓/j", "down"),
		),
		PageUp: key.NewBinding(
			key.WithKeys("pgup", "ctrl+u"),
			key.WithHelp("pgup", "page up"),
		),
		PageDown: key.NewBinding(
			key.WithKeys("pgdown", "ctrl+d"),
			key.WithHelp("pgdn", "page down"),
		),
		Home: key.NewBinding(
			key.WithKeys("home", "g"),
			key.WithHelp("g", "oldest"),
		),
		End: key.NewBinding(
			key.WithKeys("end", "G"),
			key.WithHelp("G", "newest"),
		),
		Pause: key.NewBinding(
			key.WithKeys(" ", "p"),
			key.WithHelp("space", "pause"),
		),
		Filter: key.NewBinding(
			key.WithKeys("f"),
			key.WithHelp("f", "filter category"),
		),
		FilterClear: key.NewBinding(
			key.WithKeys("F"),
			key.WithHelp("F", "clear filter"),
		),
		Detail: key.NewBinding(
			key.WithKeys("enter", "d"),
			key.WithHelp("enter", "detail"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
	}
}
