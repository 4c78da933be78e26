// Copyright 2026 The Dirigent Authors
// SPDX-License-Identifier: Apache-2.0

package eventview

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/dirigent-project/dirigent/lib/event"
)

// Theme defines the colors used by the event viewer. All colors are
// ANSI 256 codes so they degrade gracefully on basic terminals.
type Theme struct {
	// NormalText is the default foreground for event rows.
	NormalText lipgloss.Color

	// FaintText is for de-emphasized content: timestamps, sources,
	// the scroll position indicator.
	FaintText lipgloss.Color

	// SelectedBackground highlights the row under the cursor.
	SelectedBackground lipgloss.Color

	// HeaderForeground is for the status line at the top.
	HeaderForeground lipgloss.Color

	// PausedIndicator marks the header while the stream is paused.
	PausedIndicator lipgloss.Color

	// Severity badge colors.
	SeverityDebug    lipgloss.Color
	SeverityInfo     lipgloss.Color
	SeverityWarning  lipgloss.Color
	SeverityError    lipgloss.Color
	SeverityCritical lipgloss.Color

	// BorderColor is for the separator above the help bar.
	BorderColor lipgloss.Color

	// HelpText is for the help bar at the bottom.
	HelpText lipgloss.Color
}

// DefaultTheme returns the standard color scheme.
func DefaultTheme() Theme {
	return Theme{
		NormalText:         lipgloss.Color("252"), // light gray
		FaintText:          lipgloss.Color("245"), // medium gray
		SelectedBackground: lipgloss.Color("236"), // dark gray
		HeaderForeground:   lipgloss.Color("117"), // light blue
		PausedIndicator:    lipgloss.Color("214"), // orange
		SeverityDebug:      lipgloss.Color("240"), // dim gray
		SeverityInfo:       lipgloss.Color("75"),  // blue
		SeverityWarning:    lipgloss.Color("214"), // orange
		SeverityError:      lipgloss.Color("196"), // red
		SeverityCritical:   lipgloss.Color("201"), // magenta
		BorderColor:        lipgloss.Color("240"), // dim gray
		HelpText:           lipgloss.Color("241"), // dim gray
	}
}

// SeverityColor returns the badge color for the given severity.
// Unknown severities render like info.
func (t Theme) SeverityColor(severity event.Severity) lipgloss.Color {
	switch severity {
	case event.SeverityDebug:
		return t.SeverityDebug
	case event.SeverityWarning:
		return t.SeverityWarning
	case event.SeverityError:
		return t.SeverityError
	case event.SeverityCritical:
		return t.SeverityCritical
	default:
		return t.SeverityInfo
	}
}
