// Copyright 2026 The Dirigent Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import "fmt"

// State is a process lifecycle state. The legal transitions are:
//
//	created  → starting
//	starting → running | stopping | stopped
//	running  → completed | failed | timeout | stopping | stopped
//	stopping → stopped
//
// The four terminal states (completed, failed, timeout, stopped) never
// transition again; a terminal process stays on record until the
// retention sweep removes it.
type State int

const (
	StateCreated State = iota
	StateStarting
	StateRunning
	StateStopping
	StateCompleted
	StateFailed
	StateTimeout
	StateStopped
)

var stateNames = map[State]string{
	StateCreated:   "created",
	StateStarting:  "starting",
	StateRunning:   "running",
	StateStopping:  "stopping",
	StateCompleted: "completed",
	StateFailed:    "failed",
	StateTimeout:   "timeout",
	StateStopped:   "stopped",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether the state admits no further transitions.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateTimeout, StateStopped:
		return true
	}
	return false
}

// active reports whether the supervised function may still be
// executing: the process was started and has not reached a terminal
// state.
func (s State) active() bool {
	switch s {
	case StateStarting, StateRunning, StateStopping:
		return true
	}
	return false
}

// MarshalText renders the state name, so JSON maps keyed by State use
// readable keys.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name produced by MarshalText.
func (s *State) UnmarshalText(text []byte) error {
	for state, name := range stateNames {
		if name == string(text) {
			*s = state
			return nil
		}
	}
	return fmt.Errorf("supervisor: unknown state %q", text)
}
