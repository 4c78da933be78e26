// Copyright 2026 The Dirigent Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"context"
	"sort"
	"strings"
	"time"
)

// Filter restricts a List call. Zero-valued fields match everything.
type Filter struct {
	// Group matches processes in the named group.
	Group string

	// State matches processes in exactly this state.
	State *State

	// ParentID matches direct children of the given process.
	ParentID string

	// NamePrefix matches processes whose name starts with the prefix.
	NamePrefix string
}

func (f Filter) matches(p *process) bool {
	if f.Group != "" && p.group != f.Group {
		return false
	}
	if f.State != nil && p.state != *f.State {
		return false
	}
	if f.ParentID != "" && p.parentID != f.ParentID {
		return false
	}
	if f.NamePrefix != "" && !strings.HasPrefix(p.name, f.NamePrefix) {
		return false
	}
	return true
}

// List returns snapshots of all tracked processes matching the filter,
// in creation order.
func (s *Supervisor) List(f Filter) []ProcessInfo {
	s.mu.Lock()
	matched := make([]*process, 0, len(s.processes))
	for _, p := range s.processes {
		if f.matches(p) {
			matched = append(matched, p)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].createdAt.Equal(matched[j].createdAt) {
			return matched[i].createdAt.Before(matched[j].createdAt)
		}
		return matched[i].seq < matched[j].seq
	})
	infos := make([]ProcessInfo, len(matched))
	for i, p := range matched {
		infos[i] = p.snapshot()
	}
	s.mu.Unlock()
	return infos
}

// GroupStatus summarizes the lifecycle mix of a group.
type GroupStatus struct {
	// Total is the number of tracked members.
	Total int `json:"total"`

	// StateCounts breaks Total down by state.
	StateCounts map[State]int `json:"state_counts"`

	// HasRunning reports whether any member is still executing
	// (starting, running, or stopping).
	HasRunning bool `json:"has_running"`

	// HasErrors reports whether any member failed or timed out.
	HasErrors bool `json:"has_errors"`

	// AllCompleted reports whether the group is non-empty and every
	// member completed.
	AllCompleted bool `json:"all_completed"`
}

// GroupInfo describes one process group.
type GroupInfo struct {
	ProcessCount int           `json:"process_count"`
	Processes    []ProcessInfo `json:"processes"`
	Status       GroupStatus   `json:"status"`
}

// Group returns the members and status summary of the named group. An
// unknown group yields a zero-count result, not an error.
func (s *Supervisor) Group(name string) GroupInfo {
	members := s.List(Filter{Group: name})

	status := GroupStatus{
		Total:       len(members),
		StateCounts: make(map[State]int),
	}
	completed := 0
	for _, member := range members {
		status.StateCounts[member.State]++
		switch member.State {
		case StateStarting, StateRunning, StateStopping:
			status.HasRunning = true
		case StateFailed, StateTimeout:
			status.HasErrors = true
		case StateCompleted:
			completed++
		}
	}
	status.AllCompleted = len(members) > 0 && completed == len(members)

	return GroupInfo{
		ProcessCount: len(members),
		Processes:    members,
		Status:       status,
	}
}

// StopGroup stops every started member of the named group
// concurrently, joining the failures. Members that were never started
// are left alone.
func (s *Supervisor) StopGroup(ctx context.Context, name string, force bool) error {
	s.mu.Lock()
	var ids []string
	for _, p := range s.processes {
		if p.group == name && p.state.active() {
			ids = append(ids, p.id)
		}
	}
	s.mu.Unlock()

	s.logger.Info("stopping process group",
		"group", name, "members", len(ids), "force", force)
	return s.stopAll(ctx, ids, force)
}

// Statistics summarizes supervisor activity. The lifetime counters
// are monotonic; the population breakdowns reflect currently tracked
// processes only.
type Statistics struct {
	Total       int            `json:"total"`
	ByState     map[State]int  `json:"by_state"`
	ByGroup     map[string]int `json:"by_group"`
	Started     uint64         `json:"started"`
	Completed   uint64         `json:"completed"`
	Failed      uint64         `json:"failed"`
	TimedOut    uint64         `json:"timed_out"`
	ForcedStops uint64         `json:"forced_stops"`
	Uptime      time.Duration  `json:"uptime"`
}

// Statistics returns a snapshot of supervisor activity.
func (s *Supervisor) Statistics() Statistics {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := Statistics{
		Total:       len(s.processes),
		ByState:     make(map[State]int),
		ByGroup:     make(map[string]int),
		Started:     s.stats.started,
		Completed:   s.stats.completed,
		Failed:      s.stats.failed,
		TimedOut:    s.stats.timedOut,
		ForcedStops: s.stats.forcedStops,
		Uptime:      s.clock.Now().Sub(s.startedAt),
	}
	for _, p := range s.processes {
		stats.ByState[p.state]++
		stats.ByGroup[p.group]++
	}
	return stats
}
