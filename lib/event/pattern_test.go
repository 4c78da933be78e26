// Copyright 2026 The Dirigent Authors
// SPDX-License-Identifier: Apache-2.0

package event

import "testing"

func TestExactPatternMatch(t *testing.T) {
	pattern := Exact("task.created")

	if !pattern.Match("task.created") {
		t.Error("exact pattern should match its own type")
	}
	if pattern.Match("task.created.extra") {
		t.Error("exact pattern should not match a longer type")
	}
	if pattern.Match("task") {
		t.Error("exact pattern should not match a prefix")
	}
	if pattern.IsWildcard() {
		t.Error("exact pattern should not be wildcard")
	}
	if pattern.Kind() != KindExact {
		t.Errorf("Kind() = %v, want %v", pattern.Kind(), KindExact)
	}
}

func TestZeroPatternMatchesNothing(t *testing.T) {
	var pattern Pattern
	if pattern.Match("") || pattern.Match("task.created") {
		t.Error("zero pattern should match nothing")
	}
}

func TestGlobPatternMatch(t *testing.T) {
	cases := []struct {
		glob      string
		eventType string
		want      bool
	}{
		{"task.*", "task.created", true},
		{"task.*", "task.updated", true},
		// '*' crosses dot boundaries.
		{"task.*", "task.batch.completed", true},
		{"task.*", "task", false},
		{"task.*", "workflow.created", false},
		// Anchored: no partial matches.
		{"task.*", "mytask.created", false},
		{"*.created", "task.created", true},
		{"*.created", "task.created.now", false},
		{"*", "anything", true},
		{"*", "", true},
		// '?' matches exactly one character.
		{"task.v?", "task.v1", true},
		{"task.v?", "task.v12", false},
		{"task.v?", "task.v", false},
		// '.' is literal, not "any character".
		{"a.b", "a.b", true},
		{"a.b", "axb", false},
	}

	for _, tc := range cases {
		pattern, err := Glob(tc.glob)
		if err != nil {
			t.Fatalf("Glob(%q): %v", tc.glob, err)
		}
		if got := pattern.Match(tc.eventType); got != tc.want {
			t.Errorf("Glob(%q).Match(%q) = %v, want %v", tc.glob, tc.eventType, got, tc.want)
		}
	}
}

func TestGlobPatternIsWildcard(t *testing.T) {
	pattern := MustGlob("task.*")
	if !pattern.IsWildcard() {
		t.Error("glob pattern should be wildcard")
	}
	if pattern.Kind() != KindGlob {
		t.Errorf("Kind() = %v, want %v", pattern.Kind(), KindGlob)
	}
	if pattern.String() != "task.*" {
		t.Errorf("String() = %q, want %q", pattern.String(), "task.*")
	}
}

func TestRegexPattern(t *testing.T) {
	pattern, err := Regex(`^(task|workflow)\.`)
	if err != nil {
		t.Fatalf("Regex: %v", err)
	}

	if !pattern.Match("task.created") {
		t.Error("regex should match task.created")
	}
	if !pattern.Match("workflow.started") {
		t.Error("regex should match workflow.started")
	}
	if pattern.Match("process.created") {
		t.Error("regex should not match process.created")
	}
	if !pattern.IsWildcard() {
		t.Error("regex pattern should be wildcard")
	}
}

func TestRegexPatternCompileError(t *testing.T) {
	if _, err := Regex("("); err == nil {
		t.Fatal("Regex(\"(\") should fail to compile")
	}
}

func TestParseSelectsKind(t *testing.T) {
	cases := []struct {
		input string
		want  PatternKind
	}{
		{"task.created", KindExact},
		{"task.*", KindGlob},
		{"task.v?", KindGlob},
		{"plain", KindExact},
	}
	for _, tc := range cases {
		pattern, err := Parse(tc.input)
		if err != nil {
			t.Fatalf("Parse(%q): %v", tc.input, err)
		}
		if pattern.Kind() != tc.want {
			t.Errorf("Parse(%q).Kind() = %v, want %v", tc.input, pattern.Kind(), tc.want)
		}
	}
}

func TestPatternEqual(t *testing.T) {
	if !Exact("a.b").equal(Exact("a.b")) {
		t.Error("identical exact patterns should be equal")
	}
	if Exact("a.b").equal(Exact("a.c")) {
		t.Error("different exact patterns should not be equal")
	}
	if Exact("a.*").equal(MustGlob("a.*")) {
		t.Error("exact and glob with same text should not be equal")
	}
}

func TestCategoryOf(t *testing.T) {
	cases := []struct {
		eventType string
		want      string
	}{
		{"task.created", "task"},
		{"process.heartbeat.stale", "process"},
		{"shutdown", "shutdown"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := categoryOf(tc.eventType); got != tc.want {
			t.Errorf("categoryOf(%q) = %q, want %q", tc.eventType, got, tc.want)
		}
	}
}
