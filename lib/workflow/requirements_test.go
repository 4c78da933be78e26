// Copyright 2026 The Dirigent Authors
// SPDX-License-Identifier: Apache-2.0

package workflow

import (
	"context"
	"reflect"
	"strings"
	"testing"

	"github.com/dirigent-project/dirigent/lib/orchestration"
)

func TestParseRequirements(t *testing.T) {
	engine, _, _, _ := newTestEngine(t, Config{Runner: instantRunner(nil, nil)})

	text := strings.Join([]string{
		"Deploy pipeline requirements:",
		"",
		"- [P1] add retry logic #infra #reliability",
		"- task without markers",
		"REQ-7: [P0] rotate credentials #security",
		"* REQ-9: bullet with explicit id",
		"* starred bullet line",
		"plain prose is skipped",
	}, "\n")

	reqs, err := engine.ParseRequirements(context.Background(), text)
	if err != nil {
		t.Fatalf("ParseRequirements: %v", err)
	}
	want := []orchestration.Requirement{
		{ID: "REQ-1", Text: "add retry logic", Priority: 1, Tags: []string{"infra", "reliability"}},
		{ID: "REQ-2", Text: "task without markers", Priority: 2},
		{ID: "REQ-7", Text: "rotate credentials", Priority: 0, Tags: []string{"security"}},
		{ID: "REQ-9", Text: "bullet with explicit id", Priority: 2},
		{ID: "REQ-3", Text: "starred bullet line", Priority: 2},
	}
	if !reflect.DeepEqual(reqs, want) {
		t.Errorf("ParseRequirements =\n%+v\nwant\n%+v", reqs, want)
	}
}

func TestParseRequirementsMarkers(t *testing.T) {
	engine, _, _, _ := newTestEngine(t, Config{Runner: instantRunner(nil, nil)})

	// Out-of-range priority markers are not recognized and stay in the
	// text; only the first recognized marker is stripped.
	reqs, err := engine.ParseRequirements(context.Background(), "- [P5] fix it [P1] soon")
	if err != nil {
		t.Fatalf("ParseRequirements: %v", err)
	}
	if len(reqs) != 1 {
		t.Fatalf("len(reqs) = %d, want 1", len(reqs))
	}
	if reqs[0].Priority != 1 {
		t.Errorf("Priority = %d, want 1", reqs[0].Priority)
	}
	if reqs[0].Text != "[P5] fix it soon" {
		t.Errorf("Text = %q, want unrecognized marker kept", reqs[0].Text)
	}
}

func TestParseRequirementsEmpty(t *testing.T) {
	engine, _, _, _ := newTestEngine(t, Config{Runner: instantRunner(nil, nil)})

	for _, text := range []string{"", "\n\n", "just prose\nand more prose"} {
		reqs, err := engine.ParseRequirements(context.Background(), text)
		if err != nil {
			t.Fatalf("ParseRequirements(%q): %v", text, err)
		}
		if len(reqs) != 0 {
			t.Errorf("ParseRequirements(%q) = %+v, want none", text, reqs)
		}
	}
}
