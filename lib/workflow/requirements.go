// Copyright 2026 The Dirigent Authors
// SPDX-License-Identifier: Apache-2.0

package workflow

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/dirigent-project/dirigent/lib/orchestration"
)

// DefaultRequirementPriority is assigned when a line carries no
// priority marker.
const DefaultRequirementPriority = 2

var (
	requirementIDPattern = regexp.MustCompile(`^REQ-(\d+):\s*`)
	bulletPattern        = regexp.MustCompile(`^[-*]\s+`)
	priorityPattern      = regexp.MustCompile(`\[P([0-3])\]\s*`)
	tagPattern           = regexp.MustCompile(`#([A-Za-z0-9_-]+)`)
)

// ParseRequirements extracts structured requirements from free text,
// line by line. A line counts as a requirement when it starts with a
// bullet ("- ", "* ") or an explicit "REQ-<n>:" prefix; everything
// else (headings, prose) is skipped. Within a requirement line,
// "[P0]".."[P3]" sets the priority (default 2) and "#tag" tokens
// become tags; both markers are stripped from the text.
func (e *Engine) ParseRequirements(_ context.Context, text string) ([]orchestration.Requirement, error) {
	var reqs []orchestration.Requirement
	generated := 0
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		rest := line
		bulleted := false
		if m := bulletPattern.FindString(rest); m != "" {
			rest = rest[len(m):]
			bulleted = true
		}
		var id string
		if m := requirementIDPattern.FindStringSubmatch(rest); m != nil {
			id = "REQ-" + m[1]
			rest = rest[len(m[0]):]
		} else if bulleted {
			generated++
			id = fmt.Sprintf("REQ-%d", generated)
		} else {
			continue
		}

		priority := DefaultRequirementPriority
		if m := priorityPattern.FindStringSubmatch(rest); m != nil {
			priority = int(m[1][0] - '0')
			rest = strings.Replace(rest, m[0], "", 1)
		}

		var tags []string
		for _, m := range tagPattern.FindAllStringSubmatch(rest, -1) {
			tags = append(tags, m[1])
		}
		rest = tagPattern.ReplaceAllString(rest, "")

		reqs = append(reqs, orchestration.Requirement{
			ID:       id,
			Text:     strings.Join(strings.Fields(rest), " "),
			Priority: priority,
			Tags:     tags,
		})
	}
	return reqs, nil
}
