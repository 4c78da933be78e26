// Copyright 2026 The Dirigent Authors
// SPDX-License-Identifier: Apache-2.0

package event

import (
	"fmt"
	"regexp"
	"strings"
)

// PatternKind discriminates the three subscription pattern forms.
type PatternKind int

const (
	// KindExact matches one event type literally.
	KindExact PatternKind = iota
	// KindGlob matches with shell-style wildcards: '*' matches any
	// run of characters (including dots), '?' matches one character.
	KindGlob
	// KindRegex matches with a caller-supplied regular expression.
	KindRegex
)

func (k PatternKind) String() string {
	switch k {
	case KindExact:
		return "exact"
	case KindGlob:
		return "glob"
	case KindRegex:
		return "regex"
	default:
		return fmt.Sprintf("PatternKind(%d)", int(k))
	}
}

// Pattern is a tagged subscription pattern: exactly one of the three
// kinds, with one Match function across all of them. Construct with
// Exact, Glob, Regex, or Parse; the zero value matches nothing.
type Pattern struct {
	kind PatternKind
	raw  string
	re   *regexp.Regexp
}

// Exact returns a pattern that matches eventType literally.
func Exact(eventType string) Pattern {
	return Pattern{kind: KindExact, raw: eventType}
}

// Glob compiles a wildcard pattern: '*' matches any run of characters,
// '?' matches exactly one, '.' is literal. The match is anchored to
// the whole event type. Returns an error if the translated expression
// does not compile.
func Glob(pattern string) (Pattern, error) {
	re, err := globToRegexp(pattern)
	if err != nil {
		return Pattern{}, fmt.Errorf("event: compiling glob %q: %w", pattern, err)
	}
	return Pattern{kind: KindGlob, raw: pattern, re: re}, nil
}

// MustGlob is Glob that panics on a compile error. For patterns known
// valid at build time.
func MustGlob(pattern string) Pattern {
	p, err := Glob(pattern)
	if err != nil {
		panic(err)
	}
	return p
}

// Regex compiles a regular-expression pattern. The expression is used
// as given: callers anchor it themselves if they want whole-type
// matching.
func Regex(expr string) (Pattern, error) {
	re, err := regexp.Compile(expr)
	if err != nil {
		return Pattern{}, fmt.Errorf("event: compiling regex %q: %w", expr, err)
	}
	return Pattern{kind: KindRegex, raw: expr, re: re}, nil
}

// Parse builds a Pattern from a topic string, selecting Glob when it
// contains a wildcard character ('*' or '?') and Exact otherwise.
// This is the form used by configuration files and CLI flags, where
// the pattern kind is implied rather than spelled out.
func Parse(pattern string) (Pattern, error) {
	if strings.ContainsAny(pattern, "*?") {
		return Glob(pattern)
	}
	return Exact(pattern), nil
}

// Kind reports which pattern form this is.
func (p Pattern) Kind() PatternKind { return p.kind }

// String returns the original pattern text.
func (p Pattern) String() string { return p.raw }

// IsWildcard reports whether the pattern can match more than one
// event type (Glob or Regex). Wildcard listeners are tracked against
// the bus-wide wildcard capacity rather than a per-type cap.
func (p Pattern) IsWildcard() bool { return p.kind != KindExact }

// Match reports whether the pattern matches the given event type.
func (p Pattern) Match(eventType string) bool {
	switch p.kind {
	case KindExact:
		return p.raw != "" && p.raw == eventType
	case KindGlob, KindRegex:
		return p.re != nil && p.re.MatchString(eventType)
	default:
		return false
	}
}

// equal reports whether two patterns denote the same subscription
// pattern (same kind and same source text).
func (p Pattern) equal(other Pattern) bool {
	return p.kind == other.kind && p.raw == other.raw
}

// globToRegexp translates a glob into an anchored regular expression:
// '*' becomes ".*", '?' becomes ".", '.' is escaped, and every other
// character is quoted literally.
func globToRegexp(glob string) (*regexp.Regexp, error) {
	var builder strings.Builder
	builder.WriteString("^")
	for _, r := range glob {
		switch r {
		case '*':
			builder.WriteString(".*")
		case '?':
			builder.WriteString(".")
		default:
			builder.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	builder.WriteString("$")
	return regexp.Compile(builder.String())
}
