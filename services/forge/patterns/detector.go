// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package patterns provides the pattern-detection capability used to enrich
// editor change events.
//
// The capability itself is external: anything implementing Detector can be
// plugged into the merger. RegexDetector is the built-in implementation that
// finds dx component references such as dxButton, dxiIcon and dxfRoboto.
package patterns

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/AleutianAI/AleutianForge/services/forge/event"
)

// ErrNoPatterns is returned when a RegexDetector is built without patterns.
var ErrNoPatterns = errors.New("at least one pattern is required")

// Detector finds pattern matches in file content.
//
// Thread Safety:
//
//	Implementations must be safe for concurrent use.
type Detector interface {
	// Detect returns every match in content. A nil slice and nil error
	// means nothing matched.
	Detect(path, content string) ([]event.PatternMatch, error)
}

// DetectorFunc adapts a function to the Detector interface.
type DetectorFunc func(path, content string) ([]event.PatternMatch, error)

// Detect calls f.
func (f DetectorFunc) Detect(path, content string) ([]event.PatternMatch, error) {
	return f(path, content)
}

// DefaultPatterns match dx component references.
//
// Group 1 is the optional family letter (i = icon, f = font), group 2 the
// component name.
var DefaultPatterns = []string{
	`\bdx([if]?)([A-Z][A-Za-z0-9]*)\b`,
}

// RegexDetector matches a fixed set of regular expressions line by line.
type RegexDetector struct {
	exprs []*regexp.Regexp
}

// NewRegexDetector compiles the given expressions.
//
// Inputs:
//
//	exprs - Regular expressions (RE2 syntax). Must not be empty.
//
// Outputs:
//
//	*RegexDetector - The detector.
//	error - Non-nil if exprs is empty or any expression fails to compile.
func NewRegexDetector(exprs ...string) (*RegexDetector, error) {
	if len(exprs) == 0 {
		return nil, ErrNoPatterns
	}

	compiled := make([]*regexp.Regexp, 0, len(exprs))
	for _, expr := range exprs {
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("compiling pattern %q: %w", expr, err)
		}
		compiled = append(compiled, re)
	}

	return &RegexDetector{exprs: compiled}, nil
}

// NewDefaultDetector returns a RegexDetector using DefaultPatterns.
func NewDefaultDetector() *RegexDetector {
	d, err := NewRegexDetector(DefaultPatterns...)
	if err != nil {
		panic(fmt.Sprintf("patterns: default patterns do not compile: %v", err))
	}
	return d
}

// Detect implements Detector.
func (d *RegexDetector) Detect(path, content string) ([]event.PatternMatch, error) {
	var matches []event.PatternMatch

	for i, line := range strings.Split(content, "\n") {
		for _, re := range d.exprs {
			for _, loc := range re.FindAllStringSubmatchIndex(line, -1) {
				m := event.PatternMatch{
					Path: path,
					Line: i + 1,
					Col:  loc[0] + 1,
					Text: line[loc[0]:loc[1]],
				}
				for g := 2; g+1 < len(loc); g += 2 {
					if loc[g] < 0 {
						m.Captures = append(m.Captures, "")
						continue
					}
					m.Captures = append(m.Captures, line[loc[g]:loc[g+1]])
				}
				matches = append(matches, m)
			}
		}
	}

	return matches, nil
}
