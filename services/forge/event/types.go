// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package event defines the value types shared by the change producers, the
// stream merger, and the verdict engine.
//
// Thread Safety:
//
//	All types are plain values. A ChangeEvent is not mutated after it is
//	published, except for pattern enrichment performed by the merger before
//	republishing.
package event

import (
	"strings"
	"time"
)

// Kind is the type of change observed for a path.
type Kind int

const (
	// KindCreated indicates the path was created.
	KindCreated Kind = iota

	// KindModified indicates the path content changed.
	KindModified

	// KindDeleted indicates the path was removed.
	KindDeleted

	// KindRenamed indicates the path was renamed away.
	KindRenamed
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindCreated:
		return "created"
	case KindModified:
		return "modified"
	case KindDeleted:
		return "deleted"
	case KindRenamed:
		return "renamed"
	default:
		return "unknown"
	}
}

// Source identifies which producer observed a change.
type Source int

const (
	// SourceEditor is the low-latency editor (language server) producer.
	SourceEditor Source = iota

	// SourceFilesystem is the debounced filesystem notification producer.
	SourceFilesystem
)

// String returns the string representation of the source.
func (s Source) String() string {
	switch s {
	case SourceEditor:
		return "editor"
	case SourceFilesystem:
		return "filesystem"
	default:
		return "unknown"
	}
}

// PatternMatch is a single pattern occurrence found in file content.
type PatternMatch struct {
	// Path is the file the match was found in.
	Path string `json:"path"`

	// Line is the 1-based line number.
	Line int `json:"line"`

	// Col is the 1-based column of the first matched byte.
	Col int `json:"col"`

	// Text is the full matched text.
	Text string `json:"text"`

	// Captures holds the capture groups of the match, if any.
	Captures []string `json:"captures,omitempty"`
}

// ChangeEvent is a single observed change to a path.
type ChangeEvent struct {
	// Path is the absolute (filesystem) or document (editor) path.
	Path string

	// Kind is the type of change.
	Kind Kind

	// Source is the producer that observed the change.
	Source Source

	// Timestamp is when the change was observed.
	Timestamp time.Time

	// Content is the full new content when the producer has it.
	// Nil means the producer did not carry content.
	Content *string

	// Patterns holds pattern matches for Content.
	// Nil means detection has not run yet.
	Patterns []PatternMatch
}

// HasContent reports whether the event carries file content.
func (e ChangeEvent) HasContent() bool {
	return e.Content != nil
}

// NeedsEnrichment reports whether pattern detection should run on the event.
func (e ChangeEvent) NeedsEnrichment() bool {
	return e.Content != nil && e.Patterns == nil
}

// Color is a traffic-branch risk color.
//
// Green, Yellow, and Red are verdicts. NoOpinion is only valid as vote input.
type Color int

const (
	// Green means safe to apply automatically.
	Green Color = iota

	// Yellow means the change should be reviewed before applying.
	Yellow

	// Red means the change must not be applied automatically.
	Red

	// NoOpinion means the voter abstains.
	NoOpinion
)

// String returns the lowercase color name.
func (c Color) String() string {
	switch c {
	case Green:
		return "green"
	case Yellow:
		return "yellow"
	case Red:
		return "red"
	case NoOpinion:
		return "no_opinion"
	default:
		return "unknown"
	}
}

// ParseColor parses a color name as produced by Color.String.
func ParseColor(s string) (Color, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "green":
		return Green, true
	case "yellow":
		return Yellow, true
	case "red":
		return Red, true
	case "no_opinion", "noopinion", "none":
		return NoOpinion, true
	default:
		return NoOpinion, false
	}
}

// Vote is one voter's classification of a path.
type Vote struct {
	// VoterID identifies the voter (e.g. "security", "style").
	VoterID string `json:"voter_id"`

	// Color is the voter's classification.
	Color Color `json:"color"`

	// Reason is a short human-readable explanation.
	Reason string `json:"reason"`

	// Confidence is in [0, 1].
	Confidence float64 `json:"confidence"`
}
