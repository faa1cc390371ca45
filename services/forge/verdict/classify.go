// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package verdict

import (
	"path/filepath"
	"strings"

	"github.com/AleutianAI/AleutianForge/services/forge/event"
)

// TrafficVoterID is the voter id of the built-in extension classifier.
const TrafficVoterID = "forge.traffic"

var (
	greenExtensions = map[string]struct{}{
		".md": {}, ".txt": {}, ".json": {},
		".css": {}, ".scss": {}, ".less": {},
		".png": {}, ".jpg": {}, ".svg": {}, ".ico": {},
	}

	redExtensions = map[string]struct{}{
		".proto": {}, ".graphql": {}, ".gql": {}, ".sql": {},
	}

	codeExtensions = map[string]struct{}{
		".ts": {}, ".tsx": {}, ".js": {}, ".jsx": {}, ".rs": {}, ".go": {},
		".py": {}, ".java": {}, ".cpp": {}, ".c": {}, ".h": {},
	}

	// Matched as substrings of the base name.
	testMarkers = []string{".test.", ".spec.", "_test."}

	// Matched against the -, _ and . separated words of each path segment
	// of a code file.
	contractMarkers = map[string]struct{}{
		"api": {}, "interface": {}, "types": {}, "schema": {},
	}
)

// ClassifyPath returns the default risk color of a path and a reason.
//
// Documentation, styles, assets and tests are Green. Schema and query
// definitions are Red. Code files are Yellow unless the path suggests a
// public contract, in which case they are Red. Anything else is Yellow.
// Pass a path relative to the workspace root so that directories above it
// do not count.
func ClassifyPath(path string) (event.Color, string) {
	base := strings.ToLower(filepath.Base(path))
	ext := filepath.Ext(base)

	for _, m := range testMarkers {
		if strings.Contains(base, m) {
			return event.Green, "test file"
		}
	}
	if _, ok := greenExtensions[ext]; ok {
		return event.Green, "documentation, style or asset"
	}
	if _, ok := redExtensions[ext]; ok {
		return event.Red, "schema or query definition"
	}
	if _, ok := codeExtensions[ext]; ok {
		if touchesContract(path) {
			return event.Red, "code touching a public contract"
		}
		return event.Yellow, "code change"
	}
	return event.Yellow, "unknown file type"
}

func touchesContract(path string) bool {
	for _, segment := range strings.Split(strings.ToLower(filepath.ToSlash(path)), "/") {
		words := strings.FieldsFunc(segment, func(r rune) bool {
			return r == '-' || r == '_' || r == '.'
		})
		for _, w := range words {
			if _, ok := contractMarkers[w]; ok {
				return true
			}
		}
	}
	return false
}

// DefaultVote returns the built-in classifier vote for path.
func DefaultVote(path string) event.Vote {
	color, reason := ClassifyPath(path)
	return event.Vote{
		VoterID:    TrafficVoterID,
		Color:      color,
		Reason:     reason,
		Confidence: 0.8,
	}
}
