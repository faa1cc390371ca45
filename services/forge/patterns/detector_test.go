// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package patterns

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianForge/services/forge/event"
)

func TestDefaultDetector_FindsComponents(t *testing.T) {
	d := NewDefaultDetector()

	content := "import x\n<dxButton label=\"ok\"/> <dxiIcon name=\"home\"/>\nfont: dxfRoboto;\ndxlowercase"
	matches, err := d.Detect("app.tsx", content)
	require.NoError(t, err)
	require.Len(t, matches, 3)

	assert.Equal(t, event.PatternMatch{
		Path:     "app.tsx",
		Line:     2,
		Col:      2,
		Text:     "dxButton",
		Captures: []string{"", "Button"},
	}, matches[0])

	assert.Equal(t, "dxiIcon", matches[1].Text)
	assert.Equal(t, []string{"i", "Icon"}, matches[1].Captures)

	assert.Equal(t, 3, matches[2].Line)
	assert.Equal(t, []string{"f", "Roboto"}, matches[2].Captures)
}

func TestDefaultDetector_NoMatches(t *testing.T) {
	matches, err := NewDefaultDetector().Detect("a.go", "package a\n")
	require.NoError(t, err)
	assert.Nil(t, matches)
}

func TestNewRegexDetector_Errors(t *testing.T) {
	_, err := NewRegexDetector()
	assert.ErrorIs(t, err, ErrNoPatterns)

	_, err = NewRegexDetector("(")
	assert.Error(t, err)
}

func TestDetectorFunc(t *testing.T) {
	var d Detector = DetectorFunc(func(path, _ string) ([]event.PatternMatch, error) {
		return []event.PatternMatch{{Path: path}}, nil
	})
	got, err := d.Detect("x", "")
	require.NoError(t, err)
	assert.Equal(t, "x", got[0].Path)
}
