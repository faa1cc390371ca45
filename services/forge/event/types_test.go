// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKind_String(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{KindCreated, "created"},
		{KindModified, "modified"},
		{KindDeleted, "deleted"},
		{KindRenamed, "renamed"},
		{Kind(42), "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.kind.String())
		})
	}
}

func TestSource_String(t *testing.T) {
	assert.Equal(t, "editor", SourceEditor.String())
	assert.Equal(t, "filesystem", SourceFilesystem.String())
	assert.Equal(t, "unknown", Source(7).String())
}

func TestParseColor(t *testing.T) {
	for _, c := range []Color{Green, Yellow, Red, NoOpinion} {
		got, ok := ParseColor(c.String())
		assert.True(t, ok, c.String())
		assert.Equal(t, c, got)
	}

	_, ok := ParseColor("purple")
	assert.False(t, ok)

	got, ok := ParseColor("  RED ")
	assert.True(t, ok)
	assert.Equal(t, Red, got)
}

func TestChangeEvent_NeedsEnrichment(t *testing.T) {
	content := "x"

	assert.False(t, ChangeEvent{}.NeedsEnrichment())
	assert.True(t, ChangeEvent{Content: &content}.NeedsEnrichment())
	assert.False(t, ChangeEvent{Content: &content, Patterns: []PatternMatch{}}.NeedsEnrichment())
	assert.True(t, ChangeEvent{Content: &content}.HasContent())
}
