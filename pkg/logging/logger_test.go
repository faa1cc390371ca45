// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", LevelDebug},
		{"INFO", LevelInfo},
		{"", LevelInfo},
		{"warning", LevelWarn},
		{" Error ", LevelError},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}

	_, err := ParseLevel("loud")
	assert.ErrorIs(t, err, ErrUnknownLevel)
}

func TestLevel_String(t *testing.T) {
	assert.Equal(t, "DEBUG", LevelDebug.String())
	assert.Equal(t, "ERROR", LevelError.String())
	assert.Equal(t, "UNKNOWN", Level(9).String())
}

func TestNew_AutoFormatIsJSONOffTerminal(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Config{Output: &buf, Service: "forge"})
	require.NoError(t, err)

	l.Slog().Info("hello", "path", "a.ts")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "hello", rec["msg"])
	assert.Equal(t, "forge", rec["service"])
	assert.Equal(t, "a.ts", rec["path"])
}

func TestNew_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Config{Output: &buf, Format: FormatText})
	require.NoError(t, err)

	l.Slog().Info("hello")
	assert.Contains(t, buf.String(), "msg=hello")
}

func TestNew_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Config{Output: &buf, Level: LevelWarn, Format: FormatText})
	require.NoError(t, err)

	l.Slog().Info("hidden")
	l.Slog().Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestNew_FileSink(t *testing.T) {
	dir := t.TempDir()
	var console bytes.Buffer
	l, err := New(Config{Output: &console, Format: FormatText, LogDir: dir, Service: "forge"})
	require.NoError(t, err)

	l.Slog().Info("to both")
	path := l.FilePath()
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())

	assert.Contains(t, console.String(), "to both")
	assert.True(t, strings.HasPrefix(path[len(dir)+1:], "forge_"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var rec map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(data), &rec))
	assert.Equal(t, "to both", rec["msg"])
}

func TestNew_Quiet(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Config{Output: &buf, Quiet: true})
	require.NoError(t, err)
	l.Slog().Error("nothing")
	assert.Empty(t, buf.String())
}
