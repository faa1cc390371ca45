// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package workspace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectRoot_FindsMarkerInParent(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, ".git"), 0o755))
	nested := filepath.Join(root, "src", "components")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	got, err := DetectRoot(nested)
	require.NoError(t, err)
	assert.Equal(t, root, got)
}

func TestDetectRoot_NearestMarkerWins(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, ".git"), 0o755))
	inner := filepath.Join(root, "packages", "ui")
	require.NoError(t, os.MkdirAll(filepath.Join(inner, ".dx"), 0o755))

	got, err := DetectRoot(filepath.Join(inner))
	require.NoError(t, err)
	assert.Equal(t, inner, got)
}

func TestDetectRoot_MarkerFileIsIgnored(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, ".zz-marker"), []byte("x"), 0o644))

	got, err := DetectRoot(root, ".zz-marker")
	require.NoError(t, err)
	assert.Equal(t, root, got, "falls back to start when only a file matches")
}

func TestDetectRoot_DefaultsToStart(t *testing.T) {
	start := t.TempDir()

	got, err := DetectRoot(start, ".definitely-not-a-marker")
	require.NoError(t, err)
	assert.Equal(t, start, got)
}

func TestDataDir(t *testing.T) {
	assert.Equal(t, filepath.Join("/repo", ".dx", "forge"), DataDir("/repo"))
}
