// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package workspace resolves the project root a Forge instance operates on.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
)

// DefaultMarkers are the directories that identify a workspace root, in
// priority order at each level.
var DefaultMarkers = []string{".dx", ".git"}

// DataDirName is the Forge data directory relative to the workspace root.
const DataDirName = ".dx/forge"

// DetectRoot walks up from start looking for a marker directory.
//
// Description:
//
//	Checks start and each of its parents for any of markers (DefaultMarkers
//	when empty). The first directory containing a marker is the root. When
//	no marker is found up to the filesystem root, start itself is returned.
//
// Inputs:
//
//	start - Directory to begin from. Empty means the current directory.
//	markers - Marker directory names.
//
// Outputs:
//
//	string - Absolute root path.
//	error - Non-nil only if start cannot be made absolute.
func DetectRoot(start string, markers ...string) (string, error) {
	if start == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("getting working directory: %w", err)
		}
		start = wd
	}
	if len(markers) == 0 {
		markers = DefaultMarkers
	}

	abs, err := filepath.Abs(start)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", start, err)
	}

	current := abs
	for {
		for _, marker := range markers {
			info, err := os.Stat(filepath.Join(current, marker))
			if err == nil && info.IsDir() {
				return current, nil
			}
		}

		parent := filepath.Dir(current)
		if parent == current {
			return abs, nil
		}
		current = parent
	}
}

// DataDir returns the Forge data directory for root.
func DataDir(root string) string {
	return filepath.Join(root, filepath.FromSlash(DataDirName))
}
