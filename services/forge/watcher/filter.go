// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package watcher

import (
	"path"
	"path/filepath"
	"strings"
)

// ignoredDirs are directory names skipped anywhere under the root.
var ignoredDirs = map[string]struct{}{
	"target":       {},
	"node_modules": {},
	".dx":          {},
	".git":         {},
}

// ignoredSuffixes mark editor swap files, temp files and lock files.
var ignoredSuffixes = []string{".tmp", ".swp", ".lock"}

// Filter decides which paths under a root produce events.
type Filter struct {
	root  string
	globs []string
}

// NewFilter returns a filter for paths under root. Globs use path.Match
// syntax and are matched against both the base name and the slash
// separated path relative to root.
func NewFilter(root string, globs ...string) *Filter {
	return &Filter{root: filepath.Clean(root), globs: globs}
}

// Ignored reports whether p should be dropped.
//
// Dropped are hidden files and directories, names containing "~", names
// ending in .tmp, .swp or .lock, anything inside target, node_modules,
// .dx or .git, and anything matching a configured glob. The root itself
// is never ignored.
func (f *Filter) Ignored(p string) bool {
	rel, err := filepath.Rel(f.root, filepath.Clean(p))
	if err != nil || rel == "." {
		return false
	}
	rel = filepath.ToSlash(rel)
	if strings.HasPrefix(rel, "../") {
		return true
	}

	parts := strings.Split(rel, "/")
	for _, part := range parts {
		if _, ok := ignoredDirs[part]; ok {
			return true
		}
		if strings.HasPrefix(part, ".") {
			return true
		}
	}

	base := parts[len(parts)-1]
	if strings.Contains(base, "~") {
		return true
	}
	for _, suffix := range ignoredSuffixes {
		if strings.HasSuffix(base, suffix) {
			return true
		}
	}

	for _, glob := range f.globs {
		if ok, _ := path.Match(glob, base); ok {
			return true
		}
		if ok, _ := path.Match(glob, rel); ok {
			return true
		}
	}
	return false
}
