// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package apply

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianForge/services/forge/event"
	"github.com/AleutianAI/AleutianForge/services/forge/verdict"
)

func newTestWriter(t *testing.T) (*DiskWriter, string) {
	t.Helper()
	db, err := OpenStore(StoreConfig{})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	root := t.TempDir()
	w, err := NewDiskWriter(root, db, nil)
	require.NoError(t, err)
	return w, root
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestDiskWriter_WriteAndRestore(t *testing.T) {
	w, root := newTestWriter(t)
	ctx := context.Background()
	existing := filepath.Join(root, "src", "a.ts")
	require.NoError(t, os.MkdirAll(filepath.Dir(existing), 0o755))
	require.NoError(t, os.WriteFile(existing, []byte("old"), 0o600))

	require.NoError(t, w.WriteChange(ctx, verdict.FileChange{Path: "src/a.ts", NewContent: "new"}))
	require.NoError(t, w.WriteChange(ctx, verdict.FileChange{Path: "docs/b.md", NewContent: "doc"}))

	assert.Equal(t, "new", readFile(t, existing))
	assert.Equal(t, "doc", readFile(t, filepath.Join(root, "docs", "b.md")))

	info, err := os.Stat(existing)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm(), "mode preserved")

	snaps, err := w.Snapshots()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"src/a.ts", "docs/b.md"}, snaps)

	restored, err := w.Restore(ctx, []string{"src/a.ts", "docs/b.md"})
	require.NoError(t, err)
	assert.Equal(t, []string{"src/a.ts", "docs/b.md"}, restored)

	assert.Equal(t, "old", readFile(t, existing))
	_, err = os.Stat(filepath.Join(root, "docs", "b.md"))
	assert.True(t, os.IsNotExist(err), "created file is removed")

	snaps, err = w.Snapshots()
	require.NoError(t, err)
	assert.Empty(t, snaps)
}

func TestDiskWriter_AbsolutePath(t *testing.T) {
	w, root := newTestWriter(t)
	abs := filepath.Join(root, "x.txt")

	require.NoError(t, w.WriteChange(context.Background(), verdict.FileChange{Path: abs, NewContent: "1"}))
	assert.Equal(t, "1", readFile(t, abs))
}

func TestDiskWriter_ContentConflict(t *testing.T) {
	w, root := newTestWriter(t)
	path := filepath.Join(root, "a.go")
	require.NoError(t, os.WriteFile(path, []byte("actual"), 0o644))

	stale := "expected"
	err := w.WriteChange(context.Background(), verdict.FileChange{Path: "a.go", OldContent: &stale, NewContent: "new"})
	require.ErrorIs(t, err, ErrContentConflict)
	assert.Equal(t, "actual", readFile(t, path))

	current := "actual"
	require.NoError(t, w.WriteChange(context.Background(), verdict.FileChange{Path: "a.go", OldContent: &current, NewContent: "new"}))
	assert.Equal(t, "new", readFile(t, path))
}

func TestDiskWriter_OutsideRoot(t *testing.T) {
	w, _ := newTestWriter(t)
	err := w.WriteChange(context.Background(), verdict.FileChange{Path: "../escape.txt", NewContent: "x"})
	assert.ErrorIs(t, err, ErrOutsideRoot)
}

func TestDiskWriter_RestoreWithoutSnapshot(t *testing.T) {
	w, _ := newTestWriter(t)
	restored, err := w.Restore(context.Background(), []string{"never.txt"})
	require.ErrorIs(t, err, ErrNoSnapshot)
	assert.Empty(t, restored)
}

func TestDiskWriter_RevertThroughEngine(t *testing.T) {
	w, root := newTestWriter(t)
	ctx := context.Background()
	path := filepath.Join(root, "README.md")
	require.NoError(t, os.WriteFile(path, []byte("v1"), 0o644))

	e := verdict.NewEngine(verdict.WithWriter(w))
	require.NoError(t, e.IssueVeto("api.proto", "schema", "breaking"))

	report, err := e.Apply(ctx, []verdict.FileChange{
		{Path: "README.md", NewContent: "v2", ToolID: "docs"},
		{Path: "api.proto", NewContent: "message X {}", ToolID: "gen"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"README.md"}, report.Applied)
	assert.Equal(t, []string{"api.proto"}, report.Rejected)
	assert.Equal(t, "v2", readFile(t, path))

	paths, err := e.RevertMostRecentApplication()
	require.NoError(t, err)
	_, err = w.Restore(ctx, paths)
	require.NoError(t, err)
	assert.Equal(t, "v1", readFile(t, path))
	assert.Equal(t, event.Red, e.QueryVerdict("api.proto"))
}

func TestOpenStore_Persistent(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "snapshots")
	db, err := OpenStore(StoreConfig{Path: dir})
	require.NoError(t, err)

	require.NoError(t, putSnapshot(db, "a", snapshot{Existed: true, Content: "c"}))
	require.NoError(t, db.Close())

	db, err = OpenStore(StoreConfig{Path: dir})
	require.NoError(t, err)
	defer db.Close()

	s, err := getSnapshot(db, "a")
	require.NoError(t, err)
	assert.Equal(t, snapshot{Existed: true, Content: "c"}, s)

	_, err = getSnapshot(db, "b")
	assert.ErrorIs(t, err, ErrNoSnapshot)
}
