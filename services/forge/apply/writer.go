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
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/AleutianForge/services/forge/verdict"
)

// DiskWriter writes changes under a workspace root and snapshots the
// previous content of every file before overwriting it.
//
// DiskWriter implements verdict.ChangeWriter.
//
// Thread Safety: Safe for concurrent use. Writes are serialized.
type DiskWriter struct {
	root   string
	db     *badger.DB
	logger *slog.Logger

	mu sync.Mutex
}

// NewDiskWriter creates a writer rooted at root. The caller owns db.
func NewDiskWriter(root string, db *badger.DB, logger *slog.Logger) (*DiskWriter, error) {
	if db == nil {
		return nil, errors.New("snapshot store must not be nil")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DiskWriter{root: abs, db: db, logger: logger}, nil
}

// Root returns the absolute workspace root.
func (w *DiskWriter) Root() string {
	return w.root
}

// resolve returns the absolute path and the root-relative key of path.
func (w *DiskWriter) resolve(path string) (string, string, error) {
	abs := path
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(w.root, path)
	}
	abs = filepath.Clean(abs)

	rel, err := filepath.Rel(w.root, abs)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", "", fmt.Errorf("%w: %s", ErrOutsideRoot, path)
	}
	return abs, filepath.ToSlash(rel), nil
}

// WriteChange snapshots the current content of change.Path and writes
// change.NewContent in its place.
//
// When change.OldContent is set, the file must still hold exactly that
// content, otherwise ErrContentConflict is returned and nothing is
// written. A nil OldContent skips the check.
func (w *DiskWriter) WriteChange(ctx context.Context, change verdict.FileChange) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	abs, rel, err := w.resolve(change.Path)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	prev, err := readCurrent(abs)
	if err != nil {
		return err
	}
	if change.OldContent != nil && (!prev.Existed || prev.Content != *change.OldContent) {
		return fmt.Errorf("%w: %s", ErrContentConflict, rel)
	}

	if err := putSnapshot(w.db, rel, prev); err != nil {
		return fmt.Errorf("snapshot %s: %w", rel, err)
	}
	if err := writeAtomic(abs, []byte(change.NewContent)); err != nil {
		return err
	}

	w.logger.Debug("wrote change",
		slog.String("path", rel),
		slog.String("tool", change.ToolID),
	)
	return nil
}

// Restore puts back the snapshotted content of each path and drops its
// snapshot. Files that did not exist before their last write are
// removed. It returns the paths restored.
func (w *DiskWriter) Restore(ctx context.Context, paths []string) ([]string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	var restored []string
	var errs []error
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		abs, rel, err := w.resolve(path)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		snap, err := getSnapshot(w.db, rel)
		if err != nil {
			errs = append(errs, fmt.Errorf("restore %s: %w", rel, err))
			continue
		}

		if snap.Existed {
			err = writeAtomic(abs, []byte(snap.Content))
		} else {
			err = os.Remove(abs)
			if errors.Is(err, fs.ErrNotExist) {
				err = nil
			}
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("restore %s: %w", rel, err))
			continue
		}
		if err := deleteSnapshot(w.db, rel); err != nil {
			errs = append(errs, fmt.Errorf("drop snapshot %s: %w", rel, err))
		}
		restored = append(restored, path)
	}

	w.logger.Info("restored files", slog.Int("count", len(restored)))
	return restored, errors.Join(errs...)
}

// Snapshots lists the root-relative paths that can be restored.
func (w *DiskWriter) Snapshots() ([]string, error) {
	return snapshotPaths(w.db)
}

func readCurrent(abs string) (snapshot, error) {
	data, err := os.ReadFile(abs)
	if errors.Is(err, fs.ErrNotExist) {
		return snapshot{}, nil
	}
	if err != nil {
		return snapshot{}, fmt.Errorf("read %s: %w", abs, err)
	}
	return snapshot{Existed: true, Content: string(data)}, nil
}

// writeAtomic writes data to a hidden temp file next to abs and renames
// it into place.
func writeAtomic(abs string, data []byte) error {
	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}

	mode := fs.FileMode(0o644)
	if info, err := os.Stat(abs); err == nil {
		mode = info.Mode().Perm()
	}

	tmp, err := os.CreateTemp(dir, ".forge-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", abs, err)
	}
	if err := tmp.Chmod(mode); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod %s: %w", abs, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", abs, err)
	}
	if err := os.Rename(tmpName, abs); err != nil {
		return fmt.Errorf("rename into %s: %w", abs, err)
	}
	return nil
}
