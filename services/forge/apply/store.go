// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package apply writes approved changes to the workspace and keeps a
// one-level undo snapshot of every file it touches.
//
// Snapshots live in BadgerDB, in memory unless a path is configured, so
// an undo survives only as long as the store does.
package apply

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"
)

// StoreConfig configures the snapshot store.
type StoreConfig struct {
	// Path is the directory for BadgerDB files. Empty means in memory.
	Path string

	// SyncWrites enables synchronous writes. Ignored in memory.
	SyncWrites bool

	// Logger receives BadgerDB's internal logs. Nil disables them.
	Logger *slog.Logger
}

type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// OpenStore opens a BadgerDB for snapshots.
//
// Description:
//
//	Opens an in-memory database when cfg.Path is empty, otherwise a
//	persistent one under cfg.Path, creating the directory if needed.
//	Only one version per key is kept.
//
// Outputs:
//
//	*badger.DB - Caller must Close it.
//	error - Non-nil if the directory or database cannot be opened.
func OpenStore(cfg StoreConfig) (*badger.DB, error) {
	var opts badger.Options
	if cfg.Path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create snapshot directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path).WithSyncWrites(cfg.SyncWrites)
	}
	opts = opts.WithNumVersionsToKeep(1)

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open snapshot store: %w", err)
	}
	return db, nil
}

var (
	// ErrContentConflict is returned when a file no longer holds the
	// content a change was proposed against.
	ErrContentConflict = errors.New("file changed since the change was proposed")

	// ErrOutsideRoot is returned for paths that resolve outside the root.
	ErrOutsideRoot = errors.New("path is outside the workspace root")

	// ErrNoSnapshot is returned by Restore for a path with no snapshot.
	ErrNoSnapshot = errors.New("no snapshot for path")
)
