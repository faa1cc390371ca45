// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package watcher produces change events from the filesystem.
//
// Every directory under the root is watched, including directories
// created after Start. Events are debounced per path: a burst of writes
// to one file yields a single event once the path has been quiet for
// the debounce window.
package watcher

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/AleutianAI/AleutianForge/services/forge/debounce"
	"github.com/AleutianAI/AleutianForge/services/forge/event"
)

// ErrAlreadyStarted is returned when Start is called twice.
var ErrAlreadyStarted = errors.New("watcher already started")

// Options configures a Watcher.
type Options struct {
	// DebounceWindow is how long a path must be quiet before its event
	// is emitted. Default: 100ms.
	DebounceWindow time.Duration

	// IgnoreGlobs are extra patterns dropped on top of the built-in
	// filter.
	IgnoreGlobs []string

	// BufferSize is the capacity of the event channel. Default: 256.
	BufferSize int

	// ReadContent attaches file content to create and modify events for
	// files up to MaxContentBytes.
	ReadContent bool

	// MaxContentBytes bounds ReadContent. Default: 1 MiB.
	MaxContentBytes int64

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultOptions returns the defaults.
func DefaultOptions() Options {
	return Options{
		DebounceWindow:  100 * time.Millisecond,
		BufferSize:      256,
		MaxContentBytes: 1 << 20,
	}
}

// Watcher is a filesystem event producer.
//
// Thread Safety: Safe for concurrent use. Events is read by one consumer.
type Watcher struct {
	root    string
	opts    Options
	filter  *Filter
	fsw     *fsnotify.Watcher
	pending *debounce.Group
	logger  *slog.Logger

	out      chan event.ChangeEvent
	done     chan struct{}
	wg       sync.WaitGroup
	inflight sync.WaitGroup

	mu      sync.RWMutex
	started bool
	closed  bool

	kindsMu sync.Mutex
	kinds   map[string]event.Kind
}

// New creates a watcher for root. Zero option fields take defaults.
func New(root string, opts Options) (*Watcher, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	defaults := DefaultOptions()
	if opts.DebounceWindow <= 0 {
		opts.DebounceWindow = defaults.DebounceWindow
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = defaults.BufferSize
	}
	if opts.MaxContentBytes <= 0 {
		opts.MaxContentBytes = defaults.MaxContentBytes
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Watcher{
		root:    abs,
		opts:    opts,
		filter:  NewFilter(abs, opts.IgnoreGlobs...),
		fsw:     fsw,
		pending: debounce.NewGroup(),
		logger:  logger.With(slog.String("source", event.SourceFilesystem.String())),
		out:     make(chan event.ChangeEvent, opts.BufferSize),
		done:    make(chan struct{}),
		kinds:   make(map[string]event.Kind),
	}, nil
}

// Source returns event.SourceFilesystem.
func (w *Watcher) Source() event.Source {
	return event.SourceFilesystem
}

// Events returns the debounced event channel. It is closed by Stop.
func (w *Watcher) Events() <-chan event.ChangeEvent {
	return w.out
}

// Root returns the absolute watched root.
func (w *Watcher) Root() string {
	return w.root
}

// Start adds every directory under the root and begins processing.
// Processing ends when ctx is done or Stop is called; either way Stop
// must be called to release resources and close Events.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return ErrAlreadyStarted
	}
	w.started = true
	w.mu.Unlock()

	if err := w.addRecursive(w.root); err != nil {
		return err
	}

	w.wg.Add(1)
	go w.processEvents(ctx)

	w.logger.Info("watching", slog.String("root", w.root))
	return nil
}

// Stop ends watching, drops pending debounced events and closes the
// event channel. Safe to call more than once.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	close(w.done)
	w.mu.Unlock()

	w.pending.Stop()
	w.fsw.Close()
	w.wg.Wait()

	// No emit can start once closed is set.
	w.inflight.Wait()
	close(w.out)
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == root {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if w.filter.Ignored(p) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(p); err != nil {
			w.logger.Warn("cannot watch directory", slog.String("path", p), slog.String("error", err.Error()))
		}
		return nil
	})
}

func (w *Watcher) processEvents(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", slog.String("error", err.Error()))
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if ev.Op == fsnotify.Chmod || w.filter.Ignored(ev.Name) {
		return
	}

	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.addRecursive(ev.Name); err != nil {
				w.logger.Warn("cannot watch new directory", slog.String("path", ev.Name), slog.String("error", err.Error()))
			}
			return
		}
	}

	path := ev.Name
	w.kindsMu.Lock()
	prev, hadPrev := w.kinds[path]
	w.kinds[path] = mergeKind(prev, hadPrev, convertOp(ev.Op))
	w.kindsMu.Unlock()

	w.pending.Trigger(path, w.opts.DebounceWindow, func() {
		w.emit(path)
	})
}

// mergeKind folds a new operation into the pending kind for a path so a
// burst reports what happened overall.
func mergeKind(prev event.Kind, hadPrev bool, next event.Kind) event.Kind {
	if !hadPrev {
		return next
	}
	switch {
	case next == event.KindDeleted || next == event.KindRenamed:
		return next
	case prev == event.KindCreated && next == event.KindModified:
		return event.KindCreated
	default:
		return next
	}
}

func convertOp(op fsnotify.Op) event.Kind {
	switch {
	case op.Has(fsnotify.Create):
		return event.KindCreated
	case op.Has(fsnotify.Remove):
		return event.KindDeleted
	case op.Has(fsnotify.Rename):
		return event.KindRenamed
	default:
		return event.KindModified
	}
}

func (w *Watcher) emit(path string) {
	w.mu.RLock()
	if w.closed {
		w.mu.RUnlock()
		return
	}
	w.inflight.Add(1)
	w.mu.RUnlock()
	defer w.inflight.Done()

	w.kindsMu.Lock()
	kind, ok := w.kinds[path]
	delete(w.kinds, path)
	w.kindsMu.Unlock()
	if !ok {
		return
	}

	ce := event.ChangeEvent{
		Path:      path,
		Kind:      kind,
		Source:    event.SourceFilesystem,
		Timestamp: time.Now(),
	}
	if w.opts.ReadContent && (kind == event.KindCreated || kind == event.KindModified) {
		ce.Content = w.readContent(path)
	}

	select {
	case w.out <- ce:
	case <-w.done:
	}
}

func (w *Watcher) readContent(path string) *string {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() || info.Size() > w.opts.MaxContentBytes {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	s := string(data)
	return &s
}
