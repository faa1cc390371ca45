// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package editor turns editor document notifications into change events.
//
// The editor sees changes before they reach disk, so its events carry
// the full document text. Each document's versions must increase; an
// older or repeated version is dropped.
package editor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path/filepath"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianForge/services/forge/event"
)

var (
	// ErrStaleVersion is returned when a notification carries a version
	// not newer than the last one seen for the document.
	ErrStaleVersion = errors.New("stale document version")

	// ErrUnsupportedURI is returned for URIs that are not file URIs.
	ErrUnsupportedURI = errors.New("unsupported document uri")

	// ErrSessionClosed is returned after Close.
	ErrSessionClosed = errors.New("editor session closed")
)

// DefaultBufferSize is the capacity of the event channel.
const DefaultBufferSize = 256

// Session is an editor event producer.
//
// Thread Safety: Safe for concurrent use.
type Session struct {
	logger *slog.Logger
	out    chan event.ChangeEvent
	done   chan struct{}

	mu       sync.Mutex
	versions map[string]int32
	closed   bool
	inflight sync.WaitGroup
}

// NewSession creates a session. bufferSize below 1 uses
// DefaultBufferSize and a nil logger uses slog.Default().
func NewSession(bufferSize int, logger *slog.Logger) *Session {
	if bufferSize < 1 {
		bufferSize = DefaultBufferSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		logger:   logger.With(slog.String("source", event.SourceEditor.String())),
		out:      make(chan event.ChangeEvent, bufferSize),
		done:     make(chan struct{}),
		versions: make(map[string]int32),
	}
}

// Source returns event.SourceEditor.
func (s *Session) Source() event.Source {
	return event.SourceEditor
}

// Events returns the event channel. It is closed by Close.
func (s *Session) Events() <-chan event.ChangeEvent {
	return s.out
}

// PathFromURI converts a file URI to a local path. Values without a
// scheme are treated as paths already.
func PathFromURI(uri string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrUnsupportedURI, uri, err)
	}
	switch u.Scheme {
	case "":
		return filepath.Clean(uri), nil
	case "file":
		if u.Path == "" {
			return "", fmt.Errorf("%w: %s", ErrUnsupportedURI, uri)
		}
		return filepath.FromSlash(u.Path), nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedURI, uri)
	}
}

// DidOpen starts tracking a document at version. No event is emitted.
func (s *Session) DidOpen(uri string, version int32) error {
	path, err := PathFromURI(uri)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	s.versions[path] = version
	return nil
}

// DidChange emits a modified event carrying the full document text.
func (s *Session) DidChange(ctx context.Context, uri string, version int32, text string) error {
	return s.versioned(ctx, uri, version, event.KindModified, &text)
}

// DidCreate emits a created event for a new document.
func (s *Session) DidCreate(ctx context.Context, uri string, version int32, text string) error {
	return s.versioned(ctx, uri, version, event.KindCreated, &text)
}

// DidSave emits a modified event. text may be nil when the editor does
// not send content on save.
func (s *Session) DidSave(ctx context.Context, uri string, text *string) error {
	path, err := PathFromURI(uri)
	if err != nil {
		return err
	}
	return s.send(ctx, path, event.KindModified, text)
}

// DidClose stops tracking a document. No event is emitted.
func (s *Session) DidClose(uri string) error {
	path, err := PathFromURI(uri)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.versions, path)
	return nil
}

// DidDelete emits a deleted event and stops tracking the document.
func (s *Session) DidDelete(ctx context.Context, uri string) error {
	path, err := PathFromURI(uri)
	if err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.versions, path)
	s.mu.Unlock()

	return s.send(ctx, path, event.KindDeleted, nil)
}

func (s *Session) versioned(ctx context.Context, uri string, version int32, kind event.Kind, text *string) error {
	path, err := PathFromURI(uri)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if last, ok := s.versions[path]; ok && version <= last {
		s.mu.Unlock()
		s.logger.Debug("dropping stale document version",
			slog.String("path", path),
			slog.Int("version", int(version)),
			slog.Int("last", int(last)),
		)
		return fmt.Errorf("%w: %s version %d <= %d", ErrStaleVersion, path, version, last)
	}
	s.versions[path] = version
	s.mu.Unlock()

	return s.send(ctx, path, kind, text)
}

// send blocks until the event is buffered, ctx is done or the session
// closes.
func (s *Session) send(ctx context.Context, path string, kind event.Kind, text *string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.inflight.Add(1)
	s.mu.Unlock()
	defer s.inflight.Done()

	ev := event.ChangeEvent{
		Path:      path,
		Kind:      kind,
		Source:    event.SourceEditor,
		Timestamp: time.Now(),
		Content:   text,
	}

	select {
	case s.out <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrSessionClosed
	}
}

// Close stops the session and closes Events. Safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.done)
	s.mu.Unlock()

	s.inflight.Wait()
	close(s.out)
	s.logger.Debug("editor session closed")
}
