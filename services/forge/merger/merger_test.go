// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package merger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianForge/services/forge/event"
	"github.com/AleutianAI/AleutianForge/services/forge/patterns"
)

type chanProducer struct {
	source event.Source
	ch     chan event.ChangeEvent
}

func newChanProducer(source event.Source) *chanProducer {
	return &chanProducer{source: source, ch: make(chan event.ChangeEvent, 16)}
}

func (p *chanProducer) Source() event.Source             { return p.source }
func (p *chanProducer) Events() <-chan event.ChangeEvent { return p.ch }

func ev(source event.Source, path string) event.ChangeEvent {
	return event.ChangeEvent{Path: path, Kind: event.KindModified, Source: source, Timestamp: time.Now()}
}

func quiet() Option {
	return WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func nextWithin(t *testing.T, sub *Subscription) (event.ChangeEvent, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return sub.Next(ctx)
}

func runMerger(t *testing.T, m *Merger, producers ...Producer) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx, producers...) }()
	t.Cleanup(cancel)
	return cancel, done
}

func TestMerger_FansInBothSources(t *testing.T) {
	m := New(quiet())
	sub := m.Subscribe()
	defer sub.Close()

	fs := newChanProducer(event.SourceFilesystem)
	ed := newChanProducer(event.SourceEditor)
	runMerger(t, m, fs, ed)

	for i := range 3 {
		fs.ch <- ev(event.SourceFilesystem, fmt.Sprintf("fs%d", i))
		ed.ch <- ev(event.SourceEditor, fmt.Sprintf("ed%d", i))
	}

	var fsPaths, edPaths []string
	for range 6 {
		got, err := nextWithin(t, sub)
		require.NoError(t, err)
		switch got.Source {
		case event.SourceFilesystem:
			fsPaths = append(fsPaths, got.Path)
		case event.SourceEditor:
			edPaths = append(edPaths, got.Path)
		}
	}
	assert.Equal(t, []string{"fs0", "fs1", "fs2"}, fsPaths, "per-source order kept")
	assert.Equal(t, []string{"ed0", "ed1", "ed2"}, edPaths)
	assert.Equal(t, uint64(6), m.Published())
}

func TestMerger_SubscriberSeesOnlyLaterEvents(t *testing.T) {
	m := New(quiet())
	ctx := context.Background()

	m.Publish(ctx, ev(event.SourceFilesystem, "before"))
	sub := m.Subscribe()
	m.Publish(ctx, ev(event.SourceFilesystem, "after"))

	got, err := nextWithin(t, sub)
	require.NoError(t, err)
	assert.Equal(t, "after", got.Path)
}

func TestMerger_EverySubscriberGetsEveryEvent(t *testing.T) {
	m := New(quiet())
	a, b := m.Subscribe(), m.Subscribe()
	assert.Equal(t, 2, m.Subscribers())

	m.Publish(context.Background(), ev(event.SourceEditor, "x"))

	for _, sub := range []*Subscription{a, b} {
		got, err := nextWithin(t, sub)
		require.NoError(t, err)
		assert.Equal(t, "x", got.Path)
	}
}

func TestMerger_LaggingSubscriberDropsOldest(t *testing.T) {
	m := New(quiet(), WithBacklog(4))
	ctx := context.Background()
	slow := m.Subscribe()

	for i := range 10 {
		m.Publish(ctx, ev(event.SourceFilesystem, fmt.Sprintf("e%d", i)))
	}
	fresh := m.Subscribe()
	m.Publish(ctx, ev(event.SourceFilesystem, "e10"))

	var got []string
	for range 4 {
		e, err := nextWithin(t, slow)
		require.NoError(t, err)
		got = append(got, e.Path)
	}
	assert.Equal(t, []string{"e7", "e8", "e9", "e10"}, got, "oldest retained first")
	assert.Equal(t, uint64(7), slow.Dropped())

	e, err := nextWithin(t, fresh)
	require.NoError(t, err)
	assert.Equal(t, "e10", e.Path)
	assert.Zero(t, fresh.Dropped(), "other subscribers unaffected")
}

func TestMerger_PublishNeverBlocks(t *testing.T) {
	m := New(quiet(), WithBacklog(8))
	sub := m.Subscribe()
	defer sub.Close()

	done := make(chan struct{})
	go func() {
		for i := range 10_000 {
			m.Publish(context.Background(), ev(event.SourceEditor, fmt.Sprint(i)))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publish blocked on an idle subscriber")
	}
}

func TestMerger_Enrichment(t *testing.T) {
	m := New(quiet(), WithDetector(patterns.NewDefaultDetector()))
	sub := m.Subscribe()
	ctx := context.Background()

	content := "<dxButton/>"
	withContent := ev(event.SourceEditor, "a.tsx")
	withContent.Content = &content
	m.Publish(ctx, withContent)

	preset := ev(event.SourceEditor, "b.tsx")
	preset.Content = &content
	preset.Patterns = []event.PatternMatch{{Text: "kept"}}
	m.Publish(ctx, preset)

	m.Publish(ctx, ev(event.SourceFilesystem, "c.tsx"))

	got, err := nextWithin(t, sub)
	require.NoError(t, err)
	require.Len(t, got.Patterns, 1)
	assert.Equal(t, "dxButton", got.Patterns[0].Text)

	got, err = nextWithin(t, sub)
	require.NoError(t, err)
	assert.Equal(t, []event.PatternMatch{{Text: "kept"}}, got.Patterns)

	got, err = nextWithin(t, sub)
	require.NoError(t, err)
	assert.Nil(t, got.Patterns, "no content, no enrichment")
}

func TestMerger_EnrichmentFailureStillPublishes(t *testing.T) {
	failing := patterns.DetectorFunc(func(string, string) ([]event.PatternMatch, error) {
		return nil, errors.New("detector down")
	})
	m := New(quiet(), WithDetector(failing))
	sub := m.Subscribe()

	content := "x"
	e := ev(event.SourceEditor, "a.ts")
	e.Content = &content
	m.Publish(context.Background(), e)

	got, err := nextWithin(t, sub)
	require.NoError(t, err)
	assert.Equal(t, "a.ts", got.Path)
}

func TestMerger_ProducerClosureDegrades(t *testing.T) {
	m := New(quiet())
	sub := m.Subscribe()

	fs := newChanProducer(event.SourceFilesystem)
	ed := newChanProducer(event.SourceEditor)
	_, done := runMerger(t, m, fs, ed)

	close(fs.ch)
	ed.ch <- ev(event.SourceEditor, "still-flowing")

	got, err := nextWithin(t, sub)
	require.NoError(t, err)
	assert.Equal(t, "still-flowing", got.Path)

	ed.ch <- ev(event.SourceEditor, "last")
	close(ed.ch)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("merger did not stop after all producers closed")
	}

	got, err = nextWithin(t, sub)
	require.NoError(t, err, "backlog drains before close is reported")
	assert.Equal(t, "last", got.Path)

	_, err = nextWithin(t, sub)
	assert.ErrorIs(t, err, ErrMergerClosed)
	assert.True(t, IsClosed(err))
}

func TestMerger_CancelClosesStream(t *testing.T) {
	m := New(quiet())
	sub := m.Subscribe()
	cancel, done := runMerger(t, m, newChanProducer(event.SourceFilesystem))

	cancel()
	require.NoError(t, <-done)

	_, err := nextWithin(t, sub)
	assert.ErrorIs(t, err, ErrMergerClosed)
}

func TestMerger_PublishAfterCloseIsNotCounted(t *testing.T) {
	m := New(quiet())
	cancel, done := runMerger(t, m, newChanProducer(event.SourceFilesystem))
	cancel()
	require.NoError(t, <-done)

	m.Publish(context.Background(), ev(event.SourceEditor, "late.ts"))
	assert.Equal(t, uint64(0), m.Published())
}

func TestMerger_RunErrors(t *testing.T) {
	m := New(quiet())
	assert.ErrorIs(t, m.Run(context.Background()), ErrNoProducers)

	p := newChanProducer(event.SourceEditor)
	runMerger(t, m, p)
	require.Eventually(t, func() bool { return m.running.Load() }, time.Second, time.Millisecond)
	assert.ErrorIs(t, m.Run(context.Background(), p), ErrAlreadyRunning)
}

func TestSubscription_Close(t *testing.T) {
	m := New(quiet())
	sub := m.Subscribe()

	errc := make(chan error, 1)
	go func() {
		_, err := sub.Next(context.Background())
		errc <- err
	}()

	sub.Close()
	sub.Close()
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrSubscriptionClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("Next did not return after Close")
	}
	assert.Zero(t, m.Subscribers())
}

func TestSubscription_NextHonorsContext(t *testing.T) {
	m := New(quiet())
	sub := m.Subscribe()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := sub.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSourceChannelClosedError(t *testing.T) {
	err := &SourceChannelClosedError{Source: event.SourceEditor}
	assert.Equal(t, "editor event channel closed", err.Error())
}
