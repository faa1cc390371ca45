// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package merger fans change events from several producers into one
// ordered stream that any number of subscribers can read.
//
// Publishing never blocks. Each subscriber reads at its own pace from a
// bounded backlog; a subscriber that falls further behind than the
// backlog loses the oldest events it had not read yet, and only that
// subscriber is affected.
package merger

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/AleutianForge/services/forge/event"
	"github.com/AleutianAI/AleutianForge/services/forge/patterns"
)

// DefaultBacklog is the number of events retained for subscribers.
const DefaultBacklog = 1000

var tracer = otel.Tracer("forge.merger")

var (
	eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "forge_merger_events_total",
		Help: "Events republished by source",
	}, []string{"source"})

	droppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "forge_merger_dropped_total",
		Help: "Events lost by lagging subscribers",
	})

	enrichErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "forge_merger_enrich_errors_total",
		Help: "Pattern detection failures during enrichment",
	})

	sourcesClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "forge_merger_sources_closed_total",
		Help: "Producer channels that closed",
	}, []string{"source"})
)

// Producer is a source of change events.
//
// Events must return the same channel on every call. The producer closes
// it when it stops.
type Producer interface {
	Source() event.Source
	Events() <-chan event.ChangeEvent
}

// Merger republishes events from its producers onto a broadcast ring.
type Merger struct {
	ring     *ring
	detector patterns.Detector
	logger   *slog.Logger

	running   atomic.Bool
	published atomic.Uint64

	mu   sync.Mutex
	subs map[uuid.UUID]*Subscription

	dropWarn rate.Sometimes
}

// Option configures a Merger.
type Option func(*Merger)

// WithBacklog sets the number of retained events. Values below 1 are
// ignored.
func WithBacklog(n int) Option {
	return func(m *Merger) {
		if n > 0 {
			m.ring = newRing(n)
		}
	}
}

// WithDetector sets the detector used to enrich events that carry
// content but no patterns. Without one, events pass through unchanged.
func WithDetector(d patterns.Detector) Option {
	return func(m *Merger) {
		m.detector = d
	}
}

// WithLogger sets the logger. Nil keeps slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(m *Merger) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// New creates a merger.
func New(opts ...Option) *Merger {
	m := &Merger{
		ring:     newRing(DefaultBacklog),
		logger:   slog.Default(),
		subs:     make(map[uuid.UUID]*Subscription),
		dropWarn: rate.Sometimes{First: 1, Interval: 5 * time.Second},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Subscribe returns a subscription that sees every event published after
// this call.
func (m *Merger) Subscribe() *Subscription {
	sub := &Subscription{
		id:     uuid.New(),
		ring:   m.ring,
		done:   make(chan struct{}),
		onDrop: m.noteDrops,
	}

	m.ring.mu.Lock()
	sub.cursor = m.ring.next
	m.ring.mu.Unlock()

	m.mu.Lock()
	m.subs[sub.id] = sub
	m.mu.Unlock()

	sub.detach = func() {
		m.mu.Lock()
		delete(m.subs, sub.id)
		m.mu.Unlock()
	}

	m.logger.Debug("subscriber attached", slog.String("subscription_id", sub.id.String()))
	return sub
}

// Subscribers returns the number of open subscriptions.
func (m *Merger) Subscribers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

// Published returns the number of events republished so far.
func (m *Merger) Published() uint64 {
	return m.published.Load()
}

func (m *Merger) noteDrops(sub *Subscription, n uint64) {
	droppedTotal.Add(float64(n))
	m.dropWarn.Do(func() {
		m.logger.Warn("subscriber lagging, events dropped",
			slog.String("subscription_id", sub.id.String()),
			slog.Uint64("dropped", n),
			slog.Uint64("dropped_total", sub.Dropped()),
		)
	})
}

// Run forwards events from producers until ctx is done or every
// producer has closed, then closes the stream.
//
// Description:
//
//	One goroutine per producer reads its channel. A closed channel is
//	logged as a SourceChannelClosedError and the other producers keep
//	flowing. Events that carry content but no patterns are passed
//	through the detector before they are published.
//
// Outputs:
//
//	error - ErrAlreadyRunning, ErrNoProducers, or nil. Producer closure
//	and cancellation are not errors.
func (m *Merger) Run(ctx context.Context, producers ...Producer) error {
	if len(producers) == 0 {
		return ErrNoProducers
	}
	if !m.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer m.ring.close()

	m.logger.Info("merger starting", slog.Int("producers", len(producers)))

	g, gctx := errgroup.WithContext(ctx)
	for _, p := range producers {
		g.Go(func() error {
			m.forward(gctx, p)
			return nil
		})
	}
	err := g.Wait()

	m.logger.Info("merger stopped", slog.Uint64("published", m.published.Load()))
	return err
}

func (m *Merger) forward(ctx context.Context, p Producer) {
	source := p.Source()
	ch := p.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				err := &SourceChannelClosedError{Source: source}
				sourcesClosed.WithLabelValues(source.String()).Inc()
				m.logger.Warn("producer closed, continuing without it",
					slog.String("source", source.String()),
					slog.String("error", err.Error()),
				)
				return
			}
			m.Publish(ctx, ev)
		}
	}
}

// Publish enriches ev if needed and appends it to the stream. It never
// blocks on subscribers. Events published after the stream closed are
// discarded.
func (m *Merger) Publish(ctx context.Context, ev event.ChangeEvent) {
	if ev.NeedsEnrichment() && m.detector != nil {
		ev.Patterns = m.enrich(ctx, ev)
	}
	if !m.ring.publish(ev) {
		return
	}
	m.published.Add(1)
	eventsTotal.WithLabelValues(ev.Source.String()).Inc()
}

func (m *Merger) enrich(ctx context.Context, ev event.ChangeEvent) []event.PatternMatch {
	_, span := tracer.Start(ctx, "merger.enrich",
		trace.WithAttributes(
			attribute.String("path", ev.Path),
			attribute.String("source", ev.Source.String()),
		),
	)
	defer span.End()

	matches, err := m.detector.Detect(ev.Path, *ev.Content)
	if err != nil {
		enrichErrors.Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		m.logger.Warn("pattern detection failed",
			slog.String("path", ev.Path),
			slog.String("error", err.Error()),
		)
		return nil
	}
	span.SetAttributes(attribute.Int("matches", len(matches)))
	if matches == nil {
		matches = []event.PatternMatch{}
	}
	return matches
}

// IsClosed reports whether err means the stream has ended for good.
func IsClosed(err error) bool {
	return errors.Is(err, ErrMergerClosed) || errors.Is(err, ErrSubscriptionClosed)
}
