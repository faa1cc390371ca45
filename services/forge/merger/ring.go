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
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianForge/services/forge/event"
)

// ring is a bounded broadcast buffer. Every published event gets the
// next sequence number and overwrites the slot of the event published
// capacity positions earlier.
type ring struct {
	mu     sync.Mutex
	buf    []event.ChangeEvent
	next   uint64
	closed bool

	// wake is closed and replaced on every publish and on close.
	wake chan struct{}
}

func newRing(capacity int) *ring {
	return &ring{
		buf:  make([]event.ChangeEvent, capacity),
		wake: make(chan struct{}),
	}
}

// publish appends ev and reports whether it was accepted. A closed ring
// accepts nothing.
func (r *ring) publish(ev event.ChangeEvent) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	r.buf[r.next%uint64(len(r.buf))] = ev
	r.next++
	close(r.wake)
	r.wake = make(chan struct{})
	return true
}

func (r *ring) close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	close(r.wake)
}

// oldest returns the sequence number of the oldest retained event.
// Caller holds mu.
func (r *ring) oldest() uint64 {
	if n := uint64(len(r.buf)); r.next > n {
		return r.next - n
	}
	return 0
}

// Subscription is one reader's cursor into the merged stream.
//
// Thread Safety: Next must not be called concurrently on the same
// Subscription. Close may be called from any goroutine.
type Subscription struct {
	id     uuid.UUID
	ring   *ring
	cursor uint64

	dropped atomic.Uint64
	onDrop  func(sub *Subscription, n uint64)

	closeOnce sync.Once
	done      chan struct{}
	detach    func()
}

// ID returns the subscription id.
func (s *Subscription) ID() uuid.UUID {
	return s.id
}

// Dropped returns how many events this subscriber missed by lagging
// more than the backlog behind.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Next blocks until the next event is available.
//
// Outputs:
//
//	event.ChangeEvent - The next event in publish order.
//	error - ctx.Err(), ErrSubscriptionClosed, or ErrMergerClosed once
//	the merger has stopped and every retained event has been read.
func (s *Subscription) Next(ctx context.Context) (event.ChangeEvent, error) {
	for {
		select {
		case <-s.done:
			return event.ChangeEvent{}, ErrSubscriptionClosed
		default:
		}

		r := s.ring
		r.mu.Lock()
		var lost uint64
		if oldest := r.oldest(); s.cursor < oldest {
			lost = oldest - s.cursor
			s.cursor = oldest
		}
		if s.cursor < r.next {
			ev := r.buf[s.cursor%uint64(len(r.buf))]
			s.cursor++
			r.mu.Unlock()
			s.recordDrops(lost)
			return ev, nil
		}
		closed := r.closed
		wake := r.wake
		r.mu.Unlock()
		s.recordDrops(lost)

		if closed {
			return event.ChangeEvent{}, ErrMergerClosed
		}

		select {
		case <-ctx.Done():
			return event.ChangeEvent{}, ctx.Err()
		case <-s.done:
			return event.ChangeEvent{}, ErrSubscriptionClosed
		case <-wake:
		}
	}
}

func (s *Subscription) recordDrops(n uint64) {
	if n == 0 {
		return
	}
	s.dropped.Add(n)
	if s.onDrop != nil {
		s.onDrop(s, n)
	}
}

// Close detaches the subscription. Pending and future Next calls return
// ErrSubscriptionClosed.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		if s.detach != nil {
			s.detach()
		}
	})
}
