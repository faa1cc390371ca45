// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package debounce provides cancellable delayed callbacks keyed by string.
//
// A new Trigger for a key supersedes any pending callback for that key: the
// old timer is stopped and the delay restarts. This is the primitive behind
// the filesystem debounce window and the idle-detection wait.
//
// Thread Safety:
//
//	Group is safe for concurrent use. Callbacks run on their own goroutine
//	(the time.AfterFunc goroutine) and never while the Group lock is held.
package debounce

import (
	"sync"
	"time"
)

type pending struct {
	timer *time.Timer
	gen   uint64
}

// Group holds at most one pending callback per key.
type Group struct {
	mu      sync.Mutex
	pending map[string]*pending
	gen     uint64
	stopped bool
}

// NewGroup creates an empty Group.
func NewGroup() *Group {
	return &Group{pending: make(map[string]*pending)}
}

// Trigger schedules fn to run after delay for key.
//
// Description:
//
//	Any callback already pending for key is cancelled and replaced. The
//	callback runs at most once. Calls after Stop are ignored.
//
// Inputs:
//
//	key - The supersession key (usually a path).
//	delay - How long to wait. Zero or negative runs fn on the next tick.
//	fn - The callback. Must not be nil.
//
// Outputs:
//
//	bool - True if an earlier pending callback was superseded.
func (g *Group) Trigger(key string, delay time.Duration, fn func()) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.stopped || fn == nil {
		return false
	}

	superseded := false
	if p, ok := g.pending[key]; ok {
		p.timer.Stop()
		superseded = true
	}

	g.gen++
	gen := g.gen
	p := &pending{gen: gen}
	p.timer = time.AfterFunc(delay, func() {
		if !g.claim(key, gen) {
			return
		}
		fn()
	})
	g.pending[key] = p

	return superseded
}

// claim removes the pending entry for key if it is still generation gen.
// A stale timer whose Stop raced with firing loses the claim.
func (g *Group) claim(key string, gen uint64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	p, ok := g.pending[key]
	if !ok || p.gen != gen {
		return false
	}
	delete(g.pending, key)
	return !g.stopped
}

// Cancel drops the pending callback for key.
//
// Outputs:
//
//	bool - True if a callback was pending.
func (g *Group) Cancel(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	p, ok := g.pending[key]
	if !ok {
		return false
	}
	p.timer.Stop()
	delete(g.pending, key)
	return true
}

// Pending returns the number of keys with a scheduled callback.
func (g *Group) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pending)
}

// Stop cancels every pending callback and rejects future triggers.
func (g *Group) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()

	for key, p := range g.pending {
		p.timer.Stop()
		delete(g.pending, key)
	}
	g.stopped = true
}
