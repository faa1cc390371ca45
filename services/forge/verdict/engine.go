// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package verdict

import (
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/AleutianAI/AleutianForge/services/forge/event"
)

// VetoConfidence is the confidence recorded for a veto vote.
const VetoConfidence = 1.0

// Engine accumulates votes per path and computes verdicts.
type Engine struct {
	mu sync.RWMutex

	voters     []string
	voterIndex map[string]struct{}
	votes      map[string][]event.Vote
	pending    []FileChange

	// lastApplication is nil when there is nothing to revert.
	lastApplication []string

	writer   ChangeWriter
	reviewer Reviewer
	logger   *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger. Nil keeps slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithWriter sets the ChangeWriter used to apply changes.
func WithWriter(w ChangeWriter) Option {
	return func(e *Engine) {
		if w != nil {
			e.writer = w
		}
	}
}

// WithReviewer sets the Reviewer consulted for Yellow changes.
func WithReviewer(r Reviewer) Option {
	return func(e *Engine) {
		if r != nil {
			e.reviewer = r
		}
	}
}

// NewEngine creates an empty engine.
//
// Without options, changes are handed to a writer that only logs, and
// Yellow changes are approved by AutoApprove.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		voterIndex: make(map[string]struct{}),
		votes:      make(map[string][]event.Vote),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.writer == nil {
		e.writer = logWriter{logger: e.logger}
	}
	if e.reviewer == nil {
		e.reviewer = AutoApprove{}
	}
	return e
}

func key(path string) string {
	return filepath.Clean(path)
}

// SubmitVote appends vote to path's vote list.
//
// Votes are never deduplicated or overwritten. Confidence is clamped to
// [0, 1].
func (e *Engine) SubmitVote(path string, vote event.Vote) error {
	if path == "" {
		return ErrEmptyPath
	}
	if vote.Confidence < 0 {
		vote.Confidence = 0
	} else if vote.Confidence > 1 {
		vote.Confidence = 1
	}

	k := key(path)
	e.mu.Lock()
	e.votes[k] = append(e.votes[k], vote)
	e.mu.Unlock()

	votesTotal.WithLabelValues(vote.Color.String()).Inc()
	return nil
}

// RegisterVoter records id as a known voter. Registering twice is a no-op.
//
// Registration is for audit only and does not gate SubmitVote.
func (e *Engine) RegisterVoter(id string) error {
	if id == "" {
		return ErrEmptyVoter
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.voterIndex[id]; ok {
		return nil
	}
	e.voterIndex[id] = struct{}{}
	e.voters = append(e.voters, id)
	e.logger.Info("registered voter", slog.String("voter", id))
	return nil
}

// Voters returns the registered voter ids in registration order.
func (e *Engine) Voters() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]string, len(e.voters))
	copy(out, e.voters)
	return out
}

// Votes returns a copy of the votes recorded for path.
func (e *Engine) Votes(path string) []event.Vote {
	e.mu.RLock()
	defer e.mu.RUnlock()

	votes := e.votes[key(path)]
	out := make([]event.Vote, len(votes))
	copy(out, votes)
	return out
}

// HasVoteFrom reports whether voterID has voted on path since the last
// Reset.
func (e *Engine) HasVoteFrom(path, voterID string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, v := range e.votes[key(path)] {
		if v.VoterID == voterID {
			return true
		}
	}
	return false
}

// QueryVerdict returns the aggregate color for path.
//
// The result is always Green, Yellow or Red; NoOpinion is never returned.
func (e *Engine) QueryVerdict(path string) event.Color {
	e.mu.RLock()
	color, rule := fold(e.votes[key(path)])
	e.mu.RUnlock()

	verdictQueries.WithLabelValues(rule).Inc()
	return color
}

// fold reduces votes to a verdict and names the rule that decided it.
func fold(votes []event.Vote) (event.Color, string) {
	if len(votes) == 0 {
		return event.Green, "default"
	}

	hasYellow := false
	allGreenOrAbstain := true
	for _, v := range votes {
		switch v.Color {
		case event.Red:
			return event.Red, "red"
		case event.Yellow:
			hasYellow = true
		case event.Green, event.NoOpinion:
		default:
			allGreenOrAbstain = false
		}
	}

	if hasYellow {
		return event.Yellow, "yellow"
	}
	if allGreenOrAbstain {
		return event.Green, "green"
	}
	// Permissive fallback for colors outside the known set.
	return event.Green, "fallback"
}

// IsGuaranteedSafe reports whether every vote for path is exactly Green.
//
// A path with no votes is not guaranteed safe, and a single NoOpinion
// disqualifies it.
func (e *Engine) IsGuaranteedSafe(path string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	votes := e.votes[key(path)]
	if len(votes) == 0 {
		return false
	}
	for _, v := range votes {
		if v.Color != event.Green {
			return false
		}
	}
	return true
}

// IssueVeto records a Red vote with full confidence for path.
func (e *Engine) IssueVeto(path, voterID, reason string) error {
	if voterID == "" {
		return ErrEmptyVoter
	}

	e.logger.Warn("veto issued",
		slog.String("path", path),
		slog.String("voter", voterID),
		slog.String("reason", reason),
	)

	if err := e.SubmitVote(path, event.Vote{
		VoterID:    voterID,
		Color:      event.Red,
		Reason:     reason,
		Confidence: VetoConfidence,
	}); err != nil {
		return err
	}
	vetoesTotal.Inc()
	return nil
}

// Stage appends changes to the pending buffer.
func (e *Engine) Stage(changes ...FileChange) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending = append(e.pending, changes...)
}

// Pending returns a copy of the pending buffer.
func (e *Engine) Pending() []FileChange {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]FileChange, len(e.pending))
	copy(out, e.pending)
	return out
}

// TakePending returns the pending buffer and empties it.
func (e *Engine) TakePending() []FileChange {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := e.pending
	e.pending = nil
	return out
}

// Reset clears all votes and the pending buffer.
//
// Called at operation boundaries such as before a staged commit or a
// variant switch. Registered voters and the last application survive.
func (e *Engine) Reset() {
	e.mu.Lock()
	e.votes = make(map[string][]event.Vote)
	e.pending = nil
	e.mu.Unlock()

	e.logger.Info("verdict engine reset")
}
