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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/AleutianAI/AleutianForge/services/forge/event"
)

// FileChange is a proposed change to one file.
type FileChange struct {
	Path string `json:"path"`

	// OldContent is nil when the file does not exist yet.
	OldContent *string `json:"old_content,omitempty"`
	NewContent string  `json:"new_content"`
	ToolID     string  `json:"tool_id"`
}

// ChangeWriter applies a single change to the workspace.
type ChangeWriter interface {
	WriteChange(ctx context.Context, change FileChange) error
}

// Reviewer decides whether a Yellow change may be applied.
type Reviewer interface {
	Review(ctx context.Context, change FileChange, votes []event.Vote) (bool, error)
}

// ReviewerFunc adapts a function to Reviewer.
type ReviewerFunc func(ctx context.Context, change FileChange, votes []event.Vote) (bool, error)

// Review calls f.
func (f ReviewerFunc) Review(ctx context.Context, change FileChange, votes []event.Vote) (bool, error) {
	return f(ctx, change, votes)
}

// AutoApprove approves every change it is asked to review.
type AutoApprove struct{}

// Review always returns true.
func (AutoApprove) Review(context.Context, FileChange, []event.Vote) (bool, error) {
	return true, nil
}

type logWriter struct {
	logger *slog.Logger
}

func (w logWriter) WriteChange(_ context.Context, change FileChange) error {
	w.logger.Info("change applied",
		slog.String("path", change.Path),
		slog.String("tool", change.ToolID),
		slog.Int("bytes", len(change.NewContent)),
	)
	return nil
}

// ApplyReport describes what Apply did with each change.
type ApplyReport struct {
	// Applied holds every path written, including reviewed ones.
	Applied []string `json:"applied"`

	// Reviewed holds Yellow paths the reviewer approved.
	Reviewed []string `json:"reviewed"`

	// Declined holds Yellow paths the reviewer refused.
	Declined []string `json:"declined"`

	// Rejected holds Red paths.
	Rejected []string `json:"rejected"`
}

// Apply applies changes according to their verdicts.
//
// Description:
//
//	Green changes are written directly. Yellow changes are passed to the
//	Reviewer and written when approved. Red changes are never written and
//	are reported as rejected. When at least one path was written, the
//	written paths become the last application.
//
// Inputs:
//
//	ctx - Cancels between changes.
//	changes - Proposed changes.
//
// Outputs:
//
//	*ApplyReport - Always non-nil.
//	error - Joined write and review errors, or ctx.Err().
//
// Thread Safety: Safe for concurrent use. Writer and reviewer calls are
// made without holding the engine lock.
func (e *Engine) Apply(ctx context.Context, changes []FileChange) (*ApplyReport, error) {
	report := &ApplyReport{}
	var errs []error

	for _, change := range changes {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		switch e.QueryVerdict(change.Path) {
		case event.Red:
			e.logger.Warn("change rejected",
				slog.String("path", change.Path),
				slog.String("tool", change.ToolID),
			)
			report.Rejected = append(report.Rejected, change.Path)
			changesTotal.WithLabelValues("rejected").Inc()

		case event.Yellow:
			ok, err := e.reviewer.Review(ctx, change, e.Votes(change.Path))
			if err != nil {
				errs = append(errs, fmt.Errorf("review %s: %w", change.Path, err))
				continue
			}
			if !ok {
				report.Declined = append(report.Declined, change.Path)
				changesTotal.WithLabelValues("declined").Inc()
				continue
			}
			if err := e.write(ctx, change); err != nil {
				errs = append(errs, err)
				continue
			}
			report.Reviewed = append(report.Reviewed, change.Path)
			report.Applied = append(report.Applied, change.Path)
			changesTotal.WithLabelValues("reviewed").Inc()

		default:
			if err := e.write(ctx, change); err != nil {
				errs = append(errs, err)
				continue
			}
			report.Applied = append(report.Applied, change.Path)
			changesTotal.WithLabelValues("applied").Inc()
		}
	}

	e.recordApplication(report.Applied)
	return report, errors.Join(errs...)
}

// AcceptGreen applies only the changes whose verdict is Green and
// returns the paths written. Other changes are left untouched.
func (e *Engine) AcceptGreen(ctx context.Context, changes []FileChange) ([]string, error) {
	var green []FileChange
	for _, change := range changes {
		if e.QueryVerdict(change.Path) == event.Green {
			green = append(green, change)
		}
	}
	return e.ApplyPreapproved(ctx, green)
}

// ApplyPreapproved writes changes without consulting verdicts and records
// the written paths as the last application.
func (e *Engine) ApplyPreapproved(ctx context.Context, changes []FileChange) ([]string, error) {
	applied, err := e.writeAll(ctx, changes)
	e.recordApplication(applied)
	return applied, err
}

// ApplyForce writes changes without consulting verdicts. The last
// application is not touched, so a forced write cannot be reverted.
func (e *Engine) ApplyForce(ctx context.Context, changes []FileChange) ([]string, error) {
	e.logger.Warn("applying changes without verdicts", slog.Int("count", len(changes)))
	return e.writeAll(ctx, changes)
}

func (e *Engine) writeAll(ctx context.Context, changes []FileChange) ([]string, error) {
	var applied []string
	var errs []error
	for _, change := range changes {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := e.write(ctx, change); err != nil {
			errs = append(errs, err)
			continue
		}
		applied = append(applied, change.Path)
		changesTotal.WithLabelValues("applied").Inc()
	}
	return applied, errors.Join(errs...)
}

func (e *Engine) write(ctx context.Context, change FileChange) error {
	if change.Path == "" {
		return ErrEmptyPath
	}
	if err := e.writer.WriteChange(ctx, change); err != nil {
		changesTotal.WithLabelValues("failed").Inc()
		return fmt.Errorf("write %s: %w", change.Path, err)
	}
	return nil
}

// recordApplication replaces the last application when paths is non-empty.
func (e *Engine) recordApplication(paths []string) {
	if len(paths) == 0 {
		return
	}
	recorded := make([]string, len(paths))
	copy(recorded, paths)

	e.mu.Lock()
	e.lastApplication = recorded
	e.mu.Unlock()
}

// RevertMostRecentApplication returns the paths of the last recorded
// application and forgets them. Restoring file contents is the caller's
// job.
func (e *Engine) RevertMostRecentApplication() ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.lastApplication == nil {
		return nil, ErrNothingToRevert
	}
	paths := e.lastApplication
	e.lastApplication = nil

	e.logger.Info("reverting last application", slog.Int("paths", len(paths)))
	return paths, nil
}

var (
	badgeBase = lipgloss.NewStyle().Bold(true).Padding(0, 1)

	badges = map[event.Color]lipgloss.Style{
		event.Green:  badgeBase.Foreground(lipgloss.Color("0")).Background(lipgloss.Color("2")),
		event.Yellow: badgeBase.Foreground(lipgloss.Color("0")).Background(lipgloss.Color("3")),
		event.Red:    badgeBase.Foreground(lipgloss.Color("15")).Background(lipgloss.Color("1")),
	}

	dimStyle = lipgloss.NewStyle().Faint(true)
)

// Preview renders a dry run of changes, one line per change with its
// verdict badge, path, tool id and vote reasons. Nothing is written.
func (e *Engine) Preview(changes []FileChange) string {
	var b strings.Builder
	for _, change := range changes {
		color := e.QueryVerdict(change.Path)
		badge := badges[color].Render(strings.ToUpper(color.String()))

		b.WriteString(badge)
		b.WriteByte(' ')
		b.WriteString(change.Path)
		if change.ToolID != "" {
			b.WriteString(dimStyle.Render(" (" + change.ToolID + ")"))
		}
		b.WriteByte('\n')

		for _, v := range e.Votes(change.Path) {
			if v.Reason == "" {
				continue
			}
			fmt.Fprintf(&b, "    %s %s: %s\n", v.Color, v.VoterID, v.Reason)
		}
	}
	return b.String()
}
