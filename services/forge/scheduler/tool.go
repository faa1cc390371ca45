// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package scheduler registers tools and runs them in dependency and
// priority order against a shared ExecutionContext.
//
// A run validates the whole graph before any tool executes: every
// dependency must be registered and the graph must be acyclic. Tools run
// one at a time. Each Execute call is bounded by the tool's timeout and a
// tool that overruns is abandoned.
package scheduler

import (
	"context"
	"time"
)

// DefaultTimeout is the execution budget of a BaseTool with no timeout set.
const DefaultTimeout = 60 * time.Second

// Tool is a unit of work the scheduler can run.
//
// Name must be unique within a scheduler. Priority orders tools with no
// dependency relation between them; lower runs first. A Timeout of zero
// or less disables the execution bound.
type Tool interface {
	Name() string
	Version() string
	Priority() int
	Dependencies() []string
	Timeout() time.Duration

	// ShouldRun reports whether the tool participates in this run.
	ShouldRun(ec *ExecutionContext) bool

	BeforeExecute(ctx context.Context, ec *ExecutionContext) error

	// Execute does the tool's work. It must return promptly once ctx is
	// done: on timeout the run moves on to the next tool, and an Execute
	// still running would share ec with it.
	Execute(ctx context.Context, ec *ExecutionContext) (*ToolOutput, error)
	AfterExecute(ctx context.Context, ec *ExecutionContext, out *ToolOutput) error

	// OnError is called with the cause of any failure of this tool.
	OnError(ctx context.Context, ec *ExecutionContext, err error) error
}

// BaseTool provides the descriptor fields and default hooks of a Tool.
//
// Embed it and implement Execute:
//
//	type FormatTool struct {
//	    scheduler.BaseTool
//	}
//
//	func (t *FormatTool) Execute(ctx context.Context, ec *scheduler.ExecutionContext) (*scheduler.ToolOutput, error) {
//	    ...
//	}
type BaseTool struct {
	ToolName         string
	ToolVersion      string
	ToolPriority     int
	ToolDependencies []string
	ToolTimeout      time.Duration
}

// Name returns the tool's unique name.
func (t *BaseTool) Name() string {
	return t.ToolName
}

// Version returns the tool's semantic version, "0.0.0" when unset.
func (t *BaseTool) Version() string {
	if t.ToolVersion == "" {
		return "0.0.0"
	}
	return t.ToolVersion
}

// Priority returns the tool's priority.
func (t *BaseTool) Priority() int {
	return t.ToolPriority
}

// Dependencies returns the names of tools that must run first.
func (t *BaseTool) Dependencies() []string {
	if t.ToolDependencies == nil {
		return []string{}
	}
	return t.ToolDependencies
}

// Timeout returns the execution budget, DefaultTimeout when unset.
func (t *BaseTool) Timeout() time.Duration {
	if t.ToolTimeout == 0 {
		return DefaultTimeout
	}
	return t.ToolTimeout
}

// ShouldRun returns true.
func (t *BaseTool) ShouldRun(*ExecutionContext) bool {
	return true
}

// BeforeExecute does nothing.
func (t *BaseTool) BeforeExecute(context.Context, *ExecutionContext) error {
	return nil
}

// AfterExecute does nothing.
func (t *BaseTool) AfterExecute(context.Context, *ExecutionContext, *ToolOutput) error {
	return nil
}

// OnError does nothing.
func (t *BaseTool) OnError(context.Context, *ExecutionContext, error) error {
	return nil
}
