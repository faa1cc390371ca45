// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrDuplicateRegistration is returned when a tool name is already
	// registered.
	ErrDuplicateRegistration = errors.New("tool already registered")

	// ErrInvalidTool is returned for a nil tool or a tool with no name.
	ErrInvalidTool = errors.New("invalid tool")

	// ErrInvalidVersion is returned when a tool version is not a semantic
	// version.
	ErrInvalidVersion = errors.New("invalid tool version")

	// ErrSchedulerSuspended is returned by ExecuteAll while suspended.
	ErrSchedulerSuspended = errors.New("scheduler is suspended")

	// ErrToolReportedFailure is the cause when a tool returns an output
	// with Success false and no error.
	ErrToolReportedFailure = errors.New("tool reported failure")

	// ErrNilOutput is the cause when a tool returns neither output nor
	// error.
	ErrNilOutput = errors.New("tool returned nil output")

	// ErrToolPanicked is the cause when Execute panics.
	ErrToolPanicked = errors.New("tool panicked")

	// ErrValueNotFound is returned by GetValue for a missing key.
	ErrValueNotFound = errors.New("value not found")
)

// UnresolvedDependencyError is returned when a tool depends on a name
// that is not registered.
type UnresolvedDependencyError struct {
	Tool string
	Dep  string
}

func (e *UnresolvedDependencyError) Error() string {
	return fmt.Sprintf("tool %q depends on unregistered tool %q", e.Tool, e.Dep)
}

// CycleError is returned when the dependency graph has a cycle.
//
// Cycle lists the tools on the cycle with the first repeated at the end,
// so a self dependency of A is [A A].
type CycleError struct {
	Cycle []string
}

func (e *CycleError) Error() string {
	return "dependency cycle detected: " + strings.Join(e.Cycle, " -> ")
}

// ExecutionTimeoutError is returned when Execute overruns its budget.
type ExecutionTimeoutError struct {
	Tool    string
	Timeout time.Duration
}

func (e *ExecutionTimeoutError) Error() string {
	return fmt.Sprintf("tool %q exceeded timeout of %s", e.Tool, e.Timeout)
}

// Unwrap returns context.DeadlineExceeded.
func (e *ExecutionTimeoutError) Unwrap() error {
	return context.DeadlineExceeded
}

// ToolExecutionError wraps a tool failure with the tool's name.
type ToolExecutionError struct {
	Tool  string
	Cause error
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("tool %q failed: %v", e.Tool, e.Cause)
}

func (e *ToolExecutionError) Unwrap() error {
	return e.Cause
}
