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
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/mod/semver"

	"github.com/AleutianAI/AleutianForge/services/forge/event"
)

// Config controls how ExecuteAll runs tools.
type Config struct {
	// FailFast stops the run at the first failing tool.
	FailFast bool `yaml:"fail_fast"`

	// Parallel is reserved. Tools always run one at a time.
	Parallel bool `yaml:"parallel"`

	// MaxConcurrent is reserved.
	MaxConcurrent int `yaml:"max_concurrent"`

	// TrafficBranchEnabled computes verdicts for every path the run's
	// tools touched.
	TrafficBranchEnabled bool `yaml:"traffic_branch_enabled"`
}

// DefaultConfig returns fail-fast, sequential, traffic branch enabled.
func DefaultConfig() Config {
	return Config{
		FailFast:             true,
		MaxConcurrent:        1,
		TrafficBranchEnabled: true,
	}
}

// ToolResult records what happened to one tool in a run.
type ToolResult struct {
	Tool    string      `json:"tool"`
	Skipped bool        `json:"skipped"`
	Output  *ToolOutput `json:"output,omitempty"`

	// Err is the failure cause, nil on success or skip.
	Err error `json:"-"`
}

// RunSummary describes a finished or aborted run.
type RunSummary struct {
	RunID string `json:"run_id"`

	// Order is the validated execution order, including skipped tools.
	Order   []string     `json:"order"`
	Results []ToolResult `json:"results"`

	Executed int `json:"executed"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`

	// Verdicts holds the verdict of every touched path when the traffic
	// branch is enabled and the context has an engine.
	Verdicts map[string]event.Color `json:"verdicts,omitempty"`

	Duration time.Duration `json:"duration"`
}

// Outputs returns the outputs of tools that ran, in execution order.
func (s *RunSummary) Outputs() []*ToolOutput {
	var out []*ToolOutput
	for _, r := range s.Results {
		if r.Output != nil {
			out = append(out, r.Output)
		}
	}
	return out
}

// Scheduler holds registered tools and runs them.
//
// Thread Safety: Register, Suspend and Resume are safe for concurrent use.
// ExecuteAll calls are serialized.
type Scheduler struct {
	cfg    Config
	logger *slog.Logger

	mu    sync.RWMutex
	tools []Tool
	names map[string]struct{}

	runMu     sync.Mutex
	suspended atomic.Bool
}

// New creates a scheduler. A nil logger uses slog.Default().
func New(cfg Config, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Parallel || cfg.MaxConcurrent > 1 {
		logger.Warn("parallel execution is not supported, tools run sequentially",
			slog.Int("max_concurrent", cfg.MaxConcurrent),
		)
	}
	return &Scheduler{
		cfg:    cfg,
		logger: logger,
		names:  make(map[string]struct{}),
	}
}

// Config returns the scheduler configuration.
func (s *Scheduler) Config() Config {
	return s.cfg
}

// Register adds tool to the scheduler.
//
// Outputs:
//
//	error - ErrInvalidTool for a nil tool or empty name, ErrInvalidVersion
//	for a version that is not semver, ErrDuplicateRegistration when the
//	name is taken.
func (s *Scheduler) Register(tool Tool) error {
	if tool == nil {
		return fmt.Errorf("%w: nil tool", ErrInvalidTool)
	}
	name := tool.Name()
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidTool)
	}
	if !validVersion(tool.Version()) {
		return fmt.Errorf("%w: %s %q", ErrInvalidVersion, name, tool.Version())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.names[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateRegistration, name)
	}
	s.names[name] = struct{}{}
	s.tools = append(s.tools, tool)

	s.logger.Debug("registered tool",
		slog.String("tool", name),
		slog.String("version", tool.Version()),
		slog.Int("priority", tool.Priority()),
	)
	return nil
}

func validVersion(v string) bool {
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return semver.IsValid(v)
}

// Tools returns the registered tool names in registration order.
func (s *Scheduler) Tools() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, len(s.tools))
	for i, t := range s.tools {
		names[i] = t.Name()
	}
	return names
}

// Suspend makes ExecuteAll fail with ErrSchedulerSuspended until Resume.
// A run already in progress is not interrupted.
func (s *Scheduler) Suspend() {
	if !s.suspended.Swap(true) {
		s.logger.Info("scheduler suspended")
	}
}

// Resume lifts a Suspend.
func (s *Scheduler) Resume() {
	if s.suspended.Swap(false) {
		s.logger.Info("scheduler resumed")
	}
}

// Suspended reports whether the scheduler is suspended.
func (s *Scheduler) Suspended() bool {
	return s.suspended.Load()
}

// ExecuteAll validates the registered tools and runs them in order.
//
// Description:
//
//	Validation happens first and touches no tool: an unresolved
//	dependency or a cycle returns an error with no hook called. Tools
//	then run one at a time. A tool whose ShouldRun returns false is
//	skipped. Otherwise BeforeExecute, Execute and AfterExecute run in
//	turn, and any failure among them goes to OnError. With FailFast the
//	first failure ends the run; without it the run continues and failures
//	are only counted.
//
// Inputs:
//
//	ctx - Cancellation aborts the run before the next tool.
//	ec - Shared by every tool of the run. Must not be nil.
//
// Outputs:
//
//	*RunSummary - Non-nil whenever a run started, including a fail-fast
//	abort.
//	error - ErrSchedulerSuspended, validation errors, ctx.Err(), or the
//	first failure under FailFast (*ExecutionTimeoutError or
//	*ToolExecutionError).
//
// Thread Safety: Safe for concurrent use. Runs are serialized.
func (s *Scheduler) ExecuteAll(ctx context.Context, ec *ExecutionContext) (*RunSummary, error) {
	if s.suspended.Load() {
		return nil, ErrSchedulerSuspended
	}
	if ec == nil {
		return nil, errors.New("execution context must not be nil")
	}

	s.runMu.Lock()
	defer s.runMu.Unlock()

	s.mu.RLock()
	tools := make([]Tool, len(s.tools))
	copy(tools, s.tools)
	s.mu.RUnlock()

	order, err := plan(tools)
	if err != nil {
		s.logger.Error("tool validation failed", slog.String("error", err.Error()))
		return nil, err
	}

	m := metrics(s.logger)
	summary := &RunSummary{
		RunID: uuid.NewString(),
		Order: make([]string, len(order)),
	}
	for i, t := range order {
		summary.Order[i] = t.Name()
	}

	ctx, span := tracer.Start(ctx, "scheduler.ExecuteAll",
		trace.WithAttributes(
			attribute.String("run_id", summary.RunID),
			attribute.Int("tool_count", len(order)),
			attribute.Bool("fail_fast", s.cfg.FailFast),
		),
	)
	defer span.End()

	logger := s.logger.With(slog.String("run_id", summary.RunID))
	logger.Info("run starting",
		slog.Int("tools", len(order)),
		slog.String("order", strings.Join(summary.Order, " -> ")),
	)

	start := time.Now()
	runErr := s.runTools(ctx, ec, order, summary, logger)
	summary.Duration = time.Since(start)

	if s.cfg.TrafficBranchEnabled && ec.Verdicts != nil {
		summary.Verdicts = touchedVerdicts(summary, ec)
	}

	result := "success"
	if runErr != nil {
		result = "error"
		span.RecordError(runErr)
		span.SetStatus(codes.Error, runErr.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.SetAttributes(
		attribute.Int("executed", summary.Executed),
		attribute.Int("skipped", summary.Skipped),
		attribute.Int("failed", summary.Failed),
	)
	if m.runDuration != nil {
		m.runDuration.Record(ctx, summary.Duration.Seconds())
	}
	if m.runs != nil {
		m.runs.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
	}

	logger.Info("run complete",
		slog.Int("executed", summary.Executed),
		slog.Int("skipped", summary.Skipped),
		slog.Int("failed", summary.Failed),
		slog.Duration("duration", summary.Duration),
	)
	return summary, runErr
}

func (s *Scheduler) runTools(ctx context.Context, ec *ExecutionContext, order []Tool, summary *RunSummary, logger *slog.Logger) error {
	for i, tool := range order {
		if err := ctx.Err(); err != nil {
			logger.Warn("run cancelled", slog.String("next_tool", tool.Name()))
			return err
		}

		if !tool.ShouldRun(ec) {
			logger.Info("skipping tool", slog.String("tool", tool.Name()))
			summary.Skipped++
			summary.Results = append(summary.Results, ToolResult{Tool: tool.Name(), Skipped: true})
			continue
		}

		logger.Info("executing tool",
			slog.String("tool", tool.Name()),
			slog.String("version", tool.Version()),
			slog.Int("priority", tool.Priority()),
			slog.Int("position", i+1),
			slog.Int("total", len(order)),
		)

		out, err := s.runTool(ctx, ec, tool, logger)
		summary.Results = append(summary.Results, ToolResult{Tool: tool.Name(), Output: out, Err: err})
		if err == nil {
			summary.Executed++
			continue
		}

		summary.Failed++
		if s.cfg.FailFast {
			logger.Error("fail-fast enabled, stopping run", slog.String("tool", tool.Name()))
			return err
		}
	}
	return nil
}

// runTool runs one tool with its hooks and returns its output and the
// failure, if any. The output is never nil.
func (s *Scheduler) runTool(ctx context.Context, ec *ExecutionContext, tool Tool, logger *slog.Logger) (*ToolOutput, error) {
	name := tool.Name()
	m := metrics(s.logger)

	ctx, span := tracer.Start(ctx, "scheduler.tool",
		trace.WithAttributes(
			attribute.String("tool", name),
			attribute.String("version", tool.Version()),
			attribute.Int("priority", tool.Priority()),
		),
	)
	defer span.End()

	start := time.Now()
	out, cause := s.invoke(ctx, ec, tool)
	elapsed := time.Since(start)

	if cause != nil {
		if hookErr := tool.OnError(ctx, ec, cause); hookErr != nil {
			logger.Error("OnError hook failed",
				slog.String("tool", name),
				slog.String("error", hookErr.Error()),
			)
			cause = errors.Join(cause, fmt.Errorf("on error: %w", hookErr))
		}
		out = failureOutput(out, cause)
	}
	out.Duration = elapsed

	outcome := "success"
	var err error
	if cause != nil {
		outcome = "failure"
		if timeout, ok := cause.(*ExecutionTimeoutError); ok {
			err = timeout
			outcome = "timeout"
		} else {
			err = &ToolExecutionError{Tool: name, Cause: cause}
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error("tool failed",
			slog.String("tool", name),
			slog.Duration("duration", elapsed),
			slog.String("error", err.Error()),
		)
	} else {
		span.SetStatus(codes.Ok, "")
		logger.Info("tool completed",
			slog.String("tool", name),
			slog.Duration("duration", elapsed),
			slog.Int("files_touched", len(out.TouchedPaths())),
		)
	}

	attrs := metric.WithAttributes(attribute.String("tool", name), attribute.String("outcome", outcome))
	if m.toolDuration != nil {
		m.toolDuration.Record(ctx, elapsed.Seconds(), attrs)
	}
	if m.toolOutcomes != nil {
		m.toolOutcomes.Add(ctx, 1, attrs)
	}
	return out, err
}

// invoke runs BeforeExecute, Execute and AfterExecute and returns the
// output with the first failure cause.
func (s *Scheduler) invoke(ctx context.Context, ec *ExecutionContext, tool Tool) (*ToolOutput, error) {
	if err := tool.BeforeExecute(ctx, ec); err != nil {
		return nil, fmt.Errorf("before execute: %w", err)
	}

	out, err := execute(ctx, ec, tool)
	if err != nil {
		return out, err
	}
	if out == nil {
		return nil, ErrNilOutput
	}
	if !out.Success {
		return out, fmt.Errorf("%w: %s", ErrToolReportedFailure, out.Message)
	}

	if err := tool.AfterExecute(ctx, ec, out); err != nil {
		return out, fmt.Errorf("after execute: %w", err)
	}
	return out, nil
}

type executeResult struct {
	out *ToolOutput
	err error
}

// execute calls tool.Execute bounded by the tool's timeout.
//
// Execute runs in its own goroutine. When the budget expires the result
// is abandoned and an *ExecutionTimeoutError returned; the goroutine's
// late result lands in a buffered channel nobody reads.
func execute(ctx context.Context, ec *ExecutionContext, tool Tool) (*ToolOutput, error) {
	timeout := tool.Timeout()
	execCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	done := make(chan executeResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- executeResult{err: fmt.Errorf("%w: %v", ErrToolPanicked, r)}
			}
		}()
		out, err := tool.Execute(execCtx, ec)
		done <- executeResult{out: out, err: err}
	}()

	select {
	case res := <-done:
		return res.out, res.err
	case <-execCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &ExecutionTimeoutError{Tool: tool.Name(), Timeout: timeout}
	}
}

func failureOutput(out *ToolOutput, cause error) *ToolOutput {
	if out == nil {
		out = &ToolOutput{}
	}
	out.Success = false
	if out.Message == "" {
		out.Message = cause.Error()
	}
	return out
}

// touchedVerdicts queries the verdict of every path the run's tools
// modified, created or deleted.
func touchedVerdicts(summary *RunSummary, ec *ExecutionContext) map[string]event.Color {
	verdicts := make(map[string]event.Color)
	for _, out := range summary.Outputs() {
		for _, p := range out.TouchedPaths() {
			if _, ok := verdicts[p]; !ok {
				verdicts[p] = ec.Verdicts.QueryVerdict(p)
			}
		}
	}
	return verdicts
}
