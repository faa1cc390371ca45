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
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var (
	tracer = otel.Tracer("forge.scheduler")
	meter  = otel.Meter("forge.scheduler")
)

type instruments struct {
	toolDuration metric.Float64Histogram
	toolOutcomes metric.Int64Counter
	runDuration  metric.Float64Histogram
	runs         metric.Int64Counter
}

var (
	instrumentsOnce sync.Once
	inst            instruments
)

// metrics returns the lazily created instruments. Instruments that fail
// to initialize stay nil and are skipped.
func metrics(logger *slog.Logger) *instruments {
	instrumentsOnce.Do(func() {
		var initErrors []string
		var err error

		inst.toolDuration, err = meter.Float64Histogram("forge_tool_duration_seconds",
			metric.WithDescription("Time spent executing each tool"),
			metric.WithUnit("s"),
		)
		if err != nil {
			initErrors = append(initErrors, "tool_duration: "+err.Error())
		}

		inst.toolOutcomes, err = meter.Int64Counter("forge_tool_outcomes_total",
			metric.WithDescription("Tool executions by outcome"),
		)
		if err != nil {
			initErrors = append(initErrors, "tool_outcomes: "+err.Error())
		}

		inst.runDuration, err = meter.Float64Histogram("forge_run_duration_seconds",
			metric.WithDescription("Total scheduler run time"),
			metric.WithUnit("s"),
		)
		if err != nil {
			initErrors = append(initErrors, "run_duration: "+err.Error())
		}

		inst.runs, err = meter.Int64Counter("forge_runs_total",
			metric.WithDescription("Scheduler runs by result"),
		)
		if err != nil {
			initErrors = append(initErrors, "runs: "+err.Error())
		}

		if len(initErrors) > 0 {
			logger.Error("failed to initialize some scheduler metrics",
				slog.Int("failed_count", len(initErrors)),
				slog.Any("errors", initErrors),
			)
		}
	})
	return &inst
}
