// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianForge/pkg/logging"
	"github.com/AleutianAI/AleutianForge/services/forge"
	"github.com/AleutianAI/AleutianForge/services/forge/config"
	"github.com/AleutianAI/AleutianForge/services/forge/merger"
	"github.com/AleutianAI/AleutianForge/services/forge/scheduler"
	"github.com/AleutianAI/AleutianForge/services/forge/telemetry"
	"github.com/AleutianAI/AleutianForge/services/forge/workspace"
)

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root, err := workspace.DetectRoot(startPath(args))
	if err != nil {
		return err
	}
	cfg, err := config.Load(root)
	if err != nil {
		return err
	}
	if logLevelFlag != "" {
		cfg.Log.Level = logLevelFlag
	}
	if logFormatFlag != "" {
		cfg.Log.Format = logFormatFlag
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Close()
	log := logger.Slog()
	slog.SetDefault(log)
	if cfg.Source != "" {
		log.Info("loaded config", slog.String("path", cfg.Source))
	}

	tel, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    "forge",
		ServiceVersion: version,
		TraceExporter:  cfg.Telemetry.Traces,
		MetricExporter: cfg.Telemetry.Metrics,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure:   true,
	})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			log.Warn("telemetry shutdown", slog.String("error", err.Error()))
		}
	}()
	if tel.MetricsHandler != nil {
		go func() {
			if err := telemetry.ServeMetrics(ctx, cfg.Telemetry.MetricsAddr, tel.MetricsHandler, log); err != nil {
				log.Error("metrics server", slog.String("error", err.Error()))
			}
		}()
	}

	f, err := forge.New(root, cfg,
		forge.WithLogger(log),
		forge.OnRun(func(summary *scheduler.RunSummary, err error) {
			logRun(log, summary, err)
		}),
	)
	if err != nil {
		return err
	}
	if err := f.Start(ctx); err != nil {
		f.Stop()
		return err
	}

	sub := f.Subscribe()
	defer sub.Close()
	for {
		ev, err := sub.Next(ctx)
		if err != nil {
			if merger.IsClosed(err) || errors.Is(err, context.Canceled) {
				break
			}
			f.Stop()
			return err
		}
		log.Info("change",
			slog.String("path", ev.Path),
			slog.String("kind", ev.Kind.String()),
			slog.String("source", ev.Source.String()),
			slog.String("verdict", f.Engine().QueryVerdict(ev.Path).String()),
			slog.Int("patterns", len(ev.Patterns)),
		)
	}

	return f.Stop()
}

func newLogger(cfg config.LogConfig) (*logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	return logging.New(logging.Config{
		Level:   level,
		Format:  logging.Format(cfg.Format),
		LogDir:  cfg.Dir,
		Service: "forge",
	})
}

func logRun(log *slog.Logger, summary *scheduler.RunSummary, err error) {
	if summary == nil {
		if err != nil {
			log.Warn("run aborted", slog.String("error", err.Error()))
		}
		return
	}
	attrs := []any{
		slog.String("run_id", summary.RunID),
		slog.Int("executed", summary.Executed),
		slog.Int("skipped", summary.Skipped),
		slog.Int("failed", summary.Failed),
		slog.Duration("duration", summary.Duration),
	}
	if err != nil {
		log.Warn("run finished with errors", append(attrs, slog.String("error", err.Error()))...)
		return
	}
	log.Info("run finished", attrs...)
	for path, color := range summary.Verdicts {
		log.Debug("verdict", slog.String("path", path), slog.String("color", color.String()))
	}
}
