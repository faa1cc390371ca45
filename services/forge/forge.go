// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package forge composes the change stream, the verdict engine and the
// tool scheduler into one service.
//
// Filesystem and editor events are merged into a single stream. Each event
// receives the default traffic vote, fires realtime hooks for editor
// events, and (re)arms two timers: a debounced tool run over the paths
// changed since the last run, and an idle notification. A batch suspends
// the debounced run until EndBatch flushes it.
//
//	f, err := forge.New(root, cfg, forge.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	if err := f.Register(myTool); err != nil {
//	    return err
//	}
//	if err := f.Start(ctx); err != nil {
//	    return err
//	}
//	defer f.Stop()
package forge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianForge/services/forge/apply"
	"github.com/AleutianAI/AleutianForge/services/forge/config"
	"github.com/AleutianAI/AleutianForge/services/forge/debounce"
	"github.com/AleutianAI/AleutianForge/services/forge/editor"
	"github.com/AleutianAI/AleutianForge/services/forge/event"
	"github.com/AleutianAI/AleutianForge/services/forge/merger"
	"github.com/AleutianAI/AleutianForge/services/forge/patterns"
	"github.com/AleutianAI/AleutianForge/services/forge/scheduler"
	"github.com/AleutianAI/AleutianForge/services/forge/verdict"
	"github.com/AleutianAI/AleutianForge/services/forge/watcher"
	"github.com/dgraph-io/badger/v4"
)

var (
	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("forge already started")

	// ErrStopped is returned by Start after Stop.
	ErrStopped = errors.New("forge stopped")

	// ErrNilConfig is returned by New without a configuration.
	ErrNilConfig = errors.New("forge config is nil")
)

const (
	runTimerKey  = "run"
	idleTimerKey = "idle"
)

// RunHook observes every completed tool run, including failed ones.
type RunHook func(summary *scheduler.RunSummary, err error)

// Option configures a Forge.
type Option func(*Forge)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(f *Forge) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithReviewer sets who decides on Yellow changes. Default: approve all.
func WithReviewer(r verdict.Reviewer) Option {
	return func(f *Forge) {
		f.reviewer = r
	}
}

// WithDetector replaces the default pattern detector.
func WithDetector(d patterns.Detector) Option {
	return func(f *Forge) {
		f.detector = d
	}
}

// OnRealtime registers a hook called for every editor event as soon as it
// arrives, before any debouncing.
func OnRealtime(fn func(event.ChangeEvent)) Option {
	return func(f *Forge) {
		f.realtime = append(f.realtime, fn)
	}
}

// OnIdle registers a hook called once the stream has been quiet for the
// idle window.
func OnIdle(fn func()) Option {
	return func(f *Forge) {
		f.idle = append(f.idle, fn)
	}
}

// OnRun registers a hook called after every tool run.
func OnRun(fn RunHook) Option {
	return func(f *Forge) {
		f.runHooks = append(f.runHooks, fn)
	}
}

// Forge is the composed service.
//
// Thread Safety:
//
//	All methods are safe for concurrent use.
type Forge struct {
	root   string
	cfg    *config.Config
	logger *slog.Logger

	engine    *verdict.Engine
	scheduler *scheduler.Scheduler
	merger    *merger.Merger
	watcher   *watcher.Watcher
	editor    *editor.Session
	store     *badger.DB
	writer    *apply.DiskWriter
	timers    *debounce.Group

	reviewer verdict.Reviewer
	detector patterns.Detector
	realtime []func(event.ChangeEvent)
	idle     []func()
	runHooks []RunHook

	kick chan struct{}

	mu       sync.Mutex
	changed  map[string]struct{}
	batching bool
	started  bool
	stopped  bool
	cancel   context.CancelFunc
	group    *errgroup.Group
}

// New builds a Forge rooted at root.
//
// Description:
//
//	Opens the snapshot store, creates the verdict engine backed by a
//	DiskWriter, the scheduler, both producers and the merger. Nothing runs
//	until Start.
//
// Inputs:
//
//	root - Workspace root. Made absolute.
//	cfg - Loaded configuration. Must not be nil.
//	opts - Functional options.
//
// Outputs:
//
//	*Forge - Call Stop to release the store and watches.
//	error - Non-nil if the store or watcher cannot be created.
func New(root string, cfg *config.Config, opts ...Option) (*Forge, error) {
	if cfg == nil {
		return nil, ErrNilConfig
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}

	f := &Forge{
		root:    abs,
		cfg:     cfg,
		logger:  slog.Default(),
		timers:  debounce.NewGroup(),
		kick:    make(chan struct{}, 1),
		changed: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.detector == nil {
		f.detector = patterns.NewDefaultDetector()
	}

	storePath := cfg.Snapshots.Path
	if storePath != "" && !filepath.IsAbs(storePath) {
		storePath = filepath.Join(abs, storePath)
	}
	f.store, err = apply.OpenStore(apply.StoreConfig{Path: storePath, Logger: f.logger})
	if err != nil {
		return nil, err
	}
	f.writer, err = apply.NewDiskWriter(abs, f.store, f.logger)
	if err != nil {
		f.store.Close()
		return nil, err
	}

	engineOpts := []verdict.Option{verdict.WithLogger(f.logger), verdict.WithWriter(f.writer)}
	if f.reviewer != nil {
		engineOpts = append(engineOpts, verdict.WithReviewer(f.reviewer))
	}
	f.engine = verdict.NewEngine(engineOpts...)

	schedCfg := scheduler.DefaultConfig()
	schedCfg.FailFast = cfg.Scheduler.FailFast
	schedCfg.TrafficBranchEnabled = cfg.Scheduler.TrafficBranchEnabled
	f.scheduler = scheduler.New(schedCfg, f.logger)

	if schedCfg.TrafficBranchEnabled {
		if err := f.engine.RegisterVoter(verdict.TrafficVoterID); err != nil {
			f.store.Close()
			return nil, err
		}
	}

	wopts := watcher.DefaultOptions()
	wopts.DebounceWindow = cfg.Watcher.Debounce
	wopts.IgnoreGlobs = cfg.Watcher.Ignore
	wopts.ReadContent = cfg.Watcher.ReadContent
	if cfg.Watcher.MaxContentBytes > 0 {
		wopts.MaxContentBytes = cfg.Watcher.MaxContentBytes
	}
	wopts.Logger = f.logger
	f.watcher, err = watcher.New(abs, wopts)
	if err != nil {
		f.store.Close()
		return nil, err
	}

	f.editor = editor.NewSession(editor.DefaultBufferSize, f.logger)
	f.merger = merger.New(
		merger.WithBacklog(cfg.Merger.Backlog),
		merger.WithDetector(f.detector),
		merger.WithLogger(f.logger),
	)

	return f, nil
}

// Root returns the absolute workspace root.
func (f *Forge) Root() string { return f.root }

// Engine returns the verdict engine.
func (f *Forge) Engine() *verdict.Engine { return f.engine }

// Scheduler returns the tool scheduler.
func (f *Forge) Scheduler() *scheduler.Scheduler { return f.scheduler }

// Editor returns the editor session that feeds the stream.
func (f *Forge) Editor() *editor.Session { return f.editor }

// Subscribe returns a cursor on the merged stream.
func (f *Forge) Subscribe() *merger.Subscription { return f.merger.Subscribe() }

// Register adds a tool to the scheduler and records it as a voter.
func (f *Forge) Register(tool scheduler.Tool) error {
	if err := f.scheduler.Register(tool); err != nil {
		return err
	}
	return f.engine.RegisterVoter(tool.Name())
}

// Start begins watching and consuming the stream.
func (f *Forge) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopped {
		return ErrStopped
	}
	if f.started {
		return ErrAlreadyStarted
	}

	ctx, cancel := context.WithCancel(ctx)
	if err := f.watcher.Start(ctx); err != nil {
		cancel()
		return fmt.Errorf("start watcher: %w", err)
	}

	// Subscribe before the merger runs so no event is missed.
	sub := f.merger.Subscribe()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return f.merger.Run(gctx, f.watcher, f.editor)
	})
	g.Go(func() error {
		defer sub.Close()
		return f.consume(gctx, sub)
	})
	g.Go(func() error {
		f.runLoop(gctx)
		return nil
	})

	f.started = true
	f.cancel = cancel
	f.group = g

	f.logger.Info("forge started",
		slog.String("root", f.root),
		slog.Int("tools", len(f.scheduler.Tools())),
		slog.Bool("traffic_branch", f.cfg.Scheduler.TrafficBranchEnabled),
	)
	return nil
}

// Stop cancels pending timers, stops both producers, waits for the
// goroutines and closes the snapshot store. Safe to call more than once.
func (f *Forge) Stop() error {
	f.mu.Lock()
	if f.stopped {
		f.mu.Unlock()
		return nil
	}
	f.stopped = true
	cancel, g := f.cancel, f.group
	f.mu.Unlock()

	f.timers.Stop()
	if cancel != nil {
		cancel()
	}
	f.watcher.Stop()
	f.editor.Close()

	var errs []error
	if g != nil {
		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			errs = append(errs, err)
		}
	}
	if err := f.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close snapshot store: %w", err))
	}

	f.logger.Info("forge stopped")
	return errors.Join(errs...)
}

func (f *Forge) consume(ctx context.Context, sub *merger.Subscription) error {
	for {
		ev, err := sub.Next(ctx)
		if err != nil {
			if merger.IsClosed(err) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		f.handle(ev)
	}
}

func (f *Forge) handle(ev event.ChangeEvent) {
	f.logger.Debug("change",
		slog.String("path", ev.Path),
		slog.String("kind", ev.Kind.String()),
		slog.String("source", ev.Source.String()),
		slog.Int("patterns", len(ev.Patterns)),
	)

	// The classifier only looks at the path, so one vote per path is enough
	// until the engine is reset.
	if f.cfg.Scheduler.TrafficBranchEnabled && !f.engine.HasVoteFrom(ev.Path, verdict.TrafficVoterID) {
		if err := f.engine.SubmitVote(ev.Path, verdict.DefaultVote(f.relative(ev.Path))); err != nil {
			f.logger.Warn("traffic vote rejected", slog.String("path", ev.Path), slog.String("error", err.Error()))
		}
	}

	if ev.Source == event.SourceEditor {
		for _, fn := range f.realtime {
			fn(ev)
		}
	}

	f.mu.Lock()
	f.changed[ev.Path] = struct{}{}
	batching := f.batching
	f.mu.Unlock()

	if !batching {
		f.timers.Trigger(runTimerKey, f.cfg.Reactivity.Debounce, f.signalRun)
	}
	if len(f.idle) > 0 {
		f.timers.Trigger(idleTimerKey, f.cfg.Reactivity.Idle, f.fireIdle)
	}
}

// relative returns path relative to the root, or path itself when it is
// outside the root.
func (f *Forge) relative(path string) string {
	if !filepath.IsAbs(path) {
		return path
	}
	rel, err := filepath.Rel(f.root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return path
	}
	return rel
}

func (f *Forge) signalRun() {
	select {
	case f.kick <- struct{}{}:
	default:
	}
}

func (f *Forge) fireIdle() {
	f.logger.Debug("idle")
	for _, fn := range f.idle {
		fn()
	}
}

func (f *Forge) runLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-f.kick:
			f.runChanged(ctx)
		}
	}
}

// takeChanged returns the accumulated paths, sorted, and clears them.
func (f *Forge) takeChanged() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	paths := make([]string, 0, len(f.changed))
	for p := range f.changed {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	f.changed = make(map[string]struct{})
	return paths
}

func (f *Forge) runChanged(ctx context.Context) (*scheduler.RunSummary, error) {
	if f.scheduler.Suspended() {
		f.logger.Debug("scheduler suspended, keeping changes")
		return nil, scheduler.ErrSchedulerSuspended
	}
	paths := f.takeChanged()
	if len(paths) == 0 {
		return nil, nil
	}

	ec := scheduler.NewExecutionContext(f.root, paths, f.engine)
	summary, err := f.scheduler.ExecuteAll(ctx, ec)
	if err != nil {
		f.logger.Warn("tool run failed",
			slog.Int("paths", len(paths)),
			slog.String("error", err.Error()),
		)
	}
	for _, hook := range f.runHooks {
		hook(summary, err)
	}
	return summary, err
}

// Suspend pauses tool runs. Changes keep accumulating.
func (f *Forge) Suspend() {
	f.scheduler.Suspend()
}

// Resume re-enables tool runs and schedules one for anything that
// accumulated while suspended.
func (f *Forge) Resume() {
	f.scheduler.Resume()

	f.mu.Lock()
	pending := len(f.changed) > 0 && !f.batching
	f.mu.Unlock()
	if pending {
		f.timers.Trigger(runTimerKey, f.cfg.Reactivity.Debounce, f.signalRun)
	}
}

// BeginBatch defers tool runs until EndBatch.
func (f *Forge) BeginBatch() {
	f.mu.Lock()
	f.batching = true
	f.mu.Unlock()
	f.timers.Cancel(runTimerKey)
}

// EndBatch ends a batch with a single run over every path changed during
// it, then resets the verdict engine.
//
// Outputs:
//
//	*scheduler.RunSummary - Nil when nothing changed.
//	error - The run error, if any.
func (f *Forge) EndBatch(ctx context.Context) (*scheduler.RunSummary, error) {
	f.mu.Lock()
	f.batching = false
	f.mu.Unlock()

	start := time.Now()
	summary, err := f.runChanged(ctx)
	f.engine.Reset()
	f.logger.Info("batch flushed", slog.Duration("duration", time.Since(start)))
	return summary, err
}

// Apply applies changes through the engine's verdicts.
func (f *Forge) Apply(ctx context.Context, changes []verdict.FileChange) (*verdict.ApplyReport, error) {
	return f.engine.Apply(ctx, changes)
}

// Revert restores the files of the most recent application on disk.
//
// Outputs:
//
//	[]string - Paths restored.
//	error - verdict.ErrNothingToRevert, or restore failures.
func (f *Forge) Revert(ctx context.Context) ([]string, error) {
	paths, err := f.engine.RevertMostRecentApplication()
	if err != nil {
		return nil, err
	}
	return f.writer.Restore(ctx, paths)
}
