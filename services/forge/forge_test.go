// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package forge

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianForge/services/forge/config"
	"github.com/AleutianAI/AleutianForge/services/forge/event"
	"github.com/AleutianAI/AleutianForge/services/forge/scheduler"
	"github.com/AleutianAI/AleutianForge/services/forge/verdict"
)

type pathTool struct {
	scheduler.BaseTool

	mu   sync.Mutex
	runs [][]string
}

func newPathTool(name string) *pathTool {
	return &pathTool{BaseTool: scheduler.BaseTool{ToolName: name, ToolVersion: "1.0.0"}}
}

func (t *pathTool) Execute(_ context.Context, ec *scheduler.ExecutionContext) (*scheduler.ToolOutput, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.runs = append(t.runs, append([]string(nil), ec.ChangedPaths...))
	return scheduler.Succeeded("ok"), nil
}

func (t *pathTool) Runs() [][]string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([][]string(nil), t.runs...)
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Reactivity.Debounce = 20 * time.Millisecond
	cfg.Reactivity.Idle = 60 * time.Millisecond
	cfg.Watcher.Debounce = 10 * time.Millisecond
	return cfg
}

func newTestForge(t *testing.T, opts ...Option) (*Forge, string) {
	t.Helper()
	root := t.TempDir()
	f, err := New(root, testConfig(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { f.Stop() })
	return f, f.Root()
}

func uri(path string) string {
	return "file://" + filepath.ToSlash(path)
}

func TestNew_NilConfig(t *testing.T) {
	_, err := New(t.TempDir(), nil)
	assert.ErrorIs(t, err, ErrNilConfig)
}

func TestRegister_AddsVoter(t *testing.T) {
	f, _ := newTestForge(t)
	require.NoError(t, f.Register(newPathTool("lint")))

	assert.Equal(t, []string{"lint"}, f.Scheduler().Tools())
	assert.Equal(t, []string{verdict.TrafficVoterID, "lint"}, f.Engine().Voters())

	err := f.Register(newPathTool("lint"))
	assert.ErrorIs(t, err, scheduler.ErrDuplicateRegistration)
}

func TestStart_Lifecycle(t *testing.T) {
	f, _ := newTestForge(t)
	ctx := context.Background()

	require.NoError(t, f.Start(ctx))
	assert.ErrorIs(t, f.Start(ctx), ErrAlreadyStarted)

	require.NoError(t, f.Stop())
	require.NoError(t, f.Stop())
	assert.ErrorIs(t, f.Start(ctx), ErrStopped)
}

func TestEditorChange_RunsToolsAfterDebounce(t *testing.T) {
	tool := newPathTool("lint")
	var mu sync.Mutex
	var realtime []string
	f, root := newTestForge(t, OnRealtime(func(ev event.ChangeEvent) {
		mu.Lock()
		realtime = append(realtime, ev.Path)
		mu.Unlock()
	}))
	require.NoError(t, f.Register(tool))
	ctx := context.Background()
	require.NoError(t, f.Start(ctx))

	path := filepath.Join(root, "src", "app.ts")
	require.NoError(t, f.Editor().DidChange(ctx, uri(path), 1, "let x = 1"))
	require.NoError(t, f.Editor().DidChange(ctx, uri(path), 2, "let x = 2"))

	require.Eventually(t, func() bool { return len(tool.Runs()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{path}, tool.Runs()[0])

	mu.Lock()
	assert.Equal(t, []string{path, path}, realtime)
	mu.Unlock()

	votes := f.Engine().Votes(path)
	require.Len(t, votes, 1)
	assert.Equal(t, verdict.TrafficVoterID, votes[0].VoterID)
	assert.Equal(t, event.Yellow, f.Engine().QueryVerdict(path))
}

func TestTrafficVote_OncePerPath(t *testing.T) {
	tool := newPathTool("lint")
	f, root := newTestForge(t)
	require.NoError(t, f.Register(tool))
	ctx := context.Background()
	require.NoError(t, f.Start(ctx))

	path := filepath.Join(root, "src", "app.ts")
	for v := int32(1); v <= 20; v++ {
		require.NoError(t, f.Editor().DidChange(ctx, uri(path), v, "edit"))
	}

	require.Eventually(t, func() bool { return len(tool.Runs()) > 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Len(t, f.Engine().Votes(path), 1)
}

func TestTrafficVote_ClassifiesRelativeToRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "api-server")
	require.NoError(t, os.Mkdir(root, 0o755))
	f, err := New(root, testConfig())
	require.NoError(t, err)
	t.Cleanup(func() { f.Stop() })
	ctx := context.Background()
	require.NoError(t, f.Start(ctx))

	plain := filepath.Join(f.Root(), "src", "view.ts")
	contract := filepath.Join(f.Root(), "src", "types.ts")
	require.NoError(t, f.Editor().DidChange(ctx, uri(plain), 1, "view"))
	require.NoError(t, f.Editor().DidChange(ctx, uri(contract), 1, "types"))

	require.Eventually(t, func() bool {
		return f.Engine().HasVoteFrom(plain, verdict.TrafficVoterID) &&
			f.Engine().HasVoteFrom(contract, verdict.TrafficVoterID)
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, event.Yellow, f.Engine().QueryVerdict(plain))
	assert.Equal(t, event.Red, f.Engine().QueryVerdict(contract))
}

func TestIdleHook(t *testing.T) {
	var idle atomic.Int32
	f, root := newTestForge(t, OnIdle(func() { idle.Add(1) }))
	ctx := context.Background()
	require.NoError(t, f.Start(ctx))

	require.NoError(t, f.Editor().DidChange(ctx, uri(filepath.Join(root, "a.md")), 1, "# a"))

	require.Eventually(t, func() bool { return idle.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestBatch_FlushesOneRun(t *testing.T) {
	tool := newPathTool("lint")
	f, root := newTestForge(t)
	require.NoError(t, f.Register(tool))
	ctx := context.Background()
	require.NoError(t, f.Start(ctx))

	f.BeginBatch()
	a := filepath.Join(root, "a.ts")
	b := filepath.Join(root, "b.ts")
	require.NoError(t, f.Editor().DidChange(ctx, uri(b), 1, "b"))
	require.NoError(t, f.Editor().DidChange(ctx, uri(a), 1, "a"))

	require.Eventually(t, func() bool {
		return len(f.Engine().Votes(a)) == 1 && len(f.Engine().Votes(b)) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Never(t, func() bool { return len(tool.Runs()) > 0 }, 100*time.Millisecond, 10*time.Millisecond)

	summary, err := f.EndBatch(ctx)
	require.NoError(t, err)
	require.NotNil(t, summary)
	assert.Equal(t, 1, summary.Executed)
	assert.Equal(t, [][]string{{a, b}}, tool.Runs())
	assert.Empty(t, f.Engine().Votes(a))

	summary, err = f.EndBatch(ctx)
	require.NoError(t, err)
	assert.Nil(t, summary)
}

func TestSuspend_DefersRun(t *testing.T) {
	tool := newPathTool("lint")
	f, root := newTestForge(t)
	require.NoError(t, f.Register(tool))
	ctx := context.Background()
	require.NoError(t, f.Start(ctx))

	f.Suspend()
	path := filepath.Join(root, "a.ts")
	require.NoError(t, f.Editor().DidChange(ctx, uri(path), 1, "a"))
	assert.Never(t, func() bool { return len(tool.Runs()) > 0 }, 100*time.Millisecond, 10*time.Millisecond)

	f.Resume()
	require.Eventually(t, func() bool { return len(tool.Runs()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{path}, tool.Runs()[0])
}

func TestApplyAndRevert(t *testing.T) {
	f, root := newTestForge(t)
	ctx := context.Background()
	readme := filepath.Join(root, "README.md")
	require.NoError(t, os.WriteFile(readme, []byte("v1"), 0o644))

	require.NoError(t, f.Engine().SubmitVote("README.md", verdict.DefaultVote("README.md")))
	report, err := f.Apply(ctx, []verdict.FileChange{{Path: "README.md", NewContent: "v2", ToolID: "docs"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"README.md"}, report.Applied)

	data, err := os.ReadFile(readme)
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))

	restored, err := f.Revert(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"README.md"}, restored)

	data, err = os.ReadFile(readme)
	require.NoError(t, err)
	assert.Equal(t, "v1", string(data))

	_, err = f.Revert(ctx)
	assert.ErrorIs(t, err, verdict.ErrNothingToRevert)
}
