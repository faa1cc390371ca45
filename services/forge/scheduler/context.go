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
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/AleutianAI/AleutianForge/services/forge/verdict"
	"github.com/AleutianAI/AleutianForge/services/forge/workspace"
)

// ExecutionContext is the state shared by every tool of one run.
//
// The scalar fields are set before the run and must not be changed by
// tools. The key/value store is safe for concurrent use. Values are held
// as JSON, so anything stored must round-trip through encoding/json and
// readers get a fresh copy.
type ExecutionContext struct {
	// RepoRoot is the absolute workspace root.
	RepoRoot string

	// DataDir is where tools may keep state, normally RepoRoot/.dx/forge.
	DataDir string

	// Branch labels the variant being worked on.
	Branch string

	// ChangedPaths are the paths that triggered the run.
	ChangedPaths []string

	// Verdicts is the engine tools vote into. May be nil.
	Verdicts *verdict.Engine

	mu     sync.RWMutex
	values map[string]json.RawMessage
}

// NewExecutionContext returns a context rooted at root with the default
// data directory.
func NewExecutionContext(root string, changed []string, engine *verdict.Engine) *ExecutionContext {
	paths := make([]string, len(changed))
	copy(paths, changed)
	return &ExecutionContext{
		RepoRoot:     root,
		DataDir:      workspace.DataDir(root),
		ChangedPaths: paths,
		Verdicts:     engine,
		values:       make(map[string]json.RawMessage),
	}
}

// Set stores value under key, replacing any previous value.
func (ec *ExecutionContext) Set(key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %q: %w", key, err)
	}

	ec.mu.Lock()
	defer ec.mu.Unlock()
	if ec.values == nil {
		ec.values = make(map[string]json.RawMessage)
	}
	ec.values[key] = data
	return nil
}

// Has reports whether key is set.
func (ec *ExecutionContext) Has(key string) bool {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	_, ok := ec.values[key]
	return ok
}

// Delete removes key.
func (ec *ExecutionContext) Delete(key string) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	delete(ec.values, key)
}

// Keys returns the stored keys in sorted order.
func (ec *ExecutionContext) Keys() []string {
	ec.mu.RLock()
	defer ec.mu.RUnlock()

	keys := make([]string, 0, len(ec.values))
	for k := range ec.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (ec *ExecutionContext) raw(key string) (json.RawMessage, bool) {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	data, ok := ec.values[key]
	return data, ok
}

// GetValue decodes the value stored under key into a T.
//
// It returns ErrValueNotFound when key is unset and a decode error when
// the stored value does not fit T.
func GetValue[T any](ec *ExecutionContext, key string) (T, error) {
	var out T
	data, ok := ec.raw(key)
	if !ok {
		return out, fmt.Errorf("%w: %s", ErrValueNotFound, key)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("decode %q: %w", key, err)
	}
	return out, nil
}
