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
	"time"
)

// ToolOutput is the result of one tool execution.
type ToolOutput struct {
	Success       bool
	FilesModified []string
	FilesCreated  []string
	FilesDeleted  []string
	Message       string

	// Duration is filled in by the scheduler. It is encoded as whole
	// milliseconds under duration_ms.
	Duration time.Duration `json:"-"`
}

type toolOutputJSON struct {
	Success       bool     `json:"success"`
	FilesModified []string `json:"files_modified"`
	FilesCreated  []string `json:"files_created"`
	FilesDeleted  []string `json:"files_deleted"`
	Message       string   `json:"message"`
	DurationMS    int64    `json:"duration_ms"`
}

// MarshalJSON encodes the output with its duration in milliseconds.
func (o ToolOutput) MarshalJSON() ([]byte, error) {
	return json.Marshal(toolOutputJSON{
		Success:       o.Success,
		FilesModified: nonNil(o.FilesModified),
		FilesCreated:  nonNil(o.FilesCreated),
		FilesDeleted:  nonNil(o.FilesDeleted),
		Message:       o.Message,
		DurationMS:    o.Duration.Milliseconds(),
	})
}

// UnmarshalJSON decodes an output written by MarshalJSON.
func (o *ToolOutput) UnmarshalJSON(data []byte) error {
	var raw toolOutputJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*o = ToolOutput{
		Success:       raw.Success,
		FilesModified: raw.FilesModified,
		FilesCreated:  raw.FilesCreated,
		FilesDeleted:  raw.FilesDeleted,
		Message:       raw.Message,
		Duration:      time.Duration(raw.DurationMS) * time.Millisecond,
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// Succeeded returns a successful output carrying msg.
func Succeeded(msg string) *ToolOutput {
	return &ToolOutput{Success: true, Message: msg}
}

// Failed returns a failed output carrying msg.
func Failed(msg string) *ToolOutput {
	return &ToolOutput{Success: false, Message: msg}
}

// TouchedPaths returns the modified, created and deleted paths in that
// order.
func (o *ToolOutput) TouchedPaths() []string {
	if o == nil {
		return nil
	}
	out := make([]string, 0, len(o.FilesModified)+len(o.FilesCreated)+len(o.FilesDeleted))
	out = append(out, o.FilesModified...)
	out = append(out, o.FilesCreated...)
	out = append(out, o.FilesDeleted...)
	return out
}
