// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package verdict implements the traffic-branch decision engine.
//
// Voters (tools, analyzers, humans) submit Green, Yellow, Red or NoOpinion
// votes per path. The engine folds a path's votes into a single verdict:
//
//	any Red                      -> Red (veto)
//	else any Yellow              -> Yellow
//	else all Green or NoOpinion  -> Green
//	no votes                     -> Green
//
// Green changes apply automatically, Yellow changes go through a Reviewer
// first, Red changes are rejected and reported. The most recent applied
// batch is kept for a single level of undo.
//
// # Thread Safety
//
// Engine is safe for concurrent use. Queries share a read lock; mutations
// take the write lock for an in-memory update only. Writers and reviewers
// are always called without the lock held.
package verdict
