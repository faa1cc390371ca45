// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package verdict

import "errors"

var (
	// ErrNothingToRevert is returned when no applied batch is recorded.
	ErrNothingToRevert = errors.New("no recent application to revert")

	// ErrEmptyPath is returned when a vote or veto names no path.
	ErrEmptyPath = errors.New("path must not be empty")

	// ErrEmptyVoter is returned when a voter id is empty.
	ErrEmptyVoter = errors.New("voter id must not be empty")
)
