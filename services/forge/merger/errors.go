// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package merger

import (
	"errors"
	"fmt"

	"github.com/AleutianAI/AleutianForge/services/forge/event"
)

var (
	// ErrMergerClosed is returned by Next once every producer has closed
	// and the retained backlog has been read.
	ErrMergerClosed = errors.New("merger closed")

	// ErrSubscriptionClosed is returned by Next after Close.
	ErrSubscriptionClosed = errors.New("subscription closed")

	// ErrAlreadyRunning is returned when Run is called twice.
	ErrAlreadyRunning = errors.New("merger already running")

	// ErrNoProducers is returned when Run is given no producers.
	ErrNoProducers = errors.New("no producers")
)

// SourceChannelClosedError reports that one producer's channel closed.
// The merger keeps forwarding from the remaining producers.
type SourceChannelClosedError struct {
	Source event.Source
}

func (e *SourceChannelClosedError) Error() string {
	return fmt.Sprintf("%s event channel closed", e.Source)
}
