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

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	votesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "forge_verdict_votes_total",
		Help: "Votes submitted by color",
	}, []string{"color"})

	vetoesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "forge_verdict_vetoes_total",
		Help: "Vetoes issued",
	})

	// rule is red, yellow, green, default or fallback. fallback counts the
	// permissive Green returned for combinations no explicit rule covers.
	verdictQueries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "forge_verdict_queries_total",
		Help: "Verdict queries by deciding rule",
	}, []string{"rule"})

	changesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "forge_verdict_changes_total",
		Help: "Proposed changes by outcome",
	}, []string{"outcome"})
)
