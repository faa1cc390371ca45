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
	"container/heap"
	"sort"
)

// plan validates tools and returns the order they run in.
//
// Description:
//
//	Tools are stable-sorted by priority, so registration order breaks
//	ties. Every dependency must name a registered tool and the graph must
//	be acyclic. The result is a topological order in which, whenever
//	several tools are ready, the one earliest in the sorted order goes
//	first. With no dependencies this is the sorted order itself.
//
// Inputs:
//
//	tools - Tools in registration order. Not modified.
//
// Outputs:
//
//	[]Tool - The execution order.
//	error - *UnresolvedDependencyError or *CycleError.
func plan(tools []Tool) ([]Tool, error) {
	sorted := make([]Tool, len(tools))
	copy(sorted, tools)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority() < sorted[j].Priority()
	})

	index := make(map[string]int, len(sorted))
	for i, t := range sorted {
		index[t.Name()] = i
	}

	for _, t := range sorted {
		for _, dep := range t.Dependencies() {
			if _, ok := index[dep]; !ok {
				return nil, &UnresolvedDependencyError{Tool: t.Name(), Dep: dep}
			}
		}
	}

	if cycle := detectCycle(sorted, index); cycle != nil {
		return nil, &CycleError{Cycle: cycle}
	}

	return topoOrder(sorted, index), nil
}

// detectCycle runs a DFS over sorted and returns the first cycle found,
// or nil.
func detectCycle(sorted []Tool, index map[string]int) []string {
	visited := make([]bool, len(sorted))
	onStack := make([]bool, len(sorted))
	var path []int
	var cycle []string

	var visit func(n int) bool
	visit = func(n int) bool {
		visited[n] = true
		onStack[n] = true
		path = append(path, n)

		for _, dep := range sorted[n].Dependencies() {
			d := index[dep]
			if onStack[d] {
				start := 0
				for i, p := range path {
					if p == d {
						start = i
						break
					}
				}
				for _, p := range path[start:] {
					cycle = append(cycle, sorted[p].Name())
				}
				cycle = append(cycle, sorted[d].Name())
				return true
			}
			if !visited[d] && visit(d) {
				return true
			}
		}

		onStack[n] = false
		path = path[:len(path)-1]
		return false
	}

	for i := range sorted {
		if !visited[i] && visit(i) {
			return cycle
		}
	}
	return nil
}

type indexHeap []int

func (h indexHeap) Len() int           { return len(h) }
func (h indexHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h indexHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *indexHeap) Push(x any)        { *h = append(*h, x.(int)) }
func (h *indexHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// topoOrder is Kahn's algorithm with the ready set keyed by sorted index.
// The graph must already be known to be acyclic.
func topoOrder(sorted []Tool, index map[string]int) []Tool {
	indeg := make([]int, len(sorted))
	dependents := make([][]int, len(sorted))
	for i, t := range sorted {
		seen := make(map[int]struct{})
		for _, dep := range t.Dependencies() {
			d := index[dep]
			if _, dup := seen[d]; dup {
				continue
			}
			seen[d] = struct{}{}
			indeg[i]++
			dependents[d] = append(dependents[d], i)
		}
	}

	ready := &indexHeap{}
	for i, n := range indeg {
		if n == 0 {
			heap.Push(ready, i)
		}
	}

	out := make([]Tool, 0, len(sorted))
	for ready.Len() > 0 {
		n := heap.Pop(ready).(int)
		out = append(out, sorted[n])
		for _, m := range dependents[n] {
			indeg[m]--
			if indeg[m] == 0 {
				heap.Push(ready, m)
			}
		}
	}
	return out
}
