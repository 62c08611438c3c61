// Copyright (C) 2025 Forgeplan Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package resolve orders a sanitized plan's operations for dispatch.
//
// The resolver builds a dependency graph from explicit dependency lists and
// from target_ref strings matching names introduced by earlier operations,
// then topologically sorts it. The sort is stable: whenever several
// operations are simultaneously ready, the one earliest in the original plan
// dispatches first, so independent operations are never reordered.
//
// Resolution is pure. It inspects the plan, produces an order, and touches
// nothing else.
package resolve

import (
	"container/heap"
	"fmt"

	"github.com/forgeplan/forgeplan/services/plan_engine/plan"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

// GraphErrorKind classifies resolution failures.
type GraphErrorKind string

const (
	// CycleDetected means the dependency graph is not acyclic.
	CycleDetected GraphErrorKind = "CycleDetected"

	// DanglingReference means a dependency or target_ref names nothing: no
	// earlier operation introduces it and it is not a declared selection.
	DanglingReference GraphErrorKind = "DanglingReference"
)

// GraphError reports why a plan could not be ordered.
type GraphError struct {
	Kind GraphErrorKind
	// OpID is the operation at which the problem was detected.
	OpID string
	// Ref is the unresolvable reference for DanglingReference errors.
	Ref string
}

func (e *GraphError) Error() string {
	switch e.Kind {
	case DanglingReference:
		return fmt.Sprintf("%s: operation %s references %q which nothing provides", e.Kind, e.OpID, e.Ref)
	default:
		return fmt.Sprintf("%s: involving operation %s", e.Kind, e.OpID)
	}
}

// -----------------------------------------------------------------------------
// Resolver
// -----------------------------------------------------------------------------

// Resolver orders operations. The zero value is usable; Selections declares
// external reference names (current face or body selections in the caller's
// UI) that target_ref may legitimately point at without any operation
// introducing them.
type Resolver struct {
	Selections map[string]bool
}

// wellKnownRefs are target_ref values that always resolve: they name ambient
// document context rather than plan-introduced entities.
var wellKnownRefs = map[string]bool{
	"face_selected":   true,
	"body_selected":   true,
	"edge_selected":   true,
	"sketch_selected": true,
	"root_component":  true,
	"XY":              true,
	"XZ":              true,
	"YZ":              true,
}

// Resolve returns p's operations in dispatch order.
//
// Description:
//
//	Edges come from two places: each entry in an operation's dependency
//	list, and the operation's target_ref when it matches a name introduced
//	by another operation. A target_ref matching a declared selection (or a
//	well-known ambient name) adds no edge. An unresolvable target_ref or
//	dependency fails with DanglingReference; a cycle fails with
//	CycleDetected.
func (r *Resolver) Resolve(p *plan.Plan) ([]plan.Operation, error) {
	n := len(p.Operations)
	if n == 0 {
		return nil, nil
	}

	index := make(map[string]int, n)
	producer := make(map[string]int, n)
	for i, op := range p.Operations {
		index[op.ID] = i
		if name := op.ProducedName(); name != "" {
			if _, taken := producer[name]; !taken {
				producer[name] = i
			}
		}
	}

	adj := make([][]int, n)
	indegree := make([]int, n)
	addEdge := func(from, to int) {
		if from == to {
			return
		}
		adj[from] = append(adj[from], to)
		indegree[to]++
	}

	for i, op := range p.Operations {
		for _, dep := range op.Dependencies {
			j, ok := index[dep]
			if !ok {
				return nil, &GraphError{Kind: DanglingReference, OpID: op.ID, Ref: dep}
			}
			if j == i {
				return nil, &GraphError{Kind: CycleDetected, OpID: op.ID}
			}
			addEdge(j, i)
		}
		if ref := op.TargetRef; ref != "" {
			if j, ok := producer[ref]; ok {
				if j == i {
					return nil, &GraphError{Kind: CycleDetected, OpID: op.ID}
				}
				addEdge(j, i)
			} else if j, ok := index[ref]; ok {
				// target_ref may name an operation id directly.
				if j == i {
					return nil, &GraphError{Kind: CycleDetected, OpID: op.ID}
				}
				addEdge(j, i)
			} else if !r.resolvable(ref) {
				return nil, &GraphError{Kind: DanglingReference, OpID: op.ID, Ref: ref}
			}
		}
	}

	// Kahn's algorithm over a min-heap of plan indices keeps the order
	// stable: among all ready operations, the earliest in the plan wins.
	ready := &indexHeap{}
	heap.Init(ready)
	for i := 0; i < n; i++ {
		if indegree[i] == 0 {
			heap.Push(ready, i)
		}
	}

	ordered := make([]plan.Operation, 0, n)
	for ready.Len() > 0 {
		i := heap.Pop(ready).(int)
		ordered = append(ordered, p.Operations[i])
		for _, j := range adj[i] {
			indegree[j]--
			if indegree[j] == 0 {
				heap.Push(ready, j)
			}
		}
	}

	if len(ordered) != n {
		// Some operation never reached indegree zero. Report the earliest
		// one still stuck for a deterministic message.
		for i := 0; i < n; i++ {
			if indegree[i] > 0 {
				return nil, &GraphError{Kind: CycleDetected, OpID: p.Operations[i].ID}
			}
		}
	}
	return ordered, nil
}

func (r *Resolver) resolvable(ref string) bool {
	return r.Selections[ref] || wellKnownRefs[ref]
}

// -----------------------------------------------------------------------------
// Min-heap of plan indices
// -----------------------------------------------------------------------------

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
