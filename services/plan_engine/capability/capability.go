// Copyright (C) 2025 Forgeplan Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package capability defines the boundary between the execution engine and
// whatever actually mutates geometry.
//
// The engine knows nothing about the layer behind this interface beyond the
// contract: each Apply call either succeeds and returns identifiers for what
// it created, or fails with an error. The package also ships an in-memory
// DesignDocument capability used by tests, dry runs, and the server's default
// wiring; a real CAD kernel adapter plugs in behind the same interface.
package capability

import (
	"context"

	"github.com/forgeplan/forgeplan/services/plan_engine/plan"
)

// Effect describes what one successful operation produced.
type Effect struct {
	// EntityID identifies the created or modified entity in the
	// capability's own namespace.
	EntityID string

	// EntityName is the referenceable name the operation introduced, empty
	// when the operation names nothing.
	EntityName string

	// TimelineNode is the capability's timeline position for this effect.
	TimelineNode string
}

// Result pairs an effect with its compensation.
type Result struct {
	Effect Effect

	// Undo reverses the effect. The engine calls it during apply-mode
	// rollback, newest effect first. Nil means the effect needs no
	// compensation.
	Undo func(ctx context.Context) error
}

// Capability is the geometry boundary.
//
// Apply dispatches a single operation. refs is the running table mapping
// referenceable names to entity identifiers, seeded from external selections
// and updated by the engine after each success; capabilities resolve
// target_ref through it.
//
// Fork returns an isolated copy for sandbox runs: mutations on the fork are
// never visible through the original.
type Capability interface {
	Apply(ctx context.Context, op plan.Operation, refs map[string]string) (*Result, error)
	Fork() Capability
}
