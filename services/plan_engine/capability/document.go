// Copyright (C) 2025 Forgeplan Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package capability

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/forgeplan/forgeplan/services/plan_engine/plan"
)

// ErrTargetNotFound is returned when an operation's target_ref resolves to
// nothing in the document or the reference table.
var ErrTargetNotFound = errors.New("target entity not found")

// ErrOpRejected wraps injected or structural apply failures.
var ErrOpRejected = errors.New("operation rejected")

// entity is one object in the document's arena. It doubles as a timeline
// feature: destructive operations (cuts, shells, holes) are modeled as
// entities layered on top of what they modify.
type entity struct {
	ID     string         `json:"id"`
	Name   string         `json:"name,omitempty"`
	Kind   plan.Kind      `json:"kind"`
	Params map[string]any `json:"params,omitempty"`
}

// Document is an in-memory capability.
//
// Description:
//
//	Every successful Apply appends one entity to the arena and one node to
//	the timeline, and registers the operation's introduced name if any.
//	Undo removes exactly that entity again, so a full reverse-order
//	rollback restores the document byte-for-byte (see Fingerprint).
//
// Thread Safety: all methods lock; a Document and its forks are safe for
// concurrent use, and forks share no state with their parent.
type Document struct {
	mu       sync.Mutex
	seq      int
	entities map[string]*entity
	names    map[string]string // referenceable name -> entity id
	timeline []string          // entity ids in application order

	// FailOn injects an error for specific operation ids. Test hook; nil in
	// production wiring.
	FailOn map[string]error
}

// NewDocument returns an empty document.
func NewDocument() *Document {
	return &Document{
		entities: make(map[string]*entity),
		names:    make(map[string]string),
	}
}

// Apply implements Capability.
func (d *Document) Apply(ctx context.Context, op plan.Operation, refs map[string]string) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if err, hit := d.FailOn[op.ID]; hit {
		return nil, err
	}
	if op.TargetRef != "" && !d.resolves(op.TargetRef, refs) {
		return nil, fmt.Errorf("%w: %q", ErrTargetNotFound, op.TargetRef)
	}

	if op.Kind == plan.KindRenameFeature {
		return d.rename(op)
	}

	d.seq++
	ent := &entity{
		ID:     fmt.Sprintf("ent_%04d", d.seq),
		Name:   op.ProducedName(),
		Kind:   op.Kind,
		Params: op.Clone().Params,
	}
	d.entities[ent.ID] = ent
	if ent.Name != "" {
		d.names[ent.Name] = ent.ID
	}
	d.timeline = append(d.timeline, ent.ID)
	node := fmt.Sprintf("t%d", len(d.timeline))

	id := ent.ID
	name := ent.Name
	return &Result{
		Effect: Effect{EntityID: id, EntityName: name, TimelineNode: node},
		Undo: func(ctx context.Context) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			d.mu.Lock()
			defer d.mu.Unlock()
			if _, ok := d.entities[id]; !ok {
				return fmt.Errorf("%w: undo of %s, entity %s already gone", ErrOpRejected, op.ID, id)
			}
			delete(d.entities, id)
			if name != "" && d.names[name] == id {
				delete(d.names, name)
			}
			for i := len(d.timeline) - 1; i >= 0; i-- {
				if d.timeline[i] == id {
					d.timeline = append(d.timeline[:i], d.timeline[i+1:]...)
					break
				}
			}
			return nil
		},
	}, nil
}

// rename retargets a referenceable name. Caller holds the lock.
func (d *Document) rename(op plan.Operation) (*Result, error) {
	newName := op.StringParam("new_name")
	if newName == "" {
		return nil, fmt.Errorf("%w: rename_feature needs new_name", ErrOpRejected)
	}
	oldName := op.TargetRef
	id, ok := d.names[oldName]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrTargetNotFound, oldName)
	}

	delete(d.names, oldName)
	d.names[newName] = id
	d.entities[id].Name = newName
	node := fmt.Sprintf("t%d", len(d.timeline))

	return &Result{
		Effect: Effect{EntityID: id, EntityName: newName, TimelineNode: node},
		Undo: func(ctx context.Context) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			d.mu.Lock()
			defer d.mu.Unlock()
			delete(d.names, newName)
			d.names[oldName] = id
			if ent, ok := d.entities[id]; ok {
				ent.Name = oldName
			}
			return nil
		},
	}, nil
}

func (d *Document) resolves(ref string, refs map[string]string) bool {
	if _, ok := refs[ref]; ok {
		return true
	}
	_, ok := d.names[ref]
	return ok
}

// Fork implements Capability with a deep copy.
func (d *Document) Fork() Capability {
	d.mu.Lock()
	defer d.mu.Unlock()

	cp := NewDocument()
	cp.seq = d.seq
	for id, ent := range d.entities {
		e := *ent
		e.Params = cloneMap(ent.Params)
		cp.entities[id] = &e
	}
	for name, id := range d.names {
		cp.names[name] = id
	}
	cp.timeline = append([]string(nil), d.timeline...)
	cp.FailOn = d.FailOn
	return cp
}

// EntityCount reports how many entities the document holds.
func (d *Document) EntityCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entities)
}

// Names returns the current name table as a copy.
func (d *Document) Names() map[string]string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]string, len(d.names))
	for k, v := range d.names {
		out[k] = v
	}
	return out
}

// Fingerprint hashes the full document state. Two documents with identical
// entities, names, and timeline produce identical fingerprints, which is how
// tests assert that rollback restored the pre-run state exactly.
func (d *Document) Fingerprint() string {
	d.mu.Lock()
	defer d.mu.Unlock()

	ids := make([]string, 0, len(d.entities))
	for id := range d.entities {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	h := sha256.New()
	enc := json.NewEncoder(h)
	for _, id := range ids {
		// json.Marshal sorts map keys, so encoding is canonical.
		_ = enc.Encode(d.entities[id])
	}
	names := make([]string, 0, len(d.names))
	for name := range d.names {
		names = append(names, name+"="+d.names[name])
	}
	sort.Strings(names)
	_ = enc.Encode(names)
	_ = enc.Encode(d.timeline)
	return hex.EncodeToString(h.Sum(nil))
}

func cloneMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
