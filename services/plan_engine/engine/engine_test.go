// Copyright (C) 2025 Forgeplan Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgeplan/forgeplan/services/plan_engine/capability"
	"github.com/forgeplan/forgeplan/services/plan_engine/plan"
)

func threeOps() (*plan.Plan, []plan.Operation) {
	ops := []plan.Operation{
		{ID: "op_1", Kind: plan.KindCreateSketch, Params: map[string]any{"plane": "XY", "name": "base"}},
		{ID: "op_2", Kind: plan.KindDrawRectangle, Params: map[string]any{
			"center_point": []any{0.0, 0.0}, "width": 10.0, "height": 10.0,
		}, TargetRef: "base", Dependencies: []string{"op_1"}},
		{ID: "op_3", Kind: plan.KindExtrude, Params: map[string]any{
			"distance": 10.0, "name": "cube",
		}, TargetRef: "base", Dependencies: []string{"op_2"}},
	}
	p := &plan.Plan{ID: "plan-cube", Operations: ops}
	return p, ops
}

func TestSandboxRunLeavesDocumentUntouched(t *testing.T) {
	doc := capability.NewDocument()
	before := doc.Fingerprint()
	e := New(doc, Config{}, nil, nil)

	p, ops := threeOps()
	report := e.Execute(context.Background(), p, ops, plan.ModeSandbox, nil)

	assert.True(t, report.Success)
	assert.Len(t, report.Results, 3)
	assert.Equal(t, before, doc.Fingerprint())
	assert.Equal(t, 0, doc.EntityCount())
}

func TestApplyRunMutatesDocument(t *testing.T) {
	doc := capability.NewDocument()
	e := New(doc, Config{}, nil, nil)

	p, ops := threeOps()
	report := e.Execute(context.Background(), p, ops, plan.ModeApply, nil)

	require.True(t, report.Success)
	assert.Equal(t, 3, doc.EntityCount())
	assert.Contains(t, report.Refs, "base")
	assert.Contains(t, report.Refs, "cube")
	assert.Contains(t, report.Refs, "op_2")

	for i, res := range report.Results {
		assert.Equal(t, plan.StatusSucceeded, res.Status)
		assert.Equal(t, ops[i].ID, res.OpID, "results keep dispatch order")
		assert.NotEmpty(t, res.EntityID)
	}
}

func TestApplyFailureRollsBack(t *testing.T) {
	doc := capability.NewDocument()
	doc.FailOn = map[string]error{"op_2": errors.New("profile not closed")}
	before := doc.Fingerprint()
	e := New(doc, Config{}, nil, nil)

	p, ops := threeOps()
	report := e.Execute(context.Background(), p, ops, plan.ModeApply, nil)

	assert.False(t, report.Success)
	assert.Equal(t, "op_2", report.FailedOp)
	assert.True(t, report.RolledBack)
	assert.True(t, report.RollbackClean)
	assert.Equal(t, before, doc.Fingerprint(), "rollback restores pre-run state")

	// Fail-fast: results for op_1 and op_2 only, never op_3.
	require.Len(t, report.Results, 2)
	assert.Equal(t, plan.StatusSucceeded, report.Results[0].Status)
	assert.Equal(t, plan.StatusFailed, report.Results[1].Status)
	assert.Equal(t, plan.IssueCapability, report.Results[1].ErrorCode)
}

func TestSandboxFailureHasNothingToRollBack(t *testing.T) {
	doc := capability.NewDocument()
	doc.FailOn = map[string]error{"op_3": errors.New("boom")}
	e := New(doc, Config{}, nil, nil)

	p, ops := threeOps()
	report := e.Execute(context.Background(), p, ops, plan.ModeSandbox, nil)

	assert.False(t, report.Success)
	assert.False(t, report.RolledBack)
	assert.Equal(t, 0, doc.EntityCount())
	assert.Len(t, report.Results, 3)
}

func TestSelectionsSeedReferenceTable(t *testing.T) {
	doc := capability.NewDocument()
	e := New(doc, Config{}, nil, nil)

	p := &plan.Plan{ID: "p", Operations: []plan.Operation{
		{ID: "op_1", Kind: plan.KindFillet, Params: map[string]any{"radius": 1.0}, TargetRef: "face_selected"},
	}}
	report := e.Execute(context.Background(), p, p.Operations, plan.ModeApply,
		map[string]string{"face_selected": "kernel:face:7"})

	assert.True(t, report.Success)
	assert.Equal(t, "kernel:face:7", report.Refs["face_selected"])
}

// slowCapability blocks until its context expires.
type slowCapability struct{}

func (slowCapability) Apply(ctx context.Context, op plan.Operation, refs map[string]string) (*capability.Result, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (s slowCapability) Fork() capability.Capability { return s }

func TestPerOperationTimeout(t *testing.T) {
	e := New(slowCapability{}, Config{OpTimeout: 10 * time.Millisecond}, nil, nil)

	p := &plan.Plan{ID: "p", Operations: []plan.Operation{
		{ID: "op_1", Kind: plan.KindCreateSketch, Params: map[string]any{"plane": "XY"}},
	}}
	report := e.Execute(context.Background(), p, p.Operations, plan.ModeSandbox, nil)

	assert.False(t, report.Success)
	require.Len(t, report.Results, 1)
	assert.Equal(t, plan.IssueTimeout, report.Results[0].ErrorCode)
}

// brittleCapability succeeds on Apply but fails some compensations.
type brittleCapability struct {
	inner      *capability.Document
	undoFails  map[string]bool
	undoCalled []string
}

func (b *brittleCapability) Apply(ctx context.Context, op plan.Operation, refs map[string]string) (*capability.Result, error) {
	res, err := b.inner.Apply(ctx, op, refs)
	if err != nil {
		return nil, err
	}
	id := op.ID
	realUndo := res.Undo
	res.Undo = func(ctx context.Context) error {
		b.undoCalled = append(b.undoCalled, id)
		if b.undoFails[id] {
			return fmt.Errorf("undo of %s failed", id)
		}
		return realUndo(ctx)
	}
	return res, nil
}

func (b *brittleCapability) Fork() capability.Capability { return b }

func TestRollbackContinuesPastCompensationFailure(t *testing.T) {
	doc := capability.NewDocument()
	doc.FailOn = map[string]error{"op_3": errors.New("boom")}
	brittle := &brittleCapability{inner: doc, undoFails: map[string]bool{"op_2": true}}
	e := New(brittle, Config{}, nil, nil)

	p, ops := threeOps()
	report := e.Execute(context.Background(), p, ops, plan.ModeApply, nil)

	assert.False(t, report.Success)
	assert.True(t, report.RolledBack)
	assert.False(t, report.RollbackClean)
	require.Len(t, report.RollbackErrors, 1)
	assert.Contains(t, report.RollbackErrors[0], "op_2")

	// Both compensations ran, newest first, despite op_2's failing.
	assert.Equal(t, []string{"op_2", "op_1"}, brittle.undoCalled)
}

func TestCancelledApplyStillCompensates(t *testing.T) {
	doc := capability.NewDocument()
	before := doc.Fingerprint()
	e := New(doc, Config{}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	p, ops := threeOps()

	// Cancel after the first op by injecting a failure that observes the
	// cancelled context on op_2.
	doc.FailOn = map[string]error{"op_2": context.Canceled}
	cancel()

	report := e.Execute(ctx, p, ops, plan.ModeApply, nil)
	// Acquire on a cancelled context fails before dispatch; nothing applied.
	if len(report.Results) == 0 {
		assert.Equal(t, before, doc.Fingerprint())
		return
	}
	assert.True(t, report.RolledBack)
	assert.Equal(t, before, doc.Fingerprint())
}
