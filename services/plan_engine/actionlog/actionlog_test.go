// Copyright (C) 2025 Forgeplan Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package actionlog

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgeplan/forgeplan/services/plan_engine/plan"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleEntry(runID, opID string, status plan.Status) Entry {
	return Entry{
		Timestamp: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		RunID:     runID,
		Mode:      plan.ModeApply,
		PlanID:    "plan-cube",
		OpID:      opID,
		OpKind:    plan.KindExtrude,
		Params:    map[string]any{"distance": map[string]any{"value": 10.0, "unit": "mm"}},
		TargetRef: "base",
		Status:    status,
		EntityID:  "ent_0001",
	}
}

func TestAppendAssignsMonotonicSequence(t *testing.T) {
	s := openTestStore(t)

	seq1, err := s.Append(sampleEntry("run-1", "op_1", plan.StatusSucceeded))
	require.NoError(t, err)
	seq2, err := s.Append(sampleEntry("run-1", "op_2", plan.StatusSucceeded))
	require.NoError(t, err)

	assert.Equal(t, uint64(1), seq1)
	assert.Equal(t, uint64(2), seq2)

	entries, err := s.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "op_1", entries[0].OpID)
	assert.Equal(t, "op_2", entries[1].OpID)
}

func TestEntriesSurviveReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, nil, nil)
	require.NoError(t, err)
	_, err = s.Append(sampleEntry("run-1", "op_1", plan.StatusSucceeded))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(dir, nil, nil)
	require.NoError(t, err)
	defer s.Close()

	entries, err := s.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "op_1", entries[0].OpID)

	// Sequence numbering continues, never restarts.
	seq, err := s.Append(sampleEntry("run-2", "op_1", plan.StatusSucceeded))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), seq)
}

func TestEntryBySeq(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Append(sampleEntry("run-1", "op_1", plan.StatusSucceeded))
	require.NoError(t, err)

	e, err := s.Entry(1)
	require.NoError(t, err)
	assert.Equal(t, "op_1", e.OpID)

	_, err = s.Entry(99)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecordWritesOneEntryPerDispatchedOp(t *testing.T) {
	s := openTestStore(t)

	p := &plan.Plan{ID: "plan-x", Operations: []plan.Operation{
		{ID: "op_1", Kind: plan.KindCreateSketch, Params: map[string]any{"plane": "XY", "name": "s"}},
		{ID: "op_2", Kind: plan.KindExtrude, Params: map[string]any{"distance": 5.0}, TargetRef: "s", Dependencies: []string{"op_1"}},
		{ID: "op_3", Kind: plan.KindFillet, Params: map[string]any{"radius": 1.0}},
	}}
	report := &plan.ExecutionReport{
		RunID:  "run-7",
		PlanID: "plan-x",
		Mode:   plan.ModeApply,
		Results: []plan.ExecutionResult{
			{OpID: "op_1", Kind: plan.KindCreateSketch, Status: plan.StatusSucceeded, EntityID: "ent_0001", Timestamp: time.Now()},
			{OpID: "op_2", Kind: plan.KindExtrude, Status: plan.StatusFailed, Error: "boom", Timestamp: time.Now()},
		},
	}

	entries, err := s.Record(p, report)
	require.NoError(t, err)
	require.Len(t, entries, 2, "only dispatched operations are logged")

	assert.Equal(t, plan.StatusSucceeded, entries[0].Status)
	assert.Equal(t, "s", entries[1].TargetRef)
	assert.Equal(t, []string{"op_1"}, entries[1].Dependencies)
	assert.Equal(t, "boom", entries[1].Error)
}

func TestExportJSONRoundTrip(t *testing.T) {
	src := openTestStore(t)
	_, err := src.Append(sampleEntry("run-1", "op_1", plan.StatusSucceeded))
	require.NoError(t, err)
	_, err = src.Append(sampleEntry("run-1", "op_2", plan.StatusFailed))
	require.NoError(t, err)

	var export bytes.Buffer
	require.NoError(t, src.ExportJSON(&export))

	dst := openTestStore(t)
	n, err := dst.Import(bytes.NewReader(export.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	var again bytes.Buffer
	require.NoError(t, dst.ExportJSON(&again))
	assert.JSONEq(t, export.String(), again.String(), "export -> import -> export is lossless")
}

func TestImportRejectsSeqCollision(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Append(sampleEntry("run-1", "op_1", plan.StatusSucceeded))
	require.NoError(t, err)

	var export bytes.Buffer
	require.NoError(t, s.ExportJSON(&export))

	_, err = s.Import(bytes.NewReader(export.Bytes()))
	assert.Error(t, err)
}

func TestExportCSV(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Append(sampleEntry("run-1", "op_1", plan.StatusSucceeded))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, s.ExportCSV(&buf))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "seq,timestamp,run_id")
	assert.Contains(t, lines[1], "op_1")
	assert.Contains(t, lines[1], "extrude")
}

func TestExportText(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Append(sampleEntry("run-1", "op_1", plan.StatusSucceeded))
	require.NoError(t, err)
	_, err = s.Append(sampleEntry("run-1", "op_2", plan.StatusFailed))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, s.ExportText(&buf))

	text := buf.String()
	assert.Contains(t, text, "op_1")
	assert.Contains(t, text, "succeeded")
	assert.Contains(t, text, "failed")
}

func TestReplayBuildsFreshPlan(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Append(sampleEntry("run-1", "op_1", plan.StatusSucceeded))
	require.NoError(t, err)
	failed := sampleEntry("run-1", "op_2", plan.StatusFailed)
	failed.EntityID = ""
	_, err = s.Append(failed)
	require.NoError(t, err)

	p, err := s.Replay("run-1")
	require.NoError(t, err)

	assert.NotEqual(t, "plan-cube", p.ID, "replay plans get a fresh id")
	require.Len(t, p.Operations, 1, "failed operations are not replayed")
	assert.Equal(t, "op_1", p.Operations[0].ID)
	assert.Equal(t, plan.KindExtrude, p.Operations[0].Kind)
	assert.Equal(t, "base", p.Operations[0].TargetRef)

	_, err = s.Replay("run-missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStatsSummarizesLog(t *testing.T) {
	s := openTestStore(t)

	empty, err := s.Stats()
	require.NoError(t, err)
	assert.Equal(t, 0, empty.Total)
	assert.Equal(t, 0, empty.Runs)
	assert.Equal(t, 0.0, empty.SuccessRate)

	_, err = s.Append(sampleEntry("run-1", "op_1", plan.StatusSucceeded))
	require.NoError(t, err)
	_, err = s.Append(sampleEntry("run-1", "op_2", plan.StatusSucceeded))
	require.NoError(t, err)
	_, err = s.Append(sampleEntry("run-2", "op_1", plan.StatusFailed))
	require.NoError(t, err)
	_, err = s.Append(sampleEntry("run-2", "op_2", plan.StatusSkipped))
	require.NoError(t, err)

	stats, err := s.Stats()
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Total)
	assert.Equal(t, 2, stats.Runs)
	assert.Equal(t, 2, stats.ByStatus[plan.StatusSucceeded])
	assert.Equal(t, 1, stats.ByStatus[plan.StatusFailed])
	assert.Equal(t, 1, stats.ByStatus[plan.StatusSkipped])
	assert.InDelta(t, 0.5, stats.SuccessRate, 1e-12)
}

func TestCorruptEntryFailsLoudly(t *testing.T) {
	_, err := unseal([]byte{0, 0, 0, 1, 'x'})
	assert.ErrorIs(t, err, ErrCorruptEntry)

	_, err = unseal([]byte{0, 0})
	assert.ErrorIs(t, err, ErrCorruptEntry)

	payload := []byte(`{"seq":1}`)
	sealed := seal(payload)
	got, err := unseal(sealed)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}
