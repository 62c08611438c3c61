// Copyright (C) 2025 Forgeplan Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package actionlog

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/forgeplan/forgeplan/services/plan_engine/plan"
)

func marshalEntry(e Entry) ([]byte, error) {
	return json.Marshal(e)
}

func unmarshalEntry(payload []byte) (Entry, error) {
	var e Entry
	if err := json.Unmarshal(payload, &e); err != nil {
		return Entry{}, fmt.Errorf("decoding entry: %w", err)
	}
	return e, nil
}

// -----------------------------------------------------------------------------
// Export
// -----------------------------------------------------------------------------

// ExportJSON writes the full entry sequence as an indented JSON array. The
// output preserves every field and re-imports losslessly.
func (s *Store) ExportJSON(w io.Writer) error {
	entries, err := s.Entries()
	if err != nil {
		return err
	}
	if entries == nil {
		entries = []Entry{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(entries)
}

// csvHeader is the flattened column set. Params are carried as a JSON blob
// in the last column so the tabular form stays one row per entry without
// losing data.
var csvHeader = []string{
	"seq", "timestamp", "run_id", "mode", "plan_id", "op_id", "op_kind",
	"status", "entity_id", "entity_name", "timeline_node", "target_ref",
	"error", "params",
}

// ExportCSV writes the entry sequence as a flat table.
func (s *Store) ExportCSV(w io.Writer) error {
	entries, err := s.Entries()
	if err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, e := range entries {
		params := ""
		if len(e.Params) > 0 {
			b, err := json.Marshal(e.Params)
			if err != nil {
				return err
			}
			params = string(b)
		}
		row := []string{
			strconv.FormatUint(e.Seq, 10),
			e.Timestamp.Format(time.RFC3339Nano),
			e.RunID,
			string(e.Mode),
			e.PlanID,
			e.OpID,
			string(e.OpKind),
			string(e.Status),
			e.EntityID,
			e.EntityName,
			e.TimelineNode,
			e.TargetRef,
			e.Error,
			params,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ExportText writes a human-readable rendering, one line per entry.
func (s *Store) ExportText(w io.Writer) error {
	entries, err := s.Entries()
	if err != nil {
		return err
	}
	for _, e := range entries {
		line := fmt.Sprintf("#%04d %s [%s/%s] %s %s -> %s",
			e.Seq,
			e.Timestamp.Format(time.RFC3339),
			e.Mode,
			e.RunID,
			e.OpID,
			e.OpKind,
			e.Status)
		if e.EntityID != "" {
			line += fmt.Sprintf(" (%s @ %s)", e.EntityID, e.TimelineNode)
		}
		if e.Error != "" {
			line += " error: " + e.Error
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}

// Import reads a JSON export and appends its entries, preserving their
// original sequence numbers. Importing into a non-empty store fails on any
// sequence collision rather than overwriting history.
func (s *Store) Import(r io.Reader) (int, error) {
	var entries []Entry
	if err := json.NewDecoder(r).Decode(&entries); err != nil {
		return 0, fmt.Errorf("decoding import: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i, e := range entries {
		if e.Seq == 0 {
			return i, fmt.Errorf("import entry %d has no sequence number", i)
		}
		if _, err := s.Entry(e.Seq); err == nil {
			return i, fmt.Errorf("import entry %d collides with existing seq %d", i, e.Seq)
		}
		if err := s.put(e); err != nil {
			return i, err
		}
		if e.Seq > s.seq {
			s.seq = e.Seq
		}
	}
	s.log.Info("action log imported", slog.Int("entries", len(entries)))
	return len(entries), nil
}

// -----------------------------------------------------------------------------
// Replay
// -----------------------------------------------------------------------------

// Replay reconstructs a fresh plan from a run's successful entries.
//
// The new plan gets a new id and never reuses old entity identifiers; it is
// an ordinary plan that re-enters the full sanitize/resolve/execute pipeline.
// Operation ids and dependency lists are carried over verbatim, which is
// valid because entries were recorded in dispatch order.
func (s *Store) Replay(runID string) (*plan.Plan, error) {
	entries, err := s.Run(runID)
	if err != nil {
		return nil, err
	}

	p := &plan.Plan{
		ID: "replay-" + uuid.NewString(),
		Metadata: plan.Metadata{
			Prompt:    fmt.Sprintf("replay of run %s", runID),
			CreatedAt: plan.Timestamp(time.Now().UTC()),
		},
	}
	for _, e := range entries {
		if e.Status != plan.StatusSucceeded {
			continue
		}
		p.Operations = append(p.Operations, plan.Operation{
			ID:           e.OpID,
			Kind:         e.OpKind,
			Params:       e.Params,
			TargetRef:    e.TargetRef,
			Dependencies: e.Dependencies,
		})
	}
	if len(p.Operations) == 0 {
		return nil, fmt.Errorf("%w: run %s has no successful operations", ErrNotFound, runID)
	}
	return p.Clone(), nil
}
