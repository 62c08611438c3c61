// Copyright (C) 2025 Forgeplan Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package actionlog persists an append-only record of every dispatched
// operation.
//
// Entries live in BadgerDB under big-endian sequence-number keys, written
// synchronously so that a crash after operation k's result is recorded never
// loses k's entry. Each value carries a CRC32 of its payload; a corrupt
// entry fails reads loudly instead of surfacing garbage. Entries are never
// mutated once written — a replay produces new entries, not edits.
package actionlog

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"log/slog"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/forgeplan/forgeplan/services/plan_engine/plan"
	"github.com/forgeplan/forgeplan/services/plan_engine/telemetry"
)

var (
	// ErrCorruptEntry is returned when a stored entry fails its checksum.
	ErrCorruptEntry = errors.New("action log entry failed checksum")

	// ErrNotFound is returned when no entry has the requested sequence.
	ErrNotFound = errors.New("action log entry not found")
)

// keyPrefix namespaces log entries inside the Badger keyspace.
var keyPrefix = []byte("al:")

// Entry is one persisted action log record. The field set is a stable
// contract: exports and imports round-trip every field.
type Entry struct {
	// Seq is the monotonically increasing sequence number, unique for the
	// life of the store.
	Seq uint64 `json:"seq"`

	// Timestamp is when the entry was appended.
	Timestamp time.Time `json:"timestamp"`

	// RunID groups the entries of one engine run.
	RunID string `json:"run_id"`

	// Mode is the run's execution mode.
	Mode plan.Mode `json:"mode"`

	// PlanID is the plan the operation came from.
	PlanID string `json:"plan_id"`

	// OpID, OpKind, Params, TargetRef, and Dependencies snapshot the
	// originating operation so a replay can reconstruct it.
	OpID         string         `json:"op_id"`
	OpKind       plan.Kind      `json:"op_kind"`
	Params       map[string]any `json:"params,omitempty"`
	TargetRef    string         `json:"target_ref,omitempty"`
	Dependencies []string       `json:"dependencies,omitempty"`

	// Status is the operation's outcome.
	Status plan.Status `json:"status"`

	// EntityID, EntityName, and TimelineNode map a success to the external
	// identifiers the capability returned.
	EntityID     string `json:"entity_id,omitempty"`
	EntityName   string `json:"entity_name,omitempty"`
	TimelineNode string `json:"timeline_node,omitempty"`

	// Error holds the failure description for failed entries.
	Error string `json:"error,omitempty"`
}

// Store is the append-only log.
//
// Thread Safety: Append is serialized by a mutex; reads run on Badger
// snapshots and may proceed concurrently with writes.
type Store struct {
	db      *badger.DB
	log     *slog.Logger
	metrics *telemetry.Metrics

	mu  sync.Mutex
	seq uint64
}

// Open opens (or creates) the log at dir. metrics may be nil.
func Open(dir string, log *slog.Logger, metrics *telemetry.Metrics) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	opts := badger.DefaultOptions(dir).
		WithLogger(nil).
		WithSyncWrites(true)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening action log at %s: %w", dir, err)
	}

	s := &Store{db: db, log: log, metrics: metrics}
	if err := s.recoverSeq(); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Info("action log opened", slog.String("dir", dir), slog.Uint64("last_seq", s.seq))
	return s, nil
}

// recoverSeq finds the highest stored sequence so appends continue after a
// restart instead of colliding.
func (s *Store) recoverSeq() error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		// Seek past the prefix range; the first reverse hit is the newest.
		seek := append(append([]byte(nil), keyPrefix...), 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff)
		it.Seek(seek)
		if it.ValidForPrefix(keyPrefix) {
			key := it.Item().Key()
			s.seq = binary.BigEndian.Uint64(key[len(keyPrefix):])
		}
		return nil
	})
}

func key(seq uint64) []byte {
	k := make([]byte, len(keyPrefix)+8)
	copy(k, keyPrefix)
	binary.BigEndian.PutUint64(k[len(keyPrefix):], seq)
	return k
}

// seal wraps a JSON payload with a CRC32 header.
func seal(payload []byte) []byte {
	out := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(out, crc32.ChecksumIEEE(payload))
	copy(out[4:], payload)
	return out
}

// unseal verifies and strips the CRC32 header.
func unseal(value []byte) ([]byte, error) {
	if len(value) < 4 {
		return nil, ErrCorruptEntry
	}
	want := binary.BigEndian.Uint32(value)
	payload := value[4:]
	if crc32.ChecksumIEEE(payload) != want {
		return nil, ErrCorruptEntry
	}
	return payload, nil
}

// Append writes one entry and returns its assigned sequence number. The
// entry's Seq is overwritten; a zero Timestamp is filled with the current
// time.
func (s *Store) Append(e Entry) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	e.Seq = s.seq
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if err := s.put(e); err != nil {
		s.seq--
		return 0, err
	}
	s.metrics.ObserveLogEntry()
	return e.Seq, nil
}

func (s *Store) put(e Entry) error {
	payload, err := marshalEntry(e)
	if err != nil {
		return fmt.Errorf("encoding entry %d: %w", e.Seq, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(e.Seq), seal(payload))
	})
	if err != nil {
		return fmt.Errorf("writing entry %d: %w", e.Seq, err)
	}
	return nil
}

// Record appends one entry per dispatched operation of a run, in dispatch
// order, and returns them.
func (s *Store) Record(p *plan.Plan, report *plan.ExecutionReport) ([]Entry, error) {
	out := make([]Entry, 0, len(report.Results))
	for _, res := range report.Results {
		e := Entry{
			Timestamp:    res.Timestamp.UTC(),
			RunID:        report.RunID,
			Mode:         report.Mode,
			PlanID:       report.PlanID,
			OpID:         res.OpID,
			OpKind:       res.Kind,
			Status:       res.Status,
			EntityID:     res.EntityID,
			EntityName:   res.EntityName,
			TimelineNode: res.TimelineNode,
			Error:        res.Error,
		}
		if op, ok := p.Operation(res.OpID); ok {
			snap := op.Clone()
			e.Params = snap.Params
			e.TargetRef = snap.TargetRef
			e.Dependencies = snap.Dependencies
		}
		seq, err := s.Append(e)
		if err != nil {
			return out, err
		}
		e.Seq = seq
		out = append(out, e)
	}
	s.log.Debug("run recorded",
		slog.String("run_id", report.RunID),
		slog.Int("entries", len(out)))
	return out, nil
}

// Entries returns every entry in sequence order.
func (s *Store) Entries() ([]Entry, error) {
	var out []Entry
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = keyPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(keyPrefix); it.ValidForPrefix(keyPrefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				payload, err := unseal(val)
				if err != nil {
					return fmt.Errorf("entry at key %x: %w", it.Item().Key(), err)
				}
				e, err := unmarshalEntry(payload)
				if err != nil {
					return err
				}
				out = append(out, e)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Entry fetches a single entry by sequence number.
func (s *Store) Entry(seq uint64) (Entry, error) {
	var e Entry
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(seq))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: seq %d", ErrNotFound, seq)
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			payload, err := unseal(val)
			if err != nil {
				return err
			}
			e, err = unmarshalEntry(payload)
			return err
		})
	})
	return e, err
}

// Run returns the entries of one run in sequence order.
func (s *Store) Run(runID string) ([]Entry, error) {
	all, err := s.Entries()
	if err != nil {
		return nil, err
	}
	var out []Entry
	for _, e := range all {
		if e.RunID == runID {
			out = append(out, e)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: run %s", ErrNotFound, runID)
	}
	return out, nil
}

// Stats is a summary of the whole log: entry totals per status, distinct
// runs, and the fraction of entries that succeeded.
type Stats struct {
	Total       int                 `json:"total"`
	Runs        int                 `json:"runs"`
	ByStatus    map[plan.Status]int `json:"by_status"`
	SuccessRate float64             `json:"success_rate"`
}

// Stats computes summary counts over every entry. An empty log yields a
// zero-valued summary, not an error.
func (s *Store) Stats() (Stats, error) {
	entries, err := s.Entries()
	if err != nil {
		return Stats{}, err
	}
	st := Stats{ByStatus: make(map[plan.Status]int)}
	runs := make(map[string]struct{})
	for _, e := range entries {
		st.Total++
		st.ByStatus[e.Status]++
		runs[e.RunID] = struct{}{}
	}
	st.Runs = len(runs)
	if st.Total > 0 {
		st.SuccessRate = float64(st.ByStatus[plan.StatusSucceeded]) / float64(st.Total)
	}
	return st, nil
}

// Close flushes and closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
