// Copyright (C) 2025 Forgeplan Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package plan

import "time"

// Mode selects how a plan run touches the document.
type Mode string

const (
	// ModeSandbox dispatches against a disposable fork of the document;
	// nothing is ever visible to the live document.
	ModeSandbox Mode = "sandbox"

	// ModeApply dispatches against the live document inside a single
	// rollback-capable transaction.
	ModeApply Mode = "apply"
)

// Status is the outcome of one dispatched operation.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// ExecutionResult records the outcome of dispatching one operation.
//
// For an apply-mode run the results list always matches the resolved
// operation order up to and including the first failure; operations after a
// failure that triggered rollback produce no result at all.
type ExecutionResult struct {
	// OpID is the operation this result belongs to.
	OpID string `json:"op_id"`

	// Kind is the operation kind, denormalized for log consumers.
	Kind Kind `json:"op_kind"`

	// Status is succeeded, failed, or skipped.
	Status Status `json:"status"`

	// EntityID is the external identifier the capability returned on
	// success (feature/timeline reference in the kernel's namespace).
	EntityID string `json:"entity_id,omitempty"`

	// EntityName is the referenceable name the operation introduced, if any.
	EntityName string `json:"entity_name,omitempty"`

	// TimelineNode is the capability's timeline position for the effect.
	TimelineNode string `json:"timeline_node,omitempty"`

	// Error describes the failure for failed results.
	Error string `json:"error,omitempty"`

	// ErrorCode classifies a failure (CapabilityError or TimeoutError).
	ErrorCode IssueCode `json:"error_code,omitempty"`

	// Timestamp is when the dispatch completed.
	Timestamp time.Time `json:"timestamp"`

	// Duration is how long the capability call took.
	Duration time.Duration `json:"duration"`
}

// ExecutionReport is the full outcome of one engine run.
type ExecutionReport struct {
	// RunID uniquely identifies this run.
	RunID string `json:"run_id"`

	// PlanID is the executed plan.
	PlanID string `json:"plan_id"`

	// Mode is sandbox or apply.
	Mode Mode `json:"mode"`

	// Success is true when every operation succeeded.
	Success bool `json:"success"`

	// Results holds one entry per dispatched operation, in dispatch order.
	Results []ExecutionResult `json:"results"`

	// FailedOp is the ID of the first failed operation, if any.
	FailedOp string `json:"failed_op,omitempty"`

	// Error is the failure description for unsuccessful runs.
	Error string `json:"error,omitempty"`

	// RolledBack is true when an apply-mode failure or cancellation
	// triggered compensation of previously applied operations.
	RolledBack bool `json:"rolled_back,omitempty"`

	// RollbackClean is false when one or more compensating actions
	// themselves failed; the document must then be treated as suspect.
	// Meaningful only when RolledBack is true.
	RollbackClean bool `json:"rollback_clean,omitempty"`

	// RollbackErrors lists compensation failures, oldest applied first.
	RollbackErrors []string `json:"rollback_errors,omitempty"`

	// Refs is the final name-to-identifier table produced by the run.
	Refs map[string]string `json:"refs,omitempty"`

	// StartedAt is when dispatch of the first operation began.
	StartedAt time.Time `json:"started_at"`

	// Duration is the total run time.
	Duration time.Duration `json:"duration"`
}

// Result returns the execution result for an operation ID, if one was
// recorded.
func (r *ExecutionReport) Result(opID string) (ExecutionResult, bool) {
	for _, res := range r.Results {
		if res.OpID == opID {
			return res, true
		}
	}
	return ExecutionResult{}, false
}

// Succeeded counts operations that completed successfully.
func (r *ExecutionReport) Succeeded() int {
	n := 0
	for _, res := range r.Results {
		if res.Status == StatusSucceeded {
			n++
		}
	}
	return n
}
