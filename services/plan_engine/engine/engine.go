// Copyright (C) 2025 Forgeplan Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package engine dispatches resolved operations against a capability.
//
// Dispatch is strictly sequential: operation n+1 never starts before
// operation n's result is known, because later operations may reference
// identifiers produced by earlier ones. Sandbox runs go against a disposable
// fork of the capability and may run concurrently; apply runs are serialized
// by a single-slot semaphore and wrapped in a compensating transaction that
// rolls back everything on the first failure.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/semaphore"

	"github.com/forgeplan/forgeplan/services/plan_engine/capability"
	"github.com/forgeplan/forgeplan/services/plan_engine/plan"
	"github.com/forgeplan/forgeplan/services/plan_engine/telemetry"
)

// Config tunes the engine.
type Config struct {
	// OpTimeout bounds each capability call. Zero disables the bound.
	OpTimeout time.Duration
}

// Engine executes ordered operations.
//
// Thread Safety: safe for concurrent use. Sandbox runs proceed in parallel;
// at most one apply run touches the live capability at a time.
type Engine struct {
	cap       capability.Capability
	cfg       Config
	log       *slog.Logger
	metrics   *telemetry.Metrics
	applyGate *semaphore.Weighted
}

// New builds an Engine over cap. metrics may be nil.
func New(cap capability.Capability, cfg Config, log *slog.Logger, metrics *telemetry.Metrics) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		cap:       cap,
		cfg:       cfg,
		log:       log,
		metrics:   metrics,
		applyGate: semaphore.NewWeighted(1),
	}
}

// Execute dispatches ordered against the capability in the given mode.
//
// Description:
//
//	The reference table starts from selections (external names the caller
//	declared resolvable) and grows after every success: the operation's id
//	and, when present, its introduced name both map to the entity id the
//	capability returned. On the first failure dispatch halts; in apply mode
//	everything applied so far is compensated in reverse order before the
//	report is returned. Sandbox failures end the run with nothing to undo,
//	since the fork is discarded whole.
//
// Outputs:
//
//	The report is never nil. Success, FailedOp, and the rollback fields
//	describe the outcome; Results holds one entry per dispatched operation
//	in dispatch order, and never contains entries for operations that were
//	not reached.
func (e *Engine) Execute(ctx context.Context, p *plan.Plan, ordered []plan.Operation, mode plan.Mode, selections map[string]string) *plan.ExecutionReport {
	tracer := otel.Tracer("forgeplan/engine")
	ctx, span := tracer.Start(ctx, "engine.Execute")
	defer span.End()

	report := &plan.ExecutionReport{
		RunID:     uuid.NewString(),
		PlanID:    p.ID,
		Mode:      mode,
		StartedAt: time.Now(),
	}
	span.SetAttributes(
		attribute.String("plan.id", p.ID),
		attribute.String("run.id", report.RunID),
		attribute.String("run.mode", string(mode)),
		attribute.Int("run.operations", len(ordered)),
	)

	target := e.cap
	switch mode {
	case plan.ModeSandbox:
		target = e.cap.Fork()
	case plan.ModeApply:
		if err := e.applyGate.Acquire(ctx, 1); err != nil {
			report.Error = fmt.Sprintf("waiting for apply slot: %v", err)
			report.Duration = time.Since(report.StartedAt)
			return report
		}
		defer e.applyGate.Release(1)
	default:
		report.Error = fmt.Sprintf("unknown execution mode %q", mode)
		report.Duration = time.Since(report.StartedAt)
		return report
	}

	refs := make(map[string]string, len(selections)+len(ordered))
	for k, v := range selections {
		refs[k] = v
	}

	var undos []func(context.Context) error
	for _, op := range ordered {
		res, opResult := e.dispatch(ctx, target, op, refs)
		report.Results = append(report.Results, opResult)
		e.metrics.ObserveOp(string(op.Kind), string(opResult.Status), opResult.Duration.Seconds())

		if opResult.Status != plan.StatusSucceeded {
			report.FailedOp = op.ID
			report.Error = opResult.Error
			if mode == plan.ModeApply {
				e.rollback(ctx, report, undos)
			}
			break
		}

		refs[op.ID] = res.Effect.EntityID
		if res.Effect.EntityName != "" {
			refs[res.Effect.EntityName] = res.Effect.EntityID
		}
		if mode == plan.ModeApply && res.Undo != nil {
			undos = append(undos, res.Undo)
		}
	}

	report.Success = report.FailedOp == "" && report.Error == "" && len(report.Results) == len(ordered)
	report.Refs = refs
	report.Duration = time.Since(report.StartedAt)
	e.metrics.ObserveRun(string(mode), report.Success, report.Duration.Seconds())

	e.log.Info("run finished",
		slog.String("run_id", report.RunID),
		slog.String("plan_id", p.ID),
		slog.String("mode", string(mode)),
		slog.Bool("success", report.Success),
		slog.Int("dispatched", len(report.Results)),
		slog.Duration("duration", report.Duration))
	return report
}

// dispatch runs one capability call under the per-op timeout.
func (e *Engine) dispatch(ctx context.Context, target capability.Capability, op plan.Operation, refs map[string]string) (*capability.Result, plan.ExecutionResult) {
	tracer := otel.Tracer("forgeplan/engine")
	opCtx := ctx
	cancel := context.CancelFunc(func() {})
	if e.cfg.OpTimeout > 0 {
		opCtx, cancel = context.WithTimeout(ctx, e.cfg.OpTimeout)
	}
	defer cancel()

	opCtx, span := tracer.Start(opCtx, "engine.dispatch")
	span.SetAttributes(
		attribute.String("op.id", op.ID),
		attribute.String("op.kind", string(op.Kind)),
	)
	defer span.End()

	start := time.Now()
	res, err := target.Apply(opCtx, op, refs)
	elapsed := time.Since(start)

	result := plan.ExecutionResult{
		OpID:      op.ID,
		Kind:      op.Kind,
		Timestamp: time.Now(),
		Duration:  elapsed,
	}
	if err != nil {
		result.Status = plan.StatusFailed
		result.Error = err.Error()
		result.ErrorCode = plan.IssueCapability
		if errors.Is(err, context.DeadlineExceeded) {
			result.ErrorCode = plan.IssueTimeout
		}
		e.log.Warn("operation failed",
			slog.String("op_id", op.ID),
			slog.String("op_kind", string(op.Kind)),
			slog.String("error", err.Error()))
		return nil, result
	}

	result.Status = plan.StatusSucceeded
	result.EntityID = res.Effect.EntityID
	result.EntityName = res.Effect.EntityName
	result.TimelineNode = res.Effect.TimelineNode
	return res, result
}

// rollback compensates applied operations newest first. A compensation
// failure does not stop the remaining compensations; every failure is
// collected and the report is marked unclean so the caller knows the
// document state is suspect.
func (e *Engine) rollback(ctx context.Context, report *plan.ExecutionReport, undos []func(context.Context) error) {
	report.RolledBack = true
	report.RollbackClean = true

	// Compensation must run even when the run failed because ctx was
	// canceled or timed out.
	undoCtx := context.WithoutCancel(ctx)
	for i := len(undos) - 1; i >= 0; i-- {
		if err := undos[i](undoCtx); err != nil {
			report.RollbackClean = false
			report.RollbackErrors = append(report.RollbackErrors, err.Error())
			e.log.Error("compensation failed",
				slog.String("run_id", report.RunID),
				slog.Int("undo_index", i),
				slog.String("error", err.Error()))
		}
	}
	e.metrics.ObserveRollback(len(report.RollbackErrors))
}
