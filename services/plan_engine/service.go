// Copyright (C) 2025 Forgeplan Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package plan_engine composes the plan pipeline: sanitize, resolve,
// execute, record.
package plan_engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/forgeplan/forgeplan/services/plan_engine/actionlog"
	"github.com/forgeplan/forgeplan/services/plan_engine/capability"
	"github.com/forgeplan/forgeplan/services/plan_engine/engine"
	"github.com/forgeplan/forgeplan/services/plan_engine/plan"
	"github.com/forgeplan/forgeplan/services/plan_engine/resolve"
	"github.com/forgeplan/forgeplan/services/plan_engine/sanitize"
	"github.com/forgeplan/forgeplan/services/plan_engine/telemetry"
)

// ServiceVersion is the plan engine service version.
const ServiceVersion = "0.1.0"

// ErrNeedsUserInput is returned when a plan's metadata flags open
// clarification questions; such plans validate and preview but are never
// applied to the live document.
var ErrNeedsUserInput = errors.New("plan requires user input before apply")

// ServiceConfig assembles the pipeline configuration.
type ServiceConfig struct {
	Sanitize sanitize.Config
	Engine   engine.Config
}

// DefaultServiceConfig returns the configuration used when nothing
// overrides it.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{Sanitize: sanitize.DefaultConfig()}
}

// Service is the pipeline facade the HTTP handlers and the CLI share.
//
// Thread Safety: safe for concurrent use. Preview runs proceed in parallel;
// Apply runs are serialized by the engine.
type Service struct {
	san     *sanitize.Sanitizer
	eng     *engine.Engine
	store   *actionlog.Store
	log     *slog.Logger
	metrics *telemetry.Metrics
}

// NewService wires the pipeline over cap and store. metrics may be nil;
// store may be nil for callers that do not keep a log (pure validation).
func NewService(cfg ServiceConfig, cap capability.Capability, store *actionlog.Store, log *slog.Logger, metrics *telemetry.Metrics) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		san:     sanitize.New(cfg.Sanitize, log),
		eng:     engine.New(cap, cfg.Engine, log, metrics),
		store:   store,
		log:     log,
		metrics: metrics,
	}
}

// Store exposes the action log for export and replay surfaces.
func (s *Service) Store() *actionlog.Store { return s.store }

// Validate sanitizes and resolves a plan without executing anything.
//
// Outputs:
//
//	The cleaned plan in resolved dispatch order alongside the sanitizer's
//	issues. A fatal sanitizer issue surfaces as sanitize.ErrPlanRejected; a
//	graph problem as a *resolve.GraphError.
func (s *Service) Validate(ctx context.Context, p *plan.Plan, selections map[string]string) (*plan.Plan, plan.Issues, error) {
	clean, issues, err := s.san.Sanitize(ctx, p)
	s.metrics.ObserveSanitize(err == nil, issueCodes(issues))
	if err != nil {
		return nil, issues, err
	}

	r := resolve.Resolver{Selections: selectionSet(selections)}
	ordered, err := r.Resolve(clean)
	if err != nil {
		return nil, issues, err
	}
	clean.Operations = ordered
	return clean, issues, nil
}

// Preview validates and executes a plan in sandbox mode. The live document
// is never touched; the run is still recorded in the action log.
func (s *Service) Preview(ctx context.Context, p *plan.Plan, selections map[string]string) (*plan.ExecutionReport, plan.Issues, error) {
	return s.run(ctx, p, plan.ModeSandbox, selections)
}

// Apply validates and executes a plan against the live document inside a
// rollback-capable transaction.
func (s *Service) Apply(ctx context.Context, p *plan.Plan, selections map[string]string) (*plan.ExecutionReport, plan.Issues, error) {
	return s.run(ctx, p, plan.ModeApply, selections)
}

func (s *Service) run(ctx context.Context, p *plan.Plan, mode plan.Mode, selections map[string]string) (*plan.ExecutionReport, plan.Issues, error) {
	clean, issues, err := s.Validate(ctx, p, selections)
	if err != nil {
		return nil, issues, err
	}
	// Plans with open clarification questions may still be previewed; the
	// sanitizer attaches the advisory. Only apply is refused.
	if clean.Metadata.RequiresUserInput && mode == plan.ModeApply {
		return nil, issues, ErrNeedsUserInput
	}

	report := s.eng.Execute(ctx, clean, clean.Operations, mode, selections)
	if s.store != nil {
		if _, err := s.store.Record(clean, report); err != nil {
			// The run already happened; a logging failure must not be
			// silently swallowed, but it does not undo the run either.
			s.log.Error("recording run failed",
				slog.String("run_id", report.RunID),
				slog.String("error", err.Error()))
			return report, issues, fmt.Errorf("run %s finished but logging failed: %w", report.RunID, err)
		}
	}
	return report, issues, nil
}

// Replay rebuilds the plan behind the run that produced entry seq and sends
// it through the full pipeline again in the given mode.
func (s *Service) Replay(ctx context.Context, seq uint64, mode plan.Mode, selections map[string]string) (*plan.ExecutionReport, plan.Issues, error) {
	if s.store == nil {
		return nil, nil, fmt.Errorf("no action log configured")
	}
	entry, err := s.store.Entry(seq)
	if err != nil {
		return nil, nil, err
	}
	replayPlan, err := s.store.Replay(entry.RunID)
	if err != nil {
		return nil, nil, err
	}
	s.log.Info("replaying run",
		slog.String("source_run", entry.RunID),
		slog.String("plan_id", replayPlan.ID),
		slog.String("mode", string(mode)))

	switch mode {
	case plan.ModeApply:
		return s.Apply(ctx, replayPlan, selections)
	default:
		return s.Preview(ctx, replayPlan, selections)
	}
}

func issueCodes(issues plan.Issues) []string {
	out := make([]string, len(issues))
	for i, is := range issues {
		out[i] = string(is.Code)
	}
	return out
}

func selectionSet(selections map[string]string) map[string]bool {
	if len(selections) == 0 {
		return nil
	}
	set := make(map[string]bool, len(selections))
	for name := range selections {
		set[name] = true
	}
	return set
}
