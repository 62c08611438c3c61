// Copyright (C) 2025 Forgeplan Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package sanitize validates and normalizes model-produced plans before any
// of them can reach a capability.
//
// The sanitizer is the first stage of the pipeline and the only stage allowed
// to rewrite a plan: it deep-copies the input, converts every dimensioned
// parameter to canonical units, clamps or flags out-of-range values, and
// rejects anything structurally unsound. Identical input and configuration
// always produce identical output.
package sanitize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/forgeplan/forgeplan/services/plan_engine/plan"
	"github.com/forgeplan/forgeplan/services/plan_engine/units"
)

// ErrPlanRejected is returned when sanitization produced at least one fatal
// issue. The issues slice accompanying the error carries the details.
var ErrPlanRejected = errors.New("plan rejected by sanitizer")

// opIDPattern is the only accepted shape for operation identifiers.
var opIDPattern = regexp.MustCompile(`^op_\d+$`)

const fullTurn = 2 * math.Pi

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

// MachineProfile bounds dimensions against what the target machine can
// actually produce. Values are in canonical units (mm).
type MachineProfile struct {
	// MinToolDiameter is the smallest hole diameter the machine can cut.
	MinToolDiameter float64 `yaml:"min_tool_diameter"`

	// MaxCutDepth is the deepest single cut or hole allowed.
	MaxCutDepth float64 `yaml:"max_cut_depth"`

	// MinWallThickness is the thinnest shell wall allowed.
	MinWallThickness float64 `yaml:"min_wall_thickness"`

	// MaxFeatureSize caps every linear dimension in a plan.
	MaxFeatureSize float64 `yaml:"max_feature_size"`
}

// DefaultProfile matches a small desktop mill.
func DefaultProfile() MachineProfile {
	return MachineProfile{
		MinToolDiameter:  0.5,
		MaxCutDepth:      100,
		MinWallThickness: 0.8,
		MaxFeatureSize:   1000,
	}
}

// Config controls sanitizer behavior.
type Config struct {
	// MaxOperations is the per-plan operation ceiling.
	MaxOperations int

	// MaxPromptLen truncates the natural-language prompt in metadata.
	MaxPromptLen int

	// StrictMode escalates machine-profile violations from advisory to
	// fatal. Non-positive lengths are fatal regardless.
	StrictMode bool

	// ClampAdvisory rewrites advisory out-of-range values to the nearest
	// bound instead of leaving them for the caller to confirm.
	ClampAdvisory bool

	// AngleWraparound folds out-of-range angles into [0, 2π) instead of
	// flagging them.
	AngleWraparound bool

	// DefaultUnits is the length unit assumed for bare numeric dimensions
	// when the plan's metadata does not declare one.
	DefaultUnits string

	// Profile holds the machine bounds.
	Profile MachineProfile

	// Now supplies timestamps for CreatedAt backfill. Injectable for tests;
	// nil means time.Now.
	Now func() time.Time
}

// DefaultConfig returns the sanitizer defaults used by the service when no
// settings file overrides them.
func DefaultConfig() Config {
	return Config{
		MaxOperations: 100,
		MaxPromptLen:  2000,
		StrictMode:    true,
		DefaultUnits:  units.CanonicalLength,
		Profile:       DefaultProfile(),
	}
}

// -----------------------------------------------------------------------------
// Sanitizer
// -----------------------------------------------------------------------------

// Sanitizer validates plans against the operation vocabulary, unit tables,
// and machine profile.
//
// Thread Safety: a Sanitizer is immutable after construction and safe for
// concurrent use.
type Sanitizer struct {
	cfg Config
	log *slog.Logger
}

// New builds a Sanitizer. A nil logger falls back to slog.Default.
func New(cfg Config, log *slog.Logger) *Sanitizer {
	if log == nil {
		log = slog.Default()
	}
	if cfg.MaxOperations <= 0 {
		cfg.MaxOperations = DefaultConfig().MaxOperations
	}
	if cfg.MaxPromptLen <= 0 {
		cfg.MaxPromptLen = DefaultConfig().MaxPromptLen
	}
	if cfg.Profile == (MachineProfile{}) {
		cfg.Profile = DefaultProfile()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Sanitizer{cfg: cfg, log: log}
}

// Sanitize validates p and returns a cleaned deep copy.
//
// Description:
//
//	Runs plan-level checks (metadata, operation count), then per-operation
//	checks (identifier shape, vocabulary membership, required parameters,
//	unit normalization, bounds, dependency sanity). The input plan is never
//	mutated.
//
// Outputs:
//
//	On success the cleaned plan is returned together with any advisory
//	issues. When at least one fatal issue was found, the plan is nil, the
//	error is ErrPlanRejected, and the issues slice holds everything found
//	up to that point, fatal and advisory alike.
func (s *Sanitizer) Sanitize(ctx context.Context, p *plan.Plan) (*plan.Plan, plan.Issues, error) {
	_, span := otel.Tracer("forgeplan/sanitize").Start(ctx, "sanitize.Sanitize")
	defer span.End()

	var issues plan.Issues
	if p == nil {
		issues = append(issues, plan.Issue{Code: plan.IssueSchema, Message: "plan is nil", Fatal: true})
		return nil, issues, ErrPlanRejected
	}
	span.SetAttributes(
		attribute.String("plan.id", p.ID),
		attribute.Int("plan.operations", len(p.Operations)),
	)

	clean := p.Clone()
	issues = append(issues, s.checkPlanLevel(clean)...)

	// Bare numeric dimensions inherit the plan's declared unit system.
	fallback := clean.Metadata.Units
	if fallback == "" {
		fallback = s.cfg.DefaultUnits
	}

	seen := make(map[string]int, len(clean.Operations))
	for i := range clean.Operations {
		op := &clean.Operations[i]

		if !opIDPattern.MatchString(op.ID) {
			issues = append(issues, plan.Issue{
				Code:    plan.IssueSchema,
				OpID:    op.ID,
				Message: fmt.Sprintf("operation id %q does not match op_<n>", op.ID),
				Fatal:   true,
			})
			continue
		}
		if prev, dup := seen[op.ID]; dup {
			issues = append(issues, plan.Issue{
				Code:    plan.IssueSchema,
				OpID:    op.ID,
				Message: fmt.Sprintf("duplicate operation id (first at index %d)", prev),
				Fatal:   true,
			})
			continue
		}
		seen[op.ID] = i

		spec, ok := plan.Lookup(op.Kind)
		if !ok {
			issues = append(issues, plan.Issue{
				Code:    plan.IssueSchema,
				OpID:    op.ID,
				Message: fmt.Sprintf("unrecognized operation kind %q", op.Kind),
				Fatal:   true,
			})
			continue
		}

		if spec.Destructive {
			issues = append(issues, plan.Issue{
				Code:    plan.IssueBounds,
				OpID:    op.ID,
				Message: fmt.Sprintf("%s removes material; review before apply", op.Kind),
				Fatal:   false,
			})
		}

		issues = append(issues, s.checkRequired(op, spec)...)
		issues = append(issues, s.normalizeParams(op, spec, fallback)...)
		issues = append(issues, s.checkDependencies(op, i, seen)...)
	}

	if issues.HasFatal() {
		s.log.Warn("plan rejected",
			slog.String("plan_id", p.ID),
			slog.Int("fatal_issues", len(issues.Fatal())),
			slog.Int("total_issues", len(issues)))
		return nil, issues, ErrPlanRejected
	}

	if clean.Metadata.RequiresUserInput {
		issues = append(issues, plan.Issue{
			Code:    plan.IssueSchema,
			Message: "plan requires user input before apply",
			Fatal:   false,
		})
	}
	s.log.Debug("plan sanitized",
		slog.String("plan_id", clean.ID),
		slog.Int("operations", len(clean.Operations)),
		slog.Int("advisory_issues", len(issues)))
	return clean, issues, nil
}

// -----------------------------------------------------------------------------
// Plan-level checks
// -----------------------------------------------------------------------------

func (s *Sanitizer) checkPlanLevel(p *plan.Plan) plan.Issues {
	var issues plan.Issues

	if p.ID == "" {
		issues = append(issues, plan.Issue{
			Code: plan.IssueSchema, Message: "plan_id is required", Fatal: true,
		})
	}
	if len(p.Operations) == 0 {
		issues = append(issues, plan.Issue{
			Code: plan.IssueSchema, Message: "plan has no operations", Fatal: true,
		})
	}
	if len(p.Operations) > s.cfg.MaxOperations {
		issues = append(issues, plan.Issue{
			Code: plan.IssueSchema,
			Message: fmt.Sprintf("plan has %d operations, maximum is %d",
				len(p.Operations), s.cfg.MaxOperations),
			Fatal: true,
		})
	}

	if p.Metadata.Confidence < 0 {
		p.Metadata.Confidence = 0
	} else if p.Metadata.Confidence > 1 {
		p.Metadata.Confidence = 1
	}
	if len(p.Metadata.Prompt) > s.cfg.MaxPromptLen {
		// Cut back to a rune boundary so the truncated prompt stays
		// valid UTF-8.
		cut := s.cfg.MaxPromptLen
		for cut > 0 && !utf8.RuneStart(p.Metadata.Prompt[cut]) {
			cut--
		}
		p.Metadata.Prompt = p.Metadata.Prompt[:cut]
	}
	if p.Metadata.CreatedAt == "" {
		p.Metadata.CreatedAt = plan.Timestamp(s.cfg.Now())
	}
	return issues
}

// -----------------------------------------------------------------------------
// Per-operation checks
// -----------------------------------------------------------------------------

func (s *Sanitizer) checkRequired(op *plan.Operation, spec plan.KindSpec) plan.Issues {
	var issues plan.Issues
	for _, ps := range spec.RequiredParams() {
		if _, ok := op.Params[ps.Name]; !ok {
			issues = append(issues, plan.Issue{
				Code:    plan.IssueSchema,
				OpID:    op.ID,
				Message: fmt.Sprintf("%s: missing required parameter %q", op.Kind, ps.Name),
				Fatal:   true,
			})
		}
	}
	return issues
}

// normalizeParams converts every dimensioned parameter to canonical units and
// bounds-checks it in place.
func (s *Sanitizer) normalizeParams(op *plan.Operation, spec plan.KindSpec, fallbackUnit string) plan.Issues {
	var issues plan.Issues
	for _, ps := range spec.Params {
		raw, ok := op.Params[ps.Name]
		if !ok {
			continue
		}
		switch ps.Quantity {
		case plan.QuantityLength, plan.QuantityAngle:
			d, ok := plan.DimensionFromParam(raw)
			if !ok {
				issues = append(issues, plan.Issue{
					Code:    plan.IssueSchema,
					OpID:    op.ID,
					Message: fmt.Sprintf("%s: parameter %q is not a dimension", op.Kind, ps.Name),
					Fatal:   true,
				})
				continue
			}
			norm, err := units.Normalize(d, ps.Quantity, fallbackUnit)
			if err != nil {
				issues = append(issues, plan.Issue{
					Code:    plan.IssueUnit,
					OpID:    op.ID,
					Message: fmt.Sprintf("%s: parameter %q: %v", op.Kind, ps.Name, err),
					Fatal:   true,
				})
				continue
			}
			norm, boundsIssues := s.checkBounds(op, spec, ps, norm)
			issues = append(issues, boundsIssues...)
			op.Params[ps.Name] = norm.ToMap()

		case plan.QuantityCount:
			n, ok := op.IntParam(ps.Name)
			if !ok {
				issues = append(issues, plan.Issue{
					Code:    plan.IssueSchema,
					OpID:    op.ID,
					Message: fmt.Sprintf("%s: parameter %q must be an integer count", op.Kind, ps.Name),
					Fatal:   true,
				})
				continue
			}
			if n < 1 {
				issues = append(issues, plan.Issue{
					Code:    plan.IssueBounds,
					OpID:    op.ID,
					Message: fmt.Sprintf("%s: parameter %q must be at least 1, got %d", op.Kind, ps.Name, n),
					Fatal:   true,
				})
			}
		}
	}
	return issues
}

// checkBounds applies range and machine-profile checks to a normalized
// dimension, returning the (possibly clamped) dimension.
func (s *Sanitizer) checkBounds(op *plan.Operation, spec plan.KindSpec, ps plan.ParamSpec, d plan.Dimension) (plan.Dimension, plan.Issues) {
	var issues plan.Issues

	if ps.Quantity == plan.QuantityAngle {
		if d.Value < 0 || d.Value > fullTurn {
			if s.cfg.AngleWraparound {
				d.Value = math.Mod(d.Value, fullTurn)
				if d.Value < 0 {
					d.Value += fullTurn
				}
			} else {
				issues = append(issues, s.advisory(op, ps,
					fmt.Sprintf("angle %.4f rad outside [0, 2π]", d.Value)))
				if s.cfg.ClampAdvisory {
					d.Value = math.Min(math.Max(d.Value, 0), fullTurn)
				}
			}
		}
		return d, issues
	}

	// Lengths must be strictly positive, always fatal.
	if d.Value <= 0 {
		issues = append(issues, plan.Issue{
			Code:    plan.IssueBounds,
			OpID:    op.ID,
			Message: fmt.Sprintf("%s: parameter %q must be positive, got %g mm", op.Kind, ps.Name, d.Value),
			Fatal:   true,
		})
		return d, issues
	}

	prof := s.cfg.Profile
	switch {
	case d.Value > prof.MaxFeatureSize:
		issues = append(issues, s.advisory(op, ps,
			fmt.Sprintf("%g mm exceeds maximum feature size %g mm", d.Value, prof.MaxFeatureSize)))
		if s.clamps() {
			d.Value = prof.MaxFeatureSize
		}

	case isHoleDiameter(spec.Kind, ps.Name) && d.Value < prof.MinToolDiameter:
		issues = append(issues, s.advisory(op, ps,
			fmt.Sprintf("hole diameter %g mm below minimum tool diameter %g mm", d.Value, prof.MinToolDiameter)))
		if s.clamps() {
			d.Value = prof.MinToolDiameter
		}

	case isCutDepth(spec.Kind, ps.Name) && d.Value > prof.MaxCutDepth:
		issues = append(issues, s.advisory(op, ps,
			fmt.Sprintf("cut depth %g mm exceeds maximum %g mm", d.Value, prof.MaxCutDepth)))
		if s.clamps() {
			d.Value = prof.MaxCutDepth
		}

	case spec.Kind == plan.KindShell && ps.Name == "thickness" && d.Value < prof.MinWallThickness:
		issues = append(issues, s.advisory(op, ps,
			fmt.Sprintf("wall thickness %g mm below minimum %g mm", d.Value, prof.MinWallThickness)))
		if s.clamps() {
			d.Value = prof.MinWallThickness
		}
	}
	return d, issues
}

// advisory builds a bounds issue whose severity follows StrictMode.
func (s *Sanitizer) advisory(op *plan.Operation, ps plan.ParamSpec, msg string) plan.Issue {
	return plan.Issue{
		Code:    plan.IssueBounds,
		OpID:    op.ID,
		Message: fmt.Sprintf("%s: parameter %q: %s", op.Kind, ps.Name, msg),
		Fatal:   s.cfg.StrictMode,
	}
}

// clamps reports whether advisory values should be rewritten. Clamping only
// applies when the issue stays advisory; in strict mode the violation is
// fatal and the value is left as evidence.
func (s *Sanitizer) clamps() bool {
	return s.cfg.ClampAdvisory && !s.cfg.StrictMode
}

func isHoleDiameter(k plan.Kind, param string) bool {
	switch k {
	case plan.KindCreateHole, plan.KindThreadHole, plan.KindCountersinkHole, plan.KindCounterboreHole:
		return param == "diameter"
	}
	return false
}

func isCutDepth(k plan.Kind, param string) bool {
	switch {
	case k == plan.KindCut && param == "distance":
		return true
	case k == plan.KindCreateHole && param == "depth_value":
		return true
	case k == plan.KindCounterboreHole && param == "counterbore_depth":
		return true
	}
	return false
}

// -----------------------------------------------------------------------------
// Dependency sanity
// -----------------------------------------------------------------------------

// checkDependencies verifies that every declared dependency names an earlier
// operation. Cycle detection across target_ref edges belongs to the resolver;
// the sanitizer only rules out self and forward references, which can never
// be valid.
func (s *Sanitizer) checkDependencies(op *plan.Operation, index int, seen map[string]int) plan.Issues {
	var issues plan.Issues
	for _, dep := range op.Dependencies {
		if dep == op.ID {
			issues = append(issues, plan.Issue{
				Code:    plan.IssueGraph,
				OpID:    op.ID,
				Message: "operation depends on itself",
				Fatal:   true,
			})
			continue
		}
		at, ok := seen[dep]
		if !ok || at >= index {
			issues = append(issues, plan.Issue{
				Code:    plan.IssueGraph,
				OpID:    op.ID,
				Message: fmt.Sprintf("dependency %q does not name an earlier operation", dep),
				Fatal:   true,
			})
		}
	}
	return issues
}
