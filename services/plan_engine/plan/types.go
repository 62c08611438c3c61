// Copyright (C) 2025 Forgeplan Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package plan defines the data model for candidate plans: the unit of work
// the engine validates, orders, and executes against a design document.
//
// A Plan arrives from an untrusted producer (typically a language model) and
// is treated as adversarial input until the sanitizer has accepted it. The
// wire shape is JSON with snake_case keys (`plan_id`, `op_id`, `op`,
// `params`) and dimensioned values encoded as {"value": 5, "unit": "mm"}.
package plan

import (
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// -----------------------------------------------------------------------------
// Dimensioned Values
// -----------------------------------------------------------------------------

// Dimension is a (value, unit) pair for a length or angle quantity.
//
// After sanitization the Value is expressed in the canonical unit for its
// quantity kind and the user-entered figure is preserved in OriginalValue /
// OriginalUnit for traceability.
type Dimension struct {
	// Value is the numeric magnitude, canonical after sanitization.
	Value float64 `json:"value"`

	// Unit names the unit Value is expressed in (e.g. "mm", "rad").
	Unit string `json:"unit"`

	// OriginalValue is the pre-conversion magnitude, if a conversion ran.
	OriginalValue *float64 `json:"original_value,omitempty"`

	// OriginalUnit is the pre-conversion unit, if a conversion ran.
	OriginalUnit string `json:"original_unit,omitempty"`
}

// Converted reports whether this dimension was normalized from another unit.
func (d Dimension) Converted() bool {
	return d.OriginalValue != nil
}

// ToMap renders the dimension back into the wire representation.
func (d Dimension) ToMap() map[string]any {
	m := map[string]any{
		"value": d.Value,
		"unit":  d.Unit,
	}
	if d.OriginalValue != nil {
		m["original_value"] = *d.OriginalValue
		m["original_unit"] = d.OriginalUnit
	}
	return m
}

// DimensionFromParam decodes a params entry into a Dimension.
//
// Accepts the wire map form {"value": v, "unit": u}, a bare number (unitless,
// interpreted by the caller against the plan's declared unit system), or an
// already-decoded Dimension.
//
// Outputs:
//
//	Dimension - The decoded dimension. Unit is "" for bare numbers.
//	bool - False if the value is not a dimension at all.
func DimensionFromParam(v any) (Dimension, bool) {
	switch t := v.(type) {
	case Dimension:
		return t, true
	case float64:
		return Dimension{Value: t}, true
	case int:
		return Dimension{Value: float64(t)}, true
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return Dimension{}, false
		}
		return Dimension{Value: f}, true
	case map[string]any:
		raw, ok := t["value"]
		if !ok {
			return Dimension{}, false
		}
		val, ok := toFloat(raw)
		if !ok {
			return Dimension{}, false
		}
		d := Dimension{Value: val}
		if u, ok := t["unit"].(string); ok {
			d.Unit = u
		}
		if ov, ok := toFloat(t["original_value"]); ok {
			d.OriginalValue = &ov
		}
		if ou, ok := t["original_unit"].(string); ok {
			d.OriginalUnit = ou
		}
		return d, true
	default:
		return Dimension{}, false
	}
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// -----------------------------------------------------------------------------
// Operations
// -----------------------------------------------------------------------------

// Operation is one atomic design mutation request within a plan.
type Operation struct {
	// ID is the operation identifier, unique within its plan ("op_1").
	ID string `json:"op_id"`

	// Kind is the operation type from the closed vocabulary.
	Kind Kind `json:"op"`

	// Params holds the operation parameters. Required keys are determined
	// by Kind; see the vocabulary.
	Params map[string]any `json:"params"`

	// TargetRef optionally names the entity this operation acts on: either
	// a name produced by an earlier operation or an external selection.
	TargetRef string `json:"target_ref,omitempty"`

	// Dependencies lists operation IDs that must complete first.
	Dependencies []string `json:"dependencies,omitempty"`
}

// DimensionParam returns the named parameter decoded as a Dimension.
func (o Operation) DimensionParam(key string) (Dimension, bool) {
	v, ok := o.Params[key]
	if !ok {
		return Dimension{}, false
	}
	return DimensionFromParam(v)
}

// StringParam returns the named parameter as a string, or "" when absent.
func (o Operation) StringParam(key string) string {
	s, _ := o.Params[key].(string)
	return s
}

// IntParam returns the named parameter as an int.
func (o Operation) IntParam(key string) (int, bool) {
	f, ok := toFloat(o.Params[key])
	if !ok {
		return 0, false
	}
	return int(f), true
}

// ProducedName is the entity name this operation introduces, when it does.
//
// Sketches, features, planes, and components carry a "name" param that later
// operations reference via target_ref. Operations without a name param
// introduce nothing referenceable by name.
func (o Operation) ProducedName() string {
	return o.StringParam("name")
}

// Clone returns a deep copy of the operation.
func (o Operation) Clone() Operation {
	cp := o
	cp.Params = cloneParams(o.Params)
	if o.Dependencies != nil {
		cp.Dependencies = append([]string(nil), o.Dependencies...)
	}
	return cp
}

func cloneParams(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneParams(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// -----------------------------------------------------------------------------
// Plans
// -----------------------------------------------------------------------------

// Metadata carries plan-level context supplied by the producer.
type Metadata struct {
	// Prompt is the originating natural-language text, if any.
	Prompt string `json:"natural_language_prompt,omitempty"`

	// Confidence is the producer's self-reported confidence in [0,1].
	Confidence float64 `json:"confidence_score,omitempty"`

	// Units is the declared unit system for bare numeric dimensions.
	Units string `json:"units,omitempty"`

	// Clarifications holds questions the producer wants answered before
	// the plan should be applied.
	Clarifications []string `json:"clarification_questions,omitempty"`

	// RequiresUserInput blocks apply: the plan may only be validated or
	// previewed as a diagnostic until the questions are resolved.
	RequiresUserInput bool `json:"requires_user_input,omitempty"`

	// CreatedAt is an RFC 3339 timestamp, filled by the sanitizer when the
	// producer omitted it.
	CreatedAt string `json:"created_at,omitempty"`
}

// Plan is the unit of work: an ordered list of operations plus metadata.
//
// Plans are owned by the caller and live for one execution cycle; nothing in
// the engine retains them after a run.
type Plan struct {
	ID         string      `json:"plan_id"`
	Metadata   Metadata    `json:"metadata"`
	Operations []Operation `json:"operations"`
}

// Clone returns a deep copy of the plan.
func (p *Plan) Clone() *Plan {
	if p == nil {
		return nil
	}
	cp := &Plan{
		ID:       p.ID,
		Metadata: p.Metadata,
	}
	if p.Metadata.Clarifications != nil {
		cp.Metadata.Clarifications = append([]string(nil), p.Metadata.Clarifications...)
	}
	cp.Operations = make([]Operation, len(p.Operations))
	for i, op := range p.Operations {
		cp.Operations[i] = op.Clone()
	}
	return cp
}

// Operation returns the operation with the given ID, if present.
func (p *Plan) Operation(id string) (Operation, bool) {
	for _, op := range p.Operations {
		if op.ID == id {
			return op, true
		}
	}
	return Operation{}, false
}

// Decode reads a JSON-encoded plan.
//
// Unknown top-level fields are rejected so that a malformed producer fails
// loudly instead of silently dropping intent.
func Decode(r io.Reader) (*Plan, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()

	var p Plan
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("decoding plan: %w", err)
	}
	return &p, nil
}

// Encode writes the plan as indented JSON.
func (p *Plan) Encode(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(p); err != nil {
		return fmt.Errorf("encoding plan: %w", err)
	}
	return nil
}

// Timestamp formats t the way plan metadata carries timestamps.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
