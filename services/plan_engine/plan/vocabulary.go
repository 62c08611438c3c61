// Copyright (C) 2025 Forgeplan Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package plan

import "sort"

// SchemaVersion identifies the operation vocabulary revision. Adding kinds
// bumps the version; plans written against earlier versions stay valid.
const SchemaVersion = 1

// -----------------------------------------------------------------------------
// Quantity kinds
// -----------------------------------------------------------------------------

// Quantity classifies what a parameter measures, which determines its
// canonical unit and bounds checks.
type Quantity string

const (
	// QuantityLength is a linear dimension. Canonical unit: millimeters.
	QuantityLength Quantity = "length"

	// QuantityAngle is an angular dimension. Canonical unit: radians.
	QuantityAngle Quantity = "angle"

	// QuantityCount is a dimensionless positive integer (pattern counts,
	// polygon sides).
	QuantityCount Quantity = "count"

	// QuantityNone is a non-dimensional parameter (names, planes, points,
	// enums). No unit handling applies.
	QuantityNone Quantity = "none"
)

// -----------------------------------------------------------------------------
// Operation kinds
// -----------------------------------------------------------------------------

// Kind identifies an operation type from the closed vocabulary.
type Kind string

const (
	KindCreateSketch       Kind = "create_sketch"
	KindDrawLine           Kind = "draw_line"
	KindDrawCircle         Kind = "draw_circle"
	KindDrawRectangle      Kind = "draw_rectangle"
	KindDrawPolygon        Kind = "draw_polygon"
	KindDrawArc            Kind = "draw_arc"
	KindDrawSpline         Kind = "draw_spline"
	KindExtrude            Kind = "extrude"
	KindCut                Kind = "cut"
	KindRevolve            Kind = "revolve"
	KindSweep              Kind = "sweep"
	KindLoft               Kind = "loft"
	KindFillet             Kind = "fillet"
	KindChamfer            Kind = "chamfer"
	KindShell              Kind = "shell"
	KindMirror             Kind = "mirror"
	KindPatternLinear      Kind = "pattern_linear"
	KindPatternCircular    Kind = "pattern_circular"
	KindPatternRectangular Kind = "pattern_rectangular"
	KindPatternPath        Kind = "pattern_path"
	KindCreatePlane        Kind = "create_plane"
	KindCreateAxis         Kind = "create_axis"
	KindCreatePoint        Kind = "create_point"
	KindSetDimension       Kind = "set_dimension"
	KindAddConstraint      Kind = "add_constraint"
	KindRenameFeature      Kind = "rename_feature"
	KindCreateComponent    Kind = "create_component"
	KindCreateJoint        Kind = "create_joint"
	KindCreateHole         Kind = "create_hole"
	KindThreadHole         Kind = "thread_hole"
	KindCountersinkHole    Kind = "countersink_hole"
	KindCounterboreHole    Kind = "counterbore_hole"
)

// ParamSpec describes one parameter a kind accepts.
type ParamSpec struct {
	// Name is the params key.
	Name string

	// Quantity classifies the parameter for unit normalization and bounds.
	Quantity Quantity

	// Required marks parameters whose absence is a fatal schema error.
	Required bool
}

// KindSpec is the parameter contract for one operation kind.
type KindSpec struct {
	Kind   Kind
	Params []ParamSpec

	// IntroducesName marks kinds whose "name" param creates a referenceable
	// entity name for later target_ref resolution.
	IntroducesName bool

	// Destructive marks kinds that remove or hollow out material; the
	// sanitizer attaches an advisory issue to each such operation.
	Destructive bool
}

// RequiredParams returns the names of the required parameters.
func (s KindSpec) RequiredParams() []ParamSpec {
	var req []ParamSpec
	for _, p := range s.Params {
		if p.Required {
			req = append(req, p)
		}
	}
	return req
}

// Param looks up a parameter spec by name.
func (s KindSpec) Param(name string) (ParamSpec, bool) {
	for _, p := range s.Params {
		if p.Name == name {
			return p, true
		}
	}
	return ParamSpec{}, false
}

// vocabulary is the closed operation registry. Order within each Params slice
// is the canonical reporting order for missing-parameter issues.
var vocabulary = map[Kind]KindSpec{
	KindCreateSketch: {
		Kind:           KindCreateSketch,
		IntroducesName: true,
		Params: []ParamSpec{
			{Name: "plane", Quantity: QuantityNone, Required: true},
			{Name: "name", Quantity: QuantityNone},
		},
	},
	KindDrawLine: {
		Kind: KindDrawLine,
		Params: []ParamSpec{
			{Name: "start_point", Quantity: QuantityNone, Required: true},
			{Name: "end_point", Quantity: QuantityNone, Required: true},
		},
	},
	KindDrawCircle: {
		Kind: KindDrawCircle,
		Params: []ParamSpec{
			{Name: "center_point", Quantity: QuantityNone, Required: true},
			{Name: "diameter", Quantity: QuantityLength},
			{Name: "radius", Quantity: QuantityLength},
		},
	},
	KindDrawRectangle: {
		Kind: KindDrawRectangle,
		Params: []ParamSpec{
			{Name: "center_point", Quantity: QuantityNone, Required: true},
			{Name: "width", Quantity: QuantityLength, Required: true},
			{Name: "height", Quantity: QuantityLength, Required: true},
		},
	},
	KindDrawPolygon: {
		Kind: KindDrawPolygon,
		Params: []ParamSpec{
			{Name: "center_point", Quantity: QuantityNone, Required: true},
			{Name: "sides", Quantity: QuantityCount, Required: true},
			{Name: "circumscribed_radius", Quantity: QuantityLength},
			{Name: "inscribed_radius", Quantity: QuantityLength},
		},
	},
	KindDrawArc: {
		Kind: KindDrawArc,
		Params: []ParamSpec{
			{Name: "center_point", Quantity: QuantityNone, Required: true},
			{Name: "radius", Quantity: QuantityLength, Required: true},
			{Name: "start_angle", Quantity: QuantityAngle, Required: true},
			{Name: "end_angle", Quantity: QuantityAngle, Required: true},
		},
	},
	KindDrawSpline: {
		Kind: KindDrawSpline,
		Params: []ParamSpec{
			{Name: "points", Quantity: QuantityNone, Required: true},
		},
	},
	KindExtrude: {
		Kind:           KindExtrude,
		IntroducesName: true,
		Params: []ParamSpec{
			{Name: "distance", Quantity: QuantityLength, Required: true},
			{Name: "profile", Quantity: QuantityNone},
			{Name: "direction", Quantity: QuantityNone},
			{Name: "name", Quantity: QuantityNone},
		},
	},
	KindCut: {
		Kind:        KindCut,
		Destructive: true,
		Params: []ParamSpec{
			{Name: "distance", Quantity: QuantityLength, Required: true},
			{Name: "profile", Quantity: QuantityNone},
			{Name: "direction", Quantity: QuantityNone},
		},
	},
	KindRevolve: {
		Kind:           KindRevolve,
		IntroducesName: true,
		Params: []ParamSpec{
			{Name: "angle", Quantity: QuantityAngle, Required: true},
			{Name: "axis", Quantity: QuantityNone, Required: true},
			{Name: "profile", Quantity: QuantityNone},
			{Name: "name", Quantity: QuantityNone},
		},
	},
	KindSweep: {
		Kind:           KindSweep,
		IntroducesName: true,
		Params: []ParamSpec{
			{Name: "profile", Quantity: QuantityNone, Required: true},
			{Name: "path", Quantity: QuantityNone, Required: true},
			{Name: "name", Quantity: QuantityNone},
		},
	},
	KindLoft: {
		Kind:           KindLoft,
		IntroducesName: true,
		Params: []ParamSpec{
			{Name: "profiles", Quantity: QuantityNone, Required: true},
			{Name: "name", Quantity: QuantityNone},
		},
	},
	KindFillet: {
		Kind: KindFillet,
		Params: []ParamSpec{
			{Name: "radius", Quantity: QuantityLength, Required: true},
			{Name: "edges", Quantity: QuantityNone},
		},
	},
	KindChamfer: {
		Kind: KindChamfer,
		Params: []ParamSpec{
			{Name: "distance", Quantity: QuantityLength, Required: true},
			{Name: "edges", Quantity: QuantityNone},
		},
	},
	KindShell: {
		Kind:        KindShell,
		Destructive: true,
		Params: []ParamSpec{
			{Name: "thickness", Quantity: QuantityLength, Required: true},
			{Name: "faces_to_remove", Quantity: QuantityNone},
		},
	},
	KindMirror: {
		Kind: KindMirror,
		Params: []ParamSpec{
			{Name: "mirror_plane", Quantity: QuantityNone, Required: true},
			{Name: "features", Quantity: QuantityNone},
		},
	},
	KindPatternLinear: {
		Kind: KindPatternLinear,
		Params: []ParamSpec{
			{Name: "count_1", Quantity: QuantityCount, Required: true},
			{Name: "distance_1", Quantity: QuantityLength, Required: true},
			{Name: "count_2", Quantity: QuantityCount},
			{Name: "distance_2", Quantity: QuantityLength},
			{Name: "direction", Quantity: QuantityNone},
		},
	},
	KindPatternCircular: {
		Kind: KindPatternCircular,
		Params: []ParamSpec{
			{Name: "count", Quantity: QuantityCount, Required: true},
			{Name: "angle", Quantity: QuantityAngle},
			{Name: "axis", Quantity: QuantityNone},
		},
	},
	KindPatternRectangular: {
		Kind: KindPatternRectangular,
		Params: []ParamSpec{
			{Name: "count_1", Quantity: QuantityCount, Required: true},
			{Name: "count_2", Quantity: QuantityCount, Required: true},
			{Name: "distance_1", Quantity: QuantityLength, Required: true},
			{Name: "distance_2", Quantity: QuantityLength, Required: true},
		},
	},
	KindPatternPath: {
		Kind: KindPatternPath,
		Params: []ParamSpec{
			{Name: "count", Quantity: QuantityCount, Required: true},
			{Name: "path", Quantity: QuantityNone, Required: true},
			{Name: "spacing", Quantity: QuantityLength},
		},
	},
	KindCreatePlane: {
		Kind:           KindCreatePlane,
		IntroducesName: true,
		Params: []ParamSpec{
			{Name: "offset", Quantity: QuantityLength, Required: true},
			{Name: "reference", Quantity: QuantityNone, Required: true},
			{Name: "name", Quantity: QuantityNone},
		},
	},
	KindCreateAxis: {
		Kind:           KindCreateAxis,
		IntroducesName: true,
		Params: []ParamSpec{
			{Name: "reference", Quantity: QuantityNone, Required: true},
			{Name: "name", Quantity: QuantityNone},
		},
	},
	KindCreatePoint: {
		Kind:           KindCreatePoint,
		IntroducesName: true,
		Params: []ParamSpec{
			{Name: "position", Quantity: QuantityNone, Required: true},
			{Name: "name", Quantity: QuantityNone},
		},
	},
	KindSetDimension: {
		Kind: KindSetDimension,
		Params: []ParamSpec{
			{Name: "dimension", Quantity: QuantityNone, Required: true},
			{Name: "value", Quantity: QuantityLength, Required: true},
		},
	},
	KindAddConstraint: {
		Kind: KindAddConstraint,
		Params: []ParamSpec{
			{Name: "constraint_type", Quantity: QuantityNone, Required: true},
			{Name: "entities", Quantity: QuantityNone, Required: true},
		},
	},
	KindRenameFeature: {
		Kind: KindRenameFeature,
		Params: []ParamSpec{
			{Name: "new_name", Quantity: QuantityNone, Required: true},
		},
	},
	KindCreateComponent: {
		Kind:           KindCreateComponent,
		IntroducesName: true,
		Params: []ParamSpec{
			{Name: "name", Quantity: QuantityNone, Required: true},
		},
	},
	KindCreateJoint: {
		Kind: KindCreateJoint,
		Params: []ParamSpec{
			{Name: "joint_type", Quantity: QuantityNone, Required: true},
			{Name: "components", Quantity: QuantityNone, Required: true},
		},
	},
	KindCreateHole: {
		Kind:        KindCreateHole,
		Destructive: true,
		Params: []ParamSpec{
			{Name: "center_point", Quantity: QuantityNone, Required: true},
			{Name: "diameter", Quantity: QuantityLength, Required: true},
			{Name: "depth", Quantity: QuantityNone},
			{Name: "depth_value", Quantity: QuantityLength},
		},
	},
	KindThreadHole: {
		Kind:        KindThreadHole,
		Destructive: true,
		Params: []ParamSpec{
			{Name: "center_point", Quantity: QuantityNone, Required: true},
			{Name: "diameter", Quantity: QuantityLength, Required: true},
			{Name: "thread_designation", Quantity: QuantityNone, Required: true},
		},
	},
	KindCountersinkHole: {
		Kind:        KindCountersinkHole,
		Destructive: true,
		Params: []ParamSpec{
			{Name: "center_point", Quantity: QuantityNone, Required: true},
			{Name: "diameter", Quantity: QuantityLength, Required: true},
			{Name: "countersink_diameter", Quantity: QuantityLength, Required: true},
			{Name: "countersink_angle", Quantity: QuantityAngle},
		},
	},
	KindCounterboreHole: {
		Kind:        KindCounterboreHole,
		Destructive: true,
		Params: []ParamSpec{
			{Name: "center_point", Quantity: QuantityNone, Required: true},
			{Name: "diameter", Quantity: QuantityLength, Required: true},
			{Name: "counterbore_diameter", Quantity: QuantityLength, Required: true},
			{Name: "counterbore_depth", Quantity: QuantityLength, Required: true},
		},
	},
}

// Lookup returns the spec for a kind and whether the kind is recognized.
func Lookup(k Kind) (KindSpec, bool) {
	spec, ok := vocabulary[k]
	return spec, ok
}

// Kinds returns the full vocabulary in sorted order.
func Kinds() []Kind {
	out := make([]Kind, 0, len(vocabulary))
	for k := range vocabulary {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
