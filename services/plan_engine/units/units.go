// Copyright (C) 2025 Forgeplan Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package units converts plan dimensions into the engine's canonical units.
//
// Every length entering the execution pipeline is normalized to millimeters
// and every angle to radians. Conversion factors are exact constants; the
// package never rounds, so normalizing the same input twice is a no-op with
// bit-identical output.
package units

import (
	"fmt"
	"math"
	"strings"

	"github.com/forgeplan/forgeplan/services/plan_engine/plan"
)

const (
	// CanonicalLength is the unit all lengths are normalized to.
	CanonicalLength = "mm"

	// CanonicalAngle is the unit all angles are normalized to.
	CanonicalAngle = "rad"
)

// ErrUnknownUnit is returned when a dimension carries a unit string the
// converter has no factor for.
var ErrUnknownUnit = fmt.Errorf("unknown unit")

// lengthFactors maps a length unit to its size in millimeters.
var lengthFactors = map[string]float64{
	"mm": 1,
	"cm": 10,
	"m":  1000,
	"in": 25.4,
	"ft": 304.8,
}

// lengthAliases folds spelled-out unit names onto their symbols.
var lengthAliases = map[string]string{
	"millimeter":  "mm",
	"millimeters": "mm",
	"millimetre":  "mm",
	"millimetres": "mm",
	"centimeter":  "cm",
	"centimeters": "cm",
	"centimetre":  "cm",
	"centimetres": "cm",
	"meter":       "m",
	"meters":      "m",
	"metre":       "m",
	"metres":      "m",
	"inch":        "in",
	"inches":      "in",
	`"`:           "in",
	"foot":        "ft",
	"feet":        "ft",
	"'":           "ft",
}

var angleAliases = map[string]string{
	"rad":     "rad",
	"radian":  "rad",
	"radians": "rad",
	"deg":     "deg",
	"degree":  "deg",
	"degrees": "deg",
	"°":       "deg",
}

func canonicalizeUnit(u string, aliases map[string]string) string {
	u = strings.ToLower(strings.TrimSpace(u))
	if mapped, ok := aliases[u]; ok {
		return mapped
	}
	return u
}

// NormalizeLength converts one dimension to millimeters.
//
// A dimension with an empty unit is assumed to already be in the plan's
// declared unit system and is treated as the provided fallback unit. The
// returned dimension records the original value and unit when a conversion
// actually changed anything.
func NormalizeLength(d plan.Dimension, fallback string) (plan.Dimension, error) {
	unit := d.Unit
	if unit == "" {
		unit = fallback
	}
	if unit == "" {
		unit = CanonicalLength
	}
	unit = canonicalizeUnit(unit, lengthAliases)

	factor, ok := lengthFactors[unit]
	if !ok {
		return d, fmt.Errorf("%w: %q is not a length unit", ErrUnknownUnit, d.Unit)
	}
	if unit == CanonicalLength {
		d.Unit = CanonicalLength
		return d, nil
	}

	orig := d.Value
	out := plan.Dimension{
		Value:         d.Value * factor,
		Unit:          CanonicalLength,
		OriginalValue: &orig,
		OriginalUnit:  unit,
	}
	return out, nil
}

// NormalizeAngle converts one dimension to radians.
func NormalizeAngle(d plan.Dimension, fallback string) (plan.Dimension, error) {
	unit := d.Unit
	if unit == "" {
		unit = fallback
	}
	if unit == "" {
		unit = CanonicalAngle
	}
	unit = canonicalizeUnit(unit, angleAliases)

	switch unit {
	case CanonicalAngle:
		d.Unit = CanonicalAngle
		return d, nil
	case "deg":
		orig := d.Value
		return plan.Dimension{
			Value:         d.Value * math.Pi / 180,
			Unit:          CanonicalAngle,
			OriginalValue: &orig,
			OriginalUnit:  "deg",
		}, nil
	default:
		return d, fmt.Errorf("%w: %q is not an angle unit", ErrUnknownUnit, d.Unit)
	}
}

// Normalize converts a dimension according to its declared quantity.
// Count and unitless quantities pass through untouched.
func Normalize(d plan.Dimension, q plan.Quantity, fallback string) (plan.Dimension, error) {
	switch q {
	case plan.QuantityLength:
		return NormalizeLength(d, fallback)
	case plan.QuantityAngle:
		// Angles never inherit the plan's length unit system.
		return NormalizeAngle(d, "")
	default:
		return d, nil
	}
}

// IsLengthUnit reports whether u names a convertible length unit.
func IsLengthUnit(u string) bool {
	_, ok := lengthFactors[canonicalizeUnit(u, lengthAliases)]
	return ok
}

// IsAngleUnit reports whether u names a convertible angle unit.
func IsAngleUnit(u string) bool {
	switch canonicalizeUnit(u, angleAliases) {
	case "rad", "deg":
		return true
	}
	return false
}
