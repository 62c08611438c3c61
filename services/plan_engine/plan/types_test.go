// Copyright (C) 2025 Forgeplan Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package plan

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePlan = `{
  "plan_id": "plan-001",
  "metadata": {
    "natural_language_prompt": "make a 10mm cube",
    "confidence_score": 0.92,
    "units": "mm"
  },
  "operations": [
    {
      "op_id": "op_1",
      "op": "create_sketch",
      "params": {"plane": "XY", "name": "base_sketch"},
      "dependencies": []
    },
    {
      "op_id": "op_2",
      "op": "draw_rectangle",
      "params": {
        "center_point": [0, 0],
        "width": {"value": 10, "unit": "mm"},
        "height": {"value": 10, "unit": "mm"}
      },
      "target_ref": "base_sketch",
      "dependencies": ["op_1"]
    },
    {
      "op_id": "op_3",
      "op": "extrude",
      "params": {"distance": {"value": 10, "unit": "mm"}, "name": "cube_body"},
      "target_ref": "base_sketch",
      "dependencies": ["op_2"]
    }
  ]
}`

func TestDecodeRoundTrip(t *testing.T) {
	p, err := Decode(strings.NewReader(samplePlan))
	require.NoError(t, err)
	require.Len(t, p.Operations, 3)

	assert.Equal(t, "plan-001", p.ID)
	assert.Equal(t, KindExtrude, p.Operations[2].Kind)
	assert.Equal(t, "base_sketch", p.Operations[2].TargetRef)
	assert.InDelta(t, 0.92, p.Metadata.Confidence, 1e-9)

	var buf bytes.Buffer
	require.NoError(t, p.Encode(&buf))

	again, err := Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, p.ID, again.ID)
	assert.Len(t, again.Operations, 3)
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	_, err := Decode(strings.NewReader(`{"plan_id": "x", "bogus": true}`))
	assert.Error(t, err)
}

func TestDimensionFromParam(t *testing.T) {
	d, ok := DimensionFromParam(map[string]any{"value": 2.5, "unit": "cm"})
	require.True(t, ok)
	assert.Equal(t, 2.5, d.Value)
	assert.Equal(t, "cm", d.Unit)

	d, ok = DimensionFromParam(float64(7))
	require.True(t, ok)
	assert.Equal(t, 7.0, d.Value)
	assert.Empty(t, d.Unit)

	_, ok = DimensionFromParam("not a dimension")
	assert.False(t, ok)
}

func TestOperationCloneIsDeep(t *testing.T) {
	p, err := Decode(strings.NewReader(samplePlan))
	require.NoError(t, err)

	op := p.Operations[1]
	cp := op.Clone()
	cp.Params["width"] = map[string]any{"value": 99.0, "unit": "mm"}
	cp.Dependencies[0] = "op_99"

	w, ok := op.DimensionParam("width")
	require.True(t, ok)
	assert.Equal(t, 10.0, w.Value)
	assert.Equal(t, "op_1", op.Dependencies[0])
}

func TestPlanCloneIsDeep(t *testing.T) {
	p, err := Decode(strings.NewReader(samplePlan))
	require.NoError(t, err)

	cp := p.Clone()
	cp.Operations[0].Params["plane"] = "YZ"
	assert.Equal(t, "XY", p.Operations[0].StringParam("plane"))
}

func TestProducedName(t *testing.T) {
	p, err := Decode(strings.NewReader(samplePlan))
	require.NoError(t, err)

	assert.Equal(t, "base_sketch", p.Operations[0].ProducedName())
	assert.Equal(t, "cube_body", p.Operations[2].ProducedName())
	assert.Empty(t, p.Operations[1].ProducedName())
}

func TestVocabularyCoversAllKinds(t *testing.T) {
	kinds := Kinds()
	assert.Len(t, kinds, 32)

	for _, k := range kinds {
		spec, ok := Lookup(k)
		require.True(t, ok, "kind %s missing from vocabulary", k)
		assert.Equal(t, k, spec.Kind)
	}

	spec, ok := Lookup(KindExtrude)
	require.True(t, ok)
	dist, ok := spec.Param("distance")
	require.True(t, ok)
	assert.True(t, dist.Required)
	assert.Equal(t, QuantityLength, dist.Quantity)
	assert.True(t, spec.IntroducesName)

	_, ok = Lookup(Kind("teleport"))
	assert.False(t, ok)
}

func TestIssuesFatalHelpers(t *testing.T) {
	is := Issues{
		{Code: IssueBounds, OpID: "op_1", Message: "clamped", Fatal: false},
		{Code: IssueSchema, OpID: "op_2", Message: "missing param", Fatal: true},
	}
	assert.True(t, is.HasFatal())
	assert.Len(t, is.Fatal(), 1)
	assert.Len(t, is.Messages(), 2)
	assert.False(t, Issues{}.HasFatal())
}
