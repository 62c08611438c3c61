// Copyright (C) 2025 Forgeplan Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package plansource produces plans for the pipeline.
//
// Sources are strictly producers: nothing here validates anything. Every
// plan, whether read from disk, dropped into a watched directory, or
// generated by a model, goes through the sanitizer before it can execute.
package plansource

import (
	"fmt"
	"io"
	"os"

	"github.com/forgeplan/forgeplan/services/plan_engine/plan"
)

// Decode reads one plan from r.
func Decode(r io.Reader) (*plan.Plan, error) {
	return plan.Decode(r)
}

// File loads a plan from a JSON file on disk.
func File(path string) (*plan.Plan, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening plan file: %w", err)
	}
	defer f.Close()

	p, err := plan.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decoding plan file %s: %w", path, err)
	}
	return p, nil
}
