// Copyright (C) 2025 Forgeplan Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package plan

import (
	"fmt"
	"strings"
)

// IssueCode classifies a validation or execution problem.
//
// Codes form the stable error taxonomy: SchemaError, UnitError, and
// GraphError are always detected before any capability call; BoundsError is
// fatal or advisory per configuration; CapabilityError and TimeoutError
// arise during dispatch only.
type IssueCode string

const (
	IssueSchema     IssueCode = "SchemaError"
	IssueUnit       IssueCode = "UnitError"
	IssueBounds     IssueCode = "BoundsError"
	IssueGraph      IssueCode = "GraphError"
	IssueCapability IssueCode = "CapabilityError"
	IssueTimeout    IssueCode = "TimeoutError"
)

// Issue is one structured problem found in a plan, tied to the offending
// operation where one exists.
type Issue struct {
	// Code is the taxonomy classification.
	Code IssueCode `json:"code"`

	// OpID identifies the offending operation, or "" for plan-level issues.
	OpID string `json:"op_id,omitempty"`

	// Message is the human-readable description.
	Message string `json:"message"`

	// Fatal issues reject the plan; advisory issues are surfaced (and
	// possibly clamped) but do not by themselves block execution.
	Fatal bool `json:"fatal"`
}

// String renders the issue for logs and text output.
func (i Issue) String() string {
	var b strings.Builder
	b.WriteString(string(i.Code))
	if i.OpID != "" {
		fmt.Fprintf(&b, " [%s]", i.OpID)
	}
	b.WriteString(": ")
	b.WriteString(i.Message)
	if !i.Fatal {
		b.WriteString(" (advisory)")
	}
	return b.String()
}

// Issues is a collected list of problems from one sanitization pass.
type Issues []Issue

// HasFatal reports whether any issue rejects the plan.
func (is Issues) HasFatal() bool {
	for _, i := range is {
		if i.Fatal {
			return true
		}
	}
	return false
}

// Fatal returns only the fatal issues.
func (is Issues) Fatal() Issues {
	var out Issues
	for _, i := range is {
		if i.Fatal {
			out = append(out, i)
		}
	}
	return out
}

// Messages renders all issues as strings, in order.
func (is Issues) Messages() []string {
	out := make([]string, len(is))
	for n, i := range is {
		out[n] = i.String()
	}
	return out
}
