// Copyright (C) 2025 Forgeplan Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/forgeplan/forgeplan/services/plan_engine/plan"
)

// Exit codes for CLI commands.
const (
	CLIExitSuccess  = 0 // Operation completed successfully
	CLIExitFindings = 1 // Plan rejected or run failed
	CLIExitError    = 2 // Operation failed
)

// OutputJSON writes structured data as indented JSON to stdout.
func OutputJSON(data interface{}) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

// printIssues lists sanitizer findings on stderr so stdout stays parseable.
func printIssues(issues plan.Issues) {
	for _, issue := range issues {
		fmt.Fprintf(os.Stderr, "  %s\n", issue)
	}
}

// printReport renders an execution report in text form.
func printReport(report *plan.ExecutionReport) {
	fmt.Printf("run %s (%s) plan=%s\n", report.RunID, report.Mode, report.PlanID)
	for _, res := range report.Results {
		switch res.Status {
		case plan.StatusSucceeded:
			fmt.Printf("  ok   %-24s %s", res.OpID, res.Kind)
			if res.EntityID != "" {
				fmt.Printf(" -> %s", res.EntityID)
				if res.EntityName != "" {
					fmt.Printf(" (%s)", res.EntityName)
				}
			}
			fmt.Println()
		case plan.StatusFailed:
			fmt.Printf("  FAIL %-24s %s: %s\n", res.OpID, res.Kind, res.Error)
		case plan.StatusSkipped:
			fmt.Printf("  skip %-24s %s\n", res.OpID, res.Kind)
		}
	}
	if report.Success {
		fmt.Printf("succeeded: %d operation(s) in %s\n", len(report.Results), report.Duration)
		return
	}
	fmt.Printf("failed at %s: %s\n", report.FailedOp, report.Error)
	if report.RolledBack {
		if report.RollbackClean {
			fmt.Println("rolled back cleanly")
		} else {
			fmt.Printf("rollback left residue: %d compensation failure(s)\n", len(report.RollbackErrors))
		}
	}
}
