// Copyright (C) 2025 Forgeplan Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/forgeplan/forgeplan/services/plan_engine"
	"github.com/forgeplan/forgeplan/services/plan_engine/plan"
	"github.com/forgeplan/forgeplan/services/plan_engine/plansource"
	"github.com/forgeplan/forgeplan/services/plan_engine/resolve"
	"github.com/forgeplan/forgeplan/services/plan_engine/sanitize"
)

// runValidate sanitizes and resolves a plan without executing anything.
func runValidate(cmd *cobra.Command, args []string) {
	p, err := plansource.File(args[0])
	if err != nil {
		log.Fatalf("Error reading plan: %v", err)
	}
	sel, err := parseSelections(selections)
	if err != nil {
		log.Fatalf("Error parsing selections: %v", err)
	}

	svc, cleanup := newService()
	defer cleanup()

	clean, issues, err := svc.Validate(context.Background(), p, sel)
	printIssues(issues)
	if err != nil {
		if errors.Is(err, sanitize.ErrPlanRejected) || isGraphError(err) {
			fmt.Fprintf(os.Stderr, "plan rejected: %v\n", err)
			os.Exit(CLIExitFindings)
		}
		log.Fatalf("Error validating plan: %v", err)
	}

	if jsonOutput {
		if err := OutputJSON(clean); err != nil {
			log.Fatalf("Error writing output: %v", err)
		}
		return
	}
	fmt.Printf("plan %s ok: %d operation(s) in dependency order\n", clean.ID, len(clean.Operations))
	for _, op := range clean.Operations {
		fmt.Printf("  %-24s %s\n", op.ID, op.Kind)
	}
}

func runPreview(cmd *cobra.Command, args []string) {
	runPlanFile(args[0], plan.ModeSandbox)
}

func runApply(cmd *cobra.Command, args []string) {
	runPlanFile(args[0], plan.ModeApply)
}

// runPlanFile pushes a plan file through the full pipeline in the given
// mode and renders the report.
func runPlanFile(path string, mode plan.Mode) {
	p, err := plansource.File(path)
	if err != nil {
		log.Fatalf("Error reading plan: %v", err)
	}
	sel, err := parseSelections(selections)
	if err != nil {
		log.Fatalf("Error parsing selections: %v", err)
	}

	svc, cleanup := newService()
	defer cleanup()

	var report *plan.ExecutionReport
	var issues plan.Issues
	if mode == plan.ModeApply {
		report, issues, err = svc.Apply(context.Background(), p, sel)
	} else {
		report, issues, err = svc.Preview(context.Background(), p, sel)
	}
	printIssues(issues)
	if err != nil {
		if errors.Is(err, sanitize.ErrPlanRejected) || isGraphError(err) {
			fmt.Fprintf(os.Stderr, "plan rejected: %v\n", err)
			os.Exit(CLIExitFindings)
		}
		if errors.Is(err, plan_engine.ErrNeedsUserInput) {
			fmt.Fprintf(os.Stderr, "plan requires user input before apply\n")
			os.Exit(CLIExitFindings)
		}
		log.Fatalf("Error executing plan: %v", err)
	}

	if jsonOutput {
		if err := OutputJSON(report); err != nil {
			log.Fatalf("Error writing output: %v", err)
		}
	} else {
		printReport(report)
	}
	if !report.Success {
		os.Exit(CLIExitFindings)
	}
}

func isGraphError(err error) bool {
	var ge *resolve.GraphError
	return errors.As(err, &ge)
}
