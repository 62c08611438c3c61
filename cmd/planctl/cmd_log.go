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
	"io"
	"log"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/forgeplan/forgeplan/services/plan_engine/actionlog"
	"github.com/forgeplan/forgeplan/services/plan_engine/plan"
)

// runLog lists recorded actions, newest last.
func runLog(cmd *cobra.Command, args []string) {
	logger := cliLogger()
	defer logger.Close()
	store := openStore(logger)
	defer store.Close()

	if logStats {
		stats, err := store.Stats()
		if err != nil {
			log.Fatalf("Error reading action log: %v", err)
		}
		if jsonOutput {
			if err := OutputJSON(stats); err != nil {
				log.Fatalf("Error writing output: %v", err)
			}
			return
		}
		fmt.Printf("entries:      %d\n", stats.Total)
		fmt.Printf("runs:         %d\n", stats.Runs)
		for _, st := range []plan.Status{plan.StatusSucceeded, plan.StatusFailed, plan.StatusSkipped} {
			if n := stats.ByStatus[st]; n > 0 {
				fmt.Printf("%-13s %d\n", string(st)+":", n)
			}
		}
		fmt.Printf("success rate: %.1f%%\n", stats.SuccessRate*100)
		return
	}

	var entries []actionlog.Entry
	var err error
	if runFilter != "" {
		entries, err = store.Run(runFilter)
	} else {
		entries, err = store.Entries()
	}
	if err != nil {
		log.Fatalf("Error reading action log: %v", err)
	}

	if jsonOutput {
		if err := OutputJSON(entries); err != nil {
			log.Fatalf("Error writing output: %v", err)
		}
		return
	}
	if len(entries) == 0 {
		fmt.Println("action log is empty")
		return
	}
	for _, e := range entries {
		fmt.Printf("%6d  %s  %-7s  %-9s  %-24s %s",
			e.Seq, e.Timestamp.Format("2006-01-02 15:04:05"), e.Mode, e.Status, e.OpID, e.OpKind)
		if e.Error != "" {
			fmt.Printf("  (%s)", e.Error)
		}
		fmt.Println()
	}
}

// runExport writes the action log in the requested format.
func runExport(cmd *cobra.Command, args []string) {
	logger := cliLogger()
	defer logger.Close()
	store := openStore(logger)
	defer store.Close()

	var w io.Writer = os.Stdout
	if exportPath != "" {
		f, err := os.Create(exportPath)
		if err != nil {
			log.Fatalf("Error creating output file: %v", err)
		}
		defer f.Close()
		w = f
	}

	var err error
	switch logFormat {
	case "json":
		err = store.ExportJSON(w)
	case "csv":
		err = store.ExportCSV(w)
	case "text":
		err = store.ExportText(w)
	default:
		log.Fatalf("Unknown export format %q, expected json, csv, or text", logFormat)
	}
	if err != nil {
		log.Fatalf("Error exporting action log: %v", err)
	}
}

// runImport merges a JSON export into the local action log.
func runImport(cmd *cobra.Command, args []string) {
	f, err := os.Open(args[0])
	if err != nil {
		log.Fatalf("Error opening export file: %v", err)
	}
	defer f.Close()

	logger := cliLogger()
	defer logger.Close()
	store := openStore(logger)
	defer store.Close()

	n, err := store.Import(f)
	if err != nil {
		log.Fatalf("Error importing action log: %v", err)
	}
	fmt.Printf("imported %d entries\n", n)
}

// runReplay re-executes the recorded run containing the given entry.
func runReplay(cmd *cobra.Command, args []string) {
	seq, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		log.Fatalf("Error parsing sequence number %q: %v", args[0], err)
	}
	sel, err := parseSelections(selections)
	if err != nil {
		log.Fatalf("Error parsing selections: %v", err)
	}

	svc, cleanup := newService()
	defer cleanup()

	mode := plan.ModeSandbox
	if replayApply {
		mode = plan.ModeApply
	}
	report, issues, err := svc.Replay(context.Background(), seq, mode, sel)
	printIssues(issues)
	if err != nil {
		if errors.Is(err, actionlog.ErrNotFound) {
			fmt.Fprintf(os.Stderr, "no action log entry with sequence %d\n", seq)
			os.Exit(CLIExitFindings)
		}
		log.Fatalf("Error replaying: %v", err)
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
