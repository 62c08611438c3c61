// Copyright (C) 2025 Forgeplan Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"log"

	"github.com/spf13/cobra"

	"github.com/forgeplan/forgeplan/services/plan_engine/config"
)

// --- Global Command Variables ---
var (
	configPath  string   // override for the settings file location
	selections  []string // name=entity_id pairs seeding the ref table
	runFilter   string   // filter log output to one run
	logStats    bool     // print a summary of the log instead of entries
	exportPath  string   // destination file for export, empty means stdout
	logFormat   string   // export format: json, csv, text
	replayApply bool     // replay against the live document instead of a fork
	genModel    string   // model override for plan generation
	genOut      string   // destination file for a generated plan
	jsonOutput  bool     // machine-readable command output

	settings config.Settings

	rootCmd = &cobra.Command{
		Use:   "planctl",
		Short: "A cli to validate, execute, and audit CAD operation plans",
		Long: `Planctl runs LLM-produced CAD operation plans through the Forgeplan
pipeline: sanitize, resolve dependencies, then execute against a document
in sandbox or apply mode. Every apply is recorded in a durable action log.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			var err error
			settings, err = loadSettings(configPath)
			if err != nil {
				log.Fatalf("Error loading config: %v", err)
			}
		},
	}

	// --- Plan Pipeline ---
	validateCmd = &cobra.Command{
		Use:   "validate [plan.json]",
		Short: "Sanitize a plan and report issues without executing it",
		Args:  cobra.ExactArgs(1),
		Run:   runValidate, // Defined in cmd_plan.go
	}
	previewCmd = &cobra.Command{
		Use:   "preview [plan.json]",
		Short: "Dry-run a plan against a forked document",
		Args:  cobra.ExactArgs(1),
		Run:   runPreview, // Defined in cmd_plan.go
	}
	applyCmd = &cobra.Command{
		Use:   "apply [plan.json]",
		Short: "Execute a plan against the document and record it in the action log",
		Args:  cobra.ExactArgs(1),
		Run:   runApply, // Defined in cmd_plan.go
	}

	// --- Action Log ---
	logCmd = &cobra.Command{
		Use:   "log",
		Short: "List recorded actions",
		Run:   runLog, // Defined in cmd_log.go
	}
	exportCmd = &cobra.Command{
		Use:   "export",
		Short: "Export the action log as JSON, CSV, or text",
		Run:   runExport, // Defined in cmd_log.go
	}
	importCmd = &cobra.Command{
		Use:   "import [export.json]",
		Short: "Import a previously exported JSON action log",
		Args:  cobra.ExactArgs(1),
		Run:   runImport, // Defined in cmd_log.go
	}
	replayCmd = &cobra.Command{
		Use:   "replay [seq]",
		Short: "Re-run the recorded plan containing the given log entry",
		Args:  cobra.ExactArgs(1),
		Run:   runReplay, // Defined in cmd_log.go
	}

	// --- Plan Sources ---
	generateCmd = &cobra.Command{
		Use:   "generate [request]",
		Short: "Generate a plan from a natural-language request via the configured LLM",
		Args:  cobra.MinimumNArgs(1),
		Run:   runGenerate, // Defined in cmd_generate.go
	}
	watchCmd = &cobra.Command{
		Use:   "watch [dir]",
		Short: "Watch a directory and sandbox-run every plan dropped into it",
		Args:  cobra.ExactArgs(1),
		Run:   runWatch, // Defined in cmd_generate.go
	}

	// --- Server ---
	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Start an embedded API server on the configured address",
		Run:   runServe, // Defined in cmd_serve.go
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"Path to a settings file (default ~/.forgeplan/forgeplan.yaml)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false,
		"Output results as JSON")

	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(previewCmd)
	rootCmd.AddCommand(applyCmd)
	for _, c := range []*cobra.Command{validateCmd, previewCmd, applyCmd} {
		c.Flags().StringArrayVar(&selections, "select", nil,
			"Seed an ambient selection, e.g. --select face_selected=ent_0001 (repeatable)")
	}

	rootCmd.AddCommand(logCmd)
	logCmd.Flags().StringVar(&runFilter, "run", "", "Only show entries for this run ID")
	logCmd.Flags().BoolVar(&logStats, "stats", false, "Print entry counts and the success rate instead of entries")

	rootCmd.AddCommand(exportCmd)
	exportCmd.Flags().StringVar(&logFormat, "format", "json", "Export format: json, csv, or text")
	exportCmd.Flags().StringVarP(&exportPath, "output", "o", "", "Write to a file instead of stdout")

	rootCmd.AddCommand(importCmd)

	rootCmd.AddCommand(replayCmd)
	replayCmd.Flags().BoolVar(&replayApply, "apply", false,
		"Replay in apply mode (default is a sandbox dry run)")
	replayCmd.Flags().StringArrayVar(&selections, "select", nil,
		"Seed an ambient selection, e.g. --select face_selected=ent_0001 (repeatable)")

	rootCmd.AddCommand(generateCmd)
	generateCmd.Flags().StringVar(&genModel, "model", "", "Override the configured model")
	generateCmd.Flags().StringVarP(&genOut, "output", "o", "", "Write the plan to a file instead of stdout")

	rootCmd.AddCommand(watchCmd)

	rootCmd.AddCommand(serveCmd)
}

// loadSettings reads an explicit settings file when given, otherwise goes
// through the singleton loader that writes defaults on first run.
func loadSettings(path string) (config.Settings, error) {
	if path != "" {
		var s config.Settings
		if err := config.LoadFile(path, &s); err != nil {
			return config.Settings{}, err
		}
		return s, nil
	}
	if err := config.Load(); err != nil {
		return config.Settings{}, err
	}
	return config.Global, nil
}
