// Copyright (C) 2025 Forgeplan Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/forgeplan/forgeplan/services/plan_engine/plansource"
)

// runGenerate asks the configured LLM for a plan and emits it as JSON. The
// output is a candidate: it still has to pass validate before it can run.
func runGenerate(cmd *cobra.Command, args []string) {
	request := strings.Join(args, " ")

	apiKey := ""
	if settings.LLM.APIKeyEnv != "" {
		apiKey = os.Getenv(settings.LLM.APIKeyEnv)
	}
	model := settings.LLM.Model
	if genModel != "" {
		model = genModel
	}

	logger := cliLogger()
	defer logger.Close()

	source := plansource.NewLLMSource(apiKey, settings.LLM.BaseURL, model, logger.Slog())
	p, err := source.Generate(context.Background(), request)
	if err != nil {
		log.Fatalf("Error generating plan: %v", err)
	}

	var w io.Writer = os.Stdout
	if genOut != "" {
		f, err := os.Create(genOut)
		if err != nil {
			log.Fatalf("Error creating output file: %v", err)
		}
		defer f.Close()
		w = f
	}
	if err := p.Encode(w); err != nil {
		log.Fatalf("Error writing plan: %v", err)
	}
	if genOut != "" {
		fmt.Printf("wrote plan %s (%d operations) to %s\n", p.ID, len(p.Operations), genOut)
	}
}

// runWatch sandbox-runs every plan JSON dropped into a directory until
// interrupted.
func runWatch(cmd *cobra.Command, args []string) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := cliLogger()
	defer logger.Close()

	watcher, err := plansource.Watch(ctx, args[0], logger.Slog())
	if err != nil {
		log.Fatalf("Error watching %s: %v", args[0], err)
	}

	svc, cleanup := newService()
	defer cleanup()

	fmt.Printf("watching %s for plans, Ctrl+C to stop\n", args[0])
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-watcher.Errs():
			if !ok {
				return
			}
			fmt.Fprintf(os.Stderr, "watch: %v\n", err)
		case p, ok := <-watcher.Plans():
			if !ok {
				return
			}
			report, issues, err := svc.Preview(ctx, p, nil)
			printIssues(issues)
			if err != nil {
				fmt.Fprintf(os.Stderr, "plan %s rejected: %v\n", p.ID, err)
				continue
			}
			printReport(report)
		}
	}
}
