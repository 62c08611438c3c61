// Copyright (C) 2025 Forgeplan Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"log"
	"strings"

	"github.com/forgeplan/forgeplan/pkg/logging"
	"github.com/forgeplan/forgeplan/services/plan_engine"
	"github.com/forgeplan/forgeplan/services/plan_engine/actionlog"
	"github.com/forgeplan/forgeplan/services/plan_engine/capability"
	"github.com/forgeplan/forgeplan/services/plan_engine/config"
	"github.com/forgeplan/forgeplan/services/plan_engine/engine"
	"github.com/forgeplan/forgeplan/services/plan_engine/sanitize"
)

// cliLogger keeps structured output on stderr at warn level so command
// results stay readable on stdout.
func cliLogger() *logging.Logger {
	return logging.New(logging.Config{
		Level:   logging.LevelWarn,
		Service: "planctl",
	})
}

// openStore opens the action log at the configured location.
func openStore(logger *logging.Logger) *actionlog.Store {
	store, err := actionlog.Open(settings.Log.Dir, logger.Slog(), nil)
	if err != nil {
		log.Fatalf("Error opening action log at %s: %v", settings.Log.Dir, err)
	}
	return store
}

// newService builds the pipeline over a fresh in-memory document. The
// returned cleanup closes the store and the logger.
func newService() (*plan_engine.Service, func()) {
	logger := cliLogger()
	store := openStore(logger)
	svc := plan_engine.NewService(serviceConfig(settings), capability.NewDocument(), store, logger.Slog(), nil)
	return svc, func() {
		if err := store.Close(); err != nil {
			logger.Warn("closing action log", "error", err)
		}
		logger.Close()
	}
}

func serviceConfig(s config.Settings) plan_engine.ServiceConfig {
	return plan_engine.ServiceConfig{
		Sanitize: sanitize.Config{
			MaxOperations:   s.Sanitizer.MaxOperations,
			MaxPromptLen:    s.Sanitizer.MaxPromptLen,
			StrictMode:      s.Sanitizer.StrictMode,
			ClampAdvisory:   s.Sanitizer.ClampAdvisory,
			AngleWraparound: s.Sanitizer.AngleWraparound,
			DefaultUnits:    s.Sanitizer.DefaultUnits,
			Profile: sanitize.MachineProfile{
				MinToolDiameter:  s.Sanitizer.MinToolDiameter,
				MaxCutDepth:      s.Sanitizer.MaxCutDepth,
				MinWallThickness: s.Sanitizer.MinWallThick,
				MaxFeatureSize:   s.Sanitizer.MaxFeatureSize,
			},
		},
		Engine: engine.Config{OpTimeout: s.OpTimeout()},
	}
}

// parseSelections turns repeated name=entity_id flags into the ref table
// seed.
func parseSelections(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		name, id, ok := strings.Cut(pair, "=")
		if !ok || name == "" || id == "" {
			return nil, fmt.Errorf("invalid selection %q, expected name=entity_id", pair)
		}
		out[name] = id
	}
	return out, nil
}
