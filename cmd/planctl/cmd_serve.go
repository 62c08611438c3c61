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

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/forgeplan/forgeplan/pkg/logging"
	"github.com/forgeplan/forgeplan/services/plan_engine"
	"github.com/forgeplan/forgeplan/services/plan_engine/actionlog"
	"github.com/forgeplan/forgeplan/services/plan_engine/capability"
)

// runServe starts an embedded API server. It is a convenience for local
// development; cmd/planserver is the deployable binary with metrics and
// tracing wired up.
func runServe(cmd *cobra.Command, args []string) {
	logger := logging.New(logging.Config{
		Level:   logging.LevelInfo,
		Service: "planctl",
	})
	defer logger.Close()

	store, err := actionlog.Open(settings.Log.Dir, logger.Slog(), nil)
	if err != nil {
		log.Fatalf("Error opening action log at %s: %v", settings.Log.Dir, err)
	}
	defer store.Close()

	svc := plan_engine.NewService(serviceConfig(settings), capability.NewDocument(), store, logger.Slog(), nil)
	handlers := plan_engine.NewHandlers(svc)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	v1 := router.Group("/v1")
	plan_engine.RegisterRoutes(v1, handlers)
	router.GET("/healthz", handlers.HandleHealth)

	fmt.Printf("serving on %s, Ctrl+C to stop\n", settings.Server.Addr)
	if err := router.Run(settings.Server.Addr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
