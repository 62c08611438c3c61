// Copyright (C) 2025 Forgeplan Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command planserver starts the Forgeplan plan engine API server.
//
// Usage:
//
//	go run ./cmd/planserver
//	go run ./cmd/planserver -addr :9090 -debug
//
// Example requests:
//
//	# Health check
//	curl http://localhost:8844/v1/health
//
//	# Validate a plan
//	curl -X POST http://localhost:8844/v1/plans/validate \
//	  -H "Content-Type: application/json" \
//	  -d @plan.json
//
//	# Dry-run a plan against a forked document
//	curl -X POST http://localhost:8844/v1/plans/preview \
//	  -H "Content-Type: application/json" \
//	  -d @plan.json
//
//	# List the action log
//	curl http://localhost:8844/v1/actions | jq
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/forgeplan/forgeplan/pkg/logging"
	"github.com/forgeplan/forgeplan/services/plan_engine"
	"github.com/forgeplan/forgeplan/services/plan_engine/actionlog"
	"github.com/forgeplan/forgeplan/services/plan_engine/capability"
	"github.com/forgeplan/forgeplan/services/plan_engine/config"
	"github.com/forgeplan/forgeplan/services/plan_engine/engine"
	"github.com/forgeplan/forgeplan/services/plan_engine/sanitize"
	"github.com/forgeplan/forgeplan/services/plan_engine/telemetry"
)

func main() {
	addr := flag.String("addr", "", "Listen address, overrides the config file")
	configPath := flag.String("config", "", "Path to a settings file (default ~/.forgeplan/forgeplan.yaml)")
	debug := flag.Bool("debug", false, "Enable debug mode")
	trace := flag.Bool("trace", false, "Export spans to stdout")
	flag.Parse()

	settings, err := loadSettings(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *addr != "" {
		settings.Server.Addr = *addr
	}

	level := logging.LevelInfo
	if *debug {
		level = logging.LevelDebug
	}
	logger := logging.New(logging.Config{
		Level:   level,
		LogDir:  "~/.forgeplan/logs",
		Service: "planserver",
	})
	defer logger.Close()

	if *trace {
		shutdown, err := initTracing()
		if err != nil {
			log.Fatalf("Failed to set up tracing: %v", err)
		}
		defer shutdown()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := telemetry.New(reg)

	store, err := actionlog.Open(settings.Log.Dir, logger.Slog(), metrics)
	if err != nil {
		log.Fatalf("Failed to open action log at %s: %v", settings.Log.Dir, err)
	}
	defer store.Close()

	doc := capability.NewDocument()
	svc := plan_engine.NewService(serviceConfig(settings), doc, store, logger.Slog(), metrics)
	handlers := plan_engine.NewHandlers(svc)

	if *debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	if *debug {
		router.Use(gin.Logger())
	}

	v1 := router.Group("/v1")
	plan_engine.RegisterRoutes(v1, handlers)
	router.GET("/healthz", handlers.HandleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	srv := &http.Server{
		Addr:    settings.Server.Addr,
		Handler: router,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("planserver listening", "addr", settings.Server.Addr, "log_dir", settings.Log.Dir)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-quit
	logger.Info("shutting down planserver")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}
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

// initTracing installs a stdout span exporter. Returns a shutdown func.
func initTracing() (func(), error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(tp)
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tp.Shutdown(ctx)
	}, nil
}
