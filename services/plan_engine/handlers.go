// Copyright (C) 2025 Forgeplan Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package plan_engine

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/forgeplan/forgeplan/services/plan_engine/actionlog"
	"github.com/forgeplan/forgeplan/services/plan_engine/plan"
	"github.com/forgeplan/forgeplan/services/plan_engine/resolve"
	"github.com/forgeplan/forgeplan/services/plan_engine/sanitize"
)

// PlanRequest is the body of every plan endpoint.
type PlanRequest struct {
	Plan *plan.Plan `json:"plan" binding:"required"`
	// Selections maps external reference names (current UI selections) to
	// their entity identifiers.
	Selections map[string]string `json:"selections,omitempty"`
}

// ValidateResponse is returned by POST /v1/plans/validate.
type ValidateResponse struct {
	OK bool `json:"ok"`
	// Plan is the cleaned plan in resolved dispatch order, absent on
	// rejection.
	Plan   *plan.Plan   `json:"plan,omitempty"`
	Issues []plan.Issue `json:"issues,omitempty"`
}

// RunResponse is returned by preview, apply, and replay.
type RunResponse struct {
	Report *plan.ExecutionReport `json:"report"`
	Issues []plan.Issue          `json:"issues,omitempty"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error  string       `json:"error"`
	Code   string       `json:"code"`
	Issues []plan.Issue `json:"issues,omitempty"`
}

// Handlers contains the HTTP handlers for the plan engine.
type Handlers struct {
	svc *Service
}

// NewHandlers creates handlers for the given service.
func NewHandlers(svc *Service) *Handlers {
	return &Handlers{svc: svc}
}

// HandleValidate handles POST /v1/plans/validate.
//
// Response:
//
//	200 OK: ValidateResponse (ok true or false; issues attached either way)
//	400 Bad Request: malformed body
func (h *Handlers) HandleValidate(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleValidate")

	var req PlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body", Code: "INVALID_REQUEST"})
		return
	}

	clean, issues, err := h.svc.Validate(c.Request.Context(), req.Plan, req.Selections)
	if err != nil {
		if errors.Is(err, sanitize.ErrPlanRejected) {
			c.JSON(http.StatusOK, ValidateResponse{OK: false, Issues: issues})
			return
		}
		var ge *resolve.GraphError
		if errors.As(err, &ge) {
			c.JSON(http.StatusOK, ValidateResponse{OK: false, Issues: append(issues, plan.Issue{
				Code:    plan.IssueGraph,
				OpID:    ge.OpID,
				Message: ge.Error(),
				Fatal:   true,
			})})
			return
		}
		logger.Error("Validate failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "VALIDATE_FAILED"})
		return
	}
	c.JSON(http.StatusOK, ValidateResponse{OK: true, Plan: clean, Issues: issues})
}

// HandlePreview handles POST /v1/plans/preview.
func (h *Handlers) HandlePreview(c *gin.Context) {
	h.execute(c, "HandlePreview", func(req PlanRequest) (*plan.ExecutionReport, plan.Issues, error) {
		return h.svc.Preview(c.Request.Context(), req.Plan, req.Selections)
	})
}

// HandleApply handles POST /v1/plans/apply.
func (h *Handlers) HandleApply(c *gin.Context) {
	h.execute(c, "HandleApply", func(req PlanRequest) (*plan.ExecutionReport, plan.Issues, error) {
		return h.svc.Apply(c.Request.Context(), req.Plan, req.Selections)
	})
}

func (h *Handlers) execute(c *gin.Context, name string, run func(PlanRequest) (*plan.ExecutionReport, plan.Issues, error)) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", name)

	var req PlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body", Code: "INVALID_REQUEST"})
		return
	}

	report, issues, err := run(req)
	if err != nil {
		writePipelineError(c, logger, issues, err)
		return
	}

	logger.Info("Run complete",
		"run_id", report.RunID,
		"mode", report.Mode,
		"success", report.Success,
		"dispatched", len(report.Results))
	c.JSON(http.StatusOK, RunResponse{Report: report, Issues: issues})
}

// writePipelineError maps pipeline failures to HTTP statuses.
func writePipelineError(c *gin.Context, logger *slog.Logger, issues plan.Issues, err error) {
	statusCode := http.StatusInternalServerError
	errCode := "EXECUTION_FAILED"

	var ge *resolve.GraphError
	switch {
	case errors.Is(err, sanitize.ErrPlanRejected):
		statusCode = http.StatusUnprocessableEntity
		errCode = "PLAN_REJECTED"
	case errors.As(err, &ge):
		statusCode = http.StatusUnprocessableEntity
		errCode = string(ge.Kind)
	case errors.Is(err, ErrNeedsUserInput):
		statusCode = http.StatusConflict
		errCode = "NEEDS_USER_INPUT"
	case errors.Is(err, actionlog.ErrNotFound):
		statusCode = http.StatusNotFound
		errCode = "NOT_FOUND"
	}

	logger.Warn("Pipeline failed", "error", err, "code", errCode)
	c.JSON(statusCode, ErrorResponse{Error: err.Error(), Code: errCode, Issues: issues})
}

// HandleListActions handles GET /v1/actions.
//
// Query Parameters:
//
//	run - optional run id filter
func (h *Handlers) HandleListActions(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleListActions")

	store := h.svc.Store()
	if store == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "no action log configured", Code: "NO_LOG"})
		return
	}

	var (
		entries []actionlog.Entry
		err     error
	)
	if runID := c.Query("run"); runID != "" {
		entries, err = store.Run(runID)
	} else {
		entries, err = store.Entries()
	}
	if err != nil {
		if errors.Is(err, actionlog.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "NOT_FOUND"})
			return
		}
		logger.Error("Listing actions failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "LIST_FAILED"})
		return
	}
	if entries == nil {
		entries = []actionlog.Entry{}
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

// HandleExportActions handles GET /v1/actions/export?format=json|csv|text.
func (h *Handlers) HandleExportActions(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleExportActions")

	store := h.svc.Store()
	if store == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "no action log configured", Code: "NO_LOG"})
		return
	}

	format := c.DefaultQuery("format", "json")
	var err error
	switch format {
	case "json":
		c.Header("Content-Type", "application/json")
		err = store.ExportJSON(c.Writer)
	case "csv":
		c.Header("Content-Type", "text/csv")
		err = store.ExportCSV(c.Writer)
	case "text":
		c.Header("Content-Type", "text/plain; charset=utf-8")
		err = store.ExportText(c.Writer)
	default:
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "format must be json, csv, or text", Code: "BAD_FORMAT"})
		return
	}
	if err != nil {
		logger.Error("Export failed", "format", format, "error", err)
	}
}

// ReplayRequest is the body of POST /v1/actions/:seq/replay.
type ReplayRequest struct {
	// Mode defaults to sandbox; replaying straight into apply requires
	// asking for it.
	Mode       plan.Mode         `json:"mode,omitempty"`
	Selections map[string]string `json:"selections,omitempty"`
}

// HandleReplay handles POST /v1/actions/:seq/replay.
func (h *Handlers) HandleReplay(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleReplay")

	seq, err := strconv.ParseUint(c.Param("seq"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "seq must be a positive integer", Code: "INVALID_SEQ"})
		return
	}

	var req ReplayRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body", Code: "INVALID_REQUEST"})
			return
		}
	}
	mode := req.Mode
	if mode == "" {
		mode = plan.ModeSandbox
	}

	report, issues, err := h.svc.Replay(c.Request.Context(), seq, mode, req.Selections)
	if err != nil {
		writePipelineError(c, logger, issues, err)
		return
	}
	c.JSON(http.StatusOK, RunResponse{Report: report, Issues: issues})
}

// HandleHealth handles GET /healthz.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": ServiceVersion})
}

func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}
