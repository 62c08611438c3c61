// Copyright (C) 2025 Forgeplan Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package telemetry holds the Prometheus instruments for the plan engine.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles every instrument the pipeline records into. Register once
// per process; handler and engine code receive the bundle by pointer and may
// be handed nil, in which case recording is a no-op.
type Metrics struct {
	PlansSanitized   *prometheus.CounterVec // outcome: accepted|rejected
	SanitizeIssues   *prometheus.CounterVec // code: SchemaError|UnitError|...
	RunsTotal        *prometheus.CounterVec // mode, outcome: success|failure
	RunDuration      *prometheus.HistogramVec
	OpsDispatched    *prometheus.CounterVec // kind, status
	OpDuration       prometheus.Histogram
	Rollbacks        prometheus.Counter
	RollbackFailures prometheus.Counter
	LogEntries       prometheus.Counter
}

// New builds and registers the instrument bundle on reg. Passing
// prometheus.DefaultRegisterer wires the standard /metrics endpoint.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PlansSanitized: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "forgeplan",
			Name:      "plans_sanitized_total",
			Help:      "Plans processed by the sanitizer, by outcome.",
		}, []string{"outcome"}),
		SanitizeIssues: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "forgeplan",
			Name:      "sanitize_issues_total",
			Help:      "Issues emitted by the sanitizer, by code.",
		}, []string{"code"}),
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "forgeplan",
			Name:      "runs_total",
			Help:      "Engine runs, by mode and outcome.",
		}, []string{"mode", "outcome"}),
		RunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "forgeplan",
			Name:      "run_duration_seconds",
			Help:      "Wall time of engine runs.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"mode"}),
		OpsDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "forgeplan",
			Name:      "operations_dispatched_total",
			Help:      "Operations dispatched to the capability, by kind and status.",
		}, []string{"kind", "status"}),
		OpDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "forgeplan",
			Name:      "operation_duration_seconds",
			Help:      "Wall time of individual capability calls.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 10),
		}),
		Rollbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "forgeplan",
			Name:      "rollbacks_total",
			Help:      "Apply-mode runs that triggered compensation.",
		}),
		RollbackFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "forgeplan",
			Name:      "rollback_failures_total",
			Help:      "Compensating actions that themselves failed.",
		}),
		LogEntries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "forgeplan",
			Name:      "actionlog_entries_total",
			Help:      "Entries appended to the action log.",
		}),
	}
	reg.MustRegister(
		m.PlansSanitized, m.SanitizeIssues, m.RunsTotal, m.RunDuration,
		m.OpsDispatched, m.OpDuration, m.Rollbacks, m.RollbackFailures,
		m.LogEntries,
	)
	return m
}

// ObserveRun records one engine run. Safe on a nil receiver.
func (m *Metrics) ObserveRun(mode string, success bool, seconds float64) {
	if m == nil {
		return
	}
	outcome := "failure"
	if success {
		outcome = "success"
	}
	m.RunsTotal.WithLabelValues(mode, outcome).Inc()
	m.RunDuration.WithLabelValues(mode).Observe(seconds)
}

// ObserveOp records one capability dispatch. Safe on a nil receiver.
func (m *Metrics) ObserveOp(kind, status string, seconds float64) {
	if m == nil {
		return
	}
	m.OpsDispatched.WithLabelValues(kind, status).Inc()
	m.OpDuration.Observe(seconds)
}

// ObserveSanitize records a sanitizer pass. Safe on a nil receiver.
func (m *Metrics) ObserveSanitize(accepted bool, codes []string) {
	if m == nil {
		return
	}
	outcome := "rejected"
	if accepted {
		outcome = "accepted"
	}
	m.PlansSanitized.WithLabelValues(outcome).Inc()
	for _, c := range codes {
		m.SanitizeIssues.WithLabelValues(c).Inc()
	}
}

// ObserveRollback records a rollback and its compensation failures. Safe on
// a nil receiver.
func (m *Metrics) ObserveRollback(failures int) {
	if m == nil {
		return
	}
	m.Rollbacks.Inc()
	m.RollbackFailures.Add(float64(failures))
}

// ObserveLogEntry counts one appended action log entry. Safe on a nil
// receiver.
func (m *Metrics) ObserveLogEntry() {
	if m == nil {
		return
	}
	m.LogEntries.Inc()
}
