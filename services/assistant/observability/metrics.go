// Copyright (C) 2025 Supportra AI (oss@supportra.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability provides Prometheus metrics for the assistant.
//
// # Description
//
// Metrics cover the assist pipeline end to end:
//   - Request counters (by requester role and outcome)
//   - Escalation counters (by rule)
//   - Retrieval yield (passages per query)
//   - Per-stage latency histograms
//   - Generation fault counter
//
// # Integration
//
// Metrics are exposed via the /metrics endpoint. Use with Prometheus +
// Grafana for dashboards and alerting.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace for all metrics
const metricsNamespace = "supportra"

// Subsystem for assist pipeline metrics
const assistSubsystem = "assist"

// Pipeline stage label values for StageDurationSeconds.
const (
	StageSession   = "session"
	StageHistory   = "history"
	StageRetrieval = "retrieval"
	StageCompose   = "compose"
	StagePersist   = "persist"
)

// Request status label values.
const (
	StatusSuccess  = "success"
	StatusDegraded = "degraded"
	StatusError    = "error"
)

// AssistMetrics holds all Prometheus metrics for the assist pipeline.
//
// Initialize once at startup via InitMetrics().
type AssistMetrics struct {
	// RequestsTotal counts assist requests by requester role and outcome.
	// Labels: role (agent, customer), status (success, degraded, error)
	RequestsTotal *prometheus.CounterVec

	// EscalationsTotal counts escalation decisions by the rule that fired.
	// Labels: rule
	EscalationsTotal *prometheus.CounterVec

	// RetrievalPassages measures how many passages retrieval yielded per
	// query after reranking.
	RetrievalPassages prometheus.Histogram

	// StageDurationSeconds measures per-stage pipeline latency.
	// Labels: stage (session, history, retrieval, compose, persist)
	StageDurationSeconds *prometheus.HistogramVec

	// GenerationFaultsTotal counts answers that fell back to the apology
	// text because the language model failed.
	GenerationFaultsTotal prometheus.Counter

	// PersistFaultsTotal counts exchanges that could not be stored.
	PersistFaultsTotal prometheus.Counter
}

// DefaultMetrics is the singleton instance of AssistMetrics.
// Initialized by InitMetrics().
var DefaultMetrics *AssistMetrics

// InitMetrics initializes the default metrics instance.
//
// # Description
//
// Creates and registers all Prometheus metrics. Should be called once at
// application startup.
//
// # Outputs
//
//   - *AssistMetrics: The initialized metrics instance.
//
// # Limitations
//
//   - Panics if called twice (duplicate registration).
func InitMetrics() *AssistMetrics {
	DefaultMetrics = &AssistMetrics{
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: assistSubsystem,
				Name:      "requests_total",
				Help:      "Total assist requests by requester role and status",
			},
			[]string{"role", "status"},
		),

		EscalationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: assistSubsystem,
				Name:      "escalations_total",
				Help:      "Total escalation decisions by matched rule",
			},
			[]string{"rule"},
		),

		RetrievalPassages: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: assistSubsystem,
				Name:      "retrieval_passages",
				Help:      "Knowledge passages yielded per query after reranking",
				Buckets:   []float64{0, 1, 2, 3, 5, 8, 10},
			},
		),

		StageDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: assistSubsystem,
				Name:      "stage_duration_seconds",
				Help:      "Assist pipeline stage latency in seconds",
				Buckets:   []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"stage"},
		),

		GenerationFaultsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: assistSubsystem,
				Name:      "generation_faults_total",
				Help:      "Total answers that fell back to the apology text",
			},
		),

		PersistFaultsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: assistSubsystem,
				Name:      "persist_faults_total",
				Help:      "Total exchanges that could not be stored",
			},
		),
	}

	return DefaultMetrics
}
