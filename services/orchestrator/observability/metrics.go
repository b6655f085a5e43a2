// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the query router.
//
// # Description
//
// QueryMetrics implements extensions.Observer and extensions.AuditSink so
// the hybrid engine and the access gate report into it without knowing
// about Prometheus. Metrics include:
//   - Orchestrations by query type and outcome
//   - End-to-end and per-stage latency
//   - Recovered capability failures
//   - Access decisions by resource type and outcome
//
// # Integration
//
// Metrics are exposed via the /metrics endpoint.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/rajarshiroydev/AgriFlow-AI/pkg/extensions"
)

// =============================================================================
// Metric Definitions
// =============================================================================

// Namespace for all metrics
const metricsNamespace = "agriflow"

// Subsystem for router metrics
const routerSubsystem = "router"

// QueryMetrics holds all Prometheus metrics for query orchestration.
//
// # Fields
//
//   - QueriesTotal: Orchestrations by query_type and outcome
//   - QueryDurationSeconds: End-to-end latency by query_type
//   - StageDurationSeconds: Latency per pipeline stage
//   - CapabilityErrorsTotal: Recovered failures per capability
//   - AccessDecisionsTotal: Gate decisions by resource_type and outcome
type QueryMetrics struct {
	QueriesTotal          *prometheus.CounterVec
	QueryDurationSeconds  *prometheus.HistogramVec
	StageDurationSeconds  *prometheus.HistogramVec
	CapabilityErrorsTotal *prometheus.CounterVec
	AccessDecisionsTotal  *prometheus.CounterVec
}

var (
	_ extensions.Observer  = (*QueryMetrics)(nil)
	_ extensions.AuditSink = (*QueryMetrics)(nil)
)

// NewQueryMetrics creates and registers the metrics on reg.
//
// # Inputs
//
//   - reg: Registry to register on. Nil uses prometheus.DefaultRegisterer.
//
// # Limitations
//
//   - Panics if called twice against the same registry.
func NewQueryMetrics(reg prometheus.Registerer) *QueryMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &QueryMetrics{
		QueriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: routerSubsystem,
				Name:      "queries_total",
				Help:      "Total orchestrated queries by query type and outcome",
			},
			[]string{"query_type", "outcome"},
		),

		QueryDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: routerSubsystem,
				Name:      "query_duration_seconds",
				Help:      "End-to-end orchestration latency in seconds",
				Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"query_type"},
		),

		StageDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: routerSubsystem,
				Name:      "stage_duration_seconds",
				Help:      "Latency of one pipeline stage in seconds",
				Buckets:   []float64{0.01, 0.1, 0.5, 1, 2.5, 5, 10, 30, 120},
			},
			[]string{"stage"},
		),

		CapabilityErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: routerSubsystem,
				Name:      "capability_errors_total",
				Help:      "Recovered sub-capability failures",
			},
			[]string{"capability"},
		),

		AccessDecisionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: routerSubsystem,
				Name:      "access_decisions_total",
				Help:      "Access gate audit records by resource type and outcome",
			},
			[]string{"resource_type", "outcome"},
		),
	}
}

// =============================================================================
// Observer
// =============================================================================

func (m *QueryMetrics) ObserveQuery(queryType, outcome string, duration time.Duration) {
	m.QueriesTotal.WithLabelValues(queryType, outcome).Inc()
	m.QueryDurationSeconds.WithLabelValues(queryType).Observe(duration.Seconds())
}

func (m *QueryMetrics) ObserveStage(stage string, duration time.Duration) {
	m.StageDurationSeconds.WithLabelValues(stage).Observe(duration.Seconds())
}

func (m *QueryMetrics) ObserveCapabilityError(capability string) {
	m.CapabilityErrorsTotal.WithLabelValues(capability).Inc()
}

// =============================================================================
// Audit Sink
// =============================================================================

// Record counts one access decision.
func (m *QueryMetrics) Record(ctx context.Context, record extensions.AuditRecord) error {
	m.AccessDecisionsTotal.WithLabelValues(record.ResourceType, record.Outcome()).Inc()
	return nil
}

func (m *QueryMetrics) Flush(ctx context.Context) error { return nil }
