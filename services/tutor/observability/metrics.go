// Copyright (C) 2026 Elenchus AI (dev@elenchus.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides metrics and instrumentation for the tutor.
//
// # Description
//
// This package implements Prometheus metrics for monitoring the tutoring
// loop. Metrics include:
//   - Turn counters (by outcome)
//   - LLM call counters and latency histograms
//   - Circuit breaker state transitions and rejections
//   - Active session gauge
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
const metricsNamespace = "elenchus"

// Subsystem for tutoring metrics
const tutorSubsystem = "tutor"

// TutorMetrics holds all Prometheus metrics for the tutoring loop.
//
// Initialize once at startup via InitMetrics().
type TutorMetrics struct {
	// TurnsTotal counts handled turns by outcome.
	// Labels: outcome (advanced, retained, completed, malformed, error)
	TurnsTotal *prometheus.CounterVec

	// TurnDurationSeconds measures end-to-end turn handling time.
	// Labels: outcome
	TurnDurationSeconds *prometheus.HistogramVec

	// LLMCallsTotal counts LLM invocations by status.
	// Labels: status (success, error, rejected)
	LLMCallsTotal *prometheus.CounterVec

	// LLMCallDurationSeconds measures LLM call latency, successful
	// calls only.
	LLMCallDurationSeconds prometheus.Histogram

	// ActiveSessions tracks sessions started but not yet ended.
	ActiveSessions prometheus.Gauge

	// BreakerTransitionsTotal counts circuit breaker state changes.
	// Labels: breaker, to (CLOSED, OPEN, HALF_OPEN)
	BreakerTransitionsTotal *prometheus.CounterVec

	// BreakerRejectionsTotal counts calls rejected by an open breaker.
	// Labels: breaker
	BreakerRejectionsTotal *prometheus.CounterVec
}

// DefaultMetrics is the singleton instance of TutorMetrics.
// Initialized by InitMetrics().
var DefaultMetrics *TutorMetrics

// InitMetrics initializes the default metrics instance.
//
// # Description
//
// Creates and registers all Prometheus metrics. Should be called once
// at application startup.
//
// # Limitations
//
//   - Panics if called twice (duplicate registration).
func InitMetrics() *TutorMetrics {
	DefaultMetrics = &TutorMetrics{
		TurnsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: tutorSubsystem,
				Name:      "turns_total",
				Help:      "Total handled turns by outcome",
			},
			[]string{"outcome"},
		),

		TurnDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: tutorSubsystem,
				Name:      "turn_duration_seconds",
				Help:      "End-to-end turn handling time in seconds",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
			[]string{"outcome"},
		),

		LLMCallsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: tutorSubsystem,
				Name:      "llm_calls_total",
				Help:      "Total LLM invocations by status",
			},
			[]string{"status"},
		),

		LLMCallDurationSeconds: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: tutorSubsystem,
				Name:      "llm_call_duration_seconds",
				Help:      "Latency of successful LLM calls in seconds",
				Buckets:   []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0},
			},
		),

		ActiveSessions: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: tutorSubsystem,
				Name:      "active_sessions",
				Help:      "Sessions started and not yet ended",
			},
		),

		BreakerTransitionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: tutorSubsystem,
				Name:      "breaker_transitions_total",
				Help:      "Circuit breaker state transitions by breaker and target state",
			},
			[]string{"breaker", "to"},
		),

		BreakerRejectionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: tutorSubsystem,
				Name:      "breaker_rejections_total",
				Help:      "Calls rejected while a breaker was open",
			},
			[]string{"breaker"},
		),
	}

	return DefaultMetrics
}

// TurnOutcome labels a completed turn for metrics.
type TurnOutcome string

const (
	// OutcomeAdvanced means the answer was judged sufficient and the
	// session moved to the next question.
	OutcomeAdvanced TurnOutcome = "advanced"

	// OutcomeRetained means the same question stays current.
	OutcomeRetained TurnOutcome = "retained"

	// OutcomeCompleted means the question queue was already exhausted.
	OutcomeCompleted TurnOutcome = "completed"

	// OutcomeMalformed means the model reply could not be parsed and
	// the turn degraded to an apology.
	OutcomeMalformed TurnOutcome = "malformed"

	// OutcomeError means the turn failed with an error.
	OutcomeError TurnOutcome = "error"
)

// RecordTurn records a completed turn and its duration.
func (m *TutorMetrics) RecordTurn(outcome TurnOutcome, seconds float64) {
	m.TurnsTotal.WithLabelValues(string(outcome)).Inc()
	m.TurnDurationSeconds.WithLabelValues(string(outcome)).Observe(seconds)
}

// RecordLLMCall records one LLM invocation.
func (m *TutorMetrics) RecordLLMCall(status string, seconds float64) {
	m.LLMCallsTotal.WithLabelValues(status).Inc()
	if status == "success" {
		m.LLMCallDurationSeconds.Observe(seconds)
	}
}

// RecordBreakerTransition records a circuit breaker state change.
func (m *TutorMetrics) RecordBreakerTransition(breaker, to string) {
	m.BreakerTransitionsTotal.WithLabelValues(breaker, to).Inc()
}

// RecordBreakerRejection records a call rejected by an open breaker.
func (m *TutorMetrics) RecordBreakerRejection(breaker string) {
	m.BreakerRejectionsTotal.WithLabelValues(breaker).Inc()
}

// SessionStarted increments the active sessions gauge.
func (m *TutorMetrics) SessionStarted() { m.ActiveSessions.Inc() }

// SessionEnded decrements the active sessions gauge.
func (m *TutorMetrics) SessionEnded() { m.ActiveSessions.Dec() }
