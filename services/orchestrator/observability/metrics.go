// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the assistant.
//
// # Description
//
// Metrics cover the chat turn pipeline:
//   - Turn outcomes by intent and confirmation
//   - Quota refusals and charged requests
//   - Classifier latency and failures per provider
//   - Tracking server calls per operation
//   - Live sessions and websocket connections
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
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

// Namespace for all metrics
const metricsNamespace = "assistant"

const (
	turnSubsystem       = "turn"
	quotaSubsystem      = "quota"
	classifierSubsystem = "classifier"
	trackingSubsystem   = "tracking"
)

// Metrics holds all Prometheus metrics for the assistant.
//
// # Description
//
// Initialize once at startup via InitMetrics, or with NewMetrics and a
// private registry in tests.
//
// # Thread Safety
//
// All operations are thread-safe.
type Metrics struct {
	// TurnsTotal counts completed turns.
	// Labels: intent, confirmation
	TurnsTotal *prometheus.CounterVec

	// QuotaRejectionsTotal counts turns refused by the quota store.
	// Labels: reason (invalid, deactivated, expired, exhausted, store_error)
	QuotaRejectionsTotal *prometheus.CounterVec

	// QuotaConsumedTotal counts requests charged against invitation codes.
	QuotaConsumedTotal prometheus.Counter

	// ClassifierDurationSeconds measures classifier latency.
	// Labels: provider
	ClassifierDurationSeconds *prometheus.HistogramVec

	// ClassifierErrorsTotal counts failed classifier calls.
	// Labels: provider
	ClassifierErrorsTotal *prometheus.CounterVec

	// TrackingCallsTotal counts tracking server calls.
	// Labels: operation (e.g. runs/create), status (HTTP code or "error")
	TrackingCallsTotal *prometheus.CounterVec

	// TrackingDurationSeconds measures tracking server latency.
	// Labels: operation
	TrackingDurationSeconds *prometheus.HistogramVec

	// SessionsActive is the number of sessions held in memory.
	SessionsActive prometheus.Gauge

	// ActiveConnections tracks open websocket connections.
	ActiveConnections prometheus.Gauge
}

// DefaultMetrics is the process-wide instance set by InitMetrics.
var DefaultMetrics *Metrics

// InitMetrics registers the metrics with the default Prometheus registry.
//
// # Limitations
//
//   - Panics if called twice (duplicate registration).
func InitMetrics() *Metrics {
	DefaultMetrics = NewMetrics(prometheus.DefaultRegisterer)
	return DefaultMetrics
}

// NewMetrics creates the metrics and registers them with reg.
//
// # Inputs
//
//   - reg: the registerer. Use prometheus.NewRegistry() for isolation.
//
// # Outputs
//
//   - *Metrics: the initialized metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		TurnsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: turnSubsystem,
				Name:      "total",
				Help:      "Completed chat turns by intent and confirmation",
			},
			[]string{"intent", "confirmation"},
		),

		QuotaRejectionsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: quotaSubsystem,
				Name:      "rejections_total",
				Help:      "Turns refused by the invitation quota by reason",
			},
			[]string{"reason"},
		),

		QuotaConsumedTotal: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: quotaSubsystem,
				Name:      "consumed_total",
				Help:      "Requests charged against invitation codes",
			},
		),

		ClassifierDurationSeconds: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: classifierSubsystem,
				Name:      "duration_seconds",
				Help:      "Classifier call latency in seconds",
				Buckets:   []float64{0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0, 120.0},
			},
			[]string{"provider"},
		),

		ClassifierErrorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: classifierSubsystem,
				Name:      "errors_total",
				Help:      "Failed classifier calls by provider",
			},
			[]string{"provider"},
		),

		TrackingCallsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: trackingSubsystem,
				Name:      "calls_total",
				Help:      "Tracking server calls by operation and status",
			},
			[]string{"operation", "status"},
		),

		TrackingDurationSeconds: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: trackingSubsystem,
				Name:      "duration_seconds",
				Help:      "Tracking server call latency in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
			[]string{"operation"},
		),

		SessionsActive: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "sessions_active",
				Help:      "Chat sessions held in memory",
			},
		),

		ActiveConnections: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "websocket_connections",
				Help:      "Open chat websocket connections",
			},
		),
	}
}

// =============================================================================
// Helper Methods
// =============================================================================

// RecordTurn records a completed turn.
func (m *Metrics) RecordTurn(intent, confirmation string) {
	m.TurnsTotal.WithLabelValues(intent, confirmation).Inc()
}

// RecordQuotaRejection records a refused turn.
//
// # Inputs
//
//   - reason: short label such as "expired".
func (m *Metrics) RecordQuotaRejection(reason string) {
	m.QuotaRejectionsTotal.WithLabelValues(reason).Inc()
}

// RecordQuotaConsumed records one charged request.
func (m *Metrics) RecordQuotaConsumed() {
	m.QuotaConsumedTotal.Inc()
}

// ObserveClassifier records one classifier call.
//
// # Inputs
//
//   - provider: provider id.
//   - d: call duration.
//   - err: the call's error, nil on success.
func (m *Metrics) ObserveClassifier(provider string, d time.Duration, err error) {
	m.ClassifierDurationSeconds.WithLabelValues(provider).Observe(d.Seconds())
	if err != nil {
		m.ClassifierErrorsTotal.WithLabelValues(provider).Inc()
	}
}

// ObserveTrackingCall records one tracking server call.
func (m *Metrics) ObserveTrackingCall(operation, status string, d time.Duration) {
	m.TrackingCallsTotal.WithLabelValues(operation, status).Inc()
	m.TrackingDurationSeconds.WithLabelValues(operation).Observe(d.Seconds())
}

// SetSessions sets the live session gauge.
func (m *Metrics) SetSessions(n int) {
	m.SessionsActive.Set(float64(n))
}

// ConnectionOpened increments the websocket gauge.
func (m *Metrics) ConnectionOpened() { m.ActiveConnections.Inc() }

// ConnectionClosed decrements the websocket gauge.
func (m *Metrics) ConnectionClosed() { m.ActiveConnections.Dec() }
