// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the sentinel.
//
// # Description
//
// Metrics cover the full detect → diagnose → heal → verify loop:
//   - Detection counters (by fault type and severity, plus suppressions)
//   - Diagnosis counters (by source: rules, provider, degraded)
//   - Healing action counters and outcome histograms
//   - Active fault and subscriber gauges
//
// # Integration
//
// Metrics are exposed via the /metrics endpoint. Use with Prometheus +
// Grafana for dashboards and alerting.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal
// locking.
package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace for all metrics
const metricsNamespace = "sentinel"

// Metrics holds all Prometheus metrics for the healing loop.
type Metrics struct {
	// FaultsDetectedTotal counts admitted faults.
	// Labels: fault_type, severity
	FaultsDetectedTotal *prometheus.CounterVec

	// FaultsSuppressedTotal counts candidates rejected by the
	// suppression rules.
	// Labels: fault_type
	FaultsSuppressedTotal *prometheus.CounterVec

	// DiagnosesTotal counts diagnoses by where they came from.
	// Labels: source (rules, provider, degraded)
	DiagnosesTotal *prometheus.CounterVec

	// HealingActionsTotal counts healing attempts.
	// Labels: action_type, status (SUCCEEDED, FAILED)
	HealingActionsTotal *prometheus.CounterVec

	// HealingDurationSeconds measures detection-to-terminal latency.
	// Labels: fault_type, outcome (RESOLVED, FAILED, MANUAL_REQUIRED)
	HealingDurationSeconds *prometheus.HistogramVec

	// ActiveFaults tracks the number of non-terminal faults.
	ActiveFaults prometheus.Gauge

	// EventSubscribers tracks live websocket stream subscribers.
	EventSubscribers prometheus.Gauge
}

// DefaultMetrics is the singleton instance, set by InitMetrics().
var DefaultMetrics *Metrics

var initOnce sync.Once

// InitMetrics initializes and registers the default metrics instance.
// Safe to call more than once; registration happens exactly once.
func InitMetrics() *Metrics {
	initOnce.Do(func() {
		DefaultMetrics = &Metrics{
			FaultsDetectedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "faults_detected_total",
				Help:      "Faults admitted to the healing pipeline.",
			}, []string{"fault_type", "severity"}),

			FaultsSuppressedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "faults_suppressed_total",
				Help:      "Candidate faults rejected by duplicate or cool-down suppression.",
			}, []string{"fault_type"}),

			DiagnosesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "diagnoses_total",
				Help:      "Diagnoses by origin.",
			}, []string{"source"}),

			HealingActionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "healing_actions_total",
				Help:      "Healing attempts by action and result.",
			}, []string{"action_type", "status"}),

			HealingDurationSeconds: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "healing_duration_seconds",
				Help:      "Detection-to-terminal latency per fault.",
				Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
			}, []string{"fault_type", "outcome"}),

			ActiveFaults: promauto.NewGauge(prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "active_faults",
				Help:      "Number of non-terminal faults.",
			}),

			EventSubscribers: promauto.NewGauge(prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "event_subscribers",
				Help:      "Live event stream subscribers.",
			}),
		}
	})
	return DefaultMetrics
}
