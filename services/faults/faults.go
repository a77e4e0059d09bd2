// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package faults defines the core data model shared by every sentinel
// component: monitored entities, faults and their status machine,
// diagnoses, healing actions, and immutable history records.
//
// # Ownership
//
// Types here are plain records. Status transitions are owned exclusively
// by the sentinel pipeline; components receive copies or operate through
// the ActiveSet, which is the single writer for in-flight faults.
//
// # Status Machine
//
//	DETECTED → DIAGNOSING → HEALING → VERIFYING → RESOLVED
//	                          ↑  ↓ (retry)
//	                        VERIFYING → HEALING
//	                          ↓
//	                        FAILED → MANUAL_REQUIRED
//
// RESOLVED, FAILED, and MANUAL_REQUIRED are terminal. A fault stuck in
// MANUAL_REQUIRED may re-enter DIAGNOSING through the manual heal
// endpoint, which is the only transition out of a terminal state.
package faults

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Entities
// =============================================================================

// EntityKind classifies what a monitored entity is.
type EntityKind string

const (
	KindContainer       EntityKind = "container"
	KindProcess         EntityKind = "process"
	KindResource        EntityKind = "resource"
	KindNetworkEndpoint EntityKind = "network_endpoint"
)

// HealthCheck describes how an entity is probed.
//
// Exactly one probe family applies per entity. Which fields are read
// depends on Method:
//
//   - "http":    Target is a URL; 2xx within Timeout is healthy.
//   - "tcp":     Target is host:port; a successful dial is healthy.
//   - "command": Target is a shell command; exit code 0 is healthy.
//   - "resource": Target names a metric (cpu_percent, memory_percent,
//     disk_percent); observed value must stay under Threshold.
type HealthCheck struct {
	Method    string        `json:"method"`
	Target    string        `json:"target"`
	Threshold float64       `json:"threshold,omitempty"`
	Timeout   time.Duration `json:"timeout,omitempty"`
}

// EntityState is the last observed state of an entity.
type EntityState string

const (
	StateHealthy   EntityState = "healthy"
	StateUnhealthy EntityState = "unhealthy"
	StateUnknown   EntityState = "unknown"
)

// Entity is a monitored target.
//
// Entities are created at configuration time and never deleted during a
// run; removal from configuration marks them inactive so their fault
// history stays attributable.
type Entity struct {
	ID          string      `json:"id"`
	Kind        EntityKind  `json:"kind"`
	HealthCheck HealthCheck `json:"health_check"`
	LastState   EntityState `json:"last_state"`
	LastChecked time.Time   `json:"last_checked"`
	Active      bool        `json:"active"`
}

// =============================================================================
// Faults
// =============================================================================

// Type classifies the kind of deviation a fault represents.
type Type string

const (
	TypeCrash              Type = "crash"
	TypeCPUExhaustion      Type = "cpu_exhaustion"
	TypeMemoryExhaustion   Type = "memory_exhaustion"
	TypeDiskFull           Type = "disk_full"
	TypeNetworkUnreachable Type = "network_unreachable"
	TypeUnknown            Type = "unknown"
)

// Severity ranks how urgent a fault is.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// SeverityFor returns the default severity for a fault type.
func SeverityFor(t Type) Severity {
	switch t {
	case TypeCrash:
		return SeverityCritical
	case TypeMemoryExhaustion, TypeDiskFull:
		return SeverityHigh
	case TypeCPUExhaustion, TypeNetworkUnreachable:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// Status is the lifecycle state of a fault.
type Status string

const (
	StatusDetected       Status = "DETECTED"
	StatusDiagnosing     Status = "DIAGNOSING"
	StatusHealing        Status = "HEALING"
	StatusVerifying      Status = "VERIFYING"
	StatusResolved       Status = "RESOLVED"
	StatusFailed         Status = "FAILED"
	StatusManualRequired Status = "MANUAL_REQUIRED"
)

// Terminal reports whether the status ends automated processing.
func (s Status) Terminal() bool {
	switch s {
	case StatusResolved, StatusFailed, StatusManualRequired:
		return true
	}
	return false
}

// CanTransitionTo reports whether moving from s to next is a legal step
// of the fault status machine.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusDetected:
		return next == StatusDiagnosing
	case StatusDiagnosing:
		return next == StatusHealing || next == StatusFailed
	case StatusHealing:
		return next == StatusVerifying || next == StatusFailed
	case StatusVerifying:
		return next == StatusResolved || next == StatusHealing || next == StatusFailed
	case StatusFailed:
		return next == StatusManualRequired
	case StatusManualRequired:
		// Manual re-heal re-enters the loop with a fresh diagnosis.
		return next == StatusDiagnosing
	}
	return false
}

// SignalBundle is the raw evidence snapshot captured when a fault is
// detected. It travels with the fault so the analyzer and the manual
// report see exactly what the detector saw.
type SignalBundle struct {
	Observation     EntityState        `json:"observation"`
	ContainerStatus string             `json:"container_status,omitempty"`
	RecentEvents    []string           `json:"recent_events,omitempty"`
	Metrics         map[string]float64 `json:"metrics,omitempty"`
	ProbeError      string             `json:"probe_error,omitempty"`
}

// Candidate is a fault hypothesis emitted by the detector before
// suppression and diagnosis. It carries no ID; a Fault is only minted
// once the candidate is admitted to the ActiveSet.
type Candidate struct {
	EntityID   string       `json:"entity_id"`
	Type       Type         `json:"fault_type"`
	Severity   Severity     `json:"severity"`
	Signals    SignalBundle `json:"signals"`
	DetectedAt time.Time    `json:"detected_at"`
}

// Fault is a detected deviation of an entity from its healthy state,
// together with everything the pipeline learned while handling it.
type Fault struct {
	ID         string          `json:"id"`
	EntityID   string          `json:"entity_id"`
	Type       Type            `json:"fault_type"`
	Severity   Severity        `json:"severity"`
	Status     Status          `json:"status"`
	Signals    SignalBundle    `json:"signals"`
	DetectedAt time.Time       `json:"detected_at"`
	ResolvedAt time.Time       `json:"resolved_at"`
	Diagnosis  *Diagnosis      `json:"diagnosis,omitempty"`
	Actions    []HealingAction `json:"actions,omitempty"`
	// ManualReport is the generated manual-instructions document,
	// present only for faults that reached MANUAL_REQUIRED.
	ManualReport string `json:"manual_report,omitempty"`
}

// NewFault mints a Fault from an admitted candidate.
func NewFault(c Candidate) *Fault {
	return &Fault{
		ID:         uuid.New().String(),
		EntityID:   c.EntityID,
		Type:       c.Type,
		Severity:   c.Severity,
		Status:     StatusDetected,
		Signals:    c.Signals,
		DetectedAt: c.DetectedAt,
	}
}

// Clone returns a deep copy safe to hand to readers while the pipeline
// keeps mutating the original.
func (f *Fault) Clone() *Fault {
	cp := *f
	if f.Diagnosis != nil {
		d := *f.Diagnosis
		cp.Diagnosis = &d
	}
	cp.Actions = make([]HealingAction, len(f.Actions))
	copy(cp.Actions, f.Actions)
	cp.Signals.RecentEvents = append([]string(nil), f.Signals.RecentEvents...)
	if f.Signals.Metrics != nil {
		cp.Signals.Metrics = make(map[string]float64, len(f.Signals.Metrics))
		for k, v := range f.Signals.Metrics {
			cp.Signals.Metrics[k] = v
		}
	}
	return &cp
}

// =============================================================================
// Diagnoses and Healing Actions
// =============================================================================

// Diagnosis is the classified root cause assigned to a fault. One
// diagnosis per fault; re-diagnosis after a failed heal replaces it.
type Diagnosis struct {
	FaultID    string  `json:"fault_id"`
	RootCause  Type    `json:"root_cause"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale"`
	// Source is "rules" or "provider"; rule-based diagnoses emitted
	// because the provider was unavailable also carry Degraded.
	Source      string    `json:"source,omitempty"`
	Degraded    bool      `json:"degraded"`
	DiagnosedAt time.Time `json:"diagnosed_at"`
}

// ActionStatus is the lifecycle state of a single healing attempt.
type ActionStatus string

const (
	ActionPending   ActionStatus = "PENDING"
	ActionRunning   ActionStatus = "RUNNING"
	ActionSucceeded ActionStatus = "SUCCEEDED"
	ActionFailed    ActionStatus = "FAILED"
)

// HealingAction is one remediation attempt tied to a specific fault.
//
// Invariant: for a given FaultID at most one action is RUNNING at any
// time. The healing engine's per-fault lock enforces this.
type HealingAction struct {
	ID            string       `json:"id"`
	FaultID       string       `json:"fault_id"`
	ActionType    string       `json:"action_type"`
	AttemptNumber int          `json:"attempt_number"`
	Status        ActionStatus `json:"status"`
	StartedAt     time.Time    `json:"started_at"`
	CompletedAt   time.Time    `json:"completed_at"`
	ResultDetail  string       `json:"result_detail,omitempty"`
}

// =============================================================================
// History
// =============================================================================

// HistoryRecord is the immutable projection of a fault that reached a
// terminal state, used for statistics and history queries. Never mutated
// after being written.
type HistoryRecord struct {
	FaultID      string          `json:"fault_id"`
	EntityID     string          `json:"entity_id"`
	Type         Type            `json:"fault_type"`
	Severity     Severity        `json:"severity"`
	FinalStatus  Status          `json:"final_status"`
	DetectedAt   time.Time       `json:"detected_at"`
	ResolvedAt   time.Time       `json:"resolved_at"`
	Diagnosis    *Diagnosis      `json:"diagnosis,omitempty"`
	Actions      []HealingAction `json:"actions,omitempty"`
	ManualReport string          `json:"manual_report,omitempty"`
}

// ProjectHistory builds the history record for a terminal fault.
func ProjectHistory(f *Fault) HistoryRecord {
	cp := f.Clone()
	return HistoryRecord{
		FaultID:      cp.ID,
		EntityID:     cp.EntityID,
		Type:         cp.Type,
		Severity:     cp.Severity,
		FinalStatus:  cp.Status,
		DetectedAt:   cp.DetectedAt,
		ResolvedAt:   cp.ResolvedAt,
		Diagnosis:    cp.Diagnosis,
		Actions:      cp.Actions,
		ManualReport: cp.ManualReport,
	}
}

// TimeToHeal returns the detection-to-resolution duration, or zero if
// the fault did not resolve.
func (r HistoryRecord) TimeToHeal() time.Duration {
	if r.FinalStatus != StatusResolved || r.ResolvedAt.IsZero() {
		return 0
	}
	return r.ResolvedAt.Sub(r.DetectedAt)
}
