// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes holds the REST request and response shapes.
package datatypes

import (
	"fmt"

	"github.com/AleutianAI/AleutianSentinel/services/faults"
)

// InjectFaultRequest creates a synthetic fault for drills and testing.
// Severity and signal fields are optional overrides; omitted fields get
// the same defaults the detector would assign.
type InjectFaultRequest struct {
	EntityID  string          `json:"entity_id" binding:"required"`
	FaultType faults.Type     `json:"fault_type" binding:"required"`
	Severity  faults.Severity `json:"severity,omitempty"`

	RecentEvents []string           `json:"recent_events,omitempty"`
	Metrics      map[string]float64 `json:"metrics,omitempty"`
}

// Validate checks the enum fields beyond gin's required bindings.
func (r *InjectFaultRequest) Validate() error {
	switch r.FaultType {
	case faults.TypeCrash, faults.TypeCPUExhaustion, faults.TypeMemoryExhaustion,
		faults.TypeDiskFull, faults.TypeNetworkUnreachable, faults.TypeUnknown:
	default:
		return fmt.Errorf("unknown fault_type %q", r.FaultType)
	}
	switch r.Severity {
	case "", faults.SeverityCritical, faults.SeverityHigh, faults.SeverityMedium, faults.SeverityLow:
	default:
		return fmt.Errorf("unknown severity %q", r.Severity)
	}
	return nil
}

// FaultListResponse wraps the fault listing.
type FaultListResponse struct {
	Faults []*faults.Fault `json:"faults"`
	Count  int             `json:"count"`
}

// HistoryResponse wraps a history query result.
type HistoryResponse struct {
	Records []faults.HistoryRecord `json:"records"`
	Count   int                    `json:"count"`
}

// HealAccepted acknowledges a manual heal trigger. Healing continues
// asynchronously; progress arrives on the event stream.
type HealAccepted struct {
	FaultID string        `json:"fault_id"`
	Status  faults.Status `json:"status"`
	Message string        `json:"message"`
}

// HealthResponse reports service liveness.
type HealthResponse struct {
	Status       string `json:"status"`
	ActiveFaults int    `json:"active_faults"`
	Entities     int    `json:"entities"`
}
