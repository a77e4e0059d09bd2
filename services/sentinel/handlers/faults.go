// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the sentinel REST endpoints.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianSentinel/services/faults"
	"github.com/AleutianAI/AleutianSentinel/services/registry"
	"github.com/AleutianAI/AleutianSentinel/services/sentinel/datatypes"
)

// Pipeline is the orchestration surface the handlers need. Implemented
// by *sentinel.Pipeline.
type Pipeline interface {
	Inject(ctx context.Context, c faults.Candidate) (*faults.Fault, error)
	TriggerManualHeal(ctx context.Context, faultID string) (*faults.Fault, error)
}

// parseLimit reads the optional ?limit= query parameter.
func parseLimit(c *gin.Context, def int) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return def, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
		return 0, false
	}
	return limit, true
}

// ListFaults returns tracked faults, newest first.
func ListFaults(active *faults.ActiveSet) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, ok := parseLimit(c, 0)
		if !ok {
			return
		}
		list := active.List(limit)
		c.JSON(http.StatusOK, datatypes.FaultListResponse{Faults: list, Count: len(list)})
	}
}

// GetFault returns one fault by ID.
func GetFault(active *faults.ActiveSet) gin.HandlerFunc {
	return func(c *gin.Context) {
		f, err := active.Get(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "fault not found"})
			return
		}
		c.JSON(http.StatusOK, f)
	}
}

// InjectFault creates a synthetic fault for drills. The fault runs the
// same pipeline as a detected one, suppression included.
func InjectFault(reg *registry.Registry, pipeline Pipeline) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.InjectFaultRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := req.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if _, ok := reg.Get(req.EntityID); !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown entity " + req.EntityID})
			return
		}

		f, err := pipeline.Inject(c.Request.Context(), faults.Candidate{
			EntityID: req.EntityID,
			Type:     req.FaultType,
			Severity: req.Severity,
			Signals: faults.SignalBundle{
				Observation:  faults.StateUnhealthy,
				RecentEvents: req.RecentEvents,
				Metrics:      req.Metrics,
			},
		})
		if err != nil {
			if errors.Is(err, faults.ErrDuplicateFault) {
				c.JSON(http.StatusConflict, gin.H{"error": "fault suppressed: an equivalent fault is in flight or cooling down"})
				return
			}
			slog.Error("fault injection failed", "entity_id", req.EntityID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to inject fault"})
			return
		}
		c.JSON(http.StatusAccepted, f)
	}
}

// TriggerHeal re-runs healing for a MANUAL_REQUIRED fault.
func TriggerHeal(pipeline Pipeline) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		f, err := pipeline.TriggerManualHeal(c.Request.Context(), id)
		switch {
		case err == nil:
		case errors.Is(err, faults.ErrFaultNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "fault not found"})
			return
		case errors.Is(err, faults.ErrIllegalTransition),
			errors.Is(err, faults.ErrConcurrentHealingRejected):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		default:
			slog.Error("manual heal failed", "fault_id", id, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to trigger healing"})
			return
		}
		c.JSON(http.StatusAccepted, datatypes.HealAccepted{
			FaultID: f.ID,
			Status:  f.Status,
			Message: "healing restarted; follow progress on /v1/events/ws",
		})
	}
}
