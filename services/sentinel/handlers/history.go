// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianSentinel/services/faults"
	"github.com/AleutianAI/AleutianSentinel/services/history"
	"github.com/AleutianAI/AleutianSentinel/services/sentinel/datatypes"
)

// GetHistory returns terminal fault records, newest first. Supports
// ?limit=, ?entity_id=, ?fault_type=, and ?status= filters.
func GetHistory(store *history.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, ok := parseLimit(c, 50)
		if !ok {
			return
		}
		records, err := store.Query(c.Request.Context(), history.Filter{
			EntityID:    c.Query("entity_id"),
			Type:        faults.Type(c.Query("fault_type")),
			FinalStatus: faults.Status(c.Query("status")),
			Limit:       limit,
		})
		if err != nil {
			slog.Error("history query failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query history"})
			return
		}
		c.JSON(http.StatusOK, datatypes.HistoryResponse{Records: records, Count: len(records)})
	}
}

// GetStats returns aggregate healing statistics.
func GetStats(store *history.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats, err := store.Stats(c.Request.Context())
		if err != nil {
			slog.Error("stats computation failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to compute stats"})
			return
		}
		c.JSON(http.StatusOK, stats)
	}
}
