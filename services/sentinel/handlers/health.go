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
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianSentinel/services/faults"
	"github.com/AleutianAI/AleutianSentinel/services/registry"
	"github.com/AleutianAI/AleutianSentinel/services/sentinel/datatypes"
)

// HealthCheck reports liveness of the sentinel itself.
func HealthCheck(active *faults.ActiveSet, reg *registry.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, datatypes.HealthResponse{
			Status:       "ok",
			ActiveFaults: active.ActiveCount(),
			Entities:     len(reg.List(true)),
		})
	}
}
