// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/AleutianSentinel/services/faults"
	"github.com/AleutianAI/AleutianSentinel/services/history"
	"github.com/AleutianAI/AleutianSentinel/services/registry"
	"github.com/AleutianAI/AleutianSentinel/services/sentinel/events"
	"github.com/AleutianAI/AleutianSentinel/services/sentinel/handlers"
	"github.com/AleutianAI/AleutianSentinel/services/sentinel/observability"
)

func SetupRoutes(router *gin.Engine, active *faults.ActiveSet, reg *registry.Registry,
	store *history.Store, bus *events.Bus, metrics *observability.Metrics, pipeline handlers.Pipeline) {

	router.GET("/health", handlers.HealthCheck(active, reg))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API version 1 group
	v1 := router.Group("/v1")
	{
		v1.GET("/faults", handlers.ListFaults(active))
		v1.GET("/faults/:id", handlers.GetFault(active))
		v1.POST("/faults/inject", handlers.InjectFault(reg, pipeline))
		v1.POST("/faults/:id/heal", handlers.TriggerHeal(pipeline))

		healing := v1.Group("/healing")
		{
			healing.GET("/history", handlers.GetHistory(store))
			healing.GET("/stats", handlers.GetStats(store))
		}

		v1.GET("/events/ws", handlers.HandleEventsWebSocket(bus, metrics))
	}
}
