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
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rajarshiroydev/AgriFlow-AI/services/orchestrator/handlers"
	"github.com/rajarshiroydev/AgriFlow-AI/services/orchestrator/middleware"
)

// Dependencies are the collaborators the HTTP surface needs.
type Dependencies struct {
	Orchestrator handlers.Orchestrator
	Profiles     handlers.ProfileLookup

	// Probes feed GET /ready. May be empty.
	Probes map[string]handlers.ReadinessProbe

	// RateLimit throttles /api/v1. Zero value disables limiting.
	RateLimit middleware.RateLimitConfig

	// Metrics serves GET /metrics. Nil uses promhttp.Handler().
	Metrics http.Handler
}

// SetupRoutes registers every endpoint on router.
func SetupRoutes(router *gin.Engine, deps Dependencies) {
	metrics := deps.Metrics
	if metrics == nil {
		metrics = promhttp.Handler()
	}

	router.GET("/health", handlers.HealthCheck)
	router.GET("/ready", handlers.HandleReadiness(deps.Probes))
	router.GET("/metrics", gin.WrapH(metrics))

	// API version 1 group
	v1 := router.Group("/api/v1")
	v1.Use(middleware.RateLimit(deps.RateLimit))
	{
		v1.POST("/chat", handlers.HandleChat(deps.Orchestrator))

		profiles := v1.Group("/profiles")
		{
			profiles.GET("", handlers.ListProfiles(deps.Profiles))
			profiles.GET("/:user_id", handlers.GetProfile(deps.Profiles))
		}
	}
}
