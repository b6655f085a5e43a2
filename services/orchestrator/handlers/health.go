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
	"sort"

	"github.com/gin-gonic/gin"
)

// HealthCheck reports process liveness.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ReadinessProbe reports whether one capability can serve requests.
type ReadinessProbe func() bool

// HandleReadiness reports per-capability readiness.
//
// A capability that is not ready degrades answers rather than failing
// requests, so the endpoint returns 200 with "degraded" instead of 503.
func HandleReadiness(probes map[string]ReadinessProbe) gin.HandlerFunc {
	names := make([]string, 0, len(probes))
	for name := range probes {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(c *gin.Context) {
		capabilities := make(map[string]bool, len(names))
		status := "ready"
		for _, name := range names {
			ok := probes[name]()
			capabilities[name] = ok
			if !ok {
				status = "degraded"
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": status, "capabilities": capabilities})
	}
}
