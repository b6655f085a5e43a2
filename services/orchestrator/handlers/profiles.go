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

	"github.com/rajarshiroydev/AgriFlow-AI/services/orchestrator/datatypes"
	"github.com/rajarshiroydev/AgriFlow-AI/services/policy_engine"
)

// ProfileLookup resolves access profiles. Satisfied by *policy_engine.ProfileStore.
type ProfileLookup interface {
	GetProfile(userID string) policy_engine.UserProfile
	Profiles() []policy_engine.UserProfile
}

var _ ProfileLookup = (*policy_engine.ProfileStore)(nil)

// GetProfile serves GET /api/v1/profiles/:user_id.
//
// Unknown ids resolve to the default profile, the same one a chat
// request with that id would run under.
func GetProfile(store ProfileLookup) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, toProfileResponse(store.GetProfile(c.Param("user_id"))))
	}
}

// ListProfiles serves GET /api/v1/profiles.
func ListProfiles(store ProfileLookup) gin.HandlerFunc {
	return func(c *gin.Context) {
		profiles := store.Profiles()
		out := make([]datatypes.ProfileResponse, 0, len(profiles))
		for _, p := range profiles {
			out = append(out, toProfileResponse(p))
		}
		c.JSON(http.StatusOK, gin.H{"profiles": out})
	}
}

func toProfileResponse(p policy_engine.UserProfile) datatypes.ProfileResponse {
	perms := p.Permissions
	if perms == nil {
		perms = []string{}
	}
	return datatypes.ProfileResponse{
		UserID:      p.UserID,
		Name:        p.Name,
		Role:        p.Role,
		Region:      p.Region,
		Permissions: perms,
	}
}
