// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sql_agent

import (
	"fmt"

	"github.com/rajarshiroydev/AgriFlow-AI/services/policy_engine"
)

// PermissionViewAllRegions lifts the regional filter.
const PermissionViewAllRegions = "view_all_regions"

const (
	contextAllRegions    = "User can view data for all regions."
	contextNoRestriction = "No specific regional restrictions apply unless specified in the query."
	contextRestrictedFmt = "User is restricted to data for the '%s' region ONLY."
)

// RegionalContext describes which regions profile may query.
func RegionalContext(profile policy_engine.UserProfile) string {
	switch {
	case profile.Has(PermissionViewAllRegions):
		return contextAllRegions
	case profile.Region != "" && profile.Region != policy_engine.RegionGlobal:
		return fmt.Sprintf(contextRestrictedFmt, profile.Region)
	default:
		return contextNoRestriction
	}
}

// CombineInput wraps the regional context and question in the delimiters
// the generation prompt tells the model to parse.
func CombineInput(regionalContext, question string) string {
	return fmt.Sprintf("USER_CONTEXT_START <<%s>> USER_CONTEXT_END ACTUAL_QUESTION_START <<%s>> ACTUAL_QUESTION_END",
		regionalContext, question)
}
