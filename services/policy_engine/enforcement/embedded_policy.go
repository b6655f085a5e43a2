// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

/*
Package enforcement bakes the access-control tables into the binary.
The profile and sensitivity tables travel with the executable so the
gate behaves identically wherever it runs. Operators can still replace
the profile table at start with an external file.
*/
package enforcement

import (
	_ "embed"
)

// AccessProfiles holds the raw content of 'access_profiles.yaml'.
//
// Usage:
//
//	err := yaml.Unmarshal(enforcement.AccessProfiles, &profileFile)
//
//go:embed access_profiles.yaml
var AccessProfiles []byte

// SensitivityCategories holds the raw content of 'sensitivity_categories.yaml':
// the keyword table, the admin override token and the baseline database
// permissions.
//
//go:embed sensitivity_categories.yaml
var SensitivityCategories []byte
