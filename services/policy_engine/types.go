// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package policy_engine

import (
	"fmt"
	"strings"
)

// RegionGlobal marks a profile that is not tied to a single region.
const RegionGlobal = "GLOBAL"

// UserProfile is the immutable access profile of one user.
type UserProfile struct {
	UserID      string   `yaml:"user_id" toml:"user_id" json:"user_id"`
	Name        string   `yaml:"name" toml:"name" json:"name"`
	Role        string   `yaml:"role" toml:"role" json:"role"`
	Region      string   `yaml:"region" toml:"region" json:"region"`
	Permissions []string `yaml:"permissions" toml:"permissions" json:"permissions"`
}

// Has reports whether the profile lists permission exactly.
func (p UserProfile) Has(permission string) bool {
	for _, held := range p.Permissions {
		if held == permission {
			return true
		}
	}
	return false
}

// clone returns a copy whose permission slice is not shared.
func (p UserProfile) clone() UserProfile {
	p.Permissions = append([]string(nil), p.Permissions...)
	return p
}

// ProfileFile is the on-disk layout of the profile table.
type ProfileFile struct {
	DefaultUserID string        `yaml:"default_user_id" toml:"default_user_id"`
	Profiles      []UserProfile `yaml:"profiles" toml:"profiles"`
}

// SensitivityCategory maps a keyword list to the permission it requires.
type SensitivityCategory struct {
	Name               string   `yaml:"name"`
	Description        string   `yaml:"description"`
	RequiredPermission string   `yaml:"required_permission"`
	Keywords           []string `yaml:"keywords"`
}

// Matches reports whether any keyword occurs in the lowercase text.
func (c SensitivityCategory) Matches(lowerText string) bool {
	for _, kw := range c.Keywords {
		if strings.Contains(lowerText, kw) {
			return true
		}
	}
	return false
}

// Policy is the keyword sensitivity policy enforced by the Gate.
type Policy struct {
	AdminOverride               string                `yaml:"admin_override"`
	BaselineDatabasePermissions []string              `yaml:"baseline_database_permissions"`
	Categories                  []SensitivityCategory `yaml:"categories"`
}

// normalize lowercases keywords and checks the table is usable.
func (p *Policy) normalize() error {
	if p.AdminOverride == "" {
		return fmt.Errorf("policy is missing admin_override")
	}
	if len(p.BaselineDatabasePermissions) == 0 {
		return fmt.Errorf("policy is missing baseline_database_permissions")
	}
	for i := range p.Categories {
		c := &p.Categories[i]
		if c.Name == "" || c.RequiredPermission == "" {
			return fmt.Errorf("category %d needs a name and required_permission", i)
		}
		if len(c.Keywords) == 0 {
			return fmt.Errorf("category %q has no keywords", c.Name)
		}
		for j, kw := range c.Keywords {
			c.Keywords[j] = strings.ToLower(strings.TrimSpace(kw))
		}
	}
	return nil
}

// Satisfies reports whether profile passes a check for permission,
// either directly or through the admin override token.
func (p *Policy) Satisfies(profile UserProfile, permission string) bool {
	return profile.Has(permission) || profile.Has(p.AdminOverride)
}

// HasBaselineDatabaseAccess reports whether profile holds any of the
// baseline database-viewing permissions.
func (p *Policy) HasBaselineDatabaseAccess(profile UserProfile) bool {
	for _, perm := range p.BaselineDatabasePermissions {
		if p.Satisfies(profile, perm) {
			return true
		}
	}
	return false
}
