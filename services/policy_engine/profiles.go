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
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/rajarshiroydev/AgriFlow-AI/services/policy_engine/enforcement"
	"gopkg.in/yaml.v3"
)

// ProfileStore is the read-only user profile table.
//
// The table is fixed at construction. Lookups never fail: unknown,
// empty or whitespace-only identifiers resolve to the default profile.
// Safe for concurrent use because nothing mutates it after New.
type ProfileStore struct {
	profiles      map[string]UserProfile
	defaultUserID string
}

// NewProfileStore loads the profile table embedded in the binary.
func NewProfileStore() (*ProfileStore, error) {
	return ParseProfiles(enforcement.AccessProfiles, "yaml")
}

// LoadProfileStore reads a profile table from a .yaml, .yml or .toml file.
func LoadProfileStore(path string) (*ProfileStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile file: %w", err)
	}
	format := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	return ParseProfiles(data, format)
}

// ParseProfiles builds a ProfileStore from raw bytes.
//
// # Inputs
//
//   - data: Table contents.
//   - format: "yaml", "yml" or "toml".
//
// # Outputs
//
//   - *ProfileStore: Populated store.
//   - error: Decode failure, duplicate user ids, or a default user id
//     that is not present in the table.
func ParseProfiles(data []byte, format string) (*ProfileStore, error) {
	var file ProfileFile
	switch format {
	case "yaml", "yml":
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("failed to unmarshal profile table: %w", err)
		}
	case "toml":
		if err := toml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("failed to unmarshal profile table: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported profile table format %q", format)
	}

	store := &ProfileStore{
		profiles:      make(map[string]UserProfile, len(file.Profiles)),
		defaultUserID: file.DefaultUserID,
	}
	for _, p := range file.Profiles {
		if p.UserID == "" {
			return nil, fmt.Errorf("profile %q has no user_id", p.Name)
		}
		if _, dup := store.profiles[p.UserID]; dup {
			return nil, fmt.Errorf("duplicate profile for user_id %q", p.UserID)
		}
		if p.Region == "" {
			p.Region = RegionGlobal
		}
		store.profiles[p.UserID] = p.clone()
	}
	if _, ok := store.profiles[store.defaultUserID]; !ok {
		return nil, fmt.Errorf("default user_id %q has no profile", store.defaultUserID)
	}
	return store, nil
}

// DefaultUserID returns the identifier used for anonymous callers.
func (s *ProfileStore) DefaultUserID() string {
	return s.defaultUserID
}

// ResolveUserID maps a caller-supplied identifier onto a known one.
func (s *ProfileStore) ResolveUserID(userID string) string {
	id := strings.TrimSpace(userID)
	if _, ok := s.profiles[id]; ok {
		return id
	}
	return s.defaultUserID
}

// GetProfile returns the profile for userID, or the default profile.
func (s *ProfileStore) GetProfile(userID string) UserProfile {
	return s.profiles[s.ResolveUserID(userID)].clone()
}

// Profiles returns every profile ordered by user id.
func (s *ProfileStore) Profiles() []UserProfile {
	out := make([]UserProfile, 0, len(s.profiles))
	for _, p := range s.profiles {
		out = append(out, p.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}
