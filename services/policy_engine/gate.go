// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package policy_engine decides whether a user may run a query.
//
// The decision is keyword driven and fails closed: a sensitive keyword
// the user is not cleared for denies the whole request, and database
// questions from users without any baseline data permission are denied.
// Every decision is written to an extensions.AuditSink.
package policy_engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rajarshiroydev/AgriFlow-AI/pkg/extensions"
	"github.com/rajarshiroydev/AgriFlow-AI/services/policy_engine/enforcement"
	"gopkg.in/yaml.v3"
)

const (
	// ResourceGeneralDatabase is audited when a database question is
	// denied for lack of any baseline permission.
	ResourceGeneralDatabase = "general_database_query"

	// ResourceQueryProcessed is the final grant record.
	ResourceQueryProcessed = "query_processed"

	sensitiveResourcePrefix = "sensitive:"
	auditQueryLimit         = 100
)

// AccessRequest is the input to Gate.CheckAccess.
type AccessRequest struct {
	RequestID        string
	UserID           string
	Query            string
	DatabaseQuestion *string
	DocumentQuestion *string
}

// Decision is the outcome of one access check.
type Decision struct {
	Granted bool

	// ResourceType of the record that ended evaluation.
	ResourceType string

	// Records written for this decision, in order.
	Records int
}

// Gate is the keyword access-control gate.
type Gate struct {
	profiles *ProfileStore
	policy   Policy
	sink     extensions.AuditSink
	logger   *slog.Logger
	now      func() time.Time
}

// LoadPolicy parses the embedded sensitivity policy.
func LoadPolicy() (Policy, error) {
	return ParsePolicy(enforcement.SensitivityCategories)
}

// ParsePolicy parses a YAML sensitivity policy.
func ParsePolicy(data []byte) (Policy, error) {
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Policy{}, fmt.Errorf("failed to unmarshal the sensitivity policy: %w", err)
	}
	if err := p.normalize(); err != nil {
		return Policy{}, fmt.Errorf("invalid sensitivity policy: %w", err)
	}
	return p, nil
}

// NewGate creates a Gate.
//
// # Inputs
//
//   - profiles: Profile table. Must not be nil.
//   - policy: Parsed sensitivity policy.
//   - sink: Audit destination. Nil discards records.
//   - logger: Nil uses slog.Default().
func NewGate(profiles *ProfileStore, policy Policy, sink extensions.AuditSink, logger *slog.Logger) *Gate {
	if sink == nil {
		sink = &extensions.NopAuditSink{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		profiles: profiles,
		policy:   policy,
		sink:     sink,
		logger:   logger,
		now:      time.Now,
	}
}

// Policy returns the policy enforced by the gate.
func (g *Gate) Policy() Policy {
	return g.policy
}

// CheckAccess decides whether req may proceed.
//
// # Description
//
// Builds one lowercase search text from the query and both optional
// sub-questions, then:
//
//  1. For each category whose keywords occur in the text, writes a
//     "sensitive:<name>" record. If the user lacks the category
//     permission (and the admin override), that record is a denial and
//     evaluation stops.
//  2. If a database question is present, no category matched, and the
//     user holds no baseline database permission, writes a denied
//     "general_database_query" record.
//  3. Otherwise writes a granted "query_processed" record.
//
// # Outputs
//
//   - Decision: Deterministic for a fixed request and profile table.
//
// # Limitations
//
//   - Substring matching both over- and under-triggers. "value" matches
//     "evaluate"; paraphrased sensitive requests pass.
//
// # Assumptions
//
//   - Audit sink failures are logged and do not change the decision.
func (g *Gate) CheckAccess(ctx context.Context, req AccessRequest) Decision {
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		userID = g.profiles.DefaultUserID()
	}
	profile := g.profiles.GetProfile(userID)

	combined := strings.ToLower(req.Query + " " + deref(req.DatabaseQuestion) + " " + deref(req.DocumentQuestion))

	records := 0
	sensitiveMatched := false
	for _, category := range g.policy.Categories {
		if !category.Matches(combined) {
			continue
		}
		sensitiveMatched = true
		resource := sensitiveResourcePrefix + category.Name
		granted := g.policy.Satisfies(profile, category.RequiredPermission)
		g.audit(ctx, req, userID, profile, resource, granted)
		records++
		if !granted {
			return Decision{Granted: false, ResourceType: resource, Records: records}
		}
	}

	if strings.TrimSpace(deref(req.DatabaseQuestion)) != "" && !sensitiveMatched &&
		!g.policy.HasBaselineDatabaseAccess(profile) {
		g.audit(ctx, req, userID, profile, ResourceGeneralDatabase, false)
		return Decision{Granted: false, ResourceType: ResourceGeneralDatabase, Records: records + 1}
	}

	g.audit(ctx, req, userID, profile, ResourceQueryProcessed, true)
	return Decision{Granted: true, ResourceType: ResourceQueryProcessed, Records: records + 1}
}

func (g *Gate) audit(ctx context.Context, req AccessRequest, userID string, profile UserProfile, resource string, granted bool) {
	record := extensions.AuditRecord{
		RequestID:    req.RequestID,
		Timestamp:    g.now().UTC(),
		UserID:       userID,
		UserName:     profile.Name,
		Role:         profile.Role,
		Region:       profile.Region,
		ResourceType: resource,
		QueryText:    truncateRunes(req.Query, auditQueryLimit),
		Granted:      granted,
	}
	digest, err := DigestRecord(record)
	if err != nil {
		g.logger.Warn("Failed to digest audit record", "error", err, "user_id", userID)
	}
	record.Digest = digest

	if err := g.sink.Record(ctx, record); err != nil {
		g.logger.Error("Failed to write audit record",
			"error", err,
			"user_id", userID,
			"resource_type", resource,
			"outcome", record.Outcome(),
		)
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
