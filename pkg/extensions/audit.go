// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package extensions

import (
	"context"
	"errors"
	"sync"
	"time"
)

// =============================================================================
// Audit Record
// =============================================================================

// AuditRecord is a single access-control decision.
//
// Records are append-only. Nothing in the request path reads them back.
//
// # Fields
//
//   - RequestID: Correlates all records produced by one orchestration.
//   - ResourceType: "sensitive:<category>", "general_database_query" or
//     "query_processed".
//   - QueryText: The user query truncated to 100 runes.
//   - Digest: sha256 over the canonical JSON form of every other field.
type AuditRecord struct {
	RequestID    string    `json:"request_id"`
	Timestamp    time.Time `json:"timestamp"`
	UserID       string    `json:"user_id"`
	UserName     string    `json:"user_name"`
	Role         string    `json:"role"`
	Region       string    `json:"region"`
	ResourceType string    `json:"resource_type"`
	QueryText    string    `json:"query_text"`
	Granted      bool      `json:"granted"`
	Digest       string    `json:"digest,omitempty"`
}

// Outcome returns "GRANTED" or "DENIED".
func (r AuditRecord) Outcome() string {
	if r.Granted {
		return "GRANTED"
	}
	return "DENIED"
}

// =============================================================================
// Sinks
// =============================================================================

// AuditSink persists audit records.
//
// Record must not block for long; callers invoke it inline on the
// request path. Flush is called on shutdown.
type AuditSink interface {
	Record(ctx context.Context, record AuditRecord) error
	Flush(ctx context.Context) error
}

// NopAuditSink discards all records.
type NopAuditSink struct{}

func (s *NopAuditSink) Record(ctx context.Context, record AuditRecord) error { return nil }
func (s *NopAuditSink) Flush(ctx context.Context) error                      { return nil }

var _ AuditSink = (*NopAuditSink)(nil)

// MultiSink fans a record out to several sinks.
//
// Every sink is attempted. Errors are joined so one failing backend
// does not hide records from the others.
type MultiSink struct {
	sinks []AuditSink
}

// NewMultiSink builds a MultiSink, skipping nil entries.
func NewMultiSink(sinks ...AuditSink) *MultiSink {
	kept := make([]AuditSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			kept = append(kept, s)
		}
	}
	return &MultiSink{sinks: kept}
}

func (m *MultiSink) Record(ctx context.Context, record AuditRecord) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Record(ctx, record); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *MultiSink) Flush(ctx context.Context) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Flush(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var _ AuditSink = (*MultiSink)(nil)

// MemoryAuditSink keeps records in memory. Used by tests and the
// `ask` command to print the decision trail.
type MemoryAuditSink struct {
	mu      sync.Mutex
	records []AuditRecord
}

func (s *MemoryAuditSink) Record(ctx context.Context, record AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, record)
	return nil
}

func (s *MemoryAuditSink) Flush(ctx context.Context) error { return nil }

// Records returns a copy of the stored records in arrival order.
func (s *MemoryAuditSink) Records() []AuditRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]AuditRecord, len(s.records))
	copy(out, s.records)
	return out
}

var _ AuditSink = (*MemoryAuditSink)(nil)
