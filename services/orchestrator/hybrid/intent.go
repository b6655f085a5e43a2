// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package hybrid

import (
	"fmt"
	"strings"

	"github.com/rajarshiroydev/AgriFlow-AI/pkg/structured"
	"github.com/rajarshiroydev/AgriFlow-AI/services/orchestrator/datatypes"
)

// QueryType is the routing label produced by decomposition.
type QueryType string

const (
	QueryDocumentOnly QueryType = "DOCUMENT_ONLY"
	QueryDatabaseOnly QueryType = "DATABASE_ONLY"
	QueryHybrid       QueryType = "HYBRID"
	QueryUnknown      QueryType = "UNKNOWN"

	// QueryDecompositionFailed is reported when no intent could be decoded.
	QueryDecompositionFailed QueryType = "DECOMPOSITION_FAILED"
)

// DecomposedIntent is the classification of one query.
//
// Empty sub-questions are normalized to nil after decoding.
type DecomposedIntent struct {
	QueryType        QueryType `json:"query_type"`
	DocumentQuestion *string   `json:"document_question"`
	DatabaseQuestion *string   `json:"database_question"`
	OriginalQuery    *string   `json:"original_query"`
}

const intentSchemaDoc = `{
  "type": "object",
  "required": ["query_type", "document_question", "database_question", "original_query"],
  "properties": {
    "query_type": {"type": ["string", "null"]},
    "document_question": {"type": ["string", "null"]},
    "database_question": {"type": ["string", "null"]},
    "original_query": {"type": ["string", "null"]}
  }
}`

var intentSchema = structured.MustCompileSchema([]byte(intentSchemaDoc))

// ParseIntent decodes a model reply into a DecomposedIntent.
func ParseIntent(reply string) (DecomposedIntent, error) {
	var intent DecomposedIntent
	if err := structured.DecodeObject(reply, intentSchema, &intent); err != nil {
		return DecomposedIntent{}, err
	}
	intent.DocumentQuestion = nonBlank(intent.DocumentQuestion)
	intent.DatabaseQuestion = nonBlank(intent.DatabaseQuestion)
	intent.OriginalQuery = nonBlank(intent.OriginalQuery)
	return intent, nil
}

func nonBlank(s *string) *string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	return s
}

// =============================================================================
// History
// =============================================================================

const (
	// DecompositionHistoryTurns is the history window for decomposition.
	DecompositionHistoryTurns = 3
	// SynthesisHistoryTurns is the history window for synthesis.
	SynthesisHistoryTurns = 2

	noHistory = "No conversation history provided."
)

// FormatHistory renders the last maxTurns user/assistant pairs, most
// recent last.
func FormatHistory(history []datatypes.ConversationTurn, maxTurns int) string {
	if len(history) == 0 || maxTurns <= 0 {
		return noHistory
	}
	window := history
	if n := maxTurns * 2; len(window) > n {
		window = window[len(window)-n:]
	}
	lines := make([]string, 0, len(window)+1)
	lines = append(lines, "Previous conversation turns (most recent last):")
	for _, turn := range window {
		lines = append(lines, fmt.Sprintf("%s: %s", capitalize(turn.Sender), turn.Text))
	}
	return strings.Join(lines, "\n")
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
}
