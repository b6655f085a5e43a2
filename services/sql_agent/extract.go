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
	"regexp"
	"strings"
)

const (
	// NoQueryPossible is the sentinel the model emits when no query can
	// satisfy both the question and the regional restriction.
	NoQueryPossible = "NO_QUERY_POSSIBLE"

	// ExtractionFailedNoRawText is reported when the model produced no
	// text to extract from.
	ExtractionFailedNoRawText = "SQL_EXTRACTION_FAILED_NO_RAW_TEXT"

	sqlQueryMarker = "SQLQuery:"
	answerMarker   = "Answer:"
)

var (
	endDelimiters   = []string{"\nSQLResult:", "\nAnswer:", "SQLResult:", "Answer:"}
	statementStarts = []string{"SELECT", "WITH", "INSERT", "UPDATE", "DELETE", "CREATE", "ALTER", "DROP"}
	readStarts      = []string{"SELECT", "WITH"}
	sqlFence        = regexp.MustCompile("(?is)```sql\\s*(.*?)\\s*```")
	fenceMarker     = regexp.MustCompile("(?i)```(?:sql)?")
)

// ExtractSQL isolates the SQL statement from raw model output.
//
// # Description
//
// Uses the last "SQLQuery:" marker (skipping an immediately repeated
// marker). The candidate runs up to the earliest result or answer
// marker and has code fences removed. Outcomes:
//
//   - NoQueryPossible when the candidate equals the sentinel in any case.
//   - The candidate when it starts with a recognised SQL keyword.
//   - Otherwise the trimmed candidate as a best-effort fallback. It may
//     be narration, so callers must validate it with IsReadQuery.
//
// With no marker at all, the first ```sql fenced block is used if it
// holds a SELECT/WITH statement or the sentinel.
//
// # Outputs
//
//   - string: Extracted text.
//   - bool: False when nothing could be extracted.
func ExtractSQL(output string) (string, bool) {
	if output == "" {
		return "", false
	}

	idx := strings.LastIndex(output, sqlQueryMarker)
	if idx == -1 {
		return extractFenced(output)
	}

	current := strings.TrimLeft(output[idx+len(sqlQueryMarker):], " \t\r\n")
	if hasPrefixFold(current, sqlQueryMarker) {
		current = strings.TrimLeft(current[len(sqlQueryMarker):], " \t\r\n")
	}

	end := len(current)
	for _, delim := range endDelimiters {
		if pos := strings.Index(current, delim); pos != -1 && pos < end {
			end = pos
		}
	}
	candidate := stripFences(strings.TrimSpace(current[:end]))

	if strings.EqualFold(candidate, NoQueryPossible) {
		return NoQueryPossible, true
	}
	if candidate == "" {
		return "", false
	}
	return candidate, true
}

func extractFenced(output string) (string, bool) {
	m := sqlFence.FindStringSubmatch(output)
	if m == nil {
		return "", false
	}
	candidate := strings.TrimSpace(m[1])
	if strings.EqualFold(candidate, NoQueryPossible) {
		return NoQueryPossible, true
	}
	if startsWithAny(candidate, readStarts) {
		return candidate, true
	}
	return "", false
}

// IsStatement reports whether text starts with a recognised SQL keyword.
func IsStatement(text string) bool {
	return startsWithAny(text, statementStarts)
}

// IsReadQuery reports whether text is a SELECT or WITH statement, the
// only statements the agent will execute.
func IsReadQuery(text string) bool {
	return startsWithAny(text, readStarts)
}

// answerSection returns the text after the last "Answer:" marker.
func answerSection(output string) string {
	idx := strings.LastIndex(output, answerMarker)
	if idx == -1 {
		return ""
	}
	return strings.TrimSpace(output[idx+len(answerMarker):])
}

func stripFences(s string) string {
	return strings.TrimSpace(fenceMarker.ReplaceAllString(s, ""))
}

func startsWithAny(text string, prefixes []string) bool {
	upper := strings.ToUpper(strings.TrimSpace(text))
	for _, p := range prefixes {
		if strings.HasPrefix(upper, p) {
			return true
		}
	}
	return false
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}
