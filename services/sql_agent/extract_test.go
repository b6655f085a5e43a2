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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractSQL(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   string
		wantOK bool
	}{
		{
			name:   "result and answer markers",
			output: "User Context: x\nSQLQuery: SELECT a FROM t\nSQLResult: [(1,)]\nAnswer: one",
			want:   "SELECT a FROM t",
			wantOK: true,
		},
		{
			name:   "sentinel",
			output: "SQLQuery: NO_QUERY_POSSIBLE",
			want:   NoQueryPossible,
			wantOK: true,
		},
		{
			name:   "sentinel lowercase in fences",
			output: "SQLQuery: ```sql\nno_query_possible\n```\nAnswer: cannot",
			want:   NoQueryPossible,
			wantOK: true,
		},
		{
			name:   "last marker wins",
			output: "SQLQuery: SELECT old FROM t\nSQLResult: err\nSQLQuery: SELECT new FROM t\nSQLResult: ok",
			want:   "SELECT new FROM t",
			wantOK: true,
		},
		{
			name:   "doubled marker",
			output: "SQLQuery: SQLQuery: SELECT a FROM t",
			want:   "SELECT a FROM t",
			wantOK: true,
		},
		{
			name:   "doubled marker after prefixing model output",
			output: "SQLQuery:" + " sqlquery: SELECT 1",
			want:   "SELECT 1",
			wantOK: true,
		},
		{
			name:   "fenced after marker",
			output: "SQLQuery: ```sql\nSELECT \"Sales\" FROM supply_chain_transactions LIMIT 10\n```\nSQLResult:",
			want:   "SELECT \"Sales\" FROM supply_chain_transactions LIMIT 10",
			wantOK: true,
		},
		{
			name:   "mixed-case fence after marker",
			output: "SQLQuery: ```Sql\nSELECT a FROM t\n```\nSQLResult:",
			want:   "SELECT a FROM t",
			wantOK: true,
		},
		{
			name:   "answer delimiter without newline",
			output: "SQLQuery: SELECT 1 Answer: 1",
			want:   "SELECT 1",
			wantOK: true,
		},
		{
			name:   "with clause",
			output: "SQLQuery: WITH x AS (SELECT 1) SELECT * FROM x\nSQLResult:",
			want:   "WITH x AS (SELECT 1) SELECT * FROM x",
			wantOK: true,
		},
		{
			name:   "mutating statement still extracted",
			output: "SQLQuery: DELETE FROM t",
			want:   "DELETE FROM t",
			wantOK: true,
		},
		{
			name:   "narration fallback",
			output: "SQLQuery: I cannot write a query for that.\nAnswer: sorry",
			want:   "I cannot write a query for that.",
			wantOK: true,
		},
		{
			name:   "empty after marker",
			output: "SQLQuery:\nSQLResult: nothing",
			want:   "",
			wantOK: false,
		},
		{
			name:   "no marker fenced select",
			output: "Here you go:\n```sql\nSELECT 1\n```",
			want:   "SELECT 1",
			wantOK: true,
		},
		{
			name:   "no marker fenced sentinel",
			output: "```SQL\nNO_QUERY_POSSIBLE\n```",
			want:   NoQueryPossible,
			wantOK: true,
		},
		{
			name:   "no marker fenced non select ignored",
			output: "```sql\nDROP TABLE t\n```",
			want:   "",
			wantOK: false,
		},
		{
			name:   "no marker plain text",
			output: "The total is 42.",
			want:   "",
			wantOK: false,
		},
		{
			name:   "empty",
			output: "",
			want:   "",
			wantOK: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractSQL(tt.output)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIsReadQuery(t *testing.T) {
	assert.True(t, IsReadQuery("  select 1"))
	assert.True(t, IsReadQuery("WITH a AS (SELECT 1) SELECT * FROM a"))
	assert.False(t, IsReadQuery("UPDATE t SET a = 1"))
	assert.False(t, IsReadQuery(NoQueryPossible))
	assert.True(t, IsStatement("drop table t"))
	assert.False(t, IsStatement("Sorry, no."))
}

func TestAnswerSection(t *testing.T) {
	assert.Equal(t, "forty two", answerSection("SQLQuery: SELECT 1\nSQLResult: 42\nAnswer: forty two"))
	assert.Equal(t, "", answerSection("SQLQuery: SELECT 1"))
}
