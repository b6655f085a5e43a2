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
	"github.com/tmc/langchaingo/prompts"
)

const decompositionTemplate = `You are an expert query routing assistant. Your task is to analyze a user's CURRENT question, considering the CONVERSATION HISTORY if provided, and determine if the CURRENT question needs to be answered using:
1. Policy Documents
2. Structured Database
3. Both Policy Documents AND the Structured Database.

CONVERSATION HISTORY:
{{.history}}

Based on the user's CURRENT question, provide a JSON response:
{
  "query_type": "DOCUMENT_ONLY" | "DATABASE_ONLY" | "HYBRID" | "UNKNOWN",
  "document_question": "The specific question for policy documents. (String or null)",
  "database_question": "The specific question for the structured database. (String or null)",
  "original_query": "The original CURRENT user query."
}
Focus on resolving the CURRENT query using history for context.
If HYBRID, formulate sub-questions. If UNKNOWN, state so.

CURRENT User Query: "{{.query}}"
JSON Response:`

const refinementTemplate = `User's query: "{{.query}}"
Database part: "{{.db_question}}"
Document context: ---START--- {{.context}} ---END---
Refine the "database part" using specific definitions/criteria from "document context" for a SQL query. If no refinement applicable or context unhelpful, return the original "database part" EXACTLY.
Refined Database Question:`

const synthesisTemplate = `CONVERSATION HISTORY:
{{.history}}

User's CURRENT query: "{{.query}}"
To address CURRENT query:
1. Docs Q: "{{.doc_question}}" -> Doc Info: "{{.doc_info}}"
2. DB Q: "{{.db_question}}" -> DB Info: "{{.db_info}}" (SQL: {{.sql}})
Synthesize a comprehensive answer for the CURRENT query, using history for context. Be direct. Acknowledge errors.
Final Answer:`

var (
	decompositionPrompt = prompts.NewPromptTemplate(decompositionTemplate, []string{"history", "query"})
	refinementPrompt    = prompts.NewPromptTemplate(refinementTemplate, []string{"query", "db_question", "context"})
	synthesisPrompt     = prompts.NewPromptTemplate(synthesisTemplate,
		[]string{"history", "query", "doc_question", "doc_info", "db_question", "db_info", "sql"})
)
