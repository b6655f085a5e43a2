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

	"github.com/tmc/langchaingo/prompts"
)

const generationTemplate = `You will be given a question and some user context.
First, understand the user's actual question and their regional context.
Then, create a syntactically correct {{.dialect}} query to run based on the actual question and adhering to regional restrictions from the user context.
Finally, look at the results of the query and return the answer.

Unless the user specifies in their actual question a specific number of examples to obtain, query for at most {{.top_k}} results using the LIMIT clause as per {{.dialect}}.
Never query for all columns from a table. You must query only the columns that are needed. Wrap each column name in double quotes (") to denote them as delimited identifiers.
Pay attention to use only the column names you can see in the tables below. Be careful to not query for columns that do not exist. Also, pay attention to which column is in which table.
Pay attention to use CURRENT_DATE function to get the current date, if the question involves "today".

REGIONAL FILTERING RULES BASED ON USER CONTEXT:
- The user context will state the user's region or if they can view all regions.
- If the user's regional context is specific (e.g., 'User is restricted to data for the US region ONLY.') you MUST ensure that the generated SQL query filters data for ONLY that user's region.
- Assume a column named "{{.region_column}}" exists in the '{{.table}}' table for this regional filtering. Example: Add 'AND "{{.region_column}}" = 'US'' or 'WHERE "{{.region_column}}" = 'US''.
- If the actual question explicitly asks for a different region AND the user context indicates 'User can view data for all regions', then you can query for that different region.
- If the user context is 'User can view data for all regions' or 'No specific regional restrictions apply', do not add an automatic regional filter unless the actual question itself specifies a region.

Your response for the SQL query part MUST be ONLY the SQL statement itself, immediately following the 'SQLQuery:' marker.
If, after careful consideration of the table schema and user context (especially regional restrictions), you determine that a valid SQL query CANNOT be generated to answer the actual question (e.g. user asking for EMEA data but context restricts them to US), you MUST respond with ONLY the string '{{.sentinel}}' immediately after the 'SQLQuery:' marker.

Use the following format for your entire multi-turn response structure:
User Context (extracted from input): [The user context you understood]
Actual Question (extracted from input): [The actual question you understood]
SQLQuery: SQL Query to run
SQLResult: Result of the SQLQuery
Answer: Final answer here

Only use the following tables:
{{.table_info}}

The input below contains the User Context and the Actual Question, formatted as:
"USER_CONTEXT_START <<user context string>> USER_CONTEXT_END ACTUAL_QUESTION_START <<actual question string>> ACTUAL_QUESTION_END"
Parse these carefully.

Input:
{{.input}}
SQLQuery:`

var generationPrompt = prompts.NewPromptTemplate(generationTemplate,
	[]string{"dialect", "top_k", "table_info", "region_column", "table", "sentinel", "input"})

type generationInput struct {
	Dialect      string
	TopK         int
	TableInfo    string
	RegionColumn string
	Table        string
	Input        string
}

// buildGenerationPrompt renders the NL→SQL prompt. The rendered text
// ends with the "SQLQuery:" marker so the model continues with SQL.
func buildGenerationPrompt(in generationInput) (string, error) {
	out, err := generationPrompt.Format(map[string]any{
		"dialect":       in.Dialect,
		"top_k":         in.TopK,
		"table_info":    in.TableInfo,
		"region_column": in.RegionColumn,
		"table":         in.Table,
		"sentinel":      NoQueryPossible,
		"input":         in.Input,
	})
	if err != nil {
		return "", fmt.Errorf("format sql prompt: %w", err)
	}
	return out, nil
}

// buildAnswerPrompt appends the model's SQL and the execution result to
// the generation prompt and asks for the final answer.
func buildAnswerPrompt(generation, modelOutput, sqlResult string) string {
	return generation + modelOutput + "\nSQLResult: " + sqlResult + "\nAnswer:"
}
