// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sql_agent answers natural-language questions from the
// supply-chain transactions table.
//
// A question passes through two model calls. The first turns the question
// and the caller's regional context into a single statement, stopping at
// the SQLResult marker. The statement is extracted, checked to be
// read-only and executed. The second call reads the rows and writes the
// answer. Every outcome, including refusals and database errors, is
// returned as a Result rather than an error.
package sql_agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/rajarshiroydev/AgriFlow-AI/services/llm"
)

var tracer = otel.Tracer("agriflow.sql_agent")

// Fixed answer and error texts.
const (
	MsgNotInitialized   = "SQL capability components (database or LLM) not initialized."
	MsgQueryRestricted  = "Query not possible or restricted."
	MsgNoPermission     = "Based on your permissions and the query, I cannot retrieve this specific data from the database."
	MsgInvalidSQL       = "Invalid SQL or extraction failed."
	msgInvalidAttemptF  = "Could not generate a valid SQL query. Attempt: %s"
	msgExecutionErrorF  = "There was an error executing the database query: %s"
	msgUnexpectedErrorF = "An unexpected error occurred during SQL processing: %s"
)

const (
	DefaultTopK         = 10
	DefaultTable        = "supply_chain_transactions"
	DefaultRegionColumn = "Order_Region"
)

// Result is the outcome of one question.
//
// GeneratedSQL and Error are nil when not applicable.
type Result struct {
	Answer       string  `json:"natural_language_answer"`
	GeneratedSQL *string `json:"generated_sql"`
	Error        *string `json:"error"`
}

// Config tunes the agent.
type Config struct {
	TopK         int    `yaml:"top_k" toml:"top_k"`
	Table        string `yaml:"table" toml:"table"`
	RegionColumn string `yaml:"region_column" toml:"region_column"`
}

// Agent runs the NL→SQL flow.
type Agent struct {
	llm    llm.LLMClient
	exec   QueryExecutor
	config Config
	logger *slog.Logger
}

// NewAgent builds an Agent. Either client or exec may be nil; Answer then
// reports the capability as not initialized.
func NewAgent(client llm.LLMClient, exec QueryExecutor, config Config, logger *slog.Logger) *Agent {
	if config.TopK <= 0 {
		config.TopK = DefaultTopK
	}
	if config.Table == "" {
		config.Table = DefaultTable
	}
	if config.RegionColumn == "" {
		config.RegionColumn = DefaultRegionColumn
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{llm: client, exec: exec, config: config, logger: logger}
}

// Ready reports whether both the model and the database are wired.
func (a *Agent) Ready() bool {
	return a != nil && a.llm != nil && a.exec != nil
}

// Answer runs question against the database under regionalContext.
//
// # Description
//
// Generates a statement, executes it when it is a SELECT or WITH query,
// and asks the model to phrase the rows as an answer. The regional
// context is fed to the prompt so the model adds the region filter.
//
// # Outputs
//
//   - Result: Always populated. Failures are described by Answer and
//     Error, never by a Go error.
//
// # Limitations
//
//   - Mutating statements are extracted but never executed.
//   - Only the first TopK rows are shown to the answer call.
func (a *Agent) Answer(ctx context.Context, question, regionalContext string) Result {
	if !a.Ready() {
		return Result{Answer: MsgNotInitialized, Error: strPtr(MsgNotInitialized)}
	}

	ctx, span := tracer.Start(ctx, "sql_agent.Answer")
	defer span.End()

	res := a.answer(ctx, question, regionalContext)
	if res.Error != nil {
		span.SetStatus(codes.Error, *res.Error)
	}
	if res.GeneratedSQL != nil {
		span.SetAttributes(attribute.String("sql.statement", *res.GeneratedSQL))
	}
	return res
}

func (a *Agent) answer(ctx context.Context, question, regionalContext string) Result {
	tableInfo, err := a.exec.TableInfo(ctx)
	if err != nil {
		return a.unexpected(err)
	}

	prompt, err := buildGenerationPrompt(generationInput{
		Dialect:      a.exec.Dialect(),
		TopK:         a.config.TopK,
		TableInfo:    tableInfo,
		RegionColumn: a.config.RegionColumn,
		Table:        a.config.Table,
		Input:        CombineInput(regionalContext, question),
	})
	if err != nil {
		return a.unexpected(err)
	}

	output, err := a.llm.Generate(ctx, prompt, llm.GenerationParams{
		Temperature: llm.Float32(0),
		Stop:        []string{"\nSQLResult:"},
	})
	if err != nil && !errors.Is(err, llm.ErrEmptyResponse) {
		return a.unexpected(err)
	}
	if strings.TrimSpace(output) == "" {
		a.logger.Warn("sql generation returned no text")
		return Result{
			Answer:       fmt.Sprintf(msgInvalidAttemptF, ExtractionFailedNoRawText),
			GeneratedSQL: strPtr(ExtractionFailedNoRawText),
			Error:        strPtr(MsgInvalidSQL),
		}
	}

	statement, ok := ExtractSQL(sqlQueryMarker + " " + output)
	if !ok {
		return Result{
			Answer:       fmt.Sprintf(msgInvalidAttemptF, strings.TrimSpace(output)),
			GeneratedSQL: strPtr(strings.TrimSpace(output)),
			Error:        strPtr(MsgInvalidSQL),
		}
	}

	if statement == NoQueryPossible {
		a.logger.Info("model declined to generate sql", "reason", "no_query_possible")
		return a.restricted(question, answerSection(output))
	}

	if !IsReadQuery(statement) {
		a.logger.Warn("extracted text is not a read-only query", "sql", statement)
		return Result{
			Answer:       fmt.Sprintf(msgInvalidAttemptF, statement),
			GeneratedSQL: strPtr(statement),
			Error:        strPtr(MsgInvalidSQL),
		}
	}

	rows, err := a.exec.Query(ctx, statement)
	if err != nil {
		var execErr *ExecutionError
		if !errors.As(err, &execErr) {
			return a.unexpected(err)
		}
		if strings.Contains(execErr.SQL, NoQueryPossible) || strings.Contains(execErr.Err.Error(), NoQueryPossible) {
			return a.restricted(question, "")
		}
		a.logger.Warn("sql execution failed", "sql", execErr.SQL, "error", execErr.Err)
		return Result{
			Answer:       fmt.Sprintf(msgExecutionErrorF, execErr.Err),
			GeneratedSQL: strPtr(execErr.SQL),
			Error:        strPtr(execErr.Err.Error()),
		}
	}
	if len(rows.Rows) > a.config.TopK {
		rows.Rows = rows.Rows[:a.config.TopK]
	}

	answer, err := a.llm.Generate(ctx, buildAnswerPrompt(prompt, output, rows.Render()), llm.GenerationParams{
		Temperature: llm.Float32(0),
	})
	if err != nil {
		res := a.unexpected(err)
		res.GeneratedSQL = strPtr(statement)
		return res
	}

	a.logger.Debug("sql question answered", "sql", statement, "rows", len(rows.Rows))
	return Result{Answer: strings.TrimSpace(answer), GeneratedSQL: strPtr(statement)}
}

// restricted builds the refusal result. modelAnswer replaces the fixed
// answer only when it says something beyond the question itself.
func (a *Agent) restricted(question, modelAnswer string) Result {
	answer := MsgNoPermission
	trimmed := strings.TrimSpace(modelAnswer)
	if trimmed != "" &&
		!strings.Contains(strings.ToLower(trimmed), "don't know") &&
		!strings.EqualFold(trimmed, strings.TrimSpace(question)) {
		answer = trimmed
	}
	return Result{
		Answer:       answer,
		GeneratedSQL: strPtr(NoQueryPossible),
		Error:        strPtr(MsgQueryRestricted),
	}
}

func (a *Agent) unexpected(err error) Result {
	a.logger.Error("sql processing failed", "error", err)
	msg := fmt.Sprintf(msgUnexpectedErrorF, err)
	return Result{Answer: msg, Error: strPtr(err.Error())}
}

func strPtr(s string) *string { return &s }
