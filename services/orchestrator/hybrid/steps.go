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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/rajarshiroydev/AgriFlow-AI/pkg/extensions"
	"github.com/rajarshiroydev/AgriFlow-AI/services/document_agent"
	"github.com/rajarshiroydev/AgriFlow-AI/services/llm"
	"github.com/rajarshiroydev/AgriFlow-AI/services/sql_agent"
)

var (
	errDocumentsUnavailable = errors.New("document capability not configured")
	errSQLUnavailable       = errors.New("sql capability not configured")
)

// orchestrationParams are used for decomposition, refinement and synthesis.
func orchestrationParams() llm.GenerationParams {
	return llm.GenerationParams{Temperature: llm.Float32(0.1), MaxTokens: llm.Int(2500)}
}

// guard runs fn and converts a panic into an error.
func guard[T any](name string, fn func() T) (out T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s capability panicked: %v", name, r)
		}
	}()
	return fn(), nil
}

// =============================================================================
// Decomposition
// =============================================================================

func (e *Engine) decompose(ctx context.Context, logger *slog.Logger, req Request) (DecomposedIntent, bool) {
	start := time.Now()
	defer func() { e.observer.ObserveStage(extensions.StageDecompose, time.Since(start)) }()

	ctx, span := tracer.Start(ctx, "hybrid.decompose")
	defer span.End()

	if e.llm == nil {
		logger.Error("orchestration llm not configured")
		return DecomposedIntent{}, false
	}

	prompt, err := decompositionPrompt.Format(map[string]any{
		"history": FormatHistory(req.History, DecompositionHistoryTurns),
		"query":   req.Query,
	})
	if err != nil {
		logger.Error("format decomposition prompt", "error", err)
		return DecomposedIntent{}, false
	}

	reply, err := guard("decomposition", func() replyErr {
		out, err := e.llm.Generate(ctx, prompt, orchestrationParams())
		return replyErr{out, err}
	})
	if err == nil {
		err = reply.err
	}
	if err != nil {
		span.RecordError(err)
		logger.Error("decomposition llm call failed", "error", err)
		return DecomposedIntent{}, false
	}

	intent, err := ParseIntent(reply.text)
	if err != nil {
		span.RecordError(err)
		logger.Error("decomposition reply could not be decoded", "error", err, "reply", truncate(reply.text, 500))
		return DecomposedIntent{}, false
	}
	logger.Info("query decomposed", "query_type", intent.QueryType)
	return intent, true
}

type replyErr struct {
	text string
	err  error
}

// =============================================================================
// Refinement
// =============================================================================

// refine rewrites dbQ with definitions found in rawContext. It returns nil
// only when dbQ is nil, and dbQ itself whenever refinement cannot help.
func (e *Engine) refine(ctx context.Context, logger *slog.Logger, dbQ *string, rawContext, originalQuery string) *string {
	if dbQ == nil {
		return nil
	}
	if strings.TrimSpace(rawContext) == "" || refinementSentinels[rawContext] || e.llm == nil {
		return dbQ
	}

	start := time.Now()
	defer func() { e.observer.ObserveStage(extensions.StageRefine, time.Since(start)) }()
	ctx, span := tracer.Start(ctx, "hybrid.refine")
	defer span.End()

	prompt, err := refinementPrompt.Format(map[string]any{
		"query":       originalQuery,
		"db_question": *dbQ,
		"context":     truncate(rawContext, MaxRefinementContext),
	})
	if err != nil {
		logger.Error("format refinement prompt", "error", err)
		return dbQ
	}

	reply, err := guard("refinement", func() replyErr {
		out, err := e.llm.Generate(ctx, prompt, orchestrationParams())
		return replyErr{out, err}
	})
	if err == nil {
		err = reply.err
	}
	if err != nil {
		span.RecordError(err)
		logger.Warn("refinement failed, using original database question", "error", err)
		return dbQ
	}

	refined := strings.TrimSpace(reply.text)
	if refined == "" {
		return dbQ
	}
	if !strings.EqualFold(refined, *dbQ) {
		logger.Info("database question refined", "original", *dbQ, "refined", refined)
	}
	return &refined
}

// =============================================================================
// Synthesis
// =============================================================================

type synthesisInput struct {
	history string
	query   string
	docQ    *string
	docInfo string
	dbQ     *string
	dbInfo  string
	sql     *string
}

func (s synthesisInput) fallback() string {
	return fmt.Sprintf("Doc Info: %s\nDB Info: %s\n(Synthesis LLM N/A)", s.docInfo, s.dbInfo)
}

func (e *Engine) synthesize(ctx context.Context, logger *slog.Logger, in synthesisInput) string {
	if e.llm == nil {
		return in.fallback()
	}

	start := time.Now()
	defer func() { e.observer.ObserveStage(extensions.StageSynthesize, time.Since(start)) }()
	ctx, span := tracer.Start(ctx, "hybrid.synthesize")
	defer span.End()

	prompt, err := synthesisPrompt.Format(map[string]any{
		"history":      in.history,
		"query":        in.query,
		"doc_question": orNA(in.docQ),
		"doc_info":     in.docInfo,
		"db_question":  orNA(in.dbQ),
		"db_info":      in.dbInfo,
		"sql":          orNA(in.sql),
	})
	if err != nil {
		logger.Error("format synthesis prompt", "error", err)
		return in.fallback()
	}

	reply, err := guard("synthesis", func() replyErr {
		out, err := e.llm.Generate(ctx, prompt, orchestrationParams())
		return replyErr{out, err}
	})
	if err == nil {
		err = reply.err
	}
	if err != nil || strings.TrimSpace(reply.text) == "" {
		if err != nil {
			span.RecordError(err)
		}
		e.observer.ObserveCapabilityError(extensions.StageSynthesize)
		logger.Warn("synthesis unavailable, concatenating sub-answers", "error", err)
		return in.fallback()
	}
	return strings.TrimSpace(reply.text)
}

// =============================================================================
// Capability Calls
// =============================================================================

func (e *Engine) callDocuments(ctx context.Context, question string) (document_agent.RetrievalResult, error) {
	start := time.Now()
	defer func() { e.observer.ObserveStage(extensions.StageDocument, time.Since(start)) }()

	if e.documents == nil {
		e.observer.ObserveCapabilityError(extensions.StageDocument)
		return document_agent.RetrievalResult{}, errDocumentsUnavailable
	}
	res, err := guard("document", func() document_agent.RetrievalResult {
		return e.documents.Answer(ctx, question)
	})
	if err != nil {
		e.observer.ObserveCapabilityError(extensions.StageDocument)
		e.logger.Error("document capability failed", "error", err)
	}
	return res, err
}

func (e *Engine) callSQL(ctx context.Context, question, regional string) (sql_agent.Result, error) {
	start := time.Now()
	defer func() { e.observer.ObserveStage(extensions.StageSQL, time.Since(start)) }()

	if e.sql == nil {
		e.observer.ObserveCapabilityError(extensions.StageSQL)
		return sql_agent.Result{}, errSQLUnavailable
	}
	res, err := guard("sql", func() sql_agent.Result {
		return e.sql.Answer(ctx, question, regional)
	})
	if err != nil {
		e.observer.ObserveCapabilityError(extensions.StageSQL)
		e.logger.Error("sql capability failed", "error", err)
		return res, err
	}
	if res.Error != nil {
		e.observer.ObserveCapabilityError(extensions.StageSQL)
	}
	return res, nil
}

// truncate keeps the first n characters of s.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
