// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package document_agent answers questions from company policy documents.
//
// Policy text is chunked into a Weaviate class by the Ingester. At query
// time the Agent retrieves the top passages, joins them into a context
// block and asks the model to answer from that context alone.
package document_agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/tmc/langchaingo/prompts"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/rajarshiroydev/AgriFlow-AI/services/llm"
)

var tracer = otel.Tracer("agriflow.document_agent")

const (
	DefaultTopK      = 3
	ContextSeparator = "\n\n---\n\n"
	UnknownSource    = "Unknown Source"

	MsgNoRelevantInfo    = "I could not find relevant information in the policy documents for your query."
	MsgStoreUnavailable  = "Error: Vector store is not available. Please run document ingestion."
	MsgRetrievalFailed   = "Error: Failed to retrieve documents from the vector store."
	msgGenerationFailedF = "An error occurred while generating the answer from documents: %s"
)

// ErrNotConfigured means the agent has no model to answer with.
var ErrNotConfigured = errors.New("document capability llm not configured")

const answerTemplate = `Based ONLY on the following CONTEXT from company policy documents, answer the USER QUESTION.
If the answer is not found in the CONTEXT, clearly state that 'The provided documents do not contain specific information regarding your query on this topic'.
Do not use any external knowledge or make assumptions.
Your answer should be concise and directly address the question.

CONTEXT:
"""
{{.context}}
"""

USER QUESTION: {{.question}}

ANSWER (provide only the answer text, no preamble about using context):`

var answerPrompt = prompts.NewPromptTemplate(answerTemplate, []string{"context", "question"})

// RetrievalResult is the document capability's answer.
//
// RawContext is nil when nothing was retrieved.
type RetrievalResult struct {
	Answer     string   `json:"answer"`
	RawContext *string  `json:"raw_context"`
	Sources    []string `json:"sources"`
}

// Agent retrieves passages and answers from them.
type Agent struct {
	retriever Retriever
	llm       llm.LLMClient
	topK      int
	logger    *slog.Logger
}

// NewAgent builds an Agent. topK <= 0 uses DefaultTopK.
func NewAgent(retriever Retriever, client llm.LLMClient, topK int, logger *slog.Logger) *Agent {
	if topK <= 0 {
		topK = DefaultTopK
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{retriever: retriever, llm: client, topK: topK, logger: logger}
}

// Ready reports whether a document store is wired.
func (a *Agent) Ready() bool {
	return a != nil && a.retriever != nil
}

// Answer retrieves context for question and answers from it.
//
// # Description
//
// Failures never surface as Go errors. A missing or failing store, an
// empty retrieval and a failed generation each produce a fixed answer.
// RawContext is kept whenever passages were found, even if generation
// fails, so the orchestrator can still refine a database question.
func (a *Agent) Answer(ctx context.Context, question string) RetrievalResult {
	ctx, span := tracer.Start(ctx, "document_agent.Answer")
	defer span.End()

	if a == nil || a.retriever == nil {
		return RetrievalResult{Answer: MsgStoreUnavailable, Sources: []string{}}
	}

	passages, err := a.retriever.Retrieve(ctx, question, a.topK)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "retrieval failed")
		if errors.Is(err, ErrStoreUnavailable) {
			return RetrievalResult{Answer: MsgStoreUnavailable, Sources: []string{}}
		}
		a.logger.Error("document retrieval failed", "error", err)
		return RetrievalResult{Answer: MsgRetrievalFailed, Sources: []string{}}
	}
	span.SetAttributes(attribute.Int("documents.retrieved", len(passages)))
	if len(passages) == 0 {
		return RetrievalResult{Answer: MsgNoRelevantInfo, Sources: []string{}}
	}

	rawContext := JoinContext(passages)
	sources := UniqueSources(passages)
	result := RetrievalResult{RawContext: &rawContext, Sources: sources}

	answer, err := a.generate(ctx, rawContext, question)
	if err != nil {
		span.RecordError(err)
		a.logger.Error("document answer generation failed", "error", err)
		result.Answer = fmt.Sprintf(msgGenerationFailedF, err)
		return result
	}
	result.Answer = answer
	return result
}

func (a *Agent) generate(ctx context.Context, rawContext, question string) (string, error) {
	if a.llm == nil {
		return "", ErrNotConfigured
	}
	prompt, err := answerPrompt.Format(map[string]any{"context": rawContext, "question": question})
	if err != nil {
		return "", fmt.Errorf("format document prompt: %w", err)
	}
	out, err := a.llm.Generate(ctx, prompt, llm.GenerationParams{
		Temperature: llm.Float32(0.2),
		MaxTokens:   llm.Int(700),
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// JoinContext concatenates passage contents with ContextSeparator.
func JoinContext(passages []Passage) string {
	parts := make([]string, len(passages))
	for i, p := range passages {
		parts[i] = p.Content
	}
	return strings.Join(parts, ContextSeparator)
}

// UniqueSources returns the sorted distinct sources. Empty sources are
// reported as UnknownSource.
func UniqueSources(passages []Passage) []string {
	seen := make(map[string]struct{}, len(passages))
	for _, p := range passages {
		src := p.Source
		if strings.TrimSpace(src) == "" {
			src = UnknownSource
		}
		seen[src] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
