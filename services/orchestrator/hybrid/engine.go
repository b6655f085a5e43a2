// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package hybrid routes one user question to the document capability, the
// SQL capability, or both, and returns a single answer.
//
// # Request Flow
//
//	RECEIVED → DECOMPOSED → ACCESS_CHECKED → answered → SYNTHESIZED → DONE
//	              ↓                ↓
//	           ABORTED          ABORTED
//
// Decomposition asks the model for a JSON intent. The access gate then
// checks the query and both sub-questions. Depending on the query type the
// engine calls one capability, or for HYBRID queries calls the document
// capability, refines the database question with the retrieved context,
// calls the SQL capability and synthesizes both answers.
//
// Capability failures are folded into the answer. Run never returns an
// error and never panics; the caller always gets a Result with Answer set.
package hybrid

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rajarshiroydev/AgriFlow-AI/pkg/extensions"
	"github.com/rajarshiroydev/AgriFlow-AI/services/document_agent"
	"github.com/rajarshiroydev/AgriFlow-AI/services/llm"
	"github.com/rajarshiroydev/AgriFlow-AI/services/orchestrator/datatypes"
	"github.com/rajarshiroydev/AgriFlow-AI/services/policy_engine"
	"github.com/rajarshiroydev/AgriFlow-AI/services/sql_agent"
)

var tracer = otel.Tracer("agriflow.orchestrator.hybrid")

// =============================================================================
// Fixed Messages
// =============================================================================

const (
	MsgDecompositionFailed = "I had trouble understanding your request."
	ErrDecompositionFailed = "Query decomposition failed."
	MsgAccessDenied        = "I'm sorry, but you do not have sufficient permissions to access the information for this query."
	ErrAccessDenied        = "Access Denied"
	MsgDocQuestionMissing  = "Document question expected but not formed."
	MsgDBQuestionMissing   = "Database question expected but not formed."
	MsgUnknown             = "I'm not sure how to answer that. Could you rephrase?"
	MsgNoDBAfterRefinement = "No database query was performed (no question after refinement)."
	GeneratedSQLNoDBQ      = "Not applicable (no DB question)."

	defaultDocInfo    = "No document information was sought or retrieved."
	defaultRawContext = "No document retrieval was performed."
	missingRawContext = "Failed to get raw document context."
	defaultDBInfo     = "No database information was sought or retrieved."
)

// refinementSentinels are contexts that carry no retrieved text.
var refinementSentinels = map[string]bool{
	"No raw document context retrieved.":                                          true,
	"Failed to get raw document context from RAG.":                                true,
	"No document retrieval was performed as no document question was identified.": true,
	defaultRawContext: true,
	missingRawContext: true,
}

// MaxRefinementContext bounds the document context sent to refinement.
const MaxRefinementContext = 2000

// =============================================================================
// Collaborators
// =============================================================================

// DocumentAnswerer is the document capability.
type DocumentAnswerer interface {
	Answer(ctx context.Context, question string) document_agent.RetrievalResult
}

// SQLAnswerer is the SQL capability.
type SQLAnswerer interface {
	Answer(ctx context.Context, question, regionalContext string) sql_agent.Result
}

// AccessChecker is the access control gate.
type AccessChecker interface {
	CheckAccess(ctx context.Context, req policy_engine.AccessRequest) policy_engine.Decision
}

// ProfileSource resolves user ids to profiles.
type ProfileSource interface {
	DefaultUserID() string
	GetProfile(userID string) policy_engine.UserProfile
}

var (
	_ DocumentAnswerer = (*document_agent.Agent)(nil)
	_ SQLAnswerer      = (*sql_agent.Agent)(nil)
	_ AccessChecker    = (*policy_engine.Gate)(nil)
	_ ProfileSource    = (*policy_engine.ProfileStore)(nil)
)

// Config wires an Engine.
//
// LLM drives decomposition, refinement and synthesis. Without it every
// request aborts at decomposition. Documents and SQL may be nil; the
// corresponding paths then report a capability failure.
type Config struct {
	LLM       llm.LLMClient
	Documents DocumentAnswerer
	SQL       SQLAnswerer
	Gate      AccessChecker
	Profiles  ProfileSource
	Logger    *slog.Logger
}

// Engine runs the orchestration state machine. Safe for concurrent use.
type Engine struct {
	llm       llm.LLMClient
	documents DocumentAnswerer
	sql       SQLAnswerer
	gate      AccessChecker
	profiles  ProfileSource
	observer  extensions.Observer
	logger    *slog.Logger
	newID     func() string
}

// NewEngine builds an Engine. Gate and Profiles are required.
func NewEngine(cfg Config, opts extensions.ServiceOptions) (*Engine, error) {
	if cfg.Gate == nil {
		return nil, fmt.Errorf("hybrid engine requires an access gate")
	}
	if cfg.Profiles == nil {
		return nil, fmt.Errorf("hybrid engine requires a profile source")
	}
	opts = opts.Normalize()
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		llm:       cfg.LLM,
		documents: cfg.Documents,
		sql:       cfg.SQL,
		gate:      cfg.Gate,
		profiles:  cfg.Profiles,
		observer:  opts.Observer,
		logger:    logger,
		newID:     func() string { return uuid.NewString() },
	}, nil
}

// =============================================================================
// Request / Result
// =============================================================================

// Request is one question with its caller context.
type Request struct {
	Query   string
	UserID  string
	History []datatypes.ConversationTurn
}

// Result is the outcome of one Run.
type Result struct {
	RequestID                  string
	Answer                     string
	QueryType                  string
	DecomposedDocumentQuestion *string
	DecomposedDatabaseQuestion *string
	Sources                    []string
	GeneratedSQL               *string
	DebugInfo                  string
	Error                      *string
}

// =============================================================================
// Run
// =============================================================================

// Run answers req.
//
// # Description
//
// Executes decomposition, the access check, capability dispatch and,
// for HYBRID queries, refinement and synthesis. Steps run strictly in
// sequence because each consumes the previous step's output.
//
// # Inputs
//
//   - ctx: Carries cancellation to every model and capability call.
//   - req: Query is required. An empty UserID is replaced by the default
//     user. An unknown UserID keeps its identity in logs and audit records
//     but is evaluated with the default profile.
//
// # Outputs
//
//   - Result: Always has Answer set. Error is set for aborted requests
//     and for capability failures.
func (e *Engine) Run(ctx context.Context, req Request) Result {
	start := time.Now()
	requestID := e.newID()
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		userID = e.profiles.DefaultUserID()
	}

	ctx, span := tracer.Start(ctx, "hybrid.Engine.Run")
	defer span.End()
	span.SetAttributes(attribute.String("request.id", requestID), attribute.String("user.id", userID))

	logger := e.logger.With("request_id", requestID, "user_id", userID)
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		logger = logger.With("trace_id", sc.TraceID().String())
	}
	logger.Info("hybrid query received", "history_turns", len(req.History))

	res, outcome := e.run(ctx, logger, requestID, userID, req)
	res.RequestID = requestID
	if res.Sources == nil {
		res.Sources = []string{}
	}
	if res.Error != nil {
		span.SetStatus(codes.Error, *res.Error)
	}
	span.SetAttributes(attribute.String("query.type", res.QueryType), attribute.String("query.outcome", outcome))

	e.observer.ObserveQuery(res.QueryType, outcome, time.Since(start))
	logger.Info("hybrid query finished", "query_type", res.QueryType, "outcome", outcome,
		"duration_ms", time.Since(start).Milliseconds())
	return res
}

func (e *Engine) run(ctx context.Context, logger *slog.Logger, requestID, userID string, req Request) (Result, string) {
	intent, ok := e.decompose(ctx, logger, req)
	if !ok {
		return Result{
			Answer:    MsgDecompositionFailed,
			QueryType: string(QueryDecompositionFailed),
			DebugInfo: ErrDecompositionFailed,
			Error:     ptr(ErrDecompositionFailed),
		}, extensions.OutcomeDecompositionFailed
	}

	docQ, dbQ := intent.DocumentQuestion, intent.DatabaseQuestion
	res := Result{
		QueryType:                  string(intent.QueryType),
		DecomposedDocumentQuestion: docQ,
		DecomposedDatabaseQuestion: dbQ,
	}

	stageStart := time.Now()
	decision := e.gate.CheckAccess(ctx, policy_engine.AccessRequest{
		RequestID:        requestID,
		UserID:           userID,
		Query:            req.Query,
		DatabaseQuestion: dbQ,
		DocumentQuestion: docQ,
	})
	e.observer.ObserveStage(extensions.StageAccess, time.Since(stageStart))
	if !decision.Granted {
		logger.Warn("access denied", "resource_type", decision.ResourceType)
		res.Answer = MsgAccessDenied
		res.DebugInfo = fmt.Sprintf("Access denied for user %s.", userID)
		res.Error = ptr(ErrAccessDenied)
		return res, extensions.OutcomeDenied
	}

	profile := e.profiles.GetProfile(userID)
	regional := sql_agent.RegionalContext(profile)
	actualDBQ := dbQ
	outcome := extensions.OutcomeAnswered

	switch intent.QueryType {
	case QueryDocumentOnly:
		if docQ == nil {
			res.Answer = MsgDocQuestionMissing
			break
		}
		doc, err := e.callDocuments(ctx, *docQ)
		if err != nil {
			res.Answer = fmt.Sprintf("An error occurred while answering from documents: %v", err)
			res.Error = ptr(err.Error())
			break
		}
		res.Answer = doc.Answer
		res.Sources = doc.Sources

	case QueryDatabaseOnly:
		if dbQ == nil {
			res.Answer = MsgDBQuestionMissing
			break
		}
		sqlRes, err := e.callSQL(ctx, *dbQ, regional)
		if err != nil {
			res.Answer = fmt.Sprintf("An unexpected error occurred during SQL processing: %v", err)
			res.Error = ptr(err.Error())
			break
		}
		res.Answer = sqlRes.Answer
		res.GeneratedSQL = sqlRes.GeneratedSQL
		if sqlRes.Error != nil {
			res.Answer += fmt.Sprintf(" (DB Error: %s)", *sqlRes.Error)
			res.Error = sqlRes.Error
		}

	case QueryHybrid:
		actualDBQ = e.runHybrid(ctx, logger, req, intent, regional, &res)

	case QueryUnknown:
		res.Answer = MsgUnknown
		outcome = extensions.OutcomeUnknown

	default:
		res.Answer = fmt.Sprintf("Unrecognized query type '%s'.", intent.QueryType)
		outcome = extensions.OutcomeUnrecognized
	}

	res.DebugInfo = debugInfo(userID, intent, actualDBQ)
	return res, outcome
}

// runHybrid fills res for a HYBRID intent and returns the database
// question actually sent to the SQL capability.
func (e *Engine) runHybrid(ctx context.Context, logger *slog.Logger, req Request, intent DecomposedIntent,
	regional string, res *Result) *string {

	docQ, dbQ := intent.DocumentQuestion, intent.DatabaseQuestion
	docInfo, rawContext, dbInfo := defaultDocInfo, defaultRawContext, defaultDBInfo
	var errs []string

	if docQ != nil {
		doc, err := e.callDocuments(ctx, *docQ)
		if err != nil {
			docInfo = fmt.Sprintf("An error occurred while answering from documents: %v", err)
			rawContext = missingRawContext
			errs = append(errs, err.Error())
		} else {
			docInfo = doc.Answer
			rawContext = missingRawContext
			if doc.RawContext != nil {
				rawContext = *doc.RawContext
			}
			res.Sources = append(res.Sources, doc.Sources...)
		}
	}

	originalQuery := req.Query
	if intent.OriginalQuery != nil {
		originalQuery = *intent.OriginalQuery
	}
	actualDBQ := e.refine(ctx, logger, dbQ, rawContext, originalQuery)

	if actualDBQ != nil {
		sqlRes, err := e.callSQL(ctx, *actualDBQ, regional)
		if err != nil {
			dbInfo = fmt.Sprintf("An unexpected error occurred during SQL processing: %v", err)
			errs = append(errs, err.Error())
		} else {
			dbInfo = sqlRes.Answer
			res.GeneratedSQL = sqlRes.GeneratedSQL
			if sqlRes.Error != nil {
				dbInfo += fmt.Sprintf(" (DB Error: %s)", *sqlRes.Error)
				errs = append(errs, *sqlRes.Error)
			}
		}
	} else {
		dbInfo = MsgNoDBAfterRefinement
		res.GeneratedSQL = ptr(GeneratedSQLNoDBQ)
	}

	res.Answer = e.synthesize(ctx, logger, synthesisInput{
		history: FormatHistory(req.History, SynthesisHistoryTurns),
		query:   req.Query,
		docQ:    docQ,
		docInfo: docInfo,
		dbQ:     actualDBQ,
		dbInfo:  dbInfo,
		sql:     res.GeneratedSQL,
	})
	if len(errs) > 0 {
		res.Error = ptr(strings.Join(errs, "; "))
	}
	return actualDBQ
}

// debugInfo renders the one-line trace returned to callers.
func debugInfo(userID string, intent DecomposedIntent, actualDBQ *string) string {
	actualDoc := display(intent.DocumentQuestion)
	if intent.QueryType == QueryDatabaseOnly {
		actualDoc = "N/A"
	}
	actualDB := display(actualDBQ)
	if intent.QueryType == QueryDocumentOnly {
		actualDB = "N/A"
	}
	queryType := string(intent.QueryType)
	if queryType == "" {
		queryType = "None"
	}
	return fmt.Sprintf("User: %s. Type: %s. DecompDocQ: %s. DecompDbQ: %s. ActualDocQ: %s. ActualDbQ: %s.",
		userID, queryType, display(intent.DocumentQuestion), display(intent.DatabaseQuestion), actualDoc, actualDB)
}

func display(s *string) string {
	if s == nil {
		return "None"
	}
	return *s
}

func orNA(s *string) string {
	if s == nil || *s == "" {
		return "N/A"
	}
	return *s
}

func ptr(s string) *string { return &s }
