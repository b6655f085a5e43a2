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
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rajarshiroydev/AgriFlow-AI/pkg/extensions"
	"github.com/rajarshiroydev/AgriFlow-AI/services/document_agent"
	"github.com/rajarshiroydev/AgriFlow-AI/services/llm"
	"github.com/rajarshiroydev/AgriFlow-AI/services/orchestrator/datatypes"
	"github.com/rajarshiroydev/AgriFlow-AI/services/policy_engine"
	"github.com/rajarshiroydev/AgriFlow-AI/services/sql_agent"
)

// =============================================================================
// Test Doubles
// =============================================================================

// routingLLM answers by recognizing which orchestration prompt it received.
type routingLLM struct {
	mu           sync.Mutex
	decompose    string
	decomposeErr error
	refine       func(prompt string) (string, error)
	synthesize   func(prompt string) (string, error)
	prompts      []string
}

func (r *routingLLM) Generate(ctx context.Context, prompt string, params llm.GenerationParams) (string, error) {
	r.mu.Lock()
	r.prompts = append(r.prompts, prompt)
	r.mu.Unlock()

	switch {
	case strings.Contains(prompt, "expert query routing assistant"):
		return r.decompose, r.decomposeErr
	case strings.Contains(prompt, "Refined Database Question:"):
		if r.refine == nil {
			return "", errors.New("unexpected refinement call")
		}
		return r.refine(prompt)
	case strings.Contains(prompt, "Final Answer:"):
		if r.synthesize == nil {
			return "", errors.New("unexpected synthesis call")
		}
		return r.synthesize(prompt)
	}
	return "", errors.New("unexpected prompt")
}

func (r *routingLLM) promptContaining(marker string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.prompts {
		if strings.Contains(p, marker) {
			return p
		}
	}
	return ""
}

type fakeDocuments struct {
	result    document_agent.RetrievalResult
	panicWith any
	calls     []string
}

func (f *fakeDocuments) Answer(ctx context.Context, question string) document_agent.RetrievalResult {
	f.calls = append(f.calls, question)
	if f.panicWith != nil {
		panic(f.panicWith)
	}
	return f.result
}

type fakeSQL struct {
	answer   func(question, regional string) sql_agent.Result
	calls    []string
	regional []string
}

func (f *fakeSQL) Answer(ctx context.Context, question, regional string) sql_agent.Result {
	f.calls = append(f.calls, question)
	f.regional = append(f.regional, regional)
	return f.answer(question, regional)
}

type recordingObserver struct {
	mu       sync.Mutex
	queries  []string
	stages   []string
	capError []string
}

func (o *recordingObserver) ObserveQuery(queryType, outcome string, d time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.queries = append(o.queries, queryType+"/"+outcome)
}

func (o *recordingObserver) ObserveStage(stage string, d time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stages = append(o.stages, stage)
}

func (o *recordingObserver) ObserveCapabilityError(capability string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.capError = append(o.capError, capability)
}

type harness struct {
	engine   *Engine
	llm      *routingLLM
	docs     *fakeDocuments
	sql      *fakeSQL
	audit    *extensions.MemoryAuditSink
	observer *recordingObserver
}

func newHarness(t *testing.T, model *routingLLM, docs *fakeDocuments, sqlAgent *fakeSQL) *harness {
	t.Helper()
	store, err := policy_engine.NewProfileStore()
	require.NoError(t, err)
	policy, err := policy_engine.LoadPolicy()
	require.NoError(t, err)
	audit := &extensions.MemoryAuditSink{}
	observer := &recordingObserver{}

	cfg := Config{Gate: policy_engine.NewGate(store, policy, audit, nil), Profiles: store}
	if model != nil {
		cfg.LLM = model
	}
	if docs != nil {
		cfg.Documents = docs
	}
	if sqlAgent != nil {
		cfg.SQL = sqlAgent
	}
	engine, err := NewEngine(cfg, extensions.DefaultOptions().WithObserver(observer))
	require.NoError(t, err)
	engine.newID = func() string { return "req-1" }
	return &harness{engine: engine, llm: model, docs: docs, sql: sqlAgent, audit: audit, observer: observer}
}

func intentJSON(queryType, docQ, dbQ string) string {
	quote := func(s string) string {
		if s == "" {
			return "null"
		}
		return `"` + s + `"`
	}
	return "```json\n{\"query_type\": \"" + queryType + "\", \"document_question\": " + quote(docQ) +
		", \"database_question\": " + quote(dbQ) + ", \"original_query\": \"orig\"}\n```"
}

func str(s string) *string { return &s }

// =============================================================================
// Scenarios
// =============================================================================

func TestRun_GuestDeniedFinancialMetrics(t *testing.T) {
	model := &routingLLM{decompose: intentJSON("DATABASE_ONLY", "", "What is the profit margin per product?")}
	sqlAgent := &fakeSQL{answer: func(q, r string) sql_agent.Result { t.Fatal("sql must not be called"); return sql_agent.Result{} }}
	h := newHarness(t, model, &fakeDocuments{}, sqlAgent)

	res := h.engine.Run(context.Background(), Request{Query: "What is the profit margin on our products?", UserID: "guest_global"})

	assert.Equal(t, MsgAccessDenied, res.Answer)
	assert.Nil(t, res.GeneratedSQL)
	require.NotNil(t, res.Error)
	assert.Equal(t, ErrAccessDenied, *res.Error)
	assert.Equal(t, "DATABASE_ONLY", res.QueryType)
	require.NotNil(t, res.DecomposedDatabaseQuestion)
	assert.Equal(t, "Access denied for user guest_global.", res.DebugInfo)
	assert.Equal(t, "req-1", res.RequestID)
	assert.Empty(t, h.sql.calls)
	assert.Equal(t, []string{"DATABASE_ONLY/denied"}, h.observer.queries)

	records := h.audit.Records()
	require.Len(t, records, 1)
	assert.False(t, records[0].Granted)
	assert.Equal(t, "sensitive:financial_metrics", records[0].ResourceType)
	assert.Equal(t, "req-1", records[0].RequestID)
}

func TestRun_DatabaseOnlyUsesRegionalContext(t *testing.T) {
	model := &routingLLM{decompose: intentJSON("DATABASE_ONLY", "", "What is the total sales?")}
	sqlAgent := &fakeSQL{answer: func(q, regional string) sql_agent.Result {
		sql := `SELECT SUM("Sales") FROM supply_chain_transactions`
		if strings.Contains(regional, "'US' region ONLY") {
			sql += ` WHERE "Order_Region" = 'US'`
		}
		return sql_agent.Result{Answer: "Total US sales are $1.2M.", GeneratedSQL: &sql}
	}}
	h := newHarness(t, model, &fakeDocuments{}, sqlAgent)

	res := h.engine.Run(context.Background(), Request{Query: "What is the total sales?", UserID: "analyst_us"})

	assert.Equal(t, "Total US sales are $1.2M.", res.Answer)
	require.NotNil(t, res.GeneratedSQL)
	assert.Contains(t, *res.GeneratedSQL, `"Order_Region" = 'US'`)
	assert.Nil(t, res.Error)
	assert.Equal(t, []string{"User is restricted to data for the 'US' region ONLY."}, h.sql.regional)
	assert.Equal(t, "User: analyst_us. Type: DATABASE_ONLY. DecompDocQ: None. DecompDbQ: What is the total sales?. "+
		"ActualDocQ: N/A. ActualDbQ: What is the total sales?.", res.DebugInfo)
	assert.Equal(t, []string{}, res.Sources)
}

func TestRun_DatabaseOnlyRestrictedRegion(t *testing.T) {
	model := &routingLLM{decompose: intentJSON("DATABASE_ONLY", "", "Total sales in EMEA?")}
	sqlAgent := &fakeSQL{answer: func(q, r string) sql_agent.Result {
		return sql_agent.Result{
			Answer:       sql_agent.MsgNoPermission,
			GeneratedSQL: str(sql_agent.NoQueryPossible),
			Error:        str(sql_agent.MsgQueryRestricted),
		}
	}}
	h := newHarness(t, model, &fakeDocuments{}, sqlAgent)

	res := h.engine.Run(context.Background(), Request{Query: "Total sales in EMEA?", UserID: "analyst_us"})

	assert.True(t, strings.HasPrefix(res.Answer, sql_agent.MsgNoPermission))
	assert.Contains(t, res.Answer, "(DB Error: Query not possible or restricted.)")
	require.NotNil(t, res.GeneratedSQL)
	assert.Equal(t, "NO_QUERY_POSSIBLE", *res.GeneratedSQL)
	require.NotNil(t, res.Error)
	assert.Contains(t, h.observer.capError, extensions.StageSQL)
}

func TestRun_HybridRefinesWithPolicyDefinition(t *testing.T) {
	const (
		docMarker = "DOC-MARKER: obsolete means unsold for 12 months"
		sqlMarker = "SQL-MARKER: 42,000 USD"
	)
	model := &routingLLM{
		decompose: intentJSON("HYBRID", "What does the inventory write-off policy define as obsolete?",
			"What is the total value written off for product X?"),
		refine: func(prompt string) (string, error) {
			return "What is the total value written off for product X where days unsold > 365?", nil
		},
		synthesize: func(prompt string) (string, error) {
			var markers []string
			for _, m := range []string{docMarker, sqlMarker} {
				if strings.Contains(prompt, m) {
					markers = append(markers, m)
				}
			}
			return "Synthesized: " + strings.Join(markers, " | "), nil
		},
	}
	docs := &fakeDocuments{result: document_agent.RetrievalResult{
		Answer:     docMarker,
		RawContext: str("Inventory is obsolete when unsold for more than 365 days."),
		Sources:    []string{"inventory_policy.md"},
	}}
	sqlAgent := &fakeSQL{answer: func(q, r string) sql_agent.Result {
		return sql_agent.Result{Answer: sqlMarker, GeneratedSQL: str(`SELECT SUM("Value") FROM t`)}
	}}
	h := newHarness(t, model, docs, sqlAgent)

	res := h.engine.Run(context.Background(), Request{
		Query:  "According to the inventory write-off policy, what is the total value written off for product X?",
		UserID: "manager_emea",
		History: []datatypes.ConversationTurn{
			{Sender: "user", Text: "hello"},
			{Sender: "assistant", Text: "hi there"},
		},
	})

	assert.Contains(t, res.Answer, docMarker)
	assert.Contains(t, res.Answer, sqlMarker)
	assert.Nil(t, res.Error)
	assert.Equal(t, []string{"inventory_policy.md"}, res.Sources)
	require.Len(t, h.sql.calls, 1)
	assert.Equal(t, "What is the total value written off for product X where days unsold > 365?", h.sql.calls[0])
	assert.Equal(t, []string{"User is restricted to data for the 'EMEA' region ONLY."}, h.sql.regional)

	refinePrompt := h.llm.promptContaining("Refined Database Question:")
	assert.Contains(t, refinePrompt, "---START--- Inventory is obsolete when unsold for more than 365 days. ---END---")
	assert.Contains(t, refinePrompt, `User's query: "orig"`)

	synthesis := h.llm.promptContaining("Final Answer:")
	assert.Contains(t, synthesis, "Previous conversation turns (most recent last):\nUser: hello\nAssistant: hi there")
	assert.Contains(t, synthesis, `(SQL: SELECT SUM("Value") FROM t)`)
	assert.Contains(t, res.DebugInfo, "ActualDbQ: What is the total value written off for product X where days unsold > 365?.")
	assert.Equal(t, []string{"HYBRID/answered"}, h.observer.queries)
}

// =============================================================================
// Edge Cases
// =============================================================================

func TestRun_DecompositionFailures(t *testing.T) {
	tests := []struct {
		name  string
		model *routingLLM
	}{
		{"no llm", nil},
		{"llm error", &routingLLM{decomposeErr: errors.New("timeout")}},
		{"not json", &routingLLM{decompose: "I think this is about sales."}},
		{"missing key", &routingLLM{decompose: `{"query_type": "HYBRID", "document_question": null}`}},
		{"wrong type", &routingLLM{decompose: `{"query_type": 3, "document_question": null, "database_question": null, "original_query": "q"}`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.model, &fakeDocuments{}, nil)

			res := h.engine.Run(context.Background(), Request{Query: "q"})

			assert.Equal(t, MsgDecompositionFailed, res.Answer)
			assert.Equal(t, "DECOMPOSITION_FAILED", res.QueryType)
			require.NotNil(t, res.Error)
			assert.Equal(t, ErrDecompositionFailed, *res.Error)
			assert.Empty(t, h.audit.Records())
			assert.Empty(t, h.docs.calls)
		})
	}
}

func TestRun_UnknownAndUnrecognized(t *testing.T) {
	h := newHarness(t, &routingLLM{decompose: intentJSON("UNKNOWN", "", "")}, &fakeDocuments{}, nil)
	res := h.engine.Run(context.Background(), Request{Query: "Tell me a joke"})
	assert.Equal(t, MsgUnknown, res.Answer)
	assert.Nil(t, res.Error)

	h = newHarness(t, &routingLLM{decompose: intentJSON("WEATHER", "", "")}, &fakeDocuments{}, nil)
	res = h.engine.Run(context.Background(), Request{Query: "Will it rain?"})
	assert.Equal(t, "Unrecognized query type 'WEATHER'.", res.Answer)
	assert.Equal(t, []string{"WEATHER/unrecognized"}, h.observer.queries)
}

func TestRun_MissingSubQuestions(t *testing.T) {
	h := newHarness(t, &routingLLM{decompose: intentJSON("DOCUMENT_ONLY", "", "")}, &fakeDocuments{}, nil)
	res := h.engine.Run(context.Background(), Request{Query: "policy?"})
	assert.Equal(t, MsgDocQuestionMissing, res.Answer)
	assert.Empty(t, h.docs.calls)

	h = newHarness(t, &routingLLM{decompose: intentJSON("DATABASE_ONLY", "", "")}, &fakeDocuments{}, nil)
	res = h.engine.Run(context.Background(), Request{Query: "sales?"})
	assert.Equal(t, MsgDBQuestionMissing, res.Answer)
}

func TestRun_DocumentOnly(t *testing.T) {
	docs := &fakeDocuments{result: document_agent.RetrievalResult{
		Answer: "Leave requests need 2 weeks notice.", Sources: []string{"hr.md", "leave.md"},
	}}
	h := newHarness(t, &routingLLM{decompose: intentJSON("DOCUMENT_ONLY", "What is the leave policy?", "")}, docs, nil)

	res := h.engine.Run(context.Background(), Request{Query: "What is the leave policy?", UserID: "nobody"})

	assert.Equal(t, "Leave requests need 2 weeks notice.", res.Answer)
	assert.Equal(t, []string{"hr.md", "leave.md"}, res.Sources)
	assert.Nil(t, res.GeneratedSQL)
	assert.Equal(t, "User: nobody. Type: DOCUMENT_ONLY. DecompDocQ: What is the leave policy?. DecompDbQ: None. "+
		"ActualDocQ: What is the leave policy?. ActualDbQ: N/A.", res.DebugInfo)
}

func TestRun_UnknownCallerKeepsIdentityInAudit(t *testing.T) {
	model := &routingLLM{decompose: intentJSON("DATABASE_ONLY", "", "What is the profit margin per product?")}
	h := newHarness(t, model, &fakeDocuments{}, &fakeSQL{})

	res := h.engine.Run(context.Background(), Request{Query: "What is the profit margin?", UserID: "  mallory "})

	assert.Equal(t, MsgAccessDenied, res.Answer)
	assert.Equal(t, "Access denied for user mallory.", res.DebugInfo)
	records := h.audit.Records()
	require.Len(t, records, 1)
	assert.Equal(t, "mallory", records[0].UserID)
	assert.Equal(t, "guest", records[0].Role)
	assert.Equal(t, "Guest User", records[0].UserName)
	assert.False(t, records[0].Granted)
}

func TestRun_EmptyCallerUsesDefaultUser(t *testing.T) {
	model := &routingLLM{decompose: intentJSON("DOCUMENT_ONLY", "What is the leave policy?", "")}
	h := newHarness(t, model, &fakeDocuments{result: document_agent.RetrievalResult{Answer: "ok"}}, nil)

	h.engine.Run(context.Background(), Request{Query: "What is the leave policy?"})

	records := h.audit.Records()
	require.NotEmpty(t, records)
	assert.Equal(t, "guest_global", records[len(records)-1].UserID)
}

func TestRun_DocumentCapabilityPanicIsRecovered(t *testing.T) {
	docs := &fakeDocuments{panicWith: "index corrupted"}
	h := newHarness(t, &routingLLM{decompose: intentJSON("DOCUMENT_ONLY", "policy?", "")}, docs, nil)

	res := h.engine.Run(context.Background(), Request{Query: "policy?"})

	assert.Contains(t, res.Answer, "index corrupted")
	require.NotNil(t, res.Error)
	assert.Contains(t, h.observer.capError, extensions.StageDocument)
}

type panickingLLM struct{}

func (panickingLLM) Generate(context.Context, string, llm.GenerationParams) (string, error) {
	panic("backend blew up")
}

func TestRun_BackendPanicBehindTimeoutIsRecovered(t *testing.T) {
	h := newHarness(t, nil, &fakeDocuments{}, nil)
	h.engine.llm = llm.WithTimeout(panickingLLM{}, 0)

	res := h.engine.Run(context.Background(), Request{Query: "What is the leave policy?"})

	assert.Equal(t, string(QueryDecompositionFailed), res.QueryType)
	require.NotNil(t, res.Error)
	assert.Equal(t, ErrDecompositionFailed, *res.Error)
}

func TestRun_SynthesisPanicBehindTimeoutFallsBack(t *testing.T) {
	model := &routingLLM{
		decompose:  intentJSON("HYBRID", "", "How many shipments were late?"),
		synthesize: func(string) (string, error) { panic("backend blew up") },
	}
	sqlAgent := &fakeSQL{answer: func(q, r string) sql_agent.Result { return sql_agent.Result{Answer: "12"} }}
	h := newHarness(t, model, &fakeDocuments{}, sqlAgent)
	h.engine.llm = llm.WithTimeout(model, time.Second)

	res := h.engine.Run(context.Background(), Request{Query: "How many shipments were late?", UserID: "analyst_us"})

	assert.Contains(t, res.Answer, "DB Info: 12")
	assert.Contains(t, res.Answer, "(Synthesis LLM N/A)")
	assert.Contains(t, h.observer.capError, extensions.StageSynthesize)
}

func TestRun_HybridWithoutDocumentQuestionSkipsRefinement(t *testing.T) {
	model := &routingLLM{
		decompose:  intentJSON("HYBRID", "", "How many shipments were late?"),
		synthesize: func(string) (string, error) { return "combined", nil },
	}
	sqlAgent := &fakeSQL{answer: func(q, r string) sql_agent.Result { return sql_agent.Result{Answer: "12"} }}
	h := newHarness(t, model, &fakeDocuments{}, sqlAgent)

	res := h.engine.Run(context.Background(), Request{Query: "How many shipments were late?", UserID: "analyst_us"})

	assert.Equal(t, "combined", res.Answer)
	assert.Equal(t, []string{"How many shipments were late?"}, h.sql.calls)
	assert.Empty(t, h.docs.calls)
	assert.Empty(t, h.llm.promptContaining("Refined Database Question:"))
	synthesis := h.llm.promptContaining("Final Answer:")
	assert.Contains(t, synthesis, `1. Docs Q: "N/A" -> Doc Info: "No document information was sought or retrieved."`)
	assert.Contains(t, synthesis, "(SQL: N/A)")
}

func TestRun_HybridWithoutDatabaseQuestion(t *testing.T) {
	model := &routingLLM{
		decompose:  intentJSON("HYBRID", "What is the returns policy?", ""),
		synthesize: func(string) (string, error) { return "combined", nil },
	}
	docs := &fakeDocuments{result: document_agent.RetrievalResult{Answer: "30 days", Sources: []string{}}}
	h := newHarness(t, model, docs, &fakeSQL{answer: func(q, r string) sql_agent.Result {
		t.Fatal("sql must not be called")
		return sql_agent.Result{}
	}})

	res := h.engine.Run(context.Background(), Request{Query: "What is the returns policy?"})

	require.NotNil(t, res.GeneratedSQL)
	assert.Equal(t, GeneratedSQLNoDBQ, *res.GeneratedSQL)
	assert.Contains(t, h.llm.promptContaining("Final Answer:"), MsgNoDBAfterRefinement)
}

func TestRun_HybridRefinementFailureKeepsOriginalQuestion(t *testing.T) {
	model := &routingLLM{
		decompose:  intentJSON("HYBRID", "Define late shipment", "How many shipments were late?"),
		refine:     func(string) (string, error) { return "", errors.New("llm down") },
		synthesize: func(string) (string, error) { return "", errors.New("llm down") },
	}
	docs := &fakeDocuments{result: document_agent.RetrievalResult{Answer: "Late is > 5 days.", RawContext: str("Late means over 5 days.")}}
	sqlAgent := &fakeSQL{answer: func(q, r string) sql_agent.Result {
		return sql_agent.Result{Answer: "bad column", GeneratedSQL: str("SELECT x"), Error: str("column x does not exist")}
	}}
	h := newHarness(t, model, docs, sqlAgent)

	res := h.engine.Run(context.Background(), Request{Query: "How many late shipments?", UserID: "analyst_us"})

	assert.Equal(t, []string{"How many shipments were late?"}, h.sql.calls)
	assert.Equal(t, "Doc Info: Late is > 5 days.\nDB Info: bad column (DB Error: column x does not exist)\n(Synthesis LLM N/A)", res.Answer)
	require.NotNil(t, res.Error)
	assert.Equal(t, "column x does not exist", *res.Error)
}

func TestRefine_SentinelContextIsIdentity(t *testing.T) {
	h := newHarness(t, &routingLLM{}, nil, nil)
	q := str("How many orders?")
	for _, sentinel := range []string{
		"No raw document context retrieved.",
		"Failed to get raw document context from RAG.",
		"No document retrieval was performed as no document question was identified.",
		"No document retrieval was performed.",
		"Failed to get raw document context.",
		"   ",
	} {
		got := h.engine.refine(context.Background(), h.engine.logger, q, sentinel, "anything")
		assert.Same(t, q, got, sentinel)
	}
	assert.Nil(t, h.engine.refine(context.Background(), h.engine.logger, nil, "real context", "q"))
	assert.Empty(t, h.llm.prompts)
}

func TestRefine_TruncatesContext(t *testing.T) {
	model := &routingLLM{refine: func(p string) (string, error) { return "  refined  ", nil }}
	h := newHarness(t, model, nil, nil)

	got := h.engine.refine(context.Background(), h.engine.logger, str("q"), strings.Repeat("x", 3000)+"TAIL", "user q")

	require.NotNil(t, got)
	assert.Equal(t, "refined", *got)
	prompt := h.llm.promptContaining("Refined Database Question:")
	assert.Contains(t, prompt, strings.Repeat("x", MaxRefinementContext)+" ---END---")
	assert.NotContains(t, prompt, "TAIL")
}

func TestNewEngine_RequiresGateAndProfiles(t *testing.T) {
	_, err := NewEngine(Config{}, extensions.DefaultOptions())
	assert.Error(t, err)
}
