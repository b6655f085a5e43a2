// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rajarshiroydev/AgriFlow-AI/services/orchestrator/datatypes"
	"github.com/rajarshiroydev/AgriFlow-AI/services/orchestrator/hybrid"
	"github.com/rajarshiroydev/AgriFlow-AI/services/policy_engine"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeOrchestrator records the request and returns a canned result.
type fakeOrchestrator struct {
	got    *hybrid.Request
	result hybrid.Result
}

func (f *fakeOrchestrator) Run(_ context.Context, req hybrid.Request) hybrid.Result {
	f.got = &req
	return f.result
}

func postChat(t *testing.T, orch Orchestrator, body string) *httptest.ResponseRecorder {
	t.Helper()
	router := gin.New()
	router.POST("/api/v1/chat", HandleChat(orch))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	return w
}

// =============================================================================
// HandleChat Tests
// =============================================================================

func TestHandleChat_MapsResult(t *testing.T) {
	sql := "SELECT 1"
	dbq := "How many orders?"
	orch := &fakeOrchestrator{result: hybrid.Result{
		RequestID:                  "req-1",
		Answer:                     "There are 3 orders.",
		QueryType:                  string(hybrid.QueryDatabaseOnly),
		DecomposedDatabaseQuestion: &dbq,
		GeneratedSQL:               &sql,
		DebugInfo:                  "User: analyst_us.",
	}}

	w := postChat(t, orch, `{"query":"How many orders?","user_id":"analyst_us","history":[{"sender":"user","text":"hi"}]}`)

	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, orch.got)
	assert.Equal(t, "How many orders?", orch.got.Query)
	assert.Equal(t, "analyst_us", orch.got.UserID)
	require.Len(t, orch.got.History, 1)
	assert.Equal(t, "user", orch.got.History[0].Sender)

	var resp datatypes.ChatQueryResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "req-1", resp.RequestID)
	assert.Equal(t, "There are 3 orders.", resp.Answer)
	assert.Equal(t, "DATABASE_ONLY", resp.QueryTypeDebug)
	require.NotNil(t, resp.GeneratedSQL)
	assert.Equal(t, "SELECT 1", *resp.GeneratedSQL)
	assert.Nil(t, resp.DecomposedDocQuestionDebug)
	assert.Nil(t, resp.Error)
	assert.Equal(t, []string{}, resp.Sources)
}

func TestHandleChat_NullFieldsEncodeAsNull(t *testing.T) {
	orch := &fakeOrchestrator{result: hybrid.Result{Answer: "x", Sources: []string{}}}

	w := postChat(t, orch, `{"query":"hello"}`)

	require.Equal(t, http.StatusOK, w.Code)
	var raw map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &raw))
	for _, key := range []string{"generated_sql", "error", "decomposed_doc_question_debug", "decomposed_db_question_debug"} {
		v, ok := raw[key]
		assert.True(t, ok, key)
		assert.Nil(t, v, key)
	}
	assert.Contains(t, raw, "processing_time_ms")
}

func TestHandleChat_ErrorStillReturns200(t *testing.T) {
	msg := "Failed to decompose query"
	orch := &fakeOrchestrator{result: hybrid.Result{Answer: "sorry", Error: &msg}}

	w := postChat(t, orch, `{"query":"hello"}`)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Failed to decompose query")
}

func TestHandleChat_BadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"query":`},
		{"missing query", `{"user_id":"analyst_us"}`},
		{"blank query", `{"query":"   "}`},
		{"bad sender", `{"query":"q","history":[{"sender":"system","text":"x"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orch := &fakeOrchestrator{}

			w := postChat(t, orch, tt.body)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Nil(t, orch.got, "orchestrator must not run")
			var resp datatypes.ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.NotEmpty(t, resp.Error)
		})
	}
}

// =============================================================================
// Health Tests
// =============================================================================

func TestHealthCheck_ReturnsOK(t *testing.T) {
	router := gin.New()
	router.GET("/health", HealthCheck)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/json")
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestHandleReadiness(t *testing.T) {
	tests := []struct {
		name   string
		probes map[string]ReadinessProbe
		want   string
	}{
		{
			name:   "all ready",
			probes: map[string]ReadinessProbe{"sql": func() bool { return true }, "documents": func() bool { return true }},
			want:   `{"status":"ready","capabilities":{"sql":true,"documents":true}}`,
		},
		{
			name:   "one degraded",
			probes: map[string]ReadinessProbe{"sql": func() bool { return true }, "documents": func() bool { return false }},
			want:   `{"status":"degraded","capabilities":{"sql":true,"documents":false}}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := gin.New()
			router.GET("/ready", HandleReadiness(tt.probes))

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))

			assert.Equal(t, http.StatusOK, w.Code)
			assert.JSONEq(t, tt.want, w.Body.String())
		})
	}
}

// =============================================================================
// Profile Tests
// =============================================================================

func TestGetProfile(t *testing.T) {
	store, err := policy_engine.NewProfileStore()
	require.NoError(t, err)

	tests := []struct {
		name   string
		path   string
		wantID string
	}{
		{"known user", "/api/v1/profiles/analyst_us", "analyst_us"},
		{"unknown user falls back to guest", "/api/v1/profiles/nobody", "guest_global"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := gin.New()
			router.GET("/api/v1/profiles/:user_id", GetProfile(store))

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.path, nil))

			require.Equal(t, http.StatusOK, w.Code)
			var resp datatypes.ProfileResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantID, resp.UserID)
			assert.NotEmpty(t, resp.Permissions)
		})
	}
}

func TestListProfiles(t *testing.T) {
	store, err := policy_engine.NewProfileStore()
	require.NoError(t, err)
	router := gin.New()
	router.GET("/api/v1/profiles", ListProfiles(store))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/profiles", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Profiles []datatypes.ProfileResponse `json:"profiles"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Profiles, 4)
	assert.Equal(t, "admin_global", resp.Profiles[0].UserID)
}
