// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides the request and response bodies of the
// orchestrator HTTP API.
package datatypes

import (
	"strings"

	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Limits
// =============================================================================

const (
	// MaxQueryBytes bounds the query and every history text.
	MaxQueryBytes = 8 * 1024

	// MaxHistoryTurns bounds the history a caller may send. The orchestrator
	// only reads the last few turns, so longer histories are rejected.
	MaxHistoryTurns = 50
)

const (
	SenderUser      = "user"
	SenderAssistant = "assistant"
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

var chatValidate *validator.Validate

func init() {
	chatValidate = validator.New()
	_ = chatValidate.RegisterValidation("maxbytes", validateMaxBytes)
	_ = chatValidate.RegisterValidation("notblank", validateNotBlank)
}

func validateMaxBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxQueryBytes
}

func validateNotBlank(fl validator.FieldLevel) bool {
	return strings.TrimSpace(fl.Field().String()) != ""
}

// =============================================================================
// Chat Types
// =============================================================================

// ConversationTurn is one prior message supplied by the caller.
//
// The orchestrator reads history but never stores it; callers own
// persistence.
type ConversationTurn struct {
	Sender string `json:"sender" validate:"required,oneof=user assistant"`
	Text   string `json:"text" validate:"maxbytes"`
}

// ChatQueryRequest is the body of POST /api/v1/chat.
//
// # Fields
//
//   - Query: Required. The natural-language question.
//   - UserID: Optional. Unknown or empty ids fall back to the guest profile.
//   - History: Optional. Prior turns, oldest first.
//
// # Examples
//
//	{
//	    "query": "What is the total sales?",
//	    "user_id": "analyst_us",
//	    "history": [{"sender": "user", "text": "Hi"}, {"sender": "assistant", "text": "Hello!"}]
//	}
type ChatQueryRequest struct {
	Query   string             `json:"query" validate:"required,notblank,maxbytes"`
	UserID  string             `json:"user_id" validate:"max=128"`
	History []ConversationTurn `json:"history" validate:"max=50,dive"`
}

// Validate checks the request against its validation tags.
func (r *ChatQueryRequest) Validate() error {
	return chatValidate.Struct(r)
}

// ChatQueryResponse is the body returned by POST /api/v1/chat.
//
// Every field after Answer exists for transparency and debugging. Nil
// pointers encode as JSON null.
type ChatQueryResponse struct {
	RequestID                  string   `json:"request_id"`
	Answer                     string   `json:"answer"`
	QueryTypeDebug             string   `json:"query_type_debug"`
	DecomposedDocQuestionDebug *string  `json:"decomposed_doc_question_debug"`
	DecomposedDBQuestionDebug  *string  `json:"decomposed_db_question_debug"`
	GeneratedSQL               *string  `json:"generated_sql"`
	Sources                    []string `json:"sources"`
	DebugInfoOrchestrator      string   `json:"debug_info_orchestrator"`
	Error                      *string  `json:"error"`
	ProcessingTimeMs           int64    `json:"processing_time_ms"`
}

// ProfileResponse is the body of GET /api/v1/profiles/:user_id.
type ProfileResponse struct {
	UserID      string   `json:"user_id"`
	Name        string   `json:"name"`
	Role        string   `json:"role"`
	Region      string   `json:"region"`
	Permissions []string `json:"permissions"`
}

// ErrorResponse is returned for malformed requests.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
