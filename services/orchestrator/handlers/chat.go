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
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/rajarshiroydev/AgriFlow-AI/services/orchestrator/datatypes"
	"github.com/rajarshiroydev/AgriFlow-AI/services/orchestrator/hybrid"
)

var chatTracer = otel.Tracer("agriflow.orchestrator.handlers")

// Orchestrator runs one hybrid query. Satisfied by *hybrid.Engine.
type Orchestrator interface {
	Run(ctx context.Context, req hybrid.Request) hybrid.Result
}

var _ Orchestrator = (*hybrid.Engine)(nil)

// HandleChat serves POST /api/v1/chat.
//
// # Description
//
// Binds and validates a ChatQueryRequest, runs the orchestrator and maps
// the result onto a ChatQueryResponse. Malformed bodies get 400. Every
// validated request gets 200, including denials and degraded answers,
// because the orchestrator always produces a user-facing answer.
//
// # Inputs
//
//   - orch: The orchestrator. Must not be nil.
//
// # Outputs
//
//   - gin.HandlerFunc: Handler ready for registration.
func HandleChat(orch Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := chatTracer.Start(c.Request.Context(), "HandleChat")
		defer span.End()
		start := time.Now()

		var req datatypes.ChatQueryRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Warn("Failed to parse the chat request", "error", err)
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{
				Error:   "invalid request body",
				Details: err.Error(),
			})
			return
		}
		if err := req.Validate(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Warn("Chat request failed validation", "error", err)
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{
				Error:   "invalid request",
				Details: err.Error(),
			})
			return
		}

		span.SetAttributes(attribute.String("user_id", req.UserID), attribute.Int("history_turns", len(req.History)))

		res := orch.Run(ctx, hybrid.Request{
			Query:   req.Query,
			UserID:  req.UserID,
			History: req.History,
		})

		span.SetAttributes(attribute.String("request_id", res.RequestID), attribute.String("query_type", res.QueryType))
		if res.Error != nil {
			span.SetStatus(codes.Error, *res.Error)
		}

		c.JSON(http.StatusOK, ToChatResponse(res, time.Since(start)))
	}
}

// ToChatResponse maps an orchestration result onto the wire response.
func ToChatResponse(res hybrid.Result, elapsed time.Duration) datatypes.ChatQueryResponse {
	sources := res.Sources
	if sources == nil {
		sources = []string{}
	}
	return datatypes.ChatQueryResponse{
		RequestID:                  res.RequestID,
		Answer:                     res.Answer,
		QueryTypeDebug:             res.QueryType,
		DecomposedDocQuestionDebug: res.DecomposedDocumentQuestion,
		DecomposedDBQuestionDebug:  res.DecomposedDatabaseQuestion,
		GeneratedSQL:               res.GeneratedSQL,
		Sources:                    sources,
		DebugInfoOrchestrator:      res.DebugInfo,
		Error:                      res.Error,
		ProcessingTimeMs:           elapsed.Milliseconds(),
	}
}
