// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm provides the text-generation capability used by every
// agent in the router: decomposition, refinement, synthesis, NL→SQL
// and document answering.
//
// Backends implement LLMClient. Callers never see transport details;
// they pass a prompt and GenerationParams and receive text or an error.
// WithTimeout bounds every call so a stalled backend cannot hang a
// request.
package llm

import (
	"context"
	"errors"
)

// ErrEmptyResponse is returned when a backend answers without text.
var ErrEmptyResponse = errors.New("llm returned an empty response")

// GenerationParams tunes a single generation call.
//
// Nil pointer fields leave the backend default in place.
type GenerationParams struct {
	Temperature *float32
	TopK        *int
	TopP        *float32
	MaxTokens   *int
	Stop        []string
}

// LLMClient generates text for a prompt.
//
// Implementations must honour ctx cancellation and must not retry.
type LLMClient interface {
	Generate(ctx context.Context, prompt string, params GenerationParams) (string, error)
}

// Float32 returns a pointer to v.
func Float32(v float32) *float32 { return &v }

// Int returns a pointer to v.
func Int(v int) *int { return &v }
