// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultCallTimeout bounds a single generation call.
const DefaultCallTimeout = 120 * time.Second

// ErrCallTimeout is returned when a generation exceeds its deadline.
var ErrCallTimeout = errors.New("llm call timed out")

type timeoutClient struct {
	next    LLMClient
	timeout time.Duration
}

// WithTimeout wraps client so each Generate call gets its own deadline.
//
// A timeout is terminal for the call; nothing is retried. A
// non-positive timeout falls back to DefaultCallTimeout. The wrapped
// client must return once its context is done.
func WithTimeout(client LLMClient, timeout time.Duration) LLMClient {
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	return &timeoutClient{next: client, timeout: timeout}
}

func (t *timeoutClient) Generate(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	// Panics from next propagate to the caller's goroutine.
	text, err := t.next.Generate(callCtx, prompt, params)
	if err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return "", fmt.Errorf("%w after %s: %v", ErrCallTimeout, t.timeout, err)
	}
	return text, err
}
