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
	"fmt"
	"strings"
	"time"
)

// BackendConfig selects and configures an LLM backend.
type BackendConfig struct {
	// Backend is one of "openai", "claude" (alias "anthropic"), "ollama".
	Backend string `yaml:"backend" toml:"backend"`

	Model        string        `yaml:"model" toml:"model"`
	APIKey       string        `yaml:"api_key" toml:"api_key"`
	BaseURL      string        `yaml:"base_url" toml:"base_url"`
	SystemPrompt string        `yaml:"system_prompt" toml:"system_prompt"`
	Timeout      time.Duration `yaml:"timeout" toml:"timeout"`
}

// NewClient constructs the configured backend wrapped with WithTimeout.
func NewClient(cfg BackendConfig) (LLMClient, error) {
	var (
		client LLMClient
		err    error
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "openai":
		client, err = NewOpenAIClient(cfg)
	case "claude", "anthropic":
		client, err = NewAnthropicClient(cfg)
	case "ollama":
		client, err = NewOllamaClient(cfg)
	default:
		return nil, fmt.Errorf("unknown LLM backend type: %q", cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s client: %w", cfg.Backend, err)
	}
	return WithTimeout(client, cfg.Timeout), nil
}
