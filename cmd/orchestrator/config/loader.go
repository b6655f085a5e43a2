// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads orchestrator.Config from a file and the environment.
//
// Precedence, lowest first: built-in defaults (applied later by
// orchestrator.New), the config file, environment variables, flags.
//
// # Environment Variables
//
//   - AGRIFLOW_PORT: HTTP server port
//   - AGRIFLOW_PROFILES_PATH: external access profile table
//   - LLM_BACKEND_TYPE: openai, claude, anthropic or ollama
//   - LLM_MODEL, LLM_BASE_URL, LLM_API_KEY, LLM_TIMEOUT
//   - OPENAI_API_KEY / ANTHROPIC_API_KEY: used when LLM_API_KEY is unset
//   - DATABASE_DRIVER, DATABASE_URL
//   - WEAVIATE_SERVICE_URL, WEAVIATE_CLASS
//   - REDIS_URL, AUDIT_STREAM
//   - OTEL_EXPORTER_OTLP_ENDPOINT
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/rajarshiroydev/AgriFlow-AI/services/orchestrator"
)

// EnvConfigPath names a config file when no --config flag is given.
const EnvConfigPath = "AGRIFLOW_CONFIG"

// Load reads path (if non-empty) and applies environment overrides.
//
// # Inputs
//
//   - path: A .yaml, .yml or .toml file. Empty skips the file.
//
// # Outputs
//
//   - orchestrator.Config: Defaults are not yet applied.
//   - error: Unreadable file, unknown extension, decode failure, or a
//     malformed numeric or duration environment value.
func Load(path string) (orchestrator.Config, error) {
	var cfg orchestrator.Config
	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path != "" {
		if err := decodeFile(path, &cfg); err != nil {
			return cfg, err
		}
	}
	if err := ApplyEnv(&cfg, os.Getenv); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func decodeFile(path string, cfg *orchestrator.Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read the config file: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse YAML config %s: %w", path, err)
		}
	case ".toml":
		if err := toml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse TOML config %s: %w", path, err)
		}
	default:
		return fmt.Errorf("unsupported config format %q (want .yaml, .yml or .toml)", filepath.Ext(path))
	}
	return nil
}

// ApplyEnv overrides cfg with any set environment variables.
//
// getenv is os.Getenv in production and a map lookup in tests.
func ApplyEnv(cfg *orchestrator.Config, getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}

	if v := getenv("AGRIFLOW_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid AGRIFLOW_PORT %q: %w", v, err)
		}
		cfg.Port = port
	}
	str("AGRIFLOW_PROFILES_PATH", &cfg.ProfilesPath)

	str("LLM_BACKEND_TYPE", &cfg.LLM.Backend)
	str("LLM_MODEL", &cfg.LLM.Model)
	str("LLM_BASE_URL", &cfg.LLM.BaseURL)
	str("LLM_API_KEY", &cfg.LLM.APIKey)
	if cfg.LLM.APIKey == "" {
		switch strings.ToLower(cfg.LLM.Backend) {
		case "openai":
			str("OPENAI_API_KEY", &cfg.LLM.APIKey)
		case "claude", "anthropic":
			str("ANTHROPIC_API_KEY", &cfg.LLM.APIKey)
		}
	}
	if v := getenv("LLM_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid LLM_TIMEOUT %q: %w", v, err)
		}
		cfg.LLM.Timeout = d
	}

	str("DATABASE_DRIVER", &cfg.Database.Driver)
	str("DATABASE_URL", &cfg.Database.URL)

	// Values copied from compose files sometimes keep their quotes.
	if v := strings.Trim(getenv("WEAVIATE_SERVICE_URL"), "\"' "); v != "" {
		cfg.Weaviate.URL = v
	}
	str("WEAVIATE_CLASS", &cfg.Weaviate.Class)

	str("REDIS_URL", &cfg.Audit.RedisURL)
	str("AUDIT_STREAM", &cfg.Audit.Stream)

	str("OTEL_EXPORTER_OTLP_ENDPOINT", &cfg.OTelEndpoint)
	return nil
}
