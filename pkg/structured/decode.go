// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package structured extracts JSON objects from free-form model output.
//
// Language models asked for JSON frequently wrap it in markdown fences or
// surround it with narration. DecodeObject tries a fixed chain of
// candidates and validates the first one that parses against a compiled
// JSON schema.
//
// # Fallback Chain
//
//  1. The body of the first ```json fenced block.
//  2. The span from the first '{' to the last '}'.
//  3. The whole trimmed text.
//
// The first candidate that parses as a JSON object is the only one
// validated. A parse or schema failure never panics; the caller gets
// ErrDecodeExhausted or ErrSchemaMismatch.
package structured

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonschema"
)

var (
	// ErrDecodeExhausted means no candidate parsed as a JSON object.
	ErrDecodeExhausted = errors.New("no JSON object found in text")

	// ErrSchemaMismatch means a JSON object parsed but failed validation.
	ErrSchemaMismatch = errors.New("JSON object does not match schema")
)

var jsonFence = regexp.MustCompile("(?s)```json\\s*(.*?)\\s*```")

// Schema is a compiled JSON schema.
type Schema struct {
	compiled *jsonschema.Schema
}

// CompileSchema compiles a JSON schema document.
func CompileSchema(doc []byte) (*Schema, error) {
	compiler := jsonschema.NewCompiler()
	compiled, err := compiler.Compile(doc)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &Schema{compiled: compiled}, nil
}

// MustCompileSchema is CompileSchema for package-level schemas.
func MustCompileSchema(doc []byte) *Schema {
	s, err := CompileSchema(doc)
	if err != nil {
		panic(err)
	}
	return s
}

// Validate checks raw JSON bytes against the schema.
func (s *Schema) Validate(data []byte) error {
	result := s.compiled.ValidateJSON(data)
	if result.IsValid() {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrSchemaMismatch, result.Errors)
}

// Candidates returns the ordered decode candidates for text.
func Candidates(text string) []string {
	var out []string
	if m := jsonFence.FindStringSubmatch(text); m != nil {
		out = append(out, strings.TrimSpace(m[1]))
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start != -1 && end > start {
		out = append(out, text[start:end+1])
	}
	if trimmed := strings.TrimSpace(text); trimmed != "" {
		out = append(out, trimmed)
	}
	return out
}

// DecodeObject decodes the first JSON object found in text into out.
//
// # Description
//
// Walks Candidates(text) and stops at the first candidate that parses
// as a JSON object. That candidate is validated against schema (when
// non-nil) and unmarshaled into out.
//
// # Inputs
//
//   - text: Raw model output.
//   - schema: Optional compiled schema. Nil skips validation.
//   - out: Pointer to the destination value.
//
// # Outputs
//
//   - error: ErrDecodeExhausted, ErrSchemaMismatch (wrapped), or an
//     unmarshal error. Nil on success.
func DecodeObject(text string, schema *Schema, out any) error {
	for _, candidate := range Candidates(text) {
		var probe map[string]any
		if err := json.Unmarshal([]byte(candidate), &probe); err != nil {
			continue
		}
		if schema != nil {
			if err := schema.Validate([]byte(candidate)); err != nil {
				return err
			}
		}
		if err := json.Unmarshal([]byte(candidate), out); err != nil {
			return fmt.Errorf("unmarshal candidate: %w", err)
		}
		return nil
	}
	return ErrDecodeExhausted
}
