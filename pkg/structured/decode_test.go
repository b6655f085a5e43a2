// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package structured

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pairSchema = MustCompileSchema([]byte(`{
  "type": "object",
  "required": ["name", "note"],
  "properties": {
    "name": {"type": "string"},
    "note": {"type": ["string", "null"]}
  }
}`))

type pair struct {
	Name string  `json:"name"`
	Note *string `json:"note"`
}

func TestDecodeObject_FallbackChain(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		wantName string
	}{
		{
			name:     "fenced block",
			text:     "Sure, here it is:\n```json\n{\"name\": \"fenced\", \"note\": null}\n```\nDone.",
			wantName: "fenced",
		},
		{
			name:     "brace span with narration",
			text:     "The answer is {\"name\": \"span\", \"note\": \"x\"} hope that helps",
			wantName: "span",
		},
		{
			name:     "bare object",
			text:     "  {\"name\": \"bare\", \"note\": null}  ",
			wantName: "bare",
		},
		{
			name:     "fence wins over later braces",
			text:     "```json\n{\"name\": \"first\", \"note\": null}\n```\n{\"name\": \"second\", \"note\": null}",
			wantName: "first",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got pair
			require.NoError(t, DecodeObject(tt.text, pairSchema, &got))
			assert.Equal(t, tt.wantName, got.Name)
		})
	}
}

func TestDecodeObject_NullableField(t *testing.T) {
	var got pair
	require.NoError(t, DecodeObject(`{"name": "n", "note": null}`, pairSchema, &got))
	assert.Nil(t, got.Note)
}

func TestDecodeObject_Exhausted(t *testing.T) {
	for _, text := range []string{"", "no json here", "{not json}", "[1, 2, 3]"} {
		var got pair
		err := DecodeObject(text, pairSchema, &got)
		assert.ErrorIs(t, err, ErrDecodeExhausted, "text=%q", text)
	}
}

func TestDecodeObject_MissingRequiredKey(t *testing.T) {
	var got pair
	err := DecodeObject(`{"name": "only"}`, pairSchema, &got)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSchemaMismatch))
}

func TestDecodeObject_WrongType(t *testing.T) {
	var got pair
	err := DecodeObject(`{"name": 7, "note": null}`, pairSchema, &got)
	assert.ErrorIs(t, err, ErrSchemaMismatch)
}

func TestDecodeObject_NilSchemaSkipsValidation(t *testing.T) {
	var got map[string]any
	require.NoError(t, DecodeObject(`{"anything": true}`, nil, &got))
	assert.Equal(t, true, got["anything"])
}

func TestCandidates_Order(t *testing.T) {
	got := Candidates("x ```json\n{\"a\":1}\n``` y")
	require.Len(t, got, 3)
	assert.Equal(t, `{"a":1}`, got[0])
	assert.Equal(t, `{"a":1}`, got[1])
}
