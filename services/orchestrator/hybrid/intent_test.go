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
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rajarshiroydev/AgriFlow-AI/pkg/structured"
	"github.com/rajarshiroydev/AgriFlow-AI/services/orchestrator/datatypes"
)

func TestParseIntent(t *testing.T) {
	t.Run("bare object with prose", func(t *testing.T) {
		intent, err := ParseIntent(`Sure! {"query_type": "HYBRID", "document_question": "Define X", ` +
			`"database_question": "Count X", "original_query": "How many X?"} Hope that helps.`)
		require.NoError(t, err)
		assert.Equal(t, QueryHybrid, intent.QueryType)
		require.NotNil(t, intent.DocumentQuestion)
		assert.Equal(t, "Define X", *intent.DocumentQuestion)
		require.NotNil(t, intent.DatabaseQuestion)
		assert.Equal(t, "Count X", *intent.DatabaseQuestion)
	})

	t.Run("blank sub-questions become nil", func(t *testing.T) {
		intent, err := ParseIntent(`{"query_type": "DATABASE_ONLY", "document_question": "  ", ` +
			`"database_question": "Total sales", "original_query": null}`)
		require.NoError(t, err)
		assert.Nil(t, intent.DocumentQuestion)
		assert.Nil(t, intent.OriginalQuery)
	})

	t.Run("schema mismatch", func(t *testing.T) {
		_, err := ParseIntent(`{"query_type": "HYBRID"}`)
		assert.True(t, errors.Is(err, structured.ErrSchemaMismatch))
	})

	t.Run("no object", func(t *testing.T) {
		_, err := ParseIntent("HYBRID")
		assert.ErrorIs(t, err, structured.ErrDecodeExhausted)
	})
}

func TestFormatHistory(t *testing.T) {
	assert.Equal(t, "No conversation history provided.", FormatHistory(nil, 3))

	var history []datatypes.ConversationTurn
	for i := 1; i <= 5; i++ {
		history = append(history,
			datatypes.ConversationTurn{Sender: "user", Text: fmt.Sprintf("q%d", i)},
			datatypes.ConversationTurn{Sender: "assistant", Text: fmt.Sprintf("a%d", i)})
	}

	got := FormatHistory(history, 2)

	assert.Equal(t, "Previous conversation turns (most recent last):\nUser: q4\nAssistant: a4\nUser: q5\nAssistant: a5", got)
}
