// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package document_agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
)

// DefaultClass is the Weaviate class holding policy chunks.
const DefaultClass = "PolicyDocument"

// ErrStoreUnavailable means no vector store is configured.
var ErrStoreUnavailable = errors.New("vector store is not available")

// Passage is one retrieved chunk.
type Passage struct {
	Content string
	Source  string
}

// Retriever returns the k passages most relevant to question.
type Retriever interface {
	Retrieve(ctx context.Context, question string, k int) ([]Passage, error)
}

// NewWeaviateClient builds a client from a service URL such as
// "http://weaviate:8080". The URL must carry a scheme and host.
func NewWeaviateClient(rawURL string) (*weaviate.Client, error) {
	rawURL = strings.Trim(rawURL, "\"' ")
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid weaviate url %q", rawURL)
	}
	client, err := weaviate.NewClient(weaviate.Config{Host: parsed.Host, Scheme: parsed.Scheme})
	if err != nil {
		return nil, fmt.Errorf("create weaviate client: %w", err)
	}
	return client, nil
}

// DocumentClass returns the schema for the policy chunk class.
// vectorizer "none" disables nearText and leaves BM25 only.
func DocumentClass(class, vectorizer string) *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true
	if vectorizer == "" {
		vectorizer = "none"
	}

	return &models.Class{
		Class:               class,
		Description:         "A chunk of a company policy document.",
		Vectorizer:          vectorizer,
		InvertedIndexConfig: &models.InvertedIndexConfig{IndexTimestamps: true},
		Properties: []*models.Property{
			{
				Name:         "content",
				DataType:     []string{"text"},
				Description:  "The chunk text.",
				Tokenization: "word",
			},
			{
				Name:            "source",
				DataType:        []string{"text"},
				Description:     "The file the chunk was read from.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "chunk_index",
				DataType:        []string{"int"},
				Description:     "Position of the chunk within its source.",
				IndexFilterable: indexFilterable,
			},
			{
				Name:            "ingested_at",
				DataType:        []string{"number"},
				Description:     "Unix milliseconds when the chunk was imported.",
				IndexFilterable: indexFilterable,
			},
		},
	}
}

// EnsureSchema creates class when it does not exist yet.
func EnsureSchema(ctx context.Context, client *weaviate.Client, class *models.Class) error {
	if _, err := client.Schema().ClassGetter().WithClassName(class.Class).Do(ctx); err == nil {
		slog.Debug("Schema already exists", "class", class.Class)
		return nil
	}
	slog.Info("Schema not found, creating it", "class", class.Class)
	if err := client.Schema().ClassCreator().WithClass(class).Do(ctx); err != nil {
		return fmt.Errorf("create schema for class %s: %w", class.Class, err)
	}
	return nil
}

// WeaviateRetriever searches the policy class with nearText and falls
// back to BM25 when the class has no vectorizer or nearText fails.
type WeaviateRetriever struct {
	client *weaviate.Client
	class  string
}

var _ Retriever = (*WeaviateRetriever)(nil)

// NewWeaviateRetriever returns a retriever over class. A nil client yields
// a retriever that always reports ErrStoreUnavailable.
func NewWeaviateRetriever(client *weaviate.Client, class string) *WeaviateRetriever {
	if class == "" {
		class = DefaultClass
	}
	return &WeaviateRetriever{client: client, class: class}
}

func (r *WeaviateRetriever) Retrieve(ctx context.Context, question string, k int) ([]Passage, error) {
	if r == nil || r.client == nil {
		return nil, ErrStoreUnavailable
	}
	ctx, span := tracer.Start(ctx, "document_agent.WeaviateRetriever.Retrieve")
	defer span.End()

	fields := []graphql.Field{{Name: "content"}, {Name: "source"}}

	nearText := r.client.GraphQL().NearTextArgBuilder().WithConcepts([]string{question})
	resp, err := r.client.GraphQL().Get().
		WithClassName(r.class).
		WithFields(fields...).
		WithNearText(nearText).
		WithLimit(k).
		Do(ctx)
	if err == nil {
		passages, perr := parsePassages(resp, r.class)
		if perr == nil {
			return passages, nil
		}
		err = perr
	}
	slog.Debug("nearText search failed, falling back to bm25", "class", r.class, "error", err)

	bm25 := r.client.GraphQL().Bm25ArgBuilder().WithQuery(question)
	resp, err = r.client.GraphQL().Get().
		WithClassName(r.class).
		WithFields(fields...).
		WithBM25(bm25).
		WithLimit(k).
		Do(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("bm25 search: %w", err)
	}
	passages, err := parsePassages(resp, r.class)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return passages, nil
}

// parsePassages reads Get.<class>[].{content,source} from a GraphQL reply.
func parsePassages(resp *models.GraphQLResponse, class string) ([]Passage, error) {
	if resp == nil {
		return nil, errors.New("nil GraphQL response")
	}
	if len(resp.Errors) > 0 {
		msgs := make([]string, 0, len(resp.Errors))
		for _, e := range resp.Errors {
			if e != nil {
				msgs = append(msgs, e.Message)
			}
		}
		return nil, fmt.Errorf("graphql: %s", strings.Join(msgs, "; "))
	}

	raw, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("marshal GraphQL response data: %w", err)
	}
	var parsed struct {
		Get map[string][]struct {
			Content string `json:"content"`
			Source  string `json:"source"`
		} `json:"Get"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("unmarshal GraphQL response data: %w", err)
	}

	items := parsed.Get[class]
	passages := make([]Passage, 0, len(items))
	for _, it := range items {
		passages = append(passages, Passage{Content: it.Content, Source: it.Source})
	}
	return passages, nil
}
