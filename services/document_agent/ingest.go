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
	"crypto/sha256"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/tmc/langchaingo/textsplitter"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate/entities/models"
)

const (
	ChunkSize    = 1000
	ChunkOverlap = ChunkSize / 10
)

var (
	defaultSeparators  = []string{"\n\n", "\n", " ", ""}
	markdownSeparators = []string{"\n# ", "\n## ", "\n### ", "\n#### ", "\n\n", "\n", " ", ""}
	ingestExtensions   = map[string]bool{".txt": true, ".md": true}
)

// ObjectWriter persists a batch of objects and returns how many were stored.
type ObjectWriter interface {
	WriteObjects(ctx context.Context, objects []*models.Object) (int, error)
}

// WeaviateWriter batch-imports objects.
type WeaviateWriter struct {
	client *weaviate.Client
}

// NewWeaviateWriter wraps client.
func NewWeaviateWriter(client *weaviate.Client) *WeaviateWriter {
	return &WeaviateWriter{client: client}
}

func (w *WeaviateWriter) WriteObjects(ctx context.Context, objects []*models.Object) (int, error) {
	if w == nil || w.client == nil {
		return 0, ErrStoreUnavailable
	}
	resp, err := w.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("batch import: %w", err)
	}

	stored := 0
	for _, item := range resp {
		if item.Result != nil && item.Result.Status != nil && *item.Result.Status == "SUCCESS" {
			stored++
			continue
		}
		if item.Result != nil && item.Result.Errors != nil {
			for _, e := range item.Result.Errors.Error {
				slog.Warn("Error in Weaviate batch item", "error", e.Message)
			}
		}
	}
	return stored, nil
}

// Ingester splits policy text into chunks and stores them.
type Ingester struct {
	writer   ObjectWriter
	class    string
	now      func() time.Time
	logger   *slog.Logger
	splitter textsplitter.TextSplitter
	markdown textsplitter.TextSplitter
}

// NewIngester builds an Ingester writing to class through writer.
func NewIngester(writer ObjectWriter, class string, logger *slog.Logger) *Ingester {
	if class == "" {
		class = DefaultClass
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingester{
		writer: writer,
		class:  class,
		now:    time.Now,
		logger: logger,
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(ChunkSize),
			textsplitter.WithChunkOverlap(ChunkOverlap),
			textsplitter.WithSeparators(defaultSeparators),
		),
		markdown: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(ChunkSize),
			textsplitter.WithChunkOverlap(ChunkOverlap),
			textsplitter.WithSeparators(markdownSeparators),
		),
	}
}

// Objects splits content into chunk objects. IDs are derived from the
// source and chunk text, so re-ingesting a file overwrites its chunks.
func (in *Ingester) Objects(source, content string) ([]*models.Object, error) {
	splitter := in.splitter
	if strings.EqualFold(filepath.Ext(source), ".md") {
		splitter = in.markdown
	}
	chunks, err := splitter.SplitText(content)
	if err != nil {
		return nil, fmt.Errorf("split %s: %w", source, err)
	}

	ingestedAt := in.now().UnixMilli()
	objects := make([]*models.Object, 0, len(chunks))
	for i, chunk := range chunks {
		if strings.TrimSpace(chunk) == "" {
			continue
		}
		objects = append(objects, &models.Object{
			Class: in.class,
			ID:    chunkID(source, chunk),
			Properties: map[string]interface{}{
				"content":     chunk,
				"source":      source,
				"chunk_index": i,
				"ingested_at": ingestedAt,
			},
		})
	}
	return objects, nil
}

// IngestText stores content read from source.
func (in *Ingester) IngestText(ctx context.Context, source, content string) (int, error) {
	objects, err := in.Objects(source, content)
	if err != nil {
		return 0, err
	}
	if len(objects) == 0 {
		in.logger.Warn("No chunks produced after splitting", "source", source)
		return 0, nil
	}
	stored, err := in.writer.WriteObjects(ctx, objects)
	if err != nil {
		return 0, fmt.Errorf("store %s: %w", source, err)
	}
	in.logger.Info("Ingested document", "source", source, "chunks", len(objects), "stored", stored)
	return stored, nil
}

// IngestDir ingests every .txt and .md file under dir in path order.
// Sources are recorded relative to dir.
func (in *Ingester) IngestDir(ctx context.Context, dir string) (int, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && ingestExtensions[strings.ToLower(filepath.Ext(path))] {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("walk %s: %w", dir, err)
	}
	sort.Strings(paths)

	total := 0
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return total, fmt.Errorf("read %s: %w", path, err)
		}
		source, err := filepath.Rel(dir, path)
		if err != nil {
			source = filepath.Base(path)
		}
		n, err := in.IngestText(ctx, filepath.ToSlash(source), string(data))
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func chunkID(source, chunk string) strfmt.UUID {
	hash := sha256.Sum256([]byte(source + "\x00" + chunk))
	id, _ := uuid.FromBytes(hash[:16])
	return strfmt.UUID(id.String())
}
