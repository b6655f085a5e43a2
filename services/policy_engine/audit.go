// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package policy_engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gowebpki/jcs"
	"github.com/rajarshiroydev/AgriFlow-AI/pkg/extensions"
)

// DigestRecord returns the sha256 hex digest of the RFC 8785 canonical
// JSON form of record, excluding its Digest field.
func DigestRecord(record extensions.AuditRecord) (string, error) {
	record.Digest = ""
	raw, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("marshal audit record: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize audit record: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// =============================================================================
// slog sink
// =============================================================================

// SlogAuditSink writes each record as a structured log line.
type SlogAuditSink struct {
	logger *slog.Logger
}

// NewSlogAuditSink creates a sink on logger. Nil uses slog.Default().
func NewSlogAuditSink(logger *slog.Logger) *SlogAuditSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogAuditSink{logger: logger}
}

func (s *SlogAuditSink) Record(ctx context.Context, r extensions.AuditRecord) error {
	level := slog.LevelInfo
	if !r.Granted {
		level = slog.LevelWarn
	}
	s.logger.Log(ctx, level, "AUDIT access decision",
		"request_id", r.RequestID,
		"user_id", r.UserID,
		"user_name", r.UserName,
		"role", r.Role,
		"region", r.Region,
		"resource_type", r.ResourceType,
		"query", r.QueryText,
		"outcome", r.Outcome(),
		"digest", r.Digest,
	)
	return nil
}

func (s *SlogAuditSink) Flush(ctx context.Context) error { return nil }

var _ extensions.AuditSink = (*SlogAuditSink)(nil)

// =============================================================================
// Redis stream sink
// =============================================================================

// DefaultAuditStream is the Redis stream key used when none is configured.
const DefaultAuditStream = "agriflow:audit"

// RedisAuditSink appends records to a Redis stream with XADD.
type RedisAuditSink struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewRedisAuditSink connects to redisURL and verifies the connection.
//
// # Inputs
//
//   - redisURL: "redis://[:password@]host:port[/db]".
//   - stream: Stream key. Empty uses DefaultAuditStream.
//   - maxLen: Approximate stream cap. Zero leaves the stream unbounded.
func NewRedisAuditSink(ctx context.Context, redisURL, stream string, maxLen int64) (*RedisAuditSink, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	if stream == "" {
		stream = DefaultAuditStream
	}
	return &RedisAuditSink{client: client, stream: stream, maxLen: maxLen}, nil
}

func (s *RedisAuditSink) Record(ctx context.Context, r extensions.AuditRecord) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}
	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]interface{}{
			"user_id":       r.UserID,
			"resource_type": r.ResourceType,
			"granted":       strconv.FormatBool(r.Granted),
			"digest":        r.Digest,
			"record":        string(payload),
		},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}
	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd audit record: %w", err)
	}
	return nil
}

func (s *RedisAuditSink) Flush(ctx context.Context) error { return nil }

// Close releases the Redis connection pool.
func (s *RedisAuditSink) Close() error {
	return s.client.Close()
}

var _ extensions.AuditSink = (*RedisAuditSink)(nil)
