// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware provides HTTP middleware for the orchestrator service.
//
// # Rate Limiting Flow
//
//	Request
//	   │
//	   ▼
//	RateLimit
//	   │
//	   ├─► key := client IP
//	   │
//	   ├─► limiter(key).Allow()
//	   │       │
//	   │       ├─► false: 429 {"error": "rate limit exceeded"}
//	   │       │
//	   │       └─► true
//	   ▼
//	Handler
//
// Each orchestration issues several LLM calls, so the limiter guards the
// expensive routes only. Health and metrics stay unthrottled.
package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// =============================================================================
// Configuration
// =============================================================================

// RateLimitConfig configures per-client token buckets.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate per client. Zero or
	// negative disables limiting.
	RequestsPerSecond float64 `yaml:"requests_per_second" toml:"requests_per_second"`

	// Burst is the bucket size. Default: 5.
	Burst int `yaml:"burst" toml:"burst"`

	// IdleTTL evicts limiters not used for this long. Default: 10m.
	IdleTTL time.Duration `yaml:"idle_ttl" toml:"idle_ttl"`
}

// DefaultRateLimitConfig allows one request per second with a burst of five.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{RequestsPerSecond: 1, Burst: 5, IdleTTL: 10 * time.Minute}
}

// =============================================================================
// Limiter Registry
// =============================================================================

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ClientLimiters hands out one rate.Limiter per client key.
//
// # Thread Safety
//
// Safe for concurrent use.
type ClientLimiters struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	idleTTL  time.Duration
	clients  map[string]*clientLimiter
	now      func() time.Time
	lastScan time.Time
}

// NewClientLimiters builds a registry from cfg, filling defaults.
func NewClientLimiters(cfg RateLimitConfig) *ClientLimiters {
	if cfg.Burst <= 0 {
		cfg.Burst = 5
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 10 * time.Minute
	}
	return &ClientLimiters{
		limit:   rate.Limit(cfg.RequestsPerSecond),
		burst:   cfg.Burst,
		idleTTL: cfg.IdleTTL,
		clients: make(map[string]*clientLimiter),
		now:     time.Now,
	}
}

// Allow reports whether key may make a request now.
func (l *ClientLimiters) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.evictIdle(now)

	c, ok := l.clients[key]
	if !ok {
		c = &clientLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[key] = c
	}
	c.lastSeen = now
	return c.limiter.AllowN(now, 1)
}

// Len returns the number of tracked clients.
func (l *ClientLimiters) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

// evictIdle drops stale clients at most once per idleTTL. Caller holds mu.
func (l *ClientLimiters) evictIdle(now time.Time) {
	if now.Sub(l.lastScan) < l.idleTTL {
		return
	}
	l.lastScan = now
	for key, c := range l.clients {
		if now.Sub(c.lastSeen) >= l.idleTTL {
			delete(l.clients, key)
		}
	}
}

// =============================================================================
// Middleware
// =============================================================================

// RateLimit returns a Gin middleware that throttles by client IP.
//
// # Inputs
//
//   - cfg: Limits. RequestsPerSecond <= 0 returns a pass-through handler.
//
// # Outputs
//
//   - gin.HandlerFunc: Aborts with 429 when the client's bucket is empty.
//
// # Examples
//
//	v1 := router.Group("/api/v1")
//	v1.Use(middleware.RateLimit(cfg.RateLimit))
func RateLimit(cfg RateLimitConfig) gin.HandlerFunc {
	if cfg.RequestsPerSecond <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	limiters := NewClientLimiters(cfg)
	return func(c *gin.Context) {
		if !limiters.Allow(c.ClientIP()) {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}
