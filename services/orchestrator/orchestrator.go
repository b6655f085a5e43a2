// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package orchestrator assembles the AgriFlow query router service.
//
// This package wires every component behind the HTTP surface: access
// profiles and the keyword gate, the document and SQL capabilities, the
// hybrid engine, audit sinks, metrics and tracing.
//
// # Degraded Operation
//
// Only the profile table and the sensitivity policy are mandatory. A
// missing LLM, database or vector store is logged and the matching
// capability answers with its "not initialized" message instead.
//
// # Usage
//
//	cfg := orchestrator.Config{Port: 12210}
//	svc, err := orchestrator.New(ctx, cfg, nil)
//	if err != nil {
//	    return err
//	}
//	defer svc.Close(ctx)
//	return svc.Run(ctx)
package orchestrator

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/rajarshiroydev/AgriFlow-AI/pkg/extensions"
	"github.com/rajarshiroydev/AgriFlow-AI/services/document_agent"
	"github.com/rajarshiroydev/AgriFlow-AI/services/llm"
	"github.com/rajarshiroydev/AgriFlow-AI/services/orchestrator/handlers"
	"github.com/rajarshiroydev/AgriFlow-AI/services/orchestrator/hybrid"
	"github.com/rajarshiroydev/AgriFlow-AI/services/orchestrator/middleware"
	"github.com/rajarshiroydev/AgriFlow-AI/services/orchestrator/observability"
	"github.com/rajarshiroydev/AgriFlow-AI/services/orchestrator/routes"
	"github.com/rajarshiroydev/AgriFlow-AI/services/policy_engine"
	"github.com/rajarshiroydev/AgriFlow-AI/services/sql_agent"
)

// =============================================================================
// Configuration
// =============================================================================

// ServiceName is reported to the trace collector and stamped on logs.
const ServiceName = "agriflow-orchestrator"

// Config holds orchestrator configuration options.
//
// # Description
//
// Values come from a YAML or TOML file and environment overrides (see
// cmd/orchestrator/config). Zero values are replaced by
// applyConfigDefaults.
//
// # Examples
//
//	port: 12210
//	llm:
//	  backend: ollama
//	  base_url: http://localhost:11434
//	  model: llama3.1
//	database:
//	  driver: sqlite
//	  url: ./data/supply_chain.db
//	weaviate:
//	  url: http://localhost:8080
type Config struct {
	// Port is the HTTP server port. Default: 12210
	Port int `yaml:"port" toml:"port"`

	// GinMode sets the Gin framework mode: "debug", "release" or "test".
	// Default: "release"
	GinMode string `yaml:"gin_mode" toml:"gin_mode"`

	// LLM selects the model backend. Default backend: "ollama" at
	// http://localhost:11434, timeout 120s.
	LLM llm.BackendConfig `yaml:"llm" toml:"llm"`

	// Database locates the transactional table. Empty URL disables the
	// SQL capability.
	Database DatabaseConfig `yaml:"database" toml:"database"`

	// SQL tunes the NL→SQL agent and its executor.
	SQL SQLConfig `yaml:"sql" toml:"sql"`

	// Weaviate locates the policy document store. Empty URL disables
	// the document capability.
	Weaviate WeaviateConfig `yaml:"weaviate" toml:"weaviate"`

	// Audit configures the Redis stream sink. Audit records always go
	// to the structured log as well.
	Audit AuditConfig `yaml:"audit" toml:"audit"`

	// OTelEndpoint is the OTLP gRPC collector. Empty disables tracing.
	OTelEndpoint string `yaml:"otel_endpoint" toml:"otel_endpoint"`

	// ProfilesPath replaces the embedded access profile table.
	ProfilesPath string `yaml:"profiles_path" toml:"profiles_path"`

	// RateLimit throttles /api/v1 per client IP. Default: 1 rps, burst 5.
	RateLimit middleware.RateLimitConfig `yaml:"rate_limit" toml:"rate_limit"`

	// ShutdownTimeout bounds graceful shutdown. Default: 10s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" toml:"shutdown_timeout"`
}

// DatabaseConfig locates the SQL database.
type DatabaseConfig struct {
	// Driver is "postgres" or "sqlite". Default: "postgres"
	Driver string `yaml:"driver" toml:"driver"`
	URL    string `yaml:"url" toml:"url"`
}

// SQLConfig groups the agent and executor settings.
type SQLConfig struct {
	Agent    sql_agent.Config         `yaml:"agent" toml:"agent"`
	Executor sql_agent.ExecutorConfig `yaml:"executor" toml:"executor"`
}

// WeaviateConfig locates the document store.
type WeaviateConfig struct {
	URL string `yaml:"url" toml:"url"`

	// Class is the collection holding policy chunks. Default: "PolicyDocument"
	Class string `yaml:"class" toml:"class"`

	// Vectorizer is set on the class when it is created. Default: "none"
	Vectorizer string `yaml:"vectorizer" toml:"vectorizer"`

	// TopK is how many passages feed one answer. Default: 3
	TopK int `yaml:"top_k" toml:"top_k"`
}

// AuditConfig configures the Redis audit stream.
type AuditConfig struct {
	// RedisURL enables the stream sink, e.g. "redis://localhost:6379/0".
	RedisURL string `yaml:"redis_url" toml:"redis_url"`

	// Stream is the stream key. Default: "agriflow:audit"
	Stream string `yaml:"stream" toml:"stream"`

	// MaxLen approximately caps the stream. Zero leaves it unbounded.
	MaxLen int64 `yaml:"max_len" toml:"max_len"`
}

// WithDefaults returns cfg with every zero field replaced by its default.
func WithDefaults(cfg Config) Config {
	return applyConfigDefaults(cfg)
}

// applyConfigDefaults fills in missing configuration values.
func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 12210
	}
	if cfg.GinMode == "" {
		cfg.GinMode = gin.ReleaseMode
	}
	if cfg.LLM.Backend == "" {
		cfg.LLM.Backend = "ollama"
	}
	if cfg.LLM.Backend == "ollama" && cfg.LLM.BaseURL == "" {
		cfg.LLM.BaseURL = "http://localhost:11434"
	}
	if cfg.LLM.Timeout == 0 {
		cfg.LLM.Timeout = llm.DefaultCallTimeout
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "postgres"
	}
	if cfg.SQL.Executor.Table == "" {
		cfg.SQL.Executor.Table = sql_agent.DefaultTable
	}
	if cfg.SQL.Agent.Table == "" {
		cfg.SQL.Agent.Table = cfg.SQL.Executor.Table
	}
	if cfg.Weaviate.Class == "" {
		cfg.Weaviate.Class = document_agent.DefaultClass
	}
	if cfg.Weaviate.TopK == 0 {
		cfg.Weaviate.TopK = document_agent.DefaultTopK
	}
	if cfg.Audit.Stream == "" {
		cfg.Audit.Stream = policy_engine.DefaultAuditStream
	}
	if cfg.RateLimit == (middleware.RateLimitConfig{}) {
		cfg.RateLimit = middleware.DefaultRateLimitConfig()
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	return cfg
}

// =============================================================================
// Service
// =============================================================================

// Service is the assembled query router.
//
// # Thread Safety
//
// Thread-safe after construction. Run should be called at most once.
type Service struct {
	config   Config
	logger   *slog.Logger
	router   *gin.Engine
	engine   *hybrid.Engine
	profiles *policy_engine.ProfileStore
	policy   policy_engine.Policy
	metrics  *observability.QueryMetrics
	registry *prometheus.Registry
	audit    extensions.AuditSink

	sqlAgent *sql_agent.Agent
	docAgent *document_agent.Agent

	// closers run in reverse order on Close.
	closers []func(context.Context) error
}

// New creates a Service with the given configuration.
//
// # Description
//
// New initializes all components:
//  1. Applies default configuration for missing values
//  2. Initializes OpenTelemetry tracing when an endpoint is set
//  3. Loads access profiles and the sensitivity policy
//  4. Builds the audit fan-out (log, metrics, Redis, caller sink)
//  5. Creates the LLM client, database executor and document retriever
//  6. Builds the hybrid engine and HTTP routes
//
// # Inputs
//
//   - ctx: Bounds connection checks made during start-up.
//   - cfg: Service configuration. Zero values use defaults.
//   - opts: Extra audit sink or observer. May be nil. A non-nil
//     Observer replaces the built-in metrics observer.
//
// # Outputs
//
//   - *Service: Ready-to-run service. Call Close when done.
//   - error: Profile or policy loading failed, or a configured Redis
//     audit stream is unreachable.
//
// # Limitations
//
//   - No hot-reload of configuration
//   - Single LLM backend per instance
func New(ctx context.Context, cfg Config, opts *extensions.ServiceOptions) (*Service, error) {
	cfg = applyConfigDefaults(cfg)
	s := &Service{
		config:   cfg,
		logger:   slog.Default().With("service", ServiceName),
		registry: prometheus.NewRegistry(),
	}

	if cfg.OTelEndpoint != "" {
		cleanup, err := initTracer(ctx, cfg.OTelEndpoint)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize tracer: %w", err)
		}
		s.closers = append(s.closers, cleanup)
	}

	s.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	s.metrics = observability.NewQueryMetrics(s.registry)

	if err := s.initAccessControl(ctx, opts); err != nil {
		_ = s.Close(ctx)
		return nil, err
	}

	llmClient := s.initLLMClient()
	s.sqlAgent = sql_agent.NewAgent(llmClient, s.initExecutor(), cfg.SQL.Agent, s.logger.With("capability", "sql"))
	s.docAgent = document_agent.NewAgent(s.initRetriever(ctx), llmClient, cfg.Weaviate.TopK, s.logger.With("capability", "documents"))

	serviceOpts := extensions.DefaultOptions().WithAudit(s.audit).WithObserver(s.metrics)
	if opts != nil && opts.Observer != nil {
		serviceOpts = serviceOpts.WithObserver(opts.Observer)
	}

	gate := policy_engine.NewGate(s.profiles, s.policy, s.audit, s.logger.With("component", "gate"))
	engine, err := hybrid.NewEngine(hybrid.Config{
		LLM:       llmClient,
		Documents: s.docAgent,
		SQL:       s.sqlAgent,
		Gate:      gate,
		Profiles:  s.profiles,
		Logger:    s.logger.With("component", "hybrid"),
	}, serviceOpts)
	if err != nil {
		_ = s.Close(ctx)
		return nil, fmt.Errorf("failed to build hybrid engine: %w", err)
	}
	s.engine = engine

	s.initRouter()
	return s, nil
}

// Router returns the configured Gin engine.
func (s *Service) Router() *gin.Engine { return s.router }

// Engine returns the hybrid engine for in-process use.
func (s *Service) Engine() *hybrid.Engine { return s.engine }

// Profiles returns the loaded access profile table.
func (s *Service) Profiles() *policy_engine.ProfileStore { return s.profiles }

// Run serves HTTP until ctx is cancelled, then shuts down gracefully.
func (s *Service) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting orchestrator server", "port", s.config.Port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down orchestrator server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

// Close flushes audit sinks and releases connections. Safe to call more
// than once.
func (s *Service) Close(ctx context.Context) error {
	var errs []error
	if s.audit != nil {
		if err := s.audit.Flush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flush audit: %w", err))
		}
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

// =============================================================================
// Private Initialization Methods
// =============================================================================

func (s *Service) initAccessControl(ctx context.Context, opts *extensions.ServiceOptions) error {
	var err error
	if s.config.ProfilesPath != "" {
		s.profiles, err = policy_engine.LoadProfileStore(s.config.ProfilesPath)
	} else {
		s.profiles, err = policy_engine.NewProfileStore()
	}
	if err != nil {
		return fmt.Errorf("failed to load access profiles: %w", err)
	}
	if s.policy, err = policy_engine.LoadPolicy(); err != nil {
		return fmt.Errorf("failed to load sensitivity policy: %w", err)
	}

	sinks := []extensions.AuditSink{
		policy_engine.NewSlogAuditSink(s.logger.With("component", "audit")),
		s.metrics,
	}
	if s.config.Audit.RedisURL != "" {
		redisSink, err := policy_engine.NewRedisAuditSink(ctx, s.config.Audit.RedisURL, s.config.Audit.Stream, s.config.Audit.MaxLen)
		if err != nil {
			return fmt.Errorf("failed to initialize audit stream: %w", err)
		}
		s.closers = append(s.closers, func(context.Context) error { return redisSink.Close() })
		sinks = append(sinks, redisSink)
		s.logger.Info("Audit stream enabled", "stream", s.config.Audit.Stream)
	}
	if opts != nil && opts.AuditSink != nil {
		sinks = append(sinks, opts.AuditSink)
	}
	s.audit = extensions.NewMultiSink(sinks...)
	return nil
}

func (s *Service) initLLMClient() llm.LLMClient {
	client, err := llm.NewClient(s.config.LLM)
	if err != nil {
		s.logger.Warn("LLM client unavailable, orchestration will fail at decomposition",
			"backend", s.config.LLM.Backend, "error", err)
		return nil
	}
	s.logger.Info("LLM client initialized", "backend", s.config.LLM.Backend)
	return client
}

// initExecutor returns nil when no database is configured or reachable.
func (s *Service) initExecutor() sql_agent.QueryExecutor {
	if s.config.Database.URL == "" {
		s.logger.Info("Database URL not configured, SQL capability disabled")
		return nil
	}
	db, dialect, err := sql_agent.OpenDatabase(s.config.Database.Driver, s.config.Database.URL)
	if err != nil {
		s.logger.Warn("Database unavailable, SQL capability disabled", "error", err)
		return nil
	}
	s.closers = append(s.closers, closeDB(db))

	execCfg := s.config.SQL.Executor
	if execCfg.Dialect == "" {
		execCfg.Dialect = dialect
	}
	s.logger.Info("Database connected", "driver", s.config.Database.Driver, "table", execCfg.Table)
	return sql_agent.NewDBExecutor(db, execCfg)
}

func closeDB(db *sql.DB) func(context.Context) error {
	return func(context.Context) error { return db.Close() }
}

// initRetriever returns nil when no vector store is configured or reachable.
func (s *Service) initRetriever(ctx context.Context) document_agent.Retriever {
	if s.config.Weaviate.URL == "" {
		s.logger.Info("Weaviate URL not configured, document capability disabled")
		return nil
	}
	client, err := document_agent.NewWeaviateClient(s.config.Weaviate.URL)
	if err != nil {
		s.logger.Warn("Weaviate client unavailable, document capability disabled", "error", err)
		return nil
	}
	class := document_agent.DocumentClass(s.config.Weaviate.Class, s.config.Weaviate.Vectorizer)
	if err := document_agent.EnsureSchema(ctx, client, class); err != nil {
		s.logger.Warn("Weaviate schema check failed, retrieval may be degraded", "error", err)
	}
	s.logger.Info("Weaviate client initialized", "url", s.config.Weaviate.URL, "class", s.config.Weaviate.Class)
	return document_agent.NewWeaviateRetriever(client, s.config.Weaviate.Class)
}

func (s *Service) initRouter() {
	gin.SetMode(s.config.GinMode)
	s.router = gin.New()
	s.router.Use(gin.Recovery())
	s.router.Use(otelgin.Middleware(ServiceName))

	routes.SetupRoutes(s.router, routes.Dependencies{
		Orchestrator: s.engine,
		Profiles:     s.profiles,
		Probes: map[string]handlers.ReadinessProbe{
			"sql":       s.sqlAgent.Ready,
			"documents": s.docAgent.Ready,
		},
		RateLimit: s.config.RateLimit,
		Metrics:   promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}),
	})
}

// initTracer initializes OpenTelemetry distributed tracing.
//
// # Limitations
//
//   - Uses insecure gRPC connection (appropriate for internal networks)
func initTracer(ctx context.Context, endpoint string) (func(context.Context) error, error) {
	conn, err := grpc.NewClient(endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
	}

	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String(ServiceName)))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(traceExporter))

	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := traceProvider.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown tracer provider: %w", err)
		}
		return conn.Close()
	}, nil
}
