// Copyright (C) 2025 Supportra AI (oss@supportra.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package assistant provides the core assistant service for SupportraCore.
//
// This package contains the main service type that coordinates all components
// of the support assistant: HTTP routing, LLM clients, conversation memory,
// knowledge retrieval, the escalation policy, and observability
// infrastructure.
//
// # Usage
//
//	cfg := assistant.Config{Port: 8490, LLMBackend: "ollama"}
//	svc, err := assistant.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(svc.Run())
package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/SupportraAI/SupportraCore/services/assistant/composer"
	"github.com/SupportraAI/SupportraCore/services/assistant/datatypes"
	"github.com/SupportraAI/SupportraCore/services/assistant/escalation"
	"github.com/SupportraAI/SupportraCore/services/assistant/memory"
	"github.com/SupportraAI/SupportraCore/services/assistant/observability"
	"github.com/SupportraAI/SupportraCore/services/assistant/retrieval"
	"github.com/SupportraAI/SupportraCore/services/assistant/routes"
	"github.com/SupportraAI/SupportraCore/services/assistant/services"
	"github.com/SupportraAI/SupportraCore/services/llm"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Service defines the contract for the assistant service.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. Run() blocks and should
// only be called once per instance.
type Service interface {
	// Run starts the HTTP server and blocks until shutdown or error.
	Run() error

	// Router returns the underlying Gin engine for testing.
	Router() *gin.Engine
}

// =============================================================================
// Configuration
// =============================================================================

// Config holds assistant service configuration options.
//
// Values can be populated from environment variables, config files, or
// programmatically for testing. All fields have defaults applied by New().
type Config struct {
	// Port is the HTTP server port. Default: 8490
	Port int

	// LLMBackend specifies the LLM provider.
	// Valid values: "openai", "ollama"
	// Default: "ollama"
	LLMBackend string

	// WeaviateURL is the Weaviate vector database URL. Required: the
	// assistant cannot hold conversations without its store.
	// Example: "http://localhost:8080"
	WeaviateURL string

	// OTelEndpoint is the OpenTelemetry collector endpoint.
	// Default: "supportra-otel-collector:4317"
	OTelEndpoint string

	// EnableMetrics enables the Prometheus metrics endpoint. The value is
	// honored as given; cmd/assistant turns it on unless the ENABLE_METRICS
	// environment variable says otherwise.
	EnableMetrics bool

	// MaxTurns caps how many conversation turns are retained per actor.
	// Default: memory.DefaultMaxTurns
	MaxTurns int

	// GinMode sets the Gin framework mode.
	// Valid values: "debug", "release", "test"
	// Default: uses GIN_MODE env var or "debug"
	GinMode string
}

// =============================================================================
// Implementation
// =============================================================================

// service implements Service for production use.
//
// Thread-safe after construction. All fields are read-only after New()
// returns.
type service struct {
	config         Config
	router         *gin.Engine
	llmClient      llm.LLMClient
	weaviateClient *weaviate.Client
	store          memory.Store
	answerService  *services.AnswerService
	tracerCleanup  func(context.Context)
}

var _ Service = (*service)(nil)

// =============================================================================
// Constructor
// =============================================================================

// New creates a new assistant Service with the given configuration.
//
// # Description
//
// New initializes all assistant components:
//  1. Applies default configuration for missing values
//  2. Initializes OpenTelemetry tracing
//  3. Initializes Prometheus metrics
//  4. Connects to Weaviate and ensures the schema
//  5. Creates the LLM client for the configured backend
//  6. Builds the retrieval, escalation, and composition layers
//  7. Sets up HTTP routes
//
// # Inputs
//
//   - cfg: Service configuration. Zero values use defaults.
//
// # Outputs
//
//   - Service: Ready-to-run assistant service
//   - error: Non-nil if initialization fails
//
// # Assumptions
//
//   - Environment variables are set for the chosen LLM provider and for
//     the embedding service (EMBEDDING_SERVICE_URL).
//   - Weaviate is running at the configured URL.
func New(cfg Config) (Service, error) {
	s := &service{
		config: applyConfigDefaults(cfg),
	}

	// Initialize OpenTelemetry tracer
	cleanup, err := s.initTracer()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	s.tracerCleanup = cleanup

	// Initialize Prometheus metrics
	var metrics *observability.AssistMetrics
	if s.config.EnableMetrics {
		metrics = observability.InitMetrics()
		slog.Info("Initialized Prometheus metrics for the assist pipeline")
	}

	// Initialize Weaviate client. Unlike retrieval, conversation memory has
	// no degraded mode, so a missing store is fatal.
	if err := s.initWeaviate(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize Weaviate: %w", err)
	}
	s.store = memory.NewWeaviateStore(s.weaviateClient, s.config.MaxTurns)

	// Initialize LLM client
	if err := s.initLLMClient(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize LLM client: %w", err)
	}

	// Build the pipeline: retrieval, escalation policy, composer.
	retriever, err := s.initRetriever()
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize retriever: %w", err)
	}

	engine, err := escalation.NewEngine()
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize escalation engine: %w", err)
	}

	s.answerService = services.NewAnswerService(
		s.store,
		retriever,
		composer.NewComposer(s.llmClient),
		engine,
		metrics,
	)

	// Setup HTTP router
	s.initRouter()

	return s, nil
}

// =============================================================================
// Service Interface Methods
// =============================================================================

// Run starts the HTTP server and blocks until shutdown or error.
func (s *service) Run() error {
	defer s.cleanup()

	addr := fmt.Sprintf(":%d", s.config.Port)
	slog.Info("Starting assistant server", "port", s.config.Port)

	return s.router.Run(addr)
}

// Router returns the underlying Gin engine for testing.
func (s *service) Router() *gin.Engine {
	return s.router
}

// =============================================================================
// Private Initialization Methods
// =============================================================================

// applyConfigDefaults fills in missing configuration values.
func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 8490
	}
	if cfg.LLMBackend == "" {
		cfg.LLMBackend = "ollama"
	}
	if cfg.OTelEndpoint == "" {
		cfg.OTelEndpoint = "supportra-otel-collector:4317"
	}
	if cfg.MaxTurns == 0 {
		cfg.MaxTurns = memory.DefaultMaxTurns
	}

	return cfg
}

// initTracer initializes OpenTelemetry distributed tracing.
//
// Uses an insecure gRPC connection, appropriate for internal networks.
func (s *service) initTracer() (func(context.Context), error) {
	ctx := context.Background()

	conn, err := grpc.NewClient(s.config.OTelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
	}

	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("assistant-service")))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))

	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	cleanup := func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}

	return cleanup, nil
}

// initWeaviate connects to the Weaviate vector database and ensures the
// schema exists.
func (s *service) initWeaviate() error {
	weaviateURL := strings.Trim(s.config.WeaviateURL, "\"' ")

	if weaviateURL == "" || !strings.Contains(weaviateURL, "http") {
		return fmt.Errorf("Weaviate URL not configured")
	}

	parsedURL, err := url.Parse(weaviateURL)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		return fmt.Errorf("invalid Weaviate URL: %s", weaviateURL)
	}

	clientConf := weaviate.Config{
		Host:   parsedURL.Host,
		Scheme: parsedURL.Scheme,
	}

	s.weaviateClient, err = weaviate.NewClient(clientConf)
	if err != nil {
		return fmt.Errorf("failed to create Weaviate client: %w", err)
	}

	datatypes.EnsureWeaviateSchema(s.weaviateClient)
	slog.Info("Weaviate client initialized", "url", weaviateURL)

	return nil
}

// initLLMClient initializes the LLM provider client.
func (s *service) initLLMClient() error {
	var err error

	switch s.config.LLMBackend {
	case "openai":
		s.llmClient, err = llm.NewOpenAIClient()
		slog.Info("Using OpenAI LLM backend")
	case "ollama":
		s.llmClient, err = llm.NewOllamaClient()
		slog.Info("Using Ollama LLM backend")
	default:
		slog.Warn("Unknown LLM backend, defaulting to ollama", "backend", s.config.LLMBackend)
		s.llmClient, err = llm.NewOllamaClient()
	}

	return err
}

// initRetriever builds the knowledge retrieval layer.
//
// The embedding client is required. The rerank client is optional: without
// it, vector order decides which passages reach the prompt.
func (s *service) initRetriever() (retrieval.Retriever, error) {
	embedder, err := retrieval.NewHTTPEmbeddingClient()
	if err != nil {
		return nil, err
	}

	var reranker retrieval.RerankClient
	if r, err := retrieval.NewHTTPRerankClient(); err != nil {
		slog.Warn("Rerank service not configured, using vector order", "error", err)
	} else {
		reranker = r
	}

	return retrieval.NewKnowledgeRetriever(
		s.weaviateClient, embedder, reranker, retrieval.DefaultSearchConfig()), nil
}

// initRouter sets up the Gin HTTP router with all routes.
func (s *service) initRouter() {
	if s.config.GinMode != "" {
		gin.SetMode(s.config.GinMode)
	}
	s.router = gin.Default()
	s.router.Use(otelgin.Middleware("assistant-service"))

	routes.SetupRoutes(s.router, s.answerService, s.store, s.config.EnableMetrics)
}

// cleanup releases all resources held by the service.
func (s *service) cleanup() {
	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
	}
}
