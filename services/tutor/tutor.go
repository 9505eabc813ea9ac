// Copyright (C) 2026 Elenchus AI (dev@elenchus.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tutor provides the core tutoring service for ElenchusLocal.
//
// This package contains the main service type that coordinates all
// components: HTTP routing, the LLM client, the circuit breaker
// registry, the ephemeral state store, the question source, and the
// observability infrastructure.
//
// # Usage
//
//	cfg := tutor.Config{Port: 12310, LLMBackend: "ollama"}
//	svc, err := tutor.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(svc.Run())
package tutor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
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

	"github.com/ElenchusAI/ElenchusLocal/services/llm"
	"github.com/ElenchusAI/ElenchusLocal/services/resilience"
	"github.com/ElenchusAI/ElenchusLocal/services/tutor/middleware"
	"github.com/ElenchusAI/ElenchusLocal/services/tutor/observability"
	"github.com/ElenchusAI/ElenchusLocal/services/tutor/routes"
	"github.com/ElenchusAI/ElenchusLocal/services/tutor/session"
	"github.com/ElenchusAI/ElenchusLocal/services/tutor/statestore"
)

// Service defines the contract for the tutor service.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. Run() blocks and
// should only be called once per instance.
type Service interface {
	// Run starts the HTTP server and blocks until shutdown or error.
	// A SIGINT or SIGTERM drains in-flight requests before returning.
	Run() error

	// Router returns the underlying Gin engine for testing. Callers
	// must not modify the routes after construction.
	Router() *gin.Engine
}

// Config holds tutor service configuration options.
//
// All fields are optional with defaults applied by New().
type Config struct {
	// Port is the HTTP server port. Default: 12310
	Port int

	// LLMBackend specifies the LLM provider.
	// Valid values: "openai", "ollama", "claude". Default: "ollama"
	LLMBackend string

	// WeaviateURL is the document store URL. If empty, questions come
	// from YAML files and durable session records are disabled.
	// Example: "http://localhost:8080"
	WeaviateURL string

	// QuestionBankDir holds per-topic YAML question files, used when
	// WeaviateURL is empty. Default: "./questions"
	QuestionBankDir string

	// CachePath is the directory for the ephemeral state cache.
	// If empty, state is held in process memory.
	CachePath string

	// OTelEndpoint is the OpenTelemetry collector endpoint.
	// Default: "elenchus-otel-collector:4317"
	OTelEndpoint string

	// GinMode sets the Gin framework mode.
	// Valid values: "debug", "release", "test"
	GinMode string

	// BreakerFailureThreshold is the consecutive failure count that
	// opens a breaker. Default: 5
	BreakerFailureThreshold int

	// BreakerRecoveryTimeout is the open-state cooldown before a
	// breaker probes recovery. Default: 30s
	BreakerRecoveryTimeout time.Duration

	// ShutdownTimeout bounds the drain of in-flight requests.
	// Default: 10s
	ShutdownTimeout time.Duration
}

// service implements Service for production use.
//
// Thread-safe after construction. All fields are read-only after New()
// returns.
type service struct {
	config         Config
	router         *gin.Engine
	llmClient      llm.LLMClient
	weaviateClient *weaviate.Client
	stateBackend   statestore.Backend
	breakers       *resilience.Registry
	orchestrator   *session.Orchestrator
	tracerCleanup  func(context.Context)
}

// New creates a tutor Service with the given configuration.
//
// # Description
//
// New initializes all service components:
//  1. Applies default configuration for missing values
//  2. Initializes OpenTelemetry tracing and Prometheus metrics
//  3. Opens the ephemeral state cache
//  4. Connects the question source and session repository
//  5. Creates the LLM client and the circuit breaker registry
//  6. Builds the orchestrator and HTTP routes
//
// # Outputs
//
//   - Service: Ready-to-run tutor service
//   - error: Non-nil if initialization fails
func New(cfg Config) (Service, error) {
	s := &service{
		config: applyConfigDefaults(cfg),
	}

	cleanup, err := s.initTracer()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	s.tracerCleanup = cleanup

	observability.InitMetrics()

	if err := s.initStateStore(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to open state cache: %w", err)
	}

	if err := s.initWeaviate(); err != nil {
		slog.Warn("Weaviate initialization failed, running in lightweight mode",
			"error", err)
		s.weaviateClient = nil
	}

	if err := s.initLLMClient(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize LLM client: %w", err)
	}

	s.initBreakers()

	if err := s.initOrchestrator(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to build orchestrator: %w", err)
	}

	s.initRouter()
	return s, nil
}

// Run starts the HTTP server and blocks until shutdown or error.
func (s *service) Run() error {
	defer s.cleanup()

	addr := fmt.Sprintf(":%d", s.config.Port)
	server := &http.Server{Addr: addr, Handler: s.router}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting tutor server", "port", s.config.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		slog.Info("Shutting down tutor server", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}

// Router returns the underlying Gin engine for testing.
func (s *service) Router() *gin.Engine {
	return s.router
}

// applyConfigDefaults fills in missing configuration values.
func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 12310
	}
	if cfg.LLMBackend == "" {
		cfg.LLMBackend = "ollama"
	}
	if cfg.QuestionBankDir == "" {
		cfg.QuestionBankDir = "./questions"
	}
	if cfg.OTelEndpoint == "" {
		cfg.OTelEndpoint = "elenchus-otel-collector:4317"
	}
	if cfg.BreakerFailureThreshold == 0 {
		cfg.BreakerFailureThreshold = 5
	}
	if cfg.BreakerRecoveryTimeout == 0 {
		cfg.BreakerRecoveryTimeout = 30 * time.Second
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
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
		resource.WithAttributes(semconv.ServiceNameKey.String("tutor-service")))
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

// initStateStore opens the ephemeral conversation cache.
func (s *service) initStateStore() error {
	if s.config.CachePath == "" {
		slog.Info("Cache path not configured, holding session state in memory")
		s.stateBackend = statestore.NewMemoryBackend()
		return nil
	}

	backend, err := statestore.OpenBadger(statestore.BadgerConfig{
		Path:   s.config.CachePath,
		Logger: slog.Default(),
	})
	if err != nil {
		return err
	}
	s.stateBackend = backend
	slog.Info("Opened session state cache", "path", s.config.CachePath)
	return nil
}

// initWeaviate initializes the document store client, optional.
func (s *service) initWeaviate() error {
	weaviateURL := strings.Trim(s.config.WeaviateURL, "\"' ")

	if weaviateURL == "" || !strings.Contains(weaviateURL, "http") {
		slog.Info("Weaviate URL not configured, running in lightweight mode")
		return nil
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

	if err := session.EnsureTutorSchema(context.Background(), s.weaviateClient); err != nil {
		return err
	}
	slog.Info("Weaviate client initialized", "url", weaviateURL)
	return nil
}

// initLLMClient creates the configured LLM provider client.
func (s *service) initLLMClient() error {
	client, err := llm.NewClient(s.config.LLMBackend)
	if err != nil {
		return err
	}
	s.llmClient = client
	slog.Info("Using LLM backend", "backend", s.config.LLMBackend)
	return nil
}

// initBreakers builds the circuit breaker registry with state-change
// metrics wired in.
func (s *service) initBreakers() {
	s.breakers = resilience.NewRegistry(resilience.BreakerConfig{
		FailureThreshold: s.config.BreakerFailureThreshold,
		SuccessThreshold: 2,
		RecoveryTimeout:  s.config.BreakerRecoveryTimeout,
		CallTimeout:      60 * time.Second,
		OnStateChange: func(name string, from, to resilience.CircuitState) {
			slog.Warn("Circuit breaker state change",
				"breaker", name, "from", from.String(), "to", to.String())
			if m := observability.DefaultMetrics; m != nil {
				m.RecordBreakerTransition(name, to.String())
			}
		},
	})
}

// initOrchestrator wires the question source, repository, cache, LLM
// client, and resilience layer into the turn state machine.
func (s *service) initOrchestrator() error {
	var questions session.QuestionSource
	var records session.Repository

	if s.weaviateClient != nil {
		source, err := session.NewWeaviateQuestionSource(s.weaviateClient)
		if err != nil {
			return err
		}
		repo, err := session.NewWeaviateRepository(s.weaviateClient)
		if err != nil {
			return err
		}
		questions = source
		records = repo
	} else {
		source, err := session.NewYAMLQuestionSource(s.config.QuestionBankDir)
		if err != nil {
			return err
		}
		questions = source
		records = session.NoopRepository{}
	}

	orchestrator, err := session.NewOrchestrator(session.Config{
		Store:     statestore.New(s.stateBackend),
		Questions: questions,
		LLM:       s.llmClient,
		Breakers:  s.breakers,
		Retry:     resilience.DefaultRetryPolicy(),
		Records:   records,
	})
	if err != nil {
		return err
	}
	s.orchestrator = orchestrator
	return nil
}

// initRouter sets up the Gin HTTP router with all routes.
func (s *service) initRouter() {
	if s.config.GinMode != "" {
		gin.SetMode(s.config.GinMode)
	}
	s.router = gin.Default()
	s.router.Use(otelgin.Middleware("tutor-service"))

	routes.SetupRoutes(s.router, s.orchestrator, s.breakers, middleware.NopAuthProvider{})
}

// cleanup releases all resources held by the service.
func (s *service) cleanup() {
	if s.stateBackend != nil {
		if err := s.stateBackend.Close(); err != nil {
			slog.Warn("State cache close error", "error", err)
		}
	}
	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
	}
}

// Compile-time interface compliance.
var _ Service = (*service)(nil)
