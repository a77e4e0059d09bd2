// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sentinel assembles the autonomous healing service: registry,
// detector, analyzer, healing engine, verifier, history store, event
// bus, and the REST surface that fronts them.
package sentinel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/AleutianAI/AleutianSentinel/services/analyzer"
	"github.com/AleutianAI/AleutianSentinel/services/detector"
	"github.com/AleutianAI/AleutianSentinel/services/faults"
	"github.com/AleutianAI/AleutianSentinel/services/healing"
	"github.com/AleutianAI/AleutianSentinel/services/history"
	"github.com/AleutianAI/AleutianSentinel/services/probes"
	"github.com/AleutianAI/AleutianSentinel/services/registry"
	"github.com/AleutianAI/AleutianSentinel/services/sentinel/events"
	"github.com/AleutianAI/AleutianSentinel/services/sentinel/observability"
	"github.com/AleutianAI/AleutianSentinel/services/sentinel/routes"
	"github.com/AleutianAI/AleutianSentinel/services/verifier"
)

// =============================================================================
// Configuration
// =============================================================================

// Config holds the full service configuration.
type Config struct {
	// Port the REST API listens on. Default: "12300".
	Port string

	// EntitiesPath is the YAML file defining monitored entities.
	EntitiesPath string

	// WatchEntities reloads EntitiesPath on change. Default: true when
	// EntitiesPath is set.
	WatchEntities bool

	// HistoryPath is the BadgerDB directory for the healing history.
	// Default: "/var/lib/sentinel/history".
	HistoryPath string

	// HistoryInMemory keeps history in memory only (tests, demos).
	HistoryInMemory bool

	// EnableProvider consults the external analysis provider for
	// low-confidence candidates. Requires OPENAI_API_KEY.
	EnableProvider bool

	// OTLPEndpoint is the OTLP gRPC collector address. Empty disables
	// tracing.
	OTLPEndpoint string

	Detector detector.Config
	Analyzer analyzer.Config
	Healing  healing.Config
	Verifier verifier.Config
	Pipeline PipelineConfig
}

// applyConfigDefaults fills unset fields with production defaults.
func applyConfigDefaults(cfg *Config) {
	if cfg.Port == "" {
		cfg.Port = "12300"
	}
	if cfg.HistoryPath == "" && !cfg.HistoryInMemory {
		cfg.HistoryPath = "/var/lib/sentinel/history"
	}
	if cfg.Detector.Interval <= 0 {
		cfg.Detector = detector.DefaultConfig()
	}
	if cfg.Analyzer.RuleConfidenceThreshold <= 0 {
		cfg.Analyzer = analyzer.DefaultConfig()
	}
	if cfg.Healing.MaxAttempts <= 0 {
		cfg.Healing = healing.DefaultConfig()
	}
	if cfg.Verifier.Timeout <= 0 {
		cfg.Verifier = verifier.DefaultConfig()
	}
	if cfg.Pipeline.MaxConcurrentHealing <= 0 {
		cfg.Pipeline = DefaultPipelineConfig()
	}
	// The pipeline owns admission, so the detector and pipeline must
	// agree on the cool-down.
	cfg.Pipeline.SuppressionWindow = cfg.Detector.SuppressionWindow
}

// =============================================================================
// Service
// =============================================================================

// Service is the assembled sentinel.
type Service struct {
	config   Config
	registry *registry.Registry
	active   *faults.ActiveSet
	store    *history.Store
	bus      *events.Bus
	metrics  *observability.Metrics
	pipeline *Pipeline
	detector *detector.Detector
	router   *gin.Engine
}

// New wires a sentinel from the configuration.
//
// # Outputs
//
//   - *Service: Ready to Run. Owns the history store and event bus.
//   - error: Entity file or history store initialization failures.
func New(cfg Config) (*Service, error) {
	applyConfigDefaults(&cfg)

	reg := registry.New()
	if cfg.EntitiesPath != "" {
		if err := reg.LoadFile(cfg.EntitiesPath); err != nil {
			return nil, fmt.Errorf("load entity definitions: %w", err)
		}
	} else {
		slog.Warn("no entity definitions configured; only injected faults will be processed")
	}

	storeCfg := history.Config{Path: cfg.HistoryPath, SyncWrites: true, InMemory: cfg.HistoryInMemory}
	store, err := history.Open(storeCfg)
	if err != nil {
		return nil, fmt.Errorf("open history store: %w", err)
	}

	var provider analyzer.Provider
	if cfg.EnableProvider {
		p, err := analyzer.NewOpenAIProvider()
		if err != nil {
			slog.Warn("analysis provider unavailable, running rules-only", "error", err)
		} else {
			provider = p
		}
	}

	active := faults.NewActiveSet()
	bus := events.NewBus()
	metrics := observability.InitMetrics()
	prober := probes.NewRunner()
	check := verifier.New(reg, prober, cfg.Verifier)
	engine := healing.New(active, reg, check, nil, bus, cfg.Healing)
	anlz := analyzer.New(provider, cfg.Analyzer)
	pipeline := NewPipeline(active, anlz, engine, store, bus, metrics, cfg.Pipeline)
	det := detector.New(reg, prober, active, pipeline, cfg.Detector)

	s := &Service{
		config:   cfg,
		registry: reg,
		active:   active,
		store:    store,
		bus:      bus,
		metrics:  metrics,
		pipeline: pipeline,
		detector: det,
	}
	s.router = s.buildRouter()
	return s, nil
}

// Router returns the HTTP surface, for tests and embedding.
func (s *Service) Router() *gin.Engine {
	return s.router
}

func (s *Service) buildRouter() *gin.Engine {
	router := gin.Default()
	router.Use(otelgin.Middleware("sentinel-service"))
	routes.SetupRoutes(router, s.active, s.registry, s.store, s.bus, s.metrics, s.pipeline)
	return router
}

// initTracer configures the OTLP gRPC trace exporter.
func initTracer(endpoint string) (func(context.Context), error) {
	ctx := context.Background()

	conn, err := grpc.NewClient(endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("sentinel-service")))
	if err != nil {
		return nil, err
	}
	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.
		TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}

// Run starts the detection loop and the REST API and blocks until ctx
// is cancelled, then drains in-flight healing before returning.
func (s *Service) Run(ctx context.Context) error {
	if s.config.OTLPEndpoint != "" {
		cleanup, err := initTracer(s.config.OTLPEndpoint)
		if err != nil {
			slog.Warn("tracing disabled, OTLP exporter setup failed", "error", err)
		} else {
			defer cleanup(context.Background())
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.pipeline.Start(runCtx)
	if err := s.detector.Start(runCtx); err != nil {
		return err
	}
	defer s.detector.Stop()

	if s.config.EntitiesPath != "" && s.config.WatchEntities {
		go func() {
			if err := s.registry.Watch(runCtx, s.config.EntitiesPath); err != nil {
				slog.Error("entity definition watcher stopped", "error", err)
			}
		}()
	}

	server := &http.Server{
		Addr:              ":" + s.config.Port,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("sentinel listening", "port", s.config.Port)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	slog.Info("sentinel shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown failed", "error", err)
	}
	cancel()
	s.pipeline.Wait()
	s.bus.Close()
	if err := s.store.Close(); err != nil {
		slog.Error("history store close failed", "error", err)
	}
	return nil
}

// ConfigFromEnv builds a Config from the environment, mirroring the
// container deployment knobs.
func ConfigFromEnv() Config {
	cfg := Config{
		Port:            os.Getenv("SENTINEL_PORT"),
		EntitiesPath:    os.Getenv("SENTINEL_ENTITIES_FILE"),
		HistoryPath:     os.Getenv("SENTINEL_HISTORY_DIR"),
		OTLPEndpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		EnableProvider:  os.Getenv("SENTINEL_ENABLE_PROVIDER") == "true",
		HistoryInMemory: os.Getenv("SENTINEL_HISTORY_IN_MEMORY") == "true",
	}
	cfg.WatchEntities = cfg.EntitiesPath != ""
	cfg.Detector = detector.DefaultConfig()
	if raw := os.Getenv("SENTINEL_POLL_INTERVAL"); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			cfg.Detector.Interval = d
		} else {
			slog.Warn("ignoring invalid SENTINEL_POLL_INTERVAL", "value", raw)
		}
	}
	if raw := os.Getenv("SENTINEL_SUPPRESSION_WINDOW"); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			cfg.Detector.SuppressionWindow = d
		} else {
			slog.Warn("ignoring invalid SENTINEL_SUPPRESSION_WINDOW", "value", raw)
		}
	}
	return cfg
}
