// Copyright (C) 2025 ScribeWorks AI (oss@scribeworks.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ScribeWorksAI/ScribeWorksFOSS/services/doc_engine"
	"github.com/ScribeWorksAI/ScribeWorksFOSS/services/llm"
	"github.com/ScribeWorksAI/ScribeWorksFOSS/services/orchestrator/handlers"
	"github.com/ScribeWorksAI/ScribeWorksFOSS/services/orchestrator/observability"
	"github.com/ScribeWorksAI/ScribeWorksFOSS/services/orchestrator/routes"

	// --- OpenTelemetry imports ---
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func initTracer() (func(context.Context), error) {
	ctx := context.Background()

	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otelEndpoint == "" {
		otelEndpoint = "scribeworks-otel-collector:4317"
	}
	conn, err := grpc.NewClient(otelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("orchestrator-service")))
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

func main() {
	port := os.Getenv("ORCHESTRATOR_PORT")
	if port == "" {
		port = "12310"
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cleanup, err := initTracer()
	if err != nil {
		log.Fatalf("failed to setup the OTLP tracer: %v", err)
	}
	defer cleanup(context.Background())

	observability.InitMetrics()

	log.Println("Configuring the assistant client")
	var assistantClient llm.AssistantClient
	switch backend := os.Getenv("ASSISTANT_BACKEND_TYPE"); backend {
	case "openai":
		assistantClient, err = llm.NewOpenAIClient()
		if err != nil {
			log.Fatalf("Failed to initialize OpenAI assistant client: %v", err)
		}
		slog.Info("Using OpenAI assistant backend")
	case "scribe", "":
		assistantClient = llm.NewScribeClient()
		slog.Info("Using native assistant backend")
	default:
		slog.Warn("ASSISTANT_BACKEND_TYPE not recognized, defaulting to native", "value", backend)
		assistantClient = llm.NewScribeClient()
	}

	// One document session per process: the version store lives and dies
	// with the document store it tracks.
	docs := doc_engine.NewMemoryDocumentStore()
	versions := doc_engine.NewVersionStore(docs)
	templates := doc_engine.NewBuiltinTemplates(docs)
	dispatcher := doc_engine.NewDispatcher(docs, versions, templates, slogNotifier{})

	router := gin.Default()
	router.Use(otelgin.Middleware("orchestrator-service"))

	routes.SetupRoutes(router, handlers.AssistDeps{
		Client:     assistantClient,
		Docs:       docs,
		Versions:   versions,
		Dispatcher: dispatcher,
	})

	log.Println("Starting the orchestrator server on port ", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// slogNotifier routes instruction notifications into the structured log.
// The streaming handlers additionally surface outcomes to clients as
// events; this keeps an operator-visible trail.
type slogNotifier struct{}

func (slogNotifier) Notify(message string, success bool) {
	if success {
		slog.Info("instruction applied", "message", message)
	} else {
		slog.Warn("instruction failed", "message", message)
	}
}
