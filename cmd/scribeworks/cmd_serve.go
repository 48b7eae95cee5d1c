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
	"fmt"
	"log"
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/ScribeWorksAI/ScribeWorksFOSS/pkg/logging"
	"github.com/ScribeWorksAI/ScribeWorksFOSS/services/doc_engine"
	"github.com/ScribeWorksAI/ScribeWorksFOSS/services/llm"
	"github.com/ScribeWorksAI/ScribeWorksFOSS/services/orchestrator/handlers"
	"github.com/ScribeWorksAI/ScribeWorksFOSS/services/orchestrator/observability"
	"github.com/ScribeWorksAI/ScribeWorksFOSS/services/orchestrator/routes"
)

// runServe starts an orchestrator in-process. Unlike the containerized
// entry point it skips tracing setup and takes its configuration from
// config.yaml and flags, which suits local development.
func runServe(cmd *cobra.Command, args []string) {
	logger := logging.New(logging.Config{
		Level:   parseLogLevel(config.Logging.Level),
		LogDir:  config.Logging.Dir,
		Service: "orchestrator",
		JSON:    outputJSON,
	})
	defer logger.Close()
	slog.SetDefault(logger.Slog())

	observability.InitMetrics()

	backend := config.Assistant.Backend
	if backendType != "" {
		backend = backendType
	}

	var assistantClient llm.AssistantClient
	switch backend {
	case "openai":
		client, err := llm.NewOpenAIClient()
		if err != nil {
			log.Fatalf("Failed to initialize OpenAI assistant client: %v", err)
		}
		assistantClient = client
		logger.Info("using OpenAI assistant backend")
	case "scribe":
		assistantClient = llm.NewScribeClient()
		logger.Info("using native assistant backend")
	default:
		log.Fatalf("Unknown assistant backend %q (want scribe or openai)", backend)
	}

	docs := doc_engine.NewMemoryDocumentStore()
	versions := doc_engine.NewVersionStore(docs)
	templates := doc_engine.NewBuiltinTemplates(docs)
	dispatcher := doc_engine.NewDispatcher(docs, versions, templates, loggerNotifier{logger})

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	routes.SetupRoutes(router, handlers.AssistDeps{
		Client:     assistantClient,
		Docs:       docs,
		Versions:   versions,
		Dispatcher: dispatcher,
	})

	port := config.Orchestrator.Port
	if servePort != 0 {
		port = servePort
	}

	logger.Info("starting orchestrator", "port", port, "backend", backend)
	if err := router.Run(fmt.Sprintf(":%d", port)); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

func parseLogLevel(level string) logging.Level {
	switch level {
	case "debug":
		return logging.LevelDebug
	case "warn":
		return logging.LevelWarn
	case "error":
		return logging.LevelError
	default:
		return logging.LevelInfo
	}
}

// loggerNotifier routes instruction outcomes into the structured log.
type loggerNotifier struct {
	logger *logging.Logger
}

func (n loggerNotifier) Notify(message string, success bool) {
	if success {
		n.logger.Info("instruction applied", "message", message)
	} else {
		n.logger.Warn("instruction failed", "message", message)
	}
}
