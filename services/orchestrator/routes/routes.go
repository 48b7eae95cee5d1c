// Copyright (C) 2025 ScribeWorks AI (oss@scribeworks.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ScribeWorksAI/ScribeWorksFOSS/services/orchestrator/handlers"
)

// SetupRoutes wires the orchestrator's endpoints.
func SetupRoutes(router *gin.Engine, deps handlers.AssistDeps) {
	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API version 1 group
	v1 := router.Group("/v1")
	{
		v1.POST("/assist/stream", handlers.HandleAssistStream(deps))
		v1.GET("/assist/ws", handlers.HandleAssistWebSocket(deps))

		documents := v1.Group("/documents")
		{
			documents.GET("/:id", handlers.GetDocument(deps.Docs))
			documents.POST("/:id/finalize", handlers.FinalizeDocument(deps.Docs))
			documents.GET("/:id/versions", handlers.ListVersions(deps.Docs, deps.Versions))
			documents.POST("/:id/versions/:versionId/restore", handlers.RestoreVersion(deps.Docs, deps.Versions))
		}
	}
}
