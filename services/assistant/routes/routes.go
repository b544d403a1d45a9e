// Copyright (C) 2025 Supportra AI (oss@supportra.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/SupportraAI/SupportraCore/services/assistant/handlers"
	"github.com/SupportraAI/SupportraCore/services/assistant/memory"
)

func SetupRoutes(router *gin.Engine, processor handlers.AssistProcessor,
	store memory.Store, enableMetrics bool) {

	router.GET("/health", handlers.HealthCheck)
	if enableMetrics {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	// API version 1 group
	v1 := router.Group("/v1")
	{
		assist := v1.Group("/assist")
		{
			assist.POST("/query", handlers.HandleAssistQuery(processor))
			assist.GET("/summary/:actorId", handlers.HandleSummary(store))
			assist.DELETE("/memory/:actorId", handlers.HandleClearMemory(store))
		}
	}
}
