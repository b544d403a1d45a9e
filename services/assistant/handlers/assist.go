// Copyright (C) 2025 Supportra AI (oss@supportra.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers contains the gin HTTP handlers for the assistant API.
package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/SupportraAI/SupportraCore/services/assistant/datatypes"
	"github.com/SupportraAI/SupportraCore/services/assistant/memory"
	"github.com/SupportraAI/SupportraCore/services/assistant/services"
)

// AssistProcessor handles an assist request end-to-end. Satisfied by
// *services.AnswerService.
type AssistProcessor interface {
	Process(ctx context.Context, req *datatypes.AssistRequest) (*datatypes.AssistResult, error)
}

// HealthCheck reports service liveness.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// HandleAssistQuery processes an assist request.
//
// # Description
//
// Binds the JSON body to an AssistRequest and runs the assist pipeline.
// Malformed or invalid requests get 400. A session fault gets 503, since
// the assistant cannot answer without conversation identity. Everything
// else, including degraded answers built from fallbacks, gets 200.
//
// # Route
//
//	POST /v1/assist/query
func HandleAssistQuery(processor AssistProcessor) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.AssistRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			slog.Warn("Rejected malformed assist request", "error", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}

		result, err := processor.Process(c.Request.Context(), &req)
		if err != nil {
			if services.IsIdentityError(err) {
				slog.Error("Session unavailable for assist request",
					"actorId", req.ActorID, "error", err)
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"error":    "conversation session unavailable",
					"actor_id": req.ActorID,
				})
				return
			}
			slog.Warn("Rejected invalid assist request",
				"actorId", req.ActorID, "error", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, result)
	}
}

// HandleClearMemory empties an actor's conversation memory. The session
// record keeps its identity; only the stored turns are removed.
//
// Returns 404 when there was nothing to clear, so a client can tell a
// cleared conversation from one that never existed.
//
// # Route
//
//	DELETE /v1/assist/memory/:actorId
func HandleClearMemory(store memory.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		actorID := c.Param("actorId")
		slog.Info("Received a request to clear conversation memory", "actorId", actorID)

		existed, err := store.Clear(c.Request.Context(), actorID)
		if err != nil {
			slog.Error("Failed to clear conversation memory", "actorId", actorID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to clear conversation memory"})
			return
		}
		if !existed {
			c.JSON(http.StatusNotFound, gin.H{"error": "no conversation found for actor"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"status": "success", "actor_id": actorID})
	}
}

// HandleSummary returns the stored conversation summary for an actor.
//
// # Route
//
//	GET /v1/assist/summary/:actorId
func HandleSummary(store memory.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		actorID := c.Param("actorId")

		summary, err := store.Summarize(c.Request.Context(), actorID)
		if err != nil {
			slog.Error("Failed to summarize conversation", "actorId", actorID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to summarize conversation"})
			return
		}
		if !summary.Found {
			c.JSON(http.StatusNotFound, gin.H{"error": "no conversation found for actor"})
			return
		}

		c.JSON(http.StatusOK, summary)
	}
}
