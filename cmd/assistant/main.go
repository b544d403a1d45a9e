// Copyright (C) 2025 Supportra AI (oss@supportra.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command assistant starts the SupportraCore assistant HTTP server.
//
// This is the main entry point for the containerized assistant service.
// It reads configuration from environment variables and starts the server.
//
// # Environment Variables
//
//   - ASSISTANT_PORT: HTTP server port (default: 8490)
//   - LLM_BACKEND_TYPE: LLM provider - openai, ollama (default: ollama)
//   - WEAVIATE_SERVICE_URL: Weaviate vector DB URL (required)
//   - EMBEDDING_SERVICE_URL: Embedding service URL (required)
//   - RERANK_SERVICE_URL: Rerank service URL (optional)
//   - MEMORY_MAX_TURNS: Conversation turns retained per actor (default: 20)
//   - ENABLE_METRICS: Expose the Prometheus /metrics endpoint (default: true)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OpenTelemetry collector (default: supportra-otel-collector:4317)
//
// # Usage
//
//	# Build
//	go build -o assistant ./cmd/assistant
//
//	# Run
//	./assistant
//
//	# Or via container
//	podman-compose up assistant
package main

import (
	"log"
	"log/slog"
	"os"
	"strconv"

	"github.com/SupportraAI/SupportraCore/services/assistant"
)

func main() {
	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Build configuration from environment variables
	cfg := assistant.Config{
		Port:          getEnvInt("ASSISTANT_PORT", 8490),
		LLMBackend:    getEnvString("LLM_BACKEND_TYPE", "ollama"),
		WeaviateURL:   os.Getenv("WEAVIATE_SERVICE_URL"),
		OTelEndpoint:  getEnvString("OTEL_EXPORTER_OTLP_ENDPOINT", "supportra-otel-collector:4317"),
		EnableMetrics: getEnvBool("ENABLE_METRICS", true),
		MaxTurns:      getEnvInt("MEMORY_MAX_TURNS", 0),
	}

	slog.Info("Starting assistant",
		"port", cfg.Port,
		"llm_backend", cfg.LLMBackend,
		"weaviate_url", cfg.WeaviateURL,
	)

	svc, err := assistant.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create assistant: %v", err)
	}

	// Run the server (blocks until shutdown)
	if err := svc.Run(); err != nil {
		log.Fatalf("Assistant error: %v", err)
	}
}

// getEnvString returns the environment variable value or a default.
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as int or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvBool returns the environment variable as bool or a default.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
