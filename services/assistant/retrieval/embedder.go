// Copyright (C) 2025 Supportra AI (oss@supportra.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"
)

// EmbeddingClient computes vector embeddings for query text.
type EmbeddingClient interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type embeddingRequest struct {
	Text string `json:"text"`
	// InputType hints query-vs-passage asymmetry to the model host.
	InputType string `json:"input_type,omitempty"`
}

type embeddingResponse struct {
	Id        string    `json:"id"`
	Timestamp int       `json:"timestamp"`
	Text      string    `json:"text"`
	Vector    []float32 `json:"vector"`
	Dim       int       `json:"dim"`
}

// HTTPEmbeddingClient calls the embedding sidecar over HTTP.
//
// # Description
//
// Sends the text to the service at EMBEDDING_SERVICE_URL and returns the
// resulting vector. The sidecar owns model choice and any query/passage
// prefixing; this client only passes the input_type hint.
//
// # Thread Safety
//
// Safe for concurrent use; the underlying http.Client pools connections.
type HTTPEmbeddingClient struct {
	httpClient *http.Client
	url        string
}

// NewHTTPEmbeddingClient creates an embedding client from the environment.
func NewHTTPEmbeddingClient() (*HTTPEmbeddingClient, error) {
	url := os.Getenv("EMBEDDING_SERVICE_URL")
	if url == "" {
		return nil, fmt.Errorf("EMBEDDING_SERVICE_URL environment variable not set")
	}
	return &HTTPEmbeddingClient{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		url:        url,
	}, nil
}

// Embed implements EmbeddingClient.
func (c *HTTPEmbeddingClient) Embed(ctx context.Context, text string) ([]float32, error) {
	reqBody, err := json.Marshal(embeddingRequest{Text: text, InputType: "query"})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to setup embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Cache-Control", "no-cache, no-store, must-revalidate")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach the embedding service: %w", err)
	}
	defer func(body io.ReadCloser) {
		if err := body.Close(); err != nil {
			slog.Warn("Failed to close embedding response body", "error", err)
		}
	}(resp.Body)

	bodyBytes, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("the embedding service returned %d: %s",
			resp.StatusCode, string(bodyBytes))
	}

	var embResp embeddingResponse
	if err := json.Unmarshal(bodyBytes, &embResp); err != nil {
		return nil, fmt.Errorf("failed to parse the embedding service response: %w", err)
	}
	if len(embResp.Vector) == 0 {
		return nil, fmt.Errorf("the embedding service returned an empty vector")
	}
	return embResp.Vector, nil
}

var _ EmbeddingClient = (*HTTPEmbeddingClient)(nil)
