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

// RankedDocument is one rerank result: the index into the submitted document
// list plus its cross-encoder relevance score.
type RankedDocument struct {
	Index int     `json:"index"`
	Score float64 `json:"relevance_score"`
}

// RerankClient reorders candidate passages by cross-encoder relevance.
type RerankClient interface {
	Rerank(ctx context.Context, query string, documents []string, topN int) ([]RankedDocument, error)
}

type rerankRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n"`
}

type rerankResponse struct {
	Model   string           `json:"model"`
	Results []RankedDocument `json:"results"`
}

// HTTPRerankClient calls the rerank sidecar over HTTP.
//
// The sidecar hosts the cross-encoder (bge-reranker class models); this
// client submits candidates and reads back scored index order.
type HTTPRerankClient struct {
	httpClient *http.Client
	url        string
}

// NewHTTPRerankClient creates a rerank client from the environment.
func NewHTTPRerankClient() (*HTTPRerankClient, error) {
	url := os.Getenv("RERANK_SERVICE_URL")
	if url == "" {
		return nil, fmt.Errorf("RERANK_SERVICE_URL environment variable not set")
	}
	return &HTTPRerankClient{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		url:        url,
	}, nil
}

// Rerank implements RerankClient.
func (c *HTTPRerankClient) Rerank(ctx context.Context, query string, documents []string, topN int) ([]RankedDocument, error) {
	if len(documents) == 0 {
		return []RankedDocument{}, nil
	}

	reqBody, err := json.Marshal(rerankRequest{Query: query, Documents: documents, TopN: topN})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rerank request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to setup rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach the rerank service: %w", err)
	}
	defer func(body io.ReadCloser) {
		if err := body.Close(); err != nil {
			slog.Warn("Failed to close rerank response body", "error", err)
		}
	}(resp.Body)

	bodyBytes, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("the rerank service returned %d: %s",
			resp.StatusCode, string(bodyBytes))
	}

	var rankResp rerankResponse
	if err := json.Unmarshal(bodyBytes, &rankResp); err != nil {
		return nil, fmt.Errorf("failed to parse the rerank service response: %w", err)
	}
	return rankResp.Results, nil
}

var _ RerankClient = (*HTTPRerankClient)(nil)
