// Copyright (C) 2025 Supportra AI (oss@supportra.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package retrieval implements tenant-scoped knowledge retrieval.
//
// The pipeline is embed -> vector search -> rerank. Tenant isolation is
// enforced at the query level: a scoped search carries a tenant_id filter,
// so a passage from another organization can never reach a prompt. Requests
// without a tenant search the shared corpus unscoped. All faults degrade to
// an empty passage list; retrieval never fails a request.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/SupportraAI/SupportraCore/services/assistant/datatypes"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("supportra.assistant.retrieval")

// Passage is one knowledge chunk ready for prompt grounding.
type Passage struct {
	Text     string
	Title    string
	Category string
	Source   string
	Score    float64
}

// Retriever is the knowledge lookup contract consumed by the pipeline.
type Retriever interface {
	// GetContext returns the passages grounding an answer, best first.
	// It never returns an error; every fault yields an empty slice.
	GetContext(ctx context.Context, tenantID, query string) []Passage
}

// SearchConfig holds configuration for knowledge retrieval.
type SearchConfig struct {
	// TopKCandidates is how many passages vector search fetches before
	// reranking. Default: 10
	TopKCandidates int

	// MaxContextChunks is how many passages survive the rerank and reach
	// the prompt. Default: 5
	MaxContextChunks int

	// MaxEmbedLength is the maximum characters to embed for search queries.
	// Longer text is truncated. Default: 2000
	MaxEmbedLength int
}

// DefaultSearchConfig returns the default retrieval configuration.
//
// Values can be overridden via environment variables:
//   - KB_SEARCH_TOP_K (default: 10)
//   - KB_SEARCH_MAX_CONTEXT_CHUNKS (default: 5)
//   - KB_SEARCH_MAX_EMBED_LENGTH (default: 2000)
func DefaultSearchConfig() SearchConfig {
	return SearchConfig{
		TopKCandidates:   getEnvInt("KB_SEARCH_TOP_K", 10),
		MaxContextChunks: getEnvInt("KB_SEARCH_MAX_CONTEXT_CHUNKS", 5),
		MaxEmbedLength:   getEnvInt("KB_SEARCH_MAX_EMBED_LENGTH", 2000),
	}
}

// KnowledgeRetriever implements Retriever against the KnowledgePassage class.
//
// # Thread Safety
//
// Safe for concurrent use. The Weaviate client handles connection pooling and
// the HTTP sidecar clients are stateless.
type KnowledgeRetriever struct {
	client   *weaviate.Client
	embedder EmbeddingClient
	reranker RerankClient
	config   SearchConfig
}

// NewKnowledgeRetriever creates a retriever. The reranker may be nil, in
// which case vector order decides which passages reach the prompt.
func NewKnowledgeRetriever(client *weaviate.Client, embedder EmbeddingClient,
	reranker RerankClient, config SearchConfig) *KnowledgeRetriever {

	return &KnowledgeRetriever{
		client:   client,
		embedder: embedder,
		reranker: reranker,
		config:   validateSearchConfig(config),
	}
}

// validateSearchConfig validates and corrects retrieval configuration values.
func validateSearchConfig(config SearchConfig) SearchConfig {
	defaults := DefaultSearchConfig()

	if config.TopKCandidates < 1 {
		slog.Warn("Invalid TopKCandidates config, using default",
			"provided", config.TopKCandidates, "default", defaults.TopKCandidates)
		config.TopKCandidates = defaults.TopKCandidates
	}

	if config.MaxContextChunks < 1 {
		slog.Warn("Invalid MaxContextChunks config, using default",
			"provided", config.MaxContextChunks, "default", defaults.MaxContextChunks)
		config.MaxContextChunks = defaults.MaxContextChunks
	}

	if config.MaxEmbedLength < 1 {
		slog.Warn("Invalid MaxEmbedLength config, using default",
			"provided", config.MaxEmbedLength, "default", defaults.MaxEmbedLength)
		config.MaxEmbedLength = defaults.MaxEmbedLength
	}

	return config
}

// GetContext implements Retriever.
//
// # Description
//
// Embeds the query, searches the passages (scoped to the tenant when one is
// given), and reranks the candidates down to the context window. Failures at
// any stage log a warning
// and degrade: embedding or search faults return no passages, a rerank fault
// falls back to vector order.
func (r *KnowledgeRetriever) GetContext(ctx context.Context, tenantID, query string) []Passage {
	ctx, span := tracer.Start(ctx, "GetContext")
	defer span.End()
	span.SetAttributes(attribute.String("tenant.id", tenantID))

	if query == "" {
		return []Passage{}
	}

	candidates, err := r.search(ctx, tenantID, query)
	if err != nil {
		slog.Warn("Knowledge search failed, answering without context",
			"tenantId", tenantID, "error", err)
		span.RecordError(err)
		return []Passage{}
	}
	if len(candidates) == 0 {
		slog.Debug("No knowledge passages matched", "tenantId", tenantID)
		return []Passage{}
	}

	ranked := r.rerank(ctx, query, candidates)
	span.SetAttributes(attribute.Int("retrieval.passages", len(ranked)))
	return ranked
}

// tenantScope builds the where-filter isolating one tenant's passages.
// An empty tenant means the caller wants the shared corpus; no filter is
// applied so unscoped passages stay reachable.
func tenantScope(tenantID string) *filters.WhereBuilder {
	if tenantID == "" {
		return nil
	}
	return filters.Where().
		WithPath([]string{"tenant_id"}).
		WithOperator(filters.Equal).
		WithValueString(tenantID)
}

// search performs the vector search, tenant-filtered when a tenant is set.
func (r *KnowledgeRetriever) search(ctx context.Context, tenantID, query string) ([]Passage, error) {
	ctx, span := tracer.Start(ctx, "search")
	defer span.End()

	truncatedQuery := query
	if len(query) > r.config.MaxEmbedLength {
		truncatedQuery = query[:r.config.MaxEmbedLength]
		slog.Debug("Truncated query for embedding",
			"originalLen", len(query), "truncatedLen", len(truncatedQuery))
	}

	vector, err := r.embedder.Embed(ctx, truncatedQuery)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	nearVector := r.client.GraphQL().NearVectorArgBuilder().
		WithVector(vector)

	// Certainty is requested instead of distance: it is always [0,1]
	// regardless of the index metric.
	fields := []graphql.Field{
		{Name: "text"},
		{Name: "title"},
		{Name: "category"},
		{Name: "source_document"},
		{Name: "_additional", Fields: []graphql.Field{
			{Name: "certainty"},
		}},
	}

	builder := r.client.GraphQL().Get().
		WithClassName("KnowledgePassage").
		WithFields(fields...).
		WithNearVector(nearVector).
		WithLimit(r.config.TopKCandidates)
	if scope := tenantScope(tenantID); scope != nil {
		builder = builder.WithWhere(scope)
	}

	result, err := builder.Do(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("weaviate search failed: %w", err)
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.KnowledgePassageQueryResponse](result)
	if err != nil {
		return nil, fmt.Errorf("failed to parse passage results: %w", err)
	}

	return parsePassageResults(parsed), nil
}

// rerank reorders candidates with the cross-encoder and cuts to the context
// window, falling back to vector order when the reranker is unavailable.
func (r *KnowledgeRetriever) rerank(ctx context.Context, query string, candidates []Passage) []Passage {
	ctx, span := tracer.Start(ctx, "rerank")
	defer span.End()

	if r.reranker == nil {
		return truncatePassages(candidates, r.config.MaxContextChunks)
	}

	docs := make([]string, len(candidates))
	for i, p := range candidates {
		docs[i] = p.Text
	}

	ranked, err := r.reranker.Rerank(ctx, query, docs, r.config.MaxContextChunks)
	if err != nil {
		slog.Warn("Rerank failed, falling back to vector order", "error", err)
		span.RecordError(err)
		return truncatePassages(candidates, r.config.MaxContextChunks)
	}

	return applyRanking(candidates, ranked, r.config.MaxContextChunks)
}

// =============================================================================
// Helper Functions
// =============================================================================

// parsePassageResults converts KnowledgePassageQueryResponse to Passage slices.
func parsePassageResults(resp *datatypes.KnowledgePassageQueryResponse) []Passage {
	if resp == nil {
		return []Passage{}
	}

	passages := make([]Passage, 0, len(resp.Get.KnowledgePassage))
	for _, p := range resp.Get.KnowledgePassage {
		var score float64
		if p.Additional.Certainty != nil {
			score = float64(*p.Additional.Certainty)
		}
		passages = append(passages, Passage{
			Text:     p.Text,
			Title:    p.Title,
			Category: p.Category,
			Source:   p.SourceDocument,
			Score:    score,
		})
	}
	return passages
}

// applyRanking reorders candidates by rerank result and limits to topN.
// Out-of-range indices from a misbehaving reranker are skipped; if nothing
// valid remains, vector order wins.
func applyRanking(candidates []Passage, ranked []RankedDocument, topN int) []Passage {
	result := make([]Passage, 0, topN)
	for _, rd := range ranked {
		if rd.Index < 0 || rd.Index >= len(candidates) {
			continue
		}
		p := candidates[rd.Index]
		p.Score = rd.Score
		result = append(result, p)
		if len(result) == topN {
			break
		}
	}
	if len(result) == 0 {
		return truncatePassages(candidates, topN)
	}
	return result
}

func truncatePassages(passages []Passage, n int) []Passage {
	if len(passages) > n {
		return passages[:n]
	}
	return passages
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

var _ Retriever = (*KnowledgeRetriever)(nil)
