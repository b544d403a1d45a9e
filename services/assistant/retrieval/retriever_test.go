// Copyright (C) 2025 Supportra AI (oss@supportra.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/SupportraAI/SupportraCore/services/assistant/datatypes"
	"github.com/stretchr/testify/assert"
	"github.com/weaviate/weaviate/entities/models"
)

// countingEmbedder records calls so tests can tell whether a query reached
// the search path.
type countingEmbedder struct {
	calls int
	err   error
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return []float32{0.1, 0.2}, nil
}

func makeCandidates(n int) []Passage {
	passages := make([]Passage, 0, n)
	for i := 0; i < n; i++ {
		passages = append(passages, Passage{
			Text:  string(rune('a' + i)),
			Score: 1.0 - float64(i)*0.05,
		})
	}
	return passages
}

func TestApplyRanking(t *testing.T) {
	candidates := makeCandidates(10)

	tests := []struct {
		name      string
		ranked    []RankedDocument
		topN      int
		wantTexts []string
	}{
		{
			name: "reorders by rerank score",
			ranked: []RankedDocument{
				{Index: 4, Score: 0.99},
				{Index: 0, Score: 0.80},
				{Index: 7, Score: 0.60},
			},
			topN:      5,
			wantTexts: []string{"e", "a", "h"},
		},
		{
			name: "cuts to topN",
			ranked: []RankedDocument{
				{Index: 0, Score: 0.9}, {Index: 1, Score: 0.8}, {Index: 2, Score: 0.7},
				{Index: 3, Score: 0.6}, {Index: 4, Score: 0.5}, {Index: 5, Score: 0.4},
			},
			topN:      5,
			wantTexts: []string{"a", "b", "c", "d", "e"},
		},
		{
			name: "skips out-of-range indices",
			ranked: []RankedDocument{
				{Index: -1, Score: 0.9},
				{Index: 42, Score: 0.8},
				{Index: 2, Score: 0.7},
			},
			topN:      5,
			wantTexts: []string{"c"},
		},
		{
			name:      "all indices invalid falls back to vector order",
			ranked:    []RankedDocument{{Index: 99, Score: 0.9}},
			topN:      3,
			wantTexts: []string{"a", "b", "c"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := applyRanking(candidates, tc.ranked, tc.topN)
			texts := make([]string, len(got))
			for i, p := range got {
				texts[i] = p.Text
			}
			assert.Equal(t, tc.wantTexts, texts)
		})
	}
}

func TestApplyRanking_CarriesRerankScore(t *testing.T) {
	candidates := makeCandidates(3)
	got := applyRanking(candidates, []RankedDocument{{Index: 1, Score: 0.42}}, 5)
	assert.Len(t, got, 1)
	assert.Equal(t, 0.42, got[0].Score)
}

func TestTruncatePassages(t *testing.T) {
	assert.Len(t, truncatePassages(makeCandidates(10), 5), 5)
	assert.Len(t, truncatePassages(makeCandidates(3), 5), 3)
	assert.Empty(t, truncatePassages(nil, 5))
}

func TestParsePassageResults(t *testing.T) {
	resp := &models.GraphQLResponse{
		Data: map[string]models.JSONObject{
			"Get": map[string]interface{}{
				"KnowledgePassage": []interface{}{
					map[string]interface{}{
						"text":            "Refunds are processed within 5 business days.",
						"title":           "Refund policy",
						"category":        "billing",
						"source_document": "billing_faq.md",
						"tenant_id":       "tenant_1",
						"_additional":     map[string]interface{}{"certainty": 0.91},
					},
					map[string]interface{}{
						"text":      "Orders ship within 24 hours.",
						"title":     "Shipping",
						"tenant_id": "tenant_1",
					},
				},
			},
		},
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.KnowledgePassageQueryResponse](resp)
	assert.NoError(t, err)

	passages := parsePassageResults(parsed)
	assert.Len(t, passages, 2)
	assert.Equal(t, "Refund policy", passages[0].Title)
	assert.Equal(t, "billing_faq.md", passages[0].Source)
	assert.InDelta(t, 0.91, passages[0].Score, 0.0001)
	// Missing certainty scores as zero rather than failing the parse.
	assert.Equal(t, 0.0, passages[1].Score)
}

func TestParsePassageResults_Nil(t *testing.T) {
	assert.Empty(t, parsePassageResults(nil))
}

func TestTenantScope(t *testing.T) {
	scope := tenantScope("tenant_1")
	if assert.NotNil(t, scope) {
		rendered := scope.String()
		assert.Contains(t, rendered, "tenant_id")
		assert.Contains(t, rendered, "tenant_1")
		assert.Contains(t, rendered, "Equal")
	}
}

func TestTenantScope_EmptyTenantIsUnscoped(t *testing.T) {
	assert.Nil(t, tenantScope(""))
}

func TestGetContext_EmptyQuerySkipsSearch(t *testing.T) {
	embedder := &countingEmbedder{}
	r := NewKnowledgeRetriever(nil, embedder, nil, SearchConfig{})

	got := r.GetContext(context.Background(), "tenant_1", "")
	assert.Empty(t, got)
	assert.Equal(t, 0, embedder.calls)
}

func TestGetContext_MissingTenantStillSearches(t *testing.T) {
	// A request without a tenant searches the shared corpus; it must not
	// short-circuit before the embedding stage. The embedder fault keeps
	// the test away from a live Weaviate while proving the call was made.
	embedder := &countingEmbedder{err: errors.New("embedding service offline")}
	r := NewKnowledgeRetriever(nil, embedder, nil, SearchConfig{})

	got := r.GetContext(context.Background(), "", "how do I reset my password?")
	assert.Empty(t, got)
	assert.Equal(t, 1, embedder.calls)
}

func TestValidateSearchConfig(t *testing.T) {
	cfg := validateSearchConfig(SearchConfig{})
	defaults := DefaultSearchConfig()
	assert.Equal(t, defaults.TopKCandidates, cfg.TopKCandidates)
	assert.Equal(t, defaults.MaxContextChunks, cfg.MaxContextChunks)
	assert.Equal(t, defaults.MaxEmbedLength, cfg.MaxEmbedLength)

	custom := validateSearchConfig(SearchConfig{TopKCandidates: 25, MaxContextChunks: 8, MaxEmbedLength: 512})
	assert.Equal(t, 25, custom.TopKCandidates)
	assert.Equal(t, 8, custom.MaxContextChunks)
}
