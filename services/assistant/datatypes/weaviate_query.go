// Copyright (C) 2025 Supportra AI (oss@supportra.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"encoding/json"
	"fmt"

	"github.com/weaviate/weaviate/entities/models"
)

// =============================================================================
// Generic GraphQL Response Parser
// =============================================================================

// ParseGraphQLResponse parses a Weaviate GraphQL response into the target type.
//
// # Description
//
// This generic function encapsulates the marshal/unmarshal pattern required to
// convert Weaviate's dynamic response (map[string]models.JSONObject) into a
// strongly-typed Go struct. The target type T must have json tags matching
// the expected response shape.
//
// # Type Parameters
//
//   - T: The target struct type with json tags matching the response shape.
//
// # Inputs
//
//   - resp: The GraphQL response from Weaviate client's Do() method.
//
// # Outputs
//
//   - *T: Pointer to the parsed struct.
//   - error: Non-nil if response is nil or parsing fails.
//
// # Example
//
//	resp, err := client.GraphQL().Get().WithClassName("ChatTurn").Do(ctx)
//	if err != nil { ... }
//
//	parsed, err := ParseGraphQLResponse[ChatTurnQueryResponse](resp)
//	if err != nil { ... }
//
//	for _, turn := range parsed.Get.ChatTurn {
//	    fmt.Println(turn.Content)
//	}
//
// # Limitations
//
//   - Requires the target type to exactly match the expected response structure.
//   - Type mismatches will result in zero values, not errors.
func ParseGraphQLResponse[T any](resp *models.GraphQLResponse) (*T, error) {
	if resp == nil {
		return nil, fmt.Errorf("nil GraphQL response")
	}

	respBytes, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal GraphQL response data: %w", err)
	}

	var result T
	if err := json.Unmarshal(respBytes, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal into target type: %w", err)
	}

	return &result, nil
}

// =============================================================================
// Common Weaviate Response Types
// =============================================================================

// SupportSessionQueryResponse represents the response from querying the
// SupportSession class.
type SupportSessionQueryResponse struct {
	Get struct {
		SupportSession []SupportSessionResult `json:"SupportSession"`
	} `json:"Get"`
}

// SupportSessionResult represents a single conversation record from a query.
type SupportSessionResult struct {
	ActorID    string `json:"actor_id"`
	ActorRole  string `json:"actor_role"`
	CreatedAt  int64  `json:"created_at"`
	Additional struct {
		ID string `json:"id"`
	} `json:"_additional"`
}

// ChatTurnQueryResponse represents the response from querying the ChatTurn class.
type ChatTurnQueryResponse struct {
	Get struct {
		ChatTurn []ChatTurnResult `json:"ChatTurn"`
	} `json:"Get"`
}

// ChatTurnResult represents a single stored turn from a query.
type ChatTurnResult struct {
	ActorID    string `json:"actor_id"`
	Role       string `json:"role"`
	Content    string `json:"content"`
	Timestamp  int64  `json:"timestamp"`
	TurnNumber *int   `json:"turn_number"`
	Additional struct {
		ID string `json:"id"`
	} `json:"_additional"`
}

// KnowledgePassageQueryResponse represents the response from querying the
// KnowledgePassage class.
type KnowledgePassageQueryResponse struct {
	Get struct {
		KnowledgePassage []KnowledgePassageResult `json:"KnowledgePassage"`
	} `json:"Get"`
}

// KnowledgePassageResult represents a single knowledge chunk from a query.
type KnowledgePassageResult struct {
	Text           string `json:"text"`
	Title          string `json:"title"`
	Category       string `json:"category"`
	SourceDocument string `json:"source_document"`
	TenantID       string `json:"tenant_id"`
	Additional     struct {
		ID        string   `json:"id"`
		Distance  *float32 `json:"distance"`
		Certainty *float32 `json:"certainty"`
	} `json:"_additional"`
}

// =============================================================================
// Property Structs and ToMap Methods
// =============================================================================

// SupportSessionProperties represents the properties for creating a
// SupportSession object.
type SupportSessionProperties struct {
	ActorID   string `json:"actor_id"`
	ActorRole string `json:"actor_role"`
	CreatedAt int64  `json:"created_at"`
}

// ToMap converts SupportSessionProperties to the map format required by
// Weaviate's WithProperties() method.
func (p *SupportSessionProperties) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"actor_id":   p.ActorID,
		"actor_role": p.ActorRole,
		"created_at": p.CreatedAt,
	}
}

// ChatTurnProperties represents the properties for creating a ChatTurn object.
type ChatTurnProperties struct {
	ActorID    string `json:"actor_id"`
	Role       string `json:"role"`
	Content    string `json:"content"`
	Timestamp  int64  `json:"timestamp"`
	TurnNumber int    `json:"turn_number"`
}

// ToMap converts ChatTurnProperties to the map format required by Weaviate's
// WithProperties() method.
func (p *ChatTurnProperties) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"actor_id":    p.ActorID,
		"role":        p.Role,
		"content":     p.Content,
		"timestamp":   p.Timestamp,
		"turn_number": p.TurnNumber,
	}
}
