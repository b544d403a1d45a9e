// Copyright (C) 2025 Supportra AI (oss@supportra.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes provides data structures for the assistant service.
//
// This file contains request and response types for the assist endpoints.
// For Weaviate query/response types, see weaviate_query.go.
package datatypes

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// MaxQueryBytes is the maximum size of a single query.
	// Unbounded query input would flow straight into embedding and prompt
	// construction, so it is capped at the request boundary.
	MaxQueryBytes = 32 * 1024 // 32KB

	// RoleAgent marks requests made by a human support agent looking up
	// internal knowledge on behalf of a customer.
	RoleAgent = "agent"

	// RoleCustomer marks requests made by an end customer talking to the
	// assistant directly.
	RoleCustomer = "customer"
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// assistValidate is the validator instance for assist datatypes.
// Initialized in init() with custom validators.
var assistValidate *validator.Validate

func init() {
	assistValidate = validator.New()

	_ = assistValidate.RegisterValidation("maxbytes", validateMaxBytes)
}

// validateMaxBytes validates that a string field does not exceed MaxQueryBytes.
// Checks byte length (not rune count) so oversized payloads are rejected before
// they reach the embedding service.
func validateMaxBytes(fl validator.FieldLevel) bool {
	content := fl.Field().String()
	return len(content) <= MaxQueryBytes
}

// =============================================================================
// Assist Request Types
// =============================================================================

// AssistRequest represents a single question posed to the assistance pipeline.
//
// # Fields
//
//   - RequestID: Unique identifier for this request (UUID v4). Generated
//     server-side when absent. Used for tracing and audit correlation.
//   - Timestamp: Unix timestamp in milliseconds (UTC). Generated when absent.
//   - ActorID: Required. Stable identifier of the requester. The conversation
//     record is keyed by this value.
//   - TenantID: Optional. Organization scope for knowledge retrieval. When
//     set, passages belonging to other tenants are never considered; when
//     empty, retrieval searches the shared corpus unscoped.
//   - Role: Required. "agent" or "customer". Selects the prompt framing and
//     the fallback texts.
//   - Query: Required. The question text, capped at 32KB.
//
// # Validation
//
// Uses go-playground/validator:
//   - ActorID, Query: required
//   - Role: required, one of agent|customer
//   - Query: max 32768 bytes via the custom "maxbytes" validator
type AssistRequest struct {
	RequestID string `json:"request_id" validate:"omitempty,uuid4"`
	Timestamp int64  `json:"timestamp"`
	ActorID   string `json:"actor_id" validate:"required"`
	TenantID  string `json:"tenant_id"`
	Role      string `json:"role" validate:"required,oneof=agent customer"`
	Query     string `json:"query" validate:"required,maxbytes"`
}

// Validate checks the request against the declared validation rules.
func (r *AssistRequest) Validate() error {
	return assistValidate.Struct(r)
}

// EnsureDefaults populates default values for optional fields.
func (r *AssistRequest) EnsureDefaults() {
	if r.RequestID == "" {
		r.RequestID = uuid.New().String()
	}
	if r.Timestamp == 0 {
		r.Timestamp = time.Now().UnixMilli()
	}
}

// =============================================================================
// Assist Response Types
// =============================================================================

// SourceInfo identifies a knowledge passage that grounded an answer.
type SourceInfo struct {
	Title    string  `json:"title,omitempty"`
	Source   string  `json:"source,omitempty"`
	Category string  `json:"category,omitempty"`
	Score    float64 `json:"score,omitempty"`
}

// EscalationInfo carries the policy decision attached to a result.
//
// The pipeline only ever recommends escalation; creating the actual ticket
// belongs to whichever system consumes this payload.
type EscalationInfo struct {
	Escalate     bool   `json:"escalate"`
	MatchedRule  string `json:"matched_rule,omitempty"`
	IssueTitle   string `json:"issue_title,omitempty"`
	IssueSummary string `json:"issue_summary,omitempty"`
}

// AssistResult is the outcome of one trip through the assistance pipeline.
//
// # Fields
//
//   - Answer: The text to show the requester. Always populated; degraded
//     stages substitute fallback text rather than failing the result.
//   - ActorID: Echo of the requester identity.
//   - ConversationID: Storage identifier of the conversation record.
//   - Stored: False when the exchange could not be persisted. The answer is
//     still valid in that case.
//   - Sources: Up to three passages that grounded the answer.
//   - Escalation: Non-nil when the escalation policy fired.
type AssistResult struct {
	Answer         string          `json:"answer"`
	ActorID        string          `json:"actor_id"`
	ConversationID string          `json:"conversation_id,omitempty"`
	Stored         bool            `json:"stored"`
	Sources        []SourceInfo    `json:"sources,omitempty"`
	Escalation     *EscalationInfo `json:"escalation,omitempty"`
}

// =============================================================================
// Conversation Summary Types
// =============================================================================

// TurnView is a single conversation turn as rendered in summaries.
type TurnView struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

// ConversationSummary aggregates a conversation record for display.
//
// Found is false when no conversation exists for the actor; the remaining
// fields are zero-valued in that case.
type ConversationSummary struct {
	ActorID            string     `json:"actor_id"`
	Found              bool       `json:"found"`
	TotalMessages      int        `json:"total_messages"`
	RequesterMessages  int        `json:"requester_messages"`
	AssistantMessages  int        `json:"assistant_messages"`
	LastActivity       int64      `json:"last_activity,omitempty"`
	RecentConversation []TurnView `json:"recent_conversation,omitempty"`
}
