// Copyright (C) 2025 Supportra AI (oss@supportra.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package memory implements the bounded conversation store.
//
// Every actor owns exactly one rolling conversation. Appending an exchange
// writes the requester turn and the assistant turn in a single batch request
// and then evicts the oldest turns beyond the configured cap, so the record
// never grows past MaxTurns regardless of how long the conversation runs.
package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/SupportraAI/SupportraCore/services/assistant/datatypes"
	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/fault"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("supportra.assistant.memory")

const (
	// DefaultMaxTurns caps a conversation at 10 exchanges.
	DefaultMaxTurns = 20

	// RoleAssistant is the stored role for generated turns.
	RoleAssistant = "assistant"
)

// sessionNamespace seeds the deterministic SupportSession object IDs.
// Changing it orphans every existing conversation record.
var sessionNamespace = uuid.MustParse("9d2c7a4e-51b8-4f63-8c0d-e2a9b54d7f11")

// sessionUUID derives the SupportSession object ID from the actor. Every
// writer for the same actor targets the same UUID, so concurrent bootstraps
// collide inside Weaviate instead of creating duplicate records.
func sessionUUID(actorID string) string {
	return uuid.NewSHA1(sessionNamespace, []byte(actorID)).String()
}

// Turn is one stored conversation turn in chronological context.
type Turn struct {
	Role       string
	Content    string
	Timestamp  int64
	TurnNumber int
}

// Store is the conversation persistence contract consumed by the pipeline.
//
// # Description
//
// GetOrCreate is an idempotent bootstrap: it returns the storage identifier of
// the actor's conversation record, creating it when absent. AppendExchange
// persists a full requester/assistant exchange and enforces the turn cap.
// GetRecent never returns an error; a failed read yields an empty history so
// the pipeline can degrade instead of aborting.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use across actors. Interleaved
// appends for the same actor must never leave the record over the cap.
type Store interface {
	GetOrCreate(ctx context.Context, actorID, actorRole string) (string, error)
	AppendExchange(ctx context.Context, actorID, requesterRole, query, answer string) error
	GetRecent(ctx context.Context, actorID string, limit int) []Turn
	Clear(ctx context.Context, actorID string) (bool, error)
	Summarize(ctx context.Context, actorID string) (*datatypes.ConversationSummary, error)
}

// WeaviateStore implements Store on top of the SupportSession and ChatTurn
// classes. Each turn is its own object; the conversation is the set of turns
// sharing an actor_id, ordered by turn_number.
type WeaviateStore struct {
	client   *weaviate.Client
	maxTurns int
}

// NewWeaviateStore creates a conversation store with the given turn cap.
// A non-positive maxTurns falls back to DefaultMaxTurns.
func NewWeaviateStore(client *weaviate.Client, maxTurns int) *WeaviateStore {
	if maxTurns <= 0 {
		slog.Warn("Invalid maxTurns config, using default",
			"provided", maxTurns, "default", DefaultMaxTurns)
		maxTurns = DefaultMaxTurns
	}
	return &WeaviateStore{client: client, maxTurns: maxTurns}
}

// GetOrCreate returns the Weaviate UUID of the actor's conversation record,
// creating the record when it does not exist yet.
//
// # Description
//
// The record ID is derived from the actor, so the call is a plain upsert:
// it writes the SupportSession object at its deterministic UUID and treats
// an id-already-exists rejection as the existing-record case. Two requests
// bootstrapping the same brand-new actor both land on the same UUID; one
// create wins and the other resolves to it, so duplicates cannot persist.
//
// # Outputs
//
//   - string: Weaviate UUID of the conversation record.
//   - error: Non-nil when the upsert failed outright. The caller treats
//     this as fatal for the current request.
func (s *WeaviateStore) GetOrCreate(ctx context.Context, actorID, actorRole string) (string, error) {
	ctx, span := tracer.Start(ctx, "Store.GetOrCreate")
	defer span.End()
	span.SetAttributes(attribute.String("actor.id", actorID))

	sessionID := sessionUUID(actorID)
	props := datatypes.SupportSessionProperties{
		ActorID:   actorID,
		ActorRole: actorRole,
		CreatedAt: time.Now().UnixMilli(),
	}

	_, err := s.client.Data().Creator().
		WithClassName("SupportSession").
		WithID(sessionID).
		WithProperties(props.ToMap()).
		Do(ctx)
	if err != nil {
		if isAlreadyExists(err) {
			slog.Debug("Found existing conversation record", "actorId", actorID, "weaviateUUID", sessionID)
			return sessionID, nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("failed to create conversation record: %w", err)
	}

	slog.Info("Created conversation record", "actorId", actorID, "weaviateUUID", sessionID)
	return sessionID, nil
}

// isAlreadyExists reports whether Weaviate rejected a create because an
// object with that ID is already stored.
func isAlreadyExists(err error) bool {
	var clientErr *fault.WeaviateClientError
	return errors.As(err, &clientErr) && clientErr.StatusCode == 422
}

// AppendExchange persists one requester/assistant exchange.
//
// # Description
//
// Both turns go to Weaviate in a single batch request so a half-written
// exchange cannot be observed. Turn numbers derive from a single clock
// reading taken at append time, so concurrent appends for the same actor
// get their ordering without a read-modify-write cycle that could hand two
// writers the same number. After the write, any turns beyond the cap are
// evicted oldest-first.
//
// # Outputs
//
//   - error: Non-nil when the batch write failed. Eviction failures are
//     logged but not surfaced; the next append retries the trim.
func (s *WeaviateStore) AppendExchange(ctx context.Context, actorID, requesterRole, query, answer string) error {
	ctx, span := tracer.Start(ctx, "Store.AppendExchange")
	defer span.End()
	span.SetAttributes(attribute.String("actor.id", actorID))

	appendedAt := time.Now()
	requesterTurn, assistantTurn := exchangeTurnNumbers(appendedAt.UnixMicro())

	now := appendedAt.UnixMilli()
	turnProps := []datatypes.ChatTurnProperties{
		{ActorID: actorID, Role: requesterRole, Content: query, Timestamp: now, TurnNumber: requesterTurn},
		{ActorID: actorID, Role: RoleAssistant, Content: answer, Timestamp: now, TurnNumber: assistantTurn},
	}

	objects := make([]*models.Object, len(turnProps))
	for i := range turnProps {
		objects[i] = &models.Object{
			Class:      "ChatTurn",
			ID:         strfmt.UUID(uuid.New().String()),
			Properties: turnProps[i].ToMap(),
		}
	}

	resp, err := s.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to save exchange to Weaviate: %w", err)
	}
	for _, item := range resp {
		if item.Result != nil && item.Result.Errors != nil && len(item.Result.Errors.Error) > 0 {
			msg := item.Result.Errors.Error[0].Message
			span.SetStatus(codes.Error, msg)
			return fmt.Errorf("weaviate rejected a turn in the exchange batch: %s", msg)
		}
	}

	if err := s.trim(ctx, actorID); err != nil {
		slog.Warn("Failed to trim conversation after append, will retry on next exchange",
			"actorId", actorID, "error", err)
	}
	return nil
}

// GetRecent returns up to limit turns in chronological order.
//
// A read fault yields an empty slice: stale or missing history degrades the
// prompt, it does not fail the request.
func (s *WeaviateStore) GetRecent(ctx context.Context, actorID string, limit int) []Turn {
	ctx, span := tracer.Start(ctx, "Store.GetRecent")
	defer span.End()
	span.SetAttributes(attribute.String("actor.id", actorID), attribute.Int("limit", limit))

	if limit <= 0 {
		return []Turn{}
	}

	results, err := s.queryTurns(ctx, actorID, graphql.Desc, limit)
	if err != nil {
		slog.Warn("Failed to load recent turns, continuing with empty history",
			"actorId", actorID, "error", err)
		span.RecordError(err)
		return []Turn{}
	}

	// Query is newest-first; callers want chronological.
	turns := make([]Turn, 0, len(results))
	for i := len(results) - 1; i >= 0; i-- {
		turns = append(turns, resultToTurn(results[i]))
	}
	return turns
}

// Clear empties the actor's conversation without discarding its identity.
// Returns true when any turns existed to delete.
func (s *WeaviateStore) Clear(ctx context.Context, actorID string) (bool, error) {
	ctx, span := tracer.Start(ctx, "Store.Clear")
	defer span.End()
	span.SetAttributes(attribute.String("actor.id", actorID))

	whereFilter := filters.Where().
		WithPath([]string{"actor_id"}).
		WithOperator(filters.Equal).
		WithValueString(actorID)

	// Only the turns are deleted. The SupportSession record survives so the
	// actor keeps the same conversation identity after a clear.
	turnResp, err := s.client.Batch().ObjectsBatchDeleter().
		WithClassName("ChatTurn").
		WithOutput("minimal").
		WithWhere(whereFilter).
		Do(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, fmt.Errorf("failed to delete conversation turns: %w", err)
	}

	existed := batchMatches(turnResp) > 0
	slog.Info("Cleared conversation", "actorId", actorID, "existed", existed)
	return existed, nil
}

// Summarize aggregates the stored conversation for display.
//
// Found reflects the SupportSession record, not the turn count: a cleared
// conversation keeps its record and summarizes with zero counts.
func (s *WeaviateStore) Summarize(ctx context.Context, actorID string) (*datatypes.ConversationSummary, error) {
	ctx, span := tracer.Start(ctx, "Store.Summarize")
	defer span.End()
	span.SetAttributes(attribute.String("actor.id", actorID))

	results, err := s.queryTurns(ctx, actorID, graphql.Asc, s.maxTurns)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to load conversation for summary: %w", err)
	}

	// Stored turns imply the record exists; only an empty conversation
	// needs the extra lookup.
	sessionExists := len(results) > 0
	if !sessionExists {
		sessionExists, err = s.sessionExists(ctx, actorID)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("failed to check conversation record for summary: %w", err)
		}
	}

	return buildSummary(actorID, results, sessionExists), nil
}

// sessionExists reports whether the actor has a SupportSession record.
func (s *WeaviateStore) sessionExists(ctx context.Context, actorID string) (bool, error) {
	where := filters.Where().
		WithPath([]string{"actor_id"}).
		WithOperator(filters.Equal).
		WithValueString(actorID)

	fields := []graphql.Field{
		{Name: "_additional", Fields: []graphql.Field{{Name: "id"}}},
	}

	resp, err := s.client.GraphQL().Get().
		WithClassName("SupportSession").
		WithWhere(where).
		WithFields(fields...).
		WithLimit(1).
		Do(ctx)
	if err != nil {
		return false, fmt.Errorf("error querying for conversation record: %w", err)
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.SupportSessionQueryResponse](resp)
	if err != nil {
		return false, fmt.Errorf("error parsing conversation query response: %w", err)
	}
	return len(parsed.Get.SupportSession) > 0, nil
}

// buildSummary shapes the stored turns into a ConversationSummary. Input
// must be ordered oldest-first.
func buildSummary(actorID string, results []datatypes.ChatTurnResult, sessionExists bool) *datatypes.ConversationSummary {
	summary := &datatypes.ConversationSummary{ActorID: actorID, Found: sessionExists}
	if len(results) == 0 {
		return summary
	}
	summary.TotalMessages = len(results)

	for _, r := range results {
		if r.Role == RoleAssistant {
			summary.AssistantMessages++
		} else {
			summary.RequesterMessages++
		}
		if r.Timestamp > summary.LastActivity {
			summary.LastActivity = r.Timestamp
		}
	}

	recent := results
	if len(recent) > 10 {
		recent = recent[len(recent)-10:]
	}
	summary.RecentConversation = make([]datatypes.TurnView, 0, len(recent))
	for _, r := range recent {
		summary.RecentConversation = append(summary.RecentConversation, datatypes.TurnView{
			Role:      r.Role,
			Content:   r.Content,
			Timestamp: r.Timestamp,
		})
	}
	return summary
}

// =============================================================================
// Internals
// =============================================================================

// queryTurns loads turns for an actor ordered by turn_number.
func (s *WeaviateStore) queryTurns(ctx context.Context, actorID string, order graphql.SortOrder, limit int) ([]datatypes.ChatTurnResult, error) {
	whereFilter := filters.Where().
		WithPath([]string{"actor_id"}).
		WithOperator(filters.Equal).
		WithValueString(actorID)

	sortBy := graphql.Sort{
		Path:  []string{"turn_number"},
		Order: order,
	}

	fields := []graphql.Field{
		{Name: "actor_id"},
		{Name: "role"},
		{Name: "content"},
		{Name: "timestamp"},
		{Name: "turn_number"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "id"}}},
	}

	result, err := s.client.GraphQL().Get().
		WithClassName("ChatTurn").
		WithFields(fields...).
		WithWhere(whereFilter).
		WithSort(sortBy).
		WithLimit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("weaviate query failed: %w", err)
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.ChatTurnQueryResponse](result)
	if err != nil {
		return nil, fmt.Errorf("failed to parse turn results: %w", err)
	}
	return parsed.Get.ChatTurn, nil
}

// exchangeTurnNumbers derives the ordering keys for one exchange from a
// microsecond clock reading. The requester turn takes 2t and the assistant
// turn 2t+1, so the pair always sorts adjacently and two appends keep their
// relative order without anyone reading the current maximum first.
func exchangeTurnNumbers(unixMicro int64) (int, int) {
	base := int(unixMicro) * 2
	return base, base + 1
}

// trim evicts the oldest turns beyond the cap.
func (s *WeaviateStore) trim(ctx context.Context, actorID string) error {
	// Reading twice the cap lets a single pass recover the backlog left
	// behind when an earlier eviction failed.
	results, err := s.queryTurns(ctx, actorID, graphql.Asc, trimReadLimit(s.maxTurns))
	if err != nil {
		return err
	}

	evict := evictionIDs(results, s.maxTurns)
	if len(evict) == 0 {
		return nil
	}

	idFilter := filters.Where().
		WithPath([]string{"id"}).
		WithOperator(filters.ContainsAny).
		WithValueText(evict...)

	_, err = s.client.Batch().ObjectsBatchDeleter().
		WithClassName("ChatTurn").
		WithOutput("minimal").
		WithWhere(idFilter).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("failed to evict oldest turns: %w", err)
	}

	slog.Debug("Evicted oldest conversation turns", "actorId", actorID, "count", len(evict))
	return nil
}

// trimReadLimit is how many of the oldest turns a trim pass inspects. A
// single append adds two turns, so anything past the cap is surplus; the
// extra headroom covers trims that were skipped after a transient fault.
func trimReadLimit(maxTurns int) int {
	return maxTurns * 2
}

// evictionIDs selects which turns to delete so that at most maxTurns remain.
// Input must be ordered oldest-first; the oldest surplus turns are chosen.
func evictionIDs(turns []datatypes.ChatTurnResult, maxTurns int) []string {
	surplus := len(turns) - maxTurns
	if surplus <= 0 {
		return nil
	}
	ids := make([]string, 0, surplus)
	for _, t := range turns[:surplus] {
		if t.Additional.ID != "" {
			ids = append(ids, t.Additional.ID)
		}
	}
	return ids
}

func resultToTurn(r datatypes.ChatTurnResult) Turn {
	turnNum := 0
	if r.TurnNumber != nil {
		turnNum = *r.TurnNumber
	}
	return Turn{
		Role:       r.Role,
		Content:    r.Content,
		Timestamp:  r.Timestamp,
		TurnNumber: turnNum,
	}
}

// batchMatches extracts the matched-object count from a batch delete response.
func batchMatches(resp *models.BatchDeleteResponse) int64 {
	if resp == nil || resp.Results == nil {
		return 0
	}
	return resp.Results.Matches
}

var _ Store = (*WeaviateStore)(nil)
