// Copyright (C) 2025 Supportra AI (oss@supportra.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package memory

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/SupportraAI/SupportraCore/services/assistant/datatypes"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/fault"
	"github.com/weaviate/weaviate/entities/models"
)

// makeTurns builds an oldest-first slice of n stored turns.
func makeTurns(n int) []datatypes.ChatTurnResult {
	turns := make([]datatypes.ChatTurnResult, 0, n)
	for i := 1; i <= n; i++ {
		num := i
		t := datatypes.ChatTurnResult{
			ActorID:    "actor_1",
			Role:       "customer",
			Content:    fmt.Sprintf("turn %d", i),
			Timestamp:  int64(1000 + i),
			TurnNumber: &num,
		}
		t.Additional.ID = fmt.Sprintf("uuid-%d", i)
		turns = append(turns, t)
	}
	return turns
}

func TestEvictionIDs(t *testing.T) {
	tests := []struct {
		name     string
		stored   int
		maxTurns int
		want     []string
	}{
		{
			name:     "under cap keeps everything",
			stored:   6,
			maxTurns: 20,
			want:     nil,
		},
		{
			name:     "exactly at cap keeps everything",
			stored:   20,
			maxTurns: 20,
			want:     nil,
		},
		{
			name:     "one exchange over cap evicts the two oldest",
			stored:   22,
			maxTurns: 20,
			want:     []string{"uuid-1", "uuid-2"},
		},
		{
			name:     "empty conversation",
			stored:   0,
			maxTurns: 20,
			want:     nil,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := evictionIDs(makeTurns(tc.stored), tc.maxTurns)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestEvictionIDs_OldestFirst(t *testing.T) {
	// A long backlog must be evicted strictly oldest-first.
	got := evictionIDs(makeTurns(25), 20)
	assert.Len(t, got, 5)
	assert.Equal(t, "uuid-1", got[0])
	assert.Equal(t, "uuid-5", got[4])
}

func TestTrimReadLimit_RecoversBacklog(t *testing.T) {
	// An append while a conversation sits at the cap leaves 22 turns; if
	// that eviction fails, the next append leaves 24. A single trim pass
	// must see the whole backlog and bring the record back to the cap.
	const maxTurns = 20

	stored := makeTurns(24)
	assert.LessOrEqual(t, len(stored), trimReadLimit(maxTurns))

	evicted := evictionIDs(stored, maxTurns)
	assert.Len(t, evicted, 4)
	assert.Equal(t, "uuid-1", evicted[0])
	assert.Equal(t, "uuid-4", evicted[3])
}

func TestSessionUUID(t *testing.T) {
	first := sessionUUID("agent_smith")
	again := sessionUUID("agent_smith")
	other := sessionUUID("agent_jones")

	// Same actor always maps to the same record; distinct actors never
	// share one.
	assert.Equal(t, first, again)
	assert.NotEqual(t, first, other)

	_, err := uuid.Parse(first)
	assert.NoError(t, err)
}

func TestIsAlreadyExists(t *testing.T) {
	conflict := &fault.WeaviateClientError{StatusCode: 422, Msg: "id 'abc' already exists"}
	assert.True(t, isAlreadyExists(conflict))

	serverFault := &fault.WeaviateClientError{StatusCode: 500, Msg: "internal error"}
	assert.False(t, isAlreadyExists(serverFault))
	assert.False(t, isAlreadyExists(errors.New("connection refused")))
}

func TestExchangeTurnNumbers(t *testing.T) {
	now := time.Now().UnixMicro()

	requester, assistant := exchangeTurnNumbers(now)
	assert.Equal(t, requester+1, assistant)

	// A later append must sort strictly after both turns of an earlier
	// one, and two appends never overlap even one microsecond apart.
	laterRequester, laterAssistant := exchangeTurnNumbers(now + 1)
	assert.Greater(t, laterRequester, assistant)
	assert.Greater(t, laterAssistant, laterRequester)
}

func TestResultToTurn(t *testing.T) {
	num := 7
	r := datatypes.ChatTurnResult{
		Role:       RoleAssistant,
		Content:    "an answer",
		Timestamp:  1234,
		TurnNumber: &num,
	}

	turn := resultToTurn(r)
	assert.Equal(t, RoleAssistant, turn.Role)
	assert.Equal(t, "an answer", turn.Content)
	assert.Equal(t, int64(1234), turn.Timestamp)
	assert.Equal(t, 7, turn.TurnNumber)
}

func TestResultToTurn_MissingTurnNumber(t *testing.T) {
	turn := resultToTurn(datatypes.ChatTurnResult{Role: "agent", Content: "q"})
	assert.Equal(t, 0, turn.TurnNumber)
}

func TestBatchMatches(t *testing.T) {
	assert.Equal(t, int64(0), batchMatches(nil))
	assert.Equal(t, int64(0), batchMatches(&models.BatchDeleteResponse{}))

	resp := &models.BatchDeleteResponse{
		Results: &models.BatchDeleteResponseResults{Matches: 12},
	}
	assert.Equal(t, int64(12), batchMatches(resp))
}

func TestParseChatTurnQueryResponse(t *testing.T) {
	// The GraphQL parser must round-trip the ChatTurn response shape,
	// including _additional IDs used for eviction.
	resp := &models.GraphQLResponse{
		Data: map[string]models.JSONObject{
			"Get": map[string]interface{}{
				"ChatTurn": []interface{}{
					map[string]interface{}{
						"actor_id":    "actor_1",
						"role":        "customer",
						"content":     "where is my order?",
						"timestamp":   float64(1700000000000),
						"turn_number": float64(3),
						"_additional": map[string]interface{}{"id": "uuid-3"},
					},
				},
			},
		},
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.ChatTurnQueryResponse](resp)
	assert.NoError(t, err)
	assert.Len(t, parsed.Get.ChatTurn, 1)

	turn := parsed.Get.ChatTurn[0]
	assert.Equal(t, "where is my order?", turn.Content)
	assert.Equal(t, "uuid-3", turn.Additional.ID)
	if assert.NotNil(t, turn.TurnNumber) {
		assert.Equal(t, 3, *turn.TurnNumber)
	}
}

func TestBuildSummary(t *testing.T) {
	summary := buildSummary("actor_1", makeTurns(4), true)

	assert.True(t, summary.Found)
	assert.Equal(t, "actor_1", summary.ActorID)
	assert.Equal(t, 4, summary.TotalMessages)
	assert.Equal(t, 4, summary.RequesterMessages)
	assert.Equal(t, 0, summary.AssistantMessages)
	assert.Equal(t, int64(1004), summary.LastActivity)
	assert.Len(t, summary.RecentConversation, 4)
}

func TestBuildSummary_RecentWindow(t *testing.T) {
	summary := buildSummary("actor_1", makeTurns(25), true)

	assert.Equal(t, 25, summary.TotalMessages)
	assert.Len(t, summary.RecentConversation, 10)
	// The window holds the newest turns in chronological order.
	assert.Equal(t, "turn 16", summary.RecentConversation[0].Content)
	assert.Equal(t, "turn 25", summary.RecentConversation[9].Content)
}

func TestBuildSummary_ClearedConversationStaysFound(t *testing.T) {
	// Clearing deletes the turns but keeps the conversation record, so
	// the summary must report the actor as found with zero counts.
	summary := buildSummary("actor_1", nil, true)

	assert.True(t, summary.Found)
	assert.Equal(t, 0, summary.TotalMessages)
	assert.Equal(t, 0, summary.RequesterMessages)
	assert.Equal(t, 0, summary.AssistantMessages)
	assert.Empty(t, summary.RecentConversation)
}

func TestBuildSummary_UnknownActor(t *testing.T) {
	summary := buildSummary("actor_unknown", nil, false)
	assert.False(t, summary.Found)
	assert.Equal(t, 0, summary.TotalMessages)
}

func TestNewWeaviateStore_InvalidCap(t *testing.T) {
	s := NewWeaviateStore(nil, 0)
	assert.Equal(t, DefaultMaxTurns, s.maxTurns)

	s = NewWeaviateStore(nil, 8)
	assert.Equal(t, 8, s.maxTurns)
}
