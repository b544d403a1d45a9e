// Copyright (C) 2025 Supportra AI (oss@supportra.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package services contains the assist pipeline orchestration.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/SupportraAI/SupportraCore/services/assistant/composer"
	"github.com/SupportraAI/SupportraCore/services/assistant/datatypes"
	"github.com/SupportraAI/SupportraCore/services/assistant/escalation"
	"github.com/SupportraAI/SupportraCore/services/assistant/memory"
	"github.com/SupportraAI/SupportraCore/services/assistant/observability"
	"github.com/SupportraAI/SupportraCore/services/assistant/retrieval"
)

// answerTracer is the OpenTelemetry tracer for AnswerService operations.
var answerTracer = otel.Tracer("supportra.assistant.services.answer")

// HistoryTurns is how many recent turns are rendered into the prompt.
const HistoryTurns = 10

// MaxSources is how many source attributions a response carries.
const MaxSources = 3

// issueTitleMaxChars bounds the ticket title derived from the query.
const issueTitleMaxChars = 80

// =============================================================================
// Errors
// =============================================================================

// IdentityError reports that a conversation session could not be ensured for
// an actor. This is the pipeline's only fatal fault: without a session there
// is no conversation to answer into.
type IdentityError struct {
	ActorID string
	Err     error
}

func (e *IdentityError) Error() string {
	return fmt.Sprintf("failed to ensure session for actor %s: %v", e.ActorID, e.Err)
}

func (e *IdentityError) Unwrap() error {
	return e.Err
}

// IsIdentityError checks if an error is an IdentityError.
func IsIdentityError(err error) bool {
	var identityErr *IdentityError
	return errors.As(err, &identityErr)
}

// =============================================================================
// AnswerService
// =============================================================================

// AnswerComposer produces the final answer text for a query. Satisfied by
// *composer.Composer.
type AnswerComposer interface {
	Compose(ctx context.Context, role, query string, history []memory.Turn, passages []retrieval.Passage) composer.Result
}

// AnswerService runs the assist pipeline end-to-end. It orchestrates the
// flow between:
//   - Memory store: Conversation identity, history, and persistence
//   - Retriever: Tenant-scoped knowledge base search and reranking
//   - Escalation engine: Human handoff decisions
//   - Composer: Role-conditioned prompting and generation
//
// The service is stateless. All conversation state lives in Weaviate, so the
// assistant can scale horizontally.
//
// Usage:
//
//	service := NewAnswerService(store, retriever, comp, engine, metrics)
//	result, err := service.Process(ctx, &req)
type AnswerService struct {
	store        memory.Store
	retriever    retrieval.Retriever
	composer     AnswerComposer
	engine       *escalation.Engine
	metrics      *observability.AssistMetrics
	historyTurns int
}

// NewAnswerService creates an AnswerService with the provided dependencies.
//
// All dependencies must be non-nil except metrics, which may be nil when the
// metrics endpoint is disabled.
func NewAnswerService(
	store memory.Store,
	retriever retrieval.Retriever,
	comp AnswerComposer,
	engine *escalation.Engine,
	metrics *observability.AssistMetrics,
) *AnswerService {
	return &AnswerService{
		store:        store,
		retriever:    retriever,
		composer:     comp,
		engine:       engine,
		metrics:      metrics,
		historyTurns: HistoryTurns,
	}
}

// Process handles an assist request end-to-end.
//
// # Description
//
// The processing flow is:
//  1. Populate request defaults and validate.
//  2. Ensure a conversation session exists for the actor. Failure here is
//     fatal and returns an *IdentityError.
//  3. Fetch recent history (fail-soft: empty on fault).
//  4. Retrieve tenant-scoped knowledge passages (fail-soft: empty on fault).
//  5. Evaluate the escalation policy against the query and retrieval yield.
//  6. Compose the answer. No-context queries get a canned fallback without a
//     model call; generation faults get the apology fallback.
//  7. Persist the exchange (fail-soft: the answer is still returned with
//     Stored=false).
//
// # Inputs
//
//   - ctx: Context for cancellation, timeouts, and tracing.
//   - req: The assist request. Modified in place to populate defaults.
//
// # Outputs
//
//   - *datatypes.AssistResult: The answer, sources, storage status, and any
//     escalation recommendation.
//   - error: Non-nil only for validation failures and *IdentityError.
//
// The method is safe for concurrent use.
func (s *AnswerService) Process(ctx context.Context, req *datatypes.AssistRequest) (*datatypes.AssistResult, error) {
	ctx, span := answerTracer.Start(ctx, "AnswerService.Process")
	defer span.End()

	req.EnsureDefaults()
	span.SetAttributes(
		attribute.String("request.id", req.RequestID),
		attribute.String("request.role", req.Role),
		attribute.String("request.tenant_id", req.TenantID),
	)

	if err := req.Validate(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "validation failed")
		s.countRequest(req.Role, observability.StatusError)
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	// Step 1: conversation identity. The only fatal stage.
	sessionStart := time.Now()
	conversationID, err := s.store.GetOrCreate(ctx, req.ActorID, req.Role)
	s.observeStage(observability.StageSession, sessionStart)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "session unavailable")
		s.countRequest(req.Role, observability.StatusError)
		return nil, &IdentityError{ActorID: req.ActorID, Err: err}
	}
	span.SetAttributes(attribute.String("session.id", conversationID))

	// Step 2: rolling history, oldest first.
	historyStart := time.Now()
	history := s.store.GetRecent(ctx, req.ActorID, s.historyTurns)
	s.observeStage(observability.StageHistory, historyStart)

	// Step 3: tenant-scoped retrieval.
	retrievalStart := time.Now()
	passages := s.retriever.GetContext(ctx, req.TenantID, req.Query)
	s.observeStage(observability.StageRetrieval, retrievalStart)
	span.SetAttributes(attribute.Int("retrieval.passages", len(passages)))
	if s.metrics != nil {
		s.metrics.RetrievalPassages.Observe(float64(len(passages)))
	}

	// Step 4: escalation policy. Pure function of query and yield.
	decision := s.engine.Evaluate(req.Query, len(passages))
	if decision.Escalate {
		span.SetAttributes(attribute.String("escalation.rule", decision.MatchedRule))
		if s.metrics != nil {
			s.metrics.EscalationsTotal.WithLabelValues(decision.MatchedRule).Inc()
		}
	}

	// Step 5: compose the answer.
	composeStart := time.Now()
	composed := s.composer.Compose(ctx, req.Role, req.Query, history, passages)
	s.observeStage(observability.StageCompose, composeStart)
	if composed.GenerationFault && s.metrics != nil {
		s.metrics.GenerationFaultsTotal.Inc()
	}

	answer := composed.Answer
	if decision.Escalate {
		answer = composer.WithEscalationNotice(answer)
	}

	// Step 6: persist the exchange. The answer survives a storage fault.
	persistStart := time.Now()
	stored := true
	if err := s.store.AppendExchange(ctx, req.ActorID, req.Role, req.Query, answer); err != nil {
		stored = false
		span.RecordError(err)
		slog.Warn("Failed to persist exchange",
			"requestId", req.RequestID,
			"actorId", req.ActorID,
			"error", err,
		)
		if s.metrics != nil {
			s.metrics.PersistFaultsTotal.Inc()
		}
	}
	s.observeStage(observability.StagePersist, persistStart)

	result := &datatypes.AssistResult{
		Answer:         answer,
		ActorID:        req.ActorID,
		ConversationID: conversationID,
		Stored:         stored,
		Sources:        buildSources(passages),
	}
	if decision.Escalate {
		result.Escalation = buildEscalation(decision, req.Query)
	}

	status := observability.StatusSuccess
	if composed.GenerationFault || !stored {
		status = observability.StatusDegraded
	}
	s.countRequest(req.Role, status)

	span.SetAttributes(
		attribute.Bool("response.stored", stored),
		attribute.Int("response.sources", len(result.Sources)),
		attribute.Bool("response.escalated", decision.Escalate),
	)
	return result, nil
}

// countRequest increments the request counter when metrics are enabled.
func (s *AnswerService) countRequest(role, status string) {
	if s.metrics != nil {
		s.metrics.RequestsTotal.WithLabelValues(role, status).Inc()
	}
}

// observeStage records a stage latency when metrics are enabled.
func (s *AnswerService) observeStage(stage string, start time.Time) {
	if s.metrics != nil {
		s.metrics.StageDurationSeconds.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	}
}

// buildSources maps the best passages to response attributions.
func buildSources(passages []retrieval.Passage) []datatypes.SourceInfo {
	n := len(passages)
	if n > MaxSources {
		n = MaxSources
	}
	sources := make([]datatypes.SourceInfo, 0, n)
	for _, p := range passages[:n] {
		sources = append(sources, datatypes.SourceInfo{
			Title:    p.Title,
			Source:   p.Source,
			Category: p.Category,
			Score:    p.Score,
		})
	}
	return sources
}

// buildEscalation turns a policy decision into a ticket recommendation.
func buildEscalation(decision escalation.Decision, query string) *datatypes.EscalationInfo {
	return &datatypes.EscalationInfo{
		Escalate:     true,
		MatchedRule:  decision.MatchedRule,
		IssueTitle:   "Support request: " + truncateQuery(query, issueTitleMaxChars),
		IssueSummary: strings.TrimSpace(query),
	}
}

// truncateQuery cuts a query for display without splitting a word when it
// can avoid it.
func truncateQuery(query string, maxChars int) string {
	query = strings.TrimSpace(query)
	if len(query) <= maxChars {
		return query
	}
	cut := query[:maxChars]
	if idx := strings.LastIndexByte(cut, ' '); idx > maxChars/2 {
		cut = cut[:idx]
	}
	return cut + "..."
}
