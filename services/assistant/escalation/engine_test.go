// Copyright (C) 2025 Supportra AI (oss@supportra.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package escalation

import (
	"strings"
	"testing"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	engine, err := NewEngine()
	if err != nil {
		t.Fatalf("Failed to initialize engine: %v", err)
	}
	return engine
}

func TestEvaluate(t *testing.T) {
	engine := newTestEngine(t)

	longProblem := strings.Repeat("the export keeps failing with a strange problem ", 4)

	tests := []struct {
		name         string
		query        string
		passageCount int
		wantEscalate bool
		wantRule     string
	}{
		{
			name:         "plain question",
			query:        "What are your opening hours?",
			passageCount: 3,
			wantEscalate: false,
		},
		{
			name:         "explicit help request",
			query:        "Please let me speak to agent about this",
			passageCount: 3,
			wantEscalate: true,
			wantRule:     "explicit_help_request",
		},
		{
			name:         "explicit help request is case-insensitive",
			query:        "I NEED HELP",
			passageCount: 3,
			wantEscalate: true,
			wantRule:     "explicit_help_request",
		},
		{
			name:         "distress keyword",
			query:        "the app is broken since yesterday",
			passageCount: 2,
			wantEscalate: true,
			wantRule:     "distress_keyword",
		},
		{
			name:         "repeated exclamation marks",
			query:        "why was I charged twice!!!",
			passageCount: 2,
			wantEscalate: true,
			wantRule:     "emotional_intensity",
		},
		{
			name:         "sustained all caps",
			query:        "WHY WAS I CHARGED TWICE",
			passageCount: 2,
			wantEscalate: true,
			wantRule:     "emotional_intensity",
		},
		{
			name:         "short all caps does not count",
			query:        "ORDER-12",
			passageCount: 2,
			wantEscalate: false,
		},
		{
			name:         "long problem without context",
			query:        longProblem,
			passageCount: 0,
			wantEscalate: true,
			wantRule:     "complex_issue_no_context",
		},
		{
			name:         "long problem with context does not escalate",
			query:        longProblem,
			passageCount: 5,
			wantEscalate: false,
		},
		{
			name:         "long message without problem keyword does not escalate",
			query:        strings.Repeat("tell me about the subscription plans please ", 5),
			passageCount: 0,
			wantEscalate: false,
		},
		{
			name:         "complaint keyword",
			query:        "I want a refund for last month",
			passageCount: 4,
			wantEscalate: true,
			wantRule:     "complaint_keyword",
		},
		{
			name:         "two exclamation marks are fine",
			query:        "thanks!! that worked",
			passageCount: 1,
			wantEscalate: false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			decision := engine.Evaluate(tc.query, tc.passageCount)
			if decision.Escalate != tc.wantEscalate {
				t.Errorf("Escalate = %v, want %v", decision.Escalate, tc.wantEscalate)
			}
			if decision.MatchedRule != tc.wantRule {
				t.Errorf("MatchedRule = %q, want %q", decision.MatchedRule, tc.wantRule)
			}
		})
	}
}

func TestEvaluate_PriorityOrder(t *testing.T) {
	engine := newTestEngine(t)

	// "need help" (explicit request) and "billing issue" (complaint) both
	// match; the higher-priority rule must be reported.
	decision := engine.Evaluate("I need help with my billing issue", 2)
	if !decision.Escalate {
		t.Fatal("expected escalation")
	}
	if decision.MatchedRule != "explicit_help_request" {
		t.Errorf("MatchedRule = %q, want explicit_help_request", decision.MatchedRule)
	}

	// Distress beats complaint as well.
	decision = engine.Evaluate("my account problem is urgent", 2)
	if decision.MatchedRule != "distress_keyword" {
		t.Errorf("MatchedRule = %q, want distress_keyword", decision.MatchedRule)
	}
}

func TestEvaluate_Deterministic(t *testing.T) {
	engine := newTestEngine(t)

	first := engine.Evaluate("my order is broken!!!", 0)
	for i := 0; i < 50; i++ {
		got := engine.Evaluate("my order is broken!!!", 0)
		if got != first {
			t.Fatalf("decision changed between evaluations: %+v vs %+v", first, got)
		}
	}
}

func TestNewEngineFromYAML_Invalid(t *testing.T) {
	if _, err := NewEngineFromYAML([]byte("rules: [{name: x, builtin: nope}]")); err == nil {
		t.Error("expected error for unknown builtin")
	}
	if _, err := NewEngineFromYAML([]byte("rules: [{name: x, priority: 1}]")); err == nil {
		t.Error("expected error for rule without keywords or builtin")
	}
	if _, err := NewEngineFromYAML([]byte("not yaml: [")); err == nil {
		t.Error("expected error for malformed yaml")
	}
}

func TestMatchesIntensity(t *testing.T) {
	tests := []struct {
		query string
		want  bool
	}{
		{"HELP ME RIGHT NOW", true},
		{"ORDER 123456789012", true}, // digits plus caps letters, long enough
		{"no caps here at all", false},
		{"Mixed Case Message Here", false},
		{"!!!", true},
		{"hm!!", false},
		{"   SHOUTING WITH PADDING   ", true},
		{"12345678901234", false}, // long but no letters
	}

	for _, tc := range tests {
		if got := matchesIntensity(tc.query); got != tc.want {
			t.Errorf("matchesIntensity(%q) = %v, want %v", tc.query, got, tc.want)
		}
	}
}
