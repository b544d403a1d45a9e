// Copyright (C) 2025 Supportra AI (oss@supportra.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package escalation decides whether a query should be routed to a human.
//
// The decision is a pure function of the query text and the retrieved-context
// count: same inputs, same decision, no clock, no randomness. Rules live in
// an embedded YAML file and are evaluated highest priority first with
// first-match-wins semantics, so observability always knows exactly which
// rule fired.
package escalation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/SupportraAI/SupportraCore/services/assistant/escalation/rules"
	"gopkg.in/yaml.v3"
)

// Decision is the outcome of evaluating a query against the policy.
//
// MatchedRule is empty when Escalate is false; otherwise it names the single
// rule that fired.
type Decision struct {
	Escalate    bool   `json:"escalate"`
	MatchedRule string `json:"matched_rule,omitempty"`
}

// intensityPattern flags three or more consecutive exclamation marks.
var intensityPattern = regexp.MustCompile(`!{3,}`)

// allCapsMinLength is the minimum message length before sustained caps count
// as intensity; short messages like "OK" or an order code are not shouting.
const allCapsMinLength = 12

// Engine evaluates queries against the loaded escalation rules.
//
// # Thread Safety
//
// Engine is immutable after construction and safe for concurrent use.
type Engine struct {
	Rules []Rule
}

// NewEngine initializes an Engine from the rules embedded in the binary.
//
// It performs the following operations:
//  1. Unmarshals the embedded YAML data.
//  2. Normalizes keywords for case-insensitive matching.
//  3. Sorts rules by priority.
//
// Returns an error if the embedded YAML is malformed or a rule references an
// unknown builtin.
func NewEngine() (*Engine, error) {
	return NewEngineFromYAML(rules.EscalationRules)
}

// NewEngineFromYAML builds an Engine from raw YAML rule data.
func NewEngineFromYAML(data []byte) (*Engine, error) {
	var ruleFile RuleFile
	if err := yaml.Unmarshal(data, &ruleFile); err != nil {
		return nil, fmt.Errorf("failed to unmarshal the escalation rule file: %w", err)
	}

	if err := ruleFile.Normalize(); err != nil {
		return nil, fmt.Errorf("invalid escalation rule: %w", err)
	}
	ruleFile.SortByPriority()

	return &Engine{Rules: ruleFile.Rules}, nil
}

// Evaluate checks a query against the policy.
//
// # Inputs
//
//   - query: The raw requester query text.
//   - passageCount: How many knowledge passages retrieval produced for the
//     query. Context-starved long problem reports escalate via the
//     complex_issue_no_context rule.
//
// # Outputs
//
//   - Decision: Escalate plus the name of the first rule that matched.
//
// Evaluation is deterministic: rules run in fixed priority order and the
// first match short-circuits.
func (e *Engine) Evaluate(query string, passageCount int) Decision {
	normalized := strings.ToLower(query)

	for _, rule := range e.Rules {
		if rule.matches(query, normalized, passageCount) {
			return Decision{Escalate: true, MatchedRule: rule.Name}
		}
	}
	return Decision{}
}

// matches reports whether a single rule fires for the query.
func (r *Rule) matches(query, normalized string, passageCount int) bool {
	switch r.Builtin {
	case "":
		return containsAny(normalized, r.Keywords)
	case BuiltinEmotionalIntensity:
		return matchesIntensity(query)
	case BuiltinComplexIssueNoContext:
		return passageCount == 0 &&
			len(query) > r.MinChars &&
			containsAny(normalized, r.Keywords)
	}
	return false
}

// containsAny reports whether the normalized query contains any keyword.
// Keywords are pre-lowercased by Normalize().
func containsAny(normalized string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(normalized, kw) {
			return true
		}
	}
	return false
}

// matchesIntensity flags ">= 3 consecutive '!'" or a sustained all-caps
// message containing at least one letter.
func matchesIntensity(query string) bool {
	if intensityPattern.MatchString(query) {
		return true
	}

	trimmed := strings.TrimSpace(query)
	if len(trimmed) < allCapsMinLength {
		return false
	}
	hasLetter := false
	for _, r := range trimmed {
		if unicode.IsLetter(r) {
			hasLetter = true
			if unicode.IsLower(r) {
				return false
			}
		}
	}
	return hasLetter
}
