// Copyright (C) 2025 Supportra AI (oss@supportra.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
package escalation

import (
	"fmt"
	"sort"
	"strings"
)

// Builtin rule identifiers. Rules carrying one of these names in their
// builtin field combine YAML keywords with checks implemented in code.
const (
	BuiltinEmotionalIntensity    = "emotional_intensity"
	BuiltinComplexIssueNoContext = "complex_issue_no_context"
)

type RuleFile struct {
	Rules []Rule `yaml:"rules"`
}

type Rule struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Priority    int      `yaml:"priority"`
	Builtin     string   `yaml:"builtin"`
	MinChars    int      `yaml:"min_chars"`
	Keywords    []string `yaml:"keywords"`
}

// Normalize lowercases keywords for case-insensitive matching and validates
// builtin references.
func (f *RuleFile) Normalize() error {
	for i := range f.Rules {
		rule := &f.Rules[i]
		if rule.Name == "" {
			return fmt.Errorf("rule %d has no name", i)
		}
		switch rule.Builtin {
		case "", BuiltinEmotionalIntensity, BuiltinComplexIssueNoContext:
		default:
			return fmt.Errorf("rule %q references unknown builtin %q", rule.Name, rule.Builtin)
		}
		if rule.Builtin == "" && len(rule.Keywords) == 0 {
			return fmt.Errorf("rule %q has neither keywords nor a builtin", rule.Name)
		}
		for j, kw := range rule.Keywords {
			rule.Keywords[j] = strings.ToLower(kw)
		}
	}
	return nil
}

// SortByPriority orders the rules from highest to lowest priority.
func (f *RuleFile) SortByPriority() {
	sort.SliceStable(f.Rules, func(i, j int) bool {
		return f.Rules[i].Priority > f.Rules[j].Priority
	})
}
