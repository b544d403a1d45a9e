// Copyright (C) 2025 Supportra AI (oss@supportra.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

/*
This file serves as the bridge between the build system and the runtime logic.
It utilizes the Go embed package to bake the escalation_rules.yaml file directly
into the compiled binary, so the escalation policy is immutable at runtime and
travels with the executable.
*/

package rules

import (
	_ "embed"
)

// EscalationRules holds the raw byte content of the 'escalation_rules.yaml' file.
//
// This variable is populated at compile-time using the Go 'embed' directive.
// Baking the YAML into the binary keeps the policy deterministic: the same
// build always reaches the same escalation decision for the same input.
//
// Usage:
//
//	// Pass these bytes directly to yaml.Unmarshal
//	err := yaml.Unmarshal(rules.EscalationRules, &targetStruct)
//
//go:embed escalation_rules.yaml
var EscalationRules []byte
