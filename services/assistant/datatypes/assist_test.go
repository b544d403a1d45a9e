// Copyright (C) 2025 Supportra AI (oss@supportra.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validRequest() *AssistRequest {
	return &AssistRequest{
		ActorID:  "actor-1",
		TenantID: "tenant-1",
		Role:     RoleCustomer,
		Query:    "where can I download my invoices?",
	}
}

func TestAssistRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*AssistRequest)
		wantErr bool
	}{
		{
			name:   "valid customer request",
			mutate: func(r *AssistRequest) {},
		},
		{
			name:   "valid agent request",
			mutate: func(r *AssistRequest) { r.Role = RoleAgent },
		},
		{
			name:    "missing actor_id",
			mutate:  func(r *AssistRequest) { r.ActorID = "" },
			wantErr: true,
		},
		{
			// Tenant scope is optional; unscoped requests search the
			// shared corpus.
			name:   "missing tenant_id is allowed",
			mutate: func(r *AssistRequest) { r.TenantID = "" },
		},
		{
			name:    "missing query",
			mutate:  func(r *AssistRequest) { r.Query = "" },
			wantErr: true,
		},
		{
			name:    "unknown role",
			mutate:  func(r *AssistRequest) { r.Role = "admin" },
			wantErr: true,
		},
		{
			name:    "missing role",
			mutate:  func(r *AssistRequest) { r.Role = "" },
			wantErr: true,
		},
		{
			name:    "oversized query",
			mutate:  func(r *AssistRequest) { r.Query = strings.Repeat("a", MaxQueryBytes+1) },
			wantErr: true,
		},
		{
			name:   "query at the byte cap",
			mutate: func(r *AssistRequest) { r.Query = strings.Repeat("a", MaxQueryBytes) },
		},
		{
			name:    "request_id must be uuid4 when present",
			mutate:  func(r *AssistRequest) { r.RequestID = "not-a-uuid" },
			wantErr: true,
		},
		{
			name:   "request_id may be empty",
			mutate: func(r *AssistRequest) { r.RequestID = "" },
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := validRequest()
			tc.mutate(req)
			err := req.Validate()
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestAssistRequest_EnsureDefaults(t *testing.T) {
	req := validRequest()
	req.EnsureDefaults()

	_, err := uuid.Parse(req.RequestID)
	require.NoError(t, err, "generated request_id must be a valid UUID")
	assert.NotZero(t, req.Timestamp)

	// A populated request keeps its values.
	fixed := validRequest()
	fixed.RequestID = "0d4ce6a0-98a3-4b82-9ef4-101399a0d15d"
	fixed.Timestamp = 1700000000000
	fixed.EnsureDefaults()
	assert.Equal(t, "0d4ce6a0-98a3-4b82-9ef4-101399a0d15d", fixed.RequestID)
	assert.Equal(t, int64(1700000000000), fixed.Timestamp)
}

func TestValidateMaxBytes_CountsBytesNotRunes(t *testing.T) {
	// 4-byte runes: a rune count under the cap can still exceed the byte cap.
	req := validRequest()
	req.Query = strings.Repeat("\U0001F600", MaxQueryBytes/4+1)
	assert.Error(t, req.Validate())
}
