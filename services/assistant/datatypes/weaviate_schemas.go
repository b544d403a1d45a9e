// Copyright (C) 2025 Supportra AI (oss@supportra.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"context"
	"log"
	"log/slog"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate/entities/models"
)

func GetSupportSessionSchema() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:               "SupportSession",
		Description:         "Metadata for one actor's rolling conversation with the assistant.",
		Vectorizer:          "none",
		InvertedIndexConfig: &models.InvertedIndexConfig{IndexTimestamps: true},
		Properties: []*models.Property{
			{
				Name:            "actor_id",
				DataType:        []string{"text"},
				Description:     "Stable identifier of the requester that owns this conversation.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "actor_role",
				DataType:        []string{"text"},
				Description:     "Whether the requester is an agent or a customer.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "created_at",
				DataType:        []string{"number"},
				Description:     "Unix milliseconds when the conversation was bootstrapped.",
				IndexFilterable: indexFilterable,
			},
		},
	}
}

func GetChatTurnSchema() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       "ChatTurn",
		Description: "A single turn (requester or assistant) within a conversation.",
		Vectorizer:  "none",
		InvertedIndexConfig: &models.InvertedIndexConfig{
			Bm25:                   nil,
			CleanupIntervalSeconds: 0,
			IndexNullState:         true,
			IndexPropertyLength:    false,
			IndexTimestamps:        true,
			Stopwords:              nil,
			UsingBlockMaxWAND:      false,
		},
		Properties: []*models.Property{
			{
				Name:            "actor_id",
				DataType:        []string{"text"},
				Description:     "The conversation this turn belongs to.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "role",
				DataType:        []string{"text"},
				Description:     "Either the requester role (agent/customer) or 'assistant'.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:         "content",
				DataType:     []string{"text"},
				Description:  "The turn text.",
				Tokenization: "word",
			},
			{
				Name:            "timestamp",
				DataType:        []string{"number"},
				Description:     "Unix milliseconds when the turn was appended.",
				IndexFilterable: indexFilterable,
			},
			{
				Name:            "turn_number",
				DataType:        []string{"int"},
				Description:     "Monotone position within the conversation. Never reused after eviction.",
				IndexFilterable: indexFilterable,
			},
		},
	}
}

func GetKnowledgePassageSchema() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       "KnowledgePassage",
		Description: "A chunk of knowledge-base text with its embedding vector.",
		Vectorizer:  "none",
		InvertedIndexConfig: &models.InvertedIndexConfig{
			IndexNullState:  true,
			IndexTimestamps: true,
		},
		Properties: []*models.Property{
			{
				Name:         "text",
				DataType:     []string{"text"},
				Description:  "The passage content.",
				Tokenization: "word",
			},
			{
				Name:         "title",
				DataType:     []string{"text"},
				Description:  "Title of the article the passage came from.",
				Tokenization: "word",
			},
			{
				Name:            "category",
				DataType:        []string{"text"},
				Description:     "Knowledge-base category (billing, shipping, ...).",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "source_document",
				DataType:        []string{"text"},
				Description:     "The source file or article identifier.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "tenant_id",
				DataType:        []string{"text"},
				Description:     "Organization that owns this passage. Retrieval always filters on it.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
		},
	}
}

// EnsureWeaviateSchema creates any missing classes at startup.
func EnsureWeaviateSchema(client *weaviate.Client) {
	schemaGetters := []func() *models.Class{
		GetSupportSessionSchema,
		GetChatTurnSchema,
		GetKnowledgePassageSchema,
	}

	for _, getSchema := range schemaGetters {
		class := getSchema()
		slog.Info("Checking schema", "class", class.Class)

		// Check if the class already exists.
		_, err := client.Schema().ClassGetter().WithClassName(class.Class).Do(context.Background())
		if err != nil {
			// If it doesn't exist, the client returns an error. We can now create it.
			slog.Info("Schema not found, creating it...", "class", class.Class)
			err := client.Schema().ClassCreator().WithClass(class).Do(context.Background())
			if err != nil {
				// If we fail to create it, it's a fatal error.
				log.Fatalf("Failed to create schema for class %s: %v", class.Class, err)
			}
			slog.Info("Successfully created schema", "class", class.Class)
		} else {
			slog.Info("Schema already exists", "class", class.Class)
		}
	}
}
