// Copyright (C) 2026 Elenchus AI (dev@elenchus.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package session

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate/entities/models"
)

// getTutorSessionSchema returns the Weaviate class for durable session
// records. Records are plain documents; nothing is vectorized.
func getTutorSessionSchema() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       SessionClassName,
		Description: "Durable tutoring session records",
		Vectorizer:  "none",
		Properties: []*models.Property{
			{
				Name:            "sessionId",
				DataType:        []string{"text"},
				Description:     "Unique session identifier (UUID)",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "userId",
				DataType:        []string{"text"},
				Description:     "Owning user",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "topicId",
				DataType:        []string{"text"},
				Description:     "Topic the session covers",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:        "questionIds",
				DataType:    []string{"text[]"},
				Description: "Ordered question sequence",
			},
			{
				Name:        "currentQuestionIndex",
				DataType:    []string{"int"},
				Description: "Index of the next question to answer",
			},
			{
				Name:        "scores",
				DataType:    []string{"text"},
				Description: "Per-question scores, serialized as JSON",
			},
			{
				Name:            "turnState",
				DataType:        []string{"text"},
				Description:     "Turn state machine position",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:        "startedAt",
				DataType:    []string{"date"},
				Description: "When the session started",
			},
			{
				Name:        "updatedAt",
				DataType:    []string{"date"},
				Description: "When the session was last touched",
			},
			{
				Name:        "endedAt",
				DataType:    []string{"date"},
				Description: "When the session ended, absent while active",
			},
		},
	}
}

// getTutorQuestionSchema returns the Weaviate class for question bank
// entries.
func getTutorQuestionSchema() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       QuestionClassName,
		Description: "Question bank entries, ordered by position within a topic",
		Vectorizer:  "none",
		Properties: []*models.Property{
			{
				Name:            "questionId",
				DataType:        []string{"text"},
				Description:     "Unique question identifier",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "topicId",
				DataType:        []string{"text"},
				Description:     "Topic this question belongs to",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:        "text",
				DataType:    []string{"text"},
				Description: "The question text shown to the learner",
			},
			{
				Name:        "difficulty",
				DataType:    []string{"text"},
				Description: "easy, medium, or hard",
			},
			{
				Name:        "questionType",
				DataType:    []string{"text"},
				Description: "recall, reasoning, or application",
			},
			{
				Name:        "position",
				DataType:    []string{"int"},
				Description: "Presentation order within the topic",
			},
		},
	}
}

// EnsureTutorSchema creates the tutoring classes if they do not exist.
// Idempotent; called once at startup.
func EnsureTutorSchema(ctx context.Context, client *weaviate.Client) error {
	for _, class := range []*models.Class{getTutorSessionSchema(), getTutorQuestionSchema()} {
		_, err := client.Schema().ClassGetter().WithClassName(class.Class).Do(ctx)
		if err == nil {
			slog.Info("Schema already exists", "class", class.Class)
			continue
		}
		slog.Info("Creating schema", "class", class.Class)
		if err := client.Schema().ClassCreator().WithClass(class).Do(ctx); err != nil {
			return fmt.Errorf("creating %s schema: %w", class.Class, err)
		}
	}
	return nil
}
