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
	"errors"
	"fmt"
	"sort"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
)

// QuestionClassName is the Weaviate class name for question bank entries.
const QuestionClassName = "TutorQuestion"

// maxQuestionsPerTopic caps one topic's bank in a single query.
const maxQuestionsPerTopic = 200

// WeaviateQuestionSource serves question banks from the document store.
//
// Questions carry a position field that fixes their presentation
// order, so every session over a topic sees the same sequence.
type WeaviateQuestionSource struct {
	client *weaviate.Client
}

// NewWeaviateQuestionSource creates a source on the given client.
func NewWeaviateQuestionSource(client *weaviate.Client) (*WeaviateQuestionSource, error) {
	if client == nil {
		return nil, errors.New("client must not be nil")
	}
	return &WeaviateQuestionSource{client: client}, nil
}

// ListQuestions implements QuestionSource. An unpopulated topic yields
// an explicit empty result, not an error.
func (s *WeaviateQuestionSource) ListQuestions(ctx context.Context, topicID string) ([]Question, error) {
	whereFilter := filters.Where().
		WithPath([]string{"topicId"}).
		WithOperator(filters.Equal).
		WithValueString(topicID)

	fields := []graphql.Field{
		{Name: "questionId"},
		{Name: "text"},
		{Name: "difficulty"},
		{Name: "questionType"},
		{Name: "position"},
	}

	result, err := s.client.GraphQL().Get().
		WithClassName(QuestionClassName).
		WithFields(fields...).
		WithWhere(whereFilter).
		WithLimit(maxQuestionsPerTopic).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("querying question bank for topic %q: %w", topicID, err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("question bank query error: %s", result.Errors[0].Message)
	}

	return parseQuestionResults(result)
}

// parseQuestionResults converts a GraphQL response into ordered questions.
func parseQuestionResults(result *models.GraphQLResponse) ([]Question, error) {
	data, ok := result.Data["Get"].(map[string]interface{})
	if !ok {
		return nil, nil
	}
	objects, ok := data[QuestionClassName].([]interface{})
	if !ok {
		return nil, nil
	}

	type positioned struct {
		question Question
		position int
	}
	entries := make([]positioned, 0, len(objects))
	for _, obj := range objects {
		m, ok := obj.(map[string]interface{})
		if !ok {
			continue // skip malformed objects
		}
		entries = append(entries, positioned{
			question: Question{
				ID:         getString(m, "questionId"),
				Text:       getString(m, "text"),
				Difficulty: getString(m, "difficulty"),
				Type:       getString(m, "questionType"),
			},
			position: getInt(m, "position"),
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].position < entries[j].position
	})

	questions := make([]Question, 0, len(entries))
	for _, e := range entries {
		questions = append(questions, e.question)
	}
	return questions, nil
}

// getString safely extracts a string from a map.
func getString(m map[string]interface{}, key string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// getInt safely extracts an integer from a map. Weaviate returns
// numbers as float64 through the GraphQL layer.
func getInt(m map[string]interface{}, key string) int {
	if v, ok := m[key]; ok {
		if f, ok := v.(float64); ok {
			return int(f)
		}
	}
	return 0
}
