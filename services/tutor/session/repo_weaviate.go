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
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
)

// SessionClassName is the Weaviate class name for durable session records.
const SessionClassName = "TutorSession"

// WeaviateRepository persists durable session records in the document
// store. Each record's object id is derived deterministically from the
// user and session ids, so Save is an idempotent upsert.
type WeaviateRepository struct {
	client *weaviate.Client
}

// NewWeaviateRepository creates a repository on the given client.
func NewWeaviateRepository(client *weaviate.Client) (*WeaviateRepository, error) {
	if client == nil {
		return nil, errors.New("client must not be nil")
	}
	return &WeaviateRepository{client: client}, nil
}

// objectID derives the stable Weaviate object id for one session.
func objectID(userID, sessionID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(userID+"/"+sessionID)).String()
}

// Save upserts the record.
func (r *WeaviateRepository) Save(ctx context.Context, record *Record) error {
	scoresJSON, err := json.Marshal(record.Scores)
	if err != nil {
		return fmt.Errorf("serializing session scores: %w", err)
	}

	properties := map[string]interface{}{
		"sessionId":            record.SessionID,
		"userId":               record.UserID,
		"topicId":              record.TopicID,
		"questionIds":          record.QuestionIDs,
		"currentQuestionIndex": record.CurrentQuestionIndex,
		"scores":               string(scoresJSON),
		"turnState":            string(record.TurnState),
		"startedAt":            record.StartedAt.Format(time.RFC3339),
		"updatedAt":            record.UpdatedAt.Format(time.RFC3339),
	}
	if record.EndedAt != nil {
		properties["endedAt"] = record.EndedAt.Format(time.RFC3339)
	}

	id := objectID(record.UserID, record.SessionID)

	// Try an update first; fall back to create for a new session.
	err = r.client.Data().Updater().
		WithClassName(SessionClassName).
		WithID(id).
		WithProperties(properties).
		Do(ctx)
	if err == nil {
		return nil
	}

	_, err = r.client.Data().Creator().
		WithClassName(SessionClassName).
		WithID(id).
		WithProperties(properties).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("storing session record %s: %w", record.SessionID, err)
	}
	return nil
}

// Get loads the record for one session. The second result is false
// when no record exists.
func (r *WeaviateRepository) Get(ctx context.Context, userID, sessionID string) (*Record, bool, error) {
	whereFilter := filters.Where().
		WithOperator(filters.And).
		WithOperands([]*filters.WhereBuilder{
			filters.Where().
				WithPath([]string{"sessionId"}).
				WithOperator(filters.Equal).
				WithValueString(sessionID),
			filters.Where().
				WithPath([]string{"userId"}).
				WithOperator(filters.Equal).
				WithValueString(userID),
		})

	fields := []graphql.Field{
		{Name: "sessionId"},
		{Name: "userId"},
		{Name: "topicId"},
		{Name: "questionIds"},
		{Name: "currentQuestionIndex"},
		{Name: "scores"},
		{Name: "turnState"},
		{Name: "startedAt"},
		{Name: "updatedAt"},
		{Name: "endedAt"},
	}

	result, err := r.client.GraphQL().Get().
		WithClassName(SessionClassName).
		WithFields(fields...).
		WithWhere(whereFilter).
		WithLimit(1).
		Do(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("querying session record %s: %w", sessionID, err)
	}
	if len(result.Errors) > 0 {
		return nil, false, fmt.Errorf("session record query error: %s", result.Errors[0].Message)
	}

	data, ok := result.Data["Get"].(map[string]interface{})
	if !ok {
		return nil, false, nil
	}
	objects, ok := data[SessionClassName].([]interface{})
	if !ok || len(objects) == 0 {
		return nil, false, nil
	}
	m, ok := objects[0].(map[string]interface{})
	if !ok {
		return nil, false, nil
	}

	record := &Record{
		SessionID:            getString(m, "sessionId"),
		UserID:               getString(m, "userId"),
		TopicID:              getString(m, "topicId"),
		CurrentQuestionIndex: getInt(m, "currentQuestionIndex"),
		TurnState:            TurnState(getString(m, "turnState")),
	}
	if ids, ok := m["questionIds"].([]interface{}); ok {
		for _, id := range ids {
			if s, ok := id.(string); ok {
				record.QuestionIDs = append(record.QuestionIDs, s)
			}
		}
	}
	if scoresJSON := getString(m, "scores"); scoresJSON != "" {
		if err := json.Unmarshal([]byte(scoresJSON), &record.Scores); err != nil {
			return nil, false, fmt.Errorf("parsing session scores for %s: %w", sessionID, err)
		}
	}
	if startedStr := getString(m, "startedAt"); startedStr != "" {
		if t, err := time.Parse(time.RFC3339, startedStr); err == nil {
			record.StartedAt = t
		}
	}
	if updatedStr := getString(m, "updatedAt"); updatedStr != "" {
		if t, err := time.Parse(time.RFC3339, updatedStr); err == nil {
			record.UpdatedAt = t
		}
	}
	if endedStr := getString(m, "endedAt"); endedStr != "" {
		if t, err := time.Parse(time.RFC3339, endedStr); err == nil {
			record.EndedAt = &t
		}
	}
	return record, true, nil
}

// Delete removes the record for one session, if present.
func (r *WeaviateRepository) Delete(ctx context.Context, userID, sessionID string) error {
	err := r.client.Data().Deleter().
		WithClassName(SessionClassName).
		WithID(objectID(userID, sessionID)).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("deleting session record %s: %w", sessionID, err)
	}
	return nil
}
