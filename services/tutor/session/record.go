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
	"time"
)

// TurnState tracks where a session stands within the current question.
type TurnState string

const (
	// AwaitingInitialAnswer means the current question has been posed
	// and no answer has been judged yet.
	AwaitingInitialAnswer TurnState = "AWAITING_INITIAL_ANSWER"

	// AwaitingFollowUp means the last answer was judged insufficient
	// and the learner is working the same question.
	AwaitingFollowUp TurnState = "AWAITING_FOLLOW_UP"

	// AwaitingNextAction means the last answer was judged sufficient
	// and the session has moved past the question.
	AwaitingNextAction TurnState = "AWAITING_NEXT_ACTION"
)

// Record is the durable session document kept in the document store,
// separate from the ephemeral cache-resident state. It survives cache
// expiry and backs progress history across sessions.
type Record struct {
	SessionID            string         `json:"session_id"`
	UserID               string         `json:"user_id"`
	TopicID              string         `json:"topic_id"`
	QuestionIDs          []string       `json:"question_ids"`
	CurrentQuestionIndex int            `json:"current_question_index"`
	Scores               map[string]int `json:"scores"`
	TurnState            TurnState      `json:"turn_state"`
	StartedAt            time.Time      `json:"started_at"`
	UpdatedAt            time.Time      `json:"updated_at"`
	EndedAt              *time.Time     `json:"ended_at,omitempty"`
}

// Repository persists durable session records.
//
// Failures here never fail a turn; the orchestrator logs and moves on,
// since the ephemeral state is the source of truth mid-session.
type Repository interface {
	Save(ctx context.Context, record *Record) error
	Get(ctx context.Context, userID, sessionID string) (*Record, bool, error)
	Delete(ctx context.Context, userID, sessionID string) error
}

// NoopRepository discards records. Used in lightweight deployments
// that run without a document store.
type NoopRepository struct{}

func (NoopRepository) Save(ctx context.Context, record *Record) error { return nil }

func (NoopRepository) Get(ctx context.Context, userID, sessionID string) (*Record, bool, error) {
	return nil, false, nil
}

func (NoopRepository) Delete(ctx context.Context, userID, sessionID string) error { return nil }
