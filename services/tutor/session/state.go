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

import "time"

// minCorrectScore is the judgment score at which an answer counts as
// correct in the rolling summary.
const minCorrectScore = 3

// ConversationState is the ephemeral, cache-resident record of one
// tutoring session.
//
// # Description
//
// Created on the first turn of a session from the topic's question
// bank, mutated once per turn, and destroyed at session end or by
// cache expiry. The question sequence is fixed once initialized;
// AnsweredQuestionIDs grows monotonically and stays a subset of it.
// ScoreHistory holds one 0-5 score per answered question, in answer
// order.
type ConversationState struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	TopicID   string `json:"topic_id"`

	// Questions is the session's full bank in presentation order,
	// captured at initialization so later turns never depend on the
	// question source again.
	Questions []Question `json:"questions"`

	AnsweredQuestionIDs []string `json:"answered_question_ids"`
	ScoreHistory        []int    `json:"score_history"`
	HintsGiven          int      `json:"hints_given"`
	Misconceptions      []string `json:"misconceptions"`
	TurnCount           int      `json:"turn_count"`

	// LearningMode marks long-form study sessions that get the
	// extended cache lifetime.
	LearningMode bool `json:"learning_mode"`

	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// QuestionIDs returns the session's fixed question ordering.
func (s *ConversationState) QuestionIDs() []string {
	ids := make([]string, len(s.Questions))
	for i, q := range s.Questions {
		ids[i] = q.ID
	}
	return ids
}

// Unanswered returns the questions not yet answered, preserving the
// original bank order.
func (s *ConversationState) Unanswered() []Question {
	answered := make(map[string]struct{}, len(s.AnsweredQuestionIDs))
	for _, id := range s.AnsweredQuestionIDs {
		answered[id] = struct{}{}
	}
	var out []Question
	for _, q := range s.Questions {
		if _, ok := answered[q.ID]; !ok {
			out = append(out, q)
		}
	}
	return out
}

// CorrectCount returns how many answered questions scored at least the
// correctness threshold.
func (s *ConversationState) CorrectCount() int {
	count := 0
	for _, score := range s.ScoreHistory {
		if score >= minCorrectScore {
			count++
		}
	}
	return count
}

// LastMisconception returns the most recently recorded misconception,
// or "" when none has been noted.
func (s *ConversationState) LastMisconception() string {
	if len(s.Misconceptions) == 0 {
		return ""
	}
	return s.Misconceptions[len(s.Misconceptions)-1]
}
