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

import "context"

// Question is one entry in a topic's question bank.
type Question struct {
	ID         string `json:"id" yaml:"id"`
	Text       string `json:"text" yaml:"text"`
	Difficulty string `json:"difficulty" yaml:"difficulty"`
	Type       string `json:"type" yaml:"type"`
}

// QuestionSource supplies the question bank for a topic.
//
// Implementations must return a stable ordering for a populated topic,
// or an explicit empty result for a topic with no questions. An empty
// result is not an error at this layer; the orchestrator decides what
// it means.
type QuestionSource interface {
	ListQuestions(ctx context.Context, topicID string) ([]Question, error)
}
