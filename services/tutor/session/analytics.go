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

import "math"

// Summary is the end-of-session analytics record.
type Summary struct {
	// FinalScore is the mean of the session's 0-5 judgment scores,
	// 0.0 when nothing was answered.
	FinalScore float64 `json:"finalScore"`

	QuestionsAnswered int `json:"questionsAnswered"`
	TotalQuestions    int `json:"totalQuestions"`

	// PercentageScore is FinalScore on a 0-100 scale, rounded to the
	// nearest integer.
	PercentageScore int `json:"percentageScore"`
}

// Summarize derives the analytics summary from accumulated state.
func Summarize(state *ConversationState) Summary {
	summary := Summary{
		QuestionsAnswered: len(state.AnsweredQuestionIDs),
		TotalQuestions:    len(state.Questions),
	}
	if len(state.ScoreHistory) == 0 {
		return summary
	}

	total := 0
	for _, score := range state.ScoreHistory {
		total += score
	}
	summary.FinalScore = float64(total) / float64(len(state.ScoreHistory))
	summary.PercentageScore = int(math.Round(summary.FinalScore / 5.0 * 100.0))
	return summary
}
