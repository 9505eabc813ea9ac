package session

import "testing"

// TestSummarizeScores verifies the mean and percentage arithmetic.
func TestSummarizeScores(t *testing.T) {
	state := &ConversationState{
		Questions:           threeQuestionBank(),
		AnsweredQuestionIDs: []string{"qa", "qb", "qc"},
		ScoreHistory:        []int{3, 4, 5},
	}

	summary := Summarize(state)
	if summary.FinalScore != 4.0 {
		t.Errorf("final score = %v, want 4.0", summary.FinalScore)
	}
	if summary.PercentageScore != 80 {
		t.Errorf("percentage = %d, want 80", summary.PercentageScore)
	}
	if summary.QuestionsAnswered != 3 {
		t.Errorf("answered = %d, want 3", summary.QuestionsAnswered)
	}
	if summary.TotalQuestions != 3 {
		t.Errorf("total = %d, want 3", summary.TotalQuestions)
	}
}

// TestSummarizeEmpty verifies an unanswered session yields zeros.
func TestSummarizeEmpty(t *testing.T) {
	state := &ConversationState{Questions: threeQuestionBank()}

	summary := Summarize(state)
	if summary.FinalScore != 0.0 || summary.PercentageScore != 0 || summary.QuestionsAnswered != 0 {
		t.Errorf("expected zeroed summary, got %+v", summary)
	}
	if summary.TotalQuestions != 3 {
		t.Errorf("total = %d, want 3", summary.TotalQuestions)
	}
}

// TestSummarizePercentageRounds verifies rounding to the nearest
// integer rather than truncation.
func TestSummarizePercentageRounds(t *testing.T) {
	state := &ConversationState{
		Questions:           threeQuestionBank(),
		AnsweredQuestionIDs: []string{"qa", "qb", "qc"},
		ScoreHistory:        []int{2, 2, 3}, // mean 2.333..., 46.67%
	}

	summary := Summarize(state)
	if summary.PercentageScore != 47 {
		t.Errorf("percentage = %d, want 47", summary.PercentageScore)
	}
}
