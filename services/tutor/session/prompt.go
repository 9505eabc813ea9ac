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
	"encoding/json"
	"fmt"
	"strings"
)

// advanceSentinel is the token the model embeds in its reply when, and
// only when, the answer is judged sufficient to move to the next
// question. It is spliced out before the reply reaches the user.
const advanceSentinel = "[NEXT_QUESTION]"

// Judgment is the structured result the model must return for a turn.
type Judgment struct {
	// Reply is the user-facing tutoring response. It may contain the
	// advance sentinel.
	Reply string `json:"reply"`

	// Score grades the answer 0-5. A pointer so a missing score is
	// distinguishable from a zero.
	Score *int `json:"score"`

	HintGiven     bool   `json:"hint_given"`
	Misconception string `json:"misconception,omitempty"`
}

// Advance reports whether the model judged the answer sufficient to
// move on. Kept as a plain predicate on the parsed output; errors are
// reserved for failure paths.
func (j *Judgment) Advance() bool {
	return strings.Contains(j.Reply, advanceSentinel)
}

// BuildTurnPrompt assembles the model prompt for one turn.
//
// # Description
//
// Embeds a rolling natural-language summary of session state, the
// current question, an optional preview of the next question, and the
// learner's verbatim answer, then instructs the model to return the
// Judgment JSON shape with the sentinel convention.
//
// # Inputs
//
//   - state: Current conversation state, used only for the summary.
//   - current: The question being answered.
//   - next: The following question, or nil when current is the last.
//   - userInput: The learner's answer, embedded verbatim.
func BuildTurnPrompt(state *ConversationState, current Question, next *Question, userInput string) string {
	var b strings.Builder

	b.WriteString("You are tutoring a student through a question queue.\n\n")

	b.WriteString("Session so far: ")
	fmt.Fprintf(&b, "turn %d, %d of %d questions answered correctly, %d hints given.",
		state.TurnCount+1, state.CorrectCount(), len(state.Questions), state.HintsGiven)
	if m := state.LastMisconception(); m != "" {
		fmt.Fprintf(&b, " Most recent misconception: %s.", m)
	}
	b.WriteString("\n\n")

	fmt.Fprintf(&b, "Current question (%s, %s): %s\n", current.Difficulty, current.Type, current.Text)
	if next != nil {
		fmt.Fprintf(&b, "Next question, for context only, do not reveal it: %s\n", next.Text)
	}
	fmt.Fprintf(&b, "\nStudent's answer: %q\n\n", userInput)

	b.WriteString("Respond with a single JSON object, no other text:\n")
	b.WriteString(`{"reply": "<your response to the student>", "score": <0-5>, "hint_given": <bool>, "misconception": "<note, or omit>"}` + "\n")
	fmt.Fprintf(&b, "Scores of 3 or higher mean the answer is sufficient. If and only if the answer is sufficient, include the exact token %s in your reply where the next question should appear. Never include the token otherwise.\n", advanceSentinel)

	return b.String()
}

// ParseJudgment parses a raw model reply into a Judgment.
//
// Tolerates a markdown code fence around the JSON, since models add
// one despite instructions. A reply that is not a JSON object, or that
// lacks an in-range score, yields a MalformedModelOutputError.
func ParseJudgment(raw string) (*Judgment, error) {
	cleaned := stripCodeFence(raw)

	var j Judgment
	if err := json.Unmarshal([]byte(cleaned), &j); err != nil {
		return nil, &MalformedModelOutputError{Reason: "not a JSON judgment object", Raw: raw}
	}
	if j.Reply == "" {
		return nil, &MalformedModelOutputError{Reason: "empty reply field", Raw: raw}
	}
	if j.Score == nil {
		return nil, &MalformedModelOutputError{Reason: "missing score", Raw: raw}
	}
	if *j.Score < 0 || *j.Score > 5 {
		return nil, &MalformedModelOutputError{Reason: fmt.Sprintf("score %d out of range", *j.Score), Raw: raw}
	}
	return &j, nil
}

// stripCodeFence removes a surrounding ``` or ```json fence, if any.
func stripCodeFence(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}

// spliceAdvance replaces every occurrence of the advance sentinel in
// reply with replacement text (the next question, or the completion
// message).
func spliceAdvance(reply, replacement string) string {
	return strings.ReplaceAll(reply, advanceSentinel, replacement)
}
