// Copyright (C) 2026 Elenchus AI (dev@elenchus.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package session implements the turn-based tutoring state machine.
//
// One orchestrator instance serves all sessions. Each turn loads the
// session's ephemeral state from the cache, consults the LLM through a
// circuit breaker and retry policy, applies the model's structured
// judgment, and persists the updated state before replying.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/ElenchusAI/ElenchusLocal/services/llm"
	"github.com/ElenchusAI/ElenchusLocal/services/resilience"
	"github.com/ElenchusAI/ElenchusLocal/services/tutor/observability"
	"github.com/ElenchusAI/ElenchusLocal/services/tutor/statestore"
)

var sessionTracer = otel.Tracer("elenchus.tutor.session")

const (
	// llmBreakerName is the shared breaker for all LLM traffic, so
	// every call site shares failure accounting.
	llmBreakerName = "llm_service"

	// questionSourceBreakerName guards question bank lookups.
	questionSourceBreakerName = "question_source"
)

const (
	// DefaultStateTTL is the cache lifetime for ordinary sessions.
	DefaultStateTTL = 3600 * time.Second

	// LearningStateTTL is the extended lifetime for learning-mode
	// sessions, which run longer between turns.
	LearningStateTTL = 7200 * time.Second
)

const (
	apologyReply = "I'm sorry, I had trouble working through that one. Could you try rephrasing your answer?"

	queueCompleteReply = "You've already worked through every question in this topic. End the session whenever you're ready to see your results."

	topicCompleteText = "That was the last question in this topic! End the session to see your results."
)

// Config assembles an Orchestrator's collaborators.
type Config struct {
	// Store holds ephemeral conversation state. Required.
	Store *statestore.Store

	// Questions supplies topic question banks. Required.
	Questions QuestionSource

	// LLM judges answers and produces tutoring replies. Required.
	LLM llm.LLMClient

	// Breakers is the registry protecting external dependencies.
	// Required; tests pass a fresh registry per case.
	Breakers *resilience.Registry

	// Retry wraps LLM calls. Zero value takes the default policy.
	Retry resilience.RetryPolicy

	// Records persists durable session documents. Nil means records
	// are discarded.
	Records Repository

	// DefaultTTL and LearningTTL override the standard cache
	// lifetimes when positive.
	DefaultTTL  time.Duration
	LearningTTL time.Duration
}

// Orchestrator runs the tutoring turn state machine.
//
// # Thread Safety
//
// Safe for concurrent use. Turns for the same session are serialized
// within the process; see keyedMutex.
type Orchestrator struct {
	store     *statestore.Store
	questions QuestionSource
	llm       llm.LLMClient
	breakers  *resilience.Registry
	retry     resilience.RetryPolicy
	records   Repository

	defaultTTL  time.Duration
	learningTTL time.Duration

	locks keyedMutex
	nowFn func() time.Time
}

// NewOrchestrator validates cfg and builds the orchestrator.
func NewOrchestrator(cfg Config) (*Orchestrator, error) {
	if cfg.Store == nil {
		return nil, errors.New("store must not be nil")
	}
	if cfg.Questions == nil {
		return nil, errors.New("question source must not be nil")
	}
	if cfg.LLM == nil {
		return nil, errors.New("llm client must not be nil")
	}
	if cfg.Breakers == nil {
		return nil, errors.New("breaker registry must not be nil")
	}

	retry := cfg.Retry
	if retry.MaxAttempts == 0 {
		retry = resilience.DefaultRetryPolicy()
	}
	if retry.IsRetryable == nil {
		// An open breaker means the dependency is deliberately not
		// being attempted; retrying immediately would defeat it.
		retry.IsRetryable = func(err error) bool {
			var open *resilience.CircuitOpenError
			return !errors.As(err, &open)
		}
	}

	records := cfg.Records
	if records == nil {
		records = NoopRepository{}
	}

	defaultTTL := cfg.DefaultTTL
	if defaultTTL <= 0 {
		defaultTTL = DefaultStateTTL
	}
	learningTTL := cfg.LearningTTL
	if learningTTL <= 0 {
		learningTTL = LearningStateTTL
	}

	return &Orchestrator{
		store:       cfg.Store,
		questions:   cfg.Questions,
		llm:         cfg.LLM,
		breakers:    cfg.Breakers,
		retry:       retry,
		records:     records,
		defaultTTL:  defaultTTL,
		learningTTL: learningTTL,
		nowFn:       time.Now,
	}, nil
}

// stateKey builds the cache key for one user's session.
func stateKey(userID, sessionID string) string {
	return userID + ":" + sessionID
}

// StartConversation mints a new session and returns its opening reply.
//
// # Description
//
// Initializes conversation state from the topic's question bank and
// poses the first question without consulting the LLM; there is no
// answer to judge yet. Returns NoQuestionsAvailableError for an empty
// topic, in which case no state is created.
//
// # Outputs
//
//   - string: The new session id.
//   - string: The opening reply, containing the first question.
func (o *Orchestrator) StartConversation(ctx context.Context, userID, topicID string, learningMode bool) (string, string, error) {
	ctx, span := sessionTracer.Start(ctx, "Orchestrator.StartConversation")
	defer span.End()
	span.SetAttributes(attribute.String("topic.id", topicID))

	sessionID := uuid.NewString()
	key := stateKey(userID, sessionID)
	unlock := o.locks.lock(key)
	defer unlock()

	state, err := o.initializeState(ctx, userID, sessionID, topicID)
	if err != nil {
		return "", "", err
	}
	state.LearningMode = learningMode
	state.TurnCount = 1
	state.UpdatedAt = o.nowFn()

	if err := o.persist(ctx, key, state); err != nil {
		return "", "", err
	}
	o.saveRecord(ctx, state, AwaitingInitialAnswer)
	if m := observability.DefaultMetrics; m != nil {
		m.SessionStarted()
	}

	slog.Info("Started tutoring session",
		"session_id", sessionID, "topic_id", topicID,
		"questions", len(state.Questions), "learning_mode", learningMode)
	return sessionID, openingReply(state.Questions[0]), nil
}

// HandleTurn processes one learner answer and returns the reply text.
//
// # Description
//
// Loads or initializes the session's conversation state, judges the
// answer via the LLM behind the llm_service breaker and the retry
// policy, applies the judgment, and persists the updated state before
// returning. A malformed model reply degrades to a canned apology;
// infrastructure failures propagate to the caller.
//
// # Inputs
//
//   - userID, sessionID: Identify the conversation state entry.
//   - topicID: Used only when the state must be initialized.
//   - userInput: The learner's verbatim answer.
func (o *Orchestrator) HandleTurn(ctx context.Context, userID, sessionID, topicID, userInput string) (string, error) {
	start := time.Now()
	ctx, span := sessionTracer.Start(ctx, "Orchestrator.HandleTurn")
	defer span.End()
	span.SetAttributes(
		attribute.String("session.id", sessionID),
		attribute.String("topic.id", topicID),
	)

	key := stateKey(userID, sessionID)
	unlock := o.locks.lock(key)
	defer unlock()

	reply, outcome, err := o.handleTurnLocked(ctx, key, userID, sessionID, topicID, userInput)
	if m := observability.DefaultMetrics; m != nil {
		m.RecordTurn(outcome, time.Since(start).Seconds())
	}
	return reply, err
}

func (o *Orchestrator) handleTurnLocked(ctx context.Context, key, userID, sessionID, topicID, userInput string) (string, observability.TurnOutcome, error) {
	var state ConversationState
	found, err := o.store.Get(ctx, key, &state)
	if err != nil {
		return "", observability.OutcomeError, fmt.Errorf("load conversation state: %w", err)
	}
	if !found {
		fresh, err := o.initializeState(ctx, userID, sessionID, topicID)
		if err != nil {
			return "", observability.OutcomeError, err
		}
		state = *fresh
	}

	unanswered := state.Unanswered()
	if len(unanswered) == 0 {
		state.TurnCount++
		state.UpdatedAt = o.nowFn()
		if err := o.persist(ctx, key, &state); err != nil {
			return "", observability.OutcomeError, err
		}
		return queueCompleteReply, observability.OutcomeCompleted, nil
	}

	current := unanswered[0]
	var next *Question
	if len(unanswered) > 1 {
		next = &unanswered[1]
	}

	// A blank first turn is an initialization handshake; pose the
	// first question without judging anything.
	if state.TurnCount == 0 && strings.TrimSpace(userInput) == "" {
		state.TurnCount = 1
		state.UpdatedAt = o.nowFn()
		if err := o.persist(ctx, key, &state); err != nil {
			return "", observability.OutcomeError, err
		}
		o.saveRecord(ctx, &state, AwaitingInitialAnswer)
		return openingReply(current), observability.OutcomeRetained, nil
	}

	prompt := BuildTurnPrompt(&state, current, next, userInput)
	raw, err := o.invokeLLM(ctx, sessionID, prompt)
	if err != nil {
		return "", observability.OutcomeError, err
	}

	judgment, perr := ParseJudgment(raw)
	if perr != nil {
		slog.Warn("Model returned a malformed judgment, degrading to apology",
			"session_id", sessionID, "error", perr)
		state.TurnCount++
		state.UpdatedAt = o.nowFn()
		if err := o.persist(ctx, key, &state); err != nil {
			return "", observability.OutcomeError, err
		}
		return apologyReply, observability.OutcomeMalformed, nil
	}

	reply := judgment.Reply
	outcome := observability.OutcomeRetained
	turnState := AwaitingFollowUp
	if judgment.Advance() {
		state.AnsweredQuestionIDs = append(state.AnsweredQuestionIDs, current.ID)
		state.ScoreHistory = append(state.ScoreHistory, *judgment.Score)
		if next != nil {
			reply = spliceAdvance(reply, next.Text)
		} else {
			reply = spliceAdvance(reply, topicCompleteText)
		}
		outcome = observability.OutcomeAdvanced
		turnState = AwaitingNextAction
	}
	if judgment.HintGiven {
		state.HintsGiven++
	}
	if judgment.Misconception != "" {
		state.Misconceptions = append(state.Misconceptions, judgment.Misconception)
	}
	state.TurnCount++
	state.UpdatedAt = o.nowFn()

	if err := o.persist(ctx, key, &state); err != nil {
		return "", observability.OutcomeError, err
	}
	o.saveRecord(ctx, &state, turnState)

	slog.Debug("Handled turn",
		"session_id", sessionID, "turn", state.TurnCount,
		"advanced", judgment.Advance(), "score", *judgment.Score)
	return reply, outcome, nil
}

// EndSession computes the session's analytics summary and clears its
// ephemeral state.
//
// # Description
//
// A session with no recorded state, whether never started or already
// expired, yields a zeroed summary without error. The summary is
// computed before the state is deleted, so a failure between the two
// leaves the session retryable rather than silently losing data.
func (o *Orchestrator) EndSession(ctx context.Context, userID, sessionID string) (Summary, error) {
	ctx, span := sessionTracer.Start(ctx, "Orchestrator.EndSession")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", sessionID))

	key := stateKey(userID, sessionID)
	unlock := o.locks.lock(key)
	defer unlock()

	var state ConversationState
	found, err := o.store.Get(ctx, key, &state)
	if err != nil {
		return Summary{}, fmt.Errorf("load conversation state: %w", err)
	}
	if !found {
		return Summary{}, nil
	}

	summary := Summarize(&state)
	if err := o.store.Delete(ctx, key); err != nil {
		return summary, fmt.Errorf("clear conversation state: %w", err)
	}
	o.markEnded(ctx, &state, summary)
	if m := observability.DefaultMetrics; m != nil {
		m.SessionEnded()
	}

	slog.Info("Ended tutoring session",
		"session_id", sessionID,
		"final_score", summary.FinalScore,
		"answered", summary.QuestionsAnswered,
		"total", summary.TotalQuestions)
	return summary, nil
}

// initializeState builds fresh conversation state from the topic's
// question bank. The bank lookup runs behind its own breaker so a
// failing question store cannot stall every session start.
func (o *Orchestrator) initializeState(ctx context.Context, userID, sessionID, topicID string) (*ConversationState, error) {
	breaker := o.breakers.Get(questionSourceBreakerName)
	var questions []Question
	err := breaker.Call(ctx, func(ctx context.Context) error {
		qs, err := o.questions.ListQuestions(ctx, topicID)
		if err != nil {
			return err
		}
		questions = qs
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list questions for topic %q: %w", topicID, err)
	}
	if len(questions) == 0 {
		return nil, &NoQuestionsAvailableError{TopicID: topicID}
	}

	now := o.nowFn()
	return &ConversationState{
		SessionID: sessionID,
		UserID:    userID,
		TopicID:   topicID,
		Questions: questions,
		StartedAt: now,
		UpdatedAt: now,
	}, nil
}

// invokeLLM runs one judged completion through the retry policy
// wrapping the llm_service breaker, in that order, so rejected calls
// are not retried against an open breaker.
func (o *Orchestrator) invokeLLM(ctx context.Context, sessionID, prompt string) (string, error) {
	breaker := o.breakers.Get(llmBreakerName)
	params := llm.GenerationParams{JSONMode: true}

	start := time.Now()
	var raw string
	err := o.retry.Execute(ctx, func(ctx context.Context) error {
		return breaker.Call(ctx, func(ctx context.Context) error {
			out, genErr := o.llm.Generate(ctx, prompt, params)
			if genErr != nil {
				return genErr
			}
			raw = out
			return nil
		})
	})
	elapsed := time.Since(start)

	if m := observability.DefaultMetrics; m != nil {
		switch {
		case err == nil:
			m.RecordLLMCall("success", elapsed.Seconds())
		case isCircuitOpen(err):
			m.RecordLLMCall("rejected", elapsed.Seconds())
			m.RecordBreakerRejection(llmBreakerName)
		default:
			m.RecordLLMCall("error", elapsed.Seconds())
		}
	}

	if err != nil {
		status := breaker.Status()
		slog.Error("LLM invocation failed",
			"breaker", llmBreakerName,
			"breaker_state", status.State,
			"failure_count", status.FailureCount,
			"session_id", sessionID,
			"elapsed", elapsed,
			"error", err)
		return "", err
	}
	return raw, nil
}

// persist writes the state back with its full TTL, keeping the session
// alive while turns keep arriving.
func (o *Orchestrator) persist(ctx context.Context, key string, state *ConversationState) error {
	ttl := o.defaultTTL
	if state.LearningMode {
		ttl = o.learningTTL
	}
	if err := o.store.Put(ctx, key, state, ttl); err != nil {
		return fmt.Errorf("persist conversation state: %w", err)
	}
	return nil
}

// saveRecord mirrors the state into the durable session record.
// Best effort: the cache entry is the source of truth mid-session.
func (o *Orchestrator) saveRecord(ctx context.Context, state *ConversationState, turnState TurnState) {
	scores := make(map[string]int, len(state.AnsweredQuestionIDs))
	for i, id := range state.AnsweredQuestionIDs {
		if i < len(state.ScoreHistory) {
			scores[id] = state.ScoreHistory[i]
		}
	}
	record := &Record{
		SessionID:            state.SessionID,
		UserID:               state.UserID,
		TopicID:              state.TopicID,
		QuestionIDs:          state.QuestionIDs(),
		CurrentQuestionIndex: len(state.AnsweredQuestionIDs),
		Scores:               scores,
		TurnState:            turnState,
		StartedAt:            state.StartedAt,
		UpdatedAt:            state.UpdatedAt,
	}
	if err := o.records.Save(ctx, record); err != nil {
		slog.Warn("Failed to save durable session record",
			"session_id", state.SessionID, "error", err)
	}
}

// markEnded stamps the durable record with the session's end time.
func (o *Orchestrator) markEnded(ctx context.Context, state *ConversationState, summary Summary) {
	record, found, err := o.records.Get(ctx, state.UserID, state.SessionID)
	if err != nil || !found {
		if err != nil {
			slog.Warn("Failed to load durable session record at end",
				"session_id", state.SessionID, "error", err)
		}
		return
	}
	now := o.nowFn()
	record.EndedAt = &now
	record.UpdatedAt = now
	if err := o.records.Save(ctx, record); err != nil {
		slog.Warn("Failed to mark durable session record ended",
			"session_id", state.SessionID, "error", err)
	}
}

func isCircuitOpen(err error) bool {
	var open *resilience.CircuitOpenError
	return errors.As(err, &open)
}

// openingReply greets the learner and poses a question.
func openingReply(q Question) string {
	return fmt.Sprintf("Welcome! Let's get started. First question: %s", q.Text)
}
