// Copyright (C) 2026 Elenchus AI (dev@elenchus.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"regexp"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/ElenchusAI/ElenchusLocal/services/resilience"
	"github.com/ElenchusAI/ElenchusLocal/services/tutor/middleware"
	"github.com/ElenchusAI/ElenchusLocal/services/tutor/session"
)

// tutorValidate is the validator instance for tutor request types.
var tutorValidate *validator.Validate

// topicIDPattern limits topic identifiers to filesystem- and
// query-safe characters.
var topicIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)

func init() {
	tutorValidate = validator.New()
	_ = tutorValidate.RegisterValidation("topicid", validateTopicID)
}

func validateTopicID(fl validator.FieldLevel) bool {
	return topicIDPattern.MatchString(fl.Field().String())
}

// TutorService is the orchestration surface the HTTP layer depends on.
// Narrowed to an interface so handlers are testable with a fake.
type TutorService interface {
	StartConversation(ctx context.Context, userID, topicID string, learningMode bool) (string, string, error)
	HandleTurn(ctx context.Context, userID, sessionID, topicID, userInput string) (string, error)
	EndSession(ctx context.Context, userID, sessionID string) (session.Summary, error)
}

type startSessionRequest struct {
	TopicID      string `json:"topic_id" binding:"required" validate:"required,max=128,topicid"`
	LearningMode bool   `json:"learning_mode"`
}

// Validate checks field constraints beyond JSON binding.
func (r *startSessionRequest) Validate() error {
	return tutorValidate.Struct(r)
}

type turnRequest struct {
	TopicID   string `json:"topic_id" binding:"required" validate:"required,max=128,topicid"`
	UserInput string `json:"user_input" validate:"max=8192"`
}

// Validate checks field constraints beyond JSON binding.
func (r *turnRequest) Validate() error {
	return tutorValidate.Struct(r)
}

// StartSession handles POST /v1/tutor/sessions.
func StartSession(svc TutorService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authInfo := middleware.GetAuthInfo(c)
		if authInfo == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
			return
		}

		var req startSessionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "topic_id is required"})
			return
		}
		if err := req.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid topic_id"})
			return
		}

		sessionID, reply, err := svc.StartConversation(c.Request.Context(),
			authInfo.UserID, req.TopicID, req.LearningMode)
		if err != nil {
			respondTutorError(c, err)
			return
		}

		c.JSON(http.StatusCreated, gin.H{
			"session_id": sessionID,
			"reply":      reply,
		})
	}
}

// HandleTurn handles POST /v1/tutor/sessions/:sessionId/turns.
func HandleTurn(svc TutorService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authInfo := middleware.GetAuthInfo(c)
		if authInfo == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
			return
		}
		sessionID := c.Param("sessionId")

		var req turnRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "topic_id is required"})
			return
		}
		if err := req.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}

		reply, err := svc.HandleTurn(c.Request.Context(),
			authInfo.UserID, sessionID, req.TopicID, req.UserInput)
		if err != nil {
			respondTutorError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"reply": reply})
	}
}

// EndSession handles POST /v1/tutor/sessions/:sessionId/end.
func EndSession(svc TutorService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authInfo := middleware.GetAuthInfo(c)
		if authInfo == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
			return
		}
		sessionID := c.Param("sessionId")

		summary, err := svc.EndSession(c.Request.Context(), authInfo.UserID, sessionID)
		if err != nil {
			respondTutorError(c, err)
			return
		}

		c.JSON(http.StatusOK, summary)
	}
}

// respondTutorError maps orchestration errors onto HTTP statuses.
//
// An empty topic is the caller's mistake (404, pick another topic).
// Breaker rejections and retry exhaustion mean the tutor's upstream is
// down (503, try again later). Everything else is a 500.
func respondTutorError(c *gin.Context, err error) {
	var noQuestions *session.NoQuestionsAvailableError
	if errors.As(err, &noQuestions) {
		c.JSON(http.StatusNotFound, gin.H{"error": noQuestions.Error()})
		return
	}

	var circuitOpen *resilience.CircuitOpenError
	var exhausted *resilience.RetryExhaustedError
	if errors.As(err, &circuitOpen) || errors.As(err, &exhausted) {
		slog.Warn("Tutoring dependency unavailable", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "the tutor is temporarily unavailable, please try again shortly",
		})
		return
	}

	slog.Error("Tutoring request failed", "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}
