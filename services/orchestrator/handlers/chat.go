// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the gin handlers of the assistant service.
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/AleutianAI/mlflow-assistant/services/orchestrator/datatypes"
	"github.com/AleutianAI/mlflow-assistant/services/orchestrator/intent"
	"github.com/AleutianAI/mlflow-assistant/services/orchestrator/turn"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var handlerTracer = otel.Tracer("assistant.handlers")

// TurnRunner runs one chat turn. *turn.Pipeline implements it.
type TurnRunner interface {
	Handle(ctx context.Context, req turn.Request) intent.Outcome
}

// HandleChat serves POST /chat/mlflow.
//
// # Description
//
// Binds a ChatRequest, runs the turn and answers 200 with the outcome.
// Quota refusals and every downstream failure are outcomes too, so the
// only non-200 answer is 400 for a malformed body.
func HandleChat(runner TurnRunner) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := handlerTracer.Start(c.Request.Context(), "HandleChat")
		defer span.End()

		var req datatypes.ChatRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "bind failed")
			slog.Warn("Failed to parse the chat request", "error", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if err := req.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		span.SetAttributes(attribute.String("session_id", req.SessionID))

		out := runner.Handle(ctx, toTurnRequest(req))
		c.JSON(http.StatusOK, datatypes.ChatResponse{AssistantResponse: out})
	}
}

func toTurnRequest(req datatypes.ChatRequest) turn.Request {
	return turn.Request{
		SessionID:      req.SessionID,
		Query:          req.Query,
		InvitationCode: req.InvitationCode,
		CachedIntent:   req.CachedIntent,
	}
}

// =============================================================================
// Per-session serialization
// =============================================================================

// SerializeSessions wraps runner so that turns for one session never
// overlap, whichever transport they arrive on. Different sessions proceed
// independently; the shared map lock is held only to find the session's
// own lock.
func SerializeSessions(runner TurnRunner) TurnRunner {
	return &serializedRunner{next: runner, locks: make(map[string]*sessionLock)}
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

type serializedRunner struct {
	next  TurnRunner
	mu    sync.Mutex
	locks map[string]*sessionLock
}

func (s *serializedRunner) Handle(ctx context.Context, req turn.Request) intent.Outcome {
	unlock := s.lock(req.SessionID)
	defer unlock()
	return s.next.Handle(ctx, req)
}

func (s *serializedRunner) lock(id string) func() {
	s.mu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &sessionLock{}
		s.locks[id] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, id)
		}
		s.mu.Unlock()
	}
}
