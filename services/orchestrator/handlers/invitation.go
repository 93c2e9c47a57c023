// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
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
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/AleutianAI/mlflow-assistant/pkg/extensions"
	"github.com/AleutianAI/mlflow-assistant/services/orchestrator/datatypes"
	"github.com/AleutianAI/mlflow-assistant/services/orchestrator/middleware"
	"github.com/AleutianAI/mlflow-assistant/services/orchestrator/quota"
	"github.com/gin-gonic/gin"
)

// InvitationDefaults apply when an admin create request leaves a field out.
type InvitationDefaults struct {
	MaxRequests int
	TTL         time.Duration
}

func bindInvitation(c *gin.Context) (datatypes.InvitationRequest, bool) {
	var req datatypes.InvitationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return req, false
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return req, false
	}
	return req, true
}

// HandleValidateInvitation serves POST /invitation/validate. It always
// answers 200 unless the store fails; the body says whether the code is
// usable.
func HandleValidateInvitation(store quota.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		req, ok := bindInvitation(c)
		if !ok {
			return
		}
		v, err := store.Validate(c.Request.Context(), req.Code, req.SessionID)
		if err != nil {
			slog.Error("quota validation failed", "error", err, "code", quota.Redact(req.Code))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "unable to verify the invitation code"})
			return
		}
		c.JSON(http.StatusOK, datatypes.NewInvitationResponse(v))
	}
}

// HandleUseInvitation serves POST /invitation/use: validate, then charge
// one request. A refused code answers 403 with the quota message.
func HandleUseInvitation(store quota.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		req, ok := bindInvitation(c)
		if !ok {
			return
		}

		v, err := store.Validate(ctx, req.Code, req.SessionID)
		if err != nil {
			slog.Error("quota validation failed", "error", err, "code", quota.Redact(req.Code))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "unable to verify the invitation code"})
			return
		}
		if !v.Valid {
			c.JSON(http.StatusForbidden, gin.H{"error": v.Message})
			return
		}

		remaining, found, err := store.Consume(ctx, req.Code, req.SessionID)
		switch {
		case errors.Is(err, quota.ErrQuotaExhausted):
			c.JSON(http.StatusForbidden, gin.H{"error": quota.MsgExhausted})
			return
		case err != nil:
			slog.Error("quota consume failed", "error", err, "code", quota.Redact(req.Code))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "unable to use the invitation code"})
			return
		case !found:
			c.JSON(http.StatusForbidden, gin.H{"error": quota.MsgInvalid})
			return
		}

		maxRequests := v.Max
		c.JSON(http.StatusOK, datatypes.InvitationResponse{
			Valid:             true,
			Message:           fmt.Sprintf("Request used successfully. %d requests remaining.", remaining),
			RemainingRequests: &remaining,
			MaxRequests:       &maxRequests,
		})
	}
}

// =============================================================================
// Admin
// =============================================================================

// HandleCreateInvitation serves POST /invitation/create. The body is
// optional; missing fields take the defaults.
func HandleCreateInvitation(store quota.Store, defaults InvitationDefaults, audit extensions.AuditLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		var req datatypes.CreateInvitationRequest
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if err := req.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		maxRequests := req.MaxRequests
		if maxRequests == 0 {
			maxRequests = defaults.MaxRequests
		}
		tok, err := store.Issue(ctx, maxRequests, req.TTL(defaults.TTL))
		if err != nil {
			slog.Error("issuing invitation code failed", "error", err)
			logAudit(c, audit, "create", "", extensions.OutcomeFailure, nil)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "unable to create an invitation code"})
			return
		}

		logAudit(c, audit, "create", tok.Code, extensions.OutcomeSuccess, map[string]any{
			"max_requests": tok.MaxRequests,
			"expires_at":   tok.ExpiresAt,
		})
		c.JSON(http.StatusCreated, datatypes.NewInvitationView(tok))
	}
}

// HandleGetInvitation serves GET /invitation/:code.
func HandleGetInvitation(store quota.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		tok, err := store.Get(c.Request.Context(), c.Param("code"))
		if err != nil {
			writeLookupError(c, err)
			return
		}
		c.JSON(http.StatusOK, datatypes.NewInvitationView(tok))
	}
}

// HandleDeactivateInvitation serves POST /invitation/:code/deactivate.
func HandleDeactivateInvitation(store quota.Store, audit extensions.AuditLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		code := c.Param("code")

		if err := store.Deactivate(ctx, code); err != nil {
			logAudit(c, audit, "deactivate", code, extensions.OutcomeFailure, nil)
			writeLookupError(c, err)
			return
		}
		logAudit(c, audit, "deactivate", code, extensions.OutcomeSuccess, nil)

		tok, err := store.Get(ctx, code)
		if err != nil {
			writeLookupError(c, err)
			return
		}
		c.JSON(http.StatusOK, datatypes.NewInvitationView(tok))
	}
}

func writeLookupError(c *gin.Context, err error) {
	if errors.Is(err, quota.ErrTokenNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "invitation code not found"})
		return
	}
	slog.Error("invitation lookup failed", "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "invitation store error"})
}

func logAudit(c *gin.Context, audit extensions.AuditLogger, action, code, outcome string, meta map[string]any) {
	if audit == nil {
		return
	}
	userID := "anonymous"
	if info := middleware.GetAuthInfo(c); info != nil {
		userID = info.UserID
	}
	err := audit.Log(c.Request.Context(), extensions.AuditEvent{
		EventType:    "invitation." + action,
		UserID:       userID,
		Action:       action,
		ResourceType: "invitation",
		ResourceID:   quota.Redact(code),
		Outcome:      outcome,
		Metadata:     meta,
	})
	if err != nil {
		slog.Warn("audit log failed", "error", err)
	}
}
