// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides the request and response bodies of the
// assistant's HTTP surface.
//
// This file contains the chat types. Invitation and provider types live in
// invitation.go and llm.go.
package datatypes

import (
	"github.com/AleutianAI/mlflow-assistant/services/orchestrator/intent"
	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Limits
// =============================================================================

const (
	// MaxQueryBytes caps one user message.
	MaxQueryBytes = 32 * 1024

	// MaxSessionIDLength caps client-chosen session identifiers.
	MaxSessionIDLength = 128

	// MaxCodeLength caps invitation codes accepted on the wire.
	MaxCodeLength = 64
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// validate is shared by every type in the package. validator.Validate
// caches struct metadata and is safe for concurrent use.
var validate *validator.Validate

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("maxbytes", validateMaxBytes)
}

// validateMaxBytes checks byte length, not rune count.
func validateMaxBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxQueryBytes
}

// =============================================================================
// Chat
// =============================================================================

// ChatRequest is the body of POST /chat/mlflow and of every websocket frame
// on /chat/mlflow/ws.
//
// # Fields
//
//   - SessionID: Required. Client-chosen conversation key.
//   - Query: Required. The user's message, at most 32KB.
//   - InvitationCode: The code admitting the session. An empty code is not
//     a validation error; it is refused by the quota check like any other
//     unknown code so the client sees the same message.
//   - CachedIntent: Optional. May carry llm_provider_id and llm_model_id.
type ChatRequest struct {
	SessionID      string         `json:"session_id" validate:"required,max=128"`
	Query          string         `json:"query" validate:"required,maxbytes"`
	InvitationCode string         `json:"invitation_code" validate:"max=64"`
	CachedIntent   map[string]any `json:"cached_intent,omitempty"`
}

// Validate checks the struct tags.
func (r *ChatRequest) Validate() error {
	return validate.Struct(r)
}

// ChatResponse wraps one turn's outcome.
type ChatResponse struct {
	AssistantResponse intent.Outcome `json:"assistant_response"`
}
