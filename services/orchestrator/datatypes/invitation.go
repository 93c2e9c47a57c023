// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"time"

	"github.com/AleutianAI/mlflow-assistant/services/orchestrator/quota"
)

// InvitationRequest is the body of /invitation/validate and /invitation/use.
type InvitationRequest struct {
	Code      string `json:"code" validate:"required,max=64"`
	SessionID string `json:"session_id" validate:"required,max=128"`
}

func (r *InvitationRequest) Validate() error {
	return validate.Struct(r)
}

// InvitationResponse reports a code's standing. The counters are null when
// the code is not valid.
type InvitationResponse struct {
	Valid             bool   `json:"valid"`
	Message           string `json:"message"`
	RemainingRequests *int   `json:"remaining_requests"`
	MaxRequests       *int   `json:"max_requests"`
}

// NewInvitationResponse renders a quota validation.
func NewInvitationResponse(v quota.Validation) InvitationResponse {
	resp := InvitationResponse{Valid: v.Valid, Message: v.Message}
	if v.Valid {
		remaining, maxRequests := v.Remaining, v.Max
		resp.RemainingRequests = &remaining
		resp.MaxRequests = &maxRequests
	}
	return resp
}

// CreateInvitationRequest is the admin body of POST /invitation/create.
// Zero values fall back to the configured defaults.
type CreateInvitationRequest struct {
	MaxRequests   int `json:"max_requests" validate:"omitempty,min=1,max=100000"`
	ExpirySeconds int `json:"expiry_seconds" validate:"omitempty,min=60,max=31536000"`
}

func (r *CreateInvitationRequest) Validate() error {
	return validate.Struct(r)
}

// TTL returns the requested lifetime, or fallback when none was given.
func (r *CreateInvitationRequest) TTL(fallback time.Duration) time.Duration {
	if r.ExpirySeconds <= 0 {
		return fallback
	}
	return time.Duration(r.ExpirySeconds) * time.Second
}

// InvitationView is the admin view of a stored token. Session ids are
// counted, not listed.
type InvitationView struct {
	Code              string    `json:"code"`
	CreatedAt         time.Time `json:"created_at"`
	ExpiresAt         time.Time `json:"expires_at"`
	MaxRequests       int       `json:"max_requests"`
	RemainingRequests int       `json:"remaining_requests"`
	Active            bool      `json:"is_active"`
	Sessions          int       `json:"sessions"`
}

// NewInvitationView renders tok.
func NewInvitationView(tok quota.Token) InvitationView {
	return InvitationView{
		Code:              tok.Code,
		CreatedAt:         tok.CreatedAt,
		ExpiresAt:         tok.ExpiresAt,
		MaxRequests:       tok.MaxRequests,
		RemainingRequests: tok.RemainingRequests,
		Active:            tok.Active,
		Sessions:          len(tok.UsedBySessions),
	}
}
