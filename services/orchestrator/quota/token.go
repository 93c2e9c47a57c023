// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package quota stores invitation tokens and meters chat requests against them.
//
// A token admits a bounded number of new chat sessions. Validation is
// read-only; only Consume mutates a token. Sessions already admitted under a
// token may keep using it after its counter reaches zero, brand-new sessions
// may not.
package quota

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"slices"
	"time"

	"github.com/google/uuid"
)

// Default issuance parameters.
const (
	DefaultMaxRequests = 10
	DefaultTTL         = time.Hour

	codeLength = 8
)

// Validation failure reasons. They are reported through Validation.Reason,
// never as the error return of Validate.
var (
	ErrInvalidToken     = errors.New("invalid invitation code")
	ErrDeactivatedToken = errors.New("invitation code deactivated")
	ErrExpiredToken     = errors.New("invitation code expired")
	ErrQuotaExhausted   = errors.New("invitation code request limit reached")

	// ErrTokenNotFound is returned by Get and Deactivate for unknown codes.
	ErrTokenNotFound = errors.New("invitation code not found")
)

// User-facing validation messages.
const (
	MsgInvalid     = "Invalid invitation code."
	MsgDeactivated = "This invitation code has been deactivated."
	MsgExpired     = "This invitation code has expired."
	MsgExhausted   = "This invitation code has reached its request limit."
	MsgValid       = "Valid invitation code."
)

// Token is a stored invitation code and its usage counters.
type Token struct {
	Code              string    `json:"code"`
	CreatedAt         time.Time `json:"created_at"`
	ExpiresAt         time.Time `json:"expires_at"`
	MaxRequests       int       `json:"max_requests"`
	RemainingRequests int       `json:"remaining_requests"`
	Active            bool      `json:"is_active"`
	UsedBySessions    []string  `json:"used_by_sessions"`
}

// Validation is the result of checking a token for one session.
type Validation struct {
	Valid      bool
	Message    string
	Remaining  int
	Max        int
	NewSession bool

	// Reason is nil when Valid, otherwise one of the Err* sentinels.
	Reason error
}

// HasSession reports whether sessionID was already admitted under the token.
func (t *Token) HasSession(sessionID string) bool {
	return slices.Contains(t.UsedBySessions, sessionID)
}

// check evaluates the token for sessionID at now without mutating it.
func (t *Token) check(sessionID string, now time.Time) Validation {
	switch {
	case !t.Active:
		return Validation{Message: MsgDeactivated, Reason: ErrDeactivatedToken}
	case !now.Before(t.ExpiresAt):
		return Validation{Message: MsgExpired, Reason: ErrExpiredToken}
	}

	isNew := !t.HasSession(sessionID)
	if isNew && t.RemainingRequests <= 0 {
		return Validation{Message: MsgExhausted, Reason: ErrQuotaExhausted}
	}
	return Validation{
		Valid:      true,
		Message:    MsgValid,
		Remaining:  t.RemainingRequests,
		Max:        t.MaxRequests,
		NewSession: isNew,
	}
}

// consume charges one request for sessionID.
//
// A new session is refused with ErrQuotaExhausted once the counter is zero,
// which is what keeps two racing sessions from both claiming the last slot.
// An admitted session is never refused; the counter floors at zero.
func (t *Token) consume(sessionID string) (int, error) {
	if !t.HasSession(sessionID) {
		if t.RemainingRequests <= 0 {
			return 0, ErrQuotaExhausted
		}
		t.UsedBySessions = append(t.UsedBySessions, sessionID)
	}
	if t.RemainingRequests > 0 {
		t.RemainingRequests--
	}
	return t.RemainingRequests, nil
}

// clone returns a deep copy so callers never share the session slice.
func (t *Token) clone() Token {
	c := *t
	c.UsedBySessions = slices.Clone(t.UsedBySessions)
	return c
}

func newToken(maxRequests int, ttl time.Duration, now time.Time) Token {
	if maxRequests <= 0 {
		maxRequests = DefaultMaxRequests
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return Token{
		Code:              generateCode(),
		CreatedAt:         now,
		ExpiresAt:         now.Add(ttl),
		MaxRequests:       maxRequests,
		RemainingRequests: maxRequests,
		Active:            true,
		UsedBySessions:    []string{},
	}
}

// generateCode derives a short code from a random UUID digest.
func generateCode() string {
	sum := sha256.Sum256([]byte(uuid.NewString()))
	return hex.EncodeToString(sum[:])[:codeLength]
}

// invalid is the Validation returned for unknown codes.
func invalid() Validation {
	return Validation{Message: MsgInvalid, Reason: ErrInvalidToken}
}

// Redact shortens a code for log output.
func Redact(code string) string {
	if len(code) <= 4 {
		return code
	}
	return code[:4] + "…"
}
