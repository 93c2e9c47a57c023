// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package extensions

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"slices"
)

// ErrUnauthorized is returned when a token is missing or wrong.
// Implementations wrap it with context:
//
//	return nil, fmt.Errorf("token expired: %w", extensions.ErrUnauthorized)
var ErrUnauthorized = errors.New("unauthorized")

// RoleAdmin may issue and deactivate invitation codes.
const RoleAdmin = "admin"

// AuthInfo is the identity behind an accepted token.
type AuthInfo struct {
	// UserID is never empty.
	UserID string

	Roles []string
}

// HasRole checks role membership.
func (a *AuthInfo) HasRole(role string) bool {
	return a != nil && slices.Contains(a.Roles, role)
}

// AuthProvider validates bearer tokens.
//
// # Thread Safety
//
// Validate is called concurrently from request goroutines.
type AuthProvider interface {
	// Validate returns the identity for token, or an error wrapping
	// ErrUnauthorized when the token is not accepted. Other errors mean
	// the provider itself failed.
	Validate(ctx context.Context, token string) (*AuthInfo, error)
}

// KeyAuthProvider accepts exactly one shared admin key.
//
// # Description
//
// The key is stored as its SHA-256 digest and compared in constant time.
// A provider built with an empty key rejects every token, including the
// empty one.
type KeyAuthProvider struct {
	digest [sha256.Size]byte
	set    bool
}

// NewKeyAuthProvider creates a provider for key.
func NewKeyAuthProvider(key string) *KeyAuthProvider {
	if key == "" {
		return &KeyAuthProvider{}
	}
	return &KeyAuthProvider{digest: sha256.Sum256([]byte(key)), set: true}
}

// Configured reports whether a key was supplied.
func (p *KeyAuthProvider) Configured() bool {
	return p.set
}

// Validate implements AuthProvider.
func (p *KeyAuthProvider) Validate(_ context.Context, token string) (*AuthInfo, error) {
	if !p.set || token == "" {
		return nil, ErrUnauthorized
	}
	got := sha256.Sum256([]byte(token))
	if subtle.ConstantTimeCompare(got[:], p.digest[:]) != 1 {
		return nil, ErrUnauthorized
	}
	return &AuthInfo{UserID: "admin", Roles: []string{RoleAdmin}}, nil
}

var _ AuthProvider = (*KeyAuthProvider)(nil)
