// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware provides gin middleware for the assistant service.
//
// # Authentication Flow
//
// Only the invitation admin routes are authenticated:
//
//	Request
//	   │
//	   ▼
//	AdminAuth
//	   │
//	   ├─► Extract token from "Authorization: Bearer <token>"
//	   │
//	   ├─► provider.Validate(ctx, token)
//	   │
//	   ├─► Require the admin role
//	   │
//	   └─► Store AuthInfo in context
//	           │
//	           ▼
//	       Handler (retrieves via GetAuthInfo)
//
// Chat and invitation validation routes are public; the invitation code in
// the body is their credential.
package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/AleutianAI/mlflow-assistant/pkg/extensions"
	"github.com/gin-gonic/gin"
)

// authInfoKey is the gin context key for AuthInfo.
const authInfoKey = "assistant_auth_info"

// SetAuthInfo stores info in the request context.
func SetAuthInfo(c *gin.Context, info *extensions.AuthInfo) {
	c.Set(authInfoKey, info)
}

// GetAuthInfo returns the authenticated identity, or nil when the request
// did not pass AdminAuth.
func GetAuthInfo(c *gin.Context) *extensions.AuthInfo {
	if info, exists := c.Get(authInfoKey); exists {
		if authInfo, ok := info.(*extensions.AuthInfo); ok {
			return authInfo
		}
	}
	return nil
}

// AdminAuth rejects requests that do not carry an admin bearer token.
//
// # Description
//
// A rejected or malformed token answers 401. A valid identity without the
// admin role answers 403. Provider failures are logged and answer 401 so
// that nothing about the failure reaches the caller.
//
// # Inputs
//
//   - provider: validates the token. Must not be nil.
//
// # Thread Safety
//
// The returned middleware is safe for concurrent use.
func AdminAuth(provider extensions.AuthProvider) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractBearerToken(c)

		info, err := provider.Validate(c.Request.Context(), token)
		if err != nil {
			if !errors.Is(err, extensions.ErrUnauthorized) {
				slog.Error("admin auth provider failed", "error", err, "path", c.FullPath())
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		if !info.HasRole(extensions.RoleAdmin) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin role required"})
			return
		}

		SetAuthInfo(c, info)
		c.Next()
	}
}

// extractBearerToken returns the token of an "Authorization: Bearer <token>"
// header, or "" when the header is missing or uses another scheme. The
// scheme is matched case-insensitively.
func extractBearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
