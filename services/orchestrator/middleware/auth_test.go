// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/AleutianAI/mlflow-assistant/pkg/extensions"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Setup
// =============================================================================

func init() {
	gin.SetMode(gin.TestMode)
}

// mockAuthProvider is a configurable mock for testing.
type mockAuthProvider struct {
	authInfo *extensions.AuthInfo
	err      error
}

func (m *mockAuthProvider) Validate(_ context.Context, _ string) (*extensions.AuthInfo, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.authInfo, nil
}

func adminRouter(provider extensions.AuthProvider) *gin.Engine {
	router := gin.New()
	router.Use(AdminAuth(provider))
	router.GET("/test", func(c *gin.Context) {
		info := GetAuthInfo(c)
		c.JSON(http.StatusOK, gin.H{"user_id": info.UserID})
	})
	return router
}

func serve(router *gin.Engine, header string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	router.ServeHTTP(w, req)
	return w
}

// =============================================================================
// extractBearerToken Tests
// =============================================================================

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"valid", "Bearer abc123", "abc123"},
		{"lowercase scheme", "bearer abc123", "abc123"},
		{"mixed case scheme", "BeArEr abc123", "abc123"},
		{"missing", "", ""},
		{"no scheme", "abc123", ""},
		{"basic auth", "Basic abc123", ""},
		{"empty bearer", "Bearer ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := gin.CreateTestContext(httptest.NewRecorder())
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				c.Request.Header.Set("Authorization", tt.header)
			}
			assert.Equal(t, tt.want, extractBearerToken(c))
		})
	}
}

// =============================================================================
// AdminAuth Tests
// =============================================================================

func TestAdminAuth_KeyProvider(t *testing.T) {
	router := adminRouter(extensions.NewKeyAuthProvider("s3cret"))

	ok := serve(router, "Bearer s3cret")
	assert.Equal(t, http.StatusOK, ok.Code)
	assert.Contains(t, ok.Body.String(), `"user_id":"admin"`)

	assert.Equal(t, http.StatusUnauthorized, serve(router, "Bearer wrong").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(router, "").Code)
}

func TestAdminAuth_UnconfiguredKeyRejectsAll(t *testing.T) {
	router := adminRouter(extensions.NewKeyAuthProvider(""))

	assert.Equal(t, http.StatusUnauthorized, serve(router, "").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(router, "Bearer anything").Code)
}

func TestAdminAuth_RequiresAdminRole(t *testing.T) {
	router := adminRouter(&mockAuthProvider{authInfo: &extensions.AuthInfo{UserID: "viewer", Roles: []string{"viewer"}}})

	w := serve(router, "Bearer token")

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAdminAuth_ProviderError(t *testing.T) {
	router := adminRouter(&mockAuthProvider{err: errors.New("network error")})

	w := serve(router, "Bearer token")

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.NotContains(t, w.Body.String(), "network")
}

// =============================================================================
// Context Helper Tests
// =============================================================================

func TestGetAuthInfo(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	assert.Nil(t, GetAuthInfo(c))

	c.Set(authInfoKey, "not an AuthInfo")
	assert.Nil(t, GetAuthInfo(c))

	expected := &extensions.AuthInfo{UserID: "admin", Roles: []string{extensions.RoleAdmin}}
	SetAuthInfo(c, expected)
	require.NotNil(t, GetAuthInfo(c))
	assert.Equal(t, expected, GetAuthInfo(c))
}

// =============================================================================
// RequestID Tests
// =============================================================================

func TestRequestID(t *testing.T) {
	router := gin.New()
	router.Use(RequestID())
	router.GET("/test", func(c *gin.Context) {
		c.String(http.StatusOK, GetRequestID(c))
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set(RequestIDHeader, "req-1")
	router.ServeHTTP(w, req)
	assert.Equal(t, "req-1", w.Header().Get(RequestIDHeader))
	assert.Equal(t, "req-1", w.Body.String())

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set(RequestIDHeader, strings.Repeat("x", 200))
	router.ServeHTTP(w, req)
	minted := w.Header().Get(RequestIDHeader)
	assert.Len(t, minted, 36)
	assert.Equal(t, minted, w.Body.String())
}
