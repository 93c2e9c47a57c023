// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Available(t *testing.T) {
	r := NewRegistry(RegistryConfig{})
	got := r.Available()
	require.Len(t, got, 3)
	assert.Equal(t, ProviderOpenAI, got[0].ID)
	assert.True(t, got[0].RequiresAPIKey)
	assert.Equal(t, "Self-hosted Llama", got[2].Name)
	assert.False(t, got[2].RequiresAPIKey)
	assert.True(t, got[2].RequiresEndpoint)
}

func TestRegistry_GetCachesAndRejectsUnknown(t *testing.T) {
	r := NewRegistry(RegistryConfig{OpenAIAPIKey: "sk"})

	a, err := r.Get(ProviderOpenAI)
	require.NoError(t, err)
	b, err := r.Get(ProviderOpenAI)
	require.NoError(t, err)
	assert.Same(t, a, b)

	_, err = r.Get("cohere")
	assert.True(t, errors.Is(err, ErrUnknownProvider))
}

func TestDefaultModel(t *testing.T) {
	assert.Equal(t, "gpt-4o", DefaultModel(ProviderOpenAI))
	assert.Equal(t, "claude-3-sonnet-20240229", DefaultModel(ProviderAnthropic))
	assert.Equal(t, "llama3", DefaultModel(ProviderLlama))
	assert.Empty(t, DefaultModel("nope"))
}

func TestRegistry_StatusNothingConfigured(t *testing.T) {
	st := NewRegistry(RegistryConfig{}).Status(context.Background())
	require.Len(t, st, 3)
	for id, s := range st {
		assert.Equal(t, StatusNotConfigured, s.Status, id)
	}
}

func TestRegistry_Status(t *testing.T) {
	openaiSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":{"message":"Incorrect API key provided","type":"invalid_request_error"}}`)
	}))
	defer openaiSrv.Close()

	llamaSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"object":"list","data":[{"id":"llama3:8b","object":"model"}]}`)
	}))
	defer llamaSrv.Close()

	r := NewRegistry(RegistryConfig{LlamaEndpoint: llamaSrv.URL})
	r.Register(NewOpenAIProvider("sk-bad", WithBaseURL(openaiSrv.URL)))

	st := r.Status(context.Background())
	assert.Equal(t, StatusInvalidCredentials, st[ProviderOpenAI].Status)
	assert.True(t, st[ProviderOpenAI].APIConfigured)
	assert.Equal(t, StatusNotConfigured, st[ProviderAnthropic].Status)
	assert.Equal(t, StatusAvailable, st[ProviderLlama].Status)
	assert.Equal(t, llamaSrv.URL, st[ProviderLlama].Endpoint)
	assert.Equal(t, []string{"llama3:8b"}, st[ProviderLlama].Models)
}

func TestRegistry_StatusEndpointError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	st := NewRegistry(RegistryConfig{LlamaEndpoint: srv.URL}).Status(context.Background())
	assert.Equal(t, StatusEndpointError, st[ProviderLlama].Status)
	assert.Equal(t, "Endpoint validation failed", st[ProviderLlama].Message)
}
