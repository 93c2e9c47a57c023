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
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// =============================================================================
// Mock Server Helpers
// =============================================================================

// completionBody is a minimal OpenAI-compatible chat completion answer.
func completionBody(content string) string {
	b, _ := json.Marshal(map[string]any{
		"id":     "cmpl-1",
		"object": "chat.completion",
		"choices": []map[string]any{{
			"index":         0,
			"finish_reason": "stop",
			"message":       map[string]string{"role": "assistant", "content": content},
		}},
	})
	return string(b)
}

// newCompletionServer answers POST /chat/completions with content and
// records the last request.
func newCompletionServer(t *testing.T, content string, header *http.Header, lastBody *[]byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		if header != nil {
			*header = r.Header.Clone()
		}
		if lastBody != nil {
			*lastBody, _ = io.ReadAll(r.Body)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, completionBody(content))
	}))
	t.Cleanup(srv.Close)
	return srv
}

var classifyMessages = []Message{
	{Role: "system", Content: "You are an intelligent MLflow assistant."},
	{Role: "user", Content: "list my experiments"},
}

// =============================================================================
// OpenAI
// =============================================================================

func TestOpenAIProvider_GenerateResponse(t *testing.T) {
	var header http.Header
	var body []byte
	srv := newCompletionServer(t, "  {\"intent\":\"list_experiments\"}\n", &header, &body)

	p := NewOpenAIProvider("sk-test", WithBaseURL(srv.URL))
	got, err := p.GenerateResponse(context.Background(), classifyMessages, "gpt-4o", GenerationParams{Temperature: Float32(0)})
	if err != nil {
		t.Fatalf("GenerateResponse returned error: %v", err)
	}
	if got != `{"intent":"list_experiments"}` {
		t.Errorf("unexpected reply %q", got)
	}
	if auth := header.Get("Authorization"); auth != "Bearer sk-test" {
		t.Errorf("Authorization header = %q", auth)
	}

	var sent struct {
		Model       string    `json:"model"`
		Temperature *float64  `json:"temperature"`
		Messages    []Message `json:"messages"`
	}
	if err := json.Unmarshal(body, &sent); err != nil {
		t.Fatalf("request body is not JSON: %v", err)
	}
	if sent.Model != "gpt-4o" || len(sent.Messages) != 2 || sent.Messages[0].Role != "system" {
		t.Errorf("unexpected request %+v", sent)
	}
	if sent.Temperature == nil || *sent.Temperature > 1e-6 {
		t.Errorf("temperature should be sent as effectively zero, got %v", sent.Temperature)
	}
}

func TestOpenAIProvider_NoKey(t *testing.T) {
	p := NewOpenAIProvider("")
	_, err := p.GenerateResponse(context.Background(), classifyMessages, "gpt-4o", GenerationParams{})
	if !errors.Is(err, ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured, got %v", err)
	}
	if err := p.ValidateCredentials(context.Background()); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured from validation, got %v", err)
	}
}

func TestOpenAIProvider_ListModels(t *testing.T) {
	models, err := NewOpenAIProvider("").ListModels(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(models) != 3 || models[0].ID != "gpt-4o" {
		t.Errorf("unexpected models %+v", models)
	}
}

// =============================================================================
// Anthropic
// =============================================================================

func TestAnthropicProvider_GenerateResponse(t *testing.T) {
	var got anthropicRequest
	var headers http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/messages" {
			http.NotFound(w, r)
			return
		}
		headers = r.Header.Clone()
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = io.WriteString(w, `{"content":[{"type":"text","text":"{\"intent\":"},{"type":"text","text":"\"summary\"}"}]}`)
	}))
	defer srv.Close()

	p := NewAnthropicProvider("ak-test", WithBaseURL(srv.URL))
	reply, err := p.GenerateResponse(context.Background(), classifyMessages, "claude-3-sonnet-20240229", GenerationParams{Temperature: Float32(0)})
	if err != nil {
		t.Fatalf("GenerateResponse returned error: %v", err)
	}
	if reply != `{"intent":"summary"}` {
		t.Errorf("text blocks should be concatenated, got %q", reply)
	}
	if headers.Get("x-api-key") != "ak-test" || headers.Get("anthropic-version") != anthropicAPIVersion {
		t.Errorf("missing auth headers: %v", headers)
	}
	if got.System != "You are an intelligent MLflow assistant." {
		t.Errorf("system prompt should be hoisted, got %q", got.System)
	}
	if len(got.Messages) != 1 || got.Messages[0].Role != "user" {
		t.Errorf("only conversational turns belong in messages, got %+v", got.Messages)
	}
	if got.MaxTokens != anthropicMaxTokens {
		t.Errorf("max_tokens = %d", got.MaxTokens)
	}
}

func TestAnthropicProvider_HTTPStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`)
	}))
	defer srv.Close()

	p := NewAnthropicProvider("bad", WithBaseURL(srv.URL))
	err := p.ValidateCredentials(context.Background())
	var statusErr *HTTPStatusError
	if !errors.As(err, &statusErr) || statusErr.Code != http.StatusUnauthorized {
		t.Fatalf("expected a 401 HTTPStatusError, got %v", err)
	}
	if !rejectedCredentials(err) {
		t.Error("401 should count as rejected credentials")
	}
}

// =============================================================================
// Llama
// =============================================================================

func TestLlamaProvider_WrapsProse(t *testing.T) {
	srv := newCompletionServer(t, "MLflow was created by Databricks.", nil, nil)

	p := NewLlamaProvider(srv.URL, "")
	reply, err := p.GenerateResponse(context.Background(), classifyMessages, "llama3", GenerationParams{})
	if err != nil {
		t.Fatal(err)
	}
	var doc classifierReply
	if err := json.Unmarshal([]byte(reply), &doc); err != nil {
		t.Fatalf("reply should be JSON: %v", err)
	}
	if doc.Intent != "other_intent" || doc.Confirmation != "confirmed" || doc.Message != "MLflow was created by Databricks." {
		t.Errorf("unexpected wrapped reply %+v", doc)
	}
}

func TestLlamaProvider_PassesJSONThrough(t *testing.T) {
	const raw = `{"intent":"create_run","entities":{},"confirmation":"confirmed"}`
	srv := newCompletionServer(t, raw, nil, nil)

	reply, err := NewLlamaProvider(srv.URL, "").GenerateResponse(context.Background(), classifyMessages, "llama3", GenerationParams{})
	if err != nil {
		t.Fatal(err)
	}
	if reply != raw {
		t.Errorf("JSON content should pass through, got %q", reply)
	}
}

func TestLlamaProvider_FailuresBecomeErrorReplies(t *testing.T) {
	notFound := httptest.NewServer(http.NotFoundHandler())
	defer notFound.Close()

	closed := httptest.NewServer(http.NotFoundHandler())
	closedURL := closed.URL
	closed.Close()

	tests := []struct {
		name     string
		endpoint string
		want     string
	}{
		{"no endpoint", "", msgLlamaNotConfigured},
		{"missing model", notFound.URL, msgLlamaNoModel},
		{"unreachable", closedURL, msgLlamaUnreachable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reply, err := NewLlamaProvider(tt.endpoint, "").GenerateResponse(context.Background(), classifyMessages, "llama3", GenerationParams{})
			if err != nil {
				t.Fatalf("failures should not surface as errors: %v", err)
			}
			var doc classifierReply
			if err := json.Unmarshal([]byte(reply), &doc); err != nil {
				t.Fatalf("reply should be JSON: %v", err)
			}
			if doc.Intent != "error" || doc.Confirmation != "needs_clarification" {
				t.Errorf("unexpected reply %+v", doc)
			}
			if doc.Message != tt.want {
				t.Errorf("message = %q, want %q", doc.Message, tt.want)
			}
		})
	}
}

func TestLlamaProvider_ListModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			http.NotFound(w, r)
			return
		}
		_, _ = io.WriteString(w, `{"object":"list","data":[{"id":"mistral:latest","object":"model"},{"id":"llama3:8b","object":"model"}]}`)
	}))
	defer srv.Close()

	models, err := NewLlamaProvider(srv.URL, "").ListModels(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(models) != 2 || models[0].ID != "mistral:latest" || models[0].Description != "Ollama model: mistral:latest" {
		t.Errorf("unexpected discovered models %+v", models)
	}

	fallback, err := NewLlamaProvider("", "").ListModels(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(fallback) != 3 || fallback[0].ID != "llama3" {
		t.Errorf("unexpected static models %+v", fallback)
	}
}

func TestLlamaProvider_ValidateCredentials(t *testing.T) {
	if err := NewLlamaProvider("", "").ValidateCredentials(context.Background()); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured, got %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/models") {
			http.NotFound(w, r)
			return
		}
		_, _ = io.WriteString(w, `{"object":"list","data":[]}`)
	}))
	defer srv.Close()
	if err := NewLlamaProvider(srv.URL, "").ValidateCredentials(context.Background()); err != nil {
		t.Errorf("reachable endpoint should validate: %v", err)
	}
}
