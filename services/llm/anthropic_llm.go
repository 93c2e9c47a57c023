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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	anthropicAPIVersion    = "2023-06-01"
	anthropicBaseURL       = "https://api.anthropic.com/v1"
	anthropicMaxTokens     = 4096
	anthropicMaxErrorBytes = 2048
)

var anthropicModels = []Model{
	{ID: "claude-3-opus-20240229", Name: "Claude 3 Opus", MaxTokens: 4096, Description: "Most powerful Claude model for complex tasks requiring deep expertise."},
	{ID: "claude-3-sonnet-20240229", Name: "Claude 3 Sonnet", MaxTokens: 4096, Description: "Balanced model for most tasks with excellent performance."},
	{ID: "claude-3-haiku-20240307", Name: "Claude 3 Haiku", MaxTokens: 4096, Description: "Fastest and most compact Claude model for responsive applications."},
	{ID: "claude-3.5-sonnet-20240620", Name: "Claude 3.5 Sonnet", MaxTokens: 8192, Description: "Latest Claude model with enhanced reasoning capabilities."},
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	System      string             `json:"system,omitempty"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature *float32           `json:"temperature,omitempty"`
	TopP        *float32           `json:"top_p,omitempty"`
	StopSeqs    []string           `json:"stop_sequences,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []anthropicContent `json:"content"`
	Error   *anthropicError    `json:"error,omitempty"`
}

type anthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// HTTPStatusError is a non-200 answer from a provider's HTTP API.
type HTTPStatusError struct {
	Code int
	Body string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("Anthropic API returned status %d: %s", e.Code, e.Body)
}

// AnthropicProvider talks to the Anthropic Messages API over plain HTTP.
type AnthropicProvider struct {
	key        *secret
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewAnthropicProvider returns a provider using apiKey. An empty key
// yields a provider whose calls fail with ErrNotConfigured.
func NewAnthropicProvider(apiKey string, opts ...ClientOption) *AnthropicProvider {
	o := buildClientOptions(60*time.Second, opts)
	base := o.baseURL
	if base == "" {
		base = anthropicBaseURL
	}
	return &AnthropicProvider{
		key:        newSecret(apiKey),
		baseURL:    base,
		httpClient: o.httpClient,
		logger:     o.logger.With("provider", ProviderAnthropic),
	}
}

func (a *AnthropicProvider) ID() string   { return ProviderAnthropic }
func (a *AnthropicProvider) Name() string { return "Anthropic" }

func (a *AnthropicProvider) ListModels(context.Context) ([]Model, error) {
	return append([]Model(nil), anthropicModels...), nil
}

// GenerateResponse sends one Messages API request. System messages are
// hoisted into the top-level system field; consecutive system messages
// are joined with a blank line.
func (a *AnthropicProvider) GenerateResponse(ctx context.Context, messages []Message, model string, params GenerationParams) (string, error) {
	ctx, span := tracer.Start(ctx, "AnthropicProvider.GenerateResponse")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", model))

	payload := anthropicRequest{
		Model:       model,
		MaxTokens:   anthropicMaxTokens,
		Temperature: params.Temperature,
		TopP:        params.TopP,
		StopSeqs:    params.Stop,
	}
	if params.MaxTokens != nil && *params.MaxTokens > 0 {
		payload.MaxTokens = *params.MaxTokens
	}
	var system []string
	for _, m := range messages {
		switch strings.ToLower(m.Role) {
		case "system":
			system = append(system, m.Content)
		case "user", "assistant":
			payload.Messages = append(payload.Messages, anthropicMessage{Role: strings.ToLower(m.Role), Content: m.Content})
		}
	}
	payload.System = strings.Join(system, "\n\n")

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	var text string
	err = a.key.use(func(key string) error {
		raw, err := a.do(ctx, key, http.MethodPost, "/messages", body)
		if err != nil {
			return err
		}
		var resp anthropicResponse
		if err := json.Unmarshal(raw, &resp); err != nil {
			return fmt.Errorf("failed to parse response JSON: %w", err)
		}
		if resp.Error != nil {
			return fmt.Errorf("Anthropic API Error: %s - %s", resp.Error.Type, resp.Error.Message)
		}
		var b strings.Builder
		for _, block := range resp.Content {
			if block.Type == "text" {
				b.WriteString(block.Text)
			}
		}
		if b.Len() == 0 {
			return ErrEmptyResponse
		}
		text = b.String()
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "completion failed")
		a.logger.Error("Anthropic completion failed", "model", model, "error", err)
		return "", err
	}
	return text, nil
}

// ValidateCredentials lists models with the configured key.
func (a *AnthropicProvider) ValidateCredentials(ctx context.Context) error {
	return a.key.use(func(key string) error {
		_, err := a.do(ctx, key, http.MethodGet, "/models", nil)
		return err
	})
}

// do performs one authenticated request and returns the body of a 200
// response.
func (a *AnthropicProvider) do(ctx context.Context, key, method, path string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("x-api-key", key)
	req.Header.Set("anthropic-version", anthropicAPIVersion)
	req.Header.Set("content-type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		if len(raw) > anthropicMaxErrorBytes {
			raw = raw[:anthropicMaxErrorBytes]
		}
		return nil, &HTTPStatusError{Code: resp.StatusCode, Body: string(raw)}
	}
	return raw, nil
}

var _ Provider = (*AnthropicProvider)(nil)
