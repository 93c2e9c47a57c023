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
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("assistant.llm")

var openAIModels = []Model{
	{ID: "gpt-4o", Name: "GPT-4o", MaxTokens: 8192, Description: "Most capable GPT-4 model optimized for chat."},
	{ID: "gpt-4-turbo", Name: "GPT-4 Turbo", MaxTokens: 4096, Description: "Fast GPT-4 model with a large context window."},
	{ID: "gpt-3.5-turbo", Name: "GPT-3.5 Turbo", MaxTokens: 4096, Description: "Fast and cost-effective model for simple tasks."},
}

// OpenAIProvider talks to the OpenAI chat completions API.
type OpenAIProvider struct {
	key        *secret
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// ClientOption configures a provider.
type ClientOption func(*clientOptions)

type clientOptions struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// WithBaseURL points the provider at a different API root.
func WithBaseURL(u string) ClientOption {
	return func(o *clientOptions) { o.baseURL = strings.TrimSuffix(u, "/") }
}

// WithHTTPClient replaces the provider's HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(o *clientOptions) {
		if c != nil {
			o.httpClient = c
		}
	}
}

func WithLogger(l *slog.Logger) ClientOption {
	return func(o *clientOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

func buildClientOptions(timeout time.Duration, opts []ClientOption) clientOptions {
	o := clientOptions{
		httpClient: &http.Client{Timeout: timeout},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewOpenAIProvider returns a provider using apiKey. An empty key yields a
// provider whose calls fail with ErrNotConfigured.
func NewOpenAIProvider(apiKey string, opts ...ClientOption) *OpenAIProvider {
	o := buildClientOptions(60*time.Second, opts)
	return &OpenAIProvider{
		key:        newSecret(apiKey),
		baseURL:    o.baseURL,
		httpClient: o.httpClient,
		logger:     o.logger.With("provider", ProviderOpenAI),
	}
}

func (p *OpenAIProvider) ID() string   { return ProviderOpenAI }
func (p *OpenAIProvider) Name() string { return "OpenAI" }

// ListModels returns the supported chat models.
func (p *OpenAIProvider) ListModels(context.Context) ([]Model, error) {
	return append([]Model(nil), openAIModels...), nil
}

func (p *OpenAIProvider) client(key string) *openai.Client {
	cfg := openai.DefaultConfig(key)
	if p.baseURL != "" {
		cfg.BaseURL = p.baseURL
	}
	cfg.HTTPClient = p.httpClient
	return openai.NewClientWithConfig(cfg)
}

// GenerateResponse sends one chat completion request.
func (p *OpenAIProvider) GenerateResponse(ctx context.Context, messages []Message, model string, params GenerationParams) (string, error) {
	ctx, span := tracer.Start(ctx, "OpenAIProvider.GenerateResponse")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", model))

	var text string
	err := p.key.use(func(key string) error {
		resp, err := p.client(key).CreateChatCompletion(ctx, chatRequest(messages, model, params))
		if err != nil {
			return fmt.Errorf("OpenAI Error: %w", err)
		}
		if len(resp.Choices) == 0 {
			return ErrEmptyResponse
		}
		p.logger.Debug("completion received", "model", model, "finish_reason", resp.Choices[0].FinishReason)
		text = strings.TrimSpace(resp.Choices[0].Message.Content)
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "completion failed")
		p.logger.Error("OpenAI completion failed", "model", model, "error", err)
		return "", err
	}
	return text, nil
}

// ValidateCredentials lists models with the configured key.
func (p *OpenAIProvider) ValidateCredentials(ctx context.Context) error {
	return p.key.use(func(key string) error {
		if _, err := p.client(key).ListModels(ctx); err != nil {
			return fmt.Errorf("list models: %w", err)
		}
		return nil
	})
}

// chatRequest maps messages and params onto an OpenAI-compatible request.
func chatRequest(messages []Message, model string, params GenerationParams) openai.ChatCompletionRequest {
	req := openai.ChatCompletionRequest{
		Model:    model,
		Messages: make([]openai.ChatCompletionMessage, 0, len(messages)),
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	if params.Temperature != nil {
		req.Temperature = *params.Temperature
		// zero is dropped by omitempty and the server would apply its default
		if req.Temperature == 0 {
			req.Temperature = math.SmallestNonzeroFloat32
		}
	}
	if params.MaxTokens != nil {
		req.MaxTokens = *params.MaxTokens
	}
	if params.TopP != nil {
		req.TopP = *params.TopP
	}
	if len(params.Stop) > 0 {
		req.Stop = params.Stop
	}
	return req
}

var _ Provider = (*OpenAIProvider)(nil)
