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
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	// DefaultLlamaEndpoint is the OpenAI-compatible root of a local Ollama.
	DefaultLlamaEndpoint = "http://localhost:11434/v1"

	llamaTimeout         = 120 * time.Second
	llamaModelsTimeout   = 5 * time.Second
	llamaValidateTimeout = 10 * time.Second
)

// Replies the llama provider returns in place of a Go error.
const (
	msgLlamaNotConfigured = "Llama API endpoint is not configured. Please set LLAMA_API_ENDPOINT in your environment."
	msgLlamaUnreachable   = "Could not connect to Llama API. Please ensure Ollama is running."
	msgLlamaTimeout       = "Request to Llama API timed out. The model might be loading or the server is overloaded."
	msgLlamaNoModel       = "Llama model endpoint not found. Make sure the model is available in Ollama (try 'ollama list')."
)

var llamaModels = []Model{
	{ID: "llama3", Name: "Llama 3 (8B)", MaxTokens: 4096, Description: "Efficient 8B parameter Llama 3 model."},
	{ID: "llama-3-70b", Name: "Llama 3 (70B)", MaxTokens: 4096, Description: "Powerful 70B parameter Llama 3 model for complex tasks."},
	{ID: "code-llama", Name: "Code Llama", MaxTokens: 4096, Description: "Specialized model for coding and technical tasks."},
}

// classifierReply is the JSON document shape the classifier is asked for.
type classifierReply struct {
	Intent       string `json:"intent"`
	Confirmation string `json:"confirmation"`
	Message      string `json:"message"`
}

// LlamaProvider talks to a self-hosted, OpenAI-compatible endpoint such
// as Ollama.
//
// # Description
//
// Self-hosted models often answer in prose. GenerateResponse therefore
// never fails: transport and HTTP failures come back as an "error" intent
// document, and a non-JSON reply is wrapped as an other_intent answer so
// the turn can still parse it.
type LlamaProvider struct {
	endpoint   string
	key        *secret
	httpClient *http.Client
	logger     *slog.Logger
}

// NewLlamaProvider returns a provider for endpoint. apiKey is optional.
func NewLlamaProvider(endpoint, apiKey string, opts ...ClientOption) *LlamaProvider {
	o := buildClientOptions(llamaTimeout, opts)
	endpoint = strings.TrimSuffix(endpoint, "/")
	logger := o.logger.With("provider", ProviderLlama)
	if endpoint != "" && !strings.HasSuffix(endpoint, "/v1") {
		logger.Warn("llama endpoint may be misformatted, expected http://host:port/v1", "endpoint", endpoint)
	}
	return &LlamaProvider{
		endpoint:   endpoint,
		key:        newSecret(apiKey),
		httpClient: o.httpClient,
		logger:     logger,
	}
}

func (l *LlamaProvider) ID() string   { return ProviderLlama }
func (l *LlamaProvider) Name() string { return "Self-hosted Llama" }

// Endpoint returns the configured API root.
func (l *LlamaProvider) Endpoint() string { return l.endpoint }

// withClient runs fn with a client for the endpoint. The key is optional,
// so an empty enclave is not an error here.
func (l *LlamaProvider) withClient(fn func(*openai.Client) error) error {
	build := func(key string) error {
		cfg := openai.DefaultConfig(key)
		cfg.BaseURL = l.endpoint
		cfg.HTTPClient = l.httpClient
		return fn(openai.NewClientWithConfig(cfg))
	}
	if !l.key.set() {
		return build("")
	}
	return l.key.use(build)
}

// ListModels asks the endpoint for its models and falls back to the
// static list when it is unreachable or empty. It never fails.
func (l *LlamaProvider) ListModels(ctx context.Context) ([]Model, error) {
	models := append([]Model(nil), llamaModels...)
	if l.endpoint == "" {
		return models, nil
	}

	ctx, cancel := context.WithTimeout(ctx, llamaModelsTimeout)
	defer cancel()

	var listed []Model
	err := l.withClient(func(c *openai.Client) error {
		resp, err := c.ListModels(ctx)
		if err != nil {
			return err
		}
		for _, m := range resp.Models {
			listed = append(listed, Model{
				ID:          m.ID,
				Name:        m.ID,
				MaxTokens:   4096,
				Description: "Ollama model: " + m.ID,
			})
		}
		return nil
	})
	if err != nil {
		l.logger.Error("fetching llama models failed", "error", err)
		return models, nil
	}
	if len(listed) > 0 {
		l.logger.Info("llama models discovered", "count", len(listed))
		return listed, nil
	}
	return models, nil
}

// GenerateResponse always returns a parseable JSON document; the error
// return is reserved for a cancelled ctx.
func (l *LlamaProvider) GenerateResponse(ctx context.Context, messages []Message, model string, params GenerationParams) (string, error) {
	ctx, span := tracer.Start(ctx, "LlamaProvider.GenerateResponse")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", model))

	if l.endpoint == "" {
		l.logger.Error(msgLlamaNotConfigured)
		return errorReply(msgLlamaNotConfigured), nil
	}

	var content string
	err := l.withClient(func(c *openai.Client) error {
		resp, err := c.CreateChatCompletion(ctx, chatRequest(messages, model, params))
		if err != nil {
			return err
		}
		if len(resp.Choices) == 0 {
			return ErrEmptyResponse
		}
		content = strings.TrimSpace(resp.Choices[0].Message.Content)
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "completion failed")
		l.logger.Error("llama completion failed", "model", model, "error", err)
		if errors.Is(ctx.Err(), context.Canceled) {
			return "", ctx.Err()
		}
		return errorReply(llamaFailure(err)), nil
	}

	if json.Valid([]byte(content)) {
		return content, nil
	}
	return encodeReply(classifierReply{Intent: "other_intent", Confirmation: "confirmed", Message: content}), nil
}

// ValidateCredentials checks that the endpoint answers GET /models.
func (l *LlamaProvider) ValidateCredentials(ctx context.Context) error {
	if l.endpoint == "" {
		return ErrNotConfigured
	}
	ctx, cancel := context.WithTimeout(ctx, llamaValidateTimeout)
	defer cancel()
	return l.withClient(func(c *openai.Client) error {
		if _, err := c.ListModels(ctx); err != nil {
			return fmt.Errorf("list models: %w", err)
		}
		return nil
	})
}

// llamaFailure maps a completion error onto the user-facing reply.
func llamaFailure(err error) string {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == http.StatusNotFound {
			return msgLlamaNoModel
		}
		return fmt.Sprintf("Llama API returned error: %d - %s", apiErr.HTTPStatusCode, apiErr.Message)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		if reqErr.HTTPStatusCode == http.StatusNotFound {
			return msgLlamaNoModel
		}
		detail := reqErr.HTTPStatus
		if reqErr.Err != nil {
			detail = reqErr.Err.Error()
		}
		return fmt.Sprintf("Llama API returned error: %d - %s", reqErr.HTTPStatusCode, detail)
	}
	if errors.Is(err, ErrEmptyResponse) {
		return "Unexpected response format from Llama API: no choices"
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return msgLlamaTimeout
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return msgLlamaUnreachable
	}
	return "Llama API Error: " + err.Error()
}

func errorReply(message string) string {
	return encodeReply(classifierReply{Intent: "error", Confirmation: "needs_clarification", Message: message})
}

func encodeReply(r classifierReply) string {
	b, err := json.Marshal(r)
	if err != nil {
		// three string fields always marshal
		return `{"intent":"error","confirmation":"needs_clarification"}`
	}
	return string(b)
}

var _ Provider = (*LlamaProvider)(nil)
