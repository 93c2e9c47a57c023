// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm holds the chat-completion backends used to classify user
// requests: hosted OpenAI and Anthropic models and a self-hosted,
// OpenAI-compatible Llama endpoint.
package llm

import (
	"context"
	"errors"
)

// Provider ids.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderLlama     = "llama"
)

var (
	// ErrNotConfigured is returned when a provider has no key or endpoint.
	ErrNotConfigured = errors.New("provider not configured")

	// ErrUnknownProvider is returned by the registry for unrecognized ids.
	ErrUnknownProvider = errors.New("unknown provider")

	// ErrEmptyResponse is returned when a completion carries no text.
	ErrEmptyResponse = errors.New("provider returned no content")
)

// Message is one chat message sent to a provider.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// Model describes one model a provider can serve.
type Model struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	MaxTokens   int    `json:"max_tokens"`
	Description string `json:"description"`
}

// Provider is a chat-completion backend.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Provider interface {
	ID() string
	Name() string

	// ListModels returns the models offered by the provider. It may fall
	// back to a static list when the backend cannot be reached.
	ListModels(ctx context.Context) ([]Model, error)

	// GenerateResponse sends messages to model and returns the reply text.
	GenerateResponse(ctx context.Context, messages []Message, model string, params GenerationParams) (string, error)

	// ValidateCredentials returns nil when the configured key or endpoint
	// is accepted by the backend.
	ValidateCredentials(ctx context.Context) error
}

// Float32 returns a pointer to v, for GenerationParams literals.
func Float32(v float32) *float32 { return &v }
