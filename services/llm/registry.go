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
	"fmt"
	"net/http"
	"sync"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/sync/errgroup"
)

// Provider health states reported by Registry.Status.
const (
	StatusAvailable          = "available"
	StatusInvalidCredentials = "invalid_credentials"
	StatusNotConfigured      = "not_configured"
	StatusEndpointError      = "endpoint_error"
	StatusError              = "error"
)

// Descriptor is the public description of a provider.
type Descriptor struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	Description      string `json:"description"`
	RequiresAPIKey   bool   `json:"requires_api_key"`
	RequiresEndpoint bool   `json:"requires_endpoint,omitempty"`
}

var descriptors = []Descriptor{
	{ID: ProviderOpenAI, Name: "OpenAI", Description: "GPT models from OpenAI (GPT-4o, GPT-4, GPT-3.5)", RequiresAPIKey: true},
	{ID: ProviderAnthropic, Name: "Anthropic", Description: "Claude models from Anthropic (Claude 3, Claude 3.5)", RequiresAPIKey: true},
	{ID: ProviderLlama, Name: "Self-hosted Llama", Description: "Self-hosted Llama models via API endpoint", RequiresEndpoint: true},
}

var defaultModels = map[string]string{
	ProviderOpenAI:    "gpt-4o",
	ProviderAnthropic: "claude-3-sonnet-20240229",
	ProviderLlama:     "llama3",
}

// ProviderStatus is one entry of Registry.Status.
type ProviderStatus struct {
	Status        string   `json:"status"`
	APIConfigured bool     `json:"api_configured,omitempty"`
	Endpoint      string   `json:"endpoint,omitempty"`
	Models        []string `json:"models,omitempty"`
	Message       string   `json:"message,omitempty"`
}

// RegistryConfig carries the provider credentials.
type RegistryConfig struct {
	OpenAIAPIKey    string
	AnthropicAPIKey string
	LlamaEndpoint   string
	LlamaAPIKey     string
}

// Registry builds providers on first use and caches them.
//
// # Thread Safety
//
// Safe for concurrent use.
type Registry struct {
	mu        sync.Mutex
	cfg       RegistryConfig
	opts      []ClientOption
	providers map[string]Provider
}

// NewRegistry returns a registry for cfg. opts are passed to every
// provider it builds.
func NewRegistry(cfg RegistryConfig, opts ...ClientOption) *Registry {
	return &Registry{
		cfg:       cfg,
		opts:      opts,
		providers: make(map[string]Provider),
	}
}

// Register installs p under its id, replacing any cached instance.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.ID()] = p
}

// Available lists the providers the service knows about.
func (r *Registry) Available() []Descriptor {
	return append([]Descriptor(nil), descriptors...)
}

// DefaultModel returns the model used when a session has not chosen one.
func DefaultModel(providerID string) string {
	return defaultModels[providerID]
}

// Get returns the provider for id.
func (r *Registry) Get(id string) (Provider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.providers[id]; ok {
		return p, nil
	}

	var p Provider
	switch id {
	case ProviderOpenAI:
		p = NewOpenAIProvider(r.cfg.OpenAIAPIKey, r.opts...)
	case ProviderAnthropic:
		p = NewAnthropicProvider(r.cfg.AnthropicAPIKey, r.opts...)
	case ProviderLlama:
		p = NewLlamaProvider(r.cfg.LlamaEndpoint, r.cfg.LlamaAPIKey, r.opts...)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, id)
	}
	r.providers[id] = p
	return p, nil
}

// Models lists the models of provider id.
func (r *Registry) Models(ctx context.Context, id string) ([]Model, error) {
	p, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	return p.ListModels(ctx)
}

// Status checks every provider concurrently.
func (r *Registry) Status(ctx context.Context) map[string]ProviderStatus {
	ids := []string{ProviderOpenAI, ProviderAnthropic, ProviderLlama}
	results := make([]ProviderStatus, len(ids))

	var g errgroup.Group
	for i, id := range ids {
		g.Go(func() error {
			results[i] = r.status(ctx, id)
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[string]ProviderStatus, len(ids))
	for i, id := range ids {
		out[id] = results[i]
	}
	return out
}

func (r *Registry) status(ctx context.Context, id string) ProviderStatus {
	p, err := r.Get(id)
	if err != nil {
		return ProviderStatus{Status: StatusError, Message: err.Error()}
	}

	err = p.ValidateCredentials(ctx)
	if errors.Is(err, ErrNotConfigured) {
		return ProviderStatus{Status: StatusNotConfigured}
	}

	if id == ProviderLlama {
		if err != nil {
			return ProviderStatus{Status: StatusEndpointError, Message: "Endpoint validation failed"}
		}
		st := ProviderStatus{Status: StatusAvailable, Endpoint: r.cfg.LlamaEndpoint}
		models, _ := p.ListModels(ctx)
		for _, m := range models {
			st.Models = append(st.Models, m.ID)
		}
		return st
	}

	switch {
	case err == nil:
		return ProviderStatus{Status: StatusAvailable, APIConfigured: true}
	case rejectedCredentials(err):
		return ProviderStatus{Status: StatusInvalidCredentials, APIConfigured: true}
	default:
		return ProviderStatus{Status: StatusError, APIConfigured: true, Message: err.Error()}
	}
}

// rejectedCredentials reports whether err is an authentication refusal.
func rejectedCredentials(err error) bool {
	code := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	var statusErr *HTTPStatusError
	switch {
	case errors.As(err, &apiErr):
		code = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		code = reqErr.HTTPStatusCode
	case errors.As(err, &statusErr):
		code = statusErr.Code
	}
	return code == http.StatusUnauthorized || code == http.StatusForbidden
}
