// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package turn runs one chat turn end to end: quota check, classification,
// metering, normalization and dispatch.
package turn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/mlflow-assistant/pkg/telemetry"
	"github.com/AleutianAI/mlflow-assistant/services/llm"
	"github.com/AleutianAI/mlflow-assistant/services/orchestrator/intent"
	"github.com/AleutianAI/mlflow-assistant/services/orchestrator/quota"
	"github.com/AleutianAI/mlflow-assistant/services/orchestrator/session"
	"github.com/AleutianAI/mlflow-assistant/services/orchestrator/usage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("assistant.turn")

// contactHint follows every quota refusal.
const contactHint = "Please contact hey@prodizyplatform.in to request a new invitation code."

// Cached-intent keys a client may use to pick the classifier.
const (
	CachedProviderKey = "llm_provider_id"
	CachedModelKey    = "llm_model_id"
)

// Request is one inbound chat message.
type Request struct {
	SessionID      string
	Query          string
	InvitationCode string

	// CachedIntent may carry llm_provider_id and llm_model_id; the session
	// scratchpad takes precedence.
	CachedIntent map[string]any
}

// Providers resolves a provider id to a classifier backend.
type Providers interface {
	Get(id string) (llm.Provider, error)
}

// Dispatcher executes a normalized request.
type Dispatcher interface {
	Dispatch(ctx context.Context, sessionID string, req intent.Request) intent.Outcome
}

// Sessions is the per-session memory the pipeline reads and writes.
type Sessions interface {
	Append(id string, msg session.Message)
	History(id string) []session.Message
	GetString(id, key string) string
	Set(id, key string, value any)
	SetMany(id string, values map[string]any)
	Len() int
}

// Metrics receives pipeline measurements.
type Metrics interface {
	RecordTurn(intent, confirmation string)
	RecordQuotaRejection(reason string)
	RecordQuotaConsumed()
	ObserveClassifier(provider string, d time.Duration, err error)
	SetSessions(n int)
}

type nopMetrics struct{}

func (nopMetrics) RecordTurn(string, string) {}
func (nopMetrics) RecordQuotaRejection(string) {}
func (nopMetrics) RecordQuotaConsumed() {}
func (nopMetrics) ObserveClassifier(string, time.Duration, error) {}
func (nopMetrics) SetSessions(int) {}

// Pipeline runs turns.
//
// # Thread Safety
//
// Safe for concurrent use. Turns for different sessions never share a
// lock; turns for one session are expected to be serialized by the caller.
type Pipeline struct {
	quota      quota.Store
	sessions   Sessions
	providers  Providers
	dispatcher Dispatcher

	defaultProvider string
	defaultModel    string
	timeout         time.Duration

	metrics Metrics
	usage   usage.Sink
	now     func() time.Time
	logger  *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithDefaults sets the classifier used when neither the session nor the
// request names one. Default: openai / gpt-4o.
func WithDefaults(provider, model string) Option {
	return func(p *Pipeline) {
		if provider != "" {
			p.defaultProvider = provider
		}
		if model != "" {
			p.defaultModel = model
		}
	}
}

// WithClassifierTimeout bounds the classifier call. Zero leaves it to the
// provider's own client timeout.
func WithClassifierTimeout(d time.Duration) Option {
	return func(p *Pipeline) { p.timeout = d }
}

func WithMetrics(m Metrics) Option {
	return func(p *Pipeline) {
		if m != nil {
			p.metrics = m
		}
	}
}

// WithUsage sets the sink turn events are written to.
func WithUsage(s usage.Sink) Option {
	return func(p *Pipeline) {
		if s != nil {
			p.usage = s
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// New assembles a pipeline.
//
// # Inputs
//
//   - q: the invitation quota store.
//   - sessions: per-session transcript and scratchpad.
//   - providers: classifier backends by id.
//   - dispatcher: executes normalized intents.
func New(q quota.Store, sessions Sessions, providers Providers, dispatcher Dispatcher, opts ...Option) *Pipeline {
	p := &Pipeline{
		quota:           q,
		sessions:        sessions,
		providers:       providers,
		dispatcher:      dispatcher,
		defaultProvider: llm.ProviderOpenAI,
		defaultModel:    llm.DefaultModel(llm.ProviderOpenAI),
		metrics:         nopMetrics{},
		usage:           usage.NopSink{},
		now:             time.Now,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// turnState is what a turn learns along the way, for logs and usage.
type turnState struct {
	start     time.Time
	provider  string
	model     string
	remaining int
}

// Handle runs one turn. It never fails: every problem becomes an outcome
// with confirmation needs_clarification.
//
// # Description
//
// The invitation code is checked first; a refused code costs nothing and
// the classifier is not called. Otherwise the user message joins the
// transcript, the classifier sees the system prompt plus the transcript,
// and one request is charged once the classifier has been called, whether
// or not its answer turns out to be usable.
func (p *Pipeline) Handle(ctx context.Context, req Request) (out intent.Outcome) {
	ctx, span := tracer.Start(ctx, "turn.Handle")
	defer span.End()
	span.SetAttributes(attribute.String("session_id", req.SessionID))

	st := turnState{start: p.now()}
	logger := telemetry.LoggerWithTrace(ctx, p.logger).With("session_id", req.SessionID, "code", quota.Redact(req.InvitationCode))

	defer func() {
		span.SetAttributes(
			attribute.String("intent", string(out.Intent)),
			attribute.String("confirmation", string(out.Confirmation)),
		)
		p.metrics.RecordTurn(string(out.Intent), string(out.Confirmation))
		p.metrics.SetSessions(p.sessions.Len())
		p.usage.Record(ctx, usage.Event{
			SessionID:    req.SessionID,
			Code:         req.InvitationCode,
			Intent:       string(out.Intent),
			Confirmation: string(out.Confirmation),
			Provider:     st.provider,
			Model:        st.model,
			Remaining:    st.remaining,
			Duration:     p.now().Sub(st.start),
			At:           st.start,
		})
		logger.Info("turn completed",
			"intent", out.Intent,
			"confirmation", out.Confirmation,
			"provider", st.provider,
			"model", st.model,
			"remaining", st.remaining)
	}()

	v, err := p.quota.Validate(ctx, req.InvitationCode, req.SessionID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "quota validation failed")
		logger.Error("quota validation failed", "error", err)
		p.metrics.RecordQuotaRejection("store_error")
		return refusal("Unable to verify the invitation code right now.")
	}
	if !v.Valid {
		p.metrics.RecordQuotaRejection(reasonLabel(v.Reason))
		logger.Info("invitation refused", "reason", v.Reason)
		return refusal(v.Message)
	}
	st.remaining = v.Remaining

	p.sessions.Append(req.SessionID, session.Message{Role: session.RoleUser, Content: req.Query})
	messages := p.transcript(req.SessionID)

	st.provider, st.model = p.selectModel(req)
	p.sessions.SetMany(req.SessionID, map[string]any{
		session.KeyLLMProviderID:     st.provider,
		session.KeyLLMModelID:        st.model,
		session.KeyRemainingRequests: v.Remaining,
		session.KeyMaxRequests:       v.Max,
		session.KeyInvitationCode:    req.InvitationCode,
	})

	raw, err := p.classify(ctx, st.provider, st.model, messages)
	if err != nil {
		span.RecordError(err)
		logger.Warn("classifier call failed", "provider", st.provider, "model", st.model, "error", err)
		// the attempt is the metered resource
		st.remaining, _ = p.charge(ctx, req, v, logger)
		return intent.Clarify(intent.Error, "Error accessing LLM: "+err.Error(), nil)
	}

	p.sessions.Append(req.SessionID, session.Message{Role: session.RoleAssistant, Content: raw})

	remaining, refused := p.charge(ctx, req, v, logger)
	if refused {
		return refusal(quota.MsgExhausted)
	}
	st.remaining = remaining

	parsed, err := intent.Parse(raw)
	if err != nil {
		logger.Debug("classifier output is not JSON", "error", err)
		return intent.Clarify(intent.Unknown, "Failed to parse JSON: "+raw, nil)
	}
	return p.dispatcher.Dispatch(ctx, req.SessionID, intent.Normalize(parsed))
}

// transcript is the system prompt followed by the session history.
func (p *Pipeline) transcript(sessionID string) []llm.Message {
	history := p.sessions.History(sessionID)
	messages := make([]llm.Message, 0, len(history)+1)
	messages = append(messages, llm.Message{Role: session.RoleSystem, Content: intent.SystemPrompt})
	for _, m := range history {
		messages = append(messages, llm.Message{Role: m.Role, Content: m.Content})
	}
	return messages
}

// selectModel picks the classifier: session scratchpad first, then the
// request's cached intent, then the configured defaults.
func (p *Pipeline) selectModel(req Request) (provider, model string) {
	provider = p.sessions.GetString(req.SessionID, session.KeyLLMProviderID)
	if provider == "" {
		provider = cachedString(req.CachedIntent, CachedProviderKey)
	}
	if provider == "" {
		provider = p.defaultProvider
	}

	model = p.sessions.GetString(req.SessionID, session.KeyLLMModelID)
	if model == "" {
		model = cachedString(req.CachedIntent, CachedModelKey)
	}
	if model == "" {
		model = p.defaultModel
		if provider != p.defaultProvider {
			if m := llm.DefaultModel(provider); m != "" {
				model = m
			}
		}
	}
	return provider, model
}

func (p *Pipeline) classify(ctx context.Context, providerID, model string, messages []llm.Message) (string, error) {
	ctx, span := tracer.Start(ctx, "turn.classify")
	defer span.End()
	span.SetAttributes(attribute.String("llm.provider", providerID), attribute.String("llm.model", model))

	provider, err := p.providers.Get(providerID)
	if err != nil {
		p.metrics.ObserveClassifier(providerID, 0, err)
		return "", err
	}

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	start := p.now()
	raw, err := provider.GenerateResponse(ctx, messages, model, llm.GenerationParams{Temperature: llm.Float32(0)})
	p.metrics.ObserveClassifier(providerID, p.now().Sub(start), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "classifier failed")
		return "", err
	}
	return raw, nil
}

// charge consumes one request. refused is true only when a new session
// lost the race for the last slot. The classifier call has already been
// made, so the charge survives cancellation of ctx.
func (p *Pipeline) charge(ctx context.Context, req Request, v quota.Validation, logger *slog.Logger) (remaining int, refused bool) {
	remaining, ok, err := p.quota.Consume(context.WithoutCancel(ctx), req.InvitationCode, req.SessionID)
	switch {
	case errors.Is(err, quota.ErrQuotaExhausted):
		p.metrics.RecordQuotaRejection(reasonLabel(err))
		logger.Info("quota exhausted while the turn was in flight")
		return 0, true
	case err != nil:
		logger.Error("quota consume failed", "error", err)
		return v.Remaining, false
	case !ok:
		logger.Warn("invitation code vanished before it could be charged")
		return v.Remaining, false
	}
	p.metrics.RecordQuotaConsumed()
	p.sessions.Set(req.SessionID, session.KeyRemainingRequests, remaining)
	return remaining, false
}

// refusal is the outcome for a turn stopped at the quota check.
func refusal(message string) intent.Outcome {
	return intent.Clarify(intent.Error, fmt.Sprintf("Invitation code error: %s %s", message, contactHint), nil)
}

func reasonLabel(reason error) string {
	switch {
	case errors.Is(reason, quota.ErrDeactivatedToken):
		return "deactivated"
	case errors.Is(reason, quota.ErrExpiredToken):
		return "expired"
	case errors.Is(reason, quota.ErrQuotaExhausted):
		return "exhausted"
	default:
		return "invalid"
	}
}

func cachedString(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}
