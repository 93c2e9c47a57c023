// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package turn

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/AleutianAI/mlflow-assistant/services/llm"
	"github.com/AleutianAI/mlflow-assistant/services/orchestrator/intent"
	"github.com/AleutianAI/mlflow-assistant/services/orchestrator/quota"
	"github.com/AleutianAI/mlflow-assistant/services/orchestrator/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Fakes
// =============================================================================

type fakeProvider struct {
	id       string
	reply    string
	err      error
	calls    int
	model    string
	messages []llm.Message
	params   llm.GenerationParams
	during   func()
}

func (f *fakeProvider) ID() string { return f.id }
func (f *fakeProvider) Name() string { return f.id }

func (f *fakeProvider) ListModels(context.Context) ([]llm.Model, error) { return nil, nil }

func (f *fakeProvider) GenerateResponse(_ context.Context, messages []llm.Message, model string, params llm.GenerationParams) (string, error) {
	f.calls++
	f.model = model
	f.messages = messages
	f.params = params
	if f.during != nil {
		f.during()
	}
	return f.reply, f.err
}

func (f *fakeProvider) ValidateCredentials(context.Context) error { return nil }

type fakeProviders map[string]*fakeProvider

func (f fakeProviders) Get(id string) (llm.Provider, error) {
	p, ok := f[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", llm.ErrUnknownProvider, id)
	}
	return p, nil
}

type recordingDispatcher struct {
	got []intent.Request
}

func (d *recordingDispatcher) Dispatch(_ context.Context, _ string, req intent.Request) intent.Outcome {
	d.got = append(d.got, req)
	return intent.Outcome{Intent: req.Intent, Confirmation: intent.Confirmed, Message: "dispatched", Entities: req.Entities}
}

type countingMetrics struct {
	turns      map[string]int
	rejections map[string]int
	consumed   int
	classified int
	failures   int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{turns: map[string]int{}, rejections: map[string]int{}}
}

func (m *countingMetrics) RecordTurn(in, conf string) { m.turns[in+"/"+conf]++ }
func (m *countingMetrics) RecordQuotaRejection(r string) { m.rejections[r]++ }
func (m *countingMetrics) RecordQuotaConsumed() { m.consumed++ }
func (m *countingMetrics) SetSessions(int) {}
func (m *countingMetrics) ObserveClassifier(_ string, _ time.Duration, err error) {
	m.classified++
	if err != nil {
		m.failures++
	}
}

type fixture struct {
	quota      *quota.MemoryStore
	sessions   *session.Store
	openai     *fakeProvider
	anthropic  *fakeProvider
	dispatcher *recordingDispatcher
	metrics    *countingMetrics
	pipeline   *Pipeline
	now        time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	f := &fixture{
		quota:      quota.NewMemoryStore(quota.WithClock(func() time.Time { return now })),
		sessions:   session.NewStore(),
		openai:     &fakeProvider{id: llm.ProviderOpenAI},
		anthropic:  &fakeProvider{id: llm.ProviderAnthropic},
		dispatcher: &recordingDispatcher{},
		metrics:    newCountingMetrics(),
		now:        now,
	}
	providers := fakeProviders{llm.ProviderOpenAI: f.openai, llm.ProviderAnthropic: f.anthropic}
	f.pipeline = New(f.quota, f.sessions, providers, f.dispatcher, WithMetrics(f.metrics))
	return f
}

func (f *fixture) token(t *testing.T, remaining, maxRequests int) string {
	t.Helper()
	tok := quota.Token{
		Code:              fmt.Sprintf("c%07d", remaining*100+maxRequests),
		CreatedAt:         f.now.Add(-time.Minute),
		ExpiresAt:         f.now.Add(time.Hour),
		MaxRequests:       maxRequests,
		RemainingRequests: remaining,
		Active:            true,
		UsedBySessions:    []string{},
	}
	f.quota.Put(tok)
	return tok.Code
}

func (f *fixture) remaining(t *testing.T, code string) int {
	t.Helper()
	tok, err := f.quota.Get(context.Background(), code)
	require.NoError(t, err)
	return tok.RemainingRequests
}

// =============================================================================
// Tests
// =============================================================================

func TestHandle_InvalidCodeSkipsClassifier(t *testing.T) {
	f := newFixture(t)

	out := f.pipeline.Handle(context.Background(), Request{SessionID: "s1", Query: "list experiments", InvitationCode: "nope"})

	assert.Equal(t, intent.Error, out.Intent)
	assert.Equal(t, intent.NeedsClarification, out.Confirmation)
	assert.Equal(t, "Invitation code error: Invalid invitation code. Please contact hey@prodizyplatform.in to request a new invitation code.", out.Message)
	assert.Zero(t, f.openai.calls)
	assert.Empty(t, f.dispatcher.got)
	assert.Empty(t, f.sessions.History("s1"))
	assert.Equal(t, 1, f.metrics.rejections["invalid"])
}

func TestHandle_ExpiredCode(t *testing.T) {
	f := newFixture(t)
	code := f.token(t, 5, 5)
	tok, err := f.quota.Get(context.Background(), code)
	require.NoError(t, err)
	tok.ExpiresAt = f.now.Add(-time.Second)
	f.quota.Put(tok)

	out := f.pipeline.Handle(context.Background(), Request{SessionID: "s1", Query: "hi", InvitationCode: code})

	assert.Contains(t, out.Message, quota.MsgExpired)
	assert.Zero(t, f.openai.calls)
	assert.Equal(t, 5, f.remaining(t, code))
	assert.Equal(t, 1, f.metrics.rejections["expired"])
}

func TestHandle_ClassifiesChargesAndDispatches(t *testing.T) {
	f := newFixture(t)
	code := f.token(t, 3, 3)
	f.openai.reply = `{"intent":"add_metric","entities":{"key":"accuracy","value":0.9},"confirmation":"confirmed","message":"ok"}`

	out := f.pipeline.Handle(context.Background(), Request{SessionID: "s1", Query: "add metric accuracy 0.9", InvitationCode: code})

	assert.Equal(t, "dispatched", out.Message)
	require.Len(t, f.dispatcher.got, 1)
	got := f.dispatcher.got[0]
	assert.Equal(t, intent.LogMetric, got.Intent)
	assert.Equal(t, "accuracy", got.Entities.String(intent.KeyMetricKey))

	// classifier saw the system prompt and the transcript at temperature 0
	require.Len(t, f.openai.messages, 2)
	assert.Equal(t, session.RoleSystem, f.openai.messages[0].Role)
	assert.Equal(t, intent.SystemPrompt, f.openai.messages[0].Content)
	assert.Equal(t, "add metric accuracy 0.9", f.openai.messages[1].Content)
	require.NotNil(t, f.openai.params.Temperature)
	assert.Zero(t, *f.openai.params.Temperature)
	assert.Equal(t, "gpt-4o", f.openai.model)

	assert.Equal(t, 2, f.remaining(t, code))
	snap := f.sessions.Snapshot("s1")
	assert.Equal(t, 2, snap[session.KeyRemainingRequests])
	assert.Equal(t, 3, snap[session.KeyMaxRequests])
	assert.Equal(t, code, snap[session.KeyInvitationCode])
	assert.Equal(t, llm.ProviderOpenAI, snap[session.KeyLLMProviderID])

	history := f.sessions.History("s1")
	require.Len(t, history, 2)
	assert.Equal(t, session.RoleAssistant, history[1].Role)
	assert.Equal(t, f.openai.reply, history[1].Content)

	assert.Equal(t, 1, f.metrics.consumed)
	assert.Equal(t, 1, f.metrics.turns["log_metric/confirmed"])
}

func TestHandle_ClassifierFailureStillCharges(t *testing.T) {
	f := newFixture(t)
	code := f.token(t, 3, 3)
	f.openai.err = errors.New("rate limited")

	out := f.pipeline.Handle(context.Background(), Request{SessionID: "s1", Query: "hi", InvitationCode: code})

	assert.Equal(t, intent.Error, out.Intent)
	assert.Equal(t, intent.NeedsClarification, out.Confirmation)
	assert.Equal(t, "Error accessing LLM: rate limited", out.Message)
	assert.Equal(t, 2, f.remaining(t, code))
	assert.Empty(t, f.dispatcher.got)
	assert.Len(t, f.sessions.History("s1"), 1, "no assistant message without a reply")
	assert.Equal(t, 1, f.metrics.failures)
}

func TestHandle_CanceledDuringClassificationStillCharges(t *testing.T) {
	f := newFixture(t)
	code := f.token(t, 3, 3)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.openai.during = cancel
	f.openai.err = context.Canceled

	out := f.pipeline.Handle(ctx, Request{SessionID: "s1", Query: "hi", InvitationCode: code})

	assert.Equal(t, intent.Error, out.Intent)
	assert.Equal(t, 1, f.openai.calls)
	assert.Equal(t, 2, f.remaining(t, code))
	assert.Equal(t, 1, f.metrics.consumed)
}

func TestHandle_CanceledAfterClassificationStillCharges(t *testing.T) {
	f := newFixture(t)
	code := f.token(t, 3, 3)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.openai.during = cancel
	f.openai.reply = `{"intent":"list_experiments","confirmation":"confirmed","entities":{}}`

	f.pipeline.Handle(ctx, Request{SessionID: "s1", Query: "list experiments", InvitationCode: code})

	assert.Equal(t, 2, f.remaining(t, code))
	assert.Equal(t, 1, f.metrics.consumed)
}

func TestHandle_UnparseableReplyIsCharged(t *testing.T) {
	f := newFixture(t)
	code := f.token(t, 3, 3)
	f.openai.reply = "I am not JSON"

	out := f.pipeline.Handle(context.Background(), Request{SessionID: "s1", Query: "hi", InvitationCode: code})

	assert.Equal(t, intent.Unknown, out.Intent)
	assert.Equal(t, intent.NeedsClarification, out.Confirmation)
	assert.Equal(t, "Failed to parse JSON: I am not JSON", out.Message)
	assert.Equal(t, 2, f.remaining(t, code))
	assert.Empty(t, f.dispatcher.got)
}

func TestHandle_UnknownIntentIsNormalized(t *testing.T) {
	f := newFixture(t)
	code := f.token(t, 3, 3)
	f.openai.reply = `{"intent":"launch_rocket","confirmation":"confirmed","entities":{}}`

	f.pipeline.Handle(context.Background(), Request{SessionID: "s1", Query: "launch", InvitationCode: code})

	require.Len(t, f.dispatcher.got, 1)
	assert.Equal(t, intent.Unknown, f.dispatcher.got[0].Intent)
	assert.Equal(t, intent.NeedsClarification, f.dispatcher.got[0].Confirmation)
}

func TestHandle_ProviderSelection(t *testing.T) {
	f := newFixture(t)
	code := f.token(t, 5, 5)
	f.anthropic.reply = `{"intent":"other_intent","confirmation":"confirmed","message":"hello"}`
	f.openai.reply = f.anthropic.reply

	f.pipeline.Handle(context.Background(), Request{
		SessionID: "s1", Query: "hi", InvitationCode: code,
		CachedIntent: map[string]any{CachedProviderKey: llm.ProviderAnthropic},
	})
	assert.Equal(t, 1, f.anthropic.calls)
	assert.Equal(t, "claude-3-sonnet-20240229", f.anthropic.model)

	// the session's choice now outranks the request
	f.pipeline.Handle(context.Background(), Request{
		SessionID: "s1", Query: "again", InvitationCode: code,
		CachedIntent: map[string]any{CachedProviderKey: llm.ProviderOpenAI, CachedModelKey: "gpt-3.5-turbo"},
	})
	assert.Equal(t, 2, f.anthropic.calls)
	assert.Zero(t, f.openai.calls)
}

func TestHandle_UnknownProvider(t *testing.T) {
	f := newFixture(t)
	code := f.token(t, 5, 5)
	f.sessions.Set("s1", session.KeyLLMProviderID, "cohere")

	out := f.pipeline.Handle(context.Background(), Request{SessionID: "s1", Query: "hi", InvitationCode: code})

	assert.Equal(t, intent.Error, out.Intent)
	assert.Equal(t, "Error accessing LLM: unknown provider: cohere", out.Message)
}

func TestHandle_LastSlotTakenDuringClassification(t *testing.T) {
	f := newFixture(t)
	code := f.token(t, 1, 1)
	f.openai.reply = `{"intent":"list_experiments","confirmation":"confirmed","entities":{}}`
	f.openai.during = func() {
		// another new session claims the only slot while this turn waits
		_, ok, err := f.quota.Consume(context.Background(), code, "other")
		require.NoError(t, err)
		require.True(t, ok)
	}

	out := f.pipeline.Handle(context.Background(), Request{SessionID: "s1", Query: "list", InvitationCode: code})

	assert.Equal(t, intent.Error, out.Intent)
	assert.Contains(t, out.Message, quota.MsgExhausted)
	assert.Empty(t, f.dispatcher.got)
	assert.Zero(t, f.remaining(t, code))

	tok, err := f.quota.Get(context.Background(), code)
	require.NoError(t, err)
	assert.Equal(t, []string{"other"}, tok.UsedBySessions)
}

func TestHandle_AdmittedSessionContinuesAtZero(t *testing.T) {
	f := newFixture(t)
	code := f.token(t, 1, 1)
	f.openai.reply = `{"intent":"other_intent","confirmation":"confirmed","message":"hi"}`

	first := f.pipeline.Handle(context.Background(), Request{SessionID: "s1", Query: "hi", InvitationCode: code})
	require.Equal(t, intent.Other, first.Intent)
	require.Zero(t, f.remaining(t, code))

	second := f.pipeline.Handle(context.Background(), Request{SessionID: "s1", Query: "still there?", InvitationCode: code})
	assert.Equal(t, intent.Other, second.Intent)

	third := f.pipeline.Handle(context.Background(), Request{SessionID: "s2", Query: "hi", InvitationCode: code})
	assert.Equal(t, intent.Error, third.Intent)
	assert.Contains(t, third.Message, quota.MsgExhausted)
}
