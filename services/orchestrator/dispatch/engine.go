// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package dispatch executes normalized intents against the tracking server.
//
// Each intent maps to one Handler. A handler either runs its tracking calls
// and reports the result, or asks the user for what is missing. Handlers
// never return errors: every failure becomes a needs_clarification outcome.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/mlflow-assistant/services/orchestrator/intent"
	"github.com/AleutianAI/mlflow-assistant/services/orchestrator/resolver"
	"github.com/AleutianAI/mlflow-assistant/services/orchestrator/tracking"
)

var tracer = otel.Tracer("assistant.dispatch")

// Display caps.
const (
	ListCap         = 20
	ArtifactRunCap  = 10
	SuggestionCount = 5

	// informationalMinLen separates a real answer from a placeholder when
	// get_model_versions arrives without a model name.
	informationalMinLen = 20
)

// Tracker is the subset of the tracking client the handlers call.
type Tracker interface {
	CreateExperiment(ctx context.Context, name string) (string, error)
	CreateExperiments(ctx context.Context, names []string) []tracking.CreatedExperiment
	DeleteExperiment(ctx context.Context, id string) error
	GetExperiment(ctx context.Context, id string) (tracking.Experiment, error)
	ListExperiments(ctx context.Context) ([]tracking.Experiment, error)

	CreateRun(ctx context.Context, experimentID, runName string) (string, error)
	CreateRuns(ctx context.Context, experimentID string, names []string) []tracking.CreatedRun
	DeleteRun(ctx context.Context, runID string) error
	GetRun(ctx context.Context, runID string) (tracking.Run, error)
	SearchRuns(ctx context.Context, experimentIDs ...string) ([]tracking.Run, error)
	LogParam(ctx context.Context, runID, key, value string) error
	LogMetric(ctx context.Context, runID, key string, value float64, step int64) error

	ListRegisteredModels(ctx context.Context) ([]tracking.RegisteredModel, error)
	RecentlyUpdatedModels(ctx context.Context, limit int) ([]tracking.RegisteredModel, error)
	SearchModelVersions(ctx context.Context, modelName string) ([]tracking.ModelVersion, error)
	ModelVersions(ctx context.Context, names []string) map[string][]tracking.ModelVersion
	GetModelDetails(ctx context.Context, modelName, version string) (tracking.ModelVersion, error)

	Summary(ctx context.Context) (tracking.Summary, error)
	RunsWithModels(ctx context.Context, experimentID string) ([]tracking.RunWithModels, error)
	RecentlyUsedModels(ctx context.Context, limit int) ([]tracking.ModelUsage, error)
}

// Memory is the session scratchpad the handlers read and update.
type Memory interface {
	resolver.RunMemory
	Set(sessionID, key string, value any)
}

// Call is one confirmed intent on its way to a handler.
type Call struct {
	SessionID string
	Request   intent.Request
}

// Entities returns the normalized entity bag.
func (c *Call) Entities() intent.Entities { return c.Request.Entities }

// Done returns a confirmed outcome carrying msg.
func (c *Call) Done(msg string) intent.Outcome {
	return intent.Outcome{
		Intent:       c.Request.Intent,
		Confirmation: intent.Confirmed,
		Message:      msg,
		Entities:     c.Request.Entities,
	}
}

// Clarify returns a needs_clarification outcome carrying msg.
func (c *Call) Clarify(msg string) intent.Outcome {
	return intent.Clarify(c.Request.Intent, msg, c.Request.Entities)
}

// Handler executes one intent.
type Handler func(ctx context.Context, c *Call) intent.Outcome

// Engine routes intents to handlers.
//
// # Thread Safety
//
// Safe for concurrent use after New returns. The handler table is never
// modified afterwards.
type Engine struct {
	tracker  Tracker
	resolver *resolver.Resolver
	memory   Memory
	handlers map[intent.Intent]Handler
	loc      *time.Location
	logger   *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLocation sets the zone timestamps are rendered in. Default: time.Local.
func WithLocation(loc *time.Location) Option {
	return func(e *Engine) {
		if loc != nil {
			e.loc = loc
		}
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// New wires the handler table.
func New(tracker Tracker, res *resolver.Resolver, memory Memory, opts ...Option) *Engine {
	e := &Engine{
		tracker:  tracker,
		resolver: res,
		memory:   memory,
		loc:      time.Local,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.handlers = map[intent.Intent]Handler{
		intent.CreateExperiment:            e.createExperiment,
		intent.CreateExperimentAndStartRun: e.createExperimentAndStartRun,
		intent.CreateRun:                   e.createRun,
		intent.DeleteExperiment:            e.deleteExperiment,
		intent.DeleteRun:                   e.deleteRun,
		intent.LogParam:                    e.logParam,
		intent.LogMetric:                   e.logMetric,
		intent.ListExperiments:             e.listExperiments,
		intent.ListRuns:                    e.listRuns,
		intent.GetExperimentDetails:        e.experimentDetails,
		intent.GetMLflowSummary:            e.summary,
		intent.GetModelVersions:            e.modelVersions,
		intent.GetModelDetails:             e.modelDetails,
		intent.GetRecentModels:             e.recentModels,
		intent.BatchCreateExperiments:      e.batchCreateExperiments,
		intent.GetModelsWithArtifacts:      e.modelsWithArtifacts,
		intent.GetRecentlyUsedModels:       e.recentlyUsedModels,
		intent.GetRegisteredModels:         e.registeredModels,
		intent.BatchCreateRuns:             e.batchCreateRuns,
	}
	return e
}

// Handles reports whether in has a handler.
func (e *Engine) Handles(in intent.Intent) bool {
	_, ok := e.handlers[in]
	return ok
}

// Dispatch runs one normalized request.
//
// # Description
//
// Only confirmed requests with a handler execute. other_intent and
// unconfirmed requests echo the classifier's own answer. unknown is always
// a clarification. A panicking handler is recovered into a clarification.
//
// # Inputs
//
//   - sessionID: owner of the scratchpad read for anaphora and updated
//     after creates.
//   - req: output of intent.Normalize.
func (e *Engine) Dispatch(ctx context.Context, sessionID string, req intent.Request) (out intent.Outcome) {
	ctx, span := tracer.Start(ctx, "Engine.Dispatch")
	defer span.End()
	span.SetAttributes(
		attribute.String("intent", string(req.Intent)),
		attribute.String("confirmation", string(req.Confirmation)),
	)
	defer func() {
		span.SetAttributes(attribute.String("outcome.confirmation", string(out.Confirmation)))
	}()

	if req.Entities == nil {
		req.Entities = intent.Entities{}
	}

	if req.Intent == intent.Unknown {
		msg := req.Message
		if msg == "" {
			msg = "I couldn't tell what you would like to do. Could you rephrase the request?"
		}
		return intent.Clarify(intent.Unknown, msg, req.Entities)
	}

	handler, ok := e.handlers[req.Intent]
	if req.Confirmation != intent.Confirmed || !ok {
		return req.Outcome()
	}

	call := &Call{SessionID: sessionID, Request: req}
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("handler panic: %v", r)
			span.RecordError(err)
			span.SetStatus(codes.Error, "handler panic")
			e.logger.Error("intent handler panicked",
				slog.String("intent", string(req.Intent)),
				slog.String("session_id", sessionID),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
			out = call.Clarify("❌ Something went wrong while handling that request. Please try again.")
		}
	}()
	return handler(ctx, call)
}

// remember writes a scratchpad slot when memory is wired.
func (e *Engine) remember(sessionID, key string, value any) {
	if e.memory != nil {
		e.memory.Set(sessionID, key, value)
	}
}
