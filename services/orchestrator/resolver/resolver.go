// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package resolver fills in the identifiers an intent needs before it can
// run: experiment names become ids, an omitted run id falls back to the last
// run the session created, and numeric entities are coerced and checked.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/AleutianAI/mlflow-assistant/services/orchestrator/intent"
)

// ErrUnresolved matches every *UnresolvedError via errors.Is.
var ErrUnresolved = errors.New("unresolved entity")

// Reason says why an entity could not be resolved.
type Reason int

const (
	// Missing means neither the request nor session memory supplied it.
	Missing Reason = iota
	// NotFound means a name lookup came back empty.
	NotFound
	// Invalid means the value was present but unusable.
	Invalid
)

func (r Reason) String() string {
	switch r {
	case Missing:
		return "missing"
	case NotFound:
		return "not_found"
	case Invalid:
		return "invalid"
	}
	return "unknown"
}

// UnresolvedError reports an entity that blocks execution.
type UnresolvedError struct {
	Field  string
	Reason Reason
	// Value echoes what the user supplied, for NotFound and Invalid.
	Value string
}

func (e *UnresolvedError) Error() string {
	switch e.Reason {
	case NotFound:
		return fmt.Sprintf("%s %q not found", e.Field, e.Value)
	case Invalid:
		return fmt.Sprintf("%s %q is invalid", e.Field, e.Value)
	}
	return e.Field + " is missing"
}

// Is lets errors.Is(err, ErrUnresolved) match.
func (e *UnresolvedError) Is(target error) bool { return target == ErrUnresolved }

// AsUnresolved extracts an *UnresolvedError from err.
func AsUnresolved(err error) (*UnresolvedError, bool) {
	var u *UnresolvedError
	if errors.As(err, &u) {
		return u, true
	}
	return nil, false
}

// ExperimentLookup maps human experiment names to ids.
type ExperimentLookup interface {
	// ExperimentIDByName returns found=false, err=nil on a clean miss.
	ExperimentIDByName(ctx context.Context, name string) (id string, found bool, err error)

	// ExperimentNames lists known names, used to suggest alternatives.
	ExperimentNames(ctx context.Context) ([]string, error)
}

// RunMemory yields the last run a session created.
type RunMemory interface {
	CurrentRunID(sessionID string) string
}

// Experiment is a resolved experiment reference.
type Experiment struct {
	ID   string
	Name string
	// ByName is true when ID came from a name lookup.
	ByName bool
}

// Resolver resolves entities for one tracking server and session table.
//
// # Thread Safety
//
// Safe for concurrent use; it holds no mutable state of its own.
type Resolver struct {
	lookup ExperimentLookup
	memory RunMemory
	logger *slog.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) {
		if l != nil {
			r.logger = l
		}
	}
}

// New creates a Resolver.
func New(lookup ExperimentLookup, memory RunMemory, opts ...Option) *Resolver {
	r := &Resolver{lookup: lookup, memory: memory, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ExperimentID resolves the experiment an intent targets.
//
// # Description
//
// A non-empty experiment_id wins. Otherwise experiment_name is looked up.
// There is no session fallback: experiments are always named explicitly.
//
// # Outputs
//
//   - *UnresolvedError{Reason: Missing}: neither entity present.
//   - *UnresolvedError{Reason: NotFound, Value: name}: lookup miss.
//   - any other error: the lookup itself failed.
func (r *Resolver) ExperimentID(ctx context.Context, ents intent.Entities) (Experiment, error) {
	id := strings.TrimSpace(ents.String(intent.KeyExperimentID))
	name := ents.String(intent.KeyExperimentName)
	if id != "" {
		return Experiment{ID: id, Name: name}, nil
	}
	if strings.TrimSpace(name) == "" {
		return Experiment{}, &UnresolvedError{Field: intent.KeyExperimentID, Reason: Missing}
	}
	return r.ExperimentByName(ctx, name)
}

// ExperimentByName resolves name, ignoring any id in the request.
func (r *Resolver) ExperimentByName(ctx context.Context, name string) (Experiment, error) {
	found, ok, err := r.lookup.ExperimentIDByName(ctx, name)
	if err != nil {
		return Experiment{}, fmt.Errorf("look up experiment %q: %w", name, err)
	}
	if !ok {
		r.logger.Debug("experiment name did not resolve", slog.String("experiment_name", name))
		return Experiment{}, &UnresolvedError{Field: intent.KeyExperimentName, Reason: NotFound, Value: name}
	}
	return Experiment{ID: found, Name: name, ByName: true}, nil
}

// Suggestions returns up to max known experiment names and how many more
// exist.
func (r *Resolver) Suggestions(ctx context.Context, max int) ([]string, int, error) {
	names, err := r.lookup.ExperimentNames(ctx)
	if err != nil {
		return nil, 0, err
	}
	if len(names) <= max {
		return names, 0, nil
	}
	return names[:max], len(names) - max, nil
}

// RunID returns run_id from the request or, when absent, the last run the
// session created. The second result reports whether the fallback was used.
func (r *Resolver) RunID(ents intent.Entities, sessionID string) (string, bool, error) {
	if id := strings.TrimSpace(ents.String(intent.KeyRunID)); id != "" {
		return id, false, nil
	}
	if r.memory != nil {
		if id := r.memory.CurrentRunID(sessionID); id != "" {
			r.logger.Debug("using stored run id",
				slog.String("session_id", sessionID),
				slog.String("run_id", id))
			return id, true, nil
		}
	}
	return "", false, &UnresolvedError{Field: intent.KeyRunID, Reason: Missing}
}
