// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package extensions

import (
	"context"
	"log/slog"
	"time"
)

// Audit outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeDenied  = "denied"
)

// AuditEvent is one administrative action.
//
// Example:
//
//	extensions.AuditEvent{
//	    EventType:    "invitation.create",
//	    UserID:       "admin",
//	    Action:       "create",
//	    ResourceType: "invitation",
//	    ResourceID:   "ab12…",
//	    Outcome:      extensions.OutcomeSuccess,
//	}
type AuditEvent struct {
	// EventType is "category.action".
	EventType string

	// Timestamp defaults to the time of logging when zero.
	Timestamp time.Time

	UserID       string
	Action       string
	ResourceType string

	// ResourceID must already be redacted when it is a secret such as an
	// invitation code.
	ResourceID string

	Outcome  string
	Metadata map[string]any
}

// AuditLogger records administrative events.
type AuditLogger interface {
	Log(ctx context.Context, event AuditEvent) error
	Flush(ctx context.Context) error
}

// SlogAuditLogger writes events as Info records under the "audit" group.
type SlogAuditLogger struct {
	logger *slog.Logger
	now    func() time.Time
}

// NewSlogAuditLogger creates an audit logger on logger, or slog.Default()
// when nil.
func NewSlogAuditLogger(logger *slog.Logger) *SlogAuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogAuditLogger{logger: logger, now: time.Now}
}

// Log implements AuditLogger.
func (l *SlogAuditLogger) Log(ctx context.Context, event AuditEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = l.now().UTC()
	}
	attrs := []any{
		slog.String("event_type", event.EventType),
		slog.Time("timestamp", event.Timestamp),
		slog.String("user_id", event.UserID),
		slog.String("action", event.Action),
		slog.String("resource_type", event.ResourceType),
		slog.String("resource_id", event.ResourceID),
		slog.String("outcome", event.Outcome),
	}
	if len(event.Metadata) > 0 {
		attrs = append(attrs, slog.Any("metadata", event.Metadata))
	}
	l.logger.InfoContext(ctx, "audit", slog.Group("audit", attrs...))
	return nil
}

// Flush implements AuditLogger. Records are written synchronously.
func (l *SlogAuditLogger) Flush(context.Context) error { return nil }

var _ AuditLogger = (*SlogAuditLogger)(nil)
