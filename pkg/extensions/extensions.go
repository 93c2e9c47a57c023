// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package extensions defines the pluggable security hooks of the service.
//
// # Extension Points
//
//   - auth.go: AuthProvider guards the invitation admin routes.
//   - audit.go: AuditLogger records invitation issuance and deactivation.
//
// The defaults are a key provider that rejects every token and an audit
// logger that writes through slog. A deployment that wants its own identity
// provider or audit store supplies implementations in ServiceOptions.
//
// # Thread Safety
//
// All implementations must be safe for concurrent use.
package extensions

import "log/slog"

// ServiceOptions groups the extension points handed to the service.
//
// Example:
//
//	opts := extensions.DefaultOptions().
//	    WithAuth(extensions.NewKeyAuthProvider(cfg.AdminAPIKey))
type ServiceOptions struct {
	// AuthProvider validates bearer tokens on admin routes.
	// Default: a KeyAuthProvider with no key (rejects everything).
	AuthProvider AuthProvider

	// AuditLogger records administrative events.
	// Default: SlogAuditLogger on slog.Default().
	AuditLogger AuditLogger
}

// DefaultOptions returns options with the safe defaults.
func DefaultOptions() ServiceOptions {
	return ServiceOptions{
		AuthProvider: NewKeyAuthProvider(""),
		AuditLogger:  NewSlogAuditLogger(slog.Default()),
	}
}

// WithAuth returns a copy of opts with the given AuthProvider.
func (opts ServiceOptions) WithAuth(provider AuthProvider) ServiceOptions {
	opts.AuthProvider = provider
	return opts
}

// WithAudit returns a copy of opts with the given AuditLogger.
func (opts ServiceOptions) WithAudit(logger AuditLogger) ServiceOptions {
	opts.AuditLogger = logger
	return opts
}

// Normalize fills nil fields with the defaults.
func (opts ServiceOptions) Normalize() ServiceOptions {
	def := DefaultOptions()
	if opts.AuthProvider == nil {
		opts.AuthProvider = def.AuthProvider
	}
	if opts.AuditLogger == nil {
		opts.AuditLogger = def.AuditLogger
	}
	return opts
}
