// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package quota

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Store is the persistent table of invitation tokens.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. Consume must be atomic
// per token: concurrent consumers on the same code never admit more new
// sessions than the token's remaining counter allows.
type Store interface {
	// Validate checks code for sessionID. It never mutates the token.
	// The error return is reserved for storage faults; an unusable token is
	// reported through Validation.
	Validate(ctx context.Context, code, sessionID string) (Validation, error)

	// Consume charges one request. ok is false when the code no longer
	// exists, which callers treat as a benign race.
	Consume(ctx context.Context, code, sessionID string) (remaining int, ok bool, err error)

	// Issue creates and stores a new active token.
	Issue(ctx context.Context, maxRequests int, ttl time.Duration) (Token, error)

	// Get returns a copy of the stored token or ErrTokenNotFound.
	Get(ctx context.Context, code string) (Token, error)

	// Deactivate flips the kill switch on a token.
	Deactivate(ctx context.Context, code string) error

	// Count returns the number of stored tokens.
	Count(ctx context.Context) (int, error)

	Close() error
}

// Option configures a store.
type Option func(*options)

type options struct {
	now    func() time.Time
	logger *slog.Logger
}

func defaultOptions() options {
	return options{now: time.Now, logger: slog.Default()}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithLogger sets the store logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func buildOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// EnsureDefault issues one token when the store is empty.
//
// Returns the issued token and true, or a zero token and false when the
// store already held tokens.
func EnsureDefault(ctx context.Context, s Store, maxRequests int, ttl time.Duration) (Token, bool, error) {
	n, err := s.Count(ctx)
	if err != nil {
		return Token{}, false, fmt.Errorf("count tokens: %w", err)
	}
	if n > 0 {
		return Token{}, false, nil
	}
	tok, err := s.Issue(ctx, maxRequests, ttl)
	if err != nil {
		return Token{}, false, fmt.Errorf("issue default token: %w", err)
	}
	return tok, true, nil
}
