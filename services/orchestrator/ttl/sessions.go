// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ttl

import (
	"context"
	"time"
)

// IdleSessions is the part of the session store the sweeper needs.
// *session.Store implements it.
type IdleSessions interface {
	EvictIdle(cutoff time.Time) int
	Len() int
}

// SessionGauge receives the live session count after each sweep.
type SessionGauge interface {
	SetSessions(n int)
}

// SessionSweeper evicts sessions that have not been written for longer
// than the idle window and reports the remaining count.
type SessionSweeper struct {
	store IdleSessions
	idle  time.Duration
	gauge SessionGauge
}

// NewSessionSweeper creates a sweeper. gauge may be nil.
func NewSessionSweeper(store IdleSessions, idle time.Duration, gauge SessionGauge) *SessionSweeper {
	return &SessionSweeper{store: store, idle: idle, gauge: gauge}
}

// Name implements Sweeper.
func (s *SessionSweeper) Name() string { return "sessions" }

// Sweep implements Sweeper.
func (s *SessionSweeper) Sweep(ctx context.Context, now time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	n := 0
	if s.idle > 0 {
		n = s.store.EvictIdle(now.Add(-s.idle))
	}
	if s.gauge != nil {
		s.gauge.SetSessions(s.store.Len())
	}
	return n, nil
}

var _ Sweeper = (*SessionSweeper)(nil)
