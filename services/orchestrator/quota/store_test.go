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
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a settable time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type storeFactory struct {
	name string
	open func(t *testing.T, clock *fakeClock) Store
}

func storeFactories() []storeFactory {
	return []storeFactory{
		{
			name: "memory",
			open: func(t *testing.T, clock *fakeClock) Store {
				return NewMemoryStore(WithClock(clock.Now))
			},
		},
		{
			name: "badger",
			open: func(t *testing.T, clock *fakeClock) Store {
				s, err := OpenBadgerStore(InMemoryDBConfig(), WithClock(clock.Now))
				require.NoError(t, err)
				t.Cleanup(func() { _ = s.Close() })
				return s
			},
		},
	}
}

func forEachStore(t *testing.T, fn func(t *testing.T, s Store, clock *fakeClock)) {
	for _, f := range storeFactories() {
		t.Run(f.name, func(t *testing.T) {
			clock := newFakeClock()
			fn(t, f.open(t, clock), clock)
		})
	}
}

func TestStore_IssueAndValidate(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, _ *fakeClock) {
		ctx := context.Background()
		tok, err := s.Issue(ctx, 3, time.Hour)
		require.NoError(t, err)
		assert.Len(t, tok.Code, 8)
		assert.True(t, tok.Active)
		assert.Equal(t, 3, tok.RemainingRequests)

		v, err := s.Validate(ctx, tok.Code, "session-a")
		require.NoError(t, err)
		assert.True(t, v.Valid)
		assert.Equal(t, MsgValid, v.Message)
		assert.Equal(t, 3, v.Remaining)
		assert.Equal(t, 3, v.Max)
		assert.True(t, v.NewSession)
		assert.NoError(t, v.Reason)
	})
}

func TestStore_ValidateUnknownCode(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, _ *fakeClock) {
		v, err := s.Validate(context.Background(), "nope", "session-a")
		require.NoError(t, err)
		assert.False(t, v.Valid)
		assert.Equal(t, MsgInvalid, v.Message)
		assert.ErrorIs(t, v.Reason, ErrInvalidToken)
	})
}

func TestStore_ValidateIsReadOnly(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, _ *fakeClock) {
		ctx := context.Background()
		tok, err := s.Issue(ctx, 2, time.Hour)
		require.NoError(t, err)

		for i := 0; i < 5; i++ {
			_, err := s.Validate(ctx, tok.Code, "session-a")
			require.NoError(t, err)
		}

		got, err := s.Get(ctx, tok.Code)
		require.NoError(t, err)
		assert.Equal(t, 2, got.RemainingRequests)
		assert.Empty(t, got.UsedBySessions)
	})
}

func TestStore_ExpiredRegardlessOfRemaining(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, clock *fakeClock) {
		ctx := context.Background()
		tok, err := s.Issue(ctx, 100, time.Minute)
		require.NoError(t, err)

		clock.Advance(2 * time.Minute)
		v, err := s.Validate(ctx, tok.Code, "session-a")
		require.NoError(t, err)
		assert.False(t, v.Valid)
		assert.Equal(t, MsgExpired, v.Message)
		assert.ErrorIs(t, v.Reason, ErrExpiredToken)
	})
}

func TestStore_ExpiredAtExactDeadline(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, clock *fakeClock) {
		ctx := context.Background()
		tok, err := s.Issue(ctx, 5, time.Minute)
		require.NoError(t, err)

		clock.Advance(time.Minute - time.Nanosecond)
		v, err := s.Validate(ctx, tok.Code, "session-a")
		require.NoError(t, err)
		assert.True(t, v.Valid, "one tick before expiry")

		clock.Advance(time.Nanosecond)
		v, err = s.Validate(ctx, tok.Code, "session-a")
		require.NoError(t, err)
		assert.False(t, v.Valid)
		assert.ErrorIs(t, v.Reason, ErrExpiredToken)
	})
}

func TestStore_Deactivated(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, _ *fakeClock) {
		ctx := context.Background()
		tok, err := s.Issue(ctx, 5, time.Hour)
		require.NoError(t, err)
		require.NoError(t, s.Deactivate(ctx, tok.Code))

		v, err := s.Validate(ctx, tok.Code, "session-a")
		require.NoError(t, err)
		assert.False(t, v.Valid)
		assert.Equal(t, MsgDeactivated, v.Message)

		assert.ErrorIs(t, s.Deactivate(ctx, "missing"), ErrTokenNotFound)
	})
}

func TestStore_ConsumeDecrementsAndAdmitsOnce(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, _ *fakeClock) {
		ctx := context.Background()
		tok, err := s.Issue(ctx, 3, time.Hour)
		require.NoError(t, err)

		remaining, ok, err := s.Consume(ctx, tok.Code, "session-a")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, 2, remaining)

		remaining, ok, err = s.Consume(ctx, tok.Code, "session-a")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, 1, remaining)

		got, err := s.Get(ctx, tok.Code)
		require.NoError(t, err)
		assert.Equal(t, []string{"session-a"}, got.UsedBySessions)

		v, err := s.Validate(ctx, tok.Code, "session-a")
		require.NoError(t, err)
		assert.False(t, v.NewSession)
	})
}

func TestStore_ExistingSessionContinuesAfterExhaustion(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, _ *fakeClock) {
		ctx := context.Background()
		tok, err := s.Issue(ctx, 1, time.Hour)
		require.NoError(t, err)

		remaining, _, err := s.Consume(ctx, tok.Code, "session-a")
		require.NoError(t, err)
		assert.Equal(t, 0, remaining)

		// A new session is refused...
		v, err := s.Validate(ctx, tok.Code, "session-b")
		require.NoError(t, err)
		assert.False(t, v.Valid)
		assert.Equal(t, MsgExhausted, v.Message)

		// ...but the admitted one keeps going and the counter floors at zero.
		v, err = s.Validate(ctx, tok.Code, "session-a")
		require.NoError(t, err)
		assert.True(t, v.Valid)

		remaining, ok, err := s.Consume(ctx, tok.Code, "session-a")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, 0, remaining)
	})
}

func TestStore_ConsumeMissingTokenIsBenign(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, _ *fakeClock) {
		remaining, ok, err := s.Consume(context.Background(), "gone", "session-a")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Zero(t, remaining)
	})
}

func TestStore_ConcurrentNewSessionsNeverOverAdmit(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, _ *fakeClock) {
		ctx := context.Background()
		const slots = 3
		tok, err := s.Issue(ctx, slots, time.Hour)
		require.NoError(t, err)

		var (
			wg       sync.WaitGroup
			admitted atomic.Int32
		)
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, ok, err := s.Consume(ctx, tok.Code, fmt.Sprintf("session-%d", i))
				if err == nil && ok {
					admitted.Add(1)
				}
			}(i)
		}
		wg.Wait()

		assert.Equal(t, int32(slots), admitted.Load())
		got, err := s.Get(ctx, tok.Code)
		require.NoError(t, err)
		assert.Len(t, got.UsedBySessions, slots)
		assert.Equal(t, 0, got.RemainingRequests)
	})
}

func TestEnsureDefault(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, _ *fakeClock) {
		ctx := context.Background()
		tok, created, err := EnsureDefault(ctx, s, 10, time.Hour)
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, 10, tok.MaxRequests)

		_, created, err = EnsureDefault(ctx, s, 10, time.Hour)
		require.NoError(t, err)
		assert.False(t, created)

		n, err := s.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})
}

func TestIssueDefaultsForNonPositiveInputs(t *testing.T) {
	s := NewMemoryStore()
	tok, err := s.Issue(context.Background(), 0, 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxRequests, tok.MaxRequests)
	assert.Equal(t, DefaultTTL, tok.ExpiresAt.Sub(tok.CreatedAt))
}

func TestBadgerStore_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultDBConfig(dir)
	cfg.GCInterval = 0

	s, err := OpenBadgerStore(cfg)
	require.NoError(t, err)
	tok, err := s.Issue(context.Background(), 4, time.Hour)
	require.NoError(t, err)
	_, _, err = s.Consume(context.Background(), tok.Code, "session-a")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s2, err := OpenBadgerStore(cfg)
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.Get(context.Background(), tok.Code)
	require.NoError(t, err)
	assert.Equal(t, 3, got.RemainingRequests)
	assert.Equal(t, []string{"session-a"}, got.UsedBySessions)
}

func TestBadgerStore_GCRunnerStops(t *testing.T) {
	cfg := DefaultDBConfig(t.TempDir())
	cfg.GCInterval = 10 * time.Millisecond

	s, err := OpenBadgerStore(cfg)
	require.NoError(t, err)
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, s.Close())
}

func TestOpenBadgerStore_RequiresPath(t *testing.T) {
	_, err := OpenBadgerStore(DBConfig{})
	assert.Error(t, err)
}

func TestRedact(t *testing.T) {
	assert.Equal(t, "abcd…", Redact("abcdef12"))
	assert.Equal(t, "ab", Redact("ab"))
}
