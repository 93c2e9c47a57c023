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
	"hash/fnv"
	"sync"
	"time"
)

const memoryShards = 16

type memoryShard struct {
	mu     sync.Mutex
	tokens map[string]*Token
}

// MemoryStore keeps tokens in process memory, partitioned into shards so
// that unrelated codes never contend on one lock.
type MemoryStore struct {
	shards [memoryShards]*memoryShard
	opts   options
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	s := &MemoryStore{opts: buildOptions(opts)}
	for i := range s.shards {
		s.shards[i] = &memoryShard{tokens: make(map[string]*Token)}
	}
	return s
}

func (s *MemoryStore) shard(code string) *memoryShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(code))
	return s.shards[h.Sum32()%memoryShards]
}

// Validate implements Store.
func (s *MemoryStore) Validate(ctx context.Context, code, sessionID string) (Validation, error) {
	if err := ctx.Err(); err != nil {
		return Validation{}, err
	}
	sh := s.shard(code)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	tok, ok := sh.tokens[code]
	if !ok {
		return invalid(), nil
	}
	return tok.check(sessionID, s.opts.now()), nil
}

// Consume implements Store.
func (s *MemoryStore) Consume(ctx context.Context, code, sessionID string) (int, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}
	sh := s.shard(code)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	tok, ok := sh.tokens[code]
	if !ok {
		return 0, false, nil
	}
	remaining, err := tok.consume(sessionID)
	if err != nil {
		return 0, true, err
	}
	return remaining, true, nil
}

// Issue implements Store.
func (s *MemoryStore) Issue(ctx context.Context, maxRequests int, ttl time.Duration) (Token, error) {
	if err := ctx.Err(); err != nil {
		return Token{}, err
	}
	for {
		tok := newToken(maxRequests, ttl, s.opts.now())
		sh := s.shard(tok.Code)
		sh.mu.Lock()
		if _, taken := sh.tokens[tok.Code]; taken {
			sh.mu.Unlock()
			continue
		}
		sh.tokens[tok.Code] = &tok
		out := tok.clone()
		sh.mu.Unlock()
		return out, nil
	}
}

// Put stores tok as-is, replacing any token with the same code.
// Used to seed fixtures.
func (s *MemoryStore) Put(tok Token) {
	sh := s.shard(tok.Code)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	c := tok.clone()
	sh.tokens[tok.Code] = &c
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, code string) (Token, error) {
	sh := s.shard(code)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	tok, ok := sh.tokens[code]
	if !ok {
		return Token{}, ErrTokenNotFound
	}
	return tok.clone(), nil
}

// Deactivate implements Store.
func (s *MemoryStore) Deactivate(_ context.Context, code string) error {
	sh := s.shard(code)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	tok, ok := sh.tokens[code]
	if !ok {
		return ErrTokenNotFound
	}
	tok.Active = false
	return nil
}

// Count implements Store.
func (s *MemoryStore) Count(_ context.Context) (int, error) {
	n := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		n += len(sh.tokens)
		sh.mu.Unlock()
	}
	return n, nil
}

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
