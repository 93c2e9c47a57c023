// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package session holds per-chat-session memory: the transcript sent to the
// classifier and a small scratchpad of recently created or selected ids.
package session

import (
	"hash/fnv"
	"maps"
	"slices"
	"sync"
	"time"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Scratchpad slot names.
const (
	KeyCurrentRunID       = "current_run_id"
	KeyRemainingRequests  = "remaining_requests"
	KeyMaxRequests        = "max_requests"
	KeyInvitationCode     = "invitation_code"
	KeyLLMProviderID      = "llm_provider_id"
	KeyLLMModelID         = "llm_model_id"
	KeyBatchExperimentIDs = "batch_experiment_ids"
	KeyBatchRunIDs        = "batch_run_ids"
)

const shardCount = 32

// Message is one transcript entry.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type state struct {
	transcript []Message
	scratch    map[string]any
	touched    time.Time
}

type shard struct {
	mu       sync.RWMutex
	sessions map[string]*state
}

// Store is the in-process session table.
//
// # Description
//
// Sessions are created on first reference and live until Delete, EvictIdle
// or process exit. Access is partitioned across fixed shards by a hash of the session
// id, so turns from different sessions only contend when they hash to the
// same shard.
//
// # Thread Safety
//
// Safe for concurrent use. Callers are expected to serialize turns of one
// session; the store keeps each individual call consistent regardless.
type Store struct {
	shards [shardCount]*shard
	now    func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for idle tracking.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore creates an empty session store.
func NewStore(opts ...Option) *Store {
	s := &Store{now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	for i := range s.shards {
		s.shards[i] = &shard{sessions: make(map[string]*state)}
	}
	return s
}

func (s *Store) shardFor(id string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return s.shards[h.Sum32()%shardCount]
}

// getOrCreate must be called with sh.mu held for writing. It marks the
// session as touched at now.
func (sh *shard) getOrCreate(id string, now time.Time) *state {
	st, ok := sh.sessions[id]
	if !ok {
		st = &state{scratch: make(map[string]any)}
		sh.sessions[id] = st
	}
	st.touched = now
	return st
}

// Append adds msg to the session transcript.
func (s *Store) Append(id string, msg Message) {
	sh := s.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	st := sh.getOrCreate(id, s.now())
	st.transcript = append(st.transcript, msg)
}

// History returns a copy of the session transcript.
func (s *Store) History(id string) []Message {
	sh := s.shardFor(id)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	st, ok := sh.sessions[id]
	if !ok {
		return nil
	}
	return slices.Clone(st.transcript)
}

// Get returns a scratchpad value.
func (s *Store) Get(id, key string) (any, bool) {
	sh := s.shardFor(id)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	st, ok := sh.sessions[id]
	if !ok {
		return nil, false
	}
	v, ok := st.scratch[key]
	return v, ok
}

// GetString returns a scratchpad value as a string, or "" when absent or
// not a string.
func (s *Store) GetString(id, key string) string {
	v, ok := s.Get(id, key)
	if !ok {
		return ""
	}
	str, _ := v.(string)
	return str
}

// Set stores a scratchpad value.
func (s *Store) Set(id, key string, value any) {
	sh := s.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sh.getOrCreate(id, s.now()).scratch[key] = value
}

// SetMany stores several scratchpad values under one lock acquisition.
func (s *Store) SetMany(id string, values map[string]any) {
	sh := s.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	maps.Copy(sh.getOrCreate(id, s.now()).scratch, values)
}

// Snapshot returns a shallow copy of the scratchpad.
func (s *Store) Snapshot(id string) map[string]any {
	sh := s.shardFor(id)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	st, ok := sh.sessions[id]
	if !ok {
		return map[string]any{}
	}
	return maps.Clone(st.scratch)
}

// CurrentRunID returns the last run created in the session.
func (s *Store) CurrentRunID(id string) string {
	return s.GetString(id, KeyCurrentRunID)
}

// Delete drops the session.
func (s *Store) Delete(id string) {
	sh := s.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	delete(sh.sessions, id)
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		n += len(sh.sessions)
		sh.mu.RUnlock()
	}
	return n
}

// EvictIdle drops every session not written since cutoff and returns how
// many were dropped. Shards are locked one at a time.
func (s *Store) EvictIdle(cutoff time.Time) int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for id, st := range sh.sessions {
			if st.touched.Before(cutoff) {
				delete(sh.sessions, id)
				n++
			}
		}
		sh.mu.Unlock()
	}
	return n
}
