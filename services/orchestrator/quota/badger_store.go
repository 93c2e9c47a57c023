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
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
)

const keyPrefix = "invitation:"

// BadgerStore persists tokens in BadgerDB as JSON documents keyed by code.
//
// # Description
//
// Consume runs in a read-write transaction. BadgerDB detects write-write
// conflicts at commit time (optimistic concurrency), so two sessions racing
// for the last slot cannot both commit; the loser retries against the
// updated token and is refused by the admission rule.
//
// # Thread Safety
//
// Safe for concurrent use.
type BadgerStore struct {
	db         *badger.DB
	gc         *gcRunner
	maxRetries int
	opts       options
}

// OpenBadgerStore opens or creates the token database described by cfg.
//
// # Inputs
//
//   - cfg: database configuration. Path is required unless InMemory is set.
//   - opts: clock and logger overrides.
//
// # Outputs
//
//   - *BadgerStore: the opened store. Caller must Close it.
//   - error: non-nil when the database cannot be opened.
func OpenBadgerStore(cfg DBConfig, opts ...Option) (*BadgerStore, error) {
	o := buildOptions(opts)
	if cfg.Logger == nil && !cfg.InMemory {
		cfg.Logger = o.logger
	}

	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}

	s := &BadgerStore{
		db:         db,
		maxRetries: cfg.MaxConflictRetries,
		opts:       o,
	}
	if s.maxRetries <= 0 {
		s.maxRetries = 5
	}

	if cfg.GCInterval > 0 && !cfg.InMemory {
		runner, err := newGCRunner(db, cfg.GCInterval, cfg.GCDiscardRatio, o.logger)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("create GC runner: %w", err)
		}
		s.gc = runner
		runner.start()
	}
	return s, nil
}

func tokenKey(code string) []byte {
	return []byte(keyPrefix + code)
}

// readToken loads code inside txn. Returns ErrTokenNotFound on a miss.
func readToken(txn *badger.Txn, code string) (*Token, error) {
	item, err := txn.Get(tokenKey(code))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get token: %w", err)
	}

	var tok Token
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &tok)
	}); err != nil {
		return nil, fmt.Errorf("decode token: %w", err)
	}
	return &tok, nil
}

func writeToken(txn *badger.Txn, tok *Token) error {
	data, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("encode token: %w", err)
	}
	return txn.Set(tokenKey(tok.Code), data)
}

// Validate implements Store.
func (s *BadgerStore) Validate(ctx context.Context, code, sessionID string) (Validation, error) {
	if err := ctx.Err(); err != nil {
		return Validation{}, err
	}

	var v Validation
	err := s.db.View(func(txn *badger.Txn) error {
		tok, err := readToken(txn, code)
		if errors.Is(err, ErrTokenNotFound) {
			v = invalid()
			return nil
		}
		if err != nil {
			return err
		}
		v = tok.check(sessionID, s.opts.now())
		return nil
	})
	if err != nil {
		return Validation{}, fmt.Errorf("validate token: %w", err)
	}
	return v, nil
}

// Consume implements Store.
func (s *BadgerStore) Consume(ctx context.Context, code, sessionID string) (int, bool, error) {
	var lastErr error
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return 0, false, err
		}

		var (
			remaining int
			found     = true
			refused   error
		)
		err := s.db.Update(func(txn *badger.Txn) error {
			tok, err := readToken(txn, code)
			if errors.Is(err, ErrTokenNotFound) {
				found = false
				return nil
			}
			if err != nil {
				return err
			}
			remaining, refused = tok.consume(sessionID)
			if refused != nil {
				return nil
			}
			return writeToken(txn, tok)
		})

		switch {
		case errors.Is(err, badger.ErrConflict):
			lastErr = err
			s.opts.logger.Debug("token consume conflict, retrying",
				slog.String("code", Redact(code)),
				slog.Int("attempt", attempt+1))
			continue
		case err != nil:
			return 0, false, fmt.Errorf("consume token: %w", err)
		case !found:
			return 0, false, nil
		case refused != nil:
			return 0, true, refused
		}
		return remaining, true, nil
	}
	return 0, false, fmt.Errorf("consume token after %d attempts: %w", s.maxRetries, lastErr)
}

// Issue implements Store.
func (s *BadgerStore) Issue(ctx context.Context, maxRequests int, ttl time.Duration) (Token, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Token{}, err
		}
		tok := newToken(maxRequests, ttl, s.opts.now())
		taken := false
		err := s.db.Update(func(txn *badger.Txn) error {
			if _, err := readToken(txn, tok.Code); err == nil {
				taken = true
				return nil
			} else if !errors.Is(err, ErrTokenNotFound) {
				return err
			}
			return writeToken(txn, &tok)
		})
		if errors.Is(err, badger.ErrConflict) || taken {
			continue
		}
		if err != nil {
			return Token{}, fmt.Errorf("issue token: %w", err)
		}
		return tok, nil
	}
}

// Get implements Store.
func (s *BadgerStore) Get(_ context.Context, code string) (Token, error) {
	var out Token
	err := s.db.View(func(txn *badger.Txn) error {
		tok, err := readToken(txn, code)
		if err != nil {
			return err
		}
		out = *tok
		return nil
	})
	return out, err
}

// Deactivate implements Store.
func (s *BadgerStore) Deactivate(_ context.Context, code string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		tok, err := readToken(txn, code)
		if err != nil {
			return err
		}
		tok.Active = false
		return writeToken(txn, tok)
	})
}

// Count implements Store.
func (s *BadgerStore) Count(_ context.Context) (int, error) {
	n := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("count tokens: %w", err)
	}
	return n, nil
}

// Close stops the GC runner and closes the database.
func (s *BadgerStore) Close() error {
	if s.gc != nil {
		s.gc.stop()
	}
	return s.db.Close()
}

var _ Store = (*BadgerStore)(nil)
