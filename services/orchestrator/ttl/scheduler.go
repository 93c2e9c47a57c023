// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ttl runs periodic expiry sweeps over in-process state.
package ttl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrAlreadyRunning is returned by Start on a running scheduler.
var ErrAlreadyRunning = errors.New("scheduler is already running")

// Sweeper removes expired state. Sweep reports how many items it removed.
type Sweeper interface {
	Name() string
	Sweep(ctx context.Context, now time.Time) (int, error)
}

// Scheduler runs a set of sweepers on a fixed interval.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type Scheduler interface {
	// Start launches the background loop. A first cycle runs immediately.
	Start(ctx context.Context) error

	// Stop signals the loop and waits for the running cycle to finish.
	// Safe to call multiple times.
	Stop() error

	// RunNow performs one cycle on the caller's goroutine.
	RunNow(ctx context.Context) CycleResult
}

// SchedulerConfig holds the scheduler settings.
//
//   - Interval: time between cycles. Default: 5 minutes.
//   - Now: time source. Default: time.Now.
//   - Logger: default slog.Default().
type SchedulerConfig struct {
	Interval time.Duration
	Now      func() time.Time
	Logger   *slog.Logger
}

// DefaultSchedulerConfig returns the production defaults.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Interval: 5 * time.Minute,
		Now:      time.Now,
		Logger:   slog.Default(),
	}
}

// CycleResult summarizes one cycle.
type CycleResult struct {
	StartTime time.Time
	EndTime   time.Time
	Removed   map[string]int
	Errors    map[string]error
}

// HasErrors reports whether any sweeper failed.
func (r CycleResult) HasErrors() bool {
	return len(r.Errors) > 0
}

// Duration returns the cycle wall time.
func (r CycleResult) Duration() time.Duration {
	return r.EndTime.Sub(r.StartTime)
}

type scheduler struct {
	sweepers []Sweeper
	config   SchedulerConfig

	mu      sync.Mutex
	running bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewScheduler creates a scheduler over sweepers. Zero config fields take
// the defaults.
//
// # Examples
//
//	sched := ttl.NewScheduler(ttl.DefaultSchedulerConfig(),
//	    ttl.NewSessionSweeper(sessions, 24*time.Hour, metrics))
//	if err := sched.Start(ctx); err != nil {
//	    return err
//	}
//	defer sched.Stop()
func NewScheduler(config SchedulerConfig, sweepers ...Sweeper) Scheduler {
	def := DefaultSchedulerConfig()
	if config.Interval <= 0 {
		config.Interval = def.Interval
	}
	if config.Now == nil {
		config.Now = def.Now
	}
	if config.Logger == nil {
		config.Logger = def.Logger
	}
	return &scheduler{sweepers: sweepers, config: config}
}

func (s *scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrAlreadyRunning
	}
	s.running = true
	s.done = make(chan struct{})

	s.config.Logger.Info("expiry scheduler starting",
		"interval", s.config.Interval.String(),
		"sweepers", len(s.sweepers),
	)

	s.wg.Add(1)
	go s.runLoop(ctx, s.done)
	return nil
}

func (s *scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	close(s.done)
	s.running = false
	s.mu.Unlock()

	s.wg.Wait()
	s.config.Logger.Info("expiry scheduler stopped")
	return nil
}

func (s *scheduler) RunNow(ctx context.Context) CycleResult {
	return s.runCycle(ctx)
}

func (s *scheduler) runLoop(ctx context.Context, done <-chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.execute(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			s.execute(ctx)
		}
	}
}

func (s *scheduler) execute(ctx context.Context) {
	res := s.runCycle(ctx)
	for name, err := range res.Errors {
		s.config.Logger.Error("expiry sweep failed", "sweeper", name, "error", err)
	}
	total := 0
	for _, n := range res.Removed {
		total += n
	}
	if total > 0 {
		s.config.Logger.Info("expiry cycle completed",
			"removed", total,
			"duration_ms", res.Duration().Milliseconds(),
		)
	}
}

// runCycle runs every sweeper once. A failing sweeper does not stop the
// others.
func (s *scheduler) runCycle(ctx context.Context) CycleResult {
	res := CycleResult{
		StartTime: s.config.Now(),
		Removed:   make(map[string]int, len(s.sweepers)),
	}
	for _, sw := range s.sweepers {
		n, err := sw.Sweep(ctx, s.config.Now())
		if err != nil {
			if res.Errors == nil {
				res.Errors = make(map[string]error)
			}
			res.Errors[sw.Name()] = fmt.Errorf("%s: %w", sw.Name(), err)
			continue
		}
		res.Removed[sw.Name()] = n
	}
	res.EndTime = s.config.Now()
	return res
}
