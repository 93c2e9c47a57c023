// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package usage records one event per chat turn for offline analysis.
package usage

import (
	"context"
	"log/slog"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
)

// Measurement is the InfluxDB measurement turns are written to.
const Measurement = "assistant_turns"

// Event describes one completed turn.
type Event struct {
	SessionID    string
	Code         string
	Intent       string
	Confirmation string
	Provider     string
	Model        string
	Remaining    int
	Duration     time.Duration
	At           time.Time
}

// Sink receives turn events. Record must not block the turn for long and
// never reports failure to the caller.
type Sink interface {
	Record(ctx context.Context, ev Event)
	Close()
}

// NopSink discards events.
type NopSink struct{}

func (NopSink) Record(context.Context, Event) {}
func (NopSink) Close()                        {}

// InfluxConfig locates the InfluxDB bucket.
type InfluxConfig struct {
	URL    string
	Token  string
	Org    string
	Bucket string

	// WriteTimeout bounds one write. Default: 2s.
	WriteTimeout time.Duration
}

// InfluxSink writes events with the blocking write API.
//
// # Thread Safety
//
// Safe for concurrent use.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	timeout  time.Duration
	logger   *slog.Logger
}

// NewInfluxSink connects lazily; the first write reports reachability.
func NewInfluxSink(cfg InfluxConfig, logger *slog.Logger) *InfluxSink {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 2 * time.Second
	}
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		timeout:  cfg.WriteTimeout,
		logger:   logger.With("component", "usage"),
	}
}

// Record writes ev. Failures are logged and dropped. The invitation code
// is stored truncated.
func (s *InfluxSink) Record(ctx context.Context, ev Event) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	code := ev.Code
	if len(code) > 4 {
		code = code[:4]
	}
	p := influxdb2.NewPointWithMeasurement(Measurement).
		AddTag("intent", ev.Intent).
		AddTag("confirmation", ev.Confirmation).
		AddTag("provider", ev.Provider).
		AddTag("model", ev.Model).
		AddTag("code", code).
		AddField("session_id", ev.SessionID).
		AddField("remaining", ev.Remaining).
		AddField("duration_ms", ev.Duration.Milliseconds()).
		SetTime(ev.At)

	if err := s.writeAPI.WritePoint(ctx, p); err != nil {
		s.logger.Warn("usage write failed", "error", err)
	}
}

func (s *InfluxSink) Close() {
	s.client.Close()
}

var (
	_ Sink = NopSink{}
	_ Sink = (*InfluxSink)(nil)
)
