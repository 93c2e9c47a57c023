// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package usage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInfluxSink_WritesLineProtocol(t *testing.T) {
	var (
		mu    sync.Mutex
		lines []string
		query string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v2/write" {
			http.NotFound(w, r)
			return
		}
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		lines = append(lines, string(body))
		query = r.URL.RawQuery
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sink := NewInfluxSink(InfluxConfig{URL: srv.URL, Token: "tok", Org: "acme", Bucket: "chat"}, nil)
	defer sink.Close()

	sink.Record(context.Background(), Event{
		SessionID:    "s-1",
		Code:         "abcdef12",
		Intent:       "create_run",
		Confirmation: "confirmed",
		Provider:     "openai",
		Model:        "gpt-4o",
		Remaining:    7,
		Duration:     1500 * time.Millisecond,
		At:           time.Unix(1700000000, 0),
	})

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], Measurement+",")
	assert.Contains(t, lines[0], "code=abcd,")
	assert.NotContains(t, lines[0], "abcdef12")
	assert.Contains(t, lines[0], "intent=create_run")
	assert.Contains(t, lines[0], "remaining=7i")
	assert.Contains(t, lines[0], "duration_ms=1500i")
	assert.Contains(t, query, "bucket=chat")
	assert.Contains(t, query, "org=acme")
}

func TestInfluxSink_FailureIsSwallowed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	sink := NewInfluxSink(InfluxConfig{URL: srv.URL, Org: "o", Bucket: "b", WriteTimeout: time.Second}, nil)
	defer sink.Close()

	assert.NotPanics(t, func() {
		sink.Record(context.Background(), Event{Intent: "unknown", At: time.Now()})
	})
}

func TestNopSink(t *testing.T) {
	var s Sink = NopSink{}
	s.Record(context.Background(), Event{})
	s.Close()
}
