// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tracking is a client for the MLflow REST API (api/2.0/mlflow).
//
// Every exported method is one blocking operation bounded by the client's
// per-call timeout. Nothing is cached. Failures are returned as errors; an
// *APIError carries the server's status and response body.
package tracking

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/AleutianAI/mlflow-assistant/pkg/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

var tracer = otel.Tracer("assistant.tracking")

const (
	apiPrefix = "/api/2.0/mlflow/"

	// DefaultTimeout bounds each tracking call.
	DefaultTimeout = 30 * time.Second

	// DefaultFanOut caps concurrent calls issued by aggregate reads.
	DefaultFanOut = 4

	maxErrorBody = 4096
)

// Observer receives one callback per completed HTTP call.
type Observer interface {
	ObserveTrackingCall(operation, status string, d time.Duration)
}

type nopObserver struct{}

func (nopObserver) ObserveTrackingCall(string, string, time.Duration) {}

// Config configures a Client.
type Config struct {
	// BaseURL is the tracking server root, e.g. http://127.0.0.1:5000.
	BaseURL string

	// Timeout is the per-call budget. Default: 30s.
	Timeout time.Duration

	// RateLimit caps outbound calls per second. Zero disables limiting.
	RateLimit float64

	// Burst is the limiter burst size. Default: 10.
	Burst int

	// FanOut caps concurrent calls in aggregate reads. Default: 4.
	FanOut int

	// HTTPClient overrides the transport. Default: a fresh http.Client.
	HTTPClient *http.Client

	Logger   *slog.Logger
	Observer Observer
}

// Client talks to one MLflow tracking server.
//
// # Thread Safety
//
// Safe for concurrent use.
type Client struct {
	baseURL  string
	timeout  time.Duration
	fanOut   int
	http     *http.Client
	limiter  *rate.Limiter
	lookups  singleflight.Group
	logger   *slog.Logger
	observer Observer
}

// APIError is a non-2xx response from the tracking server.
type APIError struct {
	Operation  string
	StatusCode int
	Code       string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Operation, e.StatusCode, e.Body)
}

// NotFound reports whether the server answered RESOURCE_DOES_NOT_EXIST.
func (e *APIError) NotFound() bool {
	return e.StatusCode == http.StatusNotFound || e.Code == "RESOURCE_DOES_NOT_EXIST"
}

// Detail renders err for a user-facing message: the response body for API
// errors, the error text otherwise.
func Detail(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Body
	}
	return err.Error()
}

// New creates a Client.
func New(cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("tracking base URL is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("parse tracking base URL: %w", err)
	}

	c := &Client{
		baseURL:  base,
		timeout:  cfg.Timeout,
		fanOut:   cfg.FanOut,
		http:     cfg.HTTPClient,
		logger:   cfg.Logger,
		observer: cfg.Observer,
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.fanOut <= 0 {
		c.fanOut = DefaultFanOut
	}
	if c.http == nil {
		c.http = &http.Client{}
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.observer == nil {
		c.observer = nopObserver{}
	}

	limit := rate.Inf
	burst := cfg.Burst
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	if burst <= 0 {
		burst = 10
	}
	c.limiter = rate.NewLimiter(limit, burst)
	return c, nil
}

// BaseURL returns the configured server root.
func (c *Client) BaseURL() string { return c.baseURL }

// get issues GET endpoint?query and decodes the response into out.
func (c *Client) get(ctx context.Context, endpoint string, query url.Values, out any) error {
	u := c.baseURL + apiPrefix + endpoint
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return c.do(ctx, http.MethodGet, endpoint, u, nil, out)
}

// post issues POST endpoint with a JSON body.
func (c *Client) post(ctx context.Context, endpoint string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", endpoint, err)
	}
	return c.do(ctx, http.MethodPost, endpoint, c.baseURL+apiPrefix+endpoint, data, out)
}

func (c *Client) do(ctx context.Context, method, endpoint, u string, body []byte, out any) (err error) {
	ctx, span := tracer.Start(ctx, "Client."+endpoint)
	defer span.End()
	span.SetAttributes(
		attribute.String("http.method", method),
		attribute.String("mlflow.endpoint", endpoint),
	)

	start := time.Now()
	status := "error"
	defer func() {
		c.observer.ObserveTrackingCall(endpoint, status, time.Since(start))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s: rate limiter: %w", endpoint, err)
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", endpoint, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	telemetry.InjectContext(ctx, req.Header)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		status = fmt.Sprintf("%d", resp.StatusCode)
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		apiErr := &APIError{Operation: endpoint, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
		var doc apiErrorBody
		if json.Unmarshal(raw, &doc) == nil {
			apiErr.Code = doc.ErrorCode
		}
		c.logger.Debug("tracking call failed",
			slog.String("endpoint", endpoint),
			slog.Int("status", resp.StatusCode),
			slog.String("error_code", apiErr.Code))
		return apiErr
	}
	status = "ok"

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		status = "decode_error"
		return fmt.Errorf("%s: decode response: %w", endpoint, err)
	}
	return nil
}
