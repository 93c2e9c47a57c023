// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tracking

import (
	"context"
	"net/url"
	"time"
)

const runsPageSize = 1000

type createRunRequest struct {
	ExperimentID string     `json:"experiment_id"`
	StartTime    int64      `json:"start_time,omitempty"`
	RunName      string     `json:"run_name,omitempty"`
	Tags         []KeyValue `json:"tags,omitempty"`
}

type logMetricRequest struct {
	RunID     string  `json:"run_id"`
	Key       string  `json:"key"`
	Value     float64 `json:"value"`
	Timestamp int64   `json:"timestamp"`
	Step      int64   `json:"step"`
}

type searchRunsRequest struct {
	ExperimentIDs []string `json:"experiment_ids"`
	MaxResults    int      `json:"max_results,omitempty"`
	OrderBy       []string `json:"order_by,omitempty"`
	PageToken     string   `json:"page_token,omitempty"`
}

// CreateRun starts a run in experimentID. An empty runName lets the server
// pick one.
func (c *Client) CreateRun(ctx context.Context, experimentID, runName string) (string, error) {
	req := createRunRequest{
		ExperimentID: experimentID,
		StartTime:    time.Now().UnixMilli(),
	}
	if runName != "" {
		req.RunName = runName
		req.Tags = []KeyValue{{Key: runNameTag, Value: runName}}
	}
	var env runEnvelope
	if err := c.post(ctx, "runs/create", req, &env); err != nil {
		return "", err
	}
	return env.Run.Info.RunID, nil
}

// CreateRuns creates one run per name in order. Failures do not stop the
// batch and nothing is rolled back.
func (c *Client) CreateRuns(ctx context.Context, experimentID string, names []string) []CreatedRun {
	out := make([]CreatedRun, 0, len(names))
	for _, name := range names {
		id, err := c.CreateRun(ctx, experimentID, name)
		out = append(out, CreatedRun{Name: name, ID: id, Err: err})
	}
	return out
}

// DeleteRun marks a run deleted.
func (c *Client) DeleteRun(ctx context.Context, runID string) error {
	return c.post(ctx, "runs/delete", map[string]string{"run_id": runID}, nil)
}

// LogParam logs one parameter.
func (c *Client) LogParam(ctx context.Context, runID, key, value string) error {
	return c.post(ctx, "runs/log-parameter", map[string]string{
		"run_id": runID,
		"key":    key,
		"value":  value,
	}, nil)
}

// LogMetric logs one metric value at step.
func (c *Client) LogMetric(ctx context.Context, runID, key string, value float64, step int64) error {
	return c.post(ctx, "runs/log-metric", logMetricRequest{
		RunID:     runID,
		Key:       key,
		Value:     value,
		Timestamp: time.Now().UnixMilli(),
		Step:      step,
	}, nil)
}

// SearchRuns returns every run of the given experiments, following pagination.
func (c *Client) SearchRuns(ctx context.Context, experimentIDs ...string) ([]Run, error) {
	var (
		all   []Run
		token string
	)
	for {
		var page runsPage
		req := searchRunsRequest{
			ExperimentIDs: experimentIDs,
			MaxResults:    runsPageSize,
			PageToken:     token,
		}
		if err := c.post(ctx, "runs/search", req, &page); err != nil {
			return nil, err
		}
		all = append(all, page.Runs...)
		if page.NextPageToken == "" {
			return all, nil
		}
		token = page.NextPageToken
	}
}

// ListArtifacts lists the artifacts of runID under path ("" for the root).
func (c *Client) ListArtifacts(ctx context.Context, runID, path string) ([]FileInfo, error) {
	var (
		all   []FileInfo
		token string
	)
	for {
		q := url.Values{"run_id": {runID}}
		if path != "" {
			q.Set("path", path)
		}
		if token != "" {
			q.Set("page_token", token)
		}
		var page artifactsPage
		if err := c.get(ctx, "artifacts/list", q, &page); err != nil {
			return nil, err
		}
		all = append(all, page.Files...)
		if page.NextPageToken == "" {
			return all, nil
		}
		token = page.NextPageToken
	}
}

// GetRun fetches one run.
func (c *Client) GetRun(ctx context.Context, runID string) (Run, error) {
	var env runEnvelope
	if err := c.get(ctx, "runs/get", url.Values{"run_id": {runID}}, &env); err != nil {
		return Run{}, err
	}
	return env.Run, nil
}
