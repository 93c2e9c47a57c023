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
	"errors"
	"log/slog"
	"net/url"
	"strconv"
)

const experimentsPageSize = 1000

type lookupResult struct {
	id    string
	found bool
}

// ExperimentIDByName resolves an experiment name to its id.
//
// # Description
//
// Tries experiments/get-by-name first. When the server reports the name as
// missing, the full experiment listing is scanned for an exact match, which
// covers servers that normalise names differently in the direct lookup.
// Concurrent lookups of the same name share one set of calls.
//
// # Outputs
//
//   - id, true: the name resolved.
//   - "", false, nil: no experiment carries that name.
//   - error: the server could not be reached or answered unexpectedly.
func (c *Client) ExperimentIDByName(ctx context.Context, name string) (string, bool, error) {
	v, err, _ := c.lookups.Do(name, func() (any, error) {
		var env experimentEnvelope
		err := c.get(ctx, "experiments/get-by-name", url.Values{"experiment_name": {name}}, &env)
		if err == nil && env.Experiment.ExperimentID != "" {
			return lookupResult{id: env.Experiment.ExperimentID, found: true}, nil
		}
		var apiErr *APIError
		if err != nil && !errors.As(err, &apiErr) {
			return nil, err
		}
		if err != nil {
			c.logger.Debug("direct experiment lookup missed, scanning listing",
				slog.String("experiment_name", name),
				slog.Int("status", apiErr.StatusCode))
		}

		exps, err := c.ListExperiments(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range exps {
			if e.Name == name {
				return lookupResult{id: e.ExperimentID, found: true}, nil
			}
		}
		return lookupResult{}, nil
	})
	if err != nil {
		return "", false, err
	}
	r := v.(lookupResult)
	return r.id, r.found, nil
}

// ExperimentNames returns the names of all active experiments.
func (c *Client) ExperimentNames(ctx context.Context) ([]string, error) {
	exps, err := c.ListExperiments(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(exps))
	for _, e := range exps {
		names = append(names, e.Name)
	}
	return names, nil
}

// GetExperiment fetches one experiment by id.
func (c *Client) GetExperiment(ctx context.Context, id string) (Experiment, error) {
	var env experimentEnvelope
	if err := c.get(ctx, "experiments/get", url.Values{"experiment_id": {id}}, &env); err != nil {
		return Experiment{}, err
	}
	return env.Experiment, nil
}

// CreateExperiment creates an experiment and returns its id.
func (c *Client) CreateExperiment(ctx context.Context, name string) (string, error) {
	var resp createExperimentResponse
	if err := c.post(ctx, "experiments/create", map[string]string{"name": name}, &resp); err != nil {
		return "", err
	}
	if resp.ExperimentID == "" {
		return "UNKNOWN", nil
	}
	return resp.ExperimentID, nil
}

// DeleteExperiment moves an experiment to the deleted lifecycle stage.
func (c *Client) DeleteExperiment(ctx context.Context, id string) error {
	return c.post(ctx, "experiments/delete", map[string]string{"experiment_id": id}, nil)
}

// ListExperiments returns every active experiment, following pagination.
func (c *Client) ListExperiments(ctx context.Context) ([]Experiment, error) {
	var (
		all   []Experiment
		token string
	)
	for {
		q := url.Values{"max_results": {strconv.Itoa(experimentsPageSize)}}
		if token != "" {
			q.Set("page_token", token)
		}
		var page experimentsPage
		if err := c.get(ctx, "experiments/search", q, &page); err != nil {
			return nil, err
		}
		all = append(all, page.Experiments...)
		if page.NextPageToken == "" {
			return all, nil
		}
		token = page.NextPageToken
	}
}

// CreateExperiments creates each name in order. Failures do not stop the
// batch and nothing is rolled back.
func (c *Client) CreateExperiments(ctx context.Context, names []string) []CreatedExperiment {
	out := make([]CreatedExperiment, 0, len(names))
	for _, name := range names {
		id, err := c.CreateExperiment(ctx, name)
		out = append(out, CreatedExperiment{Name: name, ID: id, Err: err})
	}
	return out
}
