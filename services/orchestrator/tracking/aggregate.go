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
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	mlmodelFile = "MLmodel"

	// RecentRunWindow is how many of the newest runs are inspected when
	// ranking recently used models.
	RecentRunWindow = 100
)

// Summary counts experiments, registered models and runs.
//
// Experiments and models are listed concurrently, then the runs of each
// experiment are searched with at most FanOut calls in flight.
func (c *Client) Summary(ctx context.Context) (Summary, error) {
	var (
		exps   []Experiment
		models []RegisteredModel
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		exps, err = c.ListExperiments(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		models, err = c.ListRegisteredModels(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return Summary{}, err
	}

	runs, err := c.runsPerExperiment(ctx, exps)
	if err != nil {
		return Summary{}, err
	}

	s := Summary{
		ExperimentCount:      len(exps),
		RegisteredModelCount: len(models),
		AsOf:                 time.Now(),
	}
	for _, rs := range runs {
		s.TotalRuns += len(rs)
		for _, r := range rs {
			if r.Info.Status == RunStatusRunning {
				s.ActiveRuns++
			}
		}
	}
	return s, nil
}

// runsPerExperiment searches the runs of each experiment concurrently.
func (c *Client) runsPerExperiment(ctx context.Context, exps []Experiment) ([][]Run, error) {
	out := make([][]Run, len(exps))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.fanOut)
	for i, e := range exps {
		g.Go(func() error {
			runs, err := c.SearchRuns(gctx, e.ExperimentID)
			if err != nil {
				return fmt.Errorf("search runs of experiment %s: %w", e.ExperimentID, err)
			}
			out[i] = runs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// ModelVersions searches the versions of each named model concurrently.
// A failed search leaves that model out of the result instead of failing
// the whole call.
func (c *Client) ModelVersions(ctx context.Context, names []string) map[string][]ModelVersion {
	var (
		mu  sync.Mutex
		out = make(map[string][]ModelVersion, len(names))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.fanOut)
	for _, name := range names {
		g.Go(func() error {
			versions, err := c.SearchModelVersions(gctx, name)
			if err != nil {
				c.logger.Debug("model version search failed", "model_name", name, "error", err)
				return nil
			}
			mu.Lock()
			out[name] = versions
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// RunsWithModels returns the runs of experimentID whose artifacts contain an
// MLmodel file, either at the artifact root or one directory below it.
func (c *Client) RunsWithModels(ctx context.Context, experimentID string) ([]RunWithModels, error) {
	runs, err := c.SearchRuns(ctx, experimentID)
	if err != nil {
		return nil, err
	}

	found := make([][]string, len(runs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.fanOut)
	for i, r := range runs {
		g.Go(func() error {
			paths, err := c.modelArtifacts(gctx, r.Info.RunID)
			if err != nil {
				// a run without readable artifacts simply has no models
				c.logger.Debug("artifact listing failed", "run_id", r.Info.RunID, "error", err)
				return nil
			}
			found[i] = paths
			return nil
		})
	}
	_ = g.Wait()

	var out []RunWithModels
	for i, r := range runs {
		if len(found[i]) > 0 {
			out = append(out, RunWithModels{Run: r, ModelArtifacts: found[i]})
		}
	}
	return out, nil
}

func (c *Client) modelArtifacts(ctx context.Context, runID string) ([]string, error) {
	root, err := c.ListArtifacts(ctx, runID, "")
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, f := range root {
		if !f.IsDir {
			if strings.HasSuffix(f.Path, mlmodelFile) {
				paths = append(paths, f.Path)
			}
			continue
		}
		children, err := c.ListArtifacts(ctx, runID, f.Path)
		if err != nil {
			continue
		}
		for _, ch := range children {
			if !ch.IsDir && strings.HasSuffix(ch.Path, mlmodelFile) {
				paths = append(paths, ch.Path)
			}
		}
	}
	return paths, nil
}

// RecentlyUsedModels ranks registered models by how recently one of their
// versions was produced by a run.
//
// # Description
//
// The newest RecentRunWindow runs across all experiments are matched against
// the run ids recorded on every model version. Models are ordered by the
// start time of their newest matching run and truncated to limit.
func (c *Client) RecentlyUsedModels(ctx context.Context, limit int) ([]ModelUsage, error) {
	models, err := c.ListRegisteredModels(ctx)
	if err != nil {
		return nil, err
	}
	if len(models) == 0 {
		return nil, nil
	}
	exps, err := c.ListExperiments(ctx)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(models))
	for _, m := range models {
		names = append(names, m.Name)
	}

	var (
		versions map[string][]ModelVersion
		perExp   [][]Run
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		versions = c.ModelVersions(gctx, names)
		return nil
	})
	g.Go(func() error {
		var err error
		perExp, err = c.runsPerExperiment(gctx, exps)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	type ref struct{ model, version string }
	byRun := make(map[string][]ref)
	for _, name := range names {
		for _, v := range versions[name] {
			if v.RunID != "" {
				byRun[v.RunID] = append(byRun[v.RunID], ref{model: name, version: v.Version})
			}
		}
	}

	var all []Run
	for _, rs := range perExp {
		all = append(all, rs...)
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Info.StartTime > all[j].Info.StartTime
	})
	if len(all) > RecentRunWindow {
		all = all[:RecentRunWindow]
	}

	usage := make(map[string]*ModelUsage)
	seenVersion := make(map[string]map[string]bool)
	for _, r := range all {
		for _, rf := range byRun[r.Info.RunID] {
			u, ok := usage[rf.model]
			if !ok {
				u = &ModelUsage{Name: rf.model}
				usage[rf.model] = u
				seenVersion[rf.model] = make(map[string]bool)
			}
			u.UsageCount++
			if r.Info.StartTime > u.LatestUsed {
				u.LatestUsed = r.Info.StartTime
			}
			if rf.version != "" && !seenVersion[rf.model][rf.version] {
				seenVersion[rf.model][rf.version] = true
				u.Versions = append(u.Versions, rf.version)
			}
		}
	}

	out := make([]ModelUsage, 0, len(usage))
	for _, u := range usage {
		sort.Strings(u.Versions)
		out = append(out, *u)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].LatestUsed != out[j].LatestUsed {
			return out[i].LatestUsed > out[j].LatestUsed
		}
		return out[i].Name < out[j].Name
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
