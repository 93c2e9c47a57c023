// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/AleutianAI/mlflow-assistant/services/orchestrator/intent"
	"github.com/AleutianAI/mlflow-assistant/services/orchestrator/resolver"
	"github.com/AleutianAI/mlflow-assistant/services/orchestrator/tracking"
)

// stageNone is the registry's placeholder for an unstaged version.
const stageNone = "None"

func (e *Engine) modelVersions(ctx context.Context, c *Call) intent.Outcome {
	name := c.Entities().String(intent.KeyModelName)
	if strings.TrimSpace(name) == "" {
		// The classifier sometimes files general questions here; a
		// substantive answer passes through untouched.
		if isInformational(c.Request.Message) {
			return c.Request.Outcome()
		}
		return c.Clarify("Please provide a model name to get versions for.")
	}

	versions, err := e.tracker.SearchModelVersions(ctx, name)
	if err != nil {
		return c.Clarify("❌ " + describe("Failed to get model versions", err))
	}
	if len(versions) == 0 {
		return c.Done(fmt.Sprintf("No versions found for model '%s'.", name))
	}

	var b strings.Builder
	for _, v := range versions {
		fmt.Fprintf(&b, "• Version %s (Status: %s)\n  - Created by: %s\n  - Created on: %s\n  - Run ID: %s\n",
			orUnknown(v.Version),
			orUnknown(v.CurrentStage),
			orUnknown(v.UserID),
			e.stamp(v.CreationTimestamp, dateTimeLayout),
			orUnknown(v.RunID))
	}
	return c.Done(fmt.Sprintf("📋 Versions for model '%s':\n\n%s", name, b.String()))
}

func (e *Engine) modelDetails(ctx context.Context, c *Call) intent.Outcome {
	ents := c.Entities()
	name := ents.String(intent.KeyModelName)
	if strings.TrimSpace(name) == "" {
		return c.Clarify("Please provide a model name to get details for.")
	}

	v, err := e.tracker.GetModelDetails(ctx, name, strings.TrimSpace(ents.String(intent.KeyVersion)))
	if errors.Is(err, tracking.ErrNoModelVersions) {
		return c.Done(fmt.Sprintf("No details found for model '%s'.", name))
	}
	if err != nil {
		return c.Clarify("❌ " + describe("Failed to get model details", err))
	}

	expName := unknown
	if v.RunID != "" {
		if run, err := e.tracker.GetRun(ctx, v.RunID); err == nil && run.Info.ExperimentID != "" {
			if exp, err := e.tracker.GetExperiment(ctx, run.Info.ExperimentID); err == nil {
				expName = orUnknown(exp.Name)
			}
		}
	}

	return c.Done(fmt.Sprintf(
		"📦 Model: %s (Version %s)\n\n• Status: %s\n• Created by: %s\n• Created on: %s\n• Run ID: %s\n• Experiment: %s\n• Artifact Location: %s\n",
		name,
		orUnknown(v.Version),
		orUnknown(v.CurrentStage),
		orUnknown(v.UserID),
		e.stamp(v.CreationTimestamp, dateTimeLayout),
		orUnknown(v.RunID),
		expName,
		orUnknown(v.Source),
	))
}

func (e *Engine) recentModels(ctx context.Context, c *Call) intent.Outcome {
	raw, _ := c.Entities().Raw(intent.KeyLimit)
	limit := resolver.Limit(raw, resolver.DefaultLimit)

	models, err := e.tracker.RecentlyUpdatedModels(ctx, limit)
	if err != nil {
		return c.Clarify("❌ " + describe("Error retrieving recent models", err))
	}
	if len(models) == 0 {
		return c.Done("No registered models found in MLflow.")
	}

	versions := e.tracker.ModelVersions(ctx, modelNames(models))
	var b strings.Builder
	for i, m := range models {
		latest := unknown
		if v, ok := tracking.LatestVersion(versions[m.Name]); ok {
			latest = orUnknown(v.Version)
		}
		fmt.Fprintf(&b, "%d. %s\n   • Last Updated: %s\n   • Latest Version: %s\n",
			i+1, orUnknown(m.Name), e.stamp(m.LastUpdatedTimestamp, dateTimeLayout), latest)
	}
	return c.Done(fmt.Sprintf("🔄 Top %d Recently Updated Models:\n\n%s", len(models), b.String()))
}

func (e *Engine) registeredModels(ctx context.Context, c *Call) intent.Outcome {
	models, err := e.tracker.ListRegisteredModels(ctx)
	if err != nil {
		return c.Clarify("❌ " + describe("Failed to get registered models", err))
	}
	if len(models) == 0 {
		return c.Done("No registered models found in MLflow.")
	}

	shown := models[:min(len(models), ListCap)]
	versions := e.tracker.ModelVersions(ctx, modelNames(shown))

	lines := make([]string, 0, len(shown))
	for i, m := range shown {
		vs := versions[m.Name]
		latest := unknown
		if v, ok := tracking.LatestVersion(vs); ok {
			latest = orUnknown(v.Version)
		}
		updated := ""
		if !m.LastUpdatedTimestamp.IsZero() {
			updated = ", Updated: " + e.stamp(m.LastUpdatedTimestamp, dateLayout)
		}
		stages := ""
		if s := distinctStages(vs); len(s) > 0 {
			stages = ", Stages: " + strings.Join(s, ", ")
		}
		name := m.Name
		if name == "" {
			name = "Unnamed"
		}
		lines = append(lines, fmt.Sprintf("%d. %s (Latest version: %s%s%s)", i+1, name, latest, updated, stages))
	}
	return c.Done(fmt.Sprintf("📋 Found %d registered models:\n\n%s%s",
		len(models), strings.Join(lines, "\n"), moreSuffix(len(models), ListCap, "models")))
}

func (e *Engine) modelsWithArtifacts(ctx context.Context, c *Call) intent.Outcome {
	exp, out, ok := e.experiment(ctx, c, experimentPrompts{
		missing:  "Please provide either an experiment ID or name to find models.",
		notFound: "No experiment found named '%s'.",
	})
	if !ok {
		return out
	}

	runs, err := e.tracker.RunsWithModels(ctx, exp.ID)
	if err != nil {
		return c.Clarify("❌ " + describe("Failed to list runs", err))
	}
	if len(runs) == 0 {
		return c.Done(fmt.Sprintf("No runs with logged models found in experiment %s.", exp.ID))
	}

	var b strings.Builder
	for i, r := range runs[:min(len(runs), ArtifactRunCap)] {
		name := r.Run.Name()
		if name == "" {
			name = "Unnamed run"
		}
		paths := strings.Join(r.ModelArtifacts, "\n      ")
		if paths == "" {
			paths = "No specific paths found"
		}
		fmt.Fprintf(&b, "%d. %s (ID: %s)\n   • Status: %s\n   • Started: %s\n   • Model Artifacts:\n      %s\n",
			i+1, name, prefixID(orUnknown(r.Run.Info.RunID)),
			orUnknown(r.Run.Info.Status),
			e.stamp(r.Run.Info.StartTime, dateTimeLayout),
			paths)
	}
	if len(runs) > ArtifactRunCap {
		fmt.Fprintf(&b, "\n...and %d more runs with models.", len(runs)-ArtifactRunCap)
	}
	return c.Done(fmt.Sprintf("🔍 Found %d runs with models in experiment %s:\n\n%s", len(runs), exp.ID, b.String()))
}

func (e *Engine) recentlyUsedModels(ctx context.Context, c *Call) intent.Outcome {
	raw, _ := c.Entities().Raw(intent.KeyLimit)
	limit := resolver.Limit(raw, resolver.DefaultLimit)

	usage, err := e.tracker.RecentlyUsedModels(ctx, limit)
	if err != nil {
		return c.Clarify("❌ " + describe("Error retrieving recently used models", err))
	}
	if len(usage) == 0 {
		return c.Done("No recently used models found in MLflow.")
	}

	var b strings.Builder
	for i, u := range usage {
		versions := unknown
		if len(u.Versions) > 0 {
			versions = strings.Join(u.Versions, ", ")
		}
		fmt.Fprintf(&b, "%d. %s\n   • Last Used: %s\n   • Versions Used: %s\n   • Recent Usage Count: %d\n",
			i+1, u.Name, e.stamp(u.LatestUsed, dateTimeLayout), versions, u.UsageCount)
	}
	return c.Done(fmt.Sprintf("🔄 Top %d Recently Used Models:\n\n%s", len(usage), b.String()))
}

func modelNames(models []tracking.RegisteredModel) []string {
	names := make([]string, 0, len(models))
	for _, m := range models {
		names = append(names, m.Name)
	}
	return names
}

func distinctStages(versions []tracking.ModelVersion) []string {
	seen := make(map[string]struct{})
	for _, v := range versions {
		if v.CurrentStage != "" && v.CurrentStage != stageNone {
			seen[v.CurrentStage] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
