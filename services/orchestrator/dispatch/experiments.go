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
	"fmt"
	"strconv"
	"strings"

	"github.com/AleutianAI/mlflow-assistant/services/orchestrator/intent"
	"github.com/AleutianAI/mlflow-assistant/services/orchestrator/resolver"
	"github.com/AleutianAI/mlflow-assistant/services/orchestrator/session"
	"github.com/AleutianAI/mlflow-assistant/services/orchestrator/tracking"
)

// experimentPrompts are the clarifications for an experiment reference.
// notFound is a format string taking the name.
type experimentPrompts struct {
	missing  string
	notFound string
}

// experiment resolves the target experiment. When ok is false, out is the
// clarification to return.
func (e *Engine) experiment(ctx context.Context, c *Call, p experimentPrompts) (exp resolver.Experiment, out intent.Outcome, ok bool) {
	exp, err := e.resolver.ExperimentID(ctx, c.Entities())
	if err == nil {
		return exp, intent.Outcome{}, true
	}
	if u, isUnresolved := resolver.AsUnresolved(err); isUnresolved {
		if u.Reason == resolver.NotFound {
			return exp, c.Clarify(fmt.Sprintf(p.notFound, u.Value)), false
		}
		return exp, c.Clarify(p.missing), false
	}
	return exp, c.Clarify("❌ " + describe("Failed to look up experiment", err)), false
}

func (e *Engine) createExperiment(ctx context.Context, c *Call) intent.Outcome {
	name := c.Entities().String(intent.KeyExperimentName)
	if strings.TrimSpace(name) == "" {
		return c.Clarify("Please provide an experiment name. For example: 'my_experiment'.")
	}
	id, err := e.tracker.CreateExperiment(ctx, name)
	if err != nil {
		return c.Clarify("❌ Failed to create experiment: " + tracking.Detail(err))
	}
	return c.Done(fmt.Sprintf("✅ Experiment '%s' created with ID: %s.", name, id))
}

func (e *Engine) createExperimentAndStartRun(ctx context.Context, c *Call) intent.Outcome {
	name := c.Entities().String(intent.KeyExperimentName)
	if strings.TrimSpace(name) == "" {
		return c.Clarify("Please provide an experiment name so we can create it and start a run.\ne.g. 'my_experiment'")
	}
	expID, err := e.tracker.CreateExperiment(ctx, name)
	if err != nil {
		return c.Clarify("❌ Failed to create experiment: " + tracking.Detail(err))
	}
	runID, err := e.tracker.CreateRun(ctx, expID, c.Entities().String(intent.KeyRunName))
	if err != nil {
		return c.Clarify("❌ Created experiment but failed to start run: " + tracking.Detail(err))
	}
	e.remember(c.SessionID, session.KeyCurrentRunID, runID)
	return c.Done(fmt.Sprintf("✅ Created experiment '%s' (ID: %s) and started run (ID: %s).", name, expID, runID))
}

func (e *Engine) createRun(ctx context.Context, c *Call) intent.Outcome {
	exp, out, ok := e.experiment(ctx, c, experimentPrompts{
		missing:  "To create a run, please specify either an 'experiment_id' or an 'experiment_name'.\ne.g. 'my_experiment'",
		notFound: "No experiment found named '%s'. Please create it first or provide an existing ID.",
	})
	if !ok {
		return out
	}
	runID, err := e.tracker.CreateRun(ctx, exp.ID, c.Entities().String(intent.KeyRunName))
	if err != nil {
		return c.Clarify("❌ Failed to create run: " + tracking.Detail(err))
	}
	e.remember(c.SessionID, session.KeyCurrentRunID, runID)
	return c.Done(fmt.Sprintf("✅ Run created in experiment %s, run_id: %s", exp.ID, runID))
}

// deleteExperiment never falls back to session memory.
func (e *Engine) deleteExperiment(ctx context.Context, c *Call) intent.Outcome {
	exp, out, ok := e.experiment(ctx, c, experimentPrompts{
		missing:  "To delete an experiment, please specify 'experiment_id' or 'experiment_name'.",
		notFound: "No experiment found named '%s'. Please provide a valid experiment name/ID.",
	})
	if !ok {
		return out
	}
	if err := e.tracker.DeleteExperiment(ctx, exp.ID); err != nil {
		return c.Clarify("❌ Failed to delete experiment: " + tracking.Detail(err))
	}
	return c.Done(fmt.Sprintf("✅ Experiment %s was deleted.", exp.ID))
}

func (e *Engine) deleteRun(ctx context.Context, c *Call) intent.Outcome {
	runID, _, err := e.resolver.RunID(c.Entities(), c.SessionID)
	if err != nil {
		return c.Clarify("To delete a run, please provide a run_id, e.g. 'abc123'.")
	}
	if err := e.tracker.DeleteRun(ctx, runID); err != nil {
		return c.Clarify("❌ Failed to delete run: " + tracking.Detail(err))
	}
	return c.Done(fmt.Sprintf("✅ Run %s was deleted.", runID))
}

func (e *Engine) experimentDetails(ctx context.Context, c *Call) intent.Outcome {
	ents := c.Entities()
	name := ents.String(intent.KeyExperimentName)
	id := strings.TrimSpace(ents.String(intent.KeyExperimentID))
	if id == "" && strings.TrimSpace(name) == "" {
		return c.Clarify("Please provide an experiment name or ID to get details.")
	}

	// a name, when given, is authoritative here
	if strings.TrimSpace(name) != "" {
		exp, err := e.resolver.ExperimentByName(ctx, name)
		if err != nil {
			if _, isUnresolved := resolver.AsUnresolved(err); !isUnresolved {
				return c.Clarify("❌ " + describe("Failed to look up experiment", err))
			}
			return e.experimentNotFound(ctx, c, name)
		}
		id = exp.ID
	}

	exp, err := e.tracker.GetExperiment(ctx, id)
	if err != nil {
		return c.Clarify("❌ Error getting experiment details: " + describe("Failed to retrieve experiment details", err))
	}

	runCount := unknown
	if runs, err := e.tracker.SearchRuns(ctx, id); err == nil {
		runCount = strconv.Itoa(len(runs))
	}

	return c.Done(fmt.Sprintf(
		"📋 Experiment Details: %s\n\n• ID: %s\n• Created: %s\n• Status: %s\n• Artifact Location: %s\n• Total Runs: %s",
		orUnknown(exp.Name),
		id,
		e.stamp(exp.CreationTime, dateTimeLayout),
		orUnknown(exp.LifecycleStage),
		orUnknown(exp.ArtifactLocation),
		runCount,
	))
}

// experimentNotFound builds the miss message with a sample of real names.
func (e *Engine) experimentNotFound(ctx context.Context, c *Call, name string) intent.Outcome {
	names, more, err := e.resolver.Suggestions(ctx, SuggestionCount)
	if err != nil {
		return c.Clarify("❌ Error listing experiments: " + tracking.Detail(err))
	}
	if len(names) == 0 {
		return c.Clarify("❌ No experiments found in MLflow.")
	}
	list := quoteList(names)
	if more > 0 {
		list += fmt.Sprintf(", and %d more", more)
	}
	return c.Clarify(fmt.Sprintf("❌ Experiment '%s' not found. Available experiments include: %s", name, list))
}

func (e *Engine) listExperiments(ctx context.Context, c *Call) intent.Outcome {
	exps, err := e.tracker.ListExperiments(ctx)
	if err != nil {
		return c.Clarify("❌ " + describe("Failed to list experiments", err))
	}
	if len(exps) == 0 {
		return c.Done("No experiments found in MLflow.")
	}

	lines := make([]string, 0, min(len(exps), ListCap))
	for i, exp := range exps[:min(len(exps), ListCap)] {
		created := ""
		if !exp.CreationTime.IsZero() {
			created = ", Created: " + e.stamp(exp.CreationTime, dateLayout)
		}
		name := exp.Name
		if name == "" {
			name = "Unnamed"
		}
		lines = append(lines, fmt.Sprintf("%d. %s (ID: %s%s, Status: %s)",
			i+1, name, orUnknown(exp.ExperimentID), created, orUnknown(exp.LifecycleStage)))
	}
	return c.Done(fmt.Sprintf("📋 Found %d experiments:\n\n%s%s",
		len(exps), strings.Join(lines, "\n"), moreSuffix(len(exps), ListCap, "experiments")))
}

func (e *Engine) listRuns(ctx context.Context, c *Call) intent.Outcome {
	exp, out, ok := e.experiment(ctx, c, experimentPrompts{
		missing:  "Please provide either an experiment ID or name to list runs for.",
		notFound: "No experiment found named '%s'.",
	})
	if !ok {
		return out
	}

	runs, err := e.tracker.SearchRuns(ctx, exp.ID)
	if err != nil {
		return c.Clarify("❌ " + describe("Failed to list runs", err))
	}
	if len(runs) == 0 {
		return c.Done(fmt.Sprintf("No runs found for experiment ID %s.", exp.ID))
	}

	expName := unknown
	if details, err := e.tracker.GetExperiment(ctx, exp.ID); err == nil {
		expName = orUnknown(details.Name)
	}

	lines := make([]string, 0, min(len(runs), ListCap))
	for i, r := range runs[:min(len(runs), ListCap)] {
		name := r.Name()
		if name == "" {
			name = "Unnamed run"
		}
		started := ""
		if !r.Info.StartTime.IsZero() {
			started = ", Started: " + e.stamp(r.Info.StartTime, dateTimeLayout)
		}
		lines = append(lines, fmt.Sprintf("%d. %s (ID: %s, Status: %s%s%s)",
			i+1, name, shortID(orUnknown(r.Info.RunID)), orUnknown(r.Info.Status), started, runMetrics(r)))
	}
	return c.Done(fmt.Sprintf("📋 Found %d runs for experiment '%s':\n\n%s%s",
		len(runs), expName, strings.Join(lines, "\n"), moreSuffix(len(runs), ListCap, "runs")))
}

func (e *Engine) summary(ctx context.Context, c *Call) intent.Outcome {
	s, err := e.tracker.Summary(ctx)
	if err != nil {
		return c.Clarify("❌ Error retrieving MLflow summary: " + tracking.Detail(err))
	}
	return c.Done(fmt.Sprintf(
		"📊 MLflow Summary Statistics:\n\n• Total Experiments: %d\n• Registered Models: %d\n• Total Runs: %d\n• Active Runs: %d\n• Data as of: %s",
		s.ExperimentCount, s.RegisteredModelCount, s.TotalRuns, s.ActiveRuns, e.formatTime(s.AsOf),
	))
}
