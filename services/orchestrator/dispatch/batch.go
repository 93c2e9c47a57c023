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
	"strings"

	"github.com/AleutianAI/mlflow-assistant/services/orchestrator/intent"
	"github.com/AleutianAI/mlflow-assistant/services/orchestrator/session"
	"github.com/AleutianAI/mlflow-assistant/services/orchestrator/tracking"
)

// Batches are best-effort: items are created in order, failures are
// reported per item and nothing is rolled back. Only a batch with no
// successes asks for clarification.

func (e *Engine) batchCreateExperiments(ctx context.Context, c *Call) intent.Outcome {
	names, ok := c.Entities().StringList(intent.KeyExperimentNames)
	if !ok || len(names) == 0 {
		return c.Clarify("Please provide a list of experiment names to create.")
	}

	results := e.tracker.CreateExperiments(ctx, names)
	var (
		ids       []string
		succeeded []string
		failed    []string
	)
	for _, r := range results {
		if r.Err != nil {
			failed = append(failed, fmt.Sprintf("• %s (Error: %s)", r.Name, tracking.Detail(r.Err)))
			continue
		}
		ids = append(ids, r.ID)
		succeeded = append(succeeded, fmt.Sprintf("• %s (ID: %s)", r.Name, r.ID))
	}

	switch {
	case len(ids) == 0:
		return c.Clarify("❌ Failed to create any experiments.")
	case len(failed) == 0:
		e.remember(c.SessionID, session.KeyBatchExperimentIDs, ids)
		return c.Done(fmt.Sprintf("✅ Successfully created all %d experiments:\n\n%s",
			len(names), strings.Join(succeeded, "\n")))
	default:
		e.remember(c.SessionID, session.KeyBatchExperimentIDs, ids)
		return c.Done(fmt.Sprintf("⚠️ Created %d out of %d experiments.\n\nSuccessful:\n%s\n\nFailed:\n%s",
			len(ids), len(names), strings.Join(succeeded, "\n"), strings.Join(failed, "\n")))
	}
}

func (e *Engine) batchCreateRuns(ctx context.Context, c *Call) intent.Outcome {
	names, ok := c.Entities().StringList(intent.KeyRunNames)
	if !ok || len(names) == 0 {
		return c.Clarify("Please provide a list of run names to create.")
	}

	exp, out, ok := e.experiment(ctx, c, experimentPrompts{
		missing:  "Please provide either an experiment ID or name to create runs in.",
		notFound: "No experiment found named '%s'. Please create it first or provide an existing ID.",
	})
	if !ok {
		return out
	}

	expName := unknown
	if details, err := e.tracker.GetExperiment(ctx, exp.ID); err == nil {
		expName = orUnknown(details.Name)
	}

	results := e.tracker.CreateRuns(ctx, exp.ID, names)
	var (
		ids       []string
		succeeded []string
		failed    []string
	)
	for _, r := range results {
		if r.Err != nil {
			failed = append(failed, fmt.Sprintf("• %s (Error: %s)", r.Name, tracking.Detail(r.Err)))
			continue
		}
		ids = append(ids, r.ID)
		succeeded = append(succeeded, fmt.Sprintf("• %s (ID: %s)", r.Name, shortID(r.ID)))
	}

	if len(ids) == 0 {
		return c.Clarify(fmt.Sprintf("❌ Failed to create any runs in experiment '%s'.", expName))
	}
	e.remember(c.SessionID, session.KeyCurrentRunID, ids[len(ids)-1])
	e.remember(c.SessionID, session.KeyBatchRunIDs, ids)

	if len(failed) == 0 {
		return c.Done(fmt.Sprintf("✅ Successfully created all %d runs in experiment '%s':\n\n%s",
			len(names), expName, strings.Join(succeeded, "\n")))
	}
	return c.Done(fmt.Sprintf("⚠️ Created %d out of %d runs in experiment '%s'.\n\nSuccessful:\n%s\n\nFailed:\n%s",
		len(ids), len(names), expName, strings.Join(succeeded, "\n"), strings.Join(failed, "\n")))
}
