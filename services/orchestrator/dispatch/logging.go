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
	"github.com/AleutianAI/mlflow-assistant/services/orchestrator/resolver"
	"github.com/AleutianAI/mlflow-assistant/services/orchestrator/tracking"
)

func (e *Engine) logParam(ctx context.Context, c *Call) intent.Outcome {
	ents := c.Entities()
	runID, _, err := e.resolver.RunID(ents, c.SessionID)
	if err != nil {
		return c.Clarify("We need a 'run_id' to log this param, and none is stored. Please provide an actual run_id, e.g. 'abc123'.")
	}

	key := ents.String(intent.KeyParamKey)
	if strings.TrimSpace(key) == "" {
		return c.Clarify("We need the parameter key (e.g. 'alpha').")
	}
	if !ents.Has(intent.KeyParamValue) {
		return c.Clarify("We need the parameter value (e.g. '0.1').")
	}
	raw, _ := ents.Raw(intent.KeyParamValue)
	value := resolver.Display(raw)

	if err := e.tracker.LogParam(ctx, runID, key, value); err != nil {
		return c.Clarify("❌ " + tracking.Detail(err))
	}
	return c.Done(fmt.Sprintf("✅ Logged param '%s':'%s' to run %s", key, value, runID))
}

// logMetric validates every field before the tracking call; a bad value
// never reaches the server.
func (e *Engine) logMetric(ctx context.Context, c *Call) intent.Outcome {
	ents := c.Entities()
	runID, _, err := e.resolver.RunID(ents, c.SessionID)
	if err != nil {
		return c.Clarify("We need a 'run_id' to log the metric, and none is stored. Please provide an actual run_id, e.g. 'abc123'.")
	}

	key := ents.String(intent.KeyMetricKey)
	if strings.TrimSpace(key) == "" {
		return c.Clarify("We need the metric name/key (e.g. 'accuracy').")
	}
	if !ents.Has(intent.KeyMetricValue) {
		return c.Clarify("We need a metric value (e.g. '0.95').")
	}

	raw, _ := ents.Raw(intent.KeyMetricValue)
	value, err := resolver.Float(intent.KeyMetricValue, raw)
	if err != nil {
		return c.Clarify(fmt.Sprintf("The provided metric value '%s' isn't a number.", resolver.Display(raw)))
	}

	rawStep, _ := ents.Raw(intent.KeyStep)
	step, err := resolver.Int(intent.KeyStep, rawStep, 0)
	if err != nil {
		return c.Clarify(fmt.Sprintf("The provided step '%s' isn't a whole number.", resolver.Display(rawStep)))
	}

	if err := e.tracker.LogMetric(ctx, runID, key, value, step); err != nil {
		return c.Clarify("❌ " + tracking.Detail(err))
	}
	return c.Done(fmt.Sprintf("✅ Logged metric '%s':%s to run %s at step %d", key, formatFloat(value), runID, step))
}
