// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package intent maps the classifier's loosely shaped JSON guess onto the
// closed intent taxonomy.
//
// Everything here is syntactic. Nothing in this package performs I/O.
package intent

// Intent is a member of the closed intent taxonomy.
type Intent string

// Actionable intents.
const (
	CreateExperiment            Intent = "create_experiment"
	CreateExperimentAndStartRun Intent = "create_experiment_and_start_run"
	CreateRun                   Intent = "create_run"
	DeleteExperiment            Intent = "delete_experiment"
	DeleteRun                   Intent = "delete_run"
	LogParam                    Intent = "log_param"
	LogMetric                   Intent = "log_metric"
	ListExperiments             Intent = "list_experiments"
	ListRuns                    Intent = "list_runs"
	GetExperimentDetails        Intent = "get_experiment_details"
	GetMLflowSummary            Intent = "get_mlflow_summary"
	GetModelVersions            Intent = "get_model_versions"
	GetModelDetails             Intent = "get_model_details"
	GetRecentModels             Intent = "get_recent_models"
	BatchCreateExperiments      Intent = "batch_create_experiments"
	GetModelsWithArtifacts      Intent = "get_models_with_artifacts"
	GetRecentlyUsedModels       Intent = "get_recently_used_models"
	GetRegisteredModels         Intent = "get_registered_models"
	BatchCreateRuns             Intent = "batch_create_runs"
	Other                       Intent = "other_intent"
)

// Outcome-only intents. The classifier never legitimately produces these.
const (
	Unknown Intent = "unknown"
	Error   Intent = "error"
)

// Known lists every intent the classifier may return.
var Known = []Intent{
	CreateExperiment,
	CreateExperimentAndStartRun,
	CreateRun,
	DeleteExperiment,
	DeleteRun,
	LogParam,
	LogMetric,
	ListExperiments,
	ListRuns,
	GetExperimentDetails,
	GetMLflowSummary,
	GetModelVersions,
	GetModelDetails,
	GetRecentModels,
	BatchCreateExperiments,
	GetModelsWithArtifacts,
	GetRecentlyUsedModels,
	GetRegisteredModels,
	BatchCreateRuns,
	Other,
}

var knownSet = func() map[Intent]struct{} {
	m := make(map[Intent]struct{}, len(Known))
	for _, in := range Known {
		m[in] = struct{}{}
	}
	return m
}()

// IsKnown reports whether in belongs to the taxonomy.
func (in Intent) IsKnown() bool {
	_, ok := knownSet[in]
	return ok
}

func (in Intent) String() string { return string(in) }

// Confirmation is the classifier's readiness flag.
type Confirmation string

const (
	Confirmed          Confirmation = "confirmed"
	Canceled           Confirmation = "canceled"
	NeedsClarification Confirmation = "needs_clarification"
)

// Valid reports whether c is one of the three defined states.
func (c Confirmation) Valid() bool {
	switch c {
	case Confirmed, Canceled, NeedsClarification:
		return true
	}
	return false
}

// intentSynonyms maps phrasings a classifier commonly emits onto canonical
// intents. Keys are already folded by foldName.
var intentSynonyms = map[string]Intent{
	"add_metric":         LogMetric,
	"add_metrics":        LogMetric,
	"record_metric":      LogMetric,
	"log_metrics":        LogMetric,
	"add_param":          LogParam,
	"add_parameter":      LogParam,
	"log_parameter":      LogParam,
	"log_params":         LogParam,
	"set_param":          LogParam,
	"create_experiments": BatchCreateExperiments,
	"create_runs":        BatchCreateRuns,
	"start_run":          CreateRun,
	"list_models":        GetRegisteredModels,
	"mlflow_summary":     GetMLflowSummary,
}
