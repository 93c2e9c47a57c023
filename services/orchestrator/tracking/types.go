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
	"bytes"
	"encoding/json"
	"strconv"
	"time"
)

// Millis is an epoch-milliseconds timestamp. MLflow encodes int64 fields as
// JSON numbers or as strings depending on server version; both decode.
type Millis int64

// UnmarshalJSON implements json.Unmarshaler.
func (m *Millis) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	if len(b) == 0 || string(b) == "null" {
		*m = 0
		return nil
	}
	n, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return err
	}
	*m = Millis(n)
	return nil
}

// Time converts m to a time.Time. The zero Millis yields the zero Time.
func (m Millis) Time() time.Time {
	if m == 0 {
		return time.Time{}
	}
	return time.UnixMilli(int64(m))
}

// IsZero reports whether the timestamp is unset.
func (m Millis) IsZero() bool { return m == 0 }

// Experiment mirrors the MLflow experiment message.
type Experiment struct {
	ExperimentID     string `json:"experiment_id"`
	Name             string `json:"name"`
	ArtifactLocation string `json:"artifact_location"`
	LifecycleStage   string `json:"lifecycle_stage"`
	CreationTime     Millis `json:"creation_time"`
	LastUpdateTime   Millis `json:"last_update_time"`
}

// RunInfo mirrors the MLflow run info message.
type RunInfo struct {
	RunID          string `json:"run_id"`
	RunName        string `json:"run_name"`
	ExperimentID   string `json:"experiment_id"`
	Status         string `json:"status"`
	StartTime      Millis `json:"start_time"`
	EndTime        Millis `json:"end_time"`
	ArtifactURI    string `json:"artifact_uri"`
	LifecycleStage string `json:"lifecycle_stage"`
}

// Metric is one logged metric value.
type Metric struct {
	Key       string  `json:"key"`
	Value     float64 `json:"value"`
	Timestamp Millis  `json:"timestamp"`
	Step      int64   `json:"step"`
}

// KeyValue is a param or tag.
type KeyValue struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// RunData carries the run's logged values.
type RunData struct {
	Metrics []Metric   `json:"metrics"`
	Params  []KeyValue `json:"params"`
	Tags    []KeyValue `json:"tags"`
}

// Run mirrors the MLflow run message.
type Run struct {
	Info RunInfo `json:"info"`
	Data RunData `json:"data"`
}

// RunStatusRunning is the status of an active run.
const RunStatusRunning = "RUNNING"

// runNameTag is the tag older MLflow servers use for the run name.
const runNameTag = "mlflow.runName"

// Name returns the run name from info or, on older servers, the run name tag.
func (r Run) Name() string {
	if r.Info.RunName != "" {
		return r.Info.RunName
	}
	for _, t := range r.Data.Tags {
		if t.Key == runNameTag {
			return t.Value
		}
	}
	return ""
}

// RegisteredModel mirrors the MLflow registered model message.
type RegisteredModel struct {
	Name                 string         `json:"name"`
	CreationTimestamp    Millis         `json:"creation_timestamp"`
	LastUpdatedTimestamp Millis         `json:"last_updated_timestamp"`
	Description          string         `json:"description"`
	LatestVersions       []ModelVersion `json:"latest_versions"`
}

// ModelVersion mirrors the MLflow model version message.
type ModelVersion struct {
	Name                 string `json:"name"`
	Version              string `json:"version"`
	CreationTimestamp    Millis `json:"creation_timestamp"`
	LastUpdatedTimestamp Millis `json:"last_updated_timestamp"`
	UserID               string `json:"user_id"`
	CurrentStage         string `json:"current_stage"`
	Source               string `json:"source"`
	RunID                string `json:"run_id"`
	Status               string `json:"status"`
}

// VersionNumber parses Version, returning 0 when it is not an integer.
func (v ModelVersion) VersionNumber() int {
	n, err := strconv.Atoi(v.Version)
	if err != nil {
		return 0
	}
	return n
}

// FileInfo is one artifact listing entry.
type FileInfo struct {
	Path     string `json:"path"`
	IsDir    bool   `json:"is_dir"`
	FileSize int64  `json:"file_size,omitempty"`
}

// CreatedExperiment is one batch experiment result.
type CreatedExperiment struct {
	Name string
	ID   string
	Err  error
}

// CreatedRun is one batch run result.
type CreatedRun struct {
	Name string
	ID   string
	Err  error
}

// Summary aggregates counts across the tracking server.
type Summary struct {
	ExperimentCount      int
	RegisteredModelCount int
	TotalRuns            int
	ActiveRuns           int
	AsOf                 time.Time
}

// RunWithModels is a run whose artifacts include a logged model.
type RunWithModels struct {
	Run            Run
	ModelArtifacts []string
}

// ModelUsage summarizes how a registered model was referenced by recent runs.
type ModelUsage struct {
	Name       string
	LatestUsed Millis
	Versions   []string
	UsageCount int
}

// Raw JSON envelopes.

type experimentEnvelope struct {
	Experiment Experiment `json:"experiment"`
}

type experimentsPage struct {
	Experiments   []Experiment `json:"experiments"`
	NextPageToken string       `json:"next_page_token"`
}

type runEnvelope struct {
	Run Run `json:"run"`
}

type runsPage struct {
	Runs          []Run  `json:"runs"`
	NextPageToken string `json:"next_page_token"`
}

type registeredModelsPage struct {
	RegisteredModels []RegisteredModel `json:"registered_models"`
	NextPageToken    string            `json:"next_page_token"`
}

type modelVersionsPage struct {
	ModelVersions []ModelVersion `json:"model_versions"`
	NextPageToken string         `json:"next_page_token"`
}

type modelVersionEnvelope struct {
	ModelVersion ModelVersion `json:"model_version"`
}

type artifactsPage struct {
	RootURI       string     `json:"root_uri"`
	Files         []FileInfo `json:"files"`
	NextPageToken string     `json:"next_page_token"`
}

type createExperimentResponse struct {
	ExperimentID string `json:"experiment_id"`
}

// apiErrorBody is MLflow's error document.
type apiErrorBody struct {
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
}

var _ json.Unmarshaler = (*Millis)(nil)
