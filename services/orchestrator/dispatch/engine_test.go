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
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/mlflow-assistant/services/orchestrator/intent"
	"github.com/AleutianAI/mlflow-assistant/services/orchestrator/resolver"
	"github.com/AleutianAI/mlflow-assistant/services/orchestrator/session"
	"github.com/AleutianAI/mlflow-assistant/services/orchestrator/tracking"
)

// fakeTracker records calls and serves canned data.
type fakeTracker struct {
	mu    sync.Mutex
	calls []string

	experiments []tracking.Experiment
	runs        map[string][]tracking.Run
	models      []tracking.RegisteredModel
	versions    map[string][]tracking.ModelVersion
	failNames   map[string]bool
	failAll     error
	panicOn     string
	nextRun     int
}

func newFakeTracker() *fakeTracker {
	return &fakeTracker{
		runs:      make(map[string][]tracking.Run),
		versions:  make(map[string][]tracking.ModelVersion),
		failNames: make(map[string]bool),
	}
}

func (f *fakeTracker) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	if f.panicOn != "" && strings.HasPrefix(call, f.panicOn) {
		panic("boom")
	}
	return f.failAll
}

func (f *fakeTracker) called(prefix string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if strings.HasPrefix(c, prefix) {
			return true
		}
	}
	return false
}

func (f *fakeTracker) ExperimentIDByName(_ context.Context, name string) (string, bool, error) {
	if err := f.record("lookup:" + name); err != nil {
		return "", false, err
	}
	for _, e := range f.experiments {
		if e.Name == name {
			return e.ExperimentID, true, nil
		}
	}
	return "", false, nil
}

func (f *fakeTracker) ExperimentNames(context.Context) ([]string, error) {
	var names []string
	for _, e := range f.experiments {
		names = append(names, e.Name)
	}
	return names, f.failAll
}

func (f *fakeTracker) CreateExperiment(_ context.Context, name string) (string, error) {
	if err := f.record("create_experiment:" + name); err != nil {
		return "", err
	}
	if f.failNames[name] {
		return "", &tracking.APIError{Operation: "experiments/create", StatusCode: 400, Body: "RESOURCE_ALREADY_EXISTS"}
	}
	id := fmt.Sprintf("%d", len(f.experiments)+1)
	f.experiments = append(f.experiments, tracking.Experiment{ExperimentID: id, Name: name})
	return id, nil
}

func (f *fakeTracker) CreateExperiments(ctx context.Context, names []string) []tracking.CreatedExperiment {
	out := make([]tracking.CreatedExperiment, 0, len(names))
	for _, n := range names {
		id, err := f.CreateExperiment(ctx, n)
		out = append(out, tracking.CreatedExperiment{Name: n, ID: id, Err: err})
	}
	return out
}

func (f *fakeTracker) DeleteExperiment(_ context.Context, id string) error {
	return f.record("delete_experiment:" + id)
}

func (f *fakeTracker) GetExperiment(_ context.Context, id string) (tracking.Experiment, error) {
	if err := f.record("get_experiment:" + id); err != nil {
		return tracking.Experiment{}, err
	}
	for _, e := range f.experiments {
		if e.ExperimentID == id {
			return e, nil
		}
	}
	return tracking.Experiment{}, &tracking.APIError{Operation: "experiments/get", StatusCode: 404, Body: "not found"}
}

func (f *fakeTracker) ListExperiments(context.Context) ([]tracking.Experiment, error) {
	if err := f.record("list_experiments"); err != nil {
		return nil, err
	}
	return f.experiments, nil
}

func (f *fakeTracker) CreateRun(_ context.Context, experimentID, runName string) (string, error) {
	if err := f.record("create_run:" + experimentID + ":" + runName); err != nil {
		return "", err
	}
	if f.failNames[runName] {
		return "", errors.New("connection reset")
	}
	f.nextRun++
	id := fmt.Sprintf("%032d", f.nextRun)
	f.runs[experimentID] = append(f.runs[experimentID], tracking.Run{Info: tracking.RunInfo{RunID: id, RunName: runName, ExperimentID: experimentID}})
	return id, nil
}

func (f *fakeTracker) CreateRuns(ctx context.Context, experimentID string, names []string) []tracking.CreatedRun {
	out := make([]tracking.CreatedRun, 0, len(names))
	for _, n := range names {
		id, err := f.CreateRun(ctx, experimentID, n)
		out = append(out, tracking.CreatedRun{Name: n, ID: id, Err: err})
	}
	return out
}

func (f *fakeTracker) DeleteRun(_ context.Context, runID string) error {
	return f.record("delete_run:" + runID)
}

func (f *fakeTracker) GetRun(_ context.Context, runID string) (tracking.Run, error) {
	if err := f.record("get_run:" + runID); err != nil {
		return tracking.Run{}, err
	}
	for _, rs := range f.runs {
		for _, r := range rs {
			if r.Info.RunID == runID {
				return r, nil
			}
		}
	}
	return tracking.Run{}, errors.New("no run")
}

func (f *fakeTracker) SearchRuns(_ context.Context, ids ...string) ([]tracking.Run, error) {
	if err := f.record("search_runs:" + strings.Join(ids, ",")); err != nil {
		return nil, err
	}
	var out []tracking.Run
	for _, id := range ids {
		out = append(out, f.runs[id]...)
	}
	return out, nil
}

func (f *fakeTracker) LogParam(_ context.Context, runID, key, value string) error {
	return f.record("log_param:" + runID + ":" + key + "=" + value)
}

func (f *fakeTracker) LogMetric(_ context.Context, runID, key string, value float64, step int64) error {
	return f.record(fmt.Sprintf("log_metric:%s:%s=%v@%d", runID, key, value, step))
}

func (f *fakeTracker) ListRegisteredModels(context.Context) ([]tracking.RegisteredModel, error) {
	if err := f.record("list_models"); err != nil {
		return nil, err
	}
	return f.models, nil
}

func (f *fakeTracker) RecentlyUpdatedModels(_ context.Context, limit int) ([]tracking.RegisteredModel, error) {
	if err := f.record(fmt.Sprintf("recent_models:%d", limit)); err != nil {
		return nil, err
	}
	return f.models[:min(limit, len(f.models))], nil
}

func (f *fakeTracker) SearchModelVersions(_ context.Context, name string) ([]tracking.ModelVersion, error) {
	if err := f.record("versions:" + name); err != nil {
		return nil, err
	}
	return f.versions[name], nil
}

func (f *fakeTracker) ModelVersions(ctx context.Context, names []string) map[string][]tracking.ModelVersion {
	out := make(map[string][]tracking.ModelVersion)
	for _, n := range names {
		if vs, err := f.SearchModelVersions(ctx, n); err == nil {
			out[n] = vs
		}
	}
	return out
}

func (f *fakeTracker) GetModelDetails(_ context.Context, name, version string) (tracking.ModelVersion, error) {
	if err := f.record("model_details:" + name + ":" + version); err != nil {
		return tracking.ModelVersion{}, err
	}
	vs := f.versions[name]
	if version == "" {
		v, ok := tracking.LatestVersion(vs)
		if !ok {
			return tracking.ModelVersion{}, tracking.ErrNoModelVersions
		}
		return v, nil
	}
	for _, v := range vs {
		if v.Version == version {
			return v, nil
		}
	}
	return tracking.ModelVersion{}, &tracking.APIError{Operation: "model-versions/get", StatusCode: 404, Body: "missing version"}
}

func (f *fakeTracker) Summary(context.Context) (tracking.Summary, error) {
	if err := f.record("summary"); err != nil {
		return tracking.Summary{}, err
	}
	return tracking.Summary{ExperimentCount: len(f.experiments), RegisteredModelCount: len(f.models), TotalRuns: 4, ActiveRuns: 1,
		AsOf: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}, nil
}

func (f *fakeTracker) RunsWithModels(_ context.Context, id string) ([]tracking.RunWithModels, error) {
	if err := f.record("runs_with_models:" + id); err != nil {
		return nil, err
	}
	var out []tracking.RunWithModels
	for _, r := range f.runs[id] {
		out = append(out, tracking.RunWithModels{Run: r, ModelArtifacts: []string{"model/MLmodel"}})
	}
	return out, nil
}

func (f *fakeTracker) RecentlyUsedModels(_ context.Context, limit int) ([]tracking.ModelUsage, error) {
	if err := f.record(fmt.Sprintf("recently_used:%d", limit)); err != nil {
		return nil, err
	}
	return nil, nil
}

type fixture struct {
	tracker  *fakeTracker
	sessions *session.Store
	engine   *Engine
}

func newFixture() *fixture {
	ft := newFakeTracker()
	ss := session.NewStore()
	res := resolver.New(ft, ss)
	return &fixture{
		tracker:  ft,
		sessions: ss,
		engine:   New(ft, res, ss, WithLocation(time.UTC)),
	}
}

func confirmed(in intent.Intent, ents intent.Entities) intent.Request {
	return intent.Request{Intent: in, Confirmation: intent.Confirmed, Entities: ents}
}

func TestDispatch_UnknownIntentAlwaysClarifies(t *testing.T) {
	f := newFixture()
	req := intent.Normalize(intent.Request{Intent: "launch_rocket", Confirmation: intent.Confirmed})

	out := f.engine.Dispatch(context.Background(), "s1", req)
	assert.Equal(t, intent.Unknown, out.Intent)
	assert.Equal(t, intent.NeedsClarification, out.Confirmation)
	assert.NotEmpty(t, out.Message)
	assert.Empty(t, f.tracker.calls)
}

func TestDispatch_UnconfirmedEchoesClassifier(t *testing.T) {
	f := newFixture()
	req := intent.Request{
		Intent:       intent.CreateExperiment,
		Confirmation: intent.NeedsClarification,
		Message:      "What should the experiment be called?",
		Entities:     intent.Entities{},
	}

	out := f.engine.Dispatch(context.Background(), "s1", req)
	assert.Equal(t, intent.NeedsClarification, out.Confirmation)
	assert.Equal(t, "What should the experiment be called?", out.Message)
	assert.Empty(t, f.tracker.calls)

	req.Confirmation = intent.Canceled
	req.Message = "Okay, cancelled."
	out = f.engine.Dispatch(context.Background(), "s1", req)
	assert.Equal(t, intent.Canceled, out.Confirmation)
	assert.Empty(t, f.tracker.calls)
}

func TestDispatch_OtherIntentPassesThrough(t *testing.T) {
	f := newFixture()
	req := confirmed(intent.Other, nil)
	req.Message = "MLflow was developed by Databricks."

	out := f.engine.Dispatch(context.Background(), "s1", req)
	assert.Equal(t, intent.Confirmed, out.Confirmation)
	assert.Equal(t, "MLflow was developed by Databricks.", out.Message)
	assert.Empty(t, f.tracker.calls)
}

func TestCreateRun_ThenLogMetricUsesStoredRun(t *testing.T) {
	f := newFixture()
	f.tracker.experiments = []tracking.Experiment{{ExperimentID: "5", Name: "iris"}}
	ctx := context.Background()

	out := f.engine.Dispatch(ctx, "s1", confirmed(intent.CreateRun, intent.Entities{intent.KeyExperimentName: "iris", intent.KeyRunName: "baseline"}))
	require.Equal(t, intent.Confirmed, out.Confirmation, out.Message)
	runID := f.sessions.CurrentRunID("s1")
	require.NotEmpty(t, runID)
	assert.Equal(t, fmt.Sprintf("✅ Run created in experiment 5, run_id: %s", runID), out.Message)

	out = f.engine.Dispatch(ctx, "s1", confirmed(intent.LogMetric, intent.Entities{
		intent.KeyMetricKey:   "accuracy",
		intent.KeyMetricValue: json.Number("0.95"),
	}))
	assert.Equal(t, intent.Confirmed, out.Confirmation)
	assert.Equal(t, fmt.Sprintf("✅ Logged metric 'accuracy':0.95 to run %s at step 0", runID), out.Message)
	assert.True(t, f.tracker.called("log_metric:"+runID+":accuracy=0.95@0"))
}

func TestLogMetric_NonNumericValueNeverCallsTracker(t *testing.T) {
	f := newFixture()
	out := f.engine.Dispatch(context.Background(), "s1", confirmed(intent.LogMetric, intent.Entities{
		intent.KeyRunID:       "r1",
		intent.KeyMetricKey:   "accuracy",
		intent.KeyMetricValue: "abc",
	}))
	assert.Equal(t, intent.NeedsClarification, out.Confirmation)
	assert.Equal(t, "The provided metric value 'abc' isn't a number.", out.Message)
	assert.Empty(t, f.tracker.calls)
}

func TestLogMetric_MissingRunWithoutMemory(t *testing.T) {
	f := newFixture()
	out := f.engine.Dispatch(context.Background(), "fresh", confirmed(intent.LogMetric, intent.Entities{
		intent.KeyMetricKey:   "loss",
		intent.KeyMetricValue: json.Number("1"),
	}))
	assert.Equal(t, intent.NeedsClarification, out.Confirmation)
	assert.Contains(t, out.Message, "We need a 'run_id' to log the metric")
	assert.Contains(t, out.Message, "e.g. 'abc123'")
	assert.Empty(t, f.tracker.calls)
}

func TestLogParam_MissingRunWithoutMemory(t *testing.T) {
	f := newFixture()
	out := f.engine.Dispatch(context.Background(), "fresh", confirmed(intent.LogParam, intent.Entities{
		intent.KeyParamKey:   "alpha",
		intent.KeyParamValue: json.Number("0.1"),
	}))
	assert.Equal(t, intent.NeedsClarification, out.Confirmation)
	assert.Equal(t, "We need a 'run_id' to log this param, and none is stored. Please provide an actual run_id, e.g. 'abc123'.", out.Message)
	assert.Empty(t, f.tracker.calls)
}

func TestLogParam(t *testing.T) {
	f := newFixture()
	out := f.engine.Dispatch(context.Background(), "s1", confirmed(intent.LogParam, intent.Entities{
		intent.KeyRunID:      "r1",
		intent.KeyParamKey:   "alpha",
		intent.KeyParamValue: json.Number("0.1"),
	}))
	assert.Equal(t, intent.Confirmed, out.Confirmation)
	assert.Equal(t, "✅ Logged param 'alpha':'0.1' to run r1", out.Message)

	out = f.engine.Dispatch(context.Background(), "s1", confirmed(intent.LogParam, intent.Entities{
		intent.KeyRunID:    "r1",
		intent.KeyParamKey: "alpha",
	}))
	assert.Equal(t, "We need the parameter value (e.g. '0.1').", out.Message)
}

func TestBatchCreateExperiments_PartialSuccessIsConfirmed(t *testing.T) {
	f := newFixture()
	f.tracker.failNames["b"] = true

	out := f.engine.Dispatch(context.Background(), "s1", confirmed(intent.BatchCreateExperiments, intent.Entities{
		intent.KeyExperimentNames: []any{"a", "b", "c"},
	}))
	assert.Equal(t, intent.Confirmed, out.Confirmation)
	assert.True(t, strings.HasPrefix(out.Message, "⚠️ Created 2 out of 3 experiments."), out.Message)
	assert.Contains(t, out.Message, "• a (ID: 1)")
	assert.Contains(t, out.Message, "• c (ID: 2)")
	assert.Contains(t, out.Message, "• b (Error: RESOURCE_ALREADY_EXISTS)")

	ids, ok := f.sessions.Get("s1", session.KeyBatchExperimentIDs)
	require.True(t, ok)
	assert.Equal(t, []string{"1", "2"}, ids)
}

func TestBatchCreateExperiments_AllFailedClarifies(t *testing.T) {
	f := newFixture()
	f.tracker.failNames["a"] = true

	out := f.engine.Dispatch(context.Background(), "s1", confirmed(intent.BatchCreateExperiments, intent.Entities{
		intent.KeyExperimentNames: []any{"a"},
	}))
	assert.Equal(t, intent.NeedsClarification, out.Confirmation)
	assert.Equal(t, "❌ Failed to create any experiments.", out.Message)
}

func TestBatchCreateRuns_UpdatesScratchpad(t *testing.T) {
	f := newFixture()
	f.tracker.experiments = []tracking.Experiment{{ExperimentID: "9", Name: "wine"}}

	out := f.engine.Dispatch(context.Background(), "s1", confirmed(intent.BatchCreateRuns, intent.Entities{
		intent.KeyExperimentID: "9",
		intent.KeyRunNames:     []any{"r1", "r2"},
	}))
	require.Equal(t, intent.Confirmed, out.Confirmation, out.Message)
	assert.True(t, strings.HasPrefix(out.Message, "✅ Successfully created all 2 runs in experiment 'wine':"))

	ids, ok := f.sessions.Get("s1", session.KeyBatchRunIDs)
	require.True(t, ok)
	require.Len(t, ids, 2)
	assert.Equal(t, ids.([]string)[1], f.sessions.CurrentRunID("s1"))
}

func TestDeleteExperiment_RequiresExplicitReference(t *testing.T) {
	f := newFixture()
	f.sessions.Set("s1", session.KeyCurrentRunID, "r1")

	out := f.engine.Dispatch(context.Background(), "s1", confirmed(intent.DeleteExperiment, intent.Entities{}))
	assert.Equal(t, intent.NeedsClarification, out.Confirmation)
	assert.Equal(t, "To delete an experiment, please specify 'experiment_id' or 'experiment_name'.", out.Message)
	assert.Empty(t, f.tracker.calls)
}

func TestDeleteRun_FallsBackToStoredRun(t *testing.T) {
	f := newFixture()
	f.sessions.Set("s1", session.KeyCurrentRunID, "r1")

	out := f.engine.Dispatch(context.Background(), "s1", confirmed(intent.DeleteRun, intent.Entities{}))
	assert.Equal(t, intent.Confirmed, out.Confirmation)
	assert.Equal(t, "✅ Run r1 was deleted.", out.Message)
}

func TestNameMissEchoesName(t *testing.T) {
	f := newFixture()
	out := f.engine.Dispatch(context.Background(), "s1", confirmed(intent.ListRuns, intent.Entities{intent.KeyExperimentName: "ghost"}))
	assert.Equal(t, intent.NeedsClarification, out.Confirmation)
	assert.Equal(t, "No experiment found named 'ghost'.", out.Message)
}

func TestExperimentDetails_MissListsSuggestions(t *testing.T) {
	f := newFixture()
	for i := range 7 {
		f.tracker.experiments = append(f.tracker.experiments, tracking.Experiment{ExperimentID: fmt.Sprint(i), Name: fmt.Sprintf("e%d", i)})
	}
	out := f.engine.Dispatch(context.Background(), "s1", confirmed(intent.GetExperimentDetails, intent.Entities{intent.KeyExperimentName: "ghost"}))
	assert.Equal(t, intent.NeedsClarification, out.Confirmation)
	assert.Equal(t, "❌ Experiment 'ghost' not found. Available experiments include: 'e0', 'e1', 'e2', 'e3', 'e4', and 2 more", out.Message)
}

func TestExperimentDetails(t *testing.T) {
	f := newFixture()
	f.tracker.experiments = []tracking.Experiment{{
		ExperimentID: "3", Name: "iris", LifecycleStage: "active",
		ArtifactLocation: "mlflow-artifacts:/3", CreationTime: tracking.Millis(time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC).UnixMilli()),
	}}
	f.tracker.runs["3"] = []tracking.Run{{}, {}}

	out := f.engine.Dispatch(context.Background(), "s1", confirmed(intent.GetExperimentDetails, intent.Entities{intent.KeyExperimentID: "3"}))
	assert.Equal(t, "📋 Experiment Details: iris\n\n• ID: 3\n• Created: 2025-01-02 03:04:05\n• Status: active\n• Artifact Location: mlflow-artifacts:/3\n• Total Runs: 2", out.Message)
}

func TestListRuns_TruncatesWithSuffix(t *testing.T) {
	f := newFixture()
	f.tracker.experiments = []tracking.Experiment{{ExperimentID: "1", Name: "big"}}
	for i := range 25 {
		f.tracker.runs["1"] = append(f.tracker.runs["1"], tracking.Run{Info: tracking.RunInfo{
			RunID: fmt.Sprintf("abcdef0123456789%04d", i), Status: "FINISHED",
		}})
	}
	f.tracker.runs["1"][0].Info.RunName = "first"
	f.tracker.runs["1"][0].Data.Metrics = []tracking.Metric{{Key: "a", Value: 1}, {Key: "b", Value: 2}, {Key: "c", Value: 3}, {Key: "d", Value: 4}}

	out := f.engine.Dispatch(context.Background(), "s1", confirmed(intent.ListRuns, intent.Entities{intent.KeyExperimentID: "1"}))
	require.Equal(t, intent.Confirmed, out.Confirmation)
	assert.True(t, strings.HasPrefix(out.Message, "📋 Found 25 runs for experiment 'big':\n\n1. first (ID: abcdef01...0000, Status: FINISHED, Metrics: a: 1, b: 2, c: 3 and 1 more)"), out.Message)
	assert.True(t, strings.HasSuffix(out.Message, "\n\n...and 5 more runs."))
	assert.Contains(t, out.Message, "2. Unnamed run (ID: abcdef01...0001, Status: FINISHED)")
}

func TestListExperiments_EmptyIsNotAnError(t *testing.T) {
	f := newFixture()
	out := f.engine.Dispatch(context.Background(), "s1", confirmed(intent.ListExperiments, nil))
	assert.Equal(t, intent.Confirmed, out.Confirmation)
	assert.Equal(t, "No experiments found in MLflow.", out.Message)
}

func TestTrackingFailureBecomesClarification(t *testing.T) {
	f := newFixture()
	f.tracker.failAll = &tracking.APIError{Operation: "experiments/search", StatusCode: 503, Body: "service unavailable"}

	out := f.engine.Dispatch(context.Background(), "s1", confirmed(intent.ListExperiments, nil))
	assert.Equal(t, intent.NeedsClarification, out.Confirmation)
	assert.Equal(t, "❌ Failed to list experiments: service unavailable", out.Message)

	f.tracker.failAll = errors.New("dial tcp: connection refused")
	out = f.engine.Dispatch(context.Background(), "s1", confirmed(intent.ListExperiments, nil))
	assert.Equal(t, "❌ Request error: dial tcp: connection refused", out.Message)
}

func TestSummary(t *testing.T) {
	f := newFixture()
	out := f.engine.Dispatch(context.Background(), "s1", confirmed(intent.GetMLflowSummary, nil))
	assert.Equal(t, "📊 MLflow Summary Statistics:\n\n• Total Experiments: 0\n• Registered Models: 0\n• Total Runs: 4\n• Active Runs: 1\n• Data as of: 2025-03-01 12:00:00", out.Message)
}

func TestModelVersions_InformationalPassthrough(t *testing.T) {
	f := newFixture()
	req := confirmed(intent.GetModelVersions, intent.Entities{})
	req.Message = "Model versions let you track iterations of a registered model."

	out := f.engine.Dispatch(context.Background(), "s1", req)
	assert.Equal(t, req.Message, out.Message)
	assert.Equal(t, intent.Confirmed, out.Confirmation)

	req.Message = "Fetching..."
	out = f.engine.Dispatch(context.Background(), "s1", req)
	assert.Equal(t, intent.NeedsClarification, out.Confirmation)
	assert.Equal(t, "Please provide a model name to get versions for.", out.Message)
}

func TestModelDetails(t *testing.T) {
	f := newFixture()
	f.tracker.experiments = []tracking.Experiment{{ExperimentID: "2", Name: "fraud"}}
	f.tracker.runs["2"] = []tracking.Run{{Info: tracking.RunInfo{RunID: "run-x", ExperimentID: "2"}}}
	f.tracker.versions["clf"] = []tracking.ModelVersion{
		{Version: "1", RunID: "run-x", CurrentStage: "Production", UserID: "ana", Source: "s3://m/1"},
		{Version: "2", RunID: "run-x", CurrentStage: "None", Source: "s3://m/2"},
	}

	out := f.engine.Dispatch(context.Background(), "s1", confirmed(intent.GetModelDetails, intent.Entities{intent.KeyModelName: "clf"}))
	require.Equal(t, intent.Confirmed, out.Confirmation, out.Message)
	assert.Contains(t, out.Message, "📦 Model: clf (Version 2)")
	assert.Contains(t, out.Message, "• Experiment: fraud")
	assert.Contains(t, out.Message, "• Artifact Location: s3://m/2")

	out = f.engine.Dispatch(context.Background(), "s1", confirmed(intent.GetModelDetails, intent.Entities{intent.KeyModelName: "nothing"}))
	assert.Equal(t, intent.Confirmed, out.Confirmation)
	assert.Equal(t, "No details found for model 'nothing'.", out.Message)
}

func TestRegisteredModels_StagesAndLatest(t *testing.T) {
	f := newFixture()
	f.tracker.models = []tracking.RegisteredModel{{Name: "clf"}}
	f.tracker.versions["clf"] = []tracking.ModelVersion{
		{Version: "1", CurrentStage: "Production"},
		{Version: "3", CurrentStage: "None"},
		{Version: "2", CurrentStage: "Staging"},
	}

	out := f.engine.Dispatch(context.Background(), "s1", confirmed(intent.GetRegisteredModels, nil))
	assert.Equal(t, "📋 Found 1 registered models:\n\n1. clf (Latest version: 3, Stages: Production, Staging)", out.Message)
}

func TestRecentModels_LimitClamped(t *testing.T) {
	f := newFixture()
	out := f.engine.Dispatch(context.Background(), "s1", confirmed(intent.GetRecentModels, intent.Entities{intent.KeyLimit: json.Number("-2")}))
	assert.Equal(t, intent.Confirmed, out.Confirmation)
	assert.Equal(t, "No registered models found in MLflow.", out.Message)
	assert.True(t, f.tracker.called("recent_models:5"))

	out = f.engine.Dispatch(context.Background(), "s1", confirmed(intent.GetRecentlyUsedModels, intent.Entities{intent.KeyLimit: "x"}))
	assert.Equal(t, "No recently used models found in MLflow.", out.Message)
	assert.True(t, f.tracker.called("recently_used:5"))
}

func TestModelsWithArtifacts(t *testing.T) {
	f := newFixture()
	f.tracker.runs["4"] = []tracking.Run{{Info: tracking.RunInfo{RunID: "0123456789abcdef", RunName: "m", Status: "FINISHED"}}}

	out := f.engine.Dispatch(context.Background(), "s1", confirmed(intent.GetModelsWithArtifacts, intent.Entities{intent.KeyExperimentID: "4"}))
	assert.Equal(t, "🔍 Found 1 runs with models in experiment 4:\n\n1. m (ID: 01234567...)\n   • Status: FINISHED\n   • Started: Unknown\n   • Model Artifacts:\n      model/MLmodel\n", out.Message)
}

func TestHandlerPanicIsRecovered(t *testing.T) {
	f := newFixture()
	f.tracker.panicOn = "summary"

	out := f.engine.Dispatch(context.Background(), "s1", confirmed(intent.GetMLflowSummary, nil))
	assert.Equal(t, intent.NeedsClarification, out.Confirmation)
	assert.Equal(t, intent.GetMLflowSummary, out.Intent)
}

func TestEveryActionableIntentHasHandler(t *testing.T) {
	e := newFixture().engine
	for _, in := range intent.Known {
		if in == intent.Other {
			assert.False(t, e.Handles(in))
			continue
		}
		assert.True(t, e.Handles(in), in)
	}
}
