// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package intent

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Canonical entity keys.
const (
	KeyExperimentID    = "experiment_id"
	KeyExperimentName  = "experiment_name"
	KeyExperimentNames = "experiment_names"
	KeyRunID           = "run_id"
	KeyRunName         = "run_name"
	KeyRunNames        = "run_names"
	KeyParamKey        = "param_key"
	KeyParamValue      = "param_value"
	KeyMetricKey       = "metric_key"
	KeyMetricValue     = "metric_value"
	KeyStep            = "step"
	KeyModelName       = "model_name"
	KeyVersion         = "version"
	KeyLimit           = "limit"
)

type alias struct {
	alias     string
	canonical string
}

// entityAliases maps synonym keys onto canonical ones. Order matters when
// several synonyms of one key are present: the first listed wins.
var entityAliases = []alias{
	{"metric_name", KeyMetricKey},
	{"param_name", KeyParamKey},
	{"parameter_key", KeyParamKey},
	{"parameter_name", KeyParamKey},
	{"parameter_value", KeyParamValue},
	{"experiment", KeyExperimentName},
	{"model", KeyModelName},
	{"model_version", KeyVersion},
	{"experiments", KeyExperimentNames},
	{"runs", KeyRunNames},
}

// Entities is the classifier's free-form entity bag.
type Entities map[string]any

// Raw returns the value stored under key.
func (e Entities) Raw(key string) (any, bool) {
	v, ok := e[key]
	return v, ok
}

// Has reports whether key holds a non-null value.
func (e Entities) Has(key string) bool {
	v, ok := e[key]
	return ok && v != nil
}

// String returns the value under key rendered as text. Numbers are
// formatted without exponent; missing, null and non-scalar values yield "".
func (e Entities) String(key string) string {
	return Text(e[key])
}

// List returns the value under key when it is a JSON array.
func (e Entities) List(key string) ([]any, bool) {
	v, ok := e[key].([]any)
	return v, ok
}

// StringList returns the array under key with every element rendered
// through Text.
func (e Entities) StringList(key string) ([]string, bool) {
	raw, ok := e.List(key)
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		out = append(out, Text(item))
	}
	return out, true
}

// Clone returns a shallow copy.
func (e Entities) Clone() Entities {
	out := make(Entities, len(e))
	for k, v := range e {
		out[k] = v
	}
	return out
}

// Text renders a scalar entity value.
func Text(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

// Bare "key"/"value" belong to whichever log intent is being resolved.
var (
	metricKV = []alias{{"key", KeyMetricKey}, {"value", KeyMetricValue}}
	paramKV  = []alias{{"key", KeyParamKey}, {"value", KeyParamValue}}
)

// applyAliases rewrites synonym keys in place. A canonical key that already
// holds a non-empty value is left alone; the synonym stays in the bag.
func applyAliases(in Intent, e Entities) {
	kv := metricKV
	if in == LogParam {
		kv = paramKV
	}
	rewrite(e, entityAliases)
	rewrite(e, kv)
}

func rewrite(e Entities, aliases []alias) {
	for _, a := range aliases {
		v, ok := e[a.alias]
		if !ok || isEmpty(v) {
			continue
		}
		if !isEmpty(e[a.canonical]) {
			continue
		}
		e[a.canonical] = v
		delete(e, a.alias)
	}
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	}
	return false
}
