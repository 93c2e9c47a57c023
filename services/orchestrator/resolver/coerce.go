// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package resolver

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/AleutianAI/mlflow-assistant/services/orchestrator/intent"
)

// DefaultLimit is the top-N used when a recency query omits or mangles its
// limit.
const DefaultLimit = 5

// Float coerces a data-bearing numeric entity. Numbers and numeric strings
// are accepted; anything else, including NaN and infinities, is Invalid.
// An absent value is Missing.
func Float(field string, v any) (float64, error) {
	var (
		f   float64
		err error
	)
	switch t := v.(type) {
	case nil:
		return 0, &UnresolvedError{Field: field, Reason: Missing}
	case json.Number:
		f, err = t.Float64()
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	case string:
		f, err = strconv.ParseFloat(strings.TrimSpace(t), 64)
	default:
		return 0, &UnresolvedError{Field: field, Reason: Invalid, Value: Display(v)}
	}
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, &UnresolvedError{Field: field, Reason: Invalid, Value: Display(v)}
	}
	return f, nil
}

// Int coerces an integral entity such as step. An absent value yields def.
// Fractional or non-numeric values are Invalid.
func Int(field string, v any, def int64) (int64, error) {
	if v == nil {
		return def, nil
	}
	if s, ok := v.(string); ok && strings.TrimSpace(s) == "" {
		return def, nil
	}
	f, err := Float(field, v)
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) || math.Abs(f) > math.MaxInt64/2 {
		return 0, &UnresolvedError{Field: field, Reason: Invalid, Value: Display(v)}
	}
	return int64(f), nil
}

// Limit coerces a cosmetic list bound. It never fails: absent, non-numeric
// or non-positive values become def, and fractions are truncated.
func Limit(v any, def int) int {
	if def <= 0 {
		def = DefaultLimit
	}
	var n int
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			n = int(i)
		} else if f, err := t.Float64(); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
			n = int(f)
		}
	case float64:
		if !math.IsNaN(t) && !math.IsInf(t, 0) {
			n = int(t)
		}
	case int:
		n = t
	case int64:
		n = int(t)
	case string:
		// strings must be plain integers
		if i, err := strconv.Atoi(strings.TrimSpace(t)); err == nil {
			n = i
		}
	}
	if n <= 0 {
		return def
	}
	return n
}

// Display renders an entity value for echoing back to the user.
func Display(v any) string {
	if s := intent.Text(v); s != "" {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
