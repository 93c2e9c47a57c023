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
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/AleutianAI/mlflow-assistant/services/orchestrator/tracking"
)

const (
	dateTimeLayout = "2006-01-02 15:04:05"
	dateLayout     = "2006-01-02"
	unknown        = "Unknown"
)

// describe renders a tracking failure: "<what>: <server body>" for API
// errors, "Request error: <err>" for transport failures.
func describe(what string, err error) string {
	var apiErr *tracking.APIError
	if errors.As(err, &apiErr) {
		return what + ": " + apiErr.Body
	}
	return "Request error: " + err.Error()
}

func (e *Engine) stamp(m tracking.Millis, layout string) string {
	if m.IsZero() {
		return unknown
	}
	return m.Time().In(e.loc).Format(layout)
}

// shortID abbreviates a run id as first8...last4.
func shortID(id string) string {
	if len(id) <= 12 {
		return id
	}
	return id[:8] + "..." + id[len(id)-4:]
}

// prefixID keeps the first eight characters.
func prefixID(id string) string {
	if len(id) > 8 {
		id = id[:8]
	}
	return id + "..."
}

func orUnknown(s string) string {
	if s == "" {
		return unknown
	}
	return s
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// moreSuffix is the "...and N more <noun>." trailer for truncated lists.
func moreSuffix(total, shown int, noun string) string {
	if total <= shown {
		return ""
	}
	return fmt.Sprintf("\n\n...and %d more %s.", total-shown, noun)
}

func quoteList(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = "'" + n + "'"
	}
	return strings.Join(quoted, ", ")
}

func runMetrics(r tracking.Run) string {
	ms := r.Data.Metrics
	if len(ms) == 0 {
		return ""
	}
	n := min(len(ms), 3)
	parts := make([]string, 0, n)
	for _, m := range ms[:n] {
		parts = append(parts, m.Key+": "+formatFloat(m.Value))
	}
	s := ", Metrics: " + strings.Join(parts, ", ")
	if len(ms) > 3 {
		s += fmt.Sprintf(" and %d more", len(ms)-3)
	}
	return s
}

func isInformational(msg string) bool {
	return utf8.RuneCountInString(msg) > informationalMinLen
}

func (e *Engine) formatTime(t time.Time) string {
	return t.In(e.loc).Format(dateTimeLayout)
}
