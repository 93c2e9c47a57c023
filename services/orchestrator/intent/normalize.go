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
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformed is returned by Parse when the classifier output is not a
// JSON object.
var ErrMalformed = errors.New("malformed classifier output")

// Request is one classifier guess.
type Request struct {
	// Intent is canonical after Normalize; before that it is the raw text.
	Intent Intent

	// RawIntent preserves the classifier's original spelling.
	RawIntent string

	Confirmation Confirmation
	Message      string
	Entities     Entities
}

// Outcome is the only value a turn returns to its caller.
type Outcome struct {
	Intent       Intent       `json:"intent"`
	Confirmation Confirmation `json:"confirmation"`
	Message      string       `json:"message"`
	Entities     Entities     `json:"entities,omitempty"`
}

// Clarify returns a needs_clarification outcome for in.
func Clarify(in Intent, message string, entities Entities) Outcome {
	return Outcome{Intent: in, Confirmation: NeedsClarification, Message: message, Entities: entities}
}

// Outcome turns the request into an outcome that echoes it verbatim.
func (r Request) Outcome() Outcome {
	return Outcome{
		Intent:       r.Intent,
		Confirmation: r.Confirmation,
		Message:      r.Message,
		Entities:     r.Entities,
	}
}

// wire is the JSON document the classifier is instructed to return.
type wire struct {
	Intent       json.RawMessage `json:"intent"`
	Confirmation json.RawMessage `json:"confirmation"`
	Message      json.RawMessage `json:"message"`
	Entities     json.RawMessage `json:"entities"`
}

// Parse decodes raw classifier text. A ```json fenced block is unwrapped
// first. Field types are forgiving: a non-string intent becomes "", a
// non-object entity bag becomes empty.
func Parse(raw string) (Request, error) {
	body := bytes.TrimSpace([]byte(stripFence(raw)))
	if len(body) == 0 || body[0] != '{' {
		return Request{}, fmt.Errorf("%w: not a JSON object", ErrMalformed)
	}

	var w wire
	if err := json.Unmarshal(body, &w); err != nil {
		return Request{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	req := Request{
		RawIntent:    decodeString(w.Intent),
		Confirmation: Confirmation(decodeString(w.Confirmation)),
		Message:      decodeString(w.Message),
		Entities:     Entities{},
	}
	req.Intent = Intent(req.RawIntent)

	if len(w.Entities) > 0 {
		dec := json.NewDecoder(bytes.NewReader(w.Entities))
		dec.UseNumber()
		var ents map[string]any
		if err := dec.Decode(&ents); err == nil && ents != nil {
			req.Entities = ents
		}
	}
	return req, nil
}

func decodeString(raw json.RawMessage) string {
	var s string
	if len(raw) == 0 || json.Unmarshal(raw, &s) != nil {
		return ""
	}
	return s
}

func stripFence(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	return strings.TrimSuffix(strings.TrimSpace(s), "```")
}

// Normalize maps r onto the closed taxonomy.
//
//   - intent names are folded to snake_case and synonyms are resolved;
//     anything else becomes Unknown with NeedsClarification
//   - an unrecognised confirmation becomes NeedsClarification
//   - entity synonyms are rewritten to canonical keys
//
// The input is not modified.
func Normalize(r Request) Request {
	out := r
	if out.RawIntent == "" {
		out.RawIntent = string(r.Intent)
	}
	out.Entities = r.Entities.Clone()
	out.Intent = Canonical(out.RawIntent)

	c := Confirmation(strings.ToLower(strings.TrimSpace(string(r.Confirmation))))
	if !c.Valid() {
		c = NeedsClarification
	}
	out.Confirmation = c

	if out.Intent == Unknown {
		out.Confirmation = NeedsClarification
	}

	applyAliases(out.Intent, out.Entities)
	return out
}

// Canonical resolves a raw intent name, returning Unknown when it has no
// mapping.
func Canonical(raw string) Intent {
	name := foldName(raw)
	if in := Intent(name); in.IsKnown() {
		return in
	}
	if in, ok := intentSynonyms[name]; ok {
		return in
	}
	return Unknown
}

func foldName(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(s)
}
