// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 stevedore contributors
// https://github.com/stevedore-io/stevedore

// Package filters implements the key=value filter syntax shared by list and
// prune operations. Repeated values for the same key OR together; distinct
// keys AND together.
package filters

import (
	"encoding/json"
	"strings"
	"time"

	apperrors "github.com/stevedore-io/stevedore/internal/pkg/errors"
)

// Args holds a parsed filter set: key -> set of accepted values.
type Args struct {
	fields map[string]map[string]bool
}

// NewArgs returns an empty filter set.
func NewArgs() Args {
	return Args{fields: make(map[string]map[string]bool)}
}

// ParseFlag parses a single "key=value" filter expression into args.
func ParseFlag(expr string, args Args) (Args, error) {
	if expr == "" {
		return args, nil
	}
	key, value, ok := strings.Cut(expr, "=")
	if !ok {
		return args, apperrors.Newf(apperrors.CodeBadRequest,
			"invalid filter %q: expected key=value", expr)
	}
	args.Add(strings.ToLower(strings.TrimSpace(key)), value)
	return args, nil
}

// FromJSON decodes the API wire form: {"key":["v1","v2"],...}.
func FromJSON(raw string) (Args, error) {
	args := NewArgs()
	if raw == "" {
		return args, nil
	}
	var decoded map[string][]string
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return args, apperrors.Wrap(err, apperrors.CodeBadRequest, "invalid filters parameter")
	}
	for key, values := range decoded {
		for _, v := range values {
			args.Add(key, v)
		}
	}
	return args, nil
}

// ToJSON encodes args to the API wire form.
func (a Args) ToJSON() (string, error) {
	if len(a.fields) == 0 {
		return "", nil
	}
	out := make(map[string][]string, len(a.fields))
	for key, values := range a.fields {
		for v := range values {
			out[key] = append(out[key], v)
		}
	}
	raw, err := json.Marshal(out)
	return string(raw), err
}

// Add records an accepted value for key.
func (a Args) Add(key, value string) {
	if a.fields[key] == nil {
		a.fields[key] = make(map[string]bool)
	}
	a.fields[key][value] = true
}

// Contains reports whether any value is set for key.
func (a Args) Contains(key string) bool {
	return len(a.fields[key]) > 0
}

// Get returns all values for key.
func (a Args) Get(key string) []string {
	values := make([]string, 0, len(a.fields[key]))
	for v := range a.fields[key] {
		values = append(values, v)
	}
	return values
}

// Len returns the number of filter keys.
func (a Args) Len() int {
	return len(a.fields)
}

// Match reports whether value matches the filter on key. An absent key
// matches everything; present values OR together.
func (a Args) Match(key, value string) bool {
	if !a.Contains(key) {
		return true
	}
	return a.fields[key][value]
}

// MatchPrefix is like Match but accepts prefix matches, used for ID filters
// where truncated IDs are accepted.
func (a Args) MatchPrefix(key, value string) bool {
	if !a.Contains(key) {
		return true
	}
	for want := range a.fields[key] {
		if strings.HasPrefix(value, want) {
			return true
		}
	}
	return false
}

// MatchLabels evaluates "label" filters against a label map. Each filter
// value is either "key" (presence) or "key=value" (exact). All label filter
// values must match (labels AND together even on the same key, matching
// documented behavior).
func (a Args) MatchLabels(labels map[string]string) bool {
	if !a.Contains("label") {
		return true
	}
	for want := range a.fields["label"] {
		k, v, hasValue := strings.Cut(want, "=")
		got, present := labels[k]
		if !present {
			return false
		}
		if hasValue && got != v {
			return false
		}
	}
	return true
}

// Validate rejects filter keys outside the accepted set for a command.
func (a Args) Validate(accepted map[string]bool) error {
	for key := range a.fields {
		if !accepted[key] {
			return apperrors.Newf(apperrors.CodeBadRequest, "invalid filter %q", key)
		}
	}
	return nil
}

// UntilCutoff resolves the "until" filter against now. Accepted forms:
// RFC3339 (with or without nanoseconds), date-only, Unix seconds, and Go
// durations ("5m", "2h30m") interpreted as now-duration. At most one until
// value is allowed.
func (a Args) UntilCutoff(now time.Time) (time.Time, error) {
	values := a.Get("until")
	if len(values) == 0 {
		return time.Time{}, nil
	}
	if len(values) > 1 {
		return time.Time{}, apperrors.New(apperrors.CodeBadRequest,
			"more than one until filter specified")
	}
	return parseTimestamp(values[0], now)
}

func parseTimestamp(value string, now time.Time) (time.Time, error) {
	if d, err := time.ParseDuration(value); err == nil {
		return now.Add(-d), nil
	}
	for _, layout := range []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02",
	} {
		if ts, err := time.ParseInLocation(layout, value, now.Location()); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, apperrors.Newf(apperrors.CodeBadRequest,
		"invalid until filter value %q", value)
}
