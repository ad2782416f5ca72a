// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 stevedore contributors
// https://github.com/stevedore-io/stevedore

package filters

import (
	"testing"
	"time"
)

func TestParseFlag(t *testing.T) {
	args := NewArgs()
	args, err := ParseFlag("driver=overlay2", args)
	if err != nil {
		t.Fatalf("ParseFlag: %v", err)
	}
	args, err = ParseFlag("driver=btrfs", args)
	if err != nil {
		t.Fatalf("ParseFlag: %v", err)
	}

	if !args.Match("driver", "overlay2") || !args.Match("driver", "btrfs") {
		t.Error("same-key values should OR together")
	}
	if args.Match("driver", "zfs") {
		t.Error("unlisted value should not match")
	}
}

func TestParseFlag_Invalid(t *testing.T) {
	_, err := ParseFlag("no-equals", NewArgs())
	if err == nil {
		t.Fatal("expected error for filter without =")
	}
}

func TestMatch_AbsentKeyMatchesAll(t *testing.T) {
	args := NewArgs()
	if !args.Match("name", "anything") {
		t.Error("absent key should match everything")
	}
}

func TestMatchPrefix(t *testing.T) {
	args := NewArgs()
	args.Add("id", "4e3b5f7a")

	if !args.MatchPrefix("id", "4e3b5f7a1c2d9e0f") {
		t.Error("truncated ID should prefix-match the full ID")
	}
	if args.MatchPrefix("id", "ffff") {
		t.Error("non-matching prefix should not match")
	}
}

func TestMatchLabels(t *testing.T) {
	args := NewArgs()
	args.Add("label", "env=prod")
	args.Add("label", "team")

	if !args.MatchLabels(map[string]string{"env": "prod", "team": "infra"}) {
		t.Error("labels satisfying all filters should match")
	}
	if args.MatchLabels(map[string]string{"env": "prod"}) {
		t.Error("missing presence-only label should not match")
	}
	if args.MatchLabels(map[string]string{"env": "dev", "team": "infra"}) {
		t.Error("wrong label value should not match")
	}
}

func TestValidate(t *testing.T) {
	args := NewArgs()
	args.Add("until", "5m")
	args.Add("bogus", "x")

	err := args.Validate(map[string]bool{"until": true, "label": true})
	if err == nil {
		t.Fatal("expected error for unsupported filter key")
	}
}

func TestUntilCutoff_Duration(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	args := NewArgs()
	args.Add("until", "5m")

	cutoff, err := args.UntilCutoff(now)
	if err != nil {
		t.Fatalf("UntilCutoff: %v", err)
	}
	want := now.Add(-5 * time.Minute)
	if !cutoff.Equal(want) {
		t.Errorf("cutoff = %v, want %v", cutoff, want)
	}
}

func TestUntilCutoff_Timestamps(t *testing.T) {
	now := time.Now()
	for _, value := range []string{
		"2026-01-02T15:04:05Z",
		"2026-01-02T15:04:05.999999999Z",
		"2026-01-02T15:04:05",
		"2026-01-02",
	} {
		args := NewArgs()
		args.Add("until", value)
		if _, err := args.UntilCutoff(now); err != nil {
			t.Errorf("UntilCutoff(%q): %v", value, err)
		}
	}
}

func TestUntilCutoff_MultipleRejected(t *testing.T) {
	args := NewArgs()
	args.Add("until", "5m")
	args.Add("until", "10m")

	if _, err := args.UntilCutoff(time.Now()); err == nil {
		t.Fatal("expected error for multiple until values")
	}
}

func TestJSONRoundTrip(t *testing.T) {
	args := NewArgs()
	args.Add("dangling", "true")
	args.Add("label", "env=prod")

	raw, err := args.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON: %v", err)
	}
	decoded, err := FromJSON(raw)
	if err != nil {
		t.Fatalf("FromJSON: %v", err)
	}
	if !decoded.Match("dangling", "true") {
		t.Error("round-trip lost dangling filter")
	}
	if !decoded.MatchLabels(map[string]string{"env": "prod"}) {
		t.Error("round-trip lost label filter")
	}
}
