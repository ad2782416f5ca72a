// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 stevedore contributors
// https://github.com/stevedore-io/stevedore

package swarm

import (
	"fmt"
	"strings"

	"github.com/stevedore-io/stevedore/internal/models"
	apperrors "github.com/stevedore-io/stevedore/internal/pkg/errors"
)

// constraint is one placement predicate. All of a service's constraints
// must hold on a node for it to be eligible.
type constraint struct {
	key   string
	value string
	eq    bool
}

// parseConstraints parses expressions of the form "<key>==<value>" or
// "<key>!=<value>". Supported keys: node.id, node.hostname, node.role,
// node.labels.<k>, engine.labels.<k>.
func parseConstraints(exprs []string) ([]constraint, error) {
	out := make([]constraint, 0, len(exprs))
	for _, expr := range exprs {
		eq := true
		key, value, found := strings.Cut(expr, "==")
		if !found {
			key, value, found = strings.Cut(expr, "!=")
			eq = false
		}
		if !found || strings.TrimSpace(value) == "" {
			return nil, apperrors.InvalidInput(fmt.Sprintf(
				"invalid constraint %q: expected <key>==<value> or <key>!=<value>", expr))
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		switch {
		case key == "node.id", key == "node.hostname", key == "node.role":
		case strings.HasPrefix(key, "node.labels."), strings.HasPrefix(key, "engine.labels."):
		default:
			return nil, apperrors.InvalidInput(fmt.Sprintf("invalid constraint key %q", key))
		}
		out = append(out, constraint{key: key, value: value, eq: eq})
	}
	return out, nil
}

// match evaluates the constraint against a node.
func (c constraint) match(n *models.Node) bool {
	var got string
	switch {
	case c.key == "node.id":
		got = n.ID.String()
	case c.key == "node.hostname":
		got = n.Hostname
	case c.key == "node.role":
		got = string(n.Role)
	case strings.HasPrefix(c.key, "node.labels."):
		got = n.Labels[strings.TrimPrefix(c.key, "node.labels.")]
	case strings.HasPrefix(c.key, "engine.labels."):
		got = n.EngineLabels[strings.TrimPrefix(c.key, "engine.labels.")]
	}
	if c.eq {
		return got == c.value
	}
	return got != c.value
}

// eligibleNodes filters schedulable nodes through the spec's constraints.
func eligibleNodes(nodes []*models.Node, placement models.Placement) ([]*models.Node, error) {
	constraints, err := parseConstraints(placement.Constraints)
	if err != nil {
		return nil, err
	}
	out := make([]*models.Node, 0, len(nodes))
	for _, n := range nodes {
		if !n.Schedulable() {
			continue
		}
		ok := true
		for _, c := range constraints {
			if !c.match(n) {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, n)
		}
	}
	return out, nil
}
