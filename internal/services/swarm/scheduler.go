// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 stevedore contributors
// https://github.com/stevedore-io/stevedore

package swarm

import (
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/stevedore-io/stevedore/internal/models"
	apperrors "github.com/stevedore-io/stevedore/internal/pkg/errors"
)

// taskCensus aggregates active task counts for placement decisions.
type taskCensus struct {
	// perNode counts active tasks per node across all services.
	perNode map[uuid.UUID]int
	// perService counts a single service's active tasks per node.
	perService map[uuid.UUID]int
}

func buildCensus(all []*models.Task, serviceID uuid.UUID) *taskCensus {
	c := &taskCensus{
		perNode:    make(map[uuid.UUID]int),
		perService: make(map[uuid.UUID]int),
	}
	for _, t := range all {
		if t.CurrentState.Terminal() {
			continue
		}
		c.perNode[t.NodeID]++
		if t.ServiceID == serviceID {
			c.perService[t.NodeID]++
		}
	}
	return c
}

// pickNode selects the placement for one new task of the service. Spread
// preferences compose hierarchically in the given order: each level keeps
// the label-value buckets with the fewest of this service's tasks. The
// final tie-break is the node with the fewest assigned tasks overall,
// then hostname for determinism.
func pickNode(candidates []*models.Node, prefs []models.PlacementPreference, census *taskCensus) (*models.Node, error) {
	if len(candidates) == 0 {
		return nil, apperrors.New(apperrors.CodeConflict, "no suitable node: constraints eliminated all nodes")
	}

	pool := candidates
	for _, pref := range prefs {
		pool = spreadLevel(pool, pref.SpreadDescriptor, census)
	}

	best := pool[0]
	for _, n := range pool[1:] {
		bn, bb := census.perNode[n.ID], census.perNode[best.ID]
		if bn < bb || (bn == bb && n.Hostname < best.Hostname) {
			best = n
		}
	}
	return best, nil
}

// spreadLevel keeps the nodes whose label-value bucket carries the fewest
// of this service's tasks. Nodes missing the label form their own bucket.
func spreadLevel(pool []*models.Node, descriptor string, census *taskCensus) []*models.Node {
	buckets := make(map[string][]*models.Node)
	counts := make(map[string]int)
	for _, n := range pool {
		v := spreadValue(n, descriptor)
		buckets[v] = append(buckets[v], n)
		counts[v] += census.perService[n.ID]
	}

	keys := make([]string, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	min := -1
	var winner string
	for _, k := range keys {
		if min == -1 || counts[k] < min {
			min = counts[k]
			winner = k
		}
	}
	return buckets[winner]
}

func spreadValue(n *models.Node, descriptor string) string {
	switch {
	case strings.HasPrefix(descriptor, "node.labels."):
		return n.Labels[strings.TrimPrefix(descriptor, "node.labels.")]
	case strings.HasPrefix(descriptor, "engine.labels."):
		return n.EngineLabels[strings.TrimPrefix(descriptor, "engine.labels.")]
	}
	return ""
}
