// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 stevedore contributors
// https://github.com/stevedore-io/stevedore

package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/stevedore-io/stevedore/internal/models"
	apperrors "github.com/stevedore-io/stevedore/internal/pkg/errors"
)

// NodeRepository persists swarm cluster membership.
type NodeRepository struct {
	db *DB
}

// NewNodeRepository creates a node repository.
func NewNodeRepository(db *DB) *NodeRepository {
	return &NodeRepository{db: db}
}

const nodeColumns = `id, hostname, role, availability, status, addr, labels,
	engine_labels, is_leader, joined_at, updated_at`

// Upsert inserts or refreshes a node record (heartbeats rewrite status).
func (r *NodeRepository) Upsert(ctx context.Context, n *models.Node) error {
	labels, _ := json.Marshal(n.Labels)
	engineLabels, _ := json.Marshal(n.EngineLabels)
	n.UpdatedAt = time.Now().UTC()

	_, err := r.db.Exec(ctx, `
		INSERT INTO nodes (`+nodeColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (id) DO UPDATE SET
			hostname = EXCLUDED.hostname,
			role = EXCLUDED.role,
			availability = EXCLUDED.availability,
			status = EXCLUDED.status,
			addr = EXCLUDED.addr,
			labels = EXCLUDED.labels,
			engine_labels = EXCLUDED.engine_labels,
			is_leader = EXCLUDED.is_leader,
			updated_at = EXCLUDED.updated_at`,
		n.ID, n.Hostname, n.Role, n.Availability, n.Status, n.Addr,
		string(labels), string(engineLabels), n.IsLeader, n.JoinedAt, n.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert node: %w", err)
	}
	return nil
}

// Get fetches a node by ID.
func (r *NodeRepository) Get(ctx context.Context, id uuid.UUID) (*models.Node, error) {
	row := r.db.QueryRow(ctx, `SELECT `+nodeColumns+` FROM nodes WHERE id = $1`, id)
	return scanNode(row, id.String())
}

// List returns all nodes ordered by hostname.
func (r *NodeRepository) List(ctx context.Context) ([]*models.Node, error) {
	rows, err := r.db.Query(ctx, `SELECT `+nodeColumns+` FROM nodes ORDER BY hostname`)
	if err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}
	defer rows.Close()

	var out []*models.Node
	for rows.Next() {
		n, err := scanNode(rows, "")
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// Delete removes a node.
func (r *NodeRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM nodes WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete node: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("node", id.String())
	}
	return nil
}

func scanNode(row pgx.Row, ref string) (*models.Node, error) {
	var (
		n            models.Node
		labels       []byte
		engineLabels []byte
	)
	err := row.Scan(&n.ID, &n.Hostname, &n.Role, &n.Availability, &n.Status,
		&n.Addr, &labels, &engineLabels, &n.IsLeader, &n.JoinedAt, &n.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("node", ref)
	}
	if err != nil {
		return nil, fmt.Errorf("scan node: %w", err)
	}
	json.Unmarshal(labels, &n.Labels)
	json.Unmarshal(engineLabels, &n.EngineLabels)
	return &n, nil
}
