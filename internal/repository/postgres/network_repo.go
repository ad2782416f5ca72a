// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 stevedore contributors
// https://github.com/stevedore-io/stevedore

package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/stevedore-io/stevedore/internal/models"
	apperrors "github.com/stevedore-io/stevedore/internal/pkg/errors"
)

// NetworkRepository persists network definitions and endpoint attachments.
type NetworkRepository struct {
	db *DB
}

// NewNetworkRepository creates a network repository.
func NewNetworkRepository(db *DB) *NetworkRepository {
	return &NetworkRepository{db: db}
}

const networkColumns = `id, name, driver, scope, builtin, subnet, gateway,
	internal, endpoints, labels, created_at`

// Create inserts a network. Duplicate names conflict.
func (r *NetworkRepository) Create(ctx context.Context, n *models.Network) error {
	query := `
		INSERT INTO networks (` + networkColumns + `)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`

	endpoints, _ := json.Marshal(n.Endpoints)
	labels, _ := json.Marshal(n.Labels)

	_, err := r.db.Exec(ctx, query,
		n.ID, n.Name, n.Driver, n.Scope, n.Builtin, n.Subnet, n.Gateway,
		n.Internal, string(endpoints), string(labels), n.CreatedAt)
	if err != nil {
		if strings.Contains(err.Error(), "networks_name_key") {
			return apperrors.Conflict(fmt.Sprintf("network %q already exists", n.Name))
		}
		return fmt.Errorf("insert network: %w", err)
	}
	return nil
}

// UpdateEndpoints rewrites the endpoint list of a network.
func (r *NetworkRepository) UpdateEndpoints(ctx context.Context, id string, endpoints []models.Endpoint) error {
	raw, _ := json.Marshal(endpoints)
	tag, err := r.db.Exec(ctx,
		`UPDATE networks SET endpoints = $2 WHERE id = $1`, id, string(raw))
	if err != nil {
		return fmt.Errorf("update network endpoints: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("network", id)
	}
	return nil
}

// Get fetches a network by ID.
func (r *NetworkRepository) Get(ctx context.Context, id string) (*models.Network, error) {
	row := r.db.QueryRow(ctx, `SELECT `+networkColumns+` FROM networks WHERE id = $1`, id)
	return scanNetwork(row, id)
}

// Resolve finds a network by exact name, then by ID prefix.
func (r *NetworkRepository) Resolve(ctx context.Context, ref string) (*models.Network, error) {
	row := r.db.QueryRow(ctx, `SELECT `+networkColumns+` FROM networks WHERE name = $1`, ref)
	n, err := scanNetwork(row, ref)
	if err == nil {
		return n, nil
	}
	if !apperrors.IsNotFound(err) {
		return nil, err
	}

	rows, err := r.db.Query(ctx,
		`SELECT `+networkColumns+` FROM networks WHERE id LIKE $1 || '%'`, ref)
	if err != nil {
		return nil, fmt.Errorf("query networks by prefix: %w", err)
	}
	matches, err := scanNetworks(rows)
	if err != nil {
		return nil, err
	}
	switch len(matches) {
	case 0:
		return nil, apperrors.NotFound("network", ref)
	case 1:
		return matches[0], nil
	default:
		return nil, apperrors.Conflict(fmt.Sprintf(
			"network reference %q is ambiguous (%d matches)", ref, len(matches)))
	}
}

// List returns all networks ordered by name.
func (r *NetworkRepository) List(ctx context.Context) ([]*models.Network, error) {
	rows, err := r.db.Query(ctx, `SELECT `+networkColumns+` FROM networks ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list networks: %w", err)
	}
	return scanNetworks(rows)
}

// Delete removes a network row.
func (r *NetworkRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM networks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete network: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("network", id)
	}
	return nil
}

func scanNetwork(row pgx.Row, ref string) (*models.Network, error) {
	var (
		n         models.Network
		endpoints []byte
		labels    []byte
	)
	err := row.Scan(&n.ID, &n.Name, &n.Driver, &n.Scope, &n.Builtin,
		&n.Subnet, &n.Gateway, &n.Internal, &endpoints, &labels, &n.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("network", ref)
	}
	if err != nil {
		return nil, fmt.Errorf("scan network: %w", err)
	}
	json.Unmarshal(endpoints, &n.Endpoints)
	json.Unmarshal(labels, &n.Labels)
	return &n, nil
}

func scanNetworks(rows pgx.Rows) ([]*models.Network, error) {
	defer rows.Close()
	var out []*models.Network
	for rows.Next() {
		n, err := scanNetwork(rows, "")
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
