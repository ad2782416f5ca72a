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
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/stevedore-io/stevedore/internal/models"
	apperrors "github.com/stevedore-io/stevedore/internal/pkg/errors"
)

// ContainerRepository persists container state. The lifecycle manager is the
// only writer; every state transition lands here before it is acknowledged.
type ContainerRepository struct {
	db *DB
}

// NewContainerRepository creates a container repository.
func NewContainerRepository(db *DB) *ContainerRepository {
	return &ContainerRepository{db: db}
}

const containerColumns = `id, name, image_id, image, command, state, exit_code,
	restart_count, explicit_stop, host_config, mounts, networks, labels, env,
	layer_id, service_id, task_id, created_at, started_at, finished_at`

// Create inserts a new container row. A duplicate name surfaces as a
// conflict so `create --name` failures are user-addressable.
func (r *ContainerRepository) Create(ctx context.Context, c *models.Container) error {
	query := `
		INSERT INTO containers (` + containerColumns + `)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)`

	command, _ := json.Marshal(c.Command)
	hostConfig, _ := json.Marshal(c.HostConfig)
	mounts, _ := json.Marshal(c.Mounts)
	networks, _ := json.Marshal(c.Networks)
	labels, _ := json.Marshal(c.Labels)
	env, _ := json.Marshal(c.Env)

	_, err := r.db.Exec(ctx, query,
		c.ID, c.Name, c.ImageID, c.Image, string(command), c.State, c.ExitCode,
		c.RestartCount, c.ExplicitStop, string(hostConfig), string(mounts),
		string(networks), string(labels), string(env),
		c.LayerID, c.ServiceID, c.TaskID, c.CreatedAt, c.StartedAt, c.FinishedAt)
	if err != nil {
		if strings.Contains(err.Error(), "containers_name_key") {
			return apperrors.Conflict(fmt.Sprintf(
				"container name %q is already in use", c.Name))
		}
		return fmt.Errorf("insert container: %w", err)
	}
	return nil
}

// Update rewrites the mutable fields of a container row.
func (r *ContainerRepository) Update(ctx context.Context, c *models.Container) error {
	query := `
		UPDATE containers SET
			name = $2, state = $3, exit_code = $4, restart_count = $5,
			explicit_stop = $6, host_config = $7, mounts = $8, networks = $9,
			started_at = $10, finished_at = $11
		WHERE id = $1`

	hostConfig, _ := json.Marshal(c.HostConfig)
	mounts, _ := json.Marshal(c.Mounts)
	networks, _ := json.Marshal(c.Networks)

	tag, err := r.db.Exec(ctx, query,
		c.ID, c.Name, c.State, c.ExitCode, c.RestartCount, c.ExplicitStop,
		string(hostConfig), string(mounts), string(networks),
		c.StartedAt, c.FinishedAt)
	if err != nil {
		if strings.Contains(err.Error(), "containers_name_key") {
			return apperrors.Conflict(fmt.Sprintf(
				"container name %q is already in use", c.Name))
		}
		return fmt.Errorf("update container: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("container", c.ID)
	}
	return nil
}

// Get fetches a container by full ID.
func (r *ContainerRepository) Get(ctx context.Context, id string) (*models.Container, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+containerColumns+` FROM containers WHERE id = $1`, id)
	return scanContainer(row, id)
}

// GetByNameOrPrefix resolves a user-supplied reference: exact name first,
// then unambiguous ID prefix.
func (r *ContainerRepository) GetByNameOrPrefix(ctx context.Context, ref string) (*models.Container, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+containerColumns+` FROM containers WHERE name = $1`, ref)
	c, err := scanContainer(row, ref)
	if err == nil {
		return c, nil
	}
	if !apperrors.IsNotFound(err) {
		return nil, err
	}

	rows, err := r.db.Query(ctx,
		`SELECT `+containerColumns+` FROM containers WHERE id LIKE $1 || '%'`, ref)
	if err != nil {
		return nil, fmt.Errorf("query containers by prefix: %w", err)
	}
	matches, err := scanContainers(rows)
	if err != nil {
		return nil, err
	}
	switch len(matches) {
	case 0:
		return nil, apperrors.NotFound("container", ref)
	case 1:
		return matches[0], nil
	default:
		return nil, apperrors.Conflict(fmt.Sprintf(
			"container reference %q is ambiguous (%d matches)", ref, len(matches)))
	}
}

// ListOptions filters container listings.
type ListOptions struct {
	States []models.ContainerState // empty = all
	// Until keeps only containers created strictly before the cutoff.
	Until     time.Time
	ImageID   string
	ServiceID string
}

// List returns containers matching opts, newest first.
func (r *ContainerRepository) List(ctx context.Context, opts ListOptions) ([]*models.Container, error) {
	query := `SELECT ` + containerColumns + ` FROM containers WHERE TRUE`
	args := []interface{}{}
	n := 0

	if len(opts.States) > 0 {
		states := make([]string, len(opts.States))
		for i, s := range opts.States {
			states[i] = string(s)
		}
		n++
		query += fmt.Sprintf(" AND state = ANY($%d)", n)
		args = append(args, states)
	}
	if !opts.Until.IsZero() {
		n++
		query += fmt.Sprintf(" AND created_at < $%d", n)
		args = append(args, opts.Until)
	}
	if opts.ImageID != "" {
		n++
		query += fmt.Sprintf(" AND image_id = $%d", n)
		args = append(args, opts.ImageID)
	}
	if opts.ServiceID != "" {
		n++
		query += fmt.Sprintf(" AND service_id = $%d", n)
		args = append(args, opts.ServiceID)
	}
	query += " ORDER BY created_at DESC"

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}
	return scanContainers(rows)
}

// CountByImage reports how many containers (any state) reference an image.
func (r *ContainerRepository) CountByImage(ctx context.Context, imageID string) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM containers WHERE image_id = $1`, imageID).Scan(&count)
	return count, err
}

// Delete removes a container row.
func (r *ContainerRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM containers WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete container: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("container", id)
	}
	return nil
}

func scanContainer(row pgx.Row, ref string) (*models.Container, error) {
	var (
		c          models.Container
		command    []byte
		hostConfig []byte
		mounts     []byte
		networks   []byte
		labels     []byte
		env        []byte
	)
	err := row.Scan(&c.ID, &c.Name, &c.ImageID, &c.Image, &command, &c.State,
		&c.ExitCode, &c.RestartCount, &c.ExplicitStop, &hostConfig, &mounts,
		&networks, &labels, &env, &c.LayerID, &c.ServiceID, &c.TaskID,
		&c.CreatedAt, &c.StartedAt, &c.FinishedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("container", ref)
	}
	if err != nil {
		return nil, fmt.Errorf("scan container: %w", err)
	}
	json.Unmarshal(command, &c.Command)
	json.Unmarshal(hostConfig, &c.HostConfig)
	json.Unmarshal(mounts, &c.Mounts)
	json.Unmarshal(networks, &c.Networks)
	json.Unmarshal(labels, &c.Labels)
	json.Unmarshal(env, &c.Env)
	return &c, nil
}

func scanContainers(rows pgx.Rows) ([]*models.Container, error) {
	defer rows.Close()
	var out []*models.Container
	for rows.Next() {
		c, err := scanContainer(rows, "")
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
