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

// VolumeRepository persists volume definitions. Reference counts are
// runtime state recomputed from container mounts, so they are not stored.
type VolumeRepository struct {
	db *DB
}

// NewVolumeRepository creates a volume repository.
func NewVolumeRepository(db *DB) *VolumeRepository {
	return &VolumeRepository{db: db}
}

const volumeColumns = `name, driver, mountpoint, labels, options, created_at`

// Create inserts a volume. Creating an existing name is a conflict.
func (r *VolumeRepository) Create(ctx context.Context, v *models.Volume) error {
	query := `INSERT INTO volumes (` + volumeColumns + `) VALUES ($1,$2,$3,$4,$5,$6)`

	labels, _ := json.Marshal(v.Labels)
	options, _ := json.Marshal(v.Options)

	_, err := r.db.Exec(ctx, query,
		v.Name, v.Driver, v.Mountpoint, string(labels), string(options), v.CreatedAt)
	if err != nil {
		if strings.Contains(err.Error(), "volumes_pkey") {
			return apperrors.Conflict(fmt.Sprintf("volume %q already exists", v.Name))
		}
		return fmt.Errorf("insert volume: %w", err)
	}
	return nil
}

// Get fetches a volume by name.
func (r *VolumeRepository) Get(ctx context.Context, name string) (*models.Volume, error) {
	row := r.db.QueryRow(ctx, `SELECT `+volumeColumns+` FROM volumes WHERE name = $1`, name)
	return scanVolume(row, name)
}

// List returns all volumes ordered by name.
func (r *VolumeRepository) List(ctx context.Context) ([]*models.Volume, error) {
	rows, err := r.db.Query(ctx, `SELECT `+volumeColumns+` FROM volumes ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list volumes: %w", err)
	}
	defer rows.Close()

	var out []*models.Volume
	for rows.Next() {
		v, err := scanVolume(rows, "")
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// Delete removes a volume row.
func (r *VolumeRepository) Delete(ctx context.Context, name string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM volumes WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("delete volume: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("volume", name)
	}
	return nil
}

func scanVolume(row pgx.Row, ref string) (*models.Volume, error) {
	var (
		v       models.Volume
		labels  []byte
		options []byte
	)
	err := row.Scan(&v.Name, &v.Driver, &v.Mountpoint, &labels, &options, &v.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("volume", ref)
	}
	if err != nil {
		return nil, fmt.Errorf("scan volume: %w", err)
	}
	json.Unmarshal(labels, &v.Labels)
	json.Unmarshal(options, &v.Options)
	return &v, nil
}
