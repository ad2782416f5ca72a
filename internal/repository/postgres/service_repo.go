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

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/stevedore-io/stevedore/internal/models"
	apperrors "github.com/stevedore-io/stevedore/internal/pkg/errors"
)

// ServiceRepository persists service specs. `service create` is durable
// once the row commits; convergence happens asynchronously afterwards.
type ServiceRepository struct {
	db *DB
}

// NewServiceRepository creates a service repository.
func NewServiceRepository(db *DB) *ServiceRepository {
	return &ServiceRepository{db: db}
}

const serviceColumns = `id, spec, previous_spec, update_status, version, created_at, updated_at`

// Create inserts a service. Duplicate names conflict.
func (r *ServiceRepository) Create(ctx context.Context, s *models.Service) error {
	spec, _ := json.Marshal(s.Spec)
	status, _ := json.Marshal(s.UpdateStatus)

	_, err := r.db.Exec(ctx, `
		INSERT INTO services (id, spec, update_status, version, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		s.ID, string(spec), string(status), s.Version, s.CreatedAt, s.UpdatedAt)
	if err != nil {
		if strings.Contains(err.Error(), "idx_services_name") {
			return apperrors.Conflict(fmt.Sprintf(
				"service name %q is already in use", s.Spec.Name))
		}
		return fmt.Errorf("insert service: %w", err)
	}
	return nil
}

// Update rewrites spec, previous spec, status and version.
func (r *ServiceRepository) Update(ctx context.Context, s *models.Service) error {
	spec, _ := json.Marshal(s.Spec)
	status, _ := json.Marshal(s.UpdateStatus)
	var prev interface{}
	if s.PreviousSpec != nil {
		raw, _ := json.Marshal(s.PreviousSpec)
		prev = string(raw)
	}
	s.UpdatedAt = time.Now().UTC()

	tag, err := r.db.Exec(ctx, `
		UPDATE services SET spec = $2, previous_spec = $3, update_status = $4,
			version = $5, updated_at = $6
		WHERE id = $1`,
		s.ID, string(spec), prev, string(status), s.Version, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update service: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("service", s.ID.String())
	}
	return nil
}

// Get fetches a service by ID.
func (r *ServiceRepository) Get(ctx context.Context, id uuid.UUID) (*models.Service, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+serviceColumns+` FROM services WHERE id = $1`, id)
	return scanService(row, id.String())
}

// GetByName fetches a service by spec name.
func (r *ServiceRepository) GetByName(ctx context.Context, name string) (*models.Service, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+serviceColumns+` FROM services WHERE spec->>'name' = $1`, name)
	return scanService(row, name)
}

// List returns all services ordered by name.
func (r *ServiceRepository) List(ctx context.Context) ([]*models.Service, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+serviceColumns+` FROM services ORDER BY spec->>'name'`)
	if err != nil {
		return nil, fmt.Errorf("list services: %w", err)
	}
	defer rows.Close()

	var out []*models.Service
	for rows.Next() {
		s, err := scanService(rows, "")
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Delete removes a service; its tasks cascade.
func (r *ServiceRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM services WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete service: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("service", id.String())
	}
	return nil
}

func scanService(row pgx.Row, ref string) (*models.Service, error) {
	var (
		s      models.Service
		spec   []byte
		prev   []byte
		status []byte
	)
	err := row.Scan(&s.ID, &spec, &prev, &status, &s.Version, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("service", ref)
	}
	if err != nil {
		return nil, fmt.Errorf("scan service: %w", err)
	}
	json.Unmarshal(spec, &s.Spec)
	if len(prev) > 0 {
		var p models.ServiceSpec
		if json.Unmarshal(prev, &p) == nil {
			s.PreviousSpec = &p
		}
	}
	json.Unmarshal(status, &s.UpdateStatus)
	return &s, nil
}
