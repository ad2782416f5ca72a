// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 stevedore contributors
// https://github.com/stevedore-io/stevedore

package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/stevedore-io/stevedore/internal/models"
	apperrors "github.com/stevedore-io/stevedore/internal/pkg/errors"
)

// TaskRepository persists swarm tasks.
type TaskRepository struct {
	db *DB
}

// NewTaskRepository creates a task repository.
func NewTaskRepository(db *DB) *TaskRepository {
	return &TaskRepository{db: db}
}

const taskColumns = `id, service_id, node_id, slot, desired_state,
	current_state, spec_version, container_id, error, created_at, updated_at`

// Create inserts a task.
func (r *TaskRepository) Create(ctx context.Context, t *models.Task) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		t.ID, t.ServiceID, t.NodeID, t.Slot, t.DesiredState,
		t.CurrentState, t.SpecVersion, t.ContainerID, t.Err,
		t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// Update rewrites the mutable fields of a task.
func (r *TaskRepository) Update(ctx context.Context, t *models.Task) error {
	t.UpdatedAt = time.Now().UTC()
	tag, err := r.db.Exec(ctx, `
		UPDATE tasks SET desired_state = $2, current_state = $3,
			container_id = $4, error = $5, node_id = $6, updated_at = $7
		WHERE id = $1`,
		t.ID, t.DesiredState, t.CurrentState, t.ContainerID, t.Err,
		t.NodeID, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("task", t.ID.String())
	}
	return nil
}

// Get fetches a task by ID.
func (r *TaskRepository) Get(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	row := r.db.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id)
	return scanTask(row, id.String())
}

// ListByService returns a service's tasks ordered by slot.
func (r *TaskRepository) ListByService(ctx context.Context, serviceID uuid.UUID) ([]*models.Task, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE service_id = $1 ORDER BY slot, created_at`,
		serviceID)
	if err != nil {
		return nil, fmt.Errorf("list tasks by service: %w", err)
	}
	return scanTasks(rows)
}

// ListByNode returns a node's tasks.
func (r *TaskRepository) ListByNode(ctx context.Context, nodeID uuid.UUID) ([]*models.Task, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE node_id = $1`, nodeID)
	if err != nil {
		return nil, fmt.Errorf("list tasks by node: %w", err)
	}
	return scanTasks(rows)
}

// ListActive returns every non-terminal task across all services, used
// by the scheduler for per-node load accounting.
func (r *TaskRepository) ListActive(ctx context.Context) ([]*models.Task, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE current_state NOT IN ('complete','shutdown','failed','rejected')`)
	if err != nil {
		return nil, fmt.Errorf("list active tasks: %w", err)
	}
	return scanTasks(rows)
}

// DeleteTerminalBefore prunes finished task history older than cutoff,
// keeping the recent record for `service ps` inspection.
func (r *TaskRepository) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		DELETE FROM tasks
		WHERE current_state IN ('complete','shutdown','failed','rejected')
		  AND updated_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune terminal tasks: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Delete removes a task row.
func (r *TaskRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("task", id.String())
	}
	return nil
}

func scanTask(row pgx.Row, ref string) (*models.Task, error) {
	var t models.Task
	err := row.Scan(&t.ID, &t.ServiceID, &t.NodeID, &t.Slot, &t.DesiredState,
		&t.CurrentState, &t.SpecVersion, &t.ContainerID, &t.Err,
		&t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("task", ref)
	}
	if err != nil {
		return nil, fmt.Errorf("scan task: %w", err)
	}
	return &t, nil
}

func scanTasks(rows pgx.Rows) ([]*models.Task, error) {
	defer rows.Close()
	var out []*models.Task
	for rows.Next() {
		t, err := scanTask(rows, "")
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
