// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 stevedore contributors
// https://github.com/stevedore-io/stevedore

package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/stevedore-io/stevedore/internal/models"
)

// EventRepository is the append-only daemon event log.
type EventRepository struct {
	db *DB
}

// NewEventRepository creates an event repository.
func NewEventRepository(db *DB) *EventRepository {
	return &EventRepository{db: db}
}

// Append records an event.
func (r *EventRepository) Append(ctx context.Context, ev *models.Event) error {
	attrs, _ := json.Marshal(ev.Attrs)
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO events (type, action, actor, attributes, time)
		VALUES ($1, $2, $3, $4, $5)`,
		ev.Type, ev.Action, ev.Actor, string(attrs), ev.Time)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// ListSince returns events at or after since, oldest first, capped at limit.
func (r *EventRepository) ListSince(ctx context.Context, since time.Time, limit int) ([]*models.Event, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := r.db.Query(ctx, `
		SELECT type, action, actor, attributes, time
		FROM events WHERE time >= $1 ORDER BY id LIMIT $2`, since, limit)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []*models.Event
	for rows.Next() {
		var (
			ev    models.Event
			attrs []byte
		)
		if err := rows.Scan(&ev.Type, &ev.Action, &ev.Actor, &attrs, &ev.Time); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		json.Unmarshal(attrs, &ev.Attrs)
		out = append(out, &ev)
	}
	return out, rows.Err()
}

// DeleteBefore trims events older than cutoff, returning the number removed.
func (r *EventRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM events WHERE time < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("trim events: %w", err)
	}
	return tag.RowsAffected(), nil
}
