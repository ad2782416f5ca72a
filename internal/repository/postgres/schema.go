// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 stevedore contributors
// https://github.com/stevedore-io/stevedore

package postgres

import (
	"context"
	"fmt"
)

// schema is the object-store DDL, applied idempotently at daemon startup.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS containers (
		id            TEXT PRIMARY KEY,
		name          TEXT NOT NULL UNIQUE,
		image_id      TEXT NOT NULL,
		image         TEXT NOT NULL,
		command       JSONB NOT NULL DEFAULT '[]',
		state         TEXT NOT NULL,
		exit_code     INT NOT NULL DEFAULT 0,
		restart_count INT NOT NULL DEFAULT 0,
		explicit_stop BOOLEAN NOT NULL DEFAULT FALSE,
		host_config   JSONB NOT NULL DEFAULT '{}',
		mounts        JSONB NOT NULL DEFAULT '[]',
		networks      JSONB NOT NULL DEFAULT '[]',
		labels        JSONB NOT NULL DEFAULT '{}',
		env           JSONB NOT NULL DEFAULT '[]',
		layer_id      TEXT NOT NULL DEFAULT '',
		service_id    TEXT NOT NULL DEFAULT '',
		task_id       TEXT NOT NULL DEFAULT '',
		created_at    TIMESTAMPTZ NOT NULL,
		started_at    TIMESTAMPTZ,
		finished_at   TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_containers_state ON containers(state)`,
	`CREATE INDEX IF NOT EXISTS idx_containers_image ON containers(image_id)`,
	`CREATE INDEX IF NOT EXISTS idx_containers_created ON containers(created_at)`,

	`CREATE TABLE IF NOT EXISTS images (
		id         TEXT PRIMARY KEY,
		parent_id  TEXT NOT NULL DEFAULT '',
		repo_tags  JSONB NOT NULL DEFAULT '[]',
		layers     JSONB NOT NULL DEFAULT '[]',
		size_bytes BIGINT NOT NULL DEFAULT 0,
		labels     JSONB NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS networks (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL UNIQUE,
		driver     TEXT NOT NULL,
		scope      TEXT NOT NULL,
		builtin    BOOLEAN NOT NULL DEFAULT FALSE,
		subnet     TEXT NOT NULL DEFAULT '',
		gateway    TEXT NOT NULL DEFAULT '',
		internal   BOOLEAN NOT NULL DEFAULT FALSE,
		endpoints  JSONB NOT NULL DEFAULT '[]',
		labels     JSONB NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS volumes (
		name       TEXT PRIMARY KEY,
		driver     TEXT NOT NULL,
		mountpoint TEXT NOT NULL DEFAULT '',
		labels     JSONB NOT NULL DEFAULT '{}',
		options    JSONB NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS services (
		id            UUID PRIMARY KEY,
		spec          JSONB NOT NULL,
		previous_spec JSONB,
		update_status JSONB NOT NULL DEFAULT '{}',
		version       BIGINT NOT NULL DEFAULT 1,
		created_at    TIMESTAMPTZ NOT NULL,
		updated_at    TIMESTAMPTZ NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_services_name ON services((spec->>'name'))`,

	`CREATE TABLE IF NOT EXISTS tasks (
		id            UUID PRIMARY KEY,
		service_id    UUID NOT NULL REFERENCES services(id) ON DELETE CASCADE,
		node_id       UUID NOT NULL,
		slot          BIGINT NOT NULL DEFAULT 0,
		desired_state TEXT NOT NULL,
		current_state TEXT NOT NULL,
		spec_version  BIGINT NOT NULL DEFAULT 1,
		container_id  TEXT NOT NULL DEFAULT '',
		error         TEXT NOT NULL DEFAULT '',
		created_at    TIMESTAMPTZ NOT NULL,
		updated_at    TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_service ON tasks(service_id)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_node ON tasks(node_id)`,

	`CREATE TABLE IF NOT EXISTS nodes (
		id            UUID PRIMARY KEY,
		hostname      TEXT NOT NULL,
		role          TEXT NOT NULL,
		availability  TEXT NOT NULL,
		status        TEXT NOT NULL,
		addr          TEXT NOT NULL DEFAULT '',
		labels        JSONB NOT NULL DEFAULT '{}',
		engine_labels JSONB NOT NULL DEFAULT '{}',
		is_leader     BOOLEAN NOT NULL DEFAULT FALSE,
		joined_at     TIMESTAMPTZ NOT NULL,
		updated_at    TIMESTAMPTZ NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS events (
		id         BIGSERIAL PRIMARY KEY,
		type       TEXT NOT NULL,
		action     TEXT NOT NULL,
		actor      TEXT NOT NULL,
		attributes JSONB NOT NULL DEFAULT '{}',
		time       TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_events_time ON events(time)`,
}

// Migrate applies the schema.
func Migrate(ctx context.Context, db *DB) error {
	for i, stmt := range schema {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema statement %d: %w", i, err)
		}
	}
	return nil
}
