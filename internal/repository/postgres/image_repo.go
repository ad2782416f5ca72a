// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 stevedore contributors
// https://github.com/stevedore-io/stevedore

package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/stevedore-io/stevedore/internal/models"
	apperrors "github.com/stevedore-io/stevedore/internal/pkg/errors"
)

// ImageRepository persists image metadata. Layer content lives in the
// storage driver; only the metadata and tag references live here.
type ImageRepository struct {
	db *DB
}

// NewImageRepository creates an image repository.
func NewImageRepository(db *DB) *ImageRepository {
	return &ImageRepository{db: db}
}

const imageColumns = `id, parent_id, repo_tags, layers, size_bytes, labels, created_at`

// Upsert inserts or replaces an image row. Pulling the same content twice
// must converge, so the ID (content hash) is the conflict key.
func (r *ImageRepository) Upsert(ctx context.Context, img *models.Image) error {
	query := `
		INSERT INTO images (` + imageColumns + `)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (id) DO UPDATE SET
			repo_tags = EXCLUDED.repo_tags,
			layers = EXCLUDED.layers,
			size_bytes = EXCLUDED.size_bytes,
			labels = EXCLUDED.labels`

	repoTags, _ := json.Marshal(img.RepoTags)
	layers, _ := json.Marshal(img.Layers)
	labels, _ := json.Marshal(img.Labels)

	_, err := r.db.Exec(ctx, query,
		img.ID, img.ParentID, string(repoTags), string(layers),
		img.SizeBytes, string(labels), img.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert image: %w", err)
	}
	return nil
}

// Get fetches an image by full ID.
func (r *ImageRepository) Get(ctx context.Context, id string) (*models.Image, error) {
	row := r.db.QueryRow(ctx, `SELECT `+imageColumns+` FROM images WHERE id = $1`, id)
	return scanImage(row, id)
}

// Resolve finds an image by tag reference or unambiguous ID prefix.
func (r *ImageRepository) Resolve(ctx context.Context, ref string) (*models.Image, error) {
	normalized := models.NormalizeImageRef(ref)
	row := r.db.QueryRow(ctx,
		`SELECT `+imageColumns+` FROM images WHERE repo_tags @> to_jsonb(ARRAY[$1::text])`, normalized)
	img, err := scanImage(row, ref)
	if err == nil {
		return img, nil
	}
	if !apperrors.IsNotFound(err) {
		return nil, err
	}

	rows, err := r.db.Query(ctx,
		`SELECT `+imageColumns+` FROM images WHERE id LIKE $1 || '%'`, ref)
	if err != nil {
		return nil, fmt.Errorf("query images by prefix: %w", err)
	}
	matches, err := scanImages(rows)
	if err != nil {
		return nil, err
	}
	switch len(matches) {
	case 0:
		return nil, apperrors.NotFound("image", ref)
	case 1:
		return matches[0], nil
	default:
		return nil, apperrors.Conflict(fmt.Sprintf(
			"image reference %q is ambiguous (%d matches)", ref, len(matches)))
	}
}

// List returns all images, newest first.
func (r *ImageRepository) List(ctx context.Context) ([]*models.Image, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+imageColumns+` FROM images ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}
	return scanImages(rows)
}

// ListChildren returns images whose parent is id.
func (r *ImageRepository) ListChildren(ctx context.Context, id string) ([]*models.Image, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+imageColumns+` FROM images WHERE parent_id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("list image children: %w", err)
	}
	return scanImages(rows)
}

// UpdateTags rewrites the tag set of an image.
func (r *ImageRepository) UpdateTags(ctx context.Context, id string, tags []string) error {
	raw, _ := json.Marshal(tags)
	tag, err := r.db.Exec(ctx,
		`UPDATE images SET repo_tags = $2 WHERE id = $1`, id, string(raw))
	if err != nil {
		return fmt.Errorf("update image tags: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("image", id)
	}
	return nil
}

// Delete removes an image row.
func (r *ImageRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM images WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete image: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("image", id)
	}
	return nil
}

func scanImage(row pgx.Row, ref string) (*models.Image, error) {
	var (
		img      models.Image
		repoTags []byte
		layers   []byte
		labels   []byte
	)
	err := row.Scan(&img.ID, &img.ParentID, &repoTags, &layers,
		&img.SizeBytes, &labels, &img.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("image", ref)
	}
	if err != nil {
		return nil, fmt.Errorf("scan image: %w", err)
	}
	json.Unmarshal(repoTags, &img.RepoTags)
	json.Unmarshal(layers, &img.Layers)
	json.Unmarshal(labels, &img.Labels)
	return &img, nil
}

func scanImages(rows pgx.Rows) ([]*models.Image, error) {
	defer rows.Close()
	var out []*models.Image
	for rows.Next() {
		img, err := scanImage(rows, "")
		if err != nil {
			return nil, err
		}
		out = append(out, img)
	}
	return out, rows.Err()
}
