// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 stevedore contributors
// https://github.com/stevedore-io/stevedore

package image

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	apperrors "github.com/stevedore-io/stevedore/internal/pkg/errors"
)

// RegistryTransport talks to a layer registry over HTTP. Manifests are
// JSON documents; layer blobs are zstd-compressed tars as produced by the
// storage diff pipeline.
type RegistryTransport struct {
	baseURL string
	client  *http.Client
}

// NewRegistryTransport creates a transport against the given registry
// base URL.
func NewRegistryTransport(baseURL string) *RegistryTransport {
	return &RegistryTransport{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 5 * time.Minute,
		},
	}
}

// ResolveManifest fetches the manifest for an image reference.
func (t *RegistryTransport) ResolveManifest(ctx context.Context, ref string) (*Manifest, error) {
	u := fmt.Sprintf("%s/v2/manifests/%s", t.baseURL, url.PathEscape(ref))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.CodeInternal, "registry manifest fetch for %s", ref)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, apperrors.NotFound("image", ref)
	default:
		return nil, apperrors.Newf(apperrors.CodeInternal,
			"registry returned %d for manifest %s", resp.StatusCode, ref)
	}

	var m Manifest
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(&m); err != nil {
		return nil, apperrors.Wrapf(err, apperrors.CodeInternal, "decode manifest for %s", ref)
	}
	return &m, nil
}

// FetchLayer streams a layer blob. The caller closes the reader.
func (t *RegistryTransport) FetchLayer(ctx context.Context, layerID string) (io.ReadCloser, error) {
	u := fmt.Sprintf("%s/v2/blobs/%s", t.baseURL, url.PathEscape(layerID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.CodeInternal, "registry blob fetch for %s", layerID)
	}
	switch resp.StatusCode {
	case http.StatusOK:
		return resp.Body, nil
	case http.StatusNotFound:
		resp.Body.Close()
		return nil, apperrors.NotFound("layer", layerID)
	default:
		resp.Body.Close()
		return nil, apperrors.Newf(apperrors.CodeInternal,
			"registry returned %d for blob %s", resp.StatusCode, layerID)
	}
}

// PushLayer uploads a layer blob.
func (t *RegistryTransport) PushLayer(ctx context.Context, layerID string, r io.Reader) error {
	u := fmt.Sprintf("%s/v2/blobs/%s", t.baseURL, url.PathEscape(layerID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, u, r)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	resp, err := t.client.Do(req)
	if err != nil {
		return apperrors.Wrapf(err, apperrors.CodeInternal, "registry blob push for %s", layerID)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return apperrors.Newf(apperrors.CodeInternal,
			"registry returned %d pushing blob %s", resp.StatusCode, layerID)
	}
	return nil
}
