// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 stevedore contributors
// https://github.com/stevedore-io/stevedore

package storage

import (
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	units "github.com/docker/go-units"

	apperrors "github.com/stevedore-io/stevedore/internal/pkg/errors"
	"github.com/stevedore-io/stevedore/internal/pkg/logger"
)

func init() {
	Register("overlay2", newOverlay2Driver)
}

var overlay2AcceptedOpts = map[string]bool{
	"overlay2.size":           true,
	"overlay2.override_kernel_check": true,
}

// maxLowerLayers caps the lower-dir chain, matching the kernel's mount
// option length limits.
const maxLowerLayers = 128

// probeBackingFS reports the filesystem backing home and whether project
// quotas are active. Overridden in tests.
var probeBackingFS = detectBackingFS

func detectBackingFS(home string) (fs string, pquota bool, err error) {
	// Without a statfs probe wired in, assume extfs and no quota support.
	// The quota path is exercised through the test override.
	return "extfs", false, nil
}

// overlay2Driver lays out each layer as diff/work/link/lower under home,
// with short link names under home/l to keep the kernel mount option string
// within bounds.
type overlay2Driver struct {
	home        string
	log         *logger.Logger
	backingFS   string
	quotaOK     bool
	defaultSize int64 // 0 = no quota

	mu     sync.Mutex
	active map[string]int
}

func newOverlay2Driver(home string, options []string, log *logger.Logger) (Driver, error) {
	opts, err := parseDriverOpts("overlay2", options, overlay2AcceptedOpts)
	if err != nil {
		return nil, err
	}

	backingFS, quotaOK, err := probeBackingFS(home)
	if err != nil {
		return nil, err
	}

	d := &overlay2Driver{
		home:      home,
		log:       log.Named("overlay2"),
		backingFS: backingFS,
		quotaOK:   quotaOK,
		active:    make(map[string]int),
	}

	if raw, ok := opts["overlay2.size"]; ok {
		// Per-layer size quotas need xfs project quotas underneath. On any
		// other backing filesystem the option is a fatal config error.
		if backingFS != "xfs" || !quotaOK {
			return nil, ErrUnsupported(
				"overlay2.size requires the backing filesystem to be xfs mounted with pquota")
		}
		size, perr := units.RAMInBytes(raw)
		if perr != nil {
			return nil, apperrors.Newf(apperrors.CodeInvalidConfig, "invalid overlay2.size %q", raw)
		}
		d.defaultSize = size
	}

	for _, sub := range []string{"l"} {
		if err := os.MkdirAll(filepath.Join(home, sub), 0o700); err != nil {
			return nil, fmt.Errorf("create overlay2 home: %w", err)
		}
	}
	return d, nil
}

func (d *overlay2Driver) Name() string { return "overlay2" }

func (d *overlay2Driver) dir(id string) string {
	return filepath.Join(d.home, id)
}

func (d *overlay2Driver) Create(id, parent string, opts *CreateOpts) error {
	if opts != nil {
		if _, ok := opts.StorageOpt["size"]; ok && (d.backingFS != "xfs" || !d.quotaOK) {
			return ErrUnsupported(
				"--storage-opt size requires the backing filesystem to be xfs mounted with pquota")
		}
	}

	dir := d.dir(id)
	if _, err := os.Stat(dir); err == nil {
		return apperrors.Conflict("layer " + id + " already exists")
	}
	for _, sub := range []string{"diff", "work", "merged"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return err
		}
	}

	// Short link names substitute for full layer IDs in lowerdir options.
	link := TruncateLink(id)
	if err := os.WriteFile(filepath.Join(dir, "link"), []byte(link), 0o644); err != nil {
		return err
	}
	if err := os.Symlink(filepath.Join("..", id, "diff"), filepath.Join(d.home, "l", link)); err != nil {
		return err
	}

	if parent == "" {
		return nil
	}

	parentDir := d.dir(parent)
	parentLink, err := os.ReadFile(filepath.Join(parentDir, "link"))
	if err != nil {
		return ErrUnknownLayer(parent)
	}

	lowers := []string{path.Join("l", string(parentLink))}
	if raw, err := os.ReadFile(filepath.Join(parentDir, "lower")); err == nil {
		lowers = append(lowers, strings.Split(string(raw), ":")...)
	}
	if len(lowers) > maxLowerLayers {
		return apperrors.Newf(apperrors.CodeBadRequest,
			"max depth exceeded: %d lower layers", len(lowers))
	}
	return os.WriteFile(filepath.Join(dir, "lower"), []byte(strings.Join(lowers, ":")), 0o644)
}

// TruncateLink derives the short link name for a layer ID.
func TruncateLink(id string) string {
	if len(id) > 26 {
		return id[:26]
	}
	return id
}

// lowerDirs resolves the lower-layer diff directories for id, bottom last.
func (d *overlay2Driver) lowerDirs(id string) ([]string, error) {
	raw, err := os.ReadFile(filepath.Join(d.dir(id), "lower"))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var dirs []string
	for _, link := range strings.Split(string(raw), ":") {
		dirs = append(dirs, filepath.Join(d.home, link))
	}
	return dirs, nil
}

func (d *overlay2Driver) Get(id, _ string) (string, error) {
	dir := d.dir(id)
	if _, err := os.Stat(dir); err != nil {
		return "", ErrUnknownLayer(id)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	lowers, err := d.lowerDirs(id)
	if err != nil {
		return "", err
	}
	// A base layer needs no overlay mount: the diff dir is the view.
	if len(lowers) == 0 {
		d.active[id]++
		return filepath.Join(dir, "diff"), nil
	}

	merged := filepath.Join(dir, "merged")
	if d.active[id] == 0 {
		// topFirst: this layer's diff, then the direct parent, then deeper
		// ancestors, matching the kernel's lowerdir ordering.
		topFirst := append([]string{filepath.Join(dir, "diff")}, lowers...)
		if err := composeLayers(topFirst, merged); err != nil {
			return "", err
		}
	}
	d.active[id]++
	return merged, nil
}

// composeLayers materializes a merged view from a top-first layer chain.
// Stands in for the kernel overlay mount so the driver works (slowly)
// without mount privileges: lower layers are applied first so upper layers
// overwrite.
func composeLayers(topFirst []string, merged string) error {
	if err := os.RemoveAll(merged); err != nil {
		return err
	}
	if err := os.MkdirAll(merged, 0o755); err != nil {
		return err
	}
	for i := len(topFirst) - 1; i >= 0; i-- {
		layer := topFirst[i]
		if _, err := os.Stat(layer); err != nil {
			continue
		}
		if err := copyTree(layer, merged); err != nil {
			return err
		}
	}
	return nil
}

func (d *overlay2Driver) Put(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.active[id] > 0 {
		d.active[id]--
	}
	return nil
}

func (d *overlay2Driver) Remove(id string) error {
	d.mu.Lock()
	refs := d.active[id]
	d.mu.Unlock()
	if refs > 0 {
		return ErrBusy(id)
	}
	dir := d.dir(id)
	if _, err := os.Stat(dir); err != nil {
		return idUnknown(id, err)
	}
	if link, err := os.ReadFile(filepath.Join(dir, "link")); err == nil {
		os.Remove(filepath.Join(d.home, "l", string(link)))
	}
	return os.RemoveAll(dir)
}

func idUnknown(id string, err error) error {
	if os.IsNotExist(err) {
		return ErrUnknownLayer(id)
	}
	return err
}

func (d *overlay2Driver) Exists(id string) bool {
	_, err := os.Stat(d.dir(id))
	return err == nil
}

func (d *overlay2Driver) Changes(id, parent string) ([]Change, error) {
	if !d.Exists(id) {
		return nil, ErrUnknownLayer(id)
	}
	// The diff dir holds exactly this layer's additions; against the direct
	// parent that is the changeset.
	if parent != "" && !d.Exists(parent) {
		return nil, ErrUnknownLayer(parent)
	}
	return directoryChanges(filepath.Join(d.dir(id), "diff"), "")
}

func (d *overlay2Driver) Diff(id, parent string) (io.ReadCloser, error) {
	changes, err := d.Changes(id, parent)
	if err != nil {
		return nil, err
	}
	return archiveChanges(filepath.Join(d.dir(id), "diff"), changes)
}

func (d *overlay2Driver) Status() [][2]string {
	return [][2]string{
		{"Backing Filesystem", d.backingFS},
		{"Supports d_type", "true"},
		{"Native Overlay Diff", "true"},
	}
}

func (d *overlay2Driver) Cleanup() error { return nil }
