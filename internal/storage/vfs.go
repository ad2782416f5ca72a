// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 stevedore contributors
// https://github.com/stevedore-io/stevedore

package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/stevedore-io/stevedore/internal/pkg/logger"
)

func init() {
	Register("vfs", newVFSDriver)
}

// vfsDriver is the no-copy-on-write fallback: every layer is a full
// directory copy of its parent. Slow and space-hungry but works on any
// filesystem, which also makes it the driver unit tests run against.
type vfsDriver struct {
	home string
	log  *logger.Logger

	mu     sync.Mutex
	active map[string]int // mount reference counts
}

func newVFSDriver(home string, options []string, log *logger.Logger) (Driver, error) {
	// vfs accepts no driver options
	if _, err := parseDriverOpts("vfs", options, map[string]bool{}); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Join(home, "dir"), 0o700); err != nil {
		return nil, fmt.Errorf("create vfs home: %w", err)
	}
	return &vfsDriver{
		home:   home,
		log:    log.Named("vfs"),
		active: make(map[string]int),
	}, nil
}

func (d *vfsDriver) Name() string { return "vfs" }

func (d *vfsDriver) dir(id string) string {
	return filepath.Join(d.home, "dir", id)
}

func (d *vfsDriver) Create(id, parent string, opts *CreateOpts) error {
	if opts != nil && len(opts.StorageOpt) > 0 {
		return ErrUnsupported("vfs does not support per-layer storage options")
	}
	dir := d.dir(id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if parent == "" {
		return nil
	}
	parentDir := d.dir(parent)
	if _, err := os.Stat(parentDir); err != nil {
		return ErrUnknownLayer(parent)
	}
	return copyTree(parentDir, dir)
}

func (d *vfsDriver) Get(id, _ string) (string, error) {
	dir := d.dir(id)
	if _, err := os.Stat(dir); err != nil {
		return "", ErrUnknownLayer(id)
	}
	d.mu.Lock()
	d.active[id]++
	d.mu.Unlock()
	return dir, nil
}

func (d *vfsDriver) Put(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.active[id] > 0 {
		d.active[id]--
	}
	return nil
}

func (d *vfsDriver) Remove(id string) error {
	d.mu.Lock()
	refs := d.active[id]
	d.mu.Unlock()
	if refs > 0 {
		return ErrBusy(id)
	}
	if !d.Exists(id) {
		return ErrUnknownLayer(id)
	}
	return os.RemoveAll(d.dir(id))
}

func (d *vfsDriver) Exists(id string) bool {
	_, err := os.Stat(d.dir(id))
	return err == nil
}

func (d *vfsDriver) Changes(id, parent string) ([]Change, error) {
	if !d.Exists(id) {
		return nil, ErrUnknownLayer(id)
	}
	parentDir := ""
	if parent != "" {
		if !d.Exists(parent) {
			return nil, ErrUnknownLayer(parent)
		}
		parentDir = d.dir(parent)
	}
	return directoryChanges(d.dir(id), parentDir)
}

func (d *vfsDriver) Diff(id, parent string) (io.ReadCloser, error) {
	changes, err := d.Changes(id, parent)
	if err != nil {
		return nil, err
	}
	return archiveChanges(d.dir(id), changes)
}

func (d *vfsDriver) Status() [][2]string {
	d.mu.Lock()
	mounted := 0
	for _, refs := range d.active {
		if refs > 0 {
			mounted++
		}
	}
	d.mu.Unlock()
	return [][2]string{
		{"Root Dir", d.home},
		{"Mounted Layers", fmt.Sprintf("%d", mounted)},
	}
}

func (d *vfsDriver) Cleanup() error { return nil }

// copyTree recursively copies src into dst. Symlinks are recreated, regular
// files copied with their mode.
func copyTree(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		target := filepath.Join(dst, rel)
		switch {
		case info.IsDir():
			if st, serr := os.Lstat(target); serr == nil && !st.IsDir() {
				os.Remove(target)
			}
			return os.MkdirAll(target, info.Mode())
		case info.Mode()&os.ModeSymlink != 0:
			link, lerr := os.Readlink(path)
			if lerr != nil {
				return lerr
			}
			os.Remove(target)
			return os.Symlink(link, target)
		default:
			return copyFile(path, target, info.Mode())
		}
	})
}

func copyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
