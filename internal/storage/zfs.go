// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 stevedore contributors
// https://github.com/stevedore-io/stevedore

package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	apperrors "github.com/stevedore-io/stevedore/internal/pkg/errors"
	"github.com/stevedore-io/stevedore/internal/pkg/logger"
)

func init() {
	Register("zfs", newZFSDriver)
}

var zfsAcceptedOpts = map[string]bool{
	"zfs.fsname": true,
}

// zfsDriver creates each layer as a zfs dataset; child layers are clones of
// a snapshot of the parent dataset.
type zfsDriver struct {
	home   string
	fsname string
	log    *logger.Logger
	runner commandRunner

	mu     sync.Mutex
	active map[string]int
}

func newZFSDriver(home string, options []string, log *logger.Logger) (Driver, error) {
	return newZFSDriverWithRunner(home, options, log, execRunner{})
}

func newZFSDriverWithRunner(home string, options []string, log *logger.Logger, runner commandRunner) (Driver, error) {
	opts, err := parseDriverOpts("zfs", options, zfsAcceptedOpts)
	if err != nil {
		return nil, err
	}
	if _, err := runner.LookPath("zfs"); err != nil {
		return nil, ErrUnsupported("zfs tooling not found on PATH")
	}

	fsname := opts["zfs.fsname"]
	if fsname == "" {
		return nil, apperrors.New(apperrors.CodeInvalidConfig,
			"zfs.fsname is required for the zfs driver")
	}

	d := &zfsDriver{
		home:   home,
		fsname: fsname,
		log:    log.Named("zfs"),
		runner: runner,
		active: make(map[string]int),
	}
	if err := os.MkdirAll(filepath.Join(home, "graph"), 0o700); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *zfsDriver) Name() string { return "zfs" }

func (d *zfsDriver) dataset(id string) string {
	return d.fsname + "/" + id
}

func (d *zfsDriver) mountpoint(id string) string {
	return filepath.Join(d.home, "graph", id)
}

func (d *zfsDriver) Create(id, parent string, opts *CreateOpts) error {
	if _, err := os.Stat(d.mountpoint(id)); err == nil {
		return apperrors.Conflict("dataset " + id + " already exists")
	}
	if err := os.MkdirAll(d.mountpoint(id), 0o755); err != nil {
		return err
	}

	if parent == "" {
		if err := d.runner.Run("zfs", "create",
			"-o", "mountpoint="+d.mountpoint(id), d.dataset(id)); err != nil {
			os.RemoveAll(d.mountpoint(id))
			return err
		}
		return nil
	}

	if _, err := os.Stat(d.mountpoint(parent)); err != nil {
		os.RemoveAll(d.mountpoint(id))
		return ErrUnknownLayer(parent)
	}

	snapshot := fmt.Sprintf("%s@%s", d.dataset(parent), id)
	if err := d.runner.Run("zfs", "snapshot", snapshot); err != nil {
		os.RemoveAll(d.mountpoint(id))
		return err
	}
	if err := d.runner.Run("zfs", "clone",
		"-o", "mountpoint="+d.mountpoint(id), snapshot, d.dataset(id)); err != nil {
		os.RemoveAll(d.mountpoint(id))
		return err
	}
	return nil
}

func (d *zfsDriver) Get(id, _ string) (string, error) {
	mp := d.mountpoint(id)
	if _, err := os.Stat(mp); err != nil {
		return "", ErrUnknownLayer(id)
	}
	d.mu.Lock()
	d.active[id]++
	d.mu.Unlock()
	return mp, nil
}

func (d *zfsDriver) Put(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.active[id] > 0 {
		d.active[id]--
	}
	return nil
}

func (d *zfsDriver) Remove(id string) error {
	d.mu.Lock()
	refs := d.active[id]
	d.mu.Unlock()
	if refs > 0 {
		return ErrBusy(id)
	}
	if _, err := os.Stat(d.mountpoint(id)); err != nil {
		return idUnknown(id, err)
	}
	if err := d.runner.Run("zfs", "destroy", "-r", d.dataset(id)); err != nil {
		return err
	}
	return os.RemoveAll(d.mountpoint(id))
}

func (d *zfsDriver) Exists(id string) bool {
	_, err := os.Stat(d.mountpoint(id))
	return err == nil
}

func (d *zfsDriver) Changes(id, parent string) ([]Change, error) {
	if !d.Exists(id) {
		return nil, ErrUnknownLayer(id)
	}
	parentDir := ""
	if parent != "" {
		if !d.Exists(parent) {
			return nil, ErrUnknownLayer(parent)
		}
		parentDir = d.mountpoint(parent)
	}
	return directoryChanges(d.mountpoint(id), parentDir)
}

func (d *zfsDriver) Diff(id, parent string) (io.ReadCloser, error) {
	changes, err := d.Changes(id, parent)
	if err != nil {
		return nil, err
	}
	return archiveChanges(d.mountpoint(id), changes)
}

func (d *zfsDriver) Status() [][2]string {
	d.mu.Lock()
	count := len(d.active)
	d.mu.Unlock()
	return [][2]string{
		{"Zpool", d.fsname},
		{"Parent Datasets", strconv.Itoa(count)},
	}
}

func (d *zfsDriver) Cleanup() error { return nil }
