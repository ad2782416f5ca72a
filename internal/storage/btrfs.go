// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 stevedore contributors
// https://github.com/stevedore-io/stevedore

package storage

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"

	units "github.com/docker/go-units"

	apperrors "github.com/stevedore-io/stevedore/internal/pkg/errors"
	"github.com/stevedore-io/stevedore/internal/pkg/logger"
)

func init() {
	Register("btrfs", newBtrfsDriver)
}

var btrfsAcceptedOpts = map[string]bool{
	"btrfs.min_space": true,
}

// commandRunner abstracts subvolume/dataset shell-outs so driver logic is
// testable without the corresponding filesystem tooling installed.
type commandRunner interface {
	Run(name string, args ...string) error
	LookPath(name string) (string, error)
}

type execRunner struct{}

func (execRunner) Run(name string, args ...string) error {
	out, err := exec.Command(name, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s %v: %v: %s", name, args, err, out)
	}
	return nil
}

func (execRunner) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}

// btrfsDriver creates each layer as a btrfs subvolume; child layers are
// snapshots of their parent's subvolume.
type btrfsDriver struct {
	home     string
	log      *logger.Logger
	runner   commandRunner
	minSpace int64

	mu     sync.Mutex
	active map[string]int
}

func newBtrfsDriver(home string, options []string, log *logger.Logger) (Driver, error) {
	return newBtrfsDriverWithRunner(home, options, log, execRunner{})
}

func newBtrfsDriverWithRunner(home string, options []string, log *logger.Logger, runner commandRunner) (Driver, error) {
	opts, err := parseDriverOpts("btrfs", options, btrfsAcceptedOpts)
	if err != nil {
		return nil, err
	}
	if _, err := runner.LookPath("btrfs"); err != nil {
		return nil, ErrUnsupported("btrfs tooling not found on PATH")
	}

	d := &btrfsDriver{
		home:   home,
		log:    log.Named("btrfs"),
		runner: runner,
		active: make(map[string]int),
	}
	if raw, ok := opts["btrfs.min_space"]; ok {
		size, perr := units.RAMInBytes(raw)
		if perr != nil {
			return nil, apperrors.Newf(apperrors.CodeInvalidConfig, "invalid btrfs.min_space %q", raw)
		}
		d.minSpace = size
	}

	if err := os.MkdirAll(filepath.Join(home, "subvolumes"), 0o700); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *btrfsDriver) Name() string { return "btrfs" }

func (d *btrfsDriver) subvol(id string) string {
	return filepath.Join(d.home, "subvolumes", id)
}

func (d *btrfsDriver) Create(id, parent string, opts *CreateOpts) error {
	if opts != nil {
		if raw, ok := opts.StorageOpt["size"]; ok {
			size, err := units.RAMInBytes(raw)
			if err != nil {
				return apperrors.Newf(apperrors.CodeBadRequest, "invalid size %q", raw)
			}
			if d.minSpace > 0 && size < d.minSpace {
				return apperrors.Newf(apperrors.CodeBadRequest,
					"size %s is below btrfs.min_space %s",
					units.HumanSize(float64(size)), units.HumanSize(float64(d.minSpace)))
			}
		}
	}

	target := d.subvol(id)
	if _, err := os.Stat(target); err == nil {
		return apperrors.Conflict("subvolume " + id + " already exists")
	}

	if parent == "" {
		return d.runner.Run("btrfs", "subvolume", "create", target)
	}
	source := d.subvol(parent)
	if _, err := os.Stat(source); err != nil {
		return ErrUnknownLayer(parent)
	}
	return d.runner.Run("btrfs", "subvolume", "snapshot", source, target)
}

func (d *btrfsDriver) Get(id, _ string) (string, error) {
	target := d.subvol(id)
	if _, err := os.Stat(target); err != nil {
		return "", ErrUnknownLayer(id)
	}
	d.mu.Lock()
	d.active[id]++
	d.mu.Unlock()
	return target, nil
}

func (d *btrfsDriver) Put(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.active[id] > 0 {
		d.active[id]--
	}
	return nil
}

func (d *btrfsDriver) Remove(id string) error {
	d.mu.Lock()
	refs := d.active[id]
	d.mu.Unlock()
	if refs > 0 {
		return ErrBusy(id)
	}
	target := d.subvol(id)
	if _, err := os.Stat(target); err != nil {
		return idUnknown(id, err)
	}
	return d.runner.Run("btrfs", "subvolume", "delete", target)
}

func (d *btrfsDriver) Exists(id string) bool {
	_, err := os.Stat(d.subvol(id))
	return err == nil
}

func (d *btrfsDriver) Changes(id, parent string) ([]Change, error) {
	if !d.Exists(id) {
		return nil, ErrUnknownLayer(id)
	}
	parentDir := ""
	if parent != "" {
		if !d.Exists(parent) {
			return nil, ErrUnknownLayer(parent)
		}
		parentDir = d.subvol(parent)
	}
	return directoryChanges(d.subvol(id), parentDir)
}

func (d *btrfsDriver) Diff(id, parent string) (io.ReadCloser, error) {
	changes, err := d.Changes(id, parent)
	if err != nil {
		return nil, err
	}
	return archiveChanges(d.subvol(id), changes)
}

func (d *btrfsDriver) Status() [][2]string {
	d.mu.Lock()
	count := len(d.active)
	d.mu.Unlock()
	return [][2]string{
		{"Build Version", "Btrfs"},
		{"Subvolumes", strconv.Itoa(count)},
	}
}

func (d *btrfsDriver) Cleanup() error { return nil }
