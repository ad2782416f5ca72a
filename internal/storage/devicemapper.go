// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 stevedore contributors
// https://github.com/stevedore-io/stevedore

package storage

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	units "github.com/docker/go-units"

	apperrors "github.com/stevedore-io/stevedore/internal/pkg/errors"
	"github.com/stevedore-io/stevedore/internal/pkg/logger"
)

func init() {
	Register("devicemapper", newDeviceMapperDriver)
}

const (
	dmDefaultBaseSize     = 10 * units.GiB
	dmDefaultLoopDataSize = 100 * units.GiB
	dmDefaultMinFreePct   = 10
	dmReaperInterval      = 5 * time.Second
)

var dmAcceptedOpts = map[string]bool{
	"dm.basesize":              true,
	"dm.datadev":               true,
	"dm.metadatadev":           true,
	"dm.thinpooldev":           true,
	"dm.loopdatasize":          true,
	"dm.loopmetadatasize":      true,
	"dm.min_free_space":        true,
	"dm.use_deferred_removal":  true,
	"dm.use_deferred_deletion": true,
	"dm.fs":                    true,
	"dm.mountopt":              true,
}

// dmPoolState is the persisted thin-pool bookkeeping.
type dmPoolState struct {
	BaseSize      int64             `json:"base_size"`
	DataTotal     int64             `json:"data_total"`
	NextDeviceID  int               `json:"next_device_id"`
	Devices       map[string]*dmDev `json:"devices"`
	Loopback      bool              `json:"loopback"`
	ThinPoolDev   string            `json:"thin_pool_dev,omitempty"`
	DataDev       string            `json:"data_dev,omitempty"`
	MetadataDev   string            `json:"metadata_dev,omitempty"`
	Filesystem    string            `json:"filesystem"`
}

type dmDev struct {
	DeviceID int    `json:"device_id"`
	Parent   string `json:"parent,omitempty"`
	Size     int64  `json:"size"`
	// Deleted marks a device logically removed but awaiting physical
	// reclamation (deferred deletion).
	Deleted bool `json:"deleted,omitempty"`
}

// deviceMapperDriver models a devicemapper thin pool: snapshot devices
// allocated from a shared data+metadata pool, with free-space admission
// control and deferred removal of busy devices.
type deviceMapperDriver struct {
	home string
	log  *logger.Logger

	minFreePct       int
	deferredRemoval  bool
	deferredDeletion bool

	mu      sync.Mutex
	state   *dmPoolState
	active  map[string]int      // mount refcounts
	pending map[string]struct{} // ids queued for deferred removal

	stopReaper  chan struct{}
	reaperDone  chan struct{}
	cleanupOnce sync.Once
}

func newDeviceMapperDriver(home string, options []string, log *logger.Logger) (Driver, error) {
	opts, err := parseDriverOpts("dm", options, dmAcceptedOpts)
	if err != nil {
		return nil, err
	}

	d := &deviceMapperDriver{
		home:       home,
		log:        log.Named("devicemapper"),
		minFreePct: dmDefaultMinFreePct,
		active:     make(map[string]int),
		pending:    make(map[string]struct{}),
		stopReaper: make(chan struct{}),
		reaperDone: make(chan struct{}),
	}

	if err := os.MkdirAll(filepath.Join(home, "devices"), 0o700); err != nil {
		return nil, fmt.Errorf("create devicemapper home: %w", err)
	}

	state, err := d.loadState()
	if err != nil {
		return nil, err
	}

	baseSize := state.BaseSize
	if raw, ok := opts["dm.basesize"]; ok {
		requested, perr := units.RAMInBytes(raw)
		if perr != nil {
			return nil, apperrors.Newf(apperrors.CodeInvalidConfig, "invalid dm.basesize %q", raw)
		}
		// Base device size only ever grows. Shrinking would corrupt
		// filesystems already sized to the old base.
		if baseSize != 0 && requested < baseSize {
			return nil, apperrors.Newf(apperrors.CodeInvalidConfig,
				"dm.basesize %s is smaller than current base size %s: shrinking is not allowed",
				units.HumanSize(float64(requested)), units.HumanSize(float64(baseSize)))
		}
		baseSize = requested
	}
	if baseSize == 0 {
		baseSize = dmDefaultBaseSize
	}
	state.BaseSize = baseSize

	if raw, ok := opts["dm.min_free_space"]; ok {
		pct, perr := strconv.Atoi(strings.TrimSuffix(raw, "%"))
		if perr != nil || pct < 0 || pct > 99 {
			return nil, apperrors.Newf(apperrors.CodeInvalidConfig,
				"invalid dm.min_free_space %q: must be a percentage between 0%% and 99%%", raw)
		}
		d.minFreePct = pct
	}

	d.deferredRemoval = opts["dm.use_deferred_removal"] == "true"
	d.deferredDeletion = opts["dm.use_deferred_deletion"] == "true"
	if d.deferredDeletion && !d.deferredRemoval {
		return nil, apperrors.New(apperrors.CodeInvalidConfig,
			"dm.use_deferred_deletion requires dm.use_deferred_removal")
	}

	if fs, ok := opts["dm.fs"]; ok {
		if fs != "xfs" && fs != "ext4" {
			return nil, apperrors.Newf(apperrors.CodeInvalidConfig, "unsupported dm.fs %q", fs)
		}
		state.Filesystem = fs
	}
	if state.Filesystem == "" {
		state.Filesystem = "xfs"
	}

	state.DataDev = opts["dm.datadev"]
	state.MetadataDev = opts["dm.metadatadev"]
	state.ThinPoolDev = opts["dm.thinpooldev"]

	if state.ThinPoolDev == "" && (state.DataDev == "" || state.MetadataDev == "") {
		// No real block devices: fall back to loopback files. Usable but
		// slow, so make the operator aware.
		state.Loopback = true
		d.log.Warn("devicemapper is running on loopback devices; " +
			"use dm.thinpooldev or dm.datadev/dm.metadatadev in production")
	}

	if state.DataTotal == 0 {
		state.DataTotal = dmDefaultLoopDataSize
		if raw, ok := opts["dm.loopdatasize"]; ok {
			size, perr := units.RAMInBytes(raw)
			if perr != nil {
				return nil, apperrors.Newf(apperrors.CodeInvalidConfig, "invalid dm.loopdatasize %q", raw)
			}
			state.DataTotal = size
		}
	}

	d.state = state
	if err := d.saveState(); err != nil {
		return nil, err
	}

	go d.reaper()
	return d, nil
}

func (d *deviceMapperDriver) Name() string { return "devicemapper" }

func (d *deviceMapperDriver) stateFile() string {
	return filepath.Join(d.home, "metadata.json")
}

func (d *deviceMapperDriver) deviceDir(id string) string {
	return filepath.Join(d.home, "devices", id)
}

func (d *deviceMapperDriver) loadState() (*dmPoolState, error) {
	raw, err := os.ReadFile(d.stateFile())
	if os.IsNotExist(err) {
		return &dmPoolState{Devices: make(map[string]*dmDev)}, nil
	}
	if err != nil {
		return nil, err
	}
	var state dmPoolState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInvalidConfig, "corrupt devicemapper metadata")
	}
	if state.Devices == nil {
		state.Devices = make(map[string]*dmDev)
	}
	return &state, nil
}

// saveState must be called with d.mu held (or before the driver is shared).
func (d *deviceMapperDriver) saveState() error {
	raw, err := json.MarshalIndent(d.state, "", "  ")
	if err != nil {
		return err
	}
	tmp := d.stateFile() + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, d.stateFile())
}

// poolUsed computes current data usage: bytes actually written into device
// directories.
func (d *deviceMapperDriver) poolUsed() int64 {
	var used int64
	filepath.Walk(filepath.Join(d.home, "devices"), func(_ string, info os.FileInfo, err error) error {
		if err == nil && info.Mode().IsRegular() {
			used += info.Size()
		}
		return nil
	})
	return used
}

// checkFreeSpace enforces the min-free-space admission threshold before any
// new device allocation.
func (d *deviceMapperDriver) checkFreeSpace() error {
	used := d.poolUsed()
	free := d.state.DataTotal - used
	minFree := d.state.DataTotal * int64(d.minFreePct) / 100
	if free < minFree {
		return ErrNoSpace(fmt.Sprintf(
			"thin pool has %s free of %s, below the %d%% minimum; grow the pool or remove unused devices",
			units.HumanSize(float64(free)), units.HumanSize(float64(d.state.DataTotal)), d.minFreePct))
	}
	return nil
}

func (d *deviceMapperDriver) Create(id, parent string, opts *CreateOpts) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.state.Devices[id]; exists {
		return apperrors.Conflict("device " + id + " already exists")
	}
	if parent != "" {
		pdev, ok := d.state.Devices[parent]
		if !ok || pdev.Deleted {
			return ErrUnknownLayer(parent)
		}
	}
	if err := d.checkFreeSpace(); err != nil {
		return err
	}

	size := d.state.BaseSize
	if opts != nil {
		if raw, ok := opts.StorageOpt["size"]; ok {
			requested, err := units.RAMInBytes(raw)
			if err != nil {
				return apperrors.Newf(apperrors.CodeBadRequest, "invalid size %q", raw)
			}
			if requested < d.state.BaseSize {
				return apperrors.Newf(apperrors.CodeBadRequest,
					"container size cannot be smaller than the base device size %s",
					units.HumanSize(float64(d.state.BaseSize)))
			}
			size = requested
		}
	}

	if err := os.MkdirAll(d.deviceDir(id), 0o755); err != nil {
		return err
	}
	if parent != "" {
		if err := copyTree(d.deviceDir(parent), d.deviceDir(id)); err != nil {
			os.RemoveAll(d.deviceDir(id))
			return err
		}
	}

	d.state.NextDeviceID++
	d.state.Devices[id] = &dmDev{
		DeviceID: d.state.NextDeviceID,
		Parent:   parent,
		Size:     size,
	}
	return d.saveState()
}

func (d *deviceMapperDriver) Get(id, _ string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	dev, ok := d.state.Devices[id]
	if !ok || dev.Deleted {
		return "", ErrUnknownLayer(id)
	}
	d.active[id]++
	return d.deviceDir(id), nil
}

func (d *deviceMapperDriver) Put(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.active[id] > 0 {
		d.active[id]--
	}
	return nil
}

// Remove deletes a device. A busy device fails immediately unless deferred
// removal is enabled, in which case the logical delete succeeds and physical
// reclamation happens once the last reference drops.
func (d *deviceMapperDriver) Remove(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	dev, ok := d.state.Devices[id]
	if !ok {
		return ErrUnknownLayer(id)
	}

	if d.active[id] > 0 {
		if !d.deferredRemoval {
			return ErrBusy(id)
		}
		dev.Deleted = true
		d.pending[id] = struct{}{}
		d.log.Debug("queued busy device for deferred removal", "id", id)
		return d.saveState()
	}

	return d.destroyLocked(id)
}

// destroyLocked physically removes a device. Caller holds d.mu.
func (d *deviceMapperDriver) destroyLocked(id string) error {
	if err := os.RemoveAll(d.deviceDir(id)); err != nil {
		return err
	}
	delete(d.state.Devices, id)
	delete(d.pending, id)
	delete(d.active, id)
	return d.saveState()
}

// reaper drains the deferred-removal queue: devices whose last reference
// has dropped are physically removed.
func (d *deviceMapperDriver) reaper() {
	defer close(d.reaperDone)
	ticker := time.NewTicker(dmReaperInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stopReaper:
			return
		case <-ticker.C:
			d.reapPending()
		}
	}
}

func (d *deviceMapperDriver) reapPending() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for id := range d.pending {
		if d.active[id] > 0 {
			continue
		}
		if err := d.destroyLocked(id); err != nil {
			d.log.Warn("deferred removal failed", "id", id, "error", err)
			continue
		}
		d.log.Debug("deferred removal completed", "id", id)
	}
}

func (d *deviceMapperDriver) Exists(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	dev, ok := d.state.Devices[id]
	return ok && !dev.Deleted
}

func (d *deviceMapperDriver) Changes(id, parent string) ([]Change, error) {
	if !d.Exists(id) {
		return nil, ErrUnknownLayer(id)
	}
	parentDir := ""
	if parent != "" {
		if !d.Exists(parent) {
			return nil, ErrUnknownLayer(parent)
		}
		parentDir = d.deviceDir(parent)
	}
	return directoryChanges(d.deviceDir(id), parentDir)
}

func (d *deviceMapperDriver) Diff(id, parent string) (io.ReadCloser, error) {
	changes, err := d.Changes(id, parent)
	if err != nil {
		return nil, err
	}
	return archiveChanges(d.deviceDir(id), changes)
}

func (d *deviceMapperDriver) Status() [][2]string {
	d.mu.Lock()
	defer d.mu.Unlock()
	used := d.poolUsed()
	return [][2]string{
		{"Pool Name", "stevedore-thinpool"},
		{"Base Device Size", units.HumanSize(float64(d.state.BaseSize))},
		{"Data Space Used", units.HumanSize(float64(used))},
		{"Data Space Total", units.HumanSize(float64(d.state.DataTotal))},
		{"Data Space Available", units.HumanSize(float64(d.state.DataTotal - used))},
		{"Minimum Free Space", fmt.Sprintf("%d%%", d.minFreePct)},
		{"Deferred Removal Enabled", strconv.FormatBool(d.deferredRemoval)},
		{"Deferred Deletion Enabled", strconv.FormatBool(d.deferredDeletion)},
		{"Deferred Deleted Device Count", strconv.Itoa(len(d.pending))},
		{"Data Loop File", loopFileStatus(d.state)},
		{"Backing Filesystem", d.state.Filesystem},
	}
}

func loopFileStatus(state *dmPoolState) string {
	if state.Loopback {
		return "data.img (loopback)"
	}
	return ""
}

func (d *deviceMapperDriver) Cleanup() error {
	d.cleanupOnce.Do(func() {
		close(d.stopReaper)
		select {
		case <-d.reaperDone:
		case <-time.After(2 * dmReaperInterval):
		}
		// One final drain so short-lived daemons still reclaim.
		d.reapPending()
	})
	return nil
}
