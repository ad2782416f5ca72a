// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 stevedore contributors
// https://github.com/stevedore-io/stevedore

package storage

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"

	apperrors "github.com/stevedore-io/stevedore/internal/pkg/errors"
	"github.com/stevedore-io/stevedore/internal/pkg/logger"
)

func newTestVFS(t *testing.T) Driver {
	t.Helper()
	d, err := newVFSDriver(t.TempDir(), nil, logger.Nop())
	if err != nil {
		t.Fatalf("newVFSDriver: %v", err)
	}
	return d
}

func writeLayerFile(t *testing.T, d Driver, id, name, content string) {
	t.Helper()
	path, err := d.Get(id, "")
	if err != nil {
		t.Fatalf("Get(%s): %v", id, err)
	}
	defer d.Put(id)
	if err := os.WriteFile(filepath.Join(path, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestVFS_CreateMountRemove(t *testing.T) {
	d := newTestVFS(t)

	if err := d.Create("base", "", nil); err != nil {
		t.Fatalf("Create base: %v", err)
	}
	writeLayerFile(t, d, "base", "os-release", "stevedore linux")

	if err := d.Create("child", "base", nil); err != nil {
		t.Fatalf("Create child: %v", err)
	}
	path, err := d.Get("child", "")
	if err != nil {
		t.Fatalf("Get child: %v", err)
	}
	if _, err := os.Stat(filepath.Join(path, "os-release")); err != nil {
		t.Error("child layer should inherit parent content")
	}

	// Mounted layers are busy
	if err := d.Remove("child"); !apperrors.IsRetryable(err) {
		t.Errorf("Remove of mounted layer should be busy, got %v", err)
	}
	if err := d.Put("child"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := d.Remove("child"); err != nil {
		t.Fatalf("Remove after Put: %v", err)
	}
	if d.Exists("child") {
		t.Error("removed layer should not exist")
	}

	if err := d.Remove("no-such"); !apperrors.IsNotFound(err) {
		t.Errorf("Remove unknown layer should be not-found, got %v", err)
	}
}

func TestVFS_Changes(t *testing.T) {
	d := newTestVFS(t)

	if err := d.Create("base", "", nil); err != nil {
		t.Fatalf("Create: %v", err)
	}
	writeLayerFile(t, d, "base", "keep", "same")
	writeLayerFile(t, d, "base", "gone", "bye")
	writeLayerFile(t, d, "base", "changed", "v1")

	if err := d.Create("child", "base", nil); err != nil {
		t.Fatalf("Create: %v", err)
	}
	path, err := d.Get("child", "")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	os.Remove(filepath.Join(path, "gone"))
	os.WriteFile(filepath.Join(path, "changed"), []byte("v2-longer"), 0o644)
	os.WriteFile(filepath.Join(path, "added"), []byte("new"), 0o644)
	d.Put("child")

	changes, err := d.Changes("child", "base")
	if err != nil {
		t.Fatalf("Changes: %v", err)
	}
	got := map[string]ChangeKind{}
	for _, c := range changes {
		got[c.Path] = c.Kind
	}
	if got["/added"] != ChangeAdd {
		t.Errorf("added: got %v", got["/added"])
	}
	if got["/gone"] != ChangeDelete {
		t.Errorf("gone: got %v", got["/gone"])
	}
	if got["/changed"] != ChangeModify {
		t.Errorf("changed: got %v", got["/changed"])
	}
	if _, present := got["/keep"]; present {
		t.Error("unchanged file should not appear in the changeset")
	}
}

func TestVFS_DiffArchive(t *testing.T) {
	d := newTestVFS(t)
	if err := d.Create("base", "", nil); err != nil {
		t.Fatalf("Create: %v", err)
	}
	writeLayerFile(t, d, "base", "deleted-later", "x")
	if err := d.Create("child", "base", nil); err != nil {
		t.Fatalf("Create: %v", err)
	}
	path, _ := d.Get("child", "")
	os.WriteFile(filepath.Join(path, "hello"), []byte("world"), 0o644)
	os.Remove(filepath.Join(path, "deleted-later"))
	d.Put("child")

	rc, err := d.Diff("child", "base")
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	defer rc.Close()

	zr, err := zstd.NewReader(rc)
	if err != nil {
		t.Fatalf("zstd reader: %v", err)
	}
	defer zr.Close()

	names := map[string]string{}
	tr := tar.NewReader(zr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("tar next: %v", err)
		}
		content, _ := io.ReadAll(tr)
		names[hdr.Name] = string(content)
	}

	if names["hello"] != "world" {
		t.Errorf("archive should contain hello=world, got %q", names["hello"])
	}
	if _, ok := names[whiteoutPrefix+"deleted-later"]; !ok {
		t.Errorf("archive should contain whiteout for deleted file, got %v", names)
	}
}

func TestRegistry_UnknownDriverFatal(t *testing.T) {
	_, err := New("not-a-driver", t.TempDir(), nil, logger.Nop())
	if err == nil {
		t.Fatal("expected error for unknown driver")
	}
	if !apperrors.IsFatal(err) {
		t.Errorf("unknown driver should be a fatal config error, got %v", err)
	}
}

func TestRegistry_ExplicitVFS(t *testing.T) {
	d, err := New("vfs", t.TempDir(), nil, logger.Nop())
	if err != nil {
		t.Fatalf("New(vfs): %v", err)
	}
	if d.Name() != "vfs" {
		t.Errorf("Name = %q", d.Name())
	}
}

func TestParseDriverOpts(t *testing.T) {
	accepted := map[string]bool{"dm.basesize": true}

	if _, err := parseDriverOpts("dm", []string{"dm.basesize=20GB"}, accepted); err != nil {
		t.Errorf("valid opt rejected: %v", err)
	}
	if _, err := parseDriverOpts("dm", []string{"dm.bogus=1"}, accepted); !apperrors.IsFatal(err) {
		t.Errorf("unknown key should be fatal, got %v", err)
	}
	if _, err := parseDriverOpts("dm", []string{"zfs.fsname=tank"}, accepted); !apperrors.IsFatal(err) {
		t.Errorf("wrong-prefix key should be fatal, got %v", err)
	}
	if _, err := parseDriverOpts("dm", []string{"noequals"}, accepted); !apperrors.IsFatal(err) {
		t.Errorf("malformed opt should be fatal, got %v", err)
	}
}

func TestLayerStore_RefCounting(t *testing.T) {
	store := NewLayerStore(newTestVFS(t), logger.Nop())

	if err := store.CreateLayer("base", "", nil); err != nil {
		t.Fatalf("CreateLayer: %v", err)
	}
	if err := store.CreateLayer("top", "base", nil); err != nil {
		t.Fatalf("CreateLayer: %v", err)
	}

	// base now has its own ref plus top's parent ref
	if err := store.Remove("base"); !apperrors.IsConflict(err) {
		t.Errorf("Remove of referenced parent should conflict, got %v", err)
	}

	// Mounted layers refuse removal
	if _, err := store.Mount("top", ""); err != nil {
		t.Fatalf("Mount: %v", err)
	}
	if err := store.Remove("top"); !apperrors.IsRetryable(err) {
		t.Errorf("Remove of mounted layer should be busy, got %v", err)
	}
	if err := store.Unmount("top"); err != nil {
		t.Fatalf("Unmount: %v", err)
	}
	if err := store.Remove("top"); err != nil {
		t.Fatalf("Remove top: %v", err)
	}

	store.Release("base")
	if err := store.Remove("base"); err != nil {
		t.Fatalf("Remove base after release: %v", err)
	}
}

// fakeRunner records commands and simulates filesystem effects for the
// snapshot-based drivers.
type fakeRunner struct {
	commands [][]string
	missing  map[string]bool
}

func (f *fakeRunner) Run(name string, args ...string) error {
	f.commands = append(f.commands, append([]string{name}, args...))
	switch name {
	case "btrfs":
		// create/snapshot target is the last argument
		if args[1] == "create" || args[1] == "snapshot" {
			return os.MkdirAll(args[len(args)-1], 0o755)
		}
		if args[1] == "delete" {
			return os.RemoveAll(args[len(args)-1])
		}
	}
	return nil
}

func (f *fakeRunner) LookPath(name string) (string, error) {
	if f.missing[name] {
		return "", fmt.Errorf("%s: not found", name)
	}
	return "/usr/bin/" + name, nil
}

func TestBtrfs_SnapshotLifecycle(t *testing.T) {
	runner := &fakeRunner{}
	d, err := newBtrfsDriverWithRunner(t.TempDir(), nil, logger.Nop(), runner)
	if err != nil {
		t.Fatalf("newBtrfsDriverWithRunner: %v", err)
	}

	if err := d.Create("base", "", nil); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := d.Create("child", "base", nil); err != nil {
		t.Fatalf("Create child: %v", err)
	}
	if !d.Exists("child") {
		t.Error("child should exist")
	}

	if _, err := d.Get("child", ""); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if err := d.Remove("child"); !apperrors.IsRetryable(err) {
		t.Errorf("mounted subvolume should be busy, got %v", err)
	}
	d.Put("child")
	if err := d.Remove("child"); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	// first command created the base subvolume, second snapshotted it
	if runner.commands[0][1] != "subvolume" || runner.commands[0][2] != "create" {
		t.Errorf("unexpected first command: %v", runner.commands[0])
	}
	if runner.commands[1][2] != "snapshot" {
		t.Errorf("unexpected second command: %v", runner.commands[1])
	}
}

func TestBtrfs_MissingTooling(t *testing.T) {
	runner := &fakeRunner{missing: map[string]bool{"btrfs": true}}
	_, err := newBtrfsDriverWithRunner(t.TempDir(), nil, logger.Nop(), runner)
	if !apperrors.IsFatal(err) {
		t.Errorf("missing tooling should be fatal, got %v", err)
	}
}

func TestZFS_RequiresFsname(t *testing.T) {
	runner := &fakeRunner{}
	_, err := newZFSDriverWithRunner(t.TempDir(), nil, logger.Nop(), runner)
	if !apperrors.IsFatal(err) {
		t.Errorf("zfs without fsname should be fatal, got %v", err)
	}

	if _, err := newZFSDriverWithRunner(t.TempDir(), []string{"zfs.fsname=tank/containers"}, logger.Nop(), runner); err != nil {
		t.Errorf("zfs with fsname: %v", err)
	}
}
