// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 stevedore contributors
// https://github.com/stevedore-io/stevedore

package storage

import (
	"archive/tar"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// whiteoutPrefix marks a deleted path in an archived changeset, mirroring
// the AUFS whiteout convention used by layer tars.
const whiteoutPrefix = ".wh."

// directoryChanges walks dir and parentDir and produces the changeset of
// dir relative to parentDir. An empty parentDir means every entry is an add.
func directoryChanges(dir, parentDir string) ([]Change, error) {
	current, err := snapshotTree(dir)
	if err != nil {
		return nil, err
	}
	parent := map[string]fileStamp{}
	if parentDir != "" {
		parent, err = snapshotTree(parentDir)
		if err != nil {
			return nil, err
		}
	}

	var changes []Change
	for path, stamp := range current {
		old, existed := parent[path]
		switch {
		case !existed:
			changes = append(changes, Change{Path: path, Kind: ChangeAdd})
		case old != stamp:
			changes = append(changes, Change{Path: path, Kind: ChangeModify})
		}
	}
	for path := range parent {
		if _, still := current[path]; !still {
			changes = append(changes, Change{Path: path, Kind: ChangeDelete})
		}
	}

	sort.Slice(changes, func(i, j int) bool { return changes[i].Path < changes[j].Path })
	return changes, nil
}

// fileStamp is the identity used to detect modification between layers.
type fileStamp struct {
	size  int64
	mode  os.FileMode
	mtime int64
}

func snapshotTree(root string) (map[string]fileStamp, error) {
	out := make(map[string]fileStamp)
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		out["/"+filepath.ToSlash(rel)] = fileStamp{
			size:  info.Size(),
			mode:  info.Mode(),
			mtime: info.ModTime().UnixNano(),
		}
		return nil
	})
	return out, err
}

// archiveChanges streams a zstd-compressed tar of the changeset. Deletes
// are encoded as whiteout entries.
func archiveChanges(dir string, changes []Change) (io.ReadCloser, error) {
	pr, pw := io.Pipe()

	go func() {
		zw, err := zstd.NewWriter(pw)
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		tw := tar.NewWriter(zw)

		finish := func(err error) {
			tw.Close()
			zw.Close()
			pw.CloseWithError(err)
		}

		for _, change := range changes {
			if change.Kind == ChangeDelete {
				base := filepath.Base(change.Path)
				parent := filepath.Dir(change.Path)
				hdr := &tar.Header{
					Name: strings.TrimPrefix(filepath.ToSlash(filepath.Join(parent, whiteoutPrefix+base)), "/"),
					Mode: 0o600,
					Size: 0,
				}
				if err := tw.WriteHeader(hdr); err != nil {
					finish(err)
					return
				}
				continue
			}
			if err := writeTarEntry(tw, dir, change.Path); err != nil {
				finish(err)
				return
			}
		}
		finish(nil)
	}()

	return pr, nil
}

// applyArchive extracts a zstd-compressed layer tar into dir. Whiteout
// entries delete the named path instead of creating a file. Returns the
// number of uncompressed bytes applied.
func applyArchive(dir string, r io.Reader) (int64, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return 0, err
	}
	defer zr.Close()

	var applied int64
	tr := tar.NewReader(zr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return applied, nil
		}
		if err != nil {
			return applied, err
		}

		name := filepath.FromSlash(strings.TrimPrefix(hdr.Name, "/"))
		base := filepath.Base(name)
		if strings.HasPrefix(base, whiteoutPrefix) {
			target := filepath.Join(dir, filepath.Dir(name), strings.TrimPrefix(base, whiteoutPrefix))
			if err := os.RemoveAll(target); err != nil {
				return applied, err
			}
			continue
		}

		target := filepath.Join(dir, name)
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, os.FileMode(hdr.Mode)); err != nil {
				return applied, err
			}
		case tar.TypeSymlink:
			os.Remove(target)
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return applied, err
			}
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return applied, err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return applied, err
			}
			f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode))
			if err != nil {
				return applied, err
			}
			n, err := io.Copy(f, tr)
			f.Close()
			if err != nil {
				return applied, err
			}
			applied += n
		}
	}
}

func writeTarEntry(tw *tar.Writer, root, path string) error {
	full := filepath.Join(root, filepath.FromSlash(path))
	info, err := os.Lstat(full)
	if err != nil {
		return err
	}

	link := ""
	if info.Mode()&os.ModeSymlink != 0 {
		if link, err = os.Readlink(full); err != nil {
			return err
		}
	}

	hdr, err := tar.FileInfoHeader(info, link)
	if err != nil {
		return err
	}
	hdr.Name = strings.TrimPrefix(filepath.ToSlash(path), "/")
	if info.IsDir() {
		hdr.Name += "/"
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return nil
	}

	f, err := os.Open(full)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(tw, f)
	return err
}
