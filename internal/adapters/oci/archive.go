package oci

import (
	"archive/tar"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.trai.ch/zerr"
)

// packDir produces a deterministic tar archive of a directory tree: entries
// in sorted order, fixed timestamps and ownership, so the layer digest is a
// function of content alone.
func packDir(root string, w io.Writer) error {
	tw := tar.NewWriter(w)

	var paths []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return zerr.With(zerr.Wrap(err, "failed to walk layout"), "path", root)
	}
	sort.Strings(paths)

	for _, path := range paths {
		if err := packEntry(tw, root, path); err != nil {
			return err
		}
	}

	if err := tw.Close(); err != nil {
		return zerr.Wrap(err, "failed to finalize archive")
	}
	return nil
}

func packEntry(tw *tar.Writer, root, path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		return zerr.With(zerr.Wrap(err, "failed to stat entry"), "path", path)
	}

	rel, err := filepath.Rel(root, path)
	if err != nil {
		return zerr.Wrap(err, "failed to relativize entry")
	}

	var link string
	if info.Mode()&os.ModeSymlink != 0 {
		if link, err = os.Readlink(path); err != nil {
			return zerr.With(zerr.Wrap(err, "failed to read symlink"), "path", path)
		}
	}

	hdr, err := tar.FileInfoHeader(info, link)
	if err != nil {
		return zerr.Wrap(err, "failed to build tar header")
	}
	hdr.Name = filepath.ToSlash(rel)
	if info.IsDir() {
		hdr.Name += "/"
	}
	hdr.ModTime = time.Unix(0, 0)
	hdr.AccessTime = time.Time{}
	hdr.ChangeTime = time.Time{}
	hdr.Uid, hdr.Gid = 0, 0
	hdr.Uname, hdr.Gname = "", ""

	if err := tw.WriteHeader(hdr); err != nil {
		return zerr.Wrap(err, "failed to write tar header")
	}

	if info.Mode().IsRegular() {
		f, err := os.Open(path) //nolint:gosec // path from walked layout
		if err != nil {
			return zerr.With(zerr.Wrap(err, "failed to open entry"), "path", path)
		}
		defer f.Close() //nolint:errcheck // Best effort close in defer
		if _, err := io.Copy(tw, f); err != nil {
			return zerr.With(zerr.Wrap(err, "failed to archive entry"), "path", path)
		}
	}
	return nil
}

// unpackDir extracts a tar archive into dest, rejecting entries that escape
// the destination.
func unpackDir(r io.Reader, dest string) error {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return zerr.Wrap(err, "failed to read archive")
		}

		name := filepath.FromSlash(hdr.Name)
		if strings.Contains(name, "..") {
			return zerr.With(zerr.New("archive entry escapes destination"), "entry", hdr.Name)
		}
		target := filepath.Join(dest, name)

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o750); err != nil {
				return zerr.With(zerr.Wrap(err, "failed to create directory"), "path", target)
			}
		case tar.TypeSymlink:
			if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
				return zerr.Wrap(err, "failed to create parent directory")
			}
			if err := os.Symlink(hdr.Linkname, target); err != nil && !os.IsExist(err) {
				return zerr.With(zerr.Wrap(err, "failed to create symlink"), "path", target)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
				return zerr.Wrap(err, "failed to create parent directory")
			}
			if err := writeFileFrom(tr, target, hdr.FileInfo().Mode()); err != nil {
				return err
			}
		}
	}
}

func writeFileFrom(r io.Reader, target string, mode os.FileMode) error {
	f, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode) //nolint:gosec // path validated against traversal
	if err != nil {
		return zerr.With(zerr.Wrap(err, "failed to create file"), "path", target)
	}
	defer f.Close() //nolint:errcheck // Best effort close in defer

	//nolint:gosec // G110: archive sizes are bounded by kit contents
	if _, err := io.Copy(f, r); err != nil {
		return zerr.With(zerr.Wrap(err, "failed to extract file"), "path", target)
	}
	return nil
}
