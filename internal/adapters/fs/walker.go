// Package fs provides file system adapters for walking and hashing sources.
package fs

import (
	"io/fs"
	"iter"
	"path/filepath"
)

// Walker yields files beneath a root in lexical order, which keeps every
// hash derived from a walk deterministic.
type Walker struct{}

// NewWalker creates a new Walker.
func NewWalker() *Walker {
	return &Walker{}
}

// WalkFiles yields every non-directory entry under root, symlinks included,
// skipping version control
// directories. Paths are yielded relative to root.
func (w *Walker) WalkFiles(root string) iter.Seq[string] {
	return func(yield func(string) bool) {
		_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}

			if d.IsDir() {
				switch d.Name() {
				case ".git", ".jj":
					return filepath.SkipDir
				}
				return nil
			}

			rel, relErr := filepath.Rel(root, path)
			if relErr != nil {
				return relErr
			}

			if !yield(rel) {
				return filepath.SkipAll
			}
			return nil
		})
	}
}
