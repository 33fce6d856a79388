package fs

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/cespare/xxhash/v2"
	"go.trai.ch/zerr"

	"go.trai.ch/twoliter/internal/core/domain"
	"go.trai.ch/twoliter/internal/core/ports"
)

var _ ports.Hasher = (*Hasher)(nil)

// Hasher derives cache tokens for build nodes.
type Hasher struct {
	walker *Walker
}

// NewHasher creates a new Hasher.
func NewHasher(walker *Walker) *Hasher {
	return &Hasher{walker: walker}
}

// ComputeFileHash computes the XXHash of a file's content.
func (h *Hasher) ComputeFileHash(path string) (uint64, error) {
	f, err := os.Open(path) //nolint:gosec // Path is controlled by caller
	if err != nil {
		return 0, zerr.With(zerr.Wrap(err, "failed to open file"), "path", path)
	}
	defer f.Close() //nolint:errcheck // Best effort close in defer

	hasher := xxhash.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return 0, zerr.With(zerr.Wrap(err, "failed to hash file content"), "path", path)
	}

	return hasher.Sum64(), nil
}

// ComputeNodeToken derives a single deterministic hash from everything that
// influences a node's output: the node definition, its arguments, the digests
// of its non-source inputs, and the content of its source directories.
func (h *Hasher) ComputeNodeToken(node *domain.BuildNode) (string, error) {
	hasher := xxhash.New()

	h.hashNodeDefinition(node, hasher)
	h.hashArgs(node.Args, hasher)
	h.hashInputDigests(node.InputDigests, hasher)

	if err := h.hashSourceDirs(node.SourceDirs, hasher); err != nil {
		return "", err
	}

	return fmt.Sprintf("%016x", hasher.Sum64()), nil
}

func (h *Hasher) hashNodeDefinition(node *domain.BuildNode, hasher *xxhash.Digest) {
	for _, field := range []string{node.Name, string(node.Kind), node.Arch, node.Target} {
		_, _ = hasher.WriteString(field)
		_, _ = hasher.Write([]byte{0})
	}

	for _, dep := range node.Requires {
		_, _ = hasher.WriteString(dep)
		_, _ = hasher.Write([]byte{0})
	}
	_, _ = hasher.Write([]byte{0})
}

func (h *Hasher) hashArgs(args map[string]string, hasher *xxhash.Digest) {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		_, _ = hasher.WriteString(k)
		_, _ = hasher.Write([]byte{'='})
		_, _ = hasher.WriteString(args[k])
		_, _ = hasher.Write([]byte{0})
	}
	_, _ = hasher.Write([]byte{0})
}

func (h *Hasher) hashInputDigests(digests []string, hasher *xxhash.Digest) {
	sorted := make([]string, len(digests))
	copy(sorted, digests)
	sort.Strings(sorted)

	for _, d := range sorted {
		_, _ = hasher.WriteString(d)
		_, _ = hasher.Write([]byte{0})
	}
	_, _ = hasher.Write([]byte{0})
}

func (h *Hasher) hashSourceDirs(dirs []string, hasher *xxhash.Digest) error {
	for _, dir := range dirs {
		info, err := os.Stat(dir)
		if err != nil {
			return zerr.With(zerr.Wrap(err, "source input not found"), "path", dir)
		}

		if !info.IsDir() {
			if err := h.hashFile(dir, filepath.Base(dir), hasher); err != nil {
				return err
			}
			continue
		}

		for rel := range h.walker.WalkFiles(dir) {
			if err := h.hashFile(filepath.Join(dir, rel), rel, hasher); err != nil {
				return err
			}
		}
	}
	return nil
}

// hashFile mixes the file's path relative to its source root and its content
// hash into the token, so renames invalidate the cache as well as edits.
func (h *Hasher) hashFile(path, rel string, hasher io.Writer) error {
	_, _ = hasher.Write([]byte(rel))
	_, _ = hasher.Write([]byte{0})

	hash, err := h.ComputeFileHash(path)
	if err != nil {
		return err
	}

	if err := binary.Write(hasher, binary.LittleEndian, hash); err != nil {
		return zerr.Wrap(err, "failed to write hash to digest")
	}
	return nil
}
