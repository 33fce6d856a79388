// Package repo assembles the composite yum repository a variant build
// installs from: a prioritized union of the project's own RPMs and every kit
// it depends on.
package repo

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"go.trai.ch/zerr"

	"go.trai.ch/twoliter/internal/core/domain"
	"go.trai.ch/twoliter/internal/core/ports"
)

// localRepoName is the repository carrying the project's locally built RPMs.
// It always wins: priority 0.
const localRepoName = "local-rpms"

// Source is one kit layout to merge into the composite, in declared
// priority order (earlier wins).
type Source struct {
	// Name is the kit name, which becomes the repository id.
	Name string

	// Path is the kit's repo content directory (the one holding repodata/).
	Path string
}

// Entry is one repository of an assembled composite.
type Entry struct {
	Name     string `json:"name"`
	Priority int    `json:"priority"`
	Path     string `json:"path"`
}

// Composite is the assembled repo set handed to the variant build stage as a
// read-only input.
type Composite struct {
	// ConfigDir holds one .repo file per repository.
	ConfigDir string

	// Entries in priority order, the local RPM repo first.
	Entries []Entry
}

// Builder implements the composite repo assembly.
type Builder struct {
	log ports.Logger
}

// NewBuilder creates a Builder.
func NewBuilder(log ports.Logger) *Builder {
	return &Builder{log: log}
}

// Assemble writes a priority-ordered repo configuration under configDir.
// The local RPM repository gets priority 0; kit sources get monotonically
// increasing priorities from 1 in their declared order. Repositories are
// never unioned at the file level; selection happens in the installer, where
// the lowest priority number wins.
func (b *Builder) Assemble(configDir, localRPMs string, sources []Source) (*Composite, error) {
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, zerr.Wrap(err, "failed to create repo config directory")
	}

	composite := &Composite{ConfigDir: configDir}

	entries := []Entry{{Name: localRepoName, Priority: 0, Path: localRPMs}}
	for i, source := range sources {
		entries = append(entries, Entry{Name: source.Name, Priority: i + 1, Path: source.Path})
	}

	for _, entry := range entries {
		if err := writeRepoConfig(configDir, entry); err != nil {
			return nil, err
		}
		if b.log != nil {
			b.log.Info(fmt.Sprintf("composite repo '%s' at priority %d", entry.Name, entry.Priority))
		}
	}

	composite.Entries = entries
	return composite, nil
}

func writeRepoConfig(configDir string, entry Entry) error {
	content := fmt.Sprintf(
		"[%s]\nname=%s\nbaseurl=file://%s\nenabled=1\npriority=%d\ngpgcheck=0\n",
		entry.Name, entry.Name, entry.Path, entry.Priority)

	path := filepath.Join(configDir, entry.Name+".repo")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil { //nolint:gosec // repo config is world-readable
		return zerr.With(zerr.Wrap(err, "failed to write repo config"), "repo", entry.Name)
	}
	return nil
}

// auditRecord notes which repository supplies one package.
type auditRecord struct {
	Repo     string `json:"repo"`
	Priority int    `json:"priority"`
}

// WriteAudit records, for every resolvable package name, the repository the
// installer will take it from. packages maps repository name to the package
// identities it provides.
func WriteAudit(path string, entries []Entry, packages map[string][]domain.PackageIdentity) error {
	supplier := make(map[string]auditRecord)

	ordered := append([]Entry{}, entries...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Priority < ordered[j].Priority })

	for _, entry := range ordered {
		for _, pkg := range packages[entry.Name] {
			if _, taken := supplier[pkg.Name]; !taken {
				supplier[pkg.Name] = auditRecord{Repo: entry.Name, Priority: entry.Priority}
			}
		}
	}

	blob, err := domain.CanonicalJSON(supplier)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return zerr.Wrap(err, "failed to create audit directory")
	}
	if err := os.WriteFile(path, blob, 0o644); err != nil { //nolint:gosec // audit is build metadata
		return zerr.With(zerr.Wrap(err, "failed to write install audit"), "path", path)
	}
	return nil
}
