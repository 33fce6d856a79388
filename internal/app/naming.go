package app

import (
	"os"
	"path/filepath"
	"strings"

	"go.trai.ch/zerr"

	"go.trai.ch/twoliter/internal/core/domain"
)

// linkAliases creates the unversioned and friendly-versioned symlinks next
// to each published image artifact. Artifacts are named
// <image>-<variant>-<arch>-<version>-<build-id>[-suffix].<ext>; the friendly
// alias drops the build id and the unversioned alias drops both.
func linkAliases(dir, version, buildID string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return zerr.Wrap(err, "failed to read artifact directory")
	}

	full := "-" + version + "-" + buildID
	friendly := "-" + buildID

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.Contains(name, full) {
			continue
		}

		aliases := []string{
			strings.Replace(name, friendly, "", 1),
			strings.Replace(name, full, "", 1),
		}
		for _, alias := range aliases {
			if alias == name {
				continue
			}
			link := filepath.Join(dir, alias)
			if err := os.Remove(link); err != nil && !os.IsNotExist(err) {
				return zerr.Wrap(err, "failed to replace artifact alias")
			}
			if err := os.Symlink(name, link); err != nil {
				return zerr.With(zerr.Wrap(err, "failed to link artifact alias"), "alias", alias)
			}
		}
	}
	return nil
}

// parseRPMName splits "<name>-<version>-<release>.<arch>.rpm" into a package
// identity. Package names may themselves contain dashes, so the split works
// from the right.
func parseRPMName(filename string) (domain.PackageIdentity, bool) {
	base, ok := strings.CutSuffix(filename, ".rpm")
	if !ok {
		return domain.PackageIdentity{}, false
	}

	archDot := strings.LastIndex(base, ".")
	if archDot < 0 {
		return domain.PackageIdentity{}, false
	}
	arch := base[archDot+1:]
	rest := base[:archDot]

	relDash := strings.LastIndex(rest, "-")
	if relDash < 0 {
		return domain.PackageIdentity{}, false
	}
	release := rest[relDash+1:]
	rest = rest[:relDash]

	verDash := strings.LastIndex(rest, "-")
	if verDash < 0 {
		return domain.PackageIdentity{}, false
	}

	return domain.PackageIdentity{
		Name:    rest[:verDash],
		Version: rest[verDash+1:],
		Release: release,
		Arch:    arch,
	}, true
}
