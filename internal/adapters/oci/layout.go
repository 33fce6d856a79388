package oci

import (
	"fmt"
	"os"
	"path/filepath"

	"go.trai.ch/zerr"
)

// A kit image materializes this layout from scratch:
//
//	/kits/<kit-name>/repodata/repomd.xml (+ primary, filelists, other)
//	/kits/<kit-name>/<rpm files>
//	/etc/yum.repos.d/<kit-name>.repo
const (
	kitsPrefix    = "kits"
	repoConfigDir = "etc/yum.repos.d"
)

// KitContentDir returns the path of a kit's repo content inside a layout
// root.
func KitContentDir(layoutRoot, kitName string) string {
	return filepath.Join(layoutRoot, kitsPrefix, kitName)
}

// WriteRepoConfig emits the yum repository configuration carried inside a
// kit image, pointing at the kit's own baked-in path.
func WriteRepoConfig(layoutRoot, kitName string) error {
	dir := filepath.Join(layoutRoot, repoConfigDir)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return zerr.Wrap(err, "failed to create repo config directory")
	}

	content := fmt.Sprintf("[%s]\nname=%s\nbaseurl=file:///%s/%s\nenabled=1\ngpgcheck=0\n",
		kitName, kitName, kitsPrefix, kitName)

	path := filepath.Join(dir, kitName+".repo")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil { //nolint:gosec // repo config is world-readable
		return zerr.With(zerr.Wrap(err, "failed to write repo config"), "path", path)
	}
	return nil
}

// ValidateLayout checks that a directory looks like a kit layout for the
// named kit: repo content plus its repo configuration.
func ValidateLayout(layoutRoot, kitName string) error {
	repodata := filepath.Join(KitContentDir(layoutRoot, kitName), "repodata", "repomd.xml")
	if _, err := os.Stat(repodata); err != nil {
		return zerr.With(zerr.Wrap(err, "kit layout has no repo metadata"), "kit", kitName)
	}
	repoConfig := filepath.Join(layoutRoot, repoConfigDir, kitName+".repo")
	if _, err := os.Stat(repoConfig); err != nil {
		return zerr.With(zerr.Wrap(err, "kit layout has no repo config"), "kit", kitName)
	}
	return nil
}
