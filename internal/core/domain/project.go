// Package domain contains the core model for twoliter projects: manifests,
// image references, the lockfile, and the build graph.
package domain

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/Masterminds/semver/v3"
	"go.trai.ch/zerr"
)

const (
	// ProjectFileName is the project manifest at the project root.
	ProjectFileName = "Twoliter.toml"

	// OverridesFileName is the optional vendor override file, a sibling of
	// Twoliter.toml.
	OverridesFileName = "Twoliter.override"

	// LockFileName is the persisted resolved graph.
	LockFileName = "Twoliter.lock"

	// MinSchemaVersion and MaxSchemaVersion bound the inclusive range of
	// project schema versions this tool can load.
	MinSchemaVersion = 1
	MaxSchemaVersion = 1
)

// Vendor maps a vendor namespace to the registry its images are pulled from.
type Vendor struct {
	Registry string `toml:"registry"`
}

// Override replaces the name and/or registry used to locate a kit image
// without changing its identity in the project.
type Override struct {
	Name     string `toml:"name,omitempty"`
	Registry string `toml:"registry,omitempty"`
}

// ImageParams carries the image-generation parameters of a variant. The
// fields pass through to the image writer; twoliter only hashes them into the
// variant's cache token.
type ImageParams struct {
	PartitionPlan    string   `toml:"partition-plan,omitempty"`
	ImageFormat      string   `toml:"image-format,omitempty"`
	KernelParameters []string `toml:"kernel-parameters,omitempty"`
	Features         []string `toml:"features,omitempty"`
}

// LocalKit is a kit defined in this project under kits/<name>/, built from
// source. It never appears in the lockfile; only its external dependencies do.
type LocalKit struct {
	Name         string
	Path         string
	Packages     []string
	Dependencies []Image
}

// Package is a buildable RPM source directory under packages/<name>/.
type Package struct {
	Name         string
	Path         string
	SpecFile     string
	Dependencies []string
}

// Variant is a named bootable image configuration under variants/<name>/.
// Kits are listed in priority order: earlier entries win when two kits
// provide the same package.
type Variant struct {
	Name     string
	Path     string
	Arch     string
	Packages []string
	Kits     []Image
	Image    ImageParams
}

// Project is the immutable, validated model of a Twoliter.toml and the kit,
// package, and variant manifests beneath it.
type Project struct {
	Filepath   string
	ProjectDir string

	SchemaVersion  int
	ReleaseVersion *semver.Version

	SDK *Image

	Vendors   map[string]Vendor
	Overrides map[string]map[string]Override

	Kits      []Image
	LocalKits []LocalKit
	Packages  []Package
	Variants  []Variant
}

// BuildDir is the root for all build outputs.
func (p *Project) BuildDir() string {
	return filepath.Join(p.ProjectDir, "build")
}

// CacheDir holds downloaded registry content and the build-info records.
// Digest-addressed blobs are never mutated; per-reference records and the
// build-info file are rewritten as they change.
func (p *Project) CacheDir() string {
	return filepath.Join(p.BuildDir(), "cache")
}

// ExternalKitsDir is where external kit layouts are extracted for builds.
func (p *Project) ExternalKitsDir() string {
	return filepath.Join(p.BuildDir(), "external-kits")
}

// ExternalKitsMetadata is the canonical-JSON union of the locked SDK and kit
// set, kept in sync with Twoliter.lock for consumption by build stages.
func (p *Project) ExternalKitsMetadata() string {
	return filepath.Join(p.ExternalKitsDir(), "external-kit-metadata.json")
}

// LockfilePath is the location of Twoliter.lock.
func (p *Project) LockfilePath() string {
	return filepath.Join(p.ProjectDir, LockFileName)
}

// Vendor returns the vendor table entry for the given namespace.
func (p *Project) Vendor(name string) (Vendor, error) {
	v, ok := p.Vendors[name]
	if !ok {
		return Vendor{}, zerr.With(ErrVendorUnknown, "vendor", name)
	}
	return v, nil
}

// VendorForRegistry maps a registry back to a vendor namespace. Vendor names
// are walked in sorted order so resolution is deterministic when two vendors
// share a registry.
func (p *Project) VendorForRegistry(registry string) (string, error) {
	names := make([]string, 0, len(p.Vendors))
	for name := range p.Vendors {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if p.Vendors[name].Registry == registry {
			return name, nil
		}
	}
	return "", zerr.With(ErrVendorUnknown, "registry", registry)
}

// ImageURIFor forms the registry URI for a declared image, applying any
// vendor override for it.
func (p *Project) ImageURIFor(image Image) (ImageURI, error) {
	vendor, err := p.Vendor(image.Vendor)
	if err != nil {
		return ImageURI{}, zerr.With(err, "image", image.String())
	}
	uri := ImageURI{
		Registry: vendor.Registry,
		Repo:     image.Name,
		Tag:      fmt.Sprintf("v%s", image.Version),
	}
	if override, ok := p.Overrides[image.Vendor][image.Name]; ok {
		if override.Registry != "" {
			uri.Registry = override.Registry
		}
		if override.Name != "" {
			uri.Repo = override.Name
		}
	}
	return uri, nil
}

// DirectKits returns every external kit reference declared anywhere in the
// project: at the top level, by variants, and by local kits. The result is
// ordered deterministically.
func (p *Project) DirectKits() []Image {
	var all []Image
	all = append(all, p.Kits...)
	for _, v := range p.Variants {
		all = append(all, v.Kits...)
	}
	for _, k := range p.LocalKits {
		all = append(all, k.Dependencies...)
	}

	sort.Slice(all, func(i, j int) bool {
		if all[i].Vendor != all[j].Vendor {
			return all[i].Vendor < all[j].Vendor
		}
		if all[i].Name != all[j].Name {
			return all[i].Name < all[j].Name
		}
		return all[i].Version.LessThan(all[j].Version)
	})
	return all
}

// LocalKit returns the local kit with the given name, if any.
func (p *Project) LocalKit(name string) (LocalKit, bool) {
	for _, k := range p.LocalKits {
		if k.Name == name {
			return k, true
		}
	}
	return LocalKit{}, false
}

// Variant returns the variant with the given name, if any.
func (p *Project) Variant(name string) (Variant, bool) {
	for _, v := range p.Variants {
		if v.Name == name {
			return v, true
		}
	}
	return Variant{}, false
}

// Package returns the package with the given name, if any.
func (p *Project) Package(name string) (Package, bool) {
	for _, pkg := range p.Packages {
		if pkg.Name == name {
			return pkg, true
		}
	}
	return Package{}, false
}
