// Package config loads and validates Twoliter.toml and the kit, package, and
// variant manifests beneath it.
package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/Masterminds/semver/v3"
	"github.com/pelletier/go-toml/v2"
	"go.trai.ch/zerr"

	"go.trai.ch/twoliter/internal/core/domain"
	"go.trai.ch/twoliter/internal/core/ports"
)

const (
	kitsDir     = "kits"
	packagesDir = "packages"
	variantsDir = "variants"

	kitManifestName     = "kit.toml"
	packageManifestName = "package.toml"
	variantManifestName = "variant.toml"
	releaseManifestName = "Release.toml"
)

var _ ports.ProjectLoader = (*Loader)(nil)

// Loader implements ports.ProjectLoader for the fixed on-disk project layout.
type Loader struct {
	Logger ports.Logger
}

// Find searches startDir and its ancestors for Twoliter.toml and loads the
// first one found.
func (l *Loader) Find(startDir string) (*domain.Project, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, zerr.Wrap(err, "failed to resolve search directory")
	}

	for {
		candidate := filepath.Join(dir, domain.ProjectFileName)
		if _, err := os.Stat(candidate); err == nil {
			return l.Load(candidate)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, zerr.With(domain.ErrProjectNotFound, "start_dir", startDir)
		}
		dir = parent
	}
}

// Load reads the project manifest at the given path, then the kit, package,
// and variant manifests in the directories beneath it.
func (l *Loader) Load(path string) (*domain.Project, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, zerr.Wrap(err, "failed to resolve project path")
	}

	data, err := os.ReadFile(abs) //nolint:gosec // path is provided by user
	if err != nil {
		return nil, zerr.With(zerr.Wrap(err, "unable to read project file"), "path", abs)
	}

	var dto projectDTO
	if err := toml.Unmarshal(data, &dto); err != nil {
		return nil, manifestErr(abs, zerr.Wrap(err, "unable to deserialize project file"))
	}

	project, err := l.validate(abs, &dto)
	if err != nil {
		return nil, err
	}

	if err := l.loadOverrides(project); err != nil {
		return nil, err
	}
	if err := l.checkReleaseManifest(project); err != nil {
		return nil, err
	}
	if err := l.loadLocalKits(project); err != nil {
		return nil, err
	}
	if err := l.loadPackages(project); err != nil {
		return nil, err
	}
	if err := l.loadVariants(project); err != nil {
		return nil, err
	}
	if err := checkVendorAvailability(project); err != nil {
		return nil, err
	}

	return project, nil
}

func (l *Loader) validate(path string, dto *projectDTO) (*domain.Project, error) {
	if dto.SchemaVersion < domain.MinSchemaVersion || dto.SchemaVersion > domain.MaxSchemaVersion {
		return nil, zerr.With(zerr.With(domain.ErrSchemaUnsupported,
			"schema_version", dto.SchemaVersion),
			"supported", domain.MaxSchemaVersion)
	}

	release, err := semver.StrictNewVersion(dto.ReleaseVersion)
	if err != nil {
		return nil, manifestErr(path, zerr.With(zerr.Wrap(err, "invalid release-version"),
			"release_version", dto.ReleaseVersion))
	}

	project := &domain.Project{
		Filepath:       path,
		ProjectDir:     filepath.Dir(path),
		SchemaVersion:  dto.SchemaVersion,
		ReleaseVersion: release,
		Vendors:        make(map[string]domain.Vendor, len(dto.Vendor)),
		Overrides:      make(map[string]map[string]domain.Override),
	}

	for name, vendor := range dto.Vendor {
		if err := validIdentifier(name); err != nil {
			return nil, manifestErr(path, err)
		}
		if vendor.Registry == "" {
			return nil, manifestErr(path, zerr.With(zerr.New("vendor has no registry"), "vendor", name))
		}
		project.Vendors[name] = domain.Vendor{Registry: vendor.Registry}
	}

	if dto.SDK != nil {
		sdk, err := parseImage(*dto.SDK)
		if err != nil {
			return nil, manifestErr(path, err)
		}
		project.SDK = &sdk
	}

	for _, kit := range dto.Kit {
		image, err := parseImage(kit)
		if err != nil {
			return nil, manifestErr(path, err)
		}
		project.Kits = append(project.Kits, image)
	}

	return project, nil
}

func (l *Loader) loadOverrides(project *domain.Project) error {
	path := filepath.Join(project.ProjectDir, domain.OverridesFileName)
	data, err := os.ReadFile(path) //nolint:gosec // fixed name under project dir
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return zerr.With(zerr.Wrap(err, "unable to read overrides file"), "path", path)
	}

	var dto overridesDTO
	if err := toml.Unmarshal(data, &dto); err != nil {
		return manifestErr(path, zerr.Wrap(err, "unable to deserialize overrides file"))
	}

	for vendor, kits := range dto {
		project.Overrides[vendor] = make(map[string]domain.Override, len(kits))
		for kit, override := range kits {
			project.Overrides[vendor][kit] = domain.Override{
				Name:     override.Name,
				Registry: override.Registry,
			}
		}
	}

	if l.Logger != nil && len(project.Overrides) > 0 {
		l.Logger.Warn("using image overrides from " + domain.OverridesFileName)
	}
	return nil
}

// checkReleaseManifest enforces that an optional Release.toml agrees with the
// project's release-version.
func (l *Loader) checkReleaseManifest(project *domain.Project) error {
	path := filepath.Join(project.ProjectDir, releaseManifestName)
	data, err := os.ReadFile(path) //nolint:gosec // fixed name under project dir
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return zerr.With(zerr.Wrap(err, "unable to read release file"), "path", path)
	}

	var dto releaseDTO
	if err := toml.Unmarshal(data, &dto); err != nil {
		return manifestErr(path, zerr.Wrap(err, "unable to deserialize release file"))
	}

	version, err := semver.StrictNewVersion(dto.Version)
	if err != nil {
		return manifestErr(path, zerr.Wrap(err, "invalid version in release file"))
	}
	if !version.Equal(project.ReleaseVersion) {
		return manifestErr(path, zerr.With(zerr.With(
			zerr.New("Release.toml version does not match release-version in Twoliter.toml"),
			"release_toml", version.String()),
			"twoliter_toml", project.ReleaseVersion.String()))
	}
	return nil
}

func (l *Loader) loadLocalKits(project *domain.Project) error {
	seen := make(map[string]bool)
	return eachManifestDir(project.ProjectDir, kitsDir, kitManifestName, func(name, path string, data []byte) error {
		if seen[name] {
			return zerr.With(domain.ErrDuplicateName, "kit", name)
		}
		seen[name] = true

		if err := validIdentifier(name); err != nil {
			return manifestErr(path, err)
		}

		var dto kitManifestDTO
		if err := toml.Unmarshal(data, &dto); err != nil {
			return manifestErr(path, zerr.Wrap(err, "unable to deserialize kit manifest"))
		}

		kit := domain.LocalKit{
			Name:     name,
			Path:     filepath.Dir(path),
			Packages: dto.Packages,
		}
		for _, dep := range dto.Dependencies {
			image, err := parseImage(dep)
			if err != nil {
				return manifestErr(path, err)
			}
			kit.Dependencies = append(kit.Dependencies, image)
		}

		project.LocalKits = append(project.LocalKits, kit)
		return nil
	})
}

func (l *Loader) loadPackages(project *domain.Project) error {
	seen := make(map[string]bool)
	return eachManifestDir(project.ProjectDir, packagesDir, packageManifestName, func(name, path string, data []byte) error {
		if seen[name] {
			return zerr.With(domain.ErrDuplicateName, "package", name)
		}
		seen[name] = true

		if err := validIdentifier(name); err != nil {
			return manifestErr(path, err)
		}

		var dto packageManifestDTO
		if err := toml.Unmarshal(data, &dto); err != nil {
			return manifestErr(path, zerr.Wrap(err, "unable to deserialize package manifest"))
		}

		spec := dto.Spec
		if spec == "" {
			spec = name + ".spec"
		}

		project.Packages = append(project.Packages, domain.Package{
			Name:         name,
			Path:         filepath.Dir(path),
			SpecFile:     spec,
			Dependencies: dto.Dependencies,
		})
		return nil
	})
}

func (l *Loader) loadVariants(project *domain.Project) error {
	seen := make(map[string]bool)
	return eachManifestDir(project.ProjectDir, variantsDir, variantManifestName, func(name, path string, data []byte) error {
		if seen[name] {
			return zerr.With(domain.ErrDuplicateName, "variant", name)
		}
		seen[name] = true

		if err := validIdentifier(name); err != nil {
			return manifestErr(path, err)
		}

		var dto variantManifestDTO
		if err := toml.Unmarshal(data, &dto); err != nil {
			return manifestErr(path, zerr.Wrap(err, "unable to deserialize variant manifest"))
		}

		if !domain.KnownArch(dto.Arch) {
			return manifestErr(path, zerr.With(zerr.New("unknown architecture"), "arch", dto.Arch))
		}

		variant := domain.Variant{
			Name:     name,
			Path:     filepath.Dir(path),
			Arch:     dto.Arch,
			Packages: dto.Packages,
			Image: domain.ImageParams{
				PartitionPlan:    dto.Image.PartitionPlan,
				ImageFormat:      dto.Image.ImageFormat,
				KernelParameters: dto.Image.KernelParameters,
				Features:         dto.Image.Features,
			},
		}
		for _, kit := range dto.Kits {
			image, err := parseImage(kit)
			if err != nil {
				return manifestErr(path, err)
			}
			variant.Kits = append(variant.Kits, image)
		}

		project.Variants = append(project.Variants, variant)
		return nil
	})
}

// eachManifestDir walks <root>/<kind>/*/<manifest> in sorted order, invoking
// fn once per subdirectory that carries a manifest.
func eachManifestDir(root, kind, manifest string, fn func(name, path string, data []byte) error) error {
	dir := filepath.Join(root, kind)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return zerr.With(zerr.Wrap(err, "unable to read directory"), "path", dir)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name(), manifest)
		data, err := os.ReadFile(path) //nolint:gosec // fixed layout under project dir
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return zerr.With(zerr.Wrap(err, "unable to read manifest"), "path", path)
		}
		if err := fn(entry.Name(), path, data); err != nil {
			return err
		}
	}
	return nil
}

// checkVendorAvailability rejects dependencies on vendors that are not
// declared in Twoliter.toml.
func checkVendorAvailability(project *domain.Project) error {
	check := func(image domain.Image, where string) error {
		if _, ok := project.Vendors[image.Vendor]; !ok {
			return zerr.With(zerr.With(domain.ErrVendorUnknown,
				"vendor", image.Vendor),
				"required_by", where)
		}
		return nil
	}

	if project.SDK != nil {
		if err := check(*project.SDK, "sdk"); err != nil {
			return err
		}
	}
	for _, kit := range project.Kits {
		if err := check(kit, domain.ProjectFileName); err != nil {
			return err
		}
	}
	for _, local := range project.LocalKits {
		for _, dep := range local.Dependencies {
			if err := check(dep, "kit "+local.Name); err != nil {
				return err
			}
		}
	}
	for _, variant := range project.Variants {
		for _, dep := range variant.Kits {
			if err := check(dep, "variant "+variant.Name); err != nil {
				return err
			}
		}
	}
	return nil
}

func parseImage(dto imageDTO) (domain.Image, error) {
	if err := validIdentifier(dto.Name); err != nil {
		return domain.Image{}, err
	}
	if err := validIdentifier(dto.Vendor); err != nil {
		return domain.Image{}, err
	}
	version, err := semver.StrictNewVersion(dto.Version)
	if err != nil {
		return domain.Image{}, zerr.With(zerr.Wrap(err, "invalid version"), "image", dto.Name)
	}
	return domain.Image{Name: dto.Name, Version: version, Vendor: dto.Vendor}, nil
}

// validIdentifier enforces the identifier charset for kit, vendor, package,
// and variant names: lowercase alphanumerics and interior dashes.
func validIdentifier(s string) error {
	invalid := zerr.With(zerr.New("invalid identifier"), "identifier", s)
	if s == "" || s[0] == '-' || s[len(s)-1] == '-' {
		return invalid
	}
	for _, c := range s {
		switch {
		case c >= 'a' && c <= 'z':
		case c >= '0' && c <= '9':
		case c == '-':
		default:
			return invalid
		}
	}
	return nil
}

func manifestErr(path string, cause error) error {
	return zerr.With(zerr.With(domain.ErrManifestInvalid, "path", path), "detail", cause.Error())
}
