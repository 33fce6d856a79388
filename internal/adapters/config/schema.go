package config

// projectDTO is the raw shape of Twoliter.toml before validation.
type projectDTO struct {
	SchemaVersion  int                   `toml:"schema-version"`
	ReleaseVersion string                `toml:"release-version"`
	SDK            *imageDTO             `toml:"sdk"`
	Vendor         map[string]vendorDTO  `toml:"vendor"`
	Kit            []imageDTO            `toml:"kit"`
}

type vendorDTO struct {
	Registry string `toml:"registry"`
}

type imageDTO struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
	Vendor  string `toml:"vendor"`
}

// overridesDTO is the raw shape of Twoliter.override: vendor -> kit -> override.
type overridesDTO map[string]map[string]overrideDTO

type overrideDTO struct {
	Name     string `toml:"name"`
	Registry string `toml:"registry"`
}

// kitManifestDTO is the raw shape of kits/<name>/kit.toml.
type kitManifestDTO struct {
	Packages     []string   `toml:"packages"`
	Dependencies []imageDTO `toml:"dependencies"`
}

// packageManifestDTO is the raw shape of packages/<name>/package.toml.
type packageManifestDTO struct {
	Spec         string   `toml:"spec"`
	Dependencies []string `toml:"dependencies"`
}

// variantManifestDTO is the raw shape of variants/<name>/variant.toml.
type variantManifestDTO struct {
	Arch     string          `toml:"arch"`
	Packages []string        `toml:"packages"`
	Kits     []imageDTO      `toml:"kits"`
	Image    imageParamsDTO  `toml:"image"`
}

type imageParamsDTO struct {
	PartitionPlan    string   `toml:"partition-plan"`
	ImageFormat      string   `toml:"image-format"`
	KernelParameters []string `toml:"kernel-parameters"`
	Features         []string `toml:"features"`
}

// releaseDTO is the raw shape of an optional Release.toml, which must agree
// with the project's release-version when present.
type releaseDTO struct {
	Version string `toml:"version"`
}
