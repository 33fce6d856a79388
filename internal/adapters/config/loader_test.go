package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"go.trai.ch/twoliter/internal/adapters/config"
	"go.trai.ch/twoliter/internal/core/domain"
)

const projectToml = `
schema-version = 1
release-version = "1.0.0"

[vendor.bottlerocket]
registry = "public.ecr.aws/bottlerocket"

[sdk]
name = "bottlerocket-sdk"
version = "0.50.0"
vendor = "bottlerocket"

[[kit]]
name = "core-kit"
version = "2.0.0"
vendor = "bottlerocket"
`

func writeProject(t *testing.T, root string) {
	t.Helper()
	mustWrite(t, filepath.Join(root, "Twoliter.toml"), projectToml)
	mustWrite(t, filepath.Join(root, "kits", "hello-dev-kit", "kit.toml"), `
packages = ["hello-agent"]

[[dependencies]]
name = "core-kit"
version = "2.0.0"
vendor = "bottlerocket"
`)
	mustWrite(t, filepath.Join(root, "packages", "hello-agent", "package.toml"), `
spec = "hello-agent.spec"
`)
	mustWrite(t, filepath.Join(root, "variants", "example-dev", "variant.toml"), `
arch = "x86_64"
packages = ["hello-agent"]

[[kits]]
name = "hello-dev-kit"
version = "1.0.0"
vendor = "bottlerocket"

[image]
partition-plan = "unified"
image-format = "raw"
`)
}

func mustWrite(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}
}

func TestLoad_FullProject(t *testing.T) {
	root := t.TempDir()
	writeProject(t, root)

	loader := &config.Loader{}
	project, err := loader.Load(filepath.Join(root, "Twoliter.toml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if project.SchemaVersion != 1 {
		t.Errorf("expected schema version 1, got %d", project.SchemaVersion)
	}
	if project.SDK == nil || project.SDK.Name != "bottlerocket-sdk" {
		t.Errorf("unexpected sdk: %+v", project.SDK)
	}
	if len(project.Kits) != 1 || project.Kits[0].Name != "core-kit" {
		t.Errorf("unexpected project kits: %+v", project.Kits)
	}
	if len(project.LocalKits) != 1 || project.LocalKits[0].Name != "hello-dev-kit" {
		t.Fatalf("unexpected local kits: %+v", project.LocalKits)
	}
	if got := project.LocalKits[0].Packages; len(got) != 1 || got[0] != "hello-agent" {
		t.Errorf("unexpected kit packages: %v", got)
	}
	if len(project.Packages) != 1 || project.Packages[0].SpecFile != "hello-agent.spec" {
		t.Errorf("unexpected packages: %+v", project.Packages)
	}
	if len(project.Variants) != 1 {
		t.Fatalf("unexpected variants: %+v", project.Variants)
	}
	variant := project.Variants[0]
	if variant.Arch != "x86_64" || variant.Image.PartitionPlan != "unified" {
		t.Errorf("unexpected variant: %+v", variant)
	}
}

func TestFind_AncestorSearch(t *testing.T) {
	root := t.TempDir()
	writeProject(t, root)
	nested := filepath.Join(root, "packages", "hello-agent")

	loader := &config.Loader{}
	project, err := loader.Find(nested)
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if project.ProjectDir != root {
		t.Errorf("expected project dir %q, got %q", root, project.ProjectDir)
	}
}

func TestFind_NotFound(t *testing.T) {
	loader := &config.Loader{}
	_, err := loader.Find(t.TempDir())
	if !errors.Is(err, domain.ErrProjectNotFound) {
		t.Errorf("expected ErrProjectNotFound, got %v", err)
	}
}

func TestLoad_SchemaGate(t *testing.T) {
	root := t.TempDir()
	mustWrite(t, filepath.Join(root, "Twoliter.toml"), `
schema-version = 99
release-version = "1.0.0"
`)

	loader := &config.Loader{}
	_, err := loader.Load(filepath.Join(root, "Twoliter.toml"))
	if !errors.Is(err, domain.ErrSchemaUnsupported) {
		t.Errorf("expected ErrSchemaUnsupported, got %v", err)
	}
}

func TestLoad_RejectsLooseVersion(t *testing.T) {
	root := t.TempDir()
	mustWrite(t, filepath.Join(root, "Twoliter.toml"), `
schema-version = 1
release-version = "1.0"
`)

	loader := &config.Loader{}
	_, err := loader.Load(filepath.Join(root, "Twoliter.toml"))
	if !errors.Is(err, domain.ErrManifestInvalid) {
		t.Errorf("expected ErrManifestInvalid for non-strict semver, got %v", err)
	}
}

func TestLoad_UnknownVendor(t *testing.T) {
	root := t.TempDir()
	mustWrite(t, filepath.Join(root, "Twoliter.toml"), `
schema-version = 1
release-version = "1.0.0"

[[kit]]
name = "core-kit"
version = "2.0.0"
vendor = "nonexistent"
`)

	loader := &config.Loader{}
	_, err := loader.Load(filepath.Join(root, "Twoliter.toml"))
	if !errors.Is(err, domain.ErrVendorUnknown) {
		t.Errorf("expected ErrVendorUnknown, got %v", err)
	}
}

func TestLoad_ReleaseManifestMismatch(t *testing.T) {
	root := t.TempDir()
	writeProject(t, root)
	mustWrite(t, filepath.Join(root, "Release.toml"), `version = "9.9.9"`)

	loader := &config.Loader{}
	_, err := loader.Load(filepath.Join(root, "Twoliter.toml"))
	if !errors.Is(err, domain.ErrManifestInvalid) {
		t.Errorf("expected ErrManifestInvalid for Release.toml mismatch, got %v", err)
	}
}

func TestLoad_Overrides(t *testing.T) {
	root := t.TempDir()
	writeProject(t, root)
	mustWrite(t, filepath.Join(root, "Twoliter.override"), `
[bottlerocket.core-kit]
registry = "localhost:5000"
`)

	loader := &config.Loader{}
	project, err := loader.Load(filepath.Join(root, "Twoliter.toml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	uri, err := project.ImageURIFor(project.Kits[0])
	if err != nil {
		t.Fatalf("ImageURIFor failed: %v", err)
	}
	if uri.Registry != "localhost:5000" {
		t.Errorf("override registry not applied, got %q", uri.Registry)
	}
	if uri.Repo != "core-kit" || uri.Tag != "v2.0.0" {
		t.Errorf("unexpected uri: %+v", uri)
	}
}

func TestLoad_InvalidIdentifier(t *testing.T) {
	root := t.TempDir()
	mustWrite(t, filepath.Join(root, "Twoliter.toml"), `
schema-version = 1
release-version = "1.0.0"

[vendor.bottlerocket]
registry = "public.ecr.aws/bottlerocket"

[[kit]]
name = "Core_Kit"
version = "2.0.0"
vendor = "bottlerocket"
`)

	loader := &config.Loader{}
	_, err := loader.Load(filepath.Join(root, "Twoliter.toml"))
	if !errors.Is(err, domain.ErrManifestInvalid) {
		t.Errorf("expected ErrManifestInvalid for bad identifier, got %v", err)
	}
}
