package app

import (
	"testing"

	"github.com/Masterminds/semver/v3"
	"github.com/opencontainers/go-digest"

	"go.trai.ch/twoliter/internal/core/domain"
)

func version(t *testing.T, s string) *semver.Version {
	t.Helper()
	v, err := semver.StrictNewVersion(s)
	if err != nil {
		t.Fatalf("bad version %q: %v", s, err)
	}
	return v
}

func fixtureProject(t *testing.T) *domain.Project {
	t.Helper()
	return &domain.Project{
		ProjectDir:     t.TempDir(),
		SchemaVersion:  1,
		ReleaseVersion: version(t, "1.0.0"),
		Vendors:        map[string]domain.Vendor{"bottlerocket": {Registry: "public.ecr.aws/bottlerocket"}},
		LocalKits: []domain.LocalKit{
			{Name: "hello-dev-kit", Packages: []string{"hello-agent"}},
		},
		Packages: []domain.Package{
			{Name: "hello-agent", Path: "packages/hello-agent", SpecFile: "hello-agent.spec"},
			{Name: "example-kernel", Path: "packages/example-kernel", SpecFile: "example-kernel.spec"},
		},
		Variants: []domain.Variant{{
			Name:     "example-dev",
			Arch:     "x86_64",
			Packages: []string{"example-kernel"},
			Kits: []domain.Image{
				{Name: "hello-dev-kit", Version: version(t, "1.0.0"), Vendor: "bottlerocket"},
				{Name: "core-kit", Version: version(t, "2.0.0"), Vendor: "bottlerocket"},
			},
			Image: domain.ImageParams{ImageFormat: "raw", PartitionPlan: "unified"},
		}},
	}
}

func fixtureLock() *domain.Lock {
	return &domain.Lock{
		SchemaVersion: 1,
		Resolver:      domain.ResolverID,
		SDK: domain.LockedSDK{
			Name:     "bottlerocket-sdk",
			Registry: "public.ecr.aws/bottlerocket",
			Digest:   digest.FromString("sdk"),
		},
		Kits: []domain.LockedKit{{
			Name:   "core-kit",
			Vendor: "bottlerocket",
			Source: "public.ecr.aws/bottlerocket/core-kit:v2.0.0",
			Digest: digest.FromString("core-kit"),
			Arches: []string{"x86_64", "aarch64"},
		}},
	}
}

func TestPlanVariant_GraphShape(t *testing.T) {
	project := fixtureProject(t)
	variant := project.Variants[0]

	g, err := planVariant(project, fixtureLock(), variant, "abc12345")
	if err != nil {
		t.Fatalf("planVariant failed: %v", err)
	}

	variantNode, ok := g.Node("variant/example-dev")
	if !ok {
		t.Fatal("variant node missing")
	}

	// The variant requires the local kit build and its direct packages; the
	// external kit contributes a digest input, not a node.
	requires := map[string]bool{}
	for _, req := range variantNode.Requires {
		requires[req] = true
	}
	if !requires["kit/hello-dev-kit"] || !requires["package/example-kernel"] {
		t.Errorf("unexpected requires: %v", variantNode.Requires)
	}
	if _, exists := g.Node("kit/core-kit"); exists {
		t.Error("external kit must not become a build node")
	}

	kitNode, ok := g.Node("kit/hello-dev-kit")
	if !ok {
		t.Fatal("local kit node missing")
	}
	if kitNode.Requires[0] != "package/hello-agent" {
		t.Errorf("kit must require its member packages, got %v", kitNode.Requires)
	}

	// Auxiliary nodes: migrations always, kmod kit because the variant
	// carries a kernel package.
	if _, ok := g.Node("migrations/example-dev"); !ok {
		t.Error("migrations bundle node missing")
	}
	kmod, ok := g.Node("kmod-kit/example-dev")
	if !ok {
		t.Fatal("kmod kit node missing")
	}
	if kmod.Args["KERNEL_PACKAGE"] != "example-kernel" {
		t.Errorf("unexpected kernel package: %q", kmod.Args["KERNEL_PACKAGE"])
	}
}

func TestPlanVariant_RepoOrderChangesNodeIdentity(t *testing.T) {
	project := fixtureProject(t)
	variant := project.Variants[0]

	g1, err := planVariant(project, fixtureLock(), variant, "abc12345")
	if err != nil {
		t.Fatalf("planVariant failed: %v", err)
	}

	swapped := variant
	swapped.Kits = []domain.Image{variant.Kits[1], variant.Kits[0]}
	g2, err := planVariant(project, fixtureLock(), swapped, "abc12345")
	if err != nil {
		t.Fatalf("planVariant failed: %v", err)
	}

	n1, _ := g1.Node("variant/example-dev")
	n2, _ := g2.Node("variant/example-dev")
	if n1.Args["REPO_ORDER"] == n2.Args["REPO_ORDER"] {
		t.Error("swapping kit priority order must change the variant node inputs")
	}
}

func TestPlanVariant_UnknownPackage(t *testing.T) {
	project := fixtureProject(t)
	variant := project.Variants[0]
	variant.Packages = append(variant.Packages, "no-such-package")

	if _, err := planVariant(project, fixtureLock(), variant, "abc12345"); err == nil {
		t.Error("expected error for unknown package")
	}
}

func TestPlanKit_OnlyKitAndMembers(t *testing.T) {
	project := fixtureProject(t)

	g, err := planKit(project, fixtureLock(), project.LocalKits[0], "x86_64", "abc12345")
	if err != nil {
		t.Fatalf("planKit failed: %v", err)
	}

	if g.NodeCount() != 2 {
		t.Errorf("expected package + kit nodes only, got %d", g.NodeCount())
	}
}

func TestBuildIDFor_Deterministic(t *testing.T) {
	a := buildIDFor([]byte("lock-bytes"), "example-dev")
	b := buildIDFor([]byte("lock-bytes"), "example-dev")
	if a != b {
		t.Errorf("build id is not deterministic: %s != %s", a, b)
	}
	if a == buildIDFor([]byte("other-lock"), "example-dev") {
		t.Error("build id must change with the lock contents")
	}
	if len(a) != 8 {
		t.Errorf("unexpected build id length: %q", a)
	}
}
