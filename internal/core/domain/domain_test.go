package domain_test

import (
	"testing"

	"github.com/Masterminds/semver/v3"

	"go.trai.ch/twoliter/internal/core/domain"
)

func mustVersion(t *testing.T, s string) *semver.Version {
	t.Helper()
	v, err := semver.StrictNewVersion(s)
	if err != nil {
		t.Fatalf("bad version %q: %v", s, err)
	}
	return v
}

func TestProject_ImageURIFor(t *testing.T) {
	project := &domain.Project{
		Vendors: map[string]domain.Vendor{
			"bottlerocket": {Registry: "public.ecr.aws/bottlerocket"},
		},
		Overrides: map[string]map[string]domain.Override{
			"bottlerocket": {"core-kit": {Registry: "localhost:5000", Name: "forked-core-kit"}},
		},
	}

	plain := domain.Image{Name: "extra-kit", Version: mustVersion(t, "1.0.0"), Vendor: "bottlerocket"}
	uri, err := project.ImageURIFor(plain)
	if err != nil {
		t.Fatalf("ImageURIFor failed: %v", err)
	}
	if uri.String() != "public.ecr.aws/bottlerocket/extra-kit:v1.0.0" {
		t.Errorf("unexpected uri: %s", uri)
	}

	overridden := domain.Image{Name: "core-kit", Version: mustVersion(t, "2.0.0"), Vendor: "bottlerocket"}
	uri, err = project.ImageURIFor(overridden)
	if err != nil {
		t.Fatalf("ImageURIFor failed: %v", err)
	}
	if uri.String() != "localhost:5000/forked-core-kit:v2.0.0" {
		t.Errorf("override not applied: %s", uri)
	}

	unknown := domain.Image{Name: "kit", Version: mustVersion(t, "1.0.0"), Vendor: "ghost"}
	if _, err := project.ImageURIFor(unknown); err == nil {
		t.Error("expected error for unknown vendor")
	}
}

func TestProject_DirectKitsDeterministic(t *testing.T) {
	v1 := mustVersion(t, "1.0.0")
	project := &domain.Project{
		Kits: []domain.Image{{Name: "zeta-kit", Version: v1, Vendor: "a"}},
		Variants: []domain.Variant{
			{Name: "one", Kits: []domain.Image{{Name: "alpha-kit", Version: v1, Vendor: "a"}}},
		},
		LocalKits: []domain.LocalKit{
			{Name: "local", Dependencies: []domain.Image{{Name: "alpha-kit", Version: v1, Vendor: "a"}}},
		},
	}

	kits := project.DirectKits()
	if len(kits) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(kits))
	}
	if kits[0].Name != "alpha-kit" || kits[2].Name != "zeta-kit" {
		t.Errorf("unexpected order: %v", kits)
	}
}

func TestCanonicalJSON_SortedAndTerminated(t *testing.T) {
	blob, err := domain.CanonicalJSON(struct {
		Zeta  string `json:"zeta"`
		Alpha string `json:"alpha"`
	}{Zeta: "z", Alpha: "a"})
	if err != nil {
		t.Fatalf("CanonicalJSON failed: %v", err)
	}

	want := "{\"alpha\":\"a\",\"zeta\":\"z\"}\n"
	if string(blob) != want {
		t.Errorf("expected %q, got %q", want, blob)
	}
}
