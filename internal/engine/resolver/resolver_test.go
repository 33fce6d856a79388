package resolver_test

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/Masterminds/semver/v3"
	"github.com/opencontainers/go-digest"

	"go.trai.ch/twoliter/internal/core/domain"
	"go.trai.ch/twoliter/internal/core/ports"
	"go.trai.ch/twoliter/internal/engine/resolver"
)

const registry = "public.ecr.aws/bottlerocket"

// fakeStore serves canned kit resolutions keyed by "<repo>:<tag>".
type fakeStore struct {
	kits    map[string]*domain.KitResolution
	digests map[string]digest.Digest
}

func (f *fakeStore) ResolveDigest(_ context.Context, uri domain.ImageURI) (digest.Digest, error) {
	if d, ok := f.digests[uri.Repo+":"+uri.Tag]; ok {
		return d, nil
	}
	return digest.FromString(uri.Repo + ":" + uri.Tag), nil
}

func (f *fakeStore) FetchMetadata(_ context.Context, uri domain.ImageURI) (*domain.KitResolution, error) {
	res, ok := f.kits[uri.Repo+":"+uri.Tag]
	if !ok {
		return nil, domain.ErrMetadataMissing
	}
	return res, nil
}

func (f *fakeStore) FetchKit(context.Context, domain.ImageURI, string, string) error {
	return nil
}

func (f *fakeStore) PublishKit(context.Context, string, domain.KitMetadata, domain.ImageURI) (digest.Digest, error) {
	return "", errors.New("not implemented")
}

func (f *fakeStore) PublishIndex(context.Context, map[string]digest.Digest, domain.ImageURI) (digest.Digest, error) {
	return "", errors.New("not implemented")
}

func (f *fakeStore) Offline() ports.KitStore { return f }

func version(t *testing.T, s string) *semver.Version {
	t.Helper()
	v, err := semver.StrictNewVersion(s)
	if err != nil {
		t.Fatalf("bad version %q: %v", s, err)
	}
	return v
}

const sdkRef = registry + "/bottlerocket-sdk-x86_64:v0.50.0"

var sdkDigest = digest.FromString("sdk-index")

func kit(name, ver string, deps ...string) *domain.KitResolution {
	return &domain.KitResolution{
		Metadata: domain.KitMetadata{
			Name: name, Version: ver, Arch: "x86_64",
			SDK:          sdkRef + "@" + sdkDigest.String(),
			Dependencies: deps,
		},
		Digest: digest.FromString(name + "@" + ver),
		Arches: []string{"x86_64"},
	}
}

func depRef(name, ver string) string {
	return registry + "/" + name + "-x86_64:v" + ver + "@" + digest.FromString(name+"@"+ver).String()
}

func project(t *testing.T, kits []domain.Image, variants ...domain.Variant) *domain.Project {
	t.Helper()
	return &domain.Project{
		SchemaVersion:  1,
		ReleaseVersion: version(t, "1.0.0"),
		SDK:            &domain.Image{Name: "bottlerocket-sdk", Version: version(t, "0.50.0"), Vendor: "bottlerocket"},
		Vendors:        map[string]domain.Vendor{"bottlerocket": {Registry: registry}},
		Kits:           kits,
		Variants:       variants,
	}
}

func TestResolve_TransitiveClosure(t *testing.T) {
	store := &fakeStore{kits: map[string]*domain.KitResolution{
		"extra-kit:v1.0.0": kit("extra-kit", "1.0.0", depRef("core-kit", "2.0.0")),
		"core-kit:v2.0.0":  kit("core-kit", "2.0.0"),
	}}

	p := project(t, []domain.Image{
		{Name: "extra-kit", Version: version(t, "1.0.0"), Vendor: "bottlerocket"},
	})

	lock, err := resolver.New(store, nil).Resolve(context.Background(), p)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	if len(lock.Kits) != 2 {
		t.Fatalf("expected 2 locked kits, got %d", len(lock.Kits))
	}
	// Sorted by (vendor, name, version).
	if lock.Kits[0].Name != "core-kit" || lock.Kits[1].Name != "extra-kit" {
		t.Errorf("unexpected order: %s, %s", lock.Kits[0].Name, lock.Kits[1].Name)
	}

	extra, _ := lock.Kit("extra-kit")
	if len(extra.Dependencies) != 1 || extra.Dependencies[0].Name != "core-kit" {
		t.Errorf("unexpected dependencies: %+v", extra.Dependencies)
	}

	if lock.SDK.Digest != sdkDigest {
		t.Errorf("expected sdk digest pinned from metadata, got %s", lock.SDK.Digest)
	}
	for _, k := range lock.Kits {
		if k.SDKDigest != lock.SDK.Digest {
			t.Errorf("kit %s sdk digest %s != project sdk digest %s", k.Name, k.SDKDigest, lock.SDK.Digest)
		}
	}
}

func TestResolve_Deterministic(t *testing.T) {
	store := &fakeStore{kits: map[string]*domain.KitResolution{
		"extra-kit:v1.0.0": kit("extra-kit", "1.0.0", depRef("core-kit", "2.0.0")),
		"core-kit:v2.0.0":  kit("core-kit", "2.0.0"),
	}}
	p := project(t, []domain.Image{
		{Name: "extra-kit", Version: version(t, "1.0.0"), Vendor: "bottlerocket"},
		{Name: "core-kit", Version: version(t, "2.0.0"), Vendor: "bottlerocket"},
	})

	r := resolver.New(store, nil)
	first, err := r.Resolve(context.Background(), p)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	second, err := r.Resolve(context.Background(), p)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	if !reflect.DeepEqual(first, second) {
		t.Errorf("resolution is not deterministic:\n%+v\n%+v", first, second)
	}
}

func TestResolve_KitVersionConflict(t *testing.T) {
	// Two declared kits pull a common third kit at different versions.
	store := &fakeStore{kits: map[string]*domain.KitResolution{
		"kit-a:v1.0.0":    kit("kit-a", "1.0.0", depRef("common", "1.2.0")),
		"kit-b:v1.0.0":    kit("kit-b", "1.0.0", depRef("common", "1.3.0")),
		"common:v1.2.0":   kit("common", "1.2.0"),
		"common:v1.3.0":   kit("common", "1.3.0"),
	}}
	p := project(t, []domain.Image{
		{Name: "kit-a", Version: version(t, "1.0.0"), Vendor: "bottlerocket"},
		{Name: "kit-b", Version: version(t, "1.0.0"), Vendor: "bottlerocket"},
	})

	_, err := resolver.New(store, nil).Resolve(context.Background(), p)
	if !errors.Is(err, domain.ErrKitVersionConflict) {
		t.Errorf("expected ErrKitVersionConflict, got %v", err)
	}
}

func TestResolve_SdkConflict(t *testing.T) {
	divergent := kit("stale-kit", "1.0.0")
	divergent.Metadata.SDK = registry + "/bottlerocket-sdk-x86_64:v0.49.0"

	store := &fakeStore{kits: map[string]*domain.KitResolution{
		"stale-kit:v1.0.0": divergent,
	}}
	p := project(t, []domain.Image{
		{Name: "stale-kit", Version: version(t, "1.0.0"), Vendor: "bottlerocket"},
	})

	_, err := resolver.New(store, nil).Resolve(context.Background(), p)
	if !errors.Is(err, domain.ErrSdkConflict) {
		t.Errorf("expected ErrSdkConflict, got %v", err)
	}
}

func TestResolve_DependencyCycle(t *testing.T) {
	store := &fakeStore{kits: map[string]*domain.KitResolution{
		"kit-a:v1.0.0": kit("kit-a", "1.0.0", depRef("kit-b", "1.0.0")),
		"kit-b:v1.0.0": kit("kit-b", "1.0.0", depRef("kit-a", "1.0.0")),
	}}
	p := project(t, []domain.Image{
		{Name: "kit-a", Version: version(t, "1.0.0"), Vendor: "bottlerocket"},
	})

	_, err := resolver.New(store, nil).Resolve(context.Background(), p)
	if !errors.Is(err, domain.ErrDependencyCycle) {
		t.Errorf("expected ErrDependencyCycle, got %v", err)
	}
}

func TestResolve_ArchUnsupported(t *testing.T) {
	armOnly := kit("arm-kit", "1.0.0")
	armOnly.Arches = []string{"aarch64"}

	store := &fakeStore{kits: map[string]*domain.KitResolution{
		"arm-kit:v1.0.0": armOnly,
	}}
	p := project(t, nil, domain.Variant{
		Name: "example-dev",
		Arch: "x86_64",
		Kits: []domain.Image{{Name: "arm-kit", Version: version(t, "1.0.0"), Vendor: "bottlerocket"}},
	})

	_, err := resolver.New(store, nil).Resolve(context.Background(), p)
	if !errors.Is(err, domain.ErrArchUnsupported) {
		t.Errorf("expected ErrArchUnsupported, got %v", err)
	}
}

func TestResolve_MetadataMissing(t *testing.T) {
	store := &fakeStore{kits: map[string]*domain.KitResolution{}}
	p := project(t, []domain.Image{
		{Name: "ghost-kit", Version: version(t, "1.0.0"), Vendor: "bottlerocket"},
	})

	_, err := resolver.New(store, nil).Resolve(context.Background(), p)
	if !errors.Is(err, domain.ErrMetadataMissing) {
		t.Errorf("expected ErrMetadataMissing, got %v", err)
	}
}

func TestResolve_LocalKitsNotFetched(t *testing.T) {
	store := &fakeStore{kits: map[string]*domain.KitResolution{
		"core-kit:v2.0.0": kit("core-kit", "2.0.0"),
	}}
	p := project(t, nil, domain.Variant{
		Name: "example-dev",
		Arch: "x86_64",
		Kits: []domain.Image{
			{Name: "hello-dev-kit", Version: version(t, "1.0.0"), Vendor: "bottlerocket"},
			{Name: "core-kit", Version: version(t, "2.0.0"), Vendor: "bottlerocket"},
		},
	})
	p.LocalKits = []domain.LocalKit{{Name: "hello-dev-kit"}}

	lock, err := resolver.New(store, nil).Resolve(context.Background(), p)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if len(lock.Kits) != 1 || lock.Kits[0].Name != "core-kit" {
		t.Errorf("expected only the external kit in the lock, got %+v", lock.Kits)
	}
}
