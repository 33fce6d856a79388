package lockfile_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/Masterminds/semver/v3"
	"github.com/opencontainers/go-digest"

	"go.trai.ch/twoliter/internal/core/domain"
	"go.trai.ch/twoliter/internal/core/ports"
	"go.trai.ch/twoliter/internal/engine/lockfile"
)

const registry = "public.ecr.aws/bottlerocket"

const sdkRef = registry + "/bottlerocket-sdk-x86_64:v0.50.0"

var sdkDigest = digest.FromString("sdk-index")

type fakeStore struct {
	kits    map[string]*domain.KitResolution
	offline bool
}

func (f *fakeStore) ResolveDigest(_ context.Context, uri domain.ImageURI) (digest.Digest, error) {
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

func (f *fakeStore) Offline() ports.KitStore {
	clone := *f
	clone.offline = true
	return &clone
}

func version(t *testing.T, s string) *semver.Version {
	t.Helper()
	v, err := semver.StrictNewVersion(s)
	if err != nil {
		t.Fatalf("bad version %q: %v", s, err)
	}
	return v
}

func kitRes(name, ver string) *domain.KitResolution {
	return &domain.KitResolution{
		Metadata: domain.KitMetadata{
			Name: name, Version: ver, Arch: "x86_64",
			SDK: sdkRef + "@" + sdkDigest.String(),
		},
		Digest: digest.FromString(name + "@" + ver),
		Arches: []string{"x86_64"},
	}
}

func testProject(t *testing.T, kitVersion string) *domain.Project {
	t.Helper()
	return &domain.Project{
		ProjectDir:     t.TempDir(),
		SchemaVersion:  1,
		ReleaseVersion: version(t, "1.0.0"),
		SDK:            &domain.Image{Name: "bottlerocket-sdk", Version: version(t, "0.50.0"), Vendor: "bottlerocket"},
		Vendors:        map[string]domain.Vendor{"bottlerocket": {Registry: registry}},
		Kits: []domain.Image{
			{Name: "core-kit", Version: version(t, kitVersion), Vendor: "bottlerocket"},
		},
	}
}

func storeWith(versions ...string) *fakeStore {
	kits := make(map[string]*domain.KitResolution)
	for _, v := range versions {
		kits["core-kit:v"+v] = kitRes("core-kit", v)
	}
	return &fakeStore{kits: kits}
}

func TestUpdateThenVerify(t *testing.T) {
	store := storeWith("1.1.15")
	project := testProject(t, "1.1.15")
	engine := lockfile.New(store, nil)

	lock, err := engine.Update(context.Background(), project)
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if len(lock.Kits) != 1 {
		t.Fatalf("expected one locked kit, got %d", len(lock.Kits))
	}

	// Verify must succeed against the same manifests without egress.
	verified, err := engine.Verify(context.Background(), project)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if verified.Kits[0].Digest != lock.Kits[0].Digest {
		t.Error("verified lock differs from written lock")
	}

	for _, marker := range []string{".sdk-verified", ".kits-verified"} {
		if _, err := os.Stat(filepath.Join(project.ExternalKitsDir(), marker)); err != nil {
			t.Errorf("expected verification marker %s: %v", marker, err)
		}
	}
}

func TestVerify_LockMissing(t *testing.T) {
	engine := lockfile.New(storeWith("1.1.15"), nil)
	_, err := engine.Verify(context.Background(), testProject(t, "1.1.15"))
	if !errors.Is(err, domain.ErrLockMissing) {
		t.Errorf("expected ErrLockMissing, got %v", err)
	}
}

func TestVerify_DriftOnManifestEdit(t *testing.T) {
	store := storeWith("1.1.15", "1.2.0")
	project := testProject(t, "1.1.15")
	engine := lockfile.New(store, nil)

	if _, err := engine.Update(context.Background(), project); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	// The manifest is edited to require 1.2.0 without running update.
	edited := testProject(t, "1.2.0")
	edited.ProjectDir = project.ProjectDir

	_, err := engine.Verify(context.Background(), edited)
	if !errors.Is(err, domain.ErrLockDrift) {
		t.Errorf("expected ErrLockDrift, got %v", err)
	}
}

func TestWrite_CanonicalAndStable(t *testing.T) {
	store := storeWith("1.1.15")
	project := testProject(t, "1.1.15")
	engine := lockfile.New(store, nil)

	lock, err := engine.Update(context.Background(), project)
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	first, err := os.ReadFile(project.LockfilePath())
	if err != nil {
		t.Fatalf("reading lockfile failed: %v", err)
	}

	if err := engine.Write(project, lock); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	second, err := os.ReadFile(project.LockfilePath())
	if err != nil {
		t.Fatalf("reading lockfile failed: %v", err)
	}

	if !bytes.Equal(first, second) {
		t.Error("lockfile bytes are not stable across writes")
	}
	if bytes.Contains(first, []byte("\r\n")) {
		t.Error("lockfile contains CRLF line endings")
	}
	for _, line := range bytes.Split(first, []byte("\n")) {
		if len(line) > 0 && (line[len(line)-1] == ' ' || line[len(line)-1] == '\t') {
			t.Errorf("lockfile line has trailing whitespace: %q", line)
		}
	}

	// Round trip preserves the resolved graph.
	loaded, err := engine.Load(project)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.SDK.Digest != lock.SDK.Digest || len(loaded.Kits) != len(lock.Kits) {
		t.Errorf("round trip mismatch: %+v", loaded)
	}
	if loaded.Resolver != domain.ResolverID {
		t.Errorf("lockfile does not record the resolver id: %q", loaded.Resolver)
	}
}

func TestSyncMetadata_SkipsIdenticalWrite(t *testing.T) {
	store := storeWith("1.1.15")
	project := testProject(t, "1.1.15")
	engine := lockfile.New(store, nil)

	lock, err := engine.Update(context.Background(), project)
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	path := project.ExternalKitsMetadata()
	before, err := os.Stat(path)
	if err != nil {
		t.Fatalf("expected metadata file: %v", err)
	}

	if err := engine.SyncMetadata(project, lock); err != nil {
		t.Fatalf("SyncMetadata failed: %v", err)
	}
	after, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat failed: %v", err)
	}
	if !after.ModTime().Equal(before.ModTime()) {
		t.Error("metadata file was rewritten although its content did not change")
	}
}
