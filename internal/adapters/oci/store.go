// Package oci implements the kit store: pulling and pushing kit images and
// their metadata companions through an OCI registry.
package oci

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"go.trai.ch/zerr"
	"oras.land/oras-go/v2/errdef"
	"oras.land/oras-go/v2/registry/remote"

	"go.trai.ch/twoliter/internal/core/domain"
	"go.trai.ch/twoliter/internal/core/ports"
)

// MetadataTagSuffix is appended to a kit's tag to address its metadata
// companion image.
const MetadataTagSuffix = "-metadata"

// MetadataLayerType is the media type of the canonical JSON blob inside a
// metadata companion image.
const MetadataLayerType = "application/vnd.twoliter.kit.metadata.v1+json"

// KitLayerType is the media type of the single layer materializing a kit's
// on-disk layout.
const KitLayerType = ocispec.MediaTypeImageLayer

var _ ports.KitStore = (*Store)(nil)

// Store implements ports.KitStore against OCI registries, with a digest-
// addressed local cache. Cached content is never mutated.
type Store struct {
	log      ports.Logger
	cacheDir string

	// offline refuses network egress and serves only cached content.
	offline bool

	// plainHTTP switches registry access to HTTP, for local test registries.
	plainHTTP bool
}

// Option configures a Store.
type Option func(*Store)

// WithPlainHTTP uses HTTP instead of HTTPS for registry access.
func WithPlainHTTP() Option {
	return func(s *Store) { s.plainHTTP = true }
}

// NewStore creates a kit store caching under cacheDir.
func NewStore(log ports.Logger, cacheDir string, opts ...Option) *Store {
	s := &Store{log: log, cacheDir: cacheDir}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Offline returns a view of the store that serves only cached digests and
// metadata, failing instead of performing network egress.
func (s *Store) Offline() ports.KitStore {
	clone := *s
	clone.offline = true
	return &clone
}

func (s *Store) repoFor(uri domain.ImageURI) (*remote.Repository, error) {
	repo, err := remote.NewRepository(uri.Registry + "/" + uri.Repo)
	if err != nil {
		return nil, zerr.With(zerr.Wrap(err, "invalid repository reference"), "uri", uri.String())
	}
	repo.PlainHTTP = s.plainHTTP
	return repo, nil
}

// resolution is the cached result of resolving one kit reference.
type resolution struct {
	Digest   digest.Digest      `json:"digest"`
	Arches   []string           `json:"arches"`
	Metadata domain.KitMetadata `json:"metadata"`
}

func (s *Store) refCachePath(uri domain.ImageURI) string {
	safe := strings.NewReplacer("/", "_", ":", "_", "@", "_").Replace(uri.String())
	return filepath.Join(s.cacheDir, "oci", "refs", safe+".json")
}

func (s *Store) blobCachePath(d digest.Digest) string {
	return filepath.Join(s.cacheDir, "oci", "blobs", d.Algorithm().String(), d.Encoded())
}

// ResolveDigest resolves a tag reference to the digest of its manifest or
// index.
func (s *Store) ResolveDigest(ctx context.Context, uri domain.ImageURI) (digest.Digest, error) {
	if uri.Digest != "" {
		return uri.Digest, nil
	}

	if s.offline {
		res, err := s.readRefCache(uri)
		if err != nil {
			return "", err
		}
		return res.Digest, nil
	}

	repo, err := s.repoFor(uri)
	if err != nil {
		return "", err
	}

	var desc ocispec.Descriptor
	err = withRetry(ctx, func() error {
		var resolveErr error
		desc, resolveErr = repo.Resolve(ctx, uri.Tag)
		return resolveErr
	})
	if err != nil {
		return "", zerr.With(zerr.Wrap(err, "failed to resolve image"), "uri", uri.String())
	}
	return desc.Digest, nil
}

// FetchMetadata pulls the sibling metadata companion for a kit reference,
// records the kit's resolved digest and architectures, and caches the result
// keyed by reference.
func (s *Store) FetchMetadata(ctx context.Context, uri domain.ImageURI) (*domain.KitResolution, error) {
	if s.offline {
		res, err := s.readRefCache(uri)
		if err != nil {
			return nil, err
		}
		return &domain.KitResolution{Metadata: res.Metadata, Digest: res.Digest, Arches: res.Arches}, nil
	}

	repo, err := s.repoFor(uri)
	if err != nil {
		return nil, err
	}

	blob, err := s.fetchMetadataBlob(ctx, repo, uri)
	if err != nil {
		return nil, err
	}
	meta, err := domain.UnmarshalKitMetadata(blob)
	if err != nil {
		return nil, zerr.With(err, "uri", uri.String())
	}

	kitDigest, arches, err := s.resolveKitImage(ctx, repo, uri)
	if err != nil {
		return nil, err
	}
	if len(arches) == 0 {
		arches = []string{meta.Arch}
	}

	res := resolution{Digest: kitDigest, Arches: arches, Metadata: meta}
	if err := s.writeRefCache(uri, res); err != nil {
		return nil, err
	}

	return &domain.KitResolution{Metadata: meta, Digest: kitDigest, Arches: arches}, nil
}

func (s *Store) fetchMetadataBlob(ctx context.Context, repo *remote.Repository, uri domain.ImageURI) ([]byte, error) {
	metaRef := uri.Tag + MetadataTagSuffix

	var manifest ocispec.Manifest
	err := withRetry(ctx, func() error {
		desc, err := repo.Resolve(ctx, metaRef)
		if err != nil {
			return err
		}
		raw, err := fetchAll(ctx, repo, desc)
		if err != nil {
			return err
		}
		return json.Unmarshal(raw, &manifest)
	})
	if err != nil {
		if errors.Is(err, errdef.ErrNotFound) {
			return nil, zerr.With(domain.ErrMetadataMissing, "uri", uri.String())
		}
		return nil, zerr.With(zerr.Wrap(err, "failed to fetch metadata image"), "uri", uri.String())
	}

	if len(manifest.Layers) != 1 {
		return nil, zerr.With(domain.ErrMetadataMissing, "uri", uri.String())
	}

	var blob []byte
	err = withRetry(ctx, func() error {
		var fetchErr error
		blob, fetchErr = fetchAll(ctx, repo.Blobs(), manifest.Layers[0])
		return fetchErr
	})
	if err != nil {
		return nil, zerr.With(zerr.Wrap(err, "failed to fetch metadata blob"), "uri", uri.String())
	}
	return blob, nil
}

// resolveKitImage resolves the kit image itself and derives the supported
// architectures from its index, when it has one.
func (s *Store) resolveKitImage(ctx context.Context, repo *remote.Repository, uri domain.ImageURI) (digest.Digest, []string, error) {
	var desc ocispec.Descriptor
	var raw []byte
	err := withRetry(ctx, func() error {
		var err error
		desc, err = repo.Resolve(ctx, uri.Tag)
		if err != nil {
			return err
		}
		raw, err = fetchAll(ctx, repo, desc)
		return err
	})
	if err != nil {
		return "", nil, zerr.With(zerr.Wrap(err, "failed to resolve kit image"), "uri", uri.String())
	}

	var arches []string
	if desc.MediaType == ocispec.MediaTypeImageIndex {
		var index ocispec.Index
		if err := json.Unmarshal(raw, &index); err != nil {
			return "", nil, zerr.Wrap(err, "failed to parse image index")
		}
		for _, m := range index.Manifests {
			if m.Platform == nil {
				continue
			}
			if arch, ok := domainArch(m.Platform.Architecture); ok {
				arches = append(arches, arch)
			}
		}
	}

	return desc.Digest, arches, nil
}

// FetchKit pulls the kit image by digest and exports its filesystem for the
// given architecture into destDir. A digest marker makes extraction
// idempotent.
func (s *Store) FetchKit(ctx context.Context, uri domain.ImageURI, arch, destDir string) error {
	if uri.Digest == "" {
		return zerr.With(zerr.New("kit fetch requires a digest-pinned reference"), "uri", uri.String())
	}

	marker := filepath.Join(destDir, ".digest")
	if existing, err := os.ReadFile(marker); err == nil && strings.TrimSpace(string(existing)) == uri.Digest.String() { //nolint:gosec // fixed marker name
		return nil
	}

	if s.log != nil {
		s.log.Info(fmt.Sprintf("extracting kit '%s' to '%s'", uri.Repo, destDir))
	}

	manifest, err := s.kitManifestForArch(ctx, uri, arch)
	if err != nil {
		return err
	}

	// Re-extract from a clean slate so stale files never survive.
	if err := os.RemoveAll(destDir); err != nil {
		return zerr.Wrap(err, "failed to clean extraction directory")
	}
	if err := os.MkdirAll(destDir, 0o750); err != nil {
		return zerr.Wrap(err, "failed to create extraction directory")
	}

	for _, layer := range manifest.Layers {
		blob, err := s.fetchBlobCached(ctx, uri, layer)
		if err != nil {
			return err
		}
		if err := unpackDir(blob, destDir); err != nil {
			_ = blob.Close()
			return zerr.With(err, "uri", uri.String())
		}
		_ = blob.Close()
	}

	if err := os.WriteFile(marker, []byte(uri.Digest.String()+"\n"), 0o644); err != nil { //nolint:gosec // marker is not sensitive
		return zerr.Wrap(err, "failed to write extraction marker")
	}
	return nil
}

func (s *Store) kitManifestForArch(ctx context.Context, uri domain.ImageURI, arch string) (*ocispec.Manifest, error) {
	raw, mediaType, err := s.fetchManifestCached(ctx, uri, uri.Digest, "")
	if err != nil {
		return nil, err
	}

	if mediaType == ocispec.MediaTypeImageIndex || strings.Contains(string(raw), `"manifests"`) {
		var index ocispec.Index
		if err := json.Unmarshal(raw, &index); err == nil && len(index.Manifests) > 0 {
			target, ok := pickArch(index, arch)
			if !ok {
				return nil, zerr.With(zerr.With(domain.ErrArchUnsupported, "uri", uri.String()), "arch", arch)
			}
			raw, _, err = s.fetchManifestCached(ctx, uri, target.Digest, target.MediaType)
			if err != nil {
				return nil, err
			}
		}
	}

	var manifest ocispec.Manifest
	if err := json.Unmarshal(raw, &manifest); err != nil {
		return nil, zerr.With(zerr.Wrap(err, "failed to parse kit manifest"), "uri", uri.String())
	}
	return &manifest, nil
}

func pickArch(index ocispec.Index, arch string) (ocispec.Descriptor, bool) {
	want := ociArch(arch)
	for _, m := range index.Manifests {
		if m.Platform != nil && m.Platform.Architecture == want {
			return m, true
		}
	}
	return ocispec.Descriptor{}, false
}

// fetchManifestCached reads a manifest by digest, from cache when present.
func (s *Store) fetchManifestCached(ctx context.Context, uri domain.ImageURI, d digest.Digest, mediaType string) ([]byte, string, error) {
	cachePath := s.blobCachePath(d)
	if raw, err := os.ReadFile(cachePath); err == nil { //nolint:gosec // digest-addressed cache path
		return raw, mediaType, nil
	}
	if s.offline {
		return nil, "", zerr.With(zerr.New("digest not cached and store is offline"), "digest", d.String())
	}

	repo, err := s.repoFor(uri)
	if err != nil {
		return nil, "", err
	}

	var raw []byte
	var desc ocispec.Descriptor
	err = withRetry(ctx, func() error {
		var err error
		desc, err = repo.Manifests().Resolve(ctx, d.String())
		if err != nil {
			return err
		}
		raw, err = fetchAll(ctx, repo.Manifests(), desc)
		return err
	})
	if err != nil {
		return nil, "", zerr.With(zerr.Wrap(err, "failed to fetch manifest"), "digest", d.String())
	}

	if err := s.writeBlobCache(d, raw); err != nil {
		return nil, "", err
	}
	return raw, desc.MediaType, nil
}

// fetchBlobCached returns a reader for a layer blob, pulling it into the
// digest-addressed cache on first use.
func (s *Store) fetchBlobCached(ctx context.Context, uri domain.ImageURI, desc ocispec.Descriptor) (io.ReadCloser, error) {
	cachePath := s.blobCachePath(desc.Digest)
	if f, err := os.Open(cachePath); err == nil { //nolint:gosec // digest-addressed cache path
		return f, nil
	}
	if s.offline {
		return nil, zerr.With(zerr.New("digest not cached and store is offline"), "digest", desc.Digest.String())
	}

	repo, err := s.repoFor(uri)
	if err != nil {
		return nil, err
	}

	var raw []byte
	err = withRetry(ctx, func() error {
		var err error
		raw, err = fetchAll(ctx, repo.Blobs(), desc)
		return err
	})
	if err != nil {
		return nil, zerr.With(zerr.Wrap(err, "failed to fetch layer"), "digest", desc.Digest.String())
	}

	if err := s.writeBlobCache(desc.Digest, raw); err != nil {
		return nil, err
	}
	f, err := os.Open(cachePath) //nolint:gosec // digest-addressed cache path
	if err != nil {
		return nil, zerr.Wrap(err, "failed to reopen cached layer")
	}
	return f, nil
}

func (s *Store) readRefCache(uri domain.ImageURI) (*resolution, error) {
	path := s.refCachePath(uri)
	data, err := os.ReadFile(path) //nolint:gosec // cache path derived from reference
	if err != nil {
		return nil, zerr.With(zerr.Wrap(err, "reference not cached and store is offline"), "uri", uri.String())
	}
	var res resolution
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, zerr.With(zerr.Wrap(err, "corrupt reference cache"), "path", path)
	}
	return &res, nil
}

func (s *Store) writeRefCache(uri domain.ImageURI, res resolution) error {
	path := s.refCachePath(uri)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return zerr.Wrap(err, "failed to create reference cache directory")
	}
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return zerr.Wrap(err, "failed to serialize reference cache")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil { //nolint:gosec // cache is not sensitive
		return zerr.Wrap(err, "failed to write reference cache")
	}
	return nil
}

func (s *Store) writeBlobCache(d digest.Digest, raw []byte) error {
	path := s.blobCachePath(d)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return zerr.Wrap(err, "failed to create blob cache directory")
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil { //nolint:gosec // cache is not sensitive
		return zerr.Wrap(err, "failed to write blob cache")
	}
	if err := os.Rename(tmp, path); err != nil {
		return zerr.Wrap(err, "failed to commit blob cache")
	}
	return nil
}

type fetcher interface {
	Fetch(ctx context.Context, target ocispec.Descriptor) (io.ReadCloser, error)
}

func fetchAll(ctx context.Context, f fetcher, desc ocispec.Descriptor) ([]byte, error) {
	rc, err := f.Fetch(ctx, desc)
	if err != nil {
		return nil, err
	}
	defer rc.Close() //nolint:errcheck // Best effort close in defer
	return io.ReadAll(rc)
}

// ociArch maps a twoliter architecture to its OCI platform spelling.
func ociArch(arch string) string {
	switch arch {
	case "x86_64":
		return "amd64"
	case "aarch64":
		return "arm64"
	}
	return arch
}

// domainArch maps an OCI platform architecture back to the twoliter
// spelling. Unknown architectures are dropped.
func domainArch(arch string) (string, bool) {
	switch arch {
	case "amd64":
		return "x86_64", true
	case "arm64":
		return "aarch64", true
	}
	return "", false
}

// withRetry makes up to three attempts with exponential backoff starting at
// 200ms. Every error other than not-found is retried; transient and permanent
// failures are not told apart. Not-found and cancellation are surfaced
// immediately.
func withRetry(ctx context.Context, fn func() error) error {
	const attempts = 3
	backoff := 200 * time.Millisecond

	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if errors.Is(err, errdef.ErrNotFound) || ctx.Err() != nil {
			return err
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
	}
	return err
}
