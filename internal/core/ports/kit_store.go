package ports

import (
	"context"

	"github.com/opencontainers/go-digest"

	"go.trai.ch/twoliter/internal/core/domain"
)

// KitStore pulls and pushes kit images and their metadata companions.
//
// Readers always pull metadata first and then fetch the kit by the digest the
// metadata names, never by version: a push failure must not leave a consumer
// seeing metadata without the kit it describes.
//
//go:generate go run go.uber.org/mock/mockgen -source=kit_store.go -destination=mocks/mock_kit_store.go -package=mocks
type KitStore interface {
	// ResolveDigest resolves a tag reference to the digest of its manifest
	// (or index). Pulls are idempotent by digest afterwards.
	ResolveDigest(ctx context.Context, uri domain.ImageURI) (digest.Digest, error)

	// FetchMetadata pulls the sibling `<repo>:<tag>-metadata` image for the
	// given kit reference and parses the canonical JSON blob it carries,
	// along with the kit's own digest and supported architectures.
	FetchMetadata(ctx context.Context, uri domain.ImageURI) (*domain.KitResolution, error)

	// FetchKit pulls the kit image by digest and exports its filesystem
	// for the given architecture into destDir. Fetches are cached by digest;
	// cached content is never mutated.
	FetchKit(ctx context.Context, uri domain.ImageURI, arch, destDir string) error

	// PublishKit pushes a kit image built from the on-disk layout and then
	// its metadata companion, in that order. Returns the kit image digest.
	PublishKit(ctx context.Context, layoutDir string, meta domain.KitMetadata, uri domain.ImageURI) (digest.Digest, error)

	// PublishIndex joins previously pushed per-architecture kit images
	// behind a single multi-arch reference.
	PublishIndex(ctx context.Context, perArch map[string]digest.Digest, uri domain.ImageURI) (digest.Digest, error)

	// Offline returns a view of the store that serves only already-cached
	// digests and metadata, failing instead of performing network egress.
	Offline() KitStore
}

// KitStoreFactory builds a kit store rooted at a project's cache directory.
// The cache location is only known once a project is loaded.
type KitStoreFactory func(cacheDir string) KitStore
