package oci

import (
	"bytes"
	"context"
	"encoding/json"
	"sort"

	"github.com/opencontainers/go-digest"
	"github.com/opencontainers/image-spec/specs-go"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"go.trai.ch/zerr"
	"oras.land/oras-go/v2/registry/remote"

	"go.trai.ch/twoliter/internal/core/domain"
)

// PublishKit pushes a kit image built from the on-disk layout, then its
// metadata companion. The metadata image is pushed last so a consumer never
// sees metadata without the kit it describes.
func (s *Store) PublishKit(ctx context.Context, layoutDir string, meta domain.KitMetadata, uri domain.ImageURI) (digest.Digest, error) {
	if s.offline {
		return "", zerr.New("cannot publish from an offline store")
	}
	if err := ValidateLayout(layoutDir, meta.Name); err != nil {
		return "", err
	}

	repo, err := s.repoFor(uri)
	if err != nil {
		return "", err
	}

	var layer bytes.Buffer
	if err := packDir(layoutDir, &layer); err != nil {
		return "", zerr.With(err, "kit", meta.Name)
	}

	kitDigest, err := s.pushImage(ctx, repo, uri.Tag, ociArch(meta.Arch), layer.Bytes(), KitLayerType)
	if err != nil {
		return "", zerr.With(zerr.Wrap(err, "failed to push kit image"), "uri", uri.String())
	}

	blob, err := domain.MarshalKitMetadata(meta)
	if err != nil {
		return "", err
	}
	if _, err := s.pushImage(ctx, repo, uri.Tag+MetadataTagSuffix, ociArch(meta.Arch), blob, MetadataLayerType); err != nil {
		return "", zerr.With(zerr.Wrap(err, "failed to push kit metadata"), "uri", uri.String())
	}

	return kitDigest, nil
}

// pushImage pushes a single-layer image and tags it, returning the manifest
// digest. Blobs go first, the manifest last.
func (s *Store) pushImage(ctx context.Context, repo *remote.Repository, tag, arch string, layer []byte, layerType string) (digest.Digest, error) {
	layerDesc := descriptorFor(layerType, layer)

	config := imageConfig{
		Architecture: arch,
		OS:           "linux",
	}
	config.RootFS.Type = "layers"
	config.RootFS.DiffIDs = []digest.Digest{layerDesc.Digest}
	configBytes, err := json.Marshal(config)
	if err != nil {
		return "", zerr.Wrap(err, "failed to serialize image config")
	}
	configDesc := descriptorFor(ocispec.MediaTypeImageConfig, configBytes)

	manifest := ocispec.Manifest{
		Versioned: specs.Versioned{SchemaVersion: 2},
		MediaType: ocispec.MediaTypeImageManifest,
		Config:    configDesc,
		Layers:    []ocispec.Descriptor{layerDesc},
	}
	manifestBytes, err := json.Marshal(manifest)
	if err != nil {
		return "", zerr.Wrap(err, "failed to serialize manifest")
	}
	manifestDesc := descriptorFor(ocispec.MediaTypeImageManifest, manifestBytes)

	for _, blob := range []struct {
		desc ocispec.Descriptor
		data []byte
	}{{layerDesc, layer}, {configDesc, configBytes}} {
		blob := blob
		err := withRetry(ctx, func() error {
			return repo.Blobs().Push(ctx, blob.desc, bytes.NewReader(blob.data))
		})
		if err != nil {
			return "", zerr.With(zerr.Wrap(err, "failed to push blob"), "digest", blob.desc.Digest.String())
		}
	}

	err = withRetry(ctx, func() error {
		return repo.Manifests().PushReference(ctx, manifestDesc, bytes.NewReader(manifestBytes), tag)
	})
	if err != nil {
		return "", zerr.With(zerr.Wrap(err, "failed to push manifest"), "tag", tag)
	}

	return manifestDesc.Digest, nil
}

// PublishIndex joins previously pushed per-architecture kit images behind a
// single multi-arch reference.
func (s *Store) PublishIndex(ctx context.Context, perArch map[string]digest.Digest, uri domain.ImageURI) (digest.Digest, error) {
	if s.offline {
		return "", zerr.New("cannot publish from an offline store")
	}
	if len(perArch) == 0 {
		return "", zerr.New("cannot publish an empty index")
	}

	repo, err := s.repoFor(uri)
	if err != nil {
		return "", err
	}

	arches := make([]string, 0, len(perArch))
	for arch := range perArch {
		arches = append(arches, arch)
	}
	sort.Strings(arches)

	index := ocispec.Index{
		Versioned: specs.Versioned{SchemaVersion: 2},
		MediaType: ocispec.MediaTypeImageIndex,
	}
	for _, arch := range arches {
		var desc ocispec.Descriptor
		err := withRetry(ctx, func() error {
			var resolveErr error
			desc, resolveErr = repo.Manifests().Resolve(ctx, perArch[arch].String())
			return resolveErr
		})
		if err != nil {
			return "", zerr.With(zerr.Wrap(err, "failed to resolve per-arch manifest"), "arch", arch)
		}
		desc.Platform = &ocispec.Platform{Architecture: ociArch(arch), OS: "linux"}
		index.Manifests = append(index.Manifests, desc)
	}

	indexBytes, err := json.Marshal(index)
	if err != nil {
		return "", zerr.Wrap(err, "failed to serialize index")
	}
	indexDesc := descriptorFor(ocispec.MediaTypeImageIndex, indexBytes)

	err = withRetry(ctx, func() error {
		return repo.Manifests().PushReference(ctx, indexDesc, bytes.NewReader(indexBytes), uri.Tag)
	})
	if err != nil {
		return "", zerr.With(zerr.Wrap(err, "failed to push index"), "uri", uri.String())
	}

	return indexDesc.Digest, nil
}

// imageConfig is the minimal OCI image configuration for a scratch image.
type imageConfig struct {
	Architecture string `json:"architecture"`
	OS           string `json:"os"`
	RootFS       struct {
		Type    string          `json:"type"`
		DiffIDs []digest.Digest `json:"diff_ids"`
	} `json:"rootfs"`
}

func descriptorFor(mediaType string, data []byte) ocispec.Descriptor {
	return ocispec.Descriptor{
		MediaType: mediaType,
		Digest:    digest.FromBytes(data),
		Size:      int64(len(data)),
	}
}
