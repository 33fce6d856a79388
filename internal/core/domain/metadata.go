package domain

import (
	"bytes"
	"encoding/json"

	"github.com/Masterminds/semver/v3"
	"github.com/opencontainers/go-digest"
	"go.trai.ch/zerr"
)

// PackageIdentity names one RPM carried by a kit.
type PackageIdentity struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Release string `json:"release"`
	Arch    string `json:"arch"`
	Epoch   string `json:"epoch,omitempty"`
}

// KitMetadata is the wire-format metadata blob stored in a kit's sibling
// `-metadata` image. It is the authoritative description of a kit's
// structure; dependencies are never inferred from the kit contents.
type KitMetadata struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Arch    string `json:"arch"`

	// SDK is the "<registry>/<name>-<arch>:<ver>@<digest>" reference of the
	// SDK the kit was built against.
	SDK string `json:"sdk"`

	// Dependencies are "<registry>/<kit>-<arch>:<ver>@<digest>" references.
	Dependencies []string `json:"dependencies"`

	Packages []PackageIdentity `json:"packages"`
}

// metadataEnvelope is the top-level document shape: { "kit": { ... } }.
type metadataEnvelope struct {
	Kit KitMetadata `json:"kit"`
}

// MarshalKitMetadata serializes kit metadata as canonical JSON: sorted keys,
// LF-terminated. The encoding is stable so the metadata image digest does not
// change across pushes of identical content.
func MarshalKitMetadata(m KitMetadata) ([]byte, error) {
	return CanonicalJSON(metadataEnvelope{Kit: m})
}

// UnmarshalKitMetadata parses a metadata blob.
func UnmarshalKitMetadata(data []byte) (KitMetadata, error) {
	var env metadataEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return KitMetadata{}, zerr.Wrap(err, "failed to parse kit metadata json")
	}
	if env.Kit.Name == "" {
		return KitMetadata{}, zerr.New("kit metadata has no name")
	}
	return env.Kit, nil
}

// CanonicalJSON encodes v with sorted object keys, no HTML escaping, and a
// trailing LF. Round-tripping through an untyped map is what sorts struct
// fields; encoding/json always sorts map keys.
func CanonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, zerr.Wrap(err, "failed to serialize value")
	}
	var untyped any
	if err := json.Unmarshal(raw, &untyped); err != nil {
		return nil, zerr.Wrap(err, "failed to canonicalize value")
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(untyped); err != nil {
		return nil, zerr.Wrap(err, "failed to serialize canonical json")
	}
	return buf.Bytes(), nil
}

// KitResolution is everything the kit store learns about a kit reference:
// the parsed metadata, the digest the reference resolved to, and the
// architectures the multi-arch index covers.
type KitResolution struct {
	Metadata KitMetadata
	Digest   digest.Digest
	Arches   []string
}

// SDKRef is a parsed SDK reference from kit metadata or project manifest,
// normalized for comparison: the arch suffix is stripped from the name.
type SDKRef struct {
	Name     string
	Version  *semver.Version
	Registry string
	Digest   digest.Digest
}

func (s SDKRef) String() string {
	return s.Registry + "/" + s.Name + ":v" + s.Version.String()
}

// Same reports whether two SDK references agree on (name, version, registry)
// and, when both sides carry one, digest.
func (s SDKRef) Same(other SDKRef) bool {
	if s.Name != other.Name || s.Registry != other.Registry {
		return false
	}
	if !s.Version.Equal(other.Version) {
		return false
	}
	if s.Digest != "" && other.Digest != "" && s.Digest != other.Digest {
		return false
	}
	return true
}
