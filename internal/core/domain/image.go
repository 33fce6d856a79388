package domain

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/opencontainers/go-digest"
	"go.trai.ch/zerr"
)

// Image is a declared dependency on a kit or SDK image, before resolution.
// The vendor selects a registry prefix from the project's vendor table.
type Image struct {
	Name    string          `toml:"name"`
	Version *semver.Version `toml:"version"`
	Vendor  string          `toml:"vendor"`
}

func (i Image) String() string {
	return fmt.Sprintf("%s-%s@%s", i.Name, i.Version, i.Vendor)
}

// ImageURI identifies an image in a registry. Digest takes precedence over
// Tag when both are set: pulls by digest are idempotent, name and tag are
// only used to discover the digest.
type ImageURI struct {
	Registry string
	Repo     string
	Tag      string
	Digest   digest.Digest
}

func (u ImageURI) String() string {
	var b strings.Builder
	if u.Registry != "" {
		b.WriteString(u.Registry)
		b.WriteString("/")
	}
	b.WriteString(u.Repo)
	if u.Tag != "" {
		b.WriteString(":")
		b.WriteString(u.Tag)
	}
	if u.Digest != "" {
		b.WriteString("@")
		b.WriteString(u.Digest.String())
	}
	return b.String()
}

// WithDigest returns a copy of the URI pinned to the given digest.
func (u ImageURI) WithDigest(d digest.Digest) ImageURI {
	u.Digest = d
	return u
}

// ParseImageURI parses "<registry>/<repo>[:<tag>][@<digest>]". The registry
// part is everything up to the last slash, which matches how kit metadata
// spells its references.
func ParseImageURI(s string) (ImageURI, error) {
	var u ImageURI

	rest := s
	if at := strings.LastIndex(rest, "@"); at >= 0 {
		d, err := digest.Parse(rest[at+1:])
		if err != nil {
			return u, zerr.With(zerr.Wrap(err, "invalid image digest"), "uri", s)
		}
		u.Digest = d
		rest = rest[:at]
	}
	if colon := strings.LastIndex(rest, ":"); colon > strings.LastIndex(rest, "/") {
		u.Tag = rest[colon+1:]
		rest = rest[:colon]
	}
	if slash := strings.LastIndex(rest, "/"); slash >= 0 {
		u.Registry = rest[:slash]
		u.Repo = rest[slash+1:]
	} else {
		u.Repo = rest
	}

	if u.Repo == "" {
		return u, zerr.With(zerr.New("image uri has no repository"), "uri", s)
	}
	return u, nil
}

// VersionFromTag parses a "v"-prefixed image tag into a semantic version.
func VersionFromTag(tag string) (*semver.Version, error) {
	v, err := semver.StrictNewVersion(strings.TrimPrefix(tag, "v"))
	if err != nil {
		return nil, zerr.With(zerr.Wrap(err, "invalid version tag"), "tag", tag)
	}
	return v, nil
}

// LockedSDK is the resolved, content-addressed form of the project SDK
// reference. Exactly one LockedSDK is authoritative per project build.
type LockedSDK struct {
	Name     string          `toml:"name" json:"name"`
	Version  *semver.Version `toml:"version" json:"version"`
	Vendor   string          `toml:"vendor" json:"vendor"`
	Source   string          `toml:"source" json:"source"`
	Digest   digest.Digest   `toml:"digest" json:"digest"`
	Registry string          `toml:"registry" json:"registry"`
}

func (s LockedSDK) String() string {
	return fmt.Sprintf("%s-%s@%s (%s)", s.Name, s.Version, s.Vendor, s.Source)
}

// LockedKit is the resolved, content-addressed form of a kit dependency.
// Dependencies and the SDK are recorded by digest so that a build can detect
// any mutation of remote content.
type LockedKit struct {
	Name      string          `toml:"name" json:"name"`
	Version   *semver.Version `toml:"version" json:"version"`
	Vendor    string          `toml:"vendor" json:"vendor"`
	Source    string          `toml:"source" json:"source"`
	Digest    digest.Digest   `toml:"digest" json:"digest"`
	SDKDigest digest.Digest   `toml:"sdk-digest" json:"sdk-digest"`
	Arches    []string        `toml:"arches" json:"arches"`

	// Dependencies stays last: it renders as an array of tables, which must
	// follow every scalar key of the enclosing entry.
	Dependencies []LockedRef `toml:"dependencies,omitempty" json:"dependencies,omitempty"`
}

func (k LockedKit) String() string {
	return fmt.Sprintf("%s-%s@%s (%s)", k.Name, k.Version, k.Vendor, k.Source)
}

// SupportsArch reports whether the kit was published for the given
// architecture.
func (k LockedKit) SupportsArch(arch string) bool {
	for _, a := range k.Arches {
		if a == arch {
			return true
		}
	}
	return false
}

// LockedRef is a digest-pinned reference from one locked kit to another.
type LockedRef struct {
	Name   string        `toml:"name" json:"name"`
	Vendor string        `toml:"vendor" json:"vendor"`
	Digest digest.Digest `toml:"digest" json:"digest"`
}
