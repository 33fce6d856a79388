package domain

import (
	"strings"

	"go.trai.ch/zerr"
)

// SupportedArches are the target architectures twoliter can build for.
var SupportedArches = []string{"aarch64", "x86_64"}

// KnownArch reports whether arch is a supported target architecture.
func KnownArch(arch string) bool {
	for _, a := range SupportedArches {
		if a == arch {
			return true
		}
	}
	return false
}

// ParseSDKRef parses an on-wire SDK reference of the form
// "<registry>/<name>-<arch>:<ver>@<digest>", stripping the arch suffix so
// references from different per-arch images compare equal.
func ParseSDKRef(s string) (SDKRef, error) {
	uri, err := ParseImageURI(s)
	if err != nil {
		return SDKRef{}, zerr.Wrap(err, "invalid sdk reference")
	}

	name := uri.Repo
	for _, arch := range SupportedArches {
		name = strings.TrimSuffix(name, "-"+arch)
	}

	version, err := VersionFromTag(uri.Tag)
	if err != nil {
		return SDKRef{}, zerr.With(err, "sdk", s)
	}

	return SDKRef{
		Name:     name,
		Version:  version,
		Registry: uri.Registry,
		Digest:   uri.Digest,
	}, nil
}
