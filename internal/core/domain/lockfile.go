package domain

import (
	"sort"

	"github.com/Masterminds/semver/v3"
)

// ResolverID names the resolution algorithm that produced a lockfile. It is
// recorded so the format can evolve without silently invalidating old locks.
const ResolverID = "twoliter/closed-world/v1"

// Lock is the persisted representation of a fully resolved dependency graph.
// It is a reproducible snapshot: the build path consumes it read-only and
// only `twoliter update` rewrites it.
type Lock struct {
	// SchemaVersion is the schema of the Twoliter.toml this was generated
	// from.
	SchemaVersion int `toml:"schema-version"`

	// ProjectVersion is the project's release version at resolution time.
	ProjectVersion *semver.Version `toml:"project-version"`

	// Resolver identifies the resolution algorithm.
	Resolver string `toml:"resolver"`

	// SDK is the single resolved SDK for the whole graph.
	SDK LockedSDK `toml:"sdk"`

	// Kits is the flattened transitive closure of external kit dependencies,
	// sorted by (vendor, name, version).
	Kits []LockedKit `toml:"kit,omitempty"`
}

// Sort orders the kit entries by (vendor, name, version) and each entry's
// dependency list by (vendor, name), the canonical lockfile ordering.
func (l *Lock) Sort() {
	sort.Slice(l.Kits, func(i, j int) bool {
		a, b := l.Kits[i], l.Kits[j]
		if a.Vendor != b.Vendor {
			return a.Vendor < b.Vendor
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.Version.LessThan(b.Version)
	})
	for _, k := range l.Kits {
		deps := k.Dependencies
		sort.Slice(deps, func(i, j int) bool {
			if deps[i].Vendor != deps[j].Vendor {
				return deps[i].Vendor < deps[j].Vendor
			}
			return deps[i].Name < deps[j].Name
		})
	}
}

// Kit returns the locked entry for the given kit name, if any. Kit names are
// unique in a valid lock regardless of vendor.
func (l *Lock) Kit(name string) (LockedKit, bool) {
	for _, k := range l.Kits {
		if k.Name == name {
			return k, true
		}
	}
	return LockedKit{}, false
}

// ExternalKitMetadata is the union view of a lock that is synchronized to
// build/external-kits/external-kit-metadata.json for consumption by build
// stages.
type ExternalKitMetadata struct {
	SDK  LockedSDK   `json:"sdk"`
	Kits []LockedKit `json:"kit"`
}

// External returns the lock's synchronizable view.
func (l *Lock) External() ExternalKitMetadata {
	return ExternalKitMetadata{SDK: l.SDK, Kits: l.Kits}
}
