package domain

import "go.trai.ch/zerr"

var (
	// ErrProjectNotFound is returned when no Twoliter.toml is found in the
	// starting directory or any of its ancestors.
	ErrProjectNotFound = zerr.New("project not found")

	// ErrSchemaUnsupported is returned when a project declares a schema
	// version outside the supported range.
	ErrSchemaUnsupported = zerr.New("unsupported schema version")

	// ErrManifestInvalid is returned when a project, kit, package, or variant
	// manifest fails validation.
	ErrManifestInvalid = zerr.New("invalid manifest")

	// ErrDuplicateName is returned when two kits, packages, or variants share
	// a name.
	ErrDuplicateName = zerr.New("duplicate name")

	// ErrVendorUnknown is returned when a dependency references a vendor that
	// is not declared in Twoliter.toml.
	ErrVendorUnknown = zerr.New("vendor not specified in Twoliter.toml")

	// ErrKitVersionConflict is returned when the transitive closure contains
	// the same kit name at two different versions.
	ErrKitVersionConflict = zerr.New("cannot have multiple versions of the same kit")

	// ErrSdkConflict is returned when a kit in the graph declares an SDK that
	// differs from the project SDK.
	ErrSdkConflict = zerr.New("sdk conflict")

	// ErrSdkMissing is returned when neither the project nor any kit declares
	// an SDK.
	ErrSdkMissing = zerr.New("no sdk was found for use, please specify a sdk in Twoliter.toml")

	// ErrDependencyCycle is returned when the dependency graph contains a
	// cycle.
	ErrDependencyCycle = zerr.New("dependency cycle detected")

	// ErrArchUnsupported is returned when a kit required by a variant does
	// not support the variant's architecture.
	ErrArchUnsupported = zerr.New("architecture not supported by kit")

	// ErrMetadataMissing is returned when a kit image carries no metadata
	// companion, meaning it does not appear to be a kit.
	ErrMetadataMissing = zerr.New("no metadata found, image does not appear to be a kit")

	// ErrLockMissing is returned when Twoliter.lock does not exist. It is
	// resolved by running `twoliter update`.
	ErrLockMissing = zerr.New("Twoliter.lock does not exist, please run `twoliter update` first")

	// ErrLockDrift is returned on the build path when the lockfile no longer
	// matches a re-resolution of the current manifests.
	ErrLockDrift = zerr.New("lockfile does not match project manifests, please run `twoliter update`")

	// ErrNodeAlreadyExists is returned when a build node is added to a graph
	// twice.
	ErrNodeAlreadyExists = zerr.New("build node already exists")

	// ErrMissingDependency is returned when a build node requires a node that
	// does not exist in the graph.
	ErrMissingDependency = zerr.New("missing dependency")

	// ErrStageFailed is returned when a container build stage exits non-zero.
	ErrStageFailed = zerr.New("build stage failed")

	// ErrNodeSkipped marks a node that was not executed because one of its
	// dependencies failed.
	ErrNodeSkipped = zerr.New("skipped due to failed dependency")
)
