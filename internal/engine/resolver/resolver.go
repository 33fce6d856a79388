// Package resolver implements closed-world resolution of kit and SDK
// dependencies into a fully pinned, lockable graph.
package resolver

import (
	"context"
	"fmt"
	"strings"

	"github.com/opencontainers/go-digest"
	"go.trai.ch/zerr"

	"go.trai.ch/twoliter/internal/core/domain"
	"go.trai.ch/twoliter/internal/core/ports"
)

// Resolver expands declared kit dependencies into their transitive closure,
// unifying versions and the SDK. Resolution is purely functional over its
// inputs: given cached digests, two runs produce identical locks.
type Resolver struct {
	store ports.KitStore
	log   ports.Logger
}

// New creates a Resolver reading kit metadata through the given store.
func New(store ports.KitStore, log ports.Logger) *Resolver {
	return &Resolver{store: store, log: log}
}

// kitNode is one resolved kit in the arena. Nodes reference each other by
// integer index, which keeps the cycle check simple and the lock
// serialization trivial.
type kitNode struct {
	image      domain.Image
	requiredBy string
	res        *domain.KitResolution
	sdk        domain.SDKRef
	deps       []int
}

// pending is one frontier entry awaiting expansion.
type pending struct {
	image      domain.Image
	requiredBy string
	parent     int // arena index of the requiring kit, or -1
}

// Resolve produces a lock for the project, fetching metadata through the
// resolver's store. With an offline store it re-derives the graph without
// network egress, which is how lock verification runs.
func (r *Resolver) Resolve(ctx context.Context, project *domain.Project) (*domain.Lock, error) {
	state := &resolution{
		project: project,
		store:   r.store,
		log:     r.log,
		index:   make(map[string]int),
	}

	state.seed()
	if err := state.expand(ctx); err != nil {
		return nil, err
	}
	if err := state.checkCycles(); err != nil {
		return nil, err
	}

	sdk, err := state.unifySDK(ctx)
	if err != nil {
		return nil, err
	}

	lock := &domain.Lock{
		SchemaVersion:  project.SchemaVersion,
		ProjectVersion: project.ReleaseVersion,
		Resolver:       domain.ResolverID,
		SDK:            sdk,
	}
	for i := range state.arena {
		lock.Kits = append(lock.Kits, state.lockedKit(i, sdk.Digest))
	}
	lock.Sort()

	if err := checkArches(project, lock); err != nil {
		return nil, err
	}

	return lock, nil
}

type resolution struct {
	project *domain.Project
	store   ports.KitStore
	log     ports.Logger

	arena    []kitNode
	index    map[string]int // kit name -> arena index
	frontier []pending
}

// seed queues every direct external kit reference: the project's own, each
// variant's, and each local kit's. Local kits are graph nodes for the build
// driver but are not fetched here.
func (s *resolution) seed() {
	push := func(image domain.Image, requiredBy string) {
		if _, local := s.project.LocalKit(image.Name); local {
			return
		}
		s.frontier = append(s.frontier, pending{image: image, requiredBy: requiredBy, parent: -1})
	}

	for _, kit := range s.project.Kits {
		push(kit, domain.ProjectFileName)
	}
	for _, variant := range s.project.Variants {
		for _, kit := range variant.Kits {
			push(kit, "variant "+variant.Name)
		}
	}
	for _, local := range s.project.LocalKits {
		for _, dep := range local.Dependencies {
			push(dep, "kit "+local.Name)
		}
	}
}

// expand drains the frontier, fetching metadata for unvisited kits and
// appending their dependencies. Version unification uses exact equality:
// range operators are deliberately not supported, since two majors of one
// kit would collide in the composite yum namespace.
func (s *resolution) expand(ctx context.Context) error {
	for len(s.frontier) > 0 {
		entry := s.frontier[0]
		s.frontier = s.frontier[1:]

		if existing, ok := s.index[entry.image.Name]; ok {
			node := &s.arena[existing]
			if !node.image.Version.Equal(entry.image.Version) || node.image.Vendor != entry.image.Vendor {
				return zerr.With(zerr.With(zerr.With(domain.ErrKitVersionConflict,
					"kit", entry.image.Name),
					"versions", fmt.Sprintf("[%s, %s]", node.image.Version, entry.image.Version)),
					"required_by", fmt.Sprintf("%s, %s", node.requiredBy, entry.requiredBy))
			}
			s.link(entry.parent, existing)
			continue
		}

		idx, err := s.visit(ctx, entry)
		if err != nil {
			return err
		}
		s.link(entry.parent, idx)
	}
	return nil
}

func (s *resolution) link(parent, child int) {
	if parent < 0 {
		return
	}
	for _, existing := range s.arena[parent].deps {
		if existing == child {
			return
		}
	}
	s.arena[parent].deps = append(s.arena[parent].deps, child)
}

// visit fetches one kit's metadata and queues its dependencies.
func (s *resolution) visit(ctx context.Context, entry pending) (int, error) {
	if s.log != nil {
		s.log.Info(fmt.Sprintf("resolving kit '%s'", entry.image))
	}

	uri, err := s.project.ImageURIFor(entry.image)
	if err != nil {
		return 0, zerr.With(err, "required_by", entry.requiredBy)
	}

	res, err := s.store.FetchMetadata(ctx, uri)
	if err != nil {
		return 0, zerr.With(err, "required_by", entry.requiredBy)
	}

	sdk, err := domain.ParseSDKRef(res.Metadata.SDK)
	if err != nil {
		return 0, zerr.With(err, "kit", entry.image.Name)
	}

	idx := len(s.arena)
	s.arena = append(s.arena, kitNode{
		image:      entry.image,
		requiredBy: entry.requiredBy,
		res:        res,
		sdk:        sdk,
	})
	s.index[entry.image.Name] = idx

	chain := entry.requiredBy + " -> kit " + entry.image.Name
	for _, dep := range res.Metadata.Dependencies {
		image, err := s.parseDependency(dep)
		if err != nil {
			return 0, zerr.With(err, "required_by", chain)
		}
		s.frontier = append(s.frontier, pending{image: image, requiredBy: chain, parent: idx})
	}

	return idx, nil
}

// parseDependency turns an on-wire "<registry>/<kit>-<arch>:<ver>@<digest>"
// reference into a declared image, mapping the registry back to a vendor.
func (s *resolution) parseDependency(ref string) (domain.Image, error) {
	uri, err := domain.ParseImageURI(ref)
	if err != nil {
		return domain.Image{}, err
	}

	name := uri.Repo
	for _, arch := range domain.SupportedArches {
		name = strings.TrimSuffix(name, "-"+arch)
	}

	version, err := domain.VersionFromTag(uri.Tag)
	if err != nil {
		return domain.Image{}, zerr.With(err, "dependency", ref)
	}

	vendor, err := s.project.VendorForRegistry(uri.Registry)
	if err != nil {
		return domain.Image{}, zerr.With(err, "dependency", ref)
	}

	return domain.Image{Name: name, Version: version, Vendor: vendor}, nil
}

// checkCycles runs a DFS over the arena; a back-edge is a resolution error.
func (s *resolution) checkCycles() error {
	visited := make([]int, len(s.arena)) // 0: unvisited, 1: visiting, 2: visited
	var path []string

	var visit func(i int) error
	visit = func(i int) error {
		visited[i] = 1
		path = append(path, s.arena[i].image.Name)

		for _, dep := range s.arena[i].deps {
			switch visited[dep] {
			case 1:
				cycle := append(append([]string{}, path...), s.arena[dep].image.Name)
				return zerr.With(domain.ErrDependencyCycle, "path", strings.Join(cycle, " -> "))
			case 0:
				if err := visit(dep); err != nil {
					return err
				}
			}
		}

		visited[i] = 2
		path = path[:len(path)-1]
		return nil
	}

	for i := range s.arena {
		if visited[i] == 0 {
			if err := visit(i); err != nil {
				return err
			}
		}
	}
	return nil
}

// unifySDK enforces the single-SDK invariant: every kit's declared SDK must
// agree with the project's, and exactly one SDK emerges pinned by digest.
func (s *resolution) unifySDK(ctx context.Context) (domain.LockedSDK, error) {
	var projectSDK *domain.SDKRef
	var sdkVendor string

	if s.project.SDK != nil {
		vendor, err := s.project.Vendor(s.project.SDK.Vendor)
		if err != nil {
			return domain.LockedSDK{}, err
		}
		projectSDK = &domain.SDKRef{
			Name:     s.project.SDK.Name,
			Version:  s.project.SDK.Version,
			Registry: vendor.Registry,
		}
		sdkVendor = s.project.SDK.Vendor
	}

	for i := range s.arena {
		node := &s.arena[i]
		if projectSDK == nil {
			sdk := node.sdk
			projectSDK = &sdk
			vendor, err := s.project.VendorForRegistry(sdk.Registry)
			if err != nil {
				return domain.LockedSDK{}, zerr.With(err, "kit", node.image.Name)
			}
			sdkVendor = vendor
			continue
		}
		if !projectSDK.Same(node.sdk) {
			return domain.LockedSDK{}, zerr.With(zerr.With(zerr.With(domain.ErrSdkConflict,
				"node", node.image.Name),
				"project_sdk", projectSDK.String()),
				"node_sdk", node.sdk.String())
		}
		if projectSDK.Digest == "" && node.sdk.Digest != "" {
			projectSDK.Digest = node.sdk.Digest
		}
	}

	if projectSDK == nil {
		return domain.LockedSDK{}, domain.ErrSdkMissing
	}

	uri := domain.ImageURI{
		Registry: projectSDK.Registry,
		Repo:     projectSDK.Name,
		Tag:      "v" + projectSDK.Version.String(),
	}
	if projectSDK.Digest == "" {
		d, err := s.store.ResolveDigest(ctx, uri)
		if err != nil {
			return domain.LockedSDK{}, zerr.Wrap(err, "failed to resolve sdk digest")
		}
		projectSDK.Digest = d
	}

	return domain.LockedSDK{
		Name:     projectSDK.Name,
		Version:  projectSDK.Version,
		Vendor:   sdkVendor,
		Source:   uri.String(),
		Digest:   projectSDK.Digest,
		Registry: projectSDK.Registry,
	}, nil
}

// lockedKit converts an arena node into its lockfile form. The digests of
// its dependencies come from the resolved nodes, not from the metadata text,
// so the lock is internally consistent.
func (s *resolution) lockedKit(i int, sdkDigest digest.Digest) domain.LockedKit {
	node := &s.arena[i]

	uri, _ := s.project.ImageURIFor(node.image)
	locked := domain.LockedKit{
		Name:      node.image.Name,
		Version:   node.image.Version,
		Vendor:    node.image.Vendor,
		Source:    uri.String(),
		Digest:    node.res.Digest,
		SDKDigest: sdkDigest,
		Arches:    node.res.Arches,
	}
	for _, dep := range node.deps {
		depNode := &s.arena[dep]
		locked.Dependencies = append(locked.Dependencies, domain.LockedRef{
			Name:   depNode.image.Name,
			Vendor: depNode.image.Vendor,
			Digest: depNode.res.Digest,
		})
	}
	return locked
}

// checkArches enforces that every kit a variant depends on was published for
// the variant's architecture.
func checkArches(project *domain.Project, lock *domain.Lock) error {
	for _, variant := range project.Variants {
		for _, kit := range variant.Kits {
			locked, ok := lock.Kit(kit.Name)
			if !ok {
				// Local kits are built for the requested arch by definition.
				continue
			}
			if !locked.SupportsArch(variant.Arch) {
				return zerr.With(zerr.With(zerr.With(domain.ErrArchUnsupported,
					"kit", kit.Name),
					"arch", variant.Arch),
					"required_by", "variant "+variant.Name)
			}
		}
	}
	return nil
}
