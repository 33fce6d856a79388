package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.trai.ch/zerr"
	"golang.org/x/sync/errgroup"

	"go.trai.ch/twoliter/internal/adapters/oci"
	"go.trai.ch/twoliter/internal/adapters/pipe"
	"go.trai.ch/twoliter/internal/adapters/repo"
	"go.trai.ch/twoliter/internal/core/domain"
	"go.trai.ch/twoliter/internal/core/ports"
)

// nodeRunner executes build nodes: it prepares input channels, runs the
// node's recipe stage, and publishes outputs atomically on success.
type nodeRunner struct {
	project  *domain.Project
	lock     *domain.Lock
	store    ports.KitStore
	executor ports.Executor
	repos    *repo.Builder
	log      ports.Logger
}

var _ ports.NodeRunner = (*nodeRunner)(nil)

func newNodeRunner(project *domain.Project, lock *domain.Lock, store ports.KitStore, executor ports.Executor, log ports.Logger) *nodeRunner {
	return &nodeRunner{
		project:  project,
		lock:     lock,
		store:    store,
		executor: executor,
		repos:    repo.NewBuilder(log),
		log:      log,
	}
}

// Run executes one node. Outputs stream back over the output socket into a
// staging directory and are only published when the stage succeeded and
// every artifact validated.
func (r *nodeRunner) Run(ctx context.Context, node *domain.BuildNode) error {
	stage := &domain.Stage{
		Node:   node.Name,
		Target: node.Target,
		Args:   node.Args,
	}

	if err := r.prepare(ctx, node, stage); err != nil {
		return err
	}

	output, err := pipe.NewOutputChannel(node.OutputDir, validatorFor(node.Kind))
	if err != nil {
		return err
	}
	stage.OutputSocket = output.StageFile()

	rpmsDir := filepath.Join(r.project.BuildDir(), "rpms")
	if err := os.MkdirAll(rpmsDir, 0o750); err != nil {
		output.Discard()
		return zerr.Wrap(err, "failed to create rpms directory")
	}
	input, err := pipe.NewInputChannel(rpmsDir)
	if err != nil {
		output.Discard()
		return err
	}
	stage.BypassSocket = input.StageFile()

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error { return output.Receive(egCtx) })
	eg.Go(func() error { return input.Serve(egCtx) })
	eg.Go(func() error {
		defer output.CloseStageEnd()
		defer input.CloseStageEnd()
		return r.executor.RunStage(egCtx, stage)
	})

	if err := eg.Wait(); err != nil {
		output.Discard()
		return err
	}

	if err := output.Publish(); err != nil {
		return err
	}

	return r.finish(ctx, node)
}

// prepare performs per-kind setup that must precede the stage.
func (r *nodeRunner) prepare(ctx context.Context, node *domain.BuildNode, stage *domain.Stage) error {
	switch node.Kind {
	case domain.KindPackageBuild:
		pkg, ok := r.project.Package(strings.TrimPrefix(node.Name, string(domain.KindPackageBuild)+"/"))
		if !ok {
			return zerr.With(zerr.New("package is not defined in this project"), "node", node.Name)
		}
		stage.Mounts = append(stage.Mounts, domain.Mount{Source: pkg.Path, Dest: "sources", ReadOnly: true})

	case domain.KindVariantBuild:
		// The variant build is serialized after its composite repo exists.
		composite, err := r.assembleComposite(ctx, node)
		if err != nil {
			return err
		}
		stage.Mounts = append(stage.Mounts,
			domain.Mount{Source: composite.ConfigDir, Dest: "repos", ReadOnly: true},
			domain.Mount{Source: r.project.ExternalKitsDir(), Dest: "external-kits", ReadOnly: true},
			domain.Mount{Source: filepath.Join(r.project.BuildDir(), "kits"), Dest: "local-kits", ReadOnly: true},
		)
	}
	return nil
}

// finish performs per-kind completion after outputs were published.
func (r *nodeRunner) finish(ctx context.Context, node *domain.BuildNode) error {
	switch node.Kind {
	case domain.KindKitBuild:
		// The stage bakes the repo config into the layout; recover it when a
		// recipe predates that step.
		kitName := strings.TrimPrefix(node.Name, string(domain.KindKitBuild)+"/")
		if _, err := os.Stat(filepath.Join(node.OutputDir, "etc", "yum.repos.d", kitName+".repo")); err != nil {
			if err := oci.WriteRepoConfig(node.OutputDir, kitName); err != nil {
				return err
			}
		}

	case domain.KindVariantBuild:
		variantName := strings.TrimPrefix(node.Name, string(domain.KindVariantBuild)+"/")
		variant, ok := r.project.Variant(variantName)
		if !ok {
			return zerr.With(zerr.New("variant is not defined in this project"), "node", node.Name)
		}
		if err := r.writeAudit(ctx, node, variant); err != nil {
			return err
		}
		if err := linkAliases(node.OutputDir, r.project.ReleaseVersion.String(), node.Args["BUILD_ID"]); err != nil {
			return err
		}
	}
	return nil
}

// assembleComposite stages the priority-ordered repo set for a variant:
// the project's own RPMs at priority 0, then the variant's kits in declared
// order.
func (r *nodeRunner) assembleComposite(ctx context.Context, node *domain.BuildNode) (*repo.Composite, error) {
	variantName := strings.TrimPrefix(node.Name, string(domain.KindVariantBuild)+"/")
	variant, ok := r.project.Variant(variantName)
	if !ok {
		return nil, zerr.With(zerr.New("variant is not defined in this project"), "node", node.Name)
	}

	var sources []repo.Source
	for _, ref := range variant.Kits {
		if _, local := r.project.LocalKit(ref.Name); local {
			layout := filepath.Join(r.project.BuildDir(), "kits", ref.Name, variant.Arch)
			sources = append(sources, repo.Source{Name: ref.Name, Path: oci.KitContentDir(layout, ref.Name)})
			continue
		}

		locked, found := r.lock.Kit(ref.Name)
		if !found {
			return nil, zerr.With(domain.ErrLockDrift, "kit", ref.Name)
		}
		extract := filepath.Join(r.project.ExternalKitsDir(), locked.Vendor, locked.Name, variant.Arch)
		if _, err := os.Stat(extract); err != nil {
			// Extraction is idempotent by digest; fetch on demand.
			uri, parseErr := domain.ParseImageURI(locked.Source)
			if parseErr != nil {
				return nil, parseErr
			}
			if err := r.store.FetchKit(ctx, uri.WithDigest(locked.Digest), variant.Arch, extract); err != nil {
				return nil, err
			}
		}
		sources = append(sources, repo.Source{Name: ref.Name, Path: oci.KitContentDir(extract, ref.Name)})
	}

	configDir := filepath.Join(r.project.BuildDir(), "repos", fmt.Sprintf("%s-%s", variant.Arch, variant.Name))
	return r.repos.Assemble(configDir, filepath.Join(r.project.BuildDir(), "rpms"), sources)
}

// writeAudit records which repository supplies each installable package.
func (r *nodeRunner) writeAudit(ctx context.Context, node *domain.BuildNode, variant domain.Variant) error {
	composite, err := r.assembleComposite(ctx, node)
	if err != nil {
		return err
	}

	packages := make(map[string][]domain.PackageIdentity)
	packages[localRepoPackagesKey] = r.localPackages(variant.Packages)

	for _, ref := range variant.Kits {
		if kit, local := r.project.LocalKit(ref.Name); local {
			packages[ref.Name] = r.localPackages(kit.Packages)
			continue
		}
		uri, err := r.project.ImageURIFor(ref)
		if err != nil {
			continue
		}
		if res, err := r.store.FetchMetadata(ctx, uri); err == nil {
			packages[ref.Name] = res.Metadata.Packages
		}
	}

	return repo.WriteAudit(filepath.Join(node.OutputDir, "install-audit.json"), composite.Entries, packages)
}

const localRepoPackagesKey = "local-rpms"

// localPackages derives package identities from the RPM files a set of
// package builds published.
func (r *nodeRunner) localPackages(names []string) []domain.PackageIdentity {
	var out []domain.PackageIdentity
	for _, name := range names {
		dir := filepath.Join(r.project.BuildDir(), "rpms", name)
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if identity, ok := parseRPMName(entry.Name()); ok {
				out = append(out, identity)
			}
		}
	}
	return out
}

// validatorFor restricts what a stage may hand back for each node kind.
func validatorFor(kind domain.NodeKind) pipe.ValidateFunc {
	if kind != domain.KindPackageBuild {
		return nil
	}
	return func(name string) error {
		if !strings.HasSuffix(name, ".rpm") && !strings.HasSuffix(name, "/") {
			return zerr.New("package build produced a non-rpm artifact")
		}
		return nil
	}
}
