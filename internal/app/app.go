// Package app implements the twoliter operations: update, fetch, build, and
// publish.
package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/opencontainers/go-digest"
	"go.trai.ch/zerr"

	"go.trai.ch/twoliter/internal/adapters/cas"
	"go.trai.ch/twoliter/internal/core/domain"
	"go.trai.ch/twoliter/internal/core/ports"
	"go.trai.ch/twoliter/internal/engine/lockfile"
	"go.trai.ch/twoliter/internal/engine/scheduler"
)

// App wires the engines to the adapters and owns operation semantics: the
// build path never mutates the lockfile, update never runs with a stale
// resolve.
type App struct {
	loader       ports.ProjectLoader
	storeFactory ports.KitStoreFactory
	executor     ports.Executor
	hasher       ports.Hasher
	telemetry    ports.Telemetry
	log          ports.Logger

	// projectPath, when set, bypasses the ancestor search.
	projectPath string

	// parallelism bounds concurrent build nodes; defaults to the CPU count.
	parallelism int
}

// New creates the application.
func New(loader ports.ProjectLoader, factory ports.KitStoreFactory, executor ports.Executor, hasher ports.Hasher, telemetry ports.Telemetry, log ports.Logger) *App {
	return &App{
		loader:       loader,
		storeFactory: factory,
		executor:     executor,
		hasher:       hasher,
		telemetry:    telemetry,
		log:          log,
		parallelism:  runtime.NumCPU(),
	}
}

// SetProjectPath points the app at an explicit Twoliter.toml.
func (a *App) SetProjectPath(path string) {
	a.projectPath = path
}

// SetParallelism overrides the worker pool size.
func (a *App) SetParallelism(n int) {
	if n > 0 {
		a.parallelism = n
	}
}

func (a *App) loadProject() (*domain.Project, ports.KitStore, *lockfile.Engine, error) {
	var project *domain.Project
	var err error
	if a.projectPath != "" {
		project, err = a.loader.Load(a.projectPath)
	} else {
		cwd, cwdErr := os.Getwd()
		if cwdErr != nil {
			return nil, nil, nil, zerr.Wrap(cwdErr, "failed to determine working directory")
		}
		project, err = a.loader.Find(cwd)
	}
	if err != nil {
		return nil, nil, nil, err
	}

	store := a.storeFactory(project.CacheDir())
	return project, store, lockfile.New(store, a.log), nil
}

// Update performs a full re-resolve, permitting network fetches, and
// rewrites Twoliter.lock.
func (a *App) Update(ctx context.Context) error {
	project, _, engine, err := a.loadProject()
	if err != nil {
		return err
	}

	a.log.Info(fmt.Sprintf("resolving %d direct kit reference(s)", len(project.DirectKits())))
	lock, err := engine.Update(ctx, project)
	if err != nil {
		return err
	}

	a.log.Info(fmt.Sprintf("locked %d kit(s) against sdk %s", len(lock.Kits), lock.SDK))
	return nil
}

// Fetch verifies the lock and extracts every external kit for the given
// architecture.
func (a *App) Fetch(ctx context.Context, arch string) error {
	project, store, engine, err := a.loadProject()
	if err != nil {
		return err
	}

	lock, err := engine.Verify(ctx, project)
	if err != nil {
		return err
	}

	if err := fetchExternalKits(ctx, project, store, lock, arch); err != nil {
		return err
	}
	return engine.SyncMetadata(project, lock)
}

// BuildVariant builds the named variant: packages, local kits, the composite
// repo, and the image, in topological order.
func (a *App) BuildVariant(ctx context.Context, name string) error {
	project, store, engine, err := a.loadProject()
	if err != nil {
		return err
	}

	variant, ok := project.Variant(name)
	if !ok {
		return zerr.With(zerr.New("variant is not defined in this project"), "variant", name)
	}

	lock, err := engine.Verify(ctx, project)
	if err != nil {
		return err
	}
	if err := fetchExternalKits(ctx, project, store, lock, variant.Arch); err != nil {
		return err
	}

	lockBytes, err := lockfile.Encode(lock)
	if err != nil {
		return err
	}

	graph, err := planVariant(project, lock, variant, buildIDFor(lockBytes, variant.Name))
	if err != nil {
		return err
	}

	return a.runGraph(ctx, project, lock, store, graph)
}

// BuildKit builds the named local kit and the packages it includes.
func (a *App) BuildKit(ctx context.Context, name, arch string) error {
	project, store, engine, err := a.loadProject()
	if err != nil {
		return err
	}

	kit, ok := project.LocalKit(name)
	if !ok {
		return zerr.With(zerr.New("kit is not defined in this project"), "kit", name)
	}

	lock, err := engine.Verify(ctx, project)
	if err != nil {
		return err
	}
	if err := fetchExternalKits(ctx, project, store, lock, arch); err != nil {
		return err
	}

	lockBytes, err := lockfile.Encode(lock)
	if err != nil {
		return err
	}

	graph, err := planKit(project, lock, kit, arch, buildIDFor(lockBytes, kit.Name))
	if err != nil {
		return err
	}

	return a.runGraph(ctx, project, lock, store, graph)
}

// PublishKit pushes a locally built kit: one image per built architecture,
// each with its metadata companion, joined behind a multi-arch index.
func (a *App) PublishKit(ctx context.Context, name, vendorName string) error {
	project, store, engine, err := a.loadProject()
	if err != nil {
		return err
	}

	kit, ok := project.LocalKit(name)
	if !ok {
		return zerr.With(zerr.New("kit is not defined in this project"), "kit", name)
	}
	vendor, err := project.Vendor(vendorName)
	if err != nil {
		return err
	}

	lock, err := engine.Verify(ctx, project)
	if err != nil {
		return err
	}

	runner := newNodeRunner(project, lock, store, a.executor, a.log)
	version := "v" + project.ReleaseVersion.String()

	published := make(map[string]digest.Digest)
	for _, arch := range domain.SupportedArches {
		layout := filepath.Join(project.BuildDir(), "kits", name, arch)
		if _, err := os.Stat(layout); err != nil {
			continue
		}

		meta := domain.KitMetadata{
			Name:     name,
			Version:  project.ReleaseVersion.String(),
			Arch:     arch,
			SDK:      sdkWireRef(lock.SDK, arch),
			Packages: runner.localPackages(kit.Packages),
		}
		for _, dep := range kit.Dependencies {
			locked, found := lock.Kit(dep.Name)
			if !found {
				return zerr.With(domain.ErrLockDrift, "kit", dep.Name)
			}
			depVendor, err := project.Vendor(locked.Vendor)
			if err != nil {
				return err
			}
			meta.Dependencies = append(meta.Dependencies, kitWireRef(locked, depVendor.Registry, arch))
		}
		if meta.Dependencies == nil {
			meta.Dependencies = []string{}
		}

		uri := domain.ImageURI{Registry: vendor.Registry, Repo: name, Tag: version + "-" + arch}
		d, err := store.PublishKit(ctx, layout, meta, uri)
		if err != nil {
			return err
		}
		published[arch] = d
		a.log.Info(fmt.Sprintf("pushed kit '%s' for %s at %s", name, arch, d))
	}

	if len(published) == 0 {
		return zerr.With(zerr.New("kit has no built layouts to publish, run `twoliter build kit` first"), "kit", name)
	}

	indexURI := domain.ImageURI{Registry: vendor.Registry, Repo: name, Tag: version}
	indexDigest, err := store.PublishIndex(ctx, published, indexURI)
	if err != nil {
		return err
	}

	a.log.Info(fmt.Sprintf("published kit '%s' as %s@%s", name, indexURI, indexDigest))
	return nil
}

// runGraph schedules a planned graph with the project-scoped build info
// store.
func (a *App) runGraph(ctx context.Context, project *domain.Project, lock *domain.Lock, store ports.KitStore, graph *domain.Graph) error {
	infoStore, err := cas.NewStore(filepath.Join(project.CacheDir(), "build-info.json"))
	if err != nil {
		return err
	}

	runner := newNodeRunner(project, lock, store, a.executor, a.log)
	sched := scheduler.NewScheduler(runner, a.hasher, infoStore, a.telemetry)
	return sched.Run(ctx, graph, a.parallelism)
}

// fetchExternalKits extracts every locked kit for one architecture. Kits
// that were not published for the architecture are skipped; the resolver has
// already rejected any that a variant actually needs.
func fetchExternalKits(ctx context.Context, project *domain.Project, store ports.KitStore, lock *domain.Lock, arch string) error {
	for _, kit := range lock.Kits {
		if !kit.SupportsArch(arch) {
			continue
		}
		uri, err := domain.ParseImageURI(kit.Source)
		if err != nil {
			return err
		}
		dest := filepath.Join(project.ExternalKitsDir(), kit.Vendor, kit.Name, arch)
		if err := store.FetchKit(ctx, uri.WithDigest(kit.Digest), arch, dest); err != nil {
			return zerr.With(err, "kit", kit.Name)
		}
	}
	return nil
}

// sdkWireRef spells an SDK reference in the on-wire metadata form.
func sdkWireRef(sdk domain.LockedSDK, arch string) string {
	return fmt.Sprintf("%s/%s-%s:v%s@%s", sdk.Registry, sdk.Name, arch, sdk.Version, sdk.Digest)
}

// kitWireRef spells a kit dependency in the on-wire metadata form.
func kitWireRef(kit domain.LockedKit, registry, arch string) string {
	return fmt.Sprintf("%s/%s-%s:v%s@%s", registry, kit.Name, arch, kit.Version, kit.Digest)
}
