package app

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
	"go.trai.ch/zerr"

	"go.trai.ch/twoliter/internal/core/domain"
)

// planVariant builds the work graph for one variant: packages first, then local
// kits, then the variant image with its auxiliary bundles.
func planVariant(project *domain.Project, lock *domain.Lock, variant domain.Variant, buildID string) (*domain.Graph, error) {
	g := domain.NewGraph()
	planned := make(map[string]bool)

	// Every package the variant installs directly, plus every package of
	// each local kit it pulls in.
	wanted := append([]string{}, variant.Packages...)
	var localKits []domain.LocalKit
	for _, ref := range variant.Kits {
		if kit, ok := project.LocalKit(ref.Name); ok {
			localKits = append(localKits, kit)
			wanted = append(wanted, kit.Packages...)
		}
	}

	for _, name := range wanted {
		if err := planPackage(g, project, lock, name, variant.Arch, buildID, planned); err != nil {
			return nil, err
		}
	}

	var kitNodes []string
	for _, kit := range localKits {
		node, err := planLocalKit(g, project, lock, kit, variant.Arch, buildID)
		if err != nil {
			return nil, err
		}
		kitNodes = append(kitNodes, node)
	}

	variantNode, err := planVariantImage(g, project, lock, variant, buildID, kitNodes)
	if err != nil {
		return nil, err
	}

	if err := planAuxiliaries(g, project, variant, buildID, variantNode); err != nil {
		return nil, err
	}

	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

// planKit builds the work graph for one local kit alone.
func planKit(project *domain.Project, lock *domain.Lock, kit domain.LocalKit, arch, buildID string) (*domain.Graph, error) {
	g := domain.NewGraph()
	planned := make(map[string]bool)

	for _, name := range kit.Packages {
		if err := planPackage(g, project, lock, name, arch, buildID, planned); err != nil {
			return nil, err
		}
	}
	if _, err := planLocalKit(g, project, lock, kit, arch, buildID); err != nil {
		return nil, err
	}

	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

func planPackage(g *domain.Graph, project *domain.Project, lock *domain.Lock, name, arch, buildID string, planned map[string]bool) error {
	if planned[name] {
		return nil
	}
	planned[name] = true

	pkg, ok := project.Package(name)
	if !ok {
		return zerr.With(zerr.New("package is not defined in this project"), "package", name)
	}

	node := domain.BuildNode{
		Name:       domain.NodeName(domain.KindPackageBuild, name),
		Kind:       domain.KindPackageBuild,
		Arch:       arch,
		Target:     "rpmbuild",
		SourceDirs: []string{pkg.Path},
		InputDigests: []string{
			lock.SDK.Digest.String(),
		},
		Args: map[string]string{
			"PACKAGE":       name,
			"ARCH":          arch,
			"VERSION_BUILD": project.ReleaseVersion.String(),
			"BUILD_ID":      buildID,
		},
		OutputDir: filepath.Join(project.BuildDir(), "rpms", name),
	}

	for _, dep := range pkg.Dependencies {
		if err := planPackage(g, project, lock, dep, arch, buildID, planned); err != nil {
			return err
		}
		node.Requires = append(node.Requires, domain.NodeName(domain.KindPackageBuild, dep))
		node.SourceDirs = append(node.SourceDirs, filepath.Join(project.BuildDir(), "rpms", dep))
	}

	return g.AddNode(&node)
}

func planLocalKit(g *domain.Graph, project *domain.Project, lock *domain.Lock, kit domain.LocalKit, arch, buildID string) (string, error) {
	node := domain.BuildNode{
		Name:   domain.NodeName(domain.KindKitBuild, kit.Name),
		Kind:   domain.KindKitBuild,
		Arch:   arch,
		Target: "kitbuild",
		InputDigests: []string{
			lock.SDK.Digest.String(),
		},
		Args: map[string]string{
			"KIT":           kit.Name,
			"ARCH":          arch,
			"VERSION_BUILD": project.ReleaseVersion.String(),
			"BUILD_ID":      buildID,
		},
		OutputDir: filepath.Join(project.BuildDir(), "kits", kit.Name, arch),
	}

	for _, member := range kit.Packages {
		node.Requires = append(node.Requires, domain.NodeName(domain.KindPackageBuild, member))
		node.SourceDirs = append(node.SourceDirs, filepath.Join(project.BuildDir(), "rpms", member))
	}
	for _, dep := range kit.Dependencies {
		locked, ok := lock.Kit(dep.Name)
		if !ok {
			return "", zerr.With(domain.ErrLockDrift, "kit", dep.Name)
		}
		node.InputDigests = append(node.InputDigests, locked.Digest.String())
	}

	if err := g.AddNode(&node); err != nil {
		return "", err
	}
	return node.Name, nil
}

func planVariantImage(g *domain.Graph, project *domain.Project, lock *domain.Lock, variant domain.Variant, buildID string, kitNodes []string) (string, error) {
	// The declared kit order is the composite repo priority order, so it is
	// part of the node identity: swapping two kits re-runs the variant.
	var repoOrder []string
	for _, ref := range variant.Kits {
		repoOrder = append(repoOrder, ref.Name)
	}

	node := domain.BuildNode{
		Name:     domain.NodeName(domain.KindVariantBuild, variant.Name),
		Kind:     domain.KindVariantBuild,
		Arch:     variant.Arch,
		Target:   "imgbuild",
		Requires: append([]string{}, kitNodes...),
		InputDigests: []string{
			lock.SDK.Digest.String(),
		},
		Args: map[string]string{
			"VARIANT":        variant.Name,
			"ARCH":           variant.Arch,
			"VERSION_BUILD":  project.ReleaseVersion.String(),
			"BUILD_ID":       buildID,
			"PRETTY_NAME":    variant.Name,
			"IMAGE_FORMAT":   orDefault(variant.Image.ImageFormat, "raw"),
			"PARTITION_PLAN": orDefault(variant.Image.PartitionPlan, "split"),
			"REPO_ORDER":     strings.Join(repoOrder, ","),
		},
		OutputDir: filepath.Join(project.BuildDir(), "images",
			fmt.Sprintf("%s-%s", variant.Arch, variant.Name),
			fmt.Sprintf("%s-%s", project.ReleaseVersion, buildID)),
	}

	if len(variant.Image.KernelParameters) > 0 {
		node.Args["KERNEL_PARAMETERS"] = strings.Join(variant.Image.KernelParameters, " ")
	}
	if len(variant.Image.Features) > 0 {
		features := append([]string{}, variant.Image.Features...)
		sort.Strings(features)
		node.Args["FEATURES"] = strings.Join(features, ",")
	}

	for _, name := range variant.Packages {
		node.Requires = append(node.Requires, domain.NodeName(domain.KindPackageBuild, name))
		node.SourceDirs = append(node.SourceDirs, filepath.Join(project.BuildDir(), "rpms", name))
	}
	for _, ref := range variant.Kits {
		if locked, ok := lock.Kit(ref.Name); ok {
			node.InputDigests = append(node.InputDigests, locked.Digest.String())
		}
	}

	if err := g.AddNode(&node); err != nil {
		return "", err
	}
	return node.Name, nil
}

// planAuxiliaries adds the migration bundle and, when the variant carries a
// kernel package, the kmod kit. Both derive from the same package set as the
// variant.
func planAuxiliaries(g *domain.Graph, project *domain.Project, variant domain.Variant, buildID string, variantNode string) error {
	variantRef, _ := g.Node(variantNode)

	migrations := domain.BuildNode{
		Name:         domain.NodeName(domain.KindMigrationsBundle, variant.Name),
		Kind:         domain.KindMigrationsBundle,
		Arch:         variant.Arch,
		Target:       "migrationbuild",
		Requires:     packageRequires(variantRef),
		SourceDirs:   packageSources(variantRef),
		InputDigests: variantRef.InputDigests,
		Args: map[string]string{
			"VARIANT":       variant.Name,
			"ARCH":          variant.Arch,
			"VERSION_BUILD": project.ReleaseVersion.String(),
			"BUILD_ID":      buildID,
		},
		OutputDir: filepath.Join(project.BuildDir(), "migrations",
			fmt.Sprintf("%s-%s", variant.Arch, variant.Name)),
	}
	if err := g.AddNode(&migrations); err != nil {
		return err
	}

	kernel := kernelPackage(variant)
	if kernel == "" {
		return nil
	}

	kmod := domain.BuildNode{
		Name:         domain.NodeName(domain.KindKmodKit, variant.Name),
		Kind:         domain.KindKmodKit,
		Arch:         variant.Arch,
		Target:       "kmodkitbuild",
		Requires:     []string{domain.NodeName(domain.KindPackageBuild, kernel)},
		SourceDirs:   []string{filepath.Join(project.BuildDir(), "rpms", kernel)},
		InputDigests: variantRef.InputDigests,
		Args: map[string]string{
			"VARIANT":        variant.Name,
			"ARCH":           variant.Arch,
			"VERSION_BUILD":  project.ReleaseVersion.String(),
			"BUILD_ID":       buildID,
			"KERNEL_PACKAGE": kernel,
		},
		OutputDir: filepath.Join(project.BuildDir(), "kmod-kits",
			fmt.Sprintf("%s-%s", variant.Arch, variant.Name)),
	}
	return g.AddNode(&kmod)
}

func packageRequires(node domain.BuildNode) []string {
	var out []string
	for _, req := range node.Requires {
		if strings.HasPrefix(req, string(domain.KindPackageBuild)+"/") {
			out = append(out, req)
		}
	}
	return out
}

func packageSources(node domain.BuildNode) []string {
	return append([]string{}, node.SourceDirs...)
}

func kernelPackage(variant domain.Variant) string {
	for _, name := range variant.Packages {
		if strings.Contains(name, "kernel") {
			return name
		}
	}
	return ""
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

// buildIDFor derives a deterministic build id from the lock contents and the
// subject being built, so unchanged inputs reuse cached artifacts.
func buildIDFor(lockBytes []byte, subject string) string {
	h := xxhash.New()
	_, _ = h.Write(lockBytes)
	_, _ = h.WriteString(subject)
	return fmt.Sprintf("%08x", h.Sum64()&0xffffffff)
}
