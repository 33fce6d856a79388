package domain

import (
	"iter"
	"sort"
	"strings"

	"go.trai.ch/zerr"
)

// NodeKind discriminates the work a build node performs.
type NodeKind string

const (
	// KindPackageBuild produces one or more RPMs from a package directory.
	KindPackageBuild NodeKind = "package"
	// KindKitBuild assembles locally built RPMs into a kit OCI image.
	KindKitBuild NodeKind = "kit"
	// KindVariantBuild produces image artifacts from the composite repo.
	KindVariantBuild NodeKind = "variant"
	// KindMigrationsBundle packages the migration binaries for a variant.
	KindMigrationsBundle NodeKind = "migrations"
	// KindKmodKit archives the kernel module development kit for a variant.
	KindKmodKit NodeKind = "kmod-kit"
)

// BuildNode is one unit of schedulable work. Everything that influences the
// node's output is captured here so a cache token can be derived from it.
type BuildNode struct {
	// Name uniquely identifies the node, e.g. "package/hello-agent".
	Name string

	Kind NodeKind
	Arch string

	// Requires names the nodes whose outputs this node consumes.
	Requires []string

	// Target is the recipe target the container executor runs.
	Target string

	// SourceDirs are hashed by content into the cache token.
	SourceDirs []string

	// InputDigests are the digests of non-source inputs: kit digests and the
	// SDK digest. Dependency RPMs enter through SourceDirs instead.
	InputDigests []string

	// Args are the build arguments handed to the recipe target. Manifest
	// fields that affect output (partition plan, image format, features)
	// travel here and are part of the cache token.
	Args map[string]string

	// OutputDir is the directory the node publishes its artifacts to.
	OutputDir string
}

// NodeName forms the canonical node name for a kind and subject.
func NodeName(kind NodeKind, subject string) string {
	return string(kind) + "/" + subject
}

// Graph is the dependency graph of build nodes.
type Graph struct {
	nodes          map[string]BuildNode
	executionOrder []string
}

// NewGraph creates a new empty Graph.
func NewGraph() *Graph {
	return &Graph{nodes: make(map[string]BuildNode)}
}

// AddNode adds a node to the graph. It returns an error if a node with the
// same name already exists.
func (g *Graph) AddNode(n *BuildNode) error {
	if _, exists := g.nodes[n.Name]; exists {
		return zerr.With(ErrNodeAlreadyExists, "node", n.Name)
	}
	g.nodes[n.Name] = *n
	return nil
}

// NodeCount returns the number of nodes in the graph.
func (g *Graph) NodeCount() int {
	return len(g.nodes)
}

// Node returns the named node, if present.
func (g *Graph) Node(name string) (BuildNode, bool) {
	n, ok := g.nodes[name]
	return n, ok
}

// Validate checks for cycles and missing dependencies with a depth-first
// topological sort. Node names are visited in sorted order so the resulting
// execution order is deterministic.
func (g *Graph) Validate() error {
	g.executionOrder = make([]string, 0, len(g.nodes))
	visited := make(map[string]int, len(g.nodes)) // 0: unvisited, 1: visiting, 2: visited
	var path []string

	var visit func(name string) error
	visit = func(name string) error {
		visited[name] = 1
		path = append(path, name)

		node, exists := g.nodes[name]
		if !exists {
			return zerr.With(ErrMissingDependency, "dependency", name)
		}

		for _, dep := range node.Requires {
			if visited[dep] == 1 {
				return g.buildCycleError(path, dep)
			}
			if visited[dep] == 0 {
				if err := visit(dep); err != nil {
					return err
				}
			}
		}

		visited[name] = 2
		path = path[:len(path)-1]
		g.executionOrder = append(g.executionOrder, name)
		return nil
	}

	names := make([]string, 0, len(g.nodes))
	for name := range g.nodes {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if visited[name] == 0 {
			if err := visit(name); err != nil {
				return err
			}
		}
	}

	return nil
}

func (g *Graph) buildCycleError(path []string, dep string) error {
	start := 0
	for i, node := range path {
		if node == dep {
			start = i
			break
		}
	}
	cycle := append(append([]string{}, path[start:]...), dep)
	return zerr.With(ErrDependencyCycle, "cycle", strings.Join(cycle, " -> "))
}

// Walk returns an iterator over nodes in execution order. It assumes
// Validate() has been called and returned nil.
func (g *Graph) Walk() iter.Seq[BuildNode] {
	return func(yield func(BuildNode) bool) {
		for _, name := range g.executionOrder {
			if !yield(g.nodes[name]) {
				return
			}
		}
	}
}

// Dependents returns the names of nodes that require the given node,
// in sorted order.
func (g *Graph) Dependents(name string) []string {
	var out []string
	for candidate, node := range g.nodes {
		for _, dep := range node.Requires {
			if dep == name {
				out = append(out, candidate)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}
