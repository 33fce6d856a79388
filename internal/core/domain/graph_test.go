package domain_test

import (
	"errors"
	"testing"

	"go.trai.ch/twoliter/internal/core/domain"
)

func addNode(t *testing.T, g *domain.Graph, name string, requires ...string) {
	t.Helper()
	if err := g.AddNode(&domain.BuildNode{Name: name, Requires: requires}); err != nil {
		t.Fatalf("AddNode(%s) failed: %v", name, err)
	}
}

func TestGraph_TopologicalOrder(t *testing.T) {
	g := domain.NewGraph()
	addNode(t, g, "variant/example-dev", "kit/hello-dev-kit")
	addNode(t, g, "kit/hello-dev-kit", "package/hello-agent")
	addNode(t, g, "package/hello-agent")

	if err := g.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}

	var order []string
	for node := range g.Walk() {
		order = append(order, node.Name)
	}

	pos := make(map[string]int, len(order))
	for i, name := range order {
		pos[name] = i
	}
	if pos["package/hello-agent"] > pos["kit/hello-dev-kit"] ||
		pos["kit/hello-dev-kit"] > pos["variant/example-dev"] {
		t.Errorf("order violates dependencies: %v", order)
	}
}

func TestGraph_CycleDetected(t *testing.T) {
	g := domain.NewGraph()
	addNode(t, g, "kit/a", "kit/b")
	addNode(t, g, "kit/b", "kit/a")

	if err := g.Validate(); !errors.Is(err, domain.ErrDependencyCycle) {
		t.Errorf("expected ErrDependencyCycle, got %v", err)
	}
}

func TestGraph_MissingDependency(t *testing.T) {
	g := domain.NewGraph()
	addNode(t, g, "kit/a", "package/ghost")

	if err := g.Validate(); !errors.Is(err, domain.ErrMissingDependency) {
		t.Errorf("expected ErrMissingDependency, got %v", err)
	}
}

func TestGraph_DuplicateNode(t *testing.T) {
	g := domain.NewGraph()
	addNode(t, g, "package/hello-agent")

	err := g.AddNode(&domain.BuildNode{Name: "package/hello-agent"})
	if !errors.Is(err, domain.ErrNodeAlreadyExists) {
		t.Errorf("expected ErrNodeAlreadyExists, got %v", err)
	}
}

func TestGraph_Dependents(t *testing.T) {
	g := domain.NewGraph()
	addNode(t, g, "package/hello-agent")
	addNode(t, g, "kit/a", "package/hello-agent")
	addNode(t, g, "kit/b", "package/hello-agent")

	deps := g.Dependents("package/hello-agent")
	if len(deps) != 2 || deps[0] != "kit/a" || deps[1] != "kit/b" {
		t.Errorf("unexpected dependents: %v", deps)
	}
}
