package repo_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.trai.ch/twoliter/internal/adapters/repo"
	"go.trai.ch/twoliter/internal/core/domain"
)

func TestAssemble_PriorityOrder(t *testing.T) {
	configDir := filepath.Join(t.TempDir(), "repos.d")

	composite, err := repo.NewBuilder(nil).Assemble(configDir, "/build/rpms", []repo.Source{
		{Name: "kit-a", Path: "/kits/kit-a"},
		{Name: "kit-b", Path: "/kits/kit-b"},
	})
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}

	if len(composite.Entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(composite.Entries))
	}
	if composite.Entries[0].Name != "local-rpms" || composite.Entries[0].Priority != 0 {
		t.Errorf("local repo must be priority 0, got %+v", composite.Entries[0])
	}
	if composite.Entries[1].Name != "kit-a" || composite.Entries[1].Priority != 1 {
		t.Errorf("first declared kit must be priority 1, got %+v", composite.Entries[1])
	}
	if composite.Entries[2].Name != "kit-b" || composite.Entries[2].Priority != 2 {
		t.Errorf("second declared kit must be priority 2, got %+v", composite.Entries[2])
	}

	data, err := os.ReadFile(filepath.Join(configDir, "kit-b.repo"))
	if err != nil {
		t.Fatalf("missing repo config: %v", err)
	}
	for _, want := range []string{"[kit-b]", "baseurl=file:///kits/kit-b", "priority=2"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("repo config missing %q:\n%s", want, data)
		}
	}
}

func TestWriteAudit_HighestPriorityWins(t *testing.T) {
	configDir := filepath.Join(t.TempDir(), "repos.d")
	builder := repo.NewBuilder(nil)

	assemble := func(sources []repo.Source) *repo.Composite {
		t.Helper()
		c, err := builder.Assemble(configDir, "/build/rpms", sources)
		if err != nil {
			t.Fatalf("Assemble failed: %v", err)
		}
		return c
	}

	packages := map[string][]domain.PackageIdentity{
		"kit-a": {{Name: "foo", Version: "1.0.0", Release: "1", Arch: "x86_64"}},
		"kit-b": {{Name: "foo", Version: "1.0.1", Release: "1", Arch: "x86_64"}},
	}

	readAudit := func(path string) map[string]struct {
		Repo     string `json:"repo"`
		Priority int    `json:"priority"`
	} {
		t.Helper()
		data, err := os.ReadFile(path) //nolint:gosec // test path
		if err != nil {
			t.Fatalf("missing audit: %v", err)
		}
		out := make(map[string]struct {
			Repo     string `json:"repo"`
			Priority int    `json:"priority"`
		})
		if err := json.Unmarshal(data, &out); err != nil {
			t.Fatalf("bad audit json: %v", err)
		}
		return out
	}

	// Declared order A then B: foo comes from A.
	c := assemble([]repo.Source{{Name: "kit-a"}, {Name: "kit-b"}})
	auditPath := filepath.Join(t.TempDir(), "install-audit.json")
	if err := repo.WriteAudit(auditPath, c.Entries, packages); err != nil {
		t.Fatalf("WriteAudit failed: %v", err)
	}
	if got := readAudit(auditPath)["foo"]; got.Repo != "kit-a" {
		t.Errorf("expected foo from kit-a, got %+v", got)
	}

	// Swapped order: foo comes from B.
	c = assemble([]repo.Source{{Name: "kit-b"}, {Name: "kit-a"}})
	if err := repo.WriteAudit(auditPath, c.Entries, packages); err != nil {
		t.Fatalf("WriteAudit failed: %v", err)
	}
	if got := readAudit(auditPath)["foo"]; got.Repo != "kit-b" {
		t.Errorf("expected foo from kit-b after swap, got %+v", got)
	}
}

func TestWriteAudit_LocalRepoBeatsKits(t *testing.T) {
	c, err := repo.NewBuilder(nil).Assemble(filepath.Join(t.TempDir(), "repos.d"), "/build/rpms", []repo.Source{
		{Name: "kit-a"},
	})
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}

	packages := map[string][]domain.PackageIdentity{
		"local-rpms": {{Name: "hello-agent", Version: "1.0.0", Release: "1", Arch: "x86_64"}},
		"kit-a":      {{Name: "hello-agent", Version: "0.9.0", Release: "1", Arch: "x86_64"}},
	}

	auditPath := filepath.Join(t.TempDir(), "install-audit.json")
	if err := repo.WriteAudit(auditPath, c.Entries, packages); err != nil {
		t.Fatalf("WriteAudit failed: %v", err)
	}

	data, err := os.ReadFile(auditPath) //nolint:gosec // test path
	if err != nil {
		t.Fatalf("missing audit: %v", err)
	}
	if !strings.Contains(string(data), `"repo":"local-rpms"`) {
		t.Errorf("expected local repo to win:\n%s", data)
	}
}
