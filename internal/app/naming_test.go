package app

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseRPMName(t *testing.T) {
	cases := []struct {
		filename string
		name     string
		version  string
		release  string
		arch     string
		ok       bool
	}{
		{"hello-agent-1.0.0-1.x86_64.rpm", "hello-agent", "1.0.0", "1", "x86_64", true},
		{"kernel-6.1-devel-6.1.82-1.aarch64.rpm", "kernel-6.1-devel", "6.1.82", "1", "aarch64", true},
		{"not-an-rpm.txt", "", "", "", "", false},
		{"malformed.rpm", "", "", "", "", false},
	}

	for _, tc := range cases {
		identity, ok := parseRPMName(tc.filename)
		if ok != tc.ok {
			t.Errorf("%s: expected ok=%v, got %v", tc.filename, tc.ok, ok)
			continue
		}
		if !ok {
			continue
		}
		if identity.Name != tc.name || identity.Version != tc.version ||
			identity.Release != tc.release || identity.Arch != tc.arch {
			t.Errorf("%s: parsed %+v", tc.filename, identity)
		}
	}
}

func TestLinkAliases(t *testing.T) {
	dir := t.TempDir()
	artifact := "bottlerocket-example-dev-x86_64-1.0.0-abc12345.img.lz4"
	if err := os.WriteFile(filepath.Join(dir, artifact), []byte("image"), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	if err := linkAliases(dir, "1.0.0", "abc12345"); err != nil {
		t.Fatalf("linkAliases failed: %v", err)
	}

	for _, alias := range []string{
		"bottlerocket-example-dev-x86_64-1.0.0.img.lz4", // friendly-versioned
		"bottlerocket-example-dev-x86_64.img.lz4",       // unversioned
	} {
		target, err := os.Readlink(filepath.Join(dir, alias))
		if err != nil {
			t.Errorf("missing alias %s: %v", alias, err)
			continue
		}
		if target != artifact {
			t.Errorf("alias %s points at %s", alias, target)
		}
	}
}

func TestLinkAliases_Idempotent(t *testing.T) {
	dir := t.TempDir()
	artifact := "bottlerocket-example-dev-x86_64-1.0.0-abc12345.img.lz4"
	if err := os.WriteFile(filepath.Join(dir, artifact), []byte("image"), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	if err := linkAliases(dir, "1.0.0", "abc12345"); err != nil {
		t.Fatalf("linkAliases failed: %v", err)
	}
	if err := linkAliases(dir, "1.0.0", "abc12345"); err != nil {
		t.Fatalf("second linkAliases failed: %v", err)
	}
}
