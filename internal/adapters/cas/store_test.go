package cas_test

import (
	"path/filepath"
	"testing"
	"time"

	"go.trai.ch/twoliter/internal/adapters/cas"
	"go.trai.ch/twoliter/internal/core/domain"
)

func TestStore_PutAndGet(t *testing.T) {
	storePath := filepath.Join(t.TempDir(), "build-info.json")

	store, err := cas.NewStore(storePath)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	info := domain.BuildInfo{
		NodeName:  "package/hello-agent",
		Token:     "00000000deadbeef",
		Outputs:   []string{"rpms/hello-agent/hello-agent-1.0.0-1.x86_64.rpm"},
		Timestamp: time.Now(),
	}

	if err := store.Put(info); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := store.Get("package/hello-agent")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got == nil {
		t.Fatal("Get returned nil")
	}
	if got.Token != info.Token {
		t.Errorf("expected token %q, got %q", info.Token, got.Token)
	}
}

func TestStore_GetMissing(t *testing.T) {
	store, err := cas.NewStore(filepath.Join(t.TempDir(), "build-info.json"))
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	got, err := store.Get("variant/nonexistent")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for missing node, got %+v", got)
	}
}

func TestStore_Persistence(t *testing.T) {
	storePath := filepath.Join(t.TempDir(), "build-info.json")

	store1, err := cas.NewStore(storePath)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	if err := store1.Put(domain.BuildInfo{NodeName: "kit/dev-kit", Token: "abc"}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	store2, err := cas.NewStore(storePath)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	got, err := store2.Get("kit/dev-kit")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got == nil || got.Token != "abc" {
		t.Errorf("expected persisted record, got %+v", got)
	}
}
