// Package lockfile materializes resolved dependency graphs to Twoliter.lock
// and verifies them against the current manifests.
package lockfile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"go.trai.ch/zerr"

	"go.trai.ch/twoliter/internal/core/domain"
	"go.trai.ch/twoliter/internal/core/ports"
	"go.trai.ch/twoliter/internal/engine/resolver"
)

const (
	// sdkVerifiedMarker and kitsVerifiedMarker record that artifacts have
	// been resolved and verified against the lock, so downstream steps can
	// skip re-verification.
	sdkVerifiedMarker  = ".sdk-verified"
	kitsVerifiedMarker = ".kits-verified"
)

// Engine owns the lockfile lifecycle. The build path reads and verifies; only
// Update writes.
type Engine struct {
	store ports.KitStore
	log   ports.Logger
}

// New creates a lockfile engine using the given store for resolution.
func New(store ports.KitStore, log ports.Logger) *Engine {
	return &Engine{store: store, log: log}
}

// Update performs a full re-resolution, permitting network fetches, and
// rewrites the lock. The lock is only written after the resolve produced a
// valid graph.
func (e *Engine) Update(ctx context.Context, project *domain.Project) (*domain.Lock, error) {
	if e.log != nil {
		e.log.Info("resolving project references to create lock file")
	}

	lock, err := resolver.New(e.store, e.log).Resolve(ctx, project)
	if err != nil {
		return nil, err
	}

	if err := e.Write(project, lock); err != nil {
		return nil, err
	}
	if err := e.SyncMetadata(project, lock); err != nil {
		return nil, err
	}
	return lock, nil
}

// Load reads Twoliter.lock without validating it against the manifests.
func (e *Engine) Load(project *domain.Project) (*domain.Lock, error) {
	data, err := os.ReadFile(project.LockfilePath()) //nolint:gosec // fixed name under project dir
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, domain.ErrLockMissing
		}
		return nil, zerr.Wrap(err, "failed to read lockfile")
	}

	var lock domain.Lock
	if err := toml.Unmarshal(data, &lock); err != nil {
		return nil, zerr.Wrap(err, "failed to deserialize lockfile")
	}
	return &lock, nil
}

// Verify re-derives the graph from the current manifests without network
// egress and compares it to the lock. On success the verification markers
// are written; on mismatch the drift is reported and nothing is mutated.
func (e *Engine) Verify(ctx context.Context, project *domain.Project) (*domain.Lock, error) {
	lock, err := e.Load(project)
	if err != nil {
		return nil, err
	}

	if e.log != nil {
		e.log.Info("resolving project references to check against lock file")
	}
	fresh, err := resolver.New(e.store.Offline(), e.log).Resolve(ctx, project)
	if err != nil {
		return nil, err
	}

	if err := diff(lock, fresh); err != nil {
		return nil, err
	}

	if err := e.writeMarkers(project, lock); err != nil {
		return nil, err
	}
	return lock, nil
}

// Write emits the lock in canonical form: stable field ordering, sorted
// entries, LF line endings, no trailing whitespace.
func (e *Engine) Write(project *domain.Project, lock *domain.Lock) error {
	data, err := Encode(lock)
	if err != nil {
		return err
	}

	path := project.LockfilePath()
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil { //nolint:gosec // lockfile is project state
		return zerr.Wrap(err, "failed to write lock file")
	}
	if err := os.Rename(tmp, path); err != nil {
		return zerr.Wrap(err, "failed to commit lock file")
	}
	return nil
}

// Encode serializes a lock to its canonical byte form.
func Encode(lock *domain.Lock) ([]byte, error) {
	sorted := *lock
	sorted.Sort()

	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	enc.SetIndentTables(false)
	if err := enc.Encode(&sorted); err != nil {
		return nil, zerr.Wrap(err, "failed to serialize lock file")
	}
	return buf.Bytes(), nil
}

// SyncMetadata keeps build/external-kits/external-kit-metadata.json in step
// with the lock. The file is only rewritten when its bytes change, so
// downstream cache keys stay stable.
func (e *Engine) SyncMetadata(project *domain.Project, lock *domain.Lock) error {
	blob, err := domain.CanonicalJSON(lock.External())
	if err != nil {
		return err
	}

	path := project.ExternalKitsMetadata()
	if existing, err := os.ReadFile(path); err == nil && bytes.Equal(existing, blob) { //nolint:gosec // fixed name under build dir
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return zerr.Wrap(err, "failed to create external-kits directory")
	}
	if err := os.WriteFile(path, blob, 0o644); err != nil { //nolint:gosec // metadata is project state
		return zerr.With(zerr.Wrap(err, "failed to write external kit metadata"), "path", path)
	}
	return nil
}

// writeMarkers records which artifacts were verified against the lock.
func (e *Engine) writeMarkers(project *domain.Project, lock *domain.Lock) error {
	dir := project.ExternalKitsDir()
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return zerr.Wrap(err, "failed to create external-kits directory")
	}

	sdkManifest, err := domain.CanonicalJSON([]string{lock.SDK.String()})
	if err != nil {
		return err
	}

	kitRefs := make([]string, 0, len(lock.Kits))
	for _, kit := range lock.Kits {
		kitRefs = append(kitRefs, kit.String())
	}
	kitsManifest, err := domain.CanonicalJSON(kitRefs)
	if err != nil {
		return err
	}

	for _, marker := range []struct {
		name string
		body []byte
	}{{sdkVerifiedMarker, sdkManifest}, {kitsVerifiedMarker, kitsManifest}} {
		path := filepath.Join(dir, marker.name)
		if err := os.WriteFile(path, marker.body, 0o644); err != nil { //nolint:gosec // marker is not sensitive
			return zerr.With(zerr.Wrap(err, "failed to write verification marker"), "path", path)
		}
	}
	return nil
}

// diff compares a stored lock against a fresh resolution. Present entries
// must not silently change; anything added, removed, or changed is drift.
func diff(stored, fresh *domain.Lock) error {
	var added, removed, changed []string

	storedKits := make(map[string]domain.LockedKit, len(stored.Kits))
	for _, kit := range stored.Kits {
		storedKits[kit.Name] = kit
	}
	freshKits := make(map[string]domain.LockedKit, len(fresh.Kits))
	for _, kit := range fresh.Kits {
		freshKits[kit.Name] = kit
	}

	for name, kit := range freshKits {
		old, ok := storedKits[name]
		if !ok {
			added = append(added, kit.String())
			continue
		}
		if old.Digest != kit.Digest || !old.Version.Equal(kit.Version) || old.Source != kit.Source {
			changed = append(changed, fmt.Sprintf("%s (%s -> %s)", name, old.Digest, kit.Digest))
		}
	}
	for name, kit := range storedKits {
		if _, ok := freshKits[name]; !ok {
			removed = append(removed, kit.String())
		}
	}

	if stored.SDK.Digest != fresh.SDK.Digest || stored.SDK.Source != fresh.SDK.Source {
		changed = append(changed, fmt.Sprintf("sdk (%s -> %s)", stored.SDK, fresh.SDK))
	}

	if len(added) == 0 && len(removed) == 0 && len(changed) == 0 {
		return nil
	}

	err := domain.ErrLockDrift
	if len(added) > 0 {
		err = zerr.With(err, "added", strings.Join(added, ", "))
	}
	if len(removed) > 0 {
		err = zerr.With(err, "removed", strings.Join(removed, ", "))
	}
	if len(changed) > 0 {
		err = zerr.With(err, "changed", strings.Join(changed, ", "))
	}
	return err
}
