package oci

import (
	"context"

	"github.com/grindlemire/graft"

	"go.trai.ch/twoliter/internal/adapters/logger" //nolint:depguard // Wired in adapter wiring
	"go.trai.ch/twoliter/internal/core/ports"
)

// NodeID is the unique identifier for the kit store factory Graft node.
// The store itself is project-scoped, so the node provides a factory.
const NodeID graft.ID = "adapter.oci.store"

func init() {
	graft.Register(graft.Node[ports.KitStoreFactory]{
		ID:        NodeID,
		Cacheable: true,
		DependsOn: []graft.ID{logger.NodeID},
		Run: func(ctx context.Context) (ports.KitStoreFactory, error) {
			log, err := graft.Dep[ports.Logger](ctx)
			if err != nil {
				return nil, err
			}
			return func(cacheDir string) ports.KitStore {
				return NewStore(log, cacheDir)
			}, nil
		},
	})
}
