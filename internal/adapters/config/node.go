package config

import (
	"context"

	"github.com/grindlemire/graft"

	"go.trai.ch/twoliter/internal/adapters/logger" //nolint:depguard // Wired in adapter wiring
	"go.trai.ch/twoliter/internal/core/ports"
)

// NodeID is the unique identifier for the project loader Graft node.
const NodeID graft.ID = "adapter.config.loader"

func init() {
	graft.Register(graft.Node[ports.ProjectLoader]{
		ID:        NodeID,
		Cacheable: true,
		DependsOn: []graft.ID{logger.NodeID},
		Run: func(ctx context.Context) (ports.ProjectLoader, error) {
			log, err := graft.Dep[ports.Logger](ctx)
			if err != nil {
				return nil, err
			}
			return &Loader{Logger: log}, nil
		},
	})
}
