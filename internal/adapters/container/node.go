package container

import (
	"context"

	"github.com/grindlemire/graft"

	"go.trai.ch/twoliter/internal/adapters/logger" //nolint:depguard // Wired in adapter wiring
	"go.trai.ch/twoliter/internal/core/ports"
)

// NodeID is the unique identifier for the container executor Graft node.
const NodeID graft.ID = "adapter.container.executor"

func init() {
	graft.Register(graft.Node[ports.Executor]{
		ID:        NodeID,
		Cacheable: true,
		DependsOn: []graft.ID{logger.NodeID},
		Run: func(ctx context.Context) (ports.Executor, error) {
			log, err := graft.Dep[ports.Logger](ctx)
			if err != nil {
				return nil, err
			}
			return NewExecutor(log)
		},
	})
}
