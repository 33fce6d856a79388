package app

import (
	"context"

	"github.com/grindlemire/graft"

	"go.trai.ch/twoliter/internal/adapters/config"    //nolint:depguard // Wired in app layer
	"go.trai.ch/twoliter/internal/adapters/container" //nolint:depguard // Wired in app layer
	"go.trai.ch/twoliter/internal/adapters/fs"        //nolint:depguard // Wired in app layer
	"go.trai.ch/twoliter/internal/adapters/logger"    //nolint:depguard // Wired in app layer
	"go.trai.ch/twoliter/internal/adapters/oci"       //nolint:depguard // Wired in app layer
	"go.trai.ch/twoliter/internal/adapters/telemetry/progrock" //nolint:depguard // Wired in app layer
	"go.trai.ch/twoliter/internal/core/ports"
)

const (
	// AppNodeID is the unique identifier for the main App Graft node.
	AppNodeID graft.ID = "app.main"
	// ComponentsNodeID is the unique identifier for the App components Graft node.
	ComponentsNodeID graft.ID = "app.components"
)

// Components bundles everything the CLI needs.
type Components struct {
	App       *App
	Logger    ports.Logger
	Telemetry ports.Telemetry
}

func init() {
	graft.Register(graft.Node[*App]{
		ID:        AppNodeID,
		Cacheable: true,
		DependsOn: []graft.ID{
			config.NodeID,
			oci.NodeID,
			container.NodeID,
			fs.HasherNodeID,
			progrock.NodeID,
			logger.NodeID,
		},
		Run: func(ctx context.Context) (*App, error) {
			loader, err := graft.Dep[ports.ProjectLoader](ctx)
			if err != nil {
				return nil, err
			}
			factory, err := graft.Dep[ports.KitStoreFactory](ctx)
			if err != nil {
				return nil, err
			}
			executor, err := graft.Dep[ports.Executor](ctx)
			if err != nil {
				return nil, err
			}
			hasher, err := graft.Dep[ports.Hasher](ctx)
			if err != nil {
				return nil, err
			}
			tel, err := graft.Dep[ports.Telemetry](ctx)
			if err != nil {
				return nil, err
			}
			log, err := graft.Dep[ports.Logger](ctx)
			if err != nil {
				return nil, err
			}
			return New(loader, factory, executor, hasher, tel, log), nil
		},
	})

	graft.Register(graft.Node[*Components]{
		ID:        ComponentsNodeID,
		Cacheable: true,
		DependsOn: []graft.ID{AppNodeID, logger.NodeID, progrock.NodeID},
		Run: func(ctx context.Context) (*Components, error) {
			app, err := graft.Dep[*App](ctx)
			if err != nil {
				return nil, err
			}
			log, err := graft.Dep[ports.Logger](ctx)
			if err != nil {
				return nil, err
			}
			tel, err := graft.Dep[ports.Telemetry](ctx)
			if err != nil {
				return nil, err
			}
			return &Components{App: app, Logger: log, Telemetry: tel}, nil
		},
	})
}
